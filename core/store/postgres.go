// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/csql"
	"github.com/relabs-tech/dummyapi/core/logger"
)

// Postgres is a document store which keeps every collection in its own table.
//
// The documents live in a jsonb column. The native identity and the type tag
// are kept in dedicated columns and are not part of the stored document.
type Postgres struct {
	db     *csql.DB
	tables sync.Map
}

// NewPostgres returns a new document store on db
func NewPostgres(db *csql.DB) *Postgres {
	return &Postgres{db: db}
}

// table returns the qualified table name of collection and creates the table if necessary
func (p *Postgres) table(ctx context.Context, collection string) (string, error) {
	table := p.db.Table(collection)
	if _, ok := p.tables.Load(collection); ok {
		return table, nil
	}
	logger.FromContext(ctx).Debugln("create collection", collection)
	_, err := p.db.ExecContext(ctx, `CREATE table IF NOT EXISTS `+table+`
(_id uuid NOT NULL DEFAULT uuid_generate_v4(),
object_type varchar NOT NULL,
document jsonb NOT NULL,
created_at timestamp NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(_id)
);
CREATE index IF NOT EXISTS `+collection+`_object_type ON `+table+`(object_type, created_at);
`)
	if err != nil {
		return "", err
	}
	p.tables.Store(collection, true)
	return table, nil
}

// where returns the where clause of q. Parameters are numbered starting with
// first. A nil clause means the query cannot match anything.
func (q Query) where(first int) (*string, []interface{}) {
	clause := fmt.Sprintf("object_type=$%d", first)
	args := []interface{}{q.ObjectType}
	if q.ID == nil {
		return &clause, args
	}
	if q.ID.IsNative() {
		u, ok := q.ID.native()
		if !ok {
			return nil, nil
		}
		clause += fmt.Sprintf(" AND _id=$%d", first+1)
		args = append(args, u)
		return &clause, args
	}
	asString, _ := json.Marshal(q.ID.Raw)
	args = append(args, q.ID.Field, string(asString))
	match := fmt.Sprintf("document->$%d = $%d::jsonb", first+1, first+2)
	if q.ID.Num != nil {
		args = append(args, strconv.FormatInt(*q.ID.Num, 10))
		match = fmt.Sprintf("(%s OR document->$%d = $%d::jsonb)", match, first+1, first+3)
	}
	clause += " AND " + match
	return &clause, args
}

// Insert implements DocumentStore
func (p *Postgres) Insert(ctx context.Context, collection, objectType string, doc Document) (Document, error) {
	body, err := json.Marshal(clean(doc))
	if err != nil {
		return nil, core.Errorf(core.EInvalid, "store.Insert", "cannot marshal document: %v", err)
	}
	table, err := p.table(ctx, collection)
	if err != nil {
		return nil, core.Internal("store.Insert", err)
	}
	now := time.Now().UTC()
	var id string
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO `+table+`(object_type,document,created_at,timestamp) VALUES($1,$2,$3,$3) RETURNING _id;`,
		objectType, string(body), now).Scan(&id)
	if err != nil {
		return nil, core.Internal("store.Insert", err)
	}
	return decode(id, body)
}

func scanDocuments(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]Document, error) {
	result := []Document{}
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		doc, err := decode(id, body)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

// Find implements DocumentStore
func (p *Postgres) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	table, err := p.table(ctx, collection)
	if err != nil {
		return nil, core.Internal("store.Find", err)
	}
	where, args := q.where(1)
	if where == nil {
		return []Document{}, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT _id, document FROM `+table+` WHERE `+*where+` ORDER BY created_at, _id;`, args...)
	if err != nil {
		return nil, core.Internal("store.Find", err)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	return docs, core.Internal("store.Find", err)
}

// Replace implements DocumentStore
func (p *Postgres) Replace(ctx context.Context, collection string, q Query, doc Document) (Document, error) {
	body, err := json.Marshal(clean(doc))
	if err != nil {
		return nil, core.Errorf(core.EInvalid, "store.Replace", "cannot marshal document: %v", err)
	}
	table, err := p.table(ctx, collection)
	if err != nil {
		return nil, core.Internal("store.Replace", err)
	}
	where, args := q.where(3)
	if where == nil {
		return nil, core.Errorf(core.ENotFound, "store.Replace", "no %s", q)
	}
	args = append([]interface{}{string(body), time.Now().UTC()}, args...)
	var id string
	err = p.db.QueryRowContext(ctx,
		`UPDATE `+table+` SET document=$1, timestamp=$2
WHERE _id = (SELECT _id FROM `+table+` WHERE `+*where+` ORDER BY created_at LIMIT 1 FOR UPDATE)
RETURNING _id;`, args...).Scan(&id)
	if err == csql.ErrNoRows {
		return nil, core.Errorf(core.ENotFound, "store.Replace", "no %s", q)
	}
	if err != nil {
		return nil, core.Internal("store.Replace", err)
	}
	return decode(id, body)
}

// Delete implements DocumentStore
func (p *Postgres) Delete(ctx context.Context, collection string, q Query) ([]Document, error) {
	table, err := p.table(ctx, collection)
	if err != nil {
		return nil, core.Internal("store.Delete", err)
	}
	where, args := q.where(1)
	if where == nil {
		return []Document{}, nil
	}
	rows, err := p.db.QueryContext(ctx, `DELETE FROM `+table+` WHERE `+*where+` RETURNING _id, document;`, args...)
	if err != nil {
		return nil, core.Internal("store.Delete", err)
	}
	defer rows.Close()
	docs, err := scanDocuments(rows)
	return docs, core.Internal("store.Delete", err)
}

// DropCollection implements DocumentStore
func (p *Postgres) DropCollection(ctx context.Context, collection string) error {
	_, err := p.db.ExecContext(ctx, `DROP table IF EXISTS `+p.db.Table(collection)+`;`)
	p.tables.Delete(collection)
	return core.Internal("store.DropCollection", err)
}
