// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/csql"
)

// Repository persists applications
type Repository interface {
	// Insert stores a new application and assigns its id
	Insert(ctx context.Context, app *Application) error
	Get(ctx context.Context, id int64) (*Application, error)
	GetByToken(ctx context.Context, token string) (*Application, error)
	List(ctx context.Context) ([]*Application, error)
	// Update replaces name, access token and properties of an existing application
	Update(ctx context.Context, app *Application) error
	Delete(ctx context.Context, id int64) error
}

type postgresRepository struct {
	db *csql.DB
}

// NewPostgresRepository returns an application repository on db
func NewPostgresRepository(db *csql.DB) Repository {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table("_application_") + `
(id BIGSERIAL NOT NULL,
name varchar NOT NULL UNIQUE,
access_token varchar NOT NULL UNIQUE,
properties json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(id)
);`)
	if err != nil {
		panic(err)
	}
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, app *Application) error {
	props, err := json.Marshal(app.properties())
	if err != nil {
		return core.Internal("tenant.Insert", err)
	}
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO `+r.db.Table("_application_")+`(name,access_token,properties,timestamp)
VALUES($1,$2,$3,$4) RETURNING id;`,
		app.Name, app.AccessToken, string(props), time.Now().UTC()).Scan(&app.ID)
	if csql.IsUniqueViolation(err) {
		return core.Errorf(core.EConflict, "tenant.Insert", "application %s already exists", app.Name)
	}
	return core.Internal("tenant.Insert", err)
}

func (r *postgresRepository) scan(row interface{ Scan(...interface{}) error }) (*Application, error) {
	var (
		app   Application
		body  []byte
		props properties
	)
	if err := row.Scan(&app.ID, &app.Name, &app.AccessToken, &body); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &props); err != nil {
		return nil, err
	}
	app.Description = props.Description
	app.NotifyProxyCode = props.NotifyProxyCode
	app.ObjectTypes = props.ObjectTypes
	if app.ObjectTypes == nil {
		app.ObjectTypes = []ObjectType{}
	}
	return &app, nil
}

func (r *postgresRepository) getWhere(ctx context.Context, op, where string, arg interface{}) (*Application, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, access_token, properties FROM `+r.db.Table("_application_")+` WHERE `+where+`=$1;`, arg)
	app, err := r.scan(row)
	if err == csql.ErrNoRows {
		return nil, core.Errorf(core.ENotFound, op, "no such application")
	}
	if err != nil {
		return nil, core.Internal(op, err)
	}
	return app, nil
}

func (r *postgresRepository) Get(ctx context.Context, id int64) (*Application, error) {
	return r.getWhere(ctx, "tenant.Get", "id", id)
}

func (r *postgresRepository) GetByToken(ctx context.Context, token string) (*Application, error) {
	return r.getWhere(ctx, "tenant.GetByToken", "access_token", token)
}

func (r *postgresRepository) List(ctx context.Context) ([]*Application, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, access_token, properties FROM `+r.db.Table("_application_")+` ORDER BY id;`)
	if err != nil {
		return nil, core.Internal("tenant.List", err)
	}
	defer rows.Close()
	apps := []*Application{}
	for rows.Next() {
		app, err := r.scan(rows)
		if err != nil {
			return nil, core.Internal("tenant.List", err)
		}
		apps = append(apps, app)
	}
	return apps, core.Internal("tenant.List", rows.Err())
}

func (r *postgresRepository) Update(ctx context.Context, app *Application) error {
	props, err := json.Marshal(app.properties())
	if err != nil {
		return core.Internal("tenant.Update", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+r.db.Table("_application_")+` SET name=$2, access_token=$3, properties=$4, timestamp=$5 WHERE id=$1;`,
		app.ID, app.Name, app.AccessToken, string(props), time.Now().UTC())
	if csql.IsUniqueViolation(err) {
		return core.Errorf(core.EConflict, "tenant.Update", "application %s already exists", app.Name)
	}
	if err != nil {
		return core.Internal("tenant.Update", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return core.Internal("tenant.Update", err)
	}
	if count == 0 {
		return core.Errorf(core.ENotFound, "tenant.Update", "no application %d", app.ID)
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.db.Table("_application_")+` WHERE id=$1;`, id)
	if err != nil {
		return core.Internal("tenant.Delete", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return core.Internal("tenant.Delete", err)
	}
	if count == 0 {
		return core.Errorf(core.ENotFound, "tenant.Delete", "no application %d", id)
	}
	return nil
}
