// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package store provides the generic document store.

A store holds schema-less JSON documents in named collections. Each document
carries a native identity, a uuid stored in the field "_id", and a hidden type
tag which binds it to its object type. The tag is never returned to callers.

Lookups are by identity only. An identity either refers to the native "_id"
field, or to a declared document field. Declared fields are untyped, hence a
lookup matches both the string and the numeric form of the requested value.

Two implementations exist: a Postgres store, which keeps every collection in
its own table with a jsonb column, and an in-memory store for tests and
database-less deployments.
*/
package store

import (
	"context"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const (
	// NativeIDField is the field which holds the native identity of a document
	NativeIDField = "_id"
	// TypeTagField is the hidden field which binds a document to its object type
	TypeTagField = "__objectType"
)

// Document is a schema-less JSON document
type Document map[string]interface{}

// Identity is a tagged identity value. Field is the document field to match,
// Raw the identity as it was received, Num its numeric form if Raw parses as
// an integer.
type Identity struct {
	Field string
	Raw   string
	Num   *int64
}

// NewIdentity returns the identity for raw on field. An empty field selects the
// native identity.
func NewIdentity(field, raw string) Identity {
	if field == "" {
		field = NativeIDField
	}
	id := Identity{Field: field, Raw: raw}
	if field != NativeIDField {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			id.Num = &n
		}
	}
	return id
}

// IsNative returns true if the identity refers to the native identity field
func (id Identity) IsNative() bool {
	return id.Field == NativeIDField
}

// native returns the parsed native identity. Malformed identities match nothing.
func (id Identity) native() (uuid.UUID, bool) {
	u, err := uuid.Parse(id.Raw)
	return u, err == nil
}

// matches returns true if value, decoded from JSON, equals the identity in
// either its string or its numeric form
func (id Identity) matches(value interface{}) bool {
	switch v := value.(type) {
	case string:
		return v == id.Raw
	case float64:
		return id.Num != nil && v == float64(*id.Num)
	case int64:
		return id.Num != nil && v == *id.Num
	case int:
		return id.Num != nil && int64(v) == *id.Num
	case json.Number:
		if id.Num == nil {
			return false
		}
		n, err := v.Int64()
		return err == nil && n == *id.Num
	}
	return false
}

// Query selects documents of one object type, optionally narrowed down to one identity
type Query struct {
	ObjectType string
	ID         *Identity
}

// String returns a human readable form of q
func (q Query) String() string {
	if q.ID == nil {
		return q.ObjectType + " instance"
	}
	return q.ObjectType + " instance with " + q.ID.Field + "=" + q.ID.Raw
}

// DocumentStore is the generic create/read/update/delete interface against named collections.
//
// Returned documents never carry the type tag but always the native identity.
// Collections come into existence with the first access.
type DocumentStore interface {
	// Insert tags doc with objectType, assigns a new native identity and stores it.
	Insert(ctx context.Context, collection, objectType string, doc Document) (Document, error)
	// Find returns all documents matching q in insertion order.
	Find(ctx context.Context, collection string, q Query) ([]Document, error)
	// Replace atomically replaces the first document matching q with doc. The native identity and
	// the type tag of the replaced document are preserved. Returns core.ENotFound if nothing matches.
	Replace(ctx context.Context, collection string, q Query, doc Document) (Document, error)
	// Delete removes all documents matching q and returns them.
	Delete(ctx context.Context, collection string, q Query) ([]Document, error)
	// DropCollection removes a collection with all its documents.
	DropCollection(ctx context.Context, collection string) error
}

// clean returns a copy of doc without native identity and type tag
func clean(doc Document) Document {
	result := make(Document, len(doc))
	for k, v := range doc {
		if k == NativeIDField || k == TypeTagField {
			continue
		}
		result[k] = v
	}
	return result
}

// decode unmarshals a stored document body and adds the native identity
func decode(id string, body []byte) (Document, error) {
	doc := Document{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	doc[NativeIDField] = id
	return doc, nil
}
