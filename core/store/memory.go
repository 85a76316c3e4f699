// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package store

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/dummyapi/core"
)

type memoryRecord struct {
	id         string
	objectType string
	body       []byte
}

// Memory is an in-memory document store. Documents are kept in their
// serialized form, so callers never share state with the store.
type Memory struct {
	mutex       sync.RWMutex
	collections map[string][]*memoryRecord
}

// NewMemory returns a new, empty in-memory store
func NewMemory() *Memory {
	return &Memory{collections: map[string][]*memoryRecord{}}
}

// Insert implements DocumentStore
func (m *Memory) Insert(ctx context.Context, collection, objectType string, doc Document) (Document, error) {
	body, err := json.Marshal(clean(doc))
	if err != nil {
		return nil, core.Errorf(core.EInvalid, "store.Insert", "cannot marshal document: %v", err)
	}
	r := &memoryRecord{id: uuid.New().String(), objectType: objectType, body: body}

	m.mutex.Lock()
	m.collections[collection] = append(m.collections[collection], r)
	m.mutex.Unlock()

	return decode(r.id, r.body)
}

// match returns true if r is selected by q. Must be called with at least a read lock.
func (q Query) match(r *memoryRecord) (bool, error) {
	if r.objectType != q.ObjectType {
		return false, nil
	}
	if q.ID == nil {
		return true, nil
	}
	if q.ID.IsNative() {
		u, ok := q.ID.native()
		return ok && u.String() == r.id, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(r.body, &fields); err != nil {
		return false, err
	}
	value, ok := fields[q.ID.Field]
	return ok && q.ID.matches(value), nil
}

// Find implements DocumentStore
func (m *Memory) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	result := []Document{}
	for _, r := range m.collections[collection] {
		ok, err := q.match(r)
		if err != nil {
			return nil, core.Internal("store.Find", err)
		}
		if !ok {
			continue
		}
		doc, err := decode(r.id, r.body)
		if err != nil {
			return nil, core.Internal("store.Find", err)
		}
		result = append(result, doc)
	}
	return result, nil
}

// Replace implements DocumentStore
func (m *Memory) Replace(ctx context.Context, collection string, q Query, doc Document) (Document, error) {
	body, err := json.Marshal(clean(doc))
	if err != nil {
		return nil, core.Errorf(core.EInvalid, "store.Replace", "cannot marshal document: %v", err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, r := range m.collections[collection] {
		ok, err := q.match(r)
		if err != nil {
			return nil, core.Internal("store.Replace", err)
		}
		if ok {
			r.body = body
			return decode(r.id, r.body)
		}
	}
	return nil, core.Errorf(core.ENotFound, "store.Replace", "no %s", q)
}

// Delete implements DocumentStore
func (m *Memory) Delete(ctx context.Context, collection string, q Query) ([]Document, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	deleted := []Document{}
	records := m.collections[collection]
	kept := make([]*memoryRecord, 0, len(records))
	for _, r := range records {
		ok, err := q.match(r)
		if err != nil {
			return nil, core.Internal("store.Delete", err)
		}
		if !ok {
			kept = append(kept, r)
			continue
		}
		doc, err := decode(r.id, r.body)
		if err != nil {
			return nil, core.Internal("store.Delete", err)
		}
		deleted = append(deleted, doc)
	}
	m.collections[collection] = kept
	return deleted, nil
}

// DropCollection implements DocumentStore
func (m *Memory) DropCollection(ctx context.Context, collection string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.collections, collection)
	return nil
}
