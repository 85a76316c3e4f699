// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package resource implements the generic create/read/update/delete engine for
resource instances of tenant-declared object types.

All instances of a tenant live in the tenant's collection. Every call first
confirms that the object type is registered for the tenant; an unregistered
type is rejected even if the collection holds instances tagged with its name.

Inbound documents pass the decode transformation of their type. Stored documents
are returned as they are stored; Present applies the response transformation for
outbound responses. After every successful mutation, the engine announces the
changed instance on the notification bus.
*/
package resource

import (
	"context"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
	"github.com/relabs-tech/dummyapi/core/transform"
)

// Types resolves the object types of a tenant
type Types interface {
	ResolveByName(ctx context.Context, tenantID int64, name string) (*tenant.ObjectType, error)
}

// Notifier announces mutated resources
type Notifier interface {
	NotifyMutation(ctx context.Context, tenantID int64, name core.EventName, resource store.Document) int
}

// Engine is the resource engine
type Engine struct {
	types    Types
	docs     store.DocumentStore
	pipeline *transform.Pipeline
	notifier Notifier
}

// Builder is a builder helper for the Engine
type Builder struct {
	// Types resolves object types. Required.
	Types Types
	// Documents is the document store. Required.
	Documents store.DocumentStore
	// Pipeline runs decode and response transformations. Defaults to a pipeline with default timeout.
	Pipeline *transform.Pipeline
	// Notifier is told about every successful mutation. Optional.
	Notifier Notifier
}

// New returns a new resource engine
func New(b Builder) *Engine {
	if b.Types == nil || b.Documents == nil {
		panic("resource engine requires types and documents")
	}
	if b.Pipeline == nil {
		b.Pipeline = transform.New(0)
	}
	return &Engine{
		types:    b.Types,
		docs:     b.Documents,
		pipeline: b.Pipeline,
		notifier: b.Notifier,
	}
}

// notify announces doc as mutated by operation
func (e *Engine) notify(ctx context.Context, tenantID int64, operation core.Operation, doc store.Document) {
	name, mutating := core.EventForOperation(operation)
	if e.notifier == nil || !mutating {
		return
	}
	notified := e.notifier.NotifyMutation(ctx, tenantID, name, doc)
	logger.FromContext(ctx).WithField("operation", operation).Debugf("%s notified to %d clients", name, notified)
}

// inbound prepares a client document for storage
func (e *Engine) inbound(ctx context.Context, ot *tenant.ObjectType, doc store.Document) store.Document {
	if doc == nil {
		doc = store.Document{}
	}
	doc = e.pipeline.Decode(ctx, ot.DecodeFunCode, doc)
	delete(doc, store.NativeIDField)
	delete(doc, store.TypeTagField)
	return doc
}

// Create stores a new instance of the object type
func (e *Engine) Create(ctx context.Context, tenantID int64, typeName string, doc store.Document) (store.Document, error) {
	ot, err := e.types.ResolveByName(ctx, tenantID, typeName)
	if err != nil {
		return nil, err
	}
	stored, err := e.docs.Insert(ctx, tenant.CollectionName(tenantID), ot.Name, e.inbound(ctx, ot, doc))
	if err != nil {
		return nil, core.Internal("resource.Create", err)
	}
	e.notify(ctx, tenantID, core.OperationCreate, stored)
	return stored, nil
}

// Get returns the instance identified by id as the only element. With nil id,
// it returns all instances of the object type in creation order. Returns
// core.ENotFound if id does not identify an instance.
func (e *Engine) Get(ctx context.Context, tenantID int64, typeName string, id *store.Identity) ([]store.Document, error) {
	ot, err := e.types.ResolveByName(ctx, tenantID, typeName)
	if err != nil {
		return nil, err
	}
	q := store.Query{ObjectType: ot.Name, ID: id}
	docs, err := e.docs.Find(ctx, tenant.CollectionName(tenantID), q)
	if err != nil {
		return nil, core.Internal("resource.Get", err)
	}
	operation := core.OperationList
	if id != nil {
		operation = core.OperationRead
	}
	logger.FromContext(ctx).WithField("operation", operation).Debugf("%s matched %d instances", q, len(docs))
	if id != nil {
		if len(docs) == 0 {
			return nil, core.Errorf(core.ENotFound, "resource.Get", "no %s", q)
		}
		docs = docs[:1]
	}
	return docs, nil
}

// Update replaces the instance identified by id with doc. The native identity
// of the instance cannot be changed. A declared identity missing in doc is
// carried over from id.
func (e *Engine) Update(ctx context.Context, tenantID int64, typeName string, id *store.Identity, doc store.Document) (store.Document, error) {
	if id == nil {
		return nil, core.Errorf(core.EInvalid, "resource.Update", "instance id missing")
	}
	ot, err := e.types.ResolveByName(ctx, tenantID, typeName)
	if err != nil {
		return nil, err
	}
	doc = e.inbound(ctx, ot, doc)
	if !id.IsNative() {
		if _, ok := doc[id.Field]; !ok {
			if id.Num != nil {
				doc[id.Field] = *id.Num
			} else {
				doc[id.Field] = id.Raw
			}
		}
	}
	stored, err := e.docs.Replace(ctx, tenant.CollectionName(tenantID), store.Query{ObjectType: ot.Name, ID: id}, doc)
	if err != nil {
		return nil, core.Internal("resource.Update", err)
	}
	e.notify(ctx, tenantID, core.OperationUpdate, stored)
	return stored, nil
}

// Delete deletes the instance identified by id. Returns core.ENotFound if there is none.
func (e *Engine) Delete(ctx context.Context, tenantID int64, typeName string, id *store.Identity) error {
	if id == nil {
		return core.Errorf(core.EInvalid, "resource.Delete", "instance id missing")
	}
	ot, err := e.types.ResolveByName(ctx, tenantID, typeName)
	if err != nil {
		return err
	}
	q := store.Query{ObjectType: ot.Name, ID: id}
	deleted, err := e.docs.Delete(ctx, tenant.CollectionName(tenantID), q)
	if err != nil {
		return core.Internal("resource.Delete", err)
	}
	if len(deleted) == 0 {
		return core.Errorf(core.ENotFound, "resource.Delete", "no %s", q)
	}
	for _, doc := range deleted {
		e.notify(ctx, tenantID, core.OperationDelete, doc)
	}
	return nil
}

// Present applies the response transformation of the object type to docs.
// The stored documents are not modified.
func (e *Engine) Present(ctx context.Context, ot *tenant.ObjectType, docs ...store.Document) []store.Document {
	result := make([]store.Document, len(docs))
	for i, doc := range docs {
		result[i] = e.pipeline.Response(ctx, ot.ProxyFunCode, doc)
	}
	return result
}
