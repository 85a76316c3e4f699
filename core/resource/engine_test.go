package resource

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/objtype"
	"github.com/relabs-tech/dummyapi/core/route"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

type mutation struct {
	tenantID int64
	name     core.EventName
	resource store.Document
}

type recordingNotifier struct {
	mutex     sync.Mutex
	mutations []mutation
}

func (n *recordingNotifier) NotifyMutation(ctx context.Context, tenantID int64, name core.EventName, resource store.Document) int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.mutations = append(n.mutations, mutation{tenantID, name, resource})
	return 0
}

func (n *recordingNotifier) names() []core.EventName {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	names := []core.EventName{}
	for _, m := range n.mutations {
		names = append(names, m.name)
	}
	return names
}

type fixture struct {
	engine   *Engine
	types    *objtype.Registry
	tenants  *tenant.Registry
	notifier *recordingNotifier
	tenantID int64
}

func setup(t *testing.T) *fixture {
	ctx := context.Background()
	tenants := tenant.New(tenant.Builder{})
	app, err := tenants.CreateApplication(ctx, "resources")
	require.NoError(t, err)
	types := objtype.New(tenants, nil)
	notifier := &recordingNotifier{}
	engine := New(Builder{Types: types, Documents: tenants.Documents(), Notifier: notifier})
	return &fixture{engine: engine, types: types, tenants: tenants, notifier: notifier, tenantID: app.ID}
}

func nativeID(doc store.Document) *store.Identity {
	id := store.NewIdentity("", doc[store.NativeIDField].(string))
	return &id
}

func TestResourceScenario(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	ot, err := f.types.AddType(ctx, f.tenantID, tenant.ObjectType{Name: "Resource_01"})
	require.NoError(t, err)
	assert.Equal(t, "/Resource_01/{id}/", ot.RoutePattern)
	assert.Equal(t, store.NativeIDField, ot.IDField)

	created, err := f.engine.Create(ctx, f.tenantID, "Resource_01", store.Document{"value": 123})
	require.NoError(t, err)
	require.NotEmpty(t, created[store.NativeIDField])
	id := nativeID(created)

	docs, err := f.engine.Get(ctx, f.tenantID, "Resource_01", id)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, store.Document{"value": float64(123), "_id": id.Raw}, docs[0])

	updated, err := f.engine.Update(ctx, f.tenantID, "Resource_01", id, store.Document{"value": 444, "_id": "overwritten"})
	require.NoError(t, err)
	assert.Equal(t, id.Raw, updated[store.NativeIDField], "native identity is preserved")

	docs, err = f.engine.Get(ctx, f.tenantID, "Resource_01", id)
	require.NoError(t, err)
	assert.Equal(t, float64(444), docs[0]["value"])

	require.NoError(t, f.engine.Delete(ctx, f.tenantID, "Resource_01", id))
	_, err = f.engine.Get(ctx, f.tenantID, "Resource_01", id)
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(f.engine.Delete(ctx, f.tenantID, "Resource_01", id)), "repeated delete")

	assert.Equal(t, []core.EventName{
		core.EventResourceCreated, core.EventResourceUpdated, core.EventResourceDeleted,
	}, f.notifier.names())
}

func TestMutationEvents(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.types.AddType(ctx, f.tenantID, tenant.ObjectType{Name: "Sensors"})
	require.NoError(t, err)

	created, err := f.engine.Create(ctx, f.tenantID, "Sensors", store.Document{"v": 1})
	require.NoError(t, err)
	id := nativeID(created)
	_, err = f.engine.Get(ctx, f.tenantID, "Sensors", id)
	require.NoError(t, err)
	_, err = f.engine.Get(ctx, f.tenantID, "Sensors", nil)
	require.NoError(t, err)
	_, err = f.engine.Update(ctx, f.tenantID, "Sensors", id, store.Document{"v": 2})
	require.NoError(t, err)
	require.NoError(t, f.engine.Delete(ctx, f.tenantID, "Sensors", id))

	// reads and lists are not announced
	expected := []core.EventName{}
	for _, operation := range []core.Operation{core.OperationCreate, core.OperationUpdate, core.OperationDelete} {
		name, ok := core.EventForOperation(operation)
		require.True(t, ok)
		expected = append(expected, name)
	}
	assert.Equal(t, expected, f.notifier.names())

	f.notifier.mutex.Lock()
	defer f.notifier.mutex.Unlock()
	for _, m := range f.notifier.mutations {
		assert.Equal(t, f.tenantID, m.tenantID)
		assert.Equal(t, created[store.NativeIDField], m.resource[store.NativeIDField])
	}
}

func TestDeclaredIdentity(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.types.AddType(ctx, f.tenantID, tenant.ObjectType{Name: "Cars", IDField: "id"})
	require.NoError(t, err)

	_, err = f.engine.Create(ctx, f.tenantID, "Cars", store.Document{"id": 42, "model": "T"})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, f.tenantID, "Cars", store.Document{"id": "abc", "model": "K"})
	require.NoError(t, err)

	rt := route.Resolve("/Cars/42")
	docs, err := f.engine.Get(ctx, f.tenantID, "Cars", rt.Identity("id"))
	require.NoError(t, err)
	assert.Equal(t, "T", docs[0]["model"])

	rt = route.Resolve("/Cars/abc")
	docs, err = f.engine.Get(ctx, f.tenantID, "Cars", rt.Identity("id"))
	require.NoError(t, err)
	assert.Equal(t, "K", docs[0]["model"])

	// the declared identity survives an update which does not carry it
	updated, err := f.engine.Update(ctx, f.tenantID, "Cars", route.Resolve("/Cars/42").Identity("id"), store.Document{"model": "S"})
	require.NoError(t, err)
	assert.Equal(t, float64(42), updated["id"])
	docs, err = f.engine.Get(ctx, f.tenantID, "Cars", route.Resolve("/Cars/42").Identity("id"))
	require.NoError(t, err)
	assert.Equal(t, "S", docs[0]["model"])

	_, err = f.engine.Update(ctx, f.tenantID, "Cars", route.Resolve("/Cars/43").Identity("id"), store.Document{"model": "X"})
	assert.True(t, core.IsNotFound(err))

	all, err := f.engine.Get(ctx, f.tenantID, "Cars", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMalformedNativeIdentity(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.types.AddType(ctx, f.tenantID, tenant.ObjectType{Name: "Things"})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, f.tenantID, "Things", store.Document{})
	require.NoError(t, err)

	id := store.NewIdentity("", "not-a-uuid")
	_, err = f.engine.Get(ctx, f.tenantID, "Things", &id)
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(f.engine.Delete(ctx, f.tenantID, "Things", &id)))
}

func TestUnregisteredType(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// instances tagged with an unregistered type are not reachable
	_, err := f.tenants.Documents().Insert(ctx, tenant.CollectionName(f.tenantID), "Ghosts", store.Document{"boo": true})
	require.NoError(t, err)
	_, err = f.engine.Get(ctx, f.tenantID, "Ghosts", nil)
	assert.True(t, core.IsNotFound(err))
	_, err = f.engine.Create(ctx, f.tenantID, "Ghosts", store.Document{})
	assert.True(t, core.IsNotFound(err))
	assert.Empty(t, f.notifier.names())
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	other, err := f.tenants.CreateApplication(ctx, "other")
	require.NoError(t, err)
	for _, id := range []int64{f.tenantID, other.ID} {
		_, err = f.types.AddType(ctx, id, tenant.ObjectType{Name: "Notes"})
		require.NoError(t, err)
	}

	created, err := f.engine.Create(ctx, f.tenantID, "Notes", store.Document{"text": "mine"})
	require.NoError(t, err)

	_, err = f.engine.Get(ctx, other.ID, "Notes", nativeID(created))
	assert.True(t, core.IsNotFound(err))
	docs, err := f.engine.Get(ctx, other.ID, "Notes", nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestPresentAndDecode(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	ot, err := f.types.AddType(ctx, f.tenantID, tenant.ObjectType{
		Name:          "Mocks",
		IDField:       "id",
		ProxyFunCode:  `merge(resource, {mocked: true})`,
		DecodeFunCode: `omit(resource, "secret")`,
	})
	require.NoError(t, err)

	created, err := f.engine.Create(ctx, f.tenantID, "Mocks", store.Document{"id": 1, "secret": "x"})
	require.NoError(t, err)
	assert.NotContains(t, created, "secret")

	stored, err := f.engine.Get(ctx, f.tenantID, "Mocks", nil)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotContains(t, stored[0], "mocked")

	presented := f.engine.Present(ctx, ot, stored...)
	require.Len(t, presented, 1)
	assert.Equal(t, true, presented[0]["mocked"])
	assert.Equal(t, float64(1), presented[0]["id"])
	assert.NotContains(t, stored[0], "mocked", "stored document is unchanged")
}
