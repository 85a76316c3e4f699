package transform

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/store"
)

func TestResponse(t *testing.T) {
	ctx := context.Background()
	p := New(0)
	doc := store.Document{"id": float64(1), "name": "Bond"}

	// no code is identity
	assert.Equal(t, doc, p.Response(ctx, "", doc))

	mocked := p.Response(ctx, `merge(resource, {"mocked": true})`, doc)
	assert.Equal(t, store.Document{"id": float64(1), "name": "Bond", "mocked": true}, mocked)
	// the input is untouched
	assert.NotContains(t, doc, "mocked")

	omitted := p.Response(ctx, `omit(resource, "name")`, doc)
	assert.Equal(t, store.Document{"id": float64(1)}, omitted)

	computed := p.Response(ctx, `{"title": "Agent " + resource.name}`, doc)
	assert.Equal(t, store.Document{"title": "Agent Bond"}, computed)
}

func TestResponseFallback(t *testing.T) {
	ctx := context.Background()
	p := New(0)
	doc := store.Document{"value": float64(123)}

	for _, code := range []string{
		`merge(resource`,             // does not compile
		`resource.value`,             // not a map
		`omit(resource, 42)`,         // runtime error
		`merge(resource, "no map")`,  // runtime error
		`unknown_function(resource)`, // does not compile
	} {
		assert.Equal(t, doc, p.Response(ctx, code, doc), code)
	}
}

func TestDecode(t *testing.T) {
	p := New(0)
	doc := p.Decode(context.Background(), `merge(resource, {"decoded": true})`, store.Document{"a": "b"})
	assert.Equal(t, store.Document{"a": "b", "decoded": true}, doc)
}

func TestNotify(t *testing.T) {
	ctx := context.Background()
	p := New(0)
	resource := store.Document{"value": float64(1)}
	event := core.Event{Name: string(core.EventResourceCreated)}

	ev := p.Notify(ctx, "", event, resource)
	assert.Equal(t, "resource_created", ev.Name)
	assert.Equal(t, resource, ev.Data)

	ev = p.Notify(ctx, `{"name": "agent_" + event.name, "data": omit(resource, "value")}`, event, resource)
	assert.Equal(t, "agent_resource_created", ev.Name)
	assert.Equal(t, map[string]interface{}{}, ev.Data)

	// keeping the name but replacing data
	ev = p.Notify(ctx, `{"data": {"type": event.type}}`, event, resource)
	assert.Equal(t, "resource_created", ev.Name)
	assert.Equal(t, map[string]interface{}{"type": "event"}, ev.Data)

	// broken code falls back to the default event
	ev = p.Notify(ctx, `event.`, event, resource)
	assert.Equal(t, "resource_created", ev.Name)
	assert.Equal(t, resource, ev.Data)
}

func TestCompile(t *testing.T) {
	p := New(0)
	assert.NoError(t, p.Compile(KindResponse, ""))
	assert.NoError(t, p.Compile(KindResponse, `merge(resource, {"mocked": true})`))
	assert.NoError(t, p.Compile(KindNotify, `{"name": event.name, "data": resource}`))

	err := p.Compile(KindResponse, `merge(resource`)
	assert.Equal(t, core.EInvalid, core.ErrorCode(err))

	// event is not part of the response environment
	err = p.Compile(KindResponse, `{"name": event.name}`)
	assert.Equal(t, core.EInvalid, core.ErrorCode(err))

	// compiled programs are cached per kind and code
	_, err = p.program(KindResponse, `merge(resource, {"mocked": true})`)
	require.NoError(t, err)
	assert.Len(t, p.programCache, 2)
}

func TestTimeout(t *testing.T) {
	p := New(time.Millisecond)
	// either exceeds the time budget or the memory budget, both fall back
	code := `merge(resource, {"n": len(filter(1..5000000, # % 7 == 0))})`
	doc := store.Document{"a": "b"}

	start := time.Now()
	assert.Equal(t, doc, p.Response(context.Background(), code, doc))
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryBudget(t *testing.T) {
	ctx := context.Background()
	// the time budget is out of reach, only the memory budget stops these
	p := New(10 * time.Second)
	doc := store.Document{"items": []interface{}{1.0, 2.0, 3.0}}

	for _, code := range []string{
		`merge(resource, {"n": len(filter(1..5000000, # % 7 == 0))})`,
		`merge(resource, {"n": len(map(1..1000, map(1..1000, #)))})`,
		`merge(resource, {"s": repeat("x", 2000000)})`,
	} {
		start := time.Now()
		_, err := p.eval(ctx, KindResponse, code, map[string]interface{}{"resource": map[string]interface{}(doc)})
		require.Error(t, err, code)
		assert.Contains(t, err.Error(), "memory budget exceeded", code)
		assert.Less(t, time.Since(start), time.Second, code)
		assert.Equal(t, doc, p.Response(ctx, code, doc), code)
	}

	// work proportional to the document stays within budget
	transformed := p.Response(ctx, `merge(resource, {"n": len(map(resource.items, map(resource.items, # * 2)))})`, doc)
	assert.EqualValues(t, 3, transformed["n"])
}

func TestMaxNodes(t *testing.T) {
	p := New(0)
	code := `merge(resource, {"n": ` + strings.Repeat("1 + ", 20000) + "1})"
	assert.Error(t, p.Compile(KindResponse, code))
}
