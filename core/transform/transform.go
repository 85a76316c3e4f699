// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package transform runs tenant supplied transformations.

Transformations are expr-lang expressions. They are compiled once per source
text, cached, and evaluated with a time budget and a memory budget. An
expression cannot perform I/O, it can only compute a new value from its
environment.

There are three kinds of transformations:

  - response transformations get the stored document as "resource" and return
    the document to send to the client,
  - decode transformations get an inbound document as "resource" and return the
    document to store,
  - notify transformations get the synthesized event as "event" (with "name" and
    "type") and the changed document as "resource", and return the event to send,
    a map with "name" and "data".

Besides the expr builtins two helpers exist: merge(a, b) returns the shallow
merge of two maps, omit(m, "key", ...) returns m without the given keys.

	merge(resource, {"mocked": true})
	{"name": "changed", "data": omit(resource, "secret")}

A transformation which fails to compile, fails at runtime, exceeds a budget
or returns something else than a map never fails the caller. The
failure is logged and the pipeline falls back to the identity for documents,
and to the default event with the resource as data for notifications.
*/
package transform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/store"
)

// Kind is the kind of a transformation
type Kind string

// Kinds of transformations
const (
	KindResponse Kind = "response"
	KindDecode   Kind = "decode"
	KindNotify   Kind = "notify"
)

// DefaultTimeout is the default time budget of one evaluation
const DefaultTimeout = 50 * time.Millisecond

// maxNodes limits the size of a compiled expression
const maxNodes = 10000

// MemoryBudget limits the allocations of one evaluation, counted in elements
// of ranges, arrays, maps and loop scopes the evaluation creates. It bounds the
// work of an evaluation independent of its time budget.
const MemoryBudget = 100000

// Pipeline compiles, caches and evaluates transformations
type Pipeline struct {
	timeout time.Duration

	programMu    sync.RWMutex
	programCache map[string]*vm.Program
}

// New returns a new pipeline. A timeout of zero selects DefaultTimeout.
func New(timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		timeout:      timeout,
		programCache: make(map[string]*vm.Program),
	}
}

func environment(kind Kind) map[string]interface{} {
	env := map[string]interface{}{
		"resource": map[string]interface{}{},
	}
	if kind == KindNotify {
		env["event"] = map[string]interface{}{}
	}
	return env
}

func merge(params ...interface{}) (interface{}, error) {
	result := map[string]interface{}{}
	for i, p := range params {
		if p == nil {
			continue
		}
		m, ok := p.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("merge: argument %d is not a map", i+1)
		}
		for k, v := range m {
			result[k] = v
		}
	}
	return result, nil
}

func omit(params ...interface{}) (interface{}, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("omit: missing map")
	}
	m, ok := params[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("omit: first argument is not a map")
	}
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		result[k] = v
	}
	for _, p := range params[1:] {
		key, ok := p.(string)
		if !ok {
			return nil, fmt.Errorf("omit: keys must be strings")
		}
		delete(result, key)
	}
	return result, nil
}

// Compile compiles code as a transformation of the given kind. It is used to
// validate tenant supplied code before it is stored. Empty code is valid.
func (p *Pipeline) Compile(kind Kind, code string) error {
	if code == "" {
		return nil
	}
	if _, err := p.program(kind, code); err != nil {
		return core.Errorf(core.EInvalid, "transform.Compile", "invalid %s transformation: %v", kind, err)
	}
	return nil
}

func (p *Pipeline) program(kind Kind, code string) (*vm.Program, error) {
	cacheKey := string(kind) + "\x00" + code

	p.programMu.RLock()
	if program, ok := p.programCache[cacheKey]; ok {
		p.programMu.RUnlock()
		return program, nil
	}
	p.programMu.RUnlock()

	program, err := expr.Compile(code,
		expr.Env(environment(kind)),
		expr.Function("merge", merge),
		expr.Function("omit", omit),
		expr.MaxNodes(maxNodes),
	)
	if err != nil {
		return nil, err
	}

	p.programMu.Lock()
	if existing, ok := p.programCache[cacheKey]; ok {
		p.programMu.Unlock()
		return existing, nil
	}
	p.programCache[cacheKey] = program
	p.programMu.Unlock()

	return program, nil
}

type result struct {
	value interface{}
	err   error
}

// eval evaluates code within the pipeline's time and memory budget. The result
// must be a map. An evaluation which exceeds the time budget is abandoned and
// keeps running in the background until it completes or exhausts MemoryBudget.
func (p *Pipeline) eval(ctx context.Context, kind Kind, code string, env map[string]interface{}) (map[string]interface{}, error) {
	program, err := p.program(kind, code)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		machine := vm.VM{MemoryBudget: MemoryBudget}
		value, err := machine.Run(program, env)
		done <- result{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("evaluation aborted: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		m, ok := res.value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("result is %T, not a map", res.value)
		}
		return m, nil
	}
}

func (p *Pipeline) document(ctx context.Context, kind Kind, code string, doc store.Document) store.Document {
	if code == "" || doc == nil {
		return doc
	}
	m, err := p.eval(ctx, kind, code, map[string]interface{}{"resource": map[string]interface{}(doc)})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("%s transformation failed, falling back to identity", kind)
		return doc
	}
	return store.Document(m)
}

// Response applies a response transformation to a stored document
func (p *Pipeline) Response(ctx context.Context, code string, doc store.Document) store.Document {
	return p.document(ctx, KindResponse, code, doc)
}

// Decode applies a decode transformation to an inbound document
func (p *Pipeline) Decode(ctx context.Context, code string, doc store.Document) store.Document {
	return p.document(ctx, KindDecode, code, doc)
}

// Notify applies a notify transformation. Without code, or on failure, the
// event carries the resource as data.
func (p *Pipeline) Notify(ctx context.Context, code string, event core.Event, resource store.Document) core.Event {
	fallback := core.Event{Name: event.Name, Data: resource}
	if code == "" {
		return fallback
	}
	env := map[string]interface{}{
		"event":    map[string]interface{}{"name": event.Name, "type": "event"},
		"resource": map[string]interface{}(resource),
	}
	m, err := p.eval(ctx, KindNotify, code, env)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnln("notify transformation failed, falling back to default event")
		return fallback
	}
	result := core.Event{Name: event.Name, Data: m["data"]}
	if name, ok := m["name"].(string); ok && name != "" {
		result.Name = name
	}
	return result
}
