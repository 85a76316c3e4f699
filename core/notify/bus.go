// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package notify implements the real-time notification bus.

Clients connect through a websocket, authenticated with the access token of
their tenant. Every connection is registered under its tenant and a client id.
The client id is the one the client asked for with the "client_id" query
parameter, or a fresh uuid. Reconnecting with the same client id replaces the
previous connection.

After every successful mutation the resource engine calls NotifyMutation. The
bus synthesizes the event, runs the tenant's notify transformation and sends
the resulting event to all connections of the tenant.

Every delivered event is also offered to the subscribers of the bus, which see
the events of all tenants. Subscribers never block the delivery: if their buffer
is full, the event is dropped for them. The Kafka mirror and the event callback
dispatcher are subscribers.
*/
package notify

import (
	"context"
	"sync"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
	"github.com/relabs-tech/dummyapi/core/transform"
)

// Conn is a live client connection
type Conn interface {
	ID() string
	Send(ctx context.Context, event core.Event) error
	Close() error
}

// Applications gives the bus access to the tenants' notify transformations
type Applications interface {
	GetApplication(ctx context.Context, tenantID int64) (*tenant.Application, error)
}

// Delivery is an event as seen by the subscribers of the bus
type Delivery struct {
	TenantID int64      `json:"tenant_id"`
	Event    core.Event `json:"event"`
	// Notified is the number of connections the event was delivered to
	Notified int `json:"notified"`
}

// Bus is the notification bus
type Bus struct {
	apps     Applications
	pipeline *transform.Pipeline

	mutex   sync.RWMutex
	clients map[int64]map[string]Conn

	subscribersMutex sync.RWMutex
	subscribers      map[int]chan Delivery
	nextSubscriber   int
}

// NewBus creates a new notification bus. apps may be nil, in which case no
// notify transformations are applied.
func NewBus(apps Applications, pipeline *transform.Pipeline) *Bus {
	if pipeline == nil {
		pipeline = transform.New(0)
	}
	return &Bus{
		apps:        apps,
		pipeline:    pipeline,
		clients:     map[int64]map[string]Conn{},
		subscribers: map[int]chan Delivery{},
	}
}

// Register registers conn for the tenant. A previous connection with the same
// client id is closed and replaced.
func (b *Bus) Register(tenantID int64, conn Conn) {
	b.mutex.Lock()
	conns, ok := b.clients[tenantID]
	if !ok {
		conns = map[string]Conn{}
		b.clients[tenantID] = conns
	}
	previous := conns[conn.ID()]
	conns[conn.ID()] = conn
	b.mutex.Unlock()

	if previous != nil && previous != conn {
		previous.Close()
	}
}

// Unregister removes conn from the tenant. It returns false if conn is not, or
// no longer, registered.
func (b *Bus) Unregister(tenantID int64, conn Conn) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	conns := b.clients[tenantID]
	if current, ok := conns[conn.ID()]; !ok || current != conn {
		return false
	}
	delete(conns, conn.ID())
	if len(conns) == 0 {
		delete(b.clients, tenantID)
	}
	return true
}

// Clients returns the client ids of all live connections of the tenant
func (b *Bus) Clients(tenantID int64) []string {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	ids := make([]string, 0, len(b.clients[tenantID]))
	for id := range b.clients[tenantID] {
		ids = append(ids, id)
	}
	return ids
}

// snapshot returns the connections the event should go to. Without target, all
// connections of the tenant are selected.
func (b *Bus) snapshot(tenantID int64, target *string) []Conn {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	conns := b.clients[tenantID]
	if target != nil {
		if conn, ok := conns[*target]; ok {
			return []Conn{conn}
		}
		return nil
	}
	result := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		result = append(result, conn)
	}
	return result
}

// Notify sends event to the live connections of the tenant, or only to target
// if given. It returns the number of successful deliveries. A failing connection
// does not affect the delivery to the others.
func (b *Bus) Notify(ctx context.Context, tenantID int64, event core.Event, target *string) int {
	rlog := logger.FromContext(ctx)
	notified := 0
	for _, conn := range b.snapshot(tenantID, target) {
		if err := conn.Send(ctx, event); err != nil {
			rlog.WithError(err).Warnf("cannot notify client %s", conn.ID())
			continue
		}
		notified++
	}
	b.publish(Delivery{TenantID: tenantID, Event: event, Notified: notified})
	return notified
}

// NotifyMutation announces a mutated resource to all live connections of the
// tenant, shaped by the tenant's notify transformation
func (b *Bus) NotifyMutation(ctx context.Context, tenantID int64, name core.EventName, resource store.Document) int {
	code := ""
	if b.apps != nil {
		app, err := b.apps.GetApplication(ctx, tenantID)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("cannot read notify transformation of application %d", tenantID)
		} else {
			code = app.NotifyProxyCode
		}
	}
	event := b.pipeline.Notify(ctx, code, core.Event{Name: string(name)}, resource)
	return b.Notify(ctx, tenantID, event, nil)
}

// Subscribe returns a channel which receives every delivered event of all
// tenants. When the buffer of the channel is full, events are dropped. The
// returned function cancels the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Delivery, func()) {
	ch := make(chan Delivery, buffer)
	b.subscribersMutex.Lock()
	id := b.nextSubscriber
	b.nextSubscriber++
	b.subscribers[id] = ch
	b.subscribersMutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subscribersMutex.Lock()
			delete(b.subscribers, id)
			b.subscribersMutex.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) publish(d Delivery) {
	b.subscribersMutex.RLock()
	defer b.subscribersMutex.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- d:
		default:
		}
	}
}

// Close closes all live connections
func (b *Bus) Close() {
	b.mutex.Lock()
	clients := b.clients
	b.clients = map[int64]map[string]Conn{}
	b.mutex.Unlock()
	for _, conns := range clients {
		for _, conn := range conns {
			conn.Close()
		}
	}
}
