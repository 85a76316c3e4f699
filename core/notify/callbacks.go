// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"

	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

// CallbackSource returns the event callbacks of a tenant
type CallbackSource interface {
	EventCallbacks(ctx context.Context, tenantID int64) ([]tenant.EventCallback, error)
}

// Dispatcher posts delivered events to the event callbacks of their tenant.
//
// Every tenant has its own queue and worker, so a slow or unreachable
// callback only delays the events of its own tenant. A worker exits after
// being idle for a while. Events of a tenant whose queue is full are dropped.
type Dispatcher struct {
	bus        *Bus
	source     CallbackSource
	client     *http.Client
	attempts   int
	queueSize  int
	idle       time.Duration
	newBackOff func() backoff.BackOff

	mutex  sync.Mutex
	queues map[int64]chan Delivery
	wg     sync.WaitGroup
}

// NewDispatcher returns a new event callback dispatcher
func NewDispatcher(bus *Bus, source CallbackSource) *Dispatcher {
	return &Dispatcher{
		bus:       bus,
		source:    source,
		client:    &http.Client{Timeout: 5 * time.Second},
		attempts:  3,
		queueSize: 64,
		idle:      time.Minute,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		queues: map[int64]chan Delivery{},
	}
}

// Run dispatches events until ctx is done. It returns after all tenant
// workers have stopped.
func (d *Dispatcher) Run(ctx context.Context, buffer int) {
	deliveries, cancel := d.bus.Subscribe(buffer)
	defer d.wg.Wait()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			d.enqueue(ctx, delivery)
		}
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, delivery Delivery) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	queue, ok := d.queues[delivery.TenantID]
	if !ok {
		queue = make(chan Delivery, d.queueSize)
		d.queues[delivery.TenantID] = queue
		d.wg.Add(1)
		go d.work(ctx, delivery.TenantID, queue)
	}
	select {
	case queue <- delivery:
	default:
		logger.FromContext(ctx).Warnf("event callback queue of application %d is full, dropping %s",
			delivery.TenantID, delivery.Event.Name)
	}
}

// work posts the events of one tenant in order
func (d *Dispatcher) work(ctx context.Context, tenantID int64, queue chan Delivery) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery := <-queue:
			d.dispatch(ctx, delivery)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
		case <-timer.C:
			d.mutex.Lock()
			if len(queue) == 0 {
				delete(d.queues, tenantID)
				d.mutex.Unlock()
				return
			}
			d.mutex.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, delivery Delivery) {
	rlog := logger.FromContext(ctx)
	callbacks, err := d.source.EventCallbacks(ctx, delivery.TenantID)
	if err != nil {
		rlog.WithError(err).Errorf("cannot read event callbacks of application %d", delivery.TenantID)
		return
	}
	for _, callback := range callbacks {
		if callback.Event != "" && callback.Event != delivery.Event.Name {
			continue
		}
		if err = d.post(ctx, callback.URL, delivery.Event); err != nil {
			rlog.WithError(err).Warnf("event callback %s failed", callback.ID)
		}
	}
}

// post delivers event to url with up to d.attempts attempts. Client errors
// are not retried.
func (d *Dispatcher) post(ctx context.Context, url string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.attempts-1)), ctx)
	return backoff.Retry(func() error {
		return d.postOnce(ctx, url, body)
	}, policy)
}

func (d *Dispatcher) postOnce(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	switch {
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("callback returned status %d", res.StatusCode)
	case res.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("callback returned status %d", res.StatusCode))
	}
	return nil
}
