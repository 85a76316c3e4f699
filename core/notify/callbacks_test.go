package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

type fakeCallbacks map[int64][]tenant.EventCallback

func (f fakeCallbacks) EventCallbacks(ctx context.Context, tenantID int64) ([]tenant.EventCallback, error) {
	return f[tenantID], nil
}

func TestDispatcher(t *testing.T) {
	var mutex sync.Mutex
	received := map[string][]string{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mutex.Lock()
		received[r.URL.Path] = append(received[r.URL.Path], string(body))
		mutex.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	bus := NewBus(nil, nil)
	dispatcher := NewDispatcher(bus, fakeCallbacks{
		1: {
			{ID: "all", URL: server.URL + "/all"},
			{ID: "created", Event: "resource_created", URL: server.URL + "/created"},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx, 10)

	count := func(path string) int {
		mutex.Lock()
		defer mutex.Unlock()
		return len(received[path])
	}
	require.Eventually(t, func() bool {
		bus.Notify(context.Background(), 1, core.Event{Name: "resource_created", Data: "x"}, nil)
		return count("/created") > 0
	}, 2*time.Second, 20*time.Millisecond)

	bus.Notify(context.Background(), 1, core.Event{Name: "resource_deleted"}, nil)
	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		for _, body := range received["/all"] {
			if body == `{"name":"resource_deleted","data":null}` {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	mutex.Lock()
	defer mutex.Unlock()
	for _, body := range received["/created"] {
		assert.JSONEq(t, `{"name":"resource_created","data":"x"}`, body)
	}
}

func TestDispatcherSlowTenant(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer slow.Close()
	defer close(release)

	fastReceived := make(chan time.Time, 100)
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fastReceived <- time.Now()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer fast.Close()

	bus := NewBus(nil, nil)
	dispatcher := NewDispatcher(bus, fakeCallbacks{
		1: {{ID: "slow", URL: slow.URL}},
		2: {{ID: "fast", URL: fast.URL}},
		3: {{ID: "ready", URL: fast.URL}},
	})
	dispatcher.client = &http.Client{Timeout: 200 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx, 10)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// wait for the subscription
	require.Eventually(t, func() bool {
		bus.Notify(context.Background(), 3, core.Event{Name: "ping"}, nil)
		return len(fastReceived) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	for len(fastReceived) > 0 {
		<-fastReceived
	}

	// tenant 1 keeps its worker busy with timeouts and retries
	for i := 0; i < 3; i++ {
		bus.Notify(context.Background(), 1, core.Event{Name: "resource_created"}, nil)
	}
	sent := time.Now()
	bus.Notify(context.Background(), 2, core.Event{Name: "resource_created"}, nil)
	select {
	case received := <-fastReceived:
		assert.Less(t, received.Sub(sent), 150*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("callback of tenant 2 was not delivered")
	}
}

func TestDispatcherRetries(t *testing.T) {
	var calls int32
	statuses := map[string][]int{
		"/flaky":   {http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusNoContent},
		"/broken":  {http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError, http.StatusNoContent},
		"/refused": {http.StatusBadRequest, http.StatusNoContent},
	}
	var mutex sync.Mutex
	attempts := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		mutex.Lock()
		n := attempts[r.URL.Path]
		attempts[r.URL.Path]++
		mutex.Unlock()
		w.WriteHeader(statuses[r.URL.Path][n])
	}))
	defer server.Close()

	d := NewDispatcher(NewBus(nil, nil), nil)
	d.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	ctx := context.Background()

	assert.NoError(t, d.post(ctx, server.URL+"/flaky", core.Event{Name: "x"}))
	assert.EqualError(t, d.post(ctx, server.URL+"/broken", core.Event{Name: "x"}), "callback returned status 500")
	assert.EqualError(t, d.post(ctx, server.URL+"/refused", core.Event{Name: "x"}), "callback returned status 400")

	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, 3, attempts["/flaky"])
	assert.Equal(t, 3, attempts["/broken"])
	assert.Equal(t, 1, attempts["/refused"])
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
}

func TestDispatcherRetryStopsWithContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewDispatcher(NewBus(nil, nil), nil)
	d.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.post(ctx, server.URL, core.Event{Name: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcherIdleWorker(t *testing.T) {
	received := make(chan struct{}, 10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	bus := NewBus(nil, nil)
	d := NewDispatcher(bus, fakeCallbacks{1: {{ID: "all", URL: server.URL}}})
	d.idle = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx, 10)

	workers := func() int {
		d.mutex.Lock()
		defer d.mutex.Unlock()
		return len(d.queues)
	}
	require.Eventually(t, func() bool {
		bus.Notify(context.Background(), 1, core.Event{Name: "resource_created"}, nil)
		return len(received) > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return workers() == 0 }, 2*time.Second, 10*time.Millisecond)

	// a new event starts a new worker
	for len(received) > 0 {
		<-received
	}
	bus.Notify(context.Background(), 1, core.Event{Name: "resource_updated"}, nil)
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("event after idle worker exit was not delivered")
	}
}
