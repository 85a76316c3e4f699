// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/dummyapi/core"
)

// StaticRoute is a fixed response the application API serves for a path
type StaticRoute struct {
	Route    string          `json:"route"`
	Status   int             `json:"status,omitempty"`
	Response json.RawMessage `json:"response"`
}

// EventCallback is a URL which receives the tenant's events with a POST request.
// An empty event subscribes to all events.
type EventCallback struct {
	ID    string `json:"id"`
	Event string `json:"event,omitempty"`
	URL   string `json:"url"`
}

// canonicalRoute returns route with leading and trailing slash
func canonicalRoute(route string) string {
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "/"
	}
	return "/" + route + "/"
}

// PutStaticRoute creates or replaces a static route
func (r *Registry) PutStaticRoute(ctx context.Context, tenantID int64, route StaticRoute) (*StaticRoute, error) {
	if strings.TrimSpace(route.Route) == "" {
		return nil, core.Errorf(core.EInvalid, "tenant.PutStaticRoute", "route must not be empty")
	}
	if len(route.Response) == 0 || !json.Valid(route.Response) {
		return nil, core.Errorf(core.EInvalid, "tenant.PutStaticRoute", "response must be valid JSON")
	}
	if route.Status == 0 {
		route.Status = http.StatusOK
	}
	if http.StatusText(route.Status) == "" {
		return nil, core.Errorf(core.EInvalid, "tenant.PutStaticRoute", "invalid status %d", route.Status)
	}
	if _, err := r.apps.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	route.Route = canonicalRoute(route.Route)
	if err := r.SideRecords(tenantID, KindStaticRoute).Write(route.Route, route); err != nil {
		return nil, core.Internal("tenant.PutStaticRoute", err)
	}
	return &route, nil
}

// StaticRoutes returns all static routes of the tenant ordered by route
func (r *Registry) StaticRoutes(ctx context.Context, tenantID int64) ([]StaticRoute, error) {
	values, err := r.SideRecords(tenantID, KindStaticRoute).List()
	if err != nil {
		return nil, core.Internal("tenant.StaticRoutes", err)
	}
	routes := []StaticRoute{}
	for _, key := range sortedKeys(values) {
		var route StaticRoute
		if err := json.Unmarshal(values[key], &route); err != nil {
			return nil, core.Internal("tenant.StaticRoutes", err)
		}
		routes = append(routes, route)
	}
	return routes, nil
}

// FindStaticRoute returns the static route for path, or core.ENotFound
func (r *Registry) FindStaticRoute(ctx context.Context, tenantID int64, path string) (*StaticRoute, error) {
	var route StaticRoute
	timestamp, err := r.SideRecords(tenantID, KindStaticRoute).Read(canonicalRoute(path), &route)
	if err != nil {
		return nil, core.Internal("tenant.FindStaticRoute", err)
	}
	if timestamp.IsZero() {
		return nil, core.Errorf(core.ENotFound, "tenant.FindStaticRoute", "no static route %s", path)
	}
	return &route, nil
}

// DeleteStaticRoute deletes a static route
func (r *Registry) DeleteStaticRoute(ctx context.Context, tenantID int64, route string) error {
	if _, err := r.FindStaticRoute(ctx, tenantID, route); err != nil {
		return err
	}
	return core.Internal("tenant.DeleteStaticRoute", r.SideRecords(tenantID, KindStaticRoute).Delete(canonicalRoute(route)))
}

// AddEventCallback registers a new event callback
func (r *Registry) AddEventCallback(ctx context.Context, tenantID int64, callback EventCallback) (*EventCallback, error) {
	u, err := url.Parse(callback.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.Errorf(core.EInvalid, "tenant.AddEventCallback", "url must be an absolute http(s) url")
	}
	if _, err := r.apps.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	callback.ID = uuid.New().String()
	if err := r.SideRecords(tenantID, KindEventCallback).Write(callback.ID, callback); err != nil {
		return nil, core.Internal("tenant.AddEventCallback", err)
	}
	return &callback, nil
}

// EventCallbacks returns all event callbacks of the tenant
func (r *Registry) EventCallbacks(ctx context.Context, tenantID int64) ([]EventCallback, error) {
	values, err := r.SideRecords(tenantID, KindEventCallback).List()
	if err != nil {
		return nil, core.Internal("tenant.EventCallbacks", err)
	}
	callbacks := []EventCallback{}
	for _, key := range sortedKeys(values) {
		var callback EventCallback
		if err := json.Unmarshal(values[key], &callback); err != nil {
			return nil, core.Internal("tenant.EventCallbacks", err)
		}
		callbacks = append(callbacks, callback)
	}
	return callbacks, nil
}

// DeleteEventCallback deletes an event callback
func (r *Registry) DeleteEventCallback(ctx context.Context, tenantID int64, id string) error {
	accessor := r.SideRecords(tenantID, KindEventCallback)
	var callback EventCallback
	timestamp, err := accessor.Read(id, &callback)
	if err != nil {
		return core.Internal("tenant.DeleteEventCallback", err)
	}
	if timestamp.IsZero() {
		return core.Errorf(core.ENotFound, "tenant.DeleteEventCallback", "no event callback %s", id)
	}
	return core.Internal("tenant.DeleteEventCallback", accessor.Delete(id))
}

func sortedKeys(values map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
