// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package objtype manages the object types a tenant declares at runtime.

The types are kept as an ordered list inside the application record. Every
change is a read-modify-write of that list under the tenant lock, so two
concurrent changes of the same tenant never lose each other.

Type names and route patterns are unique within a tenant. A route pattern is
canonical, "/seg/{id}/" for every segment. Types without a declared pattern are
reachable under "/{name}/{id}/", types without a declared identity field are
identified by the native "_id".

A few names are taken by the application API itself and cannot be used, neither
as type name nor as first segment of a route pattern.
*/
package objtype

import (
	"context"
	"regexp"
	"strings"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
	"github.com/relabs-tech/dummyapi/core/transform"
)

// Reserved are the names served by the application API itself
var Reserved = map[string]bool{
	"ws":                true,
	"app":               true,
	"simple_token_auth": true,
	"ugly_get_auth":     true,
	"authorization":     true,
}

var (
	nameRegexp    = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
	idFieldRegexp = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)
)

// Patch is a partial update of an object type. Nil fields are left untouched.
// The name of a type cannot be changed.
type Patch struct {
	RoutePattern  *string `json:"route_pattern"`
	IDField       *string `json:"id_field"`
	ProxyFunCode  *string `json:"proxy_fun_code"`
	DecodeFunCode *string `json:"decode_fun_code"`
}

// Registry is the object type registry
type Registry struct {
	tenants  *tenant.Registry
	pipeline *transform.Pipeline
}

// New returns a new object type registry on top of the tenant registry.
// Transformation code of new or changed types is compiled with pipeline.
func New(tenants *tenant.Registry, pipeline *transform.Pipeline) *Registry {
	if pipeline == nil {
		pipeline = transform.New(0)
	}
	return &Registry{tenants: tenants, pipeline: pipeline}
}

// CanonicalPattern returns the canonical form of a route pattern. Segments
// are separated by "/", every segment is followed by an "{id}" placeholder,
// which may be omitted in the input.
func CanonicalPattern(pattern string) (string, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(pattern), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", core.Errorf(core.EInvalid, "objtype.CanonicalPattern", "route pattern must not be empty")
	}
	canonical := "/"
	for i := 0; i < len(parts); i += 2 {
		segment := parts[i]
		if !nameRegexp.MatchString(segment) {
			return "", core.Errorf(core.EInvalid, "objtype.CanonicalPattern", "invalid segment '%s' in route pattern %s", segment, pattern)
		}
		if i+1 < len(parts) && parts[i+1] != "{id}" {
			return "", core.Errorf(core.EInvalid, "objtype.CanonicalPattern", "expected {id} after '%s' in route pattern %s", segment, pattern)
		}
		canonical += segment + "/{id}/"
	}
	if first := strings.SplitN(strings.TrimPrefix(canonical, "/"), "/", 2)[0]; Reserved[first] {
		return "", core.Errorf(core.EInvalid, "objtype.CanonicalPattern", "route pattern must not start with reserved segment '%s'", first)
	}
	return canonical, nil
}

func (r *Registry) validateCode(ot *tenant.ObjectType) error {
	if err := r.pipeline.Compile(transform.KindResponse, ot.ProxyFunCode); err != nil {
		return err
	}
	return r.pipeline.Compile(transform.KindDecode, ot.DecodeFunCode)
}

// normalize validates ot and fills in the defaults
func (r *Registry) normalize(ot *tenant.ObjectType) error {
	ot.Name = strings.TrimSpace(ot.Name)
	if ot.Name == "" {
		return core.Errorf(core.EInvalid, "objtype.AddType", "object type name must not be empty")
	}
	if !nameRegexp.MatchString(ot.Name) {
		return core.Errorf(core.EInvalid, "objtype.AddType", "invalid object type name '%s'", ot.Name)
	}
	if Reserved[ot.Name] {
		return core.Errorf(core.EInvalid, "objtype.AddType", "object type name '%s' is reserved", ot.Name)
	}
	if ot.RoutePattern == "" {
		ot.RoutePattern = tenant.DefaultRoutePattern(ot.Name)
	}
	pattern, err := CanonicalPattern(ot.RoutePattern)
	if err != nil {
		return err
	}
	ot.RoutePattern = pattern
	ot.IDField = strings.TrimSpace(ot.IDField)
	if ot.IDField == "" {
		ot.IDField = store.NativeIDField
	}
	if !idFieldRegexp.MatchString(ot.IDField) || ot.IDField == store.TypeTagField {
		return core.Errorf(core.EInvalid, "objtype.AddType", "invalid id field '%s'", ot.IDField)
	}
	return r.validateCode(ot)
}

func indexByName(types []tenant.ObjectType, name string) int {
	for i := range types {
		if types[i].Name == name {
			return i
		}
	}
	return -1
}

func indexByRoute(types []tenant.ObjectType, pattern string) int {
	for i := range types {
		if types[i].RoutePattern == pattern {
			return i
		}
	}
	return -1
}

// AddType declares a new object type for the tenant
func (r *Registry) AddType(ctx context.Context, tenantID int64, ot tenant.ObjectType) (*tenant.ObjectType, error) {
	if err := r.normalize(&ot); err != nil {
		return nil, err
	}
	_, err := r.tenants.Mutate(ctx, tenantID, func(app *tenant.Application) error {
		if indexByName(app.ObjectTypes, ot.Name) >= 0 {
			return core.Errorf(core.EConflict, "objtype.AddType", "object type %s already exists", ot.Name)
		}
		if i := indexByRoute(app.ObjectTypes, ot.RoutePattern); i >= 0 {
			return core.Errorf(core.EConflict, "objtype.AddType", "route pattern %s is already used by %s", ot.RoutePattern, app.ObjectTypes[i].Name)
		}
		app.ObjectTypes = append(app.ObjectTypes, ot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infof("added object type %s with route %s to application %d", ot.Name, ot.RoutePattern, tenantID)
	return &ot, nil
}

// ListTypes returns the object types of the tenant in declaration order
func (r *Registry) ListTypes(ctx context.Context, tenantID int64) ([]tenant.ObjectType, error) {
	app, err := r.tenants.GetApplication(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return app.ObjectTypes, nil
}

// ResolveByName returns the object type with the given name, or core.ENotFound
func (r *Registry) ResolveByName(ctx context.Context, tenantID int64, name string) (*tenant.ObjectType, error) {
	app, err := r.tenants.GetApplication(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	i := indexByName(app.ObjectTypes, name)
	if i < 0 {
		return nil, core.Errorf(core.ENotFound, "objtype.ResolveByName", "no object type %s", name)
	}
	ot := app.ObjectTypes[i]
	return &ot, nil
}

// ResolveByRoute returns the object type which owns the route pattern, or core.ENotFound
func (r *Registry) ResolveByRoute(ctx context.Context, tenantID int64, pattern string) (*tenant.ObjectType, error) {
	app, err := r.tenants.GetApplication(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	i := indexByRoute(app.ObjectTypes, pattern)
	if i < 0 {
		return nil, core.Errorf(core.ENotFound, "objtype.ResolveByRoute", "no object type for route %s", pattern)
	}
	ot := app.ObjectTypes[i]
	return &ot, nil
}

// UpdateType applies patch to the object type
func (r *Registry) UpdateType(ctx context.Context, tenantID int64, name string, patch Patch) (*tenant.ObjectType, error) {
	var updated tenant.ObjectType
	_, err := r.tenants.Mutate(ctx, tenantID, func(app *tenant.Application) error {
		i := indexByName(app.ObjectTypes, name)
		if i < 0 {
			return core.Errorf(core.ENotFound, "objtype.UpdateType", "no object type %s", name)
		}
		ot := app.ObjectTypes[i]
		if patch.RoutePattern != nil {
			ot.RoutePattern = *patch.RoutePattern
		}
		if patch.IDField != nil {
			ot.IDField = *patch.IDField
		}
		if patch.ProxyFunCode != nil {
			ot.ProxyFunCode = *patch.ProxyFunCode
		}
		if patch.DecodeFunCode != nil {
			ot.DecodeFunCode = *patch.DecodeFunCode
		}
		if err := r.normalize(&ot); err != nil {
			return err
		}
		if j := indexByRoute(app.ObjectTypes, ot.RoutePattern); j >= 0 && j != i {
			return core.Errorf(core.EConflict, "objtype.UpdateType", "route pattern %s is already used by %s", ot.RoutePattern, app.ObjectTypes[j].Name)
		}
		app.ObjectTypes[i] = ot
		updated = ot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteType removes the object type and purges all its instances. The purge
// runs under the tenant lock, so a type of the same name added afterwards
// never loses instances to it.
func (r *Registry) DeleteType(ctx context.Context, tenantID int64, name string) error {
	rlog := logger.FromContext(ctx)
	var purged []store.Document
	_, err := r.tenants.Mutate(ctx, tenantID, func(app *tenant.Application) error {
		i := indexByName(app.ObjectTypes, name)
		if i < 0 {
			return core.Errorf(core.ENotFound, "objtype.DeleteType", "no object type %s", name)
		}
		app.ObjectTypes = append(app.ObjectTypes[:i], app.ObjectTypes[i+1:]...)
		var err error
		purged, err = r.tenants.Documents().Delete(ctx, tenant.CollectionName(tenantID), store.Query{ObjectType: name})
		if err != nil {
			rlog.WithError(err).Errorf("cannot purge instances of object type %s of application %d", name, tenantID)
			return core.Internal("objtype.DeleteType", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	rlog.Infof("deleted object type %s of application %d with %d instances", name, tenantID, len(purged))
	return nil
}
