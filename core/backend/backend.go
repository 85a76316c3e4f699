// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core/access"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/notify"
	"github.com/relabs-tech/dummyapi/core/objtype"
	"github.com/relabs-tech/dummyapi/core/resource"
	"github.com/relabs-tech/dummyapi/core/schema"
	"github.com/relabs-tech/dummyapi/core/tenant"
	"github.com/relabs-tech/dummyapi/core/transform"
)

// APIPrefix is the path prefix of the application API
const APIPrefix = "/api/1"

// ManagementPrefix is the path prefix of the management API
const ManagementPrefix = APIPrefix + "/app"

// Backend is the dynamic resource backend. It serves the application API of
// all tenants and the management API.
type Backend struct {
	router    *mux.Router
	tenants   *tenant.Registry
	types     *objtype.Registry
	engine    *resource.Engine
	pipeline  *transform.Pipeline
	bus       *notify.Bus
	sessions  *access.SessionIssuer
	validator *schema.Validator
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Tenants is the tenant registry. This is mandatory.
	Tenants *tenant.Registry
	// Pipeline evaluates the tenants' transform code. Defaults to a pipeline
	// with transform.DefaultTimeout.
	Pipeline *transform.Pipeline
	// Bus is the notification bus. Defaults to a new bus over Tenants.
	Bus *notify.Bus
	// Sessions issues and verifies user session tokens. Defaults to an issuer with
	// a random secret and access.DefaultSessionTTL.
	Sessions *access.SessionIssuer
	// AdminTokens are bearer tokens which grant access to the management API
	AdminTokens []string
}

// New realizes the actual backend and adds all routes to the router.
//
// The management API is registered before the application API, so the
// reserved "app" segment never reaches object type resolution.
func New(bb *Builder) *Backend {
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Tenants == nil {
		panic("Tenants is missing")
	}

	validator, err := schema.NewManagementValidator()
	if err != nil {
		panic(err)
	}

	b := &Backend{
		router:    bb.Router,
		tenants:   bb.Tenants,
		pipeline:  bb.Pipeline,
		bus:       bb.Bus,
		sessions:  bb.Sessions,
		validator: validator,
	}
	if b.pipeline == nil {
		b.pipeline = transform.New(transform.DefaultTimeout)
	}
	if b.bus == nil {
		b.bus = notify.NewBus(b.tenants, b.pipeline)
	}
	if b.sessions == nil {
		b.sessions = access.NewSessionIssuer("", access.DefaultSessionTTL)
	}
	b.types = objtype.New(b.tenants, b.pipeline)
	b.engine = resource.New(resource.Builder{
		Types:     b.types,
		Documents: b.tenants.Documents(),
		Pipeline:  b.pipeline,
		Notifier:  b.bus,
	})

	b.handleCORS()
	b.handleCompression()
	b.handleVersion(b.router)
	b.handleManagement(b.router, bb.AdminTokens)
	b.handleApplicationAPI(b.router)
	return b
}

// Router returns the mux router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Tenants returns the tenant registry
func (b *Backend) Tenants() *tenant.Registry {
	return b.tenants
}

// Types returns the object type registry
func (b *Backend) Types() *objtype.Registry {
	return b.types
}

// Engine returns the resource engine
func (b *Backend) Engine() *resource.Engine {
	return b.engine
}

// Bus returns the notification bus
func (b *Backend) Bus() *notify.Bus {
	return b.bus
}

// ServeHTTP serves requests through the backend's router
func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

func debugRoute(path string, methods ...string) {
	logger.Default().Debugln("  handle route:", path, methods)
}
