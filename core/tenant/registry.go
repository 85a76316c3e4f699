// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/registry"
	"github.com/relabs-tech/dummyapi/core/store"
)

// Kinds of side records a tenant owns in the key/value registry
const (
	KindStaticRoute   = "static_route"
	KindEventCallback = "event_callback"
)

// Builder is a builder helper for the tenant registry. Nil fields are
// replaced with in-memory implementations.
type Builder struct {
	Applications Repository
	Users        UserRepository
	Documents    store.DocumentStore
	// SideRecords holds static routes and event callbacks
	SideRecords *registry.Registry
	TokenCache  TokenCache
	// PasswordCost is the bcrypt cost of user passwords, defaults to bcrypt.DefaultCost
	PasswordCost int
}

// Registry is the tenant registry
type Registry struct {
	apps         Repository
	users        UserRepository
	docs         store.DocumentStore
	side         registry.Registry
	cache        TokenCache
	locks        *Locks
	passwordCost int

	// tokenMutex orders token resolution against token rotation
	tokenMutex sync.RWMutex
}

// New creates a new tenant registry
func New(b Builder) *Registry {
	r := &Registry{
		apps:         b.Applications,
		users:        b.Users,
		docs:         b.Documents,
		cache:        b.TokenCache,
		locks:        NewLocks(),
		passwordCost: b.PasswordCost,
	}
	if r.apps == nil {
		r.apps = NewMemoryRepository()
	}
	if r.users == nil {
		r.users = NewMemoryUserRepository()
	}
	if r.docs == nil {
		r.docs = store.NewMemory()
	}
	if b.SideRecords != nil {
		r.side = *b.SideRecords
	} else {
		r.side = registry.NewInMemory()
	}
	if r.cache == nil {
		r.cache = NewMemoryTokenCache(0)
	}
	return r
}

// Documents returns the document store which holds the resource collections
func (r *Registry) Documents() store.DocumentStore {
	return r.docs
}

// CreateApplication creates a new application with a fresh access token and no object types
func (r *Registry) CreateApplication(ctx context.Context, name string) (*Application, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.Errorf(core.EInvalid, "tenant.CreateApplication", "application name must not be empty")
	}
	token, err := NewAccessToken()
	if err != nil {
		return nil, core.Internal("tenant.CreateApplication", err)
	}
	app := &Application{Name: name, AccessToken: token, ObjectTypes: []ObjectType{}}
	if err = r.apps.Insert(ctx, app); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infof("created application %d %q", app.ID, app.Name)
	return app, nil
}

// ResolveTenant resolves an access token to the id of its tenant. Unknown
// tokens yield core.EUnauthorized.
func (r *Registry) ResolveTenant(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, core.Errorf(core.EUnauthorized, "tenant.ResolveTenant", "missing access token")
	}
	r.tokenMutex.RLock()
	defer r.tokenMutex.RUnlock()
	if tenantID, ok := r.cache.Get(ctx, token); ok {
		return tenantID, nil
	}
	app, err := r.apps.GetByToken(ctx, token)
	if core.IsNotFound(err) {
		return 0, core.Errorf(core.EUnauthorized, "tenant.ResolveTenant", "invalid access token")
	}
	if err != nil {
		return 0, err
	}
	if !r.cache.Add(ctx, token, app.ID) {
		return app.ID, nil
	}
	// the repository may have rotated the token between the lookup and the
	// addition, possibly from another process sharing the cache
	current, err := r.apps.Get(ctx, app.ID)
	if err != nil || current.AccessToken != token {
		r.cache.Forget(ctx, token)
		if err != nil && !core.IsNotFound(err) {
			return 0, err
		}
		return 0, core.Errorf(core.EUnauthorized, "tenant.ResolveTenant", "invalid access token")
	}
	return app.ID, nil
}

// lock acquires the lock of tenantID on behalf of op
func (r *Registry) lock(ctx context.Context, op string, tenantID int64) (func(), error) {
	unlock, err := r.locks.Lock(ctx, tenantID)
	if err != nil {
		return nil, core.Internal(op, err)
	}
	return unlock, nil
}

// RotateToken gives the application a new access token. The old token stops
// resolving in the same step in which the new one starts to resolve.
func (r *Registry) RotateToken(ctx context.Context, tenantID int64) (string, error) {
	unlock, err := r.lock(ctx, "tenant.RotateToken", tenantID)
	if err != nil {
		return "", err
	}
	defer unlock()

	app, err := r.apps.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	token, err := NewAccessToken()
	if err != nil {
		return "", core.Internal("tenant.RotateToken", err)
	}
	oldToken := app.AccessToken
	app.AccessToken = token

	r.tokenMutex.Lock()
	defer r.tokenMutex.Unlock()
	if err = r.apps.Update(ctx, app); err != nil {
		return "", err
	}
	r.cache.Swap(ctx, oldToken, token, tenantID)
	// another process may have rotated concurrently and swapped first
	if current, err := r.apps.Get(ctx, tenantID); err != nil || current.AccessToken != token {
		r.cache.Forget(ctx, token)
	}
	logger.FromContext(ctx).Infof("rotated access token of application %d", tenantID)
	return token, nil
}

// GetApplication returns the application with the given id
func (r *Registry) GetApplication(ctx context.Context, tenantID int64) (*Application, error) {
	return r.apps.Get(ctx, tenantID)
}

// ListApplications returns all applications ordered by id
func (r *Registry) ListApplications(ctx context.Context) ([]*Application, error) {
	return r.apps.List(ctx)
}

// Mutate runs fn on the application under the tenant lock and stores the
// result. Id and access token cannot be changed through Mutate.
func (r *Registry) Mutate(ctx context.Context, tenantID int64, fn func(app *Application) error) (*Application, error) {
	unlock, err := r.lock(ctx, "tenant.Mutate", tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := r.apps.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	id, token := app.ID, app.AccessToken
	if err = fn(app); err != nil {
		return nil, err
	}
	app.ID, app.AccessToken = id, token
	if err = r.apps.Update(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ApplicationPatch is a partial update of an application. Nil fields are left untouched.
type ApplicationPatch struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	NotifyProxyCode *string `json:"notify_proxy_code"`
}

// SaveApplication applies patch to the application
func (r *Registry) SaveApplication(ctx context.Context, tenantID int64, patch ApplicationPatch) (*Application, error) {
	return r.Mutate(ctx, tenantID, func(app *Application) error {
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return core.Errorf(core.EInvalid, "tenant.SaveApplication", "application name must not be empty")
			}
			app.Name = name
		}
		if patch.Description != nil {
			app.Description = *patch.Description
		}
		if patch.NotifyProxyCode != nil {
			app.NotifyProxyCode = *patch.NotifyProxyCode
		}
		return nil
	})
}

// DeleteApplication deletes the application with everything it owns: users,
// user groups, side records and the resource collection. Every step is attempted
// even if a previous one failed. The application record itself is deleted
// last, so a failed cascade can be retried.
func (r *Registry) DeleteApplication(ctx context.Context, tenantID int64) error {
	unlock, err := r.lock(ctx, "tenant.DeleteApplication", tenantID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err = r.apps.Get(ctx, tenantID); err != nil {
		return err
	}
	rlog := logger.FromContext(ctx)

	err = multierr.Append(err, r.users.DeleteUsers(ctx, tenantID))
	err = multierr.Append(err, r.users.DeleteGroups(ctx, tenantID))
	err = multierr.Append(err, r.SideRecords(tenantID, KindStaticRoute).Clear())
	err = multierr.Append(err, r.SideRecords(tenantID, KindEventCallback).Clear())
	err = multierr.Append(err, r.docs.DropCollection(ctx, CollectionName(tenantID)))
	if err != nil {
		rlog.WithError(err).Errorf("cascade delete of application %d incomplete", tenantID)
		return core.Internal("tenant.DeleteApplication", err)
	}

	r.tokenMutex.Lock()
	defer r.tokenMutex.Unlock()
	if err = r.apps.Delete(ctx, tenantID); err != nil {
		return err
	}
	r.cache.Evict(ctx, tenantID)
	rlog.Infof("deleted application %d", tenantID)
	return nil
}

// Migrate brings a stored application up to date: object types without
// route pattern or identity field get the defaults, an application without
// access token gets a new one.
func (r *Registry) Migrate(ctx context.Context, tenantID int64) (*Application, error) {
	unlock, err := r.lock(ctx, "tenant.Migrate", tenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := r.apps.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range app.ObjectTypes {
		ot := &app.ObjectTypes[i]
		if ot.RoutePattern == "" {
			ot.RoutePattern = DefaultRoutePattern(ot.Name)
		}
		if ot.IDField == "" {
			ot.IDField = store.NativeIDField
		}
	}
	if app.AccessToken == "" {
		if app.AccessToken, err = NewAccessToken(); err != nil {
			return nil, core.Internal("tenant.Migrate", err)
		}
	}
	r.tokenMutex.Lock()
	defer r.tokenMutex.Unlock()
	if err = r.apps.Update(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

// SideRecords returns the registry accessor for the tenant's side records of the given kind
func (r *Registry) SideRecords(tenantID int64, kind string) registry.Accessor {
	return r.side.Accessor("app:" + strconv.FormatInt(tenantID, 10) + ":" + kind)
}
