// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/access"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/objtype"
	"github.com/relabs-tech/dummyapi/core/schema"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
	"github.com/relabs-tech/dummyapi/core/transform"
)

// applicationInput is the payload of a new application
type applicationInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	NotifyProxyCode string `json:"notify_proxy_code"`
}

// userGroupInput is the payload of a new user group
type userGroupInput struct {
	Name string `json:"name"`
}

func appID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["app_id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, core.Errorf(core.ENotFound, "backend.appID", "no application %s", raw)
	}
	return id, nil
}

// handle adds a management route. Collection paths ending with a slash are
// also served without it.
func handle(router *mux.Router, path string, handler http.HandlerFunc, methods ...string) {
	debugRoute(ManagementPrefix+path, methods...)
	methods = append([]string{http.MethodOptions}, methods...)
	h := func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		handler(w, r)
	}
	router.HandleFunc(path, h).Methods(methods...)
	if strings.HasSuffix(path, "/") {
		router.HandleFunc(strings.TrimSuffix(path, "/"), h).Methods(methods...)
	}
}

func (b *Backend) handleManagement(router *mux.Router, adminTokens []string) {
	logger.Default().Debugln("management api")
	m := router.PathPrefix(ManagementPrefix).Subrouter()
	m.Use(access.NewAdminMiddleware(&access.AdminMiddlewareBuilder{
		Backdoors: access.AdminBackdoors(adminTokens...),
	}))

	const app = "/{app_id:[0-9]+}"

	handle(m, "/", b.listApplications, http.MethodGet)
	handle(m, "/", b.createApplication, http.MethodPost)
	handle(m, app, b.getApplication, http.MethodGet)
	handle(m, app, b.updateApplication, http.MethodPut)
	handle(m, app, b.deleteApplication, http.MethodDelete)
	handle(m, app+"/new_access_token", b.renewAccessToken, http.MethodPost)
	handle(m, app+"/statistics", b.statistics, http.MethodGet)

	handle(m, app+"/object_type/", b.listObjectTypes, http.MethodGet)
	handle(m, app+"/object_type/", b.createObjectType, http.MethodPost)
	handle(m, app+"/object_type/{name}", b.getObjectType, http.MethodGet)
	handle(m, app+"/object_type/{name}", b.updateObjectType, http.MethodPut)
	handle(m, app+"/object_type/{name}", b.deleteObjectType, http.MethodDelete)

	handle(m, app+"/user/", b.listUsers, http.MethodGet)
	handle(m, app+"/user/", b.createUser, http.MethodPost)
	handle(m, app+"/user/{id}", b.getUser, http.MethodGet)
	handle(m, app+"/user/{id}", b.updateUser, http.MethodPut)
	handle(m, app+"/user/{id}", b.deleteUser, http.MethodDelete)
	handle(m, app+"/user/{id}/new_access_token", b.renewUserToken, http.MethodPost)

	handle(m, app+"/user_group/", b.listUserGroups, http.MethodGet)
	handle(m, app+"/user_group/", b.createUserGroup, http.MethodPost)
	handle(m, app+"/user_group/{id}", b.getUserGroup, http.MethodGet)
	handle(m, app+"/user_group/{id}", b.deleteUserGroup, http.MethodDelete)

	handle(m, app+"/static_route/", b.listStaticRoutes, http.MethodGet)
	handle(m, app+"/static_route/", b.putStaticRoute, http.MethodPut)
	handle(m, app+"/static_route/{route:.+}", b.deleteStaticRoute, http.MethodDelete)

	handle(m, app+"/event_callback/", b.listEventCallbacks, http.MethodGet)
	handle(m, app+"/event_callback/", b.addEventCallback, http.MethodPost)
	handle(m, app+"/event_callback/{id}", b.deleteEventCallback, http.MethodDelete)

	handle(m, app+"/object/{type}/", b.listObjects, http.MethodGet)
	handle(m, app+"/object/{type}/", b.createObject, http.MethodPost)
	handle(m, app+"/object/{type}/{id}", b.getObject, http.MethodGet)
	handle(m, app+"/object/{type}/{id}", b.updateObject, http.MethodPut)
	handle(m, app+"/object/{type}/{id}", b.deleteObject, http.MethodDelete)
}

// applications

func (b *Backend) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := b.tenants.ListApplications(r.Context())
	if err != nil {
		writeError(w, r, "4401", err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (b *Backend) createApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var input applicationInput
	if err := b.readValidated(r, schema.ApplicationID, &input); err != nil {
		writeError(w, r, "4402", err)
		return
	}
	if err := b.pipeline.Compile(transform.KindNotify, input.NotifyProxyCode); err != nil {
		writeError(w, r, "4403", err)
		return
	}
	app, err := b.tenants.CreateApplication(ctx, input.Name)
	if err != nil {
		writeError(w, r, "4404", err)
		return
	}
	if input.Description != "" || input.NotifyProxyCode != "" {
		app, err = b.tenants.SaveApplication(ctx, app.ID, tenant.ApplicationPatch{
			Description:     &input.Description,
			NotifyProxyCode: &input.NotifyProxyCode,
		})
		if err != nil {
			writeError(w, r, "4405", err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, app)
}

func (b *Backend) getApplication(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var app *tenant.Application
		if app, err = b.tenants.GetApplication(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, app)
			return
		}
	}
	writeError(w, r, "4406", err)
}

func (b *Backend) updateApplication(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4407", err)
		return
	}
	var patch tenant.ApplicationPatch
	if err = b.readValidated(r, schema.ApplicationPatchID, &patch); err != nil {
		writeError(w, r, "4407", err)
		return
	}
	if patch.NotifyProxyCode != nil {
		if err = b.pipeline.Compile(transform.KindNotify, *patch.NotifyProxyCode); err != nil {
			writeError(w, r, "4407", err)
			return
		}
	}
	app, err := b.tenants.SaveApplication(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, "4408", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (b *Backend) deleteApplication(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		err = b.tenants.DeleteApplication(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, "4409", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) renewAccessToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := appID(r)
	if err == nil {
		_, err = b.tenants.RotateToken(ctx, id)
	}
	if err != nil {
		writeError(w, r, "4410", err)
		return
	}
	app, err := b.tenants.GetApplication(ctx, id)
	if err != nil {
		writeError(w, r, "4411", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// object types

func (b *Backend) listObjectTypes(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var types []tenant.ObjectType
		if types, err = b.types.ListTypes(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, types)
			return
		}
	}
	writeError(w, r, "4420", err)
}

func (b *Backend) createObjectType(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4421", err)
		return
	}
	var ot tenant.ObjectType
	if err = b.readValidated(r, schema.ObjectTypeID, &ot); err != nil {
		writeError(w, r, "4421", err)
		return
	}
	added, err := b.types.AddType(r.Context(), id, ot)
	if err != nil {
		writeError(w, r, "4422", err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (b *Backend) getObjectType(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var ot *tenant.ObjectType
		if ot, err = b.types.ResolveByName(r.Context(), id, mux.Vars(r)["name"]); err == nil {
			writeJSON(w, http.StatusOK, ot)
			return
		}
	}
	writeError(w, r, "4423", err)
}

func (b *Backend) updateObjectType(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4424", err)
		return
	}
	var patch objtype.Patch
	if err = b.readValidated(r, schema.ObjectTypePatchID, &patch); err != nil {
		writeError(w, r, "4424", err)
		return
	}
	ot, err := b.types.UpdateType(r.Context(), id, mux.Vars(r)["name"], patch)
	if err != nil {
		writeError(w, r, "4425", err)
		return
	}
	writeJSON(w, http.StatusOK, ot)
}

func (b *Backend) deleteObjectType(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		err = b.types.DeleteType(r.Context(), id, mux.Vars(r)["name"])
	}
	if err != nil {
		writeError(w, r, "4426", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// users and user groups

func (b *Backend) listUsers(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var users []*tenant.User
		if users, err = b.tenants.ListUsers(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, users)
			return
		}
	}
	writeError(w, r, "4430", err)
}

func (b *Backend) createUser(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4431", err)
		return
	}
	var input tenant.UserInput
	if err = b.readValidated(r, schema.UserID, &input); err != nil {
		writeError(w, r, "4431", err)
		return
	}
	user, err := b.tenants.CreateUser(r.Context(), id, input)
	if err != nil {
		writeError(w, r, "4432", err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (b *Backend) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var user *tenant.User
		if user, err = b.tenants.GetUser(r.Context(), id, mux.Vars(r)["id"]); err == nil {
			writeJSON(w, http.StatusOK, user)
			return
		}
	}
	writeError(w, r, "4433", err)
}

func (b *Backend) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4434", err)
		return
	}
	var patch tenant.UserPatch
	if err = b.readValidated(r, schema.UserPatchID, &patch); err != nil {
		writeError(w, r, "4434", err)
		return
	}
	user, err := b.tenants.UpdateUser(r.Context(), id, mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, r, "4435", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (b *Backend) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		err = b.tenants.DeleteUser(r.Context(), id, mux.Vars(r)["id"])
	}
	if err != nil {
		writeError(w, r, "4436", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) renewUserToken(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var user *tenant.User
		if user, err = b.tenants.RenewUserToken(r.Context(), id, mux.Vars(r)["id"]); err == nil {
			writeJSON(w, http.StatusOK, user)
			return
		}
	}
	writeError(w, r, "4437", err)
}

func (b *Backend) listUserGroups(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var groups []*tenant.UserGroup
		if groups, err = b.tenants.ListGroups(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, groups)
			return
		}
	}
	writeError(w, r, "4440", err)
}

func (b *Backend) createUserGroup(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4441", err)
		return
	}
	var input userGroupInput
	if err = b.readValidated(r, schema.UserGroupID, &input); err != nil {
		writeError(w, r, "4441", err)
		return
	}
	group, err := b.tenants.CreateGroup(r.Context(), id, input.Name)
	if err != nil {
		writeError(w, r, "4442", err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (b *Backend) getUserGroup(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var group *tenant.UserGroup
		if group, err = b.tenants.GetGroup(r.Context(), id, mux.Vars(r)["id"]); err == nil {
			writeJSON(w, http.StatusOK, group)
			return
		}
	}
	writeError(w, r, "4443", err)
}

func (b *Backend) deleteUserGroup(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		err = b.tenants.DeleteGroup(r.Context(), id, mux.Vars(r)["id"])
	}
	if err != nil {
		writeError(w, r, "4444", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// static routes and event callbacks

func (b *Backend) listStaticRoutes(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var routes []tenant.StaticRoute
		if routes, err = b.tenants.StaticRoutes(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, routes)
			return
		}
	}
	writeError(w, r, "4450", err)
}

func (b *Backend) putStaticRoute(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4451", err)
		return
	}
	var route tenant.StaticRoute
	if err = b.readValidated(r, schema.StaticRouteID, &route); err != nil {
		writeError(w, r, "4451", err)
		return
	}
	stored, err := b.tenants.PutStaticRoute(r.Context(), id, route)
	if err != nil {
		writeError(w, r, "4452", err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (b *Backend) deleteStaticRoute(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		err = b.tenants.DeleteStaticRoute(r.Context(), id, mux.Vars(r)["route"])
	}
	if err != nil {
		writeError(w, r, "4453", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) listEventCallbacks(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		var callbacks []tenant.EventCallback
		if callbacks, err = b.tenants.EventCallbacks(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, callbacks)
			return
		}
	}
	writeError(w, r, "4460", err)
}

func (b *Backend) addEventCallback(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4461", err)
		return
	}
	var callback tenant.EventCallback
	if err = b.readValidated(r, schema.EventCallbackID, &callback); err != nil {
		writeError(w, r, "4461", err)
		return
	}
	added, err := b.tenants.AddEventCallback(r.Context(), id, callback)
	if err != nil {
		writeError(w, r, "4462", err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (b *Backend) deleteEventCallback(w http.ResponseWriter, r *http.Request) {
	id, err := appID(r)
	if err == nil {
		err = b.tenants.DeleteEventCallback(r.Context(), id, mux.Vars(r)["id"])
	}
	if err != nil {
		writeError(w, r, "4463", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// object instances. The management API sees the stored documents, no
// response transformation is applied.

// objectIdentity returns the tenant, the object type and, if the path has
// one, the instance identity of an object request
func (b *Backend) objectIdentity(r *http.Request) (int64, *tenant.ObjectType, *store.Identity, error) {
	id, err := appID(r)
	if err != nil {
		return 0, nil, nil, err
	}
	vars := mux.Vars(r)
	ot, err := b.types.ResolveByName(r.Context(), id, vars["type"])
	if err != nil {
		return 0, nil, nil, err
	}
	raw, ok := vars["id"]
	if !ok {
		return id, ot, nil, nil
	}
	identity := store.NewIdentity(ot.IDField, raw)
	return id, ot, &identity, nil
}

func (b *Backend) listObjects(w http.ResponseWriter, r *http.Request) {
	tenantID, ot, _, err := b.objectIdentity(r)
	if err == nil {
		var docs []store.Document
		if docs, err = b.engine.Get(r.Context(), tenantID, ot.Name, nil); err == nil {
			writeJSON(w, http.StatusOK, docs)
			return
		}
	}
	writeError(w, r, "4470", err)
}

func (b *Backend) createObject(w http.ResponseWriter, r *http.Request) {
	tenantID, ot, _, err := b.objectIdentity(r)
	if err != nil {
		writeError(w, r, "4471", err)
		return
	}
	doc, err := readDocument(r)
	if err != nil {
		writeError(w, r, "4471", err)
		return
	}
	created, err := b.engine.Create(r.Context(), tenantID, ot.Name, doc)
	if err != nil {
		writeError(w, r, "4472", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (b *Backend) getObject(w http.ResponseWriter, r *http.Request) {
	tenantID, ot, identity, err := b.objectIdentity(r)
	if err == nil {
		var docs []store.Document
		if docs, err = b.engine.Get(r.Context(), tenantID, ot.Name, identity); err == nil {
			writeJSON(w, http.StatusOK, docs[0])
			return
		}
	}
	writeError(w, r, "4473", err)
}

func (b *Backend) updateObject(w http.ResponseWriter, r *http.Request) {
	tenantID, ot, identity, err := b.objectIdentity(r)
	if err != nil {
		writeError(w, r, "4474", err)
		return
	}
	doc, err := readDocument(r)
	if err != nil {
		writeError(w, r, "4474", err)
		return
	}
	updated, err := b.engine.Update(r.Context(), tenantID, ot.Name, identity, doc)
	if err != nil {
		writeError(w, r, "4475", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (b *Backend) deleteObject(w http.ResponseWriter, r *http.Request) {
	tenantID, ot, identity, err := b.objectIdentity(r)
	if err == nil {
		err = b.engine.Delete(r.Context(), tenantID, ot.Name, identity)
	}
	if err != nil {
		writeError(w, r, "4476", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
