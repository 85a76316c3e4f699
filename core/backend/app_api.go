// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/access"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/route"
)

// resourceLink is one entry of the discovery document
type resourceLink struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// collectionURL returns the url of the collection addressed by a canonical
// route pattern, e.g. /api/1/Teams/{id}/Members/ for /Teams/{id}/Members/{id}/
func collectionURL(pattern string) string {
	return APIPrefix + strings.TrimSuffix(pattern, "{id}/")
}

func (b *Backend) handleApplicationAPI(router *mux.Router) {
	logger.Default().Debugln("application api")
	api := router.PathPrefix(APIPrefix).Subrouter()
	api.Use(access.NewTenantMiddleware(b.tenants), b.sessions.Middleware())

	debugRoute(APIPrefix+"/", http.MethodGet)
	api.HandleFunc("/", b.discovery).Methods(http.MethodOptions, http.MethodGet)

	debugRoute(APIPrefix+"/ws", http.MethodGet)
	api.Handle("/ws", b.bus.Handler(b.tenants)).Methods(http.MethodOptions, http.MethodGet)

	access.HandleAuthorizationRoute(api)
	b.handleAuthentication(api)

	debugRoute(APIPrefix+"/{route...}", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
	api.PathPrefix("/").HandlerFunc(b.resource).Methods(
		http.MethodOptions, http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete)
}

func (b *Backend) discovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, _ := access.TenantFromContext(ctx)
	app, err := b.tenants.GetApplication(ctx, tenantID)
	if err != nil {
		writeError(w, r, "4201", err)
		return
	}
	resources := []resourceLink{}
	def := map[string]interface{}{
		"app_id":   app.ID,
		"app_name": app.Name,
	}
	for _, ot := range app.ObjectTypes {
		url := collectionURL(ot.RoutePattern)
		resources = append(resources, resourceLink{Ref: ot.Name, URL: url})
		def["create_"+ot.Name] = map[string]string{"rel": "create", "url": url}
	}
	def["resources"] = resources
	writeJSON(w, http.StatusOK, def)
}

// resource serves all object instance requests of the application API.
// Static routes take precedence over object types for GET requests.
func (b *Backend) resource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)
	rlog.Infoln("called route for", r.URL, r.Method)
	tenantID, _ := access.TenantFromContext(ctx)
	path := strings.TrimPrefix(r.URL.Path, APIPrefix)

	if r.Method == http.MethodGet {
		static, err := b.tenants.FindStaticRoute(ctx, tenantID, path)
		if err == nil {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(static.Status)
			w.Write(static.Response)
			return
		}
		if !core.IsNotFound(err) {
			writeError(w, r, "4202", err)
			return
		}
	}

	rt := route.Resolve(path)
	ot, err := b.types.ResolveByRoute(ctx, tenantID, rt.Pattern)
	if err != nil {
		writeError(w, r, "4203", err)
		return
	}
	id := rt.Identity(ot.IDField)

	switch r.Method {
	case http.MethodGet:
		docs, err := b.engine.Get(ctx, tenantID, ot.Name, id)
		if err != nil {
			writeError(w, r, "4204", err)
			return
		}
		docs = b.engine.Present(ctx, ot, docs...)
		if id != nil {
			writeJSON(w, http.StatusOK, docs[0])
			return
		}
		writeJSON(w, http.StatusOK, docs)

	case http.MethodPost:
		if id != nil {
			http.Error(w, "cannot post to an instance", http.StatusMethodNotAllowed)
			return
		}
		doc, err := readDocument(r)
		if err != nil {
			writeError(w, r, "4205", err)
			return
		}
		created, err := b.engine.Create(ctx, tenantID, ot.Name, doc)
		if err != nil {
			writeError(w, r, "4206", err)
			return
		}
		writeJSON(w, http.StatusCreated, b.engine.Present(ctx, ot, created)[0])

	case http.MethodPut:
		doc, err := readDocument(r)
		if err != nil {
			writeError(w, r, "4207", err)
			return
		}
		updated, err := b.engine.Update(ctx, tenantID, ot.Name, id, doc)
		if err != nil {
			writeError(w, r, "4208", err)
			return
		}
		writeJSON(w, http.StatusOK, b.engine.Present(ctx, ot, updated)[0])

	case http.MethodDelete:
		if err := b.engine.Delete(ctx, tenantID, ot.Name, id); err != nil {
			writeError(w, r, "4209", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
