// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"mime"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/access"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/store"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

// fields of a linked resource which are never handed out with a login
var internalFields = []string{store.NativeIDField, store.TypeTagField, "app_id"}

func (b *Backend) handleAuthentication(router *mux.Router) {
	logger.Default().Debugln("authentication")

	debugRoute(APIPrefix+"/simple_token_auth", http.MethodPost)
	router.HandleFunc("/simple_token_auth", func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType != "application/json" {
			http.Error(w, "Not a JSON", http.StatusBadRequest)
			return
		}
		body, err := readBody(r)
		if err != nil {
			writeError(w, r, "4301", err)
			return
		}
		var credentials map[string]interface{}
		if err = json.Unmarshal(body, &credentials); err != nil {
			http.Error(w, "Not a JSON", http.StatusBadRequest)
			return
		}
		b.authenticate(w, r, credentials["user_name"], credentials["password"])
	}).Methods(http.MethodOptions, http.MethodPost)

	debugRoute(APIPrefix+"/ugly_get_auth", http.MethodGet)
	router.HandleFunc("/ugly_get_auth", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		var userName, password interface{}
		if query.Has("username") {
			userName = query.Get("username")
		}
		if query.Has("password") {
			password = query.Get("password")
		}
		b.authenticate(w, r, userName, password)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// authenticate checks the user's credentials and answers with the user's
// access token, a session token and the user's linked resource
func (b *Backend) authenticate(w http.ResponseWriter, r *http.Request, userName, password interface{}) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)
	tenantID, _ := access.TenantFromContext(ctx)

	name, ok1 := userName.(string)
	pw, ok2 := password.(string)
	if !ok1 || !ok2 {
		http.Error(w, "Invalid credentials", http.StatusBadRequest)
		return
	}

	user, err := b.tenants.Authenticate(ctx, tenantID, name, pw)
	if err != nil {
		if core.ErrorCode(err) == core.EUnauthorized {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		writeError(w, r, "4302", err)
		return
	}

	linked, err := b.linkedResource(ctx, r, user)
	if err != nil {
		writeError(w, r, "4303", err)
		return
	}
	sessionToken, err := b.sessions.Issue(user)
	if err != nil {
		writeError(w, r, "4304", core.Internal("backend.authenticate", err))
		return
	}

	response := map[string]interface{}{
		"user_id":      user.ID,
		"access_token": user.AccessToken,
		"user_name":    user.UserName,
	}
	for key, value := range linked {
		response[key] = value
	}
	response["session_token"] = sessionToken
	rlog.Infof("user %s authenticated", user.UserName)
	writeJSON(w, http.StatusOK, response)
}

// linkedResource returns the resource instance linked to user. The query
// parameters "resource" and "resource_id" override the user's link when both
// are given. A missing link, type or instance yields an empty resource.
func (b *Backend) linkedResource(ctx context.Context, r *http.Request, user *tenant.User) (store.Document, error) {
	typeName, id := user.Resource, user.ResourceID
	query := r.URL.Query()
	if query.Get("resource") != "" && query.Get("resource_id") != "" {
		typeName, id = query.Get("resource"), query.Get("resource_id")
	}
	if typeName == "" || id == "" {
		return store.Document{}, nil
	}

	ot, err := b.types.ResolveByName(ctx, user.AppID, typeName)
	if core.IsNotFound(err) {
		logger.FromContext(ctx).Warnf("linked object type %s of user %s does not exist", typeName, user.UserName)
		return store.Document{}, nil
	}
	if err != nil {
		return nil, err
	}
	identity := store.NewIdentity(ot.IDField, id)
	docs, err := b.engine.Get(ctx, user.AppID, ot.Name, &identity)
	if core.IsNotFound(err) {
		return store.Document{}, nil
	}
	if err != nil {
		return nil, err
	}
	linked := docs[0]
	for _, field := range internalFields {
		delete(linked, field)
	}
	return linked, nil
}
