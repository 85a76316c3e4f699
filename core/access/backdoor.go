// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core/logger"
)

// AdminMiddlewareBuilder is a helper builder for the admin middleware
type AdminMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an actual authorization
	Backdoors map[string]Authorization
}

// NewAdminMiddleware returns a middleware handler for admin tokens
//
// The key for the backdoors map is the bearer token passed with the request.
//
// Example: if you specify the backdoor
//
//	"please": Authorization{Roles:[]string{"admin"}}
//
// then any request with an authorization bearer token consisting of the single
// magic word "please" will be authorized with the admin role.
//
// With curl, use -H 'Authorization: Bearer please'
func NewAdminMiddleware(amb *AdminMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()).HasRole(RoleAdmin) { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := BearerToken(r)
			var auth *Authorization
			for token, tryAuth := range amb.Backdoors {
				if subtle.ConstantTimeCompare([]byte(token), []byte(tokenString)) == 1 {
					tryAuth := tryAuth
					auth = &tryAuth
					break
				}
			}
			if auth == nil {
				logger.FromContext(r.Context()).Infoln("rejected management request without valid admin token")
				http.Error(w, "not authorized", http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r.WithContext(ContextWithAuthorization(r.Context(), auth)))
		})
	}
}

// AdminBackdoors returns the backdoor map which authorizes each token with the admin role
func AdminBackdoors(tokens ...string) map[string]Authorization {
	backdoors := map[string]Authorization{}
	for _, token := range tokens {
		if token != "" {
			backdoors[token] = Authorization{Roles: []string{RoleAdmin}}
		}
	}
	return backdoors
}
