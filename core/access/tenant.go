// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
)

// TenantResolver resolves application access tokens to tenants
type TenantResolver interface {
	ResolveTenant(ctx context.Context, token string) (int64, error)
}

// AccessToken returns the application access token of a request, taken from
// the "access_token" query parameter or the "Access-Token" header
func AccessToken(r *http.Request) string {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	return r.Header.Get("Access-Token")
}

// NewTenantMiddleware returns a middleware which resolves the tenant of every
// request from its access token. Requests without a valid token are rejected
// with http.StatusUnauthorized. The tenant id is added to the request context
// and to the request logger.
func NewTenantMiddleware(resolver TenantResolver) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantID, err := resolver.ResolveTenant(ctx, AccessToken(r))
			if err != nil {
				status := core.HTTPStatus(err)
				if status == http.StatusInternalServerError {
					logger.FromContext(ctx).WithError(err).Errorln("Error 4101: cannot resolve tenant")
					http.Error(w, "Error 4101", status)
					return
				}
				http.Error(w, "invalid access token", http.StatusUnauthorized)
				return
			}
			ctx = ContextWithTenant(ctx, tenantID)
			ctx, _ = logger.ContextWithLoggerTenant(ctx, tenantID)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
