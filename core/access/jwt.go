// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/tenant"
)

// DefaultSessionTTL is the lifetime of session tokens if not configured otherwise
const DefaultSessionTTL = 24 * time.Hour

// SessionClaims are the claims of a session token
type SessionClaims struct {
	TenantID int64    `json:"app_id"`
	UserName string   `json:"user_name"`
	Groups   []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// SessionIssuer issues and verifies HS256 signed session tokens for users of a tenant
type SessionIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	cache  *AuthorizationCache
}

// NewSessionIssuer returns a new session issuer. Without secret, a random
// secret is generated, which invalidates all session tokens on restart.
func NewSessionIssuer(secret string, ttl time.Duration) *SessionIssuer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionIssuer{secret: key, ttl: ttl, issuer: "dummyapi", cache: NewAuthorizationCache()}
}

// Issue returns a new session token for user
func (s *SessionIssuer) Issue(user *tenant.User) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		TenantID: user.AppID,
		UserName: user.UserName,
		Groups:   user.Groups,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{strconv.FormatInt(user.AppID, 10)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify parses and verifies a session token and returns the authorization it carries
func (s *SessionIssuer) Verify(tokenString string) (*Authorization, error) {
	if auth := s.cache.Read(tokenString); auth != nil {
		return auth, nil
	}
	claims := SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Issuer != s.issuer {
		return nil, errors.New("invalid session token")
	}
	auth := &Authorization{
		TenantID: claims.TenantID,
		UserID:   claims.Subject,
		UserName: claims.UserName,
		Roles:    claims.Groups,
	}
	if auth.Roles == nil {
		auth.Roles = []string{}
	}
	// expired tokens must not be served from the cache forever
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Minute {
		s.cache.Write(tokenString, auth)
	}
	return auth, nil
}

// BearerToken returns the bearer token of the request, or an empty string
func BearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	return ""
}

// Middleware returns a middleware handler to validate session bearer tokens.
// It must run after the tenant middleware.
//
// Requests without bearer token pass unchanged. Requests with an invalid token,
// or with a token of a different tenant, are rejected with http.StatusUnauthorized.
func (s *SessionIssuer) Middleware() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if AuthorizationFromContext(ctx) != nil { // already authorized
				h.ServeHTTP(w, r)
				return
			}
			tokenString := BearerToken(r)
			if tokenString == "" {
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(ctx)
			auth, err := s.Verify(tokenString)
			if err != nil {
				rlog.WithError(err).Debugln("session token rejected")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if tenantID, ok := TenantFromContext(ctx); !ok || tenantID != auth.TenantID {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r.WithContext(ContextWithAuthorization(ctx, auth)))
		})
	}
}
