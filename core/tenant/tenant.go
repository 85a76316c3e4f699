// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package tenant implements the tenant registry.

A tenant is an application. Every application has a unique numeric id, a
unique name and a unique, rotatable access token. The application record embeds
the ordered list of object types the tenant has declared; these are managed by
package objtype through Registry.Mutate, which serializes all read-modify-write
cycles of one tenant.

Access tokens are resolved to tenant ids through a TokenCache. Rotating a token
swaps the cache entry in the same critical section that makes the new token
resolvable, so there is no moment in which both or neither token resolve.

The registry also manages the tenant's users and user groups and keeps the
tenant's side records, static routes and event callbacks, in a key/value
registry.
*/
package tenant

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
)

// ObjectType is a tenant-declared resource type
type ObjectType struct {
	Name          string `json:"name"`
	RoutePattern  string `json:"route_pattern"`
	IDField       string `json:"id_field"`
	ProxyFunCode  string `json:"proxy_fun_code,omitempty"`
	DecodeFunCode string `json:"decode_fun_code,omitempty"`
}

// Application is a tenant
type Application struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	AccessToken     string       `json:"access_token"`
	Description     string       `json:"description,omitempty"`
	NotifyProxyCode string       `json:"notify_proxy_code,omitempty"`
	ObjectTypes     []ObjectType `json:"object_types"`
}

// properties are the fields of an application which are stored as one JSON value
type properties struct {
	Description     string       `json:"description,omitempty"`
	NotifyProxyCode string       `json:"notify_proxy_code,omitempty"`
	ObjectTypes     []ObjectType `json:"object_types"`
}

func (a *Application) properties() properties {
	return properties{
		Description:     a.Description,
		NotifyProxyCode: a.NotifyProxyCode,
		ObjectTypes:     a.ObjectTypes,
	}
}

// Clone returns a deep copy of the application
func (a *Application) Clone() *Application {
	c := *a
	c.ObjectTypes = append([]ObjectType{}, a.ObjectTypes...)
	return &c
}

// User is a user of a tenant. The password hash is never serialized.
type User struct {
	ID           string   `json:"id"`
	AppID        int64    `json:"app_id"`
	UserName     string   `json:"user_name"`
	PasswordHash []byte   `json:"-"`
	AccessToken  string   `json:"access_token"`
	Resource     string   `json:"resource,omitempty"`
	ResourceID   string   `json:"resource_id,omitempty"`
	Groups       []string `json:"groups"`
}

// UserGroup is a named group of users of a tenant
type UserGroup struct {
	ID    string `json:"id"`
	AppID int64  `json:"app_id"`
	Name  string `json:"name"`
}

// CollectionName returns the name of the document collection which holds all
// resource instances of the tenant
func CollectionName(tenantID int64) string {
	return "app_resources_" + strconv.FormatInt(tenantID, 10)
}

// DefaultRoutePattern returns the route pattern of an object type which does not declare one
func DefaultRoutePattern(name string) string {
	return "/" + name + "/{id}/"
}

// NewAccessToken returns a new random access token, 24 random bytes hex encoded
func NewAccessToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
