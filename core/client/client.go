// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/dummyapi/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router      *mux.Router
	httpClient  *http.Client
	url         string
	token       string
	accessToken string
	auth        *access.Authorization
	ctx         context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAccessToken returns a new client which sends the application access token
// with every request
func (c Client) WithAccessToken(accessToken string) Client {
	c.accessToken = accessToken
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithAuthorization(&access.Authorization{Roles: []string{access.RoleAdmin}})
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Do executes a request and returns the status code together with the response body
func (c Client) Do(method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		j, ok := body.([]byte)
		if !ok {
			var err error
			if j, err = json.Marshal(body); err != nil {
				return http.StatusBadRequest, nil, fmt.Errorf("%s to %s: %w", method, path, err)
			}
		}
		reader = bytes.NewReader(j)
	}

	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, err
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if c.accessToken != "" {
		r.Header.Set("Access-Token", c.accessToken)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	return res.StatusCode, resBody, err
}

func (c Client) expect(method, path string, body interface{}, result interface{}, expected ...int) (int, error) {
	status, resBody, err := c.Do(method, path, body)
	if err != nil {
		return status, err
	}
	ok := false
	for _, e := range expected {
		ok = ok || status == e
	}
	if !ok {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expected[0], strings.TrimSpace(string(resBody)))
	}
	if status == http.StatusNoContent || len(resBody) == 0 || result == nil {
		return status, nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return status, nil
	}
	return status, json.Unmarshal(resBody, result)
}

// RawGet gets a resource from a path. Expects http.StatusOK or http.StatusNoContent
// as response, otherwise it will flag an error. Returns the actual http status code.
//
// result can also be raw *[]byte.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.expect(http.MethodGet, path, nil, result, http.StatusOK, http.StatusNoContent)
}

// RawPost posts a resource to path. Expects http.StatusCreated or http.StatusOK as
// response, otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.expect(http.MethodPost, path, body, result, http.StatusCreated, http.StatusOK)
}

// RawPut puts a resource to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.expect(http.MethodPut, path, body, result, http.StatusOK, http.StatusCreated)
}

// RawDelete deletes a resource at path. Expects http.StatusNoContent as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	return c.expect(http.MethodDelete, path, nil, nil, http.StatusNoContent)
}

// Resource represents the instances of one object type of the application API
type Resource struct {
	client *Client
	path   string
}

// Resource returns a new resource client for the route pattern's path, e.g.
// "/Users" or "/Teams/1/Members"
func (c Client) Resource(path string) Resource {
	return Resource{client: &c, path: "/api/1/" + strings.Trim(path, "/")}
}

// CollectionPath returns the path of the collection
func (r Resource) CollectionPath() string {
	return r.path + "/"
}

// Create creates a new instance
func (r Resource) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// List lists all instances
func (r Resource) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Item returns a client for the instance with the given id
func (r Resource) Item(id string) Item {
	return Item{client: r.client, path: r.path + "/" + id}
}

// Item is a single instance of an object type
type Item struct {
	client *Client
	path   string
}

// Path returns the path of the item
func (i Item) Path() string {
	return i.path
}

// Read reads the instance
func (i Item) Read(result interface{}) (int, error) {
	return i.client.RawGet(i.path, result)
}

// Update replaces the instance
func (i Item) Update(body interface{}, result interface{}) (int, error) {
	return i.client.RawPut(i.path, body, result)
}

// Delete deletes the instance
func (i Item) Delete() (int, error) {
	return i.client.RawDelete(i.path)
}
