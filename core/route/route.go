// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package route resolves request paths to route patterns.

A path is read as pairs of segments, a resource name followed by an optional
instance id. Every pair contributes "{name}/{id}/" to the pattern, so

	/Users/42          resolves to /Users/{id}/ with id 42
	/Users/            resolves to /Users/{id}/ without id
	/Users/42/Orders/7 resolves to /Users/{id}/Orders/{id}/ with id 7

Only the id of the last pair is surfaced. Resolution never fails.
*/
package route

import (
	"strings"

	"github.com/relabs-tech/dummyapi/core/store"
)

// Route is a resolved path
type Route struct {
	Pattern string
	// ID is the instance id of the last segment pair, or nil
	ID *string
}

// Resolve resolves path into a route pattern and instance id
func Resolve(path string) Route {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	pattern := "/"
	var id *string
	for i := 0; i < len(parts) && parts[i] != ""; i += 2 {
		pattern += parts[i] + "/{id}/"
		id = nil
		if i+1 < len(parts) && parts[i+1] != "" {
			segment := parts[i+1]
			id = &segment
		}
	}
	return Route{Pattern: pattern, ID: id}
}

// Identity returns the typed identity of the route's instance id on idField,
// or nil if the route has no id
func (r Route) Identity(idField string) *store.Identity {
	if r.ID == nil {
		return nil
	}
	id := store.NewIdentity(idField, *r.ID)
	return &id
}
