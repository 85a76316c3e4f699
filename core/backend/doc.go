/*
Package backend implements the dynamic resource backend

A backend serves any number of applications (tenants). Applications do not need
any code or schema: they declare object types at runtime through the management
API, and the backend immediately serves a RESTful API for them.

Management API

The management API lives under /api/1/app and requires an admin authorization,
either in the request context or as one of the configured admin bearer tokens.

	POST   /api/1/app                          create application
	GET    /api/1/app                          list applications
	GET    /api/1/app/{app_id}                 read application
	PUT    /api/1/app/{app_id}                 update name, description, notify_proxy_code
	DELETE /api/1/app/{app_id}                 delete application with everything it owns
	POST   /api/1/app/{app_id}/new_access_token
	GET    /api/1/app/{app_id}/statistics
	...    /api/1/app/{app_id}/object_type/{name}
	...    /api/1/app/{app_id}/user/{id}
	POST   /api/1/app/{app_id}/user/{id}/new_access_token
	...    /api/1/app/{app_id}/user_group/{id}
	...    /api/1/app/{app_id}/static_route/{route}
	...    /api/1/app/{app_id}/event_callback/{id}
	...    /api/1/app/{app_id}/object/{type}/{id}

Payloads are validated with the JSON schemas of package schema.

Example:

	POST /api/1/app/7/object_type
	{
	  "name": "Members",
	  "route_pattern": "/Teams/{id}/Members/{id}/",
	  "id_field": "number",
	  "proxy_fun_code": "merge(resource, {mocked: true})"
	}

Application API

Every request of the application API carries the application's access token,
either as query parameter access_token or as header Access-Token. Object types
become reachable under their route pattern:

	GET    /api/1/Teams/3/Members/      list all members
	POST   /api/1/Teams/3/Members/      create a member
	GET    /api/1/Teams/3/Members/42    read member 42
	PUT    /api/1/Teams/3/Members/42    replace member 42
	DELETE /api/1/Teams/3/Members/42    delete member 42

Only the id of the last segment pair addresses an instance, the ids of the
leading segments are part of the route only. Instances are identified by the
type's declared id field, or by the native "_id".

Besides the object types, the application API serves

	GET  /api/1/                        discovery document of the application
	GET  /api/1/ws?client_id=...        websocket with real-time events
	POST /api/1/simple_token_auth       user login with {"user_name", "password"}
	GET  /api/1/ugly_get_auth           user login with username and password query parameters
	GET  /api/1/authorization           the authorization of the request

A successful login answers with the user's access token, a session token and the
user's linked resource. The session token is a JWT, sent back as bearer token it
authorizes the user for the application.

Static routes registered through the management API take precedence over object
types for GET requests.
*/
package backend
