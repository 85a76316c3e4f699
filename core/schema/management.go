// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package schema

import (
	"embed"
	"io/fs"
)

//go:embed management
var managementFS embed.FS

// the schema ids of the management API payloads
const (
	ApplicationID      = BaseID + "application.json"
	ApplicationPatchID = BaseID + "application_patch.json"
	ObjectTypeID       = BaseID + "object_type.json"
	ObjectTypePatchID  = BaseID + "object_type_patch.json"
	UserID             = BaseID + "user.json"
	UserPatchID        = BaseID + "user_patch.json"
	UserGroupID        = BaseID + "user_group.json"
	StaticRouteID      = BaseID + "static_route.json"
	EventCallbackID    = BaseID + "event_callback.json"
)

// NewManagementValidator returns a validator for all management API payloads
func NewManagementValidator() (*Validator, error) {
	sub, err := fs.Sub(managementFS, "management")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}
