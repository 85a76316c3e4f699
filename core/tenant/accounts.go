// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/relabs-tech/dummyapi/core"
)

// UserInput holds the fields of a new user
type UserInput struct {
	UserName   string   `json:"user_name"`
	Password   string   `json:"password"`
	Resource   string   `json:"resource,omitempty"`
	ResourceID string   `json:"resource_id,omitempty"`
	Groups     []string `json:"groups,omitempty"`
}

// UserPatch is a partial update of a user. Nil fields are left untouched.
type UserPatch struct {
	Password   *string   `json:"password"`
	Resource   *string   `json:"resource"`
	ResourceID *string   `json:"resource_id"`
	Groups     *[]string `json:"groups"`
}

func (r *Registry) hashPassword(password string) ([]byte, error) {
	cost := r.passwordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

// CreateUser creates a new user of the tenant. User names are unique per tenant.
func (r *Registry) CreateUser(ctx context.Context, tenantID int64, input UserInput) (*User, error) {
	input.UserName = strings.TrimSpace(input.UserName)
	if input.UserName == "" || input.Password == "" {
		return nil, core.Errorf(core.EInvalid, "tenant.CreateUser", "user_name and password are required")
	}
	if _, err := r.apps.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	hash, err := r.hashPassword(input.Password)
	if err != nil {
		return nil, core.Errorf(core.EInvalid, "tenant.CreateUser", "invalid password: %v", err)
	}
	token, err := NewAccessToken()
	if err != nil {
		return nil, core.Internal("tenant.CreateUser", err)
	}
	user := &User{
		ID:           uuid.New().String(),
		AppID:        tenantID,
		UserName:     input.UserName,
		PasswordHash: hash,
		AccessToken:  token,
		Resource:     input.Resource,
		ResourceID:   input.ResourceID,
		Groups:       input.Groups,
	}
	if user.Groups == nil {
		user.Groups = []string{}
	}
	if err = r.users.InsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns a user of the tenant
func (r *Registry) GetUser(ctx context.Context, tenantID int64, id string) (*User, error) {
	return r.users.GetUser(ctx, tenantID, id)
}

// ListUsers returns all users of the tenant ordered by user name
func (r *Registry) ListUsers(ctx context.Context, tenantID int64) ([]*User, error) {
	return r.users.ListUsers(ctx, tenantID)
}

// UpdateUser applies patch to a user of the tenant
func (r *Registry) UpdateUser(ctx context.Context, tenantID int64, id string, patch UserPatch) (*User, error) {
	user, err := r.users.GetUser(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if patch.Password != nil {
		if *patch.Password == "" {
			return nil, core.Errorf(core.EInvalid, "tenant.UpdateUser", "password must not be empty")
		}
		if user.PasswordHash, err = r.hashPassword(*patch.Password); err != nil {
			return nil, core.Errorf(core.EInvalid, "tenant.UpdateUser", "invalid password: %v", err)
		}
	}
	if patch.Resource != nil {
		user.Resource = *patch.Resource
	}
	if patch.ResourceID != nil {
		user.ResourceID = *patch.ResourceID
	}
	if patch.Groups != nil {
		user.Groups = append([]string{}, *patch.Groups...)
	}
	if err = r.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteUser deletes a user of the tenant
func (r *Registry) DeleteUser(ctx context.Context, tenantID int64, id string) error {
	return r.users.DeleteUser(ctx, tenantID, id)
}

// RenewUserToken gives a user a new access token
func (r *Registry) RenewUserToken(ctx context.Context, tenantID int64, id string) (*User, error) {
	user, err := r.users.GetUser(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if user.AccessToken, err = NewAccessToken(); err != nil {
		return nil, core.Internal("tenant.RenewUserToken", err)
	}
	if err = r.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate returns the user with the given credentials. Unknown users and
// wrong passwords both yield core.EUnauthorized.
func (r *Registry) Authenticate(ctx context.Context, tenantID int64, userName, password string) (*User, error) {
	user, err := r.users.GetUserByName(ctx, tenantID, userName)
	if core.IsNotFound(err) {
		return nil, core.Errorf(core.EUnauthorized, "tenant.Authenticate", "invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, core.Errorf(core.EUnauthorized, "tenant.Authenticate", "invalid credentials")
	}
	return user, nil
}

// CreateGroup creates a new user group of the tenant. Group names are unique per tenant.
func (r *Registry) CreateGroup(ctx context.Context, tenantID int64, name string) (*UserGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.Errorf(core.EInvalid, "tenant.CreateGroup", "user group name must not be empty")
	}
	if _, err := r.apps.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	group := &UserGroup{ID: uuid.New().String(), AppID: tenantID, Name: name}
	if err := r.users.InsertGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// GetGroup returns a user group of the tenant
func (r *Registry) GetGroup(ctx context.Context, tenantID int64, id string) (*UserGroup, error) {
	return r.users.GetGroup(ctx, tenantID, id)
}

// ListGroups returns all user groups of the tenant ordered by name
func (r *Registry) ListGroups(ctx context.Context, tenantID int64) ([]*UserGroup, error) {
	return r.users.ListGroups(ctx, tenantID)
}

// DeleteGroup deletes a user group of the tenant
func (r *Registry) DeleteGroup(ctx context.Context, tenantID int64, id string) error {
	return r.users.DeleteGroup(ctx, tenantID, id)
}
