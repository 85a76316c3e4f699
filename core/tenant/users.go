// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/csql"
)

// UserRepository persists users and user groups of all tenants
type UserRepository interface {
	InsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, appID int64, id string) (*User, error)
	GetUserByName(ctx context.Context, appID int64, userName string) (*User, error)
	ListUsers(ctx context.Context, appID int64) ([]*User, error)
	UpdateUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, appID int64, id string) error
	// DeleteUsers deletes all users of a tenant
	DeleteUsers(ctx context.Context, appID int64) error

	InsertGroup(ctx context.Context, group *UserGroup) error
	GetGroup(ctx context.Context, appID int64, id string) (*UserGroup, error)
	ListGroups(ctx context.Context, appID int64) ([]*UserGroup, error)
	DeleteGroup(ctx context.Context, appID int64, id string) error
	// DeleteGroups deletes all user groups of a tenant
	DeleteGroups(ctx context.Context, appID int64) error
}

// userProperties are the fields of a user which are stored as one JSON value
type userProperties struct {
	Resource   string   `json:"resource,omitempty"`
	ResourceID string   `json:"resource_id,omitempty"`
	Groups     []string `json:"groups"`
}

type postgresUserRepository struct {
	db *csql.DB
}

// NewPostgresUserRepository returns a user repository on db
func NewPostgresUserRepository(db *csql.DB) UserRepository {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Table("_user_") + `
(id uuid NOT NULL,
app_id bigint NOT NULL,
user_name varchar NOT NULL,
password bytea NOT NULL,
access_token varchar NOT NULL UNIQUE,
properties json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(id),
UNIQUE(app_id, user_name)
);
CREATE table IF NOT EXISTS ` + db.Table("_user_group_") + `
(id uuid NOT NULL,
app_id bigint NOT NULL,
name varchar NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(id),
UNIQUE(app_id, name)
);`)
	if err != nil {
		panic(err)
	}
	return &postgresUserRepository{db: db}
}

func (r *postgresUserRepository) InsertUser(ctx context.Context, user *User) error {
	props, err := json.Marshal(userProperties{Resource: user.Resource, ResourceID: user.ResourceID, Groups: user.Groups})
	if err != nil {
		return core.Internal("tenant.InsertUser", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO `+r.db.Table("_user_")+`(id,app_id,user_name,password,access_token,properties,timestamp)
VALUES($1,$2,$3,$4,$5,$6,$7);`,
		user.ID, user.AppID, user.UserName, user.PasswordHash, user.AccessToken, string(props), time.Now().UTC())
	if csql.IsUniqueViolation(err) {
		return core.Errorf(core.EConflict, "tenant.InsertUser", "user %s already exists", user.UserName)
	}
	return core.Internal("tenant.InsertUser", err)
}

const userColumns = `id, app_id, user_name, password, access_token, properties`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var (
		user  User
		body  []byte
		props userProperties
	)
	if err := row.Scan(&user.ID, &user.AppID, &user.UserName, &user.PasswordHash, &user.AccessToken, &body); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(body, &props); err != nil {
		return nil, err
	}
	user.Resource = props.Resource
	user.ResourceID = props.ResourceID
	user.Groups = props.Groups
	if user.Groups == nil {
		user.Groups = []string{}
	}
	return &user, nil
}

func (r *postgresUserRepository) getUserWhere(ctx context.Context, op string, appID int64, where string, arg interface{}) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM `+r.db.Table("_user_")+` WHERE app_id=$1 AND `+where+`=$2;`, appID, arg)
	user, err := scanUser(row)
	if err == csql.ErrNoRows {
		return nil, core.Errorf(core.ENotFound, op, "no such user")
	}
	if err != nil {
		return nil, core.Internal(op, err)
	}
	return user, nil
}

func (r *postgresUserRepository) GetUser(ctx context.Context, appID int64, id string) (*User, error) {
	if !validUUID(id) {
		return nil, core.Errorf(core.ENotFound, "tenant.GetUser", "no such user")
	}
	return r.getUserWhere(ctx, "tenant.GetUser", appID, "id", id)
}

func (r *postgresUserRepository) GetUserByName(ctx context.Context, appID int64, userName string) (*User, error) {
	return r.getUserWhere(ctx, "tenant.GetUserByName", appID, "user_name", userName)
}

func (r *postgresUserRepository) ListUsers(ctx context.Context, appID int64) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM `+r.db.Table("_user_")+` WHERE app_id=$1 ORDER BY user_name;`, appID)
	if err != nil {
		return nil, core.Internal("tenant.ListUsers", err)
	}
	defer rows.Close()
	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, core.Internal("tenant.ListUsers", err)
		}
		users = append(users, user)
	}
	return users, core.Internal("tenant.ListUsers", rows.Err())
}

func (r *postgresUserRepository) UpdateUser(ctx context.Context, user *User) error {
	if !validUUID(user.ID) {
		return core.Errorf(core.ENotFound, "tenant.UpdateUser", "no such user")
	}
	props, err := json.Marshal(userProperties{Resource: user.Resource, ResourceID: user.ResourceID, Groups: user.Groups})
	if err != nil {
		return core.Internal("tenant.UpdateUser", err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+r.db.Table("_user_")+` SET password=$3, access_token=$4, properties=$5, timestamp=$6 WHERE app_id=$1 AND id=$2;`,
		user.AppID, user.ID, user.PasswordHash, user.AccessToken, string(props), time.Now().UTC())
	return affected("tenant.UpdateUser", "no such user", res, err)
}

func (r *postgresUserRepository) DeleteUser(ctx context.Context, appID int64, id string) error {
	if !validUUID(id) {
		return core.Errorf(core.ENotFound, "tenant.DeleteUser", "no such user")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.db.Table("_user_")+` WHERE app_id=$1 AND id=$2;`, appID, id)
	return affected("tenant.DeleteUser", "no such user", res, err)
}

func (r *postgresUserRepository) DeleteUsers(ctx context.Context, appID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM `+r.db.Table("_user_")+` WHERE app_id=$1;`, appID)
	return core.Internal("tenant.DeleteUsers", err)
}

func (r *postgresUserRepository) InsertGroup(ctx context.Context, group *UserGroup) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.db.Table("_user_group_")+`(id,app_id,name,timestamp) VALUES($1,$2,$3,$4);`,
		group.ID, group.AppID, group.Name, time.Now().UTC())
	if csql.IsUniqueViolation(err) {
		return core.Errorf(core.EConflict, "tenant.InsertGroup", "user group %s already exists", group.Name)
	}
	return core.Internal("tenant.InsertGroup", err)
}

func (r *postgresUserRepository) GetGroup(ctx context.Context, appID int64, id string) (*UserGroup, error) {
	if !validUUID(id) {
		return nil, core.Errorf(core.ENotFound, "tenant.GetGroup", "no such user group")
	}
	group := UserGroup{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, app_id, name FROM `+r.db.Table("_user_group_")+` WHERE app_id=$1 AND id=$2;`, appID, id).
		Scan(&group.ID, &group.AppID, &group.Name)
	if err == csql.ErrNoRows {
		return nil, core.Errorf(core.ENotFound, "tenant.GetGroup", "no such user group")
	}
	if err != nil {
		return nil, core.Internal("tenant.GetGroup", err)
	}
	return &group, nil
}

func (r *postgresUserRepository) ListGroups(ctx context.Context, appID int64) ([]*UserGroup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, app_id, name FROM `+r.db.Table("_user_group_")+` WHERE app_id=$1 ORDER BY name;`, appID)
	if err != nil {
		return nil, core.Internal("tenant.ListGroups", err)
	}
	defer rows.Close()
	groups := []*UserGroup{}
	for rows.Next() {
		group := UserGroup{}
		if err = rows.Scan(&group.ID, &group.AppID, &group.Name); err != nil {
			return nil, core.Internal("tenant.ListGroups", err)
		}
		groups = append(groups, &group)
	}
	return groups, core.Internal("tenant.ListGroups", rows.Err())
}

func (r *postgresUserRepository) DeleteGroup(ctx context.Context, appID int64, id string) error {
	if !validUUID(id) {
		return core.Errorf(core.ENotFound, "tenant.DeleteGroup", "no such user group")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+r.db.Table("_user_group_")+` WHERE app_id=$1 AND id=$2;`, appID, id)
	return affected("tenant.DeleteGroup", "no such user group", res, err)
}

func (r *postgresUserRepository) DeleteGroups(ctx context.Context, appID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM `+r.db.Table("_user_group_")+` WHERE app_id=$1;`, appID)
	return core.Internal("tenant.DeleteGroups", err)
}

func affected(op, msg string, res interface{ RowsAffected() (int64, error) }, err error) error {
	if err != nil {
		return core.Internal(op, err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return core.Internal(op, err)
	}
	if count == 0 {
		return core.Errorf(core.ENotFound, op, "%s", msg)
	}
	return nil
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
