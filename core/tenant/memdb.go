// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package tenant

import (
	"context"
	"sort"

	"github.com/hashicorp/go-memdb"

	"github.com/relabs-tech/dummyapi/core"
)

// memdb table and index names
const (
	applicationTable = "application"
	userTable        = "user"
	userGroupTable   = "user_group"

	indexID          = "id" // also, the memdb primary key
	indexName        = "name"
	indexAccessToken = "access_token"
	indexAppID       = "app_id"
	indexAppName     = "app_name"
)

func applicationSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			applicationTable: {
				Name: applicationTable,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					indexName: {
						Name:    indexName,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
					indexAccessToken: {
						Name:         indexAccessToken,
						Unique:       true,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "AccessToken"},
					},
				},
			},
		},
	}
}

// appScoped returns the indexes of a table whose rows belong to one tenant
// and carry a name which is unique within the tenant
func appScoped(table, nameField string) *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: table,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.UUIDFieldIndex{Field: "ID"},
			},
			indexAppID: {
				Name:    indexAppID,
				Indexer: &memdb.IntFieldIndex{Field: "AppID"},
			},
			indexAppName: {
				Name:   indexAppName,
				Unique: true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.IntFieldIndex{Field: "AppID"},
						&memdb.StringFieldIndex{Field: nameField},
					},
				},
			},
		},
	}
}

func userSchema() *memdb.DBSchema {
	users := appScoped(userTable, "UserName")
	users.Indexes[indexAccessToken] = &memdb.IndexSchema{
		Name:         indexAccessToken,
		Unique:       true,
		AllowMissing: true,
		Indexer:      &memdb.StringFieldIndex{Field: "AccessToken"},
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			userTable:      users,
			userGroupTable: appScoped(userGroupTable, "Name"),
		},
	}
}

func mustNewMemDB(schema *memdb.DBSchema) *memdb.MemDB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}
	return db
}

type memoryRepository struct {
	db *memdb.MemDB
	// nextID is only touched inside write transactions, which memdb serializes
	nextID int64
}

// NewMemoryRepository returns an application repository which lives in process memory only
func NewMemoryRepository() Repository {
	return &memoryRepository{db: mustNewMemDB(applicationSchema())}
}

func firstApplication(txn *memdb.Txn, index string, arg interface{}) (*Application, error) {
	raw, err := txn.First(applicationTable, index, arg)
	if err != nil || raw == nil {
		return nil, err
	}
	return raw.(*Application), nil
}

// unique checks name and access token of app against all other applications
func (r *memoryRepository) unique(txn *memdb.Txn, op string, app *Application) error {
	other, err := firstApplication(txn, indexName, app.Name)
	if err != nil {
		return core.Internal(op, err)
	}
	if other != nil && other.ID != app.ID {
		return core.Errorf(core.EConflict, op, "application %s already exists", app.Name)
	}
	if app.AccessToken == "" {
		return nil
	}
	other, err = firstApplication(txn, indexAccessToken, app.AccessToken)
	if err != nil {
		return core.Internal(op, err)
	}
	if other != nil && other.ID != app.ID {
		return core.Errorf(core.EConflict, op, "access token already in use")
	}
	return nil
}

func (r *memoryRepository) Insert(ctx context.Context, app *Application) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	app.ID = 0
	if err := r.unique(txn, "tenant.Insert", app); err != nil {
		return err
	}
	id := r.nextID + 1
	stored := app.Clone()
	stored.ID = id
	if err := txn.Insert(applicationTable, stored); err != nil {
		return core.Internal("tenant.Insert", err)
	}
	r.nextID = id
	txn.Commit()
	app.ID = id
	return nil
}

func (r *memoryRepository) Get(ctx context.Context, id int64) (*Application, error) {
	app, err := firstApplication(r.db.Txn(false), indexID, id)
	if err != nil {
		return nil, core.Internal("tenant.Get", err)
	}
	if app == nil {
		return nil, core.Errorf(core.ENotFound, "tenant.Get", "no application %d", id)
	}
	return app.Clone(), nil
}

func (r *memoryRepository) GetByToken(ctx context.Context, token string) (*Application, error) {
	if token == "" {
		return nil, core.Errorf(core.ENotFound, "tenant.GetByToken", "no such application")
	}
	app, err := firstApplication(r.db.Txn(false), indexAccessToken, token)
	if err != nil {
		return nil, core.Internal("tenant.GetByToken", err)
	}
	if app == nil {
		return nil, core.Errorf(core.ENotFound, "tenant.GetByToken", "no such application")
	}
	return app.Clone(), nil
}

func (r *memoryRepository) List(ctx context.Context) ([]*Application, error) {
	it, err := r.db.Txn(false).Get(applicationTable, indexID)
	if err != nil {
		return nil, core.Internal("tenant.List", err)
	}
	apps := []*Application{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		apps = append(apps, raw.(*Application).Clone())
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps, nil
}

func (r *memoryRepository) Update(ctx context.Context, app *Application) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := firstApplication(txn, indexID, app.ID)
	if err != nil {
		return core.Internal("tenant.Update", err)
	}
	if existing == nil {
		return core.Errorf(core.ENotFound, "tenant.Update", "no application %d", app.ID)
	}
	if err = r.unique(txn, "tenant.Update", app); err != nil {
		return err
	}
	if err = txn.Insert(applicationTable, app.Clone()); err != nil {
		return core.Internal("tenant.Update", err)
	}
	txn.Commit()
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, id int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	existing, err := firstApplication(txn, indexID, id)
	if err != nil {
		return core.Internal("tenant.Delete", err)
	}
	if existing == nil {
		return core.Errorf(core.ENotFound, "tenant.Delete", "no application %d", id)
	}
	if err = txn.Delete(applicationTable, existing); err != nil {
		return core.Internal("tenant.Delete", err)
	}
	txn.Commit()
	return nil
}

type memoryUserRepository struct {
	db *memdb.MemDB
}

// NewMemoryUserRepository returns a user repository which lives in process memory only
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{db: mustNewMemDB(userSchema())}
}

func cloneUser(u *User) *User {
	c := *u
	c.Groups = append([]string{}, u.Groups...)
	return &c
}

// first returns the row of table with the given id which belongs to appID
func first(txn *memdb.Txn, table string, appID int64, id string) (interface{}, error) {
	if !validUUID(id) {
		return nil, nil
	}
	raw, err := txn.First(table, indexID, id)
	if err != nil || raw == nil {
		return nil, err
	}
	switch row := raw.(type) {
	case *User:
		if row.AppID != appID {
			return nil, nil
		}
	case *UserGroup:
		if row.AppID != appID {
			return nil, nil
		}
	}
	return raw, nil
}

func (r *memoryUserRepository) InsertUser(ctx context.Context, user *User) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	other, err := txn.First(userTable, indexAppName, user.AppID, user.UserName)
	if err != nil {
		return core.Internal("tenant.InsertUser", err)
	}
	if other != nil {
		return core.Errorf(core.EConflict, "tenant.InsertUser", "user %s already exists", user.UserName)
	}
	if other, err = txn.First(userTable, indexAccessToken, user.AccessToken); err != nil {
		return core.Internal("tenant.InsertUser", err)
	}
	if other != nil {
		return core.Errorf(core.EConflict, "tenant.InsertUser", "access token already in use")
	}
	if err = txn.Insert(userTable, cloneUser(user)); err != nil {
		return core.Internal("tenant.InsertUser", err)
	}
	txn.Commit()
	return nil
}

func (r *memoryUserRepository) GetUser(ctx context.Context, appID int64, id string) (*User, error) {
	raw, err := first(r.db.Txn(false), userTable, appID, id)
	if err != nil {
		return nil, core.Internal("tenant.GetUser", err)
	}
	if raw == nil {
		return nil, core.Errorf(core.ENotFound, "tenant.GetUser", "no such user")
	}
	return cloneUser(raw.(*User)), nil
}

func (r *memoryUserRepository) GetUserByName(ctx context.Context, appID int64, userName string) (*User, error) {
	raw, err := r.db.Txn(false).First(userTable, indexAppName, appID, userName)
	if err != nil {
		return nil, core.Internal("tenant.GetUserByName", err)
	}
	if raw == nil {
		return nil, core.Errorf(core.ENotFound, "tenant.GetUserByName", "no such user")
	}
	return cloneUser(raw.(*User)), nil
}

func (r *memoryUserRepository) ListUsers(ctx context.Context, appID int64) ([]*User, error) {
	it, err := r.db.Txn(false).Get(userTable, indexAppID, appID)
	if err != nil {
		return nil, core.Internal("tenant.ListUsers", err)
	}
	users := []*User{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		users = append(users, cloneUser(raw.(*User)))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserName < users[j].UserName })
	return users, nil
}

func (r *memoryUserRepository) UpdateUser(ctx context.Context, user *User) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	raw, err := first(txn, userTable, user.AppID, user.ID)
	if err != nil {
		return core.Internal("tenant.UpdateUser", err)
	}
	if raw == nil {
		return core.Errorf(core.ENotFound, "tenant.UpdateUser", "no such user")
	}
	other, err := txn.First(userTable, indexAccessToken, user.AccessToken)
	if err != nil {
		return core.Internal("tenant.UpdateUser", err)
	}
	if other != nil && other.(*User).ID != user.ID {
		return core.Errorf(core.EConflict, "tenant.UpdateUser", "access token already in use")
	}
	updated := cloneUser(user)
	updated.UserName = raw.(*User).UserName
	if err = txn.Insert(userTable, updated); err != nil {
		return core.Internal("tenant.UpdateUser", err)
	}
	txn.Commit()
	return nil
}

func (r *memoryUserRepository) delete(op, table, what string, appID int64, id string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	raw, err := first(txn, table, appID, id)
	if err != nil {
		return core.Internal(op, err)
	}
	if raw == nil {
		return core.Errorf(core.ENotFound, op, "no such %s", what)
	}
	if err = txn.Delete(table, raw); err != nil {
		return core.Internal(op, err)
	}
	txn.Commit()
	return nil
}

func (r *memoryUserRepository) deleteAll(op, table string, appID int64) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(table, indexAppID, appID); err != nil {
		return core.Internal(op, err)
	}
	txn.Commit()
	return nil
}

func (r *memoryUserRepository) DeleteUser(ctx context.Context, appID int64, id string) error {
	return r.delete("tenant.DeleteUser", userTable, "user", appID, id)
}

func (r *memoryUserRepository) DeleteUsers(ctx context.Context, appID int64) error {
	return r.deleteAll("tenant.DeleteUsers", userTable, appID)
}

func (r *memoryUserRepository) InsertGroup(ctx context.Context, group *UserGroup) error {
	txn := r.db.Txn(true)
	defer txn.Abort()
	other, err := txn.First(userGroupTable, indexAppName, group.AppID, group.Name)
	if err != nil {
		return core.Internal("tenant.InsertGroup", err)
	}
	if other != nil {
		return core.Errorf(core.EConflict, "tenant.InsertGroup", "user group %s already exists", group.Name)
	}
	c := *group
	if err = txn.Insert(userGroupTable, &c); err != nil {
		return core.Internal("tenant.InsertGroup", err)
	}
	txn.Commit()
	return nil
}

func (r *memoryUserRepository) GetGroup(ctx context.Context, appID int64, id string) (*UserGroup, error) {
	raw, err := first(r.db.Txn(false), userGroupTable, appID, id)
	if err != nil {
		return nil, core.Internal("tenant.GetGroup", err)
	}
	if raw == nil {
		return nil, core.Errorf(core.ENotFound, "tenant.GetGroup", "no such user group")
	}
	c := *raw.(*UserGroup)
	return &c, nil
}

func (r *memoryUserRepository) ListGroups(ctx context.Context, appID int64) ([]*UserGroup, error) {
	it, err := r.db.Txn(false).Get(userGroupTable, indexAppID, appID)
	if err != nil {
		return nil, core.Internal("tenant.ListGroups", err)
	}
	groups := []*UserGroup{}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		c := *raw.(*UserGroup)
		groups = append(groups, &c)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (r *memoryUserRepository) DeleteGroup(ctx context.Context, appID int64, id string) error {
	return r.delete("tenant.DeleteGroup", userGroupTable, "user group", appID, id)
}

func (r *memoryUserRepository) DeleteGroups(ctx context.Context, appID int64) error {
	return r.deleteAll("tenant.DeleteGroups", userGroupTable, appID)
}
