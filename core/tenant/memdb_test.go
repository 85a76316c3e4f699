package tenant

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
)

func TestMemoryRepositoryIndexes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first := &Application{Name: "first", AccessToken: "token-1"}
	require.NoError(t, repo.Insert(ctx, first))
	second := &Application{Name: "second", AccessToken: "token-2"}
	require.NoError(t, repo.Insert(ctx, second))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)

	err := repo.Insert(ctx, &Application{Name: "first", AccessToken: "token-3"})
	assert.Equal(t, core.EConflict, core.ErrorCode(err))
	err = repo.Insert(ctx, &Application{Name: "third", AccessToken: "token-1"})
	assert.Equal(t, core.EConflict, core.ErrorCode(err))

	// a rejected insert does not consume an id
	third := &Application{Name: "third"}
	require.NoError(t, repo.Insert(ctx, third))
	assert.Equal(t, int64(3), third.ID)

	rotated := first.Clone()
	rotated.AccessToken = "token-1b"
	require.NoError(t, repo.Update(ctx, rotated))
	_, err = repo.GetByToken(ctx, "token-1")
	assert.True(t, core.IsNotFound(err))
	got, err := repo.GetByToken(ctx, "token-1b")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	renamed := second.Clone()
	renamed.Name = "first"
	err = repo.Update(ctx, renamed)
	assert.Equal(t, core.EConflict, core.ErrorCode(err))
	got, err = repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)

	// returned applications are copies
	got.Name = "changed"
	got, err = repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Name)

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.GetByToken(ctx, "token-1b")
	assert.True(t, core.IsNotFound(err))
	apps, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "second", apps[0].Name)
	assert.Equal(t, "third", apps[1].Name)
}

func TestMemoryRepositoryConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Insert(ctx, &Application{Name: "racy"})
		}()
	}
	wg.Wait()
	close(errs)
	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.Equal(t, core.EConflict, core.ErrorCode(err))
	}
	assert.Equal(t, 1, created)
}

func TestMemoryUserRepositoryIndexes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	newUser := func(appID int64, name, token string) *User {
		return &User{ID: uuid.New().String(), AppID: appID, UserName: name, AccessToken: token}
	}
	alice := newUser(1, "alice", "a1")
	require.NoError(t, repo.InsertUser(ctx, alice))
	// the user name is unique per tenant only
	require.NoError(t, repo.InsertUser(ctx, newUser(2, "alice", "a2")))
	err := repo.InsertUser(ctx, newUser(1, "alice", "a3"))
	assert.Equal(t, core.EConflict, core.ErrorCode(err))
	err = repo.InsertUser(ctx, newUser(1, "bob", "a1"))
	assert.Equal(t, core.EConflict, core.ErrorCode(err))
	require.NoError(t, repo.InsertUser(ctx, newUser(1, "bob", "b1")))

	got, err := repo.GetUserByName(ctx, 2, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)

	// another tenant cannot reach the user by id
	_, err = repo.GetUser(ctx, 2, alice.ID)
	assert.True(t, core.IsNotFound(err))
	_, err = repo.GetUser(ctx, 1, "not-a-uuid")
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(repo.DeleteUser(ctx, 2, alice.ID)))

	// the user name survives updates
	update := cloneUser(alice)
	update.UserName = "mallory"
	update.AccessToken = "a1b"
	require.NoError(t, repo.UpdateUser(ctx, update))
	got, err = repo.GetUserByName(ctx, 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, "a1b", got.AccessToken)
	update.AccessToken = "b1"
	err = repo.UpdateUser(ctx, update)
	assert.Equal(t, core.EConflict, core.ErrorCode(err))

	users, err := repo.ListUsers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].UserName)
	assert.Equal(t, "bob", users[1].UserName)

	require.NoError(t, repo.DeleteUsers(ctx, 1))
	users, err = repo.ListUsers(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, users)
	users, err = repo.ListUsers(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestMemoryUserRepositoryGroups(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	admins := &UserGroup{ID: uuid.New().String(), AppID: 1, Name: "admins"}
	require.NoError(t, repo.InsertGroup(ctx, admins))
	require.NoError(t, repo.InsertGroup(ctx, &UserGroup{ID: uuid.New().String(), AppID: 2, Name: "admins"}))
	err := repo.InsertGroup(ctx, &UserGroup{ID: uuid.New().String(), AppID: 1, Name: "admins"})
	assert.Equal(t, core.EConflict, core.ErrorCode(err))

	_, err = repo.GetGroup(ctx, 2, admins.ID)
	assert.True(t, core.IsNotFound(err))
	require.NoError(t, repo.DeleteGroup(ctx, 1, admins.ID))
	assert.True(t, core.IsNotFound(repo.DeleteGroup(ctx, 1, admins.ID)))

	require.NoError(t, repo.DeleteGroups(ctx, 2))
	groups, err := repo.ListGroups(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, groups)
}
