package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
)

func TestUsers(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			app, err := r.CreateApplication(ctx, "users")
			require.NoError(t, err)
			other, err := r.CreateApplication(ctx, "other")
			require.NoError(t, err)

			_, err = r.CreateUser(ctx, app.ID, UserInput{UserName: "joe"})
			assert.Equal(t, core.EInvalid, core.ErrorCode(err))
			_, err = r.CreateUser(ctx, 4711, UserInput{UserName: "joe", Password: "secret"})
			assert.True(t, core.IsNotFound(err))

			joe, err := r.CreateUser(ctx, app.ID, UserInput{UserName: "joe", Password: "secret", Resource: "Agent", ResourceID: "7"})
			require.NoError(t, err)
			assert.NotEmpty(t, joe.ID)
			assert.NotEmpty(t, joe.AccessToken)
			assert.NotEqual(t, "secret", string(joe.PasswordHash))
			assert.Equal(t, []string{}, joe.Groups)

			_, err = r.CreateUser(ctx, app.ID, UserInput{UserName: "joe", Password: "other"})
			assert.Equal(t, core.EConflict, core.ErrorCode(err))

			// user names are unique per tenant only
			_, err = r.CreateUser(ctx, other.ID, UserInput{UserName: "joe", Password: "other"})
			require.NoError(t, err)

			user, err := r.Authenticate(ctx, app.ID, "joe", "secret")
			require.NoError(t, err)
			assert.Equal(t, joe.ID, user.ID)
			assert.Equal(t, "Agent", user.Resource)
			assert.Equal(t, "7", user.ResourceID)

			_, err = r.Authenticate(ctx, app.ID, "joe", "wrong")
			assert.Equal(t, core.EUnauthorized, core.ErrorCode(err))
			_, err = r.Authenticate(ctx, app.ID, "jane", "secret")
			assert.Equal(t, core.EUnauthorized, core.ErrorCode(err))
			_, err = r.Authenticate(ctx, other.ID, "joe", "secret")
			assert.Equal(t, core.EUnauthorized, core.ErrorCode(err))

			groups := []string{"admins"}
			password := "changed"
			updated, err := r.UpdateUser(ctx, app.ID, joe.ID, UserPatch{Groups: &groups, Password: &password})
			require.NoError(t, err)
			assert.Equal(t, groups, updated.Groups)
			assert.Equal(t, "Agent", updated.Resource)
			_, err = r.Authenticate(ctx, app.ID, "joe", "changed")
			require.NoError(t, err)

			renewed, err := r.RenewUserToken(ctx, app.ID, joe.ID)
			require.NoError(t, err)
			assert.NotEqual(t, joe.AccessToken, renewed.AccessToken)
			user, err = r.GetUser(ctx, app.ID, joe.ID)
			require.NoError(t, err)
			assert.Equal(t, renewed.AccessToken, user.AccessToken)
			assert.Equal(t, groups, user.Groups)

			_, err = r.GetUser(ctx, other.ID, joe.ID)
			assert.True(t, core.IsNotFound(err))
			_, err = r.GetUser(ctx, app.ID, "not-a-uuid")
			assert.True(t, core.IsNotFound(err))

			users, err := r.ListUsers(ctx, app.ID)
			require.NoError(t, err)
			assert.Len(t, users, 1)

			require.NoError(t, r.DeleteUser(ctx, app.ID, joe.ID))
			assert.True(t, core.IsNotFound(r.DeleteUser(ctx, app.ID, joe.ID)))
		})
	}
}

func TestUserGroups(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			app, err := r.CreateApplication(ctx, "groups")
			require.NoError(t, err)

			_, err = r.CreateGroup(ctx, app.ID, "")
			assert.Equal(t, core.EInvalid, core.ErrorCode(err))

			admins, err := r.CreateGroup(ctx, app.ID, "admins")
			require.NoError(t, err)
			_, err = r.CreateGroup(ctx, app.ID, "users")
			require.NoError(t, err)
			_, err = r.CreateGroup(ctx, app.ID, "admins")
			assert.Equal(t, core.EConflict, core.ErrorCode(err))

			group, err := r.GetGroup(ctx, app.ID, admins.ID)
			require.NoError(t, err)
			assert.Equal(t, "admins", group.Name)

			groups, err := r.ListGroups(ctx, app.ID)
			require.NoError(t, err)
			require.Len(t, groups, 2)
			assert.Equal(t, "admins", groups[0].Name)
			assert.Equal(t, "users", groups[1].Name)

			require.NoError(t, r.DeleteGroup(ctx, app.ID, admins.ID))
			_, err = r.GetGroup(ctx, app.ID, admins.ID)
			assert.True(t, core.IsNotFound(err))
		})
	}
}
