package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/csql"
)

// stores returns the stores under test. The Postgres store is only tested
// when POSTGRES is set, e.g.
//
// POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
func stores(t *testing.T) map[string]DocumentStore {
	result := map[string]DocumentStore{"memory": NewMemory()}
	if dsn := os.Getenv("POSTGRES"); dsn != "" {
		db := csql.OpenWithSchema(dsn, os.Getenv("POSTGRES_PASSWORD"), "_store_unit_test_")
		db.ClearSchema()
		t.Cleanup(func() { db.Close() })
		result["postgres"] = NewPostgres(db)
	}
	return result
}

func TestNewIdentity(t *testing.T) {
	native := NewIdentity("", "abc")
	assert.True(t, native.IsNative())
	assert.Nil(t, native.Num)

	declared := NewIdentity("id", "42")
	assert.False(t, declared.IsNative())
	require.NotNil(t, declared.Num)
	assert.Equal(t, int64(42), *declared.Num)

	assert.Nil(t, NewIdentity("id", "forty-two").Num)
}

func TestIdentityMatches(t *testing.T) {
	id := NewIdentity("id", "42")
	assert.True(t, id.matches("42"))
	assert.True(t, id.matches(float64(42)))
	assert.True(t, id.matches(42))
	assert.False(t, id.matches("43"))
	assert.False(t, id.matches(nil))

	name := NewIdentity("name", "hello")
	assert.True(t, name.matches("hello"))
	assert.False(t, name.matches(float64(0)))
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			coll := "app_resources_1"
			created, err := s.Insert(ctx, coll, "Resource_01", Document{"value": 123, TypeTagField: "Other", NativeIDField: "ignored"})
			require.NoError(t, err)
			id, ok := created[NativeIDField].(string)
			require.True(t, ok)
			_, err = uuid.Parse(id)
			require.NoError(t, err)
			assert.NotContains(t, created, TypeTagField)
			assert.Equal(t, float64(123), created["value"])

			native := NewIdentity(NativeIDField, id)
			found, err := s.Find(ctx, coll, Query{ObjectType: "Resource_01", ID: &native})
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, created, found[0])

			// the type tag isolates object types within one collection
			found, err = s.Find(ctx, coll, Query{ObjectType: "Other", ID: &native})
			require.NoError(t, err)
			assert.Empty(t, found)

			replaced, err := s.Replace(ctx, coll, Query{ObjectType: "Resource_01", ID: &native}, Document{"value": 444, NativeIDField: "hijack"})
			require.NoError(t, err)
			assert.Equal(t, id, replaced[NativeIDField])
			assert.Equal(t, float64(444), replaced["value"])

			found, err = s.Find(ctx, coll, Query{ObjectType: "Resource_01", ID: &native})
			require.NoError(t, err)
			require.Len(t, found, 1)
			assert.Equal(t, float64(444), found[0]["value"])

			deleted, err := s.Delete(ctx, coll, Query{ObjectType: "Resource_01", ID: &native})
			require.NoError(t, err)
			assert.Len(t, deleted, 1)

			deleted, err = s.Delete(ctx, coll, Query{ObjectType: "Resource_01", ID: &native})
			require.NoError(t, err)
			assert.Empty(t, deleted)

			_, err = s.Replace(ctx, coll, Query{ObjectType: "Resource_01", ID: &native}, Document{})
			assert.Equal(t, core.ENotFound, core.ErrorCode(err))
		})
	}
}

func TestStoreDeclaredIdentity(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			coll := "app_resources_2"
			_, err := s.Insert(ctx, coll, "Agent", Document{"id": 7, "name": "numeric"})
			require.NoError(t, err)
			_, err = s.Insert(ctx, coll, "Agent", Document{"id": "8", "name": "string"})
			require.NoError(t, err)
			_, err = s.Insert(ctx, coll, "Agent", Document{"id": "bond", "name": "word"})
			require.NoError(t, err)

			for raw, expected := range map[string]string{"7": "numeric", "8": "string", "bond": "word"} {
				id := NewIdentity("id", raw)
				found, err := s.Find(ctx, coll, Query{ObjectType: "Agent", ID: &id})
				require.NoError(t, err)
				require.Len(t, found, 1, raw)
				assert.Equal(t, expected, found[0]["name"])
			}

			all, err := s.Find(ctx, coll, Query{ObjectType: "Agent"})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "numeric", all[0]["name"])
			assert.Equal(t, "word", all[2]["name"])
		})
	}
}

func TestStoreMalformedNativeIdentity(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			coll := "app_resources_3"
			_, err := s.Insert(ctx, coll, "Thing", Document{"a": "b"})
			require.NoError(t, err)

			bad := NewIdentity(NativeIDField, "not-a-uuid")
			found, err := s.Find(ctx, coll, Query{ObjectType: "Thing", ID: &bad})
			require.NoError(t, err)
			assert.Empty(t, found)

			_, err = s.Replace(ctx, coll, Query{ObjectType: "Thing", ID: &bad}, Document{})
			assert.True(t, core.IsNotFound(err))
		})
	}
}

func TestStorePurgeAndDrop(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			coll := "app_resources_4"
			for i := 0; i < 3; i++ {
				_, err := s.Insert(ctx, coll, "Gone", Document{"i": i})
				require.NoError(t, err)
			}
			_, err := s.Insert(ctx, coll, "Stays", Document{})
			require.NoError(t, err)

			deleted, err := s.Delete(ctx, coll, Query{ObjectType: "Gone"})
			require.NoError(t, err)
			assert.Len(t, deleted, 3)

			stays, err := s.Find(ctx, coll, Query{ObjectType: "Stays"})
			require.NoError(t, err)
			assert.Len(t, stays, 1)

			require.NoError(t, s.DropCollection(ctx, coll))
			stays, err = s.Find(ctx, coll, Query{ObjectType: "Stays"})
			require.NoError(t, err)
			assert.Empty(t, stays)
		})
	}
}
