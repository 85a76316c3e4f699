package schema_test

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/schema"
)

func file(data string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(data)}
}

func sensorFS() fstest.MapFS {
	return fstest.MapFS{
		"refs/short.json": file(`{"$id":"` + schema.BaseID + `refs/short.json","type":"string","maxLength":5}`),
		"sensor.json": file(`{
			"$id": "` + schema.BaseID + `sensor.json",
			"type": "object",
			"properties": {
				"name": {"$ref": "` + schema.BaseID + `refs/short.json"},
				"unit": {"type": "object", "properties": {"scale": {"type": "integer"}}, "required": ["scale"]}
			},
			"required": ["name"],
			"additionalProperties": false
		}`),
		"README.md":       file("not a schema"),
		"drafts/old.json": file(`{"$id":"elsewhere"}`),
	}
}

func TestLoad(t *testing.T) {
	v, err := schema.Load(sensorFS())
	require.NoError(t, err)
	assert.True(t, v.HasSchema(schema.BaseID+"sensor.json"))
	assert.False(t, v.HasSchema(schema.BaseID+"refs/short.json"), "refs are no payload schemas")
	assert.False(t, v.HasSchema(schema.BaseID+"drafts/old.json"))

	for name, fsys := range map[string]fstest.MapFS{
		"missing id": {"a.json": file(`{"type":"string"}`)},
		"foreign id": {"a.json": file(`{"$id":"http://some_host.com/a.json","type":"string"}`)},
		"wrong path": {"a.json": file(`{"$id":"` + schema.BaseID + `b.json","type":"string"}`)},
		"not json":   {"a.json": file(`{"$id":`)},
		"bad schema": {"a.json": file(`{"$id":"` + schema.BaseID + `a.json","type":42}`)},
	} {
		_, err := schema.Load(fsys)
		assert.Error(t, err, name)
	}
}

func TestValidate(t *testing.T) {
	v, err := schema.Load(sensorFS())
	require.NoError(t, err)
	id := schema.BaseID + "sensor.json"

	assert.NoError(t, v.Validate([]byte(`{"name":"temp","unit":{"scale":3}}`), id))

	err = v.Validate([]byte(`{"name":"temperature","unit":{},"color":"red"}`), id)
	require.Error(t, err)
	assert.Equal(t, core.EInvalid, core.ErrorCode(err))
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, id, verr.SchemaID)
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "is not allowed", fields["color"])
	assert.Equal(t, "is required", fields["unit.scale"])
	assert.Contains(t, fields, "name")
	assert.Contains(t, err.Error(), "invalid sensor")
	assert.Contains(t, verr.Error(), "unit.scale: is required")

	err = v.Validate([]byte(`{}`), id)
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []schema.FieldError{{Field: "name", Message: "is required"}}, verr.Fields)

	err = v.Validate([]byte(`[]`), id)
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "", verr.Fields[0].Field, "violations of the payload itself have no field")

	for _, body := range []string{"", "  ", `{"name":`} {
		err = v.Validate([]byte(body), id)
		assert.Equal(t, core.EInvalid, core.ErrorCode(err), body)
		assert.False(t, errors.As(err, &verr), body)
	}

	err = v.Validate([]byte(`{}`), schema.BaseID+"unknown.json")
	assert.Equal(t, core.EInternal, core.ErrorCode(err))
}

func TestManagementSchemas(t *testing.T) {
	v, err := schema.NewManagementValidator()
	require.NoError(t, err)

	for _, tc := range []struct {
		schemaID string
		json     string
		valid    bool
	}{
		{schema.ApplicationID, `{"name":"shop"}`, true},
		{schema.ApplicationID, `{"description":"no name"}`, false},
		{schema.ApplicationID, `{"name":"shop","access_token":"mine"}`, false},
		{schema.ApplicationPatchID, `{"description":"new"}`, true},
		{schema.ObjectTypeID, `{"name":"Users","id_field":"id"}`, true},
		{schema.ObjectTypeID, `{"name":"a/b"}`, false},
		{schema.ObjectTypeID, `{"route_pattern":"/users/"}`, false},
		{schema.ObjectTypePatchID, `{"proxy_fun_code":"resource"}`, true},
		{schema.UserID, `{"user_name":"joe","password":"secret","groups":["drivers"]}`, true},
		{schema.UserID, `{"user_name":"joe"}`, false},
		{schema.UserPatchID, `{"groups":[1]}`, false},
		{schema.UserGroupID, `{"name":"drivers"}`, true},
		{schema.StaticRouteID, `{"route":"/hello","response":{"hello":"world"}}`, true},
		{schema.StaticRouteID, `{"route":"/hello","status":42,"response":{}}`, false},
		{schema.EventCallbackID, `{"url":"https://example.com/hook"}`, true},
		{schema.EventCallbackID, `{"url":"ftp://example.com"}`, false},
	} {
		err := v.Validate([]byte(tc.json), tc.schemaID)
		if tc.valid {
			assert.NoError(t, err, tc.json)
		} else {
			assert.Error(t, err, tc.json)
		}
	}
}
