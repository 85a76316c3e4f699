// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package schema validates the JSON payloads of the management API.

Schemas are loaded from a file system. Every JSON file in the root directory
is a payload schema, every JSON file in refs/ is a shared definition payload
schemas may reference. The $id of a schema is BaseID followed by its path, for
example BaseID+"user.json" or BaseID+"refs/name.json".

A payload which violates its schema yields a core.EInvalid error that lists
every violation with the offending field.
*/
package schema

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/relabs-tech/dummyapi/core"
)

// BaseID is the prefix of all schema ids
const BaseID = "https://dummyapi.relabs.tech/schemas/"

// refsDir holds the shared definitions
const refsDir = "refs"

// FieldError is one violation of a payload
type FieldError struct {
	// Field is the dotted path of the offending field, empty for the payload itself
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError lists the violations of a payload, ordered by field
type ValidationError struct {
	SchemaID string
	Fields   []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if f.Field == "" {
			parts[i] = f.Message
			continue
		}
		parts[i] = f.Field + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

// Validator validates payloads against compiled schemas
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

type schemaFile struct {
	path string
	data []byte
}

// Load compiles all schemas of fsys
func Load(fsys fs.FS) (*Validator, error) {
	var schemas, refs []schemaFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == "." || p == refsDir {
				return nil
			}
			return fs.SkipDir
		}
		if path.Ext(p) != ".json" {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if err = checkID(p, data); err != nil {
			return err
		}
		if path.Dir(p) == refsDir {
			refs = append(refs, schemaFile{p, data})
		} else {
			schemas = append(schemas, schemaFile{p, data})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot load schemas: %w", err)
	}

	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(schemas))}
	for _, s := range schemas {
		loader := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err = loader.AddSchemas(gojsonschema.NewBytesLoader(ref.data)); err != nil {
				return nil, fmt.Errorf("cannot add schema %s: %w", ref.path, err)
			}
		}
		compiled, err := loader.Compile(gojsonschema.NewBytesLoader(s.data))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", s.path, err)
		}
		v.schemas[BaseID+s.path] = compiled
	}
	return v, nil
}

// checkID verifies that the schema at p declares the id derived from p
func checkID(p string, data []byte) error {
	var header struct {
		ID string `json:"$id"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return fmt.Errorf("schema %s: %w", p, err)
	}
	if header.ID != BaseID+p {
		return fmt.Errorf("schema %s has $id %q, expected %q", p, header.ID, BaseID+p)
	}
	return nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemas[schemaID]
	return ok
}

// Validate validates the JSON payload body against schemaID. Violations and
// malformed JSON are reported as core.EInvalid, the former wrapping a
// *ValidationError.
func (v *Validator) Validate(body []byte, schemaID string) error {
	s, ok := v.schemas[schemaID]
	if !ok {
		return core.Errorf(core.EInternal, "schema.Validate", "unknown schema %s", schemaID)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return core.Errorf(core.EInvalid, "schema.Validate", "missing %s", payloadName(schemaID))
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return core.Errorf(core.EInvalid, "schema.Validate", "malformed %s: %v", payloadName(schemaID), err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{SchemaID: schemaID}
	for _, re := range result.Errors() {
		verr.Fields = append(verr.Fields, fieldError(re))
	}
	sort.SliceStable(verr.Fields, func(i, j int) bool { return verr.Fields[i].Field < verr.Fields[j].Field })
	return &core.Error{
		Code: core.EInvalid,
		Op:   "schema.Validate",
		Msg:  "invalid " + payloadName(schemaID),
		Err:  verr,
	}
}

// fieldError names the offending field. Missing required properties are
// reported on the property, not on the enclosing object.
func fieldError(re gojsonschema.ResultError) FieldError {
	field := re.Field()
	if field == gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
		field = ""
	}
	if re.Type() == "required" {
		if property, ok := re.Details()["property"].(string); ok {
			if field != "" {
				property = field + "." + property
			}
			return FieldError{Field: property, Message: "is required"}
		}
	}
	if re.Type() == "additional_property_not_allowed" {
		if property, ok := re.Details()["property"].(string); ok {
			if field != "" {
				property = field + "." + property
			}
			return FieldError{Field: property, Message: "is not allowed"}
		}
	}
	return FieldError{Field: field, Message: re.Description()}
}

// payloadName turns a schema id into a readable name, e.g. "object type"
func payloadName(schemaID string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(schemaID, BaseID), ".json")
	return strings.ReplaceAll(name, "_", " ")
}
