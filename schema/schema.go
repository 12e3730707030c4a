// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates payloads against JSON schemas keyed by schema
// version, one compiled gojsonschema.Schema per version the way the
// teacher's schema.Validator keeps one per $id, so a manager that has
// accumulated several SchemaVersion generations can still validate writes
// against whichever version a caller targets.
package schema

import (
	"embed"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Validator holds one compiled schema per schema version.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidatorFromFS loads every "<version>.json" file in schemaFS's root
// as a top-level schema version, and every file under refs/ as a shared
// reference schema.
func NewValidatorFromFS(schemaFS embed.FS) (*Validator, error) {
	readDir := func(dir string) ([]string, error) {
		var out []string
		files, err := schemaFS.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			path := f.Name()
			if dir != "." {
				path = dir + "/" + f.Name()
			}
			data, err := schemaFS.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read file %s: %w", path, err)
			}
			out = append(out, string(data))
		}
		return out, nil
	}

	schemas, err := readDir(".")
	if err != nil {
		return nil, err
	}
	refs, err := readDir("refs")
	if err != nil {
		return nil, err
	}
	return NewValidator(schemas, refs)
}

// NewValidator builds a Validator from schema document strings, each
// carrying a "$id" used as its version key, plus shared ref documents.
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type idOnly struct {
		ID string `json:"$id"`
	}
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for _, doc := range schemas {
		var meta idOnly
		if err := json.Unmarshal([]byte(doc), &meta); err != nil {
			return nil, fmt.Errorf("parse schema: %w", err)
		}
		if meta.ID == "" {
			return nil, fmt.Errorf("schema missing $id: %s", doc)
		}
		loader := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := loader.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("add ref schema: %w", err)
			}
		}
		compiled, err := loader.Compile(gojsonschema.NewStringLoader(doc))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", meta.ID, err)
		}
		v.schemas[meta.ID] = compiled
	}
	return v, nil
}

// ManagerValidator adapts v into the func(T) error shape
// manager.Builder.Validator expects: every payload is validated with
// ValidateStruct against the fixed schema version, the same role the
// teacher's resourceHandler.Validator plays for a collection's JSON schema.
func ManagerValidator[T any](v *Validator, version string) func(data T) error {
	return func(data T) error {
		return v.ValidateStruct(version, data)
	}
}

// HasVersion reports whether version has a compiled schema.
func (v *Validator) HasVersion(version string) bool {
	_, ok := v.schemas[version]
	return ok
}

// ValidateStruct validates a Go value (typically the decoded-to-map
// payload) against version's schema.
func (v *Validator) ValidateStruct(version string, value interface{}) error {
	return v.validate(version, gojsonschema.NewGoLoader(value))
}

// ValidateBytes validates raw JSON bytes against version's schema.
func (v *Validator) ValidateBytes(version string, data []byte) error {
	return v.validate(version, gojsonschema.NewBytesLoader(data))
}

func (v *Validator) validate(version string, loader gojsonschema.JSONLoader) error {
	compiled, ok := v.schemas[version]
	if !ok {
		return resource.NewError(resource.KindSchemaConflict, "no schema registered for version %q", version)
	}
	result, err := compiled.Validate(loader)
	if err != nil {
		return resource.Wrap(resource.KindValidationError, err, "validate against schema %q", version)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return resource.NewError(resource.KindValidationError, "schema %q: %s", version, strings.Join(msgs, "; "))
	}
	return nil
}
