package services

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request body schemas.
const (
	SchemaJobCreate  = "job_create"
	SchemaFeedback   = "feedback"
	SchemaUsageBatch = "usage_batch"
	SchemaVerify     = "verify"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every embedded schema, keyed by file name without extension.
func NewValidator() (*Validator, error) {
	names, err := fs.Glob(schemaFiles, "schemas/*.json")
	if err != nil {
		return nil, err
	}
	schemas := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		data, err := schemaFiles.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		key := strings.TrimSuffix(path.Base(name), ".json")
		id := "https://testforpay.app/schemas/" + key + ".json"
		schemas[key], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", key, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate rejects body if it is not JSON or does not match the named schema.
func (v *Validator) Validate(schema string, body []byte) error {
	s, ok := v.schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ErrValidation can be used with errors.Is to detect rejected input.
var ErrValidation = errors.New("validation failed")
