package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	schemasassets "github.com/3leaps/psub/internal/assets/schemas"
)

const schemaURL = "job-manifest.schema.json"

var (
	// ErrSchemaNotFound indicates the embedded schema is missing.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	schemaOnce sync.Once
	compiled   *jsonschema.Schema
	compileErr error
)

// ValidationError is a single schema violation.
type ValidationError struct {
	// Path is the JSON pointer to the offending value (e.g. "/resources/cores").
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every violation found in one document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a manifest value against the schema.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}
	return ValidateRaw(data)
}

// ValidateRaw checks raw JSON against the schema, including unknown fields.
func ValidateRaw(jsonData []byte) error {
	var doc any
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return fmt.Errorf("invalid JSON in manifest: %w", err)
	}
	return validateDocument(doc)
}

func validateDocument(doc any) error {
	s, err := schema()
	if err != nil {
		return err
	}

	err = s.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema validation error: %w", err)
	}

	errs := collect(verr, nil)
	if len(errs) == 0 {
		errs = ValidationErrors{{Path: verr.InstanceLocation, Message: verr.Message}}
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

// collect flattens the leaf causes of a schema error.
func collect(e *jsonschema.ValidationError, out ValidationErrors) ValidationErrors {
	if len(e.Causes) == 0 {
		return append(out, ValidationError{Path: e.InstanceLocation, Message: e.Message})
	}
	for _, c := range e.Causes {
		out = collect(c, out)
	}
	return out
}

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemasassets.JobManifestSchema) == 0 {
			compileErr = fmt.Errorf("%w: embedded job-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemasassets.JobManifestSchema)); err != nil {
			compileErr = fmt.Errorf("failed to load manifest schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile manifest schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}
