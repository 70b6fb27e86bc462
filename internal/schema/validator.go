// Package schema validates every inbound payload against strict embedded
// JSON-Schema documents before anything else may look at it.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names. These are also the dispatch keys of the DLQ retry scheduler.
const (
	Observation  = "observation"
	Confirmation = "confirmation"
	Signal       = "signal"
	Intent       = "intent"
)

var schemaNames = []string{Observation, Confirmation, Signal, Intent}

// ErrUnknownSchema is returned when a payload names a schema that is not
// shipped with the engine.
var ErrUnknownSchema = fmt.Errorf("unknown schema")

// Validator holds the compiled schemas. Construction fails fatally if any
// shipped schema is missing or does not compile.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for _, name := range schemaNames {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("schema %s missing: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("schema %s unreadable: %w", name, err)
		}
		if err := c.AddResource(name+".json", doc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(schemaNames))
	for _, name := range schemaNames {
		s, err := c.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("schema %s does not compile: %w", name, err)
		}
		compiled[name] = s
	}

	return &Validator{schemas: compiled}, nil
}

// Validate checks a raw JSON payload against the named schema. A nil slice
// means the payload passed. A non-nil error means the validator itself could
// not run (unknown schema); that is distinct from a validation failure.
func (v *Validator) Validate(name string, payload []byte) ([]string, error) {
	s, ok := v.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return []string{fmt.Sprintf("payload is not valid JSON: %v", err)}, nil
	}

	if err := s.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return flatten(ve), nil
		}
		return []string{err.Error()}, nil
	}
	return nil, nil
}

// ValidateValue marshals a typed value and validates the resulting JSON.
func (v *Validator) ValidateValue(name string, value any) ([]string, []byte, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, nil, err
	}
	errs, verr := v.Validate(name, payload)
	return errs, payload, verr
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// flatten collects leaf causes so DLQ entries carry one message per problem.
func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		return []string{ve.Error()}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
