package models

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed workflow.schema.json
var workflowSchema []byte

// ErrInvalidDefinition is returned when a definition document does not
// match the workflow schema.
var ErrInvalidDefinition = errors.New("invalid workflow definition document")

var workflowSchemaLoader = gojsonschema.NewBytesLoader(workflowSchema)

// WorkflowSchema returns the JSON schema definition documents are checked against.
func WorkflowSchema() []byte {
	return append([]byte(nil), workflowSchema...)
}

// ValidateDefinitionSchema checks a decoded definition document against the
// workflow JSON schema.
func ValidateDefinitionSchema(document any) error {
	result, err := gojsonschema.Validate(workflowSchemaLoader, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if !result.Valid() {
		var messages []string
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(messages, "; "))
	}

	return nil
}

// DecodeDefinition reads a YAML or JSON workflow definition, checks it
// against the schema and returns the workflow with its patient association
// normalized. Steps are returned as written; callers normalize them.
func DecodeDefinition(data []byte) (*Workflow, error) {
	var document map[string]any

	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	if document == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}

	err = ValidateDefinitionSchema(document)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	var workflow Workflow

	err = json.Unmarshal(raw, &workflow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	return NormalizePatientAssociation(&workflow), nil
}
