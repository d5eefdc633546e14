// Package document converts workflow definitions to and from the
// transportable export format.
package document

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/ticketflow/pkg/models"
)

const (
	Format  = "ticketflow/workflow"
	Version = 1
)

// ErrInvalidDocument indicates the payload is not a valid workflow document.
var ErrInvalidDocument = errors.New("invalid workflow document")

//go:embed schema.json
var schemaJSON []byte

var schema = mustSchema()

// Document is the export envelope.
type Document struct {
	Format     string                     `json:"format"`
	Version    int                        `json:"version"`
	ExportedAt time.Time                  `json:"exported_at"`
	Definition *models.WorkflowDefinition `json:"definition"`
}

// Encode renders definition with its transitions as an export document.
func Encode(definition *models.WorkflowDefinition, exportedAt time.Time) ([]byte, error) {
	if definition == nil {
		return nil, fmt.Errorf("%w: no definition", ErrInvalidDocument)
	}

	data, err := json.MarshalIndent(Document{
		Format:     Format,
		Version:    Version,
		ExportedAt: exportedAt.UTC(),
		Definition: definition,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow document: %w", err)
	}

	return data, nil
}

// Decode validates data against the document schema and returns the
// definition it carries. Identifiers and flags are returned as found;
// callers importing the definition reset them.
func Decode(data []byte) (*models.WorkflowDefinition, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(messages, "; "))
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return doc.Definition, nil
}

func mustSchema() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("document: invalid embedded schema: %v", err))
	}

	return s
}
