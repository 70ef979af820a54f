// Package loader parses YAML canvas definitions and imports them into a
// canvas store.
package loader

import (
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// CanvasLoader converts YAML canvas definitions into persisted canvases
type CanvasLoader interface {
	// Parse converts a YAML string into a canvas definition
	Parse(yamlContent string) (*CanvasDefinition, error)

	// Validate checks if a YAML string conforms to the schema
	Validate(yamlContent string) error

	// Import parses a YAML definition and persists it under the given
	// canvas ID, replacing any existing canvas with that ID
	Import(store storage.CanvasStore, canvasID, yamlContent string) (models.Canvas, error)
}
