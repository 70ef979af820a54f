package loader

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/processors"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

// DefaultCanvasLoader implements the CanvasLoader interface
type DefaultCanvasLoader struct {
	registry *processors.Registry
}

// NewCanvasLoader creates a new canvas loader. Node types are validated
// against the given processor registry.
func NewCanvasLoader(registry *processors.Registry) CanvasLoader {
	return &DefaultCanvasLoader{
		registry: registry,
	}
}

// Parse converts a YAML string into a canvas definition
func (l *DefaultCanvasLoader) Parse(yamlContent string) (*CanvasDefinition, error) {
	if err := l.Validate(yamlContent); err != nil {
		return nil, err
	}

	var def CanvasDefinition
	if err := yaml.Unmarshal([]byte(yamlContent), &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// yaml.v2 produces map[interface{}]interface{} for nested maps;
	// normalize so configs round-trip through JSON storage
	for id, node := range def.Nodes {
		node.Config = normalizeMap(node.Config)
		def.Nodes[id] = node
	}

	return &def, nil
}

// Validate checks if a YAML string conforms to the schema
func (l *DefaultCanvasLoader) Validate(yamlContent string) error {
	var def CanvasDefinition
	if err := yaml.Unmarshal([]byte(yamlContent), &def); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	if def.Metadata.Name == "" {
		return fmt.Errorf("canvas name is required")
	}

	if len(def.Nodes) == 0 {
		return fmt.Errorf("canvas must have at least one node")
	}

	for nodeID, node := range def.Nodes {
		if node.Type == "" {
			return fmt.Errorf("node '%s' has no type", nodeID)
		}
		if _, err := l.registry.Template(node.Type); err != nil {
			return fmt.Errorf("unknown node type '%s' in node '%s'", node.Type, nodeID)
		}
		for _, handle := range node.Handles {
			if handle.Name == "" {
				return fmt.Errorf("node '%s' declares a handle with no name", nodeID)
			}
			if handle.Kind != models.HandleInput && handle.Kind != models.HandleOutput {
				return fmt.Errorf("handle '%s' on node '%s' has invalid kind '%s'", handle.Name, nodeID, handle.Kind)
			}
		}
	}

	for _, edge := range def.Edges {
		source, ok := def.Nodes[edge.From]
		if !ok {
			return fmt.Errorf("edge references non-existent source node '%s'", edge.From)
		}
		target, ok := def.Nodes[edge.To]
		if !ok {
			return fmt.Errorf("edge references non-existent target node '%s'", edge.To)
		}
		if edge.FromHandle != "" && !hasHandle(source, edge.FromHandle, models.HandleOutput) {
			return fmt.Errorf("edge references unknown output handle '%s' on node '%s'", edge.FromHandle, edge.From)
		}
		if edge.ToHandle != "" && !hasHandle(target, edge.ToHandle, models.HandleInput) {
			return fmt.Errorf("edge references unknown input handle '%s' on node '%s'", edge.ToHandle, edge.To)
		}
	}

	return nil
}

// Import parses a YAML definition and persists it under the given canvas ID
func (l *DefaultCanvasLoader) Import(store storage.CanvasStore, canvasID, yamlContent string) (models.Canvas, error) {
	def, err := l.Parse(yamlContent)
	if err != nil {
		return models.Canvas{}, err
	}

	now := time.Now()
	canvas := models.Canvas{
		ID:          canvasID,
		Name:        def.Metadata.Name,
		Description: def.Metadata.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := store.SaveCanvas(canvas); err != nil {
		return models.Canvas{}, fmt.Errorf("failed to save canvas: %w", err)
	}

	for nodeID, nodeDef := range def.Nodes {
		node := models.Node{
			ID:        nodeID,
			CanvasID:  canvasID,
			Type:      nodeDef.Type,
			Name:      nodeDef.Name,
			Config:    nodeDef.Config,
			PositionX: nodeDef.Position.X,
			PositionY: nodeDef.Position.Y,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := store.SaveNode(node); err != nil {
			return models.Canvas{}, fmt.Errorf("failed to save node '%s': %w", nodeID, err)
		}

		for _, handleDef := range nodeDef.Handles {
			handle := models.Handle{
				ID:       handleID(nodeID, handleDef.Name),
				NodeID:   nodeID,
				Name:     handleDef.Name,
				Kind:     handleDef.Kind,
				DataType: handleDef.DataType,
			}
			if err := store.SaveHandle(handle); err != nil {
				return models.Canvas{}, fmt.Errorf("failed to save handle '%s': %w", handle.ID, err)
			}
		}
	}

	for _, edgeDef := range def.Edges {
		edge := models.Edge{
			ID:           fmt.Sprintf("%s->%s", edgeDef.From, edgeDef.To),
			CanvasID:     canvasID,
			SourceNodeID: edgeDef.From,
			TargetNodeID: edgeDef.To,
		}
		if edgeDef.FromHandle != "" {
			edge.SourceHandleID = handleID(edgeDef.From, edgeDef.FromHandle)
			edge.ID = fmt.Sprintf("%s:%s->%s", edgeDef.From, edgeDef.FromHandle, edgeDef.To)
		}
		if edgeDef.ToHandle != "" {
			edge.TargetHandleID = handleID(edgeDef.To, edgeDef.ToHandle)
			edge.ID = edge.ID + ":" + edgeDef.ToHandle
		}
		if err := store.SaveEdge(edge); err != nil {
			return models.Canvas{}, fmt.Errorf("failed to save edge '%s': %w", edge.ID, err)
		}
	}

	return canvas, nil
}

func handleID(nodeID, handleName string) string {
	return nodeID + ":" + handleName
}

func hasHandle(node NodeDefinition, name, kind string) bool {
	for _, handle := range node.Handles {
		if handle.Name == name && handle.Kind == kind {
			return true
		}
	}
	return false
}

func normalizeMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for key, nested := range typed {
			out[fmt.Sprintf("%v", key)] = normalizeValue(nested)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, nested := range typed {
			out[i] = normalizeValue(nested)
		}
		return out
	default:
		return value
	}
}
