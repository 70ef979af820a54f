// Package models defines the data structures shared across canvasrunner.
package models

import "time"

// Canvas represents a user's node graph
type Canvas struct {
	// ID of the canvas
	ID string `json:"id"`

	// Name of the canvas
	Name string `json:"name"`

	// Description of the canvas
	Description string `json:"description,omitempty"`

	// CreatedAt is when the canvas was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the canvas was last updated
	UpdatedAt time.Time `json:"updated_at"`
}

// Node represents a vertex in a canvas graph
type Node struct {
	// ID of the node
	ID string `json:"id"`

	// CanvasID is the ID of the canvas that owns the node
	CanvasID string `json:"canvas_id"`

	// Type determines which processor handles the node
	Type string `json:"type"`

	// Name is the display name of the node
	Name string `json:"name,omitempty"`

	// Config holds node configuration, opaque to the scheduler
	Config map[string]interface{} `json:"config,omitempty"`

	// Result is the last computed output of the node, opaque to the
	// scheduler and consumed by downstream processors
	Result map[string]interface{} `json:"result,omitempty"`

	// PositionX is the horizontal canvas position (UI only)
	PositionX float64 `json:"position_x,omitempty"`

	// PositionY is the vertical canvas position (UI only)
	PositionY float64 `json:"position_y,omitempty"`

	// CreatedAt is when the node was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the node was last updated
	UpdatedAt time.Time `json:"updated_at"`
}

// Handle kinds
const (
	// HandleInput marks an input port
	HandleInput = "input"

	// HandleOutput marks an output port
	HandleOutput = "output"
)

// Handle represents a typed input or output port on a node
type Handle struct {
	// ID of the handle
	ID string `json:"id"`

	// NodeID is the ID of the node that owns the handle
	NodeID string `json:"node_id"`

	// Name of the handle (e.g. "prompt", "image")
	Name string `json:"name"`

	// Kind is either "input" or "output"
	Kind string `json:"kind"`

	// DataType describes the payload carried by the handle
	DataType string `json:"data_type,omitempty"`
}

// Edge represents a directed connection between two node handles
type Edge struct {
	// ID of the edge
	ID string `json:"id"`

	// CanvasID is the ID of the canvas that owns the edge
	CanvasID string `json:"canvas_id"`

	// SourceNodeID is the node producing the value
	SourceNodeID string `json:"source_node_id"`

	// SourceHandleID is the output handle on the source node
	SourceHandleID string `json:"source_handle_id,omitempty"`

	// TargetNodeID is the node consuming the value
	TargetNodeID string `json:"target_node_id"`

	// TargetHandleID is the input handle on the target node
	TargetHandleID string `json:"target_handle_id,omitempty"`
}

// CanvasSnapshot bundles everything the scheduler and processors need to
// resolve a canvas during one execution. It is read-only by convention.
type CanvasSnapshot struct {
	// Canvas is the owning canvas
	Canvas Canvas `json:"canvas"`

	// Nodes indexed by node ID
	Nodes map[string]*Node `json:"nodes"`

	// Edges is the full edge list for the canvas
	Edges []Edge `json:"edges"`

	// Handles indexed by handle ID
	Handles map[string]*Handle `json:"handles"`
}
