package loader

// CanvasDefinition is the YAML document describing a canvas
type CanvasDefinition struct {
	// Metadata about the canvas
	Metadata CanvasMetadata `yaml:"metadata"`

	// Nodes keyed by node ID
	Nodes map[string]NodeDefinition `yaml:"nodes"`

	// Edges connecting the nodes
	Edges []EdgeDefinition `yaml:"edges"`
}

// CanvasMetadata contains canvas-level information
type CanvasMetadata struct {
	// Name of the canvas
	Name string `yaml:"name"`

	// Description of the canvas
	Description string `yaml:"description"`
}

// NodeDefinition describes one node in a canvas definition
type NodeDefinition struct {
	// Type determines which processor handles the node
	Type string `yaml:"type"`

	// Name is the display name of the node
	Name string `yaml:"name"`

	// Config holds node configuration
	Config map[string]interface{} `yaml:"config"`

	// Position of the node on the canvas
	Position PositionDefinition `yaml:"position"`

	// Handles declared on the node
	Handles []HandleDefinition `yaml:"handles"`
}

// PositionDefinition is a canvas coordinate
type PositionDefinition struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// HandleDefinition describes a typed port on a node
type HandleDefinition struct {
	// Name of the handle (e.g. "prompt", "image")
	Name string `yaml:"name"`

	// Kind is either "input" or "output"
	Kind string `yaml:"kind"`

	// DataType describes the payload carried by the handle
	DataType string `yaml:"data_type"`
}

// EdgeDefinition describes a directed connection between two nodes
type EdgeDefinition struct {
	// From is the source node ID
	From string `yaml:"from"`

	// FromHandle is the output handle name on the source node
	FromHandle string `yaml:"from_handle"`

	// To is the target node ID
	To string `yaml:"to"`

	// ToHandle is the input handle name on the target node
	ToHandle string `yaml:"to_handle"`
}
