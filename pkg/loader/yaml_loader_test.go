package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/processors"
	"github.com/tcmartin/canvasrunner/pkg/storage"
)

const sampleCanvasYAML = `
metadata:
  name: Poster pipeline
  description: Prompt to exported image
nodes:
  t1:
    type: text.prompt
    name: Prompt
    config:
      text: a mountain at dawn
    position:
      x: 100
      y: 50
  i1:
    type: image.generate
    config:
      model: image-model
      options:
        size: 1024x1024
    handles:
      - name: prompt
        kind: input
        data_type: text
  e1:
    type: export.media
edges:
  - from: t1
    to: i1
    to_handle: prompt
  - from: i1
    to: e1
`

func newLoader(t *testing.T) CanvasLoader {
	t.Helper()
	registry := processors.NewRegistry()
	require.NoError(t, processors.RegisterCore(registry))
	return NewCanvasLoader(registry)
}

func TestParseCanvasDefinition(t *testing.T) {
	def, err := newLoader(t).Parse(sampleCanvasYAML)
	require.NoError(t, err)

	assert.Equal(t, "Poster pipeline", def.Metadata.Name)
	assert.Len(t, def.Nodes, 3)
	assert.Len(t, def.Edges, 2)

	prompt := def.Nodes["t1"]
	assert.Equal(t, "text.prompt", prompt.Type)
	assert.Equal(t, "a mountain at dawn", prompt.Config["text"])
	assert.Equal(t, float64(100), prompt.Position.X)

	// Nested config maps are normalized to string keys
	generate := def.Nodes["i1"]
	options, ok := generate.Config["options"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1024x1024", options["size"])
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	loader := newLoader(t)

	err := loader.Validate("metadata:\n  description: no name\nnodes:\n  a:\n    type: text.prompt\n")
	assert.ErrorContains(t, err, "canvas name is required")

	err = loader.Validate("metadata:\n  name: empty\n")
	assert.ErrorContains(t, err, "at least one node")

	err = loader.Validate("metadata:\n  name: bad type\nnodes:\n  a:\n    type: no.such.type\n")
	assert.ErrorContains(t, err, "unknown node type")

	err = loader.Validate("metadata:\n  name: bad edge\nnodes:\n  a:\n    type: text.prompt\nedges:\n  - from: a\n    to: ghost\n")
	assert.ErrorContains(t, err, "non-existent target node")

	err = loader.Validate(`
metadata:
  name: bad handle
nodes:
  a:
    type: text.prompt
  b:
    type: export.media
edges:
  - from: a
    to: b
    to_handle: ghost
`)
	assert.ErrorContains(t, err, "unknown input handle")

	err = loader.Validate("metadata: [broken")
	assert.ErrorContains(t, err, "invalid YAML")
}

func TestImportPersistsCanvas(t *testing.T) {
	store := storage.NewMemoryProvider().GetCanvasStore()

	canvas, err := newLoader(t).Import(store, "c-1", sampleCanvasYAML)
	require.NoError(t, err)
	assert.Equal(t, "c-1", canvas.ID)
	assert.Equal(t, "Poster pipeline", canvas.Name)

	snapshot, err := store.GetSnapshot("c-1")
	require.NoError(t, err)
	assert.Len(t, snapshot.Nodes, 3)
	assert.Len(t, snapshot.Edges, 2)

	handle, ok := snapshot.Handles["i1:prompt"]
	require.True(t, ok)
	assert.Equal(t, models.HandleInput, handle.Kind)
	assert.Equal(t, "i1", handle.NodeID)

	// The handle-addressed edge resolves to the declared handle ID
	var promptEdge models.Edge
	for _, edge := range snapshot.Edges {
		if edge.TargetNodeID == "i1" {
			promptEdge = edge
		}
	}
	assert.Equal(t, "i1:prompt", promptEdge.TargetHandleID)
}
