package processors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/utils"
)

func newContext(node *models.Node, snapshot *models.CanvasSnapshot, config map[string]interface{}) *ExecutionContext {
	if snapshot == nil {
		snapshot = &models.CanvasSnapshot{
			Nodes:   map[string]*models.Node{node.ID: node},
			Handles: map[string]*models.Handle{},
		}
	}
	return &ExecutionContext{
		Batch:    models.TaskBatch{ID: "b-1", CanvasID: "c-1"},
		Node:     node,
		Snapshot: snapshot,
		Config:   config,
		Logger:   logging.NewNopLogger(),
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterCore(registry))

	processor, err := registry.Get(TypeTextPrompt)
	require.NoError(t, err)
	assert.NotNil(t, processor)

	_, err = registry.Get("unknown.type")
	assert.Error(t, err)

	// Duplicate registration is refused
	err = registry.Register(Template{Type: TypeTextPrompt}, ProcessorFunc(processTextPrompt))
	assert.Error(t, err)

	template, err := registry.Template(TypeExportMedia)
	require.NoError(t, err)
	assert.True(t, template.Terminal)

	assert.Len(t, registry.List(), 6)
}

func TestTextPromptFromConfig(t *testing.T) {
	node := &models.Node{ID: "n-1", Type: TypeTextPrompt}
	result := processTextPrompt(context.Background(), newContext(node, nil, map[string]interface{}{
		"text": "a mountain at dawn",
	}))

	require.True(t, result.Success)
	assert.Equal(t, "a mountain at dawn", result.NewResult["text"])
}

func TestTextPromptWithoutText(t *testing.T) {
	node := &models.Node{ID: "n-1", Type: TypeTextPrompt}
	result := processTextPrompt(context.Background(), newContext(node, nil, map[string]interface{}{}))

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestExecutionContextInputs(t *testing.T) {
	upstream := &models.Node{
		ID: "up", Type: TypeTextPrompt,
		Result: map[string]interface{}{"text": "hello"},
	}
	bare := &models.Node{ID: "bare", Type: TypeTextPrompt}
	node := &models.Node{ID: "n-1", Type: TypeImageGenerate}

	snapshot := &models.CanvasSnapshot{
		Nodes: map[string]*models.Node{"up": upstream, "bare": bare, "n-1": node},
		Edges: []models.Edge{
			{ID: "e-1", SourceNodeID: "up", TargetNodeID: "n-1", TargetHandleID: "h-prompt"},
			{ID: "e-2", SourceNodeID: "bare", TargetNodeID: "n-1"},
		},
		Handles: map[string]*models.Handle{
			"h-prompt": {ID: "h-prompt", NodeID: "n-1", Name: "prompt", Kind: models.HandleInput},
		},
	}

	inputs := newContext(node, snapshot, nil).Inputs()

	// Keyed by handle name when resolvable
	require.Contains(t, inputs, "prompt")
	assert.Equal(t, "hello", inputs["prompt"].(map[string]interface{})["text"])

	// Upstream nodes without results are omitted
	assert.NotContains(t, inputs, "bare")
}

func TestMediaProcessorGeneratesImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer batch-key", r.Header.Get("Authorization"))
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "a mountain at dawn", body["prompt"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []interface{}{map[string]interface{}{"url": "https://cdn.example.com/img.png"}},
		})
	}))
	defer server.Close()

	upstream := &models.Node{
		ID: "up", Type: TypeTextPrompt,
		Result: map[string]interface{}{"text": "a mountain at dawn"},
	}
	node := &models.Node{ID: "n-1", Type: TypeImageGenerate}
	snapshot := &models.CanvasSnapshot{
		Nodes:   map[string]*models.Node{"up": upstream, "n-1": node},
		Edges:   []models.Edge{{ID: "e-1", SourceNodeID: "up", TargetNodeID: "n-1"}},
		Handles: map[string]*models.Handle{},
	}

	ec := newContext(node, snapshot, map[string]interface{}{"model": "image-model"})
	ec.AI = utils.NewAIClient(utils.Generic, "default-key", server.URL)
	ec.APIKey = "batch-key"

	processor := &mediaProcessor{kind: "image"}
	result := processor.Process(context.Background(), ec)

	require.True(t, result.Success, result.Error)
	assert.Equal(t, "https://cdn.example.com/img.png", result.NewResult["url"])
	assert.Equal(t, "image", result.NewResult["kind"])
}

func TestMediaProcessorWithoutPrompt(t *testing.T) {
	node := &models.Node{ID: "n-1", Type: TypeImageGenerate}
	ec := newContext(node, nil, map[string]interface{}{})
	ec.AI = utils.NewAIClient(utils.Generic, "key", "http://example.com")

	result := (&mediaProcessor{kind: "image"}).Process(context.Background(), ec)
	assert.False(t, result.Success)
}

func TestTransformRunsScript(t *testing.T) {
	upstream := &models.Node{
		ID: "up", Type: TypeTextPrompt,
		Result: map[string]interface{}{"text": "hello"},
	}
	node := &models.Node{ID: "n-1", Type: TypeTransform}
	snapshot := &models.CanvasSnapshot{
		Nodes:   map[string]*models.Node{"up": upstream, "n-1": node},
		Edges:   []models.Edge{{ID: "e-1", SourceNodeID: "up", TargetNodeID: "n-1"}},
		Handles: map[string]*models.Handle{},
	}

	ec := newContext(node, snapshot, map[string]interface{}{
		"script": `({text: inputs.up.text.toUpperCase()})`,
	})

	result := processTransform(context.Background(), ec)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "HELLO", result.NewResult["text"])
}

func TestTransformScriptError(t *testing.T) {
	node := &models.Node{ID: "n-1", Type: TypeTransform}
	ec := newContext(node, nil, map[string]interface{}{"script": "definitely not js ]["})

	result := processTransform(context.Background(), ec)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "transform script failed")
}

func TestExportFindsUpstreamMedia(t *testing.T) {
	upstream := &models.Node{
		ID: "gen", Type: TypeImageGenerate,
		Result: map[string]interface{}{"url": "https://cdn.example.com/img.png"},
	}
	node := &models.Node{ID: "n-1", Type: TypeExportMedia}
	snapshot := &models.CanvasSnapshot{
		Nodes:   map[string]*models.Node{"gen": upstream, "n-1": node},
		Edges:   []models.Edge{{ID: "e-1", SourceNodeID: "gen", TargetNodeID: "n-1"}},
		Handles: map[string]*models.Handle{},
	}

	result := processExport(context.Background(), newContext(node, snapshot, map[string]interface{}{}))
	require.True(t, result.Success)
	assert.Equal(t, "https://cdn.example.com/img.png", result.NewResult["url"])
	assert.Equal(t, "library", result.NewResult["destination"])
}

func TestExportWithoutMedia(t *testing.T) {
	node := &models.Node{ID: "n-1", Type: TypeExportMedia}
	result := processExport(context.Background(), newContext(node, nil, map[string]interface{}{}))
	assert.False(t, result.Success)
}
