// Package processors provides per-node-type processing units and their
// registry. Processors are invoked by the scheduler, exactly once per node
// per execution attempt, and must tolerate re-invocation after a crash.
package processors

import (
	"context"

	"github.com/tcmartin/canvasrunner/pkg/logging"
	"github.com/tcmartin/canvasrunner/pkg/models"
	"github.com/tcmartin/canvasrunner/pkg/utils"
)

// ProcessorResult is the normalized outcome of one processor invocation
type ProcessorResult struct {
	// Success indicates whether the node completed
	Success bool `json:"success"`

	// Error holds a human-readable failure message
	Error string `json:"error,omitempty"`

	// NewResult is the node's new computed result, opaque to the scheduler
	NewResult map[string]interface{} `json:"new_result,omitempty"`
}

// Failure creates a failed ProcessorResult with the given message
func Failure(message string) ProcessorResult {
	return ProcessorResult{Success: false, Error: message}
}

// Success creates a successful ProcessorResult with the given node result
func Success(result map[string]interface{}) ProcessorResult {
	return ProcessorResult{Success: true, NewResult: result}
}

// ExecutionContext bundles everything a processor may read during one
// invocation. Processors never mutate task state; only the scheduler does.
type ExecutionContext struct {
	// Batch is the owning batch
	Batch models.TaskBatch

	// Node is the node being processed
	Node *models.Node

	// Snapshot is the full canvas graph for this execution
	Snapshot *models.CanvasSnapshot

	// Config is the node configuration with expressions resolved
	Config map[string]interface{}

	// AI is the media generation client bound to the batch API key
	AI *utils.AIClient

	// APIKey is the per-execution key forwarded by the trigger
	APIKey string

	// Logger scoped to the batch and node
	Logger logging.Logger
}

// Inputs resolves the node's upstream results, keyed by the target input
// handle name where one exists, falling back to the source node ID.
// Upstream nodes without a computed result are omitted.
func (ec *ExecutionContext) Inputs() map[string]interface{} {
	inputs := make(map[string]interface{})

	for _, edge := range ec.Snapshot.Edges {
		if edge.TargetNodeID != ec.Node.ID {
			continue
		}
		source, ok := ec.Snapshot.Nodes[edge.SourceNodeID]
		if !ok || source.Result == nil {
			continue
		}

		key := edge.SourceNodeID
		if handle, ok := ec.Snapshot.Handles[edge.TargetHandleID]; ok && handle.Name != "" {
			key = handle.Name
		}
		inputs[key] = source.Result
	}

	return inputs
}

// NodeProcessor is the processing unit for one node type
type NodeProcessor interface {
	// Process executes the node and reports its outcome. Implementations
	// must be safe to re-invoke: a prior attempt's side effects may or
	// may not have completed.
	Process(ctx context.Context, ec *ExecutionContext) ProcessorResult
}

// ProcessorFunc adapts a function to the NodeProcessor interface
type ProcessorFunc func(ctx context.Context, ec *ExecutionContext) ProcessorResult

// Process executes the node and reports its outcome
func (f ProcessorFunc) Process(ctx context.Context, ec *ExecutionContext) ProcessorResult {
	return f(ctx, ec)
}
