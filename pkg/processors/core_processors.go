package processors

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/tcmartin/canvasrunner/pkg/utils"
)

// Built-in node types
const (
	TypeTextPrompt    = "text.prompt"
	TypeImageGenerate = "image.generate"
	TypeVideoGenerate = "video.generate"
	TypeAudioGenerate = "audio.generate"
	TypeTransform     = "transform"
	TypeExportMedia   = "export.media"
)

// RegisterCore registers the built-in processors on the given registry
func RegisterCore(registry *Registry) error {
	core := []struct {
		template  Template
		processor NodeProcessor
	}{
		{
			Template{Type: TypeTextPrompt, Outputs: []string{"text"}},
			ProcessorFunc(processTextPrompt),
		},
		{
			Template{Type: TypeImageGenerate, Inputs: []string{"prompt"}, Outputs: []string{"image"}},
			&mediaProcessor{kind: "image"},
		},
		{
			Template{Type: TypeVideoGenerate, Inputs: []string{"prompt"}, Outputs: []string{"video"}},
			&mediaProcessor{kind: "video"},
		},
		{
			Template{Type: TypeAudioGenerate, Inputs: []string{"prompt"}, Outputs: []string{"audio"}},
			&mediaProcessor{kind: "audio"},
		},
		{
			Template{Type: TypeTransform, Inputs: []string{"input"}, Outputs: []string{"output"}},
			ProcessorFunc(processTransform),
		},
		{
			Template{Type: TypeExportMedia, Inputs: []string{"media"}, Terminal: true},
			ProcessorFunc(processExport),
		},
	}

	for _, entry := range core {
		if err := registry.Register(entry.template, entry.processor); err != nil {
			return err
		}
	}

	return nil
}

// processTextPrompt resolves the prompt text from configuration or an
// upstream text input and publishes it as the node result.
func processTextPrompt(_ context.Context, ec *ExecutionContext) ProcessorResult {
	text, ok := ec.Config["text"].(string)
	if !ok || text == "" {
		text = upstreamText(ec)
	}
	if text == "" {
		return Failure("text prompt node has no text configured and no upstream text input")
	}

	return Success(map[string]interface{}{"text": text})
}

// mediaProcessor generates an image, video or audio artifact from a prompt
type mediaProcessor struct {
	kind string
}

// Process executes the media generation call
func (p *mediaProcessor) Process(ctx context.Context, ec *ExecutionContext) ProcessorResult {
	if ec.AI == nil {
		return Failure("media generation service is not configured")
	}

	prompt := upstreamText(ec)
	if configured, ok := ec.Config["prompt"].(string); ok && configured != "" {
		prompt = configured
	}
	if prompt == "" {
		return Failure(fmt.Sprintf("%s generation requires a prompt", p.kind))
	}

	req := utils.MediaRequest{Prompt: prompt}
	if model, ok := ec.Config["model"].(string); ok {
		req.Model = model
	}
	if size, ok := ec.Config["size"].(string); ok {
		req.Size = size
	}
	if seconds, ok := ec.Config["seconds"].(float64); ok {
		req.Seconds = int(seconds)
	}

	client := ec.AI
	if ec.APIKey != "" {
		client = client.WithAPIKey(ec.APIKey)
	}

	var result *utils.MediaResult
	var err error
	switch p.kind {
	case "image":
		result, err = client.GenerateImage(ctx, req)
	case "video":
		result, err = client.GenerateVideo(ctx, req)
	case "audio":
		result, err = client.GenerateAudio(ctx, req)
	default:
		return Failure(fmt.Sprintf("unknown media kind '%s'", p.kind))
	}
	if err != nil {
		return Failure(fmt.Sprintf("%s generation failed: %v", p.kind, err))
	}

	return Success(map[string]interface{}{
		"kind":   p.kind,
		"url":    result.URL,
		"model":  result.Model,
		"prompt": prompt,
	})
}

// processTransform runs a user-supplied JavaScript over the node's inputs
func processTransform(_ context.Context, ec *ExecutionContext) ProcessorResult {
	script, ok := ec.Config["script"].(string)
	if !ok || script == "" {
		return Failure("transform node requires a 'script' configuration value")
	}

	vm := goja.New()
	if err := vm.Set("inputs", ec.Inputs()); err != nil {
		return Failure(fmt.Sprintf("failed to bind inputs: %v", err))
	}
	if err := vm.Set("config", ec.Config); err != nil {
		return Failure(fmt.Sprintf("failed to bind config: %v", err))
	}

	value, err := vm.RunString(script)
	if err != nil {
		return Failure(fmt.Sprintf("transform script failed: %v", err))
	}

	exported := value.Export()
	if resultMap, ok := exported.(map[string]interface{}); ok {
		return Success(resultMap)
	}
	return Success(map[string]interface{}{"value": exported})
}

// processExport stages the upstream media artifact for the user. The
// destination write is idempotent: re-running it after a crash simply
// overwrites the same destination reference.
func processExport(_ context.Context, ec *ExecutionContext) ProcessorResult {
	url := upstreamURL(ec)
	if url == "" {
		return Failure("export node found no upstream media to export")
	}

	destination, _ := ec.Config["destination"].(string)
	if destination == "" {
		destination = "library"
	}

	return Success(map[string]interface{}{
		"exported":    true,
		"url":         url,
		"destination": destination,
	})
}

// upstreamText returns the first text value produced by an upstream node
func upstreamText(ec *ExecutionContext) string {
	for _, input := range ec.Inputs() {
		if result, ok := input.(map[string]interface{}); ok {
			if text, ok := result["text"].(string); ok && text != "" {
				return text
			}
		}
	}
	return ""
}

// upstreamURL returns the first media URL produced by an upstream node
func upstreamURL(ec *ExecutionContext) string {
	for _, input := range ec.Inputs() {
		if result, ok := input.(map[string]interface{}); ok {
			if url, ok := result["url"].(string); ok && url != "" {
				return url
			}
		}
	}
	return ""
}
