package scripting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatePassesThroughPlainStrings(t *testing.T) {
	evaluator := NewExpressionEvaluator()

	result, err := evaluator.Evaluate("a mountain at dawn", nil)
	require.NoError(t, err)
	assert.Equal(t, "a mountain at dawn", result)
}

func TestEvaluateResolvesExpression(t *testing.T) {
	evaluator := NewExpressionEvaluator()

	context := map[string]interface{}{
		"inputs": map[string]interface{}{
			"prompt": map[string]interface{}{"text": "a mountain at dawn"},
		},
	}

	result, err := evaluator.Evaluate("${inputs.prompt.text}", context)
	require.NoError(t, err)
	assert.Equal(t, "a mountain at dawn", result)
}

func TestEvaluateReportsBadExpression(t *testing.T) {
	evaluator := NewExpressionEvaluator()

	_, err := evaluator.Evaluate("${inputs..}", map[string]interface{}{})
	assert.Error(t, err)
}

func TestEvaluateInObjectRecurses(t *testing.T) {
	evaluator := NewExpressionEvaluator()

	context := map[string]interface{}{
		"inputs": map[string]interface{}{"text": "hello"},
	}
	config := map[string]interface{}{
		"prompt": "${inputs.text}",
		"options": map[string]interface{}{
			"style": "photorealistic",
			"seeds": []interface{}{"${1 + 1}", 3},
		},
	}

	resolved, err := evaluator.EvaluateInObject(config, context)
	require.NoError(t, err)

	assert.Equal(t, "hello", resolved["prompt"])
	options := resolved["options"].(map[string]interface{})
	assert.Equal(t, "photorealistic", options["style"])
	seeds := options["seeds"].([]interface{})
	assert.EqualValues(t, 2, seeds[0])
	assert.Equal(t, 3, seeds[1])
}
