// Package scripting provides expression evaluation for node configuration.
package scripting

import (
	"fmt"
	"strings"

	"github.com/robertkrimen/otto"
)

// ExpressionEvaluator resolves ${...} expressions inside node configuration
// against an execution context (upstream results, batch metadata).
type ExpressionEvaluator struct {
	vm *otto.Otto
}

// NewExpressionEvaluator creates a new ExpressionEvaluator
func NewExpressionEvaluator() *ExpressionEvaluator {
	return &ExpressionEvaluator{
		vm: otto.New(),
	}
}

// Evaluate processes an expression string with the given context. Strings
// that are not ${...} expressions pass through unchanged.
func (e *ExpressionEvaluator) Evaluate(expression string, context map[string]interface{}) (interface{}, error) {
	if !strings.HasPrefix(expression, "${") || !strings.HasSuffix(expression, "}") {
		return expression, nil
	}

	// Extract the expression content
	expr := expression[2 : len(expression)-1]

	// Set up the context in the JavaScript VM
	for key, value := range context {
		if err := e.vm.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to bind context value '%s': %w", key, err)
		}
	}

	// Evaluate the expression
	result, err := e.vm.Run(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression '%s': %w", expr, err)
	}

	// Convert the result to a Go value
	goValue, err := result.Export()
	if err != nil {
		return nil, fmt.Errorf("failed to convert result to Go value: %w", err)
	}

	return goValue, nil
}

// EvaluateInObject processes all expressions in a configuration object,
// recursing into nested maps and arrays.
func (e *ExpressionEvaluator) EvaluateInObject(obj map[string]interface{}, context map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(obj))

	for key, value := range obj {
		evaluated, err := e.evaluateValue(value, context)
		if err != nil {
			return nil, err
		}
		result[key] = evaluated
	}

	return result, nil
}

func (e *ExpressionEvaluator) evaluateValue(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.Evaluate(v, context)
	case map[string]interface{}:
		return e.EvaluateInObject(v, context)
	case []interface{}:
		evaluated := make([]interface{}, len(v))
		for i, item := range v {
			itemValue, err := e.evaluateValue(item, context)
			if err != nil {
				return nil, err
			}
			evaluated[i] = itemValue
		}
		return evaluated, nil
	default:
		return value, nil
	}
}
