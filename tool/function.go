package tool

import (
	"github.com/codecrew-dev/codecrew/internal/util"
)

// FunctionTool adapts a plain Go function into a Tool. It validates incoming
// arguments against its schema before invoking the function and normalizes
// failures into *ToolError values. A FunctionTool has no mutable state after
// construction and is safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{name: name, description: description, parameters: parameters, fn: fn}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct via
// reflection, equivalent to util.CreateSchema(structType).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the wrapped
// function. Validation failures surface as CodeValidation; other errors are
// wrapped as CodeExecution unless already a *ToolError.
func (t *FunctionTool) Call(args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: "parameter validation failed: " + err.Error(),
			Code:    CodeValidation,
			Details: err,
		}
	}
	result, err := t.fn(args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}
	return result, nil
}
