// Package tool implements the tool-execution capability: the Tool interface,
// a FunctionTool adapter exposing plain Go functions with schema-validated
// arguments, and a Registry grouping tools into named services that agents
// reference from their configuration.
package tool

import "fmt"

// Tool is a named capability an agent may invoke through the tool-call loop.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a proper JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is shown to the model to explain when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-decoded arguments.
	Call(args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Error codes used across the tool subsystem.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodeNotFound   = "NOT_FOUND"
)

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the given details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
