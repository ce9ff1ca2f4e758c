package core

// FunctionCall names the target function of a tool call plus its raw JSON
// argument payload.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a structured request from the completion capability to invoke
// a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// ToolCallResponse is the normalized result of one completion round trip.
// HasToolCalls indicates the model wants tools executed before it can
// produce a final answer.
type ToolCallResponse struct {
	Content      string         `json:"content"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	HasToolCalls bool           `json:"has_tool_calls"`
	Success      bool           `json:"success"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewTextResponse builds a successful text-only response.
func NewTextResponse(content string) *ToolCallResponse {
	return &ToolCallResponse{Content: content, Success: true, Metadata: map[string]any{}}
}

// NewErrorResponse builds a failed response carrying explanatory content.
func NewErrorResponse(content string) *ToolCallResponse {
	return &ToolCallResponse{Content: content, Success: false, Metadata: map[string]any{}}
}

// SetMeta stores a metadata value on the response, allocating lazily.
func (r *ToolCallResponse) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
}

// ToolResult captures the outcome of executing a single tool call. Failures
// are values, not errors: the loop folds them into the conversation so the
// model can react.
type ToolResult struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsSuccess bool   `json:"is_success"`
	Error     string `json:"error,omitempty"`
}
