package core

// ChatMessage is one turn of a model conversation. Role follows the usual
// system/user/assistant/tool convention; ToolCallID and Name are only set on
// tool-result turns, ToolCalls only on assistant turns requesting tools.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// SystemMessage builds a system turn.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage builds a user turn.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// AssistantMessage builds an assistant turn, optionally carrying tool calls.
func AssistantMessage(content string, toolCalls ...ToolCall) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content, ToolCalls: toolCalls}
}

// ToolMessage builds a tool-result turn correlated to a prior tool call.
func ToolMessage(toolCallID, name, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: toolCallID, Name: name}
}
