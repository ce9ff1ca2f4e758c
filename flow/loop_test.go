package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/model"
	"github.com/codecrew-dev/codecrew/tool"
)

func loopConfig(t *testing.T) *config.Agent {
	t.Helper()
	cfg, err := config.Parse([]byte(`{
		"name": "Coder",
		"prompt_template": "{user_input}",
		"tool_api_service": ["workspace"],
		"tools": ["save_file"]
	}`))
	require.NoError(t, err)
	return cfg
}

func workspaceRegistry(calls *[]string) *tool.Registry {
	registry := tool.NewRegistry()
	registry.RegisterService("workspace",
		tool.NewFunctionTool("save_file", "save a file", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{"type": "string"},
			},
			"required": []string{"filename"},
		}, func(args map[string]any) (any, error) {
			name, _ := args["filename"].(string)
			if calls != nil {
				*calls = append(*calls, name)
			}
			return "saved " + name, nil
		}),
		tool.NewFunctionTool("delete_file", "delete a file", map[string]any{"type": "object"},
			func(args map[string]any) (any, error) { return "deleted", nil }),
	)
	return registry
}

func toolCallResponse(id, name, args string) *core.ToolCallResponse {
	resp := core.NewTextResponse("")
	resp.ToolCalls = []core.ToolCall{{ID: id, Function: core.FunctionCall{Name: name, Arguments: args}}}
	resp.HasToolCalls = true
	return resp
}

func conversation() []core.ChatMessage {
	return []core.ChatMessage{
		core.SystemMessage("you are a coder"),
		core.UserMessage("write main.go"),
	}
}

func TestRunReturnsTextResponseDirectly(t *testing.T) {
	completer := model.NewMock(core.NewTextResponse("all done"))
	loop := NewLoop(completer, workspaceRegistry(nil))
	sess := core.NewSession("s1", "User")

	resp := loop.Run(context.Background(), conversation(), loopConfig(t), sess)

	assert.True(t, resp.Success)
	assert.Equal(t, "all done", resp.Content)
	assert.Equal(t, 1, completer.Calls())
}

func TestRunExecutesToolThenReturnsFinalAnswer(t *testing.T) {
	var calls []string
	completer := model.NewMock(
		toolCallResponse("call_1", "save_file", `{"filename": "main.go"}`),
		core.NewTextResponse("report to user\nfile written"),
	)
	loop := NewLoop(completer, workspaceRegistry(&calls))
	sess := core.NewSession("s1", "User")

	resp := loop.Run(context.Background(), conversation(), loopConfig(t), sess)

	assert.True(t, resp.Success)
	assert.Equal(t, "report to user\nfile written", resp.Content)
	assert.Equal(t, []string{"main.go"}, calls)
	assert.Equal(t, 2, completer.Calls())

	// Result persisted under the tool name plus a timestamped key.
	latest, ok := sess.GetState("save_file")
	require.True(t, ok)
	assert.Equal(t, "saved main.go", latest)

	var stamped int
	for key := range sess.StateSnapshot() {
		if key != "save_file" {
			stamped++
		}
	}
	assert.Equal(t, 1, stamped)
}

func TestRunFoldsToolTurnsIntoConversation(t *testing.T) {
	completer := model.NewMock()
	completer.CompleteFn = func(ctx context.Context, conv []core.ChatMessage, services []string) (*core.ToolCallResponse, error) {
		if len(conv) == 2 {
			return toolCallResponse("call_1", "save_file", `{"filename": "a.go"}`), nil
		}
		// Second round trip must carry the assistant tool call and tool result.
		require.Len(t, conv, 4)
		assert.Equal(t, "assistant", conv[2].Role)
		require.Len(t, conv[2].ToolCalls, 1)
		assert.Equal(t, "call_1", conv[2].ToolCalls[0].ID)
		assert.Equal(t, "tool", conv[3].Role)
		assert.Equal(t, "call_1", conv[3].ToolCallID)
		assert.Equal(t, "saved a.go", conv[3].Content)
		return core.NewTextResponse("done"), nil
	}

	loop := NewLoop(completer, workspaceRegistry(nil))
	resp := loop.Run(context.Background(), conversation(), loopConfig(t), core.NewSession("s1", "User"))
	assert.True(t, resp.Success)
}

func TestRunUnconfiguredToolBecomesFailedResult(t *testing.T) {
	// delete_file is registered in the service but absent from the agent's
	// tool allowlist.
	completer := model.NewMock(
		toolCallResponse("call_1", "delete_file", `{}`),
		core.NewTextResponse("recovered"),
	)
	loop := NewLoop(completer, workspaceRegistry(nil))
	sess := core.NewSession("s1", "User")

	resp := loop.Run(context.Background(), conversation(), loopConfig(t), sess)

	assert.True(t, resp.Success)
	assert.Equal(t, "recovered", resp.Content)

	errVal, ok := sess.GetState("delete_file_error")
	require.True(t, ok)
	assert.Contains(t, errVal.(string), "not configured")
}

func TestRunToolExecutionFailureIsFoldedIn(t *testing.T) {
	registry := tool.NewRegistry()
	registry.RegisterService("workspace",
		tool.NewFunctionTool("save_file", "save", map[string]any{"type": "object"},
			func(args map[string]any) (any, error) { return nil, errors.New("disk full") }))

	completer := model.NewMock()
	completer.CompleteFn = func(ctx context.Context, conv []core.ChatMessage, services []string) (*core.ToolCallResponse, error) {
		if len(conv) == 2 {
			return toolCallResponse("call_1", "save_file", `{}`), nil
		}
		assert.Contains(t, conv[3].Content, "tool execution failed")
		assert.Contains(t, conv[3].Content, "disk full")
		return core.NewTextResponse("acknowledged"), nil
	}

	loop := NewLoop(completer, registry)
	sess := core.NewSession("s1", "User")
	resp := loop.Run(context.Background(), conversation(), loopConfig(t), sess)

	assert.True(t, resp.Success)
	errVal, ok := sess.GetState("save_file_error")
	require.True(t, ok)
	assert.Contains(t, errVal.(string), "disk full")
}

func TestRunTransportErrorFails(t *testing.T) {
	completer := model.NewMock()
	completer.Err = errors.New("connection reset")
	loop := NewLoop(completer, workspaceRegistry(nil))

	resp := loop.Run(context.Background(), conversation(), loopConfig(t), core.NewSession("s1", "User"))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Content, "completion request failed")
	assert.Contains(t, resp.Content, "connection reset")
}

func TestRunIterationCapSynthesizesFailure(t *testing.T) {
	completer := model.NewMock()
	completer.CompleteFn = func(ctx context.Context, conv []core.ChatMessage, services []string) (*core.ToolCallResponse, error) {
		return toolCallResponse(core.NewID(), "save_file", `{"filename": "x.go"}`), nil
	}

	loop := NewLoop(completer, workspaceRegistry(nil), func(o *Options) { o.MaxIterations = 3 })
	resp := loop.Run(context.Background(), conversation(), loopConfig(t), core.NewSession("s1", "User"))

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Content, "did not converge after 3 iterations")
	assert.Equal(t, 3, completer.Calls())
}

func TestNewLoopRejectsNonPositiveCap(t *testing.T) {
	loop := NewLoop(model.NewMock(), workspaceRegistry(nil), func(o *Options) { o.MaxIterations = 0 })
	assert.Equal(t, DefaultMaxIterations, loop.opts.MaxIterations)
}
