// Package openai implements core.Completer using the OpenAI Chat Completions
// API, including function/tool calling. It adapts the normalized
// conversation into the SDK's message format and back.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/tool"
)

// Options configure the OpenAI completer. Fields mirror a minimal subset of
// Chat Completion parameters; extend via functional options without breaking
// callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Completer wraps the OpenAI Chat Completions API behind core.Completer.
type Completer struct {
	client   *openai.Client
	registry *tool.Registry
	opts     Options
}

// NewCompleter creates an OpenAI completer using the default client, which
// reads its API key from the environment.
func NewCompleter(registry *tool.Registry, optFns ...func(o *Options)) *Completer {
	client := openai.NewClient()
	return NewCompleterFromClient(&client, registry, optFns...)
}

// NewCompleterFromClient creates an OpenAI completer from an existing client.
func NewCompleterFromClient(client *openai.Client, registry *tool.Registry, optFns ...func(o *Options)) *Completer {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Completer{client: client, registry: registry, opts: opts}
}

// Complete implements core.Completer with a single non-streaming round trip.
func (c *Completer) Complete(
	ctx context.Context,
	conversation []core.ChatMessage,
	toolServices []string,
) (*core.ToolCallResponse, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(conversation),
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}
	if defs := c.registry.Definitions(toolServices); len(defs) > 0 {
		params.Tools = buildTools(defs)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	choice := resp.Choices[0]
	out := core.NewTextResponse(choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID: tc.ID,
			Function: core.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	out.HasToolCalls = len(out.ToolCalls) > 0
	out.SetMeta("FinishReason", string(choice.FinishReason))
	return out, nil
}

// buildMessages converts normalized chat turns into OpenAI chat messages.
func buildMessages(conversation []core.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, turn := range conversation {
		switch turn.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(turn.Content))
		case "user":
			messages = append(messages, openai.UserMessage(turn.Content))
		case "assistant":
			if len(turn.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(turn.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(turn.ToolCalls))
			for _, tc := range turn.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case "tool":
			messages = append(messages, openai.ToolMessage(turn.Content, turn.ToolCallID))
		default:
			if turn.Content != "" {
				messages = append(messages, openai.UserMessage(turn.Content))
			}
		}
	}
	return messages
}

// buildTools converts registry definitions into OpenAI tool parameters.
func buildTools(defs []tool.Definition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, len(defs))
	for i, def := range defs {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	return tools
}
