// Package anthropic implements core.Completer using the Anthropic Messages
// API, including tool use.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/tool"
)

// Options configures the Anthropic completer (model id, temperature, token
// budget, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Completer wraps the Anthropic Messages API behind core.Completer.
type Completer struct {
	client   *anthropic.Client
	registry *tool.Registry
	opts     Options
}

// NewCompleter creates an Anthropic completer using the official client.
func NewCompleter(registry *tool.Registry, optFns ...func(o *Options)) *Completer {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &Completer{client: &client, registry: registry, opts: opts}
}

// NewCompleterFromClient creates an Anthropic completer from an existing client.
func NewCompleterFromClient(client *anthropic.Client, registry *tool.Registry, optFns ...func(o *Options)) *Completer {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Completer{client: client, registry: registry, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Complete implements core.Completer with a single non-streaming round trip.
func (c *Completer) Complete(
	ctx context.Context,
	conversation []core.ChatMessage,
	toolServices []string,
) (*core.ToolCallResponse, error) {
	params := anthropic.MessageNewParams{
		Model:       c.opts.Model,
		Messages:    buildMessages(conversation),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: anthropic.Float(c.opts.Temperature),
	}
	if system := systemBlocks(conversation); len(system) > 0 {
		params.System = system
	}
	if defs := c.registry.Definitions(toolServices); len(defs) > 0 {
		params.Tools = buildTools(defs)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	out := core.NewTextResponse("")
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if data, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(data)
				}
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID: toolBlock.ID,
				Function: core.FunctionCall{
					Name:      toolBlock.Name,
					Arguments: args,
				},
			})
		}
	}
	out.HasToolCalls = len(out.ToolCalls) > 0
	out.SetMeta("StopReason", string(resp.StopReason))
	return out, nil
}

// buildMessages converts normalized chat turns to Anthropic messages. Tool
// results become tool_result blocks inside a user message, as the Messages
// API requires.
func buildMessages(conversation []core.ChatMessage) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range conversation {
		switch turn.Role {
		case "system":
			continue // handled separately via params.System
		case "user":
			if turn.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if turn.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(turn.Content))
			}
			for _, tc := range turn.ToolCalls {
				var input any
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						input = tc.Function.Arguments
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(turn.ToolCallID, turn.Content, false)))
		default:
			if turn.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
			}
		}
	}
	return messages
}

// systemBlocks collects system turns as Anthropic system text blocks.
func systemBlocks(conversation []core.ChatMessage) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, turn := range conversation {
		if turn.Role == "system" && turn.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: turn.Content})
		}
	}
	return blocks
}

// buildTools converts registry definitions to Anthropic tool parameters.
func buildTools(defs []tool.Definition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		inputSchema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if def.Parameters != nil {
			if properties, ok := def.Parameters["properties"]; ok {
				inputSchema.Properties = properties
			}
			switch required := def.Parameters["required"].(type) {
			case []string:
				inputSchema.Required = required
			case []any:
				for _, r := range required {
					if s, ok := r.(string); ok {
						inputSchema.Required = append(inputSchema.Required, s)
					}
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(inputSchema, def.Name)
	}
	return tools
}
