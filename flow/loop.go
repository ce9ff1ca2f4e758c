package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/logging"
	"github.com/codecrew-dev/codecrew/tool"
)

// DefaultMaxIterations bounds the request/response round trips of one Run.
const DefaultMaxIterations = 10

// Options configures a Loop.
type Options struct {
	MaxIterations int
	Logger        logging.Logger
}

// Loop runs the tool-call cycle for an agent. It is stateless across runs
// and safe for concurrent use; per-run state lives in the arguments.
type Loop struct {
	completer core.Completer
	registry  *tool.Registry
	opts      Options
}

// NewLoop constructs a Loop bound to a completion capability and tool registry.
func NewLoop(completer core.Completer, registry *tool.Registry, optFns ...func(o *Options)) *Loop {
	opts := Options{MaxIterations: DefaultMaxIterations, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Loop{completer: completer, registry: registry, opts: opts}
}

// Run exchanges the conversation with the completion capability until the
// model stops requesting tools or the iteration cap is reached.
//
// Behavior per iteration:
//   - completion transport errors terminate the run with success=false
//   - tool calls outside the agent's configured allowlist are not executed;
//     a failed ToolResult is folded in instead
//   - per-call execution failures are downgraded to failed ToolResults
//   - every resolved result, success or failure, is persisted into session
//     state under the tool name plus a timestamped key
//
// Reaching the cap while tools are still requested yields a synthesized
// failure response rather than a partial result.
func (l *Loop) Run(
	ctx context.Context,
	conversation []core.ChatMessage,
	cfg *config.Agent,
	sess *core.Session,
) *core.ToolCallResponse {
	allowed := l.allowedTools(cfg)

	for iteration := 1; iteration <= l.opts.MaxIterations; iteration++ {
		start := time.Now()
		resp, err := l.completer.Complete(ctx, conversation, cfg.ToolAPIServices)
		if err != nil {
			l.opts.Logger.Error("flow.completion.error",
				"agent", cfg.Name, "iteration", iteration, "error", err.Error())
			return core.NewErrorResponse(fmt.Sprintf("completion request failed: %v", err))
		}
		l.opts.Logger.Debug("flow.completion.finished",
			"agent", cfg.Name, "iteration", iteration,
			"duration_ms", time.Since(start).Milliseconds(), "tool_calls", len(resp.ToolCalls))

		if !resp.HasToolCalls {
			return resp
		}

		for _, call := range resp.ToolCalls {
			result := l.executeCall(ctx, cfg.Name, call, allowed)
			l.persistResult(sess, result)

			conversation = append(conversation,
				core.AssistantMessage(resp.Content, call),
				core.ToolMessage(call.ID, call.Function.Name, resultText(result)),
			)
		}
	}

	l.opts.Logger.Warn("flow.iterations.exhausted", "agent", cfg.Name, "max", l.opts.MaxIterations)
	return core.NewErrorResponse(fmt.Sprintf(
		"tool call loop did not converge after %d iterations; the model kept requesting tools",
		l.opts.MaxIterations))
}

// allowedTools resolves the agent's configured tool names via the registry's
// service lookup, intersected with the agent's explicit tool allowlist.
func (l *Loop) allowedTools(cfg *config.Agent) map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, name := range l.registry.ToolNames(cfg.ToolAPIServices) {
		if cfg.ToolAllowed(name) {
			allowed[name] = struct{}{}
		}
	}
	return allowed
}

// executeCall runs a single tool call, converting every failure mode into a
// failed ToolResult value instead of an error.
func (l *Loop) executeCall(
	ctx context.Context,
	agentName string,
	call core.ToolCall,
	allowed map[string]struct{},
) core.ToolResult {
	name := call.Function.Name
	if _, ok := allowed[name]; !ok {
		l.opts.Logger.Warn("flow.tool.not_configured", "agent", agentName, "tool", name)
		return core.ToolResult{
			Name:      name,
			IsSuccess: false,
			Error:     fmt.Sprintf("tool %q is not configured for this agent", name),
		}
	}

	start := time.Now()
	content, err := l.registry.Execute(ctx, name, call.Function.Arguments)
	dur := time.Since(start)
	if err != nil {
		l.opts.Logger.Error("flow.tool.failed",
			"agent", agentName, "tool", name, "duration_ms", dur.Milliseconds(), "error", err.Error())
		return core.ToolResult{Name: name, IsSuccess: false, Error: err.Error()}
	}
	l.opts.Logger.Info("flow.tool.executed",
		"agent", agentName, "tool", name, "duration_ms", dur.Milliseconds())
	return core.ToolResult{Name: name, Content: content, IsSuccess: true}
}

// persistResult records a tool outcome in session state: the latest value
// under the tool name, a timestamped key for later context rendering, and a
// per-tool error key on failure.
func (l *Loop) persistResult(sess *core.Session, result core.ToolResult) {
	stamp := time.Now().UTC().Format("20060102T150405.000")
	if result.IsSuccess {
		sess.SetState(result.Name, result.Content)
		sess.SetState(result.Name+"_"+stamp, result.Content)
		return
	}
	sess.SetState(result.Name+"_error", result.Error)
	sess.SetState(result.Name+"_"+stamp, result.Error)
}

// resultText renders a ToolResult for the tool turn of the conversation.
func resultText(result core.ToolResult) string {
	if result.IsSuccess {
		return result.Content
	}
	return "tool execution failed: " + result.Error
}
