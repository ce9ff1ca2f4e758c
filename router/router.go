package router

import (
	"fmt"
	"strings"

	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/logging"
	"github.com/codecrew-dev/codecrew/session"
)

// RouteToAgentMarker is the literal prefix an agent handoff must carry
// somewhere in the response content, followed by the target agent name.
const RouteToAgentMarker = "ROUTE_TO_AGENT:"

// FallbackUserContent substitutes for an empty user-facing extraction.
const FallbackUserContent = "Please provide more detail so I can continue."

// Decision summarizes what the router did with one response, mainly for
// logging and tests.
type Decision struct {
	Matched     bool
	Instruction string
	Target      string
	Completed   bool
	Pinned      bool
	Published   *core.Message
}

// Options configures a Router.
type Options struct {
	Logger logging.Logger
	Policy ConfirmationPolicy
}

// Router evaluates an agent's compiled response handlers against completion
// output and publishes the next-hop message. One Router serves one agent; it
// shares that agent's session store.
type Router struct {
	bus   core.Bus
	store *session.Store
	opts  Options
}

// New constructs a Router for an agent's bus and session store.
func New(bus core.Bus, store *session.Store, optFns ...func(o *Options)) *Router {
	opts := Options{Logger: logging.NoOpLogger{}, Policy: DefaultConfirmationPolicy()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{bus: bus, store: store, opts: opts}
}

// Route evaluates the response once and applies the resulting transition.
// Any panic while interpreting a route is recovered, recorded in the
// response metadata under "Error", and forces session completion.
func (r *Router) Route(
	cfg *config.Agent,
	sess *core.Session,
	original *core.Message,
	resp *core.ToolCallResponse,
) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			errText := fmt.Sprintf("routing failed: %v", rec)
			resp.SetMeta(core.MetaError, errText)
			r.store.ForceComplete(sess.ID, map[string]any{core.MetaError: errText})
			decision = Decision{Completed: true}
			r.opts.Logger.Error("router.panic", "agent", cfg.Name, "session_id", sess.ID, "recover", rec)
		}
	}()

	handler, remainder, matched := matchHandler(cfg.Handlers(), resp.Content)
	if !matched {
		return r.routeUnmatched(cfg, sess, original, resp)
	}

	decision = Decision{Matched: true, Instruction: handler.Instruction}
	if target, ok := userTarget(handler); ok {
		return r.routeToUser(cfg, sess, target, remainder, decision)
	}
	return r.routeToAgent(cfg, sess, original, resp, handler, remainder, decision)
}

// routeUnmatched handles responses with no configured instruction: pinned
// sessions hold their state; content that reads like a confirmation request
// pins the session; everything else completes it.
func (r *Router) routeUnmatched(
	cfg *config.Agent,
	sess *core.Session,
	original *core.Message,
	resp *core.ToolCallResponse,
) Decision {
	if r.store.IsAwaitingConfirmation(sess.ID) {
		return Decision{Pinned: true}
	}
	if r.opts.Policy.RequiresConfirmation(resp.Content) {
		r.store.MarkAwaitingConfirmation(sess.ID)
		r.opts.Logger.Debug("router.pinned_for_confirmation", "agent", cfg.Name, "session_id", sess.ID)
		return Decision{Pinned: true}
	}
	r.store.Complete(sess.ID, map[string]any{
		"Response":        resp.Content,
		"OriginalRequest": original.Content,
	})
	return Decision{Completed: true}
}

// routeToUser publishes the extracted content back to the user, pinning the
// session on "continue" and completing it on "clear".
func (r *Router) routeToUser(
	cfg *config.Agent,
	sess *core.Session,
	target config.RouteTarget,
	remainder string,
	decision Decision,
) Decision {
	content := strings.TrimSpace(remainder)
	if content == "" {
		content = FallbackUserContent
	}

	switch target.Session {
	case config.SessionContinue:
		r.store.MarkAwaitingConfirmation(sess.ID)
		decision.Pinned = true
	case config.SessionClear:
		r.store.Complete(sess.ID, nil)
		decision.Completed = true
	}

	msg := core.NewMessage(cfg.Name, core.RecipientUser, content, core.MessageTypeTaskResponse)
	msg.SetMeta(core.MetaSessionID, sess.ID)
	r.bus.Publish(msg)

	decision.Target = core.RecipientUser
	decision.Published = msg
	r.opts.Logger.Info("router.routed_to_user",
		"agent", cfg.Name, "session_id", sess.ID, "session_action", string(target.Session))
	return decision
}

// routeToAgent forwards the remainder to the first target whose literal
// ROUTE_TO_AGENT marker appears in the response.
func (r *Router) routeToAgent(
	cfg *config.Agent,
	sess *core.Session,
	original *core.Message,
	resp *core.ToolCallResponse,
	handler config.Handler,
	remainder string,
	decision Decision,
) Decision {
	for _, target := range handler.Targets {
		if !strings.Contains(resp.Content, RouteToAgentMarker+target.Target) {
			continue
		}

		if target.Session == config.SessionClear {
			r.store.ForceComplete(sess.ID, map[string]any{
				core.MetaHandoverReason: fmt.Sprintf("handed off to %s", target.Target),
			})
			decision.Completed = true
		}

		msg := core.NewMessage(cfg.Name, target.Target, strings.TrimSpace(remainder), core.MessageTypeTaskRequest)
		msg.SetMeta(core.MetaSessionID, sess.ID)
		msg.SetMeta(core.MetaSourceAgent, cfg.Name)
		msg.SetMeta(core.MetaOriginalSender, originalSender(original))
		r.bus.Publish(msg)

		resp.SetMeta(core.MetaNextAgent, target.Target)
		decision.Target = target.Target
		decision.Published = msg
		r.opts.Logger.Info("router.routed_to_agent",
			"agent", cfg.Name, "session_id", sess.ID, "target", target.Target,
			"session_action", string(target.Session))
		return decision
	}

	// Instruction matched but no target marker was found in the content;
	// treat like an unmatched response so the session cannot dangle.
	r.opts.Logger.Warn("router.no_target_marker",
		"agent", cfg.Name, "session_id", sess.ID, "instruction", handler.Instruction)
	return r.routeUnmatched(cfg, sess, original, resp)
}

// matchHandler scans response content line by line for the first handler
// whose instruction prefixes a trimmed line, case-insensitively. It returns
// the content after the matching line; content before it is discarded.
func matchHandler(handlers []config.Handler, content string) (config.Handler, string, bool) {
	lines := splitLines(content)
	for _, h := range handlers {
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if hasPrefixFold(trimmed, h.Instruction) {
				return h, strings.Join(lines[i+1:], "\n"), true
			}
		}
	}
	return config.Handler{}, "", false
}

// userTarget returns the first target addressed to the user, if any.
func userTarget(h config.Handler) (config.RouteTarget, bool) {
	for _, t := range h.Targets {
		if t.Target == core.RecipientUser {
			return t, true
		}
	}
	return config.RouteTarget{}, false
}

// originalSender preserves the sender trail across hops.
func originalSender(msg *core.Message) string {
	if s, ok := msg.MetaString(core.MetaOriginalSender); ok {
		return s
	}
	return msg.Sender
}

// splitLines splits on CR, LF and CRLF.
func splitLines(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.Split(normalized, "\n")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
