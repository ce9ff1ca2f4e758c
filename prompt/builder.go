// Package prompt renders model conversations from agent configuration,
// session context and trailing message history. Rendering is pure text
// assembly; substitution is exact-match on the four placeholder tokens
// {user_input}, {message_history}, {session_context} and {session_id}.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
)

// Placeholder tokens recognized in prompt templates.
const (
	PlaceholderUserInput      = "{user_input}"
	PlaceholderMessageHistory = "{message_history}"
	PlaceholderSessionContext = "{session_context}"
	PlaceholderSessionID      = "{session_id}"
)

// Options configures a Builder.
type Options struct {
	// HistoryLimit caps the number of trailing history lines rendered.
	HistoryLimit int
	// HistoryLineLimit truncates each history line's content.
	HistoryLineLimit int
	// ContextMessageLimit caps the session-scoped messages in the context block.
	ContextMessageLimit int
}

// Builder renders system+user conversations. It is stateless and safe for
// concurrent use.
type Builder struct {
	opts Options
}

// NewBuilder constructs a Builder with spec defaults (30 history lines
// truncated at 150 chars, 30 untruncated session-scoped messages).
func NewBuilder(optFns ...func(o *Options)) *Builder {
	opts := Options{HistoryLimit: 30, HistoryLineLimit: 150, ContextMessageLimit: 30}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Builder{opts: opts}
}

// Build renders the conversation for one incoming message: a system turn
// from the agent's system prompt and a user turn from the prompt template.
func (b *Builder) Build(
	cfg *config.Agent,
	msg *core.Message,
	sess *core.Session,
	history []*core.Message,
	pinned bool,
) []core.ChatMessage {
	replacer := strings.NewReplacer(
		PlaceholderUserInput, msg.Content,
		PlaceholderMessageHistory, b.formatHistory(history),
		PlaceholderSessionContext, b.formatSessionContext(sess, history, pinned),
		PlaceholderSessionID, sess.ID,
	)
	return []core.ChatMessage{
		core.SystemMessage(cfg.SystemText()),
		core.UserMessage(replacer.Replace(cfg.PromptTemplate)),
	}
}

// formatHistory renders the trailing history as "[time sender]: content"
// lines, newest last, content truncated to the configured limit.
func (b *Builder) formatHistory(history []*core.Message) string {
	if len(history) > b.opts.HistoryLimit {
		history = history[len(history)-b.opts.HistoryLimit:]
	}
	var sb strings.Builder
	for i, m := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%s %s]: %s",
			m.Timestamp.Format("15:04:05"), m.Sender, truncate(m.Content, b.opts.HistoryLineLimit))
	}
	return sb.String()
}

// formatSessionContext renders the textual session block: identity and
// lifecycle fields, the pinned flag, the flattened state map, and the last
// session-scoped messages untruncated.
func (b *Builder) formatSessionContext(sess *core.Session, history []*core.Message, pinned bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", sess.ID)
	fmt.Fprintf(&sb, "User: %s\n", sess.UserID)
	fmt.Fprintf(&sb, "Created: %s\n", sess.Created.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Last activity: %s\n", sess.LastActivity.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "Status: %s\n", sess.Status)
	fmt.Fprintf(&sb, "Awaiting confirmation: %t\n", pinned)

	state := sess.StateSnapshot()
	if len(state) > 0 {
		sb.WriteString("State:\n")
		for _, k := range sortedKeys(state) {
			fmt.Fprintf(&sb, "  %s: %v\n", k, state[k])
		}
	}

	scoped := sessionScoped(history, sess.ID)
	if len(scoped) > b.opts.ContextMessageLimit {
		scoped = scoped[len(scoped)-b.opts.ContextMessageLimit:]
	}
	if len(scoped) > 0 {
		sb.WriteString("Messages:\n")
		for _, m := range scoped {
			fmt.Fprintf(&sb, "  [%s %s]: %s\n", m.Timestamp.Format("15:04:05"), m.Sender, m.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// sessionScoped filters history to messages carrying the session's id.
func sessionScoped(history []*core.Message, sessionID string) []*core.Message {
	var scoped []*core.Message
	for _, m := range history {
		if id, ok := m.MetaString(core.MetaSessionID); ok && id == sessionID {
			scoped = append(scoped, m)
		}
	}
	return scoped
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// truncate cuts s to at most limit bytes on a rune boundary.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
