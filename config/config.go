package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// SessionAction tells the router what to do with the session after a
// response-handler target fires.
type SessionAction string

const (
	// SessionContinue keeps the session open (pinning it when the target is the user).
	SessionContinue SessionAction = "continue"
	// SessionClear completes the session.
	SessionClear SessionAction = "clear"
)

// RouteTarget is one destination of a matched response handler.
type RouteTarget struct {
	Target  string        `json:"target"`
	Session SessionAction `json:"session"`
}

// Handler pairs a routing instruction string with its targets. Handlers are
// compiled from the config map into a deterministic order at load time.
type Handler struct {
	Instruction string
	Targets     []RouteTarget
}

// Agent is the declarative definition of one agent, mirroring the JSON file
// format consumed by the orchestrator.
type Agent struct {
	Name             string                   `json:"name"`
	IsFirst          bool                     `json:"is_first"`
	Description      string                   `json:"description"`
	SystemPrompt     []string                 `json:"system_prompt"`
	PromptTemplate   string                   `json:"prompt_template"`
	AllowedSenders   []string                 `json:"allowed_senders"`
	ResponseHandlers map[string][]RouteTarget `json:"response_handlers"`
	ToolAPIServices  []string                 `json:"tool_api_service"`
	Tools            []string                 `json:"tools"`

	handlers []Handler
	allowed  map[string]struct{}
	toolSet  map[string]struct{}
}

// Load reads and parses an agent config file.
func Load(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse agent config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates an agent config from raw JSON.
func Parse(data []byte) (*Agent, error) {
	var cfg Agent
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode agent config: %w", err)
	}
	if err := cfg.compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// compile validates required fields and resolves lookup structures so the
// hot path never re-parses the declarative tables.
func (a *Agent) compile() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("agent config: name is required")
	}
	if strings.TrimSpace(a.PromptTemplate) == "" {
		return fmt.Errorf("agent config %s: prompt_template is required", a.Name)
	}
	for instruction, targets := range a.ResponseHandlers {
		if strings.TrimSpace(instruction) == "" {
			return fmt.Errorf("agent config %s: empty response handler instruction", a.Name)
		}
		if len(targets) == 0 {
			return fmt.Errorf("agent config %s: handler %q has no targets", a.Name, instruction)
		}
		for _, t := range targets {
			if t.Target == "" {
				return fmt.Errorf("agent config %s: handler %q has a target without a name", a.Name, instruction)
			}
			switch t.Session {
			case SessionContinue, SessionClear:
			default:
				return fmt.Errorf("agent config %s: handler %q target %s has invalid session action %q",
					a.Name, instruction, t.Target, t.Session)
			}
		}
	}

	// JSON object order is not observable, so handler precedence is made
	// explicit: longest instruction first, ties broken lexicographically.
	a.handlers = make([]Handler, 0, len(a.ResponseHandlers))
	for instruction, targets := range a.ResponseHandlers {
		a.handlers = append(a.handlers, Handler{Instruction: instruction, Targets: targets})
	}
	sort.Slice(a.handlers, func(i, j int) bool {
		if len(a.handlers[i].Instruction) != len(a.handlers[j].Instruction) {
			return len(a.handlers[i].Instruction) > len(a.handlers[j].Instruction)
		}
		return a.handlers[i].Instruction < a.handlers[j].Instruction
	})

	a.allowed = make(map[string]struct{}, len(a.AllowedSenders))
	for _, s := range a.AllowedSenders {
		a.allowed[s] = struct{}{}
	}
	a.toolSet = make(map[string]struct{}, len(a.Tools))
	for _, t := range a.Tools {
		a.toolSet[t] = struct{}{}
	}
	return nil
}

// Handlers returns the compiled response handlers in match-precedence order.
func (a *Agent) Handlers() []Handler { return a.handlers }

// SenderAllowed reports whether sender is on the allowlist. An empty
// allowlist accepts everyone.
func (a *Agent) SenderAllowed(sender string) bool {
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[sender]
	return ok
}

// ToolAllowed reports whether the agent may invoke the named tool.
func (a *Agent) ToolAllowed(name string) bool {
	_, ok := a.toolSet[name]
	return ok
}

// SystemText joins the system prompt lines into a single block.
func (a *Agent) SystemText() string { return strings.Join(a.SystemPrompt, "\n") }
