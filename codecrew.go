// Package codecrew provides a high-level façade over the orchestration core:
// the shared message bus, the tool registry, the completion capability and
// the set of configured agents. Most applications interact with this package
// by:
//  1. Creating a Crew via New() (optionally overriding the defaults)
//  2. Registering agents from their JSON config files
//  3. Starting the crew and publishing user requests with SendUserMessage
//
// The façade keeps setup ergonomics concise while the individual packages
// (bus, session, flow, router, agent) do the orchestration work. All
// defaults are safe for local development and testing.
package codecrew

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codecrew-dev/codecrew/agent"
	"github.com/codecrew-dev/codecrew/bus"
	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/logging"
	"github.com/codecrew-dev/codecrew/model"
	"github.com/codecrew-dev/codecrew/router"
	"github.com/codecrew-dev/codecrew/tool"
)

// Options configures a Crew instance.
type Options struct {
	// Bus connects agents; defaults to the in-process implementation.
	Bus core.Bus

	// Completer is the shared chat/tool completion capability. Defaults to
	// a mock suitable for tests; production wiring supplies an adapter from
	// model/openai or model/anthropic.
	Completer core.Completer

	// Registry holds the tool services agents may call.
	Registry *tool.Registry

	// Runtime carries orchestration knobs (TTLs, iteration caps, limits).
	Runtime config.Runtime

	// Logger defaults to NoOp.
	Logger logging.Logger

	// Policy decides when responses pin a session awaiting confirmation.
	Policy router.ConfirmationPolicy
}

// Crew aggregates the bus, tool registry, completion capability and agents
// of one orchestration deployment.
type Crew struct {
	opts Options

	mu      sync.Mutex
	agents  map[string]*agent.Agent
	first   string
	cancel  context.CancelFunc
	running bool
}

// New creates a Crew with optional overrides. Any unset collaborator is
// initialized with an in-memory default.
func New(optFns ...func(o *Options)) *Crew {
	opts := Options{
		Bus:       bus.New(),
		Completer: model.NewMock(),
		Registry:  tool.NewRegistry(),
		Runtime:   config.DefaultRuntime(),
		Logger:    logging.NoOpLogger{},
		Policy:    router.DefaultConfirmationPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Crew{opts: opts, agents: make(map[string]*agent.Agent)}
}

// Bus returns the shared message bus.
func (c *Crew) Bus() core.Bus { return c.opts.Bus }

// Registry returns the shared tool registry.
func (c *Crew) Registry() *tool.Registry { return c.opts.Registry }

// RegisterAgent wires an agent runtime from its declarative config. The
// crew's defaults can be tuned per agent via optFns (e.g. SingleFlight for
// file-producing agents). The first config flagged is_first becomes the
// entry point for SendUserMessage.
func (c *Crew) RegisterAgent(cfg *config.Agent, optFns ...func(o *agent.Options)) *agent.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	fns := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Runtime = c.opts.Runtime
		o.Logger = c.opts.Logger
		o.Policy = c.opts.Policy
	}}, optFns...)

	a := agent.New(cfg, c.opts.Bus, c.opts.Completer, c.opts.Registry, fns...)
	c.agents[cfg.Name] = a
	if cfg.IsFirst && c.first == "" {
		c.first = cfg.Name
	}
	return a
}

// RegisterAgentFromFile loads a JSON agent config and registers it.
func (c *Crew) RegisterAgentFromFile(path string, optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return c.RegisterAgent(cfg, optFns...), nil
}

// Agent returns a registered agent by name.
func (c *Crew) Agent(name string) (*agent.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.agents[name]
	return a, ok
}

// Start brings every registered agent online. Cancelling ctx (or calling
// Stop) removes subscriptions and stops the session sweepers.
func (c *Crew) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("crew is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	for name, a := range c.agents {
		if err := a.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start agent %s: %w", name, err)
		}
	}
	c.cancel = cancel
	c.running = true
	return nil
}

// Stop takes every agent offline.
func (c *Crew) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return errors.New("crew is not running")
	}
	var errs []error
	for _, a := range c.agents {
		if err := a.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	c.cancel()
	c.running = false
	return errors.Join(errs...)
}

// SendUserMessage publishes a user request to the entry agent and returns
// the published message (its metadata will carry the session id after the
// first hop).
func (c *Crew) SendUserMessage(content string) (*core.Message, error) {
	c.mu.Lock()
	first := c.first
	c.mu.Unlock()
	if first == "" {
		return nil, errors.New("no agent is flagged is_first")
	}
	msg := core.NewMessage(core.RecipientUser, first, content, core.MessageTypeTaskRequest)
	c.opts.Bus.Publish(msg)
	return msg, nil
}

// OnUserOutput subscribes a handler to user-facing messages. The returned
// function removes the subscription.
func (c *Crew) OnUserOutput(h core.Handler) func() {
	return c.opts.Bus.Subscribe(core.RecipientUser, h)
}

// Observe subscribes a handler to every message on the bus, e.g. for
// transcript logging.
func (c *Crew) Observe(h core.Handler) func() {
	return c.opts.Bus.SubscribeAll(h)
}
