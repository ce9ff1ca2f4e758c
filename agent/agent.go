package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codecrew-dev/codecrew/config"
	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/flow"
	"github.com/codecrew-dev/codecrew/logging"
	"github.com/codecrew-dev/codecrew/prompt"
	"github.com/codecrew-dev/codecrew/router"
	"github.com/codecrew-dev/codecrew/session"
	"github.com/codecrew-dev/codecrew/tool"
)

// MessageListener observes messages entering or leaving an agent, e.g. for
// UI transcripts. Listeners run synchronously on the delivery goroutine and
// must be fast.
type MessageListener func(msg *core.Message)

// Options configures an Agent.
type Options struct {
	Runtime config.Runtime
	Logger  logging.Logger
	Policy  router.ConfirmationPolicy

	// SingleFlight serializes message processing so at most one task is in
	// flight at a time. File-producing agents use this to keep concurrent
	// bus deliveries from interleaving writes to the same project tree.
	SingleFlight bool
}

// Agent is the runtime for one configured agent. Construct with New, wire
// listeners, then Start. The session store, transcript and pin set are owned
// exclusively by this instance.
type Agent struct {
	cfg     *config.Agent
	bus     core.Bus
	store   *session.Store
	builder *prompt.Builder
	loop    *flow.Loop
	router  *router.Router
	logger  logging.Logger

	singleFlight  bool
	gate          sync.Mutex
	sweepInterval time.Duration

	mu          sync.Mutex
	transcript  []*core.Message
	onReceived  []MessageListener
	onSent      []MessageListener
	running     bool
	unsubscribe func()
	cancel      context.CancelFunc
	runCtx      context.Context
}

// New constructs an agent runtime from its declarative config and shared
// collaborators (bus, completion capability, tool registry).
func New(
	cfg *config.Agent,
	b core.Bus,
	completer core.Completer,
	registry *tool.Registry,
	optFns ...func(o *Options),
) *Agent {
	opts := Options{
		Runtime: config.DefaultRuntime(),
		Logger:  logging.NoOpLogger{},
		Policy:  router.DefaultConfirmationPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	store := session.NewStore(func(o *session.Options) {
		o.TTL = opts.Runtime.SessionTTL
		o.Logger = opts.Logger
	})
	builder := prompt.NewBuilder(func(o *prompt.Options) {
		o.HistoryLimit = opts.Runtime.HistoryLimit
		o.HistoryLineLimit = opts.Runtime.HistoryLineLimit
		o.ContextMessageLimit = opts.Runtime.HistoryLimit
	})
	loop := flow.NewLoop(completer, registry, func(o *flow.Options) {
		o.MaxIterations = opts.Runtime.MaxToolIterations
		o.Logger = opts.Logger
	})
	rt := router.New(b, store, func(o *router.Options) {
		o.Logger = opts.Logger
		o.Policy = opts.Policy
	})

	return &Agent{
		cfg:     cfg,
		bus:     b,
		store:   store,
		builder: builder,
		loop:    loop,
		router:  rt,
		logger:  opts.Logger,

		singleFlight:  opts.SingleFlight,
		sweepInterval: opts.Runtime.SweepInterval,
	}
}

// Name returns the agent's configured name.
func (a *Agent) Name() string { return a.cfg.Name }

// Config returns the immutable declarative configuration.
func (a *Agent) Config() *config.Agent { return a.cfg }

// Sessions exposes the agent's session store for introspection and tests.
func (a *Agent) Sessions() *session.Store { return a.store }

// OnMessageReceived registers a hook fired for every accepted message.
func (a *Agent) OnMessageReceived(l MessageListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReceived = append(a.onReceived, l)
}

// OnMessageSent registers a hook fired for every message the agent publishes.
func (a *Agent) OnMessageSent(l MessageListener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSent = append(a.onSent, l)
}

// Transcript returns a copy of the in-memory message transcript.
func (a *Agent) Transcript() []*core.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*core.Message, len(a.transcript))
	copy(out, a.transcript)
	return out
}

// Start subscribes the agent on the bus under its own name and starts the
// recurring session sweeper. The provided context is the agent's lifetime;
// cancelling it (or calling Stop) removes the subscription and stops the
// sweeper. In-flight processing is not aborted mid-iteration.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return errors.New("agent is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.cancel = cancel
	a.store.StartSweeper(runCtx, a.sweepInterval)
	a.unsubscribe = a.bus.Subscribe(a.cfg.Name, a.handle)
	a.running = true
	a.logger.Info("agent.started", "agent", a.cfg.Name)
	return nil
}

// Stop unsubscribes from the bus and stops the sweeper.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return errors.New("agent is not running")
	}
	a.unsubscribe()
	a.cancel()
	a.running = false
	a.logger.Info("agent.stopped", "agent", a.cfg.Name)
	return nil
}

// handle is the bus delivery callback: authorization, dispatch, pipeline.
func (a *Agent) handle(msg *core.Message) {
	if !processable(msg.Type) {
		a.logger.Debug("agent.message.ignored", "agent", a.cfg.Name, "type", string(msg.Type))
		return
	}

	if !a.cfg.SenderAllowed(msg.Sender) {
		a.reject(msg)
		return
	}

	if a.singleFlight {
		a.gate.Lock()
		defer a.gate.Unlock()
	}

	a.appendTranscript(msg)
	a.notify(a.receivedListeners(), msg)
	a.logger.Info("agent.message.received",
		"agent", a.cfg.Name, "sender", msg.Sender, "type", string(msg.Type), "message_id", msg.ID)

	a.process(msg)

	a.appendTranscript(msg)
}

// process runs the session → prompt → tool loop → router pipeline.
func (a *Agent) process(msg *core.Message) {
	sess := a.store.GetOrCreate(msg)

	// A message arriving for a pinned session is the awaited reply.
	pinned := a.store.IsAwaitingConfirmation(sess.ID)
	if pinned {
		a.store.ClearAwaitingConfirmation(sess.ID)
		pinned = false
	}

	conversation := a.builder.Build(a.cfg, msg, sess, a.Transcript(), pinned)
	resp := a.loop.Run(a.runContext(), conversation, a.cfg, sess)
	resp.SetMeta(core.MetaSessionID, sess.ID)

	if !resp.Success {
		a.respondWithError(msg, sess.ID, resp)
		return
	}

	decision := a.router.Route(a.cfg, sess, msg, resp)
	if decision.Published != nil {
		a.appendTranscript(decision.Published)
		a.notify(a.sentListeners(), decision.Published)
		return
	}

	// The router completed or held the session without publishing; callers
	// still get feedback so no request ends in silence.
	reply := core.NewMessage(a.cfg.Name, msg.Sender, resp.Content, core.MessageTypeTaskResponse)
	reply.SetMeta(core.MetaSessionID, sess.ID)
	a.publish(reply)
}

// respondWithError surfaces a failed loop result to the requester and ends
// the session; error paths never drop silently.
func (a *Agent) respondWithError(msg *core.Message, sessionID string, resp *core.ToolCallResponse) {
	a.store.ForceComplete(sessionID, map[string]any{core.MetaError: resp.Content})
	reply := core.NewMessage(a.cfg.Name, msg.Sender, resp.Content, core.MessageTypeTaskResponse)
	reply.SetMeta(core.MetaSessionID, sessionID)
	reply.SetMeta(core.MetaError, resp.Content)
	a.publish(reply)
}

// reject answers an unauthorized sender with a structured rejection; the
// session map is untouched.
func (a *Agent) reject(msg *core.Message) {
	a.logger.Warn("agent.message.rejected", "agent", a.cfg.Name, "sender", msg.Sender)
	reply := core.NewMessage(
		a.cfg.Name,
		msg.Sender,
		fmt.Sprintf("sender %q is not authorized to contact agent %q", msg.Sender, a.cfg.Name),
		core.MessageTypeTaskResponse,
	)
	reply.SetMeta(core.MetaRejected, true)
	a.publish(reply)
}

func (a *Agent) publish(msg *core.Message) {
	a.appendTranscript(msg)
	a.bus.Publish(msg)
	a.notify(a.sentListeners(), msg)
	a.logger.Info("agent.message.sent",
		"agent", a.cfg.Name, "recipient", msg.Recipient, "type", string(msg.Type), "message_id", msg.ID)
}

// runContext snapshots the current lifetime context under the lock; Start
// reassigns it on restart while an old delivery may still be in flight.
func (a *Agent) runContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runCtx
}

func (a *Agent) appendTranscript(msg *core.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transcript = append(a.transcript, msg)
}

func (a *Agent) receivedListeners() []MessageListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]MessageListener(nil), a.onReceived...)
}

func (a *Agent) sentListeners() []MessageListener {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]MessageListener(nil), a.onSent...)
}

func (a *Agent) notify(listeners []MessageListener, msg *core.Message) {
	for _, l := range listeners {
		l(msg)
	}
}

// processable reports whether the agent acts on a message type. Responses
// and notifications still reach SubscribeAll observers but do not start a
// processing pipeline.
func processable(t core.MessageType) bool {
	switch t {
	case core.MessageTypeHelpRequest,
		core.MessageTypeTaskRequest,
		core.MessageTypeCodingRequest,
		core.MessageTypeCoordinationRequest:
		return true
	}
	return false
}
