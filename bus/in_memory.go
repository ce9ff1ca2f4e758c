package bus

import (
	"sync"

	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/logging"
)

// InMemoryBus is a process-local core.Bus. Each subscription owns a pump
// goroutine draining a private queue, so a slow or failing handler stalls
// only its own recipient. Publishing to a recipient with no subscriber is a
// no-op.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	observers   []*subscription
	logger      logging.Logger
	closed      bool
}

// Options configures an InMemoryBus.
type Options struct {
	Logger logging.Logger
}

// New constructs an empty in-memory bus.
func New(optFns ...func(o *Options)) *InMemoryBus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryBus{
		subscribers: make(map[string][]*subscription),
		logger:      opts.Logger,
	}
}

// subscription funnels messages for one handler through a serialized queue.
type subscription struct {
	recipient string
	handler   core.Handler
	logger    logging.Logger

	mu      sync.Mutex
	pending []*core.Message
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription(recipient string, h core.Handler, logger logging.Logger) *subscription {
	s := &subscription{
		recipient: recipient,
		handler:   h,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.pump()
	return s
}

// enqueue appends a message and nudges the pump without blocking the caller.
func (s *subscription) enqueue(msg *core.Message) {
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump delivers queued messages one at a time, preserving enqueue order.
func (s *subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			for {
				s.mu.Lock()
				if len(s.pending) == 0 {
					s.mu.Unlock()
					break
				}
				msg := s.pending[0]
				s.pending = s.pending[1:]
				s.mu.Unlock()
				s.deliver(msg)
			}
		}
	}
}

// deliver invokes the handler, isolating panics from the rest of the bus.
func (s *subscription) deliver(msg *core.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("bus.handler.panic", "recipient", s.recipient, "message_id", msg.ID, "recover", r)
		}
	}()
	s.handler(msg)
}

func (s *subscription) stop() { s.once.Do(func() { close(s.done) }) }

// Publish implements core.Bus. The message is handed to the recipient's
// subscriptions, to every subscription when the recipient is "broadcast",
// and always to SubscribeAll observers.
func (b *InMemoryBus) Publish(msg *core.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	delivered := 0
	if msg.Recipient == core.RecipientBroadcast {
		for _, subs := range b.subscribers {
			for _, s := range subs {
				s.enqueue(msg)
				delivered++
			}
		}
	} else {
		for _, s := range b.subscribers[msg.Recipient] {
			s.enqueue(msg)
			delivered++
		}
	}
	for _, o := range b.observers {
		o.enqueue(msg)
	}

	if delivered == 0 {
		b.logger.Debug("bus.publish.dropped", "recipient", msg.Recipient, "message_id", msg.ID)
	}
}

// Subscribe implements core.Bus.
func (b *InMemoryBus) Subscribe(recipient string, h core.Handler) func() {
	sub := newSubscription(recipient, h, b.logger)
	b.mu.Lock()
	b.subscribers[recipient] = append(b.subscribers[recipient], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		subs := b.subscribers[recipient]
		for i, s := range subs {
			if s == sub {
				b.subscribers[recipient] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subscribers[recipient]) == 0 {
			delete(b.subscribers, recipient)
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// SubscribeAll implements core.Bus.
func (b *InMemoryBus) SubscribeAll(h core.Handler) func() {
	sub := newSubscription("*", h, b.logger)
	b.mu.Lock()
	b.observers = append(b.observers, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		for i, o := range b.observers {
			if o == sub {
				b.observers = append(b.observers[:i], b.observers[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.stop()
	}
}

// Close stops accepting publishes and tears down all subscriptions.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, s := range subs {
			s.stop()
		}
	}
	for _, o := range b.observers {
		o.stop()
	}
	b.subscribers = make(map[string][]*subscription)
	b.observers = nil
}
