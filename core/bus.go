package core

import "context"

// Handler processes a delivered bus message. Handlers for the same recipient
// run sequentially in publish order; handlers for different recipients run
// independently.
type Handler func(msg *Message)

// Bus is the in-process publish/subscribe backbone connecting agents.
//
// Publish is fire-and-forget: it never blocks on subscriber processing and
// subscriber failures are isolated from the publisher. Publishing to a
// recipient with no subscriber drops the message silently.
type Bus interface {
	// Publish delivers msg to the subscribers registered under
	// msg.Recipient plus every SubscribeAll observer. Recipient
	// "broadcast" fans out to all subscribers.
	Publish(msg *Message)

	// Subscribe registers a handler for messages addressed to recipient
	// (or to "broadcast"). The returned function removes the subscription
	// and stops delivery.
	Subscribe(recipient string, h Handler) (unsubscribe func())

	// SubscribeAll registers an observer receiving every published message
	// regardless of recipient, e.g. for transcript logging.
	SubscribeAll(h Handler) (unsubscribe func())
}

// Completer is the chat/tool completion capability. Implementations resolve
// the given tool-service names to concrete tool schemas themselves; the core
// only passes identifiers.
type Completer interface {
	Complete(ctx context.Context, conversation []ChatMessage, toolServices []string) (*ToolCallResponse, error)
}
