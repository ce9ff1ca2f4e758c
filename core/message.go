package core

import (
	"time"

	"github.com/google/uuid"
)

// MessageType categorizes bus messages. The set is closed; agents dispatch
// on it and reject types they do not understand.
type MessageType string

const (
	// MessageTypeHelpRequest asks an agent for clarification or guidance.
	MessageTypeHelpRequest MessageType = "help-request"
	// MessageTypeTaskRequest hands a unit of work to an agent.
	MessageTypeTaskRequest MessageType = "task-request"
	// MessageTypeTaskResponse carries an agent's answer back to the requester.
	MessageTypeTaskResponse MessageType = "task-response"
	// MessageTypeTaskCompleted signals that a delegated task finished.
	MessageTypeTaskCompleted MessageType = "task-completed"
	// MessageTypeCodingRequest asks a file-producing agent to generate code.
	MessageTypeCodingRequest MessageType = "coding-request"
	// MessageTypeCoordinationRequest opens a coordination exchange between agents.
	MessageTypeCoordinationRequest MessageType = "coordination-request"
	// MessageTypeCoordinationResponse answers a coordination request.
	MessageTypeCoordinationResponse MessageType = "coordination-response"
	// MessageTypeFolderRefresh notifies listeners that the project tree changed.
	MessageTypeFolderRefresh MessageType = "folder-refresh"
)

// Reserved recipient names.
const (
	// RecipientBroadcast fans a message out to every subscriber.
	RecipientBroadcast = "broadcast"
	// RecipientUser is the conventional recipient for user-facing output.
	RecipientUser = "User"
)

// Well-known metadata keys stamped onto messages as they travel between agents.
const (
	MetaSessionID      = "SessionId"
	MetaOriginalSender = "OriginalSender"
	MetaSourceAgent    = "SourceAgent"
	MetaNextAgent      = "NextAgent"
	MetaError          = "Error"
	MetaRejected       = "Rejected"
	MetaHandoverReason = "HandoverReason"
)

// Message is the unit of communication on the bus. A message is treated as
// immutable once published; the publisher enriches Metadata before sending.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Content   string         `json:"content"`
	Type      MessageType    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewMessage constructs a message with a fresh unique id and UTC timestamp.
func NewMessage(sender, recipient, content string, msgType MessageType) *Message {
	return &Message{
		ID:        NewID(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{},
	}
}

// SetMeta stores a metadata value, allocating the map lazily.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	m.Metadata[key] = value
}

// MetaString returns a metadata value as string if present and non-empty.
func (m *Message) MetaString(key string) (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	s, ok := m.Metadata[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Clone returns a deep copy of the message safe for independent mutation.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Metadata = make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// NewID generates a globally unique identifier for messages and sessions.
func NewID() string { return uuid.NewString() }
