package core

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// SessionActive marks a session that is still collecting input.
	SessionActive SessionStatus = "Active"
	// SessionCompleted marks a terminally finished session.
	SessionCompleted SessionStatus = "Completed"
)

// Session tracks one logical user interaction scoped to a single agent. It
// carries a free-form state map used by the tool-call loop to remember tool
// results and routing decisions across iterations.
//
// Contract:
//   - State mutations bump LastActivity
//   - A session id is unique within its owning agent's store
//   - Snapshot methods return defensive copies.
type Session struct {
	ID           string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	Created      time.Time      `json:"created_time"`
	LastActivity time.Time      `json:"last_activity_time"`
	Completed    *time.Time     `json:"completed_time,omitempty"`
	Status       SessionStatus  `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	mu    sync.RWMutex
	state map[string]any
}

// NewSession creates an active session owned by userID.
func NewSession(id, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		UserID:       userID,
		Created:      now,
		LastActivity: now,
		Status:       SessionActive,
		Metadata:     map[string]any{},
		state:        map[string]any{},
	}
}

// Touch refreshes the last-activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now().UTC()
}

// SetState stores a key/value pair in session state.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	s.LastActivity = time.Now().UTC()
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// StateSnapshot returns a copy of the full state map.
func (s *Session) StateSnapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]any, len(s.state))
	for k, v := range s.state {
		snap[k] = v
	}
	return snap
}

// MergeMetadata folds extra key/value pairs into the session metadata.
func (s *Session) MergeMetadata(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range extra {
		s.Metadata[k] = v
	}
}

// LastActivityTime returns the last-activity timestamp under the lock, for
// readers running concurrently with state writes (e.g. the expiry sweep).
func (s *Session) LastActivityTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

// IsActive reports whether the session has not yet completed.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status == SessionActive
}

// MarkCompleted transitions the session to Completed, stamping the time.
// Callers decide whether the pin allows this; see session.Store.
func (s *Session) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == SessionCompleted {
		return
	}
	now := time.Now().UTC()
	s.Status = SessionCompleted
	s.Completed = &now
	s.LastActivity = now
}
