package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codecrew-dev/codecrew/core"
	"github.com/codecrew-dev/codecrew/logging"
)

// DefaultTTL is how long an idle session survives before the sweeper removes it.
const DefaultTTL = 10 * time.Minute

// DefaultSweepInterval is the cadence of the recurring background sweep.
const DefaultSweepInterval = 5 * time.Minute

// Options configures a Store.
type Options struct {
	TTL    time.Duration
	Logger logging.Logger
}

// Store holds the sessions of a single agent. All methods are safe for
// concurrent use; the lock is never held across external calls.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*core.Session
	pinned   map[string]struct{}
	ttl      time.Duration
	logger   logging.Logger
}

// NewStore constructs an empty session store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{TTL: DefaultTTL, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*core.Session),
		pinned:   make(map[string]struct{}),
		ttl:      opts.TTL,
		logger:   opts.Logger,
	}
}

// GetOrCreate resolves the session for a message. The id comes from the
// message's SessionId metadata when present; otherwise a new id of the form
// {sender}_{unix-ts}_{rand4} is minted. Either way the id is stamped back
// into the message metadata so downstream hops share the same session.
func (s *Store) GetOrCreate(msg *core.Message) *core.Session {
	id, ok := msg.MetaString(core.MetaSessionID)
	if !ok {
		id = mintID(msg.Sender)
	}
	msg.SetMeta(core.MetaSessionID, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, exists := s.sessions[id]; exists {
		sess.Touch()
		return sess
	}
	sess := core.NewSession(id, msg.Sender)
	s.sessions[id] = sess
	s.logger.Debug("session.created", "session_id", id, "user_id", msg.Sender)
	return sess
}

// Get returns the session for id if it exists.
func (s *Store) Get(id string) (*core.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// MarkAwaitingConfirmation pins the session: it can no longer expire or
// complete until the pin is cleared.
func (s *Store) MarkAwaitingConfirmation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return
	}
	s.pinned[id] = struct{}{}
	s.logger.Debug("session.pinned", "session_id", id)
}

// ClearAwaitingConfirmation removes the pin.
func (s *Store) ClearAwaitingConfirmation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, id)
}

// IsAwaitingConfirmation reports whether the session is pinned.
func (s *Store) IsAwaitingConfirmation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pinned[id]
	return ok
}

// Complete marks the session completed and merges extra metadata. It refuses
// while the session is pinned, returning false.
func (s *Store) Complete(id string, extra map[string]any) bool {
	s.mu.Lock()
	if _, pinned := s.pinned[id]; pinned {
		s.mu.Unlock()
		s.logger.Debug("session.complete.refused_pinned", "session_id", id)
		return false
	}
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.MergeMetadata(extra)
	sess.MarkCompleted()
	s.logger.Info("session.completed", "session_id", id)
	return true
}

// ForceComplete completes the session unconditionally, clearing any pin.
// Used on fatal and error paths where holding the session open would leave
// it in an ambiguous state.
func (s *Store) ForceComplete(id string, extra map[string]any) {
	s.mu.Lock()
	delete(s.pinned, id)
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.MergeMetadata(extra)
	sess.MarkCompleted()
	s.logger.Warn("session.force_completed", "session_id", id)
}

// SweepExpired removes every session that is completed or idle past the TTL,
// except pinned ones. Returns the number of sessions removed.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if _, pinned := s.pinned[id]; pinned {
			continue
		}
		if !sess.IsActive() || now.Sub(sess.LastActivityTime()) > s.ttl {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("session.sweep", "removed", removed, "remaining", len(s.sessions))
	}
	return removed
}

// Count sweeps opportunistically and returns the number of live sessions.
func (s *Store) Count() int {
	s.SweepExpired(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is cancelled.
// It returns immediately; the sweep goroutine stops deterministically with
// the context.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.SweepExpired(now)
			}
		}
	}()
}

// mintID builds a fresh session id of the form {sender}_{unix-ts}_{rand4}.
func mintID(sender string) string {
	rand4 := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("%s_%d_%s", sender, time.Now().Unix(), rand4)
}
