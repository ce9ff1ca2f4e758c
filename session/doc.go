// Package session implements the per-agent session store: lazy creation
// keyed by message metadata, TTL-based expiry with a recurring sweeper, and
// the "awaiting confirmation" pin that exempts a session from both expiry
// and completion. Each agent owns exactly one Store; sessions are never
// shared across agents.
package session
