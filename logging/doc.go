// Package logging provides a tiny abstraction over slog so the orchestration
// core can depend on a minimal interface (Logger) while callers plug in any
// structured logger. A richer CrewLogger adds contextual cloning helpers
// (agent, session) and domain specific helpers for tool and completion calls.
package logging
