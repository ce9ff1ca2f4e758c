// Package model contains implementations of the core.Completer capability.
// The Mock completer serves tests and examples; vendor adapters live in the
// openai and anthropic sub-packages. Adapters resolve tool-service names to
// vendor tool schemas through the tool.Registry so the orchestration core
// only ever passes identifiers.
package model
