// Package flow drives the bounded tool-call iteration loop: it exchanges a
// conversation with the completion capability, executes requested tools
// against the registry, folds results back into the conversation and stops
// when the model returns a plain answer or the iteration cap is hit.
package flow
