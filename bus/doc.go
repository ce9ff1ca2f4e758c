// Package bus houses the in-process implementation of core.Bus. Messages to
// the same recipient are delivered in publish order through a per-subscriber
// queue; delivery to different recipients carries no ordering guarantee.
// Publishers never block on subscriber processing.
package bus
