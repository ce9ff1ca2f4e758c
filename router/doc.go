// Package router implements the response routing state machine: it inspects
// final tool-loop responses for configured instruction lines and decides
// whether the session continues, completes, or hands off to another agent or
// back to the user. Routing failures never leave a session in an ambiguous
// pinned state; they force completion and record the error.
package router
