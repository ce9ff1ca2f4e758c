// Package core defines the domain contracts shared by every layer of
// codecrew: the bus Message entity, the Session record, tool call and
// completion types, and the Bus / Completer interfaces. Keeping contracts
// here lets the leaf packages (bus, session, flow, router, model, agent)
// depend on a single stable package instead of each other.
package core
