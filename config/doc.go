// Package config loads declarative agent definitions from JSON files and
// environment-derived runtime settings. Agent configs are loaded once at
// construction and treated as immutable for the agent's lifetime; malformed
// configs are fatal at load time.
package config
