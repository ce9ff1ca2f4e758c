package router

import "strings"

// ConfirmationPolicy decides whether response content is asking the user for
// confirmation and should therefore pin the session instead of completing it.
// It is pluggable so callers can swap the heuristic without touching routing.
type ConfirmationPolicy interface {
	RequiresConfirmation(content string) bool
}

// MarkerPolicy flags content containing any of its natural-language markers
// (case-insensitive substring match).
type MarkerPolicy struct {
	Markers []string
}

// DefaultConfirmationPolicy returns the built-in marker set.
func DefaultConfirmationPolicy() *MarkerPolicy {
	return &MarkerPolicy{Markers: []string{
		"please confirm",
		"do you want",
		"should i proceed",
		"is this correct",
		"let me know",
	}}
}

// RequiresConfirmation implements ConfirmationPolicy.
func (p *MarkerPolicy) RequiresConfirmation(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range p.Markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// NeverPolicy never requests confirmation; sessions complete normally.
type NeverPolicy struct{}

// RequiresConfirmation implements ConfirmationPolicy.
func (NeverPolicy) RequiresConfirmation(string) bool { return false }
