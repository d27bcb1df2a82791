package agent

import "strings"

// Marker maps a textual failure signature to a terminal state.
// The agent CLI offers no structured exit reason, so classification of a
// non-zero exit relies on these markers.
type Marker struct {
	// Name identifies the marker in logs and session records.
	Name string
	// State is assigned when Match returns true.
	State TerminalState
	// Match tests the last message text.
	Match func(text string) bool
}

// MarkerTable is evaluated in order; the first match wins.
type MarkerTable []Marker

// DefaultMarkers lists known provider signatures in priority order:
// overload before rate limit before context length.
func DefaultMarkers() MarkerTable {
	return MarkerTable{
		{Name: "api_500_overloaded", State: StateOverloaded, Match: ContainsAll("api error: 500", "overloaded")},
		{Name: "api_529_overloaded", State: StateOverloaded, Match: ContainsAll("api error: 529", "overloaded")},
		{Name: "usage_limit", State: StateRateLimited, Match: ContainsAny(
			"usage limit reached",
			"hit your limit",
			"rate limit",
			"rate_limit_error",
		)},
		{Name: "context_length", State: StateContextExceeded, Match: ContainsAny(
			"prompt is too long",
			"context length",
			"context window",
			"maximum context",
			"input is too long",
		)},
	}
}

// With returns a copy of the table with extra markers appended.
func (t MarkerTable) With(extra ...Marker) MarkerTable {
	out := make(MarkerTable, 0, len(t)+len(extra))
	out = append(out, t...)
	return append(out, extra...)
}

// Lookup returns the first marker matching text.
func (t MarkerTable) Lookup(text string) (Marker, bool) {
	if text == "" {
		return Marker{}, false
	}
	for _, m := range t {
		if m.Match != nil && m.Match(text) {
			return m, true
		}
	}
	return Marker{}, false
}

// ContainsAll matches when every substring occurs, case-insensitively.
func ContainsAll(subs ...string) func(string) bool {
	lowered := lowerAll(subs)
	return func(text string) bool {
		text = strings.ToLower(text)
		for _, s := range lowered {
			if !strings.Contains(text, s) {
				return false
			}
		}
		return true
	}
}

// ContainsAny matches when at least one substring occurs, case-insensitively.
func ContainsAny(subs ...string) func(string) bool {
	lowered := lowerAll(subs)
	return func(text string) bool {
		text = strings.ToLower(text)
		for _, s := range lowered {
			if strings.Contains(text, s) {
				return true
			}
		}
		return false
	}
}

func lowerAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}
