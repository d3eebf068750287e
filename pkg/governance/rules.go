// Package governance holds the rule contract shared by the override, version
// and incident validators and the report they are aggregated into.
//
// A rule reads an event and its context and returns a violation or nil. It
// never mutates either and never acts on the outcome: a violation is data
// addressed to a human reviewer.
package governance

import (
	"sort"
	"time"
)

// Violation is one broken rule.
type Violation struct {
	Rule        string   `json:"rule"`
	Name        string   `json:"name"`
	EventID     string   `json:"event_id"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Check is the validate(event, context) contract. A nil result means the
// event satisfies the rule.
type Check[E, C any] func(event E, ctx C) *Violation

// Rule binds a check to its stable identifier.
type Rule[E, C any] struct {
	ID    string
	Name  string
	Check Check[E, C]
}

// Evaluate runs every rule against event and returns the violations in rule
// order. The rule id and name are stamped on each violation.
func Evaluate[E, C any](rules []Rule[E, C], event E, ctx C) []Violation {
	var out []Violation
	for _, r := range rules {
		v := r.Check(event, ctx)
		if v == nil {
			continue
		}
		v.Rule = r.ID
		if v.Name == "" {
			v.Name = r.Name
		}
		out = append(out, *v)
	}
	return out
}

// Validation is the structural verdict on one event.
type Validation struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Valid     bool      `json:"valid"`
	Errors    []string  `json:"errors"`
}

// SortViolations orders violations by event then rule, in place.
func SortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].EventID != vs[j].EventID {
			return vs[i].EventID < vs[j].EventID
		}
		return vs[i].Rule < vs[j].Rule
	})
}
