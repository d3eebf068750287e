// Package conform runs the trust-chain gates G0..G5 strictly in order and
// stops at the first FAIL. Its outputs (CI report, badge, index) are pure
// projections of the orchestrator result.
package conform

import (
	"context"
	"time"
)

// GateID identifies one of the six gates. The set is closed.
type GateID string

const (
	G0 GateID = "G0" // baseline found
	G1 GateID = "G1" // manifest and artifact hashes valid
	G2 GateID = "G2" // merkle root and leaf count valid
	G3 GateID = "G3" // replay identical
	G4 GateID = "G4" // thresholds met
	G5 GateID = "G5" // certified
)

// GateOrder is the only execution order.
var GateOrder = []GateID{G0, G1, G2, G3, G4, G5}

// Index returns the position of g in GateOrder, or -1.
func (g GateID) Index() int {
	for i, id := range GateOrder {
		if id == g {
			return i
		}
	}
	return -1
}

// Valid reports whether g is one of G0..G5.
func (g GateID) Valid() bool { return g.Index() >= 0 }

// Verdict is PASS or FAIL; there is no third value.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// Valid reports whether v is PASS or FAIL.
func (v Verdict) Valid() bool { return v == VerdictPass || v == VerdictFail }

// Gate is one ordered check. Run returns FAIL as data; an error means the
// check could not be performed (unreadable or malformed input) and aborts
// the whole execution.
type Gate interface {
	ID() GateID
	Name() string
	Run(ctx context.Context, gc *GateContext) (GateResult, error)
}

// GateResult is the output of one gate.
type GateResult struct {
	Gate    GateID         `json:"gate"`
	Name    string         `json:"name"`
	Verdict Verdict        `json:"verdict"`
	Detail  string         `json:"detail"`
	Reasons []string       `json:"reasons,omitempty"`
	Metrics GateMetrics    `json:"metrics"`
	Details map[string]any `json:"details,omitempty"`
}

// GateMetrics captures timing and counts per gate.
type GateMetrics struct {
	DurationMs int64          `json:"duration_ms"`
	Counts     map[string]int `json:"counts,omitempty"`
}

// Pass builds a PASS result.
func Pass(id GateID, detail string) GateResult {
	return GateResult{Gate: id, Verdict: VerdictPass, Detail: detail}
}

// Fail builds a FAIL result carrying reason codes.
func Fail(id GateID, detail string, reasons ...string) GateResult {
	return GateResult{Gate: id, Verdict: VerdictFail, Detail: detail, Reasons: reasons}
}

// GateContext is the read-only input of a run. No gate modifies it.
type GateContext struct {
	BaselineDir     string `json:"baseline_dir,omitempty"`
	CandidateDir    string `json:"candidate_dir"`
	BaselinesDir    string `json:"baselines_dir,omitempty"`
	BaselineVersion string `json:"baseline_version,omitempty"`
	Seed            string `json:"seed,omitempty"`

	Clock func() time.Time `json:"-"`
}

// Now returns the context clock's time, or wall time without one.
func (gc *GateContext) Now() time.Time {
	if gc.Clock != nil {
		return gc.Clock()
	}
	return time.Now()
}
