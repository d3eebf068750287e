// Package regression compares the recorded test results of a candidate
// release with those of a sealed baseline. It never runs tests; it reads two
// result summaries and reports what got worse.
package regression

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// DefaultDurationThreshold is the relative slowdown that counts as a
// regression.
const DefaultDurationThreshold = 0.20

// Type is a kind of regression.
type Type string

const (
	TypeTestCountDecrease      Type = "TEST_COUNT_DECREASE"
	TypeTestFailureIncrease    Type = "TEST_FAILURE_INCREASE"
	TypeAssertionCountDecrease Type = "ASSERTION_COUNT_DECREASE"
	TypeOutputHashMismatch     Type = "OUTPUT_HASH_MISMATCH"
	TypeDurationRegression     Type = "DURATION_REGRESSION"
)

// GapID is the waiver key that covers findings of type t.
func GapID(t Type) string { return "GAP-" + string(t) }

type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusPass   Status = "PASS"
	StatusWaived Status = "WAIVED"
	StatusFail   Status = "FAIL"
)

// TestResults summarize one test run.
type TestResults struct {
	TotalTests      int    `json:"total_tests"`
	Passed          int    `json:"passed"`
	Failed          int    `json:"failed"`
	Skipped         int    `json:"skipped"`
	AssertionsCount int    `json:"assertions_count"`
	OutputHash      string `json:"output_hash"`
	DurationMs      int64  `json:"duration_ms"`
}

func (r TestResults) validate(who string) error {
	if r.TotalTests < 0 || r.Passed < 0 || r.Failed < 0 || r.Skipped < 0 || r.AssertionsCount < 0 || r.DurationMs < 0 {
		return fault.New(fault.KindStructural, "REGRESSION_RESULTS_INVALID", "regression: %s results contain a negative count", who)
	}
	if r.Passed+r.Failed+r.Skipped > r.TotalTests {
		return fault.New(fault.KindStructural, "REGRESSION_RESULTS_INVALID",
			"regression: %s results count %d outcomes for %d tests", who, r.Passed+r.Failed+r.Skipped, r.TotalTests)
	}
	return nil
}

// Baseline is the sealed reference.
type Baseline struct {
	BaselineID  string      `json:"baseline_id"`
	Version     string      `json:"version"`
	Commit      string      `json:"commit"`
	TestResults TestResults `json:"test_results"`
}

// Candidate is the release under review.
type Candidate struct {
	Version     string      `json:"version"`
	Commit      string      `json:"commit"`
	TestResults TestResults `json:"test_results"`
}

// WaiverActive is the only waiver status that applies.
const WaiverActive = "ACTIVE"

// Waiver accepts a known gap against one baseline.
type Waiver struct {
	WaiverID   string     `json:"waiver_id"`
	BaselineID string     `json:"baseline_id"`
	GapID      string     `json:"gap_id"`
	Status     string     `json:"status"`
	ApprovedBy string     `json:"approved_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (w Waiver) appliesTo(baselineID string, now time.Time) bool {
	if w.BaselineID != baselineID || w.Status != WaiverActive {
		return false
	}
	return w.ExpiresAt == nil || now.Before(*w.ExpiresAt)
}

// Finding is one detected regression.
type Finding struct {
	FindingID     string   `json:"finding_id"`
	Type          Type     `json:"type"`
	Description   string   `json:"description"`
	BaselineValue string   `json:"baseline_value"`
	ObservedValue string   `json:"observed_value"`
	Severity      Severity `json:"severity"`
	Evidence      []string `json:"evidence"`
	Waived        bool     `json:"waived"`
	WaiverRef     string   `json:"waiver_ref,omitempty"`
}

// Result is the outcome of one check.
type Result struct {
	CheckID             string    `json:"check_id"`
	CheckedAt           time.Time `json:"checked_at"`
	BaselineID          string    `json:"baseline_id"`
	BaselineVersion     string    `json:"baseline_version"`
	CandidateVersion    string    `json:"candidate_version"`
	Status              Status    `json:"status"`
	TestsTotal          int       `json:"tests_total"`
	TestsPassed         int       `json:"tests_passed"`
	TestsFailed         int       `json:"tests_failed"`
	TestsWaived         int       `json:"tests_waived"`
	RegressionsDetected []Finding `json:"regressions_detected"`
	WaiverRefs          []string  `json:"waiver_refs"`
	FailureRefs         []string  `json:"failure_refs"`
}

// Options tune a check.
type Options struct {
	// DurationThreshold defaults to DefaultDurationThreshold when zero.
	DurationThreshold float64
	Now               time.Time
}

// Detector compares two result summaries.
type Detector func(base, cand TestResults, opts Options) *Finding

// Detectors returns the detectors in report order.
func Detectors() []Detector {
	return []Detector{testCountDecrease, failureIncrease, assertionDecrease, outputMismatch, durationRegression}
}

// Check compares candidate with baseline and applies waivers. Any unwaived
// finding makes the status FAIL; findings that are all waived give WAIVED.
func Check(base Baseline, cand Candidate, waivers []Waiver, opts Options) (Result, error) {
	if base.BaselineID == "" {
		return Result{}, fault.New(fault.KindUsage, "REGRESSION_BASELINE_REQUIRED", "regression: baseline id is required")
	}
	if err := base.TestResults.validate("baseline"); err != nil {
		return Result{}, err
	}
	if err := cand.TestResults.validate("candidate"); err != nil {
		return Result{}, err
	}
	if opts.DurationThreshold == 0 {
		opts.DurationThreshold = DefaultDurationThreshold
	}
	now := opts.Now.UTC()

	res := Result{
		CheckID:             CheckID(cand.Commit, now),
		CheckedAt:           now,
		BaselineID:          base.BaselineID,
		BaselineVersion:     base.Version,
		CandidateVersion:    cand.Version,
		TestsTotal:          cand.TestResults.TotalTests,
		TestsPassed:         cand.TestResults.Passed,
		TestsFailed:         cand.TestResults.Failed,
		RegressionsDetected: []Finding{},
		WaiverRefs:          []string{},
		FailureRefs:         []string{},
	}

	applicable := map[string]Waiver{}
	for _, w := range waivers {
		if _, dup := applicable[w.GapID]; !dup && w.appliesTo(base.BaselineID, now) {
			applicable[w.GapID] = w
		}
	}

	seq := 0
	seenWaiver := map[string]bool{}
	for _, detect := range Detectors() {
		f := detect(base.TestResults, cand.TestResults, opts)
		if f == nil {
			continue
		}
		seq++
		f.FindingID = FindingID(f.Type, now, seq)
		if w, ok := applicable[GapID(f.Type)]; ok {
			f.Waived, f.WaiverRef = true, w.WaiverID
			res.TestsWaived++
			if !seenWaiver[w.WaiverID] {
				seenWaiver[w.WaiverID] = true
				res.WaiverRefs = append(res.WaiverRefs, w.WaiverID)
			}
		} else {
			res.FailureRefs = append(res.FailureRefs, f.FindingID)
		}
		res.RegressionsDetected = append(res.RegressionsDetected, *f)
	}

	switch {
	case len(res.FailureRefs) > 0:
		res.Status = StatusFail
	case res.TestsWaived > 0:
		res.Status = StatusWaived
	default:
		res.Status = StatusPass
	}

	slog.Default().With("component", "regression").Info("regression check",
		"check_id", res.CheckID, "status", res.Status, "findings", len(res.RegressionsDetected), "waived", res.TestsWaived)
	return res, nil
}

// CheckID renders CHK_{YYYYMMDDTHHMMSS}_{commit8}.
func CheckID(commit string, at time.Time) string {
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("CHK_%s_%s", at.UTC().Format("20060102T150405"), commit)
}

// FindingID renders FND_{TYPE}_{YYYYMMDD}_{NNN}.
func FindingID(t Type, at time.Time, seq int) string {
	return fmt.Sprintf("FND_%s_%s_%03d", t, at.UTC().Format("20060102"), seq)
}
