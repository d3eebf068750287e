package drift

import (
	"fmt"
	"math"
	"regexp"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
)

var driftIDPattern = regexp.MustCompile(`^D-(S|O|F|T|P|V|TL|C)-\d{8}-\d{3}$`)

// ValidationResult lists every structural problem found in a report.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateReport checks a drift report's structure and internal
// consistency. It never recomputes detector output.
func ValidateReport(rep Report) ValidationResult {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if rep.ReportType != ReportType {
		add("report_type is %q, want %q", rep.ReportType, ReportType)
	}
	if rep.Version != ReportVersion {
		add("version is %q, want %q", rep.Version, ReportVersion)
	}
	if rep.ReportID == "" {
		add("report_id is empty")
	}
	if len(rep.TriggerEvents) == 0 {
		add("trigger_events is empty")
	}
	if rep.BaselineRef == "" {
		add("baseline_ref is empty")
	}
	if rep.Notes == "" {
		add("notes are empty")
	}

	levels := make([]escalation.Level, 0, len(rep.DetectedDrifts))
	seen := map[string]bool{}
	for i, r := range rep.DetectedDrifts {
		at := fmt.Sprintf("detected_drifts[%d]", i)
		if !driftIDPattern.MatchString(r.DriftID) {
			add("%s: drift_id %q is malformed", at, r.DriftID)
		}
		if seen[r.DriftID] {
			add("%s: duplicate drift_id %q", at, r.DriftID)
		}
		seen[r.DriftID] = true
		score, err := escalation.Score(r.Impact, r.Confidence, r.Persistence)
		if err != nil {
			add("%s: %v", at, err)
			continue
		}
		if math.Abs(score-r.Score) > 1e-9 {
			add("%s: score %v != impact×confidence×persistence %v", at, r.Score, score)
		}
		if r.Classification != escalation.Classify(score) {
			add("%s: classification %s does not match score %v", at, r.Classification, score)
		}
		if escalation.RequiresHumanJustification(score) && r.HumanJustification == "" {
			add("%s: score %v requires human_justification", at, score)
		}
		levels = append(levels, r.Classification)
	}

	if rep.Summary.TotalDrifts != len(rep.DetectedDrifts) {
		add("summary.total_drifts %d != %d detected", rep.Summary.TotalDrifts, len(rep.DetectedDrifts))
	}
	total := 0
	for name, n := range rep.Summary.ByClassification {
		if _, err := escalation.ParseLevel(name); err != nil {
			add("summary.by_classification: %v", err)
		}
		total += n
	}
	if total != len(rep.DetectedDrifts) {
		add("summary.by_classification sums to %d, want %d", total, len(rep.DetectedDrifts))
	}

	overall := escalation.Highest(levels...)
	if rep.OverallClassification != overall {
		add("overall_classification %s, want %s", rep.OverallClassification, overall)
	}
	if rep.EscalationTarget != escalation.TargetFor(rep.OverallClassification) {
		add("escalation_target %s does not match %s", rep.EscalationTarget, rep.OverallClassification)
	}
	if rep.Recommendation != escalation.RecommendationFor(rep.OverallClassification) {
		add("recommendation %s does not match %s", rep.Recommendation, rep.OverallClassification)
	}
	if rep.EscalationRequired != (rep.EscalationTarget != escalation.TargetNone) {
		add("escalation_required disagrees with escalation_target")
	}

	if errs == nil {
		errs = []string{}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
