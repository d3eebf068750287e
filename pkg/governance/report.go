package governance

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// ReportArgs are the inputs of BuildReport.
type ReportArgs struct {
	ReportType string
	// IDPrefix starts the report id, e.g. "OVR_REPORT".
	IDPrefix    string
	GeneratedAt time.Time
	Validations []Validation
	Violations  []Violation
	Notes       string
	PrevHash    *string
}

// Window spans the validated events.
type Window struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	EventsCount int       `json:"events_count"`
}

// Summary counts validations and violations.
type Summary struct {
	EventsValidated int            `json:"events_validated"`
	Valid           int            `json:"valid"`
	Invalid         int            `json:"invalid"`
	Violations      int            `json:"violations"`
	ByRule          map[string]int `json:"by_rule"`
}

// Report is the governance report for one batch of events.
type Report struct {
	ReportType         string                  `json:"report_type"`
	SchemaVersion      string                  `json:"schema_version"`
	ReportID           string                  `json:"report_id"`
	GeneratedAt        time.Time               `json:"generated_at"`
	Window             Window                  `json:"window"`
	Validations        []Validation            `json:"validations"`
	RuleViolations     []Violation             `json:"rule_violations"`
	Summary            Summary                 `json:"summary"`
	EscalationRequired bool                    `json:"escalation_required"`
	EscalationTarget   escalation.Target       `json:"escalation_target"`
	AutoActionTaken    escalation.NoAutoAction `json:"auto_action_taken"`
	Notes              string                  `json:"notes"`
	LogChainPrevHash   *string                 `json:"log_chain_prev_hash"`
}

// SchemaVersion of every governance report.
const SchemaVersion = "1.0.0"

// BuildReport aggregates validations and violations. Escalation is required
// iff some validation is invalid or some violation exists; the target is
// always the human reviewer.
func BuildReport(args ReportArgs) (Report, error) {
	if args.ReportType == "" || args.IDPrefix == "" {
		return Report{}, fault.New(fault.KindUsage, "GOVERNANCE_REPORT_ARGS", "governance: report type and id prefix are required")
	}
	generatedAt := args.GeneratedAt.UTC()

	validations := append([]Validation{}, args.Validations...)
	for i := range validations {
		validations[i].Errors = append([]string{}, validations[i].Errors...)
	}
	sort.SliceStable(validations, func(i, j int) bool { return validations[i].EventID < validations[j].EventID })

	violations := append([]Violation{}, args.Violations...)
	SortViolations(violations)

	sum := Summary{EventsValidated: len(validations), Violations: len(violations), ByRule: map[string]int{}}
	for _, v := range validations {
		if v.Valid {
			sum.Valid++
		} else {
			sum.Invalid++
		}
	}
	for _, v := range violations {
		sum.ByRule[v.Rule]++
	}

	rep := Report{
		ReportType:         args.ReportType,
		SchemaVersion:      SchemaVersion,
		GeneratedAt:        generatedAt,
		Window:             window(validations, generatedAt),
		Validations:        validations,
		RuleViolations:     violations,
		Summary:            sum,
		EscalationRequired: sum.Invalid > 0 || sum.Violations > 0,
		EscalationTarget:   escalation.TargetArchitecte,
		Notes:              args.Notes,
		LogChainPrevHash:   args.PrevHash,
	}

	h, err := canonicalize.CanonicalHash(rep)
	if err != nil {
		return Report{}, fault.Structural(fmt.Errorf("governance: hash report: %w", err), "GOVERNANCE_REPORT_HASH")
	}
	rep.ReportID = fmt.Sprintf("%s_%s_%s", args.IDPrefix, CompactTimestamp(generatedAt), h[:8])

	slog.Default().With("component", "governance").Info("governance report built",
		"report_type", rep.ReportType, "report_id", rep.ReportID,
		"invalid", sum.Invalid, "violations", sum.Violations)
	return rep, nil
}

// CompactTimestamp renders t as YYYYMMDDTHHMMSSZ.
func CompactTimestamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// ShortHash returns the first 8 hex characters of the SHA-256 of s.
func ShortHash(s string) string {
	return canonicalize.HashString(s)[:8]
}

// EventID renders PREFIX_CODE_YYYYMMDD_NNN.
func EventID(prefix, code string, at time.Time, seq int) string {
	return fmt.Sprintf("%s_%s_%s_%03d", prefix, strings.ToUpper(code), at.UTC().Format("20060102"), seq)
}

func window(vs []Validation, fallback time.Time) Window {
	w := Window{From: fallback, To: fallback, EventsCount: len(vs)}
	for i, v := range vs {
		ts := v.Timestamp.UTC()
		if i == 0 || ts.Before(w.From) {
			w.From = ts
		}
		if i == 0 || ts.After(w.To) {
			w.To = ts
		}
	}
	return w
}
