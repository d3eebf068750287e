package override

import (
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

const ReportType = "override_report"

// Notes is attached to every override report.
const Notes = "Override validation is report only. No automatic enforcement, revocation or approval happens here; every finding goes to human review."

// Args are the inputs of Run.
type Args struct {
	Overrides   []Event
	GeneratedAt time.Time
	PrevHash    *string
}

// Run validates every override, conditions and rules, and builds the report.
// Each override is checked for renewal against those listed before it.
func Run(args Args) (governance.Report, error) {
	var (
		validations []governance.Validation
		violations  []governance.Violation
	)
	for i, ev := range args.Overrides {
		cr := ValidateConditions(ev)
		validations = append(validations, governance.Validation{
			EventID:   ev.EventID,
			Timestamp: ev.Timestamp,
			Valid:     cr.Valid,
			Errors:    cr.Errors,
		})
		violations = append(violations, ValidateRules(ev, Context{Existing: args.Overrides[:i]})...)
	}
	return governance.BuildReport(governance.ReportArgs{
		ReportType:  ReportType,
		IDPrefix:    "OVR_REPORT",
		GeneratedAt: args.GeneratedAt,
		Validations: validations,
		Violations:  violations,
		Notes:       Notes,
		PrevHash:    args.PrevHash,
	})
}
