package versioning

import (
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

const ReportType = "version_report"

// Notes is attached to every version report.
const Notes = "Version validation is report only. No automatic rollback, release block or tag change happens here; findings go to human review."

// Args are the inputs of Run.
type Args struct {
	Events      []Event
	GeneratedAt time.Time
	PrevHash    *string
}

// Run validates every event and its VER rules and builds the report.
func Run(args Args) (governance.Report, error) {
	var (
		validations []governance.Validation
		violations  []governance.Violation
	)
	for _, ev := range args.Events {
		res := ValidateEvent(ev)
		validations = append(validations, governance.Validation{
			EventID:   ev.EventID,
			Timestamp: ev.Timestamp,
			Valid:     res.Valid,
			Errors:    res.Errors,
		})
		violations = append(violations, ValidateRules(ev, Context{})...)
	}
	return governance.BuildReport(governance.ReportArgs{
		ReportType:  ReportType,
		IDPrefix:    "VER_REPORT",
		GeneratedAt: args.GeneratedAt,
		Validations: validations,
		Violations:  violations,
		Notes:       Notes,
		PrevHash:    args.PrevHash,
	})
}
