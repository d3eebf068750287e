package incident

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

const ReportType = "incident_report"

// Notes is attached to every incident report.
const Notes = "NON-ACTUATING: incident validation is report only. No rollback, paging or incident closure happens here; every finding goes to human review."

// Args are the inputs of Run.
type Args struct {
	Incidents   []Event
	PostMortems []PostMortem
	Rollbacks   []RollbackPlan
	GeneratedAt time.Time
	PrevHash    *string
}

// Run validates every incident with its post-mortem, every rollback plan,
// and the INC rules, then builds the report. Post-mortems are matched to
// incidents by incident_id; the first one filed for an incident wins.
func Run(args Args) (governance.Report, error) {
	byIncident := map[string]*PostMortem{}
	duplicates := map[string]int{}
	for i := range args.PostMortems {
		id := strings.TrimSpace(args.PostMortems[i].IncidentID)
		if _, ok := byIncident[id]; ok {
			duplicates[id]++
			continue
		}
		byIncident[id] = &args.PostMortems[i]
	}

	var (
		validations []governance.Validation
		violations  []governance.Violation
	)
	for _, ev := range args.Incidents {
		pm := byIncident[ev.IncidentID]
		errs := ValidateIncident(ev)
		switch {
		case pm != nil:
			for _, e := range ValidatePostMortem(*pm) {
				errs = append(errs, "postmortem: "+e)
			}
		case RequiresPostMortem(ev.Severity):
			errs = append(errs, fmt.Sprintf("post-mortem required for %s incidents and none was filed", ev.Severity))
		}
		if n := duplicates[ev.IncidentID]; n > 0 {
			errs = append(errs, fmt.Sprintf("%d extra post-mortem(s) filed for the same incident", n))
		}
		validations = append(validations, governance.Validation{
			EventID:   ev.EventID,
			Timestamp: ev.Timestamp,
			Valid:     len(errs) == 0,
			Errors:    errs,
		})
		violations = append(violations, ValidateRules(ev, Context{PostMortem: pm})...)
	}

	for _, rp := range args.Rollbacks {
		res := ValidateRollback(rp)
		validations = append(validations, governance.Validation{
			EventID:   rp.EventID,
			Timestamp: rp.Timestamp,
			Valid:     res.Valid,
			Errors:    res.Errors,
		})
	}

	return governance.BuildReport(governance.ReportArgs{
		ReportType:  ReportType,
		IDPrefix:    "INC_REPORT",
		GeneratedAt: args.GeneratedAt,
		Validations: validations,
		Violations:  violations,
		Notes:       Notes,
		PrevHash:    args.PrevHash,
	})
}
