package incident

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

// Context is what a rule may consult besides the incident itself.
type Context struct {
	// PostMortem is the post-mortem filed for the incident, or nil.
	PostMortem *PostMortem
}

// Rules are INC-001 through INC-005 in order.
var Rules = []governance.Rule[Event, Context]{
	{ID: "INC-001", Name: "No blame culture", Check: noBlame},
	{ID: "INC-002", Name: "Immediate logging (15 min)", Check: immediateLogging},
	{ID: "INC-003", Name: "Evidence preservation", Check: evidencePreserved},
	{ID: "INC-004", Name: "Transparent communication", Check: transparentCommunication},
	{ID: "INC-005", Name: "Mandatory post-mortem (MEDIUM+)", Check: mandatoryPostMortem},
}

// ValidateRules runs every INC rule against ev.
func ValidateRules(ev Event, ctx Context) []governance.Violation {
	return governance.Evaluate(Rules, ev, ctx)
}

func violation(ev Event, format string, args ...any) *governance.Violation {
	return &governance.Violation{EventID: ev.EventID, Description: fmt.Sprintf(format, args...)}
}

var blameLanguage = regexp.MustCompile(`(?i)\b(fault|blame[sd]?|should have|failed to|careless(ness)?|negligen(t|ce)|incompetent)\b`)

// BlameLanguage returns the first blaming phrase in s, lower-cased, or "".
func BlameLanguage(s string) string {
	return strings.ToLower(blameLanguage.FindString(s))
}

func noBlame(ev Event, ctx Context) *governance.Violation {
	pm := ctx.PostMortem
	if pm == nil {
		return nil
	}
	if missing(pm.BlameFreeStatement) {
		return violation(ev, "Post-mortem %s has no blame-free statement", pm.PostMortemID)
	}
	sections := []struct {
		name string
		text []string
	}{
		{"summary", []string{pm.Summary}},
		{"root_cause", append([]string{pm.RootCause.Description}, pm.RootCause.ContributingFactors...)},
		{"impact", []string{pm.Impact.Description}},
		{"resolution", []string{pm.Resolution.Description}},
		{"lessons_learned", pm.LessonsLearned},
	}
	for _, sec := range sections {
		for _, t := range sec.text {
			if w := BlameLanguage(t); w != "" {
				v := violation(ev, "Post-mortem %s uses blaming language %q in %s", pm.PostMortemID, w, sec.name)
				v.Evidence = []string{t}
				return v
			}
		}
	}
	return nil
}

func immediateLogging(ev Event, _ Context) *governance.Violation {
	if ev.DetectedAt.IsZero() || ev.Timestamp.IsZero() {
		return nil
	}
	if delay := ev.Timestamp.Sub(ev.DetectedAt); delay > MaxLoggingDelay {
		return violation(ev, "Incident %s logged %s after detection, beyond the %s limit",
			ev.IncidentID, delay.Round(time.Second), MaxLoggingDelay)
	}
	return nil
}

func evidencePreserved(ev Event, ctx Context) *governance.Violation {
	if len(ev.EvidenceRefs) == 0 {
		return violation(ev, "Incident %s has no evidence references", ev.IncidentID)
	}
	pm := ctx.PostMortem
	if pm == nil {
		return nil
	}
	if len(pm.EvidenceRefs) == 0 {
		return violation(ev, "Post-mortem %s has no evidence references", pm.PostMortemID)
	}
	for _, ref := range ev.EvidenceRefs {
		if slices.Contains(pm.EvidenceRefs, ref) {
			return nil
		}
	}
	v := violation(ev, "Post-mortem %s references none of the evidence of incident %s", pm.PostMortemID, ev.IncidentID)
	v.Evidence = append([]string{}, ev.EvidenceRefs...)
	return v
}

var communicationWords = []string{"notif", "alert", "communicat", "announce", "inform", "status page"}

func transparentCommunication(ev Event, _ Context) *governance.Violation {
	if ev.Severity != SeverityCritical && ev.Severity != SeverityHigh {
		return nil
	}
	for _, entry := range ev.Timeline {
		action := strings.ToLower(entry.Action)
		for _, w := range communicationWords {
			if strings.Contains(action, w) {
				return nil
			}
		}
	}
	return violation(ev, "%s incident %s has no communication recorded in its timeline", ev.Severity, ev.IncidentID)
}

func mandatoryPostMortem(ev Event, ctx Context) *governance.Violation {
	if !RequiresPostMortem(ev.Severity) {
		return nil
	}
	pm := ctx.PostMortem
	if pm == nil {
		return violation(ev, "%s incident %s has no post-mortem. Silence = violation", ev.Severity, ev.IncidentID)
	}
	if strings.TrimSpace(pm.IncidentID) != ev.IncidentID {
		return violation(ev, "Post-mortem %s incident_id %q does not match incident %s", pm.PostMortemID, pm.IncidentID, ev.IncidentID)
	}
	return nil
}
