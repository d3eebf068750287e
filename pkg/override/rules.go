package override

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

// Context is what a rule may consult besides the event itself.
type Context struct {
	// Existing holds overrides recorded before the event under validation.
	Existing []Event
}

// Rules are OVR-001 through OVR-005 in order.
var Rules = []governance.Rule[Event, Context]{
	{ID: "OVR-001", Name: "No perpetual override", Check: noPerpetual},
	{ID: "OVR-002", Name: "Single approver", Check: singleApprover},
	{ID: "OVR-003", Name: "Audit trail", Check: auditTrail},
	{ID: "OVR-004", Name: "Review before renewal", Check: reviewBeforeRenewal},
	{ID: "OVR-005", Name: "No cascade", Check: noCascade},
}

// ValidateRules runs every OVR rule against ev.
func ValidateRules(ev Event, ctx Context) []governance.Violation {
	return governance.Evaluate(Rules, ev, ctx)
}

func violation(ev Event, format string, args ...any) *governance.Violation {
	return &governance.Violation{EventID: ev.EventID, Description: fmt.Sprintf(format, args...)}
}

func noPerpetual(ev Event, _ Context) *governance.Violation {
	if ev.Validity.ExpiresAt.IsZero() {
		return violation(ev, "Override %s has no expiration: a perpetual override is forbidden", ev.OverrideID)
	}
	days := ev.Validity.DurationDays()
	if days > AbsoluteMaxDays {
		return violation(ev, "Override %s lasts %d days, beyond the absolute limit of %d days", ev.OverrideID, days, AbsoluteMaxDays)
	}
	if limit, ok := MaxDays[ev.Type]; ok && days > limit {
		return violation(ev, "Override %s lasts %d days and exceeds maximum %d days for %s", ev.OverrideID, days, limit, ev.Type)
	}
	return nil
}

var approverSeparators = []string{",", ";", "&", "|", " and "}

func singleApprover(ev Event, _ Context) *governance.Violation {
	who := strings.TrimSpace(ev.Approval.Approver)
	if who == "" {
		return violation(ev, "No approver recorded on override %s", ev.OverrideID)
	}
	for _, sep := range approverSeparators {
		if strings.Contains(strings.ToLower(who), sep) {
			return violation(ev, "Multiple approvers on override %s (%q): exactly one human must sign", ev.OverrideID, who)
		}
	}
	return nil
}

func auditTrail(ev Event, _ Context) *governance.Violation {
	if strings.TrimSpace(ev.OverrideHash) == "" {
		return violation(ev, "Override %s has no hash and cannot enter the audit trail", ev.OverrideID)
	}
	if !VerifyOverrideHash(ev) {
		return violation(ev, "Override %s hash does not match its content: audit trail broken", ev.OverrideID)
	}
	return nil
}

func reviewBeforeRenewal(ev Event, ctx Context) *governance.Violation {
	for _, prev := range ctx.Existing {
		if prev.OverrideID == ev.OverrideID || prev.Scope.TargetRule != ev.Scope.TargetRule ||
			prev.Scope.TargetComponent != ev.Scope.TargetComponent {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(prev.Justification.Reason), strings.TrimSpace(ev.Justification.Reason)) {
			return violation(ev, "Override %s renews %s with the same reason: renewal requires a new justification", ev.OverrideID, prev.OverrideID)
		}
	}
	return nil
}

func noCascade(ev Event, _ Context) *governance.Violation {
	s := ev.Scope
	switch {
	case strings.HasPrefix(strings.ToUpper(s.TargetRule), "OVR-"):
		return violation(ev, "Override %s targets rule %s: an override cannot authorize an override (cascade)", ev.OverrideID, s.TargetRule)
	case strings.Contains(strings.ToLower(s.TargetComponent), "override"):
		return violation(ev, "Override %s targets override component %s (cascade)", ev.OverrideID, s.TargetComponent)
	case strings.HasPrefix(strings.ToUpper(s.TargetVerdict), "OVR_"):
		return violation(ev, "Override %s targets override verdict %s (cascade)", ev.OverrideID, s.TargetVerdict)
	}
	return nil
}
