package override

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
)

// ConditionNames are the five mandatory conditions, numbered from 1.
var ConditionNames = map[int]string{
	1: "Justification written",
	2: "Human signature",
	3: "Expiration defined",
	4: "Hash calculated",
	5: "Manifest reference",
}

// MinReasonLength is the shortest accepted justification reason.
const MinReasonLength = 10

// Condition is the verdict on one mandatory condition.
type Condition struct {
	Number int    `json:"condition"`
	Name   string `json:"name"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

// ConditionsResult holds all five verdicts.
type ConditionsResult struct {
	Valid      bool        `json:"valid"`
	Conditions []Condition `json:"conditions"`
	Errors     []string    `json:"errors"`
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func cond(n int, err string) Condition {
	return Condition{Number: n, Name: ConditionNames[n], Valid: err == "", Error: err}
}

func checkJustification(ev Event) Condition {
	r := strings.TrimSpace(ev.Justification.Reason)
	switch {
	case r == "":
		return cond(1, "justification reason is empty")
	case len([]rune(r)) < MinReasonLength:
		return cond(1, fmt.Sprintf("justification reason is too short (min %d chars)", MinReasonLength))
	}
	return cond(1, "")
}

func checkSignature(ev Event) Condition {
	a := ev.Approval
	switch {
	case blank(a.Approver):
		return cond(2, "approver identity is missing")
	case blank(a.ApproverRole):
		return cond(2, "approver role is missing")
	case a.ApprovedAt.IsZero():
		return cond(2, "approval timestamp is missing")
	case !slices.Contains(ApprovalMethods, a.ApprovalMethod):
		return cond(2, fmt.Sprintf("invalid approval method: %q", a.ApprovalMethod))
	}
	return cond(2, "")
}

func checkExpiration(ev Event) Condition {
	v := ev.Validity
	switch {
	case v.EffectiveFrom.IsZero():
		return cond(3, "effective from date is missing")
	case v.ExpiresAt.IsZero():
		return cond(3, "expiration date is missing")
	}
	days := v.DurationDays()
	limit, ok := MaxDays[ev.Type]
	switch {
	case !ok:
		return cond(3, fmt.Sprintf("unknown override type %q", ev.Type))
	case days <= 0:
		return cond(3, "expiration must be after effective date")
	case days > limit:
		return cond(3, fmt.Sprintf("duration %d days exceeds maximum %d days for %s", days, limit, ev.Type))
	}
	return cond(3, "")
}

func checkHash(ev Event) Condition {
	switch {
	case blank(ev.OverrideHash):
		return cond(4, "override hash is missing")
	case !canonicalize.IsSHA256Hex(ev.OverrideHash):
		return cond(4, "override hash is not a SHA-256 hex digest")
	case !VerifyOverrideHash(ev):
		return cond(4, "override hash does not match content")
	}
	return cond(4, "")
}

func checkManifest(ev Event) Condition {
	m := ev.ManifestRef
	switch {
	case blank(m.Tag):
		return cond(5, "git tag is missing")
	case blank(m.ManifestSHA256):
		return cond(5, "manifest SHA-256 is missing")
	case !canonicalize.IsSHA256Hex(m.ManifestSHA256):
		return cond(5, "manifest SHA-256 is not a hex digest")
	}
	return cond(5, "")
}

// ValidateConditions checks the five mandatory conditions. All must hold.
func ValidateConditions(ev Event) ConditionsResult {
	res := ConditionsResult{Valid: true, Errors: []string{}}
	for _, check := range []func(Event) Condition{checkJustification, checkSignature, checkExpiration, checkHash, checkManifest} {
		c := check(ev)
		res.Conditions = append(res.Conditions, c)
		if !c.Valid {
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("condition %d (%s): %s", c.Number, c.Name, c.Error))
		}
	}
	return res
}
