package override

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

var (
	t0          = time.Date(2026, 2, 4, 10, 0, 0, 0, time.UTC)
	generatedAt = time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
)

func baseOverride(t *testing.T, mutate ...func(*Event)) Event {
	t.Helper()
	ev := Event{
		EventType:     EventType,
		SchemaVersion: SchemaVersion,
		EventID:       "OVR_HOT_20260204_001",
		Timestamp:     t0,
		OverrideID:    "OVERRIDE_HOTFIX_20260204T100000Z_abc12345",
		Type:          TypeHotfix,
		Scope:         Scope{TargetRule: "INV-TEST-001", TargetComponent: "src/test/component.go", TargetVerdict: "FAIL"},
		Justification: Justification{
			Reason:                  "Critical production issue requires immediate hotfix deployment",
			ImpactAssessment:        "Low risk, isolated component",
			AlternativesConsidered:  []string{"Wait for next release"},
			WhyAlternativesRejected: "Production impact too high",
		},
		Approval: Approval{Approver: "Francky", ApproverRole: "Architect", ApprovedAt: t0.Add(-time.Hour), ApprovalMethod: "signature"},
		Validity: Validity{EffectiveFrom: t0, ExpiresAt: t0.AddDate(0, 0, 7)},
		ManifestRef: ManifestRef{Tag: "v1.0.0", ManifestSHA256: strings.Repeat("a", 64)},
	}
	for _, m := range mutate {
		m(&ev)
	}
	sealed, err := Seal(ev)
	require.NoError(t, err)
	return sealed
}

func rules(vs []governance.Violation) []string {
	out := []string{}
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidOverridePassesEverything(t *testing.T) {
	ev := baseOverride(t)
	cr := ValidateConditions(ev)
	require.True(t, cr.Valid, "%v", cr.Errors)
	require.Len(t, cr.Conditions, 5)
	for i, c := range cr.Conditions {
		require.Equal(t, i+1, c.Number)
		require.Equal(t, ConditionNames[i+1], c.Name)
	}
	require.Empty(t, ValidateRules(ev, Context{}))
	require.Equal(t, StatusActive, StatusAt(ev, t0.Add(time.Hour)))
}

func TestConditions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Event)
		number int
	}{
		{"empty reason", func(e *Event) { e.Justification.Reason = "  " }, 1},
		{"short reason", func(e *Event) { e.Justification.Reason = "too short" }, 1},
		{"no approver", func(e *Event) { e.Approval.Approver = "" }, 2},
		{"unknown method", func(e *Event) { e.Approval.ApprovalMethod = "nod" }, 2},
		{"no expiry", func(e *Event) { e.Validity.ExpiresAt = time.Time{} }, 3},
		{"hotfix too long", func(e *Event) { e.Validity.ExpiresAt = t0.AddDate(0, 0, 8) }, 3},
		{"expiry before start", func(e *Event) { e.Validity.ExpiresAt = t0.Add(-time.Hour) }, 3},
		{"bad manifest hash", func(e *Event) { e.ManifestRef.ManifestSHA256 = "xyz" }, 5},
		{"no tag", func(e *Event) { e.ManifestRef.Tag = "" }, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cr := ValidateConditions(baseOverride(t, tc.mutate))
			require.False(t, cr.Valid)
			require.False(t, cr.Conditions[tc.number-1].Valid)
			require.Len(t, cr.Errors, 1)
		})
	}

	unhashed := baseOverride(t)
	unhashed.OverrideHash = ""
	require.False(t, ValidateConditions(unhashed).Conditions[3].Valid)
}

func TestMaxDaysPerType(t *testing.T) {
	require.Equal(t, 7, MaxDays[TypeHotfix])
	require.Equal(t, 30, MaxDays[TypeException])
	require.Equal(t, 90, MaxDays[TypeDerogation])

	exception := baseOverride(t, func(e *Event) { e.Type = TypeException; e.Validity.ExpiresAt = t0.AddDate(0, 1, 0) })
	require.True(t, ValidateConditions(exception).Valid)
	derogation := baseOverride(t, func(e *Event) { e.Type = TypeDerogation; e.Validity.ExpiresAt = t0.AddDate(0, 3, 0) })
	require.True(t, ValidateConditions(derogation).Valid)
	require.Nil(t, noPerpetual(derogation, Context{}))
}

func TestOVR001_NoPerpetualOverride(t *testing.T) {
	long := baseOverride(t, func(e *Event) { e.Validity.ExpiresAt = t0.AddDate(0, 0, 11) })
	v := noPerpetual(long, Context{})
	require.NotNil(t, v)
	require.Contains(t, v.Description, "exceeds maximum")

	year := baseOverride(t, func(e *Event) { e.Type = TypeDerogation; e.Validity.ExpiresAt = t0.AddDate(1, 0, 0) })
	require.Contains(t, noPerpetual(year, Context{}).Description, "90 days")

	forever := baseOverride(t, func(e *Event) { e.Validity.ExpiresAt = time.Time{} })
	require.Contains(t, noPerpetual(forever, Context{}).Description, "perpetual")
}

func TestOVR002_SingleApprover(t *testing.T) {
	for _, who := range []string{"Francky, John", "Francky; John", "Francky and John"} {
		ev := baseOverride(t, func(e *Event) { e.Approval.Approver = who })
		v := singleApprover(ev, Context{})
		require.NotNil(t, v, who)
		require.Contains(t, v.Description, "Multiple approvers")
	}
	empty := baseOverride(t, func(e *Event) { e.Approval.Approver = "" })
	require.Contains(t, singleApprover(empty, Context{}).Description, "No approver")
	require.Nil(t, singleApprover(baseOverride(t, func(e *Event) { e.Approval.Approver = "Alexander" }), Context{}))
}

func TestOVR003_AuditTrail(t *testing.T) {
	ev := baseOverride(t)
	require.Nil(t, auditTrail(ev, Context{}))

	ev.OverrideHash = ""
	require.Contains(t, auditTrail(ev, Context{}).Description, "audit trail")

	tampered := baseOverride(t)
	tampered.Justification.Reason = "A different reason written after sealing"
	require.False(t, VerifyOverrideHash(tampered))
	require.Contains(t, auditTrail(tampered, Context{}).Description, "does not match")
}

func TestOVR004_ReviewBeforeRenewal(t *testing.T) {
	existing := baseOverride(t, func(e *Event) { e.OverrideID = "OVERRIDE_1" })
	same := baseOverride(t, func(e *Event) { e.OverrideID = "OVERRIDE_2" })
	v := reviewBeforeRenewal(same, Context{Existing: []Event{existing}})
	require.NotNil(t, v)
	require.Contains(t, v.Description, "new justification")

	renewed := baseOverride(t, func(e *Event) {
		e.OverrideID = "OVERRIDE_2"
		e.Justification.Reason = "New reason for renewal with updated context"
	})
	require.Nil(t, reviewBeforeRenewal(renewed, Context{Existing: []Event{existing}}))

	other := baseOverride(t, func(e *Event) {
		e.OverrideID = "OVERRIDE_1"
		e.Scope = Scope{TargetRule: "OTHER-RULE", TargetComponent: "other/component.go", TargetVerdict: "FAIL"}
	})
	require.Nil(t, reviewBeforeRenewal(same, Context{Existing: []Event{other}}))
	require.Nil(t, reviewBeforeRenewal(same, Context{}))
}

func TestOVR005_NoCascade(t *testing.T) {
	scopes := []Scope{
		{TargetRule: "OVR-001", TargetComponent: "governance/rules", TargetVerdict: "INVALID"},
		{TargetRule: "INV-TEST", TargetComponent: "pkg/override/rules.go", TargetVerdict: "FAIL"},
		{TargetRule: "INV-TEST", TargetComponent: "src/test.go", TargetVerdict: "OVR_INVALID"},
	}
	for _, s := range scopes {
		ev := baseOverride(t, func(e *Event) { e.Scope = s })
		v := noCascade(ev, Context{})
		require.NotNil(t, v, "%+v", s)
		require.Contains(t, v.Description, "cascade")
	}
}

func TestValidateRules_StampsRuleIDs(t *testing.T) {
	ev := baseOverride(t, func(e *Event) {
		e.Approval.Approver = ""
		e.Scope.TargetRule = "OVR-001"
	})
	ev.OverrideHash = ""
	vs := ValidateRules(ev, Context{})
	require.Equal(t, []string{"OVR-002", "OVR-003", "OVR-005"}, rules(vs))
	require.Equal(t, "Single approver", vs[0].Name)
	require.Equal(t, ev.EventID, vs[0].EventID)
}

func TestStatusAndExpiry(t *testing.T) {
	ev := baseOverride(t)
	require.Equal(t, StatusPending, StatusAt(ev, t0.Add(-time.Minute)))
	require.Equal(t, StatusExpired, StatusAt(ev, t0.AddDate(0, 0, 8)))
	require.True(t, ExpiringSoon(ev, t0.AddDate(0, 0, 6).Add(time.Hour)))
	require.False(t, ExpiringSoon(ev, t0))
	require.False(t, ExpiringSoon(ev, t0.AddDate(0, 0, 8)))

	bad := baseOverride(t, func(e *Event) { e.Justification.Reason = "" })
	require.Equal(t, StatusInvalid, StatusAt(bad, t0))
}

func TestIDs(t *testing.T) {
	require.Equal(t, "OVR_HOT_20260204_001", EventID(TypeHotfix, t0, 1))
	require.Equal(t, "OVR_DER_20260204_012", EventID(TypeDerogation, t0, 12))
	id := OverrideID(TypeException, t0, "content")
	require.Regexp(t, `^OVERRIDE_EXCEPTION_20260204T100000Z_[0-9a-f]{8}$`, id)
	require.Equal(t, id, OverrideID(TypeException, t0, "content"))
}

func TestRun_Report(t *testing.T) {
	good := baseOverride(t)
	renewal := baseOverride(t, func(e *Event) {
		e.EventID = "OVR_HOT_20260204_002"
		e.OverrideID = "OVERRIDE_2"
		e.Timestamp = t0.Add(time.Hour)
	})
	prev := "prev_hash_abc123"
	args := Args{Overrides: []Event{good, renewal}, GeneratedAt: generatedAt, PrevHash: &prev}

	rep, err := Run(args)
	require.NoError(t, err)
	require.Equal(t, ReportType, rep.ReportType)
	require.Contains(t, rep.Notes, "No automatic enforcement")
	require.Contains(t, rep.Notes, "human review")
	require.Equal(t, "prev_hash_abc123", *rep.LogChainPrevHash)
	require.Equal(t, 2, rep.Summary.EventsValidated)
	require.Equal(t, 2, rep.Summary.Valid)
	require.Equal(t, []string{"OVR-004"}, rules(rep.RuleViolations))
	require.Equal(t, "OVR_HOT_20260204_002", rep.RuleViolations[0].EventID)
	require.True(t, rep.EscalationRequired)
	require.Equal(t, escalation.TargetArchitecte, rep.EscalationTarget)
	require.Equal(t, t0, rep.Window.From)
	require.Equal(t, t0.Add(time.Hour), rep.Window.To)
	require.Regexp(t, `^OVR_REPORT_20260204T120000Z_[0-9a-f]{8}$`, rep.ReportID)

	for i := 0; i < 10; i++ {
		again, err := Run(args)
		require.NoError(t, err)
		require.Equal(t, rep, again)
	}

	clean, err := Run(Args{Overrides: []Event{good}, GeneratedAt: generatedAt})
	require.NoError(t, err)
	require.False(t, clean.EscalationRequired)
	require.Empty(t, clean.RuleViolations)
	require.Equal(t, escalation.TargetArchitecte, clean.EscalationTarget)
}
