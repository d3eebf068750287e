package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

type note struct{ text string }

var nonEmpty = Rule[note, int]{ID: "TST-001", Name: "Non empty", Check: func(n note, _ int) *Violation {
	if n.text != "" {
		return nil
	}
	return &Violation{EventID: "n", Description: "empty"}
}}

var underLimit = Rule[note, int]{ID: "TST-002", Name: "Under limit", Check: func(n note, limit int) *Violation {
	if len(n.text) <= limit {
		return nil
	}
	return &Violation{EventID: "n", Name: "custom", Description: "too long"}
}}

func TestEvaluate(t *testing.T) {
	rules := []Rule[note, int]{nonEmpty, underLimit}
	require.Empty(t, Evaluate(rules, note{"ok"}, 5))

	vs := Evaluate(rules, note{""}, 5)
	require.Len(t, vs, 1)
	require.Equal(t, "TST-001", vs[0].Rule)
	require.Equal(t, "Non empty", vs[0].Name)

	vs = Evaluate(rules, note{"much too long"}, 5)
	require.Equal(t, "TST-002", vs[0].Rule)
	require.Equal(t, "custom", vs[0].Name)
}

func TestBuildReport(t *testing.T) {
	gen := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	vals := []Validation{
		{EventID: "B", Timestamp: gen.Add(-time.Hour), Valid: true},
		{EventID: "A", Timestamp: gen.Add(-2 * time.Hour), Valid: false, Errors: []string{"broken"}},
	}
	viols := []Violation{{Rule: "R-2", EventID: "B"}, {Rule: "R-1", EventID: "B"}, {Rule: "R-1", EventID: "A"}}

	rep, err := BuildReport(ReportArgs{ReportType: "test_report", IDPrefix: "TST_REPORT", GeneratedAt: gen, Validations: vals, Violations: viols, Notes: "No automatic action."})
	require.NoError(t, err)
	require.Equal(t, "A", rep.Validations[0].EventID)
	require.Equal(t, []Violation{{Rule: "R-1", EventID: "A"}, {Rule: "R-1", EventID: "B"}, {Rule: "R-2", EventID: "B"}}, rep.RuleViolations)
	require.Equal(t, Summary{EventsValidated: 2, Valid: 1, Invalid: 1, Violations: 3, ByRule: map[string]int{"R-1": 2, "R-2": 1}}, rep.Summary)
	require.True(t, rep.EscalationRequired)
	require.Equal(t, escalation.TargetArchitecte, rep.EscalationTarget)
	require.Equal(t, gen.Add(-2*time.Hour), rep.Window.From)
	require.Equal(t, gen.Add(-time.Hour), rep.Window.To)
	require.Regexp(t, `^TST_REPORT_20260204T120000Z_[0-9a-f]{8}$`, rep.ReportID)
	require.Equal(t, "B", vals[0].EventID, "inputs are not reordered")

	onlyInvalid, err := BuildReport(ReportArgs{ReportType: "t", IDPrefix: "T", GeneratedAt: gen, Validations: vals[1:]})
	require.NoError(t, err)
	require.True(t, onlyInvalid.EscalationRequired)

	empty, err := BuildReport(ReportArgs{ReportType: "t", IDPrefix: "T", GeneratedAt: gen})
	require.NoError(t, err)
	require.False(t, empty.EscalationRequired)
	require.Equal(t, escalation.TargetArchitecte, empty.EscalationTarget)
	require.Equal(t, gen, empty.Window.From)

	_, err = BuildReport(ReportArgs{GeneratedAt: gen})
	require.True(t, fault.Is(err, fault.KindUsage))
}

func TestIDHelpers(t *testing.T) {
	at := time.Date(2026, 2, 4, 10, 30, 5, 0, time.FixedZone("CET", 3600))
	require.Equal(t, "20260204T093005Z", CompactTimestamp(at))
	require.Equal(t, "X_ABC_20260204_007", EventID("X", "abc", at, 7))
	require.Len(t, ShortHash("x"), 8)
}
