package conform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// reportNamespace seeds deterministic report ids.
var reportNamespace = uuid.MustParse("6f1c3a52-8d0e-4b8e-9a57-3f2d4c1b7e90")

// CIResult is an orchestrator result with the context it was computed for.
// Every rendered output is a function of this value alone.
type CIResult struct {
	ReportID    string             `json:"report_id"`
	GeneratedAt time.Time          `json:"generated_at"`
	Context     GateContext        `json:"context"`
	Result      OrchestratorResult `json:"result"`
}

// NewCIResult wraps res. The report id depends on the context and the gate
// verdicts only, so identical runs share an id.
func NewCIResult(gc GateContext, res OrchestratorResult, generatedAt time.Time) (*CIResult, error) {
	type verdictOnly struct {
		Gate    GateID   `json:"gate"`
		Verdict Verdict  `json:"verdict"`
		Reasons []string `json:"reasons,omitempty"`
	}
	gates := make([]verdictOnly, len(res.Gates))
	for i, g := range res.Gates {
		gates[i] = verdictOnly{Gate: g.Gate, Verdict: g.Verdict, Reasons: g.Reasons}
	}
	key, err := canonicalize.JCS(map[string]any{
		"context": gc,
		"verdict": res.Verdict,
		"gates":   gates,
	})
	if err != nil {
		return nil, fmt.Errorf("conform: report id: %w", err)
	}
	return &CIResult{
		ReportID:    uuid.NewSHA1(reportNamespace, key).String(),
		GeneratedAt: generatedAt.UTC(),
		Context:     gc,
		Result:      res,
	}, nil
}

// RenderJSON is the machine-readable report.
func RenderJSON(ci *CIResult) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ci); err != nil {
		return nil, fault.Structural(fmt.Errorf("conform: encode report: %w", err), "REPORT_ENCODE")
	}
	return buf.Bytes(), nil
}

// RenderMarkdown is the human-readable summary.
func RenderMarkdown(ci *CIResult) string {
	var b strings.Builder
	res := ci.Result

	fmt.Fprintf(&b, "# Trust chain CI report\n\n")
	fmt.Fprintf(&b, "- **Verdict:** %s\n", res.Verdict)
	if res.FailedGate != nil {
		fmt.Fprintf(&b, "- **Failed gate:** %s\n", *res.FailedGate)
	}
	fmt.Fprintf(&b, "- **Candidate:** `%s`\n", ci.Context.CandidateDir)
	if ci.Context.BaselineVersion != "" {
		fmt.Fprintf(&b, "- **Baseline:** %s\n", ci.Context.BaselineVersion)
	}
	if ci.Context.Seed != "" {
		fmt.Fprintf(&b, "- **Seed:** `%s`\n", ci.Context.Seed)
	}
	fmt.Fprintf(&b, "- **Report:** `%s`\n", ci.ReportID)
	fmt.Fprintf(&b, "- **Generated:** %s\n\n", ci.GeneratedAt.Format(time.RFC3339))

	b.WriteString("| Gate | Name | Verdict | Detail |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, g := range res.Gates {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", g.Gate, g.Name, verdictMark(g.Verdict), escapeCell(g.Detail))
	}
	for _, id := range GateOrder[len(res.Gates):] {
		fmt.Fprintf(&b, "| %s | | not run | |\n", id)
	}

	var reasons []string
	for _, g := range res.Gates {
		for _, r := range g.Reasons {
			reasons = append(reasons, fmt.Sprintf("- %s: `%s`", g.Gate, r))
		}
	}
	if len(reasons) > 0 {
		b.WriteString("\n## Reasons\n\n")
		b.WriteString(strings.Join(reasons, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func verdictMark(v Verdict) string {
	if v == VerdictPass {
		return "✅ PASS"
	}
	return "❌ FAIL"
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// BadgeStatus is passing or failing; there is no third value.
type BadgeStatus string

const (
	BadgePassing BadgeStatus = "passing"
	BadgeFailing BadgeStatus = "failing"
)

// Badge is a shields.io endpoint descriptor plus the status it encodes.
type Badge struct {
	SchemaVersion int         `json:"schemaVersion"`
	Status        BadgeStatus `json:"status"`
	Label         string      `json:"label"`
	Message       string      `json:"message"`
	Color         string      `json:"color"`
}

// BadgeFor projects res onto a badge. passing iff the verdict is PASS.
func BadgeFor(res OrchestratorResult) Badge {
	b := Badge{SchemaVersion: 1, Label: "trust chain"}
	switch res.Verdict {
	case VerdictPass:
		b.Status, b.Message, b.Color = BadgePassing, "passing", "brightgreen"
	case VerdictFail:
		b.Status, b.Message, b.Color = BadgeFailing, "failing", "red"
		if res.FailedGate != nil {
			b.Message = "failing (" + string(*res.FailedGate) + ")"
		}
	default:
		fault.Violate("badge_status_total", "verdict %q has no badge", res.Verdict)
	}
	return b
}
