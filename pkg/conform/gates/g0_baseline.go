package gates

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// G0BaselineFound checks that the baseline resolves and that both run
// directories exist.
type G0BaselineFound struct{}

func (g *G0BaselineFound) ID() conform.GateID { return conform.G0 }
func (g *G0BaselineFound) Name() string       { return "Baseline Found" }

func (g *G0BaselineFound) Run(_ context.Context, gc *conform.GateContext) (conform.GateResult, error) {
	rb, err := resolveBaseline(gc)
	if fault.Is(err, fault.KindBaselineNotFound) {
		return conform.Fail(g.ID(), err.Error(), conform.ReasonBaselineNotFound), nil
	}
	if err != nil {
		return conform.GateResult{}, err
	}

	if !isDir(rb.Dir) {
		return conform.Fail(g.ID(), fmt.Sprintf("baseline run dir %s does not exist", rb.Dir), conform.ReasonBaselineDirMissing), nil
	}
	if gc.CandidateDir == "" || !isDir(gc.CandidateDir) {
		return conform.Fail(g.ID(), fmt.Sprintf("candidate run dir %q does not exist", gc.CandidateDir), conform.ReasonCandidateDirMissing), nil
	}

	detail := "baseline dir " + rb.Dir
	res := conform.Pass(g.ID(), detail)
	if rb.Entry != nil {
		res.Detail = fmt.Sprintf("baseline %s at %s", rb.Entry.Version, rb.Dir)
		res.Details = map[string]any{"version": rb.Entry.Version, "registered_at": rb.Entry.RegisteredAt}
	}
	return res, nil
}
