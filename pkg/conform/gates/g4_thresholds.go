package gates

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/trustchain/pkg/baseline"
	"github.com/Mindburn-Labs/trustchain/pkg/conform"
)

// defaultCELCostLimit caps the work of one threshold expression.
const defaultCELCostLimit = 10000

// G4ThresholdsMet checks the candidate's metrics against the bounds and CEL
// expressions registered with the baseline. Expressions see two maps of
// doubles: `metrics` (candidate) and `baseline`.
type G4ThresholdsMet struct {
	CostLimit uint64
}

func (g *G4ThresholdsMet) ID() conform.GateID { return conform.G4 }
func (g *G4ThresholdsMet) Name() string       { return "Thresholds Met" }

func (g *G4ThresholdsMet) Run(_ context.Context, gc *conform.GateContext) (conform.GateResult, error) {
	rb, err := resolveBaseline(gc)
	if err != nil {
		return conform.GateResult{}, err
	}
	base, cand, err := packs(gc)
	if err != nil {
		return conform.GateResult{}, err
	}
	if rb.Entry == nil {
		return conform.Pass(g.ID(), "no registered thresholds"), nil
	}
	th := rb.Entry.Thresholds

	c := newCollector()
	checkBounds(c, th, cand.Report.Metrics)
	if err := g.checkExpressions(c, th.Expressions, cand.Report.Metrics, base.Report.Metrics); err != nil {
		return conform.GateResult{}, err
	}
	c.count("bounds", len(th.Metrics))
	c.count("expressions", len(th.Expressions))

	if c.failed() {
		return c.result(g.ID(), fmt.Sprintf("%d threshold violation(s)", len(c.findings["candidate"]))), nil
	}
	res := conform.Pass(g.ID(), fmt.Sprintf("%d bound(s) and %d expression(s) satisfied", len(th.Metrics), len(th.Expressions)))
	res.Metrics.Counts = c.counts
	return res, nil
}

func checkBounds(c *collector, th baseline.Thresholds, metrics map[string]float64) {
	names := make([]string, 0, len(th.Metrics))
	for n := range th.Metrics {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, name := range names {
		b := th.Metrics[name]
		v, ok := metrics[name]
		switch {
		case !ok:
			c.fail("candidate", conform.ReasonMetricMissing, []string{name + " is not reported"})
		case b.Min != nil && v < *b.Min:
			c.fail("candidate", conform.ReasonMetricBelowMin, []string{fmt.Sprintf("%s = %v < min %v", name, v, *b.Min)})
		case b.Max != nil && v > *b.Max:
			c.fail("candidate", conform.ReasonMetricAboveMax, []string{fmt.Sprintf("%s = %v > max %v", name, v, *b.Max)})
		}
	}
}

func (g *G4ThresholdsMet) checkExpressions(c *collector, exprs []string, metrics, baselineMetrics map[string]float64) error {
	if len(exprs) == 0 {
		return nil
	}
	env, err := cel.NewEnv(
		cel.Variable("metrics", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("baseline", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return fmt.Errorf("failed to create CEL environment: %w", err)
	}
	limit := g.CostLimit
	if limit == 0 {
		limit = defaultCELCostLimit
	}
	if metrics == nil {
		metrics = map[string]float64{}
	}
	if baselineMetrics == nil {
		baselineMetrics = map[string]float64{}
	}
	input := map[string]any{"metrics": metrics, "baseline": baselineMetrics}

	for _, expr := range exprs {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			c.fail("candidate", conform.ReasonExpressionMalformed, []string{fmt.Sprintf("%s: %v", expr, issues.Err())})
			continue
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			c.fail("candidate", conform.ReasonExpressionMalformed, []string{fmt.Sprintf("%s: yields %s, not bool", expr, ast.OutputType())})
			continue
		}
		prg, err := env.Program(ast, cel.CostLimit(limit))
		if err != nil {
			c.fail("candidate", conform.ReasonExpressionMalformed, []string{fmt.Sprintf("%s: %v", expr, err)})
			continue
		}
		out, _, err := prg.Eval(input)
		if err != nil {
			c.fail("candidate", conform.ReasonExpressionFalse, []string{fmt.Sprintf("%s: %v", expr, err)})
			continue
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			c.fail("candidate", conform.ReasonExpressionFalse, []string{expr})
		}
	}
	return nil
}
