package conform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
)

// Tracker receives one span per gate. observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// OrchestratorResult is the outcome of one Execute call.
type OrchestratorResult struct {
	Gates      []GateResult `json:"gates"`
	Verdict    Verdict      `json:"verdict"`
	FailedGate *GateID      `json:"failed_gate,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Engine runs registered gates in GateOrder. It holds configuration only:
// two Execute calls with the same context produce the same gate verdicts.
type Engine struct {
	gates   map[GateID]Gate
	last    GateID
	clock   func() time.Time
	tracker Tracker
	logger  *slog.Logger
}

// NewEngine creates an engine with no gates.
func NewEngine() *Engine {
	return &Engine{
		gates:  make(map[GateID]Gate),
		clock:  time.Now,
		logger: slog.Default().With("component", "conform"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithTracker reports a span per gate to t.
func (e *Engine) WithTracker(t Tracker) *Engine {
	e.tracker = t
	return e
}

// RegisterGate adds g. Gates must be registered in strictly ascending ID
// order; an unknown, duplicate or out-of-order ID is rejected.
func (e *Engine) RegisterGate(g Gate) error {
	id := g.ID()
	if !id.Valid() {
		return fmt.Errorf("conform: unknown gate id %q", id)
	}
	if _, exists := e.gates[id]; exists {
		return fmt.Errorf("conform: gate %s already registered", id)
	}
	if e.last != "" && id.Index() <= e.last.Index() {
		return fmt.Errorf("conform: gate %s registered after %s", id, e.last)
	}
	e.gates[id] = g
	e.last = id
	return nil
}

// Execute runs G0..G5 in order and stops at the first FAIL. An unregistered
// gate fails closed. A gate error aborts the run and no partial result is
// returned.
func (e *Engine) Execute(ctx context.Context, gc *GateContext) (*OrchestratorResult, error) {
	if gc == nil {
		return nil, fault.New(fault.KindUsage, "NO_CONTEXT", "conform: nil gate context")
	}
	before, err := e.snapshot(gc)
	if err != nil {
		return nil, err
	}

	start := e.clock()
	res := &OrchestratorResult{Gates: make([]GateResult, 0, len(GateOrder)), Verdict: VerdictPass}

	for _, id := range GateOrder {
		r, err := e.runGate(ctx, id, gc)
		if err != nil {
			return nil, err
		}
		res.Gates = append(res.Gates, r)
		if r.Verdict == VerdictFail {
			failed := id
			res.FailedGate = &failed
			res.Verdict = VerdictFail
			break
		}
	}
	res.DurationMs = e.clock().Sub(start).Milliseconds()

	checkOrder(res)
	if err := e.assertUnchanged(before); err != nil {
		return nil, err
	}

	e.logger.Info("gates executed", "verdict", res.Verdict, "gates_run", len(res.Gates), "duration_ms", res.DurationMs)
	return res, nil
}

func (e *Engine) runGate(ctx context.Context, id GateID, gc *GateContext) (GateResult, error) {
	g, ok := e.gates[id]
	if !ok {
		return Fail(id, "gate not registered", ReasonGateNotRegistered), nil
	}

	done := func(error) {}
	if e.tracker != nil {
		ctx, done = e.tracker.TrackOperation(ctx, "conform.gate."+string(id), attribute.String("gate.id", string(id)))
	}

	gateStart := e.clock()
	r, err := g.Run(ctx, gc)
	if err != nil {
		done(err)
		return GateResult{}, fmt.Errorf("gate %s (%s): %w", id, g.Name(), err)
	}
	if r.Verdict == VerdictFail {
		done(errors.New(r.Detail))
	} else {
		done(nil)
	}

	if !r.Verdict.Valid() {
		fault.Violate("gate_verdict_closed", "gate %s returned verdict %q", id, r.Verdict)
	}
	r.Gate = id
	r.Name = g.Name()
	r.Metrics.DurationMs = e.clock().Sub(gateStart).Milliseconds()

	e.logger.Debug("gate finished", "gate", id, "verdict", r.Verdict, "detail", r.Detail)
	return r, nil
}

// checkOrder asserts the ordering contract of a finished result.
func checkOrder(res *OrchestratorResult) {
	for i, r := range res.Gates {
		if r.Gate != GateOrder[i] {
			fault.Violate("gate_order", "position %d holds %s", i, r.Gate)
		}
		if r.Verdict == VerdictFail && i != len(res.Gates)-1 {
			fault.Violate("gate_fail_fast", "gate %s ran after FAIL at %s", res.Gates[i+1].Gate, r.Gate)
		}
	}
	if (res.Verdict == VerdictFail) != (res.FailedGate != nil) {
		fault.Violate("gate_failed_gate", "verdict %s with failed_gate=%v", res.Verdict, res.FailedGate)
	}
}

// readOnlyDirs are the run directories the gates must not write to.
func readOnlyDirs(gc *GateContext) []string {
	var dirs []string
	for _, d := range []string{gc.BaselineDir, gc.CandidateDir} {
		if d == "" {
			continue
		}
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (e *Engine) snapshot(gc *GateContext) (map[string]proofpack.FileStats, error) {
	out := map[string]proofpack.FileStats{}
	for _, d := range readOnlyDirs(gc) {
		s, err := proofpack.Snapshot(d)
		if err != nil {
			return nil, err
		}
		out[d] = s
	}
	return out, nil
}

func (e *Engine) assertUnchanged(before map[string]proofpack.FileStats) error {
	for dir, b := range before {
		after, err := proofpack.Snapshot(dir)
		if err != nil {
			return err
		}
		if err := proofpack.AssertUnchanged(b, after); err != nil {
			return err
		}
	}
	return nil
}
