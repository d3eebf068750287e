package gates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/trustchain/pkg/baseline"
	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
)

var fixedClock = func() time.Time {
	return time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC)
}

const testVersion = "1.0.0"

// fixture is a registered baseline run plus a candidate run, both sealed.
type fixture struct {
	baselines string
	baseDir   string
	candDir   string
}

func writeRun(t *testing.T, dir string, files map[string]string, report proofpack.Report) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, proofpack.ArtifactsDir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	_, err := proofpack.Seal(dir, report)
	require.NoError(t, err)
}

func report(runID string, metrics map[string]float64) proofpack.Report {
	return proofpack.Report{RunID: runID, Seed: "42", Certified: true, Metrics: metrics}
}

func defaultFiles() map[string]string {
	return map[string]string{"a.txt": "alpha\n", "b.txt": "bravo\n", "nested/c.json": `{"c":3}`}
}

func newFixture(t *testing.T, candFiles map[string]string, candReport proofpack.Report, th baseline.Thresholds) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		baselines: filepath.Join(root, "baselines"),
		baseDir:   filepath.Join(root, "runs", "base"),
		candDir:   filepath.Join(root, "runs", "cand"),
	}
	writeRun(t, f.baseDir, defaultFiles(), report("base", map[string]float64{"accuracy": 0.95, "latency_ms": 120}))
	writeRun(t, f.candDir, candFiles, candReport)

	_, err := baseline.Open(f.baselines).WithClock(fixedClock).Register(testVersion, f.baseDir, th)
	require.NoError(t, err)
	return f
}

func (f *fixture) context() *conform.GateContext {
	return &conform.GateContext{
		CandidateDir:    f.candDir,
		BaselinesDir:    f.baselines,
		BaselineVersion: testVersion,
		Seed:            "42",
		Clock:           fixedClock,
	}
}

func ptr(v float64) *float64 { return &v }
