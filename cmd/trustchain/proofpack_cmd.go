package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/observability"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
	"github.com/Mindburn-Labs/trustchain/pkg/replay"
)

// metricFlag collects repeatable name=value metrics.
type metricFlag map[string]float64

func (m metricFlag) String() string { return fmt.Sprint(map[string]float64(m)) }

func (m metricFlag) Set(v string) error {
	name, raw, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("want name=value, got %q", v)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("metric %s: %w", name, err)
	}
	m[name] = f
	return nil
}

// runSeal implements `trustchain seal`.
func runSeal(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var (
		runDir, runID, seed, producer string
		certified                     bool
		metrics                       = metricFlag{}
	)
	fs.StringVar(&runDir, "run", "", "Run directory containing artifacts/ (required)")
	fs.StringVar(&runID, "run-id", "", "Run identifier (required)")
	fs.StringVar(&seed, "seed", "", "Seed the run was produced with")
	fs.StringVar(&producer, "producer", "trustchain", "Producer name")
	fs.BoolVar(&certified, "certified", false, "Mark the report certified by its producer")
	fs.Var(metrics, "metric", "Metric name=value (repeatable)")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if runDir == "" || runID == "" {
			return 0, usageError("seal: --run and --run-id are required")
		}
		var err error
		_, done := s.tracker.TrackOperation(ctx, "proofpack.seal", observability.Run(runID)...)
		defer func() { done(err) }()

		data, err := proofpack.Seal(runDir, proofpack.Report{
			RunID:       runID,
			Seed:        seed,
			Producer:    producer,
			GeneratedAt: s.now.Format("2006-01-02T15:04:05Z07:00"),
			Certified:   certified,
			Metrics:     metrics,
		})
		if err != nil {
			return 0, err
		}
		out := map[string]any{
			"run_dir":       data.Dir,
			"manifest_hash": data.Manifest.Hash,
			"merkle_root":   data.Tree.RootHash,
			"artifacts":     len(data.Manifest.Entries),
		}
		return 0, s.emit(out, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Sealed %s (%d artifacts)\n", data.Dir, len(data.Manifest.Entries))
			_, _ = fmt.Fprintf(w, "  manifest_hash: %s\n  merkle_root:   %s\n", data.Manifest.Hash, data.Tree.RootHash)
		})
	})
}

// runValidate implements `trustchain validate`. Exit 1 when any check fails.
func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var runDir string
	fs.StringVar(&runDir, "run", "", "Run directory (required)")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if runDir == "" {
			return 0, usageError("validate: --run is required")
		}
		_, done := s.tracker.TrackOperation(ctx, "proofpack.validate")
		res, err := proofpack.ValidateProofPack(runDir)
		done(err)
		if err != nil {
			return 0, err
		}
		if err := s.emit(res, func(w io.Writer) { printValidation(w, runDir, res) }); err != nil {
			return 0, err
		}
		if !res.Valid {
			return fault.ExitFail, nil
		}
		return fault.ExitPass, nil
	})
}

func printValidation(w io.Writer, runDir string, res proofpack.ValidationResult) {
	_, _ = fmt.Fprintf(w, "ProofPack %s\n", runDir)
	for _, c := range res.Checks {
		mark := "PASS"
		if !c.Valid {
			mark = "FAIL"
		}
		_, _ = fmt.Fprintf(w, "  %s  %s", mark, c.ID)
		if len(c.Reasons) > 0 {
			_, _ = fmt.Fprintf(w, "  [%s]", c.Reasons[0])
			if len(c.Reasons) > 1 {
				_, _ = fmt.Fprintf(w, " (+%d more)", len(c.Reasons)-1)
			}
		}
		_, _ = fmt.Fprintln(w)
	}
	if res.Valid {
		_, _ = fmt.Fprintln(w, "Result: VALID")
	} else {
		_, _ = fmt.Fprintln(w, "Result: INVALID")
	}
}

// runReplay implements `trustchain replay`. Exit 1 when the trees differ.
func runReplay(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var dirA, dirB, seed string
	fs.StringVar(&dirA, "a", "", "First directory (required)")
	fs.StringVar(&dirB, "b", "", "Second directory (required)")
	fs.StringVar(&seed, "seed", "", "Seed recorded in the result")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if dirA == "" || dirB == "" {
			return 0, usageError("replay: --a and --b are required")
		}
		opts := []replay.Option{replay.WithSeed(seed)}
		if cache := s.replayCache(); cache != nil {
			opts = append(opts, replay.WithCache(cache))
		}
		ctx, done := s.tracker.TrackOperation(ctx, "replay.compare")
		res, err := replay.NewComparator(opts...).Compare(ctx, dirA, dirB)
		done(err)
		if err != nil {
			return 0, err
		}
		err = s.emit(res, func(w io.Writer) {
			if res.Identical {
				_, _ = fmt.Fprintf(w, "Identical (%d files)\n", res.FilesA)
				return
			}
			_, _ = fmt.Fprintf(w, "%d difference(s)\n", len(res.Differences))
			for _, d := range res.Differences {
				_, _ = fmt.Fprintf(w, "  %s\n    a: %s\n    b: %s\n", d.Path, orDash(d.HashA), orDash(d.HashB))
			}
		})
		if err != nil {
			return 0, err
		}
		if !res.Identical {
			return fault.ExitFail, nil
		}
		return fault.ExitPass, nil
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
