package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/baseline"
)

// runBaseline implements `trustchain baseline register|list|show`.
func runBaseline(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: trustchain baseline <register|list|show> [flags]")
		return 2
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("baseline "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var dir, version, runDir, thresholdsFile string
	fs.StringVar(&dir, "dir", "baselines", "Baseline registry directory")
	switch sub {
	case "register":
		fs.StringVar(&version, "version", "", "Strict SemVer version (required)")
		fs.StringVar(&runDir, "run", "", "Sealed run directory (required)")
		fs.StringVar(&thresholdsFile, "thresholds", "", "Thresholds JSON file")
	case "show":
		fs.StringVar(&version, "version", "latest", "Version, \"latest\" or a SemVer constraint")
	case "list":
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown baseline subcommand: %s\n", sub)
		return 2
	}
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		reg := baseline.Open(dir).WithClock(func() time.Time { return s.now })
		switch sub {
		case "register":
			if version == "" || runDir == "" {
				return 0, usageError("baseline register: --version and --run are required")
			}
			var th baseline.Thresholds
			if thresholdsFile != "" {
				if err := readJSON(thresholdsFile, &th); err != nil {
					return 0, err
				}
			}
			e, err := reg.Register(version, runDir, th)
			if err != nil {
				return 0, err
			}
			if err := s.record(ctx, audit.KindBaselineChange, e.Version, baselineView(e)); err != nil {
				return 0, err
			}
			return 0, s.emit(baselineView(e), func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "Registered baseline %s -> %s\n", e.Version, e.RunDir)
			})
		case "list":
			list, err := reg.List()
			if err != nil {
				return 0, err
			}
			views := make([]map[string]any, len(list))
			for i, e := range list {
				views[i] = baselineView(e)
			}
			return 0, s.emit(views, func(w io.Writer) {
				if len(list) == 0 {
					_, _ = fmt.Fprintln(w, "No baselines registered")
				}
				for _, e := range list {
					_, _ = fmt.Fprintf(w, "%-12s %s  %s\n", e.Version, e.RegisteredAt.Format(time.RFC3339), e.RunDir)
				}
			})
		default:
			e, err := reg.Resolve(version)
			if err != nil {
				return 0, err
			}
			return 0, s.emit(baselineView(e), func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "Version:       %s\nRun dir:       %s\nRegistered at: %s\n",
					e.Version, e.RunDir, e.RegisteredAt.Format(time.RFC3339))
				_, _ = fmt.Fprintf(w, "Metrics:       %d bound(s)\nExpressions:   %d\n",
					len(e.Thresholds.Metrics), len(e.Thresholds.Expressions))
			})
		}
	})
}

// baselineView includes the version, which Entry keeps out of its JSON.
func baselineView(e baseline.Entry) map[string]any {
	return map[string]any{
		"version":       e.Version,
		"run_dir":       e.RunDir,
		"thresholds":    e.Thresholds,
		"registered_at": e.RegisteredAt,
	}
}
