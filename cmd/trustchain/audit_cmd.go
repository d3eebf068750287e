package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// runAudit implements `trustchain audit verify|export`.
func runAudit(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: trustchain audit verify|export [flags]")
		return fault.ExitUsage
	}
	switch args[0] {
	case "verify":
		return runAuditVerify(args[1:], stdout, stderr)
	case "export":
		return runAuditExport(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown audit subcommand %q\n", args[0])
		return fault.ExitUsage
	}
}

func requireAudit(s *session) error {
	if s.audit == nil {
		return fault.New(fault.KindUsage, "AUDIT_NOT_CONFIGURED", "no audit backend configured (audit.backend or TRUSTCHAIN_AUDIT_BACKEND)")
	}
	return nil
}

func runAuditVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if err := requireAudit(s); err != nil {
			return 0, err
		}
		n, err := audit.Verify(ctx, s.audit)
		if errors.Is(err, audit.ErrChainBroken) {
			return 0, fault.Wrap(err, fault.KindInvariant, "AUDIT_CHAIN_BROKEN")
		}
		if err != nil {
			return 0, fault.IO(err, "AUDIT_READ")
		}
		head, err := s.audit.Head(ctx)
		if err != nil {
			return 0, fault.IO(err, "AUDIT_HEAD")
		}
		out := map[string]any{"valid": true, "records": n, "head": head}
		return fault.ExitPass, s.emit(out, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Audit chain valid: %d records, head %s\n", n, head)
		})
	})
}

func runAuditExport(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var out, kind, subject, since, until string
	var limit int
	fs.StringVar(&out, "out", "", "Zip file to write (required)")
	fs.StringVar(&kind, "kind", "", "Only records of this kind")
	fs.StringVar(&subject, "subject", "", "Only records about this subject")
	fs.StringVar(&since, "since", "", "Only records at or after this RFC3339 time")
	fs.StringVar(&until, "until", "", "Only records at or before this RFC3339 time")
	fs.IntVar(&limit, "limit", 0, "Maximum number of records (0 = all)")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if out == "" {
			return 0, usageError("audit export: --out is required")
		}
		if err := requireAudit(s); err != nil {
			return 0, err
		}
		f := audit.Filter{Kind: audit.Kind(kind), Subject: subject, Limit: limit}
		var err error
		if f.Since, err = parseOptionalTime("--since", since); err != nil {
			return 0, err
		}
		if f.Until, err = parseOptionalTime("--until", until); err != nil {
			return 0, err
		}
		data, sum, err := audit.Export(ctx, s.audit, f, s.now)
		if errors.Is(err, audit.ErrInvalidTimeRange) {
			return 0, fault.Wrap(err, fault.KindUsage, "AUDIT_TIME_RANGE")
		}
		if err != nil {
			return 0, fault.IO(err, "AUDIT_EXPORT")
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return 0, fault.IO(fmt.Errorf("write %s: %w", out, err), "OUTPUT_WRITE")
		}
		res := map[string]any{"path": out, "sha256": sum, "bytes": len(data)}
		return fault.ExitPass, s.emit(res, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Wrote %s (%d bytes, sha256 %s)\n", out, len(data), sum)
		})
	})
}

func parseOptionalTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fault.New(fault.KindUsage, "BAD_TIME", "%s: %v", name, err)
	}
	return t, nil
}
