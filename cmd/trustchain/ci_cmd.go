package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/certification"
	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/conform/gates"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/observability"
	"github.com/Mindburn-Labs/trustchain/pkg/proofpack"
)

// runCI implements `trustchain ci`.
//
// Exit codes:
//
//	0 = all gates pass
//	1 = a gate after G0 failed
//	3 = G0 failed (baseline not found)
func runCI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ci", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var (
		gc          conform.GateContext
		outDir      string
		publish     bool
		requireCert bool
	)
	fs.StringVar(&gc.CandidateDir, "candidate", "", "Candidate run directory (required)")
	fs.StringVar(&gc.BaselineDir, "baseline", "", "Baseline run directory")
	fs.StringVar(&gc.BaselinesDir, "baselines", "baselines", "Baseline registry directory")
	fs.StringVar(&gc.BaselineVersion, "version", "", "Baseline version, \"latest\" or a SemVer constraint")
	fs.StringVar(&gc.Seed, "seed", "", "Seed both runs must carry")
	fs.StringVar(&outDir, "out", "", "Write ci_report.json, ci_report.md, badge.json and 00_INDEX.json here")
	fs.BoolVar(&publish, "publish", false, "Publish the report and badge to the artifact store")
	fs.BoolVar(&requireCert, "require-cert", false, "Require a verified certificate at G5")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if gc.CandidateDir == "" {
			return 0, usageError("ci: --candidate is required")
		}
		certifier, err := s.certifier()
		if err != nil {
			return 0, err
		}
		engine := gates.DefaultEngine(gates.Config{
			ReplayCache:        s.replayCache(),
			RequireCertificate: requireCert || s.cfg.Certification.Required,
			Certifier:          certifier,
		}).WithTracker(s.tracker)

		res, err := engine.Execute(ctx, &gc)
		if err != nil {
			return 0, err
		}
		ci, err := conform.NewCIResult(gc, *res, s.now)
		if err != nil {
			return 0, err
		}

		if outDir != "" {
			paths, err := conform.WriteOutputs(outDir, ci)
			if err != nil {
				return 0, err
			}
			s.logger.Info("ci outputs written", "dir", outDir, "files", len(paths))
		}
		if publish {
			if err := publishCI(ctx, s, ci); err != nil {
				return 0, err
			}
		}
		if err := s.record(ctx, audit.KindCIReport, ci.ReportID, ci); err != nil {
			return 0, err
		}

		if err := s.emit(ci, func(w io.Writer) { printCI(w, ci) }); err != nil {
			return 0, err
		}
		switch {
		case res.Verdict == conform.VerdictPass:
			return fault.ExitPass, nil
		case res.FailedGate != nil && *res.FailedGate == conform.G0:
			return fault.ExitBaselineNotFound, nil
		default:
			return fault.ExitFail, nil
		}
	})
}

func publishCI(ctx context.Context, s *session, ci *conform.CIResult) error {
	p, err := s.publisher(ctx)
	if err != nil {
		return err
	}
	report, err := conform.RenderJSON(ci)
	if err != nil {
		return err
	}
	if _, err := p.Publish(ctx, "ci_report", conform.ReportJSONFile, report); err != nil {
		return fault.IO(err, "ARTIFACT_PUBLISH")
	}
	if _, err := p.PublishJSON(ctx, "badge", conform.BadgeFile, conform.BadgeFor(ci.Result)); err != nil {
		return fault.IO(err, "ARTIFACT_PUBLISH")
	}
	return nil
}

func printCI(w io.Writer, ci *conform.CIResult) {
	_, _ = fmt.Fprintf(w, "trustchain CI report %s\n", ci.ReportID)
	_, _ = fmt.Fprintf(w, "Candidate: %s\n", ci.Context.CandidateDir)
	for _, g := range ci.Result.Gates {
		_, _ = fmt.Fprintf(w, "  %-4s  %s  %s", g.Verdict, g.Gate, g.Name)
		if g.Detail != "" {
			_, _ = fmt.Fprintf(w, "  [%s]", g.Detail)
		}
		_, _ = fmt.Fprintln(w)
	}
	badge := conform.BadgeFor(ci.Result)
	_, _ = fmt.Fprintf(w, "Result: %s (%s)\n", ci.Result.Verdict, badge.Message)
}

// runCertify implements `trustchain certify`: a valid ProofPack gets a
// certificate.jwt bound to its Merkle root and the baseline version.
func runCertify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("certify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var runDir, version string
	fs.StringVar(&runDir, "run", "", "Run directory to certify (required)")
	fs.StringVar(&version, "baseline-version", "", "Baseline version the run is certified against (required)")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if runDir == "" || version == "" {
			return 0, usageError("certify: --run and --baseline-version are required")
		}
		certifier, err := s.certifier()
		if err != nil {
			return 0, err
		}
		if certifier == nil {
			return 0, fault.New(fault.KindUsage, "CERT_SECRET_MISSING", "certify: no certification secret configured (TRUSTCHAIN_CERT_SECRET)")
		}

		_, done := s.tracker.TrackOperation(ctx, "certification.issue", observability.AttrBaseline.String(version))
		defer func() { done(err) }()

		data, err := proofpack.Read(runDir)
		if err != nil {
			return 0, err
		}
		if v := proofpack.Validate(data); !v.Valid {
			_, _ = fmt.Fprintf(stderr, "certify: ProofPack is not valid: %v\n", v.Reasons())
			return fault.ExitFail, nil
		}
		token, err := certifier.Issue(certification.Subject{
			RunID:           data.Report.RunID,
			MerkleRoot:      data.Tree.RootHash,
			ManifestHash:    data.Manifest.Hash,
			BaselineVersion: version,
		})
		if err != nil {
			return 0, fault.Structural(err, "CERT_ISSUE")
		}
		if err = certification.WriteCertificate(runDir, token); err != nil {
			return 0, err
		}
		out := map[string]string{"run_id": data.Report.RunID, "baseline_version": version, "merkle_root": data.Tree.RootHash}
		return fault.ExitPass, s.emit(out, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Certified %s against baseline %s\n", runDir, version)
		})
	})
}
