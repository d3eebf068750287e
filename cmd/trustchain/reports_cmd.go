package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/trustchain/pkg/audit"
	"github.com/Mindburn-Labs/trustchain/pkg/drift"
	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
	"github.com/Mindburn-Labs/trustchain/pkg/governance"
	"github.com/Mindburn-Labs/trustchain/pkg/incident"
	"github.com/Mindburn-Labs/trustchain/pkg/misuse"
	"github.com/Mindburn-Labs/trustchain/pkg/observability"
	"github.com/Mindburn-Labs/trustchain/pkg/override"
	"github.com/Mindburn-Labs/trustchain/pkg/regression"
	"github.com/Mindburn-Labs/trustchain/pkg/versioning"
)

// reportFlags are shared by the report-producing commands.
type reportFlags struct {
	input            string
	out              string
	failOnEscalation bool
}

func bindReport(fs *flag.FlagSet) *reportFlags {
	r := &reportFlags{}
	fs.StringVar(&r.input, "input", "", "Input JSON file (required)")
	fs.StringVar(&r.out, "out", "", "Also write the report to this file")
	fs.BoolVar(&r.failOnEscalation, "fail-on-escalation", false, "Exit 1 when the report requires human escalation")
	return r
}

// escalationNotice is the audit record raised next to a report that needs a human.
type escalationNotice struct {
	ReportType string                  `json:"report_type"`
	ReportID   string                  `json:"report_id"`
	Target     escalation.Target       `json:"target"`
	Level      string                  `json:"level,omitempty"`
	Score      float64                 `json:"score,omitempty"`
	Event      *escalation.Event       `json:"event,omitempty"`
	AutoAction escalation.NoAutoAction `json:"auto_action_taken"`
}

// finishReport writes, audits and prints a report. Reports are data: the
// exit code is 0 unless --fail-on-escalation asks otherwise.
func finishReport(ctx context.Context, s *session, rf *reportFlags, kind audit.Kind, report any, notice escalationNotice, escalate bool, human func(io.Writer)) (int, error) {
	if err := writeJSONFile(rf.out, report); err != nil {
		return 0, err
	}
	if err := s.record(ctx, kind, notice.ReportID, report); err != nil {
		return 0, err
	}
	if escalate {
		ev, err := s.escalations.Raise(ctx, escalation.Request{
			Source:    notice.ReportType,
			SubjectID: notice.ReportID,
			Score:     notice.Score,
			Summary:   notice.ReportType + " " + notice.ReportID + " requires review",
		})
		switch {
		case err == nil:
			notice.Event = &ev
		case !errors.Is(err, escalation.ErrBelowEscalation):
			return 0, err
		}
		if err := s.record(ctx, audit.KindEscalation, notice.ReportID, notice); err != nil {
			return 0, err
		}
		s.logger.Warn("human escalation required", "report_id", notice.ReportID, "target", notice.Target)
	}
	if err := s.emit(report, human); err != nil {
		return 0, err
	}
	if escalate && rf.failOnEscalation {
		return fault.ExitFail, nil
	}
	return fault.ExitPass, nil
}

type driftInput struct {
	Baseline      drift.Baseline     `json:"baseline"`
	Observations  drift.Observations `json:"observations"`
	TriggerEvents []string           `json:"trigger_events"`
}

// runDrift implements `trustchain drift`.
func runDrift(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("drift", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	rf := bindReport(fs)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if rf.input == "" {
			return 0, usageError("drift: --input is required")
		}
		var in driftInput
		if err := readJSON(rf.input, &in); err != nil {
			return 0, err
		}
		rep, err := drift.RunTracked(ctx, s.tracker, drift.Args{
			Observations:  in.Observations,
			Baseline:      in.Baseline,
			TriggerEvents: in.TriggerEvents,
			GeneratedAt:   s.now,
			Impacts:       s.cfg.Drift.Impacts,
		})
		if err != nil {
			return 0, err
		}
		notice := escalationNotice{ReportType: rep.ReportType, ReportID: rep.ReportID, Target: rep.EscalationTarget, Level: rep.OverallClassification.String()}
		for _, d := range rep.DetectedDrifts {
			notice.Score = max(notice.Score, d.Score)
		}
		return finishReport(ctx, s, rf, audit.KindDriftReport, rep, notice, rep.EscalationRequired, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Drift report %s\n", rep.ReportID)
			for _, d := range rep.DetectedDrifts {
				_, _ = fmt.Fprintf(w, "  %-8s %-16s score %.2f  %s\n", d.Classification, d.DriftID, d.Score, d.Description)
			}
			_, _ = fmt.Fprintf(w, "Overall: %s  escalation: %s  recommendation: %s\n",
				rep.OverallClassification, rep.EscalationTarget, rep.Recommendation)
		})
	})
}

// runMisuse implements `trustchain misuse`. The input file is the
// observations document.
func runMisuse(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("misuse", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	rf := bindReport(fs)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if rf.input == "" {
			return 0, usageError("misuse: --input is required")
		}
		var obs misuse.Observations
		if err := readJSON(rf.input, &obs); err != nil {
			return 0, err
		}
		prev, err := s.prevHash(ctx)
		if err != nil {
			return 0, err
		}
		rep, err := misuse.RunTracked(ctx, s.tracker, misuse.Args{
			Observations:    obs,
			GeneratedAt:     s.now,
			PrevHash:        prev,
			SeverityImpacts: s.cfg.Misuse.SeverityImpacts,
		})
		if err != nil {
			return 0, err
		}
		notice := escalationNotice{ReportType: rep.ReportType, ReportID: rep.ReportID, Target: rep.EscalationTarget, Level: rep.OverallClassification.String()}
		for _, ev := range rep.MisuseEvents {
			notice.Score = max(notice.Score, ev.Score)
		}
		return finishReport(ctx, s, rf, audit.KindMisuseReport, rep, notice, rep.EscalationRequired, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Misuse report %s\n", rep.ReportID)
			for _, ev := range rep.MisuseEvents {
				_, _ = fmt.Fprintf(w, "  %-8s %-22s %s score %.2f\n", ev.Classification, ev.EventID, ev.CaseID, ev.Score)
			}
			_, _ = fmt.Fprintf(w, "Overall: %s  escalation: %s\n", rep.OverallClassification, rep.EscalationTarget)
		})
	})
}

type overrideInput struct {
	Overrides []override.Event `json:"overrides"`
}

// runOverride implements `trustchain override`.
func runOverride(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("override", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	rf := bindReport(fs)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if rf.input == "" {
			return 0, usageError("override: --input is required")
		}
		var in overrideInput
		if err := readJSON(rf.input, &in); err != nil {
			return 0, err
		}
		prev, err := s.prevHash(ctx)
		if err != nil {
			return 0, err
		}
		_, done := s.tracker.TrackOperation(ctx, "override.validate", observability.Events(override.EventType, len(in.Overrides))...)
		rep, err := override.Run(override.Args{Overrides: in.Overrides, GeneratedAt: s.now, PrevHash: prev})
		done(err)
		if err != nil {
			return 0, err
		}
		return finishGovernance(ctx, s, rf, rep)
	})
}

type versionInput struct {
	Events []versioning.Event `json:"events"`
}

// runVersionCheck implements `trustchain version-check`.
func runVersionCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	rf := bindReport(fs)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if rf.input == "" {
			return 0, usageError("version-check: --input is required")
		}
		var in versionInput
		if err := readJSON(rf.input, &in); err != nil {
			return 0, err
		}
		prev, err := s.prevHash(ctx)
		if err != nil {
			return 0, err
		}
		_, done := s.tracker.TrackOperation(ctx, "versioning.validate", observability.Events(versioning.EventType, len(in.Events))...)
		rep, err := versioning.Run(versioning.Args{Events: in.Events, GeneratedAt: s.now, PrevHash: prev})
		done(err)
		if err != nil {
			return 0, err
		}
		return finishGovernance(ctx, s, rf, rep)
	})
}

type incidentInput struct {
	Incidents   []incident.Event        `json:"incidents"`
	PostMortems []incident.PostMortem   `json:"postmortems"`
	Rollbacks   []incident.RollbackPlan `json:"rollback_plans"`
}

// runIncident implements `trustchain incident`.
func runIncident(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("incident", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	rf := bindReport(fs)
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if rf.input == "" {
			return 0, usageError("incident: --input is required")
		}
		var in incidentInput
		if err := readJSON(rf.input, &in); err != nil {
			return 0, err
		}
		prev, err := s.prevHash(ctx)
		if err != nil {
			return 0, err
		}
		_, done := s.tracker.TrackOperation(ctx, "incident.validate", observability.Events(incident.EventType, len(in.Incidents))...)
		rep, err := incident.Run(incident.Args{
			Incidents:   in.Incidents,
			PostMortems: in.PostMortems,
			Rollbacks:   in.Rollbacks,
			GeneratedAt: s.now,
			PrevHash:    prev,
		})
		done(err)
		if err != nil {
			return 0, err
		}
		return finishGovernance(ctx, s, rf, rep)
	})
}

func finishGovernance(ctx context.Context, s *session, rf *reportFlags, rep governance.Report) (int, error) {
	notice := escalationNotice{ReportType: rep.ReportType, ReportID: rep.ReportID, Target: rep.EscalationTarget}
	return finishReport(ctx, s, rf, audit.KindGovernance, rep, notice, rep.EscalationRequired, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "%s %s\n", rep.ReportType, rep.ReportID)
		for _, v := range rep.Validations {
			mark := "VALID"
			if !v.Valid {
				mark = "INVALID"
			}
			_, _ = fmt.Fprintf(w, "  %-7s %s\n", mark, v.EventID)
			for _, e := range v.Errors {
				_, _ = fmt.Fprintf(w, "          - %s\n", e)
			}
		}
		for _, v := range rep.RuleViolations {
			_, _ = fmt.Fprintf(w, "  %s %s: %s\n", v.Rule, v.EventID, v.Description)
		}
		_, _ = fmt.Fprintf(w, "Validated %d, invalid %d, violations %d, escalation required: %t\n",
			rep.Summary.EventsValidated, rep.Summary.Invalid, rep.Summary.Violations, rep.EscalationRequired)
	})
}

type regressInput struct {
	Baseline  regression.Baseline  `json:"baseline"`
	Candidate regression.Candidate `json:"candidate"`
	Waivers   []regression.Waiver  `json:"waivers"`
}

// runRegress implements `trustchain regress`. Exit 1 on FAIL; WAIVED passes.
func runRegress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("regress", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := bindCommon(fs)
	var input, out string
	fs.StringVar(&input, "input", "", "Input JSON file with baseline, candidate and waivers (required)")
	fs.StringVar(&out, "out", "", "Also write the result to this file")
	if ok, code := parseFlags(fs, args); !ok {
		return code
	}

	return execute(common, stdout, stderr, func(ctx context.Context, s *session) (int, error) {
		if input == "" {
			return 0, usageError("regress: --input is required")
		}
		var in regressInput
		if err := readJSON(input, &in); err != nil {
			return 0, err
		}
		_, done := s.tracker.TrackOperation(ctx, "regression.check", observability.AttrBaseline.String(in.Baseline.BaselineID))
		res, err := regression.Check(in.Baseline, in.Candidate, in.Waivers, regression.Options{
			DurationThreshold: s.cfg.Regression.DurationThreshold,
			Now:               s.now,
		})
		done(err)
		if err != nil {
			return 0, err
		}
		if err := writeJSONFile(out, res); err != nil {
			return 0, err
		}
		if err := s.record(ctx, audit.KindRegression, res.CheckID, res); err != nil {
			return 0, err
		}
		err = s.emit(res, func(w io.Writer) {
			_, _ = fmt.Fprintf(w, "Regression check %s: %s\n", res.CheckID, res.Status)
			for _, f := range res.RegressionsDetected {
				waived := ""
				if f.Waived {
					waived = " (waived " + f.WaiverRef + ")"
				}
				_, _ = fmt.Fprintf(w, "  %-8s %s %s%s\n", f.Severity, f.FindingID, f.Description, waived)
			}
		})
		if err != nil {
			return 0, err
		}
		if res.Status == regression.StatusFail {
			return fault.ExitFail, nil
		}
		return fault.ExitPass, nil
	})
}
