package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

const (
	ReportType    = "drift_report"
	ReportVersion = "1.0.0"
	Generator     = "trustchain drift detector"
)

// Notes is attached to every report.
const Notes = "Drift findings are advisory. Every follow-up is a human decision; no automatic action is taken."

var driftNamespace = uuid.MustParse("1d0b8e5c-4c39-4f8e-8e0b-6a2f77c1d9a4")

// ErrNoTriggerEvents is returned by Run when no trigger event is given.
var ErrNoTriggerEvents = errors.New("drift: report requires at least one trigger event")

// Args are the inputs of one drift run.
type Args struct {
	Observations  Observations
	Baseline      Baseline
	TriggerEvents []string
	GeneratedAt   time.Time
	// Impacts overrides entries of DefaultImpacts.
	Impacts escalation.ImpactTable
}

// Window summarizes the observations a report covers.
type Window struct {
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Snapshots     int       `json:"snapshots"`
	LogEntries    int       `json:"log_entries"`
	RuntimeEvents int       `json:"runtime_events"`
}

// Summary counts results per classification and type.
type Summary struct {
	TotalDrifts      int            `json:"total_drifts"`
	ByClassification map[string]int `json:"by_classification"`
	ByType           map[string]int `json:"by_type"`
	HighestScore     float64        `json:"highest_score"`
}

// Report is the drift_report document.
type Report struct {
	ReportType            string                    `json:"report_type"`
	Version               string                    `json:"version"`
	ReportID              string                    `json:"report_id"`
	GeneratedAt           time.Time                 `json:"generated_at"`
	Generator             string                    `json:"generator"`
	BaselineRef           string                    `json:"baseline_ref"`
	BaselineCommit        string                    `json:"baseline_commit"`
	BaselineTag           string                    `json:"baseline_tag"`
	Scope                 string                    `json:"scope"`
	TriggerEvents         []string                  `json:"trigger_events"`
	Window                Window                    `json:"observation_window"`
	DetectedDrifts        []Result                  `json:"detected_drifts"`
	Summary               Summary                   `json:"summary"`
	OverallClassification escalation.Level          `json:"overall_classification"`
	EscalationRequired    bool                      `json:"escalation_required"`
	EscalationTarget      escalation.Target         `json:"escalation_target"`
	Recommendation        escalation.Recommendation `json:"recommendation"`
	Notes                 string                    `json:"notes"`
}

// Tracker reports pipeline spans. observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Run executes the eight detectors bound to args.Impacts.
func Run(args Args) (Report, error) {
	return RunWithDetectors(args, Detectors(args.Impacts))
}

// RunWithDetectors executes detectors in order and builds the report.
// Each result is re-scored from its impact, confidence and persistence;
// classification never depends on anything else.
func RunWithDetectors(args Args, detectors []Detector) (rep Report, err error) {
	defer fault.Recover(&err)
	if len(args.TriggerEvents) == 0 {
		return Report{}, fault.Wrap(ErrNoTriggerEvents, fault.KindUsage, "DRIFT_TRIGGER_EVENTS_REQUIRED")
	}
	generatedAt := args.GeneratedAt.UTC()

	var results []Result
	seq := map[Type]int{}
	for _, detect := range detectors {
		r := detect(args.Observations, args.Baseline)
		if r == nil {
			continue
		}
		norm, err := normalize(*r)
		if err != nil {
			return Report{}, err
		}
		seq[norm.Type]++
		norm.DriftID = resultID(norm.Type, generatedAt, seq[norm.Type])
		results = append(results, norm)
	}

	rep = Report{
		ReportType:     ReportType,
		Version:        ReportVersion,
		GeneratedAt:    generatedAt,
		Generator:      Generator,
		BaselineRef:    args.Baseline.SHA256,
		BaselineCommit: args.Baseline.Commit,
		BaselineTag:    args.Baseline.Tag,
		Scope:          args.Baseline.Scope,
		TriggerEvents:  append([]string(nil), args.TriggerEvents...),
		Window:         window(args.Observations),
		DetectedDrifts: results,
		Summary:        summarize(results),
		Notes:          Notes,
	}
	if rep.DetectedDrifts == nil {
		rep.DetectedDrifts = []Result{}
	}
	levels := make([]escalation.Level, len(results))
	for i, r := range results {
		levels[i] = r.Classification
	}
	rep.OverallClassification = escalation.Highest(levels...)
	rep.EscalationTarget = escalation.TargetFor(rep.OverallClassification)
	rep.EscalationRequired = rep.EscalationTarget != escalation.TargetNone
	rep.Recommendation = escalation.RecommendationFor(rep.OverallClassification)

	rep.ReportID, err = reportID(rep)
	if err != nil {
		return Report{}, err
	}
	slog.Default().With("component", "drift").Info("drift report built",
		"report_id", rep.ReportID, "drifts", len(results), "classification", rep.OverallClassification.String())
	return rep, nil
}

// RunTracked wraps Run in a tracker span.
func RunTracked(ctx context.Context, tr Tracker, args Args) (Report, error) {
	if tr == nil {
		return Run(args)
	}
	_, done := tr.TrackOperation(ctx, "drift.run", attribute.Int("drift.trigger_events", len(args.TriggerEvents)))
	rep, err := Run(args)
	done(err)
	return rep, err
}

func normalize(r Result) (Result, error) {
	a, err := escalation.Assess(r.Impact, r.Confidence, r.Persistence)
	if err != nil {
		return Result{}, fault.Wrap(fmt.Errorf("drift %s: %w", r.Type, err), fault.KindStructural, "DRIFT_RESULT_INVALID")
	}
	r.Score = a.Score
	r.Classification = a.Classification
	r.Evidence = append([]string(nil), r.Evidence...)
	if r.Evidence == nil {
		r.Evidence = []string{}
	}
	if escalation.RequiresHumanJustification(r.Score) && r.HumanJustification == "" {
		r.HumanJustification = fmt.Sprintf("%s scored %.4g (%s); a human must review it.", r.Description, r.Score, r.Classification)
	}
	return r, nil
}

func summarize(results []Result) Summary {
	s := Summary{
		TotalDrifts:      len(results),
		ByClassification: map[string]int{},
		ByType:           map[string]int{},
	}
	for _, l := range escalation.Levels() {
		s.ByClassification[l.String()] = 0
	}
	for _, r := range results {
		s.ByClassification[r.Classification.String()]++
		s.ByType[string(r.Type)]++
		if r.Score > s.HighestScore {
			s.HighestScore = r.Score
		}
	}
	return s
}

func window(obs Observations) Window {
	var times []time.Time
	for _, s := range obs.Snapshots {
		times = append(times, s.Timestamp)
	}
	for _, e := range obs.LogEntries {
		times = append(times, e.Timestamp)
	}
	for _, e := range obs.RuntimeEvents {
		times = append(times, e.Timestamp)
	}
	w := Window{Snapshots: len(obs.Snapshots), LogEntries: len(obs.LogEntries), RuntimeEvents: len(obs.RuntimeEvents)}
	if len(times) == 0 {
		return w
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	w.From, w.To = times[0].UTC(), times[len(times)-1].UTC()
	return w
}

func reportID(rep Report) (string, error) {
	ids := make([]string, len(rep.DetectedDrifts))
	for i, r := range rep.DetectedDrifts {
		ids[i] = fmt.Sprintf("%s:%g", r.DriftID, r.Score)
	}
	key, err := canonicalize.JCS(map[string]any{
		"baseline_ref":   rep.BaselineRef,
		"trigger_events": rep.TriggerEvents,
		"generated_at":   rep.GeneratedAt.Format(time.RFC3339Nano),
		"drifts":         ids,
	})
	if err != nil {
		return "", fmt.Errorf("drift: canonicalize report key: %w", err)
	}
	return "DRIFT-" + uuid.NewSHA1(driftNamespace, key).String(), nil
}
