package misuse

import (
	"context"
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
	ReportType = "misuse_report"
	Generator  = "trustchain misuse detector"
)

// Notes is attached to every report.
const Notes = "Misuse events are advisory and require a human decision. No automatic action is taken: nothing is blocked, quarantined or rejected."

var misuseNamespace = uuid.MustParse("9a4e2f1b-3c6d-4e8a-b5f7-0d2c1e9b8a63")

// Args are the inputs of one misuse run.
type Args struct {
	Observations Observations
	GeneratedAt  time.Time
	// PrevHash links the report to the previous record of the audit log it
	// is appended to. When nil, the last log chain entry's hash is used.
	PrevHash        *string
	SeverityImpacts escalation.ImpactTable
}

// Window is the time span of the input events.
type Window struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	EventsCount int       `json:"events_count"`
}

// Summary counts events per case and severity.
type Summary struct {
	EventsChecked        int            `json:"events_checked"`
	MisuseEventsDetected int            `json:"misuse_events_detected"`
	ByCase               map[string]int `json:"by_case"`
	BySeverity           map[string]int `json:"by_severity"`
	HighestSeverity      string         `json:"highest_severity"`
	HighestScore         float64        `json:"highest_score"`
}

// Report is the misuse_report document.
type Report struct {
	ReportType            string            `json:"report_type"`
	SchemaVersion         string            `json:"schema_version"`
	ReportID              string            `json:"report_id"`
	Timestamp             time.Time         `json:"timestamp"`
	Window                Window            `json:"window"`
	MisuseEvents          []Event           `json:"misuse_events"`
	Summary               Summary           `json:"summary"`
	OverallClassification escalation.Level  `json:"overall_classification"`
	EscalationRequired    bool              `json:"escalation_required"`
	EscalationTarget      escalation.Target `json:"escalation_target"`
	Notes                 string            `json:"notes"`
	GeneratedAt           time.Time         `json:"generated_at"`
	Generator             string            `json:"generator"`
	LogChainPrevHash      *string           `json:"log_chain_prev_hash"`
}

// Tracker reports pipeline spans. observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// Run executes the five case detectors, configured with args.SeverityImpacts.
func Run(args Args) (Report, error) {
	return RunWithDetectors(args, Detectors(args.SeverityImpacts))
}

// RunTracked wraps Run in a tracker span.
func RunTracked(ctx context.Context, tr Tracker, args Args) (Report, error) {
	if tr == nil {
		return Run(args)
	}
	_, done := tr.TrackOperation(ctx, "misuse.run", attribute.Int("misuse.input_events", len(args.Observations.InputEvents)))
	rep, err := Run(args)
	done(err)
	return rep, err
}

// RunWithDetectors runs detectors in order and builds the report. Every
// event is re-scored from its severity impact, confidence and persistence
// and renumbered per case.
func RunWithDetectors(args Args, detectors []Detector) (rep Report, err error) {
	defer fault.Recover(&err)
	impacts := DefaultSeverityImpacts.Merge(args.SeverityImpacts)
	if err := impacts.Validate(); err != nil {
		return Report{}, fault.Wrap(err, fault.KindUsage, "MISUSE_IMPACTS_INVALID")
	}
	generatedAt := args.GeneratedAt.UTC()

	prev := args.PrevHash
	if prev == nil && len(args.Observations.LogChain) > 0 {
		h := args.Observations.LogChain[len(args.Observations.LogChain)-1].ContentHash
		prev = &h
	}

	var events []Event
	seq := map[CaseID]int{}
	for _, detect := range detectors {
		for _, ev := range detect(args.Observations) {
			norm, err := normalize(ev, impacts)
			if err != nil {
				return Report{}, err
			}
			seq[norm.CaseID]++
			norm.EventID = eventID(norm.CaseID, generatedAt, seq[norm.CaseID])
			norm.LogChainPrevHash = prev
			events = append(events, norm)
		}
	}
	if events == nil {
		events = []Event{}
	}

	rep = Report{
		ReportType:       ReportType,
		SchemaVersion:    SchemaVersion,
		Timestamp:        generatedAt,
		Window:           window(args.Observations, generatedAt),
		MisuseEvents:     events,
		Summary:          summarize(args.Observations, events),
		Notes:            Notes,
		GeneratedAt:      generatedAt,
		Generator:        Generator,
		LogChainPrevHash: prev,
	}
	levels := make([]escalation.Level, len(events))
	for i, ev := range events {
		levels[i] = ev.Classification
	}
	rep.OverallClassification = escalation.Highest(levels...)
	rep.EscalationRequired = escalation.TargetFor(rep.OverallClassification) != escalation.TargetNone ||
		Severity(rep.Summary.HighestSeverity).Rank() >= SeverityHigh.Rank()
	rep.EscalationTarget = escalation.TargetNone
	if rep.EscalationRequired {
		rep.EscalationTarget = escalation.TargetArchitecte
	}

	rep.ReportID, err = reportID(rep)
	if err != nil {
		return Report{}, err
	}
	slog.Default().With("component", "misuse").Info("misuse report built",
		"report_id", rep.ReportID, "events", len(events), "escalation_required", rep.EscalationRequired)
	return rep, nil
}

func normalize(ev Event, impacts escalation.ImpactTable) (Event, error) {
	if _, ok := severityRank[ev.Severity]; !ok {
		return Event{}, fault.New(fault.KindStructural, "MISUSE_EVENT_INVALID", "misuse %s: unknown severity %q", ev.CaseID, ev.Severity)
	}
	a, err := escalation.Assess(impacts.Lookup(string(ev.Severity), 3), ev.Confidence, ev.Persistence)
	if err != nil {
		return Event{}, fault.Wrap(fmt.Errorf("misuse %s: %w", ev.CaseID, err), fault.KindStructural, "MISUSE_EVENT_INVALID")
	}
	ev.EventType = EventType
	ev.SchemaVersion = SchemaVersion
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Impact = a.Impact
	ev.Score = a.Score
	ev.Classification = a.Classification
	ev.Evidence.Samples = append([]string{}, ev.Evidence.Samples...)
	ev.Evidence.EvidenceRefs = append([]string{}, ev.Evidence.EvidenceRefs...)
	ev.RecommendedActions = append([]RecommendedAction{}, ev.RecommendedActions...)
	if escalation.RequiresHumanJustification(ev.Score) && ev.HumanJustification == "" {
		ev.HumanJustification = fmt.Sprintf("%s scored %.4g (%s); a human must review it.", ev.Evidence.Description, ev.Score, ev.Classification)
	}
	return ev, nil
}

func summarize(obs Observations, events []Event) Summary {
	s := Summary{
		EventsChecked:        len(obs.InputEvents),
		MisuseEventsDetected: len(events),
		ByCase:               map[string]int{},
		BySeverity:           map[string]int{},
		HighestSeverity:      "none",
	}
	var highest Severity
	for _, ev := range events {
		s.ByCase[string(ev.CaseID)]++
		s.BySeverity[string(ev.Severity)]++
		if ev.Severity.Rank() > highest.Rank() {
			highest = ev.Severity
		}
		if ev.Score > s.HighestScore {
			s.HighestScore = ev.Score
		}
	}
	if highest != "" {
		s.HighestSeverity = string(highest)
	}
	return s
}

func window(obs Observations, fallback time.Time) Window {
	w := Window{From: fallback, To: fallback, EventsCount: len(obs.InputEvents)}
	if len(obs.InputEvents) == 0 {
		return w
	}
	times := make([]time.Time, len(obs.InputEvents))
	for i, e := range obs.InputEvents {
		times[i] = e.Timestamp
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	w.From, w.To = times[0].UTC(), times[len(times)-1].UTC()
	return w
}

func reportID(rep Report) (string, error) {
	ids := make([]string, len(rep.MisuseEvents))
	for i, ev := range rep.MisuseEvents {
		ids[i] = fmt.Sprintf("%s:%s:%g", ev.EventID, ev.PatternID, ev.Score)
	}
	prev := ""
	if rep.LogChainPrevHash != nil {
		prev = *rep.LogChainPrevHash
	}
	key, err := canonicalize.JCS(map[string]any{
		"generated_at": rep.GeneratedAt.Format(time.RFC3339Nano),
		"window_from":  rep.Window.From.Format(time.RFC3339Nano),
		"window_to":    rep.Window.To.Format(time.RFC3339Nano),
		"events":       ids,
		"prev_hash":    prev,
	})
	if err != nil {
		return "", fmt.Errorf("misuse: canonicalize report key: %w", err)
	}
	return "MISUSE-" + uuid.NewSHA1(misuseNamespace, key).String(), nil
}
