package drift

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// PerformanceTolerance is the fraction by which an operation may exceed its
// first recorded duration before it counts as a performance deviation.
const PerformanceTolerance = 0.5

// maxEvidence bounds the evidence lines kept per result.
const maxEvidence = 10

var sha256Hex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Detectors returns the eight detectors bound to an impact table. Keys
// missing from impacts fall back to DefaultImpacts.
func Detectors(impacts escalation.ImpactTable) []Detector {
	t := DefaultImpacts.Merge(impacts)
	return []Detector{
		semanticDetector(t),
		outputDetector(t),
		formatDetector(t),
		temporalDetector(t),
		performanceDetector(t),
		varianceDetector(t),
		toolingDetector(t),
		contractDetector(t),
	}
}

// DefaultDetectors returns Detectors(DefaultImpacts).
func DefaultDetectors() []Detector { return Detectors(nil) }

// tally counts comparisons and the longest run of consecutive deviations.
type tally struct {
	comparable int
	deviating  int
	run        int
	longest    int
	evidence   []string
}

func (t *tally) observe(deviates bool, evidence string) {
	t.comparable++
	if !deviates {
		t.run = 0
		return
	}
	t.deviating++
	t.run++
	if t.run > t.longest {
		t.longest = t.run
	}
	if len(t.evidence) < maxEvidence {
		t.evidence = append(t.evidence, evidence)
	}
}

// breakRun ends the current streak without counting a comparison.
func (t *tally) breakRun() { t.run = 0 }

func (t *tally) confidence() float64 {
	c := float64(t.deviating) / float64(t.comparable)
	c = math.Round(c*100) / 100
	return math.Min(escalation.MaxConfidence, math.Max(escalation.MinConfidence, c))
}

type finding struct {
	typ         Type
	impact      int
	description string
	baseline    string
	observed    string
	deviation   string
	at          time.Time
}

func (f finding) result(t *tally) *Result {
	if t.deviating == 0 {
		return nil
	}
	a, err := escalation.Assess(f.impact, t.confidence(), max(t.longest, 1))
	if err != nil {
		fault.Violate("drift_score_input", "%s: %v", f.typ, err)
	}
	r := &Result{
		DriftID:        resultID(f.typ, f.at, 1),
		Type:           f.typ,
		Description:    f.description,
		Impact:         a.Impact,
		Confidence:     a.Confidence,
		Persistence:    a.Persistence,
		Score:          a.Score,
		Classification: a.Classification,
		Evidence:       append([]string(nil), t.evidence...),
		BaselineValue:  f.baseline,
		ObservedValue:  f.observed,
		Deviation:      f.deviation,
	}
	if escalation.RequiresHumanJustification(r.Score) {
		r.HumanJustification = justification(r, t.comparable)
	}
	return r
}

func justification(r *Result, comparable int) string {
	return fmt.Sprintf("%s detected in %d of %d comparison(s), %d consecutive; score %.4g is %s and needs review by %s.",
		r.Description, len(r.Evidence), comparable, r.Persistence, r.Score, r.Classification, escalation.TargetFor(r.Classification))
}

func resultID(typ Type, at time.Time, seq int) string {
	if at.IsZero() {
		at = time.Unix(0, 0)
	}
	return fmt.Sprintf("%s-%s-%03d", typ, at.UTC().Format("20060102"), seq)
}

func isPassClass(v string) bool {
	switch strings.ToUpper(v) {
	case "PASS", "APPROVE", "ALLOW", "OK", "SUCCESS":
		return true
	}
	return false
}

func isFailClass(v string) bool {
	switch strings.ToUpper(v) {
	case "FAIL", "REJECT", "DENY", "ERROR", "FAILURE":
		return true
	}
	return false
}

type verdictObs struct {
	id      string
	at      time.Time
	verdict string
}

// verdicts merges log entries and runtime events by event id, runtime
// events winning, ordered by time then id.
func verdicts(obs Observations) []verdictObs {
	byID := map[string]verdictObs{}
	for _, e := range obs.LogEntries {
		byID[e.EventID] = verdictObs{e.EventID, e.Timestamp, e.Verdict}
	}
	for _, e := range obs.RuntimeEvents {
		byID[e.EventID] = verdictObs{e.EventID, e.Timestamp, e.Verdict}
	}
	out := make([]verdictObs, 0, len(byID))
	for _, v := range byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].id < out[j].id
	})
	return out
}

func latest(obs Observations) time.Time {
	var t time.Time
	for _, s := range obs.Snapshots {
		if s.Timestamp.After(t) {
			t = s.Timestamp
		}
	}
	for _, e := range obs.LogEntries {
		if e.Timestamp.After(t) {
			t = e.Timestamp
		}
	}
	for _, e := range obs.RuntimeEvents {
		if e.Timestamp.After(t) {
			t = e.Timestamp
		}
	}
	return t
}

// semanticDetector flags verdicts that change relative to the first
// observed verdict. A FAIL-class verdict after a PASS-class one uses the
// ImpactFailAfterPass impact.
func semanticDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, _ Baseline) *Result {
		seq := verdicts(obs)
		if len(seq) < 2 {
			return nil
		}
		first := seq[0]
		t := &tally{}
		failAfterPass := false
		var last string
		for _, v := range seq[1:] {
			changed := !strings.EqualFold(v.verdict, first.verdict)
			if changed && isPassClass(first.verdict) && isFailClass(v.verdict) {
				failAfterPass = true
			}
			t.observe(changed, fmt.Sprintf("%s: %s -> %s", v.id, first.verdict, v.verdict))
			if changed {
				last = v.verdict
			}
		}
		impact := impacts.Lookup(string(TypeSemantic), 3)
		if failAfterPass {
			impact = impacts.Lookup(ImpactFailAfterPass, 5)
		}
		return finding{
			typ:         TypeSemantic,
			impact:      impact,
			description: "Verdict inconsistency",
			baseline:    first.verdict,
			observed:    last,
			deviation:   fmt.Sprintf("verdict changed in %d of %d observation(s)", t.deviating, t.comparable),
			at:          latest(obs),
		}.result(t)
	}
}

// outputDetector flags the same operation and input producing different
// outputs, and log entries disagreeing with the runtime event they record.
func outputDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, _ Baseline) *Result {
		t := &tally{}
		groups := map[string][]RuntimeEvent{}
		var keys []string
		for _, e := range obs.RuntimeEvents {
			k := e.Operation + "|" + e.InputHash
			if _, ok := groups[k]; !ok {
				keys = append(keys, k)
			}
			groups[k] = append(groups[k], e)
		}
		sort.Strings(keys)
		var baseVal, obsVal string
		for _, k := range keys {
			g := groups[k]
			for _, e := range g[1:] {
				diff := e.OutputHash != g[0].OutputHash
				t.observe(diff, fmt.Sprintf("%s: %s output %s != %s", e.EventID, e.Operation, short(e.OutputHash), short(g[0].OutputHash)))
				if diff {
					baseVal, obsVal = g[0].OutputHash, e.OutputHash
				}
			}
			t.breakRun()
		}

		runtime := map[string]RuntimeEvent{}
		for _, e := range obs.RuntimeEvents {
			runtime[e.EventID] = e
		}
		for _, l := range obs.LogEntries {
			e, ok := runtime[l.EventID]
			if !ok {
				continue
			}
			diff := l.OutputHash != e.OutputHash
			t.observe(diff, fmt.Sprintf("%s: log output %s != runtime %s", l.EventID, short(l.OutputHash), short(e.OutputHash)))
			if diff {
				baseVal, obsVal = e.OutputHash, l.OutputHash
			}
		}
		if t.comparable == 0 {
			return nil
		}
		return finding{
			typ:         TypeOutput,
			impact:      impacts.Lookup(string(TypeOutput), 4),
			description: "Output hash divergence",
			baseline:    baseVal,
			observed:    obsVal,
			deviation:   fmt.Sprintf("%d divergent output(s)", t.deviating),
			at:          latest(obs),
		}.result(t)
	}
}

// formatDetector flags output hashes that are not lowercase hex SHA-256,
// the format of the baseline reference.
func formatDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, b Baseline) *Result {
		t := &tally{}
		var bad string
		check := func(id, h string) {
			ok := sha256Hex.MatchString(h)
			t.observe(!ok, fmt.Sprintf("%s: output hash %q is not sha256 hex", id, h))
			if !ok {
				bad = h
			}
		}
		for _, e := range obs.LogEntries {
			check(e.EventID, e.OutputHash)
		}
		for _, e := range obs.RuntimeEvents {
			check(e.EventID, e.OutputHash)
		}
		if t.comparable == 0 {
			return nil
		}
		return finding{
			typ:         TypeFormat,
			impact:      impacts.Lookup(string(TypeFormat), 2),
			description: "Output format deviation",
			baseline:    "sha256 hex (" + short(b.SHA256) + ")",
			observed:    bad,
			deviation:   fmt.Sprintf("%d malformed hash(es)", t.deviating),
			at:          latest(obs),
		}.result(t)
	}
}

// temporalDetector flags timestamps that go backwards and snapshot event
// counters that decrease.
func temporalDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, _ Baseline) *Result {
		t := &tally{}
		for i := 1; i < len(obs.Snapshots); i++ {
			prev, cur := obs.Snapshots[i-1], obs.Snapshots[i]
			t.observe(cur.Timestamp.Before(prev.Timestamp),
				fmt.Sprintf("%s at %s precedes %s", cur.SnapshotID, cur.Timestamp.Format(time.RFC3339), prev.SnapshotID))
			t.observe(cur.EventsCountTotal < prev.EventsCountTotal,
				fmt.Sprintf("%s events_count_total %d < %d", cur.SnapshotID, cur.EventsCountTotal, prev.EventsCountTotal))
		}
		t.breakRun()
		for i := 1; i < len(obs.LogEntries); i++ {
			prev, cur := obs.LogEntries[i-1], obs.LogEntries[i]
			t.observe(cur.Timestamp.Before(prev.Timestamp),
				fmt.Sprintf("log %s precedes %s", cur.EventID, prev.EventID))
		}
		t.breakRun()
		for i := 1; i < len(obs.RuntimeEvents); i++ {
			prev, cur := obs.RuntimeEvents[i-1], obs.RuntimeEvents[i]
			t.observe(cur.Timestamp.Before(prev.Timestamp),
				fmt.Sprintf("event %s precedes %s", cur.EventID, prev.EventID))
		}
		if t.comparable == 0 {
			return nil
		}
		return finding{
			typ:         TypeTemporal,
			impact:      impacts.Lookup(string(TypeTemporal), 2),
			description: "Temporal ordering anomaly",
			baseline:    "monotonic",
			observed:    fmt.Sprintf("%d regression(s)", t.deviating),
			deviation:   "timestamps or counters move backwards",
			at:          latest(obs),
		}.result(t)
	}
}

// performanceDetector flags operations whose duration exceeds the first
// recorded duration of the same operation by more than PerformanceTolerance.
func performanceDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, _ Baseline) *Result {
		t := &tally{}
		ref := map[string]int64{}
		var worst float64
		var worstDesc string
		for _, e := range obs.RuntimeEvents {
			if e.DurationMs <= 0 {
				continue
			}
			base, ok := ref[e.Operation]
			if !ok {
				ref[e.Operation] = e.DurationMs
				continue
			}
			ratio := float64(e.DurationMs)/float64(base) - 1
			slow := ratio > PerformanceTolerance
			t.observe(slow, fmt.Sprintf("%s: %s took %dms vs %dms", e.EventID, e.Operation, e.DurationMs, base))
			if slow && ratio > worst {
				worst = ratio
				worstDesc = fmt.Sprintf("%s %dms -> %dms", e.Operation, base, e.DurationMs)
			}
		}
		if t.comparable == 0 {
			return nil
		}
		return finding{
			typ:         TypePerformance,
			impact:      impacts.Lookup(string(TypePerformance), 2),
			description: "Performance regression",
			baseline:    fmt.Sprintf("+%.0f%% tolerance", PerformanceTolerance*100),
			observed:    worstDesc,
			deviation:   fmt.Sprintf("+%.0f%%", worst*100),
			at:          latest(obs),
		}.result(t)
	}
}

// varianceDetector flags snapshots whose anomaly counters grow or whose
// status departs from the first snapshot.
func varianceDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, _ Baseline) *Result {
		if len(obs.Snapshots) < 2 {
			return nil
		}
		first := obs.Snapshots[0]
		t := &tally{}
		var observed string
		for i := 1; i < len(obs.Snapshots); i++ {
			prev, cur := obs.Snapshots[i-1], obs.Snapshots[i]
			grew := anomalyTotal(cur) > anomalyTotal(prev)
			status := cur.Status != first.Status
			t.observe(grew || status, fmt.Sprintf("%s: status %s, anomalies %d (was %d)", cur.SnapshotID, cur.Status, anomalyTotal(cur), anomalyTotal(prev)))
			if grew || status {
				observed = fmt.Sprintf("%s/%d", cur.Status, anomalyTotal(cur))
			}
		}
		return finding{
			typ:         TypeVariance,
			impact:      impacts.Lookup(string(TypeVariance), 2),
			description: "Runtime state variance",
			baseline:    fmt.Sprintf("%s/%d", first.Status, anomalyTotal(first)),
			observed:    observed,
			deviation:   fmt.Sprintf("%d unstable snapshot(s)", t.deviating),
			at:          latest(obs),
		}.result(t)
	}
}

func anomalyTotal(s Snapshot) int {
	return s.Anomalies.ToolingDrift + s.Anomalies.ProductDrift + s.Anomalies.Incidents
}

// toolingDetector flags events built from a commit or tag other than the
// baseline's, and snapshots reporting tooling drift.
func toolingDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, b Baseline) *Result {
		t := &tally{}
		var observed string
		for _, e := range obs.RuntimeEvents {
			commit := b.Commit != "" && e.BuildRef.Commit != b.Commit
			tag := b.Tag != "" && e.BuildRef.Tag != b.Tag
			t.observe(commit || tag, fmt.Sprintf("%s: built from %s@%s", e.EventID, e.BuildRef.Tag, e.BuildRef.Commit))
			if commit || tag {
				observed = e.BuildRef.Tag + "@" + e.BuildRef.Commit
			}
		}
		t.breakRun()
		for _, s := range obs.Snapshots {
			drifted := s.Anomalies.ToolingDrift > 0
			t.observe(drifted, fmt.Sprintf("%s: tooling_drift=%d", s.SnapshotID, s.Anomalies.ToolingDrift))
			if drifted && observed == "" {
				observed = fmt.Sprintf("tooling_drift=%d", s.Anomalies.ToolingDrift)
			}
		}
		if t.comparable == 0 {
			return nil
		}
		return finding{
			typ:         TypeTooling,
			impact:      impacts.Lookup(string(TypeTooling), 3),
			description: "Tooling drift",
			baseline:    b.Tag + "@" + b.Commit,
			observed:    observed,
			deviation:   fmt.Sprintf("%d observation(s) off the baseline build", t.deviating),
			at:          latest(obs),
		}.result(t)
	}
}

// contractDetector flags snapshots that reference a baseline other than the
// one under review.
func contractDetector(impacts escalation.ImpactTable) Detector {
	return func(obs Observations, b Baseline) *Result {
		if len(obs.Snapshots) == 0 {
			return nil
		}
		t := &tally{}
		var observed string
		for _, s := range obs.Snapshots {
			broken := s.BaselineRef != b.SHA256
			t.observe(broken, fmt.Sprintf("%s: baseline_ref %s", s.SnapshotID, short(s.BaselineRef)))
			if broken {
				observed = s.BaselineRef
			}
		}
		return finding{
			typ:         TypeContract,
			impact:      impacts.Lookup(string(TypeContract), 5),
			description: "Baseline contract violation",
			baseline:    b.SHA256,
			observed:    observed,
			deviation:   fmt.Sprintf("%d snapshot(s) bound to another baseline", t.deviating),
			at:          latest(obs),
		}.result(t)
	}
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
