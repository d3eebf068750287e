package misuse

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// Detector tuning.
const (
	// ThresholdBand is the relative distance below a threshold that counts
	// as a near miss.
	ThresholdBand = 0.05
	// MinNearMisses is how many near misses make a gaming pattern.
	MinNearMisses = 3
	// MaxOverridesPerApprover is the override count above which one
	// approver's activity is reported.
	MaxOverridesPerApprover = 2
	// MaxOverrideRate is the share of overridden decisions above which the
	// override rate is reported.
	MaxOverrideRate = 0.5
	// ReplayWindow is how close two identical inputs from one source must be
	// to count as a replay.
	ReplayWindow = 5 * time.Minute

	maxSamples = 5
)

type injectionPattern struct {
	id         string
	re         *regexp.Regexp
	confidence float64
	what       string
}

// Payload strings are NFKC-normalized and lower-cased before matching so
// that full-width and compatibility forms cannot slip past.
var injectionPatterns = []injectionPattern{
	{"PI-001", regexp.MustCompile(`['"]\s*;\s*(drop|delete|truncate|alter|insert|update)\b|\bunion\s+select\b|\bor\s+1\s*=\s*1\b`), 0.9, "SQL injection"},
	{"PI-002", regexp.MustCompile(`<\s*script\b|javascript:|\bon(error|load)\s*=`), 0.9, "script injection"},
	{"PI-003", regexp.MustCompile(`ignore\s+(all\s+)?(previous|prior|above)\s+instructions|disregard\s+(all\s+)?(previous|prior)\s+|reveal\s+(the\s+)?system\s+prompt`), 0.8, "instruction override"},
	{"PI-004", regexp.MustCompile(`\$\{[^}]*\}|\{\{[^}]*\}\}|\$\([^)]*\)|;\s*(rm|curl|wget)\s`), 0.7, "template or command injection"},
}

// invisibleRunes are characters used to hide content from reviewers.
var invisibleRunes = []rune{'\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u202e'}

// Detectors returns the five case detectors. impacts maps a severity to its
// impact; missing keys fall back to DefaultSeverityImpacts.
func Detectors(impacts escalation.ImpactTable) []Detector {
	t := DefaultSeverityImpacts.Merge(impacts)
	return []Detector{
		promptInjection(t),
		thresholdGaming(t),
		overrideAbuse(t),
		logTampering(t),
		replayAttack(t),
	}
}

// DefaultDetectors returns Detectors(DefaultSeverityImpacts).
func DefaultDetectors() []Detector { return Detectors(nil) }

type draft struct {
	caseID      CaseID
	patternID   string
	method      DetectionMethod
	at          time.Time
	ctx         EventContext
	description string
	samples     []string
	refs        []string
	confidence  float64
	persistence int
	actions     []RecommendedAction
}

func (d draft) event(impacts escalation.ImpactTable) Event {
	sev := CaseSeverity[d.caseID]
	conf := math.Min(escalation.MaxConfidence, math.Max(escalation.MinConfidence, math.Round(d.confidence*100)/100))
	a, err := escalation.Assess(impacts.Lookup(string(sev), 3), conf, max(d.persistence, 1))
	if err != nil {
		fault.Violate("misuse_score_input", "%s/%s: %v", d.caseID, d.patternID, err)
	}
	samples := d.samples
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	ev := Event{
		EventType:       EventType,
		SchemaVersion:   SchemaVersion,
		EventID:         eventID(d.caseID, d.at, 1),
		Timestamp:       d.at.UTC(),
		CaseID:          d.caseID,
		PatternID:       d.patternID,
		Severity:        sev,
		DetectionMethod: d.method,
		Context:         d.ctx,
		Evidence: Evidence{
			Description:  d.description,
			Samples:      append([]string{}, samples...),
			EvidenceRefs: append([]string{}, d.refs...),
		},
		Impact:             a.Impact,
		Confidence:         a.Confidence,
		Persistence:        a.Persistence,
		Score:              a.Score,
		Classification:     a.Classification,
		RecommendedActions: append([]RecommendedAction{}, d.actions...),
	}
	if escalation.RequiresHumanJustification(ev.Score) {
		ev.HumanJustification = fmt.Sprintf("%s (%s severity, score %.4g) must be reviewed by %s before any action.",
			d.description, sev, ev.Score, escalation.TargetArchitecte)
	}
	return ev
}

func eventID(c CaseID, at time.Time, seq int) string {
	return fmt.Sprintf("MSE_%s_%s_%03d", strings.TrimPrefix(string(c), "CASE-"), at.UTC().Format("20060102"), seq)
}

func investigate(rationale string) RecommendedAction {
	return RecommendedAction{Action: "investigate", Rationale: rationale}
}

// payloadStrings flattens every string in a payload, keys sorted, as
// "path=value" pairs.
func payloadStrings(prefix string, v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, prefix+"="+t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			payloadStrings(prefix+"."+k, t[k], out)
		}
	case []any:
		for i, e := range t {
			payloadStrings(fmt.Sprintf("%s[%d]", prefix, i), e, out)
		}
	}
}

func promptInjection(impacts escalation.ImpactTable) Detector {
	return func(obs Observations) []Event {
		type hit struct {
			ev      InputEvent
			pattern string
			method  DetectionMethod
			conf    float64
			what    string
			sample  string
		}
		var hits []hit
		counts := map[string]int{}
		for _, in := range obs.InputEvents {
			var fields []string
			payloadStrings("payload", map[string]any(in.Payload), &fields)
			matched := map[string]bool{}
			for _, f := range fields {
				normalized := strings.ToLower(norm.NFKC.String(f))
				for _, p := range injectionPatterns {
					if matched[p.id] || !p.re.MatchString(normalized) {
						continue
					}
					matched[p.id] = true
					hits = append(hits, hit{in, p.id, MethodPatternMatch, p.confidence, p.what, f})
				}
				if !matched["PI-005"] && strings.ContainsAny(f, string(invisibleRunes)) {
					matched["PI-005"] = true
					hits = append(hits, hit{in, "PI-005", MethodUnicode, 0.6, "hidden characters", fmt.Sprintf("%q", f)})
				}
			}
			for id := range matched {
				counts[id]++
			}
		}

		events := make([]Event, 0, len(hits))
		for _, h := range hits {
			events = append(events, draft{
				caseID:      CasePromptInjection,
				patternID:   h.pattern,
				method:      h.method,
				at:          h.ev.Timestamp,
				ctx:         EventContext{Source: h.ev.Source, RunID: h.ev.RunID},
				description: fmt.Sprintf("Possible %s in input %s", h.what, h.ev.EventID),
				samples:     []string{h.sample},
				refs:        []string{"input:" + h.ev.EventID, "inputs_hash:" + h.ev.InputsHash},
				confidence:  h.conf,
				persistence: counts[h.pattern],
				actions:     []RecommendedAction{investigate("Review the input source and the payload before trusting downstream results.")},
			}.event(impacts))
		}
		return events
	}
}

func thresholdGaming(impacts escalation.ImpactTable) Detector {
	return func(obs Observations) []Event {
		if len(obs.ThresholdHistory) < MinNearMisses {
			return nil
		}
		var near, run, longest int
		var samples []string
		var last time.Time
		for _, s := range obs.ThresholdHistory {
			band := math.Abs(s.Threshold) * ThresholdBand
			if math.Abs(s.Value-s.Threshold) <= band && s.Value != s.Threshold {
				near++
				run++
				longest = max(longest, run)
				samples = append(samples, fmt.Sprintf("%s value=%g threshold=%g", s.Timestamp.UTC().Format(time.RFC3339), s.Value, s.Threshold))
				last = s.Timestamp
				continue
			}
			run = 0
		}
		if near < MinNearMisses {
			return nil
		}
		return []Event{draft{
			caseID:      CaseThresholdGaming,
			patternID:   "TG-001",
			method:      MethodThresholdProximity,
			at:          last,
			ctx:         EventContext{Source: "threshold_history"},
			description: fmt.Sprintf("%d of %d scores sit within %.0f%% of their threshold", near, len(obs.ThresholdHistory), ThresholdBand*100),
			samples:     samples,
			refs:        []string{"threshold_history"},
			confidence:  float64(near) / float64(len(obs.ThresholdHistory)),
			persistence: longest,
			actions:     []RecommendedAction{investigate("Check whether inputs are being tuned against the threshold.")},
		}.event(impacts)}
	}
}

func overrideAbuse(impacts escalation.ImpactTable) Detector {
	return func(obs Observations) []Event {
		if len(obs.OverrideRecords) == 0 {
			return nil
		}
		var events []Event

		byApprover := map[string][]OverrideRecord{}
		for _, o := range obs.OverrideRecords {
			byApprover[o.ApprovedBy] = append(byApprover[o.ApprovedBy], o)
		}
		approvers := make([]string, 0, len(byApprover))
		for a := range byApprover {
			approvers = append(approvers, a)
		}
		sort.Strings(approvers)
		for _, a := range approvers {
			ovs := byApprover[a]
			if len(ovs) <= MaxOverridesPerApprover {
				continue
			}
			var samples, refs []string
			for _, o := range ovs {
				samples = append(samples, fmt.Sprintf("%s on %s: %s", o.OverrideID, o.DecisionID, o.Reason))
				refs = append(refs, "override:"+o.OverrideID)
			}
			events = append(events, draft{
				caseID:      CaseOverrideAbuse,
				patternID:   "OA-001",
				method:      MethodFrequencyAnalysis,
				at:          ovs[len(ovs)-1].Timestamp,
				ctx:         EventContext{Source: "override_records"},
				description: fmt.Sprintf("Approver %s issued %d overrides", a, len(ovs)),
				samples:     samples,
				refs:        refs,
				confidence:  float64(len(ovs)) / float64(len(obs.OverrideRecords)),
				persistence: len(ovs) - MaxOverridesPerApprover,
				actions:     []RecommendedAction{{Action: "review_overrides", Rationale: "Confirm each override had an independent justification."}},
			}.event(impacts))
		}

		if n := len(obs.DecisionRecords); n >= MinNearMisses {
			overridden := 0
			var last time.Time
			for _, d := range obs.DecisionRecords {
				if d.WasOverridden {
					overridden++
					last = d.Timestamp
				}
			}
			rate := float64(overridden) / float64(n)
			if rate > MaxOverrideRate {
				events = append(events, draft{
					caseID:      CaseOverrideAbuse,
					patternID:   "OA-002",
					method:      MethodFrequencyAnalysis,
					at:          last,
					ctx:         EventContext{Source: "decision_records"},
					description: fmt.Sprintf("%d of %d decisions were overridden", overridden, n),
					samples:     []string{fmt.Sprintf("override rate %.2f > %.2f", rate, MaxOverrideRate)},
					refs:        []string{"decision_records"},
					confidence:  rate,
					persistence: 1,
					actions:     []RecommendedAction{{Action: "review_overrides", Rationale: "A high override rate questions either the policy or its operators."}},
				}.event(impacts))
			}
		}

		decisions := map[string]DecisionRecord{}
		for _, d := range obs.DecisionRecords {
			decisions[d.DecisionID] = d
		}
		if len(decisions) > 0 {
			for _, o := range obs.OverrideRecords {
				d, ok := decisions[o.DecisionID]
				var what string
				switch {
				case !ok:
					what = "references unknown decision " + o.DecisionID
				case o.Timestamp.Before(d.Timestamp):
					what = "precedes decision " + o.DecisionID
				default:
					continue
				}
				events = append(events, draft{
					caseID:      CaseOverrideAbuse,
					patternID:   "OA-003",
					method:      MethodTimestampValidation,
					at:          o.Timestamp,
					ctx:         EventContext{Source: "override_records"},
					description: fmt.Sprintf("Override %s %s", o.OverrideID, what),
					samples:     []string{o.Reason},
					refs:        []string{"override:" + o.OverrideID},
					confidence:  0.8,
					persistence: 1,
					actions:     []RecommendedAction{investigate("An override without a matching prior decision cannot be audited.")},
				}.event(impacts))
			}
		}
		return events
	}
}

func logTampering(impacts escalation.ImpactTable) Detector {
	return func(obs Observations) []Event {
		chain := obs.LogChain
		if len(chain) == 0 {
			return nil
		}
		var events []Event
		seen := map[string]bool{}
		breaks := 0
		for i, e := range chain {
			var what, pattern string
			conf := 1.0
			switch {
			case seen[e.EntryID]:
				pattern, what = "LT-003", "duplicate entry id "+e.EntryID
			case i == 0 && e.PrevHash != nil && *e.PrevHash != "":
				// A window can start mid-chain; only flag later links.
			case i > 0 && (e.PrevHash == nil || *e.PrevHash != chain[i-1].ContentHash):
				pattern, what = "LT-001", fmt.Sprintf("entry %s prev_hash %s does not match %s", e.EntryID, deref(e.PrevHash), chain[i-1].ContentHash)
			case i > 0 && e.Timestamp.Before(chain[i-1].Timestamp):
				pattern, what, conf = "LT-002", fmt.Sprintf("entry %s is older than %s", e.EntryID, chain[i-1].EntryID), 0.7
			}
			seen[e.EntryID] = true
			if pattern == "" {
				continue
			}
			breaks++
			events = append(events, draft{
				caseID:      CaseLogTampering,
				patternID:   pattern,
				method:      MethodHashChain,
				at:          e.Timestamp,
				ctx:         EventContext{Source: "log_chain"},
				description: "Log chain integrity break: " + what,
				samples:     []string{what},
				refs:        []string{"log:" + e.EntryID},
				confidence:  conf,
				persistence: breaks,
				actions:     []RecommendedAction{{Action: "verify_log_integrity", Rationale: "Compare the chain with an independent copy before relying on it."}},
			}.event(impacts))
		}
		return events
	}
}

func replayAttack(impacts escalation.ImpactTable) Detector {
	return func(obs Observations) []Event {
		if len(obs.InputEvents) == 0 {
			return nil
		}
		known := map[string]bool{}
		var minValid time.Time
		if obs.EventRegistry != nil {
			for _, id := range obs.EventRegistry.KnownEventIDs {
				known[id] = true
			}
			minValid = obs.EventRegistry.MinValidTimestamp
		}

		var events []Event
		emit := func(in InputEvent, pattern string, method DetectionMethod, what string, conf float64, persistence int) {
			events = append(events, draft{
				caseID:      CaseReplayAttack,
				patternID:   pattern,
				method:      method,
				at:          in.Timestamp,
				ctx:         EventContext{Source: in.Source, RunID: in.RunID},
				description: fmt.Sprintf("Possible replay of %s: %s", in.EventID, what),
				samples:     []string{what},
				refs:        []string{"input:" + in.EventID},
				confidence:  conf,
				persistence: persistence,
				actions:     []RecommendedAction{investigate("Confirm with the source whether the event was re-submitted.")},
			}.event(impacts))
		}

		seenIDs := map[string]int{}
		lastByContent := map[string]InputEvent{}
		repeats := map[string]int{}
		for _, in := range obs.InputEvents {
			seenIDs[in.EventID]++
			switch {
			case known[in.EventID]:
				emit(in, "RA-001", MethodDuplicateDetection, "event id already processed", 1.0, seenIDs[in.EventID])
			case seenIDs[in.EventID] > 1:
				emit(in, "RA-001", MethodDuplicateDetection, "event id repeated in window", 1.0, seenIDs[in.EventID])
			}

			if !minValid.IsZero() && in.Timestamp.Before(minValid) {
				emit(in, "RA-003", MethodTimestampValidation,
					fmt.Sprintf("timestamp %s before %s", in.Timestamp.UTC().Format(time.RFC3339), minValid.UTC().Format(time.RFC3339)), 0.7, 1)
			}

			if in.InputsHash == "" {
				continue
			}
			key := in.Source + "|" + in.InputsHash
			if prev, ok := lastByContent[key]; ok && prev.EventID != in.EventID {
				if gap := in.Timestamp.Sub(prev.Timestamp); gap >= 0 && gap <= ReplayWindow {
					repeats[key]++
					emit(in, "RA-002", MethodDuplicateDetection, fmt.Sprintf("same inputs as %s %s earlier", prev.EventID, gap), 0.8, repeats[key])
				}
			}
			lastByContent[key] = in
		}
		return events
	}
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
