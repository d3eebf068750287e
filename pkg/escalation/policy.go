// Package escalation holds the fixed scoring and escalation policy shared by
// the drift, misuse and governance layers, and a ledger of escalation events
// awaiting a human decision.
//
// The policy is advisory. Nothing in this package blocks, retries or
// remediates; the strongest outcome is a pending event addressed to a human.
package escalation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// Input bounds.
const (
	MinImpact      = 1
	MaxImpact      = 5
	MinConfidence  = 0.1
	MaxConfidence  = 1.0
	MinPersistence = 1
)

// Classification boundaries on the score.
const (
	WarningThreshold  = 2.0
	CriticalThreshold = 5.0
)

// ErrInvalidInput is returned by Score for out-of-range inputs.
var ErrInvalidInput = errors.New("escalation: invalid score input")

type level uint8

const (
	stable level = iota
	info
	warning
	critical
)

var levelNames = [...]string{stable: "STABLE", info: "INFO", warning: "WARNING", critical: "CRITICAL"}

// Level is the four-valued classification of a score. Its field is
// unexported, so the four package values are the only ones that exist; the
// zero Level is Stable.
type Level struct{ l level }

var (
	Stable   = Level{stable}
	Info     = Level{info}
	Warning  = Level{warning}
	Critical = Level{critical}
)

// Levels returns the classifications in ascending severity.
func Levels() []Level { return []Level{Stable, Info, Warning, Critical} }

func (l Level) String() string { return levelNames[l.l] }

// Rank orders levels by severity, Stable = 0.
func (l Level) Rank() int { return int(l.l) }

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool { return l.l >= other.l }

// ParseLevel accepts exactly the four level names.
func ParseLevel(s string) (Level, error) {
	for _, l := range Levels() {
		if l.String() == s {
			return l, nil
		}
	}
	return Level{}, fmt.Errorf("escalation: unknown level %q", s)
}

func (l Level) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Target is the human role an escalation is addressed to.
type Target string

const (
	TargetNone       Target = "NONE"
	TargetArchitecte Target = "ARCHITECTE"
)

// Recommendation is the advisory runbook action for a level.
type Recommendation string

const (
	RecommendNone         Recommendation = "NONE"
	RecommendLog          Recommendation = "LOG"
	RecommendSurveillance Recommendation = "SURVEILLANCE"
	RecommendEscalate     Recommendation = "ESCALATE"
)

// Assessment is one validated scoring input and its derived policy outcome.
type Assessment struct {
	Impact         int            `json:"impact"`
	Confidence     float64        `json:"confidence"`
	Persistence    int            `json:"persistence"`
	Score          float64        `json:"score"`
	Classification Level          `json:"classification"`
	Target         Target         `json:"escalation_target"`
	Recommendation Recommendation `json:"recommendation"`
}

// Assess validates the inputs and derives score, level, target and
// recommendation.
func Assess(impact int, confidence float64, persistence int) (Assessment, error) {
	score, err := Score(impact, confidence, persistence)
	if err != nil {
		return Assessment{}, err
	}
	lvl := Classify(score)
	return Assessment{
		Impact:         impact,
		Confidence:     confidence,
		Persistence:    persistence,
		Score:          score,
		Classification: lvl,
		Target:         TargetFor(lvl),
		Recommendation: RecommendationFor(lvl),
	}, nil
}

// Score returns impact × confidence × persistence. Confidence carries at most
// two decimals, so the product is exact at four decimals; the rounding only
// removes float noise such as 4 × 0.7 = 2.8000000000000003.
func Score(impact int, confidence float64, persistence int) (float64, error) {
	if impact < MinImpact || impact > MaxImpact {
		return 0, fmt.Errorf("%w: impact %d outside [%d, %d]", ErrInvalidInput, impact, MinImpact, MaxImpact)
	}
	if math.IsNaN(confidence) || confidence < MinConfidence || confidence > MaxConfidence {
		return 0, fmt.Errorf("%w: confidence %v outside [%v, %v]", ErrInvalidInput, confidence, MinConfidence, MaxConfidence)
	}
	if c := confidence * 100; math.Abs(c-math.Round(c)) > 1e-9 {
		return 0, fmt.Errorf("%w: confidence %v has more than two decimals", ErrInvalidInput, confidence)
	}
	if persistence < MinPersistence {
		return 0, fmt.Errorf("%w: persistence %d below %d", ErrInvalidInput, persistence, MinPersistence)
	}
	raw := float64(impact) * confidence * float64(persistence)
	return math.Round(raw*1e4) / 1e4, nil
}

// Classify maps a score to its level. A negative or NaN score cannot come
// out of Score and is an invariant violation.
func Classify(score float64) Level {
	switch {
	case math.IsNaN(score) || score < 0:
		fault.Violate("score_domain", "score %v is not a non-negative number", score)
		return Level{}
	case score == 0:
		return Stable
	case score < WarningThreshold:
		return Info
	case score < CriticalThreshold:
		return Warning
	default:
		return Critical
	}
}

// TargetFor returns the human escalation target of a level.
func TargetFor(l Level) Target {
	switch l {
	case Warning, Critical:
		return TargetArchitecte
	default:
		return TargetNone
	}
}

// RecommendationFor returns the runbook action of a level.
func RecommendationFor(l Level) Recommendation {
	switch l {
	case Info:
		return RecommendLog
	case Warning:
		return RecommendSurveillance
	case Critical:
		return RecommendEscalate
	default:
		return RecommendNone
	}
}

// RequiresHumanJustification reports whether a result with this score must
// carry a human-readable justification.
func RequiresHumanJustification(score float64) bool { return score >= WarningThreshold }

// Highest returns the most severe of levels, Stable for none.
func Highest(levels ...Level) Level {
	out := Stable
	for _, l := range levels {
		if l.l > out.l {
			out = l
		}
	}
	return out
}

// ImpactTable maps a finding key (drift type, misuse case, rule id) to its
// impact. It is configuration data; Validate rejects values outside 1..5.
type ImpactTable map[string]int

// Lookup returns the impact for key, or fallback when the key is absent.
func (t ImpactTable) Lookup(key string, fallback int) int {
	if v, ok := t[key]; ok {
		return v
	}
	return fallback
}

// Merge returns a copy of t with the entries of override applied.
func (t ImpactTable) Merge(override ImpactTable) ImpactTable {
	out := make(ImpactTable, len(t)+len(override))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func (t ImpactTable) Validate() error {
	for k, v := range t {
		if v < MinImpact || v > MaxImpact {
			return fmt.Errorf("%w: impact for %q is %d, want %d..%d", ErrInvalidInput, k, v, MinImpact, MaxImpact)
		}
	}
	return nil
}
