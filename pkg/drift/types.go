// Package drift scores deviation between observed runtime behaviour and a
// registered baseline. Detectors are pure functions over observation data;
// the report they feed is advisory and names a human for anything at
// WARNING or above.
package drift

import (
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
)

// Type identifies a drift detector.
type Type string

const (
	TypeSemantic    Type = "D-S"
	TypeOutput      Type = "D-O"
	TypeFormat      Type = "D-F"
	TypeTemporal    Type = "D-T"
	TypePerformance Type = "D-P"
	TypeVariance    Type = "D-V"
	TypeTooling     Type = "D-TL"
	TypeContract    Type = "D-C"
)

// Types lists every detector type in report order.
func Types() []Type {
	return []Type{TypeSemantic, TypeOutput, TypeFormat, TypeTemporal, TypePerformance, TypeVariance, TypeTooling, TypeContract}
}

// Baseline is the frozen reference the observations are compared with.
type Baseline struct {
	SHA256 string `json:"sha256"`
	Commit string `json:"commit"`
	Tag    string `json:"tag"`
	Scope  string `json:"scope"`
}

// Anomalies are the counters a runtime snapshot carries.
type Anomalies struct {
	ToolingDrift int `json:"tooling_drift"`
	ProductDrift int `json:"product_drift"`
	Incidents    int `json:"incidents"`
}

// Snapshot is a periodic summary of the runtime state.
type Snapshot struct {
	SnapshotID       string    `json:"snapshot_id"`
	Timestamp        time.Time `json:"timestamp_utc"`
	BaselineRef      string    `json:"baseline_ref"`
	LastEventID      string    `json:"last_event_id"`
	EventsCountTotal int       `json:"events_count_total"`
	Anomalies        Anomalies `json:"anomalies"`
	Status           string    `json:"status"`
}

// LogEntry is one line of the append-only runtime log.
type LogEntry struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp_utc"`
	Verdict    string    `json:"verdict"`
	OutputHash string    `json:"output_hash"`
}

// BuildRef pins the tooling an event ran with.
type BuildRef struct {
	Commit string `json:"commit"`
	Tag    string `json:"tag"`
}

// RuntimeEvent is one recorded operation.
type RuntimeEvent struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp_utc"`
	Phase      string    `json:"phase"`
	BuildRef   BuildRef  `json:"build_ref"`
	Operation  string    `json:"operation"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	Verdict    string    `json:"verdict"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// Observations are the read-only inputs of every detector.
type Observations struct {
	Snapshots     []Snapshot     `json:"snapshots"`
	LogEntries    []LogEntry     `json:"log_entries"`
	RuntimeEvents []RuntimeEvent `json:"runtime_events"`
}

// Result is one detected drift.
type Result struct {
	DriftID               string                   `json:"drift_id"`
	Type                  Type                     `json:"type"`
	Description           string                   `json:"description"`
	Impact                int                      `json:"impact"`
	Confidence            float64                  `json:"confidence"`
	Persistence           int                      `json:"persistence"`
	Score                 float64                  `json:"score"`
	Classification        escalation.Level         `json:"classification"`
	HumanJustification    string                   `json:"human_justification,omitempty"`
	Evidence              []string                 `json:"evidence"`
	BaselineValue         string                   `json:"baseline_value"`
	ObservedValue         string                   `json:"observed_value"`
	Deviation             string                   `json:"deviation"`
	RequiresHumanDecision escalation.HumanDecision `json:"requires_human_decision"`
	AutoActionTaken       escalation.NoAutoAction  `json:"auto_action_taken"`
}

// Detector inspects observations against a baseline. It returns nil when
// there is nothing to compare or nothing deviates.
type Detector func(Observations, Baseline) *Result

// Default impacts per detector. ImpactFailAfterPass is the semantic-drift
// impact when a FAIL-class verdict follows a PASS-class one.
const ImpactFailAfterPass = "D-S/FAIL_AFTER_PASS"

// DefaultImpacts is the impact table used when configuration supplies none.
var DefaultImpacts = escalation.ImpactTable{
	string(TypeSemantic):    3,
	ImpactFailAfterPass:     5,
	string(TypeOutput):      4,
	string(TypeFormat):      2,
	string(TypeTemporal):    2,
	string(TypePerformance): 2,
	string(TypeVariance):    2,
	string(TypeTooling):     3,
	string(TypeContract):    5,
}
