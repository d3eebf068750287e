// Package misuse detects procedural abuse (prompt injection, threshold
// gaming, override abuse, log tampering, replay) in recorded activity.
// Detectors only read; every event they emit names a human and reports
// that no automatic action was taken.
package misuse

import (
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/escalation"
)

// CaseID identifies an abuse case.
type CaseID string

const (
	CasePromptInjection CaseID = "CASE-001"
	CaseThresholdGaming CaseID = "CASE-002"
	CaseOverrideAbuse   CaseID = "CASE-003"
	CaseLogTampering    CaseID = "CASE-004"
	CaseReplayAttack    CaseID = "CASE-005"
)

// Cases lists the abuse cases in report order.
func Cases() []CaseID {
	return []CaseID{CasePromptInjection, CaseThresholdGaming, CaseOverrideAbuse, CaseLogTampering, CaseReplayAttack}
}

// Severity is the fixed seriousness of a case.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{SeverityLow: 1, SeverityMedium: 2, SeverityHigh: 3, SeverityCritical: 4}

// Rank orders severities, 0 for unknown.
func (s Severity) Rank() int { return severityRank[s] }

// CaseSeverity is the fixed severity of every case.
var CaseSeverity = map[CaseID]Severity{
	CasePromptInjection: SeverityHigh,
	CaseThresholdGaming: SeverityMedium,
	CaseOverrideAbuse:   SeverityMedium,
	CaseLogTampering:    SeverityCritical,
	CaseReplayAttack:    SeverityHigh,
}

// DefaultSeverityImpacts maps a severity to its scoring impact. It is
// configuration data; see config.Misuse.
var DefaultSeverityImpacts = escalation.ImpactTable{
	string(SeverityLow):      2,
	string(SeverityMedium):   3,
	string(SeverityHigh):     4,
	string(SeverityCritical): 5,
}

// DetectionMethod names how a pattern was found.
type DetectionMethod string

const (
	MethodPatternMatch        DetectionMethod = "regex_pattern_match"
	MethodUnicode             DetectionMethod = "unicode_normalization"
	MethodThresholdProximity  DetectionMethod = "threshold_proximity"
	MethodFrequencyAnalysis   DetectionMethod = "frequency_analysis"
	MethodHashChain           DetectionMethod = "hash_chain_verification"
	MethodDuplicateDetection  DetectionMethod = "duplicate_detection"
	MethodTimestampValidation DetectionMethod = "timestamp_validation"
)

// InputEvent is one recorded input to the governed system.
type InputEvent struct {
	EventID    string         `json:"event_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	RunID      string         `json:"run_id"`
	InputsHash string         `json:"inputs_hash"`
	Payload    map[string]any `json:"payload"`
}

// OverrideRecord is a human override of a decision.
type OverrideRecord struct {
	OverrideID string    `json:"override_id"`
	Timestamp  time.Time `json:"timestamp"`
	DecisionID string    `json:"decision_id"`
	ApprovedBy string    `json:"approved_by"`
	Reason     string    `json:"reason"`
}

// DecisionRecord is an automated decision.
type DecisionRecord struct {
	DecisionID    string    `json:"decision_id"`
	Timestamp     time.Time `json:"timestamp"`
	Verdict       string    `json:"verdict"`
	WasOverridden bool      `json:"was_overridden"`
}

// LogChainEntry is one link of a hash-chained log. PrevHash is nil for the
// genesis entry.
type LogChainEntry struct {
	EntryID     string    `json:"entry_id"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
	PrevHash    *string   `json:"prev_hash"`
}

// EventRegistry lists event ids already processed.
type EventRegistry struct {
	KnownEventIDs     []string  `json:"known_event_ids"`
	MinValidTimestamp time.Time `json:"min_valid_timestamp"`
}

// ThresholdSample is one scored value next to the threshold it was held to.
type ThresholdSample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
}

// Observations are the read-only inputs of every detector.
type Observations struct {
	InputEvents      []InputEvent      `json:"input_events"`
	OverrideRecords  []OverrideRecord  `json:"override_records"`
	DecisionRecords  []DecisionRecord  `json:"decision_records"`
	LogChain         []LogChainEntry   `json:"log_chain"`
	EventRegistry    *EventRegistry    `json:"event_registry,omitempty"`
	ThresholdHistory []ThresholdSample `json:"threshold_history"`
}

// EventContext locates the activity an event was found in.
type EventContext struct {
	Source string `json:"source"`
	RunID  string `json:"run_id,omitempty"`
}

// Evidence supports an event.
type Evidence struct {
	Description  string   `json:"description"`
	Samples      []string `json:"samples"`
	EvidenceRefs []string `json:"evidence_refs"`
}

// RecommendedAction is advisory. None of them is ever executed here.
type RecommendedAction struct {
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
}

const (
	EventType     = "misuse_event"
	SchemaVersion = "1.0.0"
)

// Event is one detected misuse.
type Event struct {
	EventType             string                   `json:"event_type"`
	SchemaVersion         string                   `json:"schema_version"`
	EventID               string                   `json:"event_id"`
	Timestamp             time.Time                `json:"timestamp"`
	CaseID                CaseID                   `json:"case_id"`
	PatternID             string                   `json:"pattern_id"`
	Severity              Severity                 `json:"severity"`
	DetectionMethod       DetectionMethod          `json:"detection_method"`
	Context               EventContext             `json:"context"`
	Evidence              Evidence                 `json:"evidence"`
	Impact                int                      `json:"impact"`
	Confidence            float64                  `json:"confidence"`
	Persistence           int                      `json:"persistence"`
	Score                 float64                  `json:"score"`
	Classification        escalation.Level         `json:"classification"`
	HumanJustification    string                   `json:"human_justification,omitempty"`
	AutoActionTaken       escalation.NoAutoAction  `json:"auto_action_taken"`
	RequiresHumanDecision escalation.HumanDecision `json:"requires_human_decision"`
	RecommendedActions    []RecommendedAction      `json:"recommended_actions"`
	LogChainPrevHash      *string                  `json:"log_chain_prev_hash"`
}

// Detector inspects observations and returns zero or more events.
type Detector func(Observations) []Event
