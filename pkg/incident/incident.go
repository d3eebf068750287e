// Package incident validates recorded incidents, their post-mortems and the
// rollback plans written in response.
//
// Incident severities are their own scale with response SLAs; they are not
// the STABLE/INFO/WARNING/CRITICAL classification used by drift and misuse
// reports. Nothing here rolls back, pages or closes an incident: the package
// reads records and reports findings to a human.
package incident

import (
	"slices"
	"strings"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Severities in decreasing order.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// SLAHours is the response deadline of each severity.
var SLAHours = map[Severity]int{
	SeverityCritical: 1,
	SeverityHigh:     4,
	SeverityMedium:   24,
	SeverityLow:      72,
}

var (
	Sources  = []string{"monitoring", "test", "user", "audit", "automated"}
	Statuses = []string{"detected", "triaged", "investigating", "resolving", "resolved", "postmortem"}
)

// MaxLoggingDelay is how long after detection an incident must be logged.
const MaxLoggingDelay = 15 * time.Minute

const (
	EventType         = "incident_event"
	RollbackEventType = "rollback_event"
	SchemaVersion     = "1.0.0"
)

type Metadata struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AffectedComponents []string `json:"affected_components"`
	AffectedUsers      string   `json:"affected_users,omitempty"`
	Reporter           string   `json:"reporter,omitempty"`
}

type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// SLA records the response deadline. SLAMet is nil while undecided.
type SLA struct {
	ResponseDeadline time.Time `json:"response_deadline"`
	SLAMet           *bool     `json:"sla_met"`
}

// Event is one recorded incident.
type Event struct {
	EventType        string          `json:"event_type"`
	SchemaVersion    string          `json:"schema_version"`
	EventID          string          `json:"event_id"`
	IncidentID       string          `json:"incident_id"`
	Timestamp        time.Time       `json:"timestamp"`
	DetectedAt       time.Time       `json:"detected_at"`
	Source           string          `json:"source"`
	Severity         Severity        `json:"severity"`
	Status           string          `json:"status"`
	Metadata         Metadata        `json:"metadata"`
	Timeline         []TimelineEntry `json:"timeline"`
	EvidenceRefs     []string        `json:"evidence_refs"`
	SLA              SLA             `json:"sla"`
	LogChainPrevHash *string         `json:"log_chain_prev_hash"`
}

var (
	RootCauseCategories = []string{
		"code_defect", "configuration_error", "infrastructure_failure", "dependency_issue",
		"human_error", "security_incident", "external_factor", "unknown",
	}
	ResolutionTypes  = []string{"fix", "rollback", "workaround", "manual_intervention"}
	ActionPriorities = []string{"high", "medium", "low"}
	ActionStatuses   = []string{"pending", "in_progress", "completed"}
)

type RootCause struct {
	Description         string   `json:"description"`
	Category            string   `json:"category"`
	ContributingFactors []string `json:"contributing_factors"`
}

type Impact struct {
	Description            string `json:"description"`
	AffectedUsersCount     *int   `json:"affected_users_count,omitempty"`
	DataLoss               bool   `json:"data_loss"`
	ServiceDowntimeMinutes *int   `json:"service_downtime_minutes,omitempty"`
}

type Resolution struct {
	Description    string    `json:"description"`
	ResolutionType string    `json:"resolution_type"`
	ResolvedAt     time.Time `json:"resolved_at"`
	ResolvedBy     string    `json:"resolved_by"`
}

type PreventiveAction struct {
	ActionID    string `json:"action_id"`
	Description string `json:"description"`
	Owner       string `json:"owner"`
	DueDate     string `json:"due_date"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// PostMortem is the written review of one incident.
type PostMortem struct {
	PostMortemID       string             `json:"postmortem_id"`
	IncidentID         string             `json:"incident_id"`
	CreatedAt          time.Time          `json:"created_at"`
	Author             string             `json:"author"`
	Summary            string             `json:"summary"`
	Timeline           []TimelineEntry    `json:"timeline"`
	RootCause          RootCause          `json:"root_cause"`
	Impact             Impact             `json:"impact"`
	Resolution         Resolution         `json:"resolution"`
	Actions            []PreventiveAction `json:"actions"`
	EvidenceRefs       []string           `json:"evidence_refs"`
	BlameFreeStatement string             `json:"blame_free_statement"`
	LessonsLearned     []string           `json:"lessons_learned"`
}

var (
	RollbackStatuses     = []string{"planned", "in_progress", "completed", "failed", "cancelled"}
	VerificationStatuses = []string{"pending", "passed", "failed"}
)

type Trigger struct {
	IncidentID       string   `json:"incident_id"`
	IncidentSeverity Severity `json:"incident_severity"`
	TriggerReason    string   `json:"trigger_reason"`
}

type State struct {
	Tag            string `json:"tag,omitempty"`
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	ManifestSHA256 string `json:"manifest_sha256"`
	LastKnownGood  string `json:"last_known_good,omitempty"`
}

type Verification struct {
	TargetWasStable        bool     `json:"target_was_stable"`
	StabilityEvidenceRef   string   `json:"stability_evidence_ref"`
	TestsToRunPostRollback []string `json:"tests_to_run_post_rollback"`
}

// HumanDecision is the sign-off a rollback cannot proceed without.
type HumanDecision struct {
	Approver     string    `json:"approver"`
	ApproverRole string    `json:"approver_role"`
	ApprovedAt   time.Time `json:"approved_at"`
	Rationale    string    `json:"rationale"`
}

type Execution struct {
	PlannedAt       time.Time  `json:"planned_at"`
	ExecutedAt      *time.Time `json:"executed_at"`
	Status          string     `json:"status"`
	ExecutionLogRef *string    `json:"execution_log_ref"`
}

type PostRollback struct {
	VerificationStatus string   `json:"verification_status"`
	VerificationRef    *string  `json:"verification_ref"`
	ServicesRestored   []string `json:"services_restored"`
}

// RollbackPlan records a rollback decided by a human. It is validated, never
// executed.
type RollbackPlan struct {
	EventType        string        `json:"event_type"`
	SchemaVersion    string        `json:"schema_version"`
	EventID          string        `json:"event_id"`
	Timestamp        time.Time     `json:"timestamp"`
	RollbackID       string        `json:"rollback_id"`
	Trigger          Trigger       `json:"trigger"`
	CurrentState     State         `json:"current_state"`
	TargetState      State         `json:"target_state"`
	Verification     Verification  `json:"verification"`
	HumanDecision    HumanDecision `json:"human_decision"`
	Execution        Execution     `json:"execution"`
	PostRollback     PostRollback  `json:"post_rollback"`
	EvidenceRefs     []string      `json:"evidence_refs"`
	LogChainPrevHash *string       `json:"log_chain_prev_hash"`
}

// ValidSeverity reports whether s is one of the four incident severities.
func ValidSeverity(s Severity) bool {
	return slices.Contains(Severities, s)
}

// RequiresPostMortem is true for MEDIUM and above.
func RequiresPostMortem(s Severity) bool {
	return s == SeverityCritical || s == SeverityHigh || s == SeverityMedium
}

// SLADeadline is detectedAt plus the response SLA of s. It returns the zero
// time for an unknown severity.
func SLADeadline(detectedAt time.Time, s Severity) time.Time {
	h, ok := SLAHours[s]
	if !ok {
		return time.Time{}
	}
	return detectedAt.UTC().Add(time.Duration(h) * time.Hour)
}

// SLABreached reports whether ev is past its deadline at now without a
// recorded response.
func SLABreached(ev Event, now time.Time) bool {
	if ev.SLA.SLAMet != nil {
		return !*ev.SLA.SLAMet
	}
	return !ev.SLA.ResponseDeadline.IsZero() && now.After(ev.SLA.ResponseDeadline)
}

// EventID renders INC_{first three letters of the severity}_{YYYYMMDD}_{NNN}.
func EventID(s Severity, at time.Time, seq int) string {
	code := string(s)
	if len(code) > 3 {
		code = code[:3]
	}
	return governance.EventID("INC", code, at, seq)
}

// BlameFreeStatement is the default statement attached to a post-mortem.
func BlameFreeStatement(incidentID string) string {
	return "This post-mortem for " + incidentID + " focuses on systemic improvements. " +
		"Everyone involved acted in good faith with the information available; " +
		"the goal is to prevent recurrence, not to assign responsibility."
}

// PendingPostMortems returns the incidents of MEDIUM and above that have no
// post-mortem among pms.
func PendingPostMortems(incidents []Event, pms []PostMortem) []Event {
	have := make(map[string]bool, len(pms))
	for _, pm := range pms {
		have[strings.TrimSpace(pm.IncidentID)] = true
	}
	var out []Event
	for _, ev := range incidents {
		if RequiresPostMortem(ev.Severity) && !have[ev.IncidentID] {
			out = append(out, ev)
		}
	}
	return out
}
