package incident

import (
	"fmt"
	"slices"
	"strings"
)

// MinRationaleLength is the shortest accepted rollback rationale.
const MinRationaleLength = 20

// placeholder marks a template field nobody filled in.
const placeholder = "[REQUIRED"

func missing(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.HasPrefix(s, placeholder)
}

// ValidateIncident checks the structure of ev and returns one message per
// problem. Rule-level checks live in ValidateRules.
func ValidateIncident(ev Event) []string {
	errs := []string{}
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if ev.EventType != EventType {
		add("event_type must be %q, got %q", EventType, ev.EventType)
	}
	if ev.SchemaVersion != SchemaVersion {
		add("schema_version must be %q, got %q", SchemaVersion, ev.SchemaVersion)
	}
	if missing(ev.EventID) {
		add("event_id is missing")
	}
	if missing(ev.IncidentID) {
		add("incident_id is missing")
	}
	if !ValidSeverity(ev.Severity) {
		add("invalid severity %q", ev.Severity)
	}
	if !slices.Contains(Sources, ev.Source) {
		add("invalid source %q", ev.Source)
	}
	if !slices.Contains(Statuses, ev.Status) {
		add("invalid status %q", ev.Status)
	}
	if missing(ev.Metadata.Title) {
		add("metadata.title is missing")
	}
	if len(ev.Metadata.AffectedComponents) == 0 {
		add("metadata.affected_components is empty")
	}

	switch {
	case ev.DetectedAt.IsZero():
		add("detected_at is missing")
	case ev.Timestamp.IsZero():
		add("timestamp is missing")
	case ev.Timestamp.Before(ev.DetectedAt):
		add("timestamp %s precedes detected_at %s", ev.Timestamp.UTC().Format(timeLayout), ev.DetectedAt.UTC().Format(timeLayout))
	}

	switch want := SLADeadline(ev.DetectedAt, ev.Severity); {
	case ev.SLA.ResponseDeadline.IsZero():
		add("sla.response_deadline is missing")
	case !want.IsZero() && !ev.DetectedAt.IsZero() && !ev.SLA.ResponseDeadline.Equal(want):
		add("sla.response_deadline %s does not match the %dh SLA of %s (want %s)",
			ev.SLA.ResponseDeadline.UTC().Format(timeLayout), SLAHours[ev.Severity], ev.Severity, want.Format(timeLayout))
	}
	return errs
}

const timeLayout = "2006-01-02T15:04:05Z"

// ValidatePostMortem checks that every required section of pm is filled in.
// Template placeholders count as missing.
func ValidatePostMortem(pm PostMortem) []string {
	errs := []string{}
	for _, f := range MissingFields(pm) {
		errs = append(errs, f+" is missing")
	}
	if c := pm.RootCause.Category; c != "" && !slices.Contains(RootCauseCategories, c) {
		errs = append(errs, fmt.Sprintf("invalid root_cause.category %q", c))
	}
	if rt := pm.Resolution.ResolutionType; rt != "" && !slices.Contains(ResolutionTypes, rt) {
		errs = append(errs, fmt.Sprintf("invalid resolution.resolution_type %q", rt))
	}
	for i, a := range pm.Actions {
		if !slices.Contains(ActionPriorities, a.Priority) {
			errs = append(errs, fmt.Sprintf("actions[%d]: invalid priority %q", i, a.Priority))
		}
		if !slices.Contains(ActionStatuses, a.Status) {
			errs = append(errs, fmt.Sprintf("actions[%d]: invalid status %q", i, a.Status))
		}
	}
	return errs
}

// MissingFields lists the required post-mortem fields that are empty or
// still hold a template placeholder. An empty result means pm is complete.
func MissingFields(pm PostMortem) []string {
	var out []string
	check := func(name, v string) {
		if missing(v) {
			out = append(out, name)
		}
	}
	check("incident_id", pm.IncidentID)
	check("author", pm.Author)
	check("summary", pm.Summary)
	if len(pm.Timeline) == 0 {
		out = append(out, "timeline")
	}
	check("root_cause.description", pm.RootCause.Description)
	check("root_cause.category", pm.RootCause.Category)
	check("impact.description", pm.Impact.Description)
	check("resolution.description", pm.Resolution.Description)
	check("resolution.resolution_type", pm.Resolution.ResolutionType)
	check("resolution.resolved_by", pm.Resolution.ResolvedBy)
	if pm.Resolution.ResolvedAt.IsZero() {
		out = append(out, "resolution.resolved_at")
	}
	if len(pm.Actions) == 0 {
		out = append(out, "actions")
	}
	for i, a := range pm.Actions {
		check(fmt.Sprintf("actions[%d].description", i), a.Description)
		check(fmt.Sprintf("actions[%d].owner", i), a.Owner)
	}
	check("blame_free_statement", pm.BlameFreeStatement)
	return out
}

// RollbackResult groups the rollback checks by concern.
type RollbackResult struct {
	Valid              bool     `json:"valid"`
	HumanDecisionValid bool     `json:"human_decision_valid"`
	TargetStableValid  bool     `json:"target_stable_valid"`
	ExecutionValid     bool     `json:"execution_valid"`
	Errors             []string `json:"errors"`
}

// ValidateRollback checks that rp carries a complete human decision, targets
// a state verified as stable and has a consistent execution record.
func ValidateRollback(rp RollbackPlan) RollbackResult {
	human := checkHumanDecision(rp.HumanDecision)
	target := checkTarget(rp)
	exec := checkExecution(rp)

	res := RollbackResult{
		HumanDecisionValid: len(human) == 0,
		TargetStableValid:  len(target) == 0,
		ExecutionValid:     len(exec) == 0,
		Errors:             []string{},
	}
	if rp.EventType != RollbackEventType {
		res.Errors = append(res.Errors, fmt.Sprintf("event_type must be %q, got %q", RollbackEventType, rp.EventType))
	}
	if missing(rp.Trigger.IncidentID) {
		res.Errors = append(res.Errors, "trigger.incident_id is missing")
	}
	res.Errors = append(res.Errors, human...)
	res.Errors = append(res.Errors, target...)
	res.Errors = append(res.Errors, exec...)
	res.Valid = len(res.Errors) == 0
	return res
}

func checkHumanDecision(d HumanDecision) []string {
	var errs []string
	const prefix = "rollback requires a human decision: "
	if missing(d.Approver) {
		errs = append(errs, prefix+"approver is missing")
	}
	if missing(d.ApproverRole) {
		errs = append(errs, prefix+"approver_role is missing")
	}
	if d.ApprovedAt.IsZero() {
		errs = append(errs, prefix+"approved_at is missing")
	}
	switch r := strings.TrimSpace(d.Rationale); {
	case r == "":
		errs = append(errs, prefix+"rationale is missing")
	case len([]rune(r)) < MinRationaleLength:
		errs = append(errs, fmt.Sprintf("%srationale is too short (min %d chars)", prefix, MinRationaleLength))
	}
	return errs
}

func checkTarget(rp RollbackPlan) []string {
	var errs []string
	const prefix = "rollback target must be verified stable: "
	v := rp.Verification
	if !v.TargetWasStable {
		errs = append(errs, prefix+"target_was_stable is false")
	}
	if missing(v.StabilityEvidenceRef) {
		errs = append(errs, prefix+"stability_evidence_ref is missing")
	}
	if missing(rp.TargetState.Tag) {
		errs = append(errs, prefix+"target_state.tag is missing")
	}
	if missing(rp.TargetState.LastKnownGood) {
		errs = append(errs, prefix+"target_state.last_known_good is missing")
	}
	if len(v.TestsToRunPostRollback) == 0 {
		errs = append(errs, prefix+"post-rollback tests must be defined")
	}
	if rp.CurrentState.Version != "" && rp.CurrentState.Version == rp.TargetState.Version {
		errs = append(errs, fmt.Sprintf("rollback target version %s equals the current version", rp.TargetState.Version))
	}
	return errs
}

func checkExecution(rp RollbackPlan) []string {
	var errs []string
	e := rp.Execution
	if !slices.Contains(RollbackStatuses, e.Status) {
		errs = append(errs, fmt.Sprintf("execution: invalid status %q", e.Status))
	}
	if e.PlannedAt.IsZero() {
		errs = append(errs, "execution: planned_at is missing")
	}
	if (e.Status == "completed" || e.Status == "failed") && e.ExecutedAt == nil {
		errs = append(errs, fmt.Sprintf("execution: status %s requires executed_at", e.Status))
	}
	vs := rp.PostRollback.VerificationStatus
	if !slices.Contains(VerificationStatuses, vs) {
		errs = append(errs, fmt.Sprintf("post_rollback: invalid verification_status %q", vs))
	}
	if e.Status == "completed" && vs == "pending" {
		errs = append(errs, "execution: completed rollback still has pending verification")
	}
	return errs
}
