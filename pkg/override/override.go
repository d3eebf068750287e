// Package override validates human overrides of governance verdicts.
//
// An override is a signed, time-boxed exception written by one named human.
// The package checks the five mandatory conditions and the OVR rules and
// reports; it never grants, applies or revokes anything.
package override

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Mindburn-Labs/trustchain/pkg/canonicalize"
	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

// Type is the kind of override, which bounds its duration.
type Type string

const (
	TypeHotfix     Type = "hotfix"
	TypeException  Type = "exception"
	TypeDerogation Type = "derogation"
)

// MaxDays is the longest validity of each type.
var MaxDays = map[Type]int{
	TypeHotfix:     7,
	TypeException:  30,
	TypeDerogation: 90,
}

// AbsoluteMaxDays caps every override regardless of type.
const AbsoluteMaxDays = 90

// ApprovalMethods lists the accepted ways a human signs an override.
var ApprovalMethods = []string{"signature", "written_approval", "recorded_meeting"}

const (
	EventType     = "override_event"
	SchemaVersion = "1.0.0"
)

type Scope struct {
	TargetRule      string `json:"target_rule"`
	TargetComponent string `json:"target_component"`
	TargetVerdict   string `json:"target_verdict"`
}

type Justification struct {
	Reason                  string   `json:"reason"`
	ImpactAssessment        string   `json:"impact_assessment"`
	AlternativesConsidered  []string `json:"alternatives_considered"`
	WhyAlternativesRejected string   `json:"why_alternatives_rejected"`
}

type Approval struct {
	Approver       string    `json:"approver"`
	ApproverRole   string    `json:"approver_role"`
	ApprovedAt     time.Time `json:"approved_at"`
	ApprovalMethod string    `json:"approval_method"`
}

// Validity is the time box. A zero ExpiresAt means no expiry was written.
type Validity struct {
	EffectiveFrom time.Time `json:"effective_from"`
	ExpiresAt     time.Time `json:"expires_at"`
	Renewable     bool      `json:"renewable"`
	MaxRenewals   int       `json:"max_renewals"`
}

// ManifestRef pins the override to a sealed release.
type ManifestRef struct {
	Tag            string `json:"tag"`
	ManifestSHA256 string `json:"manifest_sha256"`
}

// Event is one recorded override.
type Event struct {
	EventType        string        `json:"event_type"`
	SchemaVersion    string        `json:"schema_version"`
	EventID          string        `json:"event_id"`
	Timestamp        time.Time     `json:"timestamp"`
	OverrideID       string        `json:"override_id"`
	Type             Type          `json:"type"`
	Scope            Scope         `json:"scope"`
	Justification    Justification `json:"justification"`
	Approval         Approval      `json:"approval"`
	Validity         Validity      `json:"validity"`
	ManifestRef      ManifestRef   `json:"manifest_ref"`
	LogChainPrevHash *string       `json:"log_chain_prev_hash"`
	OverrideHash     string        `json:"override_hash"`
}

// ComputeOverrideHash hashes the canonical JSON of every field except
// override_hash.
func ComputeOverrideHash(ev Event) (string, error) {
	ev.OverrideHash = ""
	content := map[string]any{
		"event_type":          ev.EventType,
		"schema_version":      ev.SchemaVersion,
		"event_id":            ev.EventID,
		"timestamp":           ev.Timestamp,
		"override_id":         ev.OverrideID,
		"type":                ev.Type,
		"scope":               ev.Scope,
		"justification":       ev.Justification,
		"approval":            ev.Approval,
		"validity":            ev.Validity,
		"manifest_ref":        ev.ManifestRef,
		"log_chain_prev_hash": ev.LogChainPrevHash,
	}
	h, err := canonicalize.CanonicalHash(content)
	if err != nil {
		return "", fmt.Errorf("override: hash %s: %w", ev.EventID, err)
	}
	return h, nil
}

// Seal returns ev with its override_hash computed.
func Seal(ev Event) (Event, error) {
	h, err := ComputeOverrideHash(ev)
	if err != nil {
		return Event{}, err
	}
	ev.OverrideHash = h
	return ev, nil
}

// VerifyOverrideHash reports whether override_hash matches the content.
func VerifyOverrideHash(ev Event) bool {
	h, err := ComputeOverrideHash(ev)
	return err == nil && h == ev.OverrideHash
}

// EventID renders OVR_{first three letters of the type}_{YYYYMMDD}_{NNN}.
func EventID(t Type, at time.Time, seq int) string {
	code := strings.ToUpper(string(t))
	if len(code) > 3 {
		code = code[:3]
	}
	return governance.EventID("OVR", code, at, seq)
}

// OverrideID renders OVERRIDE_{TYPE}_{YYYYMMDDTHHMMSSZ}_{hash8}.
func OverrideID(t Type, at time.Time, content string) string {
	return fmt.Sprintf("OVERRIDE_%s_%s_%s", strings.ToUpper(string(t)), governance.CompactTimestamp(at), governance.ShortHash(content))
}

// DurationDays is the validity length in days, rounded up.
func (v Validity) DurationDays() int {
	return int(math.Ceil(v.ExpiresAt.Sub(v.EffectiveFrom).Hours() / 24))
}

// Status of an override at a point in time.
type Status string

const (
	StatusInvalid Status = "invalid"
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// StatusAt reports whether ev is invalid, not yet effective, active or
// expired at now.
func StatusAt(ev Event, now time.Time) Status {
	if !ValidateConditions(ev).Valid {
		return StatusInvalid
	}
	switch {
	case now.After(ev.Validity.ExpiresAt):
		return StatusExpired
	case now.Before(ev.Validity.EffectiveFrom):
		return StatusPending
	default:
		return StatusActive
	}
}

// ExpiringSoon reports whether ev expires within the next 24 hours.
func ExpiringSoon(ev Event, now time.Time) bool {
	left := ev.Validity.ExpiresAt.Sub(now)
	return left > 0 && left <= 24*time.Hour
}
