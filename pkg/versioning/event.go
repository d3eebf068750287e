package versioning

import (
	"fmt"
	"strings"
	"time"
)

const (
	EventType     = "version_contract_event"
	SchemaVersion = "1.0.0"
)

// VersionStep is the release step an event records.
type VersionStep struct {
	Current  string `json:"current"`
	Previous string `json:"previous"`
	BumpType Bump   `json:"bump_type"`
}

// Compatibility is the author's claim about the release.
type Compatibility struct {
	Type               string `json:"type"`
	BackwardCompatible bool   `json:"backward_compatible"`
	DataCompatible     bool   `json:"data_compatible"`
	APICompatible      bool   `json:"api_compatible"`
	SchemaCompatible   bool   `json:"schema_compatible"`
}

// ChangeType classifies a breaking change.
type ChangeType string

const (
	ChangeAPI      ChangeType = "api"
	ChangeSchema   ChangeType = "schema"
	ChangeBehavior ChangeType = "behavior"
)

type BreakingChange struct {
	Component         string     `json:"component"`
	ChangeType        ChangeType `json:"change_type"`
	Description       string     `json:"description"`
	MigrationRequired bool       `json:"migration_required"`
	MigrationDocRef   *string    `json:"migration_doc_ref"`
}

type Deprecation struct {
	Component      string `json:"component"`
	DeprecatedIn   string `json:"deprecated_in"`
	RemovalPlanned string `json:"removal_planned"`
	Replacement    string `json:"replacement"`
	WarningCount   int    `json:"warning_count"`
}

type MigrationPath struct {
	FromVersion           string   `json:"from_version"`
	ToVersion             string   `json:"to_version"`
	ScriptRef             string   `json:"script_ref"`
	ManualSteps           []string `json:"manual_steps"`
	EstimatedEffort       string   `json:"estimated_effort"`
	DataMigrationRequired bool     `json:"data_migration_required"`
}

// Event is one version contract event.
type Event struct {
	EventType        string           `json:"event_type"`
	SchemaVersion    string           `json:"schema_version"`
	EventID          string           `json:"event_id"`
	Timestamp        time.Time        `json:"timestamp"`
	Version          VersionStep      `json:"version"`
	Compatibility    Compatibility    `json:"compatibility"`
	BreakingChanges  []BreakingChange `json:"breaking_changes"`
	Deprecations     []Deprecation    `json:"deprecations"`
	MigrationPath    *MigrationPath   `json:"migration_path"`
	ChangelogRef     *string          `json:"changelog_ref"`
	LogChainPrevHash *string          `json:"log_chain_prev_hash"`
}

// Check names of ValidateEvent. Every error string starts with one.
const (
	CheckEnvelope       = "envelope"
	CheckSemver         = "semver_format"
	CheckBumpConsistent = "bump_consistent"
	CheckMajorBreaking  = "major_for_breaking"
	CheckBackward       = "backward_compatible"
	CheckNoDowngrade    = "no_downgrade"
)

// EventResult is the structural verdict on one event.
type EventResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateEvent checks the version invariants of ev.
func ValidateEvent(ev Event) EventResult {
	var errs []string
	fail := func(check, format string, args ...any) {
		errs = append(errs, check+": "+fmt.Sprintf(format, args...))
	}

	if ev.EventType != EventType {
		fail(CheckEnvelope, "event_type %q, want %q", ev.EventType, EventType)
	}
	if strings.TrimSpace(ev.EventID) == "" {
		fail(CheckEnvelope, "event_id is empty")
	}

	cur, curErr := Parse(ev.Version.Current)
	prev, prevErr := Parse(ev.Version.Previous)
	if curErr != nil {
		fail(CheckSemver, "current %q is not strict SemVer", ev.Version.Current)
	}
	if prevErr != nil {
		fail(CheckSemver, "previous %q is not strict SemVer", ev.Version.Previous)
	}

	bump := ev.Version.BumpType
	if curErr == nil && prevErr == nil {
		if cur.Compare(prev) < 0 {
			fail(CheckNoDowngrade, "%s is lower than %s", ev.Version.Current, ev.Version.Previous)
		} else if actual := DetectBump(prev, cur); actual != bump {
			fail(CheckBumpConsistent, "declared %s bump but %s -> %s is %s", bump, ev.Version.Previous, ev.Version.Current, actual)
		}
	}

	if len(ev.BreakingChanges) > 0 && bump != BumpMajor {
		fail(CheckMajorBreaking, "%d breaking change(s) in a %s release", len(ev.BreakingChanges), bump)
	}
	if (bump == BumpMinor || bump == BumpPatch) && !ev.Compatibility.BackwardCompatible {
		fail(CheckBackward, "%s release is not backward compatible", bump)
	}

	if errs == nil {
		errs = []string{}
	}
	return EventResult{Valid: len(errs) == 0, Errors: errs}
}
