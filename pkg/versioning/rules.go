package versioning

import (
	"strings"

	"github.com/Mindburn-Labs/trustchain/pkg/governance"
)

// Context is unused by the current rules and kept for the shared contract.
type Context struct{}

// Rules are VER-001 through VER-005.
var Rules = []governance.Rule[Event, Context]{
	{ID: "VER-001", Name: "Schema stability", Check: schemaStability},
	{ID: "VER-002", Name: "API stability", Check: apiStability},
	{ID: "VER-003", Name: "Migration path required", Check: migrationPath},
	{ID: "VER-004", Name: "Deprecation cycle", Check: deprecationCycle},
	{ID: "VER-005", Name: "Changelog mandatory", Check: changelog},
}

// ValidateRules runs every VER rule against ev.
func ValidateRules(ev Event, ctx Context) []governance.Violation {
	return governance.Evaluate(Rules, ev, ctx)
}

func breakingWithoutMajor(ev Event, kind ChangeType) []string {
	if ev.Version.BumpType == BumpMajor {
		return nil
	}
	var comps []string
	for _, c := range ev.BreakingChanges {
		if c.ChangeType == kind {
			comps = append(comps, c.Component)
		}
	}
	return comps
}

func schemaStability(ev Event, _ Context) *governance.Violation {
	comps := breakingWithoutMajor(ev, ChangeSchema)
	if len(comps) == 0 {
		return nil
	}
	return &governance.Violation{EventID: ev.EventID, Evidence: comps,
		Description: "Breaking schema change in a " + string(ev.Version.BumpType) + " release requires a MAJOR bump"}
}

func apiStability(ev Event, _ Context) *governance.Violation {
	comps := breakingWithoutMajor(ev, ChangeAPI)
	if len(comps) == 0 {
		return nil
	}
	return &governance.Violation{EventID: ev.EventID, Evidence: comps,
		Description: "Breaking API change in a " + string(ev.Version.BumpType) + " release requires a MAJOR bump"}
}

func migrationPath(ev Event, _ Context) *governance.Violation {
	var missingDocs []string
	needsPath := !ev.Compatibility.DataCompatible
	for _, c := range ev.BreakingChanges {
		if !c.MigrationRequired {
			continue
		}
		needsPath = true
		if c.MigrationDocRef == nil || strings.TrimSpace(*c.MigrationDocRef) == "" {
			missingDocs = append(missingDocs, c.Component)
		}
	}
	switch {
	case needsPath && ev.MigrationPath == nil:
		return &governance.Violation{EventID: ev.EventID, Evidence: missingDocs,
			Description: "Data or migration-requiring change without a migration path"}
	case len(missingDocs) > 0:
		return &governance.Violation{EventID: ev.EventID, Evidence: missingDocs,
			Description: "Migration-requiring change without a migration document"}
	}
	return nil
}

func deprecationCycle(ev Event, _ Context) *governance.Violation {
	var bad []string
	for _, d := range ev.Deprecations {
		in, err := Parse(d.DeprecatedIn)
		if err != nil {
			bad = append(bad, d.Component+": deprecated_in is not a version")
			continue
		}
		out, err := Parse(d.RemovalPlanned)
		if err != nil {
			bad = append(bad, d.Component+": removal_planned is not a version")
			continue
		}
		if out.Major <= in.Major {
			bad = append(bad, d.Component+": removal must wait for a later MAJOR release than "+d.DeprecatedIn)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	return &governance.Violation{EventID: ev.EventID, Evidence: bad,
		Description: "Deprecation does not follow the deprecate-then-remove cycle"}
}

func changelog(ev Event, _ Context) *governance.Violation {
	if ev.ChangelogRef != nil && strings.TrimSpace(*ev.ChangelogRef) != "" {
		return nil
	}
	return &governance.Violation{EventID: ev.EventID, Description: "Release has no changelog reference"}
}
