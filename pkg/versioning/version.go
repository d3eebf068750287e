// Package versioning checks version contract events: strict SemVer, a MAJOR
// bump for every breaking change, backward compatibility for MINOR and PATCH
// releases and no downgrade. Like the other governance validators it only
// reports.
package versioning

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is a parsed semantic version.
type Version struct {
	Major      uint64 `json:"major"`
	Minor      uint64 `json:"minor"`
	Patch      uint64 `json:"patch"`
	Prerelease string `json:"prerelease,omitempty"`
	Build      string `json:"build,omitempty"`

	sv *semver.Version
}

// String returns the canonical form of the version.
func (v Version) String() string {
	if v.sv != nil {
		return v.sv.String()
	}
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse parses a strict SemVer 2.0.0 string. A leading "v" or a missing
// component is rejected.
func Parse(s string) (Version, error) {
	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("versioning: invalid version %q: %w", s, err)
	}
	return Version{
		Major:      sv.Major(),
		Minor:      sv.Minor(),
		Patch:      sv.Patch(),
		Prerelease: sv.Prerelease(),
		Build:      sv.Metadata(),
		sv:         sv,
	}, nil
}

// IsValid reports whether s is strict SemVer.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Compare returns -1, 0 or 1. Build metadata is ignored and a prerelease
// sorts before its release.
func (v Version) Compare(other Version) int {
	if v.sv != nil && other.sv != nil {
		return v.sv.Compare(other.sv)
	}
	a, b := v.String(), other.String()
	return semver.MustParse(a).Compare(semver.MustParse(b))
}

// Bump is the size of a release step.
type Bump string

const (
	BumpMajor Bump = "major"
	BumpMinor Bump = "minor"
	BumpPatch Bump = "patch"
	BumpNone  Bump = "none"
)

// DetectBump derives the bump from previous to current. A downgrade or an
// identical version is BumpNone.
func DetectBump(previous, current Version) Bump {
	switch {
	case current.Compare(previous) <= 0:
		return BumpNone
	case current.Major != previous.Major:
		return BumpMajor
	case current.Minor != previous.Minor:
		return BumpMinor
	case current.Patch != previous.Patch:
		return BumpPatch
	}
	// Same core, prerelease moved forward.
	return BumpPatch
}

// IsDowngrade reports whether moving from previous to current goes backwards.
// Unparseable input is never a downgrade; format checks report it instead.
func IsDowngrade(previous, current string) bool {
	p, err := Parse(previous)
	if err != nil {
		return false
	}
	c, err := Parse(current)
	if err != nil {
		return false
	}
	return c.Compare(p) < 0
}
