// Package version selects Python releases by PEP 440 rules. Parsing, ordering
// and clause matching come from github.com/aquasecurity/go-pep440-version;
// this package adds specifier sets that can be merged and a pre-release aware
// pick of the best release.
//
// Versions keep the text they were parsed from, so a release selected from the
// index is written to recipes exactly as the index spells it.
package version

import (
	"fmt"
	"slices"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is a parsed PEP 440 version.
type Version struct {
	v   pep440.Version
	raw string
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	return Version{v: v, raw: strings.TrimSpace(s)}, nil
}

// MustParse is like Parse but panics on invalid input.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as it was written.
func (v Version) String() string { return v.raw }

// Canonical returns the normalized form, e.g. "1.0-alpha.2" becomes "1.0a2".
func (v Version) Canonical() string { return v.v.String() }

// IsPrerelease reports whether v has a pre-release or dev segment.
func (v Version) IsPrerelease() bool { return v.v.IsPreRelease() }

// Compare returns -1, 0 or +1 as a sorts before, equal to or after b.
func Compare(a, b Version) int { return a.v.Compare(b.v) }

// Equal reports whether a and b denote the same release.
func Equal(a, b Version) bool { return a.v.Equal(b.v) }

// Sort orders vs ascending.
func Sort(vs []Version) {
	slices.SortStableFunc(vs, Compare)
}
