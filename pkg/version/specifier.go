package version

import (
	"fmt"
	"slices"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Operators in matching order; longer operators first.
var operators = []string{"===", "==", "!=", "~=", "<=", ">=", "<", ">"}

// Clause is a single comparison such as ">=2.0" or "==1.4.*".
type Clause struct {
	Op       string
	Version  string
	Wildcard bool

	v     Version
	check pep440.Specifiers
}

func (c Clause) String() string {
	if c.Wildcard {
		return c.Op + c.Version + ".*"
	}
	return c.Op + c.Version
}

// Specifier is a comma-separated set of clauses that must all hold.
// The zero value matches every version.
type Specifier struct {
	Clauses []Clause
}

// ParseSpecifier parses a specifier set. An empty or all-whitespace string
// yields the unconstrained specifier.
func ParseSpecifier(s string) (Specifier, error) {
	var spec Specifier
	s = strings.TrimSpace(s)
	if s == "" {
		return spec, nil
	}
	for _, part := range strings.Split(s, ",") {
		c, err := parseClause(strings.TrimSpace(part))
		if err != nil {
			return Specifier{}, err
		}
		spec.Clauses = append(spec.Clauses, c)
	}
	return spec, nil
}

// MustParseSpecifier is like ParseSpecifier but panics on invalid input.
func MustParseSpecifier(s string) Specifier {
	spec, err := ParseSpecifier(s)
	if err != nil {
		panic(err)
	}
	return spec
}

func parseClause(s string) (Clause, error) {
	if s == "" {
		return Clause{}, fmt.Errorf("empty version clause")
	}
	var c Clause
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			c.Op = op
			break
		}
	}
	if c.Op == "" {
		return Clause{}, fmt.Errorf("clause %q has no comparison operator", s)
	}
	c.Version = strings.TrimSpace(s[len(c.Op):])
	if c.Version == "" {
		return Clause{}, fmt.Errorf("clause %q has no version", s)
	}

	// Arbitrary equality compares text and accepts anything.
	if c.Op == "===" {
		c.v, _ = Parse(c.Version)
		return c, nil
	}

	if base, ok := strings.CutSuffix(c.Version, ".*"); ok {
		c.Version, c.Wildcard = base, true
	}
	v, err := Parse(c.Version)
	if err != nil {
		return Clause{}, fmt.Errorf("clause %q: %w", s, err)
	}
	c.v = v
	if c.check, err = pep440.NewSpecifiers(c.String()); err != nil {
		return Clause{}, fmt.Errorf("clause %q: %w", s, err)
	}
	return c, nil
}

func (c Clause) matches(v Version) bool {
	if c.Op == "===" {
		return strings.EqualFold(v.raw, c.Version)
	}
	return c.check.Check(v.v)
}

// String returns the canonical text of the specifier, clauses joined by commas.
func (s Specifier) String() string {
	parts := make([]string, len(s.Clauses))
	for i, c := range s.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// Pinned reports whether s names an exact version with == or ===.
func (s Specifier) Pinned() bool {
	for _, c := range s.Clauses {
		if (c.Op == "==" && !c.Wildcard) || c.Op == "===" {
			return true
		}
	}
	return false
}

// AllowsPrereleases reports whether any clause explicitly names a pre-release.
func (s Specifier) AllowsPrereleases() bool {
	for _, c := range s.Clauses {
		if c.v.raw != "" && c.v.IsPrerelease() {
			return true
		}
	}
	return false
}

// Contains reports whether v satisfies every clause of s.
func (s Specifier) Contains(v Version) bool {
	for _, c := range s.Clauses {
		if !c.matches(v) {
			return false
		}
	}
	return true
}

// And returns the conjunction of s and others. Duplicate clauses are dropped.
func (s Specifier) And(others ...Specifier) Specifier {
	out := Specifier{Clauses: slices.Clone(s.Clauses)}
	seen := make(map[string]bool, len(out.Clauses))
	for _, c := range out.Clauses {
		seen[c.String()] = true
	}
	for _, o := range others {
		for _, c := range o.Clauses {
			if key := c.String(); !seen[key] {
				seen[key] = true
				out.Clauses = append(out.Clauses, c)
			}
		}
	}
	return out
}

// Filter returns the versions in vs that satisfy s, in input order.
// Pre-releases are kept only when prereleases is set or s names one.
func (s Specifier) Filter(vs []Version, prereleases bool) []Version {
	prereleases = prereleases || s.AllowsPrereleases()
	var out []Version
	for _, v := range vs {
		if v.IsPrerelease() && !prereleases {
			continue
		}
		if s.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Best returns the highest version in vs that satisfies s.
func (s Specifier) Best(vs []Version, prereleases bool) (Version, bool) {
	matched := s.Filter(vs, prereleases)
	if len(matched) == 0 {
		return Version{}, false
	}
	return slices.MaxFunc(matched, Compare), true
}
