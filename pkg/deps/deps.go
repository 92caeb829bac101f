package deps

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/piprecipes/pkg/archive"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/metadata"
	"github.com/matzehuels/piprecipes/pkg/version"
)

const (
	DefaultConcurrency = 8    // Default concurrent metadata fetches
	DefaultMaxPackages = 5000 // Default closure size cap
)

// ConflictPolicy decides which version wins when a package is requested
// with constraints no single release satisfies.
type ConflictPolicy string

const (
	// MostRestrictive picks the highest version satisfying every constraint,
	// else the highest satisfying the constraint that admits the fewest
	// published versions.
	MostRestrictive ConflictPolicy = "most-restrictive"
	// FirstSeen keeps the version chosen for the first constraint seen.
	FirstSeen ConflictPolicy = "first-seen"
)

// ParseConflictPolicy parses a policy name. The empty string yields the
// default policy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MostRestrictive, nil
	case MostRestrictive, FirstSeen:
		return p, nil
	default:
		return "", errors.New(errors.ErrCodeInvalidConfig, "unknown conflict policy %q (want %s or %s)", s, MostRestrictive, FirstSeen)
	}
}

// Options configures closure resolution.
type Options struct {
	Concurrency int             // Concurrent metadata fetches (default: 8)
	MaxPackages int             // Maximum packages in the closure (default: 5000)
	Policy      ConflictPolicy  // Version conflict policy (default: MostRestrictive)
	Licenses    *license.Mapper // License table (default: embedded table)
	Logger      *log.Logger     // Progress logger (default: discard)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxPackages <= 0 {
		opts.MaxPackages = DefaultMaxPackages
	}
	if opts.Policy == "" {
		opts.Policy = MostRestrictive
	}
	if opts.Licenses == nil {
		opts.Licenses = license.Default()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return opts
}

// Source resolves package metadata. [*metadata.Resolver] implements it.
type Source interface {
	Resolve(ctx context.Context, name string, constraint version.Specifier) (*metadata.PackageMetadata, error)
	Versions(ctx context.Context, name string) ([]version.Version, error)
}

// ResolvedPackage is one package of the closure: the unit of recipe emission.
type ResolvedPackage struct {
	*metadata.PackageMetadata
	License     license.Mapping     `json:"license"`
	Dependents  []string            `json:"dependents,omitempty"`  // Direct dependents, sorted
	Constraints []string            `json:"constraints,omitempty"` // Distinct constraints requested, in arrival order
	Root        bool                `json:"root,omitempty"`        // Named in the input
	Depth       int                 `json:"depth"`
	Source      *archive.Inspection `json:"source,omitempty"` // Set when the archive was inspected
}

// Failure records a package that could not be resolved.
type Failure struct {
	Name       string      `json:"name"`
	Constraint string      `json:"constraint,omitempty"`
	Code       errors.Code `json:"code"`
	Reason     string      `json:"reason"`
	Dependents []string    `json:"dependents,omitempty"`
	Err        error       `json:"-"`
}

// Conflict records a package requested with constraints that no single
// release satisfies.
type Conflict struct {
	Name        string         `json:"name"`
	Constraints []string       `json:"constraints"`
	Chosen      string         `json:"chosen"`
	Policy      ConflictPolicy `json:"policy"`
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: constraints %s cannot all be met, chose %s (%s)",
		c.Name, strings.Join(c.Constraints, " / "), c.Chosen, c.Policy)
}

// Closure is the result of [Resolver.ResolveClosure].
type Closure struct {
	Packages  []ResolvedPackage `json:"packages"`  // Sorted by name
	Failures  []Failure         `json:"failures"`  // Sorted by name
	Conflicts []Conflict        `json:"conflicts"` // Sorted by name
}

// Lookup returns the package with the given normalized name.
func (c *Closure) Lookup(name string) (*ResolvedPackage, bool) {
	for i := range c.Packages {
		if c.Packages[i].Name == name {
			return &c.Packages[i], true
		}
	}
	return nil, false
}

// Edges returns (dependent, dependency) pairs between packages of the
// closure, in package order.
func (c *Closure) Edges() [][2]string {
	in := make(map[string]bool, len(c.Packages))
	for _, p := range c.Packages {
		in[p.Name] = true
	}
	var edges [][2]string
	for _, p := range c.Packages {
		for _, dep := range p.DependencyNames() {
			if in[dep] {
				edges = append(edges, [2]string{p.Name, dep})
			}
		}
	}
	return edges
}
