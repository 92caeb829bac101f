// Package metadata turns package index records into the facts a recipe needs.
//
// [Resolver.Resolve] picks the release that satisfies a version constraint and
// extracts its source archive, checksums, declared license and runtime
// dependencies. Results are memoized for the lifetime of the Resolver, which
// is one run.
package metadata

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/integrations"
	"github.com/matzehuels/piprecipes/pkg/requirements"
	"github.com/matzehuels/piprecipes/pkg/version"
)

// Index fetches raw records from a package index. An empty version requests
// the project record listing every release.
type Index interface {
	Fetch(ctx context.Context, name, version string) (*integrations.Record, error)
}

// Checksum is a digest of the source archive.
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Hex       string `json:"hex"`
}

// PackageMetadata describes one release of one package.
type PackageMetadata struct {
	Name            string                     `json:"name"`         // Normalized name
	ProjectName     string                     `json:"project_name"` // Name as spelled by the index
	Version         string                     `json:"version"`
	SourceURL       string                     `json:"source_url"`
	Filename        string                     `json:"filename"`
	Checksum        Checksum                   `json:"checksum"`
	MD5             string                     `json:"md5,omitempty"`
	DeclaredLicense string                     `json:"declared_license,omitempty"`
	Summary         string                     `json:"summary,omitempty"`
	HomePage        string                     `json:"home_page,omitempty"`
	Dependencies    []requirements.Requirement `json:"-"`
	Yanked          bool                       `json:"yanked,omitempty"`
}

// DependencyNames returns the normalized names of the runtime dependencies.
func (m *PackageMetadata) DependencyNames() []string {
	names := make([]string, len(m.Dependencies))
	for i, d := range m.Dependencies {
		names[i] = d.Key()
	}
	return names
}

// Resolver resolves (name, constraint) pairs against an Index.
//
// A Resolver is safe for concurrent use. Concurrent calls for the same
// lookup share one index request.
type Resolver struct {
	index  Index
	logger *log.Logger
	group  singleflight.Group

	mu       sync.Mutex
	projects map[string]*integrations.Record
	selected map[string]result
	releases map[string]result
}

type result struct {
	meta *PackageMetadata
	err  error
}

// NewResolver creates a Resolver. A nil logger discards output.
func NewResolver(index Index, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{
		index:    index,
		logger:   logger,
		projects: make(map[string]*integrations.Record),
		selected: make(map[string]result),
		releases: make(map[string]result),
	}
}

// Resolve returns the metadata of the highest release of name satisfying
// constraint. Pre-releases are only considered when the constraint names one,
// and yanked releases only when the constraint pins an exact version.
//
// Errors are coded: PACKAGE_NOT_FOUND when nothing satisfies the constraint,
// METADATA_INCOMPLETE when the release lacks an sdist or its sha256 digest,
// and TRANSIENT_FETCH when the index could not be reached. Context errors are
// returned unwrapped.
func (r *Resolver) Resolve(ctx context.Context, name string, constraint version.Specifier) (*PackageMetadata, error) {
	key := integrations.NormalizePkgName(name) + "\x00" + constraint.String()

	r.mu.Lock()
	if res, ok := r.selected[key]; ok {
		r.mu.Unlock()
		return res.meta, res.err
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("resolve:"+key, func() (any, error) {
		meta, err := r.resolve(ctx, name, constraint)
		if !isContextErr(err) {
			r.mu.Lock()
			r.selected[key] = result{meta, err}
			r.mu.Unlock()
		}
		return meta, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*PackageMetadata), nil
}

func (r *Resolver) resolve(ctx context.Context, name string, constraint version.Specifier) (*PackageMetadata, error) {
	project, err := r.project(ctx, name)
	if err != nil {
		return nil, err
	}

	chosen, err := selectVersion(project, constraint)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("selected release", "package", project.Name, "constraint", constraint.String(), "version", chosen)

	return r.release(ctx, project, chosen)
}

// Versions returns the selectable versions of name in ascending order:
// stable and not yanked.
func (r *Resolver) Versions(ctx context.Context, name string) ([]version.Version, error) {
	project, err := r.project(ctx, name)
	if err != nil {
		return nil, err
	}
	var out []version.Version
	for _, c := range candidates(project) {
		if !c.yanked && !c.v.IsPrerelease() {
			out = append(out, c.v)
		}
	}
	version.Sort(out)
	return out, nil
}

func (r *Resolver) project(ctx context.Context, name string) (*integrations.Record, error) {
	key := integrations.NormalizePkgName(name)

	r.mu.Lock()
	if rec, ok := r.projects[key]; ok {
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("project:"+key, func() (any, error) {
		rec, err := r.index.Fetch(ctx, key, "")
		if err != nil {
			return nil, classify(err, "fetch %s", key)
		}
		r.mu.Lock()
		r.projects[key] = rec
		r.mu.Unlock()
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*integrations.Record), nil
}

func (r *Resolver) release(ctx context.Context, project *integrations.Record, chosen string) (*PackageMetadata, error) {
	key := integrations.NormalizePkgName(project.Name) + "@" + chosen

	r.mu.Lock()
	if res, ok := r.releases[key]; ok {
		r.mu.Unlock()
		return res.meta, res.err
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("release:"+key, func() (any, error) {
		rec := project
		if project.Version != chosen || len(project.Files) == 0 {
			var err error
			rec, err = r.index.Fetch(ctx, project.Name, chosen)
			if err != nil {
				err = classify(err, "fetch %s %s", project.Name, chosen)
				if !isContextErr(err) {
					r.remember(key, nil, err)
				}
				return nil, err
			}
		}
		meta, err := build(rec, chosen, r.logger)
		r.remember(key, meta, err)
		return meta, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*PackageMetadata), nil
}

func (r *Resolver) remember(key string, meta *PackageMetadata, err error) {
	r.mu.Lock()
	r.releases[key] = result{meta, err}
	r.mu.Unlock()
}

type candidate struct {
	raw    string
	v      version.Version
	yanked bool
}

func candidates(project *integrations.Record) []candidate {
	var out []candidate
	for raw, files := range project.Releases {
		v, err := version.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, candidate{raw: raw, v: v, yanked: integrations.Yanked(files)})
	}
	if len(out) == 0 && project.Version != "" {
		if v, err := version.Parse(project.Version); err == nil {
			out = append(out, candidate{raw: project.Version, v: v, yanked: integrations.Yanked(project.Files)})
		}
	}
	return out
}

func selectVersion(project *integrations.Record, constraint version.Specifier) (string, error) {
	pinned := constraint.Pinned()
	var pool []version.Version
	raw := make(map[string]string)
	for _, c := range candidates(project) {
		if c.yanked && !pinned {
			continue
		}
		pool = append(pool, c.v)
		raw[c.v.Canonical()] = c.raw
	}

	best, ok := constraint.Best(pool, false)
	if !ok {
		desc := constraint.String()
		if desc == "" {
			desc = "any version"
		}
		return "", errors.New(errors.ErrCodePackageNotFound, "no release of %s satisfies %s", project.Name, desc)
	}
	return raw[best.Canonical()], nil
}

var (
	markerRE = regexp.MustCompile(`;\s*(.+)`)
	skipRE   = regexp.MustCompile(`\b(?:extra|dev|test)\b`)
)

func build(rec *integrations.Record, chosen string, logger *log.Logger) (*PackageMetadata, error) {
	name := integrations.NormalizePkgName(rec.Name)

	sdist, ok := integrations.Sdist(rec.Files)
	if !ok {
		return nil, errors.New(errors.ErrCodeMetadataIncomplete, "%s %s has no source distribution", rec.Name, chosen)
	}
	if sdist.SHA256 == "" {
		return nil, errors.New(errors.ErrCodeMetadataIncomplete, "%s %s sdist has no sha256 digest", rec.Name, chosen)
	}

	meta := &PackageMetadata{
		Name:            name,
		ProjectName:     rec.Name,
		Version:         chosen,
		SourceURL:       sdist.URL,
		Filename:        sdist.Filename,
		Checksum:        Checksum{Algorithm: "sha256", Hex: sdist.SHA256},
		MD5:             sdist.MD5,
		DeclaredLicense: DeclaredLicense(rec),
		Summary:         rec.Summary,
		HomePage:        rec.HomePage,
		Yanked:          sdist.Yanked,
	}

	seen := map[string]bool{name: true}
	for _, spec := range rec.RequiresDist {
		if m := markerRE.FindStringSubmatch(spec); len(m) > 1 && (skipRE.MatchString(m[1]) || excludesLinux(m[1])) {
			continue
		}
		dep, err := requirements.ParseLine(spec)
		if err != nil {
			logger.Debug("skipping unparseable dependency", "package", name, "requirement", spec, "err", err)
			continue
		}
		if seen[dep.Key()] {
			continue
		}
		seen[dep.Key()] = true
		meta.Dependencies = append(meta.Dependencies, dep)
	}
	return meta, nil
}

// maxLicenseLen is the longest license field taken as a declaration rather
// than as pasted license text.
const maxLicenseLen = 80

// DeclaredLicense extracts a short license declaration from a record:
// license_expression first, then a short single-line license field, then the
// last segment of the first license classifier. Returns "" when none exist.
func DeclaredLicense(rec *integrations.Record) string {
	if expr := strings.TrimSpace(rec.LicenseExpression); expr != "" {
		return expr
	}
	lic := strings.TrimSpace(rec.License)
	if lic != "" && len(lic) <= maxLicenseLen && !strings.Contains(lic, "\n") && !strings.EqualFold(lic, "UNKNOWN") {
		return lic
	}
	for _, c := range rec.Classifiers {
		if strings.HasPrefix(c, "License :: ") {
			parts := strings.Split(c, " :: ")
			if len(parts) >= 3 {
				return strings.TrimSpace(parts[len(parts)-1])
			}
		}
	}
	return ""
}

func classify(err error, format string, args ...any) error {
	switch {
	case isContextErr(err):
		return err
	case stderrors.Is(err, integrations.ErrNotFound):
		return errors.Wrap(errors.ErrCodePackageNotFound, err, format, args...)
	default:
		return errors.Wrap(errors.ErrCodeTransientFetch, err, format, args...)
	}
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}

// String formats the metadata as "name version".
func (m *PackageMetadata) String() string {
	return fmt.Sprintf("%s %s", m.Name, m.Version)
}
