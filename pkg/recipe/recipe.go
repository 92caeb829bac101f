// Package recipe renders BitBake recipes for resolved Python packages.
//
// Rendering is a pure function of its input: the same [deps.ResolvedPackage]
// always yields byte-identical text. Fields appear in a fixed order:
//
//	SUMMARY, HOMEPAGE, LICENSE, LIC_FILES_CHKSUM,
//	SRC_URI, SRC_URI[md5sum], SRC_URI[sha256sum],
//	S, RDEPENDS:${PN}, inherit
//
// Licenses that were not mapped exactly are preceded by a "# LICENSE-REVIEW:"
// comment so reviewers can grep for them.
package recipe

import (
	"bytes"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/matzehuels/piprecipes/pkg/archive"
	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/license"
)

const (
	DefaultExtension = "bb"
	DefaultDir       = "recipes"

	// NamePrefix is prepended to package names to form recipe names.
	NamePrefix = "python3-"

	// ReviewMarker starts the comment emitted above licenses needing review.
	ReviewMarker = "# LICENSE-REVIEW:"

	rdependsKey = "RDEPENDS:${PN}"
)

// Options configures rendering.
type Options struct {
	Extension string // Recipe file extension without the dot (default: bb)
	Dir       string // Root directory of recipe paths (default: recipes)
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if opts.Dir == "" {
		opts.Dir = DefaultDir
	}
	return opts
}

// Recipe is one rendered recipe file.
type Recipe struct {
	Name    string // Normalized package name
	Version string
	Path    string // Slash-separated, relative to the output directory
	Content string
}

// Renderer renders recipes. The zero value is not usable; use NewRenderer.
type Renderer struct {
	opts Options
}

// NewRenderer creates a Renderer.
func NewRenderer(opts Options) *Renderer {
	return &Renderer{opts: opts.WithDefaults()}
}

// Name returns the recipe name of a package: "python3-" plus its name.
func Name(pkg string) string { return NamePrefix + pkg }

// Path returns the recipe path for a package version:
// recipes/<name>/python3-<name>_<version>.<ext>.
func (r *Renderer) Path(name, version string) string {
	return path.Join(r.opts.Dir, name, fmt.Sprintf("%s_%s.%s", Name(name), version, r.opts.Extension))
}

// Render produces the recipe for pkg.
func (r *Renderer) Render(pkg deps.ResolvedPackage) Recipe {
	var buf bytes.Buffer

	summary := pkg.Summary
	if summary == "" {
		summary = "Python package " + pkg.Name
	}
	homepage := pkg.HomePage
	if homepage == "" {
		homepage = "https://pypi.org/project/" + pkg.Name + "/"
	}
	field(&buf, "SUMMARY", summary)
	field(&buf, "HOMEPAGE", homepage)

	if comment := reviewComment(pkg.License, licenseChecksum(pkg)); comment != "" {
		buf.WriteString(comment + "\n")
	}
	field(&buf, "LICENSE", pkg.License.ID)
	field(&buf, "LIC_FILES_CHKSUM", licenseChecksum(pkg))
	buf.WriteString("\n")

	field(&buf, "SRC_URI", pkg.SourceURL)
	if pkg.MD5 != "" {
		field(&buf, "SRC_URI[md5sum]", pkg.MD5)
	}
	field(&buf, "SRC_URI[sha256sum]", pkg.Checksum.Hex)
	buf.WriteString("\n")

	field(&buf, "S", "${WORKDIR}/"+sourceDir(pkg))
	buf.WriteString("\n")

	field(&buf, rdependsKey, strings.Join(runtimeDepends(pkg), " "))
	buf.WriteString("\n")

	buildClass := archive.DefaultBuildClass
	if pkg.Source != nil && pkg.Source.BuildClass != "" {
		buildClass = pkg.Source.BuildClass
	}
	fmt.Fprintf(&buf, "inherit %s\n", buildClass)

	return Recipe{
		Name:    pkg.Name,
		Version: pkg.Version,
		Path:    r.Path(pkg.Name, pkg.Version),
		Content: buf.String(),
	}
}

func field(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s = \"%s\"\n", key, quote(value))
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r\n", " ", "\n", " ", "\r", " ")

func quote(s string) string {
	return quoter.Replace(strings.TrimSpace(s))
}

func reviewComment(m license.Mapping, checksum string) string {
	declared := strings.TrimSpace(m.Declared)
	switch m.Confidence {
	case license.Heuristic:
		if declared == "" {
			return fmt.Sprintf("%s heuristic match from the license file, verify %s", ReviewMarker, m.ID)
		}
		return fmt.Sprintf("%s heuristic match for %q, verify %s", ReviewMarker, oneLine(declared), m.ID)
	case license.Unmapped:
		if declared == "" {
			return ReviewMarker + " no license declared"
		}
		return fmt.Sprintf("%s unmapped license %q", ReviewMarker, oneLine(declared))
	default:
		if checksum == "" {
			return fmt.Sprintf("%s no common-license checksum for %s, point LIC_FILES_CHKSUM at the package license file", ReviewMarker, m.ID)
		}
		return ""
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func licenseChecksum(pkg deps.ResolvedPackage) string {
	if decl := pkg.Source.ChecksumDeclaration(); decl != "" {
		return decl
	}
	return pkg.License.ChecksumDeclaration
}

var archiveExts = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".tar", ".zip"}

// sourceDir returns the unpacked source directory: the inspected top-level
// directory, else the archive filename without its extension.
func sourceDir(pkg deps.ResolvedPackage) string {
	if pkg.Source != nil && pkg.Source.TopDir != "" {
		return pkg.Source.TopDir
	}
	lower := strings.ToLower(pkg.Filename)
	for _, ext := range archiveExts {
		if strings.HasSuffix(lower, ext) {
			return pkg.Filename[:len(pkg.Filename)-len(ext)]
		}
	}
	if pkg.Filename != "" {
		return pkg.Filename
	}
	return pkg.Name + "-" + pkg.Version
}

func runtimeDepends(pkg deps.ResolvedPackage) []string {
	var out []string
	for _, dep := range pkg.DependencyNames() {
		out = append(out, Name(dep))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// ParseDependencies recovers the package names listed in a recipe's
// RDEPENDS field, with the recipe name prefix removed. The older
// RDEPENDS_${PN} spelling is accepted too.
func ParseDependencies(content string) []string {
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key != rdependsKey && key != "RDEPENDS_${PN}" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		var names []string
		for _, f := range strings.Fields(value) {
			names = append(names, strings.TrimPrefix(f, NamePrefix))
		}
		return names
	}
	return nil
}
