// Package archive inspects Python source distributions.
//
// An [Inspector] downloads an sdist, verifies its sha256 digest and reads the
// archive in memory to find the layout facts a recipe needs: the top-level
// directory, the license file and its md5, and the PEP 517 build backend.
// Nothing is extracted to disk.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"context"
	"crypto/md5"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	"github.com/matzehuels/piprecipes/pkg/cache"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/integrations"
)

const (
	DefaultMaxSize = 64 << 20 // Largest archive downloaded (64 MiB)
	maxMemberSize  = 1 << 20  // Largest license or pyproject.toml read
)

// DefaultBuildClass is the class inherited when no build backend is detected.
const DefaultBuildClass = "setuptools3"

// licenseNames are the recognized license file names, in preference order.
var licenseNames = []string{"LICENSE", "LICENSE.txt", "LICENSE.md", "LICENSE.rst", "LICENCE", "COPYING", "COPYRIGHT"}

// buildClasses maps PEP 517 build backends to recipe classes.
var buildClasses = map[string]string{
	"setuptools.build_meta":            "python_setuptools_build_meta",
	"setuptools.build_meta:__legacy__": "setuptools3",
	"flit_core.buildapi":               "python_flit_core",
	"poetry.core.masonry.api":          "python_poetry_core",
	"hatchling.build":                  "python_hatchling",
	"maturin":                          "python_maturin",
	"pdm.backend":                      "python_pdm",
	"pdm.pep517.api":                   "python_pdm",
}

// Inspection is what was learned from one source archive.
type Inspection struct {
	TopDir       string `json:"top_dir,omitempty"`
	LicenseFile  string `json:"license_file,omitempty"` // Relative to TopDir
	LicenseMD5   string `json:"license_md5,omitempty"`
	LicenseText  []byte `json:"-"`
	BuildBackend string `json:"build_backend,omitempty"`
	BuildClass   string `json:"build_class"`
}

// ChecksumDeclaration returns the LIC_FILES_CHKSUM entry for the license file
// found in the archive, or "" when there is none.
func (i *Inspection) ChecksumDeclaration() string {
	if i == nil || i.LicenseFile == "" {
		return ""
	}
	return fmt.Sprintf("file://%s;md5=%s", i.LicenseFile, i.LicenseMD5)
}

// Downloader fetches a URL into memory. [*integrations.Client] implements it.
type Downloader interface {
	Download(ctx context.Context, url string, limit int64) ([]byte, error)
}

// Inspector downloads and inspects source archives.
type Inspector struct {
	dl      Downloader
	maxSize int64
	logger  *log.Logger
}

// NewInspector creates an Inspector. maxSize <= 0 uses DefaultMaxSize and a
// nil logger discards output.
func NewInspector(dl Downloader, maxSize int64, logger *log.Logger) *Inspector {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Inspector{dl: dl, maxSize: maxSize, logger: logger}
}

// Inspect downloads url, checks it against the expected sha256 hex digest
// and reads it as filename.
//
// Errors are coded: CHECKSUM_MISMATCH for a digest mismatch,
// METADATA_INCOMPLETE when the archive is missing or unreadable,
// LIMIT_EXCEEDED when it is larger than the size limit and TRANSIENT_FETCH
// for network failures. Context errors are returned unwrapped.
func (in *Inspector) Inspect(ctx context.Context, url, filename, sha256 string) (*Inspection, error) {
	data, err := in.dl.Download(ctx, url, in.maxSize)
	if err != nil {
		switch {
		case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
			return nil, err
		case stderrors.Is(err, integrations.ErrNotFound):
			return nil, errors.Wrap(errors.ErrCodeMetadataIncomplete, err, "source archive %s unavailable", filename)
		case stderrors.Is(err, integrations.ErrTooLarge):
			return nil, errors.Wrap(errors.ErrCodeLimitExceeded, err, "source archive %s", filename)
		default:
			return nil, errors.Wrap(errors.ErrCodeTransientFetch, err, "download %s", filename)
		}
	}

	if got := cache.Hash(data); !strings.EqualFold(got, sha256) {
		return nil, errors.New(errors.ErrCodeChecksumMismatch, "%s: sha256 %s, index declares %s", filename, got, sha256)
	}

	insp, err := Read(filename, data)
	if err != nil {
		return nil, err
	}
	in.logger.Debug("inspected archive", "file", filename, "topdir", insp.TopDir,
		"license", insp.LicenseFile, "backend", insp.BuildBackend)
	return insp, nil
}

// Read inspects an in-memory archive. The format is chosen by the filename
// extension: .tar.gz, .tgz, .tar.bz2, .tar or .zip.
func Read(filename string, data []byte) (*Inspection, error) {
	var (
		members map[string][]byte
		names   []string
		err     error
	)
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		var gz *gzip.Reader
		gz, err = gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeMetadataIncomplete, err, "open %s", filename)
		}
		defer gz.Close()
		names, members, err = readTar(gz)
	case strings.HasSuffix(lower, ".tar.bz2"):
		names, members, err = readTar(bzip2.NewReader(bytes.NewReader(data)))
	case strings.HasSuffix(lower, ".tar"):
		names, members, err = readTar(bytes.NewReader(data))
	case strings.HasSuffix(lower, ".zip"):
		names, members, err = readZip(data)
	default:
		return nil, errors.New(errors.ErrCodeMetadataIncomplete, "unsupported archive format: %s", filename)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeMetadataIncomplete, err, "read %s", filename)
	}
	return inspect(names, members), nil
}

// wanted reports whether a member's content is needed for inspection.
func wanted(name string) bool {
	base := path.Base(name)
	if base == "pyproject.toml" {
		return strings.Count(name, "/") <= 1
	}
	for _, l := range licenseNames {
		if strings.EqualFold(base, l) {
			return true
		}
	}
	return false
}

func readTar(r io.Reader) ([]string, map[string][]byte, error) {
	tr := tar.NewReader(r)
	var names []string
	members := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading tar entry: %w", err)
		}
		name, ok := clean(hdr.Name)
		if !ok {
			continue
		}
		names = append(names, name)
		if hdr.Typeflag != tar.TypeReg || !wanted(name) {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxMemberSize))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", name, err)
		}
		members[name] = data
	}
	return names, members, nil
}

func readZip(data []byte) ([]string, map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, err
	}
	var names []string
	members := make(map[string][]byte)
	for _, f := range zr.File {
		name, ok := clean(f.Name)
		if !ok {
			continue
		}
		names = append(names, name)
		if f.FileInfo().IsDir() || !wanted(name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxMemberSize))
		rc.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", name, err)
		}
		members[name] = content
	}
	return names, members, nil
}

// clean normalizes a member name and rejects absolute or escaping paths.
func clean(name string) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", false
	}
	name = strings.TrimSuffix(path.Clean(name), "/")
	if name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return "", false
	}
	return name, true
}

func inspect(names []string, members map[string][]byte) *Inspection {
	insp := &Inspection{TopDir: topDir(names), BuildClass: DefaultBuildClass}

	prefix := ""
	if insp.TopDir != "" {
		prefix = insp.TopDir + "/"
	}

	if lic := pickLicense(members, prefix); lic != "" {
		sum := md5.Sum(members[lic])
		insp.LicenseFile = strings.TrimPrefix(lic, prefix)
		insp.LicenseMD5 = hex.EncodeToString(sum[:])
		insp.LicenseText = members[lic]
	}

	if data, ok := members[prefix+"pyproject.toml"]; ok {
		var pyproject struct {
			BuildSystem struct {
				Backend string `toml:"build-backend"`
			} `toml:"build-system"`
		}
		if err := toml.Unmarshal(data, &pyproject); err == nil && pyproject.BuildSystem.Backend != "" {
			insp.BuildBackend = pyproject.BuildSystem.Backend
			if class, ok := buildClasses[insp.BuildBackend]; ok {
				insp.BuildClass = class
			}
		}
	}
	return insp
}

// topDir returns the single directory every member lives under, or "".
func topDir(names []string) string {
	top, nested := "", false
	for _, name := range names {
		first, _, isNested := strings.Cut(name, "/")
		if top == "" {
			top = first
		} else if first != top {
			return ""
		}
		nested = nested || isNested
	}
	if !nested {
		return ""
	}
	return top
}

// pickLicense chooses the shallowest license file under prefix, preferring
// names earlier in licenseNames.
func pickLicense(members map[string][]byte, prefix string) string {
	var candidates []string
	for name := range members {
		if path.Base(name) != "pyproject.toml" && strings.HasPrefix(name, prefix) {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	rank := func(name string) int {
		base := path.Base(name)
		for i, l := range licenseNames {
			if strings.EqualFold(base, l) {
				return i
			}
		}
		return len(licenseNames)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if da, db := strings.Count(a, "/"), strings.Count(b, "/"); da != db {
			return da < db
		}
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra < rb
		}
		return a < b
	})
	return candidates[0]
}
