package integrations

// Record is the package index's view of a project, or of one release of it.
//
// A project record (fetched without a version) describes the latest release
// and lists every published version in Releases. A release record describes
// exactly one version and leaves Releases nil.
type Record struct {
	Name              string            `json:"name"`
	Version           string            `json:"version"`
	Summary           string            `json:"summary,omitempty"`
	HomePage          string            `json:"home_page,omitempty"`
	License           string            `json:"license,omitempty"`
	LicenseExpression string            `json:"license_expression,omitempty"`
	Classifiers       []string          `json:"classifiers,omitempty"`
	RequiresDist      []string          `json:"requires_dist,omitempty"`
	Files             []File            `json:"files,omitempty"`
	Releases          map[string][]File `json:"releases,omitempty"`
}

// File is one distribution file of a release.
type File struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	PackageType string `json:"packagetype"` // "sdist", "bdist_wheel", ...
	MD5         string `json:"md5,omitempty"`
	SHA256      string `json:"sha256,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Yanked      bool   `json:"yanked,omitempty"`
}

// PackageTypeSdist marks a source distribution.
const PackageTypeSdist = "sdist"

// Sdist returns the first source distribution among files.
func Sdist(files []File) (File, bool) {
	for _, f := range files {
		if f.PackageType == PackageTypeSdist {
			return f, true
		}
	}
	return File{}, false
}

// Yanked reports whether every file of a release is yanked. A release without
// files is not considered yanked.
func Yanked(files []File) bool {
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if !f.Yanked {
			return false
		}
	}
	return true
}
