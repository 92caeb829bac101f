package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/matzehuels/piprecipes/pkg/archive"
	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/integrations"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/metadata"
	"github.com/matzehuels/piprecipes/pkg/recipe"
)

// index serves project records keyed by normalized name.
type index map[string]*integrations.Record

func (ix index) Fetch(ctx context.Context, name, ver string) (*integrations.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := ix[name]
	if !ok || (ver != "" && ver != rec.Version) {
		return nil, fmt.Errorf("%w: %s %s", integrations.ErrNotFound, name, ver)
	}
	return rec, nil
}

func project(name, ver, lic string, requires ...string) *integrations.Record {
	files := []integrations.File{{
		Filename:    name + "-" + ver + ".tar.gz",
		URL:         "https://files.example.com/" + name + "-" + ver + ".tar.gz",
		PackageType: integrations.PackageTypeSdist,
		MD5:         "0123456789abcdef0123456789abcdef",
		SHA256:      strings.Repeat("ab", 32),
	}}
	return &integrations.Record{
		Name:         name,
		Version:      ver,
		License:      lic,
		RequiresDist: requires,
		Files:        files,
		Releases:     map[string][]integrations.File{ver: files},
	}
}

func requestsIndex() index {
	return index{
		"requests": project("requests", "2.31.0", "Apache 2.0",
			"charset_normalizer<4,>=2", "idna<4,>=2.5", "urllib3<3,>=1.21.1", "certifi>=2017.4.17",
			`PySocks!=1.5.7,>=1.5.6; extra == "socks"`),
		"charset-normalizer": project("charset-normalizer", "3.3.2", ""),
		"idna":               project("idna", "3.6", "BSD-3-Clause"),
		"urllib3":            project("urllib3", "2.2.1", "MIT-style"),
		"certifi":            project("certifi", "2024.2.2", "MPL-2.0"),
		"six":                project("six", "1.16.0", "MIT"),
	}
}

// memSink keeps recipes in memory. afterWrite runs after each stored recipe.
type memSink struct {
	mu         sync.Mutex
	files      map[string]string
	order      []string
	afterWrite func(n int)
}

func (s *memSink) Write(ctx context.Context, rec recipe.Recipe) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.files == nil {
		s.files = make(map[string]string)
	}
	s.files[rec.Path] = rec.Content
	s.order = append(s.order, rec.Path)
	n := len(s.order)
	s.mu.Unlock()
	if s.afterWrite != nil {
		s.afterWrite(n)
	}
	return nil
}

func newRunner(ix index, sink Sink, opts Options) *Runner {
	return NewRunner(metadata.NewResolver(ix, nil), sink, opts)
}

func emittedNames(r *Report) []string {
	var names []string
	for _, e := range r.Emitted {
		names = append(names, e.Name)
	}
	return names
}

func TestRun_RequestsWithMissingPackage(t *testing.T) {
	sink := &memSink{}
	input := "requests==2.31.0\nnonexistent-pkg\n# pinned for the gateway\n-r other.txt\n"

	report, err := newRunner(requestsIndex(), sink, Options{}).Run(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"certifi", "charset-normalizer", "idna", "requests", "urllib3"}
	if got := emittedNames(report); !slices.Equal(got, want) {
		t.Errorf("emitted = %v, want %v", got, want)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Name != "nonexistent-pkg" || report.Skipped[0].Code != errors.ErrCodePackageNotFound {
		t.Errorf("skipped = %+v", report.Skipped)
	}
	if len(report.Malformed) != 1 || report.Malformed[0].Line != 4 {
		t.Errorf("malformed = %+v", report.Malformed)
	}
	if report.Requirements != 2 {
		t.Errorf("Requirements = %d, want 2", report.Requirements)
	}
	if report.Status() != StatusCompletedWithFailures {
		t.Errorf("Status = %s", report.Status())
	}
	if !slices.Equal(report.Heuristic, []string{"urllib3"}) || !slices.Equal(report.Unmapped, []string{"charset-normalizer"}) {
		t.Errorf("heuristic = %v unmapped = %v", report.Heuristic, report.Unmapped)
	}
	if len(report.NeedsReview()) != 2 {
		t.Errorf("NeedsReview = %+v", report.NeedsReview())
	}
	if report.RunID == "" {
		t.Error("RunID is empty")
	}

	content, ok := sink.files["recipes/requests/python3-requests_2.31.0.bb"]
	if !ok {
		t.Fatalf("requests recipe missing, have %v", sink.order)
	}
	rdepends := recipe.ParseDependencies(content)
	if want := []string{"certifi", "charset-normalizer", "idna", "urllib3"}; !slices.Equal(rdepends, want) {
		t.Errorf("RDEPENDS = %v, want %v", rdepends, want)
	}
	if !slices.IsSorted(sink.order) {
		t.Errorf("emission order not sorted: %v", sink.order)
	}
}

func TestRun_Success(t *testing.T) {
	sink := &memSink{}
	report, err := newRunner(requestsIndex(), sink, Options{}).Run(context.Background(), strings.NewReader("six\n"))
	if err != nil {
		t.Fatal(err)
	}
	if report.Status() != StatusSuccess {
		t.Errorf("Status = %s, skipped = %+v", report.Status(), report.Skipped)
	}
	content := sink.files["recipes/six/python3-six_1.16.0.bb"]
	if !strings.Contains(content, `RDEPENDS:${PN} = ""`) {
		t.Errorf("zero-dependency recipe:\n%s", content)
	}
}

func TestRun_Deterministic(t *testing.T) {
	ctx := context.Background()
	input := "urllib3\nrequests\ncertifi\n"

	var trees []map[string]string
	for _, concurrency := range []int{1, 8, 3} {
		dir := t.TempDir()
		sink, err := NewDirSink(dir)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := newRunner(requestsIndex(), sink, Options{Concurrency: concurrency}).Run(ctx, strings.NewReader(input)); err != nil {
			t.Fatal(err)
		}
		trees = append(trees, readTree(t, dir))
	}
	for i := 1; i < len(trees); i++ {
		if len(trees[i]) != len(trees[0]) {
			t.Fatalf("run %d wrote %d files, run 0 wrote %d", i, len(trees[i]), len(trees[0]))
		}
		for path, content := range trees[0] {
			if trees[i][path] != content {
				t.Errorf("run %d: %s differs", i, path)
			}
		}
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestRun_CancelledDuringEmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &memSink{afterWrite: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	report, err := newRunner(requestsIndex(), sink, Options{}).Run(ctx, strings.NewReader("requests\n"))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if report.Status() != StatusCancelled {
		t.Errorf("Status = %s", report.Status())
	}
	if len(report.Emitted) != 2 || len(sink.files) != 2 {
		t.Errorf("emitted %d, wrote %d; want 2", len(report.Emitted), len(sink.files))
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memSink{}
	report, err := newRunner(requestsIndex(), sink, Options{}).Run(ctx, strings.NewReader("requests\n"))
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if report == nil || !report.Cancelled || len(sink.files) != 0 {
		t.Errorf("report = %+v, files = %d", report, len(sink.files))
	}
}

func TestRun_ReadError(t *testing.T) {
	_, err := newRunner(requestsIndex(), &memSink{}, Options{}).
		Run(context.Background(), iotest.ErrReader(stderrors.New("disk gone")))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

type fakeInspector struct {
	results map[string]*archive.Inspection
	errs    map[string]error
}

func (f fakeInspector) Inspect(ctx context.Context, url, filename, sha256 string) (*archive.Inspection, error) {
	if err, ok := f.errs[filename]; ok {
		return nil, err
	}
	if insp, ok := f.results[filename]; ok {
		return insp, nil
	}
	return &archive.Inspection{BuildClass: archive.DefaultBuildClass}, nil
}

func TestRun_Inspection(t *testing.T) {
	inspector := fakeInspector{
		results: map[string]*archive.Inspection{
			"charset-normalizer-3.3.2.tar.gz": {
				TopDir:      "charset_normalizer-3.3.2",
				LicenseFile: "LICENSE",
				LicenseMD5:  "0c7b7bf4e05ce7b4c9de00ba3e9f8bab",
				LicenseText: []byte("MIT License\n\nPermission is hereby granted, free of charge, to any person"),
				BuildClass:  "python_setuptools_build_meta",
			},
		},
		errs: map[string]error{
			"idna-3.6.tar.gz": errors.New(errors.ErrCodeChecksumMismatch, "idna-3.6.tar.gz: sha256 mismatch"),
		},
	}
	sink := &memSink{}
	report, err := newRunner(requestsIndex(), sink, Options{Inspector: inspector}).
		Run(context.Background(), strings.NewReader("requests\n"))
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Skipped) != 1 || report.Skipped[0].Name != "idna" || report.Skipped[0].Code != errors.ErrCodeChecksumMismatch {
		t.Errorf("skipped = %+v", report.Skipped)
	}
	if _, ok := report.Closure.Lookup("idna"); ok {
		t.Error("idna still in closure packages")
	}
	if len(report.Closure.Failures) != 1 || report.Closure.Failures[0].Name != "idna" {
		t.Errorf("closure failures = %+v", report.Closure.Failures)
	}

	content := sink.files["recipes/charset-normalizer/python3-charset-normalizer_3.3.2.bb"]
	for _, want := range []string{
		`LICENSE = "MIT"`,
		`LIC_FILES_CHKSUM = "file://LICENSE;md5=0c7b7bf4e05ce7b4c9de00ba3e9f8bab"`,
		`S = "${WORKDIR}/charset_normalizer-3.3.2"`,
		"inherit python_setuptools_build_meta",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing %q in\n%s", want, content)
		}
	}
	if slices.Contains(report.Unmapped, "charset-normalizer") || !slices.Contains(report.Heuristic, "charset-normalizer") {
		t.Errorf("heuristic = %v unmapped = %v", report.Heuristic, report.Unmapped)
	}
}

func TestReport_WriteJSON(t *testing.T) {
	report := &Report{
		RunID:   "run-1",
		Emitted: []EmittedRecipe{{Name: "six", Version: "1.16.0", License: "MIT", Confidence: license.Exact}},
		Skipped: []SkippedPackage{{Name: "gone", Code: errors.ErrCodePackageNotFound, Reason: "no release"}},
	}
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Status  Status           `json:"status"`
		RunID   string           `json:"run_id"`
		Emitted []EmittedRecipe  `json:"emitted"`
		Skipped []SkippedPackage `json:"skipped"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v\n%s", err, buf.String())
	}
	if decoded.Status != StatusCompletedWithFailures || decoded.RunID != "run-1" {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.Emitted) != 1 || decoded.Emitted[0].Confidence != license.Exact {
		t.Errorf("emitted = %+v", decoded.Emitted)
	}
}

func TestReport_Status(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   Status
	}{
		{"empty", Report{}, StatusSuccess},
		{"malformed line", Report{Malformed: []MalformedLine{{Line: 1}}}, StatusCompletedWithFailures},
		{"skipped package", Report{Skipped: []SkippedPackage{{Name: "x"}}}, StatusCompletedWithFailures},
		{"cancelled wins", Report{Cancelled: true, Skipped: []SkippedPackage{{Name: "x"}}}, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Status(); got != tt.want {
				t.Errorf("Status() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestValidatePackage(t *testing.T) {
	tests := []struct {
		name, version string
		want          errors.Code
	}{
		{"requests", "2.31.0", ""},
		{"zope-interface", "1!6.0+local.1", ""},
		{"../evil", "1.0", errors.ErrCodeInvalidPackage},
		{"six", "1.0/../../x", errors.ErrCodeInvalidInput},
		{"six", "", errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		pkg := deps.ResolvedPackage{PackageMetadata: &metadata.PackageMetadata{Name: tt.name, Version: tt.version}}
		err := validatePackage(pkg)
		if got := errors.GetCode(err); got != tt.want {
			t.Errorf("validatePackage(%s %s) = %v, want code %q", tt.name, tt.version, err, tt.want)
		}
	}
}
