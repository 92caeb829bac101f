package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeProject struct {
	version  string
	license  string
	requires []string
}

// newIndex serves the PyPI JSON API for projects. Every release has one sdist.
func newIndex(t *testing.T, projects map[string]fakeProject) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		p, ok := projects[parts[0]]
		if !ok || parts[len(parts)-1] != "json" {
			http.NotFound(w, r)
			return
		}
		filename := parts[0] + "-" + p.version + ".tar.gz"
		file := map[string]any{
			"filename":    filename,
			"url":         "https://files.example.org/" + filename,
			"packagetype": "sdist",
			"digests":     map[string]string{"sha256": strings.Repeat("ab", 32), "md5": strings.Repeat("cd", 16)},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"info": map[string]any{
				"name":          parts[0],
				"version":       p.version,
				"summary":       parts[0] + " package",
				"license":       p.license,
				"requires_dist": p.requires,
				"home_page":     "https://example.org/" + parts[0],
			},
			"urls":     []any{file},
			"releases": map[string]any{p.version: []any{file}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeRequirements(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, ctx context.Context, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := New(&out, io.Discard, LogInfo).Execute(ctx, args)
	return code, out.String()
}

var testProjects = map[string]fakeProject{
	"requests": {version: "2.31.0", license: "Apache 2.0", requires: []string{"idna>=2.5", "pytest; extra == \"test\""}},
	"idna":     {version: "3.6", license: "BSD License"},
	"six":      {version: "1.16.0", license: "MIT"},
}

func TestGenerate(t *testing.T) {
	srv := newIndex(t, testProjects)
	reqs := writeRequirements(t, "requests>=2.0\nsix\n")
	dir := t.TempDir()
	out := filepath.Join(dir, "layer")
	report := filepath.Join(dir, "report.json")
	graph := filepath.Join(dir, "deps.dot")

	code, stdout := run(t, context.Background(),
		"--index-url", srv.URL, "-o", out, "--report", report, "--graph", graph, "--retries", "1", reqs)
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d\n%s", code, ExitOK, stdout)
	}

	for _, rel := range []string{
		"recipes/requests/python3-requests_2.31.0.bb",
		"recipes/idna/python3-idna_3.6.bb",
		"recipes/six/python3-six_1.16.0.bb",
	} {
		if _, err := os.Stat(filepath.Join(out, rel)); err != nil {
			t.Errorf("missing recipe %s: %v", rel, err)
		}
	}
	content, err := os.ReadFile(filepath.Join(out, "recipes/requests/python3-requests_2.31.0.bb"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), `RDEPENDS:${PN} = "python3-idna"`) {
		t.Errorf("requests recipe lacks idna runtime dependency:\n%s", content)
	}

	var decoded struct {
		Status  string `json:"status"`
		Emitted []struct {
			Name string `json:"name"`
		} `json:"emitted"`
	}
	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	if decoded.Status != "success" || len(decoded.Emitted) != 3 {
		t.Errorf("report status=%q emitted=%d, want success and 3", decoded.Status, len(decoded.Emitted))
	}

	dot, err := os.ReadFile(graph)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(dot), `"python3-requests" -> "python3-idna"`) {
		t.Errorf("graph lacks requests -> idna edge:\n%s", dot)
	}
	if !strings.Contains(stdout, "python3-requests") && !strings.Contains(stdout, "requests") {
		t.Errorf("summary does not list requests:\n%s", stdout)
	}
}

func TestGenerateMissingPackage(t *testing.T) {
	srv := newIndex(t, testProjects)
	reqs := writeRequirements(t, "six\nno-such-package==1.0\n")
	out := t.TempDir()

	code, stdout := run(t, context.Background(), "--index-url", srv.URL, "-o", out, "--retries", "1", reqs)
	if code != ExitFailures {
		t.Fatalf("exit code = %d, want %d\n%s", code, ExitFailures, stdout)
	}
	if _, err := os.Stat(filepath.Join(out, "recipes/six/python3-six_1.16.0.bb")); err != nil {
		t.Errorf("six recipe not written: %v", err)
	}
	if !strings.Contains(stdout, "no-such-package") {
		t.Errorf("summary does not mention the skipped package:\n%s", stdout)
	}
}

func TestGenerateMalformedLine(t *testing.T) {
	srv := newIndex(t, testProjects)
	reqs := writeRequirements(t, "six\n-e git+https://example.org/repo.git\n")

	code, stdout := run(t, context.Background(), "--index-url", srv.URL, "-o", t.TempDir(), reqs)
	if code != ExitFailures {
		t.Fatalf("exit code = %d, want %d\n%s", code, ExitFailures, stdout)
	}
	if !strings.Contains(stdout, "line 2") {
		t.Errorf("summary does not report line 2:\n%s", stdout)
	}
}

func TestGenerateAborts(t *testing.T) {
	srv := newIndex(t, testProjects)
	reqs := writeRequirements(t, "six\n")
	dir := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"missing input", []string{"--index-url", srv.URL, "-o", dir, filepath.Join(dir, "nope.txt")}},
		{"bad concurrency", []string{"--index-url", srv.URL, "--concurrency", "0", reqs}},
		{"bad policy", []string{"--index-url", srv.URL, "--conflict-policy", "newest", reqs}},
		{"bad graph extension", []string{"--index-url", srv.URL, "--graph", "deps.png", reqs}},
		{"missing config", []string{"--config", filepath.Join(dir, "missing.toml"), reqs}},
		{"no arguments", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout := run(t, context.Background(), tt.args...)
			if code != ExitAborted {
				t.Errorf("exit code = %d, want %d\n%s", code, ExitAborted, stdout)
			}
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	srv := newIndex(t, testProjects)
	reqs := writeRequirements(t, "requests\n")
	out := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, _ := run(t, ctx, "--index-url", srv.URL, "-o", out, reqs)
	if code != ExitCancelled {
		t.Fatalf("exit code = %d, want %d", code, ExitCancelled)
	}
	if _, err := os.Stat(filepath.Join(out, "recipes")); err == nil {
		t.Error("cancelled run wrote recipes")
	}
}

func TestLicensesCommand(t *testing.T) {
	code, stdout := run(t, context.Background(), "licenses")
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}
	for _, id := range []string{"Apache-2.0", "MIT", "BSD-3-Clause"} {
		if !strings.Contains(stdout, id) {
			t.Errorf("license table lacks %s", id)
		}
	}

	code, stdout = run(t, context.Background(), "licenses", "Apache 2.0", "Proprietary")
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d", code, ExitOK)
	}
	if !strings.Contains(stdout, "Apache-2.0") || !strings.Contains(stdout, "Unknown") {
		t.Errorf("mapping output:\n%s", stdout)
	}
}

func TestLicensesCommandOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "licenses.toml")
	table := `[[license]]
id = "Site-Internal"
md5 = "0123456789abcdef0123456789abcdef"
aliases = ["ACME internal"]
`
	if err := os.WriteFile(path, []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}
	code, stdout := run(t, context.Background(), "licenses", "--licenses", path, "ACME internal")
	if code != ExitOK {
		t.Fatalf("exit code = %d, want %d\n%s", code, ExitOK, stdout)
	}
	if !strings.Contains(stdout, "Site-Internal") {
		t.Errorf("override not applied:\n%s", stdout)
	}
}
