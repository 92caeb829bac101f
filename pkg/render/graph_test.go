package render

import (
	"strings"
	"testing"

	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/metadata"
	"github.com/matzehuels/piprecipes/pkg/requirements"
)

func testClosure() *deps.Closure {
	pkg := func(name, ver, lic string, root bool, requires ...string) deps.ResolvedPackage {
		meta := &metadata.PackageMetadata{Name: name, Version: ver}
		for _, d := range requires {
			meta.Dependencies = append(meta.Dependencies, requirements.MustParseLine(d))
		}
		return deps.ResolvedPackage{PackageMetadata: meta, License: license.Default().Map(lic), Root: root}
	}
	return &deps.Closure{
		Packages: []deps.ResolvedPackage{
			pkg("certifi", "2024.2.2", "MPL-2.0", false),
			pkg("requests", "2.31.0", "Apache-2.0", true, "certifi", "missing-pkg"),
			pkg("weird", "1.0", "Proprietary", true),
		},
		Failures: []deps.Failure{
			{Name: "missing-pkg", Code: errors.ErrCodePackageNotFound, Dependents: []string{"requests"}},
		},
	}
}

func TestToDOT(t *testing.T) {
	dot := ToDOT(testClosure(), Options{})

	for _, want := range []string{
		`"python3-requests" [label="python3-requests", penwidth=3];`,
		`"python3-certifi" [label="python3-certifi"];`,
		`"python3-weird" [label="python3-weird", fillcolor=gold, penwidth=3];`,
		`"python3-requests" -> "python3-certifi";`,
		`"python3-requests" -> "python3-missing-pkg" [style=dashed, color=red];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("missing %q in\n%s", want, dot)
		}
	}
	if strings.Count(dot, "->") != 2 {
		t.Errorf("expected 2 edges in\n%s", dot)
	}
}

func TestToDOT_Detailed(t *testing.T) {
	dot := ToDOT(testClosure(), Options{Detailed: true})
	if !strings.Contains(dot, `label="python3-certifi\n2024.2.2\nMPL-2.0"`) {
		t.Errorf("detailed label missing in\n%s", dot)
	}
	if !strings.Contains(dot, `label="python3-missing-pkg\nPACKAGE_NOT_FOUND"`) {
		t.Errorf("failure label missing in\n%s", dot)
	}
}

func TestToDOT_Deterministic(t *testing.T) {
	first := ToDOT(testClosure(), Options{Detailed: true})
	for range 5 {
		if ToDOT(testClosure(), Options{Detailed: true}) != first {
			t.Fatal("DOT output is not deterministic")
		}
	}
}

func TestNormalizeViewBox(t *testing.T) {
	in := []byte(`<svg width="100pt" height="50pt" viewBox="0.00 0.00 100.00 50.00" xmlns="http://www.w3.org/2000/svg"><g/></svg>`)
	got := string(normalizeViewBox(in))
	want := `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100.00 50.00" width="100" height="50"><g/></svg>`
	if got != want {
		t.Errorf("normalizeViewBox = %s", got)
	}
	if plain := []byte("<svg></svg>"); string(normalizeViewBox(plain)) != "<svg></svg>" {
		t.Error("svg without viewBox was modified")
	}
}
