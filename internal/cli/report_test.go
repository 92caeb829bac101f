package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/pipeline"
)

func TestPrintReport(t *testing.T) {
	r := &pipeline.Report{
		Emitted: []pipeline.EmittedRecipe{
			{Name: "requests", Version: "2.31.0", License: "Apache-2.0", Confidence: license.Exact},
			{Name: "oddlib", Version: "0.1", License: "BSD-3-Clause", Declared: "BSD style", Confidence: license.Heuristic},
		},
		Skipped: []pipeline.SkippedPackage{
			{Name: "ghost", Constraint: ">=1.0", Code: errors.ErrCodePackageNotFound, Reason: "not on the index", Dependents: []string{"requests"}},
		},
		Malformed: []pipeline.MalformedLine{{Line: 4, Reason: "unsupported option -e"}},
		Conflicts: []deps.Conflict{{Name: "idna", Constraints: []string{"<3", ">=3"}, Chosen: "3.6", Policy: deps.MostRestrictive}},
		Heuristic: []string{"oddlib"},
	}

	var buf bytes.Buffer
	printReport(&buf, r)
	out := buf.String()

	for _, want := range []string{
		"requests", "2.31.0", "Apache-2.0",
		"oddlib", "heuristic",
		"ghost >=1.0", "required by requests",
		"line 4: unsupported option -e",
		"idna: constraints <3 / >=3 cannot all be met",
		"2 emitted", "1 skipped", "1 conflicts",
		"Completed with failures",
		"Review licenses: oddlib",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report output lacks %q\n%s", want, out)
		}
	}
}

func TestPrintReportStatus(t *testing.T) {
	tests := []struct {
		name   string
		report *pipeline.Report
		want   string
	}{
		{"success", &pipeline.Report{Emitted: []pipeline.EmittedRecipe{{Name: "six", Version: "1.16.0", Confidence: license.Exact}}}, "Generated"},
		{"cancelled", &pipeline.Report{Cancelled: true}, "Cancelled after 0 recipes"},
		{"empty", &pipeline.Report{}, "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printReport(&buf, tt.report)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output lacks %q\n%s", tt.want, buf.String())
			}
		})
	}
}
