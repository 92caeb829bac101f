package pipeline

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/license"
)

// Status summarizes how a run ended.
type Status string

const (
	StatusSuccess               Status = "success"
	StatusCompletedWithFailures Status = "completed-with-failures"
	StatusCancelled             Status = "cancelled"
)

// EmittedRecipe is one recipe handed to the sink.
type EmittedRecipe struct {
	Name       string             `json:"name"`
	Version    string             `json:"version"`
	Path       string             `json:"path"`
	License    string             `json:"license"`
	Declared   string             `json:"declared_license,omitempty"`
	Confidence license.Confidence `json:"confidence"`
}

// SkippedPackage is a package for which no recipe was emitted.
type SkippedPackage struct {
	Name       string      `json:"name"`
	Version    string      `json:"version,omitempty"`    // Set when resolution succeeded
	Constraint string      `json:"constraint,omitempty"` // Set when resolution failed
	Code       errors.Code `json:"code"`
	Reason     string      `json:"reason"`
	Dependents []string    `json:"dependents,omitempty"`
}

// MalformedLine is an input line that did not parse.
type MalformedLine struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report is the end-of-run summary.
type Report struct {
	RunID        string           `json:"run_id"`
	Requirements int              `json:"requirements"`
	Emitted      []EmittedRecipe  `json:"emitted"`
	Skipped      []SkippedPackage `json:"skipped"`
	Malformed    []MalformedLine  `json:"malformed"`
	Conflicts    []deps.Conflict  `json:"conflicts"`
	Heuristic    []string         `json:"heuristic_licenses"` // Emitted packages, sorted
	Unmapped     []string         `json:"unmapped_licenses"`  // Emitted packages, sorted
	Cancelled    bool             `json:"cancelled"`
	Duration     time.Duration    `json:"-"`

	// Closure is the resolved closure, after inspection failures were moved
	// to its failures. Nil when the input could not be read.
	Closure *deps.Closure `json:"-"`
}

// Status reports how the run ended. Cancellation wins over failures.
func (r *Report) Status() Status {
	switch {
	case r.Cancelled:
		return StatusCancelled
	case len(r.Skipped) > 0 || len(r.Malformed) > 0:
		return StatusCompletedWithFailures
	default:
		return StatusSuccess
	}
}

// NeedsReview returns the emitted recipes whose license was not mapped
// exactly, in emission order.
func (r *Report) NeedsReview() []EmittedRecipe {
	var out []EmittedRecipe
	for _, e := range r.Emitted {
		if e.Confidence != license.Exact {
			out = append(out, e)
		}
	}
	return out
}

// WriteJSON writes the report as indented JSON, including its status.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Status Status `json:"status"`
		*Report
		DurationMS int64 `json:"duration_ms"`
	}{r.Status(), r, r.Duration.Milliseconds()})
}

func (r *Report) emit(pkg deps.ResolvedPackage, path string) {
	r.Emitted = append(r.Emitted, EmittedRecipe{
		Name:       pkg.Name,
		Version:    pkg.Version,
		Path:       path,
		License:    pkg.License.ID,
		Declared:   pkg.License.Declared,
		Confidence: pkg.License.Confidence,
	})
	switch pkg.License.Confidence {
	case license.Heuristic:
		r.Heuristic = append(r.Heuristic, pkg.Name)
	case license.Unmapped:
		r.Unmapped = append(r.Unmapped, pkg.Name)
	}
}

func (r *Report) skip(s SkippedPackage) {
	r.Skipped = append(r.Skipped, s)
}

func (r *Report) finish(start time.Time, err error) (*Report, error) {
	r.Duration = time.Since(start)
	r.Cancelled = isContextErr(err)
	sort.SliceStable(r.Skipped, func(i, j int) bool { return r.Skipped[i].Name < r.Skipped[j].Name })
	return r, err
}
