package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/pipeline"
)

// printReport writes the end-of-run summary: every emitted recipe with its
// license confidence, then skipped packages, malformed lines and conflicts.
func printReport(w io.Writer, r *pipeline.Report) {
	printNewline(w)
	fmt.Fprintln(w, StyleTitle.Render("Recipes"))
	if len(r.Emitted) == 0 {
		printDetail(w, "none")
	}
	nameWidth := 0
	for _, e := range r.Emitted {
		nameWidth = max(nameWidth, len(e.Name)+len(e.Version)+1)
	}
	nameStyle := lipgloss.NewStyle().Width(nameWidth + 2)
	for _, e := range r.Emitted {
		fmt.Fprintf(w, "  %s%s %s\n",
			nameStyle.Render(e.Name+" "+StyleDim.Render(e.Version)),
			confidenceStyle(e.Confidence).Render(fmt.Sprintf("%-9s", e.Confidence)),
			StyleValue.Render(e.License))
	}

	if len(r.Skipped) > 0 {
		printNewline(w)
		fmt.Fprintln(w, StyleTitle.Render("Skipped"))
		for _, s := range r.Skipped {
			target := s.Name
			if s.Version != "" {
				target += " " + s.Version
			} else if s.Constraint != "" {
				target += " " + s.Constraint
			}
			printError(w, "%s %s %s", target, StyleError.Render(string(s.Code)), s.Reason)
			if len(s.Dependents) > 0 {
				printDetail(w, "required by %s", strings.Join(s.Dependents, ", "))
			}
		}
	}

	if len(r.Malformed) > 0 {
		printNewline(w)
		fmt.Fprintln(w, StyleTitle.Render("Malformed lines"))
		for _, m := range r.Malformed {
			printError(w, "line %d: %s", m.Line, m.Reason)
		}
	}

	if len(r.Conflicts) > 0 {
		printNewline(w)
		fmt.Fprintln(w, StyleTitle.Render("Version conflicts"))
		for _, c := range r.Conflicts {
			printWarning(w, "%s", c.String())
		}
	}

	printNewline(w)
	printStats(w,
		fmt.Sprintf("%d emitted", len(r.Emitted)),
		fmt.Sprintf("%d skipped", len(r.Skipped)),
		fmt.Sprintf("%d heuristic", len(r.Heuristic)),
		fmt.Sprintf("%d unmapped", len(r.Unmapped)),
		fmt.Sprintf("%d conflicts", len(r.Conflicts)),
	)

	switch r.Status() {
	case pipeline.StatusSuccess:
		printSuccess(w, "Generated %s recipes", StyleNumber.Render(fmt.Sprint(len(r.Emitted))))
	case pipeline.StatusCompletedWithFailures:
		printWarning(w, "Completed with failures: %d skipped, %d malformed", len(r.Skipped), len(r.Malformed))
	case pipeline.StatusCancelled:
		printError(w, "Cancelled after %d recipes", len(r.Emitted))
	}
	if review := r.NeedsReview(); len(review) > 0 {
		names := make([]string, len(review))
		for i, e := range review {
			names[i] = e.Name
		}
		printInfo(w, "Review licenses: %s", strings.Join(names, ", "))
	}
}

func confidenceStyle(c license.Confidence) lipgloss.Style {
	switch c {
	case license.Exact:
		return styleExact
	case license.Heuristic:
		return styleHeuristic
	default:
		return styleUnmapped
	}
}
