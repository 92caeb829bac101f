package render

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/recipe"
)

// Options configures dependency graph rendering.
type Options struct {
	// Detailed adds the version and license to node labels.
	// When false, only the recipe name is shown.
	Detailed bool
}

// ToDOT converts a resolved closure to Graphviz DOT format. Nodes are recipe
// names, edges run from a package to its runtime dependencies. Packages whose
// license needs review are filled yellow, failed packages are drawn dashed red
// and requested packages have a bold outline.
//
// The output is deterministic for a given closure.
func ToDOT(c *deps.Closure, opts Options) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=TB;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=24, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.5;\n")
	buf.WriteString("  nodesep=0.3;\n")
	buf.WriteString("\n")

	for _, p := range c.Packages {
		fmt.Fprintf(&buf, "  %q [%s];\n", recipe.Name(p.Name), strings.Join(packageAttrs(p, opts.Detailed), ", "))
	}
	for _, f := range c.Failures {
		label := recipe.Name(f.Name)
		if opts.Detailed {
			label += "\n" + string(f.Code)
		}
		fmt.Fprintf(&buf, "  %q [label=%q, style=\"rounded,filled,dashed\", fillcolor=mistyrose, color=red];\n",
			recipe.Name(f.Name), label)
	}

	buf.WriteString("\n")
	for _, e := range c.Edges() {
		fmt.Fprintf(&buf, "  %q -> %q;\n", recipe.Name(e[0]), recipe.Name(e[1]))
	}
	for _, f := range c.Failures {
		for _, from := range f.Dependents {
			fmt.Fprintf(&buf, "  %q -> %q [style=dashed, color=red];\n", recipe.Name(from), recipe.Name(f.Name))
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

func packageAttrs(p deps.ResolvedPackage, detailed bool) []string {
	label := recipe.Name(p.Name)
	if detailed {
		label += fmt.Sprintf("\n%s\n%s", p.Version, p.License.ID)
	}
	attrs := []string{fmt.Sprintf("label=%q", label)}
	switch p.License.Confidence {
	case license.Heuristic:
		attrs = append(attrs, "fillcolor=lightyellow")
	case license.Unmapped:
		attrs = append(attrs, "fillcolor=gold")
	}
	if p.Root {
		attrs = append(attrs, "penwidth=3")
	}
	return attrs
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	tag := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(tag))
}
