// Package render draws the resolved dependency closure as a graph.
//
// [ToDOT] produces Graphviz DOT text and [RenderSVG] lays it out with the
// embedded Graphviz library, so no external binaries are needed:
//
//	dot := render.ToDOT(closure, render.Options{Detailed: true})
//	svg, err := render.RenderSVG(ctx, dot)
//
// Node fill marks license review state: white for exact mappings, light
// yellow for heuristic ones and gold for unmapped licenses. Packages that
// failed to resolve are dashed red.
package render
