// Package pipeline runs a recipe generation from requirements text to
// recipe files.
//
// # Stages
//
//  1. Parse: read requirements, collecting malformed lines
//  2. Resolve: walk the runtime dependency closure
//  3. Inspect (optional): download each sdist for layout and license facts
//  4. Emit: render recipes in name order and hand them to a [Sink]
//
// Per-package failures never stop the run; they are recorded in the [Report].
// The only errors returned by [Runner.Run] are input read failures and
// cancellation.
//
// # Usage
//
//	index := pypi.NewClient(memCache, 0)
//	source := metadata.NewResolver(index, logger)
//	sink, err := pipeline.NewDirSink("out")
//	if err != nil {
//	    return err
//	}
//	runner := pipeline.NewRunner(source, sink, pipeline.Options{Logger: logger})
//	report, err := runner.Run(ctx, file)
//
// Cancelling ctx stops the run at the next package boundary. Recipes already
// written stay on disk; the one being written is discarded.
package pipeline

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/piprecipes/pkg/archive"
	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/recipe"
)

// DefaultInspectConcurrency bounds concurrent archive downloads.
const DefaultInspectConcurrency = 4

// Inspector inspects source archives. [*archive.Inspector] implements it.
type Inspector interface {
	Inspect(ctx context.Context, url, filename, sha256 string) (*archive.Inspection, error)
}

// Options configures a Runner.
type Options struct {
	// Resolution
	Concurrency int                 // Concurrent metadata fetches (default: 8)
	MaxPackages int                 // Closure size cap (default: 5000)
	Policy      deps.ConflictPolicy // Version conflict policy (default: most-restrictive)
	Licenses    *license.Mapper     // License table (default: embedded table)

	// Inspection is enabled when Inspector is set.
	Inspector          Inspector
	InspectConcurrency int // Concurrent archive downloads (default: 4)

	Recipe recipe.Options
	Logger *log.Logger
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.Concurrency <= 0 {
		opts.Concurrency = deps.DefaultConcurrency
	}
	if opts.MaxPackages <= 0 {
		opts.MaxPackages = deps.DefaultMaxPackages
	}
	if opts.Policy == "" {
		opts.Policy = deps.MostRestrictive
	}
	if opts.Licenses == nil {
		opts.Licenses = license.Default()
	}
	if opts.InspectConcurrency <= 0 {
		opts.InspectConcurrency = DefaultInspectConcurrency
	}
	opts.Recipe = opts.Recipe.WithDefaults()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return opts
}

func (o Options) resolverOptions() deps.Options {
	return deps.Options{
		Concurrency: o.Concurrency,
		MaxPackages: o.MaxPackages,
		Policy:      o.Policy,
		Licenses:    o.Licenses,
		Logger:      o.Logger,
	}
}
