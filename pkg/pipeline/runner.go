package pipeline

import (
	"context"
	stderrors "errors"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/piprecipes/pkg/archive"
	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/observability"
	"github.com/matzehuels/piprecipes/pkg/recipe"
	"github.com/matzehuels/piprecipes/pkg/requirements"
)

// Runner drives one recipe generation run per call to Run. It holds no state
// between runs beyond what its source memoizes.
type Runner struct {
	source   deps.Source
	sink     Sink
	opts     Options
	renderer *recipe.Renderer
}

// NewRunner creates a Runner resolving against source and writing to sink.
func NewRunner(source deps.Source, sink Sink, opts Options) *Runner {
	opts = opts.WithDefaults()
	return &Runner{
		source:   source,
		sink:     sink,
		opts:     opts,
		renderer: recipe.NewRenderer(opts.Recipe),
	}
}

// Run reads requirements from in and emits one recipe per resolved package.
//
// The report is returned even when err is non-nil, except when in could not be
// read. On cancellation err is ctx.Err() and the report lists what was
// emitted before it.
func (r *Runner) Run(ctx context.Context, in io.Reader) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	logger := r.opts.Logger

	file, err := requirements.Collect(requirements.Parse(in))
	if err != nil {
		return nil, err
	}
	report.Requirements = len(file.Requirements)
	for _, m := range file.Malformed {
		report.Malformed = append(report.Malformed, MalformedLine{Line: errors.GetLine(m), Reason: errors.UserMessage(m)})
		logger.Warn("malformed requirement", "line", errors.GetLine(m), "err", errors.UserMessage(m))
	}
	observability.Pipeline().OnParseComplete(ctx, len(file.Requirements), len(file.Malformed), time.Since(start))
	logger.Info("parsed requirements", "requirements", len(file.Requirements), "malformed", len(file.Malformed))

	resolveStart := time.Now()
	closure, err := deps.NewResolver(r.source, r.opts.resolverOptions()).ResolveClosure(ctx, file.Requirements)
	report.Closure = closure
	report.Conflicts = closure.Conflicts
	for _, f := range closure.Failures {
		report.skip(SkippedPackage{Name: f.Name, Constraint: f.Constraint, Code: f.Code, Reason: f.Reason, Dependents: f.Dependents})
	}
	if err != nil {
		return report.finish(start, err)
	}
	logger.Info("resolved closure", "packages", len(closure.Packages), "failures", len(closure.Failures),
		"conflicts", len(closure.Conflicts), "duration", time.Since(resolveStart))

	if r.opts.Inspector != nil {
		if err := r.inspect(ctx, closure, report); err != nil {
			return report.finish(start, err)
		}
	}

	for _, pkg := range closure.Packages {
		if err := ctx.Err(); err != nil {
			logger.Warn("emission cancelled", "emitted", len(report.Emitted))
			return report.finish(start, err)
		}
		if err := validatePackage(pkg); err != nil {
			logger.Error("unsafe package identity", "package", pkg.Name, "version", pkg.Version, "err", err)
			report.skip(skipped(pkg, err))
			continue
		}
		rec := r.renderer.Render(pkg)
		err := r.sink.Write(ctx, rec)
		observability.Pipeline().OnRecipeEmitted(ctx, rec.Path, err)
		if err != nil {
			if isContextErr(err) {
				return report.finish(start, err)
			}
			logger.Error("write recipe", "package", pkg.Name, "path", rec.Path, "err", err)
			report.skip(skipped(pkg, err))
			continue
		}
		logger.Debug("emitted recipe", "package", pkg.Name, "version", pkg.Version, "path", rec.Path)
		report.emit(pkg, rec.Path)
	}
	return report.finish(start, nil)
}

// inspect downloads and inspects the archive of every package in the
// closure, at most InspectConcurrency at a time. Packages whose inspection
// fails move from the closure's packages to its failures and are recorded as
// skipped.
func (r *Runner) inspect(ctx context.Context, closure *deps.Closure, report *Report) error {
	packages := closure.Packages
	type outcome struct {
		insp *archive.Inspection
		err  error
	}
	results := make([]outcome, len(packages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.InspectConcurrency)
	for i, pkg := range packages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].err = err
				return err
			}
			insp, err := r.opts.Inspector.Inspect(gctx, pkg.SourceURL, pkg.Filename, pkg.Checksum.Hex)
			results[i] = outcome{insp, err}
			if isContextErr(err) {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	kept := make([]deps.ResolvedPackage, 0, len(packages))
	for i, pkg := range packages {
		res := results[i]
		if res.err != nil {
			r.opts.Logger.Warn("inspection failed", "package", pkg.Name, "version", pkg.Version, "err", res.err)
			report.skip(skipped(pkg, res.err))
			closure.Failures = append(closure.Failures, deps.Failure{
				Name:       pkg.Name,
				Constraint: "==" + pkg.Version,
				Code:       errors.GetCode(res.err),
				Reason:     errors.UserMessage(res.err),
				Dependents: pkg.Dependents,
				Err:        res.err,
			})
			continue
		}
		pkg.Source = res.insp
		if len(res.insp.LicenseText) > 0 {
			pkg.License = r.opts.Licenses.MapText(pkg.DeclaredLicense, res.insp.LicenseText)
		}
		kept = append(kept, pkg)
	}
	closure.Packages = kept
	sort.Slice(closure.Failures, func(i, j int) bool { return closure.Failures[i].Name < closure.Failures[j].Name })
	return nil
}

// validatePackage rejects index-supplied names and versions that cannot be
// used in a recipe path.
func validatePackage(pkg deps.ResolvedPackage) error {
	if err := errors.ValidatePythonPackageName(pkg.Name); err != nil {
		return err
	}
	return errors.ValidateVersionSegment(pkg.Version)
}

func skipped(pkg deps.ResolvedPackage, err error) SkippedPackage {
	return SkippedPackage{
		Name:       pkg.Name,
		Version:    pkg.Version,
		Code:       errors.GetCode(err),
		Reason:     errors.UserMessage(err),
		Dependents: pkg.Dependents,
	}
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
