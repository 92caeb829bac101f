package cli

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/piprecipes/pkg/archive"
	"github.com/matzehuels/piprecipes/pkg/cache"
	"github.com/matzehuels/piprecipes/pkg/deps"
	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/integrations"
	"github.com/matzehuels/piprecipes/pkg/integrations/pypi"
	"github.com/matzehuels/piprecipes/pkg/license"
	"github.com/matzehuels/piprecipes/pkg/metadata"
	"github.com/matzehuels/piprecipes/pkg/pipeline"
	"github.com/matzehuels/piprecipes/pkg/recipe"
	"github.com/matzehuels/piprecipes/pkg/render"
)

func (c *CLI) generate(ctx context.Context, cfg Config, input string) error {
	logger := loggerFromContext(ctx)
	logger.Debug("configuration", "config", cfg.String())

	in, err := os.Open(input)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return errors.Wrap(errors.ErrCodeFileNotFound, err, "requirements file %s", input)
		}
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "open requirements file %s", input)
	}
	defer in.Close()

	mapper, err := loadLicenses(cfg.Licenses)
	if err != nil {
		return err
	}
	policy, err := deps.ParseConflictPolicy(cfg.ConflictPolicy)
	if err != nil {
		return err
	}
	sink, err := pipeline.NewDirSink(cfg.Output)
	if err != nil {
		return err
	}

	memCache, err := cache.NewMemoryCache(cfg.CacheSize)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "create cache")
	}
	defer memCache.Close()

	index := pypi.NewClient(memCache, 0)
	index.SetBaseURL(cfg.IndexURL)
	index.SetRetryPolicy(cfg.retryPolicy())

	opts := pipeline.Options{
		Concurrency: cfg.Concurrency,
		MaxPackages: cfg.MaxPackages,
		Policy:      policy,
		Licenses:    mapper,
		Recipe:      recipe.Options{Extension: cfg.Extension},
		Logger:      logger,
	}
	if cfg.Inspect {
		files := integrations.NewClient(nil, "files", 0, nil)
		files.SetRetryPolicy(cfg.retryPolicy())
		opts.Inspector = archive.NewInspector(files, 0, logger)
	}

	printKeyValue(c.Out, "Requirements", input)
	printKeyValue(c.Out, "Output", sink.Root())
	printKeyValue(c.Out, "Index", cfg.IndexURL)

	prog := newProgress(logger)
	runner := pipeline.NewRunner(metadata.NewResolver(index, logger), sink, opts)
	report, runErr := runner.Run(ctx, in)
	if report == nil {
		return runErr
	}
	prog.done(fmt.Sprintf("Wrote %d recipes to %s", len(report.Emitted), sink.Root()))
	printReport(c.Out, report)

	if cfg.Report != "" {
		var buf bytes.Buffer
		if err := report.WriteJSON(&buf); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, err, "encode report")
		}
		if err := writeOutput(cfg.Report, buf.Bytes()); err != nil {
			return err
		}
		printFile(c.Out, cfg.Report)
	}
	if cfg.Graph != "" && runErr == nil {
		if err := writeGraph(ctx, cfg.Graph, report.Closure); err != nil {
			return err
		}
		printFile(c.Out, cfg.Graph)
	}

	if runErr != nil {
		return runErr
	}
	if report.Status() == pipeline.StatusCompletedWithFailures {
		return exitWithFailures(len(report.Skipped), len(report.Malformed))
	}
	return nil
}

func loadLicenses(path string) (*license.Mapper, error) {
	if path == "" {
		return license.Default(), nil
	}
	table, err := license.LoadTable(path)
	if err != nil {
		return nil, err
	}
	return license.NewMapper(table)
}

func writeGraph(ctx context.Context, path string, closure *deps.Closure) error {
	dot := render.ToDOT(closure, render.Options{Detailed: true})
	if strings.EqualFold(filepath.Ext(path), ".dot") {
		return writeOutput(path, []byte(dot))
	}
	svg, err := render.RenderSVG(ctx, dot)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "render graph")
	}
	return writeOutput(path, svg)
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidPath, err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write %s", path)
	}
	return nil
}

func isContextErr(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
