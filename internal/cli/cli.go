// Package cli implements the piprecipes command-line interface.
//
// The root command takes a requirements file and writes one BitBake recipe
// per package of its runtime dependency closure:
//
//	piprecipes -o meta-python-extra requirements.txt
//
// Configuration comes from defaults, then piprecipes.toml (or --config),
// then PIPRECIPES_* environment variables (a .env file is loaded first),
// then flags. The licenses subcommand prints the effective license table.
//
// Loggers are passed through context.Context; --verbose switches them to
// debug level.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/piprecipes/pkg/buildinfo"
)

// appName is the binary name used in usage and the User-Agent.
const appName = "piprecipes"

// Exit codes.
const (
	ExitOK        = 0
	ExitAborted   = 1
	ExitFailures  = 2
	ExitCancelled = 130
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// ExitError carries a process exit code for runs that completed but must not
// exit with 0.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string { return e.Msg }

// CLI holds state shared by all commands.
type CLI struct {
	Logger *log.Logger
	Out    io.Writer
}

// New creates a CLI logging to logw and printing results to out.
func New(out, logw io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(logw, level), Out: out}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

const rootLong = `piprecipes resolves a pip requirements file against PyPI, walks the runtime
dependency closure and writes one BitBake recipe per package under
recipes/<name>/python3-<name>_<version>.bb.`

// RootCommand creates the root command with its subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	var (
		flags   flagValues
		verbose bool
	)
	root := &cobra.Command{
		Use:           appName + " [flags] <requirements.txt>",
		Short:         "Generate BitBake recipes for Python requirements",
		Long:          rootLong,
		Version:       buildinfo.Resolved(),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				c.SetLogLevel(LogDebug)
			}
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &flags)
			if err != nil {
				return err
			}
			return c.generate(cmd.Context(), cfg, args[0])
		},
	}
	root.SetVersionTemplate(buildinfo.Template())
	root.SetOut(c.Out)
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	flags.register(root)

	root.AddCommand(c.licensesCommand())
	return root
}

// Execute runs the command line in args and returns the process exit code.
func (c *CLI) Execute(ctx context.Context, args []string) int {
	root := c.RootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return c.exitCode(ctx, err)
}

func (c *CLI) exitCode(ctx context.Context, err error) int {
	if err == nil {
		return ExitOK
	}
	if ctx.Err() != nil || isContextErr(err) {
		return ExitCancelled
	}
	if exit, ok := err.(*ExitError); ok {
		return exit.Code
	}
	printError(c.Out, "%v", err)
	return ExitAborted
}

func exitWithFailures(skipped, malformed int) error {
	return &ExitError{
		Code: ExitFailures,
		Msg:  fmt.Sprintf("completed with %d skipped packages and %d malformed lines", skipped, malformed),
	}
}
