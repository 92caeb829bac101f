package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matzehuels/piprecipes/pkg/license"
)

// licensesCommand prints the effective license table, or maps the given
// declarations against it.
func (c *CLI) licensesCommand() *cobra.Command {
	var tablePath string

	cmd := &cobra.Command{
		Use:   "licenses [declared-license...]",
		Short: "Show the license table or test declarations against it",
		Example: `  piprecipes licenses
  piprecipes licenses --licenses site-licenses.toml "BSD style" "Apache 2"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tablePath == "" {
				tablePath = os.Getenv(envPrefix + "LICENSES")
			}
			mapper, err := loadLicenses(tablePath)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				printLicenseTable(c, mapper.Entries())
				return nil
			}
			for _, declared := range args {
				printMapping(c, mapper.Map(declared))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tablePath, "licenses", "", "TOML file merged over the built-in license table")
	return cmd
}

func printLicenseTable(c *CLI, entries []license.Entry) {
	idWidth := 0
	for _, e := range entries {
		idWidth = max(idWidth, len(e.ID))
	}
	idStyle := lipgloss.NewStyle().Width(idWidth + 2).Foreground(colorCyan)
	for _, e := range entries {
		sum := e.MD5
		if sum == "" {
			sum = "(package license file)"
		}
		line := idStyle.Render(e.ID) + StyleDim.Render(sum)
		if len(e.Aliases) > 0 {
			line += "  " + StyleValue.Render(strings.Join(e.Aliases, ", "))
		}
		fmt.Fprintln(c.Out, line)
	}
	printNewline(c.Out)
	printStats(c.Out, fmt.Sprintf("%d licenses", len(entries)))
}

func printMapping(c *CLI, m license.Mapping) {
	declared := m.Declared
	if declared == "" {
		declared = "(empty)"
	}
	fmt.Fprintf(c.Out, "%s %s %s %s\n",
		StyleValue.Render(fmt.Sprintf("%q", declared)),
		StyleDim.Render(iconArrow),
		StyleTitle.Render(m.ID),
		confidenceStyle(m.Confidence).Render(string(m.Confidence)))
	if m.ChecksumDeclaration != "" {
		printDetail(c.Out, "%s", m.ChecksumDeclaration)
	}
}
