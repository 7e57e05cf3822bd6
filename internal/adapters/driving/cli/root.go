// Package cli implements the gitscope command tree: pull, validate, and
// version. Commands load the TOML configuration, construct provider
// adapters, and drive the core services.
package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gitscope/agent/internal/logger"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "gitscope",
	Short: "Extract git and issue tracker data for upstream analysis",
	Long: `gitscope pulls commits, pull requests, and issues from configured
git-hosting and issue-tracker instances, normalizes them, and writes
them as JSON batch files for upload.

Credentials are read from environment variables named in the
configuration file; they never appear in the file itself.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configPath, "config", "c", "gitscope.toml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// Status glyph styles for terminal summaries.
var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func okMark() string   { return okStyle.Render("✓") }
func failMark() string { return failStyle.Render("✗") }
