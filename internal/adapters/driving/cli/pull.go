package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gitscope/agent/internal/config"
	"github.com/gitscope/agent/internal/core/ports/driven"
	"github.com/gitscope/agent/internal/core/services"
	"github.com/gitscope/agent/internal/extract/window"
	"github.com/gitscope/agent/internal/storage/sqlite"
	"github.com/gitscope/agent/internal/upload"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Extract data from every configured provider",
	Long: `Runs a full extraction: users, projects, repositories, commits, and
pull requests from each git instance, plus issues and metadata from the
issue tracker when one is configured.

Batch files are written to a timestamped directory under the configured
output directory, then uploaded unless upload is disabled.`,
	RunE: runPull,
}

var (
	pullStatePath string
	pullOutDir    string
	pullNoUpload  bool
)

func init() {
	pullCmd.Flags().StringVarP(
		&pullStatePath, "state", "s", "", "Path to the instance state file (optional)")
	pullCmd.Flags().StringVarP(
		&pullOutDir, "out", "o", "", "Override the configured output directory")
	pullCmd.Flags().BoolVar(
		&pullNoUpload, "no-upload", false, "Write batch files but skip the upload step")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if pullOutDir != "" {
		cfg.OutDir = pullOutDir
	}

	var state *window.InstanceState
	if pullStatePath != "" {
		loaded, err := window.LoadFile(pullStatePath)
		if err != nil {
			return err
		}
		state = &loaded
	}

	sources, closeSources, err := buildGitSources(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSources()

	tracker, err := buildTracker(cfg)
	if err != nil {
		return err
	}
	if tracker != nil {
		defer func() { _ = tracker.Close() }()
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	ledger, err := sqlite.Open(filepath.Join(cfg.OutDir, "gitscope.db"))
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	svc := services.NewPullService(sources, tracker, ledger, state, services.PullOptions{
		OutDir:    cfg.OutDir,
		Compress:  cfg.Compress,
		BatchSize: cfg.BatchSize,
	})

	result, err := svc.Run(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	printRunSummary(ctx, cmd, ledger, result)

	if pullNoUpload || cfg.Upload.Endpoint == "" {
		cmd.Printf("\nBatch files left in %s (upload skipped).\n", result.OutDir)
		return nil
	}
	return uploadRun(ctx, cmd, cfg, ledger, result)
}

// printRunSummary lists per-kind outcomes from the ledger, then any repos
// or kinds that failed.
func printRunSummary(ctx context.Context, cmd *cobra.Command, ledger driven.RunLedger, result *services.RunResult) {
	cmd.Printf("\nRun %s\n", result.RunID)

	entries, err := ledger.Entries(ctx, result.RunID)
	if err != nil {
		cmd.Printf("  %s could not read run ledger: %v\n", failMark(), err)
	}
	for _, e := range entries {
		mark := okMark()
		if e.Status == driven.StatusFailed {
			mark = failMark()
		}
		cmd.Printf("  %s %s/%s: %d records in %d file(s)\n",
			mark, e.Provider, e.Kind, e.Records, e.Files)
	}

	for _, repo := range result.FailedRepos {
		cmd.Printf("  %s\n", warnStyle.Render(
			fmt.Sprintf("repo %s failed mid-stream; its window will not advance", repo)))
	}
	for _, kind := range result.FailedKinds {
		cmd.Printf("  %s\n", warnStyle.Render(fmt.Sprintf("%s produced no output", kind)))
	}
}

// uploadRun ships the run's batch files and flips the ledger entries to
// uploaded.
func uploadRun(ctx context.Context, cmd *cobra.Command, cfg *config.Config, ledger driven.RunLedger, result *services.RunResult) error {
	token, err := cfg.Upload.Token()
	if err != nil {
		return err
	}

	cmd.Printf("\nUploading to %s...\n", cfg.Upload.Endpoint)
	if err := upload.New(cfg.Upload.Endpoint, token).UploadDir(ctx, result.RunID, result.OutDir); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	entries, err := ledger.Entries(ctx, result.RunID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Status != driven.StatusWritten {
			continue
		}
		if err := ledger.MarkUploaded(ctx, result.RunID, e.Provider, e.Kind); err != nil {
			return err
		}
	}
	cmd.Printf("%s Upload complete.\n", okMark())
	return nil
}
