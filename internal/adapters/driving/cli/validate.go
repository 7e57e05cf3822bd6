package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gitscope/agent/internal/config"
	"github.com/gitscope/agent/internal/core/services"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and provider credentials",
	Long: `Loads the configuration file and makes one lightweight API call per
configured provider to verify each credential and each configured
organization or project is reachable. Nothing is extracted.`,
	RunE: runValidate,
}

var validatePrompt bool

func init() {
	validateCmd.Flags().BoolVar(
		&validatePrompt, "prompt", false, "Prompt for credentials whose environment variables are unset")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cmd.Printf("%s Configuration file is valid.\n", okMark())

	if validatePrompt {
		if err := promptMissingCredentials(cmd, cfg); err != nil {
			return err
		}
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

	results := services.NewValidateService(sources, tracker).Validate(ctx)

	failed := 0
	for _, r := range results {
		if r.OK() {
			cmd.Printf("%s %s: credentials and configuration check out\n", okMark(), r.Name)
			continue
		}
		failed++
		cmd.Printf("%s %s: %v\n", failMark(), r.Name, r.Err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed validation", failed, len(results))
	}
	return nil
}

// promptMissingCredentials asks for any credential whose environment
// variable is unset and exports it for the rest of the process. Input is
// read without echo.
func promptMissingCredentials(cmd *cobra.Command, cfg *config.Config) error {
	var envs []string
	for _, g := range cfg.Git {
		envs = append(envs, g.TokenEnv)
	}
	if cfg.Jira != nil {
		envs = append(envs, cfg.Jira.TokenEnv)
	}
	if cfg.Upload.Endpoint != "" {
		envs = append(envs, cfg.Upload.TokenEnv)
	}

	for _, env := range envs {
		if os.Getenv(env) != "" {
			continue
		}
		cmd.Printf("Enter value for %s: ", env)
		value, err := term.ReadPassword(int(os.Stdin.Fd()))
		cmd.Println()
		if err != nil {
			return fmt.Errorf("read credential: %w", err)
		}
		if len(value) == 0 {
			return errors.New("empty credential")
		}
		if err := os.Setenv(env, string(value)); err != nil {
			return err
		}
	}
	return nil
}
