// Package main is the CLI entry point for incident-advisor.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iyulab/incident-advisor/internal/analyzer"
	"github.com/iyulab/incident-advisor/internal/config"
	"github.com/iyulab/incident-advisor/internal/failure"
	"github.com/iyulab/incident-advisor/internal/incident"
	"github.com/iyulab/incident-advisor/internal/logging"
	"github.com/iyulab/incident-advisor/internal/processor"
	"github.com/iyulab/incident-advisor/internal/reporter"
	"github.com/iyulab/incident-advisor/internal/sigma"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := newRootCmd()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "advisor [flags] <incident-file>",
		Short: "Security incident analysis with an LLM advisor",
		Long: `incident-advisor reads one JSON incident file, validates it, asks a
chat-completion model for response recommendations and prints them.
The model runs locally (Ollama) by default; OpenAI-compatible servers,
Anthropic and Gemini are also supported.`,
		Args:          exactlyOneFile,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Flags().StringP("config", "c", "", "path to config file (default "+config.DefaultPath+" if present)")
	rootCmd.Flags().String("format", "", "output format: text, json or yaml (overrides config)")
	rootCmd.Flags().String("output-dir", "", "also save the result as JSON in this directory (overrides config)")
	rootCmd.Flags().Bool("validate-only", false, "validate the incident file without calling the model")
	rootCmd.Flags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// usageError marks command-line mistakes.
type usageError struct{ error }

func exactlyOneFile(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usageError{fmt.Errorf("expected exactly one incident file, got %d argument(s)\n  Usage: %s", len(args), cmd.UseLine())}
	}
	return nil
}

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return failure.ExitCode(err)
}

func run(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	formatFlag, _ := cmd.Flags().GetString("format")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	validateOnly, _ := cmd.Flags().GetBool("validate-only")
	verbose, _ := cmd.Flags().GetBool("verbose")

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if formatFlag != "" {
		cfg.Output.Format = formatFlag
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}

	format, err := reporter.ParseFormat(cfg.Output.Format)
	if err != nil {
		return usageError{err}
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if verbose {
		level = logging.DEBUG
	}
	log := logging.New(os.Stderr, level)

	loader := incident.NewLoader(cfg.LoaderConfig())
	rep := reporter.New(os.Stdout, format)

	if validateOnly {
		proc := processor.New(loader, nil, rep, log, processor.Options{})
		_, err := proc.Validate(cmd.Context(), args[0])
		return err
	}

	client, err := newClient(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}

	proc := processor.New(loader, client, rep, log, processor.Options{OutputDir: cfg.Output.Dir})
	_, err = proc.Process(cmd.Context(), args[0])
	return err
}

// newClient wires provider, breaker and rule hints from configuration.
func newClient(ctx context.Context, cfg *config.Config, log *logging.Logger) (*analyzer.Client, error) {
	provider, err := analyzer.NewProvider(ctx, cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	log.Debug("using %s at %q", provider.Name(), cfg.LLM.Endpoint)

	breaker := analyzer.NewBreaker(cfg.Breaker.Threshold, cfg.BreakerCooldown(), analyzer.WithBreakerLogger(log))
	opts := []analyzer.ClientOption{analyzer.WithLogger(log)}

	engine, err := sigma.NewDefault()
	if err != nil {
		log.Warn("rule hints disabled: %v", err)
	} else {
		log.Debug("loaded %d rule(s)", engine.Len())
		opts = append(opts, analyzer.WithRules(engine))
	}

	return analyzer.NewClient(provider, breaker, cfg.ClientConfig(), opts...), nil
}
