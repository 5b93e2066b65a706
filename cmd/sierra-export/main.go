// Command sierra-export exports catalog records changed since the last run
// and delivers them to the configured channels.
//
// Usage:
//
//	sierra-export [flags] <catalog-updates|catalog-deletions|enrichment-feed|all>
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/sierra-export/pkg/config"
	"github.com/Sternrassler/sierra-export/pkg/logging"
	"github.com/Sternrassler/sierra-export/pkg/metrics"
	"github.com/Sternrassler/sierra-export/pkg/querytype"
	"github.com/Sternrassler/sierra-export/pkg/ratelimit"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sierra-export [flags] <query-type|all>",
		Short: "Export changed catalog records and deliver them",
		Long: fmt.Sprintf(`Export catalog records modified since the last successful run as MARC
files and deliver them to the configured channels.

Valid query types: %s, %s`, strings.Join(querytype.Names(), ", "), querytype.All),
		Args: validateArgs,
		RunE: runExport,
	}

	rootCmd.Flags().String("config", "config.yaml", "Path to configuration file (YAML format)")
	rootCmd.Flags().String("env-file", ".env", "Optional file of environment overrides")
	rootCmd.Flags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Human-readable console logs")

	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func validateArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	_, err := querytype.Lookup(args[0])
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sierra-export %s (commit %s, built %s, %s %s/%s)\n",
				version, commit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	// Past argument validation, failures are runtime errors, not usage errors.
	cmd.SilenceUsage = true

	types, err := querytype.Lookup(args[0])
	if err != nil {
		return err
	}

	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	rootLogger, closer, err := setupLogging(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := logging.NewLogger("cli")

	channels := make([]string, 0, len(types))
	for _, qt := range types {
		channels = append(channels, qt.DeliveryChannel)
	}
	if err := cfg.RequireChannels(channels...); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := build(ctx, cfg, rootLogger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize")
		return err
	}
	defer job.Close()

	logger.Info().
		Str("query_type", args[0]).
		Str("version", version).
		Msg("Starting export")

	report, runErr := job.runner.Run(ctx, types)
	if runErr != nil {
		logger.Error().
			Err(runErr).
			Str("report", report.String()).
			Msg("Export run failed")
	}
	logCooldowns(logger, job.cooldown.State(), time.Now())

	if err := metrics.RecordBuildInfo(version, commit, runtime.Version()); err != nil {
		logger.Warn().Err(err).Msg("Failed to record build info")
	}
	if cfg.Metrics.PushgatewayURL != "" {
		grouping := map[string]string{"query_type": strings.ToLower(args[0])}
		if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, grouping); err != nil {
			logger.Warn().Err(err).Msg("Failed to push metrics")
		}
	}

	return runErr
}

// applyFlags lets explicit command-line flags override the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("log-level") {
		level, _ := cmd.Flags().GetString("log-level")
		if !logging.ValidLevel(level) {
			return fmt.Errorf("--log-level: unknown level %q", level)
		}
		cfg.Logging.Level = level
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty, _ = cmd.Flags().GetBool("pretty")
	}
	return nil
}

// logCooldowns reports the rate-limit cool-downs taken during the run.
func logCooldowns(logger zerolog.Logger, state ratelimit.State, now time.Time) {
	if !state.Throttled() {
		logger.Debug().Msg("No rate-limit cool-downs during run")
		return
	}
	logger.Info().
		Int("cooldowns", state.Cooldowns).
		Dur("total_wait", state.TotalWait).
		Dur("since_last_cooldown", state.Since(now)).
		Msg("Run was rate limited")
}

func setupLogging(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, io.Closer, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.Level)
	logCfg.Pretty = cfg.Pretty
	if out != nil {
		logCfg.Output = out
	}
	if cfg.File == "" {
		return logging.Setup(logCfg), nil, nil
	}
	return logging.SetupWithFile(logCfg, cfg.File)
}
