// Package cli provides the command-line interface for copbot.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/copbot/copbot-go/internal/config"
	"github.com/copbot/copbot-go/internal/db"
	"github.com/copbot/copbot-go/internal/llm"
	"github.com/copbot/copbot-go/internal/metrics"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and db client
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	dbClient   *db.Client

	// Shared metrics collector
	collector = metrics.NewCollector()

	// Lazy-initialized LLM model
	model *llm.Model
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "copbot",
	Short: "Conversational police assistance chatbot",
	Long: `CopBot is a conversational assistant for police records, judicial
references and law enforcement procedures.

Conversations are organized into named chat sessions that sync live across
clients. Messages can be typed or spoken; replies come from the configured
LLM provider with the full conversation as context.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		// The chat TUI logs to file only; everything else logs to
		// stderr and file.
		if cmd.Name() == "chat" {
			logger, logCleanup = config.SetupFileLogger(cfg.LogFile, level)
		} else {
			logger, logCleanup = config.SetupLogger(cfg.LogFile, level)
		}
		slog.SetDefault(logger)

		// Connect to database
		ctx := context.Background()
		dbCfg := db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}

		var err error
		dbClient, err = db.NewClient(ctx, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		dbClient.SetMetrics(collector)

		// Initialize schema
		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logRuntimeStats()
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// logRuntimeStats writes the collected runtime statistics to the log before
// shutdown.
func logRuntimeStats() {
	if logger == nil {
		return
	}
	snap := collector.Snapshot()
	attrs := []any{"uptime_s", snap.UptimeSeconds}
	if snap.Completion != nil {
		attrs = append(attrs, "completions", snap.Completion.Count,
			"completion_avg_ms", snap.Completion.AvgTimeMs)
	}
	if snap.TitleInference != nil {
		attrs = append(attrs, "title_inferences", snap.TitleInference.Count)
	}
	if snap.SessionQuery != nil {
		attrs = append(attrs, "session_queries", snap.SessionQuery.Count)
	}
	if snap.SessionWrite != nil {
		attrs = append(attrs, "session_writes", snap.SessionWrite.Count)
	}
	logger.Debug("runtime stats", attrs...)
}

// getModel initializes the LLM model on first use.
func getModel() (*llm.Model, error) {
	if model == nil {
		var err error
		model, err = llm.NewModel(cfg, collector)
		if err != nil {
			return nil, fmt.Errorf("init model: %w", err)
		}
	}
	return model, nil
}

// userID resolves the configured user identity. Chat operations refuse to
// run without one.
func userID() (string, error) {
	if cfg.UserID == "" {
		return "", fmt.Errorf("no user configured: set user_id in the config file or COPBOT_USER_ID")
	}
	return cfg.UserID, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// exitWithError prints an error message and exits with code 1.
func exitWithError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
