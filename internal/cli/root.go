// Package cli holds the command-line entry points.
package cli

import (
	"fmt"
	"slices"

	"github.com/MimeLyc/chunked-sql-translator/internal/config"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
	Format   string // "json" | "text"
	DB       string

	// Service replaces the LLM-backed transformation service (for testing).
	Service transform.Service
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sqltrans",
		Short: "Resumable LLM-driven DDL translation",
		Long: `Convert CREATE TABLE scripts between SQL dialects with an LLM.

Scripts are split into per-table units, converted concurrently and validated.
Every step is checkpointed, so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides LOG_LEVEL (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "checkpoint database, overrides CHECKPOINT_DB")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckpointsCommand(opts))

	return cmd
}

// loadConfig reads the configuration and installs the log level.
func loadConfig(opts *RootOptions, extra ...config.Option) (*config.Config, error) {
	cfgOpts := append([]config.Option{config.WithCheckpointDB(opts.DB)}, extra...)
	if opts.Service != nil {
		cfgOpts = append(cfgOpts, config.WithoutAPIKeyCheck())
	}
	cfg, err := config.NewFromEnv(cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := cfg.System.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log.GetLogger().SetLevel(log.ParseLevel(level))
	return cfg, nil
}
