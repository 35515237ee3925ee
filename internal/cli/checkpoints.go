package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MimeLyc/chunked-sql-translator/internal/checkpoint"
	"github.com/MimeLyc/chunked-sql-translator/internal/config"
	"github.com/MimeLyc/chunked-sql-translator/internal/transform"
	"github.com/spf13/cobra"
)

// offline stands in for the transformation service in commands that only
// read the checkpoint database.
var offline = transform.ServiceFunc(func(context.Context, transform.Request) (*transform.Result, error) {
	return nil, fmt.Errorf("transformation service is not available in this command")
})

func newCheckpointsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Inspect and prune the checkpoint database",
	}
	cmd.AddCommand(newCheckpointsListCommand(rootOpts))
	cmd.AddCommand(newCheckpointsProgressCommand(rootOpts))
	cmd.AddCommand(newCheckpointsPruneCommand(rootOpts))
	return cmd
}

func openOffline(rootOpts *RootOptions) (*app, error) {
	cfg, err := loadConfig(rootOpts, config.WithoutAPIKeyCheck())
	if err != nil {
		return nil, err
	}
	svc := rootOpts.Service
	if svc == nil {
		svc = offline
	}
	return newApp(cfg, svc)
}

func newCheckpointsListCommand(rootOpts *RootOptions) *cobra.Command {
	var prefix bool
	cmd := &cobra.Command{
		Use:   "list <thread>",
		Short: "List the snapshots of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openOffline(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			scope := checkpoint.ScopeExact
			if prefix {
				scope = checkpoint.ScopePrefix
			}
			snaps, err := a.store.List(cmd.Context(), args[0], scope)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				if snaps == nil {
					snaps = []checkpoint.Snapshot{}
				}
				return json.NewEncoder(w).Encode(snaps)
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tSTEP\tNODE\tTHREAD\tID")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", s.CreatedAt.Format(time.RFC3339), s.Step, s.Node, s.ThreadKey, s.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&prefix, "prefix", false, "include every thread starting with <thread>")
	return cmd
}

func newCheckpointsProgressCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <task-id>",
		Short: "Summarize a job lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openOffline(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.engine.Progress(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(w).Encode(p)
			}
			stage := string(p.Stage)
			if stage == "" {
				stage = "unknown"
			}
			fmt.Fprintf(w, "task %s\nstage %s\nunits %d done, %d failed, %d total (%.1f%%)\nsnapshots %d\n",
				p.TaskID, stage, p.DoneUnits, p.FailedUnits, p.TotalUnits, p.Percent, p.Snapshots)
			return nil
		},
	}
}

func newCheckpointsPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			a, err := openOffline(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d snapshots\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff, e.g. 72h (required)")
	_ = cmd.MarkFlagRequired("older-than")
	return cmd
}
