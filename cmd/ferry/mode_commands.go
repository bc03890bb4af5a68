package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ferry/internal/logging"
	"ferry/internal/preflight"
)

func newModeCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newOnceCommand(ctx),
		newRunCommand(ctx),
		newServeCommand(ctx),
		newTestConnectionCommand(ctx),
		newDownloadCommand(ctx),
		newCleanupCommand(ctx),
	}
}

func newOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single polling cycle and exit (0 ok, 1 failed, 2 partial)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, release, err := ctx.openDaemon(true)
			if err != nil {
				return err
			}
			defer release()

			controller := d.Controller()
			stopWatching := controller.Watch(cmd.Context())
			defer stopWatching()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Running single cycle...")
			stats := d.RunOnce(cmd.Context())
			fmt.Fprintf(out, "Cycle finished: %d pending, %d processed, %d succeeded, %d failed (%s)\n",
				stats.Pending, stats.Processed, stats.Successful, stats.Failed, stats.Duration().Round(time.Millisecond))
			if stats.Aborted != "" {
				fmt.Fprintf(out, "Cycle aborted: %s\n", stats.Aborted)
			}

			if controller.Interrupted() {
				fmt.Fprintln(out, "Interrupted by user")
				return withExitCode(exitInterrupted, nil)
			}
			return withExitCode(cycleExitCode(stats), nil)
		},
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the inbox continuously until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, logger, release, err := ctx.openDaemon(true)
			if err != nil {
				return err
			}
			defer release()

			cfg, _ := ctx.ensureConfig()
			interval := cfg.PollInterval()
			if intervalSeconds > 0 {
				interval = time.Duration(intervalSeconds) * time.Second
			}

			stopWatching := d.Controller().Watch(cmd.Context())
			defer stopWatching()
			logStartupChecks(cmd, logger, ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Polling %s every %s (Ctrl+C to stop)\n", cfg.Inbox.MonitorDir, interval)
			summary := d.RunContinuous(cmd.Context(), interval)
			fmt.Fprintf(out, "Stopped after %d cycles in %s: %d processed, %d succeeded, %d failed",
				summary.Cycles, summary.Runtime.Round(time.Second), summary.Totals.Processed, summary.Totals.Successful, summary.Totals.Failed)
			if summary.Totals.Processed > 0 {
				fmt.Fprintf(out, " (%.1f%% success)", summary.Totals.SuccessRate())
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&intervalSeconds, "interval", "i", 0, "Seconds between cycles (default workflow.poll_interval)")
	return cmd
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var pollSeconds int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept push notifications on the webhook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, logger, release, err := ctx.openDaemon(true)
			if err != nil {
				return err
			}
			defer release()

			stopWatching := d.Controller().Watch(cmd.Context())
			defer stopWatching()
			logStartupChecks(cmd, logger, ctx)

			cfg, _ := ctx.ensureConfig()
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook listening on %s (Ctrl+C to stop)\n", cfg.Webhook.Bind)
			return d.Serve(cmd.Context(), time.Duration(pollSeconds)*time.Second)
		},
	}
	cmd.Flags().IntVar(&pollSeconds, "poll-interval", 0, "Also poll the inbox every N seconds (0 disables polling)")
	return cmd
}

func newTestConnectionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Probe the destination and exit 0 when reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, release, err := ctx.openDaemon(false)
			if err != nil {
				return err
			}
			defer release()

			cfg, _ := ctx.ensureConfig()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Testing connection to %s...\n", cfg.Destination.URL)
			if err := d.TestConnection(cmd.Context()); err != nil {
				fmt.Fprintf(out, "Connection failed: %v\n", err)
				return withExitCode(exitFailure, nil)
			}
			fmt.Fprintln(out, "Connection successful")
			return nil
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Fetch pending inbox items without processing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, release, err := ctx.openDaemon(false)
			if err != nil {
				return err
			}
			defer release()

			items, err := d.Download(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pending items: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, item := range items {
				fmt.Fprintf(out, "  %s -> %s\n", item.Label(), item.Locator)
			}
			fmt.Fprintf(out, "Fetched %d item(s)\n", len(items))
			return nil
		},
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old downloads, work directories and ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, release, err := ctx.openDaemon(false)
			if err != nil {
				return err
			}
			defer release()

			d.Cleanup(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Cleanup complete")
			return nil
		},
	}
}

// logStartupChecks records preflight failures without refusing to start;
// the cycle driver reports an unreachable destination on every cycle anyway.
func logStartupChecks(cmd *cobra.Command, logger *slog.Logger, ctx *commandContext) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return
	}
	for _, result := range preflight.Failed(preflight.RunAll(cmd.Context(), cfg)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `ferry check` for details"),
			logging.String(logging.FieldImpact, "affected items will fail until resolved"),
		)
	}
}
