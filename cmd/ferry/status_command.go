package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ferry/internal/config"
	"ferry/internal/daemonctl"
	"ferry/internal/ledger"
	"ferry/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, readiness checks and recent transfer counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			running := renderStatusLine("Instance", statusInfo, "Not running", colorize)
			if instance, err := daemonctl.Inspect(cfg); err != nil {
				running = renderStatusLine("Instance", statusWarn, err.Error(), colorize)
			} else if instance.Running {
				running = renderStatusLine("Instance", statusOK, fmt.Sprintf("Running (pid %d)", instance.PID), colorize)
			}
			printSection(out, "Ferry", colorize,
				renderStatusLine("Config", statusInfo, displayConfigPath(ctx.configPath, ctx.configSeen), colorize),
				running,
				renderStatusLine("Monitor directory", statusInfo, cfg.Inbox.MonitorDir, colorize),
				renderStatusLine("Destination", statusInfo, cfg.Destination.URL+cfg.Destination.UploadPath, colorize),
				renderStatusLine("Poll interval", statusInfo, cfg.PollInterval().String(), colorize),
				renderStatusLine("Retry policy", statusInfo, fmt.Sprintf("%d attempt(s), %s delay, %.0f%% threshold",
					cfg.Workflow.MaxRetryAttempts, cfg.RetryDelay(), cfg.Workflow.SuccessRatio*100), colorize),
				renderStatusLine("Webhook", statusInfo, fmt.Sprintf("%s (auth %s, %d workers, %s on full)",
					cfg.Webhook.Bind, yesNo(cfg.Webhook.EnableAuth), cfg.Webhook.Workers, cfg.Webhook.Overflow), colorize),
			)

			var checks []string
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				checks = append(checks, renderCheck(result, colorize))
			}
			printSection(out, "Checks", colorize, checks...)

			if cfg.Ledger.Enabled {
				lines, err := ledgerStatusLines(cmd.Context(), cfg, colorize)
				if err != nil {
					lines = []string{renderStatusLine("Ledger", statusError, err.Error(), colorize)}
				}
				printSection(out, "History", colorize, lines...)
			}
			return nil
		},
	}
}

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run readiness checks and exit 1 when any fails",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				fmt.Fprintln(out, renderCheck(result, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return withExitCode(exitFailure, fmt.Errorf("%d check(s) failed", len(failed)))
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished items from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Ledger.Enabled {
				return fmt.Errorf("ledger is disabled (set ledger.enabled = true)")
			}
			store, err := ledger.Open(cfg.Ledger.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history recorded yet")
				return nil
			}
			fmt.Fprintln(out, renderHistory(entries, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	return cmd
}

func renderHistory(entries []ledger.Entry, colorize bool) string {
	title := cases.Title(language.English)
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := e.Reason
		if e.FailureKind != "" {
			detail = fmt.Sprintf("%s: %s", title.String(e.FailureKind), e.Reason)
		}
		if len(e.Warnings) > 0 {
			detail = strings.TrimSpace(detail + " (" + strconv.Itoa(len(e.Warnings)) + " warning(s))")
		}
		rows = append(rows, []string{
			e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			e.Name,
			title.String(e.Trigger),
			title.String(e.Status),
			fmt.Sprintf("%d/%d", e.Successful, e.Total),
			strconv.Itoa(e.Attempts),
			detail,
		})
	}
	return renderTable(
		[]string{"Finished", "Item", "Trigger", "Status", "Sent", "Attempts", "Detail"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		3,
		colorize,
	)
}

func ledgerStatusLines(ctx context.Context, cfg *config.Config, colorize bool) ([]string, error) {
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return nil, err
	}
	lines := []string{
		renderStatusLine("Items", statusInfo, fmt.Sprintf("%d succeeded, %d failed", counts.Success, counts.Failure), colorize),
		renderStatusLine("Transmissions", statusInfo, strconv.Itoa(counts.Transmissions), colorize),
		renderStatusLine("Cycles", statusInfo, strconv.Itoa(counts.Cycles), colorize),
	}
	last, ok, err := store.LastCycle(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		kind := statusOK
		detail := fmt.Sprintf("%s ago: %d processed, %d succeeded, %d failed",
			time.Since(last.FinishedAt).Round(time.Second), last.Processed, last.Succeeded, last.Failed)
		switch {
		case last.Aborted != "":
			kind = statusError
			detail = fmt.Sprintf("%s ago: aborted (%s)", time.Since(last.FinishedAt).Round(time.Second), last.Aborted)
		case last.Failed > 0:
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Last cycle", kind, detail, colorize))
	}
	return lines, nil
}

func displayConfigPath(path string, exists bool) string {
	if strings.TrimSpace(path) == "" {
		return "defaults"
	}
	if !exists {
		return path + " (not found, defaults used)"
	}
	return path
}
