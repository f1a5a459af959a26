package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"esoe-hq/pdp/pkg/cli"
	"esoe-hq/pdp/pkg/failures"
	"esoe-hq/pdp/pkg/policy/cache"
	"esoe-hq/pdp/pkg/telemetry/tracing"
)

var failuresFlags struct {
	format string
	maxAge time.Duration
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect undelivered cache clear requests",
	Long: `Inspect and manage the failure repository.

Commands operate on the repository named in the configuration. With the
memory backend the repository only exists inside a running daemon; use
the admin API (GET /v1/failures) instead.

Subcommands:
  list  - List recorded failures
  clear - Remove every recorded failure
  retry - Redeliver recorded failures once`,
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded failures",
	RunE:  listFailures,
}

var failuresClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every recorded failure",
	RunE:  clearFailures,
}

var failuresRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Redeliver recorded failures once",
	Long: `Run one retry pass over the failure repository. Delivered records are
removed; records older than --max-age are dropped without a retry.`,
	RunE: retryFailures,
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	failuresCmd.AddCommand(failuresListCmd, failuresClearCmd, failuresRetryCmd)

	failuresListCmd.Flags().StringVarP(&failuresFlags.format, "format", "f", "text", "output format (text, json, csv)")
	failuresRetryCmd.Flags().DurationVar(&failuresFlags.maxAge, "max-age", 0, "drop records older than this (default: failures.monitor.max_age)")
}

// failureRow is one line of list output.
type failureRow struct {
	Endpoint  string    `json:"endpoint"`
	Timestamp time.Time `json:"timestamp"`
	Digest    string    `json:"digest"`
	Size      int       `json:"size"`
}

type failureRows []failureRow

func (f failureRows) Header() []string { return []string{"TIMESTAMP", "ENDPOINT", "DIGEST", "BYTES"} }

func (f failureRows) Rows() [][]string {
	rows := make([][]string, 0, len(f))
	for _, r := range f {
		rows = append(rows, []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Endpoint,
			r.Digest[:16],
			strconv.Itoa(r.Size),
		})
	}
	return rows
}

func listFailures(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(failuresFlags.format)
	if err != nil {
		return err
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openFailures(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	records, err := repo.List(commandContext(cmd))
	if err != nil {
		return cli.NewCommandError("failures list", err)
	}
	rows := make(failureRows, 0, len(records))
	for _, r := range records {
		rows = append(rows, failureRow{
			Endpoint:  r.Endpoint,
			Timestamp: r.Timestamp,
			Digest:    r.Digest(),
			Size:      len(r.Request),
		})
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), rows)
}

func clearFailures(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openFailures(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	ctx := commandContext(cmd)
	n, err := repo.Size(ctx)
	if err != nil {
		return cli.NewCommandError("failures clear", err)
	}
	if err := repo.ClearFailures(ctx); err != nil {
		return cli.NewCommandError("failures clear", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %d failures\n", n)
	return nil
}

func retryFailures(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openFailures(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	defer tracer.Shutdown(ctx)

	// Redelivery sends stored envelopes as-is; no requests are built.
	notifier, err := newNotifier(cfg, cache.New(), tracer, logger)
	if err != nil {
		return err
	}

	maxAge := cfg.Failures.Monitor.MaxAge
	if failuresFlags.maxAge > 0 {
		maxAge = failuresFlags.maxAge
	}
	monitor, err := failures.NewMonitor(repo, notifier, failures.MonitorConfig{
		Schedule: cfg.Failures.Monitor.Schedule,
		MaxAge:   maxAge,
	}, logger)
	if err != nil {
		return err
	}

	result, err := monitor.RunOnce(ctx)
	if err != nil {
		return cli.NewCommandError("failures retry", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, delivered %d, expired %d, failed %d\n",
		result.Attempted, result.Delivered, result.Expired, result.Failed)
	return nil
}
