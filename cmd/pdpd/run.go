package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"esoe-hq/pdp/pkg/cli"
	"esoe-hq/pdp/pkg/config"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the policy decision point",
	Long: `Start the policy decision point with the specified configuration.

The daemon loads policies from the configured store, notifies every
enforcement point of its current policies, then polls the store and sends
cache clear requests whenever policies change. Authorization requests and
enforcement point startup notifications are served on the admin API.

Examples:
  # Start with default config
  pdpd run

  # Start with custom config
  pdpd run --config /etc/pdp/pdpd.yaml

  # Override listen address
  pdpd run --listen 0.0.0.0:8480

  # Validate config without starting
  pdpd run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")
		return nil
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	ctx, stop := cli.SetupSignalHandler(commandContext(cmd))
	defer stop()

	runErr := d.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := d.close(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return cli.NewCommandError("run", runErr)
	}
	logger.Info("pdpd stopped")
	return nil
}
