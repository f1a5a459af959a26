package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"esoe-hq/pdp/pkg/cli"
	"esoe-hq/pdp/pkg/config"
	"esoe-hq/pdp/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "pdpd",
	Short: "pdpd - SAML2 policy decision point",
	Long: `pdpd answers authorization requests from SAML2 enforcement points
against a cache of policies loaded from a policy store.

When policies change it sends each affected enforcement point a signed
cache clear request carrying the resources it protects. Requests that
cannot be delivered are recorded for inspection and retry.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pdpd.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the configuration named by --config with environment
// overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger. Command output goes to stdout, so
// logs go to stderr.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, os.Stderr))
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err)
	}
	return logger, nil
}

// setup loads the configuration and logger shared by every command.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// commandContext returns the command's context, or Background when the
// command was invoked without one.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
