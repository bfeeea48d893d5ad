// Package cli implements the centi command line: the daemon entry point and
// offline tools for the configuration, rate table and policy.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/centi-network/centi/internal/api"
	"github.com/centi-network/centi/internal/daemon"
	"github.com/centi-network/centi/internal/infra/logging"
)

var homeDir string

var rootCmd = &cobra.Command{
	Use:   "centi",
	Short: "Closed-loop B2B credit ledger and matching engine",
	Long: `Centi runs a closed-loop business credit network: participants trade
services for Centi credits, borrow against their reputation and are matched
to each other by a background scheduler.

Configuration lives in ~/.centi/config.toml and can be overridden with
CENTI_* environment variables or a .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Config directory (default ~/.centi, or $CENTI_HOME)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(homeDir)
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, matcher and upkeep jobs",
	Long: `Start the Centi daemon. The HTTP API, the matching scheduler and the
periodic upkeep jobs (decay, grant expiry, overdue loans) run until the
process receives SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{
		ServiceName: "centi",
		Level:       logging.ParseLevel(cfg.Log.Level),
		Format:      cfg.Log.Format,
		WarnStack:   cfg.Log.WarnStack,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, logger)
	if err != nil {
		logger.Error(context.Background(), "failed to start daemon", err)
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error(context.Background(), "error closing daemon", err)
		}
	}()

	logger.Info(logger.WithFields(ctx, map[string]any{
		"version": api.Version,
		"home":    cfg.Home,
	}), "centi starting")
	return d.Run(ctx)
}

// ─── version ────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "centi %s\n", api.Version)
	},
}
