package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/daemon"
	"github.com/centi-network/centi/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
}

// ─── config ─────────────────────────────────────────────────────────────────

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := daemon.DefaultConfig()
	if homeDir != "" {
		cfg.Home = homeDir
	} else if env := os.Getenv(daemon.EnvPrefix + "_HOME"); env != "" {
		cfg.Home = env
	}

	path := filepath.Join(cfg.Home, daemon.ConfigFileName)
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
	return nil
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after the config file and environment overrides are applied.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = "********"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# home: %s\n", cfg.Home)
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
}

// ─── policy ─────────────────────────────────────────────────────────────────
// Offline view and edit of the stored policy. A running daemon is changed
// through PUT /api/admin/policy.

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and edit the global policy",
}

// withPolicy runs fn with the config seed and stored values on top, as the
// daemon would start with it.
func withPolicy(cmd *cobra.Command, fn func(*sqlite.DB, policy.Policy) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	stored, err := db.LoadPolicy(cmd.Context())
	if err != nil {
		return err
	}
	p, err := cfg.Policy.Merge(stored)
	if err != nil {
		return err
	}
	return fn(db, p)
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the policy",
	Args:  cobra.NoArgs,
	RunE:  runPolicyShow,
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	return withPolicy(cmd, func(_ *sqlite.DB, p policy.Policy) error {
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(p)
	})
}

var policySetCmd = &cobra.Command{
	Use:   "set KEY=VALUE...",
	Short: "Change policy values",
	Long: `Change one or more policy values, for example:

  centi policy set grant_amount=50 max_borrow=750

The whole policy is validated before anything is stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPolicySet,
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	pairs := make(map[string]string, len(args))
	known := policy.Default().ToMap()
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		k = strings.TrimSpace(k)
		if _, exists := known[k]; !exists {
			return fmt.Errorf("unknown policy key %q", k)
		}
		pairs[k] = strings.TrimSpace(v)
	}

	return withPolicy(cmd, func(db *sqlite.DB, current policy.Policy) error {
		next, err := current.Merge(pairs)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return err
		}
		if err := db.SavePolicy(cmd.Context(), next.ToMap()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Policy updated (%d value(s))\n", len(pairs))
		return nil
	})
}
