package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/centi-network/centi/internal/daemon"
	"github.com/centi-network/centi/internal/infra/catalog"
	"github.com/centi-network/centi/internal/infra/sqlite"
)

// ─── Category CLI ───────────────────────────────────────────────────────────
// Offline editing of the rate table. Changes are written to the database and
// picked up by the daemon on its next start; a running daemon is updated
// through PUT /api/admin/categories/{id} instead.

func init() {
	rootCmd.AddCommand(categoryCmd)
	categoryCmd.AddCommand(categoryListCmd)
	categoryCmd.AddCommand(categorySetCmd)
	categoryCmd.AddCommand(categoryPriceCmd)

	categorySetCmd.Flags().String("name", "", "Display name")
	categorySetCmd.Flags().String("rate", "", "Centi per hour")
	categorySetCmd.Flags().Float64("hours", 0, "Standard hours per listing")
	categorySetCmd.Flags().Float64("multiplier", 0, "Demand multiplier (default 1.0)")
}

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Inspect and edit the service rate table",
	Long: `Inspect and edit the service categories listings are priced against.
Prices are rate × hours × demand multiplier and are frozen on each listing
when it is created.`,
}

var errNoStorage = errors.New("storage.data_dir is empty: the daemon keeps no state on disk")

// openStore opens the configured database.
func openStore(cfg daemon.Config) (*sqlite.DB, error) {
	dir := cfg.DataDir()
	if dir == "" {
		return nil, errNoStorage
	}
	return sqlite.Open(dir)
}

// rateTable builds the table the daemon would start with: config seeds with
// stored categories on top.
func rateTable(ctx context.Context, cfg daemon.Config, db *sqlite.DB) (*catalog.RateTable, error) {
	table, err := catalog.NewRateTable(cfg.Categories)
	if err != nil {
		return nil, err
	}
	stored, err := db.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range stored {
		if err := table.Upsert(c); err != nil {
			return nil, fmt.Errorf("stored category %s: %w", c.ID, err)
		}
	}
	return table, nil
}

func withRateTable(cmd *cobra.Command, fn func(*sqlite.DB, *catalog.RateTable) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	table, err := rateTable(cmd.Context(), cfg, db)
	if err != nil {
		return err
	}
	return fn(db, table)
}

// ─── category list ──────────────────────────────────────────────────────────

var categoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List service categories",
	Args:  cobra.NoArgs,
	RunE:  runCategoryList,
}

func runCategoryList(cmd *cobra.Command, args []string) error {
	return withRateTable(cmd, func(_ *sqlite.DB, table *catalog.RateTable) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tRATE/H\tHOURS\tMULTIPLIER\tPRICE")
		for _, c := range table.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%g\t%s\n",
				c.ID, c.Name, c.RatePerHour, c.StandardHours, c.DemandMultiplier, c.Price(c.StandardHours))
		}
		return w.Flush()
	})
}

// ─── category set ───────────────────────────────────────────────────────────

var categorySetCmd = &cobra.Command{
	Use:   "set CATEGORY_ID",
	Short: "Create or update a category",
	Long: `Create a category, or update the given fields of an existing one.
Existing listings keep the price they were created with.`,
	Args: cobra.ExactArgs(1),
	RunE: runCategorySet,
}

func runCategorySet(cmd *cobra.Command, args []string) error {
	return withRateTable(cmd, func(db *sqlite.DB, table *catalog.RateTable) error {
		c, _ := table.Lookup(args[0])
		c.ID = args[0]

		flags := cmd.Flags()
		if flags.Changed("name") {
			c.Name, _ = flags.GetString("name")
		}
		if flags.Changed("rate") {
			raw, _ := flags.GetString("rate")
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("invalid --rate %q: %w", raw, err)
			}
			c.RatePerHour = rate
		}
		if flags.Changed("hours") {
			c.StandardHours, _ = flags.GetFloat64("hours")
		}
		if flags.Changed("multiplier") {
			c.DemandMultiplier, _ = flags.GetFloat64("multiplier")
		}

		if err := table.Upsert(c); err != nil {
			return err
		}
		saved, err := table.Get(c.ID)
		if err != nil {
			return err
		}
		if err := db.UpsertCategory(cmd.Context(), saved); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Category %q saved: %s/h × %g h = %s\n",
			saved.ID, saved.RatePerHour, saved.StandardHours, saved.Price(saved.StandardHours))
		return nil
	})
}

// ─── category price ─────────────────────────────────────────────────────────

var categoryPriceCmd = &cobra.Command{
	Use:   "price CATEGORY_ID [HOURS]",
	Short: "Price a number of hours in a category",
	Long:  `Price hours in a category. HOURS defaults to the category's standard hours.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCategoryPrice,
}

func runCategoryPrice(cmd *cobra.Command, args []string) error {
	return withRateTable(cmd, func(_ *sqlite.DB, table *catalog.RateTable) error {
		c, err := table.Get(args[0])
		if err != nil {
			return err
		}
		hours := c.StandardHours
		if len(args) == 2 {
			if hours, err = strconv.ParseFloat(args[1], 64); err != nil || hours <= 0 {
				return fmt.Errorf("hours must be a positive number, got %q", args[1])
			}
		}
		price, err := table.Price(c.ID, hours)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", price)
		return nil
	})
}
