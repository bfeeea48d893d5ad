package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/sqlite"
)

// ─── journal ────────────────────────────────────────────────────────────────
// Read-only view of a participant's journaled transactions. The running
// daemon serves the same data at GET /api/participants/{id}/transactions.

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().Int("limit", 20, "Transactions to list, newest first (0 for all)")
}

var journalCmd = &cobra.Command{
	Use:   "journal PARTICIPANT",
	Short: "Show a participant's transaction journal",
	Long: `Show the journal of a participant, given by id or email: the number of
transactions, the net amount per kind and the most recent entries.`,
	Args: cobra.ExactArgs(1),
	RunE: runJournal,
}

func runJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	p, err := lookupParticipant(cmd, db, args[0])
	if err != nil {
		return err
	}

	count, err := db.CountTransactions(ctx, p.ID)
	if err != nil {
		return err
	}
	totals, err := db.TransactionTotals(ctx, p.ID)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	txs, err := db.ListTransactions(ctx, p.ID, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s> %s\n", p.Name, p.Email, p.ID)
	fmt.Fprintf(out, "Transactions: %d\n\n", count)

	kinds := make([]string, 0, len(totals))
	net := decimal.Zero
	for k, v := range totals {
		kinds = append(kinds, string(k))
		net = net.Add(v)
	}
	sort.Strings(kinds)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNET")
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%s\n", k, totals[domain.TransactionKind(k)])
	}
	fmt.Fprintf(w, "total\t%s\n", net)
	if err := w.Flush(); err != nil {
		return err
	}

	if len(txs) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tAMOUNT\tDESCRIPTION")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			tx.Timestamp.UTC().Format("2006-01-02 15:04:05"), tx.Kind, tx.Amount, tx.Description)
	}
	return w.Flush()
}

// lookupParticipant resolves an id, or an email when ref contains "@".
func lookupParticipant(cmd *cobra.Command, db *sqlite.DB, ref string) (*domain.Participant, error) {
	if strings.Contains(ref, "@") {
		return db.GetParticipantByEmail(cmd.Context(), strings.ToLower(strings.TrimSpace(ref)))
	}
	return db.GetParticipant(cmd.Context(), ref)
}
