package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/iapsync/internal/purchase"
	"github.com/roach88/iapsync/internal/store"
)

// ReceiptsOptions holds flags for the receipts command.
type ReceiptsOptions struct {
	*RootOptions
	Database string
	User     string
}

// ReceiptRow is one receipt as the receipts command reports it.
type ReceiptRow struct {
	Source        string                  `json:"source"`
	User          string                  `json:"user,omitempty"`
	Seq           int64                   `json:"seq"`
	ID            string                  `json:"id"`
	TransactionID string                  `json:"transaction_id"`
	State         string                  `json:"state"`
	Offers        []purchase.ReceiptOffer `json:"offers"`
}

// NewReceiptsCommand creates the receipts command.
func NewReceiptsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReceiptsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "List recorded receipts",
		Long: `List receipts recorded in an iapsync database.

With --user, the user's completed receipts are listed first, followed by
every offline receipt, which is what GET /v1/receipts returns. Without
--user only offline receipts are listed.

Example:
  iapsync receipts --db ./iapsync.db --user alice
  iapsync receipts --db ./iapsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceipts(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.User, "user", "", "user key whose completed receipts to include")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReceipts(opts *ReceiptsOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	// store.Open would create a missing file.
	if _, err := os.Stat(opts.Database); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.Database))
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := collectReceipts(ctx, st, purchase.UserKey(opts.User))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipts", err)
	}
	formatter.VerboseLog("read %d receipts from %s", len(rows), opts.Database)

	return formatter.Emit(rows, func(w io.Writer) error {
		return outputReceiptsText(w, rows)
	})
}

func collectReceipts(ctx context.Context, st *store.Store, user purchase.UserKey) ([]ReceiptRow, error) {
	rows := []ReceiptRow{}
	if user != "" {
		completed, err := st.CompletedReceipts(ctx, user)
		if err != nil {
			return nil, err
		}
		for _, r := range completed {
			rows = append(rows, toRow(purchase.SourceCompleted, user, r))
		}
	}
	offline, err := st.OfflineReceipts(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range offline {
		rows = append(rows, toRow(purchase.SourceOffline, "", r))
	}
	return rows, nil
}

func toRow(source string, user purchase.UserKey, r purchase.Receipt) ReceiptRow {
	return ReceiptRow{
		Source:        source,
		User:          string(user),
		Seq:           r.Seq,
		ID:            r.ID,
		TransactionID: r.TransactionID,
		State:         r.State.String(),
		Offers:        r.Offers,
	}
}

func outputReceiptsText(w io.Writer, rows []ReceiptRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No receipts found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSOURCE\tTRANSACTION\tSTATE\tOFFERS")
	for _, row := range rows {
		offers := ""
		for i, o := range row.Offers {
			if i > 0 {
				offers += ","
			}
			offers += fmt.Sprintf("%s/%sx%d", o.Namespace, o.OfferID, o.Quantity)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", row.Seq, row.Source, row.TransactionID, row.State, offers)
	}
	return tw.Flush()
}
