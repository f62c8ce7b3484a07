package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"supportflow/pkg/persistence"
	"supportflow/pkg/supportlog"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise logged sessions and recent tickets",
		Long: `report reads the SQLite session store and prints outcome counts, the
average number of retrieval attempts, and the most recent tickets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if dbPath == "" {
				cfg, err := root.load()
				if err != nil {
					return err
				}
				dbPath = cfg.Logging.DBPath
			}
			store, err := persistence.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, store.Close()) }()

			sum, err := store.Summarize(cmd.Context())
			if err != nil {
				return err
			}
			tickets, err := store.LatestTickets(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), sum, tickets)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "session store path (defaults to logging.db_path)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent tickets to show")
	return cmd
}

func printReport(w io.Writer, sum persistence.Summary, tickets []supportlog.Ticket) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Sessions\t%d\n", sum.Sessions)
	for _, sc := range sum.Statuses {
		fmt.Fprintf(tw, "  %s\t%d\n", sc.Status, sc.Count)
	}
	fmt.Fprintf(tw, "Avg retrieval attempts\t%.2f\n", sum.AvgRetrievalAttempts)
	fmt.Fprintf(tw, "Tickets\t%d\n", sum.Tickets)
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTICKET\tPRODUCT\tREASON")
	for _, t := range tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Timestamp.UTC().Format(time.DateTime), t.ID, t.Product, t.ReasonCode)
	}
	return tw.Flush()
}
