package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
)

const defaultHistoryLimit = 20

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <canonical-product-id>",
		Short: "Show recorded prices for a product across sellers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			db, err := database.NewPostgresConnection(cmd.Context(), deps.Config.Database)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			entries, err := database.NewPriceHistoryRepository(db).ListForProduct(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no price history for %s\n", args[0])
				return nil
			}
			renderHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultHistoryLimit, "maximum number of entries to show")
	return cmd
}

func renderHistory(w io.Writer, entries []domain.PriceHistoryEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Recorded", "Seller", "Price", "Stock", "Source"})

	for i := range entries {
		e := &entries[i]
		t.AppendRow(table.Row{
			e.RecordedAt.UTC().Format(time.RFC3339),
			e.SellerName,
			e.Price.StringFixed(domain.PricePlaces),
			e.StockStatus,
			e.SourceURL,
		})
	}
	t.Render()
}
