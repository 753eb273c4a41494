package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
)

const defaultEnqueueLimit = 100

func newEnqueueCommand() *cobra.Command {
	var (
		limit     int
		mappingID string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish scrape commands for active product seller mappings",
		Long: `Publish one scrape command per active mapping, least recently scraped
first. With --mapping only that mapping is enqueued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			infra, err := bootstrap.SetupInfra(ctx, deps)
			if err != nil {
				return err
			}
			defer func() { _ = infra.Close() }()

			mappings := database.NewMappingRepository(infra.DB)
			var due []domain.ProductSellerMapping
			if mappingID != "" {
				m, getErr := mappings.GetByID(ctx, mappingID)
				if getErr != nil {
					return fmt.Errorf("get mapping %s: %w", mappingID, getErr)
				}
				due = append(due, *m)
			} else {
				due, err = mappings.ListDue(ctx, limit)
				if err != nil {
					return fmt.Errorf("list due mappings: %w", err)
				}
			}

			stream := deps.Config.Streams.ScrapeCommands
			for i := range due {
				command := due[i].Command()
				if _, pubErr := infra.Publisher.Publish(ctx, stream, &command); pubErr != nil {
					return fmt.Errorf("publish scrape command for %s: %w", due[i].ID, pubErr)
				}
			}

			deps.Logger.Info("Scrape commands enqueued",
				logger.Int("count", len(due)),
				logger.String("stream", stream),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d scrape command(s)\n", len(due))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultEnqueueLimit, "maximum number of mappings to enqueue")
	cmd.Flags().StringVar(&mappingID, "mapping", "", "enqueue a single mapping by ID")
	return cmd
}
