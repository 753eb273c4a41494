package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/database"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/fetcher"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/price-monitor/internal/proxypool"
)

func newProxiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect and probe the proxy pool",
	}
	cmd.AddCommand(newProxiesListCommand(), newProxiesProbeCommand())
	return cmd
}

func newProxiesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured proxies with their health and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			db, err := database.NewPostgresConnection(cmd.Context(), deps.Config.Database)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			proxies, err := database.NewProxyRepository(db).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list proxies: %w", err)
			}
			if len(proxies) == 0 {
				deps.Logger.Info("No proxies configured")
				return nil
			}
			renderProxies(cmd.OutOrStdout(), proxies)
			return nil
		},
	}
}

func newProxiesProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Probe every active proxy once and store the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := database.NewPostgresConnection(ctx, deps.Config.Database)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer db.Close()

			pool := proxypool.New(deps.Config.ProxyPool, deps.Logger, nil)
			maintainer := proxypool.NewMaintainer(
				pool,
				database.NewProxyRepository(db),
				fetcher.NewBaseTransport(deps.Config.Fetcher),
				deps.Logger,
			)
			if refreshErr := maintainer.Refresh(ctx); refreshErr != nil {
				return refreshErr
			}

			start := time.Now()
			maintainer.ProbeAll(ctx)
			if flushErr := maintainer.Flush(ctx); flushErr != nil {
				return flushErr
			}
			deps.Logger.Info("Proxy probe complete",
				logger.Int("proxies", pool.Len()),
				logger.Duration("duration", time.Since(start)),
			)

			renderProxies(cmd.OutOrStdout(), pool.Snapshot())
			return nil
		},
	}
}

// renderProxies prints proxies as a table. Credentials are never shown.
func renderProxies(w io.Writer, proxies []domain.ProxyEndpoint) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Proxy", "Protocol", "Active", "Healthy", "Requests", "Success Rate", "Last Error"})

	for i := range proxies {
		p := &proxies[i]
		t.AppendRow(table.Row{
			p.ID,
			p.Address(),
			string(p.Protocol),
			p.Active,
			p.Healthy,
			p.TotalRequests,
			strconv.FormatFloat(p.SuccessRate()*100, 'f', 1, 64) + "%",
			p.LastErrorKind,
		})
	}
	t.Render()
}
