// Package cmd implements the price-monitor command-line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/bootstrap"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "price-monitor",
		Short: "Scrape seller pages, record prices and raise alerts",
		Long: `price-monitor runs the price monitoring pipeline: scrape workers fetch
seller pages and extract prices, the processor records price history and the
alert engine notifies on matching rules. Stages communicate over Redis streams.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment overrides apply to every command
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is $CONFIG_PATH or ./config.yml)",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "price-monitor version %s\n", Version)
		},
	})

	rootCmd.AddCommand(
		newRoleCommand(bootstrap.RoleWorker, "Consume scrape commands and scrape seller pages"),
		newRoleCommand(bootstrap.RoleProcessor, "Record price history and scrape results"),
		newRoleCommand(bootstrap.RoleAlerts, "Evaluate alert rules against new price points"),
		newRunCommand(),
		newMigrateCommand(),
		newProxiesCommand(),
		newEnqueueCommand(),
		newHistoryCommand(),
	)
}

// commandDeps loads config and logger using the persistent flags.
func commandDeps() (*bootstrap.Deps, error) {
	deps, err := bootstrap.NewDeps(cfgFile, debug)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	return deps, nil
}
