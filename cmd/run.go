package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/price-monitor/internal/bootstrap"
)

func newRoleCommand(role bootstrap.Role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(role),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.Start(cmd.Context(), cfgFile, debug, role)
		},
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "run [role...]",
		Aliases: []string{"all"},
		Short:   "Run one or more pipeline roles in a single process",
		Long: `Run the named roles (worker, processor, alerts) in one process.
"all", or no arguments, runs every role.`,
		Example: `  price-monitor run
  price-monitor run worker processor`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"all"}
			}
			roles, err := bootstrap.ParseRoles(args)
			if err != nil {
				return err
			}
			return bootstrap.Start(cmd.Context(), cfgFile, debug, roles...)
		},
	}
}
