package commands

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API",
		Long:  "Connect to the configured backends and serve the admin API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, release, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			return app.Run(cmd.Context())
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run every pending migration",
		Long: "Run every pending migration plugin and print their statuses. " +
			"With --remote the run happens in the server at --addr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				plugins, err := opts.client().WithHTTPClient(noTimeout).Migrate(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), plugins)
			}

			app, release, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			// Plugin failures are reported in the printed statuses.
			migrateErr := app.Migrate(cmd.Context())
			list, err := app.PluginStatuses(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), list.Plugins); err != nil {
				return err
			}
			return migrateErr
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "run the migration in the server at --addr")
	return cmd
}
