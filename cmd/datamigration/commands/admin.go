package commands

import (
	"fmt"
	"strconv"

	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"
)

// The commands below talk to a running server through the admin API.

func newPluginsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List registered plugins and their state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plugins, err := opts.client().Plugins(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plugins)
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <plugin>",
		Short: "Show the last status of a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Plugin(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version <plugin>",
		Short: "Print the persisted version of a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := opts.client().Version(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <plugin> <version>",
		Short: "Force the persisted version of a plugin",
		Long: "Force the persisted version of a plugin without running any step. " +
			"Steps above the new version run again on the next migration.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return errorx.IllegalArgument.Wrap(err, "version must be an integer, got %q", args[1])
			}
			status, err := opts.client().ResetToVersion(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newRunningCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "running",
		Short: "Report whether any plugin is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			running, err := opts.client().IsRunning(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), running)
			return err
		},
	}
}

func newInvalidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the server's cached plugin versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Invalidate(cmd.Context()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "invalidated")
			return err
		},
	}
}
