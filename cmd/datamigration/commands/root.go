package commands

import (
	"context"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"
	"github.com/surrealdb/datamigration/pkg/client"
	"github.com/surrealdb/datamigration/pkg/config"
	"github.com/surrealdb/datamigration/pkg/datamigration"
	"github.com/surrealdb/datamigration/pkg/logger"
)

// examples:
// ./datamigration serve --config ./datamigration.yaml
// ./datamigration migrate --config ./datamigration.yaml
// ./datamigration plugins --addr http://localhost:8080
// ./datamigration reset collections-entity-data 1

const defaultAddr = "http://localhost:8080"

type rootOptions struct {
	configPath string
	logLevel   string
	addr       string
}

// NewRootCmd builds the datamigration command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "datamigration",
		Short:         "Run and operate versioned data migrations",
		Long:          "datamigration runs versioned data migration plugins and lets operators inspect and reset their progress",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides log.level from the config")
	root.PersistentFlags().StringVar(&opts.addr, "addr", defaultAddr, "admin API address used by remote commands")

	// keep the order of commands as added
	cobra.EnableCommandSorting = false

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newPluginsCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(opts),
		newResetCmd(opts),
		newRunningCmd(opts),
		newInvalidateCmd(opts),
	)
	return root
}

// Execute runs the command named by args.
func Execute(ctx context.Context, args []string) error {
	if ctx == nil {
		return errorx.IllegalArgument.New("context is required")
	}

	root := NewRootCmd()
	root.SetArgs(args)
	if _, err := root.ExecuteContextC(ctx); err != nil {
		return errorx.Decorate(err, "failed to execute command")
	}
	return nil
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, nil
}

// openApp loads the configuration and starts the in-process components.
// The returned function releases the app and the log file.
func (o *rootOptions) openApp(ctx context.Context) (*datamigration.App, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	build := logger.New().WithLevel(cfg.Log.Level).Console(cfg.Log.Console)
	if cfg.Log.Path != "" {
		build = build.FromPath(cfg.Log.Path)
	}
	logData, err := build.Make()
	if err != nil {
		return nil, nil, err
	}

	app, err := datamigration.New(ctx, cfg, &logData.Logger)
	if err != nil {
		_ = logData.Close()
		return nil, nil, err
	}

	release := func() {
		if err := app.Close(); err != nil {
			logData.Logger.Warn().Err(err).Msg("Failed to close backends")
		}
		_ = logData.Close()
	}
	return app, release, nil
}

func (o *rootOptions) client() *client.Client {
	return client.NewClient(o.addr)
}

// printJSON writes v indented to the command output.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// noTimeout is used for requests that wait for a whole migration run.
var noTimeout = &http.Client{}
