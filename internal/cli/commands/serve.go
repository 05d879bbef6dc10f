package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/server"
	"github.com/leapstack-labs/leaplineage/internal/telemetry"
	"github.com/spf13/cobra"
)

const telemetryFlushTimeout = 5 * time.Second

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr  string
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(version string) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lineage API over HTTP",
		Long: `Start the HTTP API under /api/v1.

File sources with watch: true are reloaded on change, and connected
clients of /api/v1/events are told to re-fetch. When
server.reconcile_schedule is set, ingested artifacts are reconciled on
that cron schedule.`,
		Example: `  leaplineage serve
  leaplineage serve --addr 127.0.0.1:9000 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", true, "Reload file sources on change")

	return cmd
}

func runServe(cmd *cobra.Command, version string, opts *ServeOptions) (err error) {
	ctx := cmd.Context()

	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := cmdCtx.Cfg
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		err = errors.Join(err, shutdown(flushCtx))
	}()

	serverCfg := cfg.Server
	if opts.Addr != "" {
		serverCfg.Addr = opts.Addr
	}

	srv, err := server.New(server.Config{
		Engine: cmdCtx.Engine,
		Server: serverCfg,
		Watch:  opts.Watch,
		Logger: cmdCtx.Logger.With("component", "server"),
	})
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}
