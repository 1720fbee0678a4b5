package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chrisalpuerto/parallel-sessions/pkg/ipc"
	"github.com/chrisalpuerto/parallel-sessions/pkg/terminal"
)

func newServeCmd() *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and the dashboard websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.Server.Bind = bind
				if err := cfg.Validate(); err != nil {
					return withExitCode(err, exitConfig)
				}
			}

			a, err := newApp(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.startBackground(ctx, true); err != nil {
				return err
			}

			server := ipc.NewServer(ipc.Config{
				BindAddress:    cfg.Server.Bind,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				MaxObservers:   cfg.Server.MaxWSConnections,
				AuthSecret:     cfg.Server.AuthSecret,
				Version:        version,
			}, a.sup, a.hub, a.logger)

			out := terminal.NewWithOutput(cmd.ErrOrStderr(), terminal.IsTerminal(os.Stderr))
			go func() {
				if addr, err := server.Addr(ctx); err == nil {
					out.Info("listening on http://%s (driver %s)", addr, cfg.Browser.Driver)
				}
			}()

			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "Override the listen address (host:port)")
	return cmd
}
