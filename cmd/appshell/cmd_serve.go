package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/appshell/pkg/app"
	"github.com/shashiranjanraj/appshell/pkg/logger"
)

// appshell serve: start the server and block until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"run"},
		Short:   "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			srv, err := app.New(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Start(ctx); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down", "addr", srv.Addr())
			case <-srv.Done():
				logger.Error("listener stopped", "addr", srv.Addr(), "error", srv.Err())
			}

			// Stop bounds the drain itself; the signal context is already done.
			if err := srv.Stop(context.Background()); err != nil && !errors.Is(err, app.ErrNotStarted) {
				return err
			}
			return srv.Err()
		},
	}
}
