package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/feisync/feisync/internal/sched"
	"github.com/feisync/feisync/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		flagHost    string
		flagPort    int
		flagTimeout int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server and the sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			var host *string

			var port, timeout *int

			if cmd.Flags().Changed("host") {
				host = &flagHost
			}

			if cmd.Flags().Changed("port") {
				port = &flagPort
			}

			if cmd.Flags().Changed("timeout") {
				timeout = &flagTimeout
			}

			if host != nil || port != nil || timeout != nil {
				if _, err := a.service.UpdateConfig(host, port, timeout); err != nil {
					return err
				}
			}

			if _, err := a.ensureAdminKey(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				err := sched.New(a.syncStore, a.engine, a.logger).Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}

				return err
			})

			g.Go(func() error {
				return a.service.Run(gctx)
			})

			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&flagHost, "host", server.DefaultHost, "listen host")
	cmd.Flags().IntVar(&flagPort, "port", server.DefaultPort, "listen port")
	cmd.Flags().IntVar(&flagTimeout, "timeout", 0, "per-request timeout in seconds")

	return cmd
}
