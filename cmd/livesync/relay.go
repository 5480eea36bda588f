package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"livesync/internal/app"
)

func newRelayCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the development session relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Relay.Port = port
			}

			application, err := app.NewRelayApplication(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create relay: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Start(ctx); err != nil {
				return fmt.Errorf("failed to start relay: %w", err)
			}
			<-ctx.Done()
			logger.Info().Msg("received shutdown signal")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides configuration)")
	return cmd
}
