package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/texitpay/paygate/internal/app"
	"github.com/texitpay/paygate/internal/database"
	"github.com/texitpay/paygate/internal/logger"
	"github.com/texitpay/paygate/internal/server"
)

func monitorCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the reconciliation loop with health endpoints until interrupted",
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			if migrate {
				if err := database.Migrate(a.DB); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stalled after three missed cycles
			health := server.NewHealth(a.Ping, a.Monitor, 3*a.Config.Monitor.PollInterval, nil)
			srv := server.New(a.Config.Server.HealthAddr, health)
			srv.Start()

			err := a.Monitor.Run(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("Health server shutdown failed", logger.Fields{"error": serr.Error()})
			}
			return err
		}),
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply schema migrations before starting")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: withApp(func(_ context.Context, a *app.App, _ []string) error {
			if err := database.Migrate(a.DB); err != nil {
				return err
			}
			logger.Info("Schema migrated", logger.Fields{"driver": a.Config.Database.Driver})
			return nil
		}),
	}
}
