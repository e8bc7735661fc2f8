package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/texitpay/paygate/internal/app"
	"github.com/texitpay/paygate/internal/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "paygate",
		Short:         "Payment monitoring and settlement for the crypto gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(retryWebhooksCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(webhooksCmd())
	rootCmd.AddCommand(addressesCmd())
	rootCmd.AddCommand(chainCmd())
	rootCmd.AddCommand(pricesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the component graph for one command and tears it down after
func withApp(run func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		cfg, err := app.LoadConfig(ctx)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("Failed to close database", logger.Fields{"error": err.Error()})
			}
		}()
		return run(ctx, a, args)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
