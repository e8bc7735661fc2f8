package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/texitpay/paygate/internal/app"
	"github.com/texitpay/paygate/internal/models"
	"github.com/texitpay/paygate/internal/payment"
)

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run a single reconciliation cycle",
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			return printJSON(a.Monitor.RunCycle(ctx))
		}),
	}
}

func retryWebhooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-webhooks",
		Short: "Redeliver due webhook notifications now",
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			n := a.Monitor.RetryWebhooks(ctx)
			return printJSON(map[string]int{"attempted": n})
		}),
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [merchant-id] [payment-id]",
		Short: "Cancel a pending payment",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			p, err := a.Payments.Cancel(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(payment.Response(p))
		}),
	}
}

// inspection is a payment with its ledger view
type inspection struct {
	Payment           *models.PaymentResponse `json:"payment"`
	TotalReceived     int64                   `json:"total_received"`
	ConfirmedReceived int64                   `json:"confirmed_received"`
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [merchant-id] [payment-id]",
		Short: "Show a payment, its ledger rows and received totals",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			p, err := a.Payments.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			total, err := a.Ledger.TotalReceived(ctx, p.ID)
			if err != nil {
				return err
			}
			confirmed, err := a.Ledger.ConfirmedReceived(ctx, p.ID, p.RequiredConfirmations)
			if err != nil {
				return err
			}
			return printJSON(inspection{
				Payment:           payment.Response(p),
				TotalReceived:     total,
				ConfirmedReceived: confirmed,
			})
		}),
	}
}

func webhooksCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "webhooks [merchant-id]",
		Short: "List a merchant's webhook deliveries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			logs, err := a.Stores.Webhooks.ListByMerchant(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}
			return printJSON(logs)
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	return cmd
}
