package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/texitpay/paygate/internal/app"
)

func chainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Query the chain explorer",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "height",
		Short: "Show the current block height",
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			h, err := a.Chain.BlockHeight(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]int64{"height": h})
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "address [address]",
		Short: "Show confirmed and mempool balances of an address",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			info, err := a.Chain.Address(ctx, args[0])
			if err != nil {
				return err
			}
			confirmed, unconfirmed := info.Balance()
			return printJSON(map[string]interface{}{
				"address":     info.Address,
				"confirmed":   confirmed,
				"unconfirmed": unconfirmed,
				"tx_count":    info.ChainStats.TxCount + info.MempoolStats.TxCount,
			})
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "tx [txid]",
		Short: "Show a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			tx, err := a.Chain.Transaction(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(tx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "broadcast [raw-hex]",
		Short: "Broadcast a signed raw transaction",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			txid, err := a.Chain.Broadcast(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"txid": txid})
		}),
	})
	return cmd
}

func pricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "Show USD prices of every supported currency",
		RunE: withApp(func(ctx context.Context, a *app.App, _ []string) error {
			return printJSON(a.Oracle.AllPrices(ctx))
		}),
	}
}
