package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/texitpay/paygate/internal/app"
)

func addressesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addresses",
		Short: "Manage the pre-provisioned receive address pool",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import [network] [file]",
		Short: "Add addresses from a file, one per line",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			addrs, err := readAddresses(args[1])
			if err != nil {
				return err
			}
			n, err := a.Stores.Addresses.Add(ctx, args[0], addrs)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"read": len(addrs), "added": n})
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "available [network]",
		Short: "Count unassigned addresses",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app.App, args []string) error {
			n, err := a.Stores.Addresses.Available(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]int64{"available": n})
		}),
	})
	return cmd
}

// readAddresses reads one address per line, skipping blanks and # comments
func readAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open address file: %w", err)
	}
	defer f.Close()

	var addrs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addrs = append(addrs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read address file: %w", err)
	}
	return addrs, nil
}
