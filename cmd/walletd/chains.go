package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/web3/provider"
	"OpenMCP-Wallet/pkg/logger"

	"github.com/spf13/cobra"
)

func newChainsCommand(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "列出已配置的链并读取最新区块",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cfg.Web3.Enabled() {
				return errors.New("未配置 web3.rpc_url 或 web3.chain_config")
			}
			registry, err := provider.NewRegistry(cmd.Context(), cfg.Web3)
			if err != nil {
				return err
			}
			defer registry.Close()

			out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(out, "NAME\tCHAIN ID\tBLOCK\tNOTES")
			for _, name := range registry.Chains() {
				client, _ := registry.Client(name)
				snapshot, err := client.FetchChainSnapshot(cmd.Context())
				if err != nil {
					fmt.Fprintf(out, "%s\t-\t-\t%s\n", name, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", name, snapshot.ChainID, snapshot.BlockNumber, snapshot.Notes)
			}
			return out.Flush()
		},
	}
}
