package main

import (
	"errors"

	"github.com/spf13/cobra"
)

type feeReport struct {
	Chain         string `json:"chain"`
	ChainID       string `json:"chain_id"`
	BlockNumber   string `json:"block_number"`
	Contract      string `json:"contract"`
	Owner         string `json:"owner"`
	FeeWei        string `json:"fee_wei"`
	FeeEther      string `json:"fee_ether"`
	WalletEnabled bool   `json:"wallet_enabled"`
	BalanceWei    string `json:"balance_wei,omitempty"`
	BalanceEther  string `json:"balance_ether,omitempty"`
}

func newFeeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fee",
		Short: "Show the upload fee and the fee contract state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			registry, client, err := openChain(ctx, opts.cfg.Web3, nil)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("no chain configured: set web3.rpc_url or web3.chain_config")
			}
			defer registry.Close()

			info, err := client.FeeInfo(ctx)
			if err != nil {
				return err
			}
			snapshot, err := client.ChainSnapshot(ctx)
			if err != nil {
				return err
			}

			report := feeReport{
				Chain:         registry.DefaultChain(),
				ChainID:       snapshot.ChainID,
				BlockNumber:   snapshot.BlockNumber,
				Contract:      info.Contract.Hex(),
				Owner:         info.Owner.Hex(),
				FeeWei:        "-",
				FeeEther:      formatEther(info.Fee),
				WalletEnabled: client.WalletAvailable(),
			}
			if info.Fee != nil {
				report.FeeWei = info.Fee.String()
			}
			if report.WalletEnabled {
				balance, err := client.Balance(ctx)
				if err != nil {
					return err
				}
				report.BalanceWei = balance.String()
				report.BalanceEther = formatEther(balance)
			}

			out := printer{out: cmd.OutOrStdout(), json: opts.isJSON()}
			if out.json {
				return out.printJSON(report)
			}
			wallet := "not configured"
			if report.WalletEnabled {
				wallet = "configured, balance " + report.BalanceEther + " ETH"
			}
			return out.printFields([][2]string{
				{"Chain", report.Chain},
				{"Chain ID", orDash(report.ChainID)},
				{"Block", orDash(report.BlockNumber)},
				{"Contract", report.Contract},
				{"Owner", report.Owner},
				{"Fee (wei)", report.FeeWei},
				{"Fee (ETH)", report.FeeEther},
				{"Wallet", wallet},
			})
		},
	}
}
