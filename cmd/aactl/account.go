package main

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/ethaccount/aawallet/src/wallet"
)

func (c *cli) chainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain",
		Short: "Show the node's chain id and supported entry points",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			chainID, err := c.client.ChainId(ctx)
			if err != nil {
				return fmt.Errorf("failed to get chain id: %w", err)
			}
			eps, err := c.client.SupportedEntryPoints(ctx)
			if err != nil {
				return fmt.Errorf("failed to get supported entry points: %w", err)
			}
			return printJSON(cmd, struct {
				ChainID     *hexutil.Big     `json:"chainId"`
				EntryPoints []common.Address `json:"entryPoints"`
			}{(*hexutil.Big)(chainID), eps})
		},
	}
}

func parseAddresses(field string, values []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid %s %q", field, v)
		}
		out = append(out, common.HexToAddress(v))
	}
	return out, nil
}

func parseBig(field, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(value, 0)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, value)
	}
	return v, nil
}

func (c *cli) senderAddressCmd() *cobra.Command {
	var (
		owners            []string
		threshold         int
		guardians         []string
		guardianThreshold int
		salt              string
	)

	cmd := &cobra.Command{
		Use:   "sender-address",
		Short: "Compute the init code and counterfactual address of a wallet",
		Long: `Compute the init code and counterfactual address of a wallet.

The address is asked from the node, so it matches the entry point that will
deploy the wallet. Put the init code in the first user operation of the wallet.

Example:
  aactl sender-address --owner 0xA... --owner 0xB... --threshold 2 --salt 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerAddrs, err := parseAddresses("owner", owners)
			if err != nil {
				return err
			}
			guardianAddrs, err := parseAddresses("guardian", guardians)
			if err != nil {
				return err
			}
			saltInt, err := parseBig("salt", salt)
			if err != nil {
				return err
			}

			initCode, err := wallet.EncodeInitCode(ownerAddrs, threshold, guardianAddrs, guardianThreshold, saltInt)
			if err != nil {
				return fmt.Errorf("failed to encode init code: %w", err)
			}

			ctx, cancel := c.context(cmd)
			defer cancel()

			sender, err := c.client.GetSenderAddress(ctx, initCode)
			if err != nil {
				return fmt.Errorf("failed to get sender address: %w", err)
			}
			c.logger.Debug().Str("sender", sender.Hex()).Int("owners", len(ownerAddrs)).Msg("sender address computed")

			return printJSON(cmd, struct {
				Sender   common.Address `json:"sender"`
				InitCode hexutil.Bytes  `json:"initCode"`
			}{sender, initCode})
		},
	}

	cmd.Flags().StringSliceVar(&owners, "owner", nil, "owner address, repeat for each owner in order")
	cmd.Flags().IntVar(&threshold, "threshold", 1, "owner signatures required")
	cmd.Flags().StringSliceVar(&guardians, "guardian", nil, "guardian address, repeat for each guardian")
	cmd.Flags().IntVar(&guardianThreshold, "guardian-threshold", 0, "guardian signatures required for recovery")
	cmd.Flags().StringVar(&salt, "salt", "0", "salt varying the address")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (c *cli) executeDataCmd() *cobra.Command {
	var (
		to    string
		value string
		data  string
	)

	cmd := &cobra.Command{
		Use:   "execute-data",
		Short: "Encode wallet call data for a single call",
		Args:  cobra.NoArgs,
		// Encoding needs no node.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(to) {
				return fmt.Errorf("invalid to %q", to)
			}
			amount, err := parseBig("value", value)
			if err != nil {
				return err
			}
			payload, err := hexutil.Decode(data)
			if err != nil {
				return fmt.Errorf("invalid data %q: %w", data, err)
			}

			callData, err := wallet.EncodeExecute(common.HexToAddress(to), amount, payload)
			if err != nil {
				return fmt.Errorf("failed to encode call data: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(callData))
			return err
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "call target")
	cmd.Flags().StringVar(&value, "value", "0", "value sent with the call")
	cmd.Flags().StringVar(&data, "data", "0x", "call input")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
