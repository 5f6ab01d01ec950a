package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/signature"
)

func (c *cli) hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <op.json|->",
		Short: "Print the hash owners sign for a user operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := readOperation(cmd, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := c.context(cmd)
			defer cancel()

			ep, err := c.resolveEntryPoint(ctx)
			if err != nil {
				return err
			}
			hash, err := c.client.GetUserOpHash(ctx, op, ep)
			if err != nil {
				return fmt.Errorf("failed to get user operation hash: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
			return err
		},
	}
}

// ownerKeysFromEnv reads comma separated keys from AACTL_OWNER_KEYS.
func ownerKeysFromEnv() []string {
	var keys []string
	for _, k := range strings.Split(os.Getenv("AACTL_OWNER_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func parseKeys(values []string) ([]*ecdsa.PrivateKey, error) {
	keys := make([]*ecdsa.PrivateKey, 0, len(values))
	for i, v := range values {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid key #%d: %w", i+1, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// signOperation replaces the signature of op with one signature per key over
// the operation hash. Keys must be given in owner order.
func (c *cli) signOperation(ctx context.Context, op *erc4337.UserOperation, keys []*ecdsa.PrivateKey) (common.Hash, error) {
	ep, err := c.resolveEntryPoint(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := c.client.GetUserOpHash(ctx, op, ep)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get user operation hash: %w", err)
	}

	sigs, err := signature.SignAll(signature.EthSignedHash(hash), keys...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign user operation: %w", err)
	}
	op.Signature = sigs

	for _, key := range keys {
		c.logger.Debug().Str("signer", crypto.PubkeyToAddress(key.PublicKey).Hex()).Str("hash", hash.Hex()).Msg("signed")
	}
	return hash, nil
}

func (c *cli) signCmd() *cobra.Command {
	var keyHexes []string

	cmd := &cobra.Command{
		Use:   "sign <op.json|->",
		Short: "Sign a user operation with owner keys and print it",
		Long: `Sign a user operation with owner keys and print it.

Give one --key per signing owner, in the order the owners were configured.
Keys may also be set, comma separated, in AACTL_OWNER_KEYS.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(keyHexes) == 0 {
				if env := ownerKeysFromEnv(); len(env) > 0 {
					keyHexes = env
				} else {
					return fmt.Errorf("no keys, set --key or AACTL_OWNER_KEYS")
				}
			}
			keys, err := parseKeys(keyHexes)
			if err != nil {
				return err
			}
			op, err := readOperation(cmd, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := c.context(cmd)
			defer cancel()

			if _, err := c.signOperation(ctx, op, keys); err != nil {
				return err
			}
			return printJSON(cmd, op)
		},
	}

	cmd.Flags().StringSliceVar(&keyHexes, "key", nil, "owner private key in hex, repeat for each signer")
	return cmd
}

func (c *cli) sendCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "send <op.json|->",
		Short: "Submit a signed user operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := readOperation(cmd, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := c.context(cmd)
			defer cancel()

			ep, err := c.resolveEntryPoint(ctx)
			if err != nil {
				return err
			}
			hash, err := c.client.SendUserOperation(ctx, op, ep)
			if err != nil {
				return fmt.Errorf("failed to send user operation: %w", err)
			}
			c.logger.Info().Str("hash", hash.Hex()).Msg("user operation sent")

			if !wait {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), hash.Hex())
				return err
			}

			receipt, err := c.waitForReceipt(ctx, hash, time.Second)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the receipt and print it")
	return cmd
}

func (c *cli) handleOpsCmd() *cobra.Command {
	var beneficiary string

	cmd := &cobra.Command{
		Use:   "handle-ops <op.json>...",
		Short: "Execute signed user operations as one batch and print the receipts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var to common.Address
			if beneficiary != "" {
				if !common.IsHexAddress(beneficiary) {
					return fmt.Errorf("invalid beneficiary %q", beneficiary)
				}
				to = common.HexToAddress(beneficiary)
			}

			ops := make([]*erc4337.UserOperation, 0, len(args))
			for _, path := range args {
				op, err := readOperation(cmd, path)
				if err != nil {
					return err
				}
				ops = append(ops, op)
			}

			ctx, cancel := c.context(cmd)
			defer cancel()

			receipts, err := c.client.HandleOps(ctx, ops, to)
			if err != nil {
				return fmt.Errorf("failed to handle operations: %w", err)
			}
			c.logger.Info().
				Int("ops", len(receipts)).
				Str("collected", erc4337.TotalCharged(receipts).String()).
				Msg("batch handled")
			return printJSON(cmd, receipts)
		},
	}

	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "address collecting the fees (default: the node's beneficiary)")
	return cmd
}

func (c *cli) receiptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "receipt <userOpHash>",
		Short: "Print the receipt of a user operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if len(strings.TrimPrefix(raw, "0x")) != 2*common.HashLength {
				return fmt.Errorf("invalid user operation hash %q", raw)
			}

			ctx, cancel := c.context(cmd)
			defer cancel()

			receipt, err := c.client.GetUserOperationReceipt(ctx, common.HexToHash(raw))
			if err != nil {
				return fmt.Errorf("failed to get receipt: %w", err)
			}
			if receipt == nil {
				return fmt.Errorf("no receipt for %s", raw)
			}
			return printJSON(cmd, receipt)
		},
	}
}

// waitForReceipt polls for the receipt of hash until it exists or ctx ends.
func (c *cli) waitForReceipt(ctx context.Context, hash common.Hash, interval time.Duration) (*erc4337.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		receipt, err := c.client.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}
		if receipt != nil {
			return receipt, nil
		}
		c.logger.Debug().Int("attempt", attempt).Msg("receipt not yet available")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no receipt for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
