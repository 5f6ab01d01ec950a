package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ethaccount/aawallet/erc4337"
)

type dialFunc func(ctx context.Context, rawurl string) (erc4337.Bundler, error)

// cli holds the state shared by every subcommand.
type cli struct {
	dial       dialFunc
	rpcURL     string
	entryPoint string
	timeout    time.Duration
	verbose    bool

	logger zerolog.Logger
	client erc4337.Bundler
}

func newRootCmd(dial dialFunc) *cobra.Command {
	c := &cli{dial: dial}

	rootCmd := &cobra.Command{
		Use:   "aactl",
		Short: "Command line client for the AA wallet entry point",
		Long: `aactl talks to an entry point node over JSON-RPC.

It computes counterfactual wallet addresses, hashes and signs user operations
with owner keys, submits them and looks up their receipts.

The node URL is read from --rpc or AACTL_RPC_URL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if c.verbose {
				level = zerolog.DebugLevel
			}
			c.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()

			if c.rpcURL == "" {
				c.rpcURL = os.Getenv("AACTL_RPC_URL")
			}
			if c.rpcURL == "" {
				return fmt.Errorf("no node URL, set --rpc or AACTL_RPC_URL")
			}
			if c.entryPoint != "" && !common.IsHexAddress(c.entryPoint) {
				return fmt.Errorf("invalid entry point %q", c.entryPoint)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()

			c.logger.Debug().Str("rpc", c.rpcURL).Msg("connecting")
			client, err := c.dial(ctx, c.rpcURL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", c.rpcURL, err)
			}
			c.client = client
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.client != nil {
				c.client.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.rpcURL, "rpc", "", "entry point node JSON-RPC URL")
	rootCmd.PersistentFlags().StringVar(&c.entryPoint, "entry-point", "", "entry point address (default: the node's first supported entry point)")
	rootCmd.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "timeout for each node request")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log requests to stderr")

	rootCmd.AddCommand(
		c.chainCmd(),
		c.senderAddressCmd(),
		c.executeDataCmd(),
		c.hashCmd(),
		c.signCmd(),
		c.sendCmd(),
		c.handleOpsCmd(),
		c.receiptCmd(),
	)
	return rootCmd
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

// resolveEntryPoint returns --entry-point, or the node's first supported one.
func (c *cli) resolveEntryPoint(ctx context.Context) (common.Address, error) {
	if c.entryPoint != "" {
		return common.HexToAddress(c.entryPoint), nil
	}
	eps, err := c.client.SupportedEntryPoints(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get supported entry points: %w", err)
	}
	if len(eps) == 0 {
		return common.Address{}, fmt.Errorf("node supports no entry point")
	}
	return eps[0], nil
}

// readOperation reads a JSON user operation from path, or stdin when path is "-".
func readOperation(cmd *cobra.Command, path string) (*erc4337.UserOperation, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var op erc4337.UserOperation
	if err := json.NewDecoder(r).Decode(&op); err != nil {
		return nil, fmt.Errorf("failed to parse user operation %s: %w", path, err)
	}
	return &op, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
