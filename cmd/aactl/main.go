package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/ethaccount/aawallet/erc4337"
)

func main() {
	// Optional .env with AACTL_RPC_URL
	_ = godotenv.Load()

	rootCmd := newRootCmd(erc4337.DialContext)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
