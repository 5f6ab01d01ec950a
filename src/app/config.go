package app

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Chain the entry point signs for (required)
	ChainID *big.Int
	// Address collecting the fees of every batch (required)
	Beneficiary *common.Address

	// =========================== OPTIONAL ===========================

	// Entry point address (default: the canonical v0.7 address)
	EntryPoint *common.Address
	// Base fee used to price operations (default: 0)
	BaseFee *big.Int

	// Logging configuration
	LogLevel *string
	// Environment name, "dev" enables pprof
	Environment *string

	// HTTP server configuration
	Port *string
	// API secret protecting the faucet and paymaster routes (empty leaves them unmounted)
	APISecret *string

	// CORS configuration
	AllowOrigins *[]string

	// Receipt cache, in memory when empty
	RedisURL   *string
	ReceiptTTL *time.Duration

	// Batch history, disabled when empty
	DSN           *string
	MigrationPath *string

	// Token rates as tokens per native unit
	TokenRates *map[common.Address]decimal.Decimal

	// Paymasters registered at startup, skipped when the address is empty
	DepositPaymaster   *common.Address
	VerifyingPaymaster *common.Address
	VerifyingSigner    *common.Address
	MinPaymasterStake  *big.Int
}

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load required configuration
	loadRequiredConfig(config)

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	chainIDStr := os.Getenv("CHAIN_ID")
	if chainIDStr == "" {
		log.Fatalf("REQUIRED: CHAIN_ID not set in environment")
	}
	chainID, err := parseBigInt(chainIDStr)
	if err != nil || chainID.Sign() <= 0 {
		log.Fatalf("REQUIRED: invalid CHAIN_ID %q", chainIDStr)
	}
	config.ChainID = chainID

	beneficiaryStr := os.Getenv("BENEFICIARY")
	if !common.IsHexAddress(beneficiaryStr) {
		log.Fatalf("REQUIRED: BENEFICIARY not set to a hex address in environment")
	}
	beneficiary := common.HexToAddress(beneficiaryStr)
	if beneficiary == (common.Address{}) {
		log.Fatalf("REQUIRED: BENEFICIARY must not be the zero address")
	}
	config.Beneficiary = &beneficiary
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	entryPoint := mustAddress("ENTRYPOINT_ADDRESS", getEnvWithDefault("ENTRYPOINT_ADDRESS", erc4337.DefaultEntryPoint.Hex()))
	config.EntryPoint = &entryPoint

	config.BaseFee = mustBigInt("BASE_FEE", getEnvWithDefault("BASE_FEE", "0"))

	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	environment := getEnvWithDefault("ENVIRONMENT", "dev")
	config.Environment = &environment

	apiSecret := os.Getenv("API_SECRET")
	config.APISecret = &apiSecret

	loadCORSConfig(config)

	redisURL := os.Getenv("REDIS_URL")
	config.RedisURL = &redisURL

	receiptTTL := getReceiptTTL()
	config.ReceiptTTL = &receiptTTL

	dsn := os.Getenv("DB_URL")
	config.DSN = &dsn

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	rates, err := fee.ParseRates(os.Getenv("TOKEN_RATES"))
	if err != nil {
		log.Fatalf("invalid TOKEN_RATES: %v", err)
	}
	config.TokenRates = &rates

	loadPaymasterConfig(config)
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOriginsStr := os.Getenv("ALLOW_ORIGINS")
	var allowOrigins []string

	if allowOriginsStr != "" {
		// Parse comma-separated origins
		origins := strings.Split(allowOriginsStr, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowOrigins = append(allowOrigins, origin)
			}
		}
	} else {
		// Handle missing ALLOW_ORIGINS based on environment
		if *config.Environment == "development" || *config.Environment == "dev" {
			allowOrigins = []string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = &allowOrigins
}

// loadPaymasterConfig reads the paymasters registered at startup
func loadPaymasterConfig(config *AppConfig) {
	if v := os.Getenv("DEPOSIT_PAYMASTER_ADDRESS"); v != "" {
		addr := mustAddress("DEPOSIT_PAYMASTER_ADDRESS", v)
		config.DepositPaymaster = &addr
	}

	if v := os.Getenv("VERIFYING_PAYMASTER_ADDRESS"); v != "" {
		addr := mustAddress("VERIFYING_PAYMASTER_ADDRESS", v)
		config.VerifyingPaymaster = &addr

		signerStr := os.Getenv("VERIFYING_PAYMASTER_SIGNER")
		if signerStr == "" {
			log.Fatalf("REQUIRED: VERIFYING_PAYMASTER_SIGNER must be set with VERIFYING_PAYMASTER_ADDRESS")
		}
		signer := mustAddress("VERIFYING_PAYMASTER_SIGNER", signerStr)
		config.VerifyingSigner = &signer
	}

	config.MinPaymasterStake = mustBigInt("MIN_PAYMASTER_STAKE", getEnvWithDefault("MIN_PAYMASTER_STAKE", "1"))
}

// getReceiptTTL parses the receipt TTL in hours from environment with default fallback
func getReceiptTTL() time.Duration {
	ttlStr := os.Getenv("RECEIPT_TTL_HOURS")
	if ttlStr == "" {
		return 24 * time.Hour
	}

	if parsed, err := strconv.Atoi(ttlStr); err == nil && parsed >= 0 {
		return time.Duration(parsed) * time.Hour
	}

	log.Printf("Warning: Invalid RECEIPT_TTL_HOURS value '%s', using default 24 hours", ttlStr)
	return 24 * time.Hour
}

// parseBigInt accepts decimal or 0x-prefixed hex.
func parseBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func mustBigInt(key, value string) *big.Int {
	v, err := parseBigInt(value)
	if err != nil || v.Sign() < 0 {
		log.Fatalf("invalid %s %q", key, value)
	}
	return v
}

func mustAddress(key, value string) common.Address {
	if !common.IsHexAddress(value) {
		log.Fatalf("invalid %s %q: not a hex address", key, value)
	}
	return common.HexToAddress(value)
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
