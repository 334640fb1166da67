package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all gateway configuration.
type Config struct {
	// RPCURL is the Solana JSON-RPC endpoint used for account reads and the
	// direct-RPC fallback path of the transaction router.
	RPCURL string

	// Cluster is the cluster tag embedded in x402 challenges (e.g. "devnet",
	// "mainnet-beta").
	Cluster string

	// EscrowProgramID is the deployed escrow program's address.
	EscrowProgramID string

	// TokenMint is the SPL mint address escrows are denominated in.
	TokenMint string

	// TokenSymbol is the display symbol echoed in payment challenges.
	TokenSymbol string

	// TokenDecimals is the decimal precision of TokenMint, checked by Load to
	// lie in 0..18. Nothing else in this repository reads it: no code converts
	// a challenge's decimal amount to atomic units, so no challenge is
	// rejected for ambiguous rounding.
	TokenDecimals int

	// OptimizerURL is the external transaction-optimizing service endpoint
	// (component E.1's preferred path). Empty disables it — every
	// transaction goes straight to RPC.
	OptimizerURL string

	// OptimizerAPIKey authenticates against OptimizerURL.
	OptimizerAPIKey string

	// GatewayURL is this service's own public URL. It is loaded from
	// GATEWAY_URL; nothing else in this repository reads it, and no 402 body
	// includes it.
	GatewayURL string

	// MarketplaceURL is the external marketplace collaborator's base URL.
	// Empty disables marketplace side effects entirely (best-effort only).
	MarketplaceURL string

	// JWTSecret signs marketplace session tokens.
	JWTSecret []byte

	// GatewayPrivateKey is the base58-encoded signing key the payment
	// gateway uses as the escrow client authority when releasing payment on
	// a provider's behalf (§4.E). Required to run the gateway service.
	GatewayPrivateKey string

	// SessionExpiry is how long an issued marketplace session token is valid.
	SessionExpiry time.Duration

	// JournalPath is the file transaction journal records are appended to.
	// Empty means stdout only.
	JournalPath string

	// Port is the HTTP listen port for the payment gateway service.
	Port int

	// RPCTimeout bounds RPC reads/submissions (§5: 10s default).
	RPCTimeout time.Duration

	// GatewayTimeout bounds calls to the external tx optimizer (§5: 30s default).
	GatewayTimeout time.Duration
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded if present (dev convenience).
func Load() (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent (production uses real env vars)
	cfg := &Config{
		RPCURL:            getEnv("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
		Cluster:           getEnv("CLUSTER", "devnet"),
		EscrowProgramID:   getEnv("ESCROW_PROGRAM_ID", "HgzpCVSzmSwveikHVTpt85jVXpcqnJWQNcZzFbnjMEz9"),
		TokenMint:         getEnv("TOKEN_MINT", ""),
		TokenSymbol:       getEnv("TOKEN_SYMBOL", "USDC"),
		TokenDecimals:     getEnvInt("TOKEN_DECIMALS", 6),
		OptimizerURL:      getEnv("OPTIMIZER_URL", ""),
		OptimizerAPIKey:   getEnv("OPTIMIZER_API_KEY", ""),
		GatewayURL:        getEnv("GATEWAY_URL", "http://localhost:8080"),
		MarketplaceURL:    getEnv("MARKETPLACE_URL", ""),
		JournalPath:       getEnv("JOURNAL_PATH", ""),
		GatewayPrivateKey: getEnv("GATEWAY_PRIVATE_KEY", ""),
		Port:              getEnvInt("PORT", 8080),
		RPCTimeout:        time.Duration(getEnvInt("RPC_TIMEOUT_SECONDS", 10)) * time.Second,
		GatewayTimeout:    time.Duration(getEnvInt("GATEWAY_TIMEOUT_SECONDS", 30)) * time.Second,
		SessionExpiry:     time.Duration(getEnvInt("SESSION_EXPIRY_HOURS", 168)) * time.Hour, // 7 days
	}

	if cfg.TokenDecimals < 0 || cfg.TokenDecimals > 18 {
		return nil, fmt.Errorf("TOKEN_DECIMALS out of range: %d", cfg.TokenDecimals)
	}
	if cfg.GatewayPrivateKey == "" {
		return nil, fmt.Errorf("GATEWAY_PRIVATE_KEY env var is required")
	}
	if cfg.TokenMint == "" {
		return nil, fmt.Errorf("TOKEN_MINT env var is required")
	}

	// Marketplace session auth is only required when a marketplace is configured.
	if cfg.MarketplaceURL != "" {
		jwtHex := getEnv("JWT_SECRET", "")
		if jwtHex == "" {
			return nil, fmt.Errorf("JWT_SECRET env var is required when MARKETPLACE_URL is set (32-byte hex)")
		}
		secret, err := hex.DecodeString(jwtHex)
		if err != nil {
			return nil, fmt.Errorf("JWT_SECRET must be valid hex: %w", err)
		}
		if len(secret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes (64 hex chars)")
		}
		cfg.JWTSecret = secret
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
