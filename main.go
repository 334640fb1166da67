package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/umbraforge/escrowgate/config"
	"github.com/umbraforge/escrowgate/internal/escrowclient"
	"github.com/umbraforge/escrowgate/internal/gateway"
	"github.com/umbraforge/escrowgate/internal/journal"
	"github.com/umbraforge/escrowgate/internal/ledger"
	"github.com/umbraforge/escrowgate/internal/marketplace"
	"github.com/umbraforge/escrowgate/internal/txrouter"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	programID, err := solana.PublicKeyFromBase58(cfg.EscrowProgramID)
	if err != nil {
		slog.Error("invalid ESCROW_PROGRAM_ID", "err", err)
		os.Exit(1)
	}
	tokenMint, err := solana.PublicKeyFromBase58(cfg.TokenMint)
	if err != nil {
		slog.Error("invalid TOKEN_MINT", "err", err)
		os.Exit(1)
	}
	gatewayKey, err := solana.PrivateKeyFromBase58(cfg.GatewayPrivateKey)
	if err != nil {
		slog.Error("invalid GATEWAY_PRIVATE_KEY", "err", err)
		os.Exit(1)
	}
	signer := func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(gatewayKey.PublicKey()) {
			return &gatewayKey
		}
		return nil
	}

	rpcLedger := ledger.NewRPCLedger(cfg.RPCURL)

	// Wire up the dual-path transaction router.
	//   - OPTIMIZER_URL set → try the external tx-optimizing gateway first,
	//     falling back to direct RPC on any failure (§4.E.1)
	//   - unset             → direct RPC only
	var optimizer *txrouter.Optimizer
	if cfg.OptimizerURL != "" {
		slog.Info("routing mode: optimizer + rpc fallback", "optimizer_url", cfg.OptimizerURL)
		optimizer = txrouter.NewOptimizer(cfg.OptimizerURL, cfg.OptimizerAPIKey, cfg.Cluster, cfg.GatewayTimeout)
	} else {
		slog.Info("routing mode: direct rpc only (set OPTIMIZER_URL to enable the optimizer path)")
	}
	router := txrouter.NewRouter(optimizer, rpcLedger)

	escrowClient := escrowclient.New(programID, tokenMint, rpcLedger, router)

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		slog.Error("failed to open journal", "err", err)
		os.Exit(1)
	}
	defer j.Close()

	// Marketplace integration is entirely optional (§4.F): with no
	// MARKETPLACE_URL set, completions and job-status updates are no-ops.
	var mkt marketplace.Client = marketplace.NoopClient{}
	if cfg.MarketplaceURL != "" {
		sessions := marketplace.NewSessionManager(cfg.JWTSecret, cfg.SessionExpiry)
		token, err := sessions.IssueSession(gatewayKey.PublicKey().String())
		if err != nil {
			slog.Error("failed to issue marketplace session", "err", err)
			os.Exit(1)
		}
		slog.Info("marketplace integration enabled", "url", cfg.MarketplaceURL)
		mkt = marketplace.NewHTTPClient(cfg.MarketplaceURL, token, cfg.RPCTimeout)
	}

	srv := gateway.NewServer(gateway.Config{
		EscrowClient: escrowClient,
		TokenMint:    tokenMint,
		Authority:    gatewayKey.PublicKey(),
		Signer:       signer,
		Marketplace:  mkt,
		Journal:      j,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("payment gateway starting",
		"addr", addr,
		"rpc_url", cfg.RPCURL,
		"cluster", cfg.Cluster,
		"escrow_program", cfg.EscrowProgramID,
		"token_mint", cfg.TokenMint,
	)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 5*time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
