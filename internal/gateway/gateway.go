// Package gateway is the payment gateway HTTP service of §4.E: a standalone
// x402 paywall enforcer sitting in front of escrow release. Providers call
// /claim-payment only after their own proof-of-work is submitted and
// verified; the gateway checks escrow state itself rather than trusting the
// caller, and releases funds on the provider's behalf.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/umbraforge/escrowgate/internal/escrow"
	"github.com/umbraforge/escrowgate/internal/escrowclient"
	"github.com/umbraforge/escrowgate/internal/journal"
	"github.com/umbraforge/escrowgate/internal/marketplace"
	"github.com/umbraforge/escrowgate/internal/txrouter"
)

// Config groups a Server's dependencies.
type Config struct {
	// EscrowClient reads escrow state and submits release transactions.
	EscrowClient *escrowclient.Client
	// TokenMint is the SPL mint escrows are denominated in, needed to derive
	// provider/escrow associated token accounts.
	TokenMint solana.PublicKey
	// Authority is the gateway's own custodial signing key, acting as the
	// escrow's client authority when releasing payment on a provider's
	// behalf. A production deployment backs this with a client-delegated
	// authority rather than the gateway's own funds (Open Question, see
	// design notes); this field only needs to be the account matching
	// whatever escrow.Client value the escrows in question were opened with.
	Authority solana.PublicKey
	Signer    txrouter.SignerFunc
	// Marketplace reports completions; Journal records every attempt. Both
	// accept nil-safe no-op implementations.
	Marketplace marketplace.Client
	Journal     *journal.Journal
}

// Server implements the x402 payment gateway's HTTP surface.
type Server struct {
	cfg Config

	// claiming collapses concurrent claim-payment requests for the same
	// escrow PDA into a single in-flight release attempt (P6): the escrow
	// state machine already refuses a second release once Completed, but
	// that check happens after a network round trip, so two requests
	// arriving within the same window could both observe ProofSubmitted and
	// both attempt to submit a release transaction.
	claimMu  sync.Mutex
	claiming map[string]struct{}
}

// NewServer builds a Server from cfg, defaulting Marketplace to a no-op
// client when unset.
func NewServer(cfg Config) *Server {
	if cfg.Marketplace == nil {
		cfg.Marketplace = marketplace.NoopClient{}
	}
	return &Server{cfg: cfg, claiming: make(map[string]struct{})}
}

// ServeHTTP routes requests to the gateway's two endpoints, mirroring the
// method-and-path dispatch style used throughout this codebase's HTTP
// surfaces.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		s.handleHealth(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/verify-proof":
		s.handleVerifyProof(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/claim-payment":
		s.handleClaimPayment(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "service": "escrow payment gateway"})
}

type verifyProofRequest struct {
	EscrowPDA string `json:"escrow_pda"`
}

type verifyProofResponse struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
	Details  string `json:"details"`
}

// handleVerifyProof reports whether an escrow's proof has been submitted,
// without taking any action.
func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req verifyProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EscrowPDA == "" {
		writeJSONError(w, http.StatusBadRequest, "missing escrow_pda")
		return
	}

	pda, err := solana.PublicKeyFromBase58(req.EscrowPDA)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid escrow_pda encoding")
		return
	}

	slog.Info("verify-proof", "escrow_pda", req.EscrowPDA)

	state, err := s.cfg.EscrowClient.CheckEscrow(r.Context(), pda)
	if err != nil {
		slog.Error("verify-proof: checking escrow failed", "error", err)
		writeErrForKind(w, err, "proof verification failed")
		return
	}
	if !state.Exists {
		writeJSON(w, http.StatusOK, verifyProofResponse{Verified: false, Status: "not_found", Details: "no escrow at this address"})
		return
	}

	switch state.Escrow.Status {
	case escrow.StatusPending:
		writeJSON(w, http.StatusOK, verifyProofResponse{Verified: false, Status: "pending", Details: "proof not yet submitted"})
	case escrow.StatusProofSubmitted, escrow.StatusCompleted:
		writeJSON(w, http.StatusOK, verifyProofResponse{Verified: true, Status: "verified", Details: "proof submitted"})
	case escrow.StatusCancelled:
		writeJSON(w, http.StatusOK, verifyProofResponse{Verified: false, Status: "cancelled", Details: "escrow was cancelled"})
	}
}

type claimPaymentRequest struct {
	EscrowPDA       string `json:"escrow_pda"`
	ProviderAddress string `json:"provider_address"`
}

type claimPaymentResponse struct {
	Status      string `json:"status"`
	EscrowPDA   string `json:"escrow_pda"`
	Amount      uint64 `json:"amount"`
	TxSignature string `json:"tx_signature,omitempty"`
}

// handleClaimPayment is the x402 paywall endpoint (P5): it enforces that a
// provider can only be paid after proof is verified, and it is safe to call
// more than once for the same escrow (P6) — repeat calls after a successful
// release report the prior outcome instead of attempting a second transfer.
func (s *Server) handleClaimPayment(w http.ResponseWriter, r *http.Request) {
	var req claimPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EscrowPDA == "" {
		writeJSONError(w, http.StatusBadRequest, "missing escrow_pda")
		return
	}
	if req.ProviderAddress == "" {
		writeJSONError(w, http.StatusBadRequest, "missing provider_address")
		return
	}

	pda, err := solana.PublicKeyFromBase58(req.EscrowPDA)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid escrow_pda encoding")
		return
	}
	providerAddr, err := solana.PublicKeyFromBase58(req.ProviderAddress)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid provider_address encoding")
		return
	}

	if !s.beginClaim(req.EscrowPDA) {
		writeJSONError(w, http.StatusConflict, "a claim for this escrow is already in flight")
		return
	}
	defer s.endClaim(req.EscrowPDA)

	slog.Info("claim-payment", "escrow_pda", req.EscrowPDA, "provider", req.ProviderAddress)

	ctx := r.Context()
	state, err := s.cfg.EscrowClient.CheckEscrow(ctx, pda)
	if err != nil {
		slog.Error("claim-payment: checking escrow failed", "error", err)
		writeErrForKind(w, err, "checking escrow failed")
		return
	}
	if !state.Exists {
		writeJSONError(w, http.StatusBadRequest, "escrow not found")
		return
	}

	e := state.Escrow
	if !e.Provider.Equals(providerAddr) {
		writeJSONError(w, http.StatusBadRequest, "provider_address does not match escrow")
		return
	}

	switch e.Status {
	case escrow.StatusPending:
		slog.Info("claim-payment: paywall blocked, proof not verified", "escrow_pda", req.EscrowPDA)
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":      "Proof not verified",
			"details":    "submit proof of work before claiming payment",
			"escrow_pda": req.EscrowPDA,
			"status":     "pending",
		})
		return
	case escrow.StatusCancelled:
		writeJSONError(w, http.StatusConflict, "escrow was cancelled, nothing to claim")
		return
	case escrow.StatusCompleted:
		// Idempotent re-claim: payment already released, report success
		// without submitting anything (P6).
		writeJSON(w, http.StatusOK, claimPaymentResponse{
			Status:    "Payment already released",
			EscrowPDA: req.EscrowPDA,
			Amount:    e.Amount,
		})
		return
	}

	// StatusProofSubmitted: proceed to release.
	escrowTokenAcct, err := escrowclient.DeriveAssociatedTokenAddress(pda, s.cfg.TokenMint)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "deriving escrow token account failed")
		return
	}
	providerTokenAcct, err := escrowclient.DeriveAssociatedTokenAddress(providerAddr, s.cfg.TokenMint)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "deriving provider token account failed")
		return
	}

	start := time.Now()
	sig, usedGateway, err := s.cfg.EscrowClient.ReleasePaymentViaGateway(ctx, escrowclient.ReleaseParams{
		EscrowPDA:         pda,
		Authority:         s.cfg.Authority,
		ProviderTokenAcct: providerTokenAcct,
		EscrowTokenAcct:   escrowTokenAcct,
		Signer:            s.cfg.Signer,
	})
	elapsed := time.Since(start)

	routing := txrouter.RoutingRpcDirect
	if usedGateway {
		routing = txrouter.RoutingGateway
	}
	s.recordJournal(journal.TypeReleasePayment, sig, routing, err, req.EscrowPDA, e.Client.String(), req.ProviderAddress, e.Amount, elapsed)

	if err != nil {
		slog.Error("claim-payment: release failed", "error", err, "escrow_pda", req.EscrowPDA)
		writeErrForKind(w, err, fmt.Sprintf("payment release failed: %v", err))
		return
	}

	s.notifyMarketplace(req.EscrowPDA, req.ProviderAddress, e.Amount, sig)

	slog.Info("claim-payment: payment released", "escrow_pda", req.EscrowPDA, "signature", sig, "amount", e.Amount)
	writeJSON(w, http.StatusOK, claimPaymentResponse{
		Status:      "Payment released",
		EscrowPDA:   req.EscrowPDA,
		Amount:      e.Amount,
		TxSignature: sig,
	})
}

func (s *Server) beginClaim(pda string) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if _, inFlight := s.claiming[pda]; inFlight {
		return false
	}
	s.claiming[pda] = struct{}{}
	return true
}

func (s *Server) endClaim(pda string) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	delete(s.claiming, pda)
}

func (s *Server) recordJournal(txType journal.TransactionType, sig string, routing txrouter.Routing, err error, escrowPDA, clientAddr, providerAddr string, amount uint64, elapsed time.Duration) {
	if s.cfg.Journal == nil {
		return
	}
	status := journal.StatusSuccess
	errMsg := ""
	if err != nil {
		status = journal.StatusFailed
		errMsg = err.Error()
	}
	s.cfg.Journal.Record(journal.Record{
		TransactionID:   sig,
		TransactionType: txType,
		Status:          status,
		RoutingMethod:   routing,
		Signature:       sig,
		ClientAddress:   clientAddr,
		ProviderAddress: providerAddr,
		Amount:          amount,
		EscrowPDA:       escrowPDA,
		ErrorMessage:    errMsg,
		ExecutionTimeMS: elapsed.Milliseconds(),
	})
}

func (s *Server) notifyMarketplace(escrowPDA, providerAddr string, amount uint64, signature string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Marketplace.RecordCompletion(ctx, escrowPDA, providerAddr, escrowPDA, amount, signature); err != nil {
		slog.Warn("claim-payment: marketplace notification failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErrForKind maps err to its §7 HTTP status via escrow.KindOf, so a
// cross-process race (e.g. a second gateway instance already released, or a
// ledger read that times out) surfaces the same status code the x402
// provider middleware uses for the same error kind, instead of flattening
// every failure to 500.
func writeErrForKind(w http.ResponseWriter, err error, message string) {
	status := escrow.HTTPStatusFor(escrow.KindOf(err))
	writeJSONError(w, status, message)
}
