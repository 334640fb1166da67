package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/umbraforge/escrowgate/internal/escrow"
	"github.com/umbraforge/escrowgate/internal/escrowclient"
	"github.com/umbraforge/escrowgate/internal/ledger"
	"github.com/umbraforge/escrowgate/internal/taskhash"
)

// PaymentRequiredHeader is the header name for an escrow challenge in the
// role of a Payment-Required header. ProviderMiddleware does not set it: the
// challenge is delivered only in the 402 response body.
const PaymentRequiredHeader = "X-Payment-Required"

// XPaymentHeader is the request header carrying the signed escrow-init
// envelope.
const XPaymentHeader = "X-Payment"

// contextKey avoids collisions with other packages' context values.
type contextKey string

const escrowInfoKey contextKey = "x402-escrow-info"

// EscrowInfo is attached to the request context once a payment has been
// verified, so the wrapped handler can submit proof against the same PDA
// without re-deriving it.
type EscrowInfo struct {
	EscrowPDA solana.PublicKey
	Client    solana.PublicKey
	Provider  solana.PublicKey
	ServiceID string
	TaskData  string
	Nonce     uint64
	TaskHash  [32]byte
}

// FromContext retrieves the EscrowInfo a ProviderMiddleware attached to the
// request, if any.
func FromContext(ctx context.Context) (EscrowInfo, bool) {
	info, ok := ctx.Value(escrowInfoKey).(EscrowInfo)
	return info, ok
}

// ProviderConfig groups a ProviderMiddleware's dependencies.
type ProviderConfig struct {
	// Recipient is this provider's ledger account (the challenge's "recipient").
	Recipient solana.PublicKey
	// EscrowProgramID is the deployed escrow program's address.
	EscrowProgramID solana.PublicKey
	// Network is the cluster tag both challenge and envelope must agree on.
	Network string
	// TokenSymbol is the display symbol echoed in challenges.
	TokenSymbol string
	// AmountDisplay is the decimal amount advertised in the challenge body.
	AmountDisplay float64
	// AmountAtomic is the smallest-unit amount an accepted escrow must carry.
	AmountAtomic uint64
	// ServiceID identifies this provider's service.
	ServiceID string
	// TaskData extracts the task description from an inbound request, the
	// same value that will be hashed into the task hash on both sides.
	TaskData func(r *http.Request) string
	// EscrowClient reads and submits escrow state.
	EscrowClient *escrowclient.Client
	// Ledger submits the embedded escrow-init transaction when the escrow
	// does not yet exist.
	Ledger ledger.Ledger
	// ConfirmPoll/ConfirmTimeout bound how long to wait for a freshly
	// submitted escrow-init transaction to land (§4.D bounded retries).
	ConfirmPoll    time.Duration
	ConfirmTimeout time.Duration
	// Next is the handler invoked once payment is verified.
	Next http.Handler
}

// ProviderMiddleware implements the provider side of §4.D: issue a 402
// challenge, verify an X-Payment envelope against it, submit the embedded
// transaction if the escrow doesn't exist yet, and forward to Next.
type ProviderMiddleware struct {
	cfg ProviderConfig
}

// NewProviderMiddleware builds a ProviderMiddleware from cfg.
func NewProviderMiddleware(cfg ProviderConfig) *ProviderMiddleware {
	if cfg.ConfirmPoll == 0 {
		cfg.ConfirmPoll = 500 * time.Millisecond
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 20 * time.Second
	}
	return &ProviderMiddleware{cfg: cfg}
}

func (m *ProviderMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	taskData := m.cfg.TaskData(r)

	header := r.Header.Get(XPaymentHeader)
	if header == "" {
		m.send402(w, taskData, "")
		return
	}

	env, err := DecodeHeader(header)
	if err != nil {
		m.sendError(w, escrow.ErrBadRequest, err.Error())
		return
	}
	if env.X402Version != X402Version || env.Scheme != SchemeEscrow || env.Network != m.cfg.Network {
		m.sendError(w, escrow.ErrSchemeMismatch, fmt.Sprintf("unsupported x402Version=%d scheme=%q network=%q", env.X402Version, env.Scheme, env.Network))
		return
	}

	expectedHash := taskhash.Hash(env.Payload.ServiceID, taskData, env.Payload.Nonce)
	envHash, err := ParseTaskHashHex(env.Payload.TaskHash)
	if err != nil || envHash != expectedHash {
		m.sendError(w, escrow.ErrTaskHashMismatch, "recomputed task hash does not match envelope")
		return
	}

	escrowPDA, err := solana.PublicKeyFromBase58(env.Payload.EscrowPDA)
	if err != nil {
		m.sendError(w, escrow.ErrBadRequest, "invalid escrowPDA encoding")
		return
	}

	ctx := r.Context()
	state, err := m.cfg.EscrowClient.CheckEscrow(ctx, escrowPDA)
	if err != nil {
		slog.Error("x402 provider: checking escrow failed", "error", err)
		m.sendError(w, escrow.ErrTransientNetwork, err.Error())
		return
	}

	if !state.Exists {
		raw, err := base64.StdEncoding.DecodeString(env.Payload.SerializedTransaction)
		if err != nil {
			m.sendError(w, escrow.ErrBadRequest, "invalid serializedTransaction encoding")
			return
		}
		if _, err := m.cfg.Ledger.SendTransaction(ctx, raw, false); err != nil {
			slog.Warn("x402 provider: submitting escrow-init transaction failed", "error", err)
			m.sendError(w, escrow.ErrTransientNetwork, err.Error())
			return
		}

		confirmCtx, cancel := context.WithTimeout(ctx, m.cfg.ConfirmTimeout)
		confirmed, err := m.cfg.EscrowClient.WaitForStatus(confirmCtx, escrowPDA, m.cfg.ConfirmPoll, escrow.StatusPending, escrow.StatusProofSubmitted, escrow.StatusCompleted)
		cancel()
		if err != nil {
			m.sendError(w, escrow.ErrTransientNetwork, "escrow-init transaction did not confirm in time")
			return
		}
		state = escrowclient.EscrowState{Exists: true, Escrow: confirmed}
	}

	e := state.Escrow
	if !e.Provider.Equals(m.cfg.Recipient) || e.Amount < m.cfg.AmountAtomic {
		m.sendError(w, escrow.ErrBadRequest, "escrow does not match expected provider/amount")
		return
	}

	info := EscrowInfo{
		EscrowPDA: escrowPDA,
		Client:    e.Client,
		Provider:  e.Provider,
		ServiceID: env.Payload.ServiceID,
		TaskData:  taskData,
		Nonce:     env.Payload.Nonce,
		TaskHash:  expectedHash,
	}
	r = r.WithContext(context.WithValue(ctx, escrowInfoKey, info))
	m.cfg.Next.ServeHTTP(w, r)
}

func (m *ProviderMiddleware) send402(w http.ResponseWriter, taskData, reason string) {
	body := ChallengeBody{Payment: PaymentChallenge{
		Recipient:     m.cfg.Recipient.String(),
		EscrowProgram: m.cfg.EscrowProgramID.String(),
		Amount:        m.cfg.AmountDisplay,
		Token:         m.cfg.TokenSymbol,
		Network:       m.cfg.Network,
		ServiceID:     m.cfg.ServiceID,
		TaskData:      taskData,
		Message:       "Payment required. Lock funds in escrow to proceed.",
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(body)
}

// sendError maps an ErrorKind to its §7 HTTP status and writes a JSON body.
func (m *ProviderMiddleware) sendError(w http.ResponseWriter, kind escrow.ErrorKind, details string) {
	status := escrow.HTTPStatusFor(kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(kind),
		"details": details,
	})
}
