package txrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/umbraforge/escrowgate/internal/escrow"
	"github.com/umbraforge/escrowgate/internal/ledger"
)

// Routing records which path ultimately delivered a transaction, for the
// journal (§4.F).
type Routing string

const (
	RoutingGateway     Routing = "Gateway"
	RoutingRpcFallback Routing = "RpcFallback"
	RoutingRpcDirect   Routing = "RpcDirect"
)

// SignerFunc resolves a public key to the private key that should sign for
// it, matching solana-go's Transaction.Sign callback shape.
type SignerFunc func(key solana.PublicKey) *solana.PrivateKey

// Router is the dual-path transaction router of §4.E.1.
type Router struct {
	optimizer  *Optimizer
	fallback   ledger.Ledger
	maxRetries int
	retryDelay time.Duration
}

// NewRouter builds a Router. optimizer may be nil, meaning every
// transaction goes straight to RPC (RoutingRpcDirect).
func NewRouter(optimizer *Optimizer, fallback ledger.Ledger) *Router {
	return &Router{
		optimizer:  optimizer,
		fallback:   fallback,
		maxRetries: 3,
		retryDelay: 250 * time.Millisecond,
	}
}

// Submit builds a transaction from instructions, tries the optimizer path
// first (if configured), and falls back to direct RPC with a fresh
// blockhash and skip_preflight=true on any failure. It returns the
// resulting signature, whether the gateway delivered it, and the routing
// path for the journal.
func (r *Router) Submit(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, sign SignerFunc) (solana.Signature, bool, Routing, error) {
	if r.optimizer != nil {
		sig, err := r.submitViaOptimizer(ctx, instructions, payer, sign)
		if err == nil {
			return sig, true, RoutingGateway, nil
		}
		slog.Warn("optimizer path failed, falling back to direct rpc", "error", err)
		sig, err = r.submitViaRPC(ctx, instructions, payer, sign)
		return sig, false, RoutingRpcFallback, err
	}

	sig, err := r.submitViaRPC(ctx, instructions, payer, sign)
	return sig, false, RoutingRpcDirect, err
}

func (r *Router) submitViaOptimizer(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, sign SignerFunc) (solana.Signature, error) {
	unsigned, err := solana.NewTransaction(instructions, solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("building unsigned transaction: %w", err)
	}
	unsignedBytes, err := unsigned.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serializing unsigned transaction: %w", err)
	}

	optimized, err := r.optimizer.BuildGatewayTransaction(ctx, unsignedBytes)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.TransactionFromBytes(optimized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decoding optimized transaction: %w", err)
	}
	if _, err := tx.Sign(sign); err != nil {
		return solana.Signature{}, fmt.Errorf("signing optimized transaction: %w", err)
	}
	signed, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("serializing signed transaction: %w", err)
	}

	return r.optimizer.SendTransaction(ctx, signed)
}

// submitViaRPC fetches a fresh blockhash, signs, and sends with
// skip_preflight=true, retrying transient failures for at most maxRetries
// attempts in total.
// Deterministic ledger rejects (WrongStatus, WrongSigner, WrongAuthority,
// AlreadyExists, InsufficientFunds, LedgerReject) are never retried.
func (r *Router) submitViaRPC(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, sign SignerFunc) (solana.Signature, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return solana.Signature{}, ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}

		bh, err := r.fallback.GetLatestBlockhash(ctx)
		if err != nil {
			lastErr = fmt.Errorf("fetching blockhash: %w", err)
			continue
		}

		tx, err := solana.NewTransaction(instructions, bh.Blockhash, solana.TransactionPayer(payer))
		if err != nil {
			return solana.Signature{}, fmt.Errorf("building transaction: %w", err)
		}
		if _, err := tx.Sign(sign); err != nil {
			return solana.Signature{}, fmt.Errorf("signing transaction: %w", err)
		}
		raw, err := tx.MarshalBinary()
		if err != nil {
			return solana.Signature{}, fmt.Errorf("serializing transaction: %w", err)
		}

		sig, err := r.fallback.SendTransaction(ctx, raw, true)
		if err == nil {
			return sig, nil
		}
		lastErr = err
		if isDeterministic(err) {
			return solana.Signature{}, err
		}
	}
	return solana.Signature{}, lastErr
}

func isDeterministic(err error) bool {
	switch escrow.KindOf(err) {
	case escrow.ErrWrongStatus, escrow.ErrWrongSigner, escrow.ErrWrongAuthority,
		escrow.ErrAlreadyExists, escrow.ErrInsufficientFunds, escrow.ErrLedgerReject,
		escrow.ErrBadRequest, escrow.ErrBalanceMismatch:
		return true
	}
	return errors.Is(err, ledger.ErrAccountNotFound)
}
