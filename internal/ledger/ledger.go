// Package ledger abstracts the "ledger implementation" spec.md §1 scopes
// out of the specification: an account-and-transaction substrate the
// escrow client and payment gateway read from and submit to, without
// either caring whether it is a live Solana cluster or an in-process
// simulation run for tests.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrAccountNotFound is returned by GetAccountInfo when no account is
// allocated at the requested address.
var ErrAccountNotFound = errors.New("ledger: account not found")

// Blockhash is an opaque recent-blockhash handle used to build a
// transaction that the ledger will accept within its validity window.
type Blockhash struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Ledger is the minimal surface the escrow client library and the
// transaction router read from and submit to (§4.C/§4.E.1). RPCLedger and
// the simulated in-process SimLedger both implement it.
type Ledger interface {
	// GetAccountInfo returns the raw account data at address, or
	// ErrAccountNotFound if nothing is allocated there.
	GetAccountInfo(ctx context.Context, address solana.PublicKey) ([]byte, error)

	// GetLatestBlockhash fetches a fresh blockhash for transaction
	// construction, per the direct-RPC fallback path of §4.E.1.
	GetLatestBlockhash(ctx context.Context) (Blockhash, error)

	// SendTransaction submits a fully signed, serialized transaction and
	// returns its signature. skipPreflight mirrors the §4.E.1 fallback's
	// skip_preflight=true behavior; simulated ledgers ignore it.
	SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error)
}
