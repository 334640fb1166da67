// Package taskhash derives the task hash and escrow PDA that bind a payment
// to a specific (client, provider, service, task, nonce) tuple.
//
// Both of these are pure functions. They must produce byte-identical output
// whether called from the off-ledger escrow client, the x402 provider
// middleware, or the on-ledger program itself — a single divergent bit here
// means client and provider silently derive different escrow addresses,
// which is unrecoverable fund loss, not a bug report (spec.md §4.B).
package taskhash

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
)

// escrowSeedPrefix is the fixed first seed of every escrow PDA derivation.
var escrowSeedPrefix = []byte("escrow")

// Hash computes the 32-byte task hash SHA256(serviceID ":" taskData ":" nonce).
// nonce is a client-chosen, millisecond-resolution monotonic value; it is the
// only thing that makes two requests with an identical (serviceID, taskData)
// pair resolve to distinct escrows.
func Hash(serviceID, taskData string, nonce uint64) [32]byte {
	h := sha256.New()
	h.Write([]byte(serviceID))
	h.Write([]byte(":"))
	h.Write([]byte(taskData))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DerivePDA derives the escrow PDA for (client, provider, taskHash) under
// programID using seeds ["escrow", client, provider, task_hash]. It must
// stay byte-for-byte identical to the on-ledger program's derivation.
func DerivePDA(client, provider solana.PublicKey, taskHash [32]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	seeds := [][]byte{
		escrowSeedPrefix,
		client.Bytes(),
		provider.Bytes(),
		taskHash[:],
	}
	pda, bump, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("deriving escrow pda: %w", err)
	}
	return pda, bump, nil
}
