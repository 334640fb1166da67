package escrow

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// ProcessInitialize implements §4.A.1's preconditions and effect and is the
// ground truth a simulated ledger (internal/ledger) runs in place of a
// deployed program. A real program must reject everything this rejects.
//
// exists reports whether an account already occupies the derived PDA;
// callers pass true when one is allocated there and false when nothing is
// there yet.
func ProcessInitialize(exists bool, client, provider solana.PublicKey, amount uint64, serviceID string, taskHash [32]byte, bump uint8, now time.Time) (*Escrow, error) {
	if exists {
		return nil, newErr(ErrAlreadyExists, "escrow account already initialized at this pda")
	}
	return NewPending(client, provider, amount, serviceID, taskHash, bump, now)
}

// ProcessSubmitProof implements §4.A.2. signer must equal e.Provider (I7);
// status must be Pending (I2); a second submission against an already
// ProofSubmitted/Completed/Cancelled escrow fails WrongStatus rather than
// silently overwriting proof_hash, per the idempotency note in the spec.
func ProcessSubmitProof(e *Escrow, signer solana.PublicKey, proofHash [32]byte) error {
	if !signer.Equals(e.Provider) {
		return newErr(ErrWrongSigner, "submit_proof signer is not the escrow provider")
	}
	if e.Status != StatusPending {
		return newErr(ErrWrongStatus, "submit_proof requires status Pending, got "+e.Status.String())
	}
	e.ProofHash = &proofHash
	e.Status = StatusProofSubmitted
	return nil
}

// ProcessRelease implements §4.A.3. authority must equal e.Client (I6);
// status must be ProofSubmitted. Returns the amount to transfer so the
// caller (simulated ledger or real program) can move the tokens and update
// I4's balance invariant.
func ProcessRelease(e *Escrow, authority solana.PublicKey) (amount uint64, err error) {
	if !authority.Equals(e.Client) {
		return 0, newErr(ErrWrongAuthority, "release_payment authority is not the escrow client")
	}
	if e.Status != StatusProofSubmitted {
		return 0, newErr(ErrWrongStatus, "release_payment requires status ProofSubmitted, got "+e.Status.String())
	}
	e.Status = StatusCompleted
	return e.Amount, nil
}

// ProcessCancel implements §4.A.4. authority must equal e.Client (I6);
// status must be Pending — a proof already in flight forecloses cancellation
// so a provider who already did work cannot be denied payment by a race.
func ProcessCancel(e *Escrow, authority solana.PublicKey) (refund uint64, err error) {
	if !authority.Equals(e.Client) {
		return 0, newErr(ErrWrongAuthority, "cancel_escrow authority is not the escrow client")
	}
	if e.Status != StatusPending {
		return 0, newErr(ErrWrongStatus, "cancel_escrow requires status Pending, got "+e.Status.String())
	}
	e.Status = StatusCancelled
	return e.Amount, nil
}
