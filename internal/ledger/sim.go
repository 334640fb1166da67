package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/umbraforge/escrowgate/internal/escrow"
)

// SimLedger is an in-process stand-in for a deployed escrow program. It
// decodes real solana.Transaction wire bytes, finds the instruction
// addressed to programID, and runs it through internal/escrow's pure
// Process* functions exactly as a live program would — the same transaction
// bytes a real cluster would accept are valid input here. Generalizes the
// teacher's LocalFacilitator (a self-hosted settlement path requiring no
// third party) from an EVM/EIP-3009 facilitator to a Solana-shaped ledger,
// and is what internal/txrouter and internal/escrowclient run against in
// tests and local development without an RPC endpoint.
type SimLedger struct {
	mu        sync.Mutex
	programID solana.PublicKey
	accounts  map[solana.PublicKey][]byte
	balances  map[solana.PublicKey]uint64
	clock     func() time.Time
}

// NewSimLedger constructs an empty simulated ledger for programID.
func NewSimLedger(programID solana.PublicKey) *SimLedger {
	return &SimLedger{
		programID: programID,
		accounts:  make(map[solana.PublicKey][]byte),
		balances:  make(map[solana.PublicKey]uint64),
		clock:     time.Now,
	}
}

// Fund credits a token account's simulated balance, standing in for a prior
// mint/transfer that would have happened out of band on a real cluster.
func (l *SimLedger) Fund(tokenAccount solana.PublicKey, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[tokenAccount] += amount
}

// Balance reads a token account's simulated balance.
func (l *SimLedger) Balance(tokenAccount solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[tokenAccount]
}

// SeedAccountData plants raw account bytes at address, standing in for an
// account that was materialized by some other transaction (e.g. an SPL
// token account created and assigned to an owner out of band). Tests use
// this to exercise GetAccountInfo against account data SendTransaction
// never produced itself.
func (l *SimLedger) SeedAccountData(address solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[address] = data
}

func (l *SimLedger) GetAccountInfo(_ context.Context, address solana.PublicKey) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.accounts[address]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// GetLatestBlockhash returns a deterministic placeholder; the simulated
// ledger has no notion of slot time and never rejects a stale blockhash.
func (l *SimLedger) GetLatestBlockhash(_ context.Context) (Blockhash, error) {
	return Blockhash{Blockhash: solana.Hash{}, LastValidBlockHeight: 0}, nil
}

// SendTransaction decodes raw as a solana.Transaction and applies every
// instruction addressed to programID, in order; instructions for other
// programs are skipped. skipPreflight is accepted for interface conformance
// and ignored.
func (l *SimLedger) SendTransaction(_ context.Context, raw []byte, _ bool) (solana.Signature, error) {
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decoding transaction: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	keys := tx.Message.AccountKeys

	applied := false
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			return solana.Signature{}, fmt.Errorf("program id index %d out of range", ix.ProgramIDIndex)
		}
		if !keys[ix.ProgramIDIndex].Equals(l.programID) {
			continue
		}
		accounts, err := resolveAccounts(keys, ix.Accounts)
		if err != nil {
			return solana.Signature{}, err
		}
		if err := l.apply([]byte(ix.Data), accounts); err != nil {
			return solana.Signature{}, err
		}
		applied = true
	}
	if !applied {
		return solana.Signature{}, fmt.Errorf("no instruction addressed to program %s", l.programID)
	}

	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("transaction carries no signatures")
	}
	return tx.Signatures[0], nil
}

func resolveAccounts(keys []solana.PublicKey, indices []uint16) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(indices))
	for i, idx := range indices {
		if int(idx) >= len(keys) {
			return nil, fmt.Errorf("account index %d out of range", idx)
		}
		out[i] = keys[idx]
	}
	return out, nil
}

func (l *SimLedger) apply(data []byte, accounts []solana.PublicKey) error {
	if len(data) < 8 {
		return newLedgerRejectErr("instruction data shorter than discriminator")
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	args := data[8:]

	switch disc {
	case escrow.DiscriminatorInitializeEscrow:
		return l.applyInitialize(args, accounts)
	case escrow.DiscriminatorSubmitProof:
		return l.applySubmitProof(args, accounts)
	case escrow.DiscriminatorReleasePayment:
		return l.applyRelease(accounts)
	case escrow.DiscriminatorCancelEscrow:
		return l.applyCancel(accounts)
	default:
		return newLedgerRejectErr("unknown instruction discriminator")
	}
}

func (l *SimLedger) applyInitialize(args []byte, accounts []solana.PublicKey) error {
	if len(accounts) <= escrow.InitAccountSystemProgram {
		return newLedgerRejectErr("initialize_escrow: too few accounts")
	}
	if len(args) < 12 {
		return newLedgerRejectErr("initialize_escrow: args too short")
	}
	amount := leUint64(args[0:8])
	idLen := int(leUint32(args[8:12]))
	if len(args) < 12+idLen+32 {
		return newLedgerRejectErr("initialize_escrow: args shorter than declared service_id length")
	}
	serviceID := string(args[12 : 12+idLen])
	var taskHash [32]byte
	copy(taskHash[:], args[12+idLen:12+idLen+32])

	pda := accounts[escrow.InitAccountEscrowPDA]
	client := accounts[escrow.InitAccountClient]
	provider := accounts[escrow.InitAccountProvider]
	clientTokenAcct := accounts[escrow.InitAccountClientTokenAcct]
	escrowTokenAcct := accounts[escrow.InitAccountEscrowTokenAcct]

	_, exists := l.accounts[pda]

	e, err := escrow.ProcessInitialize(exists, client, provider, amount, serviceID, taskHash, 0, l.clock())
	if err != nil {
		return err
	}
	if l.balances[clientTokenAcct] < amount {
		return escrowInsufficientFundsErr()
	}
	l.balances[clientTokenAcct] -= amount
	l.balances[escrowTokenAcct] += amount

	encoded, err := e.Encode()
	if err != nil {
		return err
	}
	l.accounts[pda] = encoded
	return nil
}

func (l *SimLedger) applySubmitProof(args []byte, accounts []solana.PublicKey) error {
	if len(accounts) <= escrow.SubmitProofAccountProvider {
		return newLedgerRejectErr("submit_proof: too few accounts")
	}
	if len(args) < 32 {
		return newLedgerRejectErr("submit_proof: args too short")
	}
	var proofHash [32]byte
	copy(proofHash[:], args[:32])

	pda := accounts[escrow.SubmitProofAccountEscrowPDA]
	signer := accounts[escrow.SubmitProofAccountProvider]

	e, err := l.decode(pda)
	if err != nil {
		return err
	}
	if err := escrow.ProcessSubmitProof(e, signer, proofHash); err != nil {
		return err
	}
	return l.persist(pda, e)
}

func (l *SimLedger) applyRelease(accounts []solana.PublicKey) error {
	if len(accounts) <= escrow.ReleaseAccountTokenProgram {
		return newLedgerRejectErr("release_payment: too few accounts")
	}
	pda := accounts[escrow.ReleaseAccountEscrowPDA]
	escrowTokenAcct := accounts[escrow.ReleaseAccountEscrowTokenAcct]
	providerTokenAcct := accounts[escrow.ReleaseAccountProviderTokenAcct]
	authority := accounts[escrow.ReleaseAccountAuthority]

	e, err := l.decode(pda)
	if err != nil {
		return err
	}
	amount, err := escrow.ProcessRelease(e, authority)
	if err != nil {
		return err
	}
	if l.balances[escrowTokenAcct] != amount {
		return newLedgerRejectErr(fmt.Sprintf("%s: escrow token balance %d does not match amount %d", escrow.ErrBalanceMismatch, l.balances[escrowTokenAcct], amount))
	}
	l.balances[escrowTokenAcct] = 0
	l.balances[providerTokenAcct] += amount
	return l.persist(pda, e)
}

func (l *SimLedger) applyCancel(accounts []solana.PublicKey) error {
	if len(accounts) <= escrow.CancelAccountTokenProgram {
		return newLedgerRejectErr("cancel_escrow: too few accounts")
	}
	pda := accounts[escrow.CancelAccountEscrowPDA]
	escrowTokenAcct := accounts[escrow.CancelAccountEscrowTokenAcct]
	clientTokenAcct := accounts[escrow.CancelAccountClientTokenAcct]
	authority := accounts[escrow.CancelAccountAuthority]

	e, err := l.decode(pda)
	if err != nil {
		return err
	}
	refund, err := escrow.ProcessCancel(e, authority)
	if err != nil {
		return err
	}
	l.balances[escrowTokenAcct] = 0
	l.balances[clientTokenAcct] += refund
	return l.persist(pda, e)
}

func (l *SimLedger) decode(pda solana.PublicKey) (*escrow.Escrow, error) {
	data, ok := l.accounts[pda]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return escrow.Decode(data)
}

func (l *SimLedger) persist(pda solana.PublicKey, e *escrow.Escrow) error {
	encoded, err := e.Encode()
	if err != nil {
		return err
	}
	l.accounts[pda] = encoded
	return nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func newLedgerRejectErr(msg string) error {
	return &escrow.Error{Kind: escrow.ErrLedgerReject, Msg: msg}
}

func escrowInsufficientFundsErr() error {
	return &escrow.Error{Kind: escrow.ErrInsufficientFunds, Msg: "client token account balance below requested amount"}
}
