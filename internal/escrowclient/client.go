// Package escrowclient is the off-ledger escrow client library of §4.C: it
// derives addresses, builds typed instructions, submits them through the
// dual-path router, and decodes account state — the single place a client
// or provider agent talks to the escrow program from.
package escrowclient

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/umbraforge/escrowgate/internal/escrow"
	"github.com/umbraforge/escrowgate/internal/ledger"
	"github.com/umbraforge/escrowgate/internal/taskhash"
	"github.com/umbraforge/escrowgate/internal/txrouter"
)

// ESCROWAlreadyExistsSentinel is returned in place of a signature by
// InitializeEscrowViaGateway when a Pending escrow already occupies the
// derived PDA (§4.C's idempotent-init rule, P7).
const ESCROWAlreadyExistsSentinel = "ESCROW_ALREADY_EXISTS"

// Client is the escrow client library. It holds no keys of its own —
// every signing operation takes an explicit txrouter.SignerFunc so the
// same Client can serve any number of distinct client/provider wallets.
type Client struct {
	programID solana.PublicKey
	tokenMint solana.PublicKey
	ledger    ledger.Ledger
	router    *txrouter.Router
}

// New builds a Client against programID/tokenMint, reading account state
// through ledger and routing transactions through router.
func New(programID, tokenMint solana.PublicKey, l ledger.Ledger, router *txrouter.Router) *Client {
	return &Client{programID: programID, tokenMint: tokenMint, ledger: l, router: router}
}

// EscrowState is the result of CheckEscrow.
type EscrowState struct {
	Exists bool
	Escrow *escrow.Escrow
}

// DeriveEscrowPDA is the pure derivation of §4.B, exposed on Client for
// callers that only have a Client handy.
func (c *Client) DeriveEscrowPDA(client, provider solana.PublicKey, taskHash [32]byte) (solana.PublicKey, uint8, error) {
	return taskhash.DerivePDA(client, provider, taskHash, c.programID)
}

// CheckEscrow reads the account at address and reports whether it exists
// and, if so, its decoded state.
func (c *Client) CheckEscrow(ctx context.Context, address solana.PublicKey) (EscrowState, error) {
	data, err := c.ledger.GetAccountInfo(ctx, address)
	if err != nil {
		if err == ledger.ErrAccountNotFound {
			return EscrowState{Exists: false}, nil
		}
		return EscrowState{}, fmt.Errorf("reading escrow account: %w", err)
	}
	e, err := escrow.Decode(data)
	if err != nil {
		return EscrowState{}, fmt.Errorf("decoding escrow account: %w", err)
	}
	return EscrowState{Exists: true, Escrow: e}, nil
}

// InitializeParams bundles the arguments for InitializeEscrowViaGateway.
type InitializeParams struct {
	Client          solana.PublicKey
	Provider        solana.PublicKey
	Amount          uint64
	ServiceID       string
	TaskData        string
	Nonce           uint64
	ClientTokenAcct solana.PublicKey
	EscrowTokenAcct solana.PublicKey
	Signer          txrouter.SignerFunc
}

// InitializeEscrowViaGateway builds and submits initialize_escrow, deriving
// the PDA from (client, provider, task_hash) and routing the transaction
// through the dual-path router. It is idempotent: if a Pending escrow
// already exists at the derived PDA, it returns ESCROWAlreadyExistsSentinel
// without submitting anything (P7). If the escrow exists in any other
// state, it refuses to reuse it rather than risk double-spending rent or
// colliding with a terminal account.
func (c *Client) InitializeEscrowViaGateway(ctx context.Context, p InitializeParams) (signature string, usedGateway bool, err error) {
	taskHash := taskhash.Hash(p.ServiceID, p.TaskData, p.Nonce)

	pda, _, err := c.DeriveEscrowPDA(p.Client, p.Provider, taskHash)
	if err != nil {
		return "", false, fmt.Errorf("deriving escrow pda: %w", err)
	}

	state, err := c.CheckEscrow(ctx, pda)
	if err != nil {
		return "", false, err
	}
	if state.Exists {
		if state.Escrow.Status == escrow.StatusPending {
			return ESCROWAlreadyExistsSentinel, false, nil
		}
		return "", false, &escrow.Error{
			Kind: escrow.ErrAlreadyExists,
			Msg:  fmt.Sprintf("escrow at %s exists with non-reusable status %s", pda, state.Escrow.Status),
		}
	}

	// §4.C: the client library itself detects whether the escrow's ATA
	// already exists, rather than trusting a caller-supplied flag. An ATA
	// materialized at this address but owned by someone other than the
	// escrow PDA is a hard failure — never silently reused.
	tokenAcctData, err := c.ledger.GetAccountInfo(ctx, p.EscrowTokenAcct)
	tokenAcctExists := true
	switch {
	case err == nil:
		owner, decErr := decodeTokenAccountOwner(tokenAcctData)
		if decErr != nil {
			return "", false, &escrow.Error{Kind: escrow.ErrBadTokenAccount, Msg: fmt.Sprintf("decoding escrow token account %s: %v", p.EscrowTokenAcct, decErr)}
		}
		if !owner.Equals(pda) {
			return "", false, &escrow.Error{Kind: escrow.ErrBadTokenAccount, Msg: fmt.Sprintf("escrow token account %s is owned by %s, not escrow PDA %s", p.EscrowTokenAcct, owner, pda)}
		}
	case err == ledger.ErrAccountNotFound:
		tokenAcctExists = false
	default:
		return "", false, fmt.Errorf("reading escrow token account: %w", err)
	}

	instructions := []solana.Instruction{}
	if !tokenAcctExists {
		instructions = append(instructions, BuildCreateAssociatedTokenAccountInstruction(p.Client, pda, c.tokenMint, p.EscrowTokenAcct))
	}

	data := escrow.BuildInitializeEscrowData(p.Amount, p.ServiceID, taskHash)
	accounts := solana.AccountMetaSlice{
		{PublicKey: pda, IsWritable: true},
		{PublicKey: p.Client, IsWritable: true, IsSigner: true},
		{PublicKey: p.Provider},
		{PublicKey: p.ClientTokenAcct, IsWritable: true},
		{PublicKey: p.EscrowTokenAcct, IsWritable: true},
		{PublicKey: solana.TokenProgramID},
		{PublicKey: solana.SystemProgramID},
	}
	instructions = append(instructions, solana.NewInstruction(c.programID, accounts, data))

	sig, _, routing, err := c.router.Submit(ctx, instructions, p.Client, p.Signer)
	if err != nil {
		return "", false, err
	}
	return sig.String(), routing == txrouter.RoutingGateway, nil
}

// ReleaseParams bundles the arguments for ReleasePaymentViaGateway.
type ReleaseParams struct {
	EscrowPDA         solana.PublicKey
	Authority         solana.PublicKey // §I6: must equal the escrow's client
	ProviderTokenAcct solana.PublicKey
	EscrowTokenAcct   solana.PublicKey
	Signer            txrouter.SignerFunc
}

// ReleasePaymentViaGateway submits release_payment through the dual-path
// router.
func (c *Client) ReleasePaymentViaGateway(ctx context.Context, p ReleaseParams) (signature string, usedGateway bool, err error) {
	data := escrow.BuildReleasePaymentData()
	accounts := solana.AccountMetaSlice{
		{PublicKey: p.EscrowPDA, IsWritable: true},
		{PublicKey: p.EscrowTokenAcct, IsWritable: true},
		{PublicKey: p.ProviderTokenAcct, IsWritable: true},
		{PublicKey: p.Authority, IsSigner: true},
		{PublicKey: solana.TokenProgramID},
	}
	instructions := []solana.Instruction{solana.NewInstruction(c.programID, accounts, data)}

	sig, _, routing, err := c.router.Submit(ctx, instructions, p.Authority, p.Signer)
	if err != nil {
		return "", false, err
	}
	return sig.String(), routing == txrouter.RoutingGateway, nil
}

// CancelParams bundles the arguments for CancelEscrowViaGateway.
type CancelParams struct {
	EscrowPDA       solana.PublicKey
	Authority       solana.PublicKey
	ClientTokenAcct solana.PublicKey
	EscrowTokenAcct solana.PublicKey
	Signer          txrouter.SignerFunc
}

// CancelEscrowViaGateway submits cancel_escrow through the dual-path router.
func (c *Client) CancelEscrowViaGateway(ctx context.Context, p CancelParams) (signature string, usedGateway bool, err error) {
	data := escrow.BuildCancelEscrowData()
	accounts := solana.AccountMetaSlice{
		{PublicKey: p.EscrowPDA, IsWritable: true},
		{PublicKey: p.EscrowTokenAcct, IsWritable: true},
		{PublicKey: p.ClientTokenAcct, IsWritable: true},
		{PublicKey: p.Authority, IsSigner: true},
		{PublicKey: solana.TokenProgramID},
	}
	instructions := []solana.Instruction{solana.NewInstruction(c.programID, accounts, data)}

	sig, _, routing, err := c.router.Submit(ctx, instructions, p.Authority, p.Signer)
	if err != nil {
		return "", false, err
	}
	return sig.String(), routing == txrouter.RoutingGateway, nil
}

// SubmitProofWithPDA submits submit_proof against a known PDA, signed by
// the provider.
func (c *Client) SubmitProofWithPDA(ctx context.Context, pda, provider solana.PublicKey, proofHash [32]byte, signer txrouter.SignerFunc) (string, bool, error) {
	data := escrow.BuildSubmitProofData(proofHash)
	accounts := solana.AccountMetaSlice{
		{PublicKey: pda, IsWritable: true},
		{PublicKey: provider, IsSigner: true},
	}
	instructions := []solana.Instruction{solana.NewInstruction(c.programID, accounts, data)}

	sig, _, routing, err := c.router.Submit(ctx, instructions, provider, signer)
	if err != nil {
		return "", false, err
	}
	return sig.String(), routing == txrouter.RoutingGateway, nil
}

// WaitForStatus polls the escrow account until it reaches one of the
// target statuses or the context is cancelled, for provider-side
// confirmation after submitting a transaction (§4.D).
func (c *Client) WaitForStatus(ctx context.Context, pda solana.PublicKey, poll time.Duration, targets ...escrow.Status) (*escrow.Escrow, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		state, err := c.CheckEscrow(ctx, pda)
		if err == nil && state.Exists {
			for _, t := range targets {
				if state.Escrow.Status == t {
					return state.Escrow, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
