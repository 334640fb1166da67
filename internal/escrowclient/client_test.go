package escrowclient

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/umbraforge/escrowgate/internal/escrow"
	"github.com/umbraforge/escrowgate/internal/ledger"
	"github.com/umbraforge/escrowgate/internal/taskhash"
	"github.com/umbraforge/escrowgate/internal/txrouter"
)

func newTestClient(t *testing.T) (*Client, *ledger.SimLedger, solana.PublicKey) {
	t.Helper()
	programID := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	sim := ledger.NewSimLedger(programID)
	router := txrouter.NewRouter(nil, sim)
	return New(programID, mint, sim, router), sim, programID
}

func signerFor(wallet *solana.Wallet) txrouter.SignerFunc {
	return func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet.PrivateKey
		}
		return nil
	}
}

func TestInitializeEscrowViaGatewayHappyPath(t *testing.T) {
	client, sim, _ := newTestClient(t)

	clientWallet := solana.NewWallet()
	providerWallet := solana.NewWallet()
	clientTokenAcct := solana.NewWallet().PublicKey()
	escrowTokenAcct := solana.NewWallet().PublicKey()

	sim.Fund(clientTokenAcct, 10_000_000)

	sig, usedGateway, err := client.InitializeEscrowViaGateway(context.Background(), InitializeParams{
		Client:          clientWallet.PublicKey(),
		Provider:        providerWallet.PublicKey(),
		Amount:          8_000_000,
		ServiceID:       "s1",
		TaskData:        "Q4",
		Nonce:           1700000000001,
		ClientTokenAcct: clientTokenAcct,
		EscrowTokenAcct: escrowTokenAcct,
		Signer:          signerFor(clientWallet),
	})
	require.NoError(t, err)
	require.False(t, usedGateway)
	require.NotEqual(t, ESCROWAlreadyExistsSentinel, sig)
	require.Equal(t, uint64(8_000_000), sim.Balance(escrowTokenAcct))
}

func TestInitializeEscrowViaGatewayIsIdempotent(t *testing.T) {
	client, sim, _ := newTestClient(t)

	clientWallet := solana.NewWallet()
	providerWallet := solana.NewWallet()
	clientTokenAcct := solana.NewWallet().PublicKey()
	escrowTokenAcct := solana.NewWallet().PublicKey()
	sim.Fund(clientTokenAcct, 10_000_000)

	params := InitializeParams{
		Client:          clientWallet.PublicKey(),
		Provider:        providerWallet.PublicKey(),
		Amount:          8_000_000,
		ServiceID:       "s1",
		TaskData:        "Q4",
		Nonce:           1700000000001,
		ClientTokenAcct: clientTokenAcct,
		EscrowTokenAcct: escrowTokenAcct,
		Signer:          signerFor(clientWallet),
	}

	_, _, err := client.InitializeEscrowViaGateway(context.Background(), params)
	require.NoError(t, err)

	sig, usedGateway, err := client.InitializeEscrowViaGateway(context.Background(), params)
	require.NoError(t, err)
	require.False(t, usedGateway)
	require.Equal(t, ESCROWAlreadyExistsSentinel, sig, "P7: a second identical init must report the sentinel, not double-spend")
	require.Equal(t, uint64(8_000_000), sim.Balance(escrowTokenAcct), "balance must not be debited twice")
}

func TestInitializeEscrowViaGatewayRefusesNonPendingReuse(t *testing.T) {
	client, sim, _ := newTestClient(t)

	clientWallet := solana.NewWallet()
	providerWallet := solana.NewWallet()
	clientTokenAcct := solana.NewWallet().PublicKey()
	escrowTokenAcct := solana.NewWallet().PublicKey()
	providerTokenAcct := solana.NewWallet().PublicKey()
	sim.Fund(clientTokenAcct, 10_000_000)

	params := InitializeParams{
		Client:          clientWallet.PublicKey(),
		Provider:        providerWallet.PublicKey(),
		Amount:          8_000_000,
		ServiceID:       "s1",
		TaskData:        "Q4",
		Nonce:           1,
		ClientTokenAcct: clientTokenAcct,
		EscrowTokenAcct: escrowTokenAcct,
		Signer:          signerFor(clientWallet),
	}
	_, _, err := client.InitializeEscrowViaGateway(context.Background(), params)
	require.NoError(t, err)

	taskHash := mustTaskHash(t, "s1", "Q4", 1)
	pda, _, err := client.DeriveEscrowPDA(clientWallet.PublicKey(), providerWallet.PublicKey(), taskHash)
	require.NoError(t, err)

	var proof [32]byte
	_, _, err = client.SubmitProofWithPDA(context.Background(), pda, providerWallet.PublicKey(), proof, signerFor(providerWallet))
	require.NoError(t, err)
	_, _, err = client.ReleasePaymentViaGateway(context.Background(), ReleaseParams{
		EscrowPDA:         pda,
		Authority:         clientWallet.PublicKey(),
		ProviderTokenAcct: providerTokenAcct,
		EscrowTokenAcct:   escrowTokenAcct,
		Signer:            signerFor(clientWallet),
	})
	require.NoError(t, err)

	_, _, err = client.InitializeEscrowViaGateway(context.Background(), params)
	require.Error(t, err)
	require.Equal(t, escrow.ErrAlreadyExists, escrow.KindOf(err))
}

func TestSubmitProofAndReleaseEndToEnd(t *testing.T) {
	client, sim, _ := newTestClient(t)

	clientWallet := solana.NewWallet()
	providerWallet := solana.NewWallet()
	clientTokenAcct := solana.NewWallet().PublicKey()
	escrowTokenAcct := solana.NewWallet().PublicKey()
	providerTokenAcct := solana.NewWallet().PublicKey()
	sim.Fund(clientTokenAcct, 10_000_000)

	_, _, err := client.InitializeEscrowViaGateway(context.Background(), InitializeParams{
		Client:          clientWallet.PublicKey(),
		Provider:        providerWallet.PublicKey(),
		Amount:          8_000_000,
		ServiceID:       "s1",
		TaskData:        "Q4",
		Nonce:           42,
		ClientTokenAcct: clientTokenAcct,
		EscrowTokenAcct: escrowTokenAcct,
		Signer:          signerFor(clientWallet),
	})
	require.NoError(t, err)

	taskHash := mustTaskHash(t, "s1", "Q4", 42)
	pda, _, err := client.DeriveEscrowPDA(clientWallet.PublicKey(), providerWallet.PublicKey(), taskHash)
	require.NoError(t, err)

	state, err := client.CheckEscrow(context.Background(), pda)
	require.NoError(t, err)
	require.True(t, state.Exists)
	require.Equal(t, escrow.StatusPending, state.Escrow.Status)

	var proofHash [32]byte
	copy(proofHash[:], []byte("fedcba9876543210fedcba9876543210"))
	_, _, err = client.SubmitProofWithPDA(context.Background(), pda, providerWallet.PublicKey(), proofHash, signerFor(providerWallet))
	require.NoError(t, err)

	state, err = client.CheckEscrow(context.Background(), pda)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusProofSubmitted, state.Escrow.Status)

	sig, _, err := client.ReleasePaymentViaGateway(context.Background(), ReleaseParams{
		EscrowPDA:         pda,
		Authority:         clientWallet.PublicKey(),
		ProviderTokenAcct: providerTokenAcct,
		EscrowTokenAcct:   escrowTokenAcct,
		Signer:            signerFor(clientWallet),
	})
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	require.Equal(t, uint64(8_000_000), sim.Balance(providerTokenAcct))
	require.Equal(t, uint64(0), sim.Balance(escrowTokenAcct))

	state, err = client.CheckEscrow(context.Background(), pda)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, state.Escrow.Status)
}

func TestInitializeEscrowViaGatewayRefusesForeignATA(t *testing.T) {
	client, sim, _ := newTestClient(t)

	clientWallet := solana.NewWallet()
	providerWallet := solana.NewWallet()
	clientTokenAcct := solana.NewWallet().PublicKey()
	escrowTokenAcct := solana.NewWallet().PublicKey()
	foreignOwner := solana.NewWallet().PublicKey()
	sim.Fund(clientTokenAcct, 10_000_000)

	// A token account already occupies escrowTokenAcct, but it's owned by
	// someone other than the escrow PDA this init would derive.
	mint := solana.NewWallet().PublicKey()
	tokenAccountData := make([]byte, 64)
	copy(tokenAccountData[0:32], mint[:])
	copy(tokenAccountData[32:64], foreignOwner[:])
	sim.SeedAccountData(escrowTokenAcct, tokenAccountData)

	_, _, err := client.InitializeEscrowViaGateway(context.Background(), InitializeParams{
		Client:          clientWallet.PublicKey(),
		Provider:        providerWallet.PublicKey(),
		Amount:          8_000_000,
		ServiceID:       "s1",
		TaskData:        "Q4",
		Nonce:           1700000000002,
		ClientTokenAcct: clientTokenAcct,
		EscrowTokenAcct: escrowTokenAcct,
		Signer:          signerFor(clientWallet),
	})
	require.Error(t, err)
	require.Equal(t, escrow.ErrBadTokenAccount, escrow.KindOf(err))
	require.Equal(t, uint64(10_000_000), sim.Balance(clientTokenAcct), "must not debit the client when the ATA guard fails")
}

func mustTaskHash(t *testing.T, serviceID, taskData string, nonce uint64) [32]byte {
	t.Helper()
	return taskhash.Hash(serviceID, taskData, nonce)
}
