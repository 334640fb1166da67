package ledger

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/umbraforge/escrowgate/internal/escrow"
)

func buildAndSignTx(t *testing.T, programID solana.PublicKey, data []byte, accounts []*solana.AccountMeta, signers []solana.PrivateKey) *solana.Transaction {
	t.Helper()

	ix := solana.NewInstruction(programID, accounts, data)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{}, solana.TransactionPayer(signers[0].PublicKey()))
	require.NoError(t, err)

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for _, s := range signers {
			if s.PublicKey().Equals(key) {
				return &s
			}
		}
		return nil
	})
	require.NoError(t, err)
	return tx
}

func TestSimLedgerInitializeAndRelease(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	clientKey := solana.NewWallet()
	providerKey := solana.NewWallet()
	clientTokenAcct := solana.NewWallet().PublicKey()
	escrowTokenAcct := solana.NewWallet().PublicKey()
	providerTokenAcct := solana.NewWallet().PublicKey()
	tokenProgram := solana.NewWallet().PublicKey()
	systemProgram := solana.NewWallet().PublicKey()
	escrowPDA := solana.NewWallet().PublicKey()

	sim := NewSimLedger(programID)
	sim.Fund(clientTokenAcct, 10_000_000)

	var taskHash [32]byte
	copy(taskHash[:], []byte("0123456789abcdef0123456789abcde"))

	initData := escrow.BuildInitializeEscrowData(8_000_000, "s1", taskHash)
	initAccounts := []*solana.AccountMeta{
		{PublicKey: escrowPDA, IsWritable: true},
		{PublicKey: clientKey.PublicKey(), IsWritable: true, IsSigner: true},
		{PublicKey: providerKey.PublicKey()},
		{PublicKey: clientTokenAcct, IsWritable: true},
		{PublicKey: escrowTokenAcct, IsWritable: true},
		{PublicKey: tokenProgram},
		{PublicKey: systemProgram},
	}
	initTx := buildAndSignTx(t, programID, initData, initAccounts, []solana.PrivateKey{clientKey.PrivateKey})

	raw, err := initTx.MarshalBinary()
	require.NoError(t, err)

	_, err = sim.SendTransaction(context.Background(), raw, false)
	require.NoError(t, err)

	data, err := sim.GetAccountInfo(context.Background(), escrowPDA)
	require.NoError(t, err)
	decoded, err := escrow.Decode(data)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPending, decoded.Status)
	require.Equal(t, uint64(2_000_000), sim.Balance(clientTokenAcct))
	require.Equal(t, uint64(8_000_000), sim.Balance(escrowTokenAcct))

	// A second initialize against the same PDA must fail AlreadyExists (I5).
	_, err = sim.SendTransaction(context.Background(), raw, false)
	require.Error(t, err)
	require.Equal(t, escrow.ErrAlreadyExists, escrow.KindOf(err))

	var proofHash [32]byte
	copy(proofHash[:], []byte("fedcba9876543210fedcba9876543210"))
	submitData := escrow.BuildSubmitProofData(proofHash)
	submitAccounts := []*solana.AccountMeta{
		{PublicKey: escrowPDA, IsWritable: true},
		{PublicKey: providerKey.PublicKey(), IsSigner: true},
	}
	submitTx := buildAndSignTx(t, programID, submitData, submitAccounts, []solana.PrivateKey{providerKey.PrivateKey})
	rawSubmit, err := submitTx.MarshalBinary()
	require.NoError(t, err)
	_, err = sim.SendTransaction(context.Background(), rawSubmit, false)
	require.NoError(t, err)

	releaseAccounts := []*solana.AccountMeta{
		{PublicKey: escrowPDA, IsWritable: true},
		{PublicKey: escrowTokenAcct, IsWritable: true},
		{PublicKey: providerTokenAcct, IsWritable: true},
		{PublicKey: clientKey.PublicKey(), IsSigner: true},
		{PublicKey: tokenProgram},
	}
	releaseTx := buildAndSignTx(t, programID, escrow.BuildReleasePaymentData(), releaseAccounts, []solana.PrivateKey{clientKey.PrivateKey})
	rawRelease, err := releaseTx.MarshalBinary()
	require.NoError(t, err)
	sig, err := sim.SendTransaction(context.Background(), rawRelease, false)
	require.NoError(t, err)
	require.NotEqual(t, solana.Signature{}, sig)

	require.Equal(t, uint64(0), sim.Balance(escrowTokenAcct))
	require.Equal(t, uint64(8_000_000), sim.Balance(providerTokenAcct))

	finalData, err := sim.GetAccountInfo(context.Background(), escrowPDA)
	require.NoError(t, err)
	finalEscrow, err := escrow.Decode(finalData)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, finalEscrow.Status)
}

func TestSimLedgerGetAccountInfoNotFound(t *testing.T) {
	sim := NewSimLedger(solana.NewWallet().PublicKey())
	_, err := sim.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	require.ErrorIs(t, err, ErrAccountNotFound)
}
