package taskhash

import (
	"crypto/sha256"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestHashMatchesManualDigest(t *testing.T) {
	got := Hash("s1", "Q4", 1700000000001)

	h := sha256.New()
	h.Write([]byte("s1:Q4:1700000000001"))
	var want [32]byte
	copy(want[:], h.Sum(nil))

	require.Equal(t, want, got)
}

func TestHashIsSensitiveToNonce(t *testing.T) {
	a := Hash("s1", "Q4", 1)
	b := Hash("s1", "Q4", 2)
	require.NotEqual(t, a, b, "identical (service, task) with different nonces must not collide")
}

func TestDerivePDADeterministic(t *testing.T) {
	client := solana.NewWallet().PublicKey()
	provider := solana.NewWallet().PublicKey()
	programID := solana.NewWallet().PublicKey()
	taskHash := Hash("s1", "Q4", 42)

	pda1, bump1, err := DerivePDA(client, provider, taskHash, programID)
	require.NoError(t, err)

	pda2, bump2, err := DerivePDA(client, provider, taskHash, programID)
	require.NoError(t, err)

	require.Equal(t, pda1, pda2, "PDA derivation must be a pure function (P1)")
	require.Equal(t, bump1, bump2)
}

func TestDerivePDADiffersPerTaskHash(t *testing.T) {
	client := solana.NewWallet().PublicKey()
	provider := solana.NewWallet().PublicKey()
	programID := solana.NewWallet().PublicKey()

	pdaA, _, err := DerivePDA(client, provider, Hash("s1", "Q4", 1), programID)
	require.NoError(t, err)
	pdaB, _, err := DerivePDA(client, provider, Hash("s1", "Q4", 2), programID)
	require.NoError(t, err)

	require.NotEqual(t, pdaA, pdaB)
}
