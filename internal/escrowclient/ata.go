package escrowclient

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DeriveAssociatedTokenAddress is the pure derivation of the associated
// token account for (owner, mint), used to locate a wallet's or an
// escrow PDA's token account without a network round-trip.
func DeriveAssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	return ata, err
}

// splTokenAccountOwnerOffset/Len locate the "owner" field within an SPL
// Token account's fixed binary layout: mint (32 bytes) then owner (32
// bytes), the same fixed-offset decoding style internal/escrow uses for
// the escrow account itself.
const (
	splTokenAccountOwnerOffset = 32
	splTokenAccountMinLen      = 64
)

// decodeTokenAccountOwner extracts the owner pubkey from raw SPL Token
// account data, used to verify an existing associated token account is
// actually owned by the expected escrow PDA before reusing it.
func decodeTokenAccountOwner(data []byte) (solana.PublicKey, error) {
	if len(data) < splTokenAccountMinLen {
		return solana.PublicKey{}, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	return solana.PublicKeyFromBytes(data[splTokenAccountOwnerOffset : splTokenAccountOwnerOffset+32]), nil
}

// BuildCreateAssociatedTokenAccountInstruction builds the SPL
// "create associated token account" instruction that materializes owner's
// ATA for mint, funded by payer. §4.C requires this be prepended to
// initialize_escrow's transaction whenever the escrow PDA's token account
// does not yet exist, so both instructions land atomically — never
// creating the ATA and then silently failing to also initialize the
// escrow if the first succeeds and the second doesn't land.
func BuildCreateAssociatedTokenAccountInstruction(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsWritable: true},
		{PublicKey: owner},
		{PublicKey: mint},
		{PublicKey: solana.SystemProgramID},
		{PublicKey: solana.TokenProgramID},
		{PublicKey: solana.SysVarRentPubkey},
	}
	// The legacy (non-idempotent) Create variant of the SPL associated
	// token account program takes no instruction data at all — account
	// order alone selects the operation.
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{})
}
