package escrow

import "encoding/binary"

// Instruction discriminators: the first 8 bytes of sha256("global:<op>"),
// per §4.A/§6. Deriving them at init time (rather than hand-picking the
// bytes) is the point — any compatible off-ledger sender computes the same
// value from the op name alone.
var (
	DiscriminatorInitializeEscrow = discriminator("global:initialize_escrow")
	DiscriminatorSubmitProof      = discriminator("global:submit_proof")
	DiscriminatorReleasePayment   = discriminator("global:release_payment")
	DiscriminatorCancelEscrow     = discriminator("global:cancel_escrow")
)

// EncodeInitializeEscrowArgs builds the borsh-like positional argument
// encoding for initialize_escrow: amount(u64 LE) ‖ service_id(len-prefixed
// string) ‖ task_hash(32 bytes fixed).
func EncodeInitializeEscrowArgs(amount uint64, serviceID string, taskHash [32]byte) []byte {
	idBytes := []byte(serviceID)
	buf := make([]byte, 8+4+len(idBytes)+32)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], amount)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(idBytes)))
	off += 4
	copy(buf[off:off+len(idBytes)], idBytes)
	off += len(idBytes)
	copy(buf[off:off+32], taskHash[:])
	return buf
}

// EncodeSubmitProofArgs builds submit_proof's sole argument: proof_hash(32
// bytes fixed).
func EncodeSubmitProofArgs(proofHash [32]byte) []byte {
	buf := make([]byte, 32)
	copy(buf, proofHash[:])
	return buf
}

// BuildInitializeEscrowData prefixes the discriminator onto the
// initialize_escrow argument encoding, producing the full instruction data
// a caller attaches to a ledger instruction alongside the fixed account
// ordering documented in §4.A.1.
func BuildInitializeEscrowData(amount uint64, serviceID string, taskHash [32]byte) []byte {
	return append(DiscriminatorInitializeEscrow[:], EncodeInitializeEscrowArgs(amount, serviceID, taskHash)...)
}

// BuildSubmitProofData prefixes the discriminator onto submit_proof's
// argument encoding.
func BuildSubmitProofData(proofHash [32]byte) []byte {
	return append(DiscriminatorSubmitProof[:], EncodeSubmitProofArgs(proofHash)...)
}

// BuildReleasePaymentData is release_payment's full instruction data: it
// takes no positional arguments, so the discriminator alone suffices.
func BuildReleasePaymentData() []byte {
	out := make([]byte, 8)
	copy(out, DiscriminatorReleasePayment[:])
	return out
}

// BuildCancelEscrowData is cancel_escrow's full instruction data.
func BuildCancelEscrowData() []byte {
	out := make([]byte, 8)
	copy(out, DiscriminatorCancelEscrow[:])
	return out
}

// Account ordering is fixed per op and part of the contract (§4.A). These
// indices describe the position of each account within the instruction's
// account list, so that any encoder and any decoder (including a simulated
// ledger) agree on which slot is which without a shared IDL.
const (
	InitAccountEscrowPDA = iota
	InitAccountClient
	InitAccountProvider
	InitAccountClientTokenAcct
	InitAccountEscrowTokenAcct
	InitAccountTokenProgram
	InitAccountSystemProgram
)

const (
	SubmitProofAccountEscrowPDA = iota
	SubmitProofAccountProvider
)

const (
	ReleaseAccountEscrowPDA = iota
	ReleaseAccountEscrowTokenAcct
	ReleaseAccountProviderTokenAcct
	ReleaseAccountAuthority
	ReleaseAccountTokenProgram
)

const (
	CancelAccountEscrowPDA = iota
	CancelAccountEscrowTokenAcct
	CancelAccountClientTokenAcct
	CancelAccountAuthority
	CancelAccountTokenProgram
)
