// Package escrow implements the escrow state machine described in spec.md
// §3/§4.A: the fixed on-ledger account layout, its transition functions, and
// the instruction wire format. It has no network or RPC dependency — it is
// the abstract "program" the spec scopes concrete ledger implementations
// out of (§1); internal/ledger's simulated ledger runs these functions
// directly to behave like a deployed program for local development and
// tests, and a real deployment is expected to enforce the identical rules.
package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Status is the escrow's lifecycle state (spec.md §3/§4.A).
type Status uint8

const (
	StatusPending        Status = 0
	StatusProofSubmitted Status = 1
	StatusCompleted      Status = 2
	StatusCancelled      Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusProofSubmitted:
		return "ProofSubmitted"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

const (
	// MaxServiceIDLen is the §4.A.1 precondition on service_id length.
	MaxServiceIDLen = 64

	// accountDiscriminatorLen is the Anchor-style 8-byte account tag that
	// precedes the fixed layout described in §6.
	accountDiscriminatorLen = 8
)

// AccountDiscriminator is the first 8 bytes of sha256("account:Escrow"),
// the Anchor convention for tagging account data by type without a shared
// schema file (mirrored from the instruction discriminator scheme in §4.A).
var AccountDiscriminator = discriminator("account:Escrow")

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Escrow is the on-ledger account described in spec.md §3.
type Escrow struct {
	Client    solana.PublicKey
	Provider  solana.PublicKey
	Amount    uint64
	ServiceID string
	TaskHash  [32]byte
	ProofHash *[32]byte // nil until proof submitted (I3)
	Status    Status
	CreatedAt int64 // non-authoritative metadata (Open Question 4)
	Bump      uint8
}

// NewPending builds the account state initialize_escrow produces. It checks
// I1 (amount > 0) and the service_id length limit itself, returning
// ZeroAmount or ServiceIdTooLong when either fails.
func NewPending(client, provider solana.PublicKey, amount uint64, serviceID string, taskHash [32]byte, bump uint8, now time.Time) (*Escrow, error) {
	if amount == 0 {
		return nil, newErr(ErrZeroAmount, "amount must be > 0")
	}
	if len(serviceID) > MaxServiceIDLen {
		return nil, newErr(ErrServiceIDTooLong, fmt.Sprintf("service_id length %d exceeds %d", len(serviceID), MaxServiceIDLen))
	}
	return &Escrow{
		Client:    client,
		Provider:  provider,
		Amount:    amount,
		ServiceID: serviceID,
		TaskHash:  taskHash,
		ProofHash: nil,
		Status:    StatusPending,
		CreatedAt: now.Unix(),
		Bump:      bump,
	}, nil
}

// Encode serializes the account to the fixed layout of spec.md §6:
// an 8-byte account discriminator followed by client(32), provider(32),
// amount(8), service_id_len(4)+service_id, task_hash(32),
// proof_hash_disc(1)+proof_hash(32), status(1), created_at(8), bump(1).
func (e *Escrow) Encode() ([]byte, error) {
	if len(e.ServiceID) > MaxServiceIDLen {
		return nil, newErr(ErrServiceIDTooLong, fmt.Sprintf("service_id length %d exceeds %d", len(e.ServiceID), MaxServiceIDLen))
	}
	serviceIDBytes := []byte(e.ServiceID)
	size := accountDiscriminatorLen + 32 + 32 + 8 + 4 + len(serviceIDBytes) + 32 + 1 + 32 + 1 + 8 + 1
	buf := make([]byte, size)
	off := 0

	copy(buf[off:off+8], AccountDiscriminator[:])
	off += 8
	copy(buf[off:off+32], e.Client.Bytes())
	off += 32
	copy(buf[off:off+32], e.Provider.Bytes())
	off += 32
	binary.LittleEndian.PutUint64(buf[off:off+8], e.Amount)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(serviceIDBytes)))
	off += 4
	copy(buf[off:off+len(serviceIDBytes)], serviceIDBytes)
	off += len(serviceIDBytes)
	copy(buf[off:off+32], e.TaskHash[:])
	off += 32
	if e.ProofHash != nil {
		buf[off] = 1
		off++
		copy(buf[off:off+32], e.ProofHash[:])
		off += 32
	} else {
		buf[off] = 0
		off++
		off += 32 // zeroed placeholder, still occupies the fixed slot
	}
	buf[off] = byte(e.Status)
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(e.CreatedAt))
	off += 8
	buf[off] = e.Bump

	return buf, nil
}

// Decode parses account data laid out per spec.md §6. It neither validates
// nor returns the leading account discriminator — callers checking an
// arbitrary address should compare data[:8] against AccountDiscriminator
// themselves if ambiguity is possible.
func Decode(data []byte) (*Escrow, error) {
	const minFixed = accountDiscriminatorLen + 32 + 32 + 8 + 4
	if len(data) < minFixed {
		return nil, newErr(ErrBadRequest, "account data shorter than fixed header")
	}
	off := accountDiscriminatorLen
	e := &Escrow{}

	e.Client = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	e.Provider = solana.PublicKeyFromBytes(data[off : off+32])
	off += 32
	e.Amount = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	serviceIDLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if serviceIDLen > MaxServiceIDLen {
		return nil, newErr(ErrServiceIDTooLong, fmt.Sprintf("decoded service_id length %d exceeds %d", serviceIDLen, MaxServiceIDLen))
	}
	if len(data) < off+serviceIDLen+32+1+32+1+8+1 {
		return nil, newErr(ErrBadRequest, "account data shorter than variable layout requires")
	}
	e.ServiceID = string(data[off : off+serviceIDLen])
	off += serviceIDLen

	copy(e.TaskHash[:], data[off:off+32])
	off += 32

	hasProof := data[off]
	off++
	if hasProof == 1 {
		var ph [32]byte
		copy(ph[:], data[off:off+32])
		e.ProofHash = &ph
	}
	off += 32

	e.Status = Status(data[off])
	off++
	e.CreatedAt = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	e.Bump = data[off]

	return e, nil
}

// StatusOffset returns the absolute byte offset of the status field within
// Encode's output, for callers that only need the status byte and want to
// avoid a full Decode (CheckEscrow in internal/escrowclient does a full
// Decode and does not use it). Mirrors the offset arithmetic
// original_source/contracts/client/escrow_client.py documents in its
// check_escrow_exists comment, generalized to a variable-length service_id.
func StatusOffset(serviceIDLen int) int {
	return accountDiscriminatorLen + 32 + 32 + 8 + 4 + serviceIDLen + 32 + 1 + 32
}
