// Package journal is an advisory, append-only record of every escrow
// transaction the gateway submits. It exists for observability and metrics
// only: nothing in the payment state machine consults it, and a journal
// write failure never blocks a release or initialization (spec.md §7 "the
// journal is advisory, not authoritative").
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umbraforge/escrowgate/internal/txrouter"
)

// TransactionType identifies which escrow operation a Record describes.
type TransactionType string

const (
	TypeInitializeEscrow TransactionType = "initialize_escrow"
	TypeSubmitProof      TransactionType = "submit_proof"
	TypeReleasePayment   TransactionType = "release_payment"
	TypeCancelEscrow     TransactionType = "cancel_escrow"
)

// Status is a Record's outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Record is one journal entry, mirroring the fields a transaction log needs
// to reconstruct routing behavior and settlement volume after the fact.
type Record struct {
	TransactionID   string           `json:"transaction_id"`
	TransactionType TransactionType  `json:"transaction_type"`
	Status          Status           `json:"status"`
	RoutingMethod   txrouter.Routing `json:"routing_method"`
	Signature       string           `json:"signature,omitempty"`
	Timestamp       string           `json:"timestamp"`
	ClientAddress   string           `json:"client_address,omitempty"`
	ProviderAddress string           `json:"provider_address,omitempty"`
	Amount          uint64           `json:"amount,omitempty"`
	EscrowPDA       string           `json:"escrow_pda"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	ExecutionTimeMS int64            `json:"execution_time_ms,omitempty"`
}

// Journal appends Records to a JSONL file (when configured) and always
// emits a structured slog line, so transaction history survives even when
// no JournalPath is set.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates a Journal appending to path. An empty path yields a
// stdout/slog-only journal — useful in tests and for deployments that ship
// logs elsewhere.
func Open(path string) (*Journal, error) {
	if path == "" {
		return &Journal{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal file %s: %w", path, err)
	}
	return &Journal{file: f}, nil
}

// Close releases the underlying file handle, if any.
func (j *Journal) Close() error {
	if j.file == nil {
		return nil
	}
	return j.file.Close()
}

// Record appends rec to the journal. rec.Timestamp is set to now if empty.
// A write failure is logged, not returned: callers must never let journal
// trouble fail a payment operation.
func (j *Journal) Record(rec Record) {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	// A signature-less record (a transaction that failed before it ever
	// reached the ledger) still needs a stable identifier to correlate
	// against later entries.
	if rec.TransactionID == "" {
		rec.TransactionID = uuid.NewString()
	}

	attrs := []any{
		"type", rec.TransactionType,
		"status", rec.Status,
		"routing", rec.RoutingMethod,
		"escrow_pda", rec.EscrowPDA,
	}
	if rec.Signature != "" {
		attrs = append(attrs, "signature", rec.Signature)
	}
	if rec.ErrorMessage != "" {
		attrs = append(attrs, "error", rec.ErrorMessage)
	}
	slog.Info("escrow transaction", attrs...)

	if j.file == nil {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("journal: marshalling record failed", "error", err)
		return
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(line); err != nil {
		slog.Warn("journal: writing record failed", "error", err)
	}
}
