// Package x402 implements the wire protocol of §4.D: the 402 payment
// challenge body, the X-Payment envelope codec, and the provider-side
// middleware that enforces the challenge/verify/forward cycle.
package x402

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// X402Version is the only envelope version this gateway accepts.
const X402Version = 1

// SchemeEscrow is the only payment scheme this gateway accepts.
const SchemeEscrow = "escrow"

// PaymentChallenge is the §6 402 response body's "payment" object.
type PaymentChallenge struct {
	Recipient     string  `json:"recipient"`
	EscrowProgram string  `json:"escrowProgram"`
	Amount        float64 `json:"amount"`
	Token         string  `json:"token"`
	Network       string  `json:"network"`
	ServiceID     string  `json:"serviceId"`
	TaskData      string  `json:"taskData"`
	Message       string  `json:"message,omitempty"`
}

// ChallengeBody wraps PaymentChallenge in the top-level "payment" key the
// wire format uses.
type ChallengeBody struct {
	Payment PaymentChallenge `json:"payment"`
}

// Payload is the X-Payment envelope's inner "payload" object.
type Payload struct {
	SerializedTransaction string `json:"serializedTransaction"`
	EscrowPDA             string `json:"escrowPDA"`
	ServiceID             string `json:"serviceId"`
	TaskHash              string `json:"taskHash"` // hex-32
	Nonce                 uint64 `json:"nonce"`
}

// Envelope is the decoded X-Payment header (§6): base64(JSON(Envelope)).
type Envelope struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     string  `json:"network"`
	Payload     Payload `json:"payload"`
}

// EncodeHeader base64-encodes env's JSON for the X-Payment request header.
func EncodeHeader(env Envelope) (string, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshalling x-payment envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeHeader reverses EncodeHeader, returning a plain error for malformed
// base64 or JSON (ProviderMiddleware reports it as BadRequest) — it does not
// validate version/scheme/network, which is the caller's job (those are
// policy, not framing).
func DecodeHeader(header string) (Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Envelope{}, fmt.Errorf("decoding x-payment base64: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("parsing x-payment json: %w", err)
	}
	return env, nil
}

// TaskHashHex formats a task hash for Payload.TaskHash.
func TaskHashHex(taskHash [32]byte) string {
	return hex.EncodeToString(taskHash[:])
}

// ParseTaskHashHex reverses TaskHashHex, validating length.
func ParseTaskHashHex(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decoding task hash hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("task hash must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
