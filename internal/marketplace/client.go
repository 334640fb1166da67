package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Client is the gateway's view of a marketplace collaborator: register
// providers, push job-status transitions, and record completions once an
// escrow releases. Implementations must tolerate being unreachable —
// callers treat every error as advisory.
type Client interface {
	RegisterProvider(ctx context.Context, p Provider) error
	UpdateJobStatus(ctx context.Context, requestID string, status JobStatus) error
	RecordCompletion(ctx context.Context, requestID, providerAddress, escrowPDA string, amount uint64, signature string) error
}

// HTTPClient talks to a marketplace service over its REST API.
type HTTPClient struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client
}

// NewHTTPClient builds an HTTPClient against baseURL, authenticating
// requests with sessionToken (see session.go) when non-empty.
func NewHTTPClient(baseURL, sessionToken string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:      baseURL,
		sessionToken: sessionToken,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling marketplace request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("building marketplace request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	slog.Debug("marketplace: posting", "path", path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}
	return nil
}

// RegisterProvider announces p to the marketplace.
func (c *HTTPClient) RegisterProvider(ctx context.Context, p Provider) error {
	return c.post(ctx, "/providers", p)
}

// UpdateJobStatus pushes a status transition for requestID.
func (c *HTTPClient) UpdateJobStatus(ctx context.Context, requestID string, status JobStatus) error {
	return c.post(ctx, fmt.Sprintf("/requests/%s/status", requestID), map[string]string{
		"status": string(status),
	})
}

// RecordCompletion reports a settled payment for requestID.
func (c *HTTPClient) RecordCompletion(ctx context.Context, requestID, providerAddress, escrowPDA string, amount uint64, signature string) error {
	return c.post(ctx, fmt.Sprintf("/requests/%s/complete", requestID), map[string]any{
		"providerAddress": providerAddress,
		"escrowPda":       escrowPDA,
		"amount":          amount,
		"signature":       signature,
	})
}

// NoopClient discards every call. It is the Client used when no
// MARKETPLACE_URL is configured: marketplace integration is entirely
// optional (§4.F), so the gateway must run identically without one.
type NoopClient struct{}

func (NoopClient) RegisterProvider(context.Context, Provider) error         { return nil }
func (NoopClient) UpdateJobStatus(context.Context, string, JobStatus) error { return nil }
func (NoopClient) RecordCompletion(context.Context, string, string, string, uint64, string) error {
	return nil
}

// MemoryClient is an in-memory Client double for tests: it records every
// call instead of talking to a network service.
type MemoryClient struct {
	mu          sync.Mutex
	Providers   []Provider
	StatusCalls []struct {
		RequestID string
		Status    JobStatus
	}
	Completions []struct {
		RequestID       string
		ProviderAddress string
		EscrowPDA       string
		Amount          uint64
		Signature       string
	}
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

func (m *MemoryClient) RegisterProvider(_ context.Context, p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Providers = append(m.Providers, p)
	return nil
}

func (m *MemoryClient) UpdateJobStatus(_ context.Context, requestID string, status JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls = append(m.StatusCalls, struct {
		RequestID string
		Status    JobStatus
	}{requestID, status})
	return nil
}

func (m *MemoryClient) RecordCompletion(_ context.Context, requestID, providerAddress, escrowPDA string, amount uint64, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Completions = append(m.Completions, struct {
		RequestID       string
		ProviderAddress string
		EscrowPDA       string
		Amount          uint64
		Signature       string
	}{requestID, providerAddress, escrowPDA, amount, signature})
	return nil
}
