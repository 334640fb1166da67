package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPClientRegisterProvider(t *testing.T) {
	var gotPath string
	var gotBody Provider
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok123", 5*time.Second)
	p := NewProvider("agent1", "Agent One", "Sol1111", "http://localhost:9000", 9000)

	err := client.RegisterProvider(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, "/providers", gotPath)
	require.Equal(t, "agent1", gotBody.AgentAddress)
}

func TestHTTPClientPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", time.Second)
	err := client.UpdateJobStatus(context.Background(), "req1", JobCompleted)
	require.Error(t, err)
}

func TestMemoryClientRecordsCalls(t *testing.T) {
	m := NewMemoryClient()
	ctx := context.Background()

	p := NewProvider("agent1", "Agent One", "Sol1111", "http://localhost:9000", 9000)
	require.NoError(t, m.RegisterProvider(ctx, p))
	require.NoError(t, m.UpdateJobStatus(ctx, "req1", JobInProgress))
	require.NoError(t, m.RecordCompletion(ctx, "req1", "provAddr", "pda1", 8_000_000, "sig1"))

	require.Len(t, m.Providers, 1)
	require.Len(t, m.StatusCalls, 1)
	require.Equal(t, JobInProgress, m.StatusCalls[0].Status)
	require.Len(t, m.Completions, 1)
	require.Equal(t, uint64(8_000_000), m.Completions[0].Amount)
}

func TestProviderStatisticsHelpers(t *testing.T) {
	p := NewProvider("agent1", "Agent One", "Sol1111", "http://localhost:9000", 9000)
	p.AddService(ServiceOffering{ServiceType: ServiceCodeReview, BasePrice: 1_000_000})
	require.Len(t, p.Services, 1)

	p.RecordJobCompletion(true, 1_000_000)
	p.RecordJobCompletion(false, 0)
	require.Equal(t, 2, p.TotalJobs)
	require.Equal(t, 1, p.CompletedJobs)
	require.Equal(t, 1, p.FailedJobs)
	require.Equal(t, uint64(1_000_000), p.TotalEarned)

	p.UpdateRating(4.0)
	require.InDelta(t, 4.5, p.Rating, 0.001)

	p.UpdateStatus(ProviderBusy)
	require.Equal(t, ProviderBusy, p.Status)
}
