// Package marketplace is the optional collaborator component F: it lets the
// gateway announce providers, push job-status updates, and record
// completions to an external marketplace service. Every side effect here is
// best-effort — a marketplace outage must never block an escrow operation
// (spec.md §4.F "marketplace integration is advisory").
package marketplace

import "time"

// ServiceType names a kind of work a provider offers. Providers are free to
// advertise service types outside this list; these are just the common ones
// worth a named constant.
type ServiceType string

const (
	ServiceCodeReview      ServiceType = "code_review"
	ServiceContentAnalysis ServiceType = "content_analysis"
	ServiceTranslation     ServiceType = "translation"
	ServiceDataExtraction  ServiceType = "data_extraction"
)

// ProviderStatus is a provider's current availability.
type ProviderStatus string

const (
	ProviderOnline  ProviderStatus = "online"
	ProviderOffline ProviderStatus = "offline"
	ProviderBusy    ProviderStatus = "busy"
)

// ServiceOffering is one service a Provider advertises, priced in the
// escrow token's atomic units.
type ServiceOffering struct {
	ServiceType          ServiceType `json:"serviceType"`
	BasePrice            uint64      `json:"basePrice"`
	Description          string      `json:"description"`
	Features             []string    `json:"features"`
	AvgCompletionSeconds int         `json:"avgCompletionSeconds"`
	SuccessRate          float64     `json:"successRate"`
}

// Provider is a service provider registered with the marketplace.
type Provider struct {
	AgentAddress  string            `json:"agentAddress"`
	AgentName     string            `json:"agentName"`
	SolanaAddress string            `json:"solanaAddress"`
	Port          int               `json:"port"`
	Endpoint      string            `json:"endpoint"`
	Services      []ServiceOffering `json:"services"`

	Status   ProviderStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`

	TotalJobs     int    `json:"totalJobs"`
	CompletedJobs int    `json:"completedJobs"`
	FailedJobs    int    `json:"failedJobs"`
	TotalEarned   uint64 `json:"totalEarned"`

	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviewCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewProvider builds a Provider with the defaults models.py gives a
// freshly-registered one: online, five-star until reviewed, zero history.
func NewProvider(agentAddress, agentName, solanaAddress, endpoint string, port int) Provider {
	now := time.Now().UTC()
	return Provider{
		AgentAddress:  agentAddress,
		AgentName:     agentName,
		SolanaAddress: solanaAddress,
		Port:          port,
		Endpoint:      endpoint,
		Status:        ProviderOnline,
		LastSeen:      now,
		Rating:        5.0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// UpdateStatus records a status transition and bumps LastSeen/UpdatedAt.
func (p *Provider) UpdateStatus(status ProviderStatus) {
	p.Status = status
	now := time.Now().UTC()
	p.LastSeen = now
	p.UpdatedAt = now
}

// AddService appends a service offering.
func (p *Provider) AddService(s ServiceOffering) {
	p.Services = append(p.Services, s)
	p.UpdatedAt = time.Now().UTC()
}

// RecordJobCompletion updates job statistics after a job finishes.
func (p *Provider) RecordJobCompletion(success bool, amount uint64) {
	p.TotalJobs++
	if success {
		p.CompletedJobs++
		p.TotalEarned += amount
	} else {
		p.FailedJobs++
	}
	p.UpdatedAt = time.Now().UTC()
}

// UpdateRating folds a new 1-5 rating into the running average.
func (p *Provider) UpdateRating(newRating float64) {
	total := p.Rating * float64(p.ReviewCount)
	p.ReviewCount++
	p.Rating = (total + newRating) / float64(p.ReviewCount)
	p.UpdatedAt = time.Now().UTC()
}

// JobStatus tracks a service request's lifecycle independent of the
// underlying escrow's on-ledger status.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAccepted   JobStatus = "accepted"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// JobRecord is a client's service request as tracked by the marketplace.
type JobRecord struct {
	RequestID       string      `json:"requestId"`
	ClientAddress   string      `json:"clientAddress"`
	ServiceType     ServiceType `json:"serviceType"`
	ProviderAddress string      `json:"providerAddress,omitempty"`
	Status          JobStatus   `json:"status"`
	EscrowPDA       string      `json:"escrowPda,omitempty"`
	Amount          uint64      `json:"amount"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}
