package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	credentials "github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
)

// Errors returned by the deployment driver.
var (
	ErrDeploymentTimeout = errors.New("deployment did not become ready in time")
	ErrDeploymentFailed  = errors.New("deployment failed")
	ErrNotFound          = errors.New("deployment not found")
	ErrValidation        = errors.New("validation error")
)

// State is the driver's view of a deployment.
type State string

const (
	StatePending  State = "pending"
	StateBuilding State = "building"
	StateReady    State = "ready"
	StatePromoted State = "promoted"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StatePromoted || s == StateFailed }

// DeploymentError carries the provider's raw message for operators; callers show a generic text.
type DeploymentError struct {
	State           State
	Reason          string
	ProviderMessage string
	Err             error
}

func (e *DeploymentError) Error() string {
	msg := fmt.Sprintf("deployment failed while %s: %s", e.State, e.Reason)
	if e.ProviderMessage != "" {
		msg += " (" + e.ProviderMessage + ")"
	}
	return msg
}

func (e *DeploymentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDeploymentFailed}
	}
	return []error{ErrDeploymentFailed, e.Err}
}

// Deployment is the persisted record of one deploy request.
type Deployment struct {
	ID                   uuid.UUID
	SlotID               string
	ChatbotID            string
	ProviderDeploymentID string
	State                State
	ResolvedURL          string
	RawBuildURL          string
	Clean                bool
	FailureReason        string
	ProviderMessage      string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Result is what Deploy hands back to the caller.
type Result struct {
	DeploymentID uuid.UUID `json:"deploymentId"`
	Status       State     `json:"status"`
	URL          string    `json:"url,omitempty"`
	Clean        bool      `json:"clean"`
	RawBuildURL  string    `json:"rawBuildUrl,omitempty"`
}

// ResultOf summarises a record.
func ResultOf(d Deployment) Result {
	return Result{
		DeploymentID: d.ID,
		Status:       d.State,
		URL:          d.ResolvedURL,
		Clean:        d.Clean,
		RawBuildURL:  d.RawBuildURL,
	}
}

// EnvVar is one project environment variable.
type EnvVar struct {
	Key    string
	Value  string
	Secret bool
}

// CreateRequest describes a deployment submission.
type CreateRequest struct {
	Project      string
	TemplateRepo string
	TemplateRef  string
	Meta         map[string]string
}

// Build is the provider's view of one deployment.
type Build struct {
	ID           string
	URL          string
	ReadyState   string
	ErrorMessage string
}

// Provider ready states.
const (
	ReadyStateQueued       = "QUEUED"
	ReadyStateInitializing = "INITIALIZING"
	ReadyStateBuilding     = "BUILDING"
	ReadyStateReady        = "READY"
	ReadyStateError        = "ERROR"
	ReadyStateCanceled     = "CANCELED"
)

// Hosting is the deployment provider.
type Hosting interface {
	UpsertEnv(ctx context.Context, project string, vars []EnvVar) error
	CreateDeployment(ctx context.Context, req CreateRequest) (Build, error)
	GetDeployment(ctx context.Context, id string) (Build, error)
	Promote(ctx context.Context, project, deploymentID string) error
	ListAliases(ctx context.Context, project string) ([]string, error)
}

// Store persists deployment records.
type Store interface {
	Save(ctx context.Context, d Deployment) (Deployment, error)
	Get(ctx context.Context, id uuid.UUID) (Deployment, error)
	ListBySlot(ctx context.Context, slotID string) ([]Deployment, error)
}

// CredentialResolver is the part of the credential vault the driver needs.
type CredentialResolver interface {
	Resolve(ctx context.Context, projectID string) (credentials.Credentials, error)
}

// SlotRegistry is the part of the pool registry the driver needs.
type SlotRegistry interface {
	Get(ctx context.Context, slotID string) (pool.Slot, error)
	RecordDeployment(ctx context.Context, slotID, url string, at time.Time) (pool.Slot, error)
}
