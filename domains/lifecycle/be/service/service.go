package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	credentials "github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
	deployments "github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	teardown "github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
)

var (
	// ErrUnavailable is returned when an asynchronous workflow cannot be scheduled.
	ErrUnavailable = errors.New("lifecycle service unavailable")
	ErrValidation  = errors.New("validation error")
)

// Allocation is what a new tenant receives: its slot and the browser config of the
// slot's project.
type Allocation struct {
	SlotID      string                  `json:"slotId"`
	ProjectID   string                  `json:"projectId"`
	Credentials credentials.Credentials `json:"credentials"`
}

// Allocator reserves slots.
type Allocator interface {
	Allocate(ctx context.Context, chatbotID string) (pool.Slot, error)
}

// Registry is the operator surface of the pool registry.
type Registry interface {
	Get(ctx context.Context, slotID string) (pool.Slot, error)
	List(ctx context.Context, status *pool.Status) ([]pool.Slot, error)
	SetStatus(ctx context.Context, slotID string, status pool.Status) (pool.Slot, error)
	Release(ctx context.Context, slotID string) error
	ForceClearFlag(ctx context.Context, slotID string) error
	Reconcile(ctx context.Context, opts pool.ReconcileOptions) (pool.ReconcileReport, error)
}

// Vault resolves and checks project credentials.
type Vault interface {
	Resolve(ctx context.Context, projectID string) (credentials.Credentials, error)
	TestCredential(ctx context.Context, apiKey, projectID string) (credentials.ProbeResult, error)
	ClearCache(ctx context.Context, projectID string) error
}

// Deployer drives deployments.
type Deployer interface {
	Deploy(ctx context.Context, slotID string, cfg deployments.TenantConfig) (deployments.Result, error)
	Start(ctx context.Context, slotID string, cfg deployments.TenantConfig) (deployments.Deployment, error)
	Run(ctx context.Context, dep deployments.Deployment, cfg deployments.TenantConfig) (deployments.Result, error)
	Abandon(ctx context.Context, dep deployments.Deployment, reason string, cause error) (deployments.Deployment, error)
	Get(ctx context.Context, id uuid.UUID) (deployments.Deployment, error)
}

// Teardown removes a tenant's data.
type Teardown interface {
	Delete(ctx context.Context, chatbotID string, opts teardown.Options) (teardown.Report, error)
}

// Runner schedules background workflows.
type Runner interface {
	Submit(name string, fn func(ctx context.Context), onDrop func(err error)) error
}

type Deps struct {
	Allocator Allocator
	Registry  Registry
	Vault     Vault
	Deployer  Deployer
	Teardown  Teardown
	Runner    Runner
	Clock     retry.Clock
	Logger    *zap.Logger
}

// Service is the single entry point for allocate, deploy and teardown.
type Service struct {
	deps   Deps
	logger *zap.Logger
}

func New(deps Deps) *Service {
	if deps.Allocator == nil || deps.Registry == nil || deps.Vault == nil || deps.Deployer == nil || deps.Teardown == nil {
		panic("lifecycle service requires allocator, registry, vault, deployer and teardown")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = retry.SystemClock()
	}
	return &Service{deps: deps, logger: logger}
}

// Allocate reserves a slot for chatbotID and resolves its credentials. When the
// credentials cannot be resolved the reservation is kept, so a retry gets the same slot.
func (s *Service) Allocate(ctx context.Context, chatbotID string) (Allocation, error) {
	slot, err := s.deps.Allocator.Allocate(ctx, chatbotID)
	if err != nil {
		return Allocation{}, err
	}

	cred, err := s.deps.Vault.Resolve(ctx, slot.ProjectID)
	if err != nil {
		platformlogging.FromContextOr(ctx, s.logger).Warn("slot allocated but credentials unavailable",
			platformlogging.SlotID(slot.SlotID),
			platformlogging.ProjectID(slot.ProjectID),
			platformlogging.ChatbotID(chatbotID),
			zap.Error(err),
		)
		return Allocation{}, fmt.Errorf("resolve credentials for %s: %w", slot.SlotID, err)
	}

	return Allocation{SlotID: slot.SlotID, ProjectID: slot.ProjectID, Credentials: cred}, nil
}

// Deploy runs a deployment to completion on the caller's goroutine.
func (s *Service) Deploy(ctx context.Context, slotID string, cfg deployments.TenantConfig) (deployments.Result, error) {
	return s.deps.Deployer.Deploy(ctx, slotID, cfg)
}

// StartDeploy validates and records the deployment, then hands the long-running part to
// the worker pool. The returned record is pending; poll GetDeployment for progress.
func (s *Service) StartDeploy(ctx context.Context, slotID string, cfg deployments.TenantConfig) (deployments.Deployment, error) {
	if s.deps.Runner == nil {
		return deployments.Deployment{}, fmt.Errorf("%w: no workflow runner configured", ErrUnavailable)
	}

	dep, err := s.deps.Deployer.Start(ctx, slotID, cfg)
	if err != nil {
		return deployments.Deployment{}, err
	}

	logger := platformlogging.FromContextOr(ctx, s.logger).With(
		platformlogging.DeploymentID(dep.ID.String()),
		platformlogging.SlotID(slotID),
	)
	err = s.deps.Runner.Submit("deploy "+dep.ID.String(), func(runCtx context.Context) {
		runCtx = platformlogging.WithLogger(runCtx, logger)
		if _, runErr := s.deps.Deployer.Run(runCtx, dep, cfg); runErr != nil {
			logger.Warn("background deployment failed", zap.Error(runErr))
		}
	}, func(dropErr error) {
		s.abandon(ctx, logger, dep, dropErr)
	})
	if err != nil {
		s.abandon(ctx, logger, dep, err)
		return deployments.Deployment{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return dep, nil
}

// abandon fails a pending deployment that the runner refused or dropped.
func (s *Service) abandon(ctx context.Context, logger *zap.Logger, dep deployments.Deployment, cause error) {
	if _, err := s.deps.Deployer.Abandon(context.WithoutCancel(ctx), dep, "not started: service shutting down", cause); err != nil {
		logger.Error("failed to mark abandoned deployment", zap.Error(err))
		return
	}
	logger.Warn("deployment abandoned before start", zap.Error(cause))
}

func (s *Service) GetDeployment(ctx context.Context, id uuid.UUID) (deployments.Deployment, error) {
	return s.deps.Deployer.Get(ctx, id)
}

// Teardown deletes the chatbot's data and releases its slot.
func (s *Service) Teardown(ctx context.Context, chatbotID string, opts teardown.Options) (teardown.Report, error) {
	return s.deps.Teardown.Delete(ctx, chatbotID, opts)
}

func (s *Service) ListSlots(ctx context.Context, status *pool.Status) ([]pool.Slot, error) {
	return s.deps.Registry.List(ctx, status)
}

func (s *Service) GetSlot(ctx context.Context, slotID string) (pool.Slot, error) {
	return s.deps.Registry.Get(ctx, slotID)
}

// SetSlotStatus applies an operator status change.
func (s *Service) SetSlotStatus(ctx context.Context, slotID string, status pool.Status) (pool.Slot, error) {
	slot, err := s.deps.Registry.SetStatus(ctx, slotID, status)
	if err != nil {
		return pool.Slot{}, err
	}
	platformlogging.FromContextOr(ctx, s.logger).Info("slot status changed by operator",
		platformlogging.SlotID(slotID), zap.String("status", string(status)))
	return slot, nil
}

// ReleaseSlot frees a slot without deleting tenant data.
func (s *Service) ReleaseSlot(ctx context.Context, slotID string) (pool.Slot, error) {
	if err := s.deps.Registry.Release(ctx, slotID); err != nil {
		return pool.Slot{}, err
	}
	return s.deps.Registry.Get(ctx, slotID)
}

// ClearSlotFlag resets the in-project flag after forensic review.
func (s *Service) ClearSlotFlag(ctx context.Context, slotID string) error {
	return s.deps.Registry.ForceClearFlag(ctx, slotID)
}

func (s *Service) Reconcile(ctx context.Context, quarantine bool) (pool.ReconcileReport, error) {
	return s.deps.Registry.Reconcile(ctx, pool.ReconcileOptions{Quarantine: quarantine})
}

func (s *Service) ResolveCredentials(ctx context.Context, projectID string) (credentials.Credentials, error) {
	return s.deps.Vault.Resolve(ctx, projectID)
}

// CredentialCheck is the outcome of a live key probe.
type CredentialCheck struct {
	ProjectID string                  `json:"projectId"`
	Source    string                  `json:"source,omitempty"`
	Probe     credentials.ProbeResult `json:"probe"`
	CheckedAt time.Time               `json:"checkedAt"`
}

// TestCredentials probes apiKey against projectID. An empty apiKey probes the key the
// vault currently resolves for the project.
func (s *Service) TestCredentials(ctx context.Context, projectID, apiKey string) (CredentialCheck, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return CredentialCheck{}, fmt.Errorf("%w: project id is required", ErrValidation)
	}

	check := CredentialCheck{ProjectID: projectID, Source: "request"}
	if strings.TrimSpace(apiKey) == "" {
		cred, err := s.deps.Vault.Resolve(ctx, projectID)
		if err != nil {
			return CredentialCheck{}, err
		}
		apiKey, check.Source = cred.APIKey, cred.Source
	}

	probe, err := s.deps.Vault.TestCredential(ctx, apiKey, projectID)
	if err != nil {
		return CredentialCheck{}, err
	}
	check.Probe = probe
	check.CheckedAt = s.deps.Clock.Now().UTC()
	return check, nil
}

// ClearCredentialCache drops cached credentials for projectID, or for every project when
// projectID is empty.
func (s *Service) ClearCredentialCache(ctx context.Context, projectID string) error {
	return s.deps.Vault.ClearCache(ctx, strings.TrimSpace(projectID))
}
