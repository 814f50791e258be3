package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
	"github.com/zenGate-Global/tenant-pool/platform/go/tenant"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultBuildTimeout  = 20 * time.Minute
	DefaultFlowTimeout   = 30 * time.Minute
	DefaultTemplateRef   = "main"
	DefaultProjectPrefix = "tenant-"
)

// DefaultAliasPolicy waits 2s, 4s, 8s, 16s, 30s between alias lookups.
func DefaultAliasPolicy() retry.Policy {
	return retry.Policy{Initial: 2 * time.Second, Multiplier: 2, Max: 30 * time.Second, Attempts: 6}
}

// DefaultProviderPolicy retries rate limited or unavailable provider calls after 2s, 4s, 8s, 16s.
func DefaultProviderPolicy() retry.Policy {
	return retry.Policy{Initial: 2 * time.Second, Multiplier: 2, Max: 30 * time.Second, Attempts: 5}
}

var (
	errStillBuilding = errors.New("deployment still building")
	errNoStableAlias = errors.New("no stable alias yet")
)

// Deps lists the collaborators of the driver.
type Deps struct {
	Hosting     Hosting
	Store       Store
	Credentials CredentialResolver
	Slots       SlotRegistry
	Classifier  ClassifierFactory
	Clock       retry.Clock
	Logger      *zap.Logger
}

// Config tunes the driver.
type Config struct {
	TemplateRepo string
	TemplateRef  string

	// ProjectPrefix is prepended to the slot id to name the hosting project.
	ProjectPrefix string
	PollInterval  time.Duration

	// BuildTimeout bounds the building phase; it is turned into an attempt budget.
	BuildTimeout         time.Duration
	FlowTimeout          time.Duration
	AliasPolicy          retry.Policy
	CustomDomainSuffixes []string

	// ProviderPolicy bounds retries of a single provider call that failed transiently.
	ProviderPolicy retry.Policy
}

// Driver walks a deployment from submission to a promoted, cleanly addressed build.
type Driver struct {
	hosting    Hosting
	store      Store
	creds      CredentialResolver
	slots      SlotRegistry
	classifier ClassifierFactory
	clock      retry.Clock
	logger     *zap.Logger
	cfg        Config
}

// NewDriver constructs a Driver and fills config defaults.
func NewDriver(deps Deps, cfg Config) *Driver {
	if deps.Hosting == nil || deps.Store == nil || deps.Credentials == nil || deps.Slots == nil {
		panic("hosting, store, credentials and slots are required")
	}
	if cfg.TemplateRef == "" {
		cfg.TemplateRef = DefaultTemplateRef
	}
	if cfg.ProjectPrefix == "" {
		cfg.ProjectPrefix = DefaultProjectPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	if cfg.AliasPolicy.Attempts <= 0 {
		cfg.AliasPolicy = DefaultAliasPolicy()
	}
	if cfg.ProviderPolicy.Attempts <= 0 {
		cfg.ProviderPolicy = DefaultProviderPolicy()
	}
	if deps.Classifier == nil {
		deps.Classifier = DefaultClassifierFactory(cfg.CustomDomainSuffixes)
	}
	if deps.Clock == nil {
		deps.Clock = retry.SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Driver{
		hosting:    deps.Hosting,
		store:      deps.Store,
		creds:      deps.Credentials,
		slots:      deps.Slots,
		classifier: deps.Classifier,
		clock:      deps.Clock,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// ProjectFor names the hosting project serving slotID.
func (d *Driver) ProjectFor(slotID string) string {
	return tenant.HostingProjectName(d.cfg.ProjectPrefix, slotID)
}

// Deploy runs a deployment to a terminal state and returns its result.
func (d *Driver) Deploy(ctx context.Context, slotID string, cfg TenantConfig) (Result, error) {
	dep, err := d.Start(ctx, slotID, cfg)
	if err != nil {
		return Result{}, err
	}
	return d.Run(ctx, dep, cfg)
}

// Start validates the request and records a pending deployment. Run drives it further.
func (d *Driver) Start(ctx context.Context, slotID string, cfg TenantConfig) (Deployment, error) {
	if strings.TrimSpace(slotID) == "" {
		return Deployment{}, fmt.Errorf("%w: slot id is required", ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return Deployment{}, err
	}

	slot, err := d.slots.Get(ctx, slotID)
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			return Deployment{}, fmt.Errorf("%w: slot %s does not exist", ErrValidation, slotID)
		}
		return Deployment{}, fmt.Errorf("load slot %s: %w", slotID, err)
	}
	if slot.Status != pool.StatusInUse || slot.ChatbotID != cfg.ChatbotID {
		return Deployment{}, fmt.Errorf("%w: slot %s is not allocated to chatbot %s", ErrValidation, slotID, cfg.ChatbotID)
	}

	now := d.clock.Now().UTC()
	return d.store.Save(ctx, Deployment{
		ID:        uuid.New(),
		SlotID:    slotID,
		ChatbotID: cfg.ChatbotID,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Abandon marks a deployment that will never run as failed.
func (d *Driver) Abandon(ctx context.Context, dep Deployment, reason string, cause error) (Deployment, error) {
	dep.FailureReason = reason
	if cause != nil {
		dep.ProviderMessage = cause.Error()
	}
	saved, err := d.transition(ctx, dep, StateFailed)
	if err != nil {
		return dep, err
	}
	metrics.RecordDeployment(string(StateFailed), false, 0)
	return saved, nil
}

// Get returns a deployment record.
func (d *Driver) Get(ctx context.Context, id uuid.UUID) (Deployment, error) {
	return d.store.Get(ctx, id)
}

// Run drives a pending deployment until it is promoted or failed. Failed deployments are
// never retried automatically.
func (d *Driver) Run(ctx context.Context, dep Deployment, cfg TenantConfig) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.FlowTimeout)
	defer cancel()

	started := d.clock.Now()
	logger := platformlogging.FromContextOr(ctx, d.logger).With(
		platformlogging.DeploymentID(dep.ID.String()),
		platformlogging.SlotID(dep.SlotID),
		platformlogging.ChatbotID(dep.ChatbotID),
	)

	slot, err := d.slots.Get(ctx, dep.SlotID)
	if err != nil {
		return d.fail(ctx, logger, dep, started, "slot lookup failed", "", err)
	}

	cred, err := d.creds.Resolve(ctx, slot.ProjectID)
	if err != nil {
		return d.fail(ctx, logger, dep, started, "credentials unavailable", "", err)
	}

	project := d.ProjectFor(dep.SlotID)
	env := BuildEnv(cfg, cred)
	if err := d.callProvider(ctx, logger, "upsert env", func(ctx context.Context) error {
		return d.hosting.UpsertEnv(ctx, project, env)
	}); err != nil {
		return d.fail(ctx, logger, dep, started, "environment update rejected", providerMessage(err), err)
	}

	ref := cfg.TemplateRef
	if ref == "" {
		ref = d.cfg.TemplateRef
	}
	req := CreateRequest{
		Project:      project,
		TemplateRepo: d.cfg.TemplateRepo,
		TemplateRef:  ref,
		Meta: map[string]string{
			"chatbotId":    dep.ChatbotID,
			"slotId":       dep.SlotID,
			"deploymentId": dep.ID.String(),
		},
	}
	var build Build
	err = d.callProvider(ctx, logger, "create deployment", func(ctx context.Context) error {
		var err error
		build, err = d.hosting.CreateDeployment(ctx, req)
		return err
	})
	if err != nil {
		return d.fail(ctx, logger, dep, started, "submission rejected", providerMessage(err), err)
	}

	dep.ProviderDeploymentID = build.ID
	dep.RawBuildURL = normaliseURL(build.URL)
	if dep, err = d.transition(ctx, dep, StateBuilding); err != nil {
		return d.fail(ctx, logger, dep, started, "state not persisted", "", err)
	}
	logger.Info("deployment submitted", zap.String("provider_deployment_id", build.ID), zap.String("raw_build_url", dep.RawBuildURL))

	if build, err = d.waitReady(ctx, logger, build); err != nil {
		var depErr *DeploymentError
		if errors.As(err, &depErr) {
			return d.fail(ctx, logger, dep, started, depErr.Reason, depErr.ProviderMessage, depErr.Err)
		}
		return d.fail(ctx, logger, dep, started, "unexpected provider error", providerMessage(err), err)
	}
	if build.URL != "" {
		dep.RawBuildURL = normaliseURL(build.URL)
	}
	if dep, err = d.transition(ctx, dep, StateReady); err != nil {
		return d.fail(ctx, logger, dep, started, "state not persisted", "", err)
	}

	if err := d.callProvider(ctx, logger, "promote", func(ctx context.Context) error {
		return d.hosting.Promote(ctx, project, build.ID)
	}); err != nil {
		return d.fail(ctx, logger, dep, started, "promotion rejected", providerMessage(err), err)
	}

	dep.ResolvedURL, dep.Clean = d.resolveAlias(ctx, logger, project, dep.RawBuildURL)
	if dep, err = d.transition(ctx, dep, StatePromoted); err != nil {
		return d.fail(ctx, logger, dep, started, "state not persisted", "", err)
	}

	if _, err := d.slots.RecordDeployment(context.WithoutCancel(ctx), dep.SlotID, dep.ResolvedURL, dep.UpdatedAt); err != nil {
		logger.Error("failed to record deployment on slot", zap.Error(err))
	}

	metrics.RecordDeployment(string(StatePromoted), dep.Clean, d.clock.Now().Sub(started))
	if dep.Clean {
		logger.Info("deployment promoted", zap.String("url", dep.ResolvedURL))
	} else {
		logger.Warn("deployment promoted without a stable alias", zap.String("url", dep.ResolvedURL))
	}
	return ResultOf(dep), nil
}

// waitReady polls the provider on the fixed interval until the build settles. A poll that
// fails transiently is retried under the provider policy before the build is given up.
func (d *Driver) waitReady(ctx context.Context, logger *zap.Logger, build Build) (Build, error) {
	attempts := int(d.cfg.BuildTimeout/d.cfg.PollInterval) + 1
	policy := retry.Fixed(d.cfg.PollInterval, attempts)

	current := build
	err := retry.Do(ctx, d.clock, policy, func(ctx context.Context) error {
		var latest Build
		err := d.callProvider(ctx, logger, "get deployment", func(ctx context.Context) error {
			var err error
			latest, err = d.hosting.GetDeployment(ctx, build.ID)
			return err
		})
		if err != nil {
			return retry.Permanent(err)
		}
		current = latest
		switch latest.ReadyState {
		case ReadyStateReady:
			return nil
		case ReadyStateError, ReadyStateCanceled:
			return retry.Permanent(&DeploymentError{
				State:           StateBuilding,
				Reason:          "build " + strings.ToLower(latest.ReadyState),
				ProviderMessage: latest.ErrorMessage,
			})
		default:
			return errStillBuilding
		}
	}, nil)
	if err == nil {
		return current, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		reason := "flow cancelled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			reason = fmt.Sprintf("flow deadline exceeded after %s", d.cfg.FlowTimeout)
		}
		return current, &DeploymentError{
			State:  StateBuilding,
			Reason: reason,
			Err:    errors.Join(ErrDeploymentTimeout, ctxErr),
		}
	}
	if errors.Is(err, errStillBuilding) {
		return current, &DeploymentError{
			State:  StateBuilding,
			Reason: fmt.Sprintf("not ready after %s", d.cfg.BuildTimeout),
			Err:    ErrDeploymentTimeout,
		}
	}
	return current, err
}

// resolveAlias looks for a stable alias after promotion. When none shows up within the
// alias policy the raw build URL is returned with clean=false.
func (d *Driver) resolveAlias(ctx context.Context, logger *zap.Logger, project, rawBuildURL string) (string, bool) {
	classifier := d.classifier(project, rawBuildURL)

	var chosen string
	err := retry.Do(ctx, d.clock, d.cfg.AliasPolicy, func(ctx context.Context) error {
		aliases, err := d.hosting.ListAliases(ctx, project)
		if err != nil {
			return err
		}
		var stable []string
		for _, alias := range aliases {
			if classifier.IsStableAlias(alias) {
				stable = append(stable, HostOf(alias))
			}
		}
		if len(stable) == 0 {
			return errNoStableAlias
		}
		chosen = rankAliases(stable, d.cfg.CustomDomainSuffixes)[0]
		return nil
	}, func(err error, wait time.Duration) {
		logger.Debug("waiting for stable alias", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		logger.Warn("falling back to raw build url", zap.Error(err))
		return rawBuildURL, false
	}
	return "https://" + chosen, true
}

// transition saves dep in state. On error the unchanged dep is returned.
func (d *Driver) transition(ctx context.Context, dep Deployment, state State) (Deployment, error) {
	next := dep
	next.State = state
	next.UpdatedAt = d.clock.Now().UTC()
	saved, err := d.store.Save(context.WithoutCancel(ctx), next)
	if err != nil {
		return dep, fmt.Errorf("persist deployment %s as %s: %w", dep.ID, state, err)
	}
	return saved, nil
}

// callProvider runs one provider call, retrying it under the provider policy while it
// fails transiently. Any other error is returned on the first attempt.
func (d *Driver) callProvider(ctx context.Context, logger *zap.Logger, call string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, d.clock, d.cfg.ProviderPolicy, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !isTransient(ctx, err) {
			return retry.Permanent(err)
		}
		return err
	}, func(err error, wait time.Duration) {
		logger.Warn("provider call failed, retrying",
			zap.String("call", call),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

// isTransient reports whether err is a rate limit, a provider outage or a network timeout.
// Nothing is transient once ctx itself is done.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// fail records the failure and returns a *DeploymentError. The store write outlives ctx
// so a timed out flow still leaves a terminal record.
func (d *Driver) fail(ctx context.Context, logger *zap.Logger, dep Deployment, started time.Time, reason, providerMsg string, cause error) (Result, error) {
	failedIn := dep.State
	if errors.Is(cause, context.DeadlineExceeded) && !errors.Is(cause, ErrDeploymentTimeout) {
		cause = errors.Join(ErrDeploymentTimeout, cause)
	}
	if providerMsg == "" && cause != nil {
		providerMsg = cause.Error()
	}

	dep.FailureReason = reason
	dep.ProviderMessage = providerMsg
	saved, err := d.transition(ctx, dep, StateFailed)
	if err != nil {
		logger.Error("failed to persist deployment failure", zap.Error(err))
		saved = dep
		saved.State = StateFailed
	}

	metrics.RecordDeployment(string(StateFailed), false, d.clock.Now().Sub(started))
	logger.Error("deployment failed",
		zap.String("state", string(failedIn)),
		zap.String("reason", reason),
		zap.String("provider_message", providerMsg),
		zap.Error(cause),
	)

	return ResultOf(saved), &DeploymentError{
		State:           failedIn,
		Reason:          reason,
		ProviderMessage: providerMsg,
		Err:             cause,
	}
}

// providerMessage extracts the provider's raw text when the adapter exposes one.
func providerMessage(err error) string {
	var pm interface{ ProviderMessage() string }
	if errors.As(err, &pm) {
		return pm.ProviderMessage()
	}
	return ""
}

func normaliseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}
