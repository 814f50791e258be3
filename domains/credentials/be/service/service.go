package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
)

var (
	// ErrNoValidCredentials is matched by every *NoValidCredentialsError.
	ErrNoValidCredentials = errors.New("no valid credentials")
	// ErrInvalidKeyFormat marks a key that failed the shared format check.
	ErrInvalidKeyFormat = errors.New("invalid api key format")
	// ErrCacheMiss is returned by Cache.Get when nothing is stored for the project.
	ErrCacheMiss = errors.New("credentials cache miss")
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation error")
)

// Credentials is the browser-side configuration a tenant front-end needs for its project.
type Credentials struct {
	ProjectID         string    `json:"projectId"`
	APIKey            string    `json:"apiKey"`
	AuthDomain        string    `json:"authDomain"`
	AppID             string    `json:"appId,omitempty"`
	StorageBucket     string    `json:"storageBucket,omitempty"`
	MessagingSenderID string    `json:"messagingSenderId,omitempty"`
	MeasurementID     string    `json:"measurementId,omitempty"`
	Source            string    `json:"source"`
	ResolvedAt        time.Time `json:"resolvedAt"`
}

// StrategyFailure records why one strategy was abandoned.
type StrategyFailure struct {
	Strategy string
	Err      error
}

// NoValidCredentialsError is returned when every strategy failed.
type NoValidCredentialsError struct {
	ProjectID string
	Failures  []StrategyFailure
	Last      error
}

func (e *NoValidCredentialsError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Strategy, f.Err))
	}
	return fmt.Sprintf("no valid credentials for project %s (%s)", e.ProjectID, strings.Join(parts, "; "))
}

func (e *NoValidCredentialsError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrNoValidCredentials}
	}
	return []error{ErrNoValidCredentials, e.Last}
}

// Strategy fetches credentials for a project. Implementations retry transient failures
// inside Fetch; a returned error means the strategy is done for this resolution.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, projectID string) (Credentials, error)
}

// Cache stores resolved credentials per project.
type Cache interface {
	Get(ctx context.Context, projectID string) (Credentials, error)
	Set(ctx context.Context, cred Credentials) error
	Delete(ctx context.Context, projectID string) error
	Clear(ctx context.Context) error
}

// Prober checks a key against the identity endpoint.
type Prober interface {
	Probe(ctx context.Context, apiKey, projectID string) (ProbeResult, error)
}

// ProbeResult classifies a live key check. Restricted keys are valid but refuse callers
// outside their referrer allow-list.
type ProbeResult struct {
	Valid      bool   `json:"valid"`
	Restricted bool   `json:"restricted"`
	Code       string `json:"code"`
}

// Deps lists the collaborators of the vault.
type Deps struct {
	Strategies []Strategy
	Cache      Cache
	Prober     Prober
	Clock      retry.Clock
	Logger     *zap.Logger
}

// Config tunes the vault.
type Config struct {
	Format KeyFormat
	// StrategyTimeout bounds each strategy unless Timeouts names it explicitly.
	StrategyTimeout time.Duration
	Timeouts        map[string]time.Duration
}

// Vault resolves project credentials by walking its strategies in order.
type Vault struct {
	strategies []Strategy
	cache      Cache
	prober     Prober
	clock      retry.Clock
	logger     *zap.Logger
	cfg        Config
	group      singleflight.Group
}

// New constructs a Vault. Strategies are tried in the order given.
func New(deps Deps, cfg Config) *Vault {
	if len(deps.Strategies) == 0 {
		panic("at least one credential strategy is required")
	}
	if deps.Cache == nil {
		deps.Cache = noCache{}
	}
	if deps.Clock == nil {
		deps.Clock = retry.SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Format == (KeyFormat{}) {
		cfg.Format = DefaultKeyFormat()
	}
	if cfg.StrategyTimeout <= 0 {
		cfg.StrategyTimeout = 3 * time.Minute
	}

	return &Vault{
		strategies: deps.Strategies,
		cache:      deps.Cache,
		prober:     deps.Prober,
		clock:      deps.Clock,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// Resolve returns working credentials for projectID, consulting the cache first.
func (v *Vault) Resolve(ctx context.Context, projectID string) (Credentials, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return Credentials{}, fmt.Errorf("%w: project id is required", ErrValidation)
	}
	logger := platformlogging.FromContextOr(ctx, v.logger).With(platformlogging.ProjectID(projectID))

	cached, err := v.cache.Get(ctx, projectID)
	switch {
	case err == nil:
		metrics.RecordCredentialCache("hit")
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
		metrics.RecordCredentialCache("miss")
	default:
		metrics.RecordCredentialCache("error")
		logger.Warn("credential cache read failed", zap.Error(err))
	}

	// The shared lookup must not die with whichever caller started it; the strategy
	// timeouts bound it instead.
	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(projectID, func() (interface{}, error) {
		return v.resolveUncached(shared, logger, projectID)
	})

	select {
	case <-ctx.Done():
		return Credentials{}, &NoValidCredentialsError{ProjectID: projectID, Last: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Credentials{}, res.Err
		}
		return res.Val.(Credentials), nil
	}
}

func (v *Vault) resolveUncached(ctx context.Context, logger *zap.Logger, projectID string) (Credentials, error) {
	failure := &NoValidCredentialsError{ProjectID: projectID}

	for _, strategy := range v.strategies {
		if err := ctx.Err(); err != nil {
			failure.Last = err
			break
		}

		name := strategy.Name()
		cred, err := v.runStrategy(ctx, strategy, projectID)
		if err != nil {
			metrics.RecordCredentialStrategy(name, outcomeLabel(err))
			logger.Warn("credential strategy failed", platformlogging.Strategy(name), zap.Error(err))
			failure.Failures = append(failure.Failures, StrategyFailure{Strategy: name, Err: err})
			failure.Last = err
			continue
		}

		metrics.RecordCredentialStrategy(name, "success")
		cred.ProjectID = projectID
		cred.Source = name
		cred.ResolvedAt = v.clock.Now().UTC()

		if err := v.cache.Set(ctx, cred); err != nil {
			logger.Warn("credential cache write failed", zap.Error(err))
		}
		logger.Info("credentials resolved", platformlogging.Strategy(name))
		return cred, nil
	}

	return Credentials{}, failure
}

func (v *Vault) runStrategy(ctx context.Context, strategy Strategy, projectID string) (Credentials, error) {
	timeout := v.cfg.StrategyTimeout
	if d, ok := v.cfg.Timeouts[strategy.Name()]; ok && d > 0 {
		timeout = d
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cred, err := strategy.Fetch(sctx, projectID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Credentials{}, fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return Credentials{}, err
	}
	if err := v.cfg.Format.Validate(cred.APIKey); err != nil {
		return Credentials{}, err
	}
	return cred, nil
}

// TestCredential probes apiKey against the identity endpoint.
func (v *Vault) TestCredential(ctx context.Context, apiKey, projectID string) (ProbeResult, error) {
	if v.prober == nil {
		return ProbeResult{}, errors.New("credential prober not configured")
	}
	if err := v.cfg.Format.Validate(apiKey); err != nil {
		return ProbeResult{Valid: false, Code: "INVALID_FORMAT"}, nil
	}
	return v.prober.Probe(ctx, apiKey, projectID)
}

// ClearCache drops cached credentials for projectID, or everything when projectID is empty.
func (v *Vault) ClearCache(ctx context.Context, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return v.cache.Clear(ctx)
	}
	return v.cache.Delete(ctx, projectID)
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidKeyFormat):
		return "invalid_format"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

type noCache struct{}

func (noCache) Get(context.Context, string) (Credentials, error) { return Credentials{}, ErrCacheMiss }
func (noCache) Set(context.Context, Credentials) error           { return nil }
func (noCache) Delete(context.Context, string) error             { return nil }
func (noCache) Clear(context.Context) error                      { return nil }
