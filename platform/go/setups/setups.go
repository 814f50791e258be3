// Package setups loads the environment configuration shared by the API server and poolctl
// and wires the pool, credential, deployment and teardown services from it.
package setups

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	credcache "github.com/zenGate-Global/tenant-pool/domains/credentials/be/cache"
	credprovider "github.com/zenGate-Global/tenant-pool/domains/credentials/be/provider"
	credentials "github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
	deployprovider "github.com/zenGate-Global/tenant-pool/domains/deployments/be/provider"
	deployrepo "github.com/zenGate-Global/tenant-pool/domains/deployments/be/repo"
	deployments "github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
	lifecycle "github.com/zenGate-Global/tenant-pool/domains/lifecycle/be/service"
	poolflags "github.com/zenGate-Global/tenant-pool/domains/pool/be/flags"
	poolrepo "github.com/zenGate-Global/tenant-pool/domains/pool/be/repo"
	pool "github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	"github.com/zenGate-Global/tenant-pool/domains/teardown/be/backends"
	teardown "github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/gcp"
	"github.com/zenGate-Global/tenant-pool/platform/go/persistence"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
	"github.com/zenGate-Global/tenant-pool/platform/go/storage"
	"github.com/zenGate-Global/tenant-pool/platform/go/workpool"
)

// Config is read from the environment. Empty optional backends are left unwired.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	EnvKey   string `env:"ENV_KEY,required,notEmpty"`

	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBSchema    string `env:"DB_SCHEMA" envDefault:"pool"`
	// DBMaxConns caps the connection pool; 0 keeps the pgx default.
	DBMaxConns        int32         `env:"DB_MAX_CONNS"`
	DBMaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`

	AuthProvider string `env:"AUTH_PROVIDER" envDefault:"firebase"` // firebase | dev
	// FirebaseConfig is the control-plane service-account file; ADC when empty.
	FirebaseConfig string `env:"FIREBASE_CONFIG"`

	CredentialsDir          string        `env:"POOL_CREDENTIALS_DIR"`
	FlagSecretID            string        `env:"SLOT_FLAG_SECRET" envDefault:"tenant-pool-slot-flag"`
	RedisURL                string        `env:"REDIS_URL"`
	CredentialCacheTTL      time.Duration `env:"CREDENTIAL_CACHE_TTL" envDefault:"1h"`
	CredentialTimeout       time.Duration `env:"CREDENTIAL_TIMEOUT" envDefault:"5m"`
	CredentialStrategyLimit time.Duration `env:"CREDENTIAL_STRATEGY_TIMEOUT" envDefault:"90s"`
	IdentityEndpoint        string        `env:"IDENTITY_TOOLKIT_ENDPOINT"`

	AllocationTimeout time.Duration `env:"ALLOCATION_TIMEOUT" envDefault:"10s"`

	VercelEndpoint       string        `env:"VERCEL_ENDPOINT"`
	VercelToken          string        `env:"VERCEL_TOKEN"`
	VercelTeamID         string        `env:"VERCEL_TEAM_ID"`
	VercelRequestTimeout time.Duration `env:"VERCEL_REQUEST_TIMEOUT" envDefault:"30s"`
	TemplateRepo         string        `env:"TEMPLATE_REPO"`
	TemplateRef          string        `env:"TEMPLATE_REF" envDefault:"main"`
	ProjectPrefix        string        `env:"HOSTING_PROJECT_PREFIX" envDefault:"tenant-"`
	CustomDomainSuffixes []string      `env:"CUSTOM_DOMAIN_SUFFIXES" envSeparator:","`
	DeployFlowTimeout    time.Duration `env:"DEPLOY_FLOW_TIMEOUT" envDefault:"30m"`
	DeployBuildTimeout   time.Duration `env:"DEPLOY_BUILD_TIMEOUT" envDefault:"20m"`
	DeployPollInterval   time.Duration `env:"DEPLOY_POLL_INTERVAL" envDefault:"10s"`

	TeardownStepTimeout time.Duration `env:"TEARDOWN_STEP_TIMEOUT" envDefault:"2m"`
	WeaviateURL         string        `env:"WEAVIATE_URL"`
	WeaviateAPIKey      string        `env:"WEAVIATE_API_KEY"`
	WeaviateClass       string        `env:"WEAVIATE_CLASS" envDefault:"DocumentChunk"`
	AuraEndpoint        string        `env:"AURA_ENDPOINT"`
	AuraClientID        string        `env:"AURA_CLIENT_ID"`
	AuraClientSecret    string        `env:"AURA_CLIENT_SECRET"`
	StorageBucket       string        `env:"STORAGE_BUCKET"`

	Workers int `env:"WORKERS" envDefault:"8"`
}

// LoadConfig parses the environment into Config.
func LoadConfig() (Config, error) {
	return LoadConfigWith(nil)
}

// LoadConfigWith parses the environment with overrides taking precedence. poolctl passes
// its flags here so a flag can stand in for a required variable.
func LoadConfigWith(overrides map[string]string) (Config, error) {
	environment := env.ToMap(os.Environ())
	for k, v := range overrides {
		environment[k] = v
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	var errs error
	switch c.AuthProvider {
	case "firebase", "dev":
	default:
		errs = multierror.Append(errs, fmt.Errorf("AUTH_PROVIDER must be firebase or dev, got %q", c.AuthProvider))
	}
	if c.Workers <= 0 {
		errs = multierror.Append(errs, errors.New("WORKERS must be positive"))
	}
	if (c.AuraClientID == "") != (c.AuraClientSecret == "") {
		errs = multierror.Append(errs, errors.New("AURA_CLIENT_ID and AURA_CLIENT_SECRET must be set together"))
	}
	if c.DBMaxConns < 0 {
		errs = multierror.Append(errs, errors.New("DB_MAX_CONNS must not be negative"))
	}
	if strings.TrimSpace(c.DBSchema) == "" {
		errs = multierror.Append(errs, errors.New("DB_SCHEMA must not be empty"))
	}
	return errs
}

// FirebaseConfigPath returns the control-plane credentials path, or nil for ADC.
func (c Config) FirebaseConfigPath() *string {
	if strings.TrimSpace(c.FirebaseConfig) == "" {
		return nil
	}
	path := c.FirebaseConfig
	return &path
}

// SlotCredentials locates the per-project service-account keys.
func (c Config) SlotCredentials() gcp.SlotCredentials {
	return gcp.SlotCredentials{Dir: c.CredentialsDir}
}

// App holds the wired services. Close releases everything Build opened.
type App struct {
	Config    Config
	Logger    *zap.Logger
	DB        *pgxpool.Pool
	Registry  *pool.Registry
	Allocator *pool.Allocator
	Vault     *credentials.Vault
	Driver    *deployments.Driver
	Teardown  *teardown.Coordinator
	Workers   *workpool.Pool
	Lifecycle *lifecycle.Service

	closers []func(ctx context.Context) error
}

// Build opens the database pool and constructs every service. Vercel, Weaviate, Aura and
// GCS are wired only when configured; a deployment without a Vercel token fails at submit
// and teardown steps without a backend are reported as failed.
// The component name is reported to Postgres as the application name.
func Build(ctx context.Context, component string, cfg Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger}

	db, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: component,
		MaxConns:        cfg.DBMaxConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("init postgres pool: %w", err)
	}
	app.DB = db
	app.onClose(func(context.Context) error {
		persistence.ClosePool(db)
		return nil
	})

	if err := app.build(ctx); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	clk := retry.SystemClock()

	slotStore, err := persistence.NewSlotStore(ctx, a.DB, cfg.DBSchema)
	if err != nil {
		return fmt.Errorf("init slot store: %w", err)
	}
	flags := poolflags.NewSecretManagerFlags(cfg.SlotCredentials(), cfg.FlagSecretID)
	a.Registry = pool.NewRegistry(poolrepo.NewPostgresRepository(slotStore), flags, clk, a.Logger.Named("pool"))
	a.Allocator = pool.NewAllocator(a.Registry, cfg.AllocationTimeout, a.Logger.Named("allocator"))

	vault, err := a.buildVault(clk)
	if err != nil {
		return err
	}
	a.Vault = vault

	deploymentStore, err := persistence.NewDeploymentStore(ctx, a.DB, cfg.DBSchema)
	if err != nil {
		return fmt.Errorf("init deployment store: %w", err)
	}
	a.Driver = deployments.NewDriver(deployments.Deps{
		Hosting:     deployprovider.NewVercel(cfg.VercelEndpoint, cfg.VercelToken, cfg.VercelTeamID, cfg.VercelRequestTimeout),
		Store:       deployrepo.NewPostgresRepository(deploymentStore),
		Credentials: a.Vault,
		Slots:       a.Registry,
		Classifier:  deployments.DefaultClassifierFactory(cfg.CustomDomainSuffixes),
		Clock:       clk,
		Logger:      a.Logger.Named("deployments"),
	}, deployments.Config{
		TemplateRepo:         cfg.TemplateRepo,
		TemplateRef:          cfg.TemplateRef,
		ProjectPrefix:        cfg.ProjectPrefix,
		PollInterval:         cfg.DeployPollInterval,
		BuildTimeout:         cfg.DeployBuildTimeout,
		FlowTimeout:          cfg.DeployFlowTimeout,
		CustomDomainSuffixes: cfg.CustomDomainSuffixes,
	})

	coordinator, err := a.buildTeardown(ctx)
	if err != nil {
		return err
	}
	a.Teardown = coordinator

	a.Workers = workpool.New(cfg.Workers, a.Logger.Named("workers"))
	a.onClose(a.Workers.Shutdown)

	a.Lifecycle = lifecycle.New(lifecycle.Deps{
		Allocator: a.Allocator,
		Registry:  a.Registry,
		Vault:     a.Vault,
		Deployer:  a.Driver,
		Teardown:  a.Teardown,
		Runner:    a.Workers,
		Clock:     clk,
		Logger:    a.Logger.Named("lifecycle"),
	})
	return nil
}

func (a *App) buildVault(clk retry.Clock) (*credentials.Vault, error) {
	cfg := a.Config
	clients := credprovider.ClientFactory{Credentials: cfg.SlotCredentials()}
	logger := a.Logger.Named("credentials")

	var cache credentials.Cache
	if cfg.RedisURL != "" {
		redisCache, err := credcache.NewRedisCache(cfg.RedisURL, cfg.CredentialCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init redis credential cache: %w", err)
		}
		a.onClose(func(context.Context) error { return redisCache.Close() })
		cache = redisCache
	} else {
		cache = credcache.NewMemoryCache(cfg.CredentialCacheTTL, clk)
	}

	return credentials.New(credentials.Deps{
		Strategies: []credentials.Strategy{
			credprovider.NewWebAppConfigStrategy(clients, clk, credprovider.DefaultWebAppPolicy(), logger),
			credprovider.NewProjectMetadataStrategy(clients, clk, credprovider.DefaultShortPolicy(), logger),
			credprovider.NewScopedKeyStrategy(clients, clk, credprovider.DefaultShortPolicy(), logger),
		},
		Cache:  cache,
		Prober: credprovider.NewIdentityProber(cfg.IdentityEndpoint, nil),
		Clock:  clk,
		Logger: logger,
	}, credentials.Config{
		StrategyTimeout: cfg.CredentialStrategyLimit,
		Timeouts: map[string]time.Duration{
			credprovider.StrategyWebAppConfig: cfg.CredentialTimeout,
		},
	}), nil
}

func (a *App) buildTeardown(ctx context.Context) (*teardown.Coordinator, error) {
	cfg := a.Config
	logger := a.Logger.Named("teardown")

	chatbotStore, err := persistence.NewChatbotStore(ctx, a.DB, cfg.DBSchema)
	if err != nil {
		return nil, fmt.Errorf("init chatbot store: %w", err)
	}
	deps := teardown.Deps{
		Metadata: backends.NewPostgresMetadata(chatbotStore),
		Slots:    a.Registry,
		Logger:   logger,
	}

	if cfg.WeaviateURL != "" {
		vectors, err := backends.NewVectors(backends.WeaviateConfig{
			URL:    cfg.WeaviateURL,
			APIKey: cfg.WeaviateAPIKey,
			Class:  cfg.WeaviateClass,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init weaviate: %w", err)
		}
		deps.Vectors = vectors
	} else {
		logger.Warn("WEAVIATE_URL not set; vector deletion will fail")
	}

	if cfg.StorageBucket != "" {
		gcsClient, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose(func(context.Context) error { return gcsClient.Close() })
		remover := storage.NewPrefixRemover(gcsClient, cfg.StorageBucket, logger)
		deps.Objects = backends.NewObjectStorage(remover, cfg.EnvKey)
	} else {
		logger.Warn("STORAGE_BUCKET not set; object deletion will fail")
	}

	if cfg.AuraClientID != "" {
		deps.Graph = backends.NewGraph(ctx, backends.AuraConfig{
			Endpoint:     cfg.AuraEndpoint,
			ClientID:     cfg.AuraClientID,
			ClientSecret: cfg.AuraClientSecret,
		})
	} else {
		logger.Warn("AURA_CLIENT_ID not set; graph deletion will fail")
	}

	return teardown.NewCoordinator(deps, teardown.Config{StepTimeout: cfg.TeardownStepTimeout}), nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close drains background deployments and releases connections, newest first.
func (a *App) Close(ctx context.Context) error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	a.closers = nil
	return errs
}
