package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	"github.com/zenGate-Global/tenant-pool/contracts"
	lifecyclehandler "github.com/zenGate-Global/tenant-pool/domains/lifecycle/be/handler"
	platformauth "github.com/zenGate-Global/tenant-pool/platform/go/auth"
	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/tenant-pool/platform/go/middleware"
	"github.com/zenGate-Global/tenant-pool/platform/go/setups"
)

const component = "pool-api"

type config struct {
	setups.Config

	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10m"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:","`
}

// Validate also checks that synchronous teardown and credential resolution fit in a request.
func (c config) Validate() error {
	var errs error
	if err := c.Config.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if minimum := c.minRequestTimeout(); c.RequestTimeout < minimum {
		errs = multierror.Append(errs, fmt.Errorf("REQUEST_TIMEOUT must be at least %s, got %s", minimum, c.RequestTimeout))
	}
	return errs
}

// minRequestTimeout covers a teardown (concurrent stores, then metadata) and one credential resolution.
func (c config) minRequestTimeout() time.Duration {
	return max(2*c.TeardownStepTimeout, c.CredentialTimeout+c.CredentialStrategyLimit)
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: component,
		Level:     cfg.LogLevel,
		EnvKey:    cfg.EnvKey,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := setups.Build(ctx, component, cfg.Config, logger)
	if err != nil {
		logger.Fatal("wire services", zap.Error(err))
	}

	spec, err := contracts.Pool()
	if err != nil {
		logger.Fatal("load pool contract", zap.Error(err))
	}

	router := newRouter(routerDeps{
		Handler:        lifecyclehandler.New(app.Lifecycle, logger),
		Verify:         buildVerifier(ctx, cfg, logger),
		Spec:           spec,
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		Ready:          app.DB.Ping,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	// Background deployments keep running until drained or the shutdown deadline cancels them.
	if err := app.Close(shutdownCtx); err != nil {
		logger.Error("close services", zap.Error(err))
	}
}

type routerDeps struct {
	Handler        *lifecyclehandler.Handler
	Verify         platformauth.VerifyFunc
	Spec           *openapi3.T
	Logger         *zap.Logger
	RequestTimeout time.Duration
	CORSOrigins    []string
	Ready          func(ctx context.Context) error
}

func newRouter(deps routerDeps) http.Handler {
	rootRouter := chi.NewRouter()

	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		platformmiddleware.CORS(deps.CORSOrigins),
	)
	if deps.RequestTimeout > 0 {
		rootRouter.Use(chimw.Timeout(deps.RequestTimeout))
	}

	rootRouter.Use(platformlogging.RequestLogger(deps.Logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, deps.Logger).Warn("not ready", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", metrics.Handler())

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, deps.Spec, deps.Logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformauth.JWT(deps.Verify, nil))
	apiRouter.Use(platformauth.RequireRole(platformauth.RoleOperator))
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(newSpecValidator(deps.Logger, deps.Spec))
	deps.Handler.Routes(apiRouter)

	rootRouter.Mount("/api/v1", apiRouter)
	return rootRouter
}

// newSpecValidator builds oapi-codegen validator middleware for the embedded contract.
func newSpecValidator(logger *zap.Logger, spec *openapi3.T) func(http.Handler) http.Handler {
	logSecuritySchemes(logger, spec)
	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		SilenceServersWarning: true,
	})
}

func logSecuritySchemes(logger *zap.Logger, spec *openapi3.T) {
	names := make([]string, 0, len(spec.Components.SecuritySchemes))
	for name := range spec.Components.SecuritySchemes {
		names = append(names, name)
	}
	logger.Info("loaded security schemes", zap.String("contract", spec.Info.Title), zap.Strings("names", names))
}
