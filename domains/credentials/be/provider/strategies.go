package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	apikeys "google.golang.org/api/apikeys/v2"
	fbmgmt "google.golang.org/api/firebase/v1beta1"

	"github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
	platformlogging "github.com/zenGate-Global/tenant-pool/platform/go/logging"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
)

const (
	StrategyWebAppConfig    = "web_app_config"
	StrategyProjectMetadata = "project_metadata"
	StrategyScopedKey       = "scoped_key"
)

// DefaultWebAppPolicy covers the minutes a fresh project needs before its web app config appears.
func DefaultWebAppPolicy() retry.Policy {
	return retry.Policy{Initial: 10 * time.Second, Multiplier: 1.5, Max: time.Minute, Attempts: 8}
}

// DefaultShortPolicy is used by the fallback strategies.
func DefaultShortPolicy() retry.Policy {
	return retry.Policy{Initial: 5 * time.Second, Multiplier: 2, Max: 20 * time.Second, Attempts: 3}
}

func projectName(projectID string) string { return "projects/" + projectID }

func globalKeysParent(projectID string) string {
	return projectName(projectID) + "/locations/global"
}

func retryLogger(logger *zap.Logger, strategy string) retry.Notify {
	return func(err error, wait time.Duration) {
		logger.Debug("credential strategy retrying",
			platformlogging.Strategy(strategy), zap.Duration("wait", wait), zap.Error(err))
	}
}

// activeWebApp picks the first ACTIVE web app, ordered by app id so repeated calls agree.
func activeWebApp(apps []*fbmgmt.WebApp) *fbmgmt.WebApp {
	sorted := make([]*fbmgmt.WebApp, 0, len(apps))
	for _, app := range apps {
		if app == nil {
			continue
		}
		if app.State != "" && app.State != "ACTIVE" {
			continue
		}
		sorted = append(sorted, app)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AppId < sorted[j].AppId })
	if len(sorted) == 0 {
		return nil
	}
	return sorted[0]
}

// WebAppConfigStrategy reads the config Firebase generates for the project's web app.
type WebAppConfigStrategy struct {
	clients ClientFactory
	clock   retry.Clock
	policy  retry.Policy
	logger  *zap.Logger
}

func NewWebAppConfigStrategy(clients ClientFactory, clock retry.Clock, policy retry.Policy, logger *zap.Logger) *WebAppConfigStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Attempts == 0 {
		policy = DefaultWebAppPolicy()
	}
	return &WebAppConfigStrategy{clients: clients, clock: clock, policy: policy, logger: logger}
}

func (s *WebAppConfigStrategy) Name() string { return StrategyWebAppConfig }

func (s *WebAppConfigStrategy) Fetch(ctx context.Context, projectID string) (service.Credentials, error) {
	svc, err := s.clients.Firebase(ctx, projectID)
	if err != nil {
		return service.Credentials{}, err
	}

	var cred service.Credentials
	err = retry.Do(ctx, s.clock, s.policy, func(ctx context.Context) error {
		list, err := svc.Projects.WebApps.List(projectName(projectID)).Context(ctx).Do()
		if err != nil {
			return classify(fmt.Errorf("list web apps: %w", err), true)
		}
		app := activeWebApp(list.Apps)
		if app == nil {
			return fmt.Errorf("%w: no active web app", errNotReady)
		}

		cfg, err := svc.Projects.WebApps.GetConfig(app.Name + "/config").Context(ctx).Do()
		if err != nil {
			return classify(fmt.Errorf("get web app config: %w", err), true)
		}
		if strings.TrimSpace(cfg.ApiKey) == "" {
			return fmt.Errorf("%w: web app config has no api key", errNotReady)
		}

		cred = service.Credentials{
			APIKey:            cfg.ApiKey,
			AuthDomain:        cfg.AuthDomain,
			AppID:             cfg.AppId,
			StorageBucket:     cfg.StorageBucket,
			MessagingSenderID: cfg.MessagingSenderId,
			MeasurementID:     cfg.MeasurementId,
		}
		if cred.AuthDomain == "" {
			cred.AuthDomain = projectID + ".firebaseapp.com"
		}
		return nil
	}, retryLogger(s.logger, StrategyWebAppConfig))
	if err != nil {
		return service.Credentials{}, err
	}
	return cred, nil
}

// ProjectMetadataStrategy assembles the config from project resources and the project's API keys.
type ProjectMetadataStrategy struct {
	clients ClientFactory
	clock   retry.Clock
	policy  retry.Policy
	logger  *zap.Logger
}

func NewProjectMetadataStrategy(clients ClientFactory, clock retry.Clock, policy retry.Policy, logger *zap.Logger) *ProjectMetadataStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Attempts == 0 {
		policy = DefaultShortPolicy()
	}
	return &ProjectMetadataStrategy{clients: clients, clock: clock, policy: policy, logger: logger}
}

func (s *ProjectMetadataStrategy) Name() string { return StrategyProjectMetadata }

func (s *ProjectMetadataStrategy) Fetch(ctx context.Context, projectID string) (service.Credentials, error) {
	fb, err := s.clients.Firebase(ctx, projectID)
	if err != nil {
		return service.Credentials{}, err
	}
	keys, err := s.clients.APIKeys(ctx, projectID)
	if err != nil {
		return service.Credentials{}, err
	}

	var cred service.Credentials
	err = retry.Do(ctx, s.clock, s.policy, func(ctx context.Context) error {
		project, err := fb.Projects.Get(projectName(projectID)).Context(ctx).Do()
		if err != nil {
			return classify(fmt.Errorf("get project: %w", err), false)
		}

		cred = service.Credentials{AuthDomain: projectID + ".firebaseapp.com"}
		if project.Resources != nil {
			cred.StorageBucket = project.Resources.StorageBucket
		}
		if project.ProjectNumber != 0 {
			cred.MessagingSenderID = fmt.Sprintf("%d", project.ProjectNumber)
		}

		// The web app is optional here; it only contributes the app id and a preferred key.
		var preferredKeyID string
		if apps, err := fb.Projects.WebApps.List(projectName(projectID)).Context(ctx).Do(); err == nil {
			if app := activeWebApp(apps.Apps); app != nil {
				cred.AppID = app.AppId
				preferredKeyID = app.ApiKeyId
			}
		}

		list, err := keys.Projects.Locations.Keys.List(globalKeysParent(projectID)).Context(ctx).Do()
		if err != nil {
			return classify(fmt.Errorf("list api keys: %w", err), false)
		}
		key := pickKey(list.Keys, preferredKeyID)
		if key == nil {
			return retry.Permanent(fmt.Errorf("project %s has no api keys", projectID))
		}

		keyString := key.KeyString
		if keyString == "" {
			resp, err := keys.Projects.Locations.Keys.GetKeyString(key.Name).Context(ctx).Do()
			if err != nil {
				return classify(fmt.Errorf("get key string: %w", err), false)
			}
			keyString = resp.KeyString
		}
		cred.APIKey = keyString
		return nil
	}, retryLogger(s.logger, StrategyProjectMetadata))
	if err != nil {
		return service.Credentials{}, err
	}
	return cred, nil
}

// pickKey prefers the key the web app was created with, then any live key by name.
func pickKey(keys []*apikeys.V2Key, preferredUID string) *apikeys.V2Key {
	live := make([]*apikeys.V2Key, 0, len(keys))
	for _, k := range keys {
		if k == nil || k.DeleteTime != "" {
			continue
		}
		if preferredUID != "" && k.Uid == preferredUID {
			return k
		}
		live = append(live, k)
	}
	if len(live) == 0 {
		return nil
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Name < live[j].Name })
	return live[0]
}

// ScopedKeyStrategy creates a dedicated browser key restricted to the tenant's origins.
type ScopedKeyStrategy struct {
	clients ClientFactory
	clock   retry.Clock
	policy  retry.Policy
	poll    retry.Policy
	logger  *zap.Logger

	// KeyID names the created key; reruns find it again instead of creating duplicates.
	KeyID string
	// HostingReferrers are allowed next to the project's own Firebase origins.
	HostingReferrers []string
}

// ScopedKeyTargets are the only services the created key may call.
var ScopedKeyTargets = []string{
	"identitytoolkit.googleapis.com",
	"securetoken.googleapis.com",
	"firestore.googleapis.com",
}

func NewScopedKeyStrategy(clients ClientFactory, clock retry.Clock, policy retry.Policy, logger *zap.Logger) *ScopedKeyStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Attempts == 0 {
		policy = DefaultShortPolicy()
	}
	return &ScopedKeyStrategy{
		clients:          clients,
		clock:            clock,
		policy:           policy,
		poll:             retry.Fixed(2*time.Second, 30),
		logger:           logger,
		KeyID:            "tenant-pool-browser",
		HostingReferrers: []string{"*.vercel.app/*"},
	}
}

func (s *ScopedKeyStrategy) Name() string { return StrategyScopedKey }

// Referrers returns the allow-list written onto the key for projectID.
func (s *ScopedKeyStrategy) Referrers(projectID string) []string {
	out := []string{
		"https://" + projectID + ".firebaseapp.com/*",
		"https://" + projectID + ".web.app/*",
	}
	return append(out, s.HostingReferrers...)
}

func (s *ScopedKeyStrategy) Fetch(ctx context.Context, projectID string) (service.Credentials, error) {
	keys, err := s.clients.APIKeys(ctx, projectID)
	if err != nil {
		return service.Credentials{}, err
	}

	targets := make([]*apikeys.V2ApiTarget, 0, len(ScopedKeyTargets))
	for _, t := range ScopedKeyTargets {
		targets = append(targets, &apikeys.V2ApiTarget{Service: t})
	}
	spec := &apikeys.V2Key{
		DisplayName: "tenant browser key",
		Restrictions: &apikeys.V2Restrictions{
			BrowserKeyRestrictions: &apikeys.V2BrowserKeyRestrictions{AllowedReferrers: s.Referrers(projectID)},
			ApiTargets:             targets,
		},
	}
	parent := globalKeysParent(projectID)
	notify := retryLogger(s.logger, StrategyScopedKey)

	var keyString string
	err = retry.Do(ctx, s.clock, s.policy, func(ctx context.Context) error {
		op, err := keys.Projects.Locations.Keys.Create(parent, spec).KeyId(s.KeyID).Context(ctx).Do()
		if err != nil {
			if isStatus(err, http.StatusConflict) {
				existing, err := keys.Projects.Locations.Keys.GetKeyString(parent + "/keys/" + s.KeyID).Context(ctx).Do()
				if err != nil {
					return classify(fmt.Errorf("get existing key string: %w", err), false)
				}
				keyString = existing.KeyString
				return nil
			}
			return classify(fmt.Errorf("create key: %w", err), false)
		}

		created, err := s.awaitOperation(ctx, keys, op, parent+"/keys/"+s.KeyID, notify)
		if err != nil {
			if errors.Is(err, errOperationPending) {
				return err
			}
			return retry.Permanent(err)
		}
		keyString = created.KeyString
		if keyString == "" {
			resp, err := keys.Projects.Locations.Keys.GetKeyString(created.Name).Context(ctx).Do()
			if err != nil {
				return classify(fmt.Errorf("get key string: %w", err), false)
			}
			keyString = resp.KeyString
		}
		return nil
	}, notify)
	if err != nil {
		return service.Credentials{}, err
	}

	return service.Credentials{APIKey: keyString, AuthDomain: projectID + ".firebaseapp.com"}, nil
}

var errOperationPending = errors.New("operation still running")

func (s *ScopedKeyStrategy) awaitOperation(ctx context.Context, keys *apikeys.Service, op *apikeys.Operation, keyName string, notify retry.Notify) (*apikeys.V2Key, error) {
	current := op
	err := retry.Do(ctx, s.clock, s.poll, func(ctx context.Context) error {
		if !current.Done {
			next, err := keys.Operations.Get(current.Name).Context(ctx).Do()
			if err != nil {
				return classify(fmt.Errorf("poll operation: %w", err), false)
			}
			current = next
		}
		if !current.Done {
			return errOperationPending
		}
		return nil
	}, notify)
	if err != nil {
		return nil, err
	}

	if current.Error != nil {
		return nil, fmt.Errorf("create key failed: %s (code %d)", current.Error.Message, current.Error.Code)
	}
	var key apikeys.V2Key
	if len(current.Response) > 0 {
		if err := json.Unmarshal(current.Response, &key); err != nil {
			return nil, fmt.Errorf("decode created key: %w", err)
		}
	}
	if key.Name == "" {
		key.Name = keyName
	}
	return &key, nil
}

var (
	_ service.Strategy = (*WebAppConfigStrategy)(nil)
	_ service.Strategy = (*ProjectMetadataStrategy)(nil)
	_ service.Strategy = (*ScopedKeyStrategy)(nil)
)
