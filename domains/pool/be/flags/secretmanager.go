package flags

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"

	"github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/gcp"
)

// DefaultSecretID is the secret each pool project keeps its flag in.
const DefaultSecretID = "tenant-pool-slot-flag"

// SecretManagerFlags stores the flag as the latest version of a secret inside the slot's
// own project, authenticated as that project's service account.
type SecretManagerFlags struct {
	credentials gcp.SlotCredentials
	options     []option.ClientOption
	secretID    string

	mu      sync.Mutex
	clients map[string]*secretmanager.Service
}

// NewSecretManagerFlags constructs the store. extra options are appended to every client.
func NewSecretManagerFlags(credentials gcp.SlotCredentials, secretID string, extra ...option.ClientOption) *SecretManagerFlags {
	if secretID == "" {
		secretID = DefaultSecretID
	}
	return &SecretManagerFlags{
		credentials: credentials,
		options:     extra,
		secretID:    secretID,
		clients:     make(map[string]*secretmanager.Service),
	}
}

func (s *SecretManagerFlags) client(ctx context.Context, projectID string) (*secretmanager.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.clients[projectID]; ok {
		return svc, nil
	}
	opts, err := s.credentials.ClientOptions(projectID)
	if err != nil {
		return nil, err
	}
	// The client outlives the request that created it.
	svc, err := secretmanager.NewService(context.WithoutCancel(ctx), append(opts, s.options...)...)
	if err != nil {
		return nil, fmt.Errorf("secret manager client for %s: %w", projectID, err)
	}
	s.clients[projectID] = svc
	return svc, nil
}

func (s *SecretManagerFlags) secretName(projectID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", projectID, s.secretID)
}

func (s *SecretManagerFlags) Read(ctx context.Context, projectID string) (service.Flag, error) {
	svc, err := s.client(ctx, projectID)
	if err != nil {
		return service.Flag{}, err
	}

	resp, err := svc.Projects.Secrets.Versions.Access(s.secretName(projectID) + "/versions/latest").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return service.Flag{}, fmt.Errorf("%w: %s", service.ErrFlagMissing, projectID)
		}
		return service.Flag{}, fmt.Errorf("access slot flag: %w", err)
	}
	if resp.Payload == nil {
		return service.Flag{}, fmt.Errorf("slot flag for %s has no payload", projectID)
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return service.Flag{}, fmt.Errorf("decode slot flag: %w", err)
	}
	return service.ParseFlag(string(raw))
}

// Write adds a new secret version, creating the secret on first use.
func (s *SecretManagerFlags) Write(ctx context.Context, projectID string, flag service.Flag) error {
	svc, err := s.client(ctx, projectID)
	if err != nil {
		return err
	}

	req := &secretmanager.AddSecretVersionRequest{
		Payload: &secretmanager.SecretPayload{Data: base64.StdEncoding.EncodeToString([]byte(flag.String()))},
	}
	_, err = svc.Projects.Secrets.AddVersion(s.secretName(projectID), req).Context(ctx).Do()
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("write slot flag: %w", err)
	}

	secret := &secretmanager.Secret{
		Replication: &secretmanager.Replication{Automatic: &secretmanager.Automatic{}},
		Labels:      map[string]string{"managed-by": "tenant-pool"},
	}
	if _, err := svc.Projects.Secrets.Create("projects/"+projectID, secret).SecretId(s.secretID).Context(ctx).Do(); err != nil {
		var gerr *googleapi.Error
		if !errors.As(err, &gerr) || gerr.Code != http.StatusConflict {
			return fmt.Errorf("create slot flag secret: %w", err)
		}
	}
	if _, err := svc.Projects.Secrets.AddVersion(s.secretName(projectID), req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write slot flag: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

var _ service.FlagStore = (*SecretManagerFlags)(nil)
