package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	apikeys "google.golang.org/api/apikeys/v2"
	fbmgmt "google.golang.org/api/firebase/v1beta1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/zenGate-Global/tenant-pool/platform/go/gcp"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
)

// ClientFactory builds Google API clients that act as a pool project's own service account.
type ClientFactory struct {
	Credentials gcp.SlotCredentials
	// Options are appended to every client (endpoints and transports in tests).
	Options []option.ClientOption
}

func (f ClientFactory) options(projectID string) ([]option.ClientOption, error) {
	opts, err := f.Credentials.ClientOptions(projectID)
	if err != nil {
		return nil, err
	}
	return append(opts, f.Options...), nil
}

// Firebase returns a Firebase Management client for projectID.
func (f ClientFactory) Firebase(ctx context.Context, projectID string) (*fbmgmt.Service, error) {
	opts, err := f.options(projectID)
	if err != nil {
		return nil, err
	}
	svc, err := fbmgmt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase management client: %w", err)
	}
	return svc, nil
}

// APIKeys returns an API Keys client for projectID.
func (f ClientFactory) APIKeys(ctx context.Context, projectID string) (*apikeys.Service, error) {
	opts, err := f.options(projectID)
	if err != nil {
		return nil, err
	}
	svc, err := apikeys.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("api keys client: %w", err)
	}
	return svc, nil
}

// errNotReady marks a resource the provisioning APIs have not propagated yet.
var errNotReady = errors.New("resource not ready")

// classify wraps err with retry.Permanent unless it is worth another attempt.
// notFoundTransient is set where a freshly created project may still answer 404.
func classify(err error, notFoundTransient bool) error {
	if err == nil {
		return nil
	}
	if isTransient(err, notFoundTransient) {
		return err
	}
	return retry.Permanent(err)
}

func isTransient(err error, notFoundTransient bool) bool {
	if errors.Is(err, errNotReady) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// retry.Do stops on its own once the context is done.
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return true
		case gerr.Code >= 500:
			return true
		case gerr.Code == http.StatusNotFound && notFoundTransient:
			return true
		}
		return strings.Contains(strings.ToLower(gerr.Message), "not yet")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
