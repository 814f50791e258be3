package gcp

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/api/option"
)

// ErrNoSlotCredentials is returned when a project has no service-account key on disk.
var ErrNoSlotCredentials = errors.New("no service account credentials for project")

// SlotCredentials locates the service-account key each pool project was provisioned with.
// Files are named <projectId>.json inside Dir. With an empty Dir every call falls back to
// Application Default Credentials.
type SlotCredentials struct {
	Dir string
}

// ClientOptions returns the Google API client options that authenticate as projectID's own
// service account.
func (s SlotCredentials) ClientOptions(projectID string) ([]option.ClientOption, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("project id is required")
	}
	if strings.ContainsAny(projectID, `/\`) || strings.Contains(projectID, "..") {
		return nil, fmt.Errorf("invalid project id %q", projectID)
	}
	if s.Dir == "" {
		return nil, nil
	}

	path := filepath.Join(s.Dir, projectID+".json")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSlotCredentials, projectID)
		}
		return nil, fmt.Errorf("stat credentials for %s: %w", projectID, err)
	}

	return []option.ClientOption{option.WithCredentialsFile(path)}, nil
}
