package backends

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/zenGate-Global/tenant-pool/domains/teardown/be/service"
)

// DefaultAuraEndpoint is the Aura admin API.
const DefaultAuraEndpoint = "https://api.neo4j.io"

// AuraConfig holds the client credentials of an Aura API key.
type AuraConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
}

// Graph deletes Neo4j Aura instances through the admin API.
type Graph struct {
	endpoint string
	client   *http.Client
}

// NewGraph builds a client that fetches and refreshes its bearer token itself.
func NewGraph(ctx context.Context, cfg AuraConfig) *Graph {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultAuraEndpoint
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     endpoint + "/oauth/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return &Graph{endpoint: endpoint, client: cc.Client(ctx)}
}

// DeleteInstance requests deletion. 404 means it is already gone.
func (g *Graph) DeleteInstance(ctx context.Context, instanceID string) error {
	u := g.endpoint + "/v1/instances/" + url.PathEscape(instanceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("aura delete %s: %w", instanceID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("aura delete %s: status %d: %s", instanceID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

var _ service.GraphStore = (*Graph)(nil)
