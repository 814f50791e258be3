package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
)

// DefaultIdentityEndpoint is the Identity Toolkit base URL.
const DefaultIdentityEndpoint = "https://identitytoolkit.googleapis.com"

// probeToken is never a valid id token, so a healthy key always gets INVALID_ID_TOKEN back.
const probeToken = "tenant-pool-probe"

// IdentityProber checks a browser key by calling accounts:lookup with a bogus id token.
type IdentityProber struct {
	Endpoint string
	Client   *http.Client
}

func NewIdentityProber(endpoint string, client *http.Client) *IdentityProber {
	if endpoint == "" {
		endpoint = DefaultIdentityEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &IdentityProber{Endpoint: strings.TrimRight(endpoint, "/"), Client: client}
}

type identityError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Reason string `json:"reason"`
		} `json:"details"`
		Errors []struct {
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

func (p *IdentityProber) Probe(ctx context.Context, apiKey, projectID string) (service.ProbeResult, error) {
	body, err := json.Marshal(map[string]string{"idToken": probeToken})
	if err != nil {
		return service.ProbeResult{}, err
	}

	endpoint := p.Endpoint + "/v1/accounts:lookup?key=" + url.QueryEscape(apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return service.ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if projectID != "" {
		req.Header.Set("X-Goog-User-Project", projectID)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return service.ProbeResult{}, fmt.Errorf("probe request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return service.ProbeResult{}, fmt.Errorf("read probe response: %w", err)
	}
	if resp.StatusCode < 300 {
		// A bogus token should never be accepted; treat success as a working key.
		return service.ProbeResult{Valid: true, Code: "OK"}, nil
	}

	var decoded identityError
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return service.ProbeResult{}, fmt.Errorf("decode probe response (status %d): %w", resp.StatusCode, err)
	}
	return classifyProbe(decoded, resp.StatusCode)
}

func classifyProbe(decoded identityError, status int) (service.ProbeResult, error) {
	signals := []string{decoded.Error.Message, decoded.Error.Status}
	for _, d := range decoded.Error.Details {
		signals = append(signals, d.Reason)
	}
	for _, e := range decoded.Error.Errors {
		signals = append(signals, e.Reason, e.Message)
	}
	joined := strings.Join(signals, " ")

	switch {
	case strings.Contains(joined, "API_KEY_HTTP_REFERRER_BLOCKED"):
		return service.ProbeResult{Valid: true, Restricted: true, Code: "API_KEY_HTTP_REFERRER_BLOCKED"}, nil
	case strings.Contains(joined, "API_KEY_INVALID"), strings.Contains(joined, "API key not valid"):
		return service.ProbeResult{Valid: false, Code: "API_KEY_INVALID"}, nil
	case strings.Contains(joined, "API_KEY_SERVICE_BLOCKED"):
		return service.ProbeResult{Valid: false, Code: "API_KEY_SERVICE_BLOCKED"}, nil
	case strings.Contains(joined, "PERMISSION_DENIED"):
		return service.ProbeResult{Valid: false, Code: "PERMISSION_DENIED"}, nil
	case strings.Contains(joined, "INVALID_ID_TOKEN"):
		return service.ProbeResult{Valid: true, Code: "INVALID_ID_TOKEN"}, nil
	case strings.Contains(joined, "USER_NOT_FOUND"):
		return service.ProbeResult{Valid: true, Code: "USER_NOT_FOUND"}, nil
	}
	return service.ProbeResult{}, fmt.Errorf("unexpected identity response (status %d): %s", status, strings.TrimSpace(decoded.Error.Message))
}

var _ service.Prober = (*IdentityProber)(nil)
