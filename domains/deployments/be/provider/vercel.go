package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zenGate-Global/tenant-pool/domains/deployments/be/service"
)

// DefaultVercelEndpoint is the public REST API.
const DefaultVercelEndpoint = "https://api.vercel.com"

// ErrProvider is matched by every *APIError.
var ErrProvider = errors.New("hosting provider error")

// APIError is a non-2xx answer from the provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vercel: status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("vercel: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool { return target == ErrProvider }

// Temporary reports whether the same request may succeed later: rate limits and 5xx.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// ProviderMessage is the provider's own text, kept for operators.
func (e *APIError) ProviderMessage() string { return e.Message }

// Vercel implements service.Hosting on the Vercel REST API.
type Vercel struct {
	endpoint string
	token    string
	teamID   string
	client   *http.Client
}

// NewVercel creates a client. An empty endpoint targets the public API.
func NewVercel(endpoint, token, teamID string, timeout time.Duration) *Vercel {
	if endpoint == "" {
		endpoint = DefaultVercelEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Vercel{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		teamID:   teamID,
		client:   &http.Client{Timeout: timeout},
	}
}

type envEntry struct {
	Key    string   `json:"key"`
	Value  string   `json:"value"`
	Type   string   `json:"type"`
	Target []string `json:"target"`
}

func (v *Vercel) UpsertEnv(ctx context.Context, project string, vars []service.EnvVar) error {
	if len(vars) == 0 {
		return nil
	}
	entries := make([]envEntry, 0, len(vars))
	for _, ev := range vars {
		kind := "plain"
		if ev.Secret {
			kind = "encrypted"
		}
		entries = append(entries, envEntry{
			Key:    ev.Key,
			Value:  ev.Value,
			Type:   kind,
			Target: []string{"production", "preview"},
		})
	}

	path := "/v10/projects/" + url.PathEscape(project) + "/env"
	return v.do(ctx, http.MethodPost, path, url.Values{"upsert": {"true"}}, entries, nil)
}

type gitSource struct {
	Type string `json:"type"`
	Org  string `json:"org"`
	Repo string `json:"repo"`
	Ref  string `json:"ref"`
}

type createDeploymentRequest struct {
	Name      string            `json:"name"`
	Project   string            `json:"project"`
	Target    string            `json:"target"`
	GitSource gitSource         `json:"gitSource"`
	Meta      map[string]string `json:"meta,omitempty"`
}

type deploymentResponse struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	ReadyState   string `json:"readyState"`
	ErrorMessage string `json:"errorMessage"`
}

func (d deploymentResponse) build() service.Build {
	return service.Build{ID: d.ID, URL: d.URL, ReadyState: d.ReadyState, ErrorMessage: d.ErrorMessage}
}

// CreateDeployment submits a production build of TemplateRepo ("org/repo") at TemplateRef.
func (v *Vercel) CreateDeployment(ctx context.Context, req service.CreateRequest) (service.Build, error) {
	org, repo, ok := strings.Cut(req.TemplateRepo, "/")
	if !ok || org == "" || repo == "" {
		return service.Build{}, fmt.Errorf("template repo %q must look like org/repo", req.TemplateRepo)
	}

	body := createDeploymentRequest{
		Name:    req.Project,
		Project: req.Project,
		Target:  "production",
		GitSource: gitSource{
			Type: "github",
			Org:  org,
			Repo: repo,
			Ref:  req.TemplateRef,
		},
		Meta: req.Meta,
	}

	var resp deploymentResponse
	if err := v.do(ctx, http.MethodPost, "/v13/deployments", nil, body, &resp); err != nil {
		return service.Build{}, err
	}
	return resp.build(), nil
}

func (v *Vercel) GetDeployment(ctx context.Context, id string) (service.Build, error) {
	var resp deploymentResponse
	if err := v.do(ctx, http.MethodGet, "/v13/deployments/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return service.Build{}, err
	}
	return resp.build(), nil
}

func (v *Vercel) Promote(ctx context.Context, project, deploymentID string) error {
	path := "/v10/projects/" + url.PathEscape(project) + "/promote/" + url.PathEscape(deploymentID)
	return v.do(ctx, http.MethodPost, path, nil, nil, nil)
}

type aliasesResponse struct {
	Aliases []struct {
		Alias string `json:"alias"`
	} `json:"aliases"`
	Pagination struct {
		Next *int64 `json:"next"`
	} `json:"pagination"`
}

// ListAliases returns every alias host assigned to the project, following pagination.
func (v *Vercel) ListAliases(ctx context.Context, project string) ([]string, error) {
	var out []string
	query := url.Values{"projectId": {project}, "limit": {"100"}}
	for {
		var resp aliasesResponse
		if err := v.do(ctx, http.MethodGet, "/v4/aliases", query, nil, &resp); err != nil {
			return nil, err
		}
		for _, a := range resp.Aliases {
			out = append(out, a.Alias)
		}
		if resp.Pagination.Next == nil || len(resp.Aliases) == 0 {
			return out, nil
		}
		query.Set("until", fmt.Sprint(*resp.Pagination.Next))
	}
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (v *Vercel) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if query == nil {
		query = url.Values{}
	}
	if v.teamID != "" {
		query.Set("teamId", v.teamID)
	}
	u := v.endpoint + path
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("vercel %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
			apiErr.Code = parsed.Error.Code
			apiErr.Message = parsed.Error.Message
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

var _ service.Hosting = (*Vercel)(nil)
