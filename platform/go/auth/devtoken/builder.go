// Package devtoken mints unsigned operator tokens for AUTH_PROVIDER=dev.
package devtoken

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Params are the claims of an operator token. Nothing is read from the environment.
type Params struct {
	ProjectID string        // control-plane Firebase project; used for aud and iss
	UserID    string        // uid/sub (required)
	Email     string        // optional for service accounts
	Name      string        // display name
	IsAdmin   bool          // passes every role check
	Roles     []string      // e.g. pool-operator
	ExpiresIn time.Duration // default 1h
}

// BuildUnsignedOperatorToken returns a JWT with alg "none" and no signature. The payload has
// the Firebase ID token shape so the dev verifier and the default extractor accept it.
func BuildUnsignedOperatorToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return "", errors.New("projectID is required")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}
	if !p.IsAdmin && len(p.Roles) == 0 {
		return "", errors.New("a role or admin is required; the API rejects tokens without one")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	expiresIn := p.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}

	payload := map[string]interface{}{
		"iss":       fmt.Sprintf("https://securetoken.google.com/%s", p.ProjectID),
		"aud":       p.ProjectID,
		"auth_time": now.Unix(),
		"iat":       now.Unix(),
		"exp":       now.Add(expiresIn).Unix(),
		"uid":       p.UserID,
		"sub":       p.UserID,
		"isAdmin":   p.IsAdmin,
	}
	if p.Email != "" {
		payload["email"] = p.Email
		payload["email_verified"] = true
	}
	if p.Name != "" {
		payload["name"] = p.Name
	}
	if len(p.Roles) > 0 {
		payload["roles"] = p.Roles
	}

	headerSegment, err := encodeSegment(map[string]interface{}{"alg": "none", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payloadSegment, err := encodeSegment(payload)
	if err != nil {
		return "", err
	}

	return headerSegment + "." + payloadSegment + ".", nil
}

func encodeSegment(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
