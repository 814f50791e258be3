package devtoken

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	platformauth "github.com/zenGate-Global/tenant-pool/platform/go/auth"
)

func TestBuildUnsignedOperatorToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedOperatorToken(Params{
		ProjectID: "pool-control",
		UserID:    "op-123",
		Email:     "ops@example.com",
		Roles:     []string{platformauth.RoleOperator},
		ExpiresIn: 30 * time.Minute,
	}, now)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	require.Empty(t, parts[2])

	header := decodeSegment(t, parts[0])
	require.Equal(t, "none", header["alg"])

	payload := decodeSegment(t, parts[1])
	require.Equal(t, "https://securetoken.google.com/pool-control", payload["iss"])
	require.Equal(t, "pool-control", payload["aud"])
	require.Equal(t, float64(now.Add(30*time.Minute).Unix()), payload["exp"])
	require.Equal(t, []interface{}{"pool-operator"}, payload["roles"])
}

func TestTokenPassesDevVerifier(t *testing.T) {
	token, err := BuildUnsignedOperatorToken(Params{ProjectID: "pool-control", UserID: "ci-bot", IsAdmin: true}, time.Time{})
	require.NoError(t, err)

	claims, err := platformauth.UnsignedTokenVerifier()(context.Background(), token)
	require.NoError(t, err)
	creds, err := platformauth.DefaultCredentialExtractor(claims)
	require.NoError(t, err)
	require.Equal(t, "ci-bot", creds.Id)
	require.True(t, creds.HasRole(platformauth.RoleAdmin))
}

func TestBuildRequiresIdentityAndRole(t *testing.T) {
	_, err := BuildUnsignedOperatorToken(Params{UserID: "op"}, time.Time{})
	require.Error(t, err)
	_, err = BuildUnsignedOperatorToken(Params{ProjectID: "p", Roles: []string{"pool-operator"}}, time.Time{})
	require.Error(t, err)
	_, err = BuildUnsignedOperatorToken(Params{ProjectID: "p", UserID: "op"}, time.Time{})
	require.ErrorContains(t, err, "role")
}

func decodeSegment(t *testing.T, segment string) map[string]interface{} {
	t.Helper()
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
