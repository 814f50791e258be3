package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCredentialExtractor(t *testing.T) {
	testCases := []struct {
		name      string
		claims    map[string]interface{}
		wantID    string
		wantRoles []string
		wantErr   bool
	}{
		{
			name:      "firebase uid with role array",
			claims:    map[string]interface{}{"uid": "op-1", "sub": "ignored", "roles": []interface{}{"pool-operator", " ", 7}},
			wantID:    "op-1",
			wantRoles: []string{"pool-operator"},
		},
		{
			name:      "comma separated roles",
			claims:    map[string]interface{}{"sub": "svc-ci", "roles": "pool-operator, pool-admin"},
			wantID:    "svc-ci",
			wantRoles: []string{"pool-operator", "pool-admin"},
		},
		{
			name:    "no subject",
			claims:  map[string]interface{}{"email": "ops@example.com"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			creds, err := DefaultCredentialExtractor(tc.claims)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantID, creds.Id)
			require.Equal(t, tc.wantRoles, creds.Roles)
		})
	}
}

func TestHasRole(t *testing.T) {
	require.True(t, (&OperatorCredentials{Roles: []string{RoleOperator}}).HasRole(RoleOperator))
	require.False(t, (&OperatorCredentials{Roles: []string{RoleOperator}}).HasRole(RoleAdmin))
	require.True(t, (&OperatorCredentials{IsAdmin: true}).HasRole(RoleOperator))
	require.True(t, (&OperatorCredentials{Roles: []string{RoleAdmin}}).HasRole(RoleOperator))

	var missing *OperatorCredentials
	require.False(t, missing.HasRole(RoleOperator))
}

func TestExtractBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := ExtractBearerToken(req)
	require.False(t, ok)

	req.Header.Set("Authorization", "bearer  abc.def ")
	token, ok := ExtractBearerToken(req)
	require.True(t, ok)
	require.Equal(t, "abc.def", token)

	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	_, ok = ExtractBearerToken(req)
	require.False(t, ok)
}

func TestRequireRole(t *testing.T) {
	guarded := JWT(UnsignedTokenVerifier(), nil)(RequireRole(RoleOperator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds, ok := OperatorFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, "op-123", creds.Id)
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := map[string]struct {
		header string
		status int
	}{
		"no token":     {header: "", status: http.StatusUnauthorized},
		"garbage":      {header: "Bearer nodots", status: http.StatusUnauthorized},
		"missing role": {header: "Bearer h.eyJ1aWQiOiJvcC0xMjMifQ.s", status: http.StatusForbidden},
		"operator":     {header: "Bearer h.eyJ1aWQiOiJvcC0xMjMiLCJyb2xlcyI6WyJwb29sLW9wZXJhdG9yIl19.s", status: http.StatusNoContent},
		"admin":        {header: "Bearer h.eyJ1aWQiOiJvcC0xMjMiLCJpc0FkbWluIjp0cnVlfQ.s", status: http.StatusNoContent},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestWithOperatorRoundTrip(t *testing.T) {
	ctx := WithOperator(context.Background(), &OperatorCredentials{Id: "op-9"})
	creds, ok := OperatorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "op-9", creds.Id)

	_, ok = OperatorFromContext(context.Background())
	require.False(t, ok)
}
