package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "pool-api", Level: "debug", EnvKey: "dev", Output: &buf})
	require.NoError(t, err)

	logger.Warn("slot skipped", SlotID("pool-003"))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "WARNING", entry["severity"])
	require.Equal(t, "slot skipped", entry["message"])
	require.Equal(t, "pool-api", entry["component"])
	require.Equal(t, "dev", entry["env"])
	require.Equal(t, "pool-003", entry["slot_id"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(Config{Level: "chatty"})
	require.Error(t, err)
}

func TestFromContextOr(t *testing.T) {
	fallback := zap.NewExample()
	require.Same(t, fallback, FromContextOr(context.Background(), fallback))

	scoped := zap.NewNop()
	ctx := WithLogger(context.Background(), scoped)
	require.Same(t, scoped, FromContextOr(ctx, fallback))

	require.NotNil(t, FromContextOr(context.Background(), nil))
}

func TestRequestLoggerStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	var seen bool
	h := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pool/slots", nil))

	require.True(t, seen)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, buf.String(), `"status":418`)
}
