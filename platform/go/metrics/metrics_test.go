package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpersIncrementCounters(t *testing.T) {
	before := testutil.ToFloat64(get().allocations.WithLabelValues("race_lost"))
	RecordAllocation("race_lost")
	require.Equal(t, before+1, testutil.ToFloat64(get().allocations.WithLabelValues("race_lost")))

	RecordDeployment("promoted", true, 90*time.Second)
	require.GreaterOrEqual(t, testutil.ToFloat64(get().deployments.WithLabelValues("promoted", "true")), 1.0)
}

func TestHandlerServesNamespace(t *testing.T) {
	RecordMismatch("central_available_flag_in_use")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tenant_pool_pool_reconciliation_mismatches_total")
}
