package contracts

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolContractLoads(t *testing.T) {
	spec, err := Pool()
	require.NoError(t, err)

	require.Equal(t, "/api/v1", spec.Servers[0].URL)
	require.Contains(t, spec.Components.SecuritySchemes, "bearerAuth")

	operations := map[string]string{}
	for path, item := range spec.Paths.Map() {
		for method, op := range item.Operations() {
			operations[op.OperationID] = method + " " + path
		}
	}
	require.Equal(t, map[string]string{
		"poolAllocate":          http.MethodPost + " /pool/allocations",
		"poolSlotsList":         http.MethodGet + " /pool/slots",
		"poolSlotUpdate":        http.MethodPatch + " /pool/slots/{slotId}",
		"poolSlotRelease":       http.MethodPost + " /pool/slots/{slotId}/release",
		"poolSlotClearFlag":     http.MethodPost + " /pool/slots/{slotId}/clear-flag",
		"poolReconcile":         http.MethodPost + " /pool/reconcile",
		"deploymentsCreate":     http.MethodPost + " /deployments",
		"deploymentsGet":        http.MethodGet + " /deployments/{deploymentId}",
		"chatbotsDelete":        http.MethodDelete + " /chatbots/{chatbotId}",
		"credentialsTest":       http.MethodPost + " /credentials/{projectId}/test",
		"credentialsCacheClear": http.MethodDelete + " /credentials/cache",
	}, operations)
}

func TestPoolReturnsIndependentDocuments(t *testing.T) {
	first, err := Pool()
	require.NoError(t, err)
	first.Info.Title = "mutated"

	second, err := Pool()
	require.NoError(t, err)
	require.Equal(t, "Tenant Pool API", second.Info.Title)
}
