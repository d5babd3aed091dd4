package apperr_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/apperr"
)

func TestConstructorsSetCodeAndStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    *apperr.Error
		code   apperr.Code
		status int
	}{
		{"alias unknown", apperr.NewAliasUnknown("no-such-alias"), apperr.AliasUnknown, http.StatusNotFound},
		{"unsupported schema", apperr.NewUnsupportedSchema("2.0"), apperr.UnsupportedSchema, http.StatusConflict},
		{"invalid request", apperr.NewInvalidRequest("missing field"), apperr.InvalidRequest, http.StatusBadRequest},
		{"policy deny", apperr.NewPolicyDeny("no eligible candidate"), apperr.PolicyDeny, http.StatusConflict},
		{"budget exceeded", apperr.NewBudgetExceeded(), apperr.BudgetExceeded, http.StatusPaymentRequired},
		{"invalid approval", apperr.NewInvalidApproval("token expired"), apperr.InvalidApproval, http.StatusForbidden},
		{"catalog unavailable", apperr.NewCatalogUnavailable(), apperr.CatalogUnavailable, http.StatusServiceUnavailable},
		{"upstream unavailable", apperr.NewUpstreamUnavailable(), apperr.UpstreamUnavailable, http.StatusBadGateway},
		{"planning failed", apperr.NewPlanningFailed("internal"), apperr.PlanningFailed, http.StatusInternalServerError},
		{"internal", apperr.NewInternal("boom"), apperr.InternalError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, tc.err.Code)
			assert.Equal(t, tc.status, tc.err.HTTPStatus())
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestUnsupportedSchemaListsSupportedVersions(t *testing.T) {
	err := apperr.NewUnsupportedSchema("2.0")
	assert.Equal(t, []string{"1.1"}, err.Supported)
}

func TestWithRetryHint(t *testing.T) {
	err := apperr.NewUpstreamUnavailable().WithRetryHint(2500)
	require.NotNil(t, err.RetryHintMs)
	assert.Equal(t, int64(2500), *err.RetryHintMs)
}

func TestAsExtractsAppError(t *testing.T) {
	base := apperr.NewBudgetExceeded()

	found, ok := apperr.As(base)
	require.True(t, ok)
	assert.Equal(t, apperr.BudgetExceeded, found.Code)

	_, ok = apperr.As(errors.New("plain error"))
	assert.False(t, ok)
}
