package handler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/unclebandit/outreach-engine/internal/config"
	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/lock"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/repository/memstore"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/internal/vault"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appErrors.NewValidation("name", "is required"), http.StatusBadRequest},
		{appErrors.NewInvalidTransition("completed", "active"), http.StatusBadRequest},
		{appErrors.NewCampaignNotFound("c1"), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", appErrors.ErrCampaignBusy), http.StatusConflict},
		{appErrors.NewRateLimited("acc", 50), http.StatusTooManyRequests},
		{appErrors.NewCredentialCorrupt("acc"), http.StatusFailedDependency},
		{appErrors.NewProviderError("gmail", 503, errors.New("down")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, handler.StatusFor(tc.err), "%v", tc.err)
	}
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	w := httptest.NewRecorder()
	handler.WriteError(w, zaptest.NewLogger(t), errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func newRouter(t *testing.T) (chi.Router, repository.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	policy := config.DefaultPolicy()
	store := memstore.New().Store()

	v, err := vault.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	accounts := service.NewAccountService(store, v, nil, policy, logger)
	inbound := service.NewInboundService(store, nil, nil, nil, lock.NewKeyedMutex(), policy, logger)
	analytics := service.NewAnalyticsService(store)

	r := chi.NewRouter()
	handler.NewAccountHandler(accounts, inbound, logger).Routes(r)
	handler.NewAnalyticsHandler(analytics, logger).Routes(r)
	return r, store
}

func serve(r chi.Router, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAccountLifecycle(t *testing.T) {
	r, store := newRouter(t)

	w := serve(r, "POST", "/accounts", `{
		"workspace_id": "ws-1",
		"email": "Sales@Acme.io",
		"provider": "smtp",
		"access_token": "app-password"
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "app-password")
	assert.NotContains(t, w.Body.String(), "token_enc")
	assert.Contains(t, w.Body.String(), `"email":"sales@acme.io"`)

	enabled, err := store.Accounts.ListEnabled(context.Background())
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	id := enabled[0].ID

	assert.Equal(t, http.StatusNoContent, serve(r, "DELETE", "/accounts/"+id, "").Code)
	assert.Equal(t, http.StatusNotFound, serve(r, "DELETE", "/accounts/"+id, "").Code)
}

func TestConnectAccount_BadRequest(t *testing.T) {
	r, _ := newRouter(t)

	w := serve(r, "POST", "/accounts", `{"workspace_id":"ws-1","email":"nope","provider":"gmail","access_token":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "email")

	w = serve(r, "POST", "/accounts", `{"workspace_id":"ws-1","email":"a@b.com","provider":"gmail"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")
}

func TestIngest_UnknownAccount(t *testing.T) {
	r, _ := newRouter(t)
	assert.Equal(t, http.StatusNotFound, serve(r, "POST", "/accounts/missing/ingest", "").Code)
}

func TestGetAnalytics(t *testing.T) {
	r, _ := newRouter(t)

	w := serve(r, "GET", "/analytics?workspace_id=ws-1&timeframe=7d", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"timeframe":"7d"`)
	assert.Contains(t, w.Body.String(), `"reply_rate":0`)

	assert.Equal(t, http.StatusBadRequest, serve(r, "GET", "/analytics?workspace_id=ws-1&timeframe=1y", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, "GET", "/analytics", "").Code)
}
