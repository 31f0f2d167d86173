package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subtrackhq/subtrack/internal/config"
	"github.com/subtrackhq/subtrack/internal/receipt/domain"
	"go.uber.org/zap"
)

type storeStub struct {
	calls    atomic.Int32
	status   int
	lastBody domain.VerifyRequest
}

func (s *storeStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&s.lastBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  s.status,
			"receipt": map[string]any{"bundle_id": "com.subtrack.app"},
		})
	}
}

func newClient(prodURL, sandboxURL string) *AppleClient {
	return NewAppleClient(config.Config{Billing: config.BillingConfig{
		AppleSharedSecret:  "shh",
		AppleProductionURL: prodURL,
		AppleSandboxURL:    sandboxURL,
	}}, zap.NewNop())
}

func TestVerifyRetriesSandboxOnce(t *testing.T) {
	prod := &storeStub{status: domain.StatusSandboxReceipt}
	sandbox := &storeStub{status: domain.StatusOK}
	prodSrv := httptest.NewServer(prod.handler())
	defer prodSrv.Close()
	sandboxSrv := httptest.NewServer(sandbox.handler())
	defer sandboxSrv.Close()

	resp, err := newClient(prodSrv.URL, sandboxSrv.URL).Verify(context.Background(), "cmVjZWlwdA==")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOK, resp.Status)
	assert.Equal(t, int32(1), prod.calls.Load())
	assert.Equal(t, int32(1), sandbox.calls.Load())
	assert.Equal(t, "shh", sandbox.lastBody.Password)
	assert.Equal(t, "cmVjZWlwdA==", sandbox.lastBody.ReceiptData)
	assert.True(t, sandbox.lastBody.ExcludeOldTransactions)
}

func TestVerifyDoesNotRetryTwice(t *testing.T) {
	prod := &storeStub{status: domain.StatusSandboxReceipt}
	sandbox := &storeStub{status: domain.StatusSandboxReceipt}
	prodSrv := httptest.NewServer(prod.handler())
	defer prodSrv.Close()
	sandboxSrv := httptest.NewServer(sandbox.handler())
	defer sandboxSrv.Close()

	resp, err := newClient(prodSrv.URL, sandboxSrv.URL).Verify(context.Background(), "cmVjZWlwdA==")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSandboxReceipt, resp.Status)
	assert.Equal(t, int32(1), prod.calls.Load())
	assert.Equal(t, int32(1), sandbox.calls.Load())
}

func TestVerifyProductionSuccessSkipsSandbox(t *testing.T) {
	prod := &storeStub{status: domain.StatusOK}
	sandbox := &storeStub{status: domain.StatusOK}
	prodSrv := httptest.NewServer(prod.handler())
	defer prodSrv.Close()
	sandboxSrv := httptest.NewServer(sandbox.handler())
	defer sandboxSrv.Close()

	resp, err := newClient(prodSrv.URL, sandboxSrv.URL).Verify(context.Background(), "cmVjZWlwdA==")
	require.NoError(t, err)
	assert.Equal(t, "com.subtrack.app", resp.Receipt.BundleID)
	assert.Equal(t, int32(0), sandbox.calls.Load())
}

func TestVerifyRejectsNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL, srv.URL).Verify(context.Background(), "cmVjZWlwdA==")
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}
