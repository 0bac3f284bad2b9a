package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiayi-1994/slotmap/pkg/claims"
	"github.com/jiayi-1994/slotmap/pkg/config"
	"github.com/jiayi-1994/slotmap/pkg/enrich"
	"github.com/jiayi-1994/slotmap/pkg/metrics"
)

var goLive = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type testServer struct {
	service *claims.Service
	handler http.Handler
	now     time.Time
}

func newTestServer(t *testing.T, enricher enrich.Enricher) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Universe.TotalSlots = 100
	cfg.Universe.EligibilityStride = 10
	cfg.Universe.GoLive = goLive
	cfg.Index.BlockSize = 8
	cfg.Store.Backend = "badger"
	cfg.Store.Path = ""
	cfg.Store.InMemory = true
	cfg.Store.SyncWrites = false

	svc, err := claims.Open(cfg, claims.WithEnricher(enricher))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	require.NoError(t, svc.Provision(context.Background(), 100))

	ts := &testServer{service: svc, now: goLive}
	ts.handler = NewServer(svc, WithClock(func() time.Time { return ts.now })).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestClaimSlot(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/slots/5/claim", `{"counter":60}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var receipt claims.Receipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	assert.Equal(t, uint64(5), receipt.Slot)
	assert.Equal(t, "5.slot", receipt.Name)
	assert.False(t, receipt.Enriched)

	rec = ts.do(t, http.MethodGet, "/v1/slots/5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var slot SlotResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&slot))
	assert.True(t, slot.Claimed)
}

func TestClaimSlot_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/slots/5/claim", `{"counter":60}`).Code)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"already claimed", "/v1/slots/5/claim", `{"counter":60}`, http.StatusConflict, CodeAlreadyClaimed},
		{"not yet eligible", "/v1/slots/6/claim", `{"counter":69}`, http.StatusBadRequest, CodeInvalidSlot},
		{"outside universe", "/v1/slots/100/claim", `{"counter":100000}`, http.StatusBadRequest, CodeInvalidSlot},
		{"missing counter", "/v1/slots/6/claim", `{}`, http.StatusBadRequest, CodeBadRequest},
		{"malformed body", "/v1/slots/6/claim", `{`, http.StatusBadRequest, CodeBadRequest},
		{"malformed slot", "/v1/slots/-1/claim", `{"counter":1}`, http.StatusBadRequest, CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestClaimSlot_NotLive(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.now = goLive.Add(-30 * time.Second)

	rec := ts.do(t, http.MethodPost, "/v1/slots/1/claim", `{"counter":100}`)
	assert.Equal(t, http.StatusTooEarly, rec.Code)
	assert.Equal(t, "31", rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeNotLive, decodeError(t, rec).Code)
}

func TestClaimSlot_EnrichmentFailureStillCreated(t *testing.T) {
	failing := enrich.EnricherFunc(func(ctx context.Context, artifact enrich.Artifact) error {
		return errors.New("receiver unavailable")
	})
	ts := newTestServer(t, failing)

	rec := ts.do(t, http.MethodPost, "/v1/slots/2/claim", `{"counter":30}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var receipt claims.Receipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	assert.False(t, receipt.Enriched)

	rec = ts.do(t, http.MethodPost, "/v1/slots/2/enrich", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, CodeEnrichmentFailed, decodeError(t, rec).Code)
}

func TestEnrichSlot(t *testing.T) {
	var delivered []string
	recorder := enrich.EnricherFunc(func(ctx context.Context, artifact enrich.Artifact) error {
		delivered = append(delivered, artifact.Name)
		return nil
	})
	ts := newTestServer(t, recorder)

	rec := ts.do(t, http.MethodPost, "/v1/slots/3/enrich", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotClaimed, decodeError(t, rec).Code)

	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/slots/3/claim", `{"counter":40}`).Code)
	rec = ts.do(t, http.MethodPost, "/v1/slots/3/enrich", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"3.slot", "3.slot"}, delivered)
}

func TestGetSlot_BeyondCapacity(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/slots/500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidSlot, decodeError(t, rec).Code)
}

func TestStatusAndClaimedRange(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/v1/slots/1/claim", "/v1/slots/70/claim"} {
		require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, path, `{"counter":1000}`).Code)
	}

	rec := ts.do(t, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status claims.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, uint64(128), status.CapacityBits)
	assert.Equal(t, uint64(2), status.Claimed)
	assert.True(t, status.Live)

	rec = ts.do(t, http.MethodGet, "/v1/claimed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all ClaimedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	assert.Equal(t, []uint64{1, 70}, all.Slots)

	rec = ts.do(t, http.MethodGet, "/v1/claimed?from=2&to=64", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var none ClaimedResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&none))
	assert.Empty(t, none.Slots)
	assert.NotNil(t, none.Slots)

	rec = ts.do(t, http.MethodGet, "/v1/claimed?from=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/v1/slots/1/claim", `{"counter":20}`).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `slotmap_allocator_claims_total{result="success"}`)
}
