package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/connection"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/internal/scheduler"
	"github.com/smartdevs17/rollover-caller/internal/storage"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

type fakeScheduler struct {
	mu        sync.Mutex
	triggered []models.Trigger
	err       error
	running   bool
}

func (f *fakeScheduler) Trigger(trigger models.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, trigger)
	return nil
}

func (f *fakeScheduler) Status() scheduler.Status {
	return scheduler.Status{Cron: "5 * * * * *", Timezone: "UTC", Overlap: config.OverlapAllow, Running: f.running}
}

type fakeConnection struct {
	healthy bool
}

func (f *fakeConnection) IsConnected() bool { return f.healthy }

func (f *fakeConnection) Stats() connection.ConnectionStats {
	return connection.ConnectionStats{Endpoint: "127.0.0.1:8545", IsHealthy: f.healthy, LatestBlock: 1234}
}

type harness struct {
	server    *HTTPServer
	scheduler *fakeScheduler
	store     storage.Storage
	metrics   *metrics.Manager
}

func newHarness(t *testing.T, withStorage bool) *harness {
	t.Helper()

	h := &harness{
		scheduler: &fakeScheduler{running: true},
		metrics:   metrics.NewManager(),
	}

	if withStorage {
		store, err := storage.NewStorage(&config.StorageConfig{
			Type:             "sqlite",
			ConnectionString: filepath.Join(t.TempDir(), "rollover.db"),
			MaxConnections:   2,
		}, nil)
		require.NoError(t, err)
		require.NoError(t, store.Connect())
		require.NoError(t, store.Migrate())
		t.Cleanup(func() { store.Close() })
		h.store = store
	}

	srv, err := NewHTTPServer(&ServerConfig{
		Host:          "127.0.0.1",
		Port:          0,
		EnableMetrics: true,
		EnableHealth:  true,
		Version:       "test",
	}, Dependencies{
		Scheduler:  h.scheduler,
		Connection: &fakeConnection{healthy: true},
		Storage:    h.store,
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	h.server = srv
	return h
}

func (h *harness) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func seedAttempts(t *testing.T, store storage.Storage) []*models.Attempt {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 5, 0, time.UTC)
	attempts := []*models.Attempt{
		{
			ID: utils.GenerateID(), Trigger: models.TriggerStartup, Method: "rollover",
			Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			Status:   models.AttemptStatusSuccess, TxHash: "0x" + strings.Repeat("1f", 32),
			StartedAt: base, FinishedAt: base.Add(time.Second),
		},
		{
			ID: utils.GenerateID(), Trigger: models.TriggerSchedule, Method: "rollover",
			Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			Status:   models.AttemptStatusFailed, Error: "execution reverted",
			StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute + time.Second),
		},
	}
	for _, a := range attempts {
		require.NoError(t, store.SaveAttempt(context.Background(), a))
	}
	return attempts
}

func TestNewHTTPServerRequiresScheduler(t *testing.T) {
	_, err := NewHTTPServer(&ServerConfig{}, Dependencies{Connection: &fakeConnection{}})
	assert.Equal(t, utils.ErrCodeConfiguration, utils.ErrorCode(err))
}

func TestHealth(t *testing.T) {
	h := newHarness(t, true)

	rec, body := h.do(t, http.MethodGet, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, body = h.do(t, http.MethodGet, "/api/v1/health/detailed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	components := body["components"].(map[string]interface{})
	assert.Contains(t, components, "connection")
	assert.Contains(t, components, "scheduler")
	assert.Equal(t, true, components["storage"].(map[string]interface{})["healthy"])
}

func TestDetailedHealthDegradedWhenSchedulerStopped(t *testing.T) {
	h := newHarness(t, false)
	h.scheduler.running = false

	rec, body := h.do(t, http.MethodGet, "/api/v1/health/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestListAttempts(t *testing.T) {
	h := newHarness(t, true)
	attempts := seedAttempts(t, h.store)

	rec, body := h.do(t, http.MethodGet, "/api/v1/attempts")
	require.Equal(t, http.StatusOK, rec.Code)
	list := body["attempts"].([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, attempts[1].ID, list[0].(map[string]interface{})["id"])
	assert.Equal(t, float64(defaultPageSize), body["limit"])

	rec, body = h.do(t, http.MethodGet, "/api/v1/attempts?status=success&limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	list = body["attempts"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, attempts[0].TxHash, list[0].(map[string]interface{})["tx_hash"])

	rec, body = h.do(t, http.MethodGet, "/api/v1/attempts?since=2026-03-01T00:00:30Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
}

func TestListAttemptsRejectsBadQuery(t *testing.T) {
	h := newHarness(t, true)

	for _, target := range []string{
		"/api/v1/attempts?status=exploded",
		"/api/v1/attempts?since=yesterday",
		"/api/v1/attempts?limit=-3",
		"/api/v1/attempts?offset=x",
	} {
		rec, _ := h.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetAttempt(t *testing.T) {
	h := newHarness(t, true)
	attempts := seedAttempts(t, h.store)

	rec, body := h.do(t, http.MethodGet, "/api/v1/attempts/"+attempts[1].ID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "execution reverted", body["error"])

	rec, _ = h.do(t, http.MethodGet, "/api/v1/attempts/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttemptsWithoutStorage(t *testing.T) {
	h := newHarness(t, false)

	rec, _ := h.do(t, http.MethodGet, "/api/v1/attempts")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body := h.do(t, http.MethodGet, "/api/v1/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, body, "attempts")
	assert.Contains(t, body, "scheduler")
}

func TestStatsIncludesAttemptHistory(t *testing.T) {
	h := newHarness(t, true)
	seedAttempts(t, h.store)

	rec, body := h.do(t, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["attempts"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["total_attempts"])
	assert.Equal(t, float64(1), stats["failed_attempts"])
}

func TestTriggerRollover(t *testing.T) {
	h := newHarness(t, false)

	rec, body := h.do(t, http.MethodPost, "/api/v1/rollover")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "manual", body["trigger"])
	assert.Equal(t, []models.Trigger{models.TriggerManual}, h.scheduler.triggered)

	h.scheduler.err = scheduler.ErrInvocationInProgress
	rec, _ = h.do(t, http.MethodPost, "/api/v1/rollover")
	assert.Equal(t, http.StatusConflict, rec.Code)

	h.scheduler.err = scheduler.ErrNotRunning
	rec, _ = h.do(t, http.MethodPost, "/api/v1/rollover")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = h.do(t, http.MethodGet, "/api/v1/rollover")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "Method GET not allowed for /api/v1/rollover", body["error"])
	assert.Equal(t, []models.Trigger{models.TriggerManual}, h.scheduler.triggered)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t, true)

	for _, tc := range []struct{ method, target string }{
		{http.MethodDelete, "/api/v1/schedule"},
		{http.MethodPost, "/api/v1/attempts"},
		{http.MethodPut, "/api/v1/health"},
	} {
		rec, body := h.do(t, tc.method, tc.target)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, tc.target)
		assert.EqualValues(t, http.StatusMethodNotAllowed, body["status"], tc.target)
	}

	rec, _ := h.do(t, http.MethodGet, "/api/v1/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	h := newHarness(t, true)
	attempts := seedAttempts(t, h.store)

	h.do(t, http.MethodGet, "/api/v1/attempts/"+attempts[0].ID)
	h.do(t, http.MethodGet, "/api/v1/attempts/"+attempts[1].ID)

	pm := h.metrics.GetPrometheusMetrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(
		pm.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/attempts/{id}", "200")))

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
