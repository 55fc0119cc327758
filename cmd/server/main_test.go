package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/audiobooker/internal/artifact"
	"github.com/kiranshivaraju/audiobooker/internal/cache"
	"github.com/kiranshivaraju/audiobooker/internal/store"
	"github.com/kiranshivaraju/audiobooker/internal/synth"
	"github.com/kiranshivaraju/audiobooker/internal/synth/mock"
	"github.com/kiranshivaraju/audiobooker/pkg/models"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error                     { return s.pingErr }
func (s *testStore) CreateJob(_ context.Context, _ *models.Job) error { return nil }
func (s *testStore) GetJob(_ context.Context, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotFound
}
func (s *testStore) UpdateJob(_ context.Context, _ *models.Job) error  { return nil }
func (s *testStore) ListJobs(_ context.Context) ([]*models.Job, error) { return nil, nil }
func (s *testStore) DeleteJob(_ context.Context, _ uuid.UUID) error    { return store.ErrNotFound }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Ping(_ context.Context) error { return c.pingErr }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}
func (c *testCache) Close() error { return nil }

var _ cache.Cache = (*testCache)(nil)

func newArtifacts(t *testing.T) artifact.Store {
	t.Helper()
	fs, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

func getHealth(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

// ─── health handler tests ───────────────────────────────────────────────────

func TestHealthHandler_AllOK(t *testing.T) {
	h := healthHandler(&testStore{}, newArtifacts(t), &testCache{}, synth.NewAdapter(nil, time.Second, time.Second))

	w, body := getHealth(t, h)
	assert.Equal(t, http.StatusOK, w.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["artifacts"])
	assert.Equal(t, "ok", services["cache"])

	model := data["model"].(map[string]any)
	assert.Equal(t, "none", model["name"])
	assert.Equal(t, "loading", model["state"])
}

func TestHealthHandler_CacheDisabled(t *testing.T) {
	h := healthHandler(&testStore{}, newArtifacts(t), nil, synth.NewAdapter(nil, time.Second, time.Second))

	w, body := getHealth(t, h)
	assert.Equal(t, http.StatusOK, w.Code)

	services := body["data"].(map[string]any)["services"].(map[string]any)
	assert.Equal(t, "disabled", services["cache"])
}

func TestHealthHandler_ModelUnavailableIsNotDegraded(t *testing.T) {
	adapter := synth.NewAdapter(nil, time.Second, time.Second)
	adapter.EnsureLoaded(context.Background())

	w, body := getHealth(t, healthHandler(&testStore{}, newArtifacts(t), nil, adapter))
	assert.Equal(t, http.StatusOK, w.Code)

	model := body["data"].(map[string]any)["model"].(map[string]any)
	assert.Equal(t, "unavailable", model["state"])
	assert.Contains(t, model["error"], "no provider configured")
}

func TestHealthHandler_ReportsLoadingWhileModelLoads(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	m := mock.NewModel()
	m.LoadFunc = func(_ context.Context) error {
		close(started)
		<-release
		return nil
	}
	adapter := synth.NewAdapter(m, time.Minute, time.Second)
	go adapter.EnsureLoaded(context.Background())
	<-started
	defer close(release)

	w, body := getHealth(t, healthHandler(&testStore{}, newArtifacts(t), nil, adapter))
	assert.Equal(t, http.StatusOK, w.Code)

	model := body["data"].(map[string]any)["model"].(map[string]any)
	assert.Equal(t, "loading", model["state"])
}

func TestHealthHandler_ModelReady(t *testing.T) {
	adapter := synth.NewAdapter(mock.NewModel(), time.Second, time.Second)
	require.True(t, adapter.EnsureLoaded(context.Background()).Ready)

	w, body := getHealth(t, healthHandler(&testStore{}, newArtifacts(t), nil, adapter))
	assert.Equal(t, http.StatusOK, w.Code)

	model := body["data"].(map[string]any)["model"].(map[string]any)
	assert.Equal(t, "ready", model["state"])
	assert.Equal(t, "mock", model["name"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	h := healthHandler(&testStore{pingErr: errors.New("connection refused")}, newArtifacts(t), &testCache{},
		synth.NewAdapter(nil, time.Second, time.Second))

	w, body := getHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	h := healthHandler(&testStore{}, newArtifacts(t), &testCache{pingErr: errors.New("redis down")},
		synth.NewAdapter(nil, time.Second, time.Second))

	w, _ := getHealth(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() startup failure tests ────────────────────────────────────────────

func TestRun_FailsOnInvalidConfig(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "not-a-valid-url")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestRun_FailsOnUnreachableNATS(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ARTIFACT_BACKEND", "nats")
	t.Setenv("NATS_URL", "nats://127.0.0.1:1")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect nats")
}

func TestRun_FailsOnUnreachableRedis(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("REDIS_URL", "redis://127.0.0.1:1")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
