package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/app"
	"github.com/ternarybob/portalwatch/internal/common"
	"github.com/ternarybob/portalwatch/internal/handlers"
	"github.com/ternarybob/portalwatch/internal/models"
	"github.com/ternarybob/portalwatch/internal/services/health"
	"github.com/ternarybob/portalwatch/internal/services/ratelimit"
	"github.com/ternarybob/portalwatch/internal/services/scheduler"
	"github.com/ternarybob/portalwatch/internal/storage/dedup"
)

// newTestServer wires the handlers over in-memory collaborators, without a browser
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := arbor.NewLogger()
	cfg := common.NewDefaultConfig()

	cycle := scheduler.NewCycleScheduler(scheduler.CycleOptions{
		Name:        "test",
		MinInterval: time.Minute,
		MaxInterval: time.Hour,
	}, func(ctx context.Context, cycleID uint64) (*scheduler.PassResult, error) {
		return &scheduler.PassResult{}, nil
	}, logger)
	t.Cleanup(cycle.Close)

	monitor := health.NewMonitor(health.Options{}, func(ctx context.Context) error { return nil }, nil, logger)

	dir := t.TempDir()
	store, err := dedup.Open(dedup.Options{
		Name:      models.StoreLeads,
		Path:      filepath.Join(dir, "leads.json"),
		KeyFields: []string{models.FieldItemID},
	}, logger)
	require.NoError(t, err)
	stores := dedup.Set{models.StoreLeads: store}

	limiter := ratelimit.NewLimiter(ratelimit.Options{MaxAttempts: 3, Window: time.Minute, Lockout: time.Minute}, nil, logger)
	verifier := ratelimit.NewVerifier(limiter, "u", "p", 64, logger)

	a := &app.App{
		Config:           cfg,
		Logger:           logger,
		Cycle:            cycle,
		Stores:           stores,
		APIHandler:       handlers.NewAPIHandler(),
		StatusHandler:    handlers.NewStatusHandler(cycle, monitor, nil, stores, logger),
		SchedulerHandler: handlers.NewSchedulerHandler(cycle, nil, 2*time.Minute, logger),
		StoreHandler:     handlers.NewStoreHandler(stores, filepath.Join(dir, "archive"), logger),
		AuthHandler:      handlers.NewAuthHandler(verifier, nil, logger),
		WSHandler:        handlers.NewWebSocketHandler(nil, logger, &cfg.Server),
	}
	return New(a)
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodGet, "/api/version", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusOK},
		{http.MethodGet, "/api/cycle", http.StatusOK},
		{http.MethodPost, "/api/cycle/run", http.StatusOK},
		{http.MethodGet, "/api/cycle/run", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/stores", http.StatusOK},
		{http.MethodDelete, "/api/stores", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/stores/leads", http.StatusOK},
		{http.MethodGet, "/api/stores/nope", http.StatusNotFound},
		{http.MethodPost, "/api/stores/leads/reset", http.StatusOK},
		{http.MethodPost, "/api/daily/run", http.StatusServiceUnavailable},
		{http.MethodPost, "/api/unlock", http.StatusUnauthorized},
		{http.MethodGet, "/api/does-not-exist", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(s, tt.method, tt.path)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestMiddleware_CORSAndRequestID(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodOptions, "/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(s, http.MethodGet, "/api/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestMiddleware_RecoversPanics(t *testing.T) {
	s := newTestServer(t)
	h := s.withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/anything", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
