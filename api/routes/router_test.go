package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apexlabs-backend/internal/auth"
	"github.com/angelmondragon/apexlabs-backend/internal/broadcast"
	"github.com/angelmondragon/apexlabs-backend/internal/orders"
	"github.com/angelmondragon/apexlabs-backend/internal/pendingsync"
	pkgAuth "github.com/angelmondragon/apexlabs-backend/pkg/auth"
	"github.com/angelmondragon/apexlabs-backend/pkg/config"
	"github.com/angelmondragon/apexlabs-backend/pkg/db/models"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/outbox"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubRateStore struct{}

func (stubRateStore) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

type stubSessions struct {
	live map[string]bool
}

func (s stubSessions) HasSession(_ context.Context, accessID string) (bool, error) {
	return s.live[accessID], nil
}

type stubAuthService struct{}

func (stubAuthService) Login(context.Context, auth.LoginRequest) (*auth.LoginResponse, error) {
	return &auth.LoginResponse{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (stubAuthService) Logout(context.Context, string) error {
	return nil
}

type stubSubmitter struct{}

func (stubSubmitter) Submit(context.Context, orders.OrderPayload) (orders.SubmitResult, error) {
	return orders.SubmitResult{OrderNumber: "48213"}, nil
}

type stubOrders struct{}

func (stubOrders) ListRecent(context.Context) ([]models.Order, error) {
	return []models.Order{{OrderNumber: "48213"}}, nil
}

func (stubOrders) ListChangedSince(context.Context, time.Time) ([]models.Order, error) {
	return nil, nil
}

func (stubOrders) Get(_ context.Context, orderNumber string) (*models.Order, error) {
	return &models.Order{OrderNumber: orderNumber}, nil
}

func (stubOrders) UpdateStatus(context.Context, string, string) (*orders.StatusUpdate, error) {
	return nil, nil
}

type stubOutbox struct{}

func (stubOutbox) ListAll(context.Context) ([]outbox.Entry, error) { return nil, nil }

func (stubOutbox) Len(context.Context) (int, error) { return 0, nil }

type stubDrainer struct{}

func (stubDrainer) Drain(context.Context) (pendingsync.Report, error) {
	return pendingsync.Report{Failures: []pendingsync.Failure{}}, nil
}

type stubStreamer struct {
	served int
}

func (s *stubStreamer) Serve(_ context.Context, sink broadcast.Sink) error {
	s.served++
	return sink.WriteEvent(broadcast.Message{Type: broadcast.TypeConnected, Message: "ok"})
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "apexlabs", ExpirationMinutes: 60},
		Admin: config.AdminConfig{
			CookieName: "admin_session",
		},
		RateLimit: config.RateLimitConfig{LoginWindow: time.Minute, LoginIPLimit: 10},
	}
}

func newTestRouter(t *testing.T, sessions stubSessions, streamer *stubStreamer) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.Disabled, Output: io.Discard})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})
	return NewRouter(
		testConfig(),
		logg,
		stubPinger{},
		stubPinger{},
		stubRateStore{},
		nil,
		sessions,
		stubAuthService{},
		stubSubmitter{},
		stubOrders{},
		stubOutbox{},
		stubDrainer{},
		streamer,
		metrics,
	)
}

func adminToken(t *testing.T, jti string) string {
	t.Helper()
	token, _, err := pkgAuth.MintAdminToken(testConfig().JWT, time.Now(), jti)
	require.NoError(t, err)
	return token
}

func TestPublicRoutes(t *testing.T) {
	router := newTestRouter(t, stubSessions{}, &stubStreamer{})

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health/live", "", http.StatusOK},
		{http.MethodGet, "/health/ready", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodPost, "/api/orders", `{}`, http.StatusOK},
		{http.MethodPost, "/api/admin/login", `{"password":"hunter2"}`, http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, "%s %s: %s", tt.method, tt.path, rec.Body.String())
	}
}

func TestAdminRoutesRequireSession(t *testing.T) {
	router := newTestRouter(t, stubSessions{}, &stubStreamer{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/admin/orders"},
		{http.MethodGet, "/api/admin/orders/updates?since=2026-01-05T09:00:00Z"},
		{http.MethodGet, "/api/admin/orders/48213"},
		{http.MethodPatch, "/api/admin/orders/48213/status"},
		{http.MethodGet, "/api/admin/pending"},
		{http.MethodPost, "/api/admin/sync-pending"},
		{http.MethodGet, "/api/admin/store-status"},
		{http.MethodPost, "/api/admin/logout"},
	}
	for _, p := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(p.method, p.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}
}

func TestStreamRequiresAuth(t *testing.T) {
	streamer := &stubStreamer{}
	router := newTestRouter(t, stubSessions{live: map[string]bool{"live-session": true}}, streamer)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/orders/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	revoked := httptest.NewRequest(http.MethodGet, "/api/admin/orders/stream", nil)
	revoked.AddCookie(&http.Cookie{Name: "admin_session", Value: adminToken(t, "gone-session")})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, revoked)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, streamer.served)

	ok := httptest.NewRequest(http.MethodGet, "/api/admin/orders/stream", nil)
	ok.AddCookie(&http.Cookie{Name: "admin_session", Value: adminToken(t, "live-session")})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, ok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, streamer.served)
}

func TestAdminRoutesWithBearer(t *testing.T) {
	router := newTestRouter(t, stubSessions{live: map[string]bool{"live-session": true}}, &stubStreamer{})
	token := adminToken(t, "live-session")

	for _, path := range []string{"/api/admin/orders", "/api/admin/orders/48213", "/api/admin/pending", "/api/admin/store-status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "%s: %s", path, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/sync-pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.JSONEq(t, `{"synced":0,"failures":[],"remaining":0}`, rec.Body.String())
}
