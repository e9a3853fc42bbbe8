// ABOUTME: Tests for server wiring, the health endpoint and housekeeping
// ABOUTME: Builds a real server on a temporary database and drives its handler

package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentdash/internal/config"
	"github.com/2389/agentdash/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  http_addr: "127.0.0.1:0"
database:
  path: "`+filepath.Join(t.TempDir(), "server.db")+`"
auth:
  jwt_secret: "server-test-secret-at-least-32-bytes"
webadmin:
  base_url: "https://dash.example.com"
`), config.FormatYAML)
	require.NoError(t, err)
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("AGENTDASH_URL", "")
	t.Setenv("AGENTDASH_DB_PATH", "")

	srv, err := New(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRoutesAreMounted(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		path string
		want int
	}{
		{"/login", http.StatusOK},
		{"/static/app.js", http.StatusOK},
		{"/dashboard", http.StatusSeeOther},
		{"/admin", http.StatusSeeOther},
		{"/api/session", http.StatusOK},
		{"/api/plans", http.StatusUnauthorized},
		{"/api/admin/users", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, get(t, srv, tt.path).Code)
		})
	}
}

func TestDetermineBaseURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)

	t.Setenv("AGENTDASH_URL", "")
	assert.Equal(t, "https://dash.example.com", determineBaseURL(cfg, logger))

	t.Setenv("AGENTDASH_URL", "https://override.example.com")
	assert.Equal(t, "https://override.example.com", determineBaseURL(cfg, logger))
}

func TestNewOAuthProvider(t *testing.T) {
	assert.Nil(t, newOAuthProvider(config.OAuthConfig{}))

	p := newOAuthProvider(config.OAuthConfig{
		Enabled:  true,
		Provider: "github",
		ClientID: "id",
		AuthURL:  "https://example.com/auth",
		TokenURL: "https://example.com/token",
	})
	require.NotNil(t, p)
	assert.Equal(t, "github", p.Name())
}

func TestSweepRemovesExpiredSessions(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	s := srv.Store()

	require.NoError(t, s.CreateProfile(ctx, &store.Profile{ID: "u1", Email: "u1@example.com", Role: store.RoleMember}))
	now := time.Now().UTC()
	require.NoError(t, s.CreateSession(ctx, &store.Session{
		ID: "old", UserID: "u1", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.CreateSession(ctx, &store.Session{
		ID: "live", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	srv.sweep(ctx)

	_, err := s.GetSession(ctx, "old")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
	_, err = s.GetSession(ctx, "live")
	assert.NoError(t, err)
}

func TestHousekeepingStopsOnCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.config.Auth.SweepInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	srv.startHousekeeping(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		srv.housekeeping.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("housekeeping did not stop")
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("AGENTDASH_URL", "")
	t.Setenv("AGENTDASH_DB_PATH", "")
	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
