// ABOUTME: Server orchestrator that wires the store, services and HTTP handlers
// ABOUTME: Manages listeners (TCP or tailnet), housekeeping and graceful shutdown

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/agentdash/internal/api"
	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/config"
	"github.com/2389/agentdash/internal/console"
	"github.com/2389/agentdash/internal/dedupe"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/grants"
	"github.com/2389/agentdash/internal/guard"
	"github.com/2389/agentdash/internal/session"
	"github.com/2389/agentdash/internal/store"
	"github.com/2389/agentdash/internal/webadmin"
)

// Server owns every long-lived component of agentdash.
type Server struct {
	config      *config.Config
	store       *store.SQLiteStore
	sessions    *session.Synchronizer
	changes     *events.Changes
	dedupe      *dedupe.Cache
	console     *console.Service
	pages       *webadmin.Pages
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// baseURL is the external URL used for invite links and passkeys
	baseURL string

	housekeeping sync.WaitGroup
}

// determineBaseURL resolves the external URL from environment or config.
func determineBaseURL(cfg *config.Config, logger *slog.Logger) string {
	if envURL := os.Getenv("AGENTDASH_URL"); envURL != "" {
		return envURL
	}
	if cfg.WebAdmin.BaseURL == "" && cfg.Tailscale.Enabled && !cfg.Tailscale.HTTPS && !cfg.Tailscale.Funnel {
		logger.Warn("webadmin.base_url not set and tailscale HTTPS is off - passkeys need a secure origin")
	}
	return cfg.BaseURL()
}

// initStore opens the database named by config or AGENTDASH_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("AGENTDASH_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newOAuthProvider returns the configured OAuth provider, or nil.
func newOAuthProvider(cfg config.OAuthConfig) *auth.OAuthProvider {
	if !cfg.Enabled {
		return nil
	}
	return auth.NewOAuthProvider(auth.OAuthProviderConfig{
		Name:         cfg.Provider,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		AuthURL:      cfg.AuthURL,
		TokenURL:     cfg.TokenURL,
		UserInfoURL:  cfg.UserInfoURL,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	})
}

// New creates a Server from cfg. The store is opened (and migrated) here.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	srv, err := newWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return srv, nil
}

func newWithStore(cfg *config.Config, s *store.SQLiteStore, logger *slog.Logger) (*Server, error) {
	secret := []byte(cfg.Auth.JWTSecret)
	claims, err := auth.NewJWTVerifier(secret)
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	csrf := auth.NewCSRF(secret)
	baseURL := determineBaseURL(cfg, logger)

	sessions := session.New(s, session.Options{
		SessionTTL: cfg.Auth.SessionTTL,
		ProfileTTL: cfg.Cache.ProfileTTL,
		Logger:     logger,
	})
	changes := events.NewChanges()
	dedupeCache := dedupe.New(cfg.Cache.IdempotencyTTL, cfg.Cache.IdempotencyMaxKeys)

	svc := console.New(s, console.Options{
		Sessions:    sessions,
		Changes:     changes,
		Idempotency: dedupeCache,
		InviteTTL:   cfg.Auth.InviteTTL,
		BaseURL:     baseURL,
		Logger:      logger,
	})
	grantSvc := grants.New(s, sessions, changes, grants.Config{
		MaxTTL:            cfg.Auth.GrantMaxTTL,
		BreakGlassTTL:     cfg.Auth.BreakGlassTTL,
		BreakGlassUserIDs: cfg.Auth.BreakGlassUserIDs,
	}, logger)
	routeGuard := guard.New(guard.DefaultRules(), logger)
	creds := &session.Credentials{Sync: sessions, Claims: claims, Keys: svc}

	srv := &Server{
		config:   cfg,
		store:    s,
		sessions: sessions,
		changes:  changes,
		dedupe:   dedupeCache,
		console:  svc,
		logger:   logger.With("component", "server"),
		baseURL:  baseURL,
	}

	mux := http.NewServeMux()

	// Health endpoint - no auth required
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	apiHandler := api.New(api.Config{
		Console:     svc,
		Grants:      grantSvc,
		Sessions:    sessions,
		Credentials: creds,
		Guard:       routeGuard,
		Accounts:    s,
		Changes:     changes,
		Claims:      claims,
		CSRF:        csrf,
		Idempotency: dedupeCache,
		ClaimTTL:    cfg.Auth.ClaimTTL,
		Logger:      logger,
	})
	apiHandler.RegisterRoutes(mux)

	oauth := newOAuthProvider(cfg.OAuth)
	srv.pages = webadmin.New(webadmin.Config{
		Store:    s,
		Sessions: sessions,
		Console:  svc,
		Grants:   grantSvc,
		Guard:    routeGuard,
		CSRF:     csrf,
		OAuth:    oauth,
		BaseURL:  baseURL,
		Logger:   logger,
	})
	srv.pages.RegisterRoutes(mux)
	logger.Info("dashboard enabled", "base_url", baseURL, "oauth", oauth != nil)

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           creds.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Store returns the server's store.
func (s *Server) Store() *store.SQLiteStore {
	return s.store
}

// Run starts serving and blocks until ctx is canceled or the listener fails.
// Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	hkCtx, stopHousekeeping := context.WithCancel(context.Background())
	s.startHousekeeping(hkCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	stopHousekeeping()
	s.housekeeping.Wait()

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	s.logger.Info("starting agentdash", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "agentdash", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := s.createTailscaleListener(tsCfg)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

func (s *Server) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		s.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := s.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := s.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops serving and releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down agentdash")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}

	s.pages.Close()
	s.changes.Close()
	s.sessions.Close()
	s.dedupe.Close()
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}

// handleHealth answers 200 when the database is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
