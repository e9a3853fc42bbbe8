// ABOUTME: Synchronizer derives session state server-side and pushes changes to open tabs
// ABOUTME: Profile fetches are cached, de-duplicated per user and generation-stamped

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/2389/agentdash/internal/auth"
	"github.com/2389/agentdash/internal/events"
	"github.com/2389/agentdash/internal/store"
)

// Errors returned by the synchronizer.
var (
	ErrNoSession  = errors.New("no session")
	ErrSuspended  = errors.New("account suspended")
	ErrNoIdentity = errors.New("identity has neither user id nor email")
)

const (
	// DefaultResolveTimeout bounds how long a request waits for a profile
	// fetch before it is answered with the loading state.
	DefaultResolveTimeout = 2 * time.Second

	// fetchTimeout bounds a profile fetch that outlives its request.
	fetchTimeout = 10 * time.Second

	sessionIDBytes = 32
)

// Store is the persistence the synchronizer needs.
type Store interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ExtendSession(ctx context.Context, id string, refreshedAt, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	GetProfile(ctx context.Context, id string) (*store.Profile, error)
	GetProfileByEmail(ctx context.Context, email string) (*store.Profile, error)
	CreateProfile(ctx context.Context, p *store.Profile) error

	ActiveAdminGrant(ctx context.Context, userID, email string, now time.Time) (*store.AdminGrant, error)
}

// Options configures a Synchronizer.
type Options struct {
	SessionTTL     time.Duration
	ProfileTTL     time.Duration
	ResolveTimeout time.Duration
	Logger         *slog.Logger
}

// cachedProfile is a profile cache entry. A zero fetchedAt marks an
// invalidated entry: it must be refetched, but profile is still served if
// the refetch fails.
type cachedProfile struct {
	profile   *store.Profile
	gen       uint64
	fetchedAt time.Time
}

// Synchronizer is the single source of truth for who is signed in and
// whether they are an admin.
type Synchronizer struct {
	store    Store
	opts     Options
	profiles *cache.Cache
	flight   singleflight.Group
	gen      atomic.Uint64
	mu       sync.Mutex // serializes generation checks with cache writes
	events   *events.Broadcaster[Event]
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Synchronizer.
func New(s Store, opts Options) *Synchronizer {
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.ProfileTTL <= 0 {
		opts.ProfileTTL = 5 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 7 * 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Entries outlive ProfileTTL so a stale profile remains available as a
	// fallback when a refresh fails.
	retain := max(12*opts.ProfileTTL, time.Hour)

	return &Synchronizer{
		store:    s,
		opts:     opts,
		profiles: cache.New(retain, 10*time.Minute),
		events:   events.NewBroadcaster[Event](logger, "session-events"),
		logger:   logger.With("component", "session"),
		now:      time.Now,
	}
}

// Close stops event delivery.
func (s *Synchronizer) Close() {
	s.events.Close()
}

// SessionTTL returns the configured session lifetime.
func (s *Synchronizer) SessionTTL() time.Duration {
	return s.opts.SessionTTL
}

// Resolve derives the state for a session cookie value. It never fails:
// problems are logged and reported as anonymous or error states.
func (s *Synchronizer) Resolve(ctx context.Context, sessionID string) State {
	if sessionID == "" {
		return Anonymous("")
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return Anonymous("session expired")
		}
		s.logger.Error("looking up session", "error", err)
		return Errored("session lookup failed")
	}

	return s.stateFor(ctx, sess.ID, sess.UserID, sess.ExpiresAt)
}

// StateForUser derives the state for a request authenticated without a
// browser session (API keys) and for user-wide notifications.
func (s *Synchronizer) StateForUser(ctx context.Context, userID string) State {
	return s.stateFor(ctx, "", userID, time.Time{})
}

// SignIn creates a session for ident, creating the profile on first sign-in.
func (s *Synchronizer) SignIn(ctx context.Context, ident Identity) (*store.Session, State, error) {
	p, err := s.EnsureProfile(ctx, ident)
	if err != nil {
		s.logger.Error("ensuring profile on sign-in", "email", ident.Email, "error", err)
		return nil, Errored("profile unavailable"), err
	}
	if p.Status == store.ProfileSuspended {
		s.logger.Warn("sign-in refused for suspended account", "user_id", p.ID)
		return nil, Anonymous("account suspended"), ErrSuspended
	}

	id, err := auth.GenerateSecureToken(sessionIDBytes)
	if err != nil {
		return nil, Errored("session unavailable"), err
	}

	now := s.now().UTC()
	sess := &store.Session{
		ID:        id,
		UserID:    p.ID,
		UserAgent: ident.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, Errored("session unavailable"), fmt.Errorf("creating session: %w", err)
	}

	s.put(p.ID, p, s.gen.Add(1))
	st := s.derive(ctx, sess.ID, p, sess.ExpiresAt)
	s.publish(EventSignedIn, p.ID, sess.ID, st)

	s.logger.Info("signed in", "user_id", p.ID, "admin", st.IsAdmin)
	return sess, st, nil
}

// SignOut destroys a session. Signing out an unknown session is not an error.
func (s *Synchronizer) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("looking up session: %w", err)
	}
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if sess == nil {
		return nil
	}

	s.evict(sess.UserID)
	s.publish(EventSignedOut, sess.UserID, sessionID, Anonymous("signed out"))
	s.logger.Info("signed out", "user_id", sess.UserID)
	return nil
}

// SignOutEverywhere destroys every session of a user, used when an account
// is suspended or deleted.
func (s *Synchronizer) SignOutEverywhere(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting user sessions: %w", err)
	}
	s.evict(userID)
	s.publish(EventSignedOut, userID, "", Anonymous("signed out"))
	return n, nil
}

// Refresh slides a session's expiry and re-derives its state from a fresh
// profile. If the profile cannot be refetched the last known one is kept.
func (s *Synchronizer) Refresh(ctx context.Context, sessionID string) (*store.Session, State, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, Anonymous("session expired"), ErrNoSession
		}
		return nil, Errored("session lookup failed"), fmt.Errorf("looking up session: %w", err)
	}

	now := s.now().UTC()
	expires := now.Add(s.opts.SessionTTL)
	if err := s.store.ExtendSession(ctx, sess.ID, now, expires); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return nil, Anonymous("session expired"), ErrNoSession
		}
		return nil, Errored("session refresh failed"), fmt.Errorf("extending session: %w", err)
	}
	sess.RefreshedAt = now
	sess.ExpiresAt = expires

	s.InvalidateProfile(sess.UserID)
	st := s.stateFor(ctx, sess.ID, sess.UserID, expires)
	s.publish(EventTokenRefreshed, sess.UserID, sess.ID, st)

	return sess, st, nil
}

// EnsureProfile returns the profile for ident, creating it when no profile
// with that ID or email exists yet.
func (s *Synchronizer) EnsureProfile(ctx context.Context, ident Identity) (*store.Profile, error) {
	if ident.UserID != "" {
		p, err := s.loadProfile(ctx, ident.UserID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrProfileNotFound) {
			return nil, err
		}
	}

	email := store.NormalizeEmail(ident.Email)
	if email == "" {
		return nil, ErrNoIdentity
	}

	p, err := s.store.GetProfileByEmail(ctx, email)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrProfileNotFound) {
		return nil, fmt.Errorf("looking up profile by email: %w", err)
	}

	id := ident.UserID
	if id == "" {
		id = uuid.New().String()
	}
	p = &store.Profile{
		ID:          id,
		Email:       email,
		DisplayName: ident.DisplayName,
		AvatarURL:   ident.AvatarURL,
	}
	if err := s.store.CreateProfile(ctx, p); err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			// Lost a race with a concurrent first sign-in.
			return s.store.GetProfileByEmail(ctx, email)
		}
		return nil, fmt.Errorf("creating profile: %w", err)
	}

	s.logger.Info("created profile on first sign-in", "user_id", p.ID)
	return p, nil
}

// InvalidateProfile marks the cached profile stale. Any fetch already in
// flight for the user can no longer overwrite the cache.
func (s *Synchronizer) InvalidateProfile(userID string) {
	s.flight.Forget(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	var last *store.Profile
	if e, ok := s.cached(userID); ok {
		last = e.profile
	}
	s.profiles.Set(userID, &cachedProfile{profile: last, gen: s.gen.Add(1)}, cache.DefaultExpiration)
}

// NotifyProfileUpdated refetches a user's profile and pushes the new state.
func (s *Synchronizer) NotifyProfileUpdated(ctx context.Context, userID string) State {
	s.InvalidateProfile(userID)
	st := s.StateForUser(ctx, userID)
	s.publish(EventProfileUpdated, userID, "", st)
	return st
}

// NotifyGrantChanged pushes a user's state after an admin grant was issued
// or revoked.
func (s *Synchronizer) NotifyGrantChanged(ctx context.Context, userID string) State {
	st := s.StateForUser(ctx, userID)
	s.publish(EventGrantChanged, userID, "", st)
	return st
}

// Subscribe returns a channel of events for userID, closed when ctx ends.
func (s *Synchronizer) Subscribe(ctx context.Context, userID string) <-chan Event {
	ch, _ := s.events.Subscribe(ctx, userID)
	return ch
}

// SweepExpired deletes expired sessions.
func (s *Synchronizer) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpiredSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("swept expired sessions", "count", n)
	}
	return n, nil
}

// CacheStats reports profile cache occupancy.
type CacheStats struct {
	Profiles int `json:"profiles"`
}

// CacheStats returns a snapshot of the profile cache.
func (s *Synchronizer) CacheStats() CacheStats {
	return CacheStats{Profiles: s.profiles.ItemCount()}
}

// stateFor loads the profile behind a user ID and derives its state.
func (s *Synchronizer) stateFor(ctx context.Context, sessionID, userID string, expiresAt time.Time) State {
	rctx, cancel := context.WithTimeout(ctx, s.opts.ResolveTimeout)
	defer cancel()

	p, err := s.loadProfile(rctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrProfileNotFound):
		return Anonymous("profile not found")
	default:
		if last := s.lastKnown(userID); last != nil {
			s.logger.Warn("profile refresh failed, keeping last known profile", "user_id", userID, "error", err)
			p = last
			break
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Loading(sessionID, &Identity{UserID: userID})
		}
		s.logger.Error("loading profile", "user_id", userID, "error", err)
		return Errored("profile unavailable")
	}

	return s.derive(ctx, sessionID, p, expiresAt)
}

// derive computes the authenticated state for a profile. This is the only
// place admin rights are decided.
func (s *Synchronizer) derive(ctx context.Context, sessionID string, p *store.Profile, expiresAt time.Time) State {
	if p.Status == store.ProfileSuspended {
		return Anonymous("account suspended")
	}

	profile := *p
	st := State{
		Kind:      KindAuthenticated,
		SessionID: sessionID,
		User: &Identity{
			UserID:      profile.ID,
			Email:       profile.Email,
			DisplayName: profile.Name(),
			AvatarURL:   profile.AvatarURL,
		},
		Profile:   &profile,
		ExpiresAt: expiresAt,
	}

	grant, err := s.store.ActiveAdminGrant(ctx, profile.ID, profile.Email, s.now())
	if err != nil && !errors.Is(err, store.ErrGrantNotFound) {
		// Fail closed: a lookup error never grants admin.
		s.logger.Warn("looking up admin grant", "user_id", profile.ID, "error", err)
	}
	if err == nil {
		st.Grant = grant
	}

	st.IsAdmin = profile.Role.IsAdministrative() || st.Grant != nil
	return st
}

// loadProfile returns a fresh profile from the cache or the store. Concurrent
// loads for one user share a single fetch; the fetch outlives ctx so a
// request that gives up still warms the cache.
func (s *Synchronizer) loadProfile(ctx context.Context, userID string) (*store.Profile, error) {
	if e, ok := s.cached(userID); ok && e.profile != nil && s.fresh(e) {
		return e.profile, nil
	}

	ch := s.flight.DoChan(userID, func() (any, error) {
		gen := s.gen.Add(1)

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		p, err := s.store.GetProfile(fctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrProfileNotFound) {
				s.drop(userID, gen)
			}
			return nil, err
		}
		s.put(userID, p, gen)
		return p, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p, _ := res.Val.(*store.Profile)
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Synchronizer) cached(userID string) (*cachedProfile, bool) {
	v, ok := s.profiles.Get(userID)
	if !ok {
		return nil, false
	}
	e, ok := v.(*cachedProfile)
	return e, ok
}

func (s *Synchronizer) fresh(e *cachedProfile) bool {
	return !e.fetchedAt.IsZero() && s.now().Sub(e.fetchedAt) < s.opts.ProfileTTL
}

func (s *Synchronizer) lastKnown(userID string) *store.Profile {
	if e, ok := s.cached(userID); ok {
		return e.profile
	}
	return nil
}

// put stores a fetched profile unless a newer generation is already cached.
func (s *Synchronizer) put(userID string, p *store.Profile, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cached(userID); ok && e.gen > gen {
		s.logger.Debug("discarding stale profile fetch", "user_id", userID, "gen", gen, "cached_gen", e.gen)
		return
	}
	s.profiles.Set(userID, &cachedProfile{profile: p, gen: gen, fetchedAt: s.now()}, cache.DefaultExpiration)
}

// drop removes a user's entry unless a newer generation is cached.
func (s *Synchronizer) drop(userID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cached(userID); ok && e.gen > gen {
		return
	}
	s.profiles.Delete(userID)
}

func (s *Synchronizer) evict(userID string) {
	s.flight.Forget(userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles.Delete(userID)
}

func (s *Synchronizer) publish(t EventType, userID, sessionID string, st State) {
	n := s.events.Publish(userID, Event{
		Type:      t,
		UserID:    userID,
		SessionID: sessionID,
		State:     st,
		At:        s.now().UTC(),
	}, "")
	s.logger.Debug("published session event", "type", t, "user_id", userID, "subscribers", n)
}
