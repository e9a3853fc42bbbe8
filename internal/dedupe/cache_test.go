// ABOUTME: Tests for the idempotency cache and its HTTP middleware.
// ABOUTME: Validates TTL expiration, in-flight detection, replay, eviction and concurrency.

package dedupe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Begin_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	outcome, resp := cache.Begin("k")
	assert.Equal(t, Started, outcome)
	assert.Nil(t, resp)
}

func TestCache_Begin_InFlight(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k")
	outcome, _ := cache.Begin("k")
	assert.Equal(t, InFlight, outcome)
}

func TestCache_Complete_Replays(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k")
	cache.Complete("k", &Response{Status: http.StatusCreated, Body: []byte(`{"id":"1"}`)})

	outcome, resp := cache.Begin("k")
	require.Equal(t, Replay, outcome)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, `{"id":"1"}`, string(resp.Body))
	assert.Equal(t, int64(1), cache.Stats().Replays)
}

func TestCache_Abort_AllowsRetry(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	cache.Begin("k")
	cache.Abort("k")

	outcome, _ := cache.Begin("k")
	assert.Equal(t, Started, outcome)
}

func TestCache_Expired(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Begin("k")
	cache.Complete("k", &Response{Status: http.StatusOK})

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	outcome, _ := cache.Begin("k")
	assert.Equal(t, Started, outcome, "expired key should start fresh")
}

func TestCache_Eviction(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		cache.Begin(k)
	}

	assert.Equal(t, 3, cache.Stats().Entries)
	outcome, _ := cache.Begin("a")
	assert.Equal(t, Started, outcome, "oldest key should have been evicted")
}

func TestCache_Cleanup(t *testing.T) {
	cache := New(time.Minute, 100)
	defer cache.Close()

	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Begin("old")

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	cache.Begin("new")
	cache.runCleanup()

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.InFlight)
}

func TestCache_Begin_Atomic(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if outcome, _ := cache.Begin("same"); outcome == Started {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load(), "exactly one goroutine should start the key")
}

func TestCache_Close(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Close()
	cache.Close()
}

func scopeByHeader(r *http.Request) string {
	return r.Header.Get("X-User")
}

func TestMiddleware_ReplaysFinishedRequest(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var calls atomic.Int32
	h := Middleware(cache, scopeByHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"plan-1"}`))
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/plans", strings.NewReader(`{}`))
		req.Header.Set(KeyHeader, "abc")
		req.Header.Set("X-User", "u1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	second := send()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"id":"plan-1"}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.Empty(t, first.Header().Get(ReplayedHeader))
}

func TestMiddleware_ScopedPerUser(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var calls atomic.Int32
	h := Middleware(cache, scopeByHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	for _, user := range []string{"u1", "u2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
		req.Header.Set(KeyHeader, "same-key")
		req.Header.Set("X-User", user)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_ServerErrorNotStored(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var calls atomic.Int32
	h := Middleware(cache, scopeByHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/keys", nil)
		req.Header.Set(KeyHeader, "retry-me")
		req.Header.Set("X-User", "u1")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, int32(2), calls.Load())
}

func TestMiddleware_InFlightConflict(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	h := Middleware(cache, scopeByHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/instances", nil)
		req.Header.Set(KeyHeader, "slow")
		req.Header.Set("X-User", "u1")
		return req
	}

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), newReq())
		close(done)
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newReq())
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	<-done
}

func TestMiddleware_PassesThrough(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var calls atomic.Int32
	h := Middleware(cache, scopeByHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	// GET is never deduplicated
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
		req.Header.Set(KeyHeader, "k")
		req.Header.Set("X-User", "u1")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	// no key
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
		req.Header.Set("X-User", "u1")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	// anonymous
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
		req.Header.Set(KeyHeader, "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, 0, cache.Stats().Entries)
}

func TestMiddleware_KeyTooLong(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	h := Middleware(cache, scopeByHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
	req.Header.Set(KeyHeader, strings.Repeat("x", 300))
	req.Header.Set("X-User", "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
