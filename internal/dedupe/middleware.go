// ABOUTME: HTTP middleware that makes mutations idempotent on the Idempotency-Key header
// ABOUTME: Duplicates of a finished request replay it; concurrent duplicates get 409

package dedupe

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
)

// Header names used by the middleware.
const (
	KeyHeader      = "Idempotency-Key"
	ReplayedHeader = "Idempotent-Replayed"
)

const maxKeyLength = 255

// ScopeFunc returns the identity a key is scoped to, so two users can
// never collide on the same key. Returning "" disables dedupe for the request.
type ScopeFunc func(r *http.Request) string

// Middleware wraps mutating requests (POST, PUT, PATCH, DELETE) that carry
// an Idempotency-Key. Responses with status < 500 are stored and replayed;
// server errors are forgotten so the client may retry.
func Middleware(c *Cache, scope ScopeFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idem := strings.TrimSpace(r.Header.Get(KeyHeader))
			if idem == "" || !isMutation(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if len(idem) > maxKeyLength {
				writeJSONError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			owner := scope(r)
			if owner == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := owner + "\x00" + r.Method + "\x00" + r.URL.Path + "\x00" + idem

			outcome, stored := c.Begin(key)
			switch outcome {
			case InFlight:
				writeJSONError(w, http.StatusConflict, "a request with this idempotency key is still in progress")
				return
			case Replay:
				for k, vs := range stored.Header {
					for _, v := range vs {
						w.Header().Add(k, v)
					}
				}
				w.Header().Set(ReplayedHeader, "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					c.Abort(key)
					panic(p)
				}
			}()
			next.ServeHTTP(rec, r)

			if rec.status >= http.StatusInternalServerError {
				c.Abort(key)
				return
			}
			c.Complete(key, &Response{
				Status: rec.status,
				Header: rec.Header().Clone(),
				Body:   rec.body.Bytes(),
			})
		})
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// recorder tees the response into a buffer while writing it through.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
