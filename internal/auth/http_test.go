// ABOUTME: Tests for HTTP authentication middleware
// ABOUTME: Covers authenticator chaining, bearer extraction, admin and scope gates

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func staticAuth(ac *AuthContext, err error) Authenticator {
	return AuthenticatorFunc(func(r *http.Request) (*AuthContext, error) {
		return ac, err
	})
}

func okHandler(got **AuthContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			*got = FromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["error"]
}

func TestHTTPAuthMiddleware_FirstMatchWins(t *testing.T) {
	first := &AuthContext{UserID: "from-cookie", Method: MethodSession}
	second := &AuthContext{UserID: "from-bearer", Method: MethodClaim}

	var got *AuthContext
	h := HTTPAuthMiddleware(staticAuth(nil, nil), staticAuth(first, nil), staticAuth(second, nil))(okHandler(&got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.UserID != "from-cookie" {
		t.Errorf("AuthContext = %+v, want from-cookie", got)
	}
}

func TestHTTPAuthMiddleware_NoCredential(t *testing.T) {
	h := HTTPAuthMiddleware(staticAuth(nil, nil))(okHandler(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if msg := decodeError(t, rec); msg != "not authenticated" {
		t.Errorf("error = %q", msg)
	}
}

func TestHTTPAuthMiddleware_InvalidCredentialStopsChain(t *testing.T) {
	later := &AuthContext{UserID: "never"}
	h := HTTPAuthMiddleware(staticAuth(nil, ErrExpiredToken), staticAuth(later, nil))(okHandler(nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if msg := decodeError(t, rec); msg != ErrExpiredToken.Error() {
		t.Errorf("error = %q, want %q", msg, ErrExpiredToken.Error())
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	var got *AuthContext
	h := OptionalAuthMiddleware(staticAuth(nil, errors.New("bad")))(okHandler(&got))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || got != nil {
		t.Errorf("status = %d ctx = %v, want 200 and anonymous", rec.Code, got)
	}

	ac := &AuthContext{UserID: "u"}
	h = OptionalAuthMiddleware(staticAuth(ac, nil))(okHandler(&got))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got != ac {
		t.Errorf("ctx = %v, want %v", got, ac)
	}
}

func TestRequireAdminHTTP(t *testing.T) {
	tests := []struct {
		name string
		ac   *AuthContext
		want int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"member", &AuthContext{UserID: "u"}, http.StatusForbidden},
		{"admin", &AuthContext{UserID: "u", Admin: true}, http.StatusOK},
		{"admin via key without scope", &AuthContext{UserID: "u", Admin: true, Scopes: []string{ScopeRead}}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAdminHTTP()(okHandler(nil))
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if tt.ac != nil {
				req = req.WithContext(WithAuth(req.Context(), tt.ac))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireScopeHTTP(t *testing.T) {
	h := RequireScopeHTTP(ScopeWrite)(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
	req = req.WithContext(WithAuth(req.Context(), &AuthContext{UserID: "u", Method: MethodAPIKey, Scopes: []string{ScopeRead}}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/plans", nil)
	req = req.WithContext(WithAuth(req.Context(), &AuthContext{UserID: "u", Method: MethodSession}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"", "", false},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"Bearer abc.def", "abc.def", true},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		token, ok := BearerToken(req)
		if token != tt.token || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}
