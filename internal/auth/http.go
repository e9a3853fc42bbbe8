// ABOUTME: HTTP middleware that resolves credentials into an AuthContext
// ABOUTME: Chains pluggable authenticators (cookie session, claim token, API key)

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Authenticator resolves a request into an identity. It returns (nil, nil)
// when the request carries no credential it understands, and an error when
// it carries one that is invalid.
type Authenticator interface {
	Authenticate(r *http.Request) (*AuthContext, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(r *http.Request) (*AuthContext, error)

// Authenticate calls f(r).
func (f AuthenticatorFunc) Authenticate(r *http.Request) (*AuthContext, error) {
	return f(r)
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	return token, errMsg == ""
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// resolve runs the authenticators in order and returns the first identity.
func resolve(r *http.Request, authenticators []Authenticator) (*AuthContext, error) {
	for _, a := range authenticators {
		authCtx, err := a.Authenticate(r)
		if err != nil {
			return nil, err
		}
		if authCtx != nil {
			return authCtx, nil
		}
	}
	return nil, nil
}

// HTTPAuthMiddleware creates an HTTP middleware that requires one of the
// authenticators to recognise the request, and adds the AuthContext to the
// request context.
func HTTPAuthMiddleware(authenticators ...Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := resolve(r, authenticators)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// OptionalAuthMiddleware attempts authentication but allows anonymous and
// invalid-credential requests through without an AuthContext.
func OptionalAuthMiddleware(authenticators ...Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := resolve(r, authenticators)
			if err != nil || authCtx == nil {
				next.ServeHTTP(w, r) // Continue as anonymous
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires admin rights.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			if !authCtx.IsAdmin() {
				WriteError(w, http.StatusForbidden, "admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireScopeHTTP rejects API-key requests whose key lacks scope.
// Must be used after HTTPAuthMiddleware.
func RequireScopeHTTP(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				WriteError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !authCtx.HasScope(scope) {
				WriteError(w, http.StatusForbidden, "api key lacks scope: "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes a JSON {"error": msg} body with the given status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
