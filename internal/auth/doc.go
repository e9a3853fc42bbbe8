// Package auth provides credential handling for agentdash.
//
// # Credentials
//
//   - Passwords: bcrypt hashes (HashPassword, CheckPassword)
//   - Claim tokens: short-lived HS256 JWTs carrying sub, email, role,
//     adm (admin right now) and gid (grant id) - see JWTVerifier
//   - OAuth: authorization code + PKCE against one configured provider
//   - CSRF: HMAC tokens bound to the browser session ID
//
// # Request identity
//
// HTTPAuthMiddleware runs a chain of Authenticators and stores the first
// resolved AuthContext in the request context:
//
//	mw := auth.HTTPAuthMiddleware(cookieAuth, claimAuth, apiKeyAuth)
//	mux.Handle("GET /api/plans", mw(handler))
//
// The Admin flag on AuthContext is always derived on the server, from the
// stored profile role or an active admin grant. Nothing the client sends can
// set it.
//
// Handlers retrieve identity with FromContext. RequireAdminHTTP and
// RequireScopeHTTP gate routes further.
package auth
