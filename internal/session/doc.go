// Package session is the server-side session store.
//
// A Synchronizer turns a session cookie, claim token or API key into a
// State: anonymous, loading, authenticated or error. Admin rights are
// derived only here, from the stored profile role or an active admin grant.
// Sign-in, sign-out, token refresh, profile and grant changes are pushed to
// the user's open tabs through Subscribe.
//
// Profiles are cached with a TTL. Concurrent fetches for one user share a
// single store query, and each fetch carries a generation number so an
// older result never replaces a newer one. When a refresh fails the last
// known profile keeps being served.
package session
