// Package api serves the dashboard's JSON HTTP API.
//
// Every route runs behind the session credentials middleware, the route
// guard and, for cookie-authenticated mutations, a CSRF check. Mutations
// honour the Idempotency-Key header. Two Server-Sent Event streams replace
// polling: /api/session/events pushes the caller's session changes and
// /api/changes pushes list invalidations.
package api
