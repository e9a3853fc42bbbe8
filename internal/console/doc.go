// Package console holds the dashboard's form-backed services: plans, API
// keys, AI instances, team membership, channel configuration, analytics,
// admin user management and diagnostics.
//
// Every operation takes the acting *auth.AuthContext. Input is validated
// with go-playground/validator and reported as a *ValidationError; records
// owned by someone else are reported as not found. Each mutation writes an
// audit entry and publishes an events.Change so open list views refresh.
package console
