// Package webadmin serves the browser side of agentdash.
//
// # Pages
//
//   - /login: password, passkey and (when configured) OAuth sign-in
//   - /invite/{token}: accept a team invite, creating an account if needed
//   - /dashboard/...: instances, analytics, team, API keys and plans
//   - /admin/...: diagnostics, users, admin grants and the audit log
//
// Every page is wrapped in the route guard, so anonymous visitors are sent
// to /login?next=... and members who open an admin page land back on the
// dashboard with a notice. The pages expect session.Credentials.Middleware
// to run first.
//
// # CSRF Protection
//
// Forms shown before a session exists (login, invite sign-up) use a
// double-submit cookie. Everything else carries a token bound to the
// session:
//
//	<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
//
// Scripts read the same token from the csrf-token meta tag and send it in
// the X-CSRF-Token header.
//
// # Live Updates
//
// static/app.js listens on /api/session/events and reloads the page when
// the user's profile or admin grant changes, or returns to /login when the
// session ends.
//
// # Usage
//
//	pages := webadmin.New(webadmin.Config{Store: st, Sessions: sync, ...})
//	defer pages.Close()
//	pages.RegisterRoutes(mux)
package webadmin
