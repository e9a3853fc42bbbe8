// Package guard gates navigation. Each path has an access level (public,
// authenticated or admin) chosen by the longest matching prefix rule.
//
// Decide never redirects while a session is loading; it reports pending and
// the caller retries. Signed-out visitors go to the login page with a next
// parameter, and signed-in non-admins asking for admin pages go back to the
// dashboard with a notice.
package guard
