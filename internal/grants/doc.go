// Package grants manages admin grants: explicit, audited, time-boxed
// elevations recorded server-side. A grant is valid only while it is
// unrevoked, unexpired and its email still matches the grantee's profile.
//
// Grants never chain: only a stored owner or admin role may issue one.
// Break-glass self-elevation is limited to user IDs listed in server
// configuration.
package grants
