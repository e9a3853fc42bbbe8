// Package server assembles agentdash: it opens the store, builds the
// session synchronizer, dashboard services and route guard, mounts the
// JSON API and the HTML pages on one mux behind the credential middleware,
// and serves it on a TCP address or as a tailnet node.
//
// A housekeeping loop removes expired sessions and invites every
// auth.sweep_interval. Run blocks until its context is canceled and then
// shuts everything down in order.
package server
