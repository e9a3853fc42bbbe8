// Package config handles configuration loading for agentdash.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTDASH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentdash/config.yaml
//  3. ~/.config/agentdash/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${AGENTDASH_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	auth:
//	  session_ttl: "168h"
//	  claim_ttl: "15m"
//	  grant_max_ttl: "1h"
//	  break_glass_ttl: "30m"
//
// # Configuration Sections
//
//	server:     http_addr, shutdown_timeout
//	tailscale:  enabled, hostname, auth_key, state_dir, ephemeral, funnel, https
//	database:   path
//	auth:       jwt_secret, session/claim/grant/invite TTLs, break_glass_user_ids, sweep_interval
//	oauth:      one generic provider (client id/secret, auth/token/userinfo URLs)
//	cache:      profile_ttl, idempotency_ttl, idempotency_max_keys
//	logging:    level, format (text|json)
//	webadmin:   base_url
//
// # Admin elevation
//
// Nobody is an administrator by configuration alone. break_glass_user_ids
// only lists profile IDs that may self-issue a grant of at most
// break_glass_ttl; the grant is audited like any other.
package config
