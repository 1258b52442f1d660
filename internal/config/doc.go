// Package config handles configuration loading for agent-runtime and agent-relay.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files, chosen by file extension
// (.toml is TOML, anything else is YAML). Environment variables are expanded
// before parsing and defaults are applied before validation.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	relay:
//	  jwt_secret: "${AGENT_RELAY_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  tick_interval: "100ms"
//	relay:
//	  dedupe_ttl: "5m"
//
// # Connections
//
// Each connection names a registered transport type and carries a free-form
// config map handed to that transport's factory:
//
//	connections:
//	  - id: "stub"
//	    type: "stub"
//	    config:
//	      namespace_dir: "/tmp/agents"
//	  - id: "ledger"
//	    type: "ledger"
//	    config:
//	      workers: 2
//
// The same in TOML:
//
//	[[connections]]
//	id = "stub"
//	type = "stub"
//
//	[connections.config]
//	namespace_dir = "/tmp/agents"
//
// # Skills
//
// Skills are enabled by name, each with its own config map:
//
//	skills:
//	  - name: "echo"
//	  - name: "balance_watch"
//	    config:
//	      connection: "ledger"
//	      ledger_id: "fetchai"
//
// # Validation
//
// Load validates the agent sections; LoadRelay validates the relay section.
// Both return the first failure found, wrapped as "validating config".
package config
