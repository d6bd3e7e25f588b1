// Package config handles configuration loading for fluxer-bot.
//
// # Configuration File
//
// Files ending in .toml are parsed as TOML; anything else is YAML. Values
// may reference environment variables with ${VAR_NAME}:
//
//	fluxer:
//	  token: "${FLUXER_BOT_TOKEN}"
//	  base_url: "https://api.fluxer.app"
//	  api_version: "1"
//	  intents: ["default", "message_content"]
//
//	gateway:
//	  url: ""                         # skip REST discovery when set
//	  encoding: "json"
//	  handshake_timeout: "30s"
//	  invalid_session_backoff: "5s"
//	  write_timeout: "10s"
//
//	cache:
//	  messages: 1000
//
//	ledger:
//	  enabled: false
//	  path: "fluxer-ledger.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9090"
//	  path: "/metrics"
//
// # Environment Overrides
//
// After parsing, FLUXER_TOKEN, FLUXER_BASE_URL and FLUXER_LOG_LEVEL replace
// the corresponding file values when set.
package config
