// Package config loads and watches the server configuration file (config.yaml).
//
// Top-level sections:
//   - server: grpc_port, http_port, auth (mode, key_env, header), rate_limit
//   - availability: policy (increasing|decreasing), precision, periods,
//     interval, workers
//   - storage: backend (memory|postgres), dsn_env, fixture, query_timeout
//   - results: backend (memory|redis), ttl, redis connection
//   - publish: backend (none|nats|kafka) and per-backend settings
//   - probes: device_id to node_exporter endpoint for live uptime
//   - alerts: rules and webhooks
//
// Secrets are never stored inline: *_env fields name environment variables
// that accessor methods (Key, DSN, Password, URL) resolve at call time.
//
// Load(path) applies defaults, parses YAML and validates enums and ranges.
// Watch(ctx, path, onChange) uses fsnotify to reload on write and hands the
// new Config to onChange; an invalid file keeps the previous config.
//
// Holder stores the active Config behind an atomic pointer so the
// availability policy can be swapped without restarting the server.
package config
