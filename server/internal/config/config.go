package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/reachability/server/internal/availability"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort     = 50051
	DefaultHTTPPort     = 8080
	DefaultPrecision    = availability.DefaultPrecision
	DefaultInterval     = 5 * time.Minute
	DefaultWorkers      = 4
	DefaultQueryTimeout = 5 * time.Second
	DefaultResultTTL    = time.Hour
	DefaultRateLimit    = 20.0
	DefaultRateBurst    = 40
)

// Config is the full configuration tree parsed from config.yaml.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Availability AvailabilityConfig `yaml:"availability"`
	Storage      StorageConfig      `yaml:"storage"`
	Results      ResultsConfig      `yaml:"results"`
	Publish      PublishConfig      `yaml:"publish"`
	Probes       []Probe            `yaml:"probes"`
	Alerts       AlertsConfig       `yaml:"alerts"`
}

// ServerConfig holds listener and authentication settings.
type ServerConfig struct {
	// GRPCPort serves the gRPC health service (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort serves the REST API, /metrics and the WebSocket hub (default 8080).
	HTTPPort int `yaml:"http_port"`

	Auth AuthConfig `yaml:"auth"`

	// RateLimit caps ad-hoc availability queries, in requests per second.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// AuthConfig controls client authentication for gRPC and REST.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key and HTTP header carrying the key.
	// Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// AvailabilityConfig selects how and how often availability is computed.
type AvailabilityConfig struct {
	// Policy is the process-wide accounting policy: increasing | decreasing.
	Policy string `yaml:"policy"`

	// Precision is the number of decimal digits results are rounded to.
	Precision int `yaml:"precision"`

	// Periods lists the windows computed every cycle (day|week|month|year).
	Periods []string `yaml:"periods"`

	// Interval is the time between evaluation cycles.
	Interval time.Duration `yaml:"interval"`

	// Workers bounds the number of devices evaluated concurrently.
	Workers int `yaml:"workers"`
}

// EffectivePolicy returns the parsed policy. Load has already validated it.
func (a AvailabilityConfig) EffectivePolicy() availability.Policy {
	p, err := availability.ParsePolicy(a.Policy)
	if err != nil {
		return availability.PolicyDecreasing
	}
	return p
}

// EffectivePeriods returns the parsed periods, skipping unknown names.
func (a AvailabilityConfig) EffectivePeriods() []availability.Period {
	out := make([]availability.Period, 0, len(a.Periods))
	for _, s := range a.Periods {
		if p, err := availability.ParsePeriod(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// StorageConfig selects where devices and outages are read from.
type StorageConfig struct {
	// Backend is one of: memory | postgres.
	Backend string `yaml:"backend"`

	// DSNEnv names the environment variable holding the Postgres URL.
	DSNEnv string `yaml:"dsn_env"`

	// Fixture is an optional YAML file of devices and outages loaded into
	// the memory backend at startup.
	Fixture string `yaml:"fixture"`

	// QueryTimeout bounds each outage query.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DSN returns the Postgres connection URL resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// ResultsConfig selects where the latest availability records are kept.
type ResultsConfig struct {
	// Backend is one of: memory | redis.
	Backend string `yaml:"backend"`

	// TTL is how long a record stays visible without being refreshed.
	TTL time.Duration `yaml:"ttl"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	KeyPrefix   string `yaml:"key_prefix"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// PublishConfig selects where availability records are published.
type PublishConfig struct {
	// Backend is one of: none | nats | kafka.
	Backend string      `yaml:"backend"`
	NATS    NATSConfig  `yaml:"nats"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

// NATSConfig holds the NATS connection settings.
type NATSConfig struct {
	URL string `yaml:"url"`

	// Subject is the prefix; the device ID is appended as the last token.
	Subject string `yaml:"subject"`
}

// KafkaConfig holds the Kafka writer settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Probe maps a device to a Prometheus endpoint exposing its uptime.
type Probe struct {
	DeviceID string `yaml:"device_id"`

	// Endpoint is the full URL of a node_exporter-style /metrics page.
	Endpoint string `yaml:"endpoint"`

	Timeout time.Duration `yaml:"timeout"`

	Auth ProbeAuth `yaml:"auth"`

	// InsecureSkipVerify disables TLS certificate checks for self-signed
	// device endpoints.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ProbeAuth holds the credentials sent to a probe endpoint.
type ProbeAuth struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header carries the key in apikey mode.
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a ProbeAuth) Key() string { return lookupEnv(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a ProbeAuth) Token() string { return lookupEnv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a ProbeAuth) Password() string { return lookupEnv(a.PasswordEnv) }

func lookupEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is "<period> <op> <threshold>", e.g. "day < 99.9",
	// or "undefined == true".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort:  DefaultGRPCPort,
			HTTPPort:  DefaultHTTPPort,
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultRateBurst,
		},
		Availability: AvailabilityConfig{
			Policy:    string(availability.PolicyDecreasing),
			Precision: DefaultPrecision,
			Periods:   []string{"day", "week", "month", "year"},
			Interval:  DefaultInterval,
			Workers:   DefaultWorkers,
		},
		Storage: StorageConfig{
			Backend:      "memory",
			QueryTimeout: DefaultQueryTimeout,
		},
		Results: ResultsConfig{
			Backend: "memory",
			TTL:     DefaultResultTTL,
			Redis:   RedisConfig{Addr: "localhost:6379", KeyPrefix: "reachability"},
		},
		Publish: PublishConfig{
			Backend: "none",
			NATS:    NATSConfig{Subject: "reachability.availability"},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.RateLimit <= 0 || cfg.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must be positive")
	}

	av := cfg.Availability
	if _, err := availability.ParsePolicy(av.Policy); err != nil {
		return fmt.Errorf("availability.policy: %w", err)
	}
	if av.Precision < 0 || av.Precision > availability.MaxPrecision {
		return fmt.Errorf("availability.precision %d is out of range [0, %d]", av.Precision, availability.MaxPrecision)
	}
	if len(av.Periods) == 0 {
		return fmt.Errorf("availability.periods must list at least one period")
	}
	for i, p := range av.Periods {
		if _, err := availability.ParsePeriod(p); err != nil {
			return fmt.Errorf("availability.periods[%d]: %w", i, err)
		}
	}
	if av.Interval <= 0 {
		return fmt.Errorf("availability.interval must be positive")
	}
	if av.Workers <= 0 {
		return fmt.Errorf("availability.workers must be positive")
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "postgres":
		if cfg.Storage.DSNEnv == "" {
			return fmt.Errorf("storage.dsn_env is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want memory|postgres", cfg.Storage.Backend)
	}
	if cfg.Storage.QueryTimeout <= 0 {
		return fmt.Errorf("storage.query_timeout must be positive")
	}

	switch cfg.Results.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("results.backend %q unknown: want memory|redis", cfg.Results.Backend)
	}
	if cfg.Results.TTL < 0 {
		return fmt.Errorf("results.ttl must not be negative")
	}

	switch cfg.Publish.Backend {
	case "none", "":
	case "nats":
		if cfg.Publish.NATS.URL == "" || cfg.Publish.NATS.Subject == "" {
			return fmt.Errorf("publish.nats.url and publish.nats.subject are required")
		}
	case "kafka":
		if len(cfg.Publish.Kafka.Brokers) == 0 || cfg.Publish.Kafka.Topic == "" {
			return fmt.Errorf("publish.kafka.brokers and publish.kafka.topic are required")
		}
	default:
		return fmt.Errorf("publish.backend %q unknown: want none|nats|kafka", cfg.Publish.Backend)
	}

	for i, p := range cfg.Probes {
		if p.DeviceID == "" {
			return fmt.Errorf("probes[%d]: device_id is required", i)
		}
		if p.Endpoint == "" {
			return fmt.Errorf("probes[%d] %q: endpoint is required", i, p.DeviceID)
		}
		switch p.Auth.Mode {
		case "", "none", "bearer", "basic":
		case "apikey":
			if p.Auth.Header == "" {
				return fmt.Errorf("probes[%d] %q: auth.header is required for apikey mode", i, p.DeviceID)
			}
		default:
			return fmt.Errorf("probes[%d] %q: auth.mode %q unknown: want apikey|bearer|basic|none", i, p.DeviceID, p.Auth.Mode)
		}
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("alerts.rules[%d]: name and condition are required", i)
		}
	}
	return nil
}
