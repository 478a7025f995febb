package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, the X-Client-ID header is accepted and API key validation is relaxed.
	Mode string

	// Database
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Datastore backend type
	DatastoreType string // "mongo", "gorm", or "memory"

	// Redis
	RedisURL string

	// Cache backend type
	CacheType string // "redis", "ristretto", or "none"

	// Resolved-message cache TTL.
	CacheTTL time.Duration

	// Ristretto sizing.
	RistrettoMaxCost     int64
	RistrettoNumCounters int64

	// Completion provider type
	GenAIType string // "openai" or "echo"

	// OpenAI
	OpenAIAPIKey    string
	OpenAIModelName string
	OpenAIBaseURL   string

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=chat-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or CHAT_SERVICE_MANAGEMENT_PORT)
	// was explicitly provided. When false, management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints (/health, /ready, /metrics).
	// Disabled by default to suppress high-frequency probe noise from the access log.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Security
	// APIKeys maps API key values to client IDs (CHAT_SERVICE_API_KEYS_<CLIENT_ID>=<key>).
	APIKeys map[string]string // key value → clientId

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Search
	SearchResultLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "gorm",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		RistrettoMaxCost:        64 * 1024 * 1024, // 64 MB
		RistrettoNumCounters:    100_000,
		GenAIType:               "echo",
		OpenAIModelName:         "gpt-4o-mini",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:       1 * 1024 * 1024,
		DrainTimeout:      30,
		DBMaxOpenConns:    25,
		DBMaxIdleConns:    5,
		SearchResultLimit: 25,
	}
}
