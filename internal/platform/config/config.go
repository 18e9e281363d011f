// Package config loads process configuration from PRISM_* environment
// variables so main stays lean. Defaults suit local development; production
// deployments override through the environment only.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "prism/pkg/platform/strings"
)

// Store backend selectors.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr     string
	Env      string // dev | prod
	LogLevel string
}

// PostgresConfig configures both the database/sql handle (cache, audit) and
// the pgx pool (ledger).
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay.
type KafkaConfig struct {
	Brokers        []string
	AuditTopic     string
	RelayInterval  time.Duration
	RelayBatchSize int
}

// LedgerConfig selects the credit ledger backend and reservation policy.
type LedgerConfig struct {
	Store           string
	ReservationTTL  time.Duration
	JanitorInterval time.Duration
}

// CacheConfig selects the profile cache backend and retention policy.
type CacheConfig struct {
	Store         string
	TTL           time.Duration
	MaxEntries    int
	PurgeInterval time.Duration
}

// AuditConfig selects the audit store and emission policy.
type AuditConfig struct {
	Store             string
	AttemptEntries    bool // log every vendor-call attempt, not only terminals
	Retention         time.Duration
	RetentionInterval time.Duration
	AsyncBuffer       int // 0 = synchronous publisher
}

// EnrichConfig tunes the orchestrator.
type EnrichConfig struct {
	VendorTimeout     time.Duration
	BatchConcurrency  int
	DefaultLegalBasis string
}

// AuthConfig carries token verification material. AdminTokenHash is a bcrypt
// hash; the plaintext admin token never appears in configuration.
type AuthConfig struct {
	JWTSigningKey  string
	JWTIssuer      string
	JWTAudience    string
	AdminTokenHash string
}

// VendorConfig is one vendor descriptor, loaded at startup and read-only
// during request processing.
type VendorConfig struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"` // http | static
	UnitCostCents int64  `json:"unit_cost_cents"`
	QualityTier   int    `json:"quality_tier"`
	Enabled       bool   `json:"enabled"`
	BaseURL       string `json:"base_url,omitempty"`
	APIKey        string `json:"api_key,omitempty"`
}

// Config aggregates every subsystem's settings.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Ledger   LedgerConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Enrich   EnrichConfig
	Auth     AuthConfig
	Vendors  []VendorConfig
}

// Load builds a Config from the environment. It returns an error only for
// values that cannot be parsed; cross-field consistency is Validate's job.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:     getEnv("PRISM_ADDR", ":8080"),
			Env:      getEnv("PRISM_ENV", "dev"),
			LogLevel: getEnv("PRISM_LOG_LEVEL", "info"),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("PRISM_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("PRISM_POSTGRES_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("PRISM_POSTGRES_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("PRISM_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getEnv("PRISM_REDIS_URL", ""),
			PoolSize:     getEnvInt("PRISM_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("PRISM_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("PRISM_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("PRISM_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("PRISM_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        splitNonEmpty(getEnv("PRISM_KAFKA_BROKERS", "")),
			AuditTopic:     getEnv("PRISM_KAFKA_AUDIT_TOPIC", "prism.audit.entries"),
			RelayInterval:  getEnvDuration("PRISM_KAFKA_RELAY_INTERVAL", 2*time.Second),
			RelayBatchSize: getEnvInt("PRISM_KAFKA_RELAY_BATCH_SIZE", 100),
		},
		Ledger: LedgerConfig{
			Store:           getEnv("PRISM_LEDGER_STORE", StoreMemory),
			ReservationTTL:  getEnvDuration("PRISM_RESERVATION_TTL", 2*time.Minute),
			JanitorInterval: getEnvDuration("PRISM_RESERVATION_JANITOR_INTERVAL", 30*time.Second),
		},
		Cache: CacheConfig{
			Store:         getEnv("PRISM_CACHE_STORE", StoreMemory),
			TTL:           getEnvDuration("PRISM_CACHE_TTL", 30*24*time.Hour),
			MaxEntries:    getEnvInt("PRISM_CACHE_MAX_ENTRIES", 100_000),
			PurgeInterval: getEnvDuration("PRISM_CACHE_PURGE_INTERVAL", time.Hour),
		},
		Audit: AuditConfig{
			Store:             getEnv("PRISM_AUDIT_STORE", StoreMemory),
			AttemptEntries:    getEnvBool("PRISM_AUDIT_ATTEMPT_ENTRIES", true),
			Retention:         getEnvDuration("PRISM_AUDIT_RETENTION", 2*365*24*time.Hour),
			RetentionInterval: getEnvDuration("PRISM_AUDIT_RETENTION_INTERVAL", 24*time.Hour),
			AsyncBuffer:       getEnvInt("PRISM_AUDIT_ASYNC_BUFFER", 0),
		},
		Enrich: EnrichConfig{
			VendorTimeout:     getEnvDuration("PRISM_VENDOR_TIMEOUT", 10*time.Second),
			BatchConcurrency:  getEnvInt("PRISM_BATCH_CONCURRENCY", 4),
			DefaultLegalBasis: getEnv("PRISM_DEFAULT_LEGAL_BASIS", "legitimate_interest"),
		},
		Auth: AuthConfig{
			JWTSigningKey:  getEnv("PRISM_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:      getEnv("PRISM_JWT_ISSUER", "prism"),
			JWTAudience:    getEnv("PRISM_JWT_AUDIENCE", "prism-api"),
			AdminTokenHash: getEnv("PRISM_ADMIN_TOKEN_HASH", ""),
		},
	}

	vendors, err := parseVendors(getEnv("PRISM_VENDORS", ""))
	if err != nil {
		return nil, err
	}
	cfg.Vendors = vendors

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work, before any store or
// client is constructed.
func (c *Config) Validate() error {
	switch c.Ledger.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("ledger store %q requires PRISM_POSTGRES_URL", c.Ledger.Store)
		}
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("ledger store %q requires PRISM_REDIS_URL", c.Ledger.Store)
		}
	default:
		return fmt.Errorf("unknown ledger store %q", c.Ledger.Store)
	}

	switch c.Cache.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("cache store %q requires PRISM_POSTGRES_URL", c.Cache.Store)
		}
	default:
		return fmt.Errorf("unknown cache store %q", c.Cache.Store)
	}

	switch c.Audit.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("audit store %q requires PRISM_POSTGRES_URL", c.Audit.Store)
		}
	default:
		return fmt.Errorf("unknown audit store %q", c.Audit.Store)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Enrich.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be at least 1, got %d", c.Enrich.BatchConcurrency)
	}
	if c.Audit.Retention < 2*365*24*time.Hour {
		return fmt.Errorf("audit retention must be at least 2 years, got %s", c.Audit.Retention)
	}

	seen := make(map[string]bool, len(c.Vendors))
	for _, v := range c.Vendors {
		if v.Name == "" {
			return fmt.Errorf("vendor descriptor missing name")
		}
		if seen[v.Name] {
			return fmt.Errorf("duplicate vendor descriptor %q", v.Name)
		}
		seen[v.Name] = true
		if v.UnitCostCents < 0 {
			return fmt.Errorf("vendor %q has negative unit cost", v.Name)
		}
		switch v.Kind {
		case "http":
			if v.BaseURL == "" {
				return fmt.Errorf("http vendor %q requires base_url", v.Name)
			}
		case "static":
		default:
			return fmt.Errorf("vendor %q has unknown kind %q", v.Name, v.Kind)
		}
	}
	return nil
}

// parseVendors decodes the PRISM_VENDORS JSON array. An empty value yields a
// pair of static dev vendors so a bare `go run ./cmd/server` can enrich.
func parseVendors(raw string) ([]VendorConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return []VendorConfig{
			{Name: "clearbook", Kind: "static", UnitCostCents: 2, QualityTier: 2, Enabled: true},
			{Name: "peopledata", Kind: "static", UnitCostCents: 5, QualityTier: 3, Enabled: true},
		}, nil
	}
	var vendors []VendorConfig
	if err := json.Unmarshal([]byte(raw), &vendors); err != nil {
		return nil, fmt.Errorf("parse PRISM_VENDORS: %w", err)
	}
	return vendors, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// splitNonEmpty parses a comma-separated env value. Repeated entries
// collapse to one so a duplicated broker address cannot skew client
// bootstrapping.
func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := pstrings.DedupeAndTrim(strings.Split(s, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
