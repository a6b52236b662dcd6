// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
}

// Postgres captures the database connection settings.
type Postgres struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Redis captures the catalog cache settings. An empty URL disables caching.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// Kafka captures the audit relay settings. Empty brokers disable the relay
// and audit events stay in the outbox.
type Kafka struct {
	Brokers       []string
	RelayInterval time.Duration
	RelayBatch    int
}

// Resolution captures engine tuning.
type Resolution struct {
	// MergePolicy is "field" or "record"; field-granular merging is the
	// default.
	MergePolicy string
	LockTimeout time.Duration
	RunTimeout  time.Duration
}

// Config is the full application configuration.
type Config struct {
	Server     Server
	Postgres   Postgres
	Redis      Redis
	Kafka      Kafka
	Resolution Resolution
}

// FromEnv reads configuration from CONTROLPLANE_* environment variables,
// applying development defaults for everything but the database DSN.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("CONTROLPLANE_ADDR", ":8080"),
			ShutdownTimeout: envDuration("CONTROLPLANE_SHUTDOWN_TIMEOUT", 15*time.Second),
			JWTSigningKey:   envString("CONTROLPLANE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       envString("CONTROLPLANE_JWT_ISSUER", "controlplane"),
			JWTAudience:     envString("CONTROLPLANE_JWT_AUDIENCE", "controlplane-api"),
		},
		Postgres: Postgres{
			DSN:             os.Getenv("CONTROLPLANE_POSTGRES_DSN"),
			MaxOpenConns:    envInt("CONTROLPLANE_POSTGRES_MAX_OPEN", 25),
			MaxIdleConns:    envInt("CONTROLPLANE_POSTGRES_MAX_IDLE", 5),
			ConnMaxLifetime: envDuration("CONTROLPLANE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: Redis{
			URL:          os.Getenv("CONTROLPLANE_REDIS_URL"),
			PoolSize:     envInt("CONTROLPLANE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CONTROLPLANE_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CONTROLPLANE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CONTROLPLANE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CONTROLPLANE_REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     envDuration("CONTROLPLANE_CATALOG_CACHE_TTL", 5*time.Minute),
		},
		Kafka: Kafka{
			Brokers:       envList("CONTROLPLANE_KAFKA_BROKERS"),
			RelayInterval: envDuration("CONTROLPLANE_AUDIT_RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    envInt("CONTROLPLANE_AUDIT_RELAY_BATCH", 100),
		},
		Resolution: Resolution{
			MergePolicy: envString("CONTROLPLANE_MERGE_POLICY", "field"),
			LockTimeout: envDuration("CONTROLPLANE_LOCK_TIMEOUT", 30*time.Second),
			RunTimeout:  envDuration("CONTROLPLANE_RUN_TIMEOUT", 2*time.Minute),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
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

func envDuration(key string, fallback time.Duration) time.Duration {
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

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
