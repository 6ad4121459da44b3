package internal

import (
	"fmt"
	"runtime"
	"time"
)

// PGConfig is the Postgres connection configuration shared by every
// CLI subcommand, matching the teacher's pgconfig struct shape.
type PGConfig struct {
	PostgresHost     string `default:"localhost" env:"POSTGRES_HOST" help:"Postgres host."`
	PostgresUser     string `default:"postgres" env:"POSTGRES_USER" help:"Postgres user."`
	PostgresPassword string `default:"" env:"POSTGRES_PASSWORD" help:"Postgres password."`
	PostgresPort     int    `default:"5432" env:"POSTGRES_PORT" help:"Postgres port."`
	PostgresDatabase string `default:"shelfcache" env:"POSTGRES_DATABASE" help:"Postgres database to use."`
	DatabaseEnabled  bool   `default:"true" env:"FEATURE_DATABASE_ENABLED" help:"feature.database.enabled -- disable the relational tier entirely."`
}

// DSN returns the database's DSN based on the provided flags.
func (c *PGConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.PostgresUser,
		c.PostgresPassword,
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDatabase,
	)
}

// LogConfig matches the teacher's logconfig struct shape.
type LogConfig struct {
	Verbose bool `help:"log.verbose -- increase log verbosity" env:"LOG_VERBOSE"`
}

func (c *LogConfig) Run() error {
	SetLogLevel(c.Verbose)
	return nil
}

// ProviderConfig configures the three provider adapters (C2).
type ProviderConfig struct {
	PrimaryHost     string `default:"www.googleapis.com" env:"PRIMARY_HOST" help:"Primary provider host."`
	PrimaryAPIKey   string `env:"PROVIDER_API_KEY" help:"provider.api-key -- primary provider API key."`
	SecondaryHost   string `default:"openlibrary.org" env:"SECONDARY_HOST" help:"Secondary provider host."`
	EditorialHost   string `default:"www.nytimes.com" env:"EDITORIAL_HOST" help:"Editorial provider host."`
	ExternalFallback bool  `default:"true" env:"FEATURE_EXTERNAL_FALLBACK_ENABLED" help:"feature.external-fallback.enabled -- allow falling through to external providers on a cache miss."`
}

// CircuitConfig configures the breaker (C3).
type CircuitConfig struct {
	Window      time.Duration `default:"1m" env:"CIRCUIT_WINDOW" help:"circuit.window"`
	Threshold   int           `default:"5" env:"CIRCUIT_THRESHOLD" help:"circuit.threshold"`
	CoolDownMS  int           `default:"30000" env:"CIRCUIT_COOL_DOWN_MS" help:"circuit.cool-down-ms"`
}

func (c CircuitConfig) toBreakerConfig() BreakerConfig {
	cfg := DefaultBreakerConfig()
	if c.Window > 0 {
		cfg.Window = c.Window
	}
	if c.Threshold > 0 {
		cfg.Threshold = c.Threshold
	}
	if c.CoolDownMS > 0 {
		cfg.CoolDown = time.Duration(c.CoolDownMS) * time.Millisecond
	}
	return cfg
}

// ObjectCacheCLIConfig configures the object cache tier (C4).
type ObjectCacheCLIConfig struct {
	Bucket              string  `env:"OBJECT_CACHE_BUCKET" help:"object-cache.bucket -- empty disables the tier."`
	Endpoint            string  `env:"OBJECT_CACHE_ENDPOINT" help:"object-cache.endpoint -- custom S3-compatible endpoint."`
	Region              string  `default:"us-east-1" env:"OBJECT_CACHE_REGION" help:"object-cache.region"`
	S3MaxAttempts       int     `default:"3" env:"RETRY_S3_MAX_ATTEMPTS" help:"retry.s3.max-attempts"`
	S3InitialBackoffMS  int     `default:"200" env:"RETRY_S3_INITIAL_BACKOFF_MS" help:"retry.s3.initial-backoff-ms"`
	S3BackoffMultiplier float64 `default:"2.0" env:"RETRY_S3_BACKOFF_MULTIPLIER" help:"retry.s3.backoff-multiplier"`
}

func (c ObjectCacheCLIConfig) toObjectCacheConfig() ObjectCacheConfig {
	return ObjectCacheConfig{
		Bucket:            c.Bucket,
		MaxAttempts:       c.S3MaxAttempts,
		InitialBackoff:    time.Duration(c.S3InitialBackoffMS) * time.Millisecond,
		BackoffMultiplier: c.S3BackoffMultiplier,
	}
}

// CacheConfig configures the L1 process-local cache and the
// bypass-caches escape hatch.
type CacheConfig struct {
	LocalDirectory  string `env:"CACHE_LOCAL_DIRECTORY" help:"cache.local.directory -- reserved for an on-disk L1 spillover, unused by the in-memory implementation."`
	BypassOverride  bool   `env:"BYPASS_CACHES_OVERRIDE" help:"bypass-caches.override -- parsed but not read: no fetch path consults it, so reads still go through L1 and the object cache."`
	L1MaxCostBytes  int64  `default:"134217728" env:"CACHE_L1_MAX_COST_BYTES" help:"L1 cache size bound, in bytes."`
	L1NumCounters   int64  `default:"1000000" env:"CACHE_L1_NUM_COUNTERS" help:"L1 admission-policy counter count."`
}

// SearchViewConfig configures C12's debounced materialised-view
// refresh.
type SearchViewConfig struct {
	RefreshIntervalMS int `default:"60000" env:"SEARCH_VIEW_REFRESH_INTERVAL_MS" help:"search-view.refresh-interval-ms"`
}

// WorkerConfig carries worker.pool.size; poolSize defaults it to
// 4x NumCPU. No component in the module reads it, so no I/O worker
// pool is sized from it.
type WorkerConfig struct {
	PoolSize int `env:"WORKER_POOL_SIZE" help:"worker.pool.size -- default 4x NumCPU."`
}

func (c WorkerConfig) poolSize() int {
	if c.PoolSize > 0 {
		return c.PoolSize
	}
	return 4 * runtime.NumCPU()
}

// CommonConfig is embedded by every CLI subcommand.
type CommonConfig struct {
	PGConfig
	LogConfig
	ProviderConfig
	CircuitConfig
	ObjectCacheCLIConfig
	CacheConfig
	SearchViewConfig
	WorkerConfig
}
