package domain

import "time"

// Config holds the complete SentinelShield configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier"`

	// Engine policy and authorization
	Engine EngineConfig `json:"engine"`

	// Analysis entry point tuning
	Analysis AnalysisConfig `json:"analysis"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// Per-caller rate limit for the analysis and ingest endpoints
	RateLimitRPS   float64 `json:"rateLimitRps"`
	RateLimitBurst int     `json:"rateLimitBurst"`
}

// EngineConfig controls authorization and the partial-failure policies of
// the alert manager.
type EngineConfig struct {
	// AdminIDs are the caller ids allowed to run operator-only operations.
	AdminIDs []string `json:"adminIds"`

	// StrictTraderCheck makes alert generation fail with ErrNotFound for
	// traders without a profile instead of committing the alert alone.
	StrictTraderCheck bool `json:"strictTraderCheck"`

	// EnforceTransitions rejects status changes outside the alert lifecycle.
	EnforceTransitions bool `json:"enforceTransitions"`
}

// AnalysisConfig tunes how raw trade signals become risk factors.
type AnalysisConfig struct {
	// VolumeCeiling is the trade volume that maps to a volume factor of 100.
	VolumeCeiling uint64 `json:"volumeCeiling"`

	// FrequencyWindow is the rolling window trades are counted over.
	FrequencyWindow time.Duration `json:"frequencyWindow"`

	// FrequencyScale is the factor contributed by each trade in the window.
	FrequencyScale uint64 `json:"frequencyScale"`

	// MaxWorkers bounds concurrent detection rule evaluation.
	MaxWorkers int `json:"maxWorkers"`

	// WorkerCount is the number of async trade consumers (0 disables).
	WorkerCount int `json:"workerCount"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	ServiceName string  `json:"serviceName"`
	Endpoint    string  `json:"endpoint"` // OTLP gRPC collector address
	Insecure    bool    `json:"insecure"`
	SampleRatio float64 `json:"sampleRatio"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and Go channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Tier: TierCommunity,
		Analysis: AnalysisConfig{
			VolumeCeiling:   100000,
			FrequencyWindow: time.Hour,
			FrequencyScale:  5,
			MaxWorkers:      10,
			WorkerCount:     1,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sentinel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ProfileTTL:   30 * time.Second,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sentinel",
			SampleRatio: 1.0,
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "sentinel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		ProfileTTL:     10 * time.Second,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSSubjectPrefix: "sentinel",
	}
	cfg.Analysis.WorkerCount = 5
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	cfg.Tracing.Insecure = true
	return cfg
}
