package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Analysis pipeline thresholds
	Analysis AnalysisConfig `json:"analysis"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// AnalysisConfig holds the thresholds that drive feature aggregation,
// anomaly detection, scoring and alerting.
type AnalysisConfig struct {
	// WindowDays is the trailing behavior window in days.
	WindowDays int `json:"windowDays"`

	// AlertThreshold is the overall risk score above which an alert is raised.
	AlertThreshold float64 `json:"alertThreshold"`

	// HighRiskCutoff is the score at or above which a user counts as
	// high-risk in the analytics summary.
	HighRiskCutoff float64 `json:"highRiskCutoff"`

	// CohortFloor is the minimum cohort size for the anomaly model to run.
	CohortFloor int `json:"cohortFloor"`

	// FastReturnDays is the buy-to-return interval at or under which a
	// return counts as fast (wardrobing signal).
	FastReturnDays int `json:"fastReturnDays"`

	// HighValueRefund is the refund amount above which a return counts as
	// high-value.
	HighValueRefund float64 `json:"highValueRefund"`

	// Contamination is the expected outlier fraction for the anomaly model.
	Contamination float64 `json:"contamination"`

	// Seed fixes the anomaly model's randomness for reproducible runs.
	Seed int64 `json:"seed"`

	// MaxWorkers bounds the per-user feature computation fan-out.
	MaxWorkers int `json:"maxWorkers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxUploadBytes caps the accepted CSV upload size.
	MaxUploadBytes int64 `json:"maxUploadBytes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultAnalysisConfig returns the analysis thresholds used in production.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		WindowDays:      90,
		AlertThreshold:  60,
		HighRiskCutoff:  60,
		CohortFloor:     5,
		FastReturnDays:  2,
		HighValueRefund: 800,
		Contamination:   0.1,
		Seed:            42,
		MaxWorkers:      8,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    60,
			WriteTimeout:   60,
			MaxUploadBytes: 64 << 20,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Analysis: DefaultAnalysisConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
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
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
