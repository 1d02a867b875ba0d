package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Artifact locations for the fitted scaler and trained model
	Artifacts ArtifactConfig `json:"artifacts"`

	// Scoring policy (risk thresholds, escalation)
	Scoring ScoringConfig `json:"scoring"`

	// Compliance rule parameters
	Compliance ComplianceConfig `json:"compliance"`

	// Drift monitoring parameters
	Drift DriftConfig `json:"drift"`

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
}

// ArtifactConfig points at the serialized model and scaler. Both are loaded
// once at startup and treated as read-only for the process lifetime.
type ArtifactConfig struct {
	ModelPath  string `json:"modelPath"`
	ScalerPath string `json:"scalerPath"`
}

// ScoringConfig holds the risk classification policy. The reference values
// are policy defaults, not calibrated guarantees; tune them against real
// error distributions.
type ScoringConfig struct {
	// Percentile-mode anomaly score cut points
	CriticalScore float64 `json:"criticalScore"` // default 0.8
	HighScore     float64 `json:"highScore"`     // default 0.6
	MediumScore   float64 `json:"mediumScore"`   // default 0.4

	// Threshold-mode reconstruction error multiples
	CriticalMultiple float64 `json:"criticalMultiple"` // default 2.0
	HighMultiple     float64 `json:"highMultiple"`     // default 1.5

	// Percentile used when fitting a threshold from historical errors
	ThresholdPercentile float64 `json:"thresholdPercentile"` // default 95.0
}

// ComplianceConfig holds the built-in compliance check parameters.
type ComplianceConfig struct {
	// Velocity check
	VelocityWindowHours float64 `json:"velocityWindowHours"` // default 24
	VelocityMaxCount    int64   `json:"velocityMaxCount"`    // default 50

	// Geographic consistency check
	ImpossibleTravelHours float64 `json:"impossibleTravelHours"` // default 2

	// Merchant restriction check (lowercase category names)
	RestrictedCategories []string `json:"restrictedCategories"`

	// Sanctions blocklist (entity ids)
	SanctionedEntities []string `json:"sanctionedEntities,omitempty"`
}

// DriftConfig holds drift monitoring parameters.
type DriftConfig struct {
	HistoryCapacity int     `json:"historyCapacity"` // default 10000
	MinSamples      int     `json:"minSamples"`      // default 100
	RecentWindow    int     `json:"recentWindow"`    // default 1000
	OlderWindow     int     `json:"olderWindow"`     // default 4000
	RatioThreshold  float64 `json:"ratioThreshold"`  // default 0.20
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache,
// channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Artifacts: ArtifactConfig{
			ModelPath:  "./artifacts/autoencoder.json",
			ScalerPath: "./artifacts/scaler.json",
		},
		Scoring: ScoringConfig{
			CriticalScore:       0.8,
			HighScore:           0.6,
			MediumScore:         0.4,
			CriticalMultiple:    2.0,
			HighMultiple:        1.5,
			ThresholdPercentile: 95.0,
		},
		Compliance: ComplianceConfig{
			VelocityWindowHours:   24,
			VelocityMaxCount:      50,
			ImpossibleTravelHours: 2,
			RestrictedCategories:  []string{"gambling", "adult", "crypto"},
		},
		Drift: DriftConfig{
			HistoryCapacity: 10000,
			MinSamples:      100,
			RecentWindow:    1000,
			OlderWindow:     4000,
			RatioThreshold:  0.20,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
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
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL, Redis, NATS.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
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
