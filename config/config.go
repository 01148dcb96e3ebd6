package config

import (
	"fmt"
	"time"

	"github.com/BaSui01/storagecore/types"
)

// =============================================================================
// 🎯 Pool / coordinator settings
// =============================================================================

// Settings holds the tunables of one connection pool.
type Settings struct {
	// MinConnections is the floor the pool never shrinks below.
	MinConnections int `yaml:"min_connections" json:"min_connections"`

	// MaxConnections caps idle+active connections at all times.
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	// AcquireTimeout bounds a queued acquire request.
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`

	// RetryAttempts / RetryDelay drive the bounded reconnect sequence
	// applied to unhealthy connections (delay doubles per attempt).
	RetryAttempts int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// HealthCheckInterval schedules the periodic health sweep; a value
	// <= 0 disables it. HealthCheckTimeout bounds each probe.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout" json:"health_check_timeout"`

	// IdleTimeout / MaxIdleTime bound how long an idle connection may sit
	// unused before cleanup destroys it.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxIdleTime time.Duration `yaml:"max_idle_time" json:"max_idle_time"`

	// MonitoringInterval / StatisticsInterval schedule the monitor and
	// statistics loops when the corresponding flag is enabled.
	MonitoringInterval time.Duration `yaml:"monitoring_interval" json:"monitoring_interval"`
	StatisticsInterval time.Duration `yaml:"statistics_interval" json:"statistics_interval"`

	EnableMonitoring bool `yaml:"enable_monitoring" json:"enable_monitoring"`
	EnableStatistics bool `yaml:"enable_statistics" json:"enable_statistics"`
}

// DefaultSettings returns the pool defaults applied before YAML and
// environment overrides.
func DefaultSettings() Settings {
	return Settings{
		MinConnections:      2,
		MaxConnections:      10,
		AcquireTimeout:      30 * time.Second,
		RetryAttempts:       3,
		RetryDelay:          time.Second,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		IdleTimeout:         5 * time.Minute,
		MaxIdleTime:         10 * time.Minute,
		MonitoringInterval:  time.Minute,
		StatisticsInterval:  30 * time.Second,
		EnableMonitoring:    true,
		EnableStatistics:    true,
	}
}

// Snapshot converts the settings into the status-facing form embedded in
// types.PoolStatus.
func (s Settings) Snapshot() types.PoolConfig {
	return types.PoolConfig{
		MinConnections:      s.MinConnections,
		MaxConnections:      s.MaxConnections,
		AcquireTimeout:      s.AcquireTimeout,
		RetryAttempts:       s.RetryAttempts,
		RetryDelay:          s.RetryDelay,
		HealthCheckInterval: s.HealthCheckInterval,
		HealthCheckTimeout:  s.HealthCheckTimeout,
		IdleTimeout:         s.IdleTimeout,
		MaxIdleTime:         s.MaxIdleTime,
	}
}

// Validate rejects settings the pool cannot operate with.
func (s Settings) Validate() error {
	if s.MinConnections < 0 {
		return fmt.Errorf("min_connections must be >= 0, got %d", s.MinConnections)
	}
	if s.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be > 0, got %d", s.MaxConnections)
	}
	if s.MinConnections > s.MaxConnections {
		return fmt.Errorf("min_connections (%d) exceeds max_connections (%d)",
			s.MinConnections, s.MaxConnections)
	}
	if s.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be > 0, got %v", s.AcquireTimeout)
	}
	return nil
}

// Override carries per-type settings overrides. Nil fields inherit the
// defaults; a set field wins even at its zero value, so an explicit
// min_connections: 0 means a floor of zero, not "use the default".
type Override struct {
	MinConnections      *int           `yaml:"min_connections" json:"min_connections,omitempty"`
	MaxConnections      *int           `yaml:"max_connections" json:"max_connections,omitempty"`
	AcquireTimeout      *time.Duration `yaml:"acquire_timeout" json:"acquire_timeout,omitempty"`
	RetryAttempts       *int           `yaml:"retry_attempts" json:"retry_attempts,omitempty"`
	RetryDelay          *time.Duration `yaml:"retry_delay" json:"retry_delay,omitempty"`
	HealthCheckInterval *time.Duration `yaml:"health_check_interval" json:"health_check_interval,omitempty"`
	HealthCheckTimeout  *time.Duration `yaml:"health_check_timeout" json:"health_check_timeout,omitempty"`
	IdleTimeout         *time.Duration `yaml:"idle_timeout" json:"idle_timeout,omitempty"`
	MaxIdleTime         *time.Duration `yaml:"max_idle_time" json:"max_idle_time,omitempty"`
	MonitoringInterval  *time.Duration `yaml:"monitoring_interval" json:"monitoring_interval,omitempty"`
	StatisticsInterval  *time.Duration `yaml:"statistics_interval" json:"statistics_interval,omitempty"`
	EnableMonitoring    *bool          `yaml:"enable_monitoring" json:"enable_monitoring,omitempty"`
	EnableStatistics    *bool          `yaml:"enable_statistics" json:"enable_statistics,omitempty"`
}

// apply layers the set fields of o over base.
func (o Override) apply(base Settings) Settings {
	out := base
	if o.MinConnections != nil {
		out.MinConnections = *o.MinConnections
	}
	if o.MaxConnections != nil {
		out.MaxConnections = *o.MaxConnections
	}
	if o.AcquireTimeout != nil {
		out.AcquireTimeout = *o.AcquireTimeout
	}
	if o.RetryAttempts != nil {
		out.RetryAttempts = *o.RetryAttempts
	}
	if o.RetryDelay != nil {
		out.RetryDelay = *o.RetryDelay
	}
	if o.HealthCheckInterval != nil {
		out.HealthCheckInterval = *o.HealthCheckInterval
	}
	if o.HealthCheckTimeout != nil {
		out.HealthCheckTimeout = *o.HealthCheckTimeout
	}
	if o.IdleTimeout != nil {
		out.IdleTimeout = *o.IdleTimeout
	}
	if o.MaxIdleTime != nil {
		out.MaxIdleTime = *o.MaxIdleTime
	}
	if o.MonitoringInterval != nil {
		out.MonitoringInterval = *o.MonitoringInterval
	}
	if o.StatisticsInterval != nil {
		out.StatisticsInterval = *o.StatisticsInterval
	}
	if o.EnableMonitoring != nil {
		out.EnableMonitoring = *o.EnableMonitoring
	}
	if o.EnableStatistics != nil {
		out.EnableStatistics = *o.EnableStatistics
	}
	return out
}

// CoordinatorSettings holds the two-phase-commit coordinator tunables.
type CoordinatorSettings struct {
	// DefaultTimeout is the age after which the sweep force-rolls-back a
	// transaction.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// PhaseTimeout bounds each participant call within a phase.
	PhaseTimeout time.Duration `yaml:"phase_timeout" json:"phase_timeout"`

	// SweepInterval schedules the background timeout sweep.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultCoordinatorSettings returns the coordinator defaults.
func DefaultCoordinatorSettings() CoordinatorSettings {
	return CoordinatorSettings{
		DefaultTimeout: 30 * time.Second,
		PhaseTimeout:   10 * time.Second,
		SweepInterval:  5 * time.Second,
	}
}

// =============================================================================
// 🔌 Backend endpoint settings
// =============================================================================

// QdrantSettings configures the vector store endpoint.
type QdrantSettings struct {
	Host       string        `yaml:"host" json:"host"`
	Port       int           `yaml:"port" json:"port"`
	BaseURL    string        `yaml:"base_url" json:"base_url,omitempty"`
	APIKey     string        `yaml:"api_key" json:"api_key,omitempty"`
	Collection string        `yaml:"collection" json:"collection"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// PostgresSettings configures the relational store endpoint.
type PostgresSettings struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// MongoSettings configures the graph store endpoint.
type MongoSettings struct {
	URI      string `yaml:"uri" json:"uri"`
	Database string `yaml:"database" json:"database"`
}

// RedisSettings configures the key-value cache endpoint.
type RedisSettings struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// Backends groups the endpoint settings consumed by the connection factory.
type Backends struct {
	Qdrant   QdrantSettings   `yaml:"qdrant" json:"qdrant"`
	Postgres PostgresSettings `yaml:"postgres" json:"postgres"`
	Mongo    MongoSettings    `yaml:"mongodb" json:"mongodb"`
	Redis    RedisSettings    `yaml:"redis" json:"redis"`
}

// DefaultBackends returns local-development endpoint defaults.
func DefaultBackends() Backends {
	return Backends{
		Qdrant:   QdrantSettings{Host: "localhost", Port: 6333, Collection: "code_chunks", Timeout: 30 * time.Second},
		Postgres: PostgresSettings{DSN: "host=localhost port=5432 dbname=storagecore sslmode=disable"},
		Mongo:    MongoSettings{URI: "mongodb://localhost:27017", Database: "codegraph"},
		Redis:    RedisSettings{Addr: "localhost:6379"},
	}
}

// =============================================================================
// 📦 Registry
// =============================================================================

// Registry is the explicitly constructed configuration object injected into
// the pool manager and the transaction coordinator. It is never consulted
// through global state.
type Registry struct {
	Defaults    Settings                         `yaml:"defaults" json:"defaults"`
	Overrides   map[types.DatabaseType]*Override `yaml:"overrides" json:"overrides"`
	Coordinator CoordinatorSettings              `yaml:"coordinator" json:"coordinator"`
	Backends    Backends                         `yaml:"backends" json:"backends"`
}

// NewRegistry returns a registry populated with defaults only.
func NewRegistry() *Registry {
	return &Registry{
		Defaults:    DefaultSettings(),
		Overrides:   make(map[types.DatabaseType]*Override),
		Coordinator: DefaultCoordinatorSettings(),
		Backends:    DefaultBackends(),
	}
}

// ForType returns the effective pool settings for a database type: the
// per-type override applied over the defaults.
func (r *Registry) ForType(t types.DatabaseType) Settings {
	if o, ok := r.Overrides[t]; ok && o != nil {
		return o.apply(r.Defaults)
	}
	return r.Defaults
}

// SetOverride installs a per-type override, replacing any previous one.
func (r *Registry) SetOverride(t types.DatabaseType, o Override) {
	if r.Overrides == nil {
		r.Overrides = make(map[types.DatabaseType]*Override)
	}
	r.Overrides[t] = &o
}

// Validate checks the defaults and every override.
func (r *Registry) Validate() error {
	if err := r.Defaults.Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for t := range r.Overrides {
		if !t.IsValid() {
			return fmt.Errorf("override for unknown database type %q", t)
		}
		if err := r.ForType(t).Validate(); err != nil {
			return fmt.Errorf("override %s: %w", t, err)
		}
	}
	return nil
}
