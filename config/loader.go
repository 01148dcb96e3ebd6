// =============================================================================
// 📦 storagecore configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment variable overrides.
//
// Usage:
//
//	reg, err := config.NewLoader().
//	    WithConfigPath("storagecore.yaml").
//	    WithEnvPrefix("STORAGECORE").
//	    Load()
//
// Precedence: defaults → YAML file → environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/storagecore/types"
)

// Loader loads a Registry from an optional YAML file plus environment
// variable overrides.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with no config file and the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "STORAGECORE"}
}

// WithConfigPath sets the YAML file to load. A missing file is an error;
// an empty path skips file loading entirely.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.TrimSuffix(prefix, "_")
	return l
}

// Load builds the registry: defaults, then YAML, then env overrides, then
// validation.
func (l *Loader) Load() (*Registry, error) {
	reg := NewRegistry()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, reg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	l.applyEnv(reg)

	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return reg, nil
}

// applyEnv overrides registry fields from the environment.
//
// Global knobs:
//
//	<PREFIX>_MIN_CONNECTIONS, <PREFIX>_MAX_CONNECTIONS,
//	<PREFIX>_ACQUIRE_TIMEOUT (Go duration),
//	<PREFIX>_TX_DEFAULT_TIMEOUT, <PREFIX>_TX_PHASE_TIMEOUT
//
// Per-type knobs (TYPE ∈ QDRANT, POSTGRES, MONGODB, REDIS):
//
//	<PREFIX>_<TYPE>_MIN_CONNECTIONS, <PREFIX>_<TYPE>_MAX_CONNECTIONS,
//	<PREFIX>_<TYPE>_ACQUIRE_TIMEOUT
//
// Backend endpoints:
//
//	<PREFIX>_QDRANT_BASE_URL, <PREFIX>_POSTGRES_DSN,
//	<PREFIX>_MONGODB_URI, <PREFIX>_REDIS_ADDR
func (l *Loader) applyEnv(reg *Registry) {
	if v, ok := l.lookupInt("MIN_CONNECTIONS"); ok {
		reg.Defaults.MinConnections = v
	}
	if v, ok := l.lookupInt("MAX_CONNECTIONS"); ok {
		reg.Defaults.MaxConnections = v
	}
	if v, ok := l.lookupDuration("ACQUIRE_TIMEOUT"); ok {
		reg.Defaults.AcquireTimeout = v
	}
	if v, ok := l.lookupDuration("TX_DEFAULT_TIMEOUT"); ok {
		reg.Coordinator.DefaultTimeout = v
	}
	if v, ok := l.lookupDuration("TX_PHASE_TIMEOUT"); ok {
		reg.Coordinator.PhaseTimeout = v
	}

	for _, t := range types.AllDatabaseTypes() {
		key := strings.ToUpper(string(t))
		min, hasMin := l.lookupInt(key + "_MIN_CONNECTIONS")
		max, hasMax := l.lookupInt(key + "_MAX_CONNECTIONS")
		timeout, hasTimeout := l.lookupDuration(key + "_ACQUIRE_TIMEOUT")
		if !hasMin && !hasMax && !hasTimeout {
			continue
		}
		// Extend any override the YAML file installed; an explicit zero in
		// the environment sticks, it is not a request for the default.
		o := reg.Overrides[t]
		if o == nil {
			o = &Override{}
		}
		if hasMin {
			o.MinConnections = &min
		}
		if hasMax {
			o.MaxConnections = &max
		}
		if hasTimeout {
			o.AcquireTimeout = &timeout
		}
		if reg.Overrides == nil {
			reg.Overrides = make(map[types.DatabaseType]*Override)
		}
		reg.Overrides[t] = o
	}

	if v, ok := l.lookup("QDRANT_BASE_URL"); ok {
		reg.Backends.Qdrant.BaseURL = v
	}
	if v, ok := l.lookup("POSTGRES_DSN"); ok {
		reg.Backends.Postgres.DSN = v
	}
	if v, ok := l.lookup("MONGODB_URI"); ok {
		reg.Backends.Mongo.URI = v
	}
	if v, ok := l.lookup("REDIS_ADDR"); ok {
		reg.Backends.Redis.Addr = v
	}
}

func (l *Loader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(l.envPrefix + "_" + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (l *Loader) lookupInt(key string) (int, bool) {
	v, ok := l.lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (l *Loader) lookupDuration(key string) (time.Duration, bool) {
	v, ok := l.lookup(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
