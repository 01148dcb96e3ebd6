package types

import "time"

// PoolStatistics holds the monotonically increasing counters of one pool
// plus the running average acquire latency. Counters reset only through an
// explicit ResetStatistics call.
type PoolStatistics struct {
	TotalCreated       int64         `json:"total_created"`
	TotalAcquired      int64         `json:"total_acquired"`
	TotalReleased      int64         `json:"total_released"`
	TotalDestroyed     int64         `json:"total_destroyed"`
	TotalFailed        int64         `json:"total_failed"`
	TotalTimeouts      int64         `json:"total_timeouts"`
	AverageAcquireTime time.Duration `json:"average_acquire_time"`
}

// FailureRate returns failed creations over total creation attempts.
func (s PoolStatistics) FailureRate() float64 {
	attempts := s.TotalCreated + s.TotalFailed
	if attempts == 0 {
		return 0
	}
	return float64(s.TotalFailed) / float64(attempts)
}

// TimeoutRate returns queue timeouts over total acquire attempts.
func (s PoolStatistics) TimeoutRate() float64 {
	attempts := s.TotalAcquired + s.TotalTimeouts
	if attempts == 0 {
		return 0
	}
	return float64(s.TotalTimeouts) / float64(attempts)
}

// PoolConfig is the effective configuration a pool is running with,
// embedded in PoolStatus so status consumers see the merged settings.
type PoolConfig struct {
	MinConnections      int           `json:"min_connections"`
	MaxConnections      int           `json:"max_connections"`
	AcquireTimeout      time.Duration `json:"acquire_timeout"`
	RetryAttempts       int           `json:"retry_attempts"`
	RetryDelay          time.Duration `json:"retry_delay"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	IdleTimeout         time.Duration `json:"idle_timeout"`
	MaxIdleTime         time.Duration `json:"max_idle_time"`
}

// PoolStatus is a point-in-time snapshot of one pool, returned by
// Manager.PoolStatus.
type PoolStatus struct {
	Type         DatabaseType   `json:"type"`
	Active       int            `json:"active"`
	Idle         int            `json:"idle"`
	Pending      int            `json:"pending"`
	Config       PoolConfig     `json:"config"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Statistics   PoolStatistics `json:"statistics"`
	Healthy      bool           `json:"healthy"`
}

// QueueItemInfo describes one pending acquire request.
type QueueItemInfo struct {
	ID         string    `json:"id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QueueInfo is a snapshot of a pool's wait queue.
type QueueInfo struct {
	Type       DatabaseType    `json:"type"`
	Length     int             `json:"length"`
	OldestWait time.Duration   `json:"oldest_wait"`
	Items      []QueueItemInfo `json:"items"`
}

// TransactionStatus is a point-in-time snapshot of one transaction,
// returned by Coordinator.TransactionStatus.
type TransactionStatus struct {
	ID           string                `json:"id"`
	State        TransactionState      `json:"state"`
	Participants map[DatabaseType]bool `json:"participants"`
	CreatedAt    time.Time             `json:"created_at"`
	Timeout      time.Duration         `json:"timeout"`
	Age          time.Duration         `json:"age"`
}
