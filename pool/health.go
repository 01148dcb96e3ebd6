package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
)

// startLoops launches the pool's periodic background tasks. Each loop is an
// independent goroutine cancelled through the pool's stop channel; ClosePool
// waits for all of them before tearing connections down.
func (m *Manager) startLoops(p *poolInfo) {
	if p.settings.HealthCheckInterval > 0 {
		p.loops.Add(1)
		go m.healthLoop(p)
	}
	if p.settings.EnableMonitoring && p.settings.MonitoringInterval > 0 {
		p.loops.Add(1)
		go m.monitorLoop(p)
	}
	if p.settings.EnableStatistics && p.settings.StatisticsInterval > 0 {
		p.loops.Add(1)
		go m.statisticsLoop(p)
	}
}

// healthLoop periodically verifies pool-level health and probes every idle
// connection, replacing unhealthy ones. All failures are logged, never
// propagated.
func (m *Manager) healthLoop(p *poolInfo) {
	defer p.loops.Done()

	ticker := time.NewTicker(p.settings.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			m.runHealthCheck(p)
		}
	}
}

// runHealthCheck performs one health cycle: pool-level criteria, idle
// probes with replacement, and replenishment up to MinConnections.
func (m *Manager) runHealthCheck(p *poolInfo) {
	// Take the idle list: the sweep owns these connections exclusively
	// until they are re-added, so a concurrent acquire can never check one
	// out while its health probe is in flight. Acquires that arrive
	// meanwhile create (capacity permitting) or queue; the re-add below
	// drains the queue.
	p.mu.Lock()
	healthy := p.healthyLocked()
	snapshot := p.snapshotLocked()
	checking := p.idle
	p.idle = nil
	p.mu.Unlock()

	if !healthy {
		m.logger.Warn("pool unhealthy",
			zap.String("database", string(p.database)),
			zap.Int("total", snapshot.Active+snapshot.Idle),
			zap.Int("pending", snapshot.Pending),
			zap.Float64("failure_rate", snapshot.Statistics.FailureRate()),
			zap.Float64("timeout_rate", snapshot.Statistics.TimeoutRate()),
		)
	}

	var keep, toDestroy []backend.Connection
	for _, conn := range checking {
		probeCtx, cancel := context.WithTimeout(context.Background(), p.settings.HealthCheckTimeout)
		ok := conn.IsHealthy(probeCtx)
		cancel()
		if ok {
			keep = append(keep, conn)
		} else {
			toDestroy = append(toDestroy, conn)
		}
	}

	if len(keep) > 0 {
		p.mu.Lock()
		p.idle = append(p.idle, keep...)
		p.drainQueueLocked()
		p.mu.Unlock()
	}

	for _, conn := range toDestroy {
		m.logger.Info("replacing unhealthy idle connection",
			zap.String("database", string(p.database)),
			zap.String("connection_id", conn.ID()),
		)
		m.destroyConnection(context.Background(), p, conn)
	}

	m.replenish(p)
}

// replenish creates connections until the pool is back at MinConnections.
// Creation failures are logged, not fatal; the next cycle retries.
func (m *Manager) replenish(p *poolInfo) {
	for {
		p.mu.Lock()
		if p.closing || p.total >= p.settings.MinConnections || p.total >= p.settings.MaxConnections {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		conn, err := m.createConnection(context.Background(), p)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			m.logger.Warn("replacement connection creation failed",
				zap.String("database", string(p.database)),
				zap.Error(err),
			)
			return
		}

		p.mu.Lock()
		p.idle = append(p.idle, conn)
		p.drainQueueLocked()
		p.mu.Unlock()
	}
}
