package pool

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/types"
)

// =============================================================================
// 📈 Adaptive sizing
// =============================================================================

// OptimizePoolSize resizes a pool toward
//
//	target = min + (max-min) × loadFactor
//
// growing by creating idle connections (bounded by max) and shrinking by
// destroying idle connections (never below min). loadFactor is clamped to
// [0, 1].
func (m *Manager) OptimizePoolSize(ctx context.Context, t types.DatabaseType, loadFactor float64) error {
	p, err := m.pool(t)
	if err != nil {
		return err
	}

	loadFactor = math.Max(0, math.Min(1, loadFactor))
	min := p.settings.MinConnections
	max := p.settings.MaxConnections
	target := min + int(math.Round(float64(max-min)*loadFactor))

	p.mu.Lock()
	before := p.total
	p.mu.Unlock()

	switch {
	case before < target:
		m.growTo(ctx, p, target)
	case before > target:
		m.shrinkTo(ctx, p, target)
	default:
		return nil
	}

	p.mu.Lock()
	after := p.total
	p.mu.Unlock()

	if after != before {
		m.logger.Info("pool resized",
			zap.String("database", string(t)),
			zap.Float64("load_factor", loadFactor),
			zap.Int("before", before),
			zap.Int("after", after),
		)
		m.events.publish(Event{
			Kind:     EventPoolOptimized,
			Database: t,
			Payload:  map[string]any{"before": before, "after": after, "load_factor": loadFactor},
		})
	}
	return nil
}

func (m *Manager) growTo(ctx context.Context, p *poolInfo, target int) {
	for {
		p.mu.Lock()
		if p.closing || p.total >= target || p.total >= p.settings.MaxConnections {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		conn, err := m.createConnection(ctx, p)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			m.logger.Warn("grow connection creation failed",
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

func (m *Manager) shrinkTo(ctx context.Context, p *poolInfo, target int) {
	for {
		p.mu.Lock()
		if p.total <= target || p.total <= p.settings.MinConnections || len(p.idle) == 0 {
			p.mu.Unlock()
			return
		}
		conn := p.popIdleLocked()
		p.mu.Unlock()

		m.destroyConnection(ctx, p, conn)
	}
}

// autoOptimize derives a load factor from current utilization, queue
// pressure and timeout rate, and resizes only when the pool has drifted
// noticeably (ratio delta > 0.2) or timeouts are biting (> 5%).
func (m *Manager) autoOptimize(ctx context.Context, t types.DatabaseType) {
	p, err := m.pool(t)
	if err != nil {
		return
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	active := len(p.active)
	idle := len(p.idle)
	queued := len(p.queue)
	total := p.total
	max := p.settings.MaxConnections
	min := p.settings.MinConnections
	timeoutRate := p.stats.TimeoutRate()
	p.mu.Unlock()

	utilization := float64(active) / float64(max)

	loadFactor := utilization
	loadFactor += math.Min(0.1*float64(queued), 1.0)
	if timeoutRate > 0.05 {
		loadFactor += 0.2
	}
	if utilization < 0.2 && idle > min {
		loadFactor -= 0.2
	}
	loadFactor = math.Max(0.1, math.Min(1.0, loadFactor))

	currentRatio := float64(total) / float64(max)
	if math.Abs(currentRatio-loadFactor) <= 0.2 && timeoutRate <= 0.05 {
		return
	}

	m.logger.Debug("auto-optimizing pool",
		zap.String("database", string(t)),
		zap.Float64("utilization", utilization),
		zap.Int("queued", queued),
		zap.Float64("timeout_rate", timeoutRate),
		zap.Float64("load_factor", loadFactor),
	)
	if err := m.OptimizePoolSize(ctx, t, loadFactor); err != nil {
		m.logger.Warn("auto-optimize failed", zap.String("database", string(t)), zap.Error(err))
	}
}

// =============================================================================
// 📡 Monitoring & statistics loops
// =============================================================================

// monitorLoop periodically snapshots the pool and triggers auto-sizing when
// it looks unhealthy or saturated.
func (m *Manager) monitorLoop(p *poolInfo) {
	defer p.loops.Done()

	ticker := time.NewTicker(p.settings.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			s := p.snapshotLocked()
			p.mu.Unlock()

			m.logger.Debug("pool snapshot",
				zap.String("database", string(p.database)),
				zap.Int("active", s.Active),
				zap.Int("idle", s.Idle),
				zap.Int("pending", s.Pending),
				zap.Bool("healthy", s.Healthy),
			)

			saturated := float64(s.Active)/float64(s.Config.MaxConnections) > 0.8
			if !s.Healthy || saturated || s.Pending > 0 {
				m.autoOptimize(context.Background(), p.database)
			}
		}
	}
}

// statisticsLoop periodically pushes pool gauges into the metrics
// collector.
func (m *Manager) statisticsLoop(p *poolInfo) {
	defer p.loops.Done()

	ticker := time.NewTicker(p.settings.StatisticsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			active := len(p.active)
			idle := len(p.idle)
			pending := len(p.queue)
			p.mu.Unlock()

			m.metrics.UpdatePoolGauges(string(p.database), active, idle, pending)
		}
	}
}
