package pool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// acquireResult travels from the queue-drain (or timeout) path back to a
// suspended GetConnection caller.
type acquireResult struct {
	conn backend.Connection
	err  error
}

// waiter is one pending acquire request. It is detached exactly once:
// fulfilled by the FIFO drain, expired by its timer, cancelled by the
// caller's context, or rejected when the pool closes. The done flag,
// guarded by the pool mutex, enforces that.
type waiter struct {
	id         string
	database   types.DatabaseType
	ch         chan acquireResult // buffered, capacity 1
	timer      *time.Timer
	enqueuedAt time.Time
	done       bool
}

func newWaiter(t types.DatabaseType) *waiter {
	return &waiter{
		id:         uuid.NewString(),
		database:   t,
		ch:         make(chan acquireResult, 1),
		enqueuedAt: time.Now(),
	}
}

// poolInfo is the per-database-type pool record. Every structural mutation
// of idle, active, queue, stats and flags happens under mu — one mutation
// path at a time per database type.
type poolInfo struct {
	database types.DatabaseType
	settings config.Settings

	mu           sync.Mutex
	idle         []backend.Connection
	active       map[string]backend.Connection
	queue        []*waiter
	stats        types.PoolStatistics
	total        int // created minus destroyed, includes in-flight checks
	createdAt    time.Time
	lastActivity time.Time
	closing      bool

	// stop terminates the pool's periodic loops; loops holds them so close
	// can wait for a clean exit. stopOnce makes concurrent closes safe.
	stop     chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup
}

func newPoolInfo(t types.DatabaseType, settings config.Settings) *poolInfo {
	now := time.Now()
	return &poolInfo{
		database:     t,
		settings:     settings,
		active:       make(map[string]backend.Connection),
		createdAt:    now,
		lastActivity: now,
		stop:         make(chan struct{}),
	}
}

// touchLocked records pool activity. Callers hold mu.
func (p *poolInfo) touchLocked() {
	p.lastActivity = time.Now()
}

// recordAcquireLocked updates the acquire counters and the running average
// acquire time. Callers hold mu.
func (p *poolInfo) recordAcquireLocked(elapsed time.Duration) {
	p.stats.TotalAcquired++
	n := p.stats.TotalAcquired
	p.stats.AverageAcquireTime += (elapsed - p.stats.AverageAcquireTime) / time.Duration(n)
	p.touchLocked()
}

// popIdleLocked removes and returns the oldest idle connection, or nil.
// Callers hold mu.
func (p *poolInfo) popIdleLocked() backend.Connection {
	if len(p.idle) == 0 {
		return nil
	}
	conn := p.idle[0]
	p.idle = p.idle[1:]
	return conn
}

// removeWaiterLocked detaches w from the queue if it is still pending and
// reports whether this call won the detach race. Callers hold mu.
func (p *poolInfo) removeWaiterLocked(w *waiter) bool {
	if w.done {
		return false
	}
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	for i, q := range p.queue {
		if q == w {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	return true
}

// fulfilled pairs a served waiter with the connection it received, so the
// manager can emit events after releasing the pool mutex.
type fulfilled struct {
	waiter *waiter
	conn   backend.Connection
}

// drainQueueLocked serves waiters strictly in FIFO order from the idle
// list, moving each served connection to the active set. It returns the
// served pairs; the channel sends happen here (capacity 1, single send
// guaranteed by the done flag) but events are the caller's job. Callers
// hold mu.
func (p *poolInfo) drainQueueLocked() []fulfilled {
	var served []fulfilled
	for len(p.queue) > 0 && len(p.idle) > 0 {
		w := p.queue[0]
		p.queue = p.queue[1:]
		if w.done {
			continue
		}
		w.done = true
		if w.timer != nil {
			w.timer.Stop()
		}

		conn := p.popIdleLocked()
		p.active[conn.ID()] = conn
		p.recordAcquireLocked(time.Since(w.enqueuedAt))

		w.ch <- acquireResult{conn: conn}
		served = append(served, fulfilled{waiter: w, conn: conn})
	}
	return served
}

// snapshotLocked builds a status snapshot. Callers hold mu.
func (p *poolInfo) snapshotLocked() types.PoolStatus {
	return types.PoolStatus{
		Type:         p.database,
		Active:       len(p.active),
		Idle:         len(p.idle),
		Pending:      len(p.queue),
		Config:       p.settings.Snapshot(),
		CreatedAt:    p.createdAt,
		LastActivity: p.lastActivity,
		Statistics:   p.stats,
		Healthy:      p.healthyLocked(),
	}
}

// healthyLocked applies the pool-level health criteria: enough
// connections, a bounded wait queue, and acceptable failure/timeout rates.
// Callers hold mu.
func (p *poolInfo) healthyLocked() bool {
	if p.closing {
		return false
	}
	if p.total < p.settings.MinConnections {
		return false
	}
	if len(p.queue) > 2*p.settings.MaxConnections {
		return false
	}
	if p.stats.FailureRate() > 0.10 {
		return false
	}
	if p.stats.TimeoutRate() > 0.10 {
		return false
	}
	return true
}
