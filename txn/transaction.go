package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/storagecore/types"
)

// transaction is the coordinator-owned bookkeeping for one 2PC transaction.
// State and participant map mutations are serialized by mu.
type transaction struct {
	id string

	mu           sync.Mutex
	state        types.TransactionState
	participants map[types.DatabaseType]Participant
	prepared     map[types.DatabaseType]bool
	createdAt    time.Time
	timeout      time.Duration
}

func newTransaction(timeout time.Duration) *transaction {
	return &transaction{
		id:           uuid.NewString(),
		state:        types.TxActive,
		participants: make(map[types.DatabaseType]Participant),
		prepared:     make(map[types.DatabaseType]bool),
		createdAt:    time.Now(),
		timeout:      timeout,
	}
}

// transitionLocked moves the state machine, rejecting illegal transitions.
// Callers hold mu.
func (t *transaction) transitionLocked(next types.TransactionState) error {
	if t.state == next {
		return nil
	}
	if !t.state.CanTransitionTo(next) {
		return types.NewErrorf(types.ErrInvalidStateTransition,
			"transaction %s cannot move from %s to %s", t.id, t.state, next)
	}
	t.state = next
	return nil
}

// participantsSnapshot returns the registered participants without holding
// the lock during phase execution.
func (t *transaction) participantsSnapshot() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Participant, 0, len(t.participants))
	for _, p := range t.participants {
		out = append(out, p)
	}
	return out
}

// status builds the externally visible snapshot.
func (t *transaction) status() types.TransactionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make(map[types.DatabaseType]bool, len(t.prepared))
	for k, v := range t.prepared {
		parts[k] = v
	}
	return types.TransactionStatus{
		ID:           t.id,
		State:        t.state,
		Participants: parts,
		CreatedAt:    t.createdAt,
		Timeout:      t.timeout,
		Age:          time.Since(t.createdAt),
	}
}
