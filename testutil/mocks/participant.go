package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/storagecore/types"
)

// Participant is a scriptable coordinator participant. Votes, errors and
// per-phase delays are injectable; every phase call is counted.
type Participant struct {
	dbType types.DatabaseType

	mu       sync.Mutex
	prepared bool

	// Scripted outcomes
	prepareVote  bool
	prepareErr   error
	commitOK     bool
	commitErr    error
	rollbackOK   bool
	rollbackErr  error
	prepareDelay time.Duration
	commitDelay  time.Duration

	// Call recording
	prepareCalls  int
	commitCalls   int
	rollbackCalls int
}

// NewParticipant creates a participant that votes yes and succeeds in every
// phase until scripted otherwise.
func NewParticipant(t types.DatabaseType) *Participant {
	return &Participant{
		dbType:      t,
		prepareVote: true,
		commitOK:    true,
		rollbackOK:  true,
	}
}

// FailPrepare makes the participant vote no without an error.
func (p *Participant) FailPrepare() *Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepareVote = false
	return p
}

// SetPrepareErr injects a prepare error.
func (p *Participant) SetPrepareErr(err error) *Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepareErr = err
	return p
}

// FailCommit makes the commit phase fail with the given error.
func (p *Participant) FailCommit(err error) *Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitOK = false
	p.commitErr = err
	return p
}

// SetPrepareDelay makes Prepare block for d (or until ctx is done).
func (p *Participant) SetPrepareDelay(d time.Duration) *Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepareDelay = d
	return p
}

// SetCommitDelay makes Commit block for d (or until ctx is done).
func (p *Participant) SetCommitDelay(d time.Duration) *Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitDelay = d
	return p
}

// PrepareCalls returns how many times Prepare ran.
func (p *Participant) PrepareCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepareCalls
}

// CommitCalls returns how many times Commit ran.
func (p *Participant) CommitCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commitCalls
}

// RollbackCalls returns how many times Rollback ran.
func (p *Participant) RollbackCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rollbackCalls
}

// Type implements txn.Participant.
func (p *Participant) Type() types.DatabaseType { return p.dbType }

// Prepare implements txn.Participant.
func (p *Participant) Prepare(ctx context.Context) (bool, error) {
	p.mu.Lock()
	p.prepareCalls++
	delay := p.prepareDelay
	vote := p.prepareVote
	err := p.prepareErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if err != nil {
		return false, err
	}
	if vote {
		p.mu.Lock()
		p.prepared = true
		p.mu.Unlock()
	}
	return vote, nil
}

// Commit implements txn.Participant.
func (p *Participant) Commit(ctx context.Context) (bool, error) {
	p.mu.Lock()
	p.commitCalls++
	delay := p.commitDelay
	ok := p.commitOK
	err := p.commitErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return ok, err
}

// Rollback implements txn.Participant.
func (p *Participant) Rollback(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollbackCalls++
	p.prepared = false
	return p.rollbackOK, p.rollbackErr
}

// IsPrepared implements txn.Participant.
func (p *Participant) IsPrepared() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared
}
