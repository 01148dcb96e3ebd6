package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseTypeValidity(t *testing.T) {
	for _, dt := range AllDatabaseTypes() {
		assert.True(t, dt.IsValid(), dt)
	}
	assert.False(t, DatabaseType("cassandra").IsValid())
	assert.False(t, DatabaseType("").IsValid())
}

func TestTransactionStateMachine(t *testing.T) {
	tests := []struct {
		from    TransactionState
		to      TransactionState
		allowed bool
	}{
		{TxActive, TxPrepared, true},
		{TxActive, TxFailed, true},
		{TxActive, TxRolledBack, true},
		{TxActive, TxCommitted, false},
		{TxPrepared, TxCommitted, true},
		{TxPrepared, TxFailed, true},
		{TxPrepared, TxRolledBack, true},
		{TxPrepared, TxActive, false},
		{TxFailed, TxRolledBack, true},
		{TxFailed, TxCommitted, false},
		{TxFailed, TxPrepared, false},
		{TxCommitted, TxRolledBack, false},
		{TxCommitted, TxFailed, false},
		{TxRolledBack, TxActive, false},
		{TxRolledBack, TxFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, TxCommitted.IsTerminal())
	assert.True(t, TxRolledBack.IsTerminal())
	assert.False(t, TxActive.IsTerminal())
	assert.False(t, TxPrepared.IsTerminal())
	assert.False(t, TxFailed.IsTerminal())
}

func TestPoolStatisticsRates(t *testing.T) {
	var s PoolStatistics
	assert.Zero(t, s.FailureRate())
	assert.Zero(t, s.TimeoutRate())

	s = PoolStatistics{TotalCreated: 9, TotalFailed: 1, TotalAcquired: 18, TotalTimeouts: 2}
	assert.InDelta(t, 0.1, s.FailureRate(), 1e-9)
	assert.InDelta(t, 0.1, s.TimeoutRate(), 1e-9)
}
