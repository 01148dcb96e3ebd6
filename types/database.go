package types

// DatabaseType identifies one of the storage backends managed by the pool.
type DatabaseType string

const (
	// DatabaseQdrant is the vector store backend.
	DatabaseQdrant DatabaseType = "qdrant"

	// DatabasePostgres is the relational store backend.
	DatabasePostgres DatabaseType = "postgres"

	// DatabaseMongo is the graph store backend (nodes/edges as documents).
	DatabaseMongo DatabaseType = "mongodb"

	// DatabaseRedis is the key-value cache backend.
	DatabaseRedis DatabaseType = "redis"
)

// AllDatabaseTypes returns every backend type known to the module.
func AllDatabaseTypes() []DatabaseType {
	return []DatabaseType{DatabaseQdrant, DatabasePostgres, DatabaseMongo, DatabaseRedis}
}

// IsValid reports whether t names a known backend type.
func (t DatabaseType) IsValid() bool {
	switch t {
	case DatabaseQdrant, DatabasePostgres, DatabaseMongo, DatabaseRedis:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t DatabaseType) String() string { return string(t) }

// ConnectionStatus is the lifecycle state of a single backend connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusError        ConnectionStatus = "error"
)

// TransactionState is the lifecycle state of a two-phase-commit transaction.
type TransactionState string

const (
	TxActive     TransactionState = "active"
	TxPrepared   TransactionState = "prepared"
	TxCommitted  TransactionState = "committed"
	TxRolledBack TransactionState = "rolled_back"
	TxFailed     TransactionState = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TransactionState) IsTerminal() bool {
	return s == TxCommitted || s == TxRolledBack
}

// CanTransitionTo reports whether the coordinator state machine allows
// moving from s to next.
//
//	active   → prepared | failed | rolled_back
//	prepared → committed | failed | rolled_back
//	failed   → rolled_back
func (s TransactionState) CanTransitionTo(next TransactionState) bool {
	switch s {
	case TxActive:
		return next == TxPrepared || next == TxFailed || next == TxRolledBack
	case TxPrepared:
		return next == TxCommitted || next == TxFailed || next == TxRolledBack
	case TxFailed:
		return next == TxRolledBack
	}
	return false
}
