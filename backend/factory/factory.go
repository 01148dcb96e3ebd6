// Package factory builds the correct backend connection for a database
// type. It lives apart from package backend so the concrete backend
// packages can import the Connection contract without a cycle.
package factory

import (
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/backend/graphdb"
	"github.com/BaSui01/storagecore/backend/qdrant"
	"github.com/BaSui01/storagecore/backend/rediskv"
	"github.com/BaSui01/storagecore/backend/relational"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// Default is the production connection factory. Endpoint settings come from
// the registry's backends section.
type Default struct {
	logger *zap.Logger
}

var _ backend.Factory = (*Default)(nil)

// New creates the default factory.
func New(logger *zap.Logger) *Default {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Default{logger: logger}
}

// New builds an unconnected backend connection of the given type. The pool
// calls Connect afterwards so creation failures surface as
// CONNECTION_CREATION errors at acquire time.
func (f *Default) New(t types.DatabaseType, reg *config.Registry) (backend.Connection, error) {
	switch t {
	case types.DatabaseQdrant:
		return qdrant.New(reg.Backends.Qdrant, f.logger), nil
	case types.DatabasePostgres:
		return relational.New(reg.Backends.Postgres, f.logger), nil
	case types.DatabaseMongo:
		return graphdb.New(reg.Backends.Mongo, f.logger), nil
	case types.DatabaseRedis:
		return rediskv.New(reg.Backends.Redis, f.logger), nil
	default:
		return nil, types.NewErrorf(types.ErrPoolNotFound, "unknown database type %q", t)
	}
}
