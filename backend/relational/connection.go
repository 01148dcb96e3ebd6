// Package relational implements the relational store backend connection on
// top of GORM with the Postgres driver.
package relational

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// Connection is a pooled handle to one Postgres database.
type Connection struct {
	*backend.Base

	cfg config.PostgresSettings

	// conn, when non-nil, is used instead of dialing cfg.DSN. Tests inject
	// a sqlmock connection through it.
	conn *sql.DB

	db    *gorm.DB
	sqlDB *sql.DB
}

var _ backend.Connection = (*Connection)(nil)

// New creates a relational connection that dials cfg.DSN on Connect.
func New(cfg config.PostgresSettings, logger *zap.Logger) *Connection {
	c := &Connection{
		Base: backend.NewBase(types.DatabasePostgres, logger),
		cfg:  cfg,
	}
	c.BindReconnect(c.Reconnect)
	return c
}

// NewWithConn creates a relational connection over an existing *sql.DB.
func NewWithConn(conn *sql.DB, logger *zap.Logger) *Connection {
	c := &Connection{
		Base: backend.NewBase(types.DatabasePostgres, logger),
		conn: conn,
	}
	c.BindReconnect(c.Reconnect)
	return c
}

// DB returns the GORM handle. Valid only while connected.
func (c *Connection) DB() *gorm.DB { return c.db }

// Connect opens the GORM session and verifies the database answers.
func (c *Connection) Connect(ctx context.Context) error {
	c.SetStatus(types.StatusConnecting)

	dialector := postgres.New(postgres.Config{DSN: c.cfg.DSN, Conn: c.conn})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Discard,
		// Connect pings explicitly below.
		DisableAutomaticPing: true,
	})
	if err != nil {
		err = types.NewError(types.ErrConnectionCreation, "postgres open failed").
			WithDatabase(types.DatabasePostgres).
			WithCause(err)
		c.SetError(err)
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		err = types.NewError(types.ErrConnectionCreation, "postgres sql.DB unavailable").
			WithDatabase(types.DatabasePostgres).
			WithCause(err)
		c.SetError(err)
		return err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		err = types.NewError(types.ErrConnectionCreation, "postgres unreachable").
			WithDatabase(types.DatabasePostgres).
			WithCause(err)
		c.SetError(err)
		return err
	}

	c.db = db
	c.sqlDB = sqlDB
	c.SetStatus(types.StatusConnected)
	c.Touch()
	return nil
}

// Disconnect closes the underlying sql.DB. An injected connection is owned
// by the caller and is not closed here.
func (c *Connection) Disconnect(context.Context) error {
	defer func() {
		c.db = nil
		c.sqlDB = nil
		c.SetStatus(types.StatusDisconnected)
	}()

	if c.sqlDB != nil && c.conn == nil {
		if err := c.sqlDB.Close(); err != nil {
			return fmt.Errorf("postgres close failed: %w", err)
		}
	}
	return nil
}

// IsHealthy pings the database.
func (c *Connection) IsHealthy(ctx context.Context) bool {
	if c.sqlDB == nil {
		return false
	}
	return c.sqlDB.PingContext(ctx) == nil
}

// Reconnect closes and reopens the session.
func (c *Connection) Reconnect(ctx context.Context) error {
	_ = c.Disconnect(ctx)
	return c.Connect(ctx)
}
