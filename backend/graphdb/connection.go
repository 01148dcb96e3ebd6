// Package graphdb implements the graph store backend connection. The code
// graph is stored in MongoDB as two collections, nodes and edges, keyed by
// stable string IDs.
package graphdb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

const (
	nodesCollection = "nodes"
	edgesCollection = "edges"
)

// Connection is a pooled handle to one MongoDB graph database.
type Connection struct {
	*backend.Base

	cfg    config.MongoSettings
	client *mongo.Client
	db     *mongo.Database
}

var _ backend.Connection = (*Connection)(nil)

// New creates a graph connection that dials cfg.URI on Connect.
func New(cfg config.MongoSettings, logger *zap.Logger) *Connection {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "codegraph"
	}
	c := &Connection{
		Base: backend.NewBase(types.DatabaseMongo, logger),
		cfg:  cfg,
	}
	c.BindReconnect(c.Reconnect)
	return c
}

// Database returns the mongo database handle. Valid only while connected.
func (c *Connection) Database() *mongo.Database { return c.db }

// Connect dials the MongoDB deployment and verifies it answers.
func (c *Connection) Connect(ctx context.Context) error {
	c.SetStatus(types.StatusConnecting)

	client, err := mongo.Connect(options.Client().ApplyURI(c.cfg.URI))
	if err != nil {
		err = types.NewError(types.ErrConnectionCreation, "mongodb connect failed").
			WithDatabase(types.DatabaseMongo).
			WithCause(err)
		c.SetError(err)
		return err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		err = types.NewError(types.ErrConnectionCreation, "mongodb unreachable").
			WithDatabase(types.DatabaseMongo).
			WithCause(err)
		c.SetError(err)
		return err
	}

	c.client = client
	c.db = client.Database(c.cfg.Database)
	c.SetStatus(types.StatusConnected)
	c.Touch()
	return nil
}

// Disconnect closes the client.
func (c *Connection) Disconnect(ctx context.Context) error {
	defer func() {
		c.client = nil
		c.db = nil
		c.SetStatus(types.StatusDisconnected)
	}()

	if c.client != nil {
		if err := c.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("mongodb disconnect failed: %w", err)
		}
	}
	return nil
}

// IsHealthy pings the primary.
func (c *Connection) IsHealthy(ctx context.Context) bool {
	if c.client == nil {
		return false
	}
	return c.client.Ping(ctx, readpref.Primary()) == nil
}

// Reconnect closes and redials.
func (c *Connection) Reconnect(ctx context.Context) error {
	_ = c.Disconnect(ctx)
	return c.Connect(ctx)
}

// Node is one graph node document.
type Node struct {
	ID         string         `bson:"_id" json:"id"`
	Kind       string         `bson:"kind" json:"kind"`
	Properties map[string]any `bson:"properties,omitempty" json:"properties,omitempty"`
}

// Edge is one graph edge document.
type Edge struct {
	ID         string         `bson:"_id" json:"id"`
	From       string         `bson:"from" json:"from"`
	To         string         `bson:"to" json:"to"`
	Kind       string         `bson:"kind" json:"kind"`
	Properties map[string]any `bson:"properties,omitempty" json:"properties,omitempty"`
}

// UpsertNode writes a node, replacing any previous version.
func (c *Connection) UpsertNode(ctx context.Context, n Node) error {
	if c.db == nil {
		return fmt.Errorf("graph connection is not established")
	}
	_, err := c.db.Collection(nodesCollection).ReplaceOne(ctx,
		bson.M{"_id": n.ID}, n, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("graph node upsert failed: %w", err)
	}
	c.Touch()
	return nil
}

// UpsertEdge writes an edge, replacing any previous version.
func (c *Connection) UpsertEdge(ctx context.Context, e Edge) error {
	if c.db == nil {
		return fmt.Errorf("graph connection is not established")
	}
	_, err := c.db.Collection(edgesCollection).ReplaceOne(ctx,
		bson.M{"_id": e.ID}, e, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("graph edge upsert failed: %w", err)
	}
	c.Touch()
	return nil
}

// DeleteNode removes a node by ID.
func (c *Connection) DeleteNode(ctx context.Context, id string) error {
	if c.db == nil {
		return fmt.Errorf("graph connection is not established")
	}
	if _, err := c.db.Collection(nodesCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("graph node delete failed: %w", err)
	}
	c.Touch()
	return nil
}

// DeleteEdge removes an edge by ID.
func (c *Connection) DeleteEdge(ctx context.Context, id string) error {
	if c.db == nil {
		return fmt.Errorf("graph connection is not established")
	}
	if _, err := c.db.Collection(edgesCollection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("graph edge delete failed: %w", err)
	}
	c.Touch()
	return nil
}
