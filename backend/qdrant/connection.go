// Package qdrant implements the vector store backend connection over
// Qdrant's REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/storagecore/backend"
	"github.com/BaSui01/storagecore/config"
	"github.com/BaSui01/storagecore/types"
)

// Connection is a pooled handle to one Qdrant endpoint.
type Connection struct {
	*backend.Base

	cfg     config.QdrantSettings
	baseURL string
	client  *http.Client
}

var _ backend.Connection = (*Connection)(nil)

// New creates a Qdrant connection. Defaults mirror a local Qdrant install.
func New(cfg config.QdrantSettings, logger *zap.Logger) *Connection {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	c := &Connection{
		Base:    backend.NewBase(types.DatabaseQdrant, logger),
		cfg:     cfg,
		baseURL: baseURL,
	}
	c.BindReconnect(c.Reconnect)
	return c
}

// BaseURL returns the resolved endpoint URL.
func (c *Connection) BaseURL() string { return c.baseURL }

// Connect builds the HTTP client and verifies the endpoint answers.
func (c *Connection) Connect(ctx context.Context) error {
	c.SetStatus(types.StatusConnecting)
	c.client = &http.Client{Timeout: c.cfg.Timeout}

	if err := c.probe(ctx); err != nil {
		err = types.NewError(types.ErrConnectionCreation, "qdrant endpoint unreachable").
			WithDatabase(types.DatabaseQdrant).
			WithCause(err)
		c.SetError(err)
		return err
	}

	c.SetStatus(types.StatusConnected)
	c.Touch()
	return nil
}

// Disconnect drops the client. Qdrant is stateless over HTTP, so there is
// no session to close beyond idle keep-alives.
func (c *Connection) Disconnect(context.Context) error {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	c.SetStatus(types.StatusDisconnected)
	return nil
}

// IsHealthy probes the collections endpoint.
func (c *Connection) IsHealthy(ctx context.Context) bool {
	if c.client == nil {
		return false
	}
	return c.probe(ctx) == nil
}

// Reconnect rebuilds the client and re-probes once.
func (c *Connection) Reconnect(ctx context.Context) error {
	_ = c.Disconnect(ctx)
	return c.Connect(ctx)
}

func (c *Connection) probe(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/collections", nil)
	return err
}

// Point is one vector point for upsert.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// UpsertPoints writes points into a collection (wait=true so the write is
// visible before the call returns; the 2PC commit phase relies on that).
func (c *Connection) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	body := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
	if _, err := c.do(ctx, http.MethodPut, path, body); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	c.Touch()
	return nil
}

// DeletePoints removes points by ID.
func (c *Connection) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", collection)
	if _, err := c.do(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	c.Touch()
	return nil
}

func (c *Connection) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.client == nil {
		return nil, fmt.Errorf("qdrant connection is not established")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, truncate(data, 200))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
