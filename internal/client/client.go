// Package client wires the sync core together for embedding applications and
// the CLI.
package client

import (
	"sync"

	"github.com/sefay/paysync/internal/bus"
	"github.com/sefay/paysync/internal/config"
	"github.com/sefay/paysync/internal/device"
	"github.com/sefay/paysync/internal/events"
	"github.com/sefay/paysync/internal/models"
	"github.com/sefay/paysync/internal/platform"
	"github.com/sefay/paysync/internal/state"
	"github.com/sefay/paysync/internal/stream"
	syncengine "github.com/sefay/paysync/internal/sync"
)

// Client provides the high-level API for paysync operations.
type Client struct {
	Bus     *bus.Bus
	Engine  *syncengine.Engine
	Streams *stream.Manager
	State   state.Store

	config   *config.Config
	logger   *events.Logger
	platform platform.Client

	mu         sync.RWMutex
	connectors map[string]device.Connector // keyed by device id
}

// New creates a client with a SQLite-backed state store and a REST platform
// client.
func New(cfg *config.Config, clientSecret string, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := state.NewSQLiteStore(cfg.Storage.StateFile, logger)
	if err != nil {
		return nil, err
	}

	pc := platform.NewRESTClient(&cfg.API, clientSecret, logger)
	return NewWithDeps(cfg, pc, store, logger), nil
}

// NewWithDeps creates a client from explicit collaborators, used by tests and
// embedders that supply their own platform client or store.
func NewWithDeps(cfg *config.Config, pc platform.Client, store state.Store, logger *events.Logger) *Client {
	b := bus.New()

	engine := syncengine.NewEngine(pc, store, b, &syncengine.Config{
		CommandTimeout: cfg.Sync.CommandTimeout,
		ConfirmResults: cfg.Sync.ConfirmResults,
	}, logger)

	c := &Client{
		Bus:        b,
		Engine:     engine,
		State:      store,
		config:     cfg,
		logger:     logger,
		platform:   pc,
		connectors: make(map[string]device.Connector),
	}

	c.Streams = stream.NewManager(cfg.Stream, cfg.API.StreamURL, pc, b, engine, c.buildSyncRequest, logger)
	return c
}

// RegisterConnector associates a connector with a device so platform-initiated
// sync events can target it.
func (c *Client) RegisterConnector(deviceID string, conn device.Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectors[deviceID] = conn
}

// Connector returns the connector registered for a device, nil if none.
func (c *Client) Connector(deviceID string) device.Connector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectors[deviceID]
}

// RequestSync builds and enqueues a user- or app-initiated request for a
// registered device. Returns the request so callers can await its terminal
// transition on the bus.
func (c *Client) RequestSync(initiator models.SyncInitiator, userID, deviceID string) *models.SyncRequest {
	req := models.NewSyncRequest(initiator, c.config.API.ClientID, userID, deviceID, c.Connector(deviceID))
	c.Engine.Add(req)
	return req
}

// buildSyncRequest is the stream manager's request factory.
func (c *Client) buildSyncRequest(payload models.SyncEventPayload) *models.SyncRequest {
	conn := c.Connector(payload.DeviceID)
	if conn == nil {
		return nil
	}
	return models.NewSyncRequest(models.InitiatorPlatform, c.config.API.ClientID, payload.UserID, payload.DeviceID, conn)
}

// Close stops the stream manager and engine and releases the state store.
func (c *Client) Close() error {
	c.Streams.Close()
	c.Engine.Unsubscribe()
	return c.State.Close()
}
