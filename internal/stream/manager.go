// Package stream maintains at most one server-push event subscription per
// user. Inbound platform events are republished on the notification bus, and
// platform-initiated change events trigger new synchronization requests.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sefay/paysync/internal/bus"
	"github.com/sefay/paysync/internal/config"
	"github.com/sefay/paysync/internal/events"
	"github.com/sefay/paysync/internal/models"
	"github.com/sefay/paysync/internal/platform"
)

// Submitter accepts synchronization requests; satisfied by the sync engine.
type Submitter interface {
	Add(*models.SyncRequest)
}

// RequestBuilder constructs a platform-initiated SyncRequest from an inbound
// sync event. Returning nil drops the event (e.g. no connector is registered
// for the device).
type RequestBuilder func(payload models.SyncEventPayload) *models.SyncRequest

// Manager owns the per-user event stream subscriptions.
type Manager struct {
	cfg      config.StreamConfig
	baseURL  string
	platform platform.Client
	bus      *bus.Bus
	engine   Submitter
	builder  RequestBuilder
	logger   *events.Logger

	mu      sync.Mutex
	streams map[string]*userStream
}

// userStream is one user's reconnecting subscription.
type userStream struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewManager creates a stream manager. The engine and builder may be nil when
// autonomous sync triggering is not wanted.
func NewManager(cfg config.StreamConfig, streamURL string, pc platform.Client, b *bus.Bus, engine Submitter, builder RequestBuilder, logger *events.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		baseURL:  strings.TrimRight(streamURL, "/"),
		platform: pc,
		bus:      b,
		engine:   engine,
		builder:  builder,
		logger:   logger.WithField("component", "stream_manager"),
		streams:  make(map[string]*userStream),
	}
}

// SubscribeUser opens a server-push connection scoped to the user if none
// exists. Idle if already subscribed.
func (m *Manager) SubscribeUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[userID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	us := &userStream{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.streams[userID] = us

	m.logger.WithField("user_id", userID).Info("Subscribing user event stream")
	go m.run(ctx, userID, us)
}

// UnsubscribeUser closes and removes the user's subscription. Idempotent.
// After it returns, no further events for the user are republished.
func (m *Manager) UnsubscribeUser(userID string) {
	m.mu.Lock()
	us, ok := m.streams[userID]
	if ok {
		delete(m.streams, userID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	us.cancel()
	us.closeConn()
	<-us.done

	m.logger.WithField("user_id", userID).Info("Unsubscribed user event stream")
}

// IsSubscribed reports current membership.
func (m *Manager) IsSubscribed(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[userID]
	return ok
}

// Close unsubscribes every user.
func (m *Manager) Close() {
	m.mu.Lock()
	userIDs := make([]string, 0, len(m.streams))
	for id := range m.streams {
		userIDs = append(userIDs, id)
	}
	m.mu.Unlock()

	for _, id := range userIDs {
		m.UnsubscribeUser(id)
	}
}

func (us *userStream) setConn(conn *websocket.Conn) {
	us.mu.Lock()
	us.conn = conn
	us.mu.Unlock()
}

func (us *userStream) closeConn() {
	us.mu.Lock()
	if us.conn != nil {
		_ = us.conn.Close()
		us.conn = nil
	}
	us.mu.Unlock()
}

// run keeps the user's connection alive until the subscription is cancelled.
// Subscription intent is durable across disconnects: every connection loss is
// followed by a reconnect with capped backoff.
func (m *Manager) run(ctx context.Context, userID string, us *userStream) {
	defer close(us.done)

	logger := m.logger.WithField("user_id", userID)
	delay := m.cfg.ReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := m.dial(ctx, userID)
		if err != nil {
			logger.WithError(err).Warn("Event stream connect failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = minDuration(delay*2, m.cfg.MaxReconnectDelay)
			continue
		}

		delay = m.cfg.ReconnectDelay
		us.setConn(conn)

		logger.Info("Event stream connected")
		m.publish(ctx, userID, models.UserStreamEvent{
			UserID:    userID,
			Type:      models.StreamEventConnected,
			Timestamp: time.Now(),
		})

		m.readLoop(ctx, userID, conn, logger)
		us.closeConn()

		if ctx.Err() != nil {
			return
		}

		logger.Info("Event stream disconnected, reconnecting")
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// dial opens the user's event stream connection.
func (m *Manager) dial(ctx context.Context, userID string) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/%s/eventStream", m.baseURL, userID)

	headers := http.Header{}
	if m.platform != nil {
		if token, err := m.platform.AcquireAccessToken(ctx); err == nil {
			headers.Set("Authorization", "Bearer "+token.AccessToken)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("stream connect failed: %w", err)
	}

	return conn, nil
}

// readLoop republishes inbound events until the connection drops.
func (m *Manager) readLoop(ctx context.Context, userID string, conn *websocket.Conn, logger *events.Logger) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go m.pingLoop(conn, stopPing)

	readWindow := m.cfg.PingInterval + m.cfg.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		return nil
	})

	for {
		var wire struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&wire); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("Event stream read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))

		event := models.UserStreamEvent{
			UserID:    userID,
			Type:      wire.Type,
			Payload:   wire.Payload,
			Timestamp: time.Now(),
		}

		logger.WithField("type", event.Type).Debug("Event stream message")
		m.publish(ctx, userID, event)
	}
}

// pingLoop keeps the connection alive per the configured interval.
func (m *Manager) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	if m.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// publish republishes an event on the bus and, for platform-initiated sync
// events, submits a synchronization request.
func (m *Manager) publish(ctx context.Context, userID string, event models.UserStreamEvent) {
	if ctx.Err() != nil {
		return
	}

	m.bus.Publish(event)

	if event.Type != models.StreamEventSync || !m.cfg.AutoSync {
		return
	}
	if m.engine == nil || m.builder == nil {
		return
	}

	var payload models.SyncEventPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			m.logger.WithError(err).Warn("Malformed sync event payload")
			return
		}
	}
	if payload.UserID == "" {
		payload.UserID = userID
	}

	req := m.builder(payload)
	if req == nil {
		m.logger.WithField("device_id", payload.DeviceID).Debug("No connector for sync event, ignoring")
		return
	}

	m.bus.Publish(req)
	m.engine.Add(req)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
