package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/sefay/paysync/internal/device"
)

// SyncInitiator tags who triggered a synchronization request.
type SyncInitiator string

const (
	InitiatorPlatform SyncInitiator = "PLATFORM"
	InitiatorUser     SyncInitiator = "USER"
	InitiatorApp      SyncInitiator = "APP"
)

// SyncRequest identifies a user, a device, and a connector instance to
// synchronize. Immutable once built; consumed exactly once by the engine.
// User, device, and connector may be absent: the engine skips such requests
// during validation rather than rejecting them at construction.
type SyncRequest struct {
	syncID    string
	initiator SyncInitiator
	clientID  string
	userID    string
	deviceID  string
	connector device.Connector
	createdAt time.Time
}

// NewSyncRequest builds an immutable synchronization request with a generated
// sync identifier. An empty initiator defaults to APP.
func NewSyncRequest(initiator SyncInitiator, clientID, userID, deviceID string, connector device.Connector) *SyncRequest {
	if initiator == "" {
		initiator = InitiatorApp
	}

	return &SyncRequest{
		syncID:    uuid.NewString(),
		initiator: initiator,
		clientID:  clientID,
		userID:    userID,
		deviceID:  deviceID,
		connector: connector,
		createdAt: time.Now(),
	}
}

// SyncID returns the generated sync identifier.
func (r *SyncRequest) SyncID() string { return r.syncID }

// Initiator returns the sync causation tag.
func (r *SyncRequest) Initiator() SyncInitiator { return r.initiator }

// ClientID returns the client identifier.
func (r *SyncRequest) ClientID() string { return r.clientID }

// UserID returns the target user identifier, empty if absent.
func (r *SyncRequest) UserID() string { return r.userID }

// DeviceID returns the target device identifier, empty if absent.
func (r *SyncRequest) DeviceID() string { return r.deviceID }

// Connector returns the target connector, nil if absent.
func (r *SyncRequest) Connector() device.Connector { return r.connector }

// CreatedAt returns the request creation timestamp.
func (r *SyncRequest) CreatedAt() time.Time { return r.createdAt }
