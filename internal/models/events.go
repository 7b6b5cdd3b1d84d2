package models

import (
	"encoding/json"
	"time"

	"github.com/sefay/paysync/internal/apdu"
	"github.com/sefay/paysync/internal/bus"
)

// SyncState is a synchronization lifecycle state. Terminal states are
// SKIPPED, COMPLETED, COMPLETED_NO_UPDATES, and FAILED.
type SyncState string

const (
	SyncInitiated          SyncState = "INITIATED"
	SyncValidating         SyncState = "VALIDATING"
	SyncSkipped            SyncState = "SKIPPED"
	SyncStarting           SyncState = "STARTING"
	SyncStarted            SyncState = "STARTED"
	SyncExecuting          SyncState = "EXECUTING"
	SyncCompleted          SyncState = "COMPLETED"
	SyncCompletedNoUpdates SyncState = "COMPLETED_NO_UPDATES"
	SyncFailed             SyncState = "FAILED"
)

// IsTerminal reports whether no further transitions follow this state.
func (s SyncState) IsTerminal() bool {
	switch s {
	case SyncSkipped, SyncCompleted, SyncCompletedNoUpdates, SyncFailed:
		return true
	default:
		return false
	}
}

// SyncTransition is published once per lifecycle transition of a request.
// Never retracted.
type SyncTransition struct {
	Request   *SyncRequest
	State     SyncState
	Timestamp time.Time
	Err       error
}

// EventKind implements bus.Event.
func (SyncTransition) EventKind() bus.Kind { return bus.KindSyncTransition }

// NewSyncTransition stamps a lifecycle transition for a request.
func NewSyncTransition(req *SyncRequest, state SyncState) SyncTransition {
	return SyncTransition{Request: req, State: state, Timestamp: time.Now()}
}

// CommitApplied reports one commit successfully applied to a device.
type CommitApplied struct {
	CommitID     string
	Type         CommitType
	SyncID       string
	PackageState apdu.ResponseState // empty for non-APDU commits
	Timestamp    time.Time
}

// EventKind implements bus.Event.
func (CommitApplied) EventKind() bus.Kind { return bus.KindCommitApplied }

// EventKind implements bus.Event: a request itself is published when the
// trigger path constructs one, so observers can watch autonomous syncs.
func (*SyncRequest) EventKind() bus.Kind { return bus.KindSyncRequest }

// Well-known user stream event types. Anything else the platform sends is
// republished verbatim under its own type.
const (
	StreamEventConnected = "STREAM_CONNECTED"
	StreamEventSync      = "SYNC"
)

// UserStreamEvent is an inbound platform event on a user's stream,
// republished on the notification bus.
type UserStreamEvent struct {
	UserID    string          `json:"userId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"-"`
}

// EventKind implements bus.Event.
func (UserStreamEvent) EventKind() bus.Kind { return bus.KindStreamEvent }

// SyncEventPayload is the payload of a SYNC stream event: the platform names
// the user and device that have pending changes.
type SyncEventPayload struct {
	SyncID   string `json:"syncId,omitempty"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	ClientID string `json:"clientId,omitempty"`
}
