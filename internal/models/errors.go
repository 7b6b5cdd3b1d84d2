package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth     = "AUTH_ERROR"
	ErrCodeNetwork  = "NETWORK_ERROR"
	ErrCodeDevice   = "DEVICE_ERROR"
	ErrCodeExpired  = "PACKAGE_EXPIRED"
	ErrCodeState    = "STATE_ERROR"
	ErrCodeConfig   = "CONFIG_ERROR"
	ErrCodeServer   = "SERVER_ERROR"
	ErrCodeProtocol = "PROTOCOL_ERROR"
)

// Sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrCommitFailed     = errors.New("commit failed")
	ErrPackageExpired   = errors.New("apdu package expired")
	ErrInvalidRequest   = errors.New("invalid sync request")
	ErrEngineStopped    = errors.New("sync engine not subscribed")
	ErrStreamClosed     = errors.New("user event stream closed")
)

// APIError represents an error from the platform API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// SyncError provides detailed synchronization failure information.
type SyncError struct {
	Code   string
	Phase  string
	SyncID string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s [%s]: request %s: %v", e.Phase, e.Code, e.SyncID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// CommandError reports a command whose response code classified as failure.
type CommandError struct {
	CommandID    string
	ResponseCode string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed with response code %s", e.CommandID, e.ResponseCode)
}
