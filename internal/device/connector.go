// Package device defines the contract between the sync engine and a physical
// payment device. The engine reads connector state and issues command round
// trips; it never drives the transport below this interface.
package device

import "context"

// ConnectivityState is the connector lifecycle state, owned by the connector.
type ConnectivityState int

const (
	StateUninitialized ConnectivityState = iota
	StateInitialized
	StateConnected
	StateDisconnected
)

func (s ConnectivityState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateInitialized:
		return "INITIALIZED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// CommandRequest is one command issued to the secure element.
type CommandRequest struct {
	CommandID string
	Sequence  int
	Command   string // hex-encoded command payload
}

// CommandResponse is the raw device response to one command round trip.
type CommandResponse struct {
	ResponseCode string // hex-encoded status word
	ResponseData string // hex-encoded response payload
}

// Connector exposes the connect/disconnect lifecycle and the command
// execution channel of a physical device. Implementations own the transport
// (BLE, NFC) and the connectivity state; callers only observe it.
type Connector interface {
	// State returns the current connectivity state.
	State() ConnectivityState

	// Connect establishes the device session.
	Connect(ctx context.Context) error

	// Disconnect tears down the device session.
	Disconnect(ctx context.Context) error

	// ExecuteCommand performs one command round trip against the secure
	// element. A returned error is a transport failure; command-level
	// failures are reported through the response code.
	ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error)
}
