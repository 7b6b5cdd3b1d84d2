package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockConnector provides a scripted connector for tests and dry runs.
type MockConnector struct {
	mu sync.Mutex

	state ConnectivityState

	// Response configuration
	responses       map[string]CommandResponse
	defaultResponse CommandResponse

	// Error injection
	ExecuteError error

	// Behavior configuration
	ConnectDelay time.Duration

	// Request tracking
	Executed []CommandRequest
}

// NewMockConnector creates an initialized mock connector.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		state:           StateInitialized,
		responses:       make(map[string]CommandResponse),
		defaultResponse: CommandResponse{ResponseCode: "9000"},
	}
}

// SetResponse scripts the response for a specific command id.
func (m *MockConnector) SetResponse(commandID string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[commandID] = resp
}

// SetDefaultResponse scripts the response for unscripted commands.
func (m *MockConnector) SetDefaultResponse(resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResponse = resp
}

// SetState forces a connectivity state.
func (m *MockConnector) SetState(state ConnectivityState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// State returns the current connectivity state.
func (m *MockConnector) State() ConnectivityState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect transitions to CONNECTED after the configured delay.
func (m *MockConnector) Connect(ctx context.Context) error {
	if m.ConnectDelay > 0 {
		select {
		case <-time.After(m.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateConnected
	return nil
}

// Disconnect transitions to DISCONNECTED.
func (m *MockConnector) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDisconnected
	return nil
}

// ExecuteCommand returns the scripted response for the command.
func (m *MockConnector) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected {
		return CommandResponse{}, fmt.Errorf("connector not connected: %s", m.state)
	}

	m.Executed = append(m.Executed, req)

	if m.ExecuteError != nil {
		return CommandResponse{}, m.ExecuteError
	}

	if resp, ok := m.responses[req.CommandID]; ok {
		return resp, nil
	}
	return m.defaultResponse, nil
}

// ExecutedCommands returns a copy of the executed command sequence.
func (m *MockConnector) ExecutedCommands() []CommandRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CommandRequest, len(m.Executed))
	copy(out, m.Executed)
	return out
}
