package platform

import (
	"context"
	"sync"
	"time"

	"github.com/sefay/paysync/internal/apdu"
	"github.com/sefay/paysync/internal/models"
)

// MockClient provides a scripted platform client for testing.
type MockClient struct {
	mu sync.Mutex

	// Response configuration
	Commits map[string][]models.Commit // keyed by device id

	// Error injection
	FetchError   error
	TokenError   error
	ConfirmError error

	// Request tracking
	FetchCalls    []FetchCall
	Confirmations []Confirmation
}

// FetchCall records one FetchPendingCommits invocation.
type FetchCall struct {
	UserID        string
	DeviceID      string
	AfterCommitID string
}

// Confirmation records one ConfirmPackage invocation.
type Confirmation struct {
	CommitID string
	State    apdu.ResponseState
}

// NewMockClient creates a mock platform client.
func NewMockClient() *MockClient {
	return &MockClient{Commits: make(map[string][]models.Commit)}
}

// SetCommits scripts the pending commits for a device.
func (m *MockClient) SetCommits(deviceID string, commits []models.Commit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commits[deviceID] = commits
}

// AcquireAccessToken returns a static token.
func (m *MockClient) AcquireAccessToken(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TokenError != nil {
		return nil, m.TokenError
	}
	return &Token{
		AccessToken: "mock-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

// FetchPendingCommits returns the scripted commits after the given id.
func (m *MockClient) FetchPendingCommits(ctx context.Context, userID, deviceID, afterCommitID string) ([]models.Commit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls = append(m.FetchCalls, FetchCall{
		UserID:        userID,
		DeviceID:      deviceID,
		AfterCommitID: afterCommitID,
	})

	if m.FetchError != nil {
		return nil, m.FetchError
	}

	commits := m.Commits[deviceID]
	if afterCommitID == "" {
		return commits, nil
	}

	for i, c := range commits {
		if c.CommitID == afterCommitID {
			return commits[i+1:], nil
		}
	}
	return commits, nil
}

// ConfirmPackage records the confirmation.
func (m *MockClient) ConfirmPackage(ctx context.Context, commitID string, result *apdu.PackageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Confirmations = append(m.Confirmations, Confirmation{
		CommitID: commitID,
		State:    result.State(),
	})
	return m.ConfirmError
}
