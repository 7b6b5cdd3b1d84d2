// Package platform talks to the cloud platform that issues commits and
// receives execution results. The engine depends only on the Client contract.
package platform

import (
	"context"
	"time"

	"github.com/sefay/paysync/internal/apdu"
	"github.com/sefay/paysync/internal/models"
)

// Token is an access token for the platform API.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IsExpired reports whether the token needs to be reacquired.
func (t *Token) IsExpired() bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// Client is the platform API surface the sync core consumes.
type Client interface {
	// AcquireAccessToken obtains an access token for subsequent calls.
	AcquireAccessToken(ctx context.Context) (*Token, error)

	// FetchPendingCommits returns the ordered list of commits pending for a
	// device, after the given commit id. An empty afterCommitID fetches from
	// the beginning of the device's commit stream.
	FetchPendingCommits(ctx context.Context, userID, deviceID, afterCommitID string) ([]models.Commit, error)

	// ConfirmPackage reports an APDU package execution result back to the
	// platform.
	ConfirmPackage(ctx context.Context, commitID string, result *apdu.PackageResult) error
}
