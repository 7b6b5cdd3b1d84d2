package models

import (
	"encoding/json"

	"github.com/sefay/paysync/internal/apdu"
)

// CommitType is the closed set of pending-change kinds the platform issues.
type CommitType string

const (
	CommitAPDUPackage         CommitType = "APDU_PACKAGE"
	CommitCreditCardCreated   CommitType = "CREDITCARD_CREATED"
	CommitCreditCardActivated CommitType = "CREDITCARD_ACTIVATED"
	CommitCreditCardDeleted   CommitType = "CREDITCARD_DELETED"
	CommitSetDefaultCard      CommitType = "SET_DEFAULT_CREDIT_CARD"
	CommitResetDefaultCard    CommitType = "RESET_DEFAULT_CREDIT_CARD"
)

// Commit is one unit of pending change delivered during synchronization.
// APDU_PACKAGE commits carry a command package executed against the device;
// the remaining kinds are informational card-state changes applied by
// acknowledgment only.
type Commit struct {
	CommitID  string          `json:"commitId"`
	Type      CommitType      `json:"commitType"`
	CreatedTs int64           `json:"createdTs"`
	Package   *apdu.Package   `json:"-"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON decodes a commit and, for APDU_PACKAGE commits, its package
// payload.
func (c *Commit) UnmarshalJSON(data []byte) error {
	type alias Commit
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Commit(a)

	if c.Type == CommitAPDUPackage && len(c.Payload) > 0 {
		var pkg apdu.Package
		if err := json.Unmarshal(c.Payload, &pkg); err != nil {
			return err
		}
		c.Package = &pkg
	}

	return nil
}

// IsExecutable reports whether applying the commit requires device command
// execution.
func (c *Commit) IsExecutable() bool {
	return c.Type == CommitAPDUPackage
}
