package apdu

import "time"

// Command is one low-level secure-element command inside a package. The
// continue-on-failure flag is set by the package author, not by the device.
type Command struct {
	CommandID         string `json:"commandId"`
	GroupID           int    `json:"groupId"`
	Sequence          int    `json:"sequence"`
	Command           string `json:"command"`
	Type              string `json:"type"`
	ContinueOnFailure bool   `json:"continueOnFailure"`
}

// Package is an ordered set of commands executed as one commit.
type Package struct {
	PackageID  string    `json:"packageId"`
	SeID       string    `json:"seIdType,omitempty"`
	Commands   []Command `json:"commandApdus"`
	ValidUntil time.Time `json:"validUntil,omitempty"`
}

// IsExpired reports whether the package may no longer be executed. A zero
// ValidUntil means the package does not expire.
func (p *Package) IsExpired(now time.Time) bool {
	if p.ValidUntil.IsZero() {
		return false
	}
	return now.After(p.ValidUntil)
}
