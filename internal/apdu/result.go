package apdu

import (
	"errors"
	"time"
)

// ResponseState is the verdict of a package execution.
type ResponseState string

const (
	StateNotProcessed ResponseState = "NOT_PROCESSED"
	StateProcessed    ResponseState = "PROCESSED"
	StateFailed       ResponseState = "FAILED"
	StateError        ResponseState = "ERROR"
	StateExpired      ResponseState = "EXPIRED"
)

// ErrInvalidCommandResult reports a command result missing required fields.
var ErrInvalidCommandResult = errors.New("command result requires command id and response code")

// CommandResult is the outcome of one executed command. Immutable once built.
type CommandResult struct {
	commandID         string
	responseCode      string
	responseData      string
	continueOnFailure bool
}

// NewCommandResult builds an immutable command result. The command id and
// response code are required; response data may be empty.
func NewCommandResult(commandID, responseCode, responseData string, continueOnFailure bool) (CommandResult, error) {
	if commandID == "" || responseCode == "" {
		return CommandResult{}, ErrInvalidCommandResult
	}
	return CommandResult{
		commandID:         commandID,
		responseCode:      responseCode,
		responseData:      responseData,
		continueOnFailure: continueOnFailure,
	}, nil
}

// CommandID returns the executed command's identifier.
func (r CommandResult) CommandID() string { return r.commandID }

// ResponseCode returns the raw response code in hex.
func (r CommandResult) ResponseCode() string { return r.responseCode }

// ResponseData returns the raw response payload in hex.
func (r CommandResult) ResponseData() string { return r.responseData }

// ContinueOnFailure reports whether the originating package permits the
// package to proceed even if this command's response code indicates failure.
func (r CommandResult) ContinueOnFailure() bool { return r.continueOnFailure }

// IsSuccess classifies the result against the success-code table.
func (r CommandResult) IsSuccess() bool {
	return IsSuccessResponse(r.responseCode, r.continueOnFailure)
}

// PackageResult aggregates an ordered sequence of command results into a
// package-level verdict with timing metadata.
type PackageResult struct {
	packageID   string
	state       ResponseState
	executedAt  time.Time
	durationSec int
	results     []CommandResult
	errorCode   string
	errorReason string
}

// NewPackageResult starts tracking execution of a package. The start timestamp
// is captured immediately.
func NewPackageResult(packageID string) *PackageResult {
	return &PackageResult{
		packageID:  packageID,
		state:      StateNotProcessed,
		executedAt: time.Now(),
	}
}

// AddResult appends a command result and incrementally updates the verdict.
// The verdict is monotonic toward failure: once FAILED, later successful
// results do not revert it to PROCESSED.
func (p *PackageResult) AddResult(result CommandResult) {
	p.results = append(p.results, result)

	switch p.state {
	case StateNotProcessed, StateProcessed:
		if result.IsSuccess() {
			p.state = StateProcessed
		} else {
			p.state = StateFailed
		}
	default:
		// Terminal verdicts are sticky within an incremental pass.
	}
}

// DeriveState recomputes the verdict from scratch over the full result
// sequence: no results is ERROR, any non-overridden failure is FAILED,
// otherwise PROCESSED. Unlike AddResult this is independent of prior state.
func (p *PackageResult) DeriveState() {
	if len(p.results) == 0 {
		p.state = StateError
		return
	}

	p.state = StateProcessed
	for _, result := range p.results {
		if !result.IsSuccess() {
			p.state = StateFailed
			return
		}
	}
}

// MarkExecutedNow records the elapsed duration since the package's start
// timestamp, in whole seconds.
func (p *PackageResult) MarkExecutedNow() {
	p.durationSec = int(time.Since(p.executedAt) / time.Second)
}

// SetState overrides the verdict, used for transport-level outcomes such as
// EXPIRED that are not derived from command results.
func (p *PackageResult) SetState(state ResponseState) {
	p.state = state
}

// SetError records a transport-level error distinct from command failures.
func (p *PackageResult) SetError(code, reason string) {
	p.errorCode = code
	p.errorReason = reason
}

// PackageID returns the package identifier.
func (p *PackageResult) PackageID() string { return p.packageID }

// State returns the current verdict.
func (p *PackageResult) State() ResponseState { return p.state }

// ExecutedAt returns the package's start timestamp.
func (p *PackageResult) ExecutedAt() time.Time { return p.executedAt }

// Duration returns the recorded execution duration in whole seconds.
func (p *PackageResult) Duration() int { return p.durationSec }

// ErrorCode returns the transport-level error code, if any.
func (p *PackageResult) ErrorCode() string { return p.errorCode }

// ErrorReason returns the transport-level error reason, if any.
func (p *PackageResult) ErrorReason() string { return p.errorReason }

// Results returns a read-only view of the ordered command results.
func (p *PackageResult) Results() []CommandResult {
	out := make([]CommandResult, len(p.results))
	copy(out, p.results)
	return out
}
