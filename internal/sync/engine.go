// Package sync owns the serialized synchronization work queue. At most one
// request executes at any time, in submission order, so the engine is the
// sole issuer of device commands.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sefay/paysync/internal/apdu"
	"github.com/sefay/paysync/internal/bus"
	"github.com/sefay/paysync/internal/device"
	"github.com/sefay/paysync/internal/events"
	"github.com/sefay/paysync/internal/models"
	"github.com/sefay/paysync/internal/platform"
	"github.com/sefay/paysync/internal/state"
)

// Callback observes engine lifecycle notifications, in addition to the
// events published on the notification bus. Callbacks fire before the
// corresponding bus transition is published.
type Callback interface {
	SyncRequestAdded(*models.SyncRequest)
	SyncRequestFailed(*models.SyncRequest)
	SyncTaskStarting(*models.SyncRequest)
	SyncTaskStarted(*models.SyncRequest)
	SyncTaskCompleted(*models.SyncRequest)
}

// Config contains engine configuration.
type Config struct {
	// CommandTimeout bounds one command round trip against the device.
	CommandTimeout time.Duration

	// ConfirmResults reports APDU package execution results to the platform.
	ConfirmResults bool
}

// Engine validates, sequences, and executes synchronization requests.
type Engine struct {
	platform platform.Client
	store    state.Store
	bus      *bus.Bus
	logger   *events.Logger

	commandTimeout time.Duration
	confirmResults bool

	mu        sync.Mutex
	queue     []*models.SyncRequest
	callbacks []Callback
	running   bool
	wake      chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
}

// NewEngine creates a sync engine. Call Subscribe to start draining the queue.
func NewEngine(pc platform.Client, store state.Store, b *bus.Bus, cfg *Config, logger *events.Logger) *Engine {
	commandTimeout := cfg.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = 30 * time.Second
	}

	return &Engine{
		platform:       pc,
		store:          store,
		bus:            b,
		logger:         logger.WithField("component", "sync_engine"),
		commandTimeout: commandTimeout,
		confirmResults: cfg.ConfirmResults,
		wake:           make(chan struct{}, 1),
	}
}

// Subscribe starts the queue drain. Idempotent.
func (e *Engine) Subscribe() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}

	e.running = true
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.stopCh, e.done)

	e.logger.Info("Sync engine subscribed")
}

// Unsubscribe stops the queue drain and waits for any in-flight request to
// reach a terminal state. Queued requests remain queued. Idempotent.
func (e *Engine) Unsubscribe() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	stopCh, done := e.stopCh, e.done
	e.mu.Unlock()

	close(stopCh)
	<-done

	e.logger.Info("Sync engine unsubscribed")
}

// Add enqueues a synchronization request. Never blocks; the queue is
// unbounded and backpressure is a caller responsibility. The request-added
// callback fires synchronously on the caller's goroutine.
func (e *Engine) Add(req *models.SyncRequest) {
	if req == nil {
		return
	}

	e.mu.Lock()
	e.queue = append(e.queue, req)
	depth := len(e.queue)
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"sync_id":     req.SyncID(),
		"initiator":   string(req.Initiator()),
		"queue_depth": depth,
	}).Debug("Sync request added")

	e.notify(func(cb Callback) { cb.SyncRequestAdded(req) })

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of requests waiting to execute.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// RegisterCallback adds a lifecycle observer.
func (e *Engine) RegisterCallback(cb Callback) {
	if cb == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// RemoveCallback removes a lifecycle observer.
func (e *Engine) RemoveCallback(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.callbacks {
		if c == cb {
			e.callbacks = append(e.callbacks[:i:i], e.callbacks[i+1:]...)
			return
		}
	}
}

func (e *Engine) notify(fn func(Callback)) {
	e.mu.Lock()
	cbs := make([]Callback, len(e.callbacks))
	copy(cbs, e.callbacks)
	e.mu.Unlock()

	for _, cb := range cbs {
		fn(cb)
	}
}

func (e *Engine) dequeue() *models.SyncRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	req := e.queue[0]
	e.queue = e.queue[1:]
	return req
}

// run drains the queue strictly FIFO, one request at a time.
func (e *Engine) run(stopCh, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		req := e.dequeue()
		if req == nil {
			select {
			case <-stopCh:
				return
			case <-e.wake:
				continue
			}
		}

		e.process(req)
	}
}

// process drives one request from validation to a terminal state. Failures
// are absorbed here; they never propagate to later queued requests.
func (e *Engine) process(req *models.SyncRequest) {
	ctx := events.WithSyncID(context.Background(), req.SyncID())
	logger := e.logger.WithField("sync_id", req.SyncID())

	logger.WithField("state", string(models.SyncValidating)).Debug("Validating sync request")

	if reason := e.validate(req); reason != "" {
		logger.WithField("reason", reason).Info("Sync request skipped")
		e.notify(func(cb Callback) { cb.SyncRequestFailed(req) })
		e.bus.Publish(models.NewSyncTransition(req, models.SyncSkipped))
		return
	}

	e.notify(func(cb Callback) { cb.SyncTaskStarting(req) })
	e.bus.Publish(models.NewSyncTransition(req, models.SyncStarting))

	lastCommitID, err := state.LastCommitID(e.store, req.DeviceID())
	if err != nil && !errors.Is(err, state.ErrKeyNotFound) {
		e.fail(req, logger, &models.SyncError{
			Code: models.ErrCodeState, Phase: "fetch", SyncID: req.SyncID(), Err: err,
		})
		return
	}

	commits, err := e.platform.FetchPendingCommits(ctx, req.UserID(), req.DeviceID(), lastCommitID)
	if err != nil {
		e.fail(req, logger, &models.SyncError{
			Code: models.ErrCodeNetwork, Phase: "fetch", SyncID: req.SyncID(), Err: err,
		})
		return
	}

	if len(commits) == 0 {
		logger.Info("Sync completed, no updates")
		e.notify(func(cb Callback) { cb.SyncTaskCompleted(req) })
		e.bus.Publish(models.NewSyncTransition(req, models.SyncCompletedNoUpdates))
		return
	}

	logger.WithField("commits", len(commits)).Info("Sync started")
	e.notify(func(cb Callback) { cb.SyncTaskStarted(req) })
	e.bus.Publish(models.NewSyncTransition(req, models.SyncStarted))

	logger.WithField("state", string(models.SyncExecuting)).Debug("Applying commits")

	for _, commit := range commits {
		if err := e.applyCommit(ctx, req, commit); err != nil {
			// A commit failure aborts the remaining commits in this request.
			e.fail(req, logger, err)
			return
		}
	}

	last := commits[len(commits)-1]
	if err := state.SetLastCommitID(e.store, req.DeviceID(), last.CommitID); err != nil {
		e.fail(req, logger, &models.SyncError{
			Code: models.ErrCodeState, Phase: "persist", SyncID: req.SyncID(), Err: err,
		})
		return
	}

	logger.WithFields(map[string]interface{}{
		"commits":        len(commits),
		"last_commit_id": last.CommitID,
	}).Info("Sync completed")

	e.notify(func(cb Callback) { cb.SyncTaskCompleted(req) })
	e.bus.Publish(models.NewSyncTransition(req, models.SyncCompleted))
}

// validate returns a non-empty skip reason if the request must not execute.
func (e *Engine) validate(req *models.SyncRequest) string {
	switch {
	case req.UserID() == "":
		return "missing user"
	case req.DeviceID() == "":
		return "missing device"
	case req.Connector() == nil:
		return "missing connector"
	case req.Connector().State() != device.StateConnected:
		return fmt.Sprintf("connector not connected: %s", req.Connector().State())
	default:
		return ""
	}
}

func (e *Engine) fail(req *models.SyncRequest, logger *events.Logger, err error) {
	logger.WithError(err).Error("Sync request failed")

	e.notify(func(cb Callback) { cb.SyncRequestFailed(req) })

	transition := models.NewSyncTransition(req, models.SyncFailed)
	transition.Err = err
	e.bus.Publish(transition)
}

// applyCommit applies one commit in platform order. APDU packages execute
// against the device; informational commits are acknowledged without device
// interaction.
func (e *Engine) applyCommit(ctx context.Context, req *models.SyncRequest, commit models.Commit) error {
	logger := e.logger.WithFields(map[string]interface{}{
		"sync_id":     req.SyncID(),
		"commit_id":   commit.CommitID,
		"commit_type": string(commit.Type),
	})

	if !commit.IsExecutable() {
		logger.Debug("Acknowledging informational commit")
		e.bus.Publish(models.CommitApplied{
			CommitID:  commit.CommitID,
			Type:      commit.Type,
			SyncID:    req.SyncID(),
			Timestamp: time.Now(),
		})
		return nil
	}

	if commit.Package == nil {
		return &models.SyncError{
			Code: models.ErrCodeProtocol, Phase: "execute", SyncID: req.SyncID(),
			Err: fmt.Errorf("commit %s has no apdu package", commit.CommitID),
		}
	}

	result, err := e.executePackage(ctx, req.Connector(), commit.Package, logger)
	e.confirm(ctx, commit.CommitID, result, logger)
	if err != nil {
		return err
	}

	e.bus.Publish(models.CommitApplied{
		CommitID:     commit.CommitID,
		Type:         commit.Type,
		SyncID:       req.SyncID(),
		PackageState: result.State(),
		Timestamp:    time.Now(),
	})
	return nil
}

// executePackage drives a command package against the device, one round trip
// per command, accumulating results into the package verdict.
func (e *Engine) executePackage(ctx context.Context, conn device.Connector, pkg *apdu.Package, logger *events.Logger) (*apdu.PackageResult, error) {
	result := apdu.NewPackageResult(pkg.PackageID)

	if pkg.IsExpired(time.Now()) {
		result.SetState(apdu.StateExpired)
		result.SetError(models.ErrCodeExpired, fmt.Sprintf("package expired at %s", pkg.ValidUntil.Format(time.RFC3339)))
		result.MarkExecutedNow()
		return result, fmt.Errorf("package %s: %w", pkg.PackageID, models.ErrPackageExpired)
	}

	for _, cmd := range pkg.Commands {
		cmdCtx, cancel := context.WithTimeout(ctx, e.commandTimeout)
		resp, err := conn.ExecuteCommand(cmdCtx, device.CommandRequest{
			CommandID: cmd.CommandID,
			Sequence:  cmd.Sequence,
			Command:   cmd.Command,
		})
		cancel()

		if err != nil {
			result.SetState(apdu.StateError)
			result.SetError(models.ErrCodeDevice, err.Error())
			result.MarkExecutedNow()
			return result, fmt.Errorf("execute command %s: %w", cmd.CommandID, err)
		}

		cmdResult, err := apdu.NewCommandResult(cmd.CommandID, resp.ResponseCode, resp.ResponseData, cmd.ContinueOnFailure)
		if err != nil {
			result.SetState(apdu.StateError)
			result.SetError(models.ErrCodeProtocol, err.Error())
			result.MarkExecutedNow()
			return result, fmt.Errorf("command %s response: %w", cmd.CommandID, err)
		}

		result.AddResult(cmdResult)

		if !cmdResult.IsSuccess() {
			logger.WithFields(map[string]interface{}{
				"command_id":    cmd.CommandID,
				"response_code": resp.ResponseCode,
			}).Warn("Command failed, aborting package")
			result.MarkExecutedNow()
			return result, &models.CommandError{
				CommandID:    cmd.CommandID,
				ResponseCode: resp.ResponseCode,
			}
		}
	}

	result.MarkExecutedNow()
	logger.WithFields(map[string]interface{}{
		"package_id": pkg.PackageID,
		"commands":   len(pkg.Commands),
		"state":      string(result.State()),
		"duration_s": result.Duration(),
	}).Debug("Package executed")

	return result, nil
}

// confirm reports the execution result to the platform. Best effort: a
// confirmation failure is logged, not escalated.
func (e *Engine) confirm(ctx context.Context, commitID string, result *apdu.PackageResult, logger *events.Logger) {
	if !e.confirmResults || result == nil {
		return
	}

	if err := e.platform.ConfirmPackage(ctx, commitID, result); err != nil {
		logger.WithError(err).Warn("Failed to confirm package result")
	}
}
