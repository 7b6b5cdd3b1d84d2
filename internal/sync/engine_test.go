package sync

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefay/paysync/internal/apdu"
	"github.com/sefay/paysync/internal/bus"
	"github.com/sefay/paysync/internal/device"
	"github.com/sefay/paysync/internal/events"
	"github.com/sefay/paysync/internal/models"
	"github.com/sefay/paysync/internal/platform"
	"github.com/sefay/paysync/internal/state"
)

const (
	testUser   = "usr-1"
	testDevice = "dev-1"
)

type engineFixture struct {
	engine      *Engine
	platform    *platform.MockClient
	store       *state.MemoryStore
	bus         *bus.Bus
	transitions chan models.SyncTransition
	applied     chan models.CommitApplied
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	pc := platform.NewMockClient()
	store := state.NewMemoryStore()
	b := bus.New()

	f := &engineFixture{
		engine:      NewEngine(pc, store, b, &Config{CommandTimeout: time.Second, ConfirmResults: true}, logger),
		platform:    pc,
		store:       store,
		bus:         b,
		transitions: make(chan models.SyncTransition, 32),
		applied:     make(chan models.CommitApplied, 32),
	}

	b.Subscribe(bus.KindSyncTransition, func(ev bus.Event) {
		f.transitions <- ev.(models.SyncTransition)
	})
	b.Subscribe(bus.KindCommitApplied, func(ev bus.Event) {
		f.applied <- ev.(models.CommitApplied)
	})

	f.engine.Subscribe()
	t.Cleanup(f.engine.Unsubscribe)

	return f
}

// waitTerminal collects transitions until the request reaches a terminal
// state and returns the full trajectory.
func (f *engineFixture) waitTerminal(t *testing.T) []models.SyncTransition {
	t.Helper()

	var seen []models.SyncTransition
	deadline := time.After(5 * time.Second)
	for {
		select {
		case tr := <-f.transitions:
			seen = append(seen, tr)
			if tr.State.IsTerminal() {
				return seen
			}
		case <-deadline:
			t.Fatalf("no terminal transition, saw %d transitions", len(seen))
		}
	}
}

func connectedMock() *device.MockConnector {
	conn := device.NewMockConnector()
	conn.SetState(device.StateConnected)
	return conn
}

func apduCommit(commitID, packageID string, commands ...apdu.Command) models.Commit {
	return models.Commit{
		CommitID: commitID,
		Type:     models.CommitAPDUPackage,
		Package:  &apdu.Package{PackageID: packageID, Commands: commands},
	}
}

// recordingCallback captures lifecycle notifications in order.
type recordingCallback struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingCallback) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *recordingCallback) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *recordingCallback) SyncRequestAdded(*models.SyncRequest)  { c.record("added") }
func (c *recordingCallback) SyncRequestFailed(*models.SyncRequest) { c.record("failed") }
func (c *recordingCallback) SyncTaskStarting(*models.SyncRequest)  { c.record("starting") }
func (c *recordingCallback) SyncTaskStarted(*models.SyncRequest)   { c.record("started") }
func (c *recordingCallback) SyncTaskCompleted(*models.SyncRequest) { c.record("completed") }

func TestEngineSkipsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  func() *models.SyncRequest
	}{
		{
			name: "missing user",
			req: func() *models.SyncRequest {
				return models.NewSyncRequest(models.InitiatorUser, "cli", "", testDevice, connectedMock())
			},
		},
		{
			name: "missing device",
			req: func() *models.SyncRequest {
				return models.NewSyncRequest(models.InitiatorUser, "cli", testUser, "", connectedMock())
			},
		},
		{
			name: "missing connector",
			req: func() *models.SyncRequest {
				return models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, nil)
			},
		},
		{
			name: "connector not connected",
			req: func() *models.SyncRequest {
				return models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, device.NewMockConnector())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			cb := &recordingCallback{}
			f.engine.RegisterCallback(cb)

			f.engine.Add(tt.req())
			seen := f.waitTerminal(t)

			require.Len(t, seen, 1)
			assert.Equal(t, models.SyncSkipped, seen[0].State)
			assert.Empty(t, f.platform.FetchCalls, "skipped request must not reach the platform")
			assert.Equal(t, []string{"added", "failed"}, cb.Calls())
		})
	}
}

func TestEngineCompletedNoUpdates(t *testing.T) {
	f := newEngineFixture(t)
	cb := &recordingCallback{}
	f.engine.RegisterCallback(cb)

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock()))
	seen := f.waitTerminal(t)

	require.Len(t, seen, 2)
	assert.Equal(t, models.SyncStarting, seen[0].State)
	assert.Equal(t, models.SyncCompletedNoUpdates, seen[1].State)

	require.Len(t, f.platform.FetchCalls, 1)
	assert.Equal(t, testUser, f.platform.FetchCalls[0].UserID)
	assert.Equal(t, testDevice, f.platform.FetchCalls[0].DeviceID)
	assert.Empty(t, f.platform.FetchCalls[0].AfterCommitID)

	assert.Equal(t, []string{"added", "starting", "completed"}, cb.Calls())

	_, err := state.LastCommitID(f.store, testDevice)
	assert.ErrorIs(t, err, state.ErrKeyNotFound, "no commits means nothing to persist")
}

func TestEngineAppliesPackage(t *testing.T) {
	f := newEngineFixture(t)
	cb := &recordingCallback{}
	f.engine.RegisterCallback(cb)

	conn := connectedMock()
	f.platform.SetCommits(testDevice, []models.Commit{
		apduCommit("c1", "pkg-1",
			apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000"},
			apdu.Command{CommandID: "a2", Sequence: 1, Command: "80E2000010"},
		),
	})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, conn))
	seen := f.waitTerminal(t)

	require.Len(t, seen, 3)
	assert.Equal(t, models.SyncStarting, seen[0].State)
	assert.Equal(t, models.SyncStarted, seen[1].State)
	assert.Equal(t, models.SyncCompleted, seen[2].State)
	assert.Equal(t, []string{"added", "starting", "started", "completed"}, cb.Calls())

	applied := <-f.applied
	assert.Equal(t, "c1", applied.CommitID)
	assert.Equal(t, apdu.StateProcessed, applied.PackageState)

	executed := conn.ExecutedCommands()
	require.Len(t, executed, 2)
	assert.Equal(t, "a1", executed[0].CommandID)
	assert.Equal(t, "a2", executed[1].CommandID)

	commitID, err := state.LastCommitID(f.store, testDevice)
	require.NoError(t, err)
	assert.Equal(t, "c1", commitID)

	require.Len(t, f.platform.Confirmations, 1)
	assert.Equal(t, "c1", f.platform.Confirmations[0].CommitID)
	assert.Equal(t, apdu.StateProcessed, f.platform.Confirmations[0].State)
}

func TestEngineCommandFailureAbortsSync(t *testing.T) {
	f := newEngineFixture(t)

	conn := connectedMock()
	conn.SetResponse("a2", device.CommandResponse{ResponseCode: "6A80"})
	f.platform.SetCommits(testDevice, []models.Commit{
		apduCommit("c1", "pkg-1",
			apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000"},
			apdu.Command{CommandID: "a2", Sequence: 1, Command: "80E2000010"},
			apdu.Command{CommandID: "a3", Sequence: 2, Command: "80CA9F7F00"},
		),
		apduCommit("c2", "pkg-2",
			apdu.Command{CommandID: "b1", Sequence: 0, Command: "00A4040000"},
		),
	})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, conn))
	seen := f.waitTerminal(t)

	last := seen[len(seen)-1]
	assert.Equal(t, models.SyncFailed, last.State)

	var cmdErr *models.CommandError
	require.ErrorAs(t, last.Err, &cmdErr)
	assert.Equal(t, "a2", cmdErr.CommandID)
	assert.Equal(t, "6A80", cmdErr.ResponseCode)

	// The failing command aborts its package and the remaining commits.
	executed := conn.ExecutedCommands()
	require.Len(t, executed, 2)
	assert.Equal(t, "a2", executed[1].CommandID)

	_, err := state.LastCommitID(f.store, testDevice)
	assert.ErrorIs(t, err, state.ErrKeyNotFound, "failed sync must not advance the commit pointer")

	require.Len(t, f.platform.Confirmations, 1)
	assert.Equal(t, apdu.StateFailed, f.platform.Confirmations[0].State)
}

func TestEngineContinueOnFailure(t *testing.T) {
	f := newEngineFixture(t)

	conn := connectedMock()
	conn.SetResponse("a1", device.CommandResponse{ResponseCode: "6A80"})
	f.platform.SetCommits(testDevice, []models.Commit{
		apduCommit("c1", "pkg-1",
			apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000", ContinueOnFailure: true},
			apdu.Command{CommandID: "a2", Sequence: 1, Command: "80E2000010"},
		),
	})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, conn))
	seen := f.waitTerminal(t)

	assert.Equal(t, models.SyncCompleted, seen[len(seen)-1].State)
	assert.Len(t, conn.ExecutedCommands(), 2)

	applied := <-f.applied
	assert.Equal(t, apdu.StateProcessed, applied.PackageState)
}

func TestEngineExpiredPackage(t *testing.T) {
	f := newEngineFixture(t)

	conn := connectedMock()
	commit := apduCommit("c1", "pkg-1",
		apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000"},
	)
	commit.Package.ValidUntil = time.Now().Add(-time.Minute)
	f.platform.SetCommits(testDevice, []models.Commit{commit})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, conn))
	seen := f.waitTerminal(t)

	last := seen[len(seen)-1]
	assert.Equal(t, models.SyncFailed, last.State)
	assert.ErrorIs(t, last.Err, models.ErrPackageExpired)

	assert.Empty(t, conn.ExecutedCommands(), "expired package must not touch the device")

	require.Len(t, f.platform.Confirmations, 1)
	assert.Equal(t, apdu.StateExpired, f.platform.Confirmations[0].State)
}

func TestEngineInformationalCommit(t *testing.T) {
	f := newEngineFixture(t)

	conn := connectedMock()
	f.platform.SetCommits(testDevice, []models.Commit{
		{CommitID: "c1", Type: models.CommitCreditCardCreated},
		apduCommit("c2", "pkg-1",
			apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000"},
		),
	})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, conn))
	seen := f.waitTerminal(t)
	assert.Equal(t, models.SyncCompleted, seen[len(seen)-1].State)

	first := <-f.applied
	assert.Equal(t, "c1", first.CommitID)
	assert.Equal(t, models.CommitCreditCardCreated, first.Type)
	assert.Empty(t, first.PackageState)

	second := <-f.applied
	assert.Equal(t, "c2", second.CommitID)

	assert.Len(t, conn.ExecutedCommands(), 1, "informational commits execute no commands")

	commitID, err := state.LastCommitID(f.store, testDevice)
	require.NoError(t, err)
	assert.Equal(t, "c2", commitID)
}

func TestEngineResumesAfterLastCommit(t *testing.T) {
	f := newEngineFixture(t)

	require.NoError(t, state.SetLastCommitID(f.store, testDevice, "c1"))

	conn := connectedMock()
	f.platform.SetCommits(testDevice, []models.Commit{
		apduCommit("c1", "pkg-1", apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000"}),
		apduCommit("c2", "pkg-2", apdu.Command{CommandID: "b1", Sequence: 0, Command: "00A4040000"}),
	})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, conn))
	seen := f.waitTerminal(t)
	assert.Equal(t, models.SyncCompleted, seen[len(seen)-1].State)

	require.Len(t, f.platform.FetchCalls, 1)
	assert.Equal(t, "c1", f.platform.FetchCalls[0].AfterCommitID)

	// Only the commit after the resume point applies.
	executed := conn.ExecutedCommands()
	require.Len(t, executed, 1)
	assert.Equal(t, "b1", executed[0].CommandID)

	commitID, err := state.LastCommitID(f.store, testDevice)
	require.NoError(t, err)
	assert.Equal(t, "c2", commitID)
}

func TestEngineFetchErrorFailsRequest(t *testing.T) {
	f := newEngineFixture(t)
	f.platform.FetchError = errors.New("gateway timeout")

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock()))
	seen := f.waitTerminal(t)

	last := seen[len(seen)-1]
	assert.Equal(t, models.SyncFailed, last.State)

	var syncErr *models.SyncError
	require.ErrorAs(t, last.Err, &syncErr)
	assert.Equal(t, models.ErrCodeNetwork, syncErr.Code)
	assert.Equal(t, "fetch", syncErr.Phase)
}

func TestEngineNilPackageIsProtocolError(t *testing.T) {
	f := newEngineFixture(t)

	f.platform.SetCommits(testDevice, []models.Commit{
		{CommitID: "c1", Type: models.CommitAPDUPackage},
	})

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock()))
	seen := f.waitTerminal(t)

	last := seen[len(seen)-1]
	assert.Equal(t, models.SyncFailed, last.State)

	var syncErr *models.SyncError
	require.ErrorAs(t, last.Err, &syncErr)
	assert.Equal(t, models.ErrCodeProtocol, syncErr.Code)
}

func TestEngineFailureDoesNotPoisonQueue(t *testing.T) {
	f := newEngineFixture(t)

	badConn := connectedMock()
	badConn.ExecuteError = errors.New("nfc channel dropped")
	f.platform.SetCommits("dev-bad", []models.Commit{
		apduCommit("c1", "pkg-1", apdu.Command{CommandID: "a1", Sequence: 0, Command: "00A4040000"}),
	})

	goodConn := connectedMock()
	f.platform.SetCommits(testDevice, []models.Commit{
		apduCommit("c2", "pkg-2", apdu.Command{CommandID: "b1", Sequence: 0, Command: "00A4040000"}),
	})

	first := models.NewSyncRequest(models.InitiatorUser, "cli", testUser, "dev-bad", badConn)
	second := models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, goodConn)
	f.engine.Add(first)
	f.engine.Add(second)

	seen := f.waitTerminal(t)
	assert.Equal(t, models.SyncFailed, seen[len(seen)-1].State)
	assert.Equal(t, first.SyncID(), seen[len(seen)-1].Request.SyncID())

	seen = f.waitTerminal(t)
	assert.Equal(t, models.SyncCompleted, seen[len(seen)-1].State)
	assert.Equal(t, second.SyncID(), seen[len(seen)-1].Request.SyncID())
}

func TestEngineSerializesRequests(t *testing.T) {
	f := newEngineFixture(t)

	var order []string
	for i := 0; i < 5; i++ {
		req := models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock())
		order = append(order, req.SyncID())
		f.engine.Add(req)
	}

	for i := 0; i < 5; i++ {
		seen := f.waitTerminal(t)
		last := seen[len(seen)-1]
		assert.Equal(t, models.SyncCompletedNoUpdates, last.State)
		assert.Equal(t, order[i], last.Request.SyncID(), "requests must complete in submission order")
	}
}

func TestEngineSubscribeIdempotent(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.Subscribe()
	f.engine.Subscribe()

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock()))
	seen := f.waitTerminal(t)
	assert.Equal(t, models.SyncCompletedNoUpdates, seen[len(seen)-1].State)

	f.engine.Unsubscribe()
	f.engine.Unsubscribe()
}

func TestEngineQueueSurvivesUnsubscribe(t *testing.T) {
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	pc := platform.NewMockClient()
	engine := NewEngine(pc, state.NewMemoryStore(), bus.New(), &Config{}, logger)

	// Not subscribed: Add queues without executing.
	engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock()))
	assert.Equal(t, 1, engine.QueueDepth())
	assert.Empty(t, pc.FetchCalls)
}

func TestEngineRemoveCallback(t *testing.T) {
	f := newEngineFixture(t)

	cb := &recordingCallback{}
	f.engine.RegisterCallback(cb)
	f.engine.RemoveCallback(cb)

	f.engine.Add(models.NewSyncRequest(models.InitiatorUser, "cli", testUser, testDevice, connectedMock()))
	f.waitTerminal(t)

	assert.Empty(t, cb.Calls())
}
