package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sefay/paysync/internal/bus"
	"github.com/sefay/paysync/internal/device"
	"github.com/sefay/paysync/internal/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization for a user's device",
	Long: `Sync enqueues a single synchronization request and waits for its
terminal state. Pending commits are fetched from the platform and applied to
the device in order; the run resumes after the last commit applied by a
previous sync.`,
	Example: `  paysync sync --user usr-123 --device dev-456
  paysync sync --user usr-123 --device dev-456 --timeout 2m`,
	RunE: runSync,
}

var (
	syncUser    string
	syncDevice  string
	syncTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringVarP(&syncUser, "user", "u", "", "User identifier (required)")
	syncCmd.Flags().StringVarP(&syncDevice, "device", "d", "", "Device identifier (required)")
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 5*time.Minute, "Time to wait for a terminal state")

	_ = syncCmd.MarkFlagRequired("user")
	_ = syncCmd.MarkFlagRequired("device")
}

func runSync(cmd *cobra.Command, args []string) error {
	conn := connectorForDevice()
	apiClient.RegisterConnector(syncDevice, conn)

	terminal := make(chan models.SyncTransition, 1)
	sub := apiClient.Bus.SubscribeAsync(bus.KindSyncTransition, func(ev bus.Event) {
		t := ev.(models.SyncTransition)
		printTransition(t)
		if t.State.IsTerminal() {
			select {
			case terminal <- t:
			default:
			}
		}
	})
	defer apiClient.Bus.Unsubscribe(sub)

	commitSub := apiClient.Bus.SubscribeAsync(bus.KindCommitApplied, func(ev bus.Event) {
		c := ev.(models.CommitApplied)
		fmt.Printf("  %s commit %s (%s)\n", color.GreenString("applied"), c.CommitID, c.Type)
	})
	defer apiClient.Bus.Unsubscribe(commitSub)

	apiClient.Engine.Subscribe()
	defer apiClient.Engine.Unsubscribe()

	req := apiClient.RequestSync(models.InitiatorUser, syncUser, syncDevice)
	fmt.Printf("Sync %s queued\n", color.CyanString(req.SyncID()))

	select {
	case t := <-terminal:
		if t.State == models.SyncFailed {
			return fmt.Errorf("sync failed: %v", t.Err)
		}
		return nil
	case <-time.After(syncTimeout):
		return fmt.Errorf("sync did not reach a terminal state within %s", syncTimeout)
	}
}

func connectorForDevice() device.Connector {
	// Real transports (BLE, NFC) register their own connectors when paysync
	// is embedded; the CLI runs against the mock connector.
	mock := device.NewMockConnector()
	mock.SetState(device.StateConnected)
	return mock
}

func printTransition(t models.SyncTransition) {
	state := string(t.State)
	switch t.State {
	case models.SyncCompleted, models.SyncCompletedNoUpdates:
		state = color.GreenString(state)
	case models.SyncFailed:
		state = color.RedString(state)
	case models.SyncSkipped:
		state = color.YellowString(state)
	}
	fmt.Printf("Sync %s: %s\n", t.Request.SyncID(), state)
}
