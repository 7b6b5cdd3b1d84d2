package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sefay/paysync/internal/bus"
	"github.com/sefay/paysync/internal/models"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Subscribe to a user's event stream and sync on platform changes",
	Long: `Listen opens the user's server-push event stream and keeps it open,
reconnecting on disconnect. Platform-initiated change events trigger
synchronization requests automatically; the engine drains them one at a time
until interrupted.`,
	Example: `  paysync listen --user usr-123 --device dev-456`,
	RunE:    runListen,
}

var (
	listenUser   string
	listenDevice string
)

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVarP(&listenUser, "user", "u", "", "User identifier (required)")
	listenCmd.Flags().StringVarP(&listenDevice, "device", "d", "", "Device identifier (required)")

	_ = listenCmd.MarkFlagRequired("user")
	_ = listenCmd.MarkFlagRequired("device")
}

func runListen(cmd *cobra.Command, args []string) error {
	apiClient.RegisterConnector(listenDevice, connectorForDevice())

	streamSub := apiClient.Bus.SubscribeAsync(bus.KindStreamEvent, func(ev bus.Event) {
		e := ev.(models.UserStreamEvent)
		if e.Type == models.StreamEventConnected {
			fmt.Printf("%s user %s\n", color.GreenString("stream connected"), e.UserID)
			return
		}
		fmt.Printf("event %s\n", color.CyanString(e.Type))
	})
	defer apiClient.Bus.Unsubscribe(streamSub)

	transitionSub := apiClient.Bus.SubscribeAsync(bus.KindSyncTransition, func(ev bus.Event) {
		printTransition(ev.(models.SyncTransition))
	})
	defer apiClient.Bus.Unsubscribe(transitionSub)

	apiClient.Engine.Subscribe()
	defer apiClient.Engine.Unsubscribe()

	apiClient.Streams.SubscribeUser(listenUser)
	defer apiClient.Streams.UnsubscribeUser(listenUser)

	fmt.Printf("Listening for platform events for user %s (ctrl-c to stop)\n", listenUser)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("Shutting down")
	return nil
}
