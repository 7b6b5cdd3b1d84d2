package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sefay/paysync/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted sync state",
	Long: `State shows the last commit applied to each synced device. With --device
it shows that device only.`,
	RunE: runState,
}

var stateDevice string

func init() {
	rootCmd.AddCommand(stateCmd)

	stateCmd.Flags().StringVarP(&stateDevice, "device", "d", "", "Device identifier (default: all devices)")
}

func runState(cmd *cobra.Command, args []string) error {
	if stateDevice != "" {
		commitID, err := state.LastCommitID(apiClient.State, stateDevice)
		if errors.Is(err, state.ErrKeyNotFound) {
			fmt.Printf("Device %s has never completed a sync\n", stateDevice)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Device %s last applied commit: %s\n", stateDevice, color.CyanString(commitID))
		return nil
	}

	lister, ok := apiClient.State.(interface{ Keys() ([]string, error) })
	if !ok {
		return errors.New("state store does not support listing")
	}

	keys, err := lister.Keys()
	if err != nil {
		return err
	}

	shown := 0
	for _, key := range keys {
		deviceID, found := state.DeviceFromKey(key)
		if !found {
			continue
		}
		commitID, err := apiClient.State.Get(key)
		if err != nil {
			return err
		}
		fmt.Printf("Device %s last applied commit: %s\n", deviceID, color.CyanString(commitID))
		shown++
	}

	if shown == 0 {
		fmt.Println("No devices have completed a sync")
	}
	return nil
}
