package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sefay/paysync/internal/client"
	"github.com/sefay/paysync/internal/config"
	"github.com/sefay/paysync/internal/events"
)

var (
	cfgFile      string
	clientSecret string

	cfg       *config.Config
	logger    *events.Logger
	apiClient *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "paysync",
	Short: "Synchronize payment credentials to a connected device",
	Long: `paysync keeps a device's secure element in step with the payment
platform: it fetches pending commits, executes APDU command packages against
the device, and reports the outcomes back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewLoader(cfgFile).Load()
		if err != nil {
			return err
		}

		logger, err = events.NewLogger(&cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		events.SetDefault(logger)

		if clientSecret == "" {
			clientSecret = os.Getenv("PAYSYNC_CLIENT_SECRET")
		}

		apiClient, err = client.New(cfg, clientSecret, logger)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if apiClient != nil {
			return apiClient.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default paysync.yaml, ~/.config/paysync/paysync.yaml)")
	rootCmd.PersistentFlags().StringVar(&clientSecret, "client-secret", "",
		"Platform client secret (or PAYSYNC_CLIENT_SECRET)")
}
