// Package cmd wires the cobra command tree, grounded on cmd/root.go's
// RootCommand pattern.
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avian-audio/transcribe-master/cmd/serve"
	"github.com/avian-audio/transcribe-master/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transcribe-master",
		Short: "Distributed audio-transcription master/dispatcher",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		log.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(serve.Command(settings))

	return rootCmd
}

// setupFlags defines flags global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Store.Backend, "store-backend", viper.GetString("store.backend"), "State store backend: memory or nats")
	rootCmd.PersistentFlags().StringVar(&settings.Store.NatsURL, "nats-url", viper.GetString("store.natsurl"), "NATS server URL when store-backend=nats")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
