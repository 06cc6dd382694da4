// Package serve implements the "serve" subcommand, which wires the state
// store, dispatcher, orchestrator and HTTP server together and runs the
// master process until interrupted. Grounded on cmd/realtime/realtime.go's
// flag-binding shape.
package serve

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avian-audio/transcribe-master/internal/conf"
	"github.com/avian-audio/transcribe-master/internal/dispatcher"
	"github.com/avian-audio/transcribe-master/internal/httpserver"
	"github.com/avian-audio/transcribe-master/internal/logging"
	"github.com/avian-audio/transcribe-master/internal/orchestrator"
	"github.com/avian-audio/transcribe-master/internal/splitter"
	"github.com/avian-audio/transcribe-master/internal/store"
)

// Command builds the "serve" subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription master and dispatcher server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Host, "host", viper.GetString("webserver.host"), "HTTP listen host")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "HTTP listen port")
	cmd.Flags().StringVar(&settings.Storage.UploadDir, "upload-dir", viper.GetString("storage.uploaddir"), "Directory submitted audio is staged in")
	cmd.Flags().StringVar(&settings.Storage.ChunkDir, "chunk-dir", viper.GetString("storage.chunkdir"), "Directory split chunks are written to")
	cmd.Flags().StringSliceVar(&settings.Dispatcher.Workers, "workers", viper.GetStringSlice("dispatcher.workers"), "Initial worker base URLs")
	cmd.Flags().IntVar(&settings.Orchestrator.MaxParallelChunks, "max-parallel-chunks", viper.GetInt("orchestrator.maxparallelchunks"), "Max concurrent chunk dispatches per job (0 = one per online worker)")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

func run(settings *conf.Settings) error {
	logging.Init()
	log := logging.ForService("master")

	st := store.New(store.Config{
		Backend:       settings.Store.Backend,
		NatsURL:       settings.Store.NatsURL,
		WorkerTTL:     time.Duration(settings.Store.WorkerTTLSec) * time.Second,
		JobTTL:        time.Duration(settings.Store.JobTTLSec) * time.Second,
		PreferenceTTL: time.Duration(settings.Store.PreferenceTTLSec) * time.Second,
	}, logging.ForService("store"))

	for _, url := range settings.Dispatcher.Workers {
		if err := st.AddWorker(url); err != nil {
			log.Warn("failed to seed configured worker", "url", url, "error", err)
		}
	}

	d := dispatcher.New(
		st,
		logging.ForService("dispatcher"),
		time.Duration(settings.Dispatcher.RequestTimeoutSec)*time.Second,
		time.Duration(settings.Dispatcher.HealthCheckTimeoutSec)*time.Second,
	)

	rooms := httpserver.NewJobRoomManager(logging.ForService("websocket"))

	orch := orchestrator.New(st, d, rooms, logging.ForService("orchestrator"), orchestrator.Config{
		ChunkDir: settings.Storage.ChunkDir,
		SplitterOpts: splitter.Options{
			MinLengthMs:     settings.Splitter.MinLengthMs,
			SilenceThreshDB: settings.Splitter.SilenceThreshDB,
			SilenceLenMs:    settings.Splitter.SilenceLenMs,
		},
		MaxParallel: settings.Orchestrator.MaxParallelChunks,
	})

	server := httpserver.NewWithNotifier(settings, st, d, orch, rooms, settings.Storage.UploadDir, logging.ForService("httpserver"))

	addr := settings.WebServer.Host + ":" + settings.WebServer.Port
	errc := server.Start(addr)
	log.Info("master server listening", "addr", addr)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case sig := <-sigc:
		log.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("error during shutdown: %w", err)
		}
	}

	return nil
}
