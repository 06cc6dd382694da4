// Package conf loads and validates the master server configuration.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root configuration tree, populated by Load from a YAML
// file, environment variables and, lastly, compiled-in defaults.
type Settings struct {
	Debug bool

	Main struct {
		Name string
		Log  LogConfig
	}

	Storage struct {
		UploadDir string // where submitted audio files land before splitting
		ChunkDir  string // where split chunks are written
	}

	Splitter struct {
		MinLengthMs     int     // minimum chunk length before coalescing
		SilenceLenMs    int     // minimum silence gap treated as a split point
		SilenceThreshDB float64 // dBFS below which audio is "silence"; 0 means auto
		MergeGapMs      int     // not read; the splitter bridges gaps under a fixed 3000 ms
		PaddingMs       int     // not read; the splitter pads each range by a fixed 500 ms
		FallbackTileMs  int     // not read; the splitter's fallback tiles are a fixed 60000 ms
	}

	Dispatcher struct {
		Workers                  []string // initial worker base URLs
		ProbeShortChunkThreshSec float64  // not read; the dispatcher's short-chunk cutoff is a fixed 40 s
		RequestTimeoutSec        int      // HTTP timeout for a transcribe call; effectively unbounded (hours), not a short request timeout
		HealthCheckTimeoutSec    int      // HTTP timeout for an online probe
	}

	Orchestrator struct {
		MaxParallelChunks int // 0 means "one per online worker"
	}

	Store struct {
		Backend          string // "memory" or "nats"
		NatsURL          string
		WorkerTTLSec     int
		JobTTLSec        int
		PreferenceTTLSec int
	}

	WebServer struct {
		Host string
		Port string
		Log  LogConfig
	}
}

// LogConfig mirrors the log-file configuration shared by every subsystem
// that writes its own rotated log.
type LogConfig struct {
	Enabled     bool
	Path        string
	Rotation    RotationType
	MaxSize     int64
	RotationDay time.Weekday
}

type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads configuration from disk/env/defaults into a fresh Settings and
// records it as the process-wide instance returned by Setting().
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	viper.SetEnvPrefix("TRANSCRIBE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	fmt.Println("using config file:", viper.ConfigFileUsed())
	return nil
}

func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("created default config file at:", configPath)
	return viper.ReadInConfig()
}

func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("error reading embedded default config: %v", err)
	}
	return string(data)
}

// Setting returns the process-wide Settings instance, loading it with
// defaults on first use if Load was never called explicitly.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.RLock()
		loaded := settingsInstance
		settingsMutex.RUnlock()
		if loaded != nil {
			return
		}
		if _, err := Load(); err != nil {
			log.Printf("falling back to compiled-in defaults: %v", err)
			settingsMutex.Lock()
			settingsInstance = &Settings{}
			viper.Unmarshal(settingsInstance) //nolint:errcheck // best effort fallback
			settingsMutex.Unlock()
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
