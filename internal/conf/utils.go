package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaultConfigPaths returns the OS-conventional directories viper should
// search for config.yaml, in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("error fetching executable path: %w", err)
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "transcribe-master"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "transcribe-master"),
			"/etc/transcribe-master",
		}
	}

	return configPaths, nil
}

// GetBasePath expands environment variables in path and ensures the
// resulting directory exists.
func GetBasePath(path string) string {
	expanded := os.ExpandEnv(path)
	base := filepath.Clean(expanded)

	if _, err := os.Stat(base); os.IsNotExist(err) {
		if err := os.MkdirAll(base, 0o755); err != nil {
			fmt.Printf("failed to create directory %q: %v\n", base, err)
		}
	}

	return base
}
