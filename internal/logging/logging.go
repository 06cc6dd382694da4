package logging

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/avian-audio/transcribe-master/internal/conf"
)

// Package logging provides structured (JSON) logging via slog, rotated to
// disk with lumberjack and mirrored to stdout.

var (
	structuredLogger *slog.Logger
	loggerMu         sync.RWMutex // protects structuredLogger

	currentLogLevel = new(slog.LevelVar)
	initOnce        sync.Once
)

// defaultReplaceAttr formats time to second precision and truncates
// float64 attributes to 2 decimal places, shared by every handler this
// package builds.
func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncatedVal := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncatedVal)
	}
	return a
}

// Init builds the global structured logger: JSON records rotated to disk
// per conf.Settings.Main.Log, mirrored to stdout. Safe to call more than
// once; only the first call takes effect.
func Init() {
	initOnce.Do(func() {
		currentLogLevel.Set(slog.LevelInfo)

		logPath := "logs/app.log"
		if p := conf.Setting().Main.Log.Path; p != "" {
			logPath = p
		}

		logger, _, err := NewFileLogger(logPath, "", currentLogLevel)
		if err != nil {
			fmt.Printf("failed to open rotated log file %s, falling back to stdout only: %v\n", logPath, err)
			logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       currentLogLevel,
				ReplaceAttr: defaultReplaceAttr,
			}))
		}

		loggerMu.Lock()
		structuredLogger = logger
		loggerMu.Unlock()

		slog.SetDefault(logger)
	})
}

// ForService returns a logger with the "service" attribute set, built on
// top of the global structured logger. Returns nil if Init has not been
// called.
func ForService(serviceName string) *slog.Logger {
	loggerMu.RLock()
	logger := structuredLogger
	loggerMu.RUnlock()

	if logger == nil {
		return nil
	}
	return logger.With("service", serviceName)
}

// NewFileLogger builds a slog.Logger that writes JSON records to filePath
// through lumberjack and mirrored to stdout. The file rotates by size
// (conf.Settings.Main.Log.MaxSize, default 100 MB); the Rotation setting
// only chooses how many rotated files are kept and for how many days, and
// no rotation happens on a daily or weekly schedule. serviceName is attached as an attribute on every record unless
// empty. It returns the logger and a function to close the rotated writer.
func NewFileLogger(filePath, serviceName string, levelVar *slog.LevelVar) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil { //nolint:gosec // accept 0o755 for now
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	mainLogConf := conf.Setting().Main.Log

	lj := &lumberjack.Logger{
		Filename: filePath,
	}

	maxSizeMB := 100
	maxBackups := 3
	maxAge := 28 // days

	if configMaxSizeMB := int(mainLogConf.MaxSize / (1024 * 1024)); configMaxSizeMB > 0 {
		maxSizeMB = configMaxSizeMB
	}

	switch mainLogConf.Rotation {
	case conf.RotationDaily:
		maxAge = 1
		maxBackups = 30
	case conf.RotationWeekly:
		maxAge = 7
		maxBackups = 4
	case conf.RotationSize:
		// size-based rotation uses maxSizeMB derived from config (or default)
	}

	lj.MaxSize = maxSizeMB
	lj.MaxBackups = maxBackups
	lj.MaxAge = maxAge

	handler := slog.NewJSONHandler(io.MultiWriter(lj, os.Stdout), &slog.HandlerOptions{
		Level:       levelVar,
		ReplaceAttr: defaultReplaceAttr,
	})

	logger := slog.New(handler)
	if serviceName != "" {
		logger = logger.With("service", serviceName)
	}

	closeFunc := func() error {
		return lj.Close()
	}

	return logger, closeFunc, nil
}
