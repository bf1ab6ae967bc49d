package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const (
	logFileName    = "portalwatch.log"
	logFileMaxSize = 50 * 1024 * 1024
	logFileBackups = 3
)

var (
	loggerMu sync.Mutex
	logger   arbor.ILogger
)

// GetLogger returns the process logger. Before InitLogger it is a plain console logger.
func GetLogger() arbor.ILogger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = arbor.NewLogger().WithConsoleWriter(consoleWriter(""))
	}
	return logger
}

// LogDir resolves the log directory: the configured one, else logs/ beside the executable
func LogDir(cfg LoggingConfig) string {
	if cfg.Dir != "" {
		return cfg.Dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "logs"
	}
	return filepath.Join(filepath.Dir(exe), "logs")
}

// InitLogger builds the process logger from the [logging] section and makes it
// the one GetLogger returns. With no usable output it still logs to the console.
func InitLogger(config *Config) arbor.ILogger {
	cfg := config.Logging

	outputs := make(map[string]bool, len(cfg.Output))
	for _, o := range cfg.Output {
		outputs[o] = true
	}

	l := arbor.NewLogger()
	fileOK := false
	if outputs["file"] {
		dir := LogDir(cfg)
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "file logging disabled, cannot create %s: %v\n", dir, err)
		} else {
			l = l.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   filepath.Join(dir, logFileName),
				TimeFormat: cfg.TimeFormat,
				MaxSize:    logFileMaxSize,
				MaxBackups: logFileBackups,
				TextOutput: cfg.Format != "json",
			})
			fileOK = true
		}
	}
	if outputs["stdout"] || outputs["console"] || !fileOK {
		l = l.WithConsoleWriter(consoleWriter(cfg.TimeFormat))
	}
	l = l.WithLevelFromString(cfg.Level)

	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l
}

func consoleWriter(timeFormat string) models.WriterConfiguration {
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: timeFormat,
		TextOutput: true,
	}
}
