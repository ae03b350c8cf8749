package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

func consoleWriter(timeFormat string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       timeFormat,
		TextOutput:       true,
		DisableTimestamp: false,
	}
}

// InitLogger initializes the arbor logger with configuration
func InitLogger(config *Config) arbor.ILogger {
	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	logger := arbor.NewLogger()

	hasFileOutput := false
	hasStdoutOutput := false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			hasFileOutput = true
		case "stdout", "console":
			hasStdoutOutput = true
		}
	}

	if hasFileOutput {
		logsDir, err := resolveLogDir(config.Logging.Dir)
		if err != nil {
			fmt.Printf("Warning: Failed to resolve log directory: %v\n", err)
		} else if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Printf("Warning: Failed to create logs directory: %v\n", err)
		} else {
			CrashLogDir = logsDir
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:             models.LogWriterTypeFile,
				FileName:         filepath.Join(logsDir, "dracma.log"),
				TimeFormat:       timeFormat,
				MaxSize:          50 * 1024 * 1024, // 50 MB
				MaxBackups:       5,
				TextOutput:       true,
				DisableTimestamp: false,
			})
		}
	}

	// Never run silent: console is the fallback writer
	if hasStdoutOutput || !hasFileOutput {
		logger = logger.WithConsoleWriter(consoleWriter(timeFormat))
	}

	logger = logger.WithLevelFromString(config.Logging.Level)

	return logger
}

// resolveLogDir returns dir, or a logs directory next to the executable
func resolveLogDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(execPath), "logs"), nil
}

// GetLogFilePath returns the configured log file path from the logger
func GetLogFilePath(logger arbor.ILogger) string {
	if logger != nil {
		return logger.GetLogFilePath()
	}
	return ""
}
