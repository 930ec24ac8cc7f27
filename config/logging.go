package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// LogWriter is the writer used for application and database logs.
var LogWriter io.Writer = os.Stdout

// InitLogging prepares the log file and configures the logrus standard logger.
// The returned file is nil when the log file could not be opened.
func InitLogging(settings LogSettings) (*os.File, *logrus.Logger) {
	logger := logrus.StandardLogger()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(settings.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if settings.File == "" {
		LogWriter = os.Stdout
		logger.SetOutput(LogWriter)
		return nil, logger
	}

	if err := os.MkdirAll(filepath.Dir(settings.File), os.ModePerm); err != nil {
		logger.Warnf("Failed to create logs directory: %v", err)
	}

	logFile, err := os.OpenFile(settings.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warnf("Failed to open log file: %v", err)
		LogWriter = os.Stdout
		logger.SetOutput(LogWriter)
		return nil, logger
	}

	LogWriter = io.MultiWriter(os.Stdout, logFile)
	logger.SetOutput(LogWriter)
	return logFile, logger
}
