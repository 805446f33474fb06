package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// TimestampFormat is the ISO-8601 layout used by every log sink in the service.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var Logger *logrus.Logger

// InitLogger initializes the global console logger
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return NewAppError(ErrCodeConfiguration, "Invalid log level", level)
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: TimestampFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: TimestampFormat,
		})
	}

	switch {
	case output == "file" && file != "":
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return NewAppError(ErrCodeConfiguration, "Failed to open log output", err.Error())
		}
		logger.SetOutput(f)
	case output == "stderr":
		logger.SetOutput(os.Stderr)
	default:
		logger.SetOutput(os.Stdout)
	}

	Logger = logger
	return nil
}

// GetLogger returns the global logger instance
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "text", "stdout", "")
	}
	return Logger
}

// ComponentLogger returns an entry tagged with the component name
func ComponentLogger(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}
