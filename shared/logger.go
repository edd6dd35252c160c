package shared

import (
	"os"

	"github.com/sirupsen/logrus"
)

// GetLogger returns a new logger.
func GetLogger(debug bool) (*logrus.Logger, error) {
	logger := logrus.StandardLogger()

	// stdout carries command reports
	logger.SetOutput(os.Stderr)

	formatter := logrus.TextFormatter{
		FullTimestamp: debug,
		PadLevelText:  true,
	}

	logger.Formatter = &formatter

	if debug {
		logger.Level = logrus.DebugLevel
	}

	return logger, nil
}
