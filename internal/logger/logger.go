// Package logger builds the logrus logger shared by every component.
package logger

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.TimeOnly,
	})
	return log
}

func NewDebugLogger() *logrus.Logger {
	log := NewLogger()
	log.SetLevel(logrus.DebugLevel)
	return log
}
