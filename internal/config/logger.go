package config

import (
    "os"

    "github.com/sirupsen/logrus"
)

// NewLogger builds the process logger.  format "text" gives a human readable
// formatter, anything else JSON.  Unknown levels fall back to info.
func NewLogger(level, format string) *logrus.Logger {
    log := logrus.New()
    log.SetOutput(os.Stdout)

    if format == "text" {
        log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    } else {
        log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
    }

    lvl, err := logrus.ParseLevel(level)
    if err != nil {
        lvl = logrus.InfoLevel
    }
    log.SetLevel(lvl)
    return log
}
