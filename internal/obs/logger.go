// Package obs configures process-wide logging.
package obs

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the global logrus logger. When file is non-empty, logs
// rotate through lumberjack and also reach stderr.
func Setup(level, file string, maxSizeMB int) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if file == "" {
		logrus.SetOutput(os.Stderr)
		return
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	rotator := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// RequestLogger returns an entry tagged with per-request fields.
func RequestLogger(requestID, model string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"model":      model,
	})
}
