package app

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"booking/internal/config"
)

// NewLogger builds the process logger. When cfg.File is set, output is
// rotated through lumberjack; the returned closer must be closed on exit.
func NewLogger(cfg config.LogConfig) (*logrus.Logger, io.Closer) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		logger.SetOutput(os.Stdout)
		return logger, nopCloser{}
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotating))

	return logger, rotating
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
