package main

import (
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/orrn/receiptd/internal/config"
	"github.com/orrn/receiptd/internal/core"
	"github.com/orrn/receiptd/internal/db"
)

func newLogger(cfg config.LoggingConfig, out io.Writer) (*log.Logger, error) {
	logger := log.New()
	logger.SetOutput(out)

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	case "plain":
		logger.SetFormatter(&log.TextFormatter{DisableColors: true, DisableTimestamp: true})
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	return logger, nil
}

// openStore picks the snapshot backend. The returned func closes it.
func openStore(cfg *config.Config) (core.SnapshotStore, func(), error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		store, err := db.Open(db.Config{Path: cfg.DatabasePath()})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "", "file":
		return core.NewFileStore(cfg.SnapshotPath()), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
