package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/ammkeeper/config"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/notify"
	"github.com/alejandrodnm/ammkeeper/internal/adapters/storage"
)

// runHistory prints what the journal recorded during the last window.
func runHistory(ctx context.Context, cfg *config.Config, window time.Duration) error {
	if cfg.Storage.DSN == "off" || cfg.Storage.DSN == ":memory:" {
		return fmt.Errorf("runHistory: journal is not persisted (dsn %q)", cfg.Storage.DSN)
	}

	j, err := storage.NewSQLiteJournal(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("runHistory: %w", err)
	}
	defer j.Close()

	since := time.Now().Add(-window)
	entries, err := j.RecentOutcomes(ctx, since)
	if err != nil {
		return fmt.Errorf("runHistory: %w", err)
	}
	cycles, paused, err := j.CycleCount(ctx, since)
	if err != nil {
		return fmt.Errorf("runHistory: %w", err)
	}

	notify.NewConsole().PrintHistory(entries, cycles, paused, since)
	return nil
}
