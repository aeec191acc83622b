package store

import (
	"context"
	"fmt"
	"strings"

	"yqhp/work-queue/internal/config"
)

// OpenJournal builds the journal selected by cfg.Driver.
func OpenJournal(ctx context.Context, cfg *config.JournalConfig) (Journal, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryJournal(), nil
	case "redis":
		return OpenRedisJournal(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
	case "mysql", "postgres":
		return OpenSQLJournal(strings.ToLower(cfg.Driver), cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}
}
