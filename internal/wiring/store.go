package wiring

import (
	"context"
	"fmt"
	"io"

	"gorm.io/gorm/logger"

	"github.com/pysugar/universal-ai-router/internal/config"
	"github.com/pysugar/universal-ai-router/internal/cost"
	"github.com/pysugar/universal-ai-router/internal/db"
	"github.com/pysugar/universal-ai-router/internal/db/postgres"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore opens the usage store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (cost.UsageStore, io.Closer, error) {
	switch cfg.Driver {
	case "", "sqlite":
		gdb, err := db.InitDB(cfg.DSN, logger.Warn)
		if err != nil {
			return nil, nil, err
		}
		repo := db.NewUsageRepository(gdb)
		return repo, repo, nil
	case "postgres":
		repo, err := postgres.Connect(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	case "memory":
		return cost.NewMemoryStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
