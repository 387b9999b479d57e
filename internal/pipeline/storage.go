package pipeline

import (
	"context"
	"fmt"

	"harvester/pkg/config"
	"harvester/pkg/logger"
	"harvester/pkg/storage"
	"harvester/pkg/storage/postgres"
	"harvester/pkg/storage/sqlite"
)

// OpenStorage connects to the backend named by cfg.Driver. Connection
// failures wrap ErrStorageUnavailable.
func OpenStorage(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (storage.Backend, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryBackend(), nil
	case "sqlite", "":
		b, err := sqlite.Open(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return b, nil
	case "postgres":
		b, err := postgres.Connect(ctx, cfg.DSN, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
