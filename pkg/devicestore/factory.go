package devicestore

import (
	"context"
	"fmt"
)

// RepositoryConfig contains configuration for creating a store repository
type RepositoryConfig struct {
	// DB is required for PostgreSQL repositories
	DB DBTX
	// DataDir is required for file-based repositories
	DataDir string
}

// NewStoreRepository creates a store repository for the given persistence
// type. The Postgres path applies pending migrations before returning.
func NewStoreRepository(ctx context.Context, persistenceType string, config RepositoryConfig) (StoreRepository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.DB == nil {
			return nil, fmt.Errorf("db required for postgres repository")
		}
		if err := Migrate(ctx, config.DB); err != nil {
			return nil, err
		}
		return NewPostgresStoreRepository(config.DB), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file repository")
		}
		return NewFileStoreRepository(config.DataDir)
	case "inmem", "memory":
		return NewInMemStoreRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, inmem)", persistenceType)
	}
}
