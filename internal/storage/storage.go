package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/models"
)

// Namespace is the key the whole review session is stored under.
const Namespace = "code-review-storage"

// Storage persists the review session as a single snapshot.
type Storage interface {
	// Load returns the saved snapshot, or models.EmptySnapshot when nothing
	// has been saved yet.
	Load(ctx context.Context) (models.Snapshot, error)
	Save(ctx context.Context, snapshot models.Snapshot) error
	Close() error
}

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Config struct {
	Backend  string
	Path     string
	Database DatabaseConfig
}

// Open builds the storage backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "", BackendMemory:
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case BackendFile:
		logger.Info("Using file storage", zap.String("path", cfg.Path))
		return NewFileStorage(cfg.Path)
	case BackendSQLite:
		logger.Info("Using SQLite storage", zap.String("path", cfg.Path))
		return NewSQLiteStorage(ctx, cfg.Path)
	case BackendPostgres:
		logger.Info("Using PostgreSQL storage",
			zap.String("host", cfg.Database.Host),
			zap.String("dbname", cfg.Database.DBName))
		return NewPostgresStorage(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func encodeSnapshot(snapshot models.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot overlays data on the empty snapshot so fields missing from
// older payloads keep their defaults.
func decodeSnapshot(data []byte) (models.Snapshot, error) {
	snapshot := models.EmptySnapshot()
	if len(data) == 0 {
		return snapshot, nil
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return models.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if snapshot.Threads == nil {
		snapshot.Threads = []models.Thread{}
	}
	if snapshot.AISettings.Provider == "" {
		snapshot.AISettings.Provider = models.ProviderMock
	}
	if snapshot.AISettings.APIKeys == nil {
		snapshot.AISettings.APIKeys = models.DefaultAISettings().APIKeys
	}
	return snapshot, nil
}
