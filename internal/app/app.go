package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xaenox/codereview-threads/internal/cache"
	"github.com/xaenox/codereview-threads/internal/credential"
	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/internal/pipeline"
	"github.com/xaenox/codereview-threads/internal/provider"
	"github.com/xaenox/codereview-threads/internal/review"
	"github.com/xaenox/codereview-threads/internal/storage"
	"github.com/xaenox/codereview-threads/internal/threads"
	"github.com/xaenox/codereview-threads/pkg/config"
)

// App is the fully wired engine shared by the bot and the CLI.
type App struct {
	Storage  storage.Storage
	Store    *threads.Store
	Cache    *cache.ResponseCache
	Adapter  *provider.Adapter
	Pipeline *pipeline.Pipeline
	Review   *review.Service
	Keyring  *credential.Keyring
}

// NewLogger builds the process logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// New wires storage, thread store, cache, provider adapter, pipeline and
// review service from cfg and loads the saved session.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := storage.Open(ctx, StorageConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store := threads.NewStore(backend, logger.Named("threads"))
	if err := store.Load(ctx); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load review session: %w", err)
	}
	// Configured provider and model seed a session whose settings were never edited.
	if store.Settings().IsDefault() && cfg.AI.Provider != "" {
		store.UpdateSettings(func(s *models.AISettings) {
			s.Provider = models.ProviderID(cfg.AI.Provider)
			if cfg.AI.Model != "" {
				s.Model = cfg.AI.Model
			}
		})
	}

	a := &App{Storage: backend, Store: store}

	keys := credential.Chain{}
	if cfg.AI.Keyring.Enabled {
		ring, err := credential.OpenKeyring(KeyringConfig(cfg))
		if err != nil {
			logger.Warn("Keyring unavailable, using configured keys only", zap.Error(err))
		} else {
			a.Keyring = ring
			keys = append(keys, ring)
		}
	}
	keys = append(keys, credential.Static{
		models.ProviderOpenAI:    cfg.AI.OpenAIAPIKey,
		models.ProviderAnthropic: cfg.AI.AnthropicAPIKey,
	})

	a.Cache = cache.New(
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithCapacity(cfg.Cache.Capacity),
		cache.WithKeyPrefix(cfg.Cache.KeyPrefixChars),
	)
	a.Adapter = provider.NewAdapter(ProviderConfig(cfg, keys), logger.Named("provider"))
	a.Pipeline = pipeline.New(a.Adapter, a.Cache, logger.Named("pipeline"))
	a.Review = review.NewService(store, a.Pipeline, logger.Named("review"))
	return a, nil
}

func (a *App) Close() error {
	return a.Storage.Close()
}

// StorageConfig maps the storage and database sections onto storage.Config.
func StorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		Database: storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		},
	}
}

func KeyringConfig(cfg *config.Config) credential.KeyringConfig {
	return credential.KeyringConfig{
		Service:      cfg.AI.Keyring.Service,
		Backend:      cfg.AI.Keyring.Backend,
		FileDir:      cfg.AI.Keyring.FileDir,
		FilePassword: cfg.AI.Keyring.FilePassword,
	}
}

func ProviderConfig(cfg *config.Config, keys provider.KeySource) provider.Config {
	return provider.Config{
		Timeout:           cfg.AI.Timeout,
		OpenAIBaseURL:     cfg.AI.OpenAIBaseURL,
		AnthropicBaseURL:  cfg.AI.AnthropicBaseURL,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		Burst:             cfg.AI.Burst,
		MockMinLatency:    cfg.AI.MockMinLatency,
		MockMaxLatency:    cfg.AI.MockMaxLatency,
		MockChunkDelay:    cfg.AI.MockChunkDelay,
		Keys:              keys,
	}
}
