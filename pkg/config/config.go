package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	AI       AIConfig       `mapstructure:"ai"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// AllowedUsers limits who may talk to the bot; empty allows everyone.
	AllowedUsers []int64 `mapstructure:"allowed_users"`
	// StreamEditInterval throttles placeholder edits while an answer streams.
	StreamEditInterval time.Duration `mapstructure:"stream_edit_interval"`
}

type StorageConfig struct {
	// Backend is one of memory, file, sqlite or postgres.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type AIConfig struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	AnthropicAPIKey   string        `mapstructure:"anthropic_api_key"`
	OpenAIBaseURL     string        `mapstructure:"openai_base_url"`
	AnthropicBaseURL  string        `mapstructure:"anthropic_base_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MockMinLatency    time.Duration `mapstructure:"mock_min_latency"`
	MockMaxLatency    time.Duration `mapstructure:"mock_max_latency"`
	MockChunkDelay    time.Duration `mapstructure:"mock_chunk_delay"`
	Keyring           KeyringConfig `mapstructure:"keyring"`
}

type KeyringConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
	// Backend is auto, system or file.
	Backend      string `mapstructure:"backend"`
	FileDir      string `mapstructure:"file_dir"`
	FilePassword string `mapstructure:"file_password"`
}

type CacheConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	Capacity       int           `mapstructure:"capacity"`
	KeyPrefixChars int           `mapstructure:"key_prefix_chars"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.allowed_users", []int64{})
	v.SetDefault("telegram.stream_edit_interval", "1s")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.path", "codereview.db")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "codereview")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("ai.provider", "mock")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.openai_api_key", "")
	v.SetDefault("ai.anthropic_api_key", "")
	v.SetDefault("ai.openai_base_url", "")
	v.SetDefault("ai.anthropic_base_url", "")
	v.SetDefault("ai.requests_per_second", 0)
	v.SetDefault("ai.burst", 1)
	v.SetDefault("ai.mock_min_latency", "800ms")
	v.SetDefault("ai.mock_max_latency", "1500ms")
	v.SetDefault("ai.mock_chunk_delay", "30ms")
	v.SetDefault("ai.keyring.enabled", false)
	v.SetDefault("ai.keyring.service", "codereview-threads")
	v.SetDefault("ai.keyring.file_dir", "~/.config/codereview-threads/credentials")
	v.SetDefault("ai.keyring.backend", "auto")
	v.SetDefault("ai.keyring.file_password", "")

	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.capacity", 50)
	v.SetDefault("cache.key_prefix_chars", 100)

	v.SetDefault("log.debug", false)
}

// LoadConfig reads the YAML file at path (skipped when path is empty) and
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support, e.g. AI_PROVIDER for ai.provider
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAIAPIKey = apiKey
	}
	if apiKey := v.GetString("ANTHROPIC_API_KEY"); apiKey != "" {
		config.AI.AnthropicAPIKey = apiKey
	}
	if password := v.GetString("KEYRING_FILE_PASSWORD"); password != "" {
		config.AI.Keyring.FilePassword = password
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "file", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.backend must be memory, file, sqlite or postgres, got %q", c.Storage.Backend)
	}
	if (c.Storage.Backend == "file" || c.Storage.Backend == "sqlite") && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive")
	}
	if c.AI.MockMaxLatency < c.AI.MockMinLatency {
		return fmt.Errorf("ai.mock_max_latency must not be below ai.mock_min_latency")
	}
	switch c.AI.Keyring.Backend {
	case "", "auto", "system", "file":
	default:
		return fmt.Errorf("ai.keyring.backend must be auto, system or file, got %q", c.AI.Keyring.Backend)
	}
	if c.AI.Keyring.Enabled && c.AI.Keyring.Backend == "file" && c.AI.Keyring.FilePassword == "" {
		return fmt.Errorf("ai.keyring.file_password (or KEYRING_FILE_PASSWORD) is required for the file keyring backend")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	return nil
}
