package credential

import (
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	"github.com/xaenox/codereview-threads/internal/models"
)

const DefaultServiceName = "codereview-threads"

var ErrNoKey = errors.New("no API key")

// Keyring reads and writes provider API keys in the OS keyring.
type Keyring struct {
	ring keyring.Keyring
}

// Keyring backend selections.
const (
	BackendAuto   = "auto"
	BackendSystem = "system"
	BackendFile   = "file"
)

var ErrNoFilePassword = errors.New("the file keyring backend needs a password")

// KeyringConfig selects where keys are kept. Auto tries the OS keyring and
// falls back to the encrypted file only when a file password is set.
type KeyringConfig struct {
	Service      string
	Backend      string
	FileDir      string
	FilePassword string
}

var systemBackends = []keyring.BackendType{
	keyring.KeychainBackend,
	keyring.SecretServiceBackend,
	keyring.WinCredBackend,
	keyring.PassBackend,
}

// allowedBackends never lets the file backend run without a password.
func allowedBackends(cfg KeyringConfig) ([]keyring.BackendType, error) {
	switch cfg.Backend {
	case "", BackendAuto:
		backends := append([]keyring.BackendType{}, systemBackends...)
		if cfg.FilePassword != "" {
			backends = append(backends, keyring.FileBackend)
		}
		return backends, nil
	case BackendSystem:
		return append([]keyring.BackendType{}, systemBackends...), nil
	case BackendFile:
		if cfg.FilePassword == "" {
			return nil, ErrNoFilePassword
		}
		return []keyring.BackendType{keyring.FileBackend}, nil
	default:
		return nil, fmt.Errorf("unknown keyring backend %q", cfg.Backend)
	}
}

// OpenKeyring opens the keyring described by cfg.
func OpenKeyring(cfg KeyringConfig) (*Keyring, error) {
	backends, err := allowedBackends(cfg)
	if err != nil {
		return nil, err
	}
	service := cfg.Service
	if service == "" {
		service = DefaultServiceName
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              service,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyring(ring), nil
}

func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

func itemKey(provider models.ProviderID) string {
	return string(provider) + "-api-key"
}

func (k *Keyring) APIKey(provider models.ProviderID) (string, error) {
	item, err := k.ring.Get(itemKey(provider))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoKey
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", itemKey(provider), err)
	}
	return string(item.Data), nil
}

func (k *Keyring) Set(provider models.ProviderID, secret string) error {
	err := k.ring.Set(keyring.Item{
		Key:   itemKey(provider),
		Data:  []byte(secret),
		Label: "API key for " + string(provider),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", itemKey(provider), err)
	}
	return nil
}

func (k *Keyring) Delete(provider models.ProviderID) error {
	if err := k.ring.Remove(itemKey(provider)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", itemKey(provider), err)
	}
	return nil
}

// Static serves keys from configuration or the environment.
type Static map[models.ProviderID]string

func (s Static) APIKey(provider models.ProviderID) (string, error) {
	if key := strings.TrimSpace(s[provider]); key != "" {
		return key, nil
	}
	return "", ErrNoKey
}

// Source is anything that can supply a provider API key.
type Source interface {
	APIKey(provider models.ProviderID) (string, error)
}

// Chain asks each source in order and returns the first non-empty key.
type Chain []Source

func (c Chain) APIKey(provider models.ProviderID) (string, error) {
	var errs []error
	for _, src := range c {
		if src == nil {
			continue
		}
		key, err := src.APIKey(provider)
		if err == nil && key != "" {
			return key, nil
		}
		if err != nil && !errors.Is(err, ErrNoKey) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", ErrNoKey
}
