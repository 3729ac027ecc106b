package models

// ProviderID names an AI backend in the provider catalogue.
type ProviderID string

const (
	ProviderMock      ProviderID = "mock"
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
)

const DefaultModel = "gpt-4o-mini"

// AISettings is the process-wide AI configuration edited by the user
type AISettings struct {
	Provider ProviderID            `json:"provider"`
	Model    string                `json:"model"`
	APIKeys  map[ProviderID]string `json:"api_keys"`
}

func DefaultAISettings() AISettings {
	return AISettings{
		Provider: ProviderMock,
		Model:    DefaultModel,
		APIKeys: map[ProviderID]string{
			ProviderOpenAI:    "",
			ProviderAnthropic: "",
		},
	}
}

// IsDefault reports whether the settings were never edited: the default
// provider and model with no key set. An empty key map counts as default.
func (s AISettings) IsDefault() bool {
	if s.Provider != ProviderMock || s.Model != DefaultModel {
		return false
	}
	for _, key := range s.APIKeys {
		if key != "" {
			return false
		}
	}
	return true
}

// APIKey returns the configured secret for provider, or "".
func (s AISettings) APIKey(provider ProviderID) string {
	if s.APIKeys == nil {
		return ""
	}
	return s.APIKeys[provider]
}

// Clone returns a copy with its own key map.
func (s AISettings) Clone() AISettings {
	c := s
	c.APIKeys = make(map[ProviderID]string, len(s.APIKeys))
	for k, v := range s.APIKeys {
		c.APIKeys[k] = v
	}
	return c
}
