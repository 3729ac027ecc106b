package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAISettingsIsDefault(t *testing.T) {
	tests := []struct {
		name     string
		settings AISettings
		want     bool
	}{
		{name: "defaults", settings: DefaultAISettings(), want: true},
		{name: "empty key map", settings: AISettings{Provider: ProviderMock, Model: DefaultModel, APIKeys: map[ProviderID]string{}}, want: true},
		{name: "nil key map", settings: AISettings{Provider: ProviderMock, Model: DefaultModel}, want: true},
		{name: "other provider", settings: AISettings{Provider: ProviderOpenAI, Model: DefaultModel}, want: false},
		{name: "other model", settings: AISettings{Provider: ProviderMock, Model: "gpt-4o"}, want: false},
		{name: "key set", settings: AISettings{Provider: ProviderMock, Model: DefaultModel, APIKeys: map[ProviderID]string{ProviderOpenAI: "sk"}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.settings.IsDefault())
		})
	}
}

func TestSelectionValid(t *testing.T) {
	assert.True(t, Selection{StartLine: 1, EndLine: 1}.Valid())
	assert.True(t, Selection{StartLine: 2, EndLine: 5}.Valid())
	assert.False(t, Selection{StartLine: 0, EndLine: 3}.Valid())
	assert.False(t, Selection{StartLine: 4, EndLine: 3}.Valid())
}
