package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/codereview-threads/internal/models"
	"github.com/xaenox/codereview-threads/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.AI.MockMinLatency = 0
	cfg.AI.MockMaxLatency = 0
	cfg.AI.MockChunkDelay = 0
	return cfg
}

func TestNewWiresAskEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "session.json")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	doc := "let a = 1\nlet b = 2\n"
	a.Store.SetDocument(doc, "", "")
	out, err := a.Review.Ask(context.Background(), models.SelectLines(doc, 1, 2), "Any issues?", nil)
	require.NoError(t, err)
	assert.True(t, out.Result.Success)
	assert.Equal(t, 1, a.Cache.Len())

	reopened, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.Len(t, reopened.Store.Threads(), 1)
	assert.Equal(t, out.Thread.ID, reopened.Store.Threads()[0].ID)
}

func TestConfiguredProviderSeedsFreshSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.AI.Provider = "anthropic"
	cfg.AI.Model = "claude-3-5-haiku-latest"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	settings := a.Store.Settings()
	assert.Equal(t, models.ProviderAnthropic, settings.Provider)
	assert.Equal(t, "claude-3-5-haiku-latest", settings.Model)
}

func TestConfiguredProviderSeedsSessionWithEmptyKeyMap(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "session.json")
	cfg.AI.Provider = "openai"
	cfg.AI.Model = "gpt-4o"

	saved := `{"code-review-storage":{"threads":[],"ai_settings":{"provider":"mock","model":"gpt-4o-mini","api_keys":{}}}}`
	require.NoError(t, os.WriteFile(cfg.Storage.Path, []byte(saved), 0o600))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	settings := a.Store.Settings()
	assert.Equal(t, models.ProviderOpenAI, settings.Provider)
	assert.Equal(t, "gpt-4o", settings.Model)
}

func TestEditedSessionIsNotReseeded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "session.json")
	cfg.AI.Provider = "openai"

	saved := `{"code-review-storage":{"threads":[],"ai_settings":{"provider":"mock","model":"gpt-4o-mini","api_keys":{"anthropic":"sk-ant"}}}}`
	require.NoError(t, os.WriteFile(cfg.Storage.Path, []byte(saved), 0o600))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, models.ProviderMock, a.Store.Settings().Provider)
}

func TestConfiguredKeysReachTheAdapter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-config", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"OK"}}]}`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.AI.OpenAIAPIKey = "sk-config"
	cfg.AI.OpenAIBaseURL = server.URL + "/v1"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	a.Store.SetProvider(models.ProviderOpenAI)
	status := a.Adapter.TestConnection(context.Background(), a.Store.Settings())
	assert.True(t, status.Success, status.Message)
	assert.Equal(t, "Connected to OpenAI (gpt-4o-mini)", status.Message)
}

func TestUnknownStorageBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "redis"
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
