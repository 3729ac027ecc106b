package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
storage:
  backend: file
  path: %s
ai:
  provider: mock
  mock_min_latency: 0s
  mock_max_latency: 0s
  mock_chunk_delay: 0s
`

var threadLine = regexp.MustCompile(`thread ([0-9a-f-]{36}) \(`)

type harness struct {
	t      *testing.T
	config string
	source string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	config := filepath.Join(dir, "config.yaml")
	body := []byte(fmt.Sprintf(testConfig, filepath.Join(dir, "session.json")))
	require.NoError(t, os.WriteFile(config, body, 0o644))

	source := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(source, []byte("package main\n\nfunc main() {\n\tprintln(1)\n}\n"), 0o644))

	return &harness{t: t, config: config, source: source}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"threadctl", "--config", h.config}, args...))
	return out.String(), err
}

func TestAskListExport(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("ask", "--file", h.source, "--start", "3", "--end", "5", "--question", "Is this fine?")
	require.NoError(t, err)
	match := threadLine.FindStringSubmatch(out)
	require.NotNil(t, match, out)
	id := match[1]
	assert.Contains(t, out, "(lines 3-5) [mock]")

	out, err = h.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "* "+id)
	assert.Contains(t, out, "2 messages")

	out, err = h.run("list", "--start", "1", "--end", "2")
	require.NoError(t, err)
	assert.Equal(t, "No threads.\n", out)

	out, err = h.run("export", "--id", id)
	require.NoError(t, err)
	assert.Contains(t, out, "# Review thread: lines 3-5")
	assert.Contains(t, out, "```go\nfunc main() {\n\tprintln(1)\n}\n```")
	assert.Contains(t, out, "**You**")
}

func TestAskRejectsInvertedRange(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("ask", "--file", h.source, "--start", "5", "--end", "2", "--question", "Why?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid line range 5-2")

	out, err := h.run("list")
	require.NoError(t, err)
	assert.Equal(t, "No threads.\n", out)
}

func TestReplyUsesActiveThread(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("ask", "--file", h.source, "--start", "4", "--question", "Why println?")
	require.NoError(t, err)

	out, err := h.run("reply", "--question", "And then?", "--stream")
	require.NoError(t, err)
	assert.Contains(t, out, "(line 4)")

	out, err = h.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "4 messages")
}

func TestStatusAndDelete(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("ask", "--file", h.source, "--start", "1", "--question", "Package name?")
	require.NoError(t, err)
	id := threadLine.FindStringSubmatch(out)[1]

	_, err = h.run("status", "resolved")
	require.NoError(t, err)
	out, err = h.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")

	_, err = h.run("status", "done")
	assert.Error(t, err)

	_, err = h.run("delete", "--id", id)
	require.NoError(t, err)
	out, err = h.run("list")
	require.NoError(t, err)
	assert.Equal(t, "No threads.\n", out)

	_, err = h.run("reply", "--question", "Still there?")
	assert.Error(t, err)
}

func TestSettingsCommands(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("settings", "provider", "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "provider: anthropic\nmodel: claude-3-5-haiku-latest\n", out)

	_, err = h.run("settings", "key", "anthropic", "sk-ant-test")
	require.NoError(t, err)

	out, err = h.run("settings", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "anthropic key: set")
	assert.Contains(t, out, "openai key: not set")

	_, err = h.run("settings", "key", "mock", "whatever")
	assert.Error(t, err)
	_, err = h.run("settings", "provider", "nope")
	assert.Error(t, err)
}

func TestNavigate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("next")
	require.NoError(t, err)
	assert.Equal(t, "No threads.\n", out)

	for _, line := range []string{"4", "1"} {
		_, err := h.run("ask", "--file", h.source, "--start", line, "--question", "Why?")
		require.NoError(t, err)
	}

	out, err = h.run("prev")
	require.NoError(t, err)
	assert.Contains(t, out, "line 1")

	out, err = h.run("next")
	require.NoError(t, err)
	assert.Contains(t, out, "line 4")
}

func TestTestCommandWithMock(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("test")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
