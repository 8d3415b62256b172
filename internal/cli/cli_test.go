package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kronos/internal/compaction"
	"kronos/internal/config"
	"kronos/internal/provider"
	"kronos/pkg/logger"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return &provider.ChatResponse{Content: "Paris Trip"}, nil
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.Reset()
	t.Cleanup(config.Reset)
	t.Cleanup(func() { _ = logger.Close() })

	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kronos "+Version)

	out, err = runRoot(t, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}

func TestConfigInitAndPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runRoot(t, "--config", path, "--quiet", "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "overflow_policy: truncate")

	_, err = runRoot(t, "--config", path, "--quiet", "config", "init")
	assert.Error(t, err, "init must not overwrite without --force")

	out, err = runRoot(t, "--config", path, "--quiet", "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))
}

func TestConfigGetMasksAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	cfg.Provider.APIKey = "sk-secret-value"
	require.NoError(t, config.SaveTo(cfg, path))

	out, err := runRoot(t, "--config", path, "--quiet", "config", "get", "provider.api_key")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "sk"))
}

func TestConversationsList_Empty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(dir, "sessions")
	cfg.Context.Encoding = compaction.EstimateEncoding
	require.NoError(t, config.SaveTo(cfg, path))

	out, err := runRoot(t, "--config", path, "--quiet", "conversations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations.")
}

func newTestContext(t *testing.T, driver string) (*CLIContext, *fakeProvider) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Driver = driver
	cfg.Storage.Path = t.TempDir()
	if driver == "sqlite" {
		cfg.Storage.Path = filepath.Join(cfg.Storage.Path, "kronos.db")
	}
	cfg.Context.Encoding = compaction.EstimateEncoding

	fp := &fakeProvider{}
	cliCtx := NewCLIContext(cfg, "", nil, false, true)
	cliCtx.newProvider = func(config.ProviderConfig) (provider.Provider, error) { return fp, nil }
	t.Cleanup(func() { _ = cliCtx.Close() })
	return cliCtx, fp
}

func TestCLIContext_Manager(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cliCtx, fp := newTestContext(t, driver)

			mgr, err := cliCtx.Manager()
			require.NoError(t, err)

			again, err := cliCtx.Manager()
			require.NoError(t, err)
			assert.Same(t, mgr, again)

			title, response, err := mgr.Send(context.Background(), "", "Plan a weekend in Paris")
			require.NoError(t, err)
			assert.Equal(t, "Paris Trip", title)
			assert.Equal(t, "Paris Trip", response)
			assert.Positive(t, fp.calls)

			convs, err := mgr.List(context.Background())
			require.NoError(t, err)
			require.Len(t, convs, 1)
			assert.Equal(t, "Paris Trip", convs[0].Title)
		})
	}
}

func TestCLIContext_BadOverflowPolicy(t *testing.T) {
	cliCtx, _ := newTestContext(t, "file")
	cliCtx.Config.Context.OverflowPolicy = "drop"

	_, err := cliCtx.Manager()
	assert.ErrorIs(t, err, compaction.ErrUnknownOverflowPolicy)
}

func TestNewProvider(t *testing.T) {
	p, err := newProvider(config.ProviderConfig{Name: "openai", APIKey: "k", Model: "gpt-4"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = newProvider(config.ProviderConfig{Name: "carrier-pigeon"})
	assert.Error(t, err)
}

type recordingTurner struct {
	titles []string
	inputs []string
}

func (r *recordingTurner) Send(ctx context.Context, title, userInput string) (string, string, error) {
	r.titles = append(r.titles, title)
	r.inputs = append(r.inputs, userInput)
	return "Paris Trip", "ok: " + userInput, nil
}

func TestRunChatLoop(t *testing.T) {
	turner := &recordingTurner{}
	in := strings.NewReader("hello\n\n  second  \nexit\nignored\n")
	var out bytes.Buffer

	err := runChatLoop(context.Background(), turner, in, &out, "", "New Chat", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"hello", "second"}, turner.inputs)
	assert.Equal(t, []string{"", "Paris Trip"}, turner.titles)
	assert.Contains(t, out.String(), "Assistant: ok: hello")
	assert.NotContains(t, out.String(), "You:")
}

func TestRunChatOnce_ShowsTitle(t *testing.T) {
	turner := &recordingTurner{}
	var out, errOut bytes.Buffer

	err := runChatOnce(context.Background(), turner, &out, &errOut, "", "Plan a weekend in Paris")
	require.NoError(t, err)

	assert.Equal(t, "ok: Plan a weekend in Paris\n", out.String())
	assert.Equal(t, "[Paris Trip]\n", errOut.String())
	assert.Equal(t, []string{""}, turner.titles)
}

func TestCLIContext_ConfiguredDefaultTitle(t *testing.T) {
	cliCtx, _ := newTestContext(t, "file")
	cliCtx.Config.Session.DefaultTitle = "Untitled"

	mgr, err := cliCtx.Manager()
	require.NoError(t, err)

	title, _, err := mgr.Send(context.Background(), "Untitled", "Plan a weekend in Paris")
	require.NoError(t, err)
	assert.Equal(t, "Paris Trip", title)
}

func TestRunChatLoop_Interactive(t *testing.T) {
	turner := &recordingTurner{}
	var out bytes.Buffer

	err := runChatLoop(context.Background(), turner, strings.NewReader("hi\n"), &out, "", "New Chat", true)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[New Chat] You: ")
	assert.Contains(t, out.String(), "[Paris Trip] You: ")
}
