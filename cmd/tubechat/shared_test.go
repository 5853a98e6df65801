package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jkaninda/tubechat/internal/config"
	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/storage"
	"github.com/jkaninda/tubechat/internal/video"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Storage: storage.Config{Driver: storage.DriverSQLite},
		Providers: config.ProvidersConfig{
			Default:   "anthropic",
			Anthropic: config.AnthropicConfig{APIKey: "test-key", Model: "test-model"},
			OpenAI:    config.OpenAIConfig{APIKey: "test-key", Model: "gpt-test"},
		},
		Video:    config.VideoConfig{Mock: true},
		Gateways: config.GatewaysConfig{HTTP: &config.HTTPGatewayConfig{}},
	}
}

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level should enable debug")
	}
	if newLogger("warn").Enabled(ctx, slog.LevelInfo) {
		t.Error("warn level should disable info")
	}
	if !newLogger("bogus").Enabled(ctx, slog.LevelInfo) {
		t.Error("unknown level should default to info")
	}
}

func TestBuildProvider(t *testing.T) {
	cfg := testConfig(t)
	for _, name := range []string{"anthropic", "openai"} {
		p, err := buildProvider(name, cfg, discardLogger())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
	if _, err := buildProvider("gemini", cfg, discardLogger()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewLLMProvider_Fallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Fallback = []string{"openai"}

	primary, p, err := newLLMProvider(cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if primary.Name() != "anthropic" {
		t.Errorf("primary = %q", primary.Name())
	}
	if _, ok := p.(*llm.FallbackProvider); !ok {
		t.Errorf("provider = %T, want *llm.FallbackProvider", p)
	}
}

func TestInitShared_Mock(t *testing.T) {
	sc, err := initShared(testConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()

	if _, ok := sc.Fetcher.(*video.MockFetcher); !ok {
		t.Errorf("fetcher = %T, want mock", sc.Fetcher)
	}
	if _, ok := sc.Probes[observability.DependencyYouTube]; ok {
		t.Error("mock mode should not probe youtube")
	}
	if err := sc.Probes[observability.DependencyStore](context.Background()); err != nil {
		t.Errorf("store probe: %v", err)
	}
	if sc.Service.ToolCache() == nil {
		t.Error("tool cache should be enabled by default")
	}

	ctx := context.Background()
	u, err := sc.Service.CreateUser(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Service.CreateWorkspace(ctx, u.ID, "shared"); err != nil {
		t.Fatal(err)
	}
}

func TestResolveWorkspace_RemembersUser(t *testing.T) {
	sc, err := initShared(testConfig(t), discardLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()
	chatWorkspace, chatNew = "", ""
	ctx := context.Background()

	first, err := resolveWorkspace(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.DataDir.WriteState(stateWorkspace, first.String()); err != nil {
		t.Fatal(err)
	}
	again, err := resolveWorkspace(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("reopened %s, want %s", again, first)
	}

	chatNew = "second"
	defer func() { chatNew = "" }()
	second, err := resolveWorkspace(ctx, sc)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Error("--new should create a new workspace")
	}
	ws, err := sc.Service.GetWorkspace(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	firstWS, _ := sc.Service.GetWorkspace(ctx, first)
	if ws.UserID != firstWS.UserID {
		t.Error("workspaces should belong to the remembered local user")
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("TUBECHAT_TEST_YT_KEY", "yt-from-env")
	cfg := testConfig(t)
	cfg.Video.APIKey = "env://TUBECHAT_TEST_YT_KEY"

	if err := resolveSecrets(context.Background(), cfg, discardLogger()); err != nil {
		t.Fatal(err)
	}
	if cfg.Video.APIKey != "yt-from-env" {
		t.Errorf("video.api_key = %q", cfg.Video.APIKey)
	}
	if cfg.Providers.Anthropic.APIKey != "test-key" {
		t.Errorf("plain key changed: %q", cfg.Providers.Anthropic.APIKey)
	}

	cfg.Providers.OpenAI.APIKey = "vault://secret/data/tubechat#openai"
	if err := resolveSecrets(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("expected error for vault reference without vault config")
	}
}
