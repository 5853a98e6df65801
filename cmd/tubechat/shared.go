package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/config"
	"github.com/jkaninda/tubechat/internal/datadir"
	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/llm/anthropic"
	"github.com/jkaninda/tubechat/internal/llm/openai"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/secrets"
	"github.com/jkaninda/tubechat/internal/storage"
	pgstore "github.com/jkaninda/tubechat/internal/storage/postgres"
	sqlitestore "github.com/jkaninda/tubechat/internal/storage/sqlite"
	"github.com/jkaninda/tubechat/internal/video"
	"github.com/jkaninda/tubechat/internal/workspace"
)

// SharedComponents holds the components every command that touches the
// workspace service needs.
type SharedComponents struct {
	Config  *config.Config
	Logger  *slog.Logger
	DataDir *datadir.Dir
	Store   storage.Store

	Obs        *observability.Observability
	LLM        llm.Provider
	Fetcher    video.Fetcher
	Summarizer video.Summarizer
	Service    *workspace.Service

	// Probes used for readiness checks and the dependency gauge.
	Probes map[observability.Dependency]func(ctx context.Context) error

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// loadConfig reads the config file named by --config or TUBECHAT_CONFIG and
// builds the process logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(goutils.Env("TUBECHAT_CONFIG", configPath))
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.LogLevel)
	if err := resolveSecrets(context.Background(), cfg, logger); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// resolveSecrets replaces env:// and vault:// references in credential
// fields with the secrets they point to.
func resolveSecrets(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers := []secrets.Provider{secrets.NewEnvProvider()}
	var vaultCfg secrets.VaultConfig
	useVault := os.Getenv("VAULT_ADDR") != ""
	if cfg.Secrets != nil && cfg.Secrets.Vault != nil {
		v := cfg.Secrets.Vault
		vaultCfg = secrets.VaultConfig{
			Address:       v.Address,
			Token:         v.Token,
			Namespace:     v.Namespace,
			Timeout:       time.Duration(v.TimeoutSeconds) * time.Second,
			TLSSkipVerify: v.TLSSkipVerify,
		}
		useVault = true
	}
	if useVault {
		vp, err := secrets.NewVaultProvider(vaultCfg)
		if err != nil {
			return fmt.Errorf("initializing vault: %w", err)
		}
		providers = append(providers, vp)
	}

	n, err := secrets.NewResolver(providers...).ResolveFields(ctx,
		secrets.Field{Name: "providers.anthropic.api_key", Value: &cfg.Providers.Anthropic.APIKey},
		secrets.Field{Name: "providers.openai.api_key", Value: &cfg.Providers.OpenAI.APIKey},
		secrets.Field{Name: "video.api_key", Value: &cfg.Video.APIKey},
		secrets.Field{Name: "storage.postgres.dsn", Value: &cfg.Storage.Postgres.DSN},
	)
	if err != nil {
		return fmt.Errorf("resolving secrets: %w", err)
	}
	if n > 0 {
		logger.Debug("credential references resolved", slog.Int("count", n))
	}
	return nil
}

// newLogger returns a JSON logger on stderr. Stdout stays free for command
// output and the MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// initShared performs all common initialization shared between serve, chat and mcp.
// Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
		Probes: make(map[observability.Dependency]func(ctx context.Context) error),
	}

	// Data directory.
	dir, err := datadir.New(cfg.ResolvedDataDir())
	if err != nil {
		return nil, fmt.Errorf("initializing data directory: %w", err)
	}
	if err := dir.EnsureAll(); err != nil {
		return nil, fmt.Errorf("initializing data directory: %w", err)
	}
	sc.DataDir = dir
	logger.Debug("data directory initialized", slog.String("path", dir.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// LLM provider.
	primary, llmProvider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", llmProvider.Name()))

	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil) {
		llmProvider = observability.NewInstrumentedProvider(
			llmProvider, obs.Metrics, obs.TracerOrNil(), obs.Anomaly,
		)
	}
	sc.LLM = llmProvider
	sc.Probes[observability.DependencyLLM] = func(ctx context.Context) error { return llm.Ping(ctx, primary) }

	// Storage (SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, dir, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	sc.Probes[observability.DependencyStore] = store.Ping
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Video collaborators.
	sc.Fetcher, sc.Summarizer = newVideoCollaborators(cfg, logger)
	if yt, ok := sc.Fetcher.(*video.YouTubeClient); ok {
		sc.Probes[observability.DependencyYouTube] = yt.Ping
	}
	if obs != nil && (obs.Metrics != nil || obs.Tracer != nil) {
		sc.Fetcher = observability.NewInstrumentedFetcher(sc.Fetcher, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
		sc.Summarizer = observability.NewInstrumentedSummarizer(sc.Summarizer, obs.Metrics, obs.TracerOrNil(), obs.Anomaly)
	}

	// Workspace service.
	sc.Service = workspace.NewService(store, sc.LLM, sc.Fetcher, sc.Summarizer, workspace.Config{
		SystemPrompt:  cfg.Agent.Prompt(),
		MaxIterations: cfg.Agent.MaxIterations,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		ToolTimeout:   cfg.Agent.ToolTimeout(),
		HistoryLimit:  cfg.Agent.HistoryLimit,
		PageSize:      cfg.Agent.PageSize,
	}, logger).WithObservability(obs)
	if ttl := cfg.Agent.ToolCacheTTL(); ttl > 0 {
		sc.Service.WithToolCache(agent.NewToolCache(ttl))
	}

	// Health checks.
	if obs != nil && obs.Health != nil {
		for dep, probe := range sc.Probes {
			obs.Health.AddCheck(dep, probe)
		}
	}

	return sc, nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, dir *datadir.Dir, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite, "":
		return initSQLiteStore(cfg, dir, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

func initSQLiteStore(cfg *config.Config, dir *datadir.Dir, logger *slog.Logger) (storage.Store, error) {
	dbPath := dir.DatabasePath()
	if cfg.Storage.SQLite.Path != "" {
		dbPath = cfg.Storage.SQLite.Path
	}
	journalMode := "wal"
	if cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	if pg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or TUBECHAT_DB_DSN)")
	}

	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return pgstore.NewStore(pgDB), nil
}

// newVideoCollaborators returns the fetcher and summarizer, canned ones when
// video.mock is set.
func newVideoCollaborators(cfg *config.Config, logger *slog.Logger) (video.Fetcher, video.Summarizer) {
	if cfg.Video.Mock {
		logger.Warn("video mock mode enabled: transcripts and summaries are canned")
		return &video.MockFetcher{}, video.MockSummarizer{}
	}

	var opts []video.Option
	if cfg.Video.DataAPIURL != "" {
		opts = append(opts, video.WithDataAPIURL(cfg.Video.DataAPIURL))
	}
	if cfg.Video.TimedTextURL != "" {
		opts = append(opts, video.WithTimedTextURL(cfg.Video.TimedTextURL))
	}
	if cfg.Video.Language != "" {
		opts = append(opts, video.WithLanguage(cfg.Video.Language))
	}
	fetcher := video.NewYouTubeClient(cfg.Video.APIKey, logger, opts...)

	summarizer := video.NewClaudeSummarizer(video.SummarizerConfig{
		APIKey:    cfg.Providers.Anthropic.APIKey,
		BaseURL:   cfg.Providers.Anthropic.BaseURL,
		Model:     cfg.Video.Summarizer.Model,
		MaxTokens: cfg.Video.Summarizer.MaxTokens,
	}, logger)
	return fetcher, summarizer
}

// newLLMProvider creates the chat provider from the configured default and
// fallback chain. Every provider is wrapped with the per-call timeout and
// single retry. The unwrapped primary is returned for health probes.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (primary, provider llm.Provider, err error) {
	primary, err = buildProvider(cfg.Providers.Default, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	timeout := cfg.Providers.RequestTimeout()
	provider = llm.NewRetryProvider(primary, timeout, logger)

	// Build fallback chain if configured.
	if len(cfg.Providers.Fallback) > 0 {
		providers := []llm.Provider{provider}
		for _, name := range cfg.Providers.Fallback {
			fb, err := buildProvider(name, cfg, logger)
			if err != nil {
				logger.Warn("skipping fallback provider",
					slog.String("provider", name),
					slog.String("error", err.Error()),
				)
				continue
			}
			providers = append(providers, llm.NewRetryProvider(fb, timeout, logger))
		}
		if len(providers) > 1 {
			provider = llm.NewFallbackProvider(providers, logger)
		}
	}

	return primary, provider, nil
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "anthropic", "":
		var opts []anthropic.Option
		if cfg.Providers.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Providers.Anthropic.BaseURL))
		}
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
			opts...,
		), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
