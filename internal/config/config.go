// Package config handles loading and validating TubeChat configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/tubechat/internal/storage"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// DefaultSystemPrompt is the agent's role prompt when none is configured.
const DefaultSystemPrompt = `# Role
You are a YouTube content analyzer. You will use the tools provided to watch videos, summarize,
analyze, answer questions, and perform other text based activities.

# Core Capabilities
Refer to the tools definition. The basic capabilities are that you can watch videos, get a list of
videos watched, get summaries, and get full transcripts.

# Tool Use Guidelines
You can use the tools without asking. If there is uncertainty about how to use the tools or what
they do, you can proactively ask questions at any time.

When you use the summarize_videos tool, the result is already a final summary ready for the user.
Do not re-summarize or reprocess the summary; present it directly.

# Communication Style
Keep responses under 300 words. Explain how you came to your conclusion and which tools you
decided to use and why. The explanation of tool use can be an additional 500 words and is not
counted against the original response.`

// Config is the root configuration for TubeChat.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Default: ~/.tubechat. Override: TUBECHAT_DATA_DIR env var.
	LogLevel      string               `json:"log_level,omitempty" yaml:"log_level,omitempty"` // debug, info, warn, error. Override: TUBECHAT_LOG_LEVEL / LOG_LEVEL.
	Storage       storage.Config       `json:"storage" yaml:"storage"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Video         VideoConfig          `json:"video" yaml:"video"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = maintenance jobs disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = only env:// references resolve
}

// AgentConfig tunes the tool-use loop and the workspace service.
type AgentConfig struct {
	SystemPrompt        string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxIterations       int      `json:"max_iterations" yaml:"max_iterations"`                 // Default: 10.
	MaxTokens           int      `json:"max_tokens" yaml:"max_tokens"`                         // Default: 4096.
	Temperature         *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`   // Unset = provider default; 0 is sent as-is.
	ToolTimeoutSeconds  int      `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`     // Default: 90.
	HistoryLimit        int      `json:"history_limit" yaml:"history_limit"`                   // 0 = full history.
	PageSize            int      `json:"page_size" yaml:"page_size"`                           // Default: 50.
	ToolCacheTTLSeconds int      `json:"tool_cache_ttl_seconds" yaml:"tool_cache_ttl_seconds"` // 0 = 600. Negative disables the cache.
}

// ToolTimeout returns the per-call tool timeout with a default of 90s.
func (a AgentConfig) ToolTimeout() time.Duration {
	if a.ToolTimeoutSeconds > 0 {
		return time.Duration(a.ToolTimeoutSeconds) * time.Second
	}
	return 90 * time.Second
}

// ToolCacheTTL returns the tool cache TTL. Zero means caching is disabled.
func (a AgentConfig) ToolCacheTTL() time.Duration {
	switch {
	case a.ToolCacheTTLSeconds < 0:
		return 0
	case a.ToolCacheTTLSeconds == 0:
		return 10 * time.Minute
	default:
		return time.Duration(a.ToolCacheTTLSeconds) * time.Second
	}
}

// Prompt returns the configured system prompt or DefaultSystemPrompt.
func (a AgentConfig) Prompt() string {
	if strings.TrimSpace(a.SystemPrompt) != "" {
		return a.SystemPrompt
	}
	return DefaultSystemPrompt
}

// ProvidersConfig selects and configures the chat LLM.
type ProvidersConfig struct {
	Default               string          `json:"default" yaml:"default"`                                 // "anthropic" or "openai". Empty = "anthropic".
	Fallback              []string        `json:"fallback,omitempty" yaml:"fallback,omitempty"`           // Providers tried in order when the default fails.
	RequestTimeoutSeconds int             `json:"request_timeout_seconds" yaml:"request_timeout_seconds"` // Per-call timeout. Default: 120.
	Anthropic             AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI                OpenAIConfig    `json:"openai" yaml:"openai"`
}

// RequestTimeout returns the per-call LLM timeout with a default of 120s.
func (p ProvidersConfig) RequestTimeout() time.Duration {
	if p.RequestTimeoutSeconds > 0 {
		return time.Duration(p.RequestTimeoutSeconds) * time.Second
	}
	return 120 * time.Second
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.anthropic.com.
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com/v1.
}

// VideoConfig configures the YouTube fetcher and the transcript summarizer.
type VideoConfig struct {
	APIKey       string           `json:"api_key" yaml:"api_key"`   // YouTube Data API key. Override: YOUTUBE_API_KEY.
	Language     string           `json:"language" yaml:"language"` // Caption language. Default: "en".
	DataAPIURL   string           `json:"data_api_url,omitempty" yaml:"data_api_url,omitempty"`
	TimedTextURL string           `json:"timed_text_url,omitempty" yaml:"timed_text_url,omitempty"`
	Mock         bool             `json:"mock" yaml:"mock"` // Canned fetcher and summarizer. Override: TUBECHAT_MOCK.
	Summarizer   SummarizerConfig `json:"summarizer" yaml:"summarizer"`
}

// SummarizerConfig configures the model used by summarize_videos.
// Empty fields inherit from providers.anthropic.
type SummarizerConfig struct {
	Model     string `json:"model" yaml:"model"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"` // Default: 4096.
}

// GatewaysConfig defines which gateways are enabled and their settings.
// Nil pointers mean the gateway is not configured.
type GatewaysConfig struct {
	HTTP      *HTTPGatewayConfig      `json:"http,omitempty" yaml:"http,omitempty"`
	WebSocket *WebSocketGatewayConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: TUBECHAT_LISTEN_ADDR.
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // Empty = authentication disabled.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	SSE                 bool            `json:"sse" yaml:"sse"` // Enable the SSE streaming endpoint.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPGatewayConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// WebSocketGatewayConfig configures the websocket chat endpoint.
type WebSocketGatewayConfig struct {
	Enabled                  bool   `json:"enabled" yaml:"enabled"`
	Path                     string `json:"path" yaml:"path"`                                             // Default: "/ws/chat".
	HeartbeatIntervalSeconds int    `json:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"` // Default: 30.
}

// WSPath returns the WebSocket path with a default of "/ws/chat".
func (w *WebSocketGatewayConfig) WSPath() string {
	if w != nil && w.Path != "" {
		return w.Path
	}
	return "/ws/chat"
}

// WSHeartbeatInterval returns the ping interval with a default of 30s.
func (w *WebSocketGatewayConfig) WSHeartbeatInterval() time.Duration {
	if w != nil && w.HeartbeatIntervalSeconds > 0 {
		return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
	}
	return 30 * time.Second
}

// RateLimitConfig configures per-client rate limiting for a gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// SchedulerConfig configures the maintenance cron jobs.
type SchedulerConfig struct {
	Enabled            bool   `json:"enabled" yaml:"enabled"`
	ProbeSchedule      string `json:"probe_schedule" yaml:"probe_schedule"`             // Cron expression. Default: "@every 1m".
	CacheSweepSchedule string `json:"cache_sweep_schedule" yaml:"cache_sweep_schedule"` // Cron expression. Default: "@every 5m".
}

// Probe returns the dependency probe schedule.
func (s *SchedulerConfig) Probe() string {
	if s != nil && s.ProbeSchedule != "" {
		return s.ProbeSchedule
	}
	return "@every 1m"
}

// CacheSweep returns the tool cache sweep schedule.
func (s *SchedulerConfig) CacheSweep() string {
	if s != nil && s.CacheSweepSchedule != "" {
		return s.CacheSweepSchedule
	}
	return "@every 5m"
}

// SecretsConfig configures credential reference resolution. Any API key or
// DSN may be written as "env://NAME" or "vault://path#field".
type SecretsConfig struct {
	Vault *VaultConfig `json:"vault,omitempty" yaml:"vault,omitempty"`
}

// VaultConfig configures the HashiCorp Vault KV v2 backend.
// VAULT_ADDR, VAULT_TOKEN and VAULT_NAMESPACE override these fields.
type VaultConfig struct {
	Address        string `json:"address" yaml:"address"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty"`
	Namespace      string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 5.
	TLSSkipVerify  bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "tubechat"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0 to 1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Default: 300
}

// DefaultConfigPath returns the default config file path (~/.tubechat/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/tubechat.yaml"
	}
	return filepath.Join(home, ".tubechat", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// An empty path, or a missing file at the default path, yields a config built
// from defaults and environment variables only. Environment variables take
// precedence over file values.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) || path != DefaultConfigPath() {
				return nil, err
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readFile(path string, cfg *Config) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", resolved, err)
	}

	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}
	return nil
}

// applyEnv overlays environment variables on the file values.
func (c *Config) applyEnv() {
	c.Providers.Anthropic.APIKey = goutils.Env("ANTHROPIC_API_KEY", c.Providers.Anthropic.APIKey)
	c.Providers.OpenAI.APIKey = goutils.Env("OPENAI_API_KEY", c.Providers.OpenAI.APIKey)
	c.Providers.Default = goutils.Env("TUBECHAT_PROVIDER", c.Providers.Default)
	c.Video.APIKey = goutils.Env("YOUTUBE_API_KEY", c.Video.APIKey)
	c.DataDir = goutils.Env("TUBECHAT_DATA_DIR", c.DataDir)
	c.LogLevel = goutils.Env("TUBECHAT_LOG_LEVEL", goutils.Env("LOG_LEVEL", c.LogLevel))

	if dsn := os.Getenv("TUBECHAT_DB_DSN"); dsn != "" {
		c.Storage.Driver = storage.DriverPostgres
		c.Storage.Postgres.DSN = dsn
	}
	if v := os.Getenv("TUBECHAT_MOCK"); v != "" {
		if mock, err := strconv.ParseBool(v); err == nil {
			c.Video.Mock = mock
		}
	}
	if addr := os.Getenv("TUBECHAT_LISTEN_ADDR"); addr != "" {
		if c.Gateways.HTTP == nil {
			c.Gateways.HTTP = &HTTPGatewayConfig{}
		}
		c.Gateways.HTTP.ListenAddr = addr
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".tubechat")
		} else {
			c.DataDir = ".tubechat"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = storage.DefaultDriver
	}
	if c.Providers.Default == "" {
		c.Providers.Default = "anthropic"
	}
	if c.Providers.Anthropic.Model == "" {
		c.Providers.Anthropic.Model = "claude-3-5-sonnet-latest"
	}
	if c.Providers.OpenAI.Model == "" {
		c.Providers.OpenAI.Model = "gpt-4o"
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Video.Language == "" {
		c.Video.Language = "en"
	}
	if c.Video.Summarizer.Model == "" {
		c.Video.Summarizer.Model = c.Providers.Anthropic.Model
	}
	if c.Video.Summarizer.MaxTokens <= 0 {
		c.Video.Summarizer.MaxTokens = 4096
	}
	if c.Gateways.HTTP == nil {
		c.Gateways.HTTP = &HTTPGatewayConfig{}
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

func (c *Config) validate() error {
	if err := c.validateProvider(c.Providers.Default); err != nil {
		return err
	}
	seen := map[string]bool{c.Providers.Default: true}
	for i, name := range c.Providers.Fallback {
		if seen[name] {
			return fmt.Errorf("providers.fallback[%d]: duplicate provider %q", i, name)
		}
		seen[name] = true
		if err := c.validateProvider(name); err != nil {
			return fmt.Errorf("providers.fallback[%d]: %w", i, err)
		}
	}

	switch c.Storage.Driver {
	case storage.DriverSQLite:
	case storage.DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set TUBECHAT_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}

	if !c.Video.Mock {
		if c.Video.APIKey == "" {
			return fmt.Errorf("video.api_key is required (set YOUTUBE_API_KEY env var or TUBECHAT_MOCK=true)")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("video.summarizer requires providers.anthropic.api_key (set ANTHROPIC_API_KEY env var)")
		}
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative")
	}
	if t := c.Agent.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("agent.temperature must be between 0 and 2")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not supported (use debug, info, warn or error)", c.LogLevel)
	}
	if c.Gateways.HTTP.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("gateways.http.rate_limit.requests_per_minute must not be negative")
	}
	if t := c.Observability; t != nil && t.Tracing != nil && t.Tracing.Enabled {
		switch t.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", t.Tracing.Protocol)
		}
	}
	return nil
}

// validateProvider checks that the named LLM provider has the required fields.
func (c *Config) validateProvider(name string) error {
	switch name {
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use anthropic or openai)", name)
	}
	return nil
}
