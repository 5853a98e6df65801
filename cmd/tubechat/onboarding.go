package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/tubechat/internal/config"
	"github.com/jkaninda/tubechat/internal/storage"
)

var onboardOutput string

var onboardingCmd = &cobra.Command{
	Use:   "onboarding",
	Short: "Interactive setup wizard",
	Long: `Generate a configuration file through an interactive wizard.
API keys are not written to the file; set ANTHROPIC_API_KEY, OPENAI_API_KEY
and YOUTUBE_API_KEY in the environment or a .env file.`,
	RunE: runOnboarding,
}

func init() {
	onboardingCmd.Flags().StringVar(&onboardOutput, "output", config.DefaultConfigPath(), "output config file path")
	rootCmd.AddCommand(onboardingCmd)
}

func runOnboarding(_ *cobra.Command, _ []string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("TubeChat Configuration Wizard")
	fmt.Println("=============================")
	fmt.Println()

	cfg := &config.Config{}

	// LLM provider.
	provider := prompt(scanner, "Chat provider (anthropic/openai)", "anthropic")
	cfg.Providers.Default = provider
	switch provider {
	case "openai":
		cfg.Providers.OpenAI.Model = prompt(scanner, "OpenAI model", "gpt-4o")
		if promptYesNo(scanner, "Fall back to Anthropic when OpenAI fails?", false) {
			cfg.Providers.Fallback = []string{"anthropic"}
		}
	default:
		cfg.Providers.Anthropic.Model = prompt(scanner, "Anthropic model", "claude-3-5-sonnet-latest")
	}
	cfg.Video.Summarizer.Model = prompt(scanner, "Summarizer model (Anthropic)", "claude-3-5-sonnet-20241022")
	cfg.Video.Mock = promptYesNo(scanner, "Use canned videos and summaries (no YouTube access)?", false)

	// Storage.
	driver := prompt(scanner, "Storage driver (sqlite/postgres)", storage.DefaultDriver)
	cfg.Storage.Driver = driver
	if driver == storage.DriverPostgres {
		cfg.Storage.Postgres.DSN = prompt(scanner, "PostgreSQL DSN (empty = TUBECHAT_DB_DSN)", "")
	}

	// Gateways.
	cfg.Gateways.HTTP = &config.HTTPGatewayConfig{
		ListenAddr: prompt(scanner, "HTTP listen address", ":8080"),
		EnableDocs: promptYesNo(scanner, "Serve OpenAPI docs?", true),
		SSE:        promptYesNo(scanner, "Enable the SSE streaming endpoint?", true),
	}
	if rpm, _ := strconv.Atoi(prompt(scanner, "Requests per minute per client (0 = unlimited)", "60")); rpm > 0 {
		cfg.Gateways.HTTP.RateLimit = config.RateLimitConfig{RequestsPerMinute: rpm, BurstSize: rpm / 6}
	}
	if keys := prompt(scanner, "API keys, comma separated (empty = no auth)", ""); keys != "" {
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				cfg.Gateways.HTTP.APIKeys = append(cfg.Gateways.HTTP.APIKeys, k)
			}
		}
	}
	if promptYesNo(scanner, "Enable the WebSocket chat endpoint?", true) {
		cfg.Gateways.WebSocket = &config.WebSocketGatewayConfig{
			Enabled: true,
			Path:    prompt(scanner, "WebSocket path", "/ws/chat"),
		}
	}

	// Observability.
	if promptYesNo(scanner, "Expose Prometheus metrics?", true) {
		cfg.Observability = &config.ObservabilityConfig{
			Metrics: &config.MetricsConfig{Enabled: true},
		}
		cfg.Scheduler = &config.SchedulerConfig{Enabled: true}
	}

	return writeConfig(scanner, cfg, onboardOutput)
}

func writeConfig(scanner *bufio.Scanner, cfg *config.Config, outputPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Printf("\nGenerated config:\n%s\n", data)
	if promptYesNo(scanner, fmt.Sprintf("Write to %s?", outputPath), true) {
		dir := filepath.Dir(outputPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
		if err := os.WriteFile(outputPath, data, 0600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("Config written to %s\n", outputPath)
	}

	return nil
}

// prompt asks the user for input with a default value.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if !scanner.Scan() {
		return defaultVal
	}
	val := strings.TrimSpace(scanner.Text())
	if val == "" {
		return defaultVal
	}
	return val
}

// promptYesNo asks a yes/no question.
func promptYesNo(scanner *bufio.Scanner, question string, defaultYes bool) bool {
	suffix := "[Y/n]"
	if !defaultYes {
		suffix = "[y/N]"
	}
	fmt.Printf("%s %s: ", question, suffix)
	if !scanner.Scan() {
		return defaultYes
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	if answer == "" {
		return defaultYes
	}
	return answer == "y" || answer == "yes"
}
