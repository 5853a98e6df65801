// TubeChat: chat with an LLM about the YouTube videos collected in a workspace.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"

	"github.com/jkaninda/tubechat/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tubechat",
	Short: "TubeChat: ask questions about YouTube videos.",
	Long: `TubeChat keeps per-user workspaces of YouTube videos and lets an LLM agent
watch, summarize and discuss them through tools. It serves a REST API, a
WebSocket chat endpoint, an MCP tool server and an interactive REPL.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config file (or TUBECHAT_CONFIG env)")
	rootCmd.AddCommand(serveCmd, chatCmd, queryCmd, mcpCmd, migrateCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
