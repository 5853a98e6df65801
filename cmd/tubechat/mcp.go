package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/tubechat/internal/gateway/mcpserver"
)

var mcpWorkspace string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the video tools over MCP (stdio)",
	Long: `Expose the workspace tools (watch, list, transcript, summarize) to an MCP
client over stdin and stdout. Logs go to stderr.`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVarP(&mcpWorkspace, "workspace", "w", "", "workspace the tools operate on (default: last used)")
}

func runMCP(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id := mcpWorkspace
	if id == "" {
		if id, err = sc.DataDir.ReadState(stateWorkspace); err != nil {
			return err
		}
	}
	wsID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("a workspace is required: pass --workspace or open one with `tubechat chat` first")
	}
	if _, err := sc.Service.GetWorkspace(ctx, wsID); err != nil {
		return fmt.Errorf("opening workspace %s: %w", wsID, err)
	}

	gw, err := mcpserver.NewGateway(sc.Service, wsID, version, logger)
	if err != nil {
		return err
	}
	if err := gw.Serve(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	logger.Info("mcp server stopped", slog.String("workspace_id", wsID.String()))
	return nil
}
