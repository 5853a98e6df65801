package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/gateway/cli"
)

// State files remembering the local user and the last workspace.
const (
	stateUser      = "user"
	stateWorkspace = "workspace"
)

var (
	chatWorkspace string
	chatNew       string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a workspace in the terminal",
	Long: `Start an interactive chat against one workspace.
Without --workspace the last used workspace is reopened, or a new one is
created for a local user on first run.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatWorkspace, "workspace", "w", "", "workspace ID to open")
	chatCmd.Flags().StringVar(&chatNew, "new", "", "create a new workspace with this name and open it")
}

func runChat(_ *cobra.Command, _ []string) error {
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

	wsID, err := resolveWorkspace(ctx, sc)
	if err != nil {
		return err
	}
	if err := sc.DataDir.WriteState(stateWorkspace, wsID.String()); err != nil {
		logger.Warn("saving workspace state", slog.String("error", err.Error()))
	}

	repl := cli.NewGateway(sc.Service, wsID, os.Stdin, os.Stdout, logger)
	go func() {
		<-ctx.Done()
		_ = repl.Stop(context.Background())
	}()
	return repl.Start(ctx)
}

// resolveWorkspace picks the workspace to open: the --workspace flag, a new
// one from --new, the last one used, or a fresh "default" workspace.
func resolveWorkspace(ctx context.Context, sc *SharedComponents) (uuid.UUID, error) {
	if chatWorkspace != "" {
		id, err := uuid.Parse(chatWorkspace)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid workspace ID %q: %w", chatWorkspace, err)
		}
		return id, nil
	}

	if chatNew == "" {
		last, err := sc.DataDir.ReadState(stateWorkspace)
		if err != nil {
			return uuid.Nil, err
		}
		if id, err := uuid.Parse(last); err == nil {
			if _, err := sc.Service.GetWorkspace(ctx, id); err == nil {
				return id, nil
			} else if !errors.Is(err, domain.ErrNotFound) {
				return uuid.Nil, err
			}
		}
	}

	userID, err := localUser(ctx, sc)
	if err != nil {
		return uuid.Nil, err
	}
	name := chatNew
	if name == "" {
		name = "default"
	}
	ws, err := sc.Service.CreateWorkspace(ctx, userID, name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating workspace: %w", err)
	}
	sc.Logger.Info("workspace created",
		slog.String("workspace_id", ws.ID.String()),
		slog.String("name", ws.Name),
	)
	return ws.ID, nil
}

// localUser returns the user remembered in the data directory, creating one
// when none exists yet.
func localUser(ctx context.Context, sc *SharedComponents) (uuid.UUID, error) {
	saved, err := sc.DataDir.ReadState(stateUser)
	if err != nil {
		return uuid.Nil, err
	}
	if id, err := uuid.Parse(saved); err == nil {
		if _, err := sc.Service.GetUser(ctx, id); err == nil {
			return id, nil
		}
	}

	u, err := sc.Service.CreateUser(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating user: %w", err)
	}
	if err := sc.DataDir.WriteState(stateUser, u.ID.String()); err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}
