// Package cli implements an interactive chat REPL against one workspace.
package cli

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/workspace"
)

// Workspaces is the subset of the workspace service the REPL uses.
type Workspaces interface {
	GetWorkspace(ctx context.Context, id uuid.UUID) (*domain.Workspace, error)
	AddVideo(ctx context.Context, workspaceID uuid.UUID, rawURL string) (*domain.Video, error)
	ListVideos(ctx context.Context, workspaceID uuid.UUID) ([]domain.WorkspaceVideo, error)
	GetMessages(ctx context.Context, workspaceID uuid.UUID, cursor string) (*workspace.MessagePage, error)
	SendMessageStream(ctx context.Context, workspaceID uuid.UUID, message string, sink agent.EventSink) (string, error)
}

// Gateway is the interactive command-line interface.
type Gateway struct {
	svc         Workspaces
	workspaceID uuid.UUID
	in          io.Reader
	out         io.Writer
	logger      *slog.Logger
	done        chan struct{} // closed by Stop to signal shutdown
}

// NewGateway creates a REPL reading from in and writing to out.
func NewGateway(svc Workspaces, workspaceID uuid.UUID, in io.Reader, out io.Writer, logger *slog.Logger) *Gateway {
	return &Gateway{
		svc:         svc,
		workspaceID: workspaceID,
		in:          in,
		out:         out,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled,
// Stop is called, input ends, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	ws, err := g.svc.GetWorkspace(ctx, g.workspaceID)
	if err != nil {
		return fmt.Errorf("opening workspace %s: %w", g.workspaceID, err)
	}

	scanner := bufio.NewScanner(g.in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	fmt.Fprintf(g.out, "TubeChat, workspace %q\n", ws.Name)
	fmt.Fprintln(g.out, "Ask about your videos, or use /watch <url>, /videos, /history. Type \"exit\" to quit.")
	fmt.Fprintln(g.out)

	for {
		fmt.Fprint(g.out, "tubechat> ")

		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		case <-g.done:
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Fprintln(g.out, "Goodbye.")
			return nil
		}

		correlationID := newCorrelationID()
		g.logger.DebugContext(ctx, "cli request",
			slog.String("workspace_id", g.workspaceID.String()),
			slog.String("correlation_id", correlationID),
		)

		if strings.HasPrefix(line, "/") {
			if err := g.command(ctx, line); err != nil {
				fmt.Fprintf(g.out, "Error: %v\n", err)
			}
			fmt.Fprintln(g.out)
			continue
		}

		answer, err := g.svc.SendMessageStream(ctx, g.workspaceID, line, agent.EventSinkFunc(g.printEvent))
		if err != nil {
			g.logger.ErrorContext(ctx, "chat turn failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(g.out, "Error: %v\n", err)
			continue
		}

		fmt.Fprintln(g.out)
		fmt.Fprintln(g.out, answer)
		fmt.Fprintln(g.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

func (g *Gateway) command(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/watch":
		if arg == "" {
			return fmt.Errorf("usage: /watch <youtube url>")
		}
		v, err := g.svc.AddVideo(ctx, g.workspaceID, arg)
		if err != nil {
			return err
		}
		fmt.Fprintf(g.out, "Added [%d] %s (%s)\n", v.ID, v.Title, v.Channel)

	case "/videos":
		videos, err := g.svc.ListVideos(ctx, g.workspaceID)
		if err != nil {
			return err
		}
		if len(videos) == 0 {
			fmt.Fprintln(g.out, "No videos yet.")
		}
		for _, wv := range videos {
			if wv.Video == nil {
				continue
			}
			marker := ""
			if wv.Summary != "" {
				marker = " (summarized)"
			}
			fmt.Fprintf(g.out, "[%d] %s - %s%s\n", wv.VideoID, wv.Video.Title, wv.Video.Channel, marker)
		}

	case "/history":
		cursor := ""
		for {
			page, err := g.svc.GetMessages(ctx, g.workspaceID, cursor)
			if err != nil {
				return err
			}
			for _, m := range page.Messages {
				fmt.Fprintf(g.out, "%s: %s\n", m.Role, m.Content)
			}
			if len(page.Messages) == 0 || page.NextCursor == cursor {
				return nil
			}
			cursor = page.NextCursor
		}

	default:
		return fmt.Errorf("unknown command %s", name)
	}
	return nil
}

// printEvent shows tool activity while a turn runs. The final message is
// printed by the caller.
func (g *Gateway) printEvent(_ context.Context, ev agent.Event) {
	switch ev.Type {
	case agent.EventToolUse:
		fmt.Fprintf(g.out, "  > %s\n", firstLine(ev.Content))
	case agent.EventVideoWatched:
		fmt.Fprintln(g.out, "  > video added to workspace")
	case agent.EventVideoSummarized:
		fmt.Fprintln(g.out, "  > summary saved")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
