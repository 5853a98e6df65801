package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the query command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	queryMessage    string
	queryWorkspace  string
	queryGatewayURL string
	queryAPIKey     string
	queryStream     bool
	queryTimeout    int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a one-shot chat message to a running server",
	Long: `Send a message to a workspace on a running TubeChat server and print the answer.

Examples:
  tubechat query -w 3f6c... -m "summarize the videos"
  tubechat query -w 3f6c... -m "what did the speaker say about caching?" --stream

Exit codes:
  0  success
  1  request failed
  2  unauthorized or rate limited
  3  server unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryMessage, "message", "m", "", "message to send (required)")
	queryCmd.Flags().StringVarP(&queryWorkspace, "workspace", "w", "", "workspace ID (required)")
	queryCmd.Flags().StringVar(&queryGatewayURL, "gateway-url", "http://localhost:8080", "server URL (or TUBECHAT_GATEWAY_URL env)")
	queryCmd.Flags().StringVar(&queryAPIKey, "api-key", "", "API key (or TUBECHAT_API_KEY env)")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "stream agent events via SSE")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 300, "timeout in seconds")

	_ = queryCmd.MarkFlagRequired("message")
	_ = queryCmd.MarkFlagRequired("workspace")
}

func runQuery(_ *cobra.Command, _ []string) error {
	if queryMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}
	apiKey := goutils.Env("TUBECHAT_API_KEY", queryAPIKey)
	gatewayURL := strings.TrimRight(goutils.Env("TUBECHAT_GATEWAY_URL", queryGatewayURL), "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	defer cancel()

	endpoint := gatewayURL + "/api/v1/workspaces/" + queryWorkspace + "/messages"
	if queryStream {
		os.Exit(runQuerySSE(ctx, endpoint+"/stream", apiKey))
	}
	os.Exit(runQueryHTTP(ctx, endpoint, apiKey))
	return nil
}

func newQueryRequest(ctx context.Context, endpoint, apiKey string) (*http.Request, error) {
	body, _ := json.Marshal(map[string]string{"message": queryMessage})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// runQueryHTTP sends a synchronous chat message and prints the answer.
func runQueryHTTP(ctx context.Context, endpoint, apiKey string) int {
	req, err := newQueryRequest(ctx, endpoint, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server: %v\n", err)
		return ExitUnavailable
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusOK {
		result := gjson.ParseBytes(respBody)
		fmt.Println(result.Get("response").String())
		fmt.Fprintf(os.Stderr, "\n[correlation_id=%s]\n", result.Get("correlation_id").String())
		return ExitSuccess
	}
	return reportStatus(resp.StatusCode, respBody)
}

// runQuerySSE sends a chat message to the streaming endpoint and prints
// agent events as they arrive.
func runQuerySSE(ctx context.Context, endpoint, apiKey string) int {
	req, err := newQueryRequest(ctx, endpoint, apiKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitFailure
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server: %v\n", err)
		return ExitUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return reportStatus(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || !gjson.Valid(data) {
			continue
		}

		event := gjson.Parse(data)
		content := event.Get("content").String()
		switch event.Get("type").String() {
		case "tool_use":
			fmt.Fprintf(os.Stderr, "[tool] %s\n", firstLine(content))
		case "video_watched":
			fmt.Fprintf(os.Stderr, "[video added] %s\n", event.Get("data.title").String())
		case "video_summarized":
			fmt.Fprintln(os.Stderr, "[summary saved]")
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s\n", content)
			return ExitFailure
		case "done":
			fmt.Println(content)
			return ExitSuccess
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: stream interrupted: %v\n", err)
	} else {
		fmt.Fprintln(os.Stderr, "Error: stream ended without an answer")
	}
	return ExitFailure
}

// reportStatus prints a non-success response and returns its exit code.
func reportStatus(status int, body []byte) int {
	msg := gjson.GetBytes(body, "error").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch status {
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		return ExitDenied
	case http.StatusTooManyRequests:
		fmt.Fprintf(os.Stderr, "Error: rate limited, retry in %ds\n", gjson.GetBytes(body, "retry_after_seconds").Int())
		return ExitDenied
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", status)
		return ExitUnavailable
	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", status, msg)
		return ExitFailure
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
