package video

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	defaultDataAPIURL   = "https://www.googleapis.com/youtube/v3"
	defaultTimedTextURL = "https://www.youtube.com/api/timedtext"
	defaultLanguage     = "en"
	maxBodyBytes        = 8 << 20
)

// YouTubeClient fetches metadata from the YouTube Data API v3 and captions
// from the timedtext endpoint.
type YouTubeClient struct {
	apiKey       string
	dataAPIURL   string
	timedTextURL string
	language     string
	httpClient   *http.Client
	logger       *slog.Logger
}

// Option configures the YouTube client.
type Option func(*YouTubeClient)

// WithDataAPIURL overrides the Data API base URL.
func WithDataAPIURL(u string) Option {
	return func(c *YouTubeClient) { c.dataAPIURL = strings.TrimRight(u, "/") }
}

// WithTimedTextURL overrides the caption endpoint.
func WithTimedTextURL(u string) Option {
	return func(c *YouTubeClient) { c.timedTextURL = u }
}

// WithLanguage selects the caption track language.
func WithLanguage(lang string) Option {
	return func(c *YouTubeClient) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *YouTubeClient) { c.httpClient = hc }
}

// NewYouTubeClient creates a fetcher backed by the public YouTube endpoints.
func NewYouTubeClient(apiKey string, logger *slog.Logger, opts ...Option) *YouTubeClient {
	c := &YouTubeClient{
		apiKey:       apiKey,
		dataAPIURL:   defaultDataAPIURL,
		timedTextURL: defaultTimedTextURL,
		language:     defaultLanguage,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type metadata struct {
	title       string
	channel     string
	duration    string
	publishedAt time.Time
	captions    bool
}

// GetVideo resolves url to metadata plus a formatted transcript.
func (c *YouTubeClient) GetVideo(ctx context.Context, rawURL string) (*Fetched, error) {
	c.logger.DebugContext(ctx, "retrieving video", slog.String("url", rawURL))

	id, err := ExtractID(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	meta, err := c.metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if !meta.captions {
		return nil, &FetchError{URL: rawURL, Title: meta.title, Err: ErrTranscriptsDisabled}
	}

	segments, err := c.transcript(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, &FetchError{URL: rawURL, Title: meta.title, Err: ErrNoTranscriptFound}
	}

	return &Fetched{
		URL:         rawURL,
		Transcript:  FormatTranscript(meta.title, segments),
		Title:       meta.title,
		Author:      meta.channel,
		PublishedAt: meta.publishedAt,
		Duration:    meta.duration,
	}, nil
}

// Ping performs a cheap authenticated Data API call.
func (c *YouTubeClient) Ping(ctx context.Context) error {
	q := url.Values{"part": {"snippet"}, "regionCode": {"US"}, "key": {c.apiKey}}
	_, err := c.get(ctx, c.dataAPIURL+"/videoCategories?"+q.Encode())
	return err
}

func (c *YouTubeClient) metadata(ctx context.Context, id string) (*metadata, error) {
	q := url.Values{"part": {"snippet,contentDetails"}, "id": {id}, "key": {c.apiKey}}
	body, err := c.get(ctx, c.dataAPIURL+"/videos?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}

	item := gjson.GetBytes(body, "items.0")
	if !item.Exists() {
		return nil, fmt.Errorf("video %s not found", id)
	}
	meta := &metadata{
		title:    item.Get("snippet.title").String(),
		channel:  item.Get("snippet.channelTitle").String(),
		duration: item.Get("contentDetails.duration").String(),
		captions: item.Get("contentDetails.caption").String() != "false",
	}
	if ts := item.Get("snippet.publishedAt").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			meta.publishedAt = t.UTC()
		}
	}
	return meta, nil
}

func (c *YouTubeClient) transcript(ctx context.Context, id string) ([]Segment, error) {
	q := url.Values{"v": {id}, "lang": {c.language}, "fmt": {"json3"}}
	body, err := c.get(ctx, c.timedTextURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("fetching transcript: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var segments []Segment
	gjson.GetBytes(body, "events").ForEach(func(_, ev gjson.Result) bool {
		var text strings.Builder
		ev.Get("segs").ForEach(func(_, seg gjson.Result) bool {
			text.WriteString(seg.Get("utf8").String())
			return true
		})
		line := strings.TrimSpace(strings.ReplaceAll(text.String(), "\n", " "))
		if line == "" {
			return true
		}
		segments = append(segments, Segment{
			Start: time.Duration(ev.Get("tStartMs").Int()) * time.Millisecond,
			Text:  line,
		})
		return true
	})
	return segments, nil
}

func (c *YouTubeClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("youtube API error (status %d): %s", resp.StatusCode, msg)
	}
	return body, nil
}
