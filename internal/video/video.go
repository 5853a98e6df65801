// Package video fetches YouTube metadata and transcripts and produces summaries.
package video

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Typed fetch failures. Callers match them with errors.Is.
var (
	ErrVideoIDUnparsable   = errors.New("could not extract video ID from URL")
	ErrTranscriptsDisabled = errors.New("transcripts are disabled for this video")
	ErrNoTranscriptFound   = errors.New("no transcript found for this video")
)

// FetchError wraps one of the typed fetch failures with the video title when
// the metadata lookup got that far.
type FetchError struct {
	URL   string
	Title string
	Err   error
}

func (e *FetchError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("Error: %s.\nVideo Title: %s", capitalize(e.Err.Error()), e.Title)
	}
	return fmt.Sprintf("Error: %s", capitalize(e.Err.Error()))
}

func (e *FetchError) Unwrap() error { return e.Err }

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Fetched is a video as returned by a Fetcher.
type Fetched struct {
	URL         string
	Transcript  string
	Title       string
	Author      string
	PublishedAt time.Time
	Duration    string // ISO 8601, as reported by the Data API
}

// Fetcher retrieves a video's metadata and transcript.
type Fetcher interface {
	GetVideo(ctx context.Context, url string) (*Fetched, error)
}

// Summarizer turns a transcript into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// NormalizeURL strips everything from the first '&', so playlist and
// timestamp parameters do not defeat deduplication.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.IndexByte(url, '&'); i >= 0 {
		return url[:i]
	}
	return url
}

var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11}).*`),
	regexp.MustCompile(`(?:be/)([0-9A-Za-z_-]{11}).*`),
}

// ExtractID returns the 11-character video id of a YouTube URL.
func ExtractID(url string) (string, error) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(url); m != nil {
			return m[1], nil
		}
	}
	return "", ErrVideoIDUnparsable
}

// Segment is one timed transcript line.
type Segment struct {
	Start time.Duration
	Text  string
}

// FormatTranscript renders segments under a title header as "[mm:ss] text" lines.
func FormatTranscript(title string, segments []Segment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcript for: %s\n\n", title)
	for _, s := range segments {
		secs := int(s.Start.Round(time.Second) / time.Second)
		fmt.Fprintf(&b, "[%02d:%02d] %s\n", secs/60, secs%60, s.Text)
	}
	return b.String()
}
