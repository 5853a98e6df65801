package video

import (
	"context"
	"sync/atomic"
	"time"
)

// MockFetcher returns a canned video for any parsable URL. It counts calls so
// tests can assert that deduplication avoided a refetch.
type MockFetcher struct {
	calls atomic.Int64
}

func (m *MockFetcher) GetVideo(_ context.Context, url string) (*Fetched, error) {
	m.calls.Add(1)
	if _, err := ExtractID(url); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return &Fetched{
		URL:         url,
		Transcript:  "this is a transcript",
		Title:       "mock video",
		Author:      "mock author",
		PublishedAt: time.Now().UTC().Truncate(24 * time.Hour),
		Duration:    "PT1M5S",
	}, nil
}

// Calls reports how many times GetVideo ran.
func (m *MockFetcher) Calls() int64 { return m.calls.Load() }

// MockSummary is returned by MockSummarizer.
const MockSummary = "Here is a MOCK summary of the key points and main takeaways from the video transcript."

// MockSummarizer returns MockSummary without calling a model.
type MockSummarizer struct{}

func (MockSummarizer) Summarize(context.Context, string) (string, error) {
	return MockSummary, nil
}
