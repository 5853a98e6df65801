package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/tubechat/internal/llm"
	"github.com/jkaninda/tubechat/internal/video"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics, tracing, and anomaly detection.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider := p.inner.Name()

	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "llm.send_message",
			trace.WithAttributes(
				AttrProvider.String(provider),
				attribute.Int("llm.messages", len(req.Messages)),
				AttrContextItems.Int(len(req.Context)),
			))
		defer span.End()
	}

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		recordSpanError(ctx, p.tracer, err)
	}

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	p.anomaly.record("llm_request", err)
	return resp, err
}

// Ping forwards to the wrapped provider when it supports probing.
func (p *InstrumentedProvider) Ping(ctx context.Context) error {
	return llm.Ping(ctx, p.inner)
}

// --- InstrumentedFetcher ---

// InstrumentedFetcher wraps a video.Fetcher with metrics, tracing, and anomaly detection.
type InstrumentedFetcher struct {
	inner   video.Fetcher
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedFetcher wraps a video fetcher with observability.
func NewInstrumentedFetcher(inner video.Fetcher, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedFetcher {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedFetcher{inner: inner, metrics: metrics, tracer: tracer, anomaly: anomaly}
}

func (f *InstrumentedFetcher) GetVideo(ctx context.Context, url string) (*video.Fetched, error) {
	if f.tracer != nil {
		var span trace.Span
		ctx, span = f.tracer.Start(ctx, "video.fetch",
			trace.WithAttributes(AttrVideoURL.String(url)))
		defer span.End()
	}

	start := time.Now()
	fetched, err := f.inner.GetVideo(ctx, url)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		recordSpanError(ctx, f.tracer, err)
	}
	if f.metrics != nil {
		f.metrics.VideoFetchesTotal.WithLabelValues(status).Inc()
		f.metrics.VideoFetchDuration.Observe(duration)
	}
	f.anomaly.record("video_fetch", err)
	return fetched, err
}

// Ping forwards to the wrapped fetcher when it supports probing.
func (f *InstrumentedFetcher) Ping(ctx context.Context) error {
	if p, ok := f.inner.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// --- InstrumentedSummarizer ---

// InstrumentedSummarizer wraps a video.Summarizer with metrics and tracing.
type InstrumentedSummarizer struct {
	inner   video.Summarizer
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedSummarizer wraps a summarizer with observability.
func NewInstrumentedSummarizer(inner video.Summarizer, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSummarizer {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSummarizer{inner: inner, metrics: metrics, tracer: tracer, anomaly: anomaly}
}

func (s *InstrumentedSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "video.summarize",
			trace.WithAttributes(attribute.Int("transcript.bytes", len(transcript))))
		defer span.End()
	}

	start := time.Now()
	summary, err := s.inner.Summarize(ctx, transcript)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		recordSpanError(ctx, s.tracer, err)
	}
	if s.metrics != nil {
		s.metrics.SummariesTotal.WithLabelValues(status).Inc()
		s.metrics.SummarizeDuration.Observe(duration)
	}
	s.anomaly.record("summarize", err)
	return summary, err
}

func recordSpanError(ctx context.Context, tracer trace.Tracer, err error) {
	if tracer == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// --- Compile-time interface checks ---

var (
	_ llm.Provider     = (*InstrumentedProvider)(nil)
	_ video.Fetcher    = (*InstrumentedFetcher)(nil)
	_ video.Summarizer = (*InstrumentedSummarizer)(nil)
)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
