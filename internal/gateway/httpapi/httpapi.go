// Package httpapi implements the REST API for workspaces, videos and chat.
//
// Security:
//   - Optional API key authentication (constant-time comparison); disabled when no keys are configured
//   - Request body size limits (default 1 MB)
//   - Per-client rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/tubechat/internal/domain"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/ratelimit"
	"github.com/jkaninda/tubechat/internal/video"
	"github.com/jkaninda/tubechat/internal/workspace"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response.
type ErrorBody struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Accepted bearer keys. Empty = authentication disabled.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.
	SSEEnabled     bool

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz and /api/v1/health.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	svc     *workspace.Service
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	// Extra handlers mounted on the HTTP mux (e.g., the WebSocket chat endpoint).
	extraRoutes []extraRoute

	okapi *okapi.Okapi
	group *okapi.Group
}

// extraRoute stores an additional handler to be mounted on the HTTP mux.
type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway. rl may be nil.
func NewGateway(cfg Config, svc *workspace.Service, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		svc:     svc,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(cfg.MaxRequestSize)),
	}
}

// WithOpenAPIDocs serves the generated OpenAPI document.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "TubeChat",
			Version: "v0.1.0",
		},
	)
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given pattern.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// mount registers every route. Called once by Start.
func (g *Gateway) mount() {
	limit := g.config.MaxRequestSize
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	})

	middlewares := []okapi.Middleware{g.authenticate, g.rateLimit}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append([]okapi.Middleware{observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer)}, middlewares...)
	}
	g.group = g.okapi.Group("/api/v1", middlewares...)

	// Users.
	g.group.Post("/users", g.handleCreateUser,
		okapi.DocSummary("Create a user"),
		okapi.DocTags("Users"),
		okapi.DocResponse(http.StatusCreated, domain.User{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)
	g.group.Get("/users/{id}", g.handleGetUser,
		okapi.DocSummary("Get a user by ID"),
		okapi.DocTags("Users"),
		okapi.DocPathParam("id", "string", "User ID (UUID)"),
		okapi.DocResponse(domain.User{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/users/{id}/workspaces", g.handleListWorkspaces,
		okapi.DocSummary("List a user's workspaces"),
		okapi.DocTags("Users"),
		okapi.DocPathParam("id", "string", "User ID (UUID)"),
		okapi.DocResponse([]domain.Workspace{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Workspaces.
	g.group.Post("/workspaces", g.handleCreateWorkspace,
		okapi.DocSummary("Create a workspace"),
		okapi.DocTags("Workspaces"),
		okapi.DocRequestBody(CreateWorkspaceRequest{}),
		okapi.DocResponse(http.StatusCreated, domain.Workspace{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/workspaces/{id}", g.handleGetWorkspace,
		okapi.DocSummary("Get a workspace by ID"),
		okapi.DocTags("Workspaces"),
		okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
		okapi.DocResponse(domain.Workspace{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/workspaces/{id}", g.handleDeleteWorkspace,
		okapi.DocSummary("Delete a workspace and its history"),
		okapi.DocTags("Workspaces"),
		okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Videos.
	g.group.Post("/workspaces/{id}/videos", g.handleAddVideo,
		okapi.DocSummary("Add a YouTube video to a workspace"),
		okapi.DocTags("Videos"),
		okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
		okapi.DocRequestBody(AddVideoRequest{}),
		okapi.DocResponse(http.StatusCreated, domain.Video{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		okapi.DocResponse(http.StatusBadGateway, ErrorBody{}),
	)
	g.group.Get("/workspaces/{id}/videos", g.handleListVideos,
		okapi.DocSummary("List the videos of a workspace"),
		okapi.DocTags("Videos"),
		okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
		okapi.DocResponse([]domain.WorkspaceVideo{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Chat.
	g.group.Post("/workspaces/{id}/messages", g.handleSendMessage,
		okapi.DocSummary("Send a chat message and wait for the answer"),
		okapi.DocTags("Chat"),
		okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
		okapi.DocRequestBody(SendMessageRequest{}),
		okapi.DocResponse(SendMessageResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/workspaces/{id}/messages", g.handleGetMessages,
		okapi.DocSummary("Page through a workspace's chat history"),
		okapi.DocTags("Chat"),
		okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
		okapi.DocResponse(workspace.MessagePage{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	if g.config.SSEEnabled {
		g.group.Post("/workspaces/{id}/messages/stream", g.handleSendMessageStream,
			okapi.DocSummary("Send a chat message and stream agent events via SSE"),
			okapi.DocTags("Chat"),
			okapi.DocPathParam("id", "string", "Workspace ID (UUID)"),
			okapi.DocRequestBody(SendMessageRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	g.group.Get("/health", g.handleHealth,
		okapi.DocSummary("Per-dependency health"),
		okapi.DocTags("Health"),
		okapi.DocResponse(observability.HealthStatus{}),
		okapi.DocResponse(http.StatusServiceUnavailable, observability.HealthStatus{}),
	)

	// Extra handlers (e.g., WebSocket chat endpoint).
	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.mount()

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Chat turns with several tool calls routinely run past a minute.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting",
		slog.String("addr", g.config.ListenAddr),
		slog.Bool("auth", len(g.config.APIKeys) > 0),
		slog.Bool("sse", g.config.SSEEnabled),
	)
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(_ context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Health ---

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness returns 503 only when a critical dependency is down; a
// degraded service still accepts traffic.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	return g.reportHealth(c, observability.StatusUnavailable)
}

// handleHealth reports every dependency check behind auth and returns 503
// for any failed dependency.
func (g *Gateway) handleHealth(c *okapi.Context) error {
	return g.reportHealth(c, observability.StatusDegraded, observability.StatusUnavailable)
}

func (g *Gateway) reportHealth(c *okapi.Context, failing ...string) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: observability.StatusOK})
	}
	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if slices.Contains(failing, status.Status) {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication and rate limiting ---

// authenticate validates the bearer API key when keys are configured and
// records the client identity used for rate limiting.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientID", "ip:"+remoteIP(c.Request()))
			return next(c)
		}

		apiKey := ""
		if authHeader := c.Header("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			apiKey = strings.TrimPrefix(authHeader, "Bearer ")
		} else {
			apiKey = c.Header("X-API-Key")
		}
		if apiKey == "" {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientID", "key:"+keyFingerprint(apiKey))
		return next(c)
	}
}

func (g *Gateway) rateLimit(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if g.limiter.Unlimited() {
			return next(c)
		}
		client := c.GetString("clientID")
		if err := g.limiter.Allow(client); err != nil {
			retry := int(math.Ceil(g.limiter.RetryAfter(client).Seconds()))
			g.logger.Warn("rate limited", slog.String("client", client))
			return c.JSON(http.StatusTooManyRequests, ErrorBody{Error: err.Error(), RetryAfterSeconds: retry})
		}
		return next(c)
	}
}

// --- Helpers ---

// respondError maps service errors onto HTTP status codes.
func (g *Gateway) respondError(c *okapi.Context, correlationID string, err error) error {
	var fetchErr *video.FetchError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "not found"})
	case errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, workspace.ErrInvalidCursor),
		errors.Is(err, video.ErrVideoIDUnparsable):
		return c.JSON(http.StatusBadRequest, ErrorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrVideoAlreadyInWorkspace),
		errors.Is(err, domain.ErrAlreadyExists):
		return c.JSON(http.StatusConflict, ErrorBody{Error: err.Error()})
	case errors.Is(err, video.ErrTranscriptsDisabled),
		errors.Is(err, video.ErrNoTranscriptFound):
		return c.JSON(http.StatusUnprocessableEntity, ErrorBody{Error: err.Error()})
	case errors.As(err, &fetchErr):
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: err.Error()})
	}

	g.logger.Error("request failed",
		slog.String("correlation_id", correlationID),
		slog.String("error", err.Error()),
	)
	return c.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal error"})
}

// pathID parses the {id} path parameter.
func pathID(c *okapi.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	return id, err == nil
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// keyFingerprint identifies an API key in limiter state and logs without
// exposing it.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
