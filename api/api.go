// Package api is the thin HTTP adapter over the orchestrator. It holds
// no kernel logic: every handler validates input, calls one orchestrator
// operation, and shapes the response.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/orchestrator"
)

// Server wires the HTTP surface to an orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	logger  *zap.Logger
	metrics *metrics.Collector
	limiter *rate.Limiter
	events  *eventHub
}

// ServerOption configures the API server.
type ServerOption func(*Server)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches the prometheus collector.
func WithMetrics(collector *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = collector }
}

// WithRateLimit admits at most rps requests per second with the given
// burst. Zero rps disables limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// NewServer creates the API server and subscribes it to runtime events.
func NewServer(orch *orchestrator.Orchestrator, opts ...ServerOption) *Server {
	s := &Server{
		orch:   orch,
		logger: zap.NewNop(),
		events: newEventHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "api"))
	orch.SetEventHook(s.events.publish)
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/agents/spawn", s.handleSpawnAgent)
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /v1/agents/stats", s.handleStats)
	mux.HandleFunc("GET /v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("DELETE /v1/agents/{id}", s.handleTerminateAgent)

	mux.HandleFunc("POST /v1/tasks/submit", s.handleSubmitTask)
	mux.HandleFunc("POST /v1/tasks/workflow", s.handleSubmitWorkflow)
	mux.HandleFunc("GET /v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("DELETE /v1/tasks/{id}", s.handleCancelTask)

	mux.HandleFunc("POST /v1/knowledge", s.handlePutKnowledge)
	mux.HandleFunc("GET /v1/knowledge/query", s.handleQueryKnowledge)
	mux.HandleFunc("GET /v1/knowledge/{key}", s.handleGetKnowledge)

	mux.HandleFunc("POST /v1/messages/send", s.handleSendMessage)
	mux.HandleFunc("POST /v1/messages/broadcast", s.handleBroadcastMessage)
	mux.HandleFunc("GET /v1/messages/{agent_id}", s.handleReceiveMessages)

	mux.HandleFunc("POST /v1/consensus/vote/create", s.handleCreateVote)
	mux.HandleFunc("POST /v1/consensus/vote/{vid}/cast", s.handleCastVote)
	mux.HandleFunc("GET /v1/consensus/vote/{vid}", s.handleGetVote)

	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.middleware(mux)
}

// middleware applies rate limiting to every route, and logging and
// metrics to every route except /v1/events.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if r.URL.Path == "/v1/events" {
			// The websocket upgrade needs the raw ResponseWriter.
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(r.Method, r.URL.Path, recorder.status, duration)
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("duration", duration))
	})
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

// Unwrap lets http.ResponseController reach the hijacker underneath,
// which the websocket upgrade needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.written {
		r.status = status
		r.written = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON emits a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError emits a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
