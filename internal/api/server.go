// Package api exposes the HTTP surface: knowledge base registry, upload
// links, ingestion jobs, guardrails, agent composition, and query
// answering. Handlers depend on narrow interfaces so the stores behind
// them stay swappable in tests.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains everything needed to assemble the API server.
type ServerConfig struct {
	Logger      *slog.Logger
	KBs         KBStore         // Required
	Uploads     Uploader        // Required
	Jobs        JobStore        // Required
	Runner      JobRunner       // Required
	Guardrails  GuardrailStore  // Required
	Agents      AgentStore      // Required
	Ask         AskService      // Required
	Pool        *pgxpool.Pool   // Optional: nil disables pool stats in /ready
	CORSOrigins []string        // Allowed origins for CORS
	TrustProxy  bool            // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int             // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	switch {
	case cfg.KBs == nil:
		return nil, errors.New("knowledge base store is required")
	case cfg.Uploads == nil:
		return nil, errors.New("uploader is required")
	case cfg.Jobs == nil || cfg.Runner == nil:
		return nil, errors.New("job store and runner are required")
	case cfg.Guardrails == nil:
		return nil, errors.New("guardrail store is required")
	case cfg.Agents == nil:
		return nil, errors.New("agent store is required")
	case cfg.Ask == nil:
		return nil, errors.New("ask service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kbh := &kbHandler{kbs: cfg.KBs, logger: logger}
	ch := &connectorHandler{uploads: cfg.Uploads, kbs: cfg.KBs, logger: logger}
	jh := &jobHandler{jobs: cfg.Jobs, runner: cfg.Runner, kbs: cfg.KBs, logger: logger}
	gh := &guardrailHandler{rails: cfg.Guardrails, kbs: cfg.KBs, logger: logger}
	ah := &agentHandler{agents: cfg.Agents, rails: cfg.Guardrails, logger: logger}
	qh := &askHandler{svc: cfg.Ask, logger: logger}

	mux := http.NewServeMux()

	// Knowledge base registry
	mux.HandleFunc("POST /knowledge-base/", kbh.create)
	mux.HandleFunc("GET /knowledge-base/", kbh.list)
	mux.HandleFunc("GET /knowledge-base/{kb}", kbh.get)

	// Local connector: signed upload links and their PUT target
	mux.HandleFunc("GET /connectors/local/s3-upload-links", ch.signLinks)
	mux.HandleFunc("PUT /connectors/local/upload/{kb}/{fileName}", ch.upload)

	// Two-phase ingestion jobs
	mux.HandleFunc("POST /knowledge-base/{kb}/jobs", jh.create)
	mux.HandleFunc("GET /knowledge-base/{kb}/jobs", jh.list)
	mux.HandleFunc("PUT /knowledge-base/{kb}/jobs/{jobId}", jh.populate)
	mux.HandleFunc("POST /knowledge-base/{kb}/jobs/{jobId}/trigger", jh.trigger)
	mux.HandleFunc("GET /knowledge-base/{kb}/jobs/{jobId}", jh.get)

	// Guardrails
	mux.HandleFunc("POST /users/guard-rails", gh.create)
	mux.HandleFunc("GET /users/guard-rails", gh.list)
	mux.HandleFunc("GET /users/guard-rails/{id}", gh.get)

	// Agent composition
	mux.HandleFunc("POST /users/agents", ah.createAgent)
	mux.HandleFunc("GET /users/agents", ah.listAgents)
	mux.HandleFunc("GET /users/agents/{agentId}", ah.getAgent)
	mux.HandleFunc("PATCH /users/agents/{agentId}", ah.patchAgent)
	mux.HandleFunc("POST /users/agents/execution-layers", ah.createLayer)
	mux.HandleFunc("GET /users/agents/execution-layers", ah.listLayers)
	mux.HandleFunc("GET /users/agents/execution-layers/{layerId}", ah.getLayer)
	mux.HandleFunc("POST /ask/templates", ah.createTemplate)
	mux.HandleFunc("GET /ask/templates", ah.listTemplates)

	// Query answering
	mux.HandleFunc("POST /ask/query", qh.query)
	mux.HandleFunc("POST /ask/agents/{agentId}/query", qh.agentQuery)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Routes
	// RequestID precedes Logging so request_id is available in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
