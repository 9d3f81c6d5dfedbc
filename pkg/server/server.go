// Package server exposes the agent registry and activation manager over a
// JSON HTTP API: browsing and validating registered agents, inspecting
// the dependency graph, and driving the activation lifecycle remotely.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rosterhq/roster/pkg/activation"
	"github.com/rosterhq/roster/pkg/logger"
	"github.com/rosterhq/roster/pkg/recovery"
	"github.com/rosterhq/roster/pkg/registry"
	"github.com/rosterhq/roster/pkg/resolver"
	agenttypes "github.com/rosterhq/roster/pkg/types/agent"
)

// Server serves the roster HTTP API.
type Server struct {
	router   *mux.Router
	registry *registry.Registry
	resolver *resolver.Resolver
	manager  *activation.Manager
	config   *Config
	server   *http.Server
}

// Config holds the configuration for the API server
type Config struct {
	Host string
	Port int
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host: "localhost",
		Port: 8421,
	}
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	return nil
}

// New creates an API server over an initialized registry, resolver, and
// activation manager.
func New(config *Config, reg *registry.Registry, res *resolver.Resolver, mgr *activation.Manager) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if res == nil {
		return nil, errors.New("resolver is required")
	}
	if mgr == nil {
		return nil, errors.New("activation manager is required")
	}

	s := &Server{
		router:   mux.NewRouter(),
		registry: reg,
		resolver: res,
		manager:  mgr,
		config:   config,
	}

	s.setupRoutes()

	return s, nil
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}/resolution", s.handleGetResolution).Methods("GET")
	api.HandleFunc("/agents/{id}/activate", s.handleActivate).Methods("POST")
	api.HandleFunc("/agents/{id}/deactivate", s.handleDeactivate).Methods("POST")
	api.HandleFunc("/agents/{id}/touch", s.handleTouch).Methods("POST")
	api.HandleFunc("/graph", s.handleGetGraph).Methods("GET")
	api.HandleFunc("/load-order", s.handleGetLoadOrder).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeactivate).Methods("DELETE")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	// mux runs Use middleware only for matched routes; preflight
	// requests need a route to match so the CORS middleware can answer.
	s.router.Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	// Add middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// requestIDMiddleware assigns each request an id that travels with the
// request context logger and the response headers.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.WithLogger(r.Context(), logger.G(r.Context()).WithField("request_id", requestID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a custom response writer to capture status code
		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    duration,
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// API Handlers

// WebAgentSummary represents a registered agent in list responses
type WebAgentSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Role           string    `json:"role"`
	Source         string    `json:"source"`
	Valid          bool      `json:"valid"`
	FallbackParsed bool      `json:"fallbackParsed,omitempty"`
	Dependencies   int       `json:"dependencies"`
	RegisteredAt   time.Time `json:"registeredAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// WebAgentDetail represents a single agent response
type WebAgentDetail struct {
	WebAgentSummary
	Path              string              `json:"path,omitempty"`
	DependsOn         []string            `json:"dependsOn,omitempty"`
	DeclaredResources map[string][]string `json:"declaredResources,omitempty"`
	ValidationErrors  []string            `json:"validationErrors,omitempty"`
	Active            bool                `json:"active"`
}

// WebAgentListResponse is the list endpoint envelope
type WebAgentListResponse struct {
	Agents []WebAgentSummary `json:"agents"`
	Total  int               `json:"total"`
}

func agentSummary(rec *agenttypes.RegisteredAgent) WebAgentSummary {
	return WebAgentSummary{
		ID:             rec.Definition.ID,
		Name:           rec.Definition.Name,
		Description:    rec.Definition.Description,
		Role:           rec.Definition.Role,
		Source:         rec.Definition.Source.String(),
		Valid:          rec.Valid,
		FallbackParsed: rec.FallbackParsed,
		Dependencies:   rec.Definition.DependencyCount(),
		RegisteredAt:   rec.RegisteredAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// handleListAgents handles GET /api/agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var records []*agenttypes.RegisteredAgent
	switch {
	case query.Get("pack") != "":
		records = s.registry.ByPack(query.Get("pack"))
	case query.Get("source") == string(agenttypes.SourceCore):
		records = s.registry.BySource(agenttypes.SourceCore)
	case query.Get("source") == string(agenttypes.SourcePack):
		records = s.registry.BySource(agenttypes.SourcePack)
	default:
		records = s.registry.List()
	}

	response := &WebAgentListResponse{Agents: make([]WebAgentSummary, 0, len(records))}
	for _, rec := range records {
		response.Agents = append(response.Agents, agentSummary(rec))
	}
	response.Total = len(response.Agents)

	s.writeJSONResponse(w, response)
}

// handleGetAgent handles GET /api/agents/{id}
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, agenttypes.ErrAgentNotFound) {
			s.writeErrorResponse(w, http.StatusNotFound, "agent not found", err)
			return
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to get agent", err)
		return
	}

	_, active := s.manager.Get(id)
	detail := &WebAgentDetail{
		WebAgentSummary:   agentSummary(rec),
		Path:              rec.Definition.Path,
		DependsOn:         rec.Definition.DependsOn,
		DeclaredResources: rec.Definition.Dependencies,
		ValidationErrors:  rec.ValidationErrors,
		Active:            active,
	}

	s.writeJSONResponse(w, detail)
}

// handleGetResolution handles GET /api/agents/{id}/resolution
func (s *Server) handleGetResolution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	rec, err := s.registry.Get(id)
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, "agent not found", err)
		return
	}

	s.writeJSONResponse(w, s.resolver.Resolve(ctx, rec.Definition))
}

// ActivateRequest is the body of POST /api/agents/{id}/activate
type ActivateRequest struct {
	Context agenttypes.ActivationContext `json:"context,omitempty"`
}

// handleActivate handles POST /api/agents/{id}/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	var req ActivateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid activation request body", err)
			return
		}
	}

	result := s.manager.Activate(ctx, id, req.Context)

	// A missing instance means the activation was refused outright.
	if result.Instance == nil {
		status := http.StatusConflict
		if result.Report != nil && result.Report.Category == recovery.CategoryResourceExhausted {
			status = http.StatusTooManyRequests
		}
		s.writeJSONResponseStatus(w, status, result)
		return
	}

	s.writeJSONResponse(w, result)
}

// DeactivateResponse is the body of POST /api/agents/{id}/deactivate
type DeactivateResponse struct {
	AgentID     string `json:"agentId"`
	Deactivated bool   `json:"deactivated"`
}

// handleDeactivate handles POST /api/agents/{id}/deactivate and
// DELETE /api/sessions/{id}. Sessions are keyed by agent id.
func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	s.writeJSONResponse(w, &DeactivateResponse{
		AgentID:     id,
		Deactivated: s.manager.Deactivate(ctx, id),
	})
}

// TouchResponse is the body of POST /api/agents/{id}/touch
type TouchResponse struct {
	AgentID string `json:"agentId"`
	Touched bool   `json:"touched"`
}

// handleTouch handles POST /api/agents/{id}/touch
func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.writeJSONResponse(w, &TouchResponse{
		AgentID: id,
		Touched: s.manager.Touch(id),
	})
}

// handleGetGraph handles GET /api/graph
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, resolver.BuildGraph(s.registry.Definitions()))
}

// WebLoadOrderResponse is the load-order endpoint envelope
type WebLoadOrderResponse struct {
	Batches []resolver.LoadBatch `json:"batches"`
}

// handleGetLoadOrder handles GET /api/load-order
func (s *Server) handleGetLoadOrder(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, &WebLoadOrderResponse{
		Batches: resolver.OptimizeLoadOrder(s.registry.Definitions()),
	})
}

// WebSessionsResponse is the sessions endpoint envelope
type WebSessionsResponse struct {
	Sessions []*activation.Instance `json:"sessions"`
	Total    int                    `json:"total"`
}

// handleListSessions handles GET /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	active := s.manager.Active()
	s.writeJSONResponse(w, &WebSessionsResponse{
		Sessions: active,
		Total:    len(active),
	})
}

// WebStatsResponse is the stats endpoint envelope
type WebStatsResponse struct {
	Registry registry.Statistics   `json:"registry"`
	Sessions activation.Statistics `json:"sessions"`
}

// handleGetStats handles GET /api/stats
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, &WebStatsResponse{
		Registry: s.registry.Statistics(),
		Sessions: s.manager.Statistics(),
	})
}

// Utility methods

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSONResponseStatus writes a JSON response with an explicit status
func (s *Server) writeJSONResponseStatus(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start starts the API server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:    address,
		Handler: otelhttp.NewHandler(s.router, "roster-api"),
	}

	logger.G(ctx).WithField("address", address).Info("starting API server")

	// Start server in a goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("API server error")
		}
	}()

	// Wait for context cancellation
	<-ctx.Done()

	// Shutdown server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop stops the API server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Close shuts the server down and deactivates every agent session.
func (s *Server) Close() error {
	if s.manager != nil {
		if err := s.manager.Shutdown(context.Background()); err != nil {
			return errors.Wrap(err, "failed to shut down activation manager")
		}
	}
	return s.Stop()
}
