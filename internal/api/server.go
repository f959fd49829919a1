// Package api provides HTTP REST API functionality for the scan engine.
// It implements endpoints for scanning, discovery, host management, and system status.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/doublegate/prort-ip/docs/swagger" // Import generated swagger docs
	apihandlers "github.com/doublegate/prort-ip/internal/api/handlers"
	"github.com/doublegate/prort-ip/internal/api/middleware"
	"github.com/doublegate/prort-ip/internal/auth"
	"github.com/doublegate/prort-ip/internal/config"
	"github.com/doublegate/prort-ip/internal/db"
	"github.com/doublegate/prort-ip/internal/logging"
	"github.com/doublegate/prort-ip/internal/metrics"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	database   *db.DB
	logger     *slog.Logger
	metrics    *metrics.Registry
	handlers   *apihandlers.HandlerManager
	startTime  time.Time
}

// Config holds API server configuration.
type Config struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	EnableCORS        bool          `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins       []string      `yaml:"cors_origins" json:"cors_origins"`
	RateLimitEnabled  bool          `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RateLimitRequests int           `yaml:"rate_limit_requests" json:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" json:"rate_limit_window"`
	AuthEnabled       bool          `yaml:"auth_enabled" json:"auth_enabled"`
	APIKeys           []string      `yaml:"api_keys" json:"api_keys"`
}

// DefaultConfig returns default API server configuration.
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              8080,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		EnableCORS:        true,
		CORSOrigins:       []string{"*"},
		RateLimitEnabled:  true,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		AuthEnabled:       false,
		APIKeys:           []string{},
	}
}

// New creates a new API server instance.
func New(cfg *config.Config, database *db.DB) (*Server, error) {
	logger := logging.Default().With("component", "api")

	// Create metrics registry
	metricsManager := metrics.NewRegistry()

	// Create router
	router := mux.NewRouter()

	// Get API config from main config
	apiConfig := getAPIConfigFromConfig(cfg)

	server := &Server{
		router:    router,
		config:    cfg,
		database:  database,
		logger:    logger,
		metrics:   metricsManager,
		handlers:  apihandlers.New(database, logger, metricsManager, cfg),
		startTime: time.Now(),
	}

	// Setup routes
	server.setupRoutes()

	// A database-backed key validator lets Authentication look up keys
	// issued through the admin API in addition to the static config list;
	// without a database, auth falls back to the static list alone.
	var keyValidator middleware.APIKeyValidator
	if database != nil {
		keyValidator = auth.NewAPIKeyRepository(database)
	}

	// Setup middleware
	server.setupMiddleware(&apiConfig, keyValidator)

	// Create HTTP server
	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(apiConfig.Host, strconv.Itoa(apiConfig.Port)),
		Handler:        server.router,
		ReadTimeout:    apiConfig.ReadTimeout,
		WriteTimeout:   apiConfig.WriteTimeout,
		IdleTimeout:    apiConfig.IdleTimeout,
		MaxHeaderBytes: apiConfig.MaxHeaderBytes,
	}

	return server, nil
}

// Start starts the API server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// API version prefix
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Health and status endpoints
	api.HandleFunc("/liveness", s.livenessHandler).Methods("GET")
	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/version", s.versionHandler).Methods("GET")
	api.HandleFunc("/metrics", s.metricsHandler).Methods("GET")

	// Scan lifecycle endpoints
	api.HandleFunc("/scans", s.handlers.ListScans).Methods("GET")
	api.HandleFunc("/scans", s.handlers.CreateScan).Methods("POST")
	api.HandleFunc("/scans/{id}", s.handlers.GetScan).Methods("GET")
	api.HandleFunc("/scans/{id}", s.handlers.UpdateScan).Methods("PUT")
	api.HandleFunc("/scans/{id}", s.handlers.DeleteScan).Methods("DELETE")
	api.HandleFunc("/scans/{id}/results", s.handlers.GetScanResults).Methods("GET")
	api.HandleFunc("/scans/{id}/start", s.handlers.StartScan).Methods("POST")
	api.HandleFunc("/scans/{id}/stop", s.handlers.StopScan).Methods("POST")
	api.HandleFunc("/scans/ws", s.handlers.ScanWebSocket)

	// Host inventory endpoints
	api.HandleFunc("/hosts", s.handlers.ListHosts).Methods("GET")
	api.HandleFunc("/hosts", s.handlers.CreateHost).Methods("POST")
	api.HandleFunc("/hosts/{id}", s.handlers.GetHost).Methods("GET")
	api.HandleFunc("/hosts/{id}", s.handlers.UpdateHost).Methods("PUT")
	api.HandleFunc("/hosts/{id}", s.handlers.DeleteHost).Methods("DELETE")
	api.HandleFunc("/hosts/{id}/scans", s.handlers.GetHostScans).Methods("GET")

	// Discovery job endpoints
	api.HandleFunc("/discovery", s.handlers.ListDiscoveryJobs).Methods("GET")
	api.HandleFunc("/discovery", s.handlers.CreateDiscoveryJob).Methods("POST")
	api.HandleFunc("/discovery/{id}", s.handlers.GetDiscoveryJob).Methods("GET")
	api.HandleFunc("/discovery/{id}", s.handlers.UpdateDiscoveryJob).Methods("PUT")
	api.HandleFunc("/discovery/{id}", s.handlers.DeleteDiscoveryJob).Methods("DELETE")
	api.HandleFunc("/discovery/{id}/start", s.handlers.StartDiscovery).Methods("POST")
	api.HandleFunc("/discovery/{id}/stop", s.handlers.StopDiscovery).Methods("POST")
	api.HandleFunc("/discovery/ws", s.handlers.DiscoveryWebSocket)

	// Scan profile endpoints
	api.HandleFunc("/profiles", s.handlers.ListProfiles).Methods("GET")
	api.HandleFunc("/profiles", s.handlers.CreateProfile).Methods("POST")
	api.HandleFunc("/profiles/{id}", s.handlers.GetProfile).Methods("GET")
	api.HandleFunc("/profiles/{id}", s.handlers.UpdateProfile).Methods("PUT")
	api.HandleFunc("/profiles/{id}", s.handlers.DeleteProfile).Methods("DELETE")

	// Schedule endpoints
	api.HandleFunc("/schedules", s.handlers.ListSchedules).Methods("GET")
	api.HandleFunc("/schedules", s.handlers.CreateSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}", s.handlers.GetSchedule).Methods("GET")
	api.HandleFunc("/schedules/{id}", s.handlers.UpdateSchedule).Methods("PUT")
	api.HandleFunc("/schedules/{id}", s.handlers.DeleteSchedule).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/enable", s.handlers.EnableSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}/disable", s.handlers.DisableSchedule).Methods("POST")

	// Admin endpoints require the admin resource/wildcard permission when
	// the request authenticated against a database-backed key; static-list
	// keys and disabled auth pass straight through (see RequirePermission).
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequirePermission(auth.ResourceAdmin, auth.PermissionAdmin, s.logger))
	admin.HandleFunc("/status", s.adminStatusHandler).Methods("GET")
	admin.HandleFunc("/workers", s.handlers.GetWorkerStatus).Methods("GET")
	admin.HandleFunc("/workers/{id}/stop", s.handlers.StopWorker).Methods("POST")
	admin.HandleFunc("/config", s.handlers.GetConfig).Methods("GET")
	admin.HandleFunc("/config", s.handlers.UpdateConfig).Methods("PUT")
	admin.HandleFunc("/logs", s.handlers.GetLogs).Methods("GET")

	// Swagger documentation endpoints
	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))

	// Documentation aliases
	s.router.HandleFunc("/docs", s.redirectToSwagger).Methods("GET")
	s.router.HandleFunc("/docs/", s.redirectToSwagger).Methods("GET")
	s.router.HandleFunc("/api-docs", s.redirectToSwagger).Methods("GET")

	// Root redirect - send browsers to docs, API clients to health
	s.router.HandleFunc("/", s.redirectToAPI).Methods("GET")
}

// setupMiddleware configures middleware for the API server. validator is
// consulted by Authentication for keys the static config list doesn't cover;
// it is nil when the server was built without a database connection.
func (s *Server) setupMiddleware(apiConfig *Config, validator middleware.APIKeyValidator) {
	// Basic recovery middleware to prevent panics
	s.router.Use(s.recoveryMiddleware)

	// Basic logging middleware
	s.router.Use(s.loggingMiddleware)

	// Security headers on every response
	s.router.Use(middleware.SecurityHeaders())

	// CORS middleware
	if apiConfig.EnableCORS {
		corsOptions := handlers.AllowedOrigins(apiConfig.CORSOrigins)
		corsHeaders := handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-API-Key"})
		corsMethods := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
		s.router.Use(handlers.CORS(corsOptions, corsHeaders, corsMethods))
	}

	// API key authentication
	if apiConfig.AuthEnabled {
		s.router.Use(middleware.Authentication(apiConfig.APIKeys, validator, s.logger))
	}

	// Per-client request rate limiting
	if apiConfig.RateLimitEnabled {
		s.router.Use(middleware.RateLimit(apiConfig.RateLimitRequests, apiConfig.RateLimitWindow, s.logger))
	}

	// Content type validation
	s.router.Use(s.contentTypeMiddleware)
}

// redirectToAPI returns API information for root requests.
func (s *Server) redirectToAPI(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "ProRT-IP API",
		"version": "v1",
		"endpoints": map[string]string{
			"liveness": "/api/v1/liveness",
			"health":   "/api/v1/health",
			"status":   "/api/v1/status",
			"docs":     "/swagger/",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode API index response", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
}

// redirectToSwagger redirects to the Swagger UI.
func (s *Server) redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

// IsRunning checks if the server is running.
func (s *Server) IsRunning() bool {
	if s.httpServer == nil {
		return false
	}

	// Try to connect to the server
	conn, err := net.DialTimeout("tcp", s.httpServer.Addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// getAPIConfigFromConfig extracts API configuration from main config.
func getAPIConfigFromConfig(cfg *config.Config) Config {
	apiConfig := DefaultConfig()

	// Override with values from main config
	apiConfig.Host = cfg.API.Host
	apiConfig.Port = cfg.API.Port
	apiConfig.ReadTimeout = cfg.API.ReadTimeout
	apiConfig.WriteTimeout = cfg.API.WriteTimeout
	apiConfig.IdleTimeout = cfg.API.IdleTimeout
	apiConfig.MaxHeaderBytes = cfg.API.MaxHeaderBytes

	// Security settings
	apiConfig.EnableCORS = cfg.API.EnableCORS
	apiConfig.CORSOrigins = cfg.API.CORSOrigins
	apiConfig.AuthEnabled = cfg.API.AuthEnabled
	apiConfig.APIKeys = cfg.API.APIKeys

	// Rate limiting
	apiConfig.RateLimitEnabled = cfg.API.RateLimitEnabled
	apiConfig.RateLimitRequests = cfg.API.RateLimitRequests
	apiConfig.RateLimitWindow = cfg.API.RateLimitWindow

	return apiConfig
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeError writes a standardized error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Error("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err,
		"remote_addr", r.RemoteAddr)

	response := ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(r),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		s.logger.Error("Failed to encode error response", "error", encodeErr)
	}
}

// Basic handler implementations.

// livenessHandler provides a simple liveness check endpoint.
// livenessHandler godoc
// @Summary Liveness check
// @Description Returns simple liveness status without dependency checks
// @Tags System
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /liveness [get]
func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// healthHandler provides basic health check endpoint.
// healthHandler godoc
// @Summary Health check
// @Description Returns service health status
// @Tags System
// @Produce json
// @Success 200 {object} handlers.HealthResponse
// @Success 503 {object} handlers.HealthResponse
// @Router /health [get]
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)

	// Check database
	if s.database != nil {
		if err := s.database.Ping(ctx); err != nil {
			status = "unhealthy"
			checks["database"] = "failed: " + err.Error()
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	response := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	}

	statusCode := http.StatusOK
	if status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// statusHandler provides detailed status information.
// statusHandler godoc
// @Summary System status
// @Description Returns detailed system status
// @Tags System
// @Produce json
// @Success 200 {object} handlers.StatusResponse
// @Router /status [get]
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":   "prtip-api",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(time.Now()).String(), // Placeholder
		"version":   "0.2.0",
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// versionHandler provides version information.
// versionHandler godoc
// @Summary Version information
// @Description Returns version and build info
// @Tags System
// @Produce json
// @Success 200 {object} handlers.VersionResponse
// @Router /version [get]
func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"version":   "0.2.0",
		"timestamp": time.Now().UTC(),
		"service":   "prtip",
	}

	s.WriteJSON(w, r, http.StatusOK, response)
}

// metricsHandler provides Prometheus-style metrics.
// metricsHandler godoc
// @Summary Application metrics
// @Description Returns Prometheus metrics
// @Tags System
// @Produce text/plain
// @Success 200 {string} string
// @Failure 404 {object} handlers.ErrorResponse
// @Router /metrics [get]
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metricsData := s.metrics.GetMetrics()

	response := map[string]interface{}{
		"metrics":   metricsData,
		"timestamp": time.Now().UTC(),
	}

	s.WriteJSON(w, r, http.StatusOK, response)
}

// adminStatusHandler provides administrative status information.
// adminStatusHandler godoc
// @Summary Admin status
// @Description Returns admin status info
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} handlers.AdminStatusResponse
// @Failure 401 {object} handlers.ErrorResponse
// @Failure 403 {object} handlers.ErrorResponse
// @Router /admin/status [get]
func (s *Server) adminStatusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"admin_status": "active",
		"timestamp":    time.Now().UTC(),
		"server_info": map[string]interface{}{
			"address":       s.httpServer.Addr,
			"read_timeout":  s.httpServer.ReadTimeout,
			"write_timeout": s.httpServer.WriteTimeout,
		},
	}

	s.WriteJSON(w, r, http.StatusOK, response)
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
		// Don't try to write another error response here as headers are already sent
	}
}

// getRequestID extracts or generates a request ID.
func getRequestID(r *http.Request) string {
	// Try to get request ID from header first
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	// Generate a simple request ID
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// Middleware functions.

// recoveryMiddleware recovers from panics and returns a 500 error. It
// delegates to middleware.Recovery so the API server and any other consumer
// of the middleware package share one panic-handling implementation.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return middleware.Recovery(s.logger)(next)
}

// loggingMiddleware logs HTTP requests and records their metrics, delegating
// to middleware.Logging and middleware.Metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return middleware.Logging(s.logger)(middleware.Metrics(s.metrics)(next))
}

// contentTypeMiddleware validates content type for POST/PUT requests.
func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return middleware.ContentType()(next)
}

// ParseJSON parses JSON request body into the provided struct.
func (s *Server) ParseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}

// GetQueryParam gets a query parameter with optional default value.
func (s *Server) GetQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// GetQueryParamInt gets an integer query parameter with optional default value.
func (s *Server) GetQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	if value := r.URL.Query().Get(key); value != "" {
		return strconv.Atoi(value)
	}
	return defaultValue, nil
}

// GetQueryParamBool gets a boolean query parameter with optional default value.
func (s *Server) GetQueryParamBool(r *http.Request, key string, defaultValue bool) bool {
	if value := r.URL.Query().Get(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ValidateRequest performs basic request validation.
func (s *Server) ValidateRequest(r *http.Request) error {
	// Check content type for POST/PUT requests
	if r.Method == "POST" || r.Method == "PUT" {
		contentType := r.Header.Get("Content-Type")
		if contentType != "application/json" {
			return fmt.Errorf("content-type must be application/json, got: %s", contentType)
		}
	}

	return nil
}

// PaginationParams represents pagination parameters.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"offset"`
}

// GetPaginationParams extracts pagination parameters from request.
func (s *Server) GetPaginationParams(r *http.Request) PaginationParams {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	page, err := s.GetQueryParamInt(r, "page", defaultPage)
	if err != nil || page < 1 {
		page = defaultPage
	}

	pageSize, err := s.GetQueryParamInt(r, "page_size", defaultPageSize)
	if err != nil || pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	offset := (page - 1) * pageSize

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   offset,
	}
}

// PaginatedResponse represents a paginated API response.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalItems int64 `json:"total_items"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}

// WritePaginatedResponse writes a paginated response.
func (s *Server) WritePaginatedResponse(
	w http.ResponseWriter,
	r *http.Request,
	data interface{},
	params PaginationParams,
	totalItems int64,
) {
	totalPages := int((totalItems + int64(params.PageSize) - 1) / int64(params.PageSize))

	response := PaginatedResponse{
		Data: data,
	}
	response.Pagination.Page = params.Page
	response.Pagination.PageSize = params.PageSize
	response.Pagination.TotalItems = totalItems
	response.Pagination.TotalPages = totalPages

	s.WriteJSON(w, r, http.StatusOK, response)
}
