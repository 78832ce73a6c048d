// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tuning-platform/internal/logging"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/service"
	"github.com/tuning-platform/internal/types"
	"github.com/tuning-platform/internal/vault"
)

// FileServiceInterface defines the file-service operations the handlers need.
type FileServiceInterface interface {
	SubmitDecode(ctx context.Context, tenantID, filePath string, vendor types.Vendor, meta service.JobMeta) (string, error)
	SubmitEncode(ctx context.Context, jobID, modifiedFilePath string) error
	SelectScripts(ctx context.Context, jobID string, labels []string) error
	GetStatus(ctx context.Context, jobID string) (*service.State, error)
	MarkDelivered(ctx context.Context, jobID string) error
	FinalFilePath(ctx context.Context, jobID string) (string, error)
	CaptureScript(ctx context.Context, in service.CaptureScriptInput) (string, error)
	ReplayScript(ctx context.Context, scriptID string, base []byte) ([]byte, error)
	ListScripts(ctx context.Context, tenantID, car, controller string) ([]*models.Script, error)
	CloseRequest(ctx context.Context, requestID string) error
	ReopenOnMessage(ctx context.Context, requestID, message string) error
}

// CredentialStoreInterface defines the vault operations the handlers need.
type CredentialStoreInterface interface {
	Put(ctx context.Context, tenantID string, vendor types.Vendor, fields vault.Fields) error
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	fileService FileServiceInterface
	credentials CredentialStoreInterface
	config      *ServerConfig
	logger      *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	StandardTierRPS int
	ProTierRPS      int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, fileService FileServiceInterface, credentials CredentialStoreInterface, logger *logging.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		fileService: fileService,
		credentials: credentials,
		config:      config,
		logger:      logger.WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.StandardTierRPS, s.config.ProTierRPS)

	// Middleware order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Job endpoints
	api.HandleFunc("/jobs", s.handleSubmitDecode).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/jobs/{id}/scripts", s.handleSelectScripts).Methods("POST")
	api.HandleFunc("/jobs/{id}/encode", s.handleSubmitEncode).Methods("POST")
	api.HandleFunc("/jobs/{id}/file", s.handleDownloadFinal).Methods("GET")
	api.HandleFunc("/jobs/{id}/delivered", s.handleMarkDelivered).Methods("POST")

	// Script endpoints
	api.HandleFunc("/scripts", s.handleCaptureScript).Methods("POST")
	api.HandleFunc("/scripts", s.handleListScripts).Methods("GET")
	api.HandleFunc("/scripts/{id}/replay", s.handleReplayScript).Methods("POST")

	// Request lifecycle endpoints
	api.HandleFunc("/requests/{id}/close", s.handleCloseRequest).Methods("POST")
	api.HandleFunc("/requests/{id}/messages", s.handleRequestMessage).Methods("POST")

	// Credential endpoints
	api.HandleFunc("/credentials", s.handlePutCredentials).Methods("PUT")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "tuning-platform",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
