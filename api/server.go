package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/synapselabs/partnermatch/core"
	"github.com/synapselabs/partnermatch/core/ranking"
	"github.com/synapselabs/partnermatch/metrics"
)

// Server represents the REST API server
type Server struct {
	engine     *ranking.Engine
	store      core.FeatureStore
	registry   core.ModelRegistry
	health     *core.HealthReporter
	metrics    *metrics.Manager
	router     *mux.Router
	httpServer *http.Server
	config     ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewServer creates a new API server
func NewServer(engine *ranking.Engine, store core.FeatureStore, registry core.ModelRegistry, health *core.HealthReporter, m *metrics.Manager, config ServerConfig) *Server {
	s := &Server{
		engine:   engine,
		store:    store,
		registry: registry,
		health:   health,
		metrics:  m,
		config:   config,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(jsonContentTypeMiddleware)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Recommendation endpoints
	s.router.HandleFunc("/recommend", s.handleRecommend).Methods("POST")
	s.router.HandleFunc("/recommend/batch", s.handleBatchRecommend).Methods("POST")
	s.router.HandleFunc("/explain/{company_id}/{candidate_id}", s.handleExplain).Methods("GET")

	// Model registry endpoints
	s.router.HandleFunc("/model/status", s.handleModelStatus).Methods("GET")
	s.router.HandleFunc("/model/versions", s.handleRegisterModel).Methods("POST")
	s.router.HandleFunc("/model/versions", s.handleListModels).Methods("GET")
	s.router.HandleFunc("/model/activate", s.handleActivateModel).Methods("POST")

	// Feature view endpoints
	s.router.HandleFunc("/views", s.handleCreateView).Methods("POST")
	s.router.HandleFunc("/views/{view}/features", s.handleWriteFeatures).Methods("POST")
	s.router.HandleFunc("/views/{view}/features/online", s.handleOnlineFeatures).Methods("POST")
	s.router.HandleFunc("/views/{view}/features/history", s.handleHistoricalFeatures).Methods("POST")
	s.router.HandleFunc("/views/{view}/stats", s.handleViewStats).Methods("GET")
	s.router.HandleFunc("/views/{view}/companies", s.handleListCompanies).Methods("GET")

	// Prometheus metrics
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	fmt.Printf("Starting partnermatch API server on %s\n", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware functions
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		fmt.Printf("[%s] %s %s %d %v\n", time.Now().Format("2006-01-02 15:04:05"), r.Method, r.URL.Path, rec.status, elapsed)
		if s.metrics != nil {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			s.metrics.ObserveHTTPRequest(r.Method, path, rec.status, elapsed)
		}
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Error response helper
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithDomainError maps a classified error to its HTTP status.
func (s *Server) respondWithDomainError(w http.ResponseWriter, err error) {
	var code int
	switch core.Classify(err) {
	case core.KindClient:
		code = http.StatusBadRequest
	case core.KindNotFound:
		code = http.StatusNotFound
	case core.KindConflict:
		code = http.StatusConflict
	case core.KindTransient:
		code = http.StatusServiceUnavailable
	default:
		code = http.StatusInternalServerError
	}
	s.respondWithError(w, code, err.Error())
}

// JSON response helper
func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Error marshaling JSON"}`))
		return
	}

	w.WriteHeader(code)
	w.Write(response)
}
