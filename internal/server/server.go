// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/connection"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/internal/notification"
	"github.com/smartdevs17/rollover-caller/internal/scheduler"
	"github.com/smartdevs17/rollover-caller/internal/storage"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// RolloverScheduler is the part of the scheduler the API drives
type RolloverScheduler interface {
	Trigger(trigger models.Trigger) error
	Status() scheduler.Status
}

// ConnectionStatus reports the state of the node connection
type ConnectionStatus interface {
	IsConnected() bool
	Stats() connection.ConnectionStats
}

// Dependencies are the components the API reports on. Storage, Notification
// and Metrics may be nil.
type Dependencies struct {
	Scheduler    RolloverScheduler
	Connection   ConnectionStatus
	Storage      storage.Storage
	Notification *notification.Manager
	Metrics      *metrics.Manager
}

// HTTPServer represents the HTTP server
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	scheduler      RolloverScheduler
	connection     ConnectionStatus
	storage        storage.Storage
	notification   *notification.Manager
	metricsManager *metrics.Manager
	logger         *logrus.Entry
	stopCh         chan struct{}
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(config *ServerConfig, deps Dependencies) (*HTTPServer, error) {
	if deps.Scheduler == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server requires a scheduler")
	}
	if deps.Connection == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "HTTP server requires a connection")
	}

	server := &HTTPServer{
		config:         config,
		scheduler:      deps.Scheduler,
		connection:     deps.Connection,
		storage:        deps.Storage,
		notification:   deps.Notification,
		metricsManager: deps.Metrics,
		logger:         utils.ComponentLogger("server"),
		stopCh:         make(chan struct{}),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server, nil
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowedHandler)
	api.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowedHandler)

	if s.config.EnableHealth {
		api.HandleFunc("/health", s.healthHandler).Methods("GET")
		api.HandleFunc("/health/detailed", s.detailedHealthHandler).Methods("GET")
	}

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}
	api.HandleFunc("/stats", s.statsHandler).Methods("GET")

	// Attempt history
	api.HandleFunc("/attempts", s.listAttemptsHandler).Methods("GET")
	api.HandleFunc("/attempts/{id}", s.getAttemptHandler).Methods("GET")

	// Manual trigger
	api.HandleFunc("/rollover", s.triggerRolloverHandler).Methods("POST")

	api.HandleFunc("/schedule", s.scheduleHandler).Methods("GET")
}

// methodNotAllowedHandler answers a known path requested with the wrong method
func (s *HTTPServer) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), nil)
}

// Handler returns the root handler
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.updateComponentMetrics()
		go s.systemMetricsUpdater()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
			errChan <- err
		}
	}()

	// Give the server a moment to report binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start HTTP server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateComponentMetrics()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HTTPServer) updateComponentMetrics() {
	s.metricsManager.UpdateSystemMetrics()
	pm := s.metricsManager.GetPrometheusMetrics()

	pm.UpdateComponentHealth("connection", s.connection.IsConnected())
	pm.UpdateComponentHealth("scheduler", s.scheduler.Status().Running)
	if s.storage != nil {
		pm.UpdateComponentHealth("storage", s.storage.Ping() == nil)
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")
	close(s.stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// detailedHealthHandler reports every component; any unhealthy one makes the
// service degraded
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := true

	connStats := s.connection.Stats()
	if !s.connection.IsConnected() || !connStats.IsHealthy {
		healthy = false
	}

	schedStatus := s.scheduler.Status()
	if !schedStatus.Running {
		healthy = false
	}

	storageHealth := map[string]interface{}{"enabled": s.storage != nil}
	if s.storage != nil {
		if err := s.storage.Ping(); err != nil {
			healthy = false
			storageHealth["healthy"] = false
			storageHealth["error"] = err.Error()
		} else {
			storageHealth["healthy"] = true
		}
	}

	components := map[string]interface{}{
		"connection": connStats,
		"scheduler":  schedStatus,
		"storage":    storageHealth,
	}
	if s.notification != nil {
		components["notification"] = map[string]interface{}{
			"channels": s.notification.Channels(),
			"stats":    s.notification.GetStats(),
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"timestamp":  time.Now().UTC(),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"scheduler":       s.scheduler.Status(),
		"connection":      s.connection.Stats(),
		"metrics_enabled": s.config.EnableMetrics,
	}

	if s.storage != nil {
		attemptStats, err := s.storage.GetStats(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to retrieve attempt stats", err)
			return
		}
		stats["attempts"] = attemptStats
	}
	if s.notification != nil {
		stats["notification"] = s.notification.GetStats()
	}
	if s.metricsManager != nil {
		stats["uptime_seconds"] = int64(s.metricsManager.Uptime().Seconds())
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// scheduleHandler returns the scheduler state
func (s *HTTPServer) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

// Attempt Handlers

// listAttemptsHandler lists recent attempts, newest first
func (s *HTTPServer) listAttemptsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Attempt history is disabled", nil)
		return
	}

	filter, err := parseAttemptFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	attempts, err := s.storage.GetAttempts(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve attempts", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"attempts": attempts,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
		"total":    len(attempts),
	})
}

func parseAttemptFilter(r *http.Request) (models.AttemptFilter, error) {
	q := r.URL.Query()
	filter := models.AttemptFilter{Limit: defaultPageSize}

	if v := q.Get("status"); v != "" {
		status := models.AttemptStatus(strings.ToLower(v))
		switch status {
		case models.AttemptStatusSuccess, models.AttemptStatusFailed, models.AttemptStatusPending:
		default:
			return filter, fmt.Errorf("unknown status %q", v)
		}
		filter.Status = &status
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("since must be RFC3339: %w", err)
		}
		filter.Since = &since
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = min(limit, maxPageSize)
	}

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter, nil
}

// getAttemptHandler gets a single attempt by id
func (s *HTTPServer) getAttemptHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Attempt history is disabled", nil)
		return
	}

	id := mux.Vars(r)["id"]

	attempt, err := s.storage.GetAttempt(r.Context(), id)
	if err != nil {
		if utils.ErrorCode(err) == utils.ErrCodeNotFound {
			s.writeError(w, http.StatusNotFound, "Attempt not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve attempt", err)
		return
	}

	s.writeJSON(w, http.StatusOK, attempt)
}

// Rollover Handlers

// triggerRolloverHandler starts a manual invocation under the scheduler's
// overlap policy. The outcome is reported through the journal and history.
func (s *HTTPServer) triggerRolloverHandler(w http.ResponseWriter, r *http.Request) {
	err := s.scheduler.Trigger(models.TriggerManual)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted":  true,
			"trigger":   models.TriggerManual,
			"timestamp": time.Now().UTC(),
		})
	case errors.Is(err, scheduler.ErrInvocationInProgress):
		s.writeError(w, http.StatusConflict, "A rollover invocation is already in progress", err)
	case errors.Is(err, scheduler.ErrNotRunning):
		s.writeError(w, http.StatusServiceUnavailable, "Scheduler is not running", err)
	default:
		s.writeError(w, http.StatusInternalServerError, "Failed to trigger rollover", err)
	}
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		entry := s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).WithError(err)
		if status >= http.StatusInternalServerError {
			entry.Error("HTTP error")
		} else {
			entry.Debug("HTTP error")
		}
	}

	s.writeJSON(w, status, errorResponse)
}
