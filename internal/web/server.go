package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"bledom-go-home/internal/automation"
	"bledom-go-home/internal/controller"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP API server.
type Server struct {
	registry       *controller.Registry
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new API server.
func NewServer(registry *controller.Registry, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	s := &Server{
		registry: registry,
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Mirror every registry event to connected WebSocket clients.
	s.unsubEvents = registry.Events().OnAll(func(event controller.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s, nil
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Devices
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("POST /api/devices", s.handleAPIAddDevice)
	s.mux.HandleFunc("GET /api/devices/{address}", s.handleAPIGetDevice)
	s.mux.HandleFunc("PATCH /api/devices/{address}", s.handleAPIRenameDevice)
	s.mux.HandleFunc("DELETE /api/devices/{address}", s.handleAPIDeleteDevice)
	s.mux.HandleFunc("GET /api/devices/{address}/state", s.handleAPIGetState)
	s.mux.HandleFunc("PUT /api/devices/{address}/calibration", s.handleAPISetCalibration)

	// Device intents
	s.mux.HandleFunc("POST /api/devices/{address}/power", s.handleAPIPower)
	s.mux.HandleFunc("POST /api/devices/{address}/color", s.handleAPIColor)
	s.mux.HandleFunc("POST /api/devices/{address}/brightness", s.handleAPIBrightness)
	s.mux.HandleFunc("POST /api/devices/{address}/white", s.handleAPIWhite)
	s.mux.HandleFunc("POST /api/devices/{address}/color-temp", s.handleAPIColorTemp)
	s.mux.HandleFunc("POST /api/devices/{address}/effect", s.handleAPIEffect)
	s.mux.HandleFunc("POST /api/devices/{address}/mic", s.handleAPIMic)
	s.mux.HandleFunc("POST /api/devices/{address}/sync-time", s.handleAPISyncTime)
	s.mux.HandleFunc("POST /api/devices/{address}/schedule", s.handleAPISchedule)
	s.mux.HandleFunc("POST /api/devices/{address}/disconnect", s.handleAPIDisconnect)

	// Discovery
	s.mux.HandleFunc("POST /api/scan", s.handleAPIScan)

	// Metadata
	s.mux.HandleFunc("GET /api/effects", s.handleAPIEffects)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" {
		// Only require the key for /api/ endpoints; browsers cannot send
		// custom headers on a WS upgrade.
		if strings.HasPrefix(r.URL.Path, "/api/") {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
