// Package server is the local HTTP + WebSocket API the desktop UI and the
// browser extension talk to: start/cancel/watch scans, mark platform logins
// and hand the backend session tokens over to the agent.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/platform"
	"github.com/avistalabs/columbus/internal/scan"
	"github.com/avistalabs/columbus/internal/storage"
)

// Scanner is the scan control surface the server exposes over HTTP. The scan
// coordinator is the production implementation.
type Scanner interface {
	Start(ctx context.Context, productID string, samples int, platforms []platform.Platform) error
	Cancel()
	Progress() scan.Progress
	IsRunning() bool
	Subscribe() (<-chan scan.Event, func())
}

// Store is the slice of persistence the HTTP surface needs. storage.Store is
// the production implementation.
type Store interface {
	SaveAuth(ctx context.Context, a storage.Auth) error
	LoadAuth(ctx context.Context) (*storage.Auth, error)
	ClearAuth(ctx context.Context) error
	AllRegionPlatformAuth(ctx context.Context) ([]storage.RegionPlatformAuth, error)
	UpdateRegionPlatformAuth(ctx context.Context, region string, p platform.Platform, authenticated bool) error
	ProductConfigFor(ctx context.Context, productID string) (storage.ProductConfig, error)
	SaveProductConfig(ctx context.Context, productID string, cfg storage.ProductConfig) error
}

// Deps are the server's collaborators.
type Deps struct {
	Scanner Scanner
	Store   Store
}

// Server is the HTTP + WebSocket API surface.
type Server struct {
	cfg      Config
	deps     Deps
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewServer wires the routes around the given scanner and store.
func NewServer(cfg Config, deps Deps) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The server binds to loopback; browser pages on any origin
				// (the web dashboard) may connect.
				return true
			},
		},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/scan", s.optionsHandler("POST, DELETE"))
	r.Options("/scan/progress", s.optionsHandler("GET"))
	r.Options("/platforms", s.optionsHandler("GET"))
	r.Options("/auth/session", s.optionsHandler("GET, POST, DELETE"))
	r.Options("/auth/platforms", s.optionsHandler("GET"))
	r.Options("/auth/platforms/{region}/{platform}", s.optionsHandler("POST"))
	r.Options("/products/{productID}/config", s.optionsHandler("GET, PUT"))
	r.Options("/ws/scan", s.optionsHandler("GET"))

	// Scan control
	r.Post("/scan", s.handleStartScan)
	r.Delete("/scan", s.handleCancelScan)
	r.Get("/scan/progress", s.handleScanProgress)
	r.Get("/ws/scan", s.handleScanWS)

	// Platform catalog
	r.Get("/platforms", s.handleListPlatforms)

	// Backend session handoff
	r.Get("/auth/session", s.handleGetAuthSession)
	r.Post("/auth/session", s.handleSaveAuthSession)
	r.Delete("/auth/session", s.handleClearAuthSession)

	// Per-(region, platform) login marks
	r.Get("/auth/platforms", s.handleListPlatformAuth)
	r.Post("/auth/platforms/{region}/{platform}", s.handleMarkPlatformAuth)

	// Product auto-scan config
	r.Get("/products/{productID}/config", s.handleGetProductConfig)
	r.Put("/products/{productID}/config", s.handleSaveProductConfig)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// scanErrorStatus maps the coordinator's precondition errors onto HTTP codes.
func scanErrorStatus(err error) int {
	switch {
	case errors.Is(err, scan.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, scan.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, scan.ErrNoPrompts), errors.Is(err, scan.ErrNoPlatforms):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- Scan control ---

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID string   `json:"productId"`
		Samples   int      `json:"samples"`
		Platforms []string `json:"platforms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.ProductID == "" {
		writeError(w, http.StatusBadRequest, "missing productId")
		return
	}

	var platforms []platform.Platform
	for _, raw := range body.Platforms {
		p, err := platform.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		platforms = append(platforms, p)
	}

	if err := s.deps.Scanner.Start(r.Context(), body.ProductID, body.Samples, platforms); err != nil {
		s.logger.Warn("starting scan", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, scanErrorStatus(err), err.Error())
		return
	}

	s.logger.Info("started scan", logging.Field{Key: "product_id", Value: body.ProductID})
	writeJSON(w, http.StatusAccepted, s.deps.Scanner.Progress())
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	s.deps.Scanner.Cancel()
	s.logger.Info("cancelled scan")
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scanner.Progress())
}

// --- Platform catalog ---

type platformInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	URL           string `json:"url"`
	MaxConcurrent int    `json:"maxConcurrent"`
}

func (s *Server) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	all := platform.All()
	out := make([]platformInfo, 0, len(all))
	for _, p := range all {
		b := platform.BehaviorFor(p)
		out = append(out, platformInfo{
			ID:            p.String(),
			DisplayName:   b.DisplayName,
			URL:           b.URL,
			MaxConcurrent: b.MaxConcurrent,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Backend session handoff ---

func (s *Server) handleGetAuthSession(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Store.LoadAuth(r.Context())
	if errors.Is(err, storage.ErrNoAuth) {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	if err != nil {
		s.logger.Warn("loading auth", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Tokens stay on disk; only identity leaves the process.
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userEmail":     a.UserEmail,
		"expiresAt":     a.ExpiresAt,
	})
}

func (s *Server) handleSaveAuthSession(w http.ResponseWriter, r *http.Request) {
	var a storage.Auth
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if a.AccessToken == "" || a.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "missing tokens")
		return
	}

	if err := s.deps.Store.SaveAuth(r.Context(), a); err != nil {
		s.logger.Warn("saving auth", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("saved backend session", logging.Field{Key: "user_email", Value: a.UserEmail})
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleClearAuthSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.ClearAuth(r.Context()); err != nil {
		s.logger.Warn("clearing auth", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("cleared backend session")
	writeJSON(w, http.StatusNoContent, nil)
}

// --- Platform login marks ---

func (s *Server) handleListPlatformAuth(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Store.AllRegionPlatformAuth(r.Context())
	if err != nil {
		s.logger.Warn("listing platform auth", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []storage.RegionPlatformAuth{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleMarkPlatformAuth(w http.ResponseWriter, r *http.Request) {
	region := chi.URLParam(r, "region")
	p, err := platform.Parse(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := s.deps.Store.UpdateRegionPlatformAuth(r.Context(), region, p, body.Authenticated); err != nil {
		s.logger.Warn("marking platform auth", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("marked platform auth",
		logging.Field{Key: "region", Value: region},
		logging.Field{Key: "platform", Value: p.String()},
		logging.Field{Key: "authenticated", Value: body.Authenticated})
	writeJSON(w, http.StatusNoContent, nil)
}

// --- Product config ---

func (s *Server) handleGetProductConfig(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	cfg, err := s.deps.Store.ProductConfigFor(r.Context(), productID)
	if err != nil {
		s.logger.Warn("loading product config", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveProductConfig(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	var cfg storage.ProductConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if err := s.deps.Store.SaveProductConfig(r.Context(), productID, cfg); err != nil {
		s.logger.Warn("saving product config", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("saved product config", logging.Field{Key: "product_id", Value: productID})
	writeJSON(w, http.StatusNoContent, nil)
}

// --- WebSockets ---

// handleScanWS streams scan events to the client: an initial progress
// snapshot, then every event until the scan reaches a terminal state or the
// client goes away. Disconnecting does not cancel the scan; the stream is an
// observer, not an owner.
func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	events, unsubscribe := s.deps.Scanner.Subscribe()
	defer unsubscribe()

	snap := s.deps.Scanner.Progress()
	if err := conn.WriteJSON(scan.Event{
		Type:      scan.EventProgress,
		Phase:     snap.Phase,
		Completed: snap.Completed,
		Total:     snap.Total,
		Platforms: snap.Platforms,
	}); err != nil {
		return
	}

	// Drain client reads so close frames are processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Type != scan.EventProgress {
				return
			}
		}
	}
}
