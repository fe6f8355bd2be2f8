// Package api is the daemon's HTTP surface: camera state and commands, cloud
// reads, token provisioning, the HLS playlist, and Prometheus metrics.
//
// The server comes up before the daemon is authenticated. Until a camera is
// attached, camera-backed endpoints answer 503 so supervisors can tell "not
// ready yet" apart from "broken".
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ethan/nanit-relay/pkg/camera"
	"github.com/ethan/nanit-relay/pkg/hls"
	"github.com/ethan/nanit-relay/pkg/metrics"
	"github.com/ethan/nanit-relay/pkg/rest"
	"github.com/ethan/nanit-relay/pkg/state"
	"github.com/ethan/nanit-relay/pkg/transport"
)

// CameraService is the slice of the camera controller the API uses.
type CameraService interface {
	State() state.CameraState
	RefreshSensorData(ctx context.Context) error
	SetNightLight(ctx context.Context, on bool, timeoutSeconds *int32) error
	SetVolume(ctx context.Context, volume int32) error
	SetSleepMode(ctx context.Context, on bool) error
	SetMicMute(ctx context.Context, muted bool) error
	SetStatusLight(ctx context.Context, on bool) error
	SetNightVision(ctx context.Context, on bool) error
	StartStreaming(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	StreamURL(ctx context.Context) (string, error)
	BabyUID() string
}

// SessionService is the slice of the account client the API uses.
type SessionService interface {
	Authenticated() bool
	GetEvents(ctx context.Context, babyUID string, limit int) ([]state.CloudEvent, error)
	GetSnapshot(ctx context.Context, babyUID string) []byte
}

// TokenHandler receives a token pair from POST /api/auth/token.
type TokenHandler func(ctx context.Context, tokens rest.TokenPair) error

// Config configures the HTTP server.
type Config struct {
	Listen      string
	RateLimit   float64 // requests per second
	Burst       int
	EventsLimit int
}

// Server is the daemon HTTP API.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	session SessionService
	hls     *hls.Proxy
	limiter *rate.Limiter

	mu       sync.RWMutex
	cam      CameraService
	onTokens TokenHandler

	httpServer *http.Server
}

// NewServer builds the API server. The HLS proxy may be nil when disabled;
// the camera is attached later with SetCamera.
func NewServer(cfg Config, session SessionService, hlsProxy *hls.Proxy, log *slog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.EventsLimit <= 0 {
		cfg.EventsLimit = 20
	}
	return &Server{
		cfg:     cfg,
		logger:  log.With("component", "api"),
		session: session,
		hls:     hlsProxy,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
}

// SetCamera attaches the camera controller, opening the ready gate.
func (s *Server) SetCamera(cam CameraService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cam = cam
}

// SetTokenHandler installs the token provisioning callback.
func (s *Server) SetTokenHandler(fn TokenHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokens = fn
}

// Start starts the HTTP server and returns once it is listening.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.cfg.Listen)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			errChan <- err
		}
	}()

	// Catch immediate failures such as a busy port.
	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Router builds the chi router with logging, CORS, and rate limiting.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withLogging)
	r.Use(withCORS)
	r.Use(s.withRateLimit)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/status", s.handleAuthStatus)
		r.Post("/auth/token", s.handleAuthToken)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCamera)

			r.Get("/status", s.handleStatus)
			r.Get("/sensors", s.handleSensors)
			r.Get("/settings", s.handleSettings)
			r.Get("/events", s.handleEvents)
			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/stream-url", s.handleStreamURL)

			r.Post("/control/nightlight", s.handleNightLight)
			r.Post("/control/sleep", s.handleSleep)
			r.Post("/control/volume", s.handleVolume)
			r.Post("/control/mic", s.handleMic)
			r.Post("/control/statusled", s.handleStatusLED)
			r.Post("/control/nightvision", s.handleNightVision)

			r.Post("/streaming/start", s.handleStreamingStart)
			r.Post("/streaming/stop", s.handleStreamingStop)

			r.Post("/hls/start", s.handleHLSStart)
			r.Post("/hls/stop", s.handleHLSStop)
			r.Get("/hls/status", s.handleHLSStatus)
		})
	})

	if s.hls != nil {
		r.Mount("/hls", http.StripPrefix("/hls", s.hls.Handler()))
	}
	return r
}

// withLogging adds request logging and the request counter.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		metrics.APIRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// withCORS adds CORS headers to responses.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireCamera is the ready gate: 503 until SetCamera has been called.
func (s *Server) requireCamera(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.camera() == nil {
			writeError(w, http.StatusServiceUnavailable, "camera not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) camera() CameraService {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cam
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"authenticated": s.session.Authenticated(),
		"camera_ready":  s.camera() != nil,
	})
}

// handleAuthToken accepts a token pair and hands it to the daemon. The daemon
// decides whether to accept it (it may already be authenticated).
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var tokens rest.TokenPair
	if err := json.NewDecoder(r.Body).Decode(&tokens); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "access_token and refresh_token are required")
		return
	}

	s.mu.RLock()
	handler := s.onTokens
	s.mu.RUnlock()
	if handler == nil {
		writeError(w, http.StatusServiceUnavailable, "token provisioning not available")
		return
	}
	if err := handler(r.Context(), tokens); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.camera().State())
}

// handleSensors returns the merged sensor snapshot. ?refresh=true asks the
// camera for fresh readings first.
func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	cam := s.camera()
	if r.URL.Query().Get("refresh") == "true" {
		if err := cam.RefreshSensorData(r.Context()); err != nil {
			writeError(w, errStatus(err), err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, cam.State().Sensors)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.camera().State().Settings)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.session.GetEvents(r.Context(), s.camera().BabyUID(), s.cfg.EventsLimit)
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleSnapshot serves the latest cloud snapshot as a JPEG.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	img := s.session.GetSnapshot(r.Context(), s.camera().BabyUID())
	if img == nil {
		writeError(w, http.StatusNotFound, "no snapshot available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Write(img)
}

func (s *Server) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	url, err := s.camera().StreamURL(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type nightLightRequest struct {
	On             bool   `json:"on"`
	TimeoutSeconds *int32 `json:"timeout_seconds,omitempty"`
}

func (s *Server) handleNightLight(w http.ResponseWriter, r *http.Request) {
	var req nightLightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runCommand(w, r, func(ctx context.Context, cam CameraService) error {
		return cam.SetNightLight(ctx, req.On, req.TimeoutSeconds)
	})
}

type onRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, func(ctx context.Context, cam CameraService, on bool) error {
		return cam.SetSleepMode(ctx, on)
	})
}

func (s *Server) handleMic(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, func(ctx context.Context, cam CameraService, on bool) error {
		return cam.SetMicMute(ctx, on)
	})
}

func (s *Server) handleStatusLED(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, func(ctx context.Context, cam CameraService, on bool) error {
		return cam.SetStatusLight(ctx, on)
	})
}

func (s *Server) handleNightVision(w http.ResponseWriter, r *http.Request) {
	s.handleToggle(w, r, func(ctx context.Context, cam CameraService, on bool) error {
		return cam.SetNightVision(ctx, on)
	})
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, cam CameraService, on bool) error) {
	var req onRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runCommand(w, r, func(ctx context.Context, cam CameraService) error {
		return fn(ctx, cam, req.On)
	})
}

type volumeRequest struct {
	Volume int32 `json:"volume"`
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Volume < 0 || req.Volume > 100 {
		writeError(w, http.StatusBadRequest, "volume must be between 0 and 100")
		return
	}
	s.runCommand(w, r, func(ctx context.Context, cam CameraService) error {
		return cam.SetVolume(ctx, req.Volume)
	})
}

func (s *Server) handleStreamingStart(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, func(ctx context.Context, cam CameraService) error {
		return cam.StartStreaming(ctx)
	})
}

func (s *Server) handleStreamingStop(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, func(ctx context.Context, cam CameraService) error {
		return cam.StopStreaming(ctx)
	})
}

// handleHLSStart asks the camera to push RTMPS, then points ffmpeg at the
// same URL.
func (s *Server) handleHLSStart(w http.ResponseWriter, r *http.Request) {
	if s.hls == nil {
		writeError(w, http.StatusNotImplemented, "hls proxy disabled")
		return
	}
	cam := s.camera()

	if err := cam.StartStreaming(r.Context()); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	url, err := cam.StreamURL(r.Context())
	if err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	if err := s.hls.Start(url); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.hls.Status())
}

func (s *Server) handleHLSStop(w http.ResponseWriter, r *http.Request) {
	if s.hls == nil {
		writeError(w, http.StatusNotImplemented, "hls proxy disabled")
		return
	}
	if err := s.hls.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.camera().StopStreaming(r.Context()); err != nil {
		s.logger.Warn("stop streaming after hls stop failed", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHLSStatus(w http.ResponseWriter, r *http.Request) {
	if s.hls == nil {
		writeError(w, http.StatusNotImplemented, "hls proxy disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.hls.Status())
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, cam CameraService) error) {
	if err := fn(r.Context(), s.camera()); err != nil {
		writeError(w, errStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errStatus maps camera and cloud errors to HTTP statuses.
func errStatus(err error) int {
	var timeoutErr *camera.RequestTimeoutError
	var transportErr *transport.Error
	var unavailableErr *camera.UnavailableError
	var authErr *rest.AuthError
	switch {
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &transportErr), errors.As(err, &unavailableErr):
		return http.StatusBadGateway
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
