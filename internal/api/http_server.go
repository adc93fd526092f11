package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/domain"
	"clinicbook/internal/metrics"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer exposes the booking API to customers and operators.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings domain.BookingService
	workflow domain.Workflow
	checks   map[string]ReadinessCheck
	server   *http.Server
	auth     *HTTPAuth
	log      zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	bookings domain.BookingService,
	workflow domain.Workflow,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		bookings: bookings,
		workflow: workflow,
		checks:   make(map[string]ReadinessCheck),
		auth:     NewHTTPAuth(cfg),
		log:      zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/v1/slots", s.handleListSlots)
	mux.HandleFunc("GET /api/v1/slots/{id}/admission", s.handleAdmission)

	mux.HandleFunc("POST /api/v1/bookings", s.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{reference}", s.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{reference}/claim-payment", s.handleClaimPayment)
	mux.HandleFunc("POST /api/v1/bookings/{reference}/confirm-payment", s.handleConfirmPayment)

	mux.HandleFunc("POST /api/v1/sessions", s.handleBeginSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/slot", s.handleSelectSlot)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/customer", s.handleCaptureDetails)
	mux.HandleFunc("POST /api/v1/sessions/{id}/submit", s.handleSubmitSession)
	mux.HandleFunc("POST /api/v1/sessions/{id}/claim-payment", s.handleSessionClaim)
	mux.HandleFunc("POST /api/v1/sessions/{id}/confirm-payment", s.handleSessionConfirm)

	mux.HandleFunc("GET /api/v1/admin/bookings/{reference}", s.handleGetBooking)
	mux.HandleFunc("POST /api/v1/admin/bookings/{reference}/confirm", s.handleAdminConfirm)
	mux.HandleFunc("POST /api/v1/admin/bookings/{reference}/decline", s.handleAdminDecline)
	mux.HandleFunc("POST /api/v1/admin/bookings/{reference}/cancel", s.handleAdminCancel)
	mux.HandleFunc("GET /api/v1/admin/ledger", s.handleLedger)
}

// AddReadinessCheck registers a dependency probed by /readyz. Call it
// before Start.
func (s *HTTPServer) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

// Handler returns the fully wrapped handler chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.log.Warn().Interface("failures", failures).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		// the mux fills in Pattern while routing
		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{Error: code, Message: message})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
