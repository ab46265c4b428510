package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const shutdownGrace = 5 * time.Second

// Server receives signed webhook deliveries.
type Server struct {
	config  Config
	handler Handler
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates a receiver for config. Endpoint defaults are applied here.
func New(config Config, handler Handler, logger *slog.Logger) *Server {
	return &Server{
		config:  config.withDefaults(),
		handler: handler,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, ep := range s.config.Endpoints {
		r.Post(ep.Path, s.receive(ep))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "endpoint not found"})
	})
	return r
}

// Start listens on config.Listen and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("webhook listen %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully and returns ctx.Err().
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", ln.Addr().String(), "endpoints", len(s.config.Endpoints))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	}
}

// logRequests logs method, path and status. Bodies are never logged.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) receive(ep EndpointConfig) http.HandlerFunc {
	logger := s.logger.With("endpoint", ep.Path)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ep.MaxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
			return
		}

		signature := r.Header.Get(ep.SignatureHeader)
		if signature == "" {
			logger.Warn("webhook signature missing", "header", ep.SignatureHeader)
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			return
		}
		if err := verifyBody(body, signature, ep.Secret); err != nil {
			logger.Warn("webhook rejected", "error", err)
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden"})
			return
		}

		d := Delivery{
			ID:         s.newID(),
			Endpoint:   ep.Path,
			RequestID:  middleware.GetReqID(ctx),
			ReceivedAt: s.now().UTC(),
			Payload:    json.RawMessage(body),
		}
		if err := s.handler.HandleDelivery(ctx, d); err != nil {
			logger.Error("webhook handler failed", "delivery_id", d.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to handle delivery"})
			return
		}

		logger.Info("webhook delivery accepted", "delivery_id", d.ID, "bytes", len(body))
		writeJSON(w, http.StatusAccepted, AcceptedResponse{DeliveryID: d.ID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
