package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/session"
	"codeberg.org/mutker/flightctl/internal/storage"
	"codeberg.org/mutker/flightctl/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Sessions is the flight lifecycle the control surface drives.
type Sessions interface {
	Start(ctx context.Context, name, addr string, speed int) (*telemetry.Flight, error)
	Stop(ctx context.Context) (int64, error)
	InjectTestLine(ctx context.Context, flightID int64, line string) error
	Status() session.Status
}

// Store is the read and delete side of the persistence gateway.
type Store interface {
	LatestTelemetry(ctx context.Context, flightID int64) (*telemetry.Record, error)
	DeleteFlight(ctx context.Context, id int64) error
}

type Config struct {
	Listen string
	// Port and BaudRate are used when a start request leaves them out.
	Port     string
	BaudRate int
	// Heartbeat is the interval of keep-alive comments on event streams.
	Heartbeat time.Duration
}

type Server struct {
	cfg      Config
	sessions Sessions
	store    Store
	hub      *fanout.Hub
	started  time.Time
	logger   logger.Logger
}

func NewServer(cfg Config, sessions Sessions, store Store, hub *fanout.Hub, log logger.Logger) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}

	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		hub:      hub,
		started:  time.Now(),
		logger:   log,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/flights/start", s.handleStart)
	mux.HandleFunc("POST /api/flights/stop", s.handleStop)
	mux.HandleFunc("DELETE /api/flights/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/test/serial", s.handleInject)
	mux.HandleFunc("GET /api/debug/serial", s.handleSerialStatus)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("PUT /api/stream/{subscriber}/rooms/{flight}", s.handleJoinRoom)
	mux.HandleFunc("DELETE /api/stream/{subscriber}/rooms/{flight}", s.handleLeaveRoom)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.cfg.Listen).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- errors.New().Wrap(errors.ErrInitFailed, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// respondError maps a coded error to its HTTP status and sanitized message.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrInvalidArgument, errors.ErrNoActiveSession:
		status = http.StatusBadRequest
	case errors.ErrSessionActive, errors.ErrSessionMismatch:
		status = http.StatusConflict
	case errors.ErrTransportOpen:
		status = http.StatusServiceUnavailable
	case storage.ErrNotFound:
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		var coded errors.Error
		if errors.As(err, &coded) {
			s.logger.ErrorWithCode(coded).Msg("Request failed")
		} else {
			s.logger.Error().Err(err).Msg("Request failed")
		}
	}

	respondJSON(w, status, errorResponse{
		Success: false,
		Error:   errors.UserMessage(err),
		Code:    string(code),
	})
}
