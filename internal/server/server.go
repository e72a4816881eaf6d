// Package server runs the mediator as a long-lived daemon on a unix socket
// so hook invocations skip table parsing and store setup.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentsh/agentguard/internal/mediator"
	"github.com/agentsh/agentguard/pkg/hotreload"
	"github.com/agentsh/agentguard/pkg/types"
)

// HookPath receives one hook payload; the phase travels as ?phase=.
const HookPath = "/v1/hook"

// DefaultMaxRequestBytes caps one hook payload.
const DefaultMaxRequestBytes = 10 << 20

// Handler mediates one raw hook payload.
type Handler interface {
	HandleJSON(ctx context.Context, phase mediator.Phase, raw []byte) *types.HookOutput
}

type Options struct {
	Socket          string
	Permissions     os.FileMode
	Handler         Handler
	Watcher         *hotreload.Watcher
	MaxRequestBytes int64
	Logger          *slog.Logger
}

type Server struct {
	httpServer *http.Server
	ln         net.Listener
	path       string
	watcher    *hotreload.Watcher
	log        *slog.Logger
	started    time.Time
}

// New binds the socket. A stale socket file from a previous run is removed.
func New(opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}
	if opts.Socket == "" {
		return nil, fmt.Errorf("socket path is empty")
	}
	if opts.Permissions == 0 {
		opts.Permissions = 0o600
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(opts.Socket), 0o700); err != nil {
		return nil, fmt.Errorf("unix socket mkdir: %w", err)
	}
	_ = os.Remove(opts.Socket)
	ln, err := net.Listen("unix", opts.Socket)
	if err != nil {
		return nil, fmt.Errorf("unix socket listen: %w", err)
	}
	if err := os.Chmod(opts.Socket, opts.Permissions); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("unix socket chmod: %w", err)
	}

	s := &Server{
		ln:      ln,
		path:    opts.Socket,
		watcher: opts.Watcher,
		log:     log,
		started: time.Now(),
	}
	s.httpServer = &http.Server{
		Handler:           withRequestBodyLimit(s.router(opts.Handler), opts.MaxRequestBytes),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	return s, nil
}

func (s *Server) Path() string { return s.path }

func (s *Server) router(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get("/v1/status", s.status)
	r.Post(HookPath, func(w http.ResponseWriter, r *http.Request) { s.hook(w, r, h) })
	return r
}

func (s *Server) hook(w http.ResponseWriter, r *http.Request, h Handler) {
	phase, err := mediator.ParsePhase(r.URL.Query().Get("phase"))
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error()+"\n")
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeText(w, http.StatusRequestEntityTooLarge, "read body: "+err.Error()+"\n")
		return
	}
	out := h.HandleJSON(r.Context(), phase, raw)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type statusResponse struct {
	Socket  string                  `json:"socket"`
	Uptime  string                  `json:"uptime"`
	Watcher *hotreload.WatcherStats `json:"watcher,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Socket: s.path, Uptime: time.Since(s.started).Round(time.Second).String()}
	if s.watcher != nil {
		st := s.watcher.Stats()
		resp.Watcher = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer s.watcher.Stop()
	}

	s.log.Info("listening", "socket", s.path)
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

func (s *Server) Close() error {
	if s.ln != nil {
		_ = s.ln.Close()
		s.ln = nil
	}
	if s.path != "" {
		_ = os.Remove(s.path)
	}
	return nil
}

func withRequestBodyLimit(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
