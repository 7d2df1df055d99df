// Package api serves the connectivity status and the portal commands to
// the web UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"network-service/internal/core"
	"network-service/internal/logger"
)

const DefaultAddress = "127.0.0.1:8080"

const maxBodySize = 4096

// Manager is the part of the network manager the UI talks to.
type Manager interface {
	StatusJSON() (doc []byte, stale bool)
	AccessPointsJSON() (doc []byte, stale bool)
	HandleUpdateStatusCommand() error
	HandleConnectCommand(value string) error
	HandleDeleteCommand() error
	HandleScanCommand() error
	HandleRebootCommand(value string) error
}

type ServerOptions struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
}

type Server struct {
	http    *http.Server
	manager Manager
	logger  *logger.Logger
	opts    ServerOptions
}

// APIError is the body of every non-2xx response.
type APIError struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

func NewServer(m Manager, opts ServerOptions, l *logger.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if l == nil {
		l = logger.Discard()
	}

	s := &Server{manager: m, logger: l, opts: opts}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		WriteTimeout:      opts.WriteTimeout,
	}
	return s
}

// Handler returns the routes with logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status.json", s.handleStatus)
	mux.HandleFunc("GET /ap.json", s.handleAccessPoints)
	mux.HandleFunc("POST /connect.json", s.handleConnect)
	mux.HandleFunc("DELETE /connect.json", s.handleDelete)
	mux.HandleFunc("POST /scan.json", s.handleScan)
	mux.HandleFunc("POST /reboot.json", s.handleReboot)
	return withLogging(mux, s.logger)
}

// Start serves in the background. It returns immediately.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("ListenAndServe: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// handleStatus returns the last snapshot and asks for a fresh one, which
// the UI picks up on its next poll. The poll also acknowledges a
// successful portal connection.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.HandleUpdateStatusCommand(); err != nil {
		s.logger.Warnf("Failed to request status update: %v", err)
	}
	doc, stale := s.manager.StatusJSON()
	writeDocument(w, doc, stale)
}

// handleAccessPoints returns the networks found by the last scan. A new
// scan is requested with POST /scan.json.
func (s *Server) handleAccessPoints(w http.ResponseWriter, r *http.Request) {
	doc, stale := s.manager.AccessPointsJSON()
	writeDocument(w, doc, stale)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body: "+err.Error())
		return
	}
	if err := s.manager.HandleConnectCommand(string(body)); err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "connecting"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.HandleDeleteCommand(); err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "deleting"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.HandleScanCommand(); err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scanning"})
}

// handleReboot takes the boot target from the "kind" query parameter.
func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "restart"
	}
	if err := s.manager.HandleRebootCommand(kind); err != nil {
		s.commandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting", "kind": kind})
}

func (s *Server) commandError(w http.ResponseWriter, err error) {
	s.logger.Warnf("Command rejected: %v", err)
	if errors.Is(err, core.ErrInvalidCredentials) || errors.Is(err, core.ErrInvalidCommand) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusServiceUnavailable, err.Error())
}

func withLogging(next http.Handler, l *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		l.Debugf("%s %s %dms", r.Method, r.URL.Path, time.Since(start).Milliseconds())
	})
}

func writeDocument(w http.ResponseWriter, doc []byte, stale bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if stale {
		w.Header().Set("X-Status-Stale", "1")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIError{
		Error:     msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
