// Package portal serves the configuration form while the station runs its
// access point.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/grandcat/zeroconf"

	"canairio/station-agent/internal/provisioning"
)

const (
	submissionBuffer = 4
	maxFormBytes     = 16 << 10
)

var errPortalRunning = errors.New("portal already running")

// Server implements provisioning.Portal over HTTP. Handlers only hand
// submissions over a buffered channel; the control loop drains it through
// Process.
type Server struct {
	addr      string
	advertise bool
	logger    *slog.Logger
	router    chi.Router

	mu       sync.RWMutex
	active   bool
	settings provisioning.PortalSettings
	fields   []provisioning.Field

	submissions chan provisioning.Submission
	httpServer  *http.Server
	listener    net.Listener
	mdns        *zeroconf.Server
}

// New builds a portal that listens on addr when started. With advertise set
// the portal is announced over mDNS.
func New(addr string, advertise bool, logger *slog.Logger) *Server {
	s := &Server{
		addr:        addr,
		advertise:   advertise,
		logger:      logger,
		router:      chi.NewRouter(),
		submissions: make(chan provisioning.Submission, submissionBuffer),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(15 * time.Second))

	s.router.Get("/", s.handleIndex)
	s.router.Post("/save", s.handleSave)
	s.router.Get("/healthz", s.handleHealthz)
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the address the portal is listening on, empty when stopped.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start opens the listener and begins serving fields.
func (s *Server) Start(settings provisioning.PortalSettings, fields []provisioning.Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return errPortalRunning
	}

	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen portal on %s: %w", s.addr, err)
	}

	s.drain()
	s.settings = settings
	s.fields = fields
	s.listener = l
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	s.active = true

	srv := s.httpServer
	go func() {
		s.logger.Info("portal http server started", "addr", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("portal http server failed", "error", err)
		}
	}()

	if s.advertise {
		port := l.Addr().(*net.TCPAddr).Port
		if err := s.startMDNS(port); err != nil {
			s.logger.Warn("mDNS advertisement failed", "port", port, "error", err)
		}
	}
	return nil
}

// Process returns a pending submission without blocking.
func (s *Server) Process() (provisioning.Submission, bool) {
	select {
	case sub := <-s.submissions:
		return sub, true
	default:
		return provisioning.Submission{}, false
	}
}

// Update replaces the fields listed on GET /.
func (s *Server) Update(fields []provisioning.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = fields
}

// Stop shuts the HTTP server down and withdraws the mDNS record.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.stopMDNS()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := srv.Shutdown(ctx)
	s.drain()
	if err != nil {
		return fmt.Errorf("portal shutdown: %w", err)
	}
	s.logger.Info("portal http server stopped")
	return nil
}

func (s *Server) drain() {
	for {
		select {
		case <-s.submissions:
		default:
			return
		}
	}
}

type fieldView struct {
	Kind string `json:"kind"`
	provisioning.Field
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	active := s.active
	ssid := s.settings.SSID
	views := make([]fieldView, 0, len(s.fields))
	for _, f := range s.fields {
		if f.Secret {
			f.Value = ""
		}
		views = append(views, fieldView{Kind: f.Kind.String(), Field: f})
	}
	s.mu.RUnlock()

	if !active {
		respondError(w, http.StatusServiceUnavailable, "portal not running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ssid":   ssid,
		"fields": views,
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if !active {
		respondError(w, http.StatusServiceUnavailable, "portal not running")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	values, err := readValues(r)
	if err != nil {
		s.logger.Warn("portal submission rejected", "error", err)
		respondError(w, http.StatusBadRequest, "invalid submission")
		return
	}

	select {
	case s.submissions <- provisioning.Submission{Values: values}:
	default:
		respondError(w, http.StatusServiceUnavailable, "busy, try again")
		return
	}

	s.logger.Info("portal submission received", "fields", len(values), "remote", r.RemoteAddr)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "saved"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readValues accepts either a urlencoded form or a flat JSON object.
func readValues(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return decodeJSONValues(r)
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	values := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			values[k] = strings.TrimSpace(v[0])
		}
	}
	return values, nil
}

func decodeJSONValues(r *http.Request) (map[string]string, error) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			values[k] = strings.TrimSpace(val)
		case json.Number:
			values[k] = val.String()
		case bool:
			values[k] = fmt.Sprint(val)
		case nil:
		default:
			return nil, fmt.Errorf("field %q: unsupported value", k)
		}
	}
	return values, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
