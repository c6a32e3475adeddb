// internal/api/server.go
// Package api serves the relay's HTTP surface: the WebSocket upgrade, the
// latest telemetry for polling clients, set commands and link status.
package api

import (
	"context"
	"encoding/json"
	"expvar"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"

	"github.com/tamzrod/tss-relay/internal/codec"
	"github.com/tamzrod/tss-relay/internal/command"
	"github.com/tamzrod/tss-relay/internal/correlator"
	"github.com/tamzrod/tss-relay/internal/logging"
	"github.com/tamzrod/tss-relay/internal/publisher"
	"github.com/tamzrod/tss-relay/internal/status"
	"github.com/tamzrod/tss-relay/internal/telemetry"
)

const maxBody = 4096

// Setter forwards a set command to the TSS.
type Setter interface {
	Set(ctx context.Context, id uint32, v float32, timeout time.Duration) (codec.Value, error)
}

type Config struct {
	Latest  *publisher.Latest
	Tracker *status.Tracker
	Setter  Setter
	Table   *command.Table
	// WS handles GET /ws; nil leaves the route unregistered.
	WS          http.Handler
	AllowOrigin string
	Log         *logging.Log
}

type Server struct {
	cfg  Config
	log  *logging.Log
	mux  *http.ServeMux
	http *http.Server
}

func New(cfg Config) *Server {
	s := &Server{cfg: cfg, log: cfg.Log, mux: http.NewServeMux()}
	if cfg.WS != nil {
		s.mux.Handle("/ws", cfg.WS)
	}
	s.mux.HandleFunc("/api/telemetry", s.handleTelemetry)
	s.mux.HandleFunc("/api/command", s.handleCommand)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.Handle("/debug/vars", expvar.Handler())
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Start binds addr and serves in the background. Bind errors are returned.
func (s *Server) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "api: listen %s", addr)
	}
	s.http = &http.Server{Handler: s.mux}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("api: serve: %v", err)
		}
	}()
	s.log.Infof("api: listening on %s", ln.Addr())
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ---- handlers ----

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	typ := r.URL.Query().Get("type")
	if typ == "" {
		s.writeJSON(w, http.StatusOK, s.cfg.Latest.All())
		return
	}
	rec, ok := s.cfg.Latest.Get(typ)
	if !ok {
		s.writeJSON(w, http.StatusNotFound,
			telemetry.ErrorEnvelope(typ, http.StatusNotFound, errors.NotFoundf("record type %q", typ)))
		return
	}
	s.writeJSON(w, http.StatusOK, telemetry.NewEnvelope(rec))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	snap := s.cfg.Tracker.Snapshot()
	s.writeJSON(w, http.StatusOK, telemetry.NewEnvelope(status.Record(snap, time.Now())))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.replyCommand(w, command.SetResult{}, errors.NewNotValid(err, "api: body"))
		return
	}
	req, err := command.ParseSetRequest(body, s.cfg.Table)
	if err != nil {
		s.replyCommand(w, command.SetResult{}, err)
		return
	}

	v, err := s.cfg.Setter.Set(r.Context(), req.ID, req.Value, req.Timeout)
	res := command.SetResult{RequestID: req.RequestID, Command: req.ID}
	if err == nil {
		res.Value = v.Interface()
	}
	s.replyCommand(w, res, err)
}

func (s *Server) replyCommand(w http.ResponseWriter, res command.SetResult, err error) {
	code := correlator.StatusCode(err)
	env := telemetry.Envelope{Type: "command_result", Data: res, Success: err == nil}
	if err != nil {
		env.Error = &telemetry.EnvelopeError{Message: err.Error(), Code: code}
		s.log.Errorf("api: command %d: %v", res.Command, err)
	}
	s.writeJSON(w, code, env)
}

// allow sets CORS headers and answers preflight and wrong methods.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if s.cfg.AllowOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", method+", OPTIONS")
	}
	switch r.Method {
	case method:
		return true
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Errorf("api: marshal: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
