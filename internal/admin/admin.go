// Package admin exposes the control surface over HTTP. The CLI client
// subcommands talk to this API; it is also usable with plain curl.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rotor/internal/account"
	"rotor/internal/rotation"
	"rotor/internal/sender"
	"rotor/internal/storage"
	"rotor/internal/transport"
	"rotor/pkg/logx"
)

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration

	// Debug additionally mounts the profiler under /debug/pprof.
	Debug bool
}

// Deps carries everything the handlers touch. Store and Targets may be
// nil when the corresponding feature is disabled.
type Deps struct {
	Registry *account.Registry
	Driver   *rotation.Driver
	Sender   *sender.Sender
	Store    storage.Store
	Targets  func(ctx context.Context) ([]transport.Target, error)

	// TargetID is the configured channel; Content produces the message
	// body for manual sends that omit one.
	TargetID string
	Content  func() string
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	srv  *http.Server
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{cfg: cfg, deps: deps, log: log}
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/targets", s.handleTargets)
		r.Get("/history", s.handleHistory)
		r.Post("/send", s.handleSend)
		r.Post("/join", s.handleJoin)
		r.Post("/accounts/{name}/enable", s.handleAccountEnable(true))
		r.Post("/accounts/{name}/disable", s.handleAccountEnable(false))
		r.Post("/autosend/{name}/start", s.handleAutoSend(true))
		r.Post("/autosend/{name}/stop", s.handleAutoSend(false))
		r.Post("/rotation/start", s.handleRotation(true))
		r.Post("/rotation/stop", s.handleRotation(false))
	})
	if cfg.Debug {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Get("/", pprof.Index)
			r.Get("/cmdline", pprof.Cmdline)
			r.Get("/profile", pprof.Profile)
			r.Get("/symbol", pprof.Symbol)
			r.Get("/trace", pprof.Trace)
			r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
				pprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
			})
		})
	}
	s.srv = &http.Server{Addr: cfg.Addr, Handler: r}
	return s
}

// Start binds and serves until Stop. It returns once the listener is
// accepting, with serve errors reported through errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		s.log.Info("admin api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Duration("took", time.Since(start)))
	})
}

// StatusResponse is the GET /v1/status body.
type StatusResponse struct {
	RotationActive   bool               `json:"rotation_active"`
	RotationOrder    []string           `json:"rotation_order,omitempty"`
	AutoSendAccounts []string           `json:"autosend_accounts,omitempty"`
	Accounts         []account.Snapshot `json:"accounts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		RotationActive:   s.deps.Driver.RotationActive(),
		RotationOrder:    s.deps.Driver.Order(),
		AutoSendAccounts: s.deps.Driver.AutoSendAccounts(),
		Accounts:         s.deps.Registry.Snapshots(time.Now()),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	if s.deps.Targets == nil {
		writeError(w, http.StatusNotImplemented, "target listing not available")
		return
	}
	targets, err := s.deps.Targets(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotImplemented, "send history disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 1000)
		}
	}
	records, err := s.deps.Store.RecentSends(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// SendRequest is the POST /v1/send body. Account is required; Content
// falls back to the configured message pool when empty.
type SendRequest struct {
	Account string `json:"account"`
	Content string `json:"content,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	acct, ok := s.deps.Registry.Get(req.Account)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown account: "+req.Account)
		return
	}
	content := req.Content
	if content == "" && s.deps.Content != nil {
		content = s.deps.Content()
	}
	res := s.deps.Sender.TrySend(r.Context(), acct, s.deps.TargetID, content)
	status := http.StatusOK
	if res.Kind != sender.Sent {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

// JoinRequest is the POST /v1/join body. An empty Account redeems the
// invite on every registered account.
type JoinRequest struct {
	Invite  string `json:"invite"`
	Account string `json:"account,omitempty"`
}

// JoinResult reports one account's redemption.
type JoinResult struct {
	Account string `json:"account"`
	Target  string `json:"target,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.Invite == "" {
		writeError(w, http.StatusBadRequest, "invite is required")
		return
	}

	accts := s.deps.Registry.List()
	if req.Account != "" {
		acct, ok := s.deps.Registry.Get(req.Account)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown account: "+req.Account)
			return
		}
		accts = []*account.Account{acct}
	}

	results := make([]JoinResult, 0, len(accts))
	for _, acct := range accts {
		res := JoinResult{Account: acct.Name()}
		tgt, err := acct.Session().JoinTarget(r.Context(), req.Invite)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Target = tgt.ID
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleAccountEnable(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		var err error
		if enable {
			err = s.deps.Registry.Enable(name)
		} else {
			err = s.deps.Registry.Disable(name)
		}
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": name, "enabled": enable})
	}
}

func (s *Server) handleAutoSend(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if start {
			if err := s.deps.Driver.StartAutoSend(name); err != nil {
				writeError(w, statusForDriverErr(err), err.Error())
				return
			}
		} else {
			s.deps.Driver.StopAutoSend(r.Context(), name)
		}
		writeJSON(w, http.StatusOK, map[string]any{"account": name, "autosend": start})
	}
}

func (s *Server) handleRotation(start bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if start {
			if err := s.deps.Driver.StartRotation(); err != nil {
				writeError(w, statusForDriverErr(err), err.Error())
				return
			}
		} else {
			s.deps.Driver.StopRotation(r.Context())
		}
		writeJSON(w, http.StatusOK, map[string]any{"rotation": start})
	}
}

func statusForDriverErr(err error) int {
	switch {
	case errors.Is(err, rotation.ErrModeConflict):
		return http.StatusConflict
	case errors.Is(err, rotation.ErrNoEnabledAccounts):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
