package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.io/infrasutra/mailstash/internal/accounts"
	"github.io/infrasutra/mailstash/internal/auth"
	"github.io/infrasutra/mailstash/internal/localmail"
	"github.io/infrasutra/mailstash/internal/mailtm"
	"github.io/infrasutra/mailstash/internal/prefs"
	"github.io/infrasutra/mailstash/internal/rules"
	"github.io/infrasutra/mailstash/internal/sse"
	"github.io/infrasutra/mailstash/internal/store"
)

const maxImportBytes = 25 << 20

type Server struct {
	local    *localmail.Service
	prefs    *prefs.Prefs
	accounts *accounts.Manager
	remote   *mailtm.Client
	auth     *auth.Manager
	hub      *sse.Hub
	logger   *slog.Logger
	mux      *http.ServeMux
	now      func() time.Time
}

type Deps struct {
	Local    *localmail.Service
	Prefs    *prefs.Prefs
	Accounts *accounts.Manager
	Remote   *mailtm.Client
	Auth     *auth.Manager
	Hub      *sse.Hub
	Logger   *slog.Logger
}

func NewServer(deps Deps) *Server {
	server := &Server{
		local:    deps.Local,
		prefs:    deps.Prefs,
		accounts: deps.Accounts,
		remote:   deps.Remote,
		auth:     deps.Auth,
		hub:      deps.Hub,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if server.logger == nil {
		server.logger = slog.New(slog.DiscardHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", server.handleLogin)
	mux.HandleFunc("POST /api/register", server.handleRegister)
	mux.HandleFunc("POST /api/logout", server.handleLogout)
	mux.HandleFunc("GET /api/me", server.handleMe)
	mux.HandleFunc("GET /api/domains", server.handleDomains)

	mux.HandleFunc("GET /api/accounts", server.handleAccounts)
	mux.HandleFunc("POST /api/accounts/{id}/switch", server.handleAccountSwitch)
	mux.HandleFunc("DELETE /api/accounts/{id}", server.handleAccountDelete)

	mux.HandleFunc("GET /api/messages", server.handleRemoteList)
	mux.HandleFunc("GET /api/messages/{id}", server.handleRemoteGet)
	mux.HandleFunc("DELETE /api/messages/{id}", server.handleRemoteDelete)
	mux.HandleFunc("POST /api/messages/{id}/seen", server.handleRemoteSeen)
	mux.HandleFunc("POST /api/messages/{id}/save", server.handleRemoteSave)

	mux.HandleFunc("GET /api/local", server.handleLocalList)
	mux.HandleFunc("GET /api/local/info", server.handleLocalInfo)
	mux.HandleFunc("GET /api/local/export.mbox", server.handleLocalExportMBOX)
	mux.HandleFunc("POST /api/local/import", server.handleLocalImport)
	mux.HandleFunc("POST /api/local/cleanup", server.handleLocalCleanup)
	mux.HandleFunc("POST /api/local/auto-archive", server.handleLocalAutoArchive)
	mux.HandleFunc("GET /api/local/{id}", server.handleLocalGet)
	mux.HandleFunc("PATCH /api/local/{id}", server.handleLocalUpdate)
	mux.HandleFunc("DELETE /api/local/{id}", server.handleLocalDelete)
	mux.HandleFunc("GET /api/local/{id}/eml", server.handleLocalEML)

	mux.HandleFunc("GET /api/prefs", server.handlePrefs)
	mux.HandleFunc("PUT /api/prefs/theme", server.handleSetTheme)
	mux.HandleFunc("POST /api/prefs/theme/toggle", server.handleToggleTheme)
	mux.HandleFunc("POST /api/prefs/categories", server.handleAddCategory)
	mux.HandleFunc("DELETE /api/prefs/categories/{id}", server.handleDeleteCategory)
	mux.HandleFunc("POST /api/prefs/filters", server.handleAddFilter)
	mux.HandleFunc("DELETE /api/prefs/filters/{id}", server.handleDeleteFilter)
	mux.HandleFunc("PUT /api/prefs/filters/{id}/enabled", server.handleFilterEnabled)
	mux.HandleFunc("POST /api/prefs/pinned", server.handlePin)
	mux.HandleFunc("DELETE /api/prefs/pinned", server.handleUnpin)
	mux.HandleFunc("PUT /api/prefs/auto-archive", server.handleSetAutoArchive)

	mux.HandleFunc("GET /api/stream", server.handleStream)
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.HandleFunc("GET /ready", server.handleReady)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(sse.Local)
	defer unsubscribe()
	s.logger.Debug("stream opened", "subscribers", s.hub.Subscribers(sse.Local))

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(payload)
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.local.Store().StorageInfo(r.Context()); err != nil {
		s.logger.Error("readiness check", "error", err)
		s.respondText(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respondText(w, http.StatusOK, "ready")
}

// respondError maps package errors to status codes.
func (s *Server) respondError(w http.ResponseWriter, err error, action string) {
	var apiErr *mailtm.APIError
	switch {
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 499 {
			status = http.StatusBadGateway
		}
		http.Error(w, apiErr.Description, status)
	case errors.Is(err, store.ErrQuotaExceeded):
		http.Error(w, "local storage is full", http.StatusInsufficientStorage)
	case errors.Is(err, store.ErrInvalidMessage),
		errors.Is(err, rules.ErrInvalidFilter),
		errors.Is(err, prefs.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, prefs.ErrNotFound), errors.Is(err, accounts.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		s.logger.Error(action, "error", err)
		http.Error(w, "unable to "+action, http.StatusInternalServerError)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}
