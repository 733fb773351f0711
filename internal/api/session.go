package api

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.io/infrasutra/mailstash/internal/auth"
	"github.io/infrasutra/mailstash/internal/mailtm"
	"github.io/infrasutra/mailstash/internal/model"
)

var errNoAccount = errors.New("no active account")

type credentials struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Account  *model.Account  `json:"account"`
	Accounts []model.Account `json:"accounts"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	address, err := auth.NormalizeAddress(payload.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Password == "" {
		http.Error(w, "password is required", http.StatusBadRequest)
		return
	}
	s.login(w, r, address, payload.Password)
}

// handleRegister creates the mailbox remotely and logs into it.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if !s.decodeJSON(w, r, &payload) {
		return
	}
	address, err := auth.NormalizeAddress(payload.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(payload.Password) < 6 {
		http.Error(w, "password must be at least 6 characters", http.StatusBadRequest)
		return
	}
	if _, err := s.remote.CreateAccount(r.Context(), address, payload.Password); err != nil {
		s.respondError(w, err, "create account")
		return
	}
	s.login(w, r, address, payload.Password)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, address, password string) {
	ctx := r.Context()
	tok, err := s.remote.Login(ctx, address, password)
	if err != nil {
		s.respondError(w, err, "log in")
		return
	}
	user, err := s.remote.Me(ctx, tok)
	if err != nil {
		s.respondError(w, err, "load account")
		return
	}
	account, err := s.accounts.Add(ctx, model.Account{ID: user.ID, Address: user.Address}, tok)
	if err != nil {
		s.respondError(w, err, "save account")
		return
	}

	session, _ := s.session(r)
	session = session.With(account.ID)
	now := s.now()
	token, err := s.auth.Issue(session.Accounts, now)
	if err != nil {
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, now)
	s.logger.Info("logged in", "address", account.Address)
	s.respondSession(w, r, session, &account)
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	active, err := s.activeAccount(r, session)
	if err != nil && !errors.Is(err, errNoAccount) {
		s.respondError(w, err, "load account")
		return
	}
	s.respondSession(w, r, session, active)
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.remote.Domains(r.Context())
	if err != nil {
		s.respondError(w, err, "list domains")
		return
	}
	s.respondJSON(w, http.StatusOK, domains)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := s.sessionAccounts(r, session)
	if err != nil {
		s.respondError(w, err, "list accounts")
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleAccountSwitch(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	if !session.Has(id) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	account, _, err := s.accounts.Switch(r.Context(), id)
	if err != nil {
		s.respondError(w, err, "switch account")
		return
	}
	s.respondSession(w, r, session, &account)
}

// handleAccountDelete forgets the account locally. The remote mailbox is
// left alone.
func (s *Server) handleAccountDelete(w http.ResponseWriter, r *http.Request) {
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	if !session.Has(id) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := s.accounts.Remove(r.Context(), id); err != nil {
		s.respondError(w, err, "remove account")
		return
	}
	session = session.Without(id)
	if len(session.Accounts) == 0 {
		s.clearSessionCookie(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	now := s.now()
	token, err := s.auth.Issue(session.Accounts, now)
	if err != nil {
		http.Error(w, "unable to create session", http.StatusInternalServerError)
		return
	}
	s.setSessionCookie(w, token, now)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, session auth.Session, active *model.Account) {
	list, err := s.sessionAccounts(r, session)
	if err != nil {
		s.respondError(w, err, "list accounts")
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse{Account: active, Accounts: list})
}

func (s *Server) sessionAccounts(r *http.Request, session auth.Session) ([]model.Account, error) {
	all, err := s.accounts.List(r.Context())
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(a model.Account) bool { return !session.Has(a.ID) }), nil
}

// activeAccount returns the active account when this session may use it,
// otherwise the first account of the session.
func (s *Server) activeAccount(r *http.Request, session auth.Session) (*model.Account, error) {
	active, err := s.accounts.Active(r.Context())
	if err != nil {
		return nil, err
	}
	if active != nil && session.Has(active.ID) {
		return active, nil
	}
	list, err := s.sessionAccounts(r, session)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errNoAccount
	}
	return &list[0], nil
}

// remoteToken resolves the bearer token of the account the request acts as.
func (s *Server) remoteToken(w http.ResponseWriter, r *http.Request) (mailtm.Token, bool) {
	session, err := s.session(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	account, err := s.activeAccount(r, session)
	if errors.Is(err, errNoAccount) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if err != nil {
		s.respondError(w, err, "load account")
		return "", false
	}
	tok, err := s.accounts.Token(r.Context(), account.ID)
	if err != nil {
		s.logger.Warn("account token unavailable", "account", account.ID, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return tok, true
}

func (s *Server) session(r *http.Request) (auth.Session, error) {
	cookie, err := r.Cookie(s.auth.CookieName())
	if err != nil {
		return auth.Session{}, errors.New("missing session")
	}
	return s.auth.Parse(cookie.Value, s.now())
}

func (s *Server) setSessionCookie(w http.ResponseWriter, value string, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    value,
		Path:     "/",
		MaxAge:   int(s.auth.MaxAge().Seconds()),
		Expires:  now.Add(s.auth.MaxAge()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.auth.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
