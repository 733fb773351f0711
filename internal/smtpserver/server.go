// Package smtpserver is the SMTP intake: every message delivered to it is
// parsed and kept in the local store.
package smtpserver

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/mailstash/internal/localmail"
	"github.io/infrasutra/mailstash/internal/mailfmt"
	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/store"
)

const (
	defaultDomain = "mailstash"

	maxMessageBytes = 25 << 20
	maxRecipients   = 100
	ioTimeout       = 15 * time.Second
	keepTimeout     = 30 * time.Second
)

var (
	errAuthDisabled    = errors.New("authentication not enabled")
	errUnsupportedMech = errors.New("unsupported authentication mechanism")
	errBadCredentials  = errors.New("invalid credentials")

	errStoreFull = &smtp.SMTPError{
		Code:         552,
		EnhancedCode: smtp.EnhancedCode{5, 3, 4},
		Message:      "local storage is full",
	}
)

// AuthConfig turns on PLAIN authentication with a single user.
type AuthConfig struct {
	Enabled  bool
	Username string
	Password string
}

func (c AuthConfig) accepts(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.Password)) == 1
	return userOK && passOK
}

type Server struct {
	smtp   *smtp.Server
	logger *slog.Logger
}

func New(svc *localmail.Service, logger *slog.Logger, addr string, authCfg AuthConfig) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := smtp.NewServer(&backend{svc: svc, logger: logger, auth: authCfg})
	server.Addr = addr
	server.Domain = defaultDomain
	server.AllowInsecureAuth = true
	server.ReadTimeout = ioTimeout
	server.WriteTimeout = ioTimeout
	server.MaxRecipients = maxRecipients
	server.MaxMessageBytes = maxMessageBytes

	return &Server{smtp: server, logger: logger}
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("smtp intake listening", "addr", s.smtp.Addr)
	return s.smtp.ListenAndServe()
}

func (s *Server) Close() error {
	return s.smtp.Close()
}

type backend struct {
	svc    *localmail.Service
	logger *slog.Logger
	auth   AuthConfig
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{backend: b, remote: remote}, nil
}

// session holds one SMTP transaction. user is set once PLAIN succeeds.
type session struct {
	backend *backend
	remote  string
	user    string
	from    string
	to      []string
}

func (s *session) AuthMechanisms() []string {
	if s.backend.auth.Enabled {
		return []string{sasl.Plain}
	}
	return nil
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.auth.Enabled {
		return nil, errAuthDisabled
	}
	if mech != sasl.Plain {
		return nil, errUnsupportedMech
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if !s.backend.auth.accepts(username, password) {
			s.backend.logger.Warn("smtp auth rejected", "username", username, "remote", s.remote)
			return errBadCredentials
		}
		s.user = username
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	s.from = normalizeEmail(from)
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if err := s.requireAuth(); err != nil {
		return err
	}
	s.to = append(s.to, normalizeEmail(to))
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	msg, err := mailfmt.ParseRaw(bytes.NewReader(data))
	if err != nil {
		// ParseRaw still returns what it could read.
		s.backend.logger.Warn("parse smtp message", "error", err, "remote", s.remote)
	}
	withEnvelope(&msg, s.from, s.to)

	ctx, cancel := context.WithTimeout(context.Background(), keepTimeout)
	defer cancel()
	if _, err := s.backend.svc.Keep(ctx, msg.Message); err != nil {
		s.backend.logger.Error("keep smtp message", "id", msg.ID, "error", err)
		if errors.Is(err, store.ErrQuotaExceeded) {
			return errStoreFull
		}
		return err
	}
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}

func (s *session) requireAuth() error {
	if s.backend.auth.Enabled && s.user == "" {
		return smtp.ErrAuthRequired
	}
	return nil
}

// withEnvelope fills what the headers left out from the SMTP envelope and
// keys the message by its Message-ID when it has one, so a redelivery
// replaces the earlier copy.
func withEnvelope(msg *model.StoredMessage, from string, to []string) {
	if msg.MsgID != "" {
		msg.ID = msg.MsgID
	}
	if msg.From.Address == "" {
		msg.From.Address = from
	}
	if msg.From.Address == "" {
		msg.From.Address = "unknown@" + defaultDomain
	}
	if len(msg.To) == 0 {
		for _, addr := range to {
			if addr != "" {
				msg.To = append(msg.To, model.Address{Address: addr})
			}
		}
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
