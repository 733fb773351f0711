package smtpserver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"

	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/localmail"
	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/prefs"
	"github.io/infrasutra/mailstash/internal/sse"
	"github.io/infrasutra/mailstash/internal/store"
)

func newTestBackend(t *testing.T, opts store.Options) (*backend, *store.Store) {
	t.Helper()
	kvs := kv.NewMemory(0)
	st := store.New(kvs, opts, nil)
	svc := localmail.New(st, prefs.New(kvs, nil), sse.NewHub(), nil)
	return &backend{
		svc:    svc,
		logger: slog.New(slog.DiscardHandler),
		auth:   AuthConfig{Enabled: true, Username: "user", Password: "pass"},
	}, st
}

const rawMessage = "From: Shop <orders@shop.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Please confirm your order\r\n" +
	"Message-ID: <order-1@shop.com>\r\n" +
	"\r\n" +
	"Thanks for shopping.\r\n"

func TestDataKeepsMessage(t *testing.T) {
	b, st := newTestBackend(t, store.Options{})
	s := &session{backend: b, user: "user"}
	if err := s.Mail("Orders@Shop.com", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Rcpt("me@example.com", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Data(strings.NewReader(rawMessage)); err != nil {
		t.Fatalf("Data: %v", err)
	}
	// a second delivery of the same Message-ID replaces the first
	if err := s.Data(strings.NewReader(rawMessage)); err != nil {
		t.Fatalf("Data: %v", err)
	}

	ctx := context.Background()
	all, err := st.All(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("All() = %d messages, %v", len(all), err)
	}
	msg := all[0]
	if msg.ID != "order-1@shop.com" || msg.Subject != "Please confirm your order" {
		t.Errorf("stored = %+v", msg.Message)
	}
	if len(msg.CategoryIDs) != 1 || msg.CategoryIDs[0] != "confirmations" {
		t.Errorf("categoryIds = %v", msg.CategoryIDs)
	}
}

func TestDataQuotaExceeded(t *testing.T) {
	b, _ := newTestBackend(t, store.Options{Capacity: 10, EnforceQuota: true})
	s := &session{backend: b, user: "user"}
	err := s.Data(strings.NewReader(rawMessage))
	var smtpErr *smtp.SMTPError
	if !errors.As(err, &smtpErr) || smtpErr.Code != 552 {
		t.Errorf("Data over quota = %v, want 552", err)
	}
}

func TestAuthRequired(t *testing.T) {
	b, _ := newTestBackend(t, store.Options{})
	s := &session{backend: b}
	if err := s.Mail("a@x.com", nil); err != smtp.ErrAuthRequired {
		t.Errorf("Mail without auth = %v, want ErrAuthRequired", err)
	}
	if got := s.AuthMechanisms(); len(got) != 1 || got[0] != "PLAIN" {
		t.Errorf("AuthMechanisms() = %v", got)
	}
	server, err := s.Auth("PLAIN")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := server.Next([]byte("\x00user\x00wrong")); err == nil || s.user != "" {
		t.Error("wrong password accepted")
	}
	if _, err := s.Auth("LOGIN"); err != errUnsupportedMech {
		t.Errorf("Auth(LOGIN) = %v", err)
	}
	server, _ = s.Auth("PLAIN")
	if _, _, err := server.Next([]byte("\x00user\x00pass")); err != nil || s.user != "user" {
		t.Errorf("valid credentials rejected: %v", err)
	}
}

func TestWithEnvelope(t *testing.T) {
	msg := model.NewStoredMessage(model.Message{ID: "generated"})
	withEnvelope(&msg, "sender@x.com", []string{"a@y.com", "", "b@y.com"})
	if msg.ID != "generated" || msg.From.Address != "sender@x.com" {
		t.Errorf("msg = %+v", msg.Message)
	}
	if got := strings.Join(msg.Addresses(), ","); got != "a@y.com,b@y.com" {
		t.Errorf("to = %s", got)
	}

	anonymous := model.NewStoredMessage(model.Message{ID: "x"})
	withEnvelope(&anonymous, "", nil)
	if anonymous.From.Address != "unknown@mailstash" {
		t.Errorf("from = %q", anonymous.From.Address)
	}
}

func TestAuthDisabled(t *testing.T) {
	b, _ := newTestBackend(t, store.Options{})
	b.auth.Enabled = false
	s := &session{backend: b}
	if got := s.AuthMechanisms(); got != nil {
		t.Errorf("AuthMechanisms() = %v, want none", got)
	}
	if _, err := s.Auth("PLAIN"); err != errAuthDisabled {
		t.Errorf("Auth = %v, want errAuthDisabled", err)
	}
	if err := s.Mail(" A@X.com ", nil); err != nil || s.from != "a@x.com" {
		t.Errorf("Mail = %v, from %q", err, s.from)
	}
	s.Reset()
	if s.from != "" || s.to != nil {
		t.Errorf("Reset left from=%q to=%v", s.from, s.to)
	}
}
