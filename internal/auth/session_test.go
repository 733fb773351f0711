package auth

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	m, err := New("secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1700000000, 0)
	token, err := m.Issue([]string{"a1", "a2"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	session, err := m.Parse(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(session.Accounts, []string{"a1", "a2"}) || !session.Has("a2") || session.Has("a3") {
		t.Errorf("session = %+v", session)
	}

	if _, err := m.Parse(token, now.Add(2*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Errorf("Parse(expired) = %v, want ErrExpired", err)
	}
	other, _ := New("other", time.Hour)
	if _, err := other.Parse(token, now); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Parse with wrong secret = %v, want ErrInvalidSession", err)
	}
	for _, bad := range []string{"", "abc", token + "x", "." + token} {
		if _, err := m.Parse(bad, now); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("Parse(%q) = %v, want ErrInvalidSession", bad, err)
		}
	}
}

func TestSessionWithWithout(t *testing.T) {
	s := Session{Accounts: []string{"a1"}, IssuedAt: 5}
	added := s.With("a2").With("a2")
	if !reflect.DeepEqual(added.Accounts, []string{"a1", "a2"}) {
		t.Errorf("With() = %v", added.Accounts)
	}
	if len(s.Accounts) != 1 {
		t.Errorf("With modified the receiver: %v", s.Accounts)
	}
	if removed := added.Without("a1"); !reflect.DeepEqual(removed.Accounts, []string{"a2"}) {
		t.Errorf("Without() = %v", removed.Accounts)
	}
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{" Me@Example.COM ", "me@example.com", true},
		{"", "", false},
		{"not an address", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeAddress(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, %v", tt.in, got, err)
		}
	}
}
