// Package accounts remembers the remote mailboxes the user has logged into
// and which one is active. Bearer tokens go to the keyring; only ids and
// addresses are written to the kv store.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/99designs/keyring"

	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/mailtm"
	"github.io/infrasutra/mailstash/internal/model"
)

const (
	KeyAccounts = "storedAccounts"
	KeyActive   = "activeAccount"
)

var ErrNotFound = errors.New("account not found")

type Manager struct {
	kv   kv.Store
	ring keyring.Keyring
	now  func() time.Time
	mu   sync.Mutex
}

func New(backend kv.Store, ring keyring.Keyring) *Manager {
	return &Manager{kv: backend, ring: ring, now: time.Now}
}

// Add stores account and its token, replacing an account with the same id,
// and makes it the active one.
func (m *Manager) Add(ctx context.Context, account model.Account, tok mailtm.Token) (model.Account, error) {
	if account.ID == "" {
		return model.Account{}, errors.New("account id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ring.Set(keyring.Item{
		Key:         tokenKey(account.ID),
		Data:        []byte(tok),
		Label:       "mailstash " + account.Address,
		Description: "mail.tm bearer token",
	}); err != nil {
		return model.Account{}, fmt.Errorf("setting credential for %s: %w", account.ID, err)
	}

	list, err := m.list(ctx)
	if err != nil {
		return model.Account{}, err
	}
	account.LastActive = m.now().UTC()
	if i := slices.IndexFunc(list, func(a model.Account) bool { return a.ID == account.ID }); i >= 0 {
		list[i] = account
	} else {
		list = append(list, account)
	}
	if err := m.write(ctx, list, account.ID); err != nil {
		return model.Account{}, err
	}
	return account, nil
}

func (m *Manager) List(ctx context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(ctx)
}

// Active returns the active account, or nil when there is none.
func (m *Manager) Active(ctx context.Context) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.activeID(ctx)
	if err != nil || id == "" {
		return nil, err
	}
	list, err := m.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, account := range list {
		if account.ID == id {
			return &account, nil
		}
	}
	return nil, nil
}

// Switch makes id the active account and returns it with its token.
func (m *Manager) Switch(ctx context.Context, id string) (model.Account, mailtm.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, err := m.list(ctx)
	if err != nil {
		return model.Account{}, "", err
	}
	i := slices.IndexFunc(list, func(a model.Account) bool { return a.ID == id })
	if i < 0 {
		return model.Account{}, "", fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	tok, err := m.token(id)
	if err != nil {
		return model.Account{}, "", err
	}
	list[i].LastActive = m.now().UTC()
	if err := m.write(ctx, list, id); err != nil {
		return model.Account{}, "", err
	}
	return list[i], tok, nil
}

// Remove forgets id and its token. Removing the active account leaves no
// account active.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, err := m.list(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(list, func(a model.Account) bool { return a.ID == id })
	if len(kept) == len(list) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err := m.ring.Remove(tokenKey(id)); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential for %s: %w", id, err)
	}
	active, err := m.activeID(ctx)
	if err != nil {
		return err
	}
	if active == id {
		active = ""
	}
	return m.write(ctx, kept, active)
}

func (m *Manager) Token(_ context.Context, id string) (mailtm.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token(id)
}

func (m *Manager) token(id string) (mailtm.Token, error) {
	item, err := m.ring.Get(tokenKey(id))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("token for %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential for %s: %w", id, err)
	}
	return mailtm.Token(item.Data), nil
}

func (m *Manager) list(ctx context.Context) ([]model.Account, error) {
	raw, ok, err := m.kv.Get(ctx, KeyAccounts)
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	list := []model.Account{}
	if !ok {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return []model.Account{}, nil
	}
	return list, nil
}

func (m *Manager) activeID(ctx context.Context) (string, error) {
	raw, ok, err := m.kv.Get(ctx, KeyActive)
	if err != nil {
		return "", fmt.Errorf("read active account: %w", err)
	}
	if !ok {
		return "", nil
	}
	var id string
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return "", nil
	}
	return id, nil
}

func (m *Manager) write(ctx context.Context, list []model.Account, active string) error {
	accounts, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	return m.kv.Update(ctx, func(tx kv.Tx) error {
		if err := tx.Set(ctx, KeyAccounts, string(accounts)); err != nil {
			return err
		}
		if active == "" {
			return tx.Delete(ctx, KeyActive)
		}
		data, _ := json.Marshal(active)
		return tx.Set(ctx, KeyActive, string(data))
	})
}

func tokenKey(id string) string {
	return "account:" + id
}
