// Package store keeps local copies of mail messages in a kv.Store.
//
// Each message is serialized to JSON and cut into chunk records named
// <prefix><uuid>_<n>. A single metadata record at <prefix>metadata lists,
// per message, its chunk keys in order, when it was saved and its size in
// characters. The metadata record is the only source of truth for which
// messages exist; Cleanup deletes any namespaced key it does not reference.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/model"
)

const (
	DefaultPrefix    = "mail_storage_"
	DefaultChunkSize = 1024 * 1024
	DefaultCapacity  = 50 * 1024 * 1024

	metadataName = "metadata"
)

var (
	ErrQuotaExceeded  = errors.New("local storage quota exceeded")
	ErrCorrupt        = errors.New("stored message is incomplete")
	ErrInvalidMessage = errors.New("message id is required")
)

type Store struct {
	kv     kv.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// mu serializes writers; readers share it so they never see an index
	// entry whose chunks are being replaced.
	mu sync.RWMutex
}

func New(backend kv.Store, opts Options, logger *slog.Logger) *Store {
	defaults := DefaultOptions()
	if opts.Prefix == "" {
		opts.Prefix = defaults.Prefix
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaults.ChunkSize
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaults.Capacity
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		kv:     backend,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// MetadataKey is the key holding the index.
func (s *Store) MetadataKey() string {
	return s.opts.Prefix + metadataName
}

// Save stores msg, replacing any earlier copy with the same id. The chunks,
// the index and the removal of replaced chunks are one kv update.
func (s *Store) Save(ctx context.Context, msg model.StoredMessage) error {
	if strings.TrimSpace(msg.ID) == "" {
		return ErrInvalidMessage
	}
	text, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	size := int64(utf8.RuneCountInString(text))

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.kv.Update(ctx, func(tx kv.Tx) error {
		index, err := s.readIndex(ctx, tx)
		if err != nil {
			return err
		}
		pos := index.find(msg.ID)
		used := index.used()
		var stale []string
		if pos >= 0 {
			used -= index.Messages[pos].Size
			stale = index.Messages[pos].ChunkIDs
		}
		if s.opts.EnforceQuota && used+size > s.opts.Capacity {
			return fmt.Errorf("%w: %d of %d characters", ErrQuotaExceeded, used+size, s.opts.Capacity)
		}

		chunkIDs, err := s.writeChunks(ctx, tx, text)
		if err != nil {
			return err
		}
		entry := Entry{
			ID:        msg.ID,
			ChunkIDs:  chunkIDs,
			CreatedAt: s.now().UTC(),
			Size:      size,
		}
		if pos >= 0 {
			index.Messages[pos] = entry
		} else {
			index.Messages = append(index.Messages, entry)
		}
		if err := s.writeIndex(ctx, tx, index); err != nil {
			return err
		}
		for _, key := range stale {
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, kv.ErrQuotaExceeded) {
		return fmt.Errorf("save message %s: %w (%w)", msg.ID, ErrQuotaExceeded, err)
	}
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	s.logger.Debug("stored message", "id", msg.ID, "size", size)
	return nil
}

// Get returns the stored copy of id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id string) (*model.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.readIndex(ctx, s.kv)
	if err != nil {
		return nil, err
	}
	pos := index.find(id)
	if pos < 0 {
		return nil, nil
	}
	msg, err := s.load(ctx, index.Messages[pos])
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// All returns every stored message in the order they were first saved.
func (s *Store) All(ctx context.Context) ([]model.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.readIndex(ctx, s.kv)
	if err != nil {
		return nil, err
	}
	messages := make([]model.StoredMessage, 0, len(index.Messages))
	for _, entry := range index.Messages {
		msg, err := s.load(ctx, entry)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Entries returns the index without loading any chunk.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.readIndex(ctx, s.kv)
	if err != nil {
		return nil, err
	}
	if index.Messages == nil {
		return []Entry{}, nil
	}
	return index.Messages, nil
}

// Remove drops id from the index together with its chunks. It reports
// whether the message was stored.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	err := s.kv.Update(ctx, func(tx kv.Tx) error {
		index, err := s.readIndex(ctx, tx)
		if err != nil {
			return err
		}
		pos := index.find(id)
		if pos < 0 {
			return nil
		}
		entry := index.Messages[pos]
		index.Messages = append(index.Messages[:pos], index.Messages[pos+1:]...)
		if err := s.writeIndex(ctx, tx, index); err != nil {
			return err
		}
		for _, key := range entry.ChunkIDs {
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("remove message %s: %w", id, err)
	}
	return removed, nil
}

func (s *Store) StorageInfo(ctx context.Context) (StorageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.readIndex(ctx, s.kv)
	if err != nil {
		return StorageInfo{}, err
	}
	return StorageInfo{
		Used:     index.used(),
		Total:    s.opts.Capacity,
		Messages: len(index.Messages),
	}, nil
}

// Cleanup deletes every key under the prefix that is neither the index nor
// a chunk the index references, and returns how many it deleted.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	err := s.kv.Update(ctx, func(tx kv.Tx) error {
		removed = 0
		index, err := s.readIndex(ctx, tx)
		if err != nil {
			return err
		}
		referenced := map[string]struct{}{}
		for _, entry := range index.Messages {
			for _, key := range entry.ChunkIDs {
				referenced[key] = struct{}{}
			}
		}
		keys, err := tx.Keys(ctx, s.opts.Prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if key == s.MetadataKey() {
				continue
			}
			if _, ok := referenced[key]; ok {
				continue
			}
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup local storage: %w", err)
	}
	if removed > 0 {
		s.logger.Info("removed orphaned chunks", "count", removed)
	}
	return removed, nil
}

// Clear deletes every key under the prefix, the index included.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.kv.Update(ctx, func(tx kv.Tx) error {
		keys, err := tx.Keys(ctx, s.opts.Prefix)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear local storage: %w", err)
	}
	return nil
}

// readIndex treats a missing or unreadable index as an empty store.
func (s *Store) readIndex(ctx context.Context, r kv.Reader) (metadata, error) {
	raw, ok, err := r.Get(ctx, s.MetadataKey())
	if err != nil {
		return metadata{}, fmt.Errorf("read index: %w", err)
	}
	if !ok {
		return metadata{}, nil
	}
	var index metadata
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		s.logger.Warn("malformed storage index", "key", s.MetadataKey(), "error", err)
		return metadata{}, nil
	}
	return index, nil
}

func (s *Store) writeIndex(ctx context.Context, w kv.Writer, index metadata) error {
	if index.Messages == nil {
		index.Messages = []Entry{}
	}
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	return w.Set(ctx, s.MetadataKey(), string(data))
}

func (s *Store) writeChunks(ctx context.Context, w kv.Writer, text string) ([]string, error) {
	base := s.newID()
	chunks := splitChunks(text, s.opts.ChunkSize)
	keys := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		key := fmt.Sprintf("%s%s_%d", s.opts.Prefix, base, i)
		if err := w.Set(ctx, key, chunk); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Store) load(ctx context.Context, entry Entry) (model.StoredMessage, error) {
	chunks := make([]string, 0, len(entry.ChunkIDs))
	for _, key := range entry.ChunkIDs {
		chunk, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return model.StoredMessage{}, fmt.Errorf("read chunk %s: %w", key, err)
		}
		if !ok {
			return model.StoredMessage{}, fmt.Errorf("%w: %s missing chunk %s", ErrCorrupt, entry.ID, key)
		}
		chunks = append(chunks, chunk)
	}
	var msg model.StoredMessage
	if err := json.Unmarshal([]byte(joinChunks(chunks)), &msg); err != nil {
		return model.StoredMessage{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, entry.ID, err)
	}
	return msg, nil
}

// encodeMessage serializes msg as plain JSON text, leaving <, > and &
// unescaped so the recorded size matches the text a client would measure.
func encodeMessage(msg model.StoredMessage) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
