// Package localmail ties the message store to the user's rules and to the
// event hub. Everything that adds or removes local copies goes through it.
package localmail

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/prefs"
	"github.io/infrasutra/mailstash/internal/rules"
	"github.io/infrasutra/mailstash/internal/sse"
	"github.io/infrasutra/mailstash/internal/store"
)

type Service struct {
	store  *store.Store
	prefs  *prefs.Prefs
	hub    *sse.Hub
	logger *slog.Logger
	now    func() time.Time
}

func New(st *store.Store, p *prefs.Prefs, hub *sse.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{store: st, prefs: p, hub: hub, logger: logger, now: time.Now}
}

func (s *Service) Store() *store.Store {
	return s.store
}

// Keep categorizes msg, runs the enabled filters over it and saves it.
// Categories and the archived flag of an earlier copy are carried over.
func (s *Service) Keep(ctx context.Context, msg model.Message) (model.StoredMessage, error) {
	stored := model.NewStoredMessage(msg)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if previous, err := s.store.Get(ctx, stored.ID); err != nil {
		s.logger.Warn("read previous copy", "id", stored.ID, "error", err)
	} else if previous != nil {
		stored.CategoryIDs = slices.Clone(previous.CategoryIDs)
		stored.Archived = previous.Archived
	}

	categories, err := s.prefs.Categories(ctx)
	if err != nil {
		return model.StoredMessage{}, err
	}
	for _, id := range rules.Categorize(stored.Message, categories) {
		if !slices.Contains(stored.CategoryIDs, id) {
			stored.CategoryIDs = append(stored.CategoryIDs, id)
		}
	}
	filters, err := s.prefs.Filters(ctx)
	if err != nil {
		return model.StoredMessage{}, err
	}
	stored, applied := rules.Apply(stored, filters)

	if err := s.store.Save(ctx, stored); err != nil {
		return model.StoredMessage{}, err
	}
	s.logger.Info("kept message", "id", stored.ID, "from", stored.From.Address, "filters", len(applied))
	s.publish(sse.EventStored, map[string]any{
		"id":          stored.ID,
		"from":        stored.From.Address,
		"subject":     stored.Subject,
		"categoryIds": stored.CategoryIDs,
		"archived":    stored.Archived,
	})
	return stored, nil
}

// Import saves messages read from an export file as they are, giving each
// one without an id a new one.
func (s *Service) Import(ctx context.Context, messages []model.StoredMessage) ([]model.StoredMessage, error) {
	saved := make([]model.StoredMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if msg.CategoryIDs == nil {
			msg.CategoryIDs = []string{}
		}
		if err := s.store.Save(ctx, msg); err != nil {
			return saved, fmt.Errorf("import message %d: %w", len(saved)+1, err)
		}
		saved = append(saved, msg)
		s.publish(sse.EventStored, map[string]any{"id": msg.ID, "from": msg.From.Address, "subject": msg.Subject})
	}
	return saved, nil
}

// Update saves a changed copy of a stored message as is.
func (s *Service) Update(ctx context.Context, msg model.StoredMessage) error {
	if err := s.store.Save(ctx, msg); err != nil {
		return err
	}
	s.publish(sse.EventStored, map[string]any{
		"id":          msg.ID,
		"categoryIds": msg.CategoryIDs,
		"archived":    msg.Archived,
	})
	return nil
}

func (s *Service) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.Remove(ctx, id)
	if err != nil || !removed {
		return removed, err
	}
	s.publish(sse.EventRemoved, map[string]string{"id": id})
	return true, nil
}

func (s *Service) Cleanup(ctx context.Context) (int, error) {
	removed, err := s.store.Cleanup(ctx)
	if err != nil {
		return 0, err
	}
	s.publish(sse.EventCleanup, map[string]int{"removed": removed})
	return removed, nil
}

// AutoArchive archives stored messages older than the configured number of
// days and returns how many it changed.
func (s *Service) AutoArchive(ctx context.Context) (int, error) {
	days, err := s.prefs.AutoArchiveDays(ctx)
	if err != nil {
		return 0, err
	}
	messages, err := s.store.All(ctx)
	if err != nil {
		return 0, err
	}
	before := make([]bool, len(messages))
	for i, msg := range messages {
		before[i] = msg.Archived
	}
	changed := rules.AutoArchive(messages, days, s.now())
	for i, msg := range messages {
		if before[i] == msg.Archived {
			continue
		}
		if err := s.store.Save(ctx, msg); err != nil {
			return 0, err
		}
		s.publish(sse.EventStored, map[string]any{"id": msg.ID, "archived": true})
	}
	if changed > 0 {
		s.logger.Info("auto-archived messages", "count", changed, "days", days)
	}
	return changed, nil
}

// RunAutoArchive calls AutoArchive every interval until ctx is done.
func (s *Service) RunAutoArchive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.AutoArchive(ctx); err != nil {
				s.logger.Error("auto-archive", "error", err)
			}
		}
	}
}

func (s *Service) publish(kind string, data any) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(sse.Local, sse.Event{Type: kind, Data: data}); err != nil {
		s.logger.Warn("publish event", "type", kind, "error", err)
	}
}
