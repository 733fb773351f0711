// Package prefs stores user preferences as JSON values in the kv store,
// outside the message namespace.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/rules"
)

const (
	KeyCategories      = "categories"
	KeyPinned          = "pinnedAddresses"
	KeyFilters         = "emailFilters"
	KeyTheme           = "theme"
	KeyAutoArchiveDays = "autoArchiveDays"

	DefaultTheme           = model.ThemeDark
	DefaultAutoArchiveDays = 30
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid preference")
)

func DefaultCategories() []model.Category {
	return []model.Category{
		{ID: "adjustments", Name: "Adjustments", Keywords: []string{"adjustment", "modify", "change"}},
		{ID: "confirmations", Name: "Confirmations", Keywords: []string{"confirm", "verification", "approved"}},
	}
}

type Prefs struct {
	kv     kv.Store
	logger *slog.Logger
	newID  func() string
	mu     sync.Mutex
}

func New(backend kv.Store, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prefs{kv: backend, logger: logger, newID: uuid.NewString}
}

func (p *Prefs) Categories(ctx context.Context) ([]model.Category, error) {
	return load(ctx, p, KeyCategories, DefaultCategories())
}

// AddCategory keeps the trimmed, non-empty keywords and assigns a new id.
func (p *Prefs) AddCategory(ctx context.Context, name string, keywords []string) (model.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Category{}, fmt.Errorf("%w: category name is required", ErrInvalid)
	}
	category := model.Category{ID: p.newID(), Name: name, Keywords: []string{}}
	for _, keyword := range keywords {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			category.Keywords = append(category.Keywords, keyword)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	categories, err := p.Categories(ctx)
	if err != nil {
		return model.Category{}, err
	}
	if err := save(ctx, p, KeyCategories, append(categories, category)); err != nil {
		return model.Category{}, err
	}
	return category, nil
}

func (p *Prefs) DeleteCategory(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	categories, err := p.Categories(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(categories, func(c model.Category) bool { return c.ID == id })
	if len(kept) == len(categories) {
		return fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return save(ctx, p, KeyCategories, kept)
}

func (p *Prefs) Pinned(ctx context.Context) ([]string, error) {
	return load(ctx, p, KeyPinned, []string{})
}

func (p *Prefs) Pin(ctx context.Context, address string) ([]string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pinned, err := p.Pinned(ctx)
	if err != nil {
		return nil, err
	}
	if slices.Contains(pinned, address) {
		return pinned, nil
	}
	pinned = append(pinned, address)
	return pinned, save(ctx, p, KeyPinned, pinned)
}

func (p *Prefs) Unpin(ctx context.Context, address string) ([]string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	p.mu.Lock()
	defer p.mu.Unlock()
	pinned, err := p.Pinned(ctx)
	if err != nil {
		return nil, err
	}
	pinned = slices.DeleteFunc(pinned, func(a string) bool { return a == address })
	return pinned, save(ctx, p, KeyPinned, pinned)
}

func (p *Prefs) Filters(ctx context.Context) ([]model.Filter, error) {
	return load(ctx, p, KeyFilters, []model.Filter{})
}

// AddFilter validates filter, gives it a new id and appends it. A filter
// without an action marks messages read.
func (p *Prefs) AddFilter(ctx context.Context, filter model.Filter) (model.Filter, error) {
	if filter.Action == "" {
		filter.Action = model.ActionMarkRead
	}
	if filter.Conditions == nil {
		filter.Conditions = []model.FilterCondition{}
	}
	if err := rules.Validate(filter); err != nil {
		return model.Filter{}, err
	}
	filter.ID = p.newID()

	p.mu.Lock()
	defer p.mu.Unlock()
	filters, err := p.Filters(ctx)
	if err != nil {
		return model.Filter{}, err
	}
	if err := save(ctx, p, KeyFilters, append(filters, filter)); err != nil {
		return model.Filter{}, err
	}
	return filter, nil
}

func (p *Prefs) DeleteFilter(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	filters, err := p.Filters(ctx)
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(filters, func(f model.Filter) bool { return f.ID == id })
	if len(kept) == len(filters) {
		return fmt.Errorf("filter %s: %w", id, ErrNotFound)
	}
	return save(ctx, p, KeyFilters, kept)
}

func (p *Prefs) SetFilterEnabled(ctx context.Context, id string, enabled bool) (model.Filter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	filters, err := p.Filters(ctx)
	if err != nil {
		return model.Filter{}, err
	}
	for i := range filters {
		if filters[i].ID != id {
			continue
		}
		filters[i].Enabled = enabled
		if err := save(ctx, p, KeyFilters, filters); err != nil {
			return model.Filter{}, err
		}
		return filters[i], nil
	}
	return model.Filter{}, fmt.Errorf("filter %s: %w", id, ErrNotFound)
}

func (p *Prefs) Theme(ctx context.Context) (model.Theme, error) {
	theme, err := load(ctx, p, KeyTheme, DefaultTheme)
	if err != nil {
		return "", err
	}
	if theme != model.ThemeDark && theme != model.ThemeLight {
		return DefaultTheme, nil
	}
	return theme, nil
}

func (p *Prefs) SetTheme(ctx context.Context, theme model.Theme) error {
	if theme != model.ThemeDark && theme != model.ThemeLight {
		return fmt.Errorf("%w: theme %q", ErrInvalid, theme)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return save(ctx, p, KeyTheme, theme)
}

func (p *Prefs) ToggleTheme(ctx context.Context) (model.Theme, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	theme, err := p.Theme(ctx)
	if err != nil {
		return "", err
	}
	next := model.ThemeLight
	if theme == model.ThemeLight {
		next = model.ThemeDark
	}
	return next, save(ctx, p, KeyTheme, next)
}

func (p *Prefs) AutoArchiveDays(ctx context.Context) (int, error) {
	days, err := load(ctx, p, KeyAutoArchiveDays, DefaultAutoArchiveDays)
	if err != nil {
		return 0, err
	}
	return max(days, 1), nil
}

// SetAutoArchiveDays stores days, raised to at least 1, and returns the
// stored value.
func (p *Prefs) SetAutoArchiveDays(ctx context.Context, days int) (int, error) {
	days = max(days, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return days, save(ctx, p, KeyAutoArchiveDays, days)
}

// load decodes key, falling back to fallback when it is unset or unreadable.
func load[T any](ctx context.Context, p *Prefs, key string, fallback T) (T, error) {
	raw, ok, err := p.kv.Get(ctx, key)
	if err != nil {
		return fallback, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return fallback, nil
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		p.logger.Warn("malformed preference", "key", key, "error", err)
		return fallback, nil
	}
	return value, nil
}

func save[T any](ctx context.Context, p *Prefs, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
