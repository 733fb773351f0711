package prefs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/model"
	"github.io/infrasutra/mailstash/internal/rules"
)

func newTestPrefs(t *testing.T) (*Prefs, *kv.Memory) {
	t.Helper()
	backend := kv.NewMemory(0)
	p := New(backend, nil)
	n := 0
	p.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return p, backend
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPrefs(t)

	categories, err := p.Categories(ctx)
	if err != nil || !reflect.DeepEqual(categories, DefaultCategories()) {
		t.Errorf("Categories() = %v, %v; want defaults", categories, err)
	}
	if theme, _ := p.Theme(ctx); theme != model.ThemeDark {
		t.Errorf("Theme() = %q, want dark", theme)
	}
	if days, _ := p.AutoArchiveDays(ctx); days != DefaultAutoArchiveDays {
		t.Errorf("AutoArchiveDays() = %d, want %d", days, DefaultAutoArchiveDays)
	}
	if pinned, _ := p.Pinned(ctx); len(pinned) != 0 {
		t.Errorf("Pinned() = %v, want empty", pinned)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	ctx := context.Background()
	p, backend := newTestPrefs(t)
	for _, key := range []string{KeyCategories, KeyTheme, KeyAutoArchiveDays, KeyFilters} {
		if err := backend.Set(ctx, key, "{broken"); err != nil {
			t.Fatal(err)
		}
	}
	if categories, err := p.Categories(ctx); err != nil || len(categories) != 2 {
		t.Errorf("Categories() = %v, %v", categories, err)
	}
	if theme, _ := p.Theme(ctx); theme != DefaultTheme {
		t.Errorf("Theme() = %q", theme)
	}
	if days, _ := p.AutoArchiveDays(ctx); days != DefaultAutoArchiveDays {
		t.Errorf("AutoArchiveDays() = %d", days)
	}
}

func TestCategories(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPrefs(t)

	if _, err := p.AddCategory(ctx, "  ", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("AddCategory(blank) = %v, want ErrInvalid", err)
	}
	added, err := p.AddCategory(ctx, " Travel ", []string{"flight", " ", " hotel "})
	if err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	want := model.Category{ID: "id-1", Name: "Travel", Keywords: []string{"flight", "hotel"}}
	if !reflect.DeepEqual(added, want) {
		t.Errorf("AddCategory() = %+v, want %+v", added, want)
	}
	if err := p.DeleteCategory(ctx, "adjustments"); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	categories, _ := p.Categories(ctx)
	if len(categories) != 2 || categories[0].ID != "confirmations" || categories[1].ID != "id-1" {
		t.Errorf("Categories() = %+v", categories)
	}
	if err := p.DeleteCategory(ctx, "adjustments"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteCategory = %v, want ErrNotFound", err)
	}
}

func TestPinned(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPrefs(t)
	for _, addr := range []string{"Me@Example.com", "me@example.com ", "other@example.com"} {
		if _, err := p.Pin(ctx, addr); err != nil {
			t.Fatalf("Pin(%q): %v", addr, err)
		}
	}
	pinned, _ := p.Pinned(ctx)
	if !reflect.DeepEqual(pinned, []string{"me@example.com", "other@example.com"}) {
		t.Errorf("Pinned() = %v", pinned)
	}
	pinned, err := p.Unpin(ctx, "ME@example.com")
	if err != nil || !reflect.DeepEqual(pinned, []string{"other@example.com"}) {
		t.Errorf("Unpin() = %v, %v", pinned, err)
	}
	if _, err := p.Pin(ctx, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("Pin(empty) = %v, want ErrInvalid", err)
	}
}

func TestFilters(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPrefs(t)

	filter, err := p.AddFilter(ctx, model.Filter{
		Name:       "newsletters",
		Conditions: []model.FilterCondition{{Field: model.FieldSender, Operator: model.OpContains, Value: "news"}},
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("AddFilter: %v", err)
	}
	if filter.ID != "id-1" || filter.Action != model.ActionMarkRead {
		t.Errorf("AddFilter() = %+v, want id-1 with mark-read", filter)
	}
	if _, err := p.AddFilter(ctx, model.Filter{Name: "bad", Action: "explode"}); !errors.Is(err, rules.ErrInvalidFilter) {
		t.Errorf("AddFilter(invalid) = %v, want ErrInvalidFilter", err)
	}

	updated, err := p.SetFilterEnabled(ctx, "id-1", false)
	if err != nil || updated.Enabled {
		t.Errorf("SetFilterEnabled() = %+v, %v", updated, err)
	}
	filters, _ := p.Filters(ctx)
	if len(filters) != 1 || filters[0].Enabled {
		t.Errorf("Filters() = %+v", filters)
	}
	if _, err := p.SetFilterEnabled(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetFilterEnabled(missing) = %v, want ErrNotFound", err)
	}
	if err := p.DeleteFilter(ctx, "id-1"); err != nil {
		t.Fatalf("DeleteFilter: %v", err)
	}
	if filters, _ := p.Filters(ctx); len(filters) != 0 {
		t.Errorf("Filters() after delete = %+v", filters)
	}
}

func TestThemeAndAutoArchive(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPrefs(t)

	if next, err := p.ToggleTheme(ctx); err != nil || next != model.ThemeLight {
		t.Errorf("ToggleTheme() = %q, %v; want light", next, err)
	}
	if next, _ := p.ToggleTheme(ctx); next != model.ThemeDark {
		t.Errorf("second ToggleTheme() = %q, want dark", next)
	}
	if err := p.SetTheme(ctx, "sepia"); !errors.Is(err, ErrInvalid) {
		t.Errorf("SetTheme(sepia) = %v, want ErrInvalid", err)
	}
	if err := p.SetTheme(ctx, model.ThemeLight); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if theme, _ := p.Theme(ctx); theme != model.ThemeLight {
		t.Errorf("Theme() = %q, want light", theme)
	}

	if days, _ := p.SetAutoArchiveDays(ctx, -4); days != 1 {
		t.Errorf("SetAutoArchiveDays(-4) = %d, want 1", days)
	}
	if days, _ := p.SetAutoArchiveDays(ctx, 14); days != 14 {
		t.Errorf("SetAutoArchiveDays(14) = %d", days)
	}
	if days, _ := p.AutoArchiveDays(ctx); days != 14 {
		t.Errorf("AutoArchiveDays() = %d, want 14", days)
	}
}
