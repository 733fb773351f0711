package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.io/infrasutra/mailstash/internal/kv"
	"github.io/infrasutra/mailstash/internal/model"
)

func sampleMessage(id, subject string) model.StoredMessage {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.StoredMessage{
		Message: model.Message{
			ID:             id,
			AccountID:      "acct-1",
			From:           model.Address{Address: "a@x.com", Name: "Alice"},
			To:             []model.Address{{Address: "b@y.com"}, {Address: "c@y.com"}},
			Subject:        subject,
			Intro:          "Body of " + subject,
			Seen:           true,
			HasAttachments: true,
			Size:           2048,
			CreatedAt:      created,
			UpdatedAt:      created.Add(time.Hour),
		},
		CategoryIDs: []string{"confirmations"},
		Archived:    false,
	}
}

func newTestStore(t *testing.T, backend kv.Store, opts Options) *Store {
	t.Helper()
	if backend == nil {
		backend = kv.NewMemory(0)
	}
	return New(backend, opts, nil)
}

func serializedSize(t *testing.T, msg model.StoredMessage) int64 {
	t.Helper()
	text, err := encodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return int64(utf8.RuneCountInString(text))
}

func TestSplitChunksBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		length int
		chunks int
	}{
		{"empty", 0, 0},
		{"one short of a chunk", DefaultChunkSize - 1, 1},
		{"exactly one chunk", DefaultChunkSize, 1},
		{"two chunks and a char", DefaultChunkSize*2 + 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("a", tt.length)
			chunks := splitChunks(text, DefaultChunkSize)
			if len(chunks) != tt.chunks {
				t.Fatalf("splitChunks(len %d) = %d chunks, want %d", tt.length, len(chunks), tt.chunks)
			}
			for i, chunk := range chunks {
				if len(chunk) > DefaultChunkSize {
					t.Errorf("chunk %d has %d chars, cap is %d", i, len(chunk), DefaultChunkSize)
				}
			}
			if joinChunks(chunks) != text {
				t.Errorf("joinChunks did not reproduce the input")
			}
		})
	}
}

func TestSplitChunksKeepsCodePoints(t *testing.T) {
	text := strings.Repeat("é✓", 7)
	chunks := splitChunks(text, 3)
	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d split a code point: %q", i, chunk)
		}
		if n := utf8.RuneCountInString(chunk); n > 3 {
			t.Errorf("chunk %d has %d code points, want <= 3", i, n)
		}
	}
	if joinChunks(chunks) != text {
		t.Errorf("joinChunks(%q) lost data", chunks)
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	sqlite, err := kv.OpenSQLite(ctx, "", 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	for name, backend := range map[string]kv.Store{"memory": kv.NewMemory(0), "sqlite": sqlite} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, backend, Options{ChunkSize: 64})
			msg := sampleMessage("m1", "Your order is confirmed ✓")
			if err := s.Save(ctx, msg); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := s.Get(ctx, "m1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil || !reflect.DeepEqual(*got, msg) {
				t.Errorf("Get(m1) = %+v, want %+v", got, msg)
			}

			entries, err := s.Entries(ctx)
			if err != nil {
				t.Fatalf("Entries: %v", err)
			}
			size := serializedSize(t, msg)
			wantChunks := int((size + 63) / 64)
			if len(entries) != 1 || len(entries[0].ChunkIDs) != wantChunks {
				t.Fatalf("entries = %+v, want one entry with %d chunks", entries, wantChunks)
			}
			if entries[0].Size != size {
				t.Errorf("entry size = %d, want %d", entries[0].Size, size)
			}
			for i, key := range entries[0].ChunkIDs {
				if !strings.HasPrefix(key, DefaultPrefix) || !strings.HasSuffix(key, fmt.Sprintf("_%d", i)) {
					t.Errorf("chunk key %q does not follow <prefix><uuid>_<n>", key)
				}
			}
		})
	}
}

func TestGetMissingAndEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, Options{})

	got, err := s.Get(ctx, "nope")
	if err != nil || got != nil {
		t.Errorf("Get(nope) = %v, %v; want nil, nil", got, err)
	}
	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("All() on empty store = %#v, want empty slice", all)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{})

	for _, msg := range []model.StoredMessage{
		sampleMessage("a", "first"),
		sampleMessage("b", "second"),
	} {
		if err := s.Save(ctx, msg); err != nil {
			t.Fatalf("Save(%s): %v", msg.ID, err)
		}
	}
	before, _ := s.Entries(ctx)

	updated := sampleMessage("a", "first, edited")
	updated.Archived = true
	if err := s.Save(ctx, updated); err != nil {
		t.Fatalf("Save(a again): %v", err)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("All() ids = %v, want [a b]", ids(all))
	}
	if !all[0].Archived || all[0].Subject != "first, edited" {
		t.Errorf("replaced message = %+v, want edited copy", all[0])
	}
	for _, key := range before[0].ChunkIDs {
		if _, ok, _ := backend.Get(ctx, key); ok {
			t.Errorf("old chunk %s still stored after replace", key)
		}
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{})
	if err := s.Save(ctx, sampleMessage("a", "hello")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, _ := s.Entries(ctx)

	removed, err := s.Remove(ctx, "a")
	if err != nil || !removed {
		t.Fatalf("Remove(a) = %v, %v; want true, nil", removed, err)
	}
	if got, _ := s.Get(ctx, "a"); got != nil {
		t.Errorf("Get after Remove = %+v, want nil", got)
	}
	for _, key := range entries[0].ChunkIDs {
		if _, ok, _ := backend.Get(ctx, key); ok {
			t.Errorf("chunk %s survived Remove", key)
		}
	}
	removed, err = s.Remove(ctx, "a")
	if err != nil || removed {
		t.Errorf("second Remove(a) = %v, %v; want false, nil", removed, err)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{ChunkSize: 32})
	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, sampleMessage(id, "subject "+id)); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}
	orphans := []string{DefaultPrefix + "dead_0", DefaultPrefix + "dead_1"}
	for _, key := range orphans {
		if err := backend.Set(ctx, key, "junk"); err != nil {
			t.Fatalf("seed orphan: %v", err)
		}
	}
	if err := backend.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("seed foreign key: %v", err)
	}

	removed, err := s.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != len(orphans) {
		t.Errorf("Cleanup removed %d keys, want %d", removed, len(orphans))
	}

	entries, _ := s.Entries(ctx)
	referenced := map[string]bool{s.MetadataKey(): true}
	for _, entry := range entries {
		for _, key := range entry.ChunkIDs {
			referenced[key] = true
			if _, ok, _ := backend.Get(ctx, key); !ok {
				t.Errorf("indexed chunk %s missing after Cleanup", key)
			}
		}
	}
	keys, _ := backend.Keys(ctx, DefaultPrefix)
	for _, key := range keys {
		if !referenced[key] {
			t.Errorf("unreferenced key %s left after Cleanup", key)
		}
	}
	if _, ok, _ := backend.Get(ctx, "theme"); !ok {
		t.Errorf("Cleanup touched a key outside its namespace")
	}

	after, _ := backend.Keys(ctx, "")
	removed, err = s.Cleanup(ctx)
	if err != nil || removed != 0 {
		t.Errorf("second Cleanup = %d, %v; want 0, nil", removed, err)
	}
	again, _ := backend.Keys(ctx, "")
	if !reflect.DeepEqual(again, after) {
		t.Errorf("second Cleanup changed keys: %v -> %v", after, again)
	}
	if got, _ := s.All(ctx); len(got) != 2 {
		t.Errorf("Cleanup lost messages: %d left", len(got))
	}
}

func TestStorageInfo(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, Options{})
	first := sampleMessage("a", "short")
	second := sampleMessage("b", strings.Repeat("long subject ", 10))
	for _, msg := range []model.StoredMessage{first, second} {
		if err := s.Save(ctx, msg); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	info, err := s.StorageInfo(ctx)
	if err != nil {
		t.Fatalf("StorageInfo: %v", err)
	}
	want := StorageInfo{
		Used:     serializedSize(t, first) + serializedSize(t, second),
		Total:    DefaultCapacity,
		Messages: 2,
	}
	if info != want {
		t.Errorf("StorageInfo() = %+v, want %+v", info, want)
	}
}

func TestSaveKeepsMarkupUnescaped(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{})
	msg := sampleMessage("html", "markup")
	msg.Intro = "<p>Tom & Jerry</p>"
	if err := s.Save(ctx, msg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, _ := s.Entries(ctx)
	chunk, _, _ := backend.Get(ctx, entries[0].ChunkIDs[0])
	if !strings.Contains(chunk, `"intro":"<p>Tom & Jerry</p>"`) || strings.Contains(chunk, `\u003c`) {
		t.Errorf("stored chunk = %s", chunk)
	}
	if strings.HasSuffix(chunk, "\n") {
		t.Error("stored chunk ends with a newline")
	}
	if want := int64(utf8.RuneCountInString(chunk)); entries[0].Size != want {
		t.Errorf("size = %d, want %d", entries[0].Size, want)
	}
	got, err := s.Get(ctx, "html")
	if err != nil || got == nil || got.Intro != msg.Intro {
		t.Errorf("Get = %+v, %v", got, err)
	}
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	msg := sampleMessage("a", "hello")
	size := serializedSize(t, msg)

	t.Run("enforced", func(t *testing.T) {
		s := newTestStore(t, nil, Options{Capacity: size + 10, EnforceQuota: true})
		if err := s.Save(ctx, msg); err != nil {
			t.Fatalf("first Save: %v", err)
		}
		if err := s.Save(ctx, msg); err != nil {
			t.Errorf("replacing within capacity: %v", err)
		}
		err := s.Save(ctx, sampleMessage("b", "hello"))
		if !errors.Is(err, ErrQuotaExceeded) {
			t.Fatalf("Save over capacity = %v, want ErrQuotaExceeded", err)
		}
		if info, _ := s.StorageInfo(ctx); info.Messages != 1 {
			t.Errorf("rejected Save changed the index: %+v", info)
		}
	})

	t.Run("advisory", func(t *testing.T) {
		s := newTestStore(t, nil, Options{Capacity: 1})
		if err := s.Save(ctx, msg); err != nil {
			t.Errorf("Save with advisory capacity: %v", err)
		}
	})

	t.Run("backend", func(t *testing.T) {
		s := newTestStore(t, kv.NewMemory(64), Options{})
		err := s.Save(ctx, msg)
		if !errors.Is(err, ErrQuotaExceeded) || !errors.Is(err, kv.ErrQuotaExceeded) {
			t.Fatalf("Save into full backend = %v, want ErrQuotaExceeded", err)
		}
	})
}

func TestMalformedIndexIsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{})
	if err := backend.Set(ctx, s.MetadataKey(), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	all, err := s.All(ctx)
	if err != nil || len(all) != 0 {
		t.Errorf("All() = %v, %v; want empty, nil", all, err)
	}
	if err := s.Save(ctx, sampleMessage("a", "fresh")); err != nil {
		t.Fatalf("Save over malformed index: %v", err)
	}
	if info, _ := s.StorageInfo(ctx); info.Messages != 1 {
		t.Errorf("StorageInfo().Messages = %d, want 1", info.Messages)
	}
}

func TestMissingChunkIsCorrupt(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{ChunkSize: 16})
	if err := s.Save(ctx, sampleMessage("a", "hello")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, _ := s.Entries(ctx)
	if err := backend.Delete(ctx, entries[0].ChunkIDs[1]); err != nil {
		t.Fatalf("delete chunk: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get with missing chunk = %v, want ErrCorrupt", err)
	}
}

func TestSaveRejectsEmptyID(t *testing.T) {
	s := newTestStore(t, nil, Options{})
	if err := s.Save(context.Background(), sampleMessage(" ", "x")); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Save(empty id) = %v, want ErrInvalidMessage", err)
	}
}

func TestConcurrentSavesKeepEveryEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Save(ctx, sampleMessage(fmt.Sprintf("m%02d", i), "concurrent")); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if info, _ := s.StorageInfo(ctx); info.Messages != 20 {
		t.Errorf("StorageInfo().Messages = %d, want 20", info.Messages)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory(0)
	s := newTestStore(t, backend, Options{})
	if err := s.Save(ctx, sampleMessage("a", "x")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if keys, _ := backend.Keys(ctx, DefaultPrefix); len(keys) != 0 {
		t.Errorf("keys left after Clear: %v", keys)
	}
}

func ids(messages []model.StoredMessage) []string {
	result := make([]string, 0, len(messages))
	for _, msg := range messages {
		result = append(result, msg.ID)
	}
	return result
}
