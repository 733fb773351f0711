package kv

import (
	"context"
	"sort"
	"strings"
)

type op struct {
	key    string
	value  string
	delete bool
}

// overlay buffers writes on top of a Reader. ops keeps every write in call
// order so backends without native transactions can replay them.
type overlay struct {
	base    Reader
	ops     []op
	pending map[string]op
}

func newOverlay(base Reader) *overlay {
	return &overlay{base: base, pending: map[string]op{}}
}

func (o *overlay) Get(ctx context.Context, key string) (string, bool, error) {
	if p, ok := o.pending[key]; ok {
		if p.delete {
			return "", false, nil
		}
		return p.value, true, nil
	}
	return o.base.Get(ctx, key)
}

func (o *overlay) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := o.base.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if p, ok := o.pending[key]; ok && p.delete {
			continue
		}
		set[key] = struct{}{}
	}
	for key, p := range o.pending {
		if !p.delete && strings.HasPrefix(key, prefix) {
			set[key] = struct{}{}
		}
	}
	result := make([]string, 0, len(set))
	for key := range set {
		result = append(result, key)
	}
	sort.Strings(result)
	return result, nil
}

func (o *overlay) Set(_ context.Context, key, value string) error {
	o.record(op{key: key, value: value})
	return nil
}

func (o *overlay) Delete(_ context.Context, key string) error {
	o.record(op{key: key, delete: true})
	return nil
}

func (o *overlay) record(p op) {
	o.ops = append(o.ops, p)
	o.pending[p.key] = p
}
