// Package kv is the key-value layer underneath the local message store.
// It plays the role a browser's localStorage plays for a web client: flat
// string keys, string values, prefix enumeration. Unlike localStorage every
// backend can apply a group of writes through Update.
package kv

import (
	"context"
	"errors"
)

// ErrQuotaExceeded is returned when a write would take a backend past its
// configured byte quota. Nothing from the failed write is kept.
var ErrQuotaExceeded = errors.New("kv: quota exceeded")

type Reader interface {
	// Get returns the value stored under key. ok is false when the key is
	// absent; that is not an error.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Keys returns every key starting with prefix in ascending byte order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type Writer interface {
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Tx is the view handed to an Update callback. Reads observe the writes
// already made through the same Tx.
type Tx interface {
	Reader
	Writer
}

type Store interface {
	Tx
	// Update runs fn and commits its writes. When fn returns an error no
	// write is applied. fn must only use the Tx it is given.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

func entrySize(key, value string) int64 {
	return int64(len(key) + len(value))
}
