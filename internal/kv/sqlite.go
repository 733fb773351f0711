package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	db       *sqlx.DB
	maxBytes int64
}

// OpenSQLite opens the database at path and creates the kv table. An empty
// path opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, maxBytes int64) (*SQLite, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sqlx.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db, maxBytes: maxBytes}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	return sqlView{q: s.db}.Get(ctx, key)
}

func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	return sqlView{q: s.db}.Keys(ctx, prefix)
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Set(ctx, key, value)
	})
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Delete(ctx, key)
	})
}

func (s *SQLite) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(sqlView{q: tx}); err != nil {
		return err
	}
	if s.maxBytes > 0 {
		used, err := usage(ctx, tx)
		if err != nil {
			return err
		}
		if used > s.maxBytes {
			return ErrQuotaExceeded
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit kv: %w", err)
	}
	return nil
}

// Used reports the bytes currently held.
func (s *SQLite) Used(ctx context.Context) (int64, error) {
	return usage(ctx, s.db)
}

func usage(ctx context.Context, q sqlx.QueryerContext) (int64, error) {
	var used int64
	err := sqlx.GetContext(ctx, q, &used,
		`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv;`)
	if err != nil {
		return 0, fmt.Errorf("kv usage: %w", err)
	}
	return used, nil
}

// sqlView runs against either the database or an open transaction.
type sqlView struct {
	q sqlx.ExtContext
}

func (v sqlView) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := sqlx.GetContext(ctx, v.q, &value, `SELECT value FROM kv WHERE key = ?;`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get key: %w", err)
	}
	return value, true, nil
}

func (v sqlView) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := sqlx.SelectContext(ctx, v.q, &keys,
		`SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key;`,
		utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return keys, nil
}

func (v sqlView) Set(ctx context.Context, key, value string) error {
	_, err := v.q.ExecContext(ctx, `INSERT INTO kv (key, value)
        VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value)
	if err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	return nil
}

func (v sqlView) Delete(ctx context.Context, key string) error {
	if _, err := v.q.ExecContext(ctx, `DELETE FROM kv WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("delete key: %w", err)
	}
	return nil
}
