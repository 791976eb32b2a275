package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteCreditStorage keeps balances and a ledger of every decrement.
type SQLiteCreditStorage struct {
	db      *sql.DB
	initial int
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewSQLiteCreditStorage(dbPath string, initial int) (*SQLiteCreditStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteCreditStorage{
		db:      db,
		initial: initial,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteCreditStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credits (
		user_id    TEXT PRIMARY KEY,
		balance    INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_ledger (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES credits(user_id),
		delta         INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_user ON credit_ledger(user_id, created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteCreditStorage) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteCreditStorage) ensure(ctx context.Context, tx *sql.Tx, userId string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO credits (user_id, balance, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userId, s.initial, now, now)
	return err
}

func (s *SQLiteCreditStorage) GetBalance(ctx context.Context, userId string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensure(ctx, tx, userId); err != nil {
		return 0, fmt.Errorf("ensure credits: %w", err)
	}
	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM credits WHERE user_id = ?`, userId).Scan(&balance); err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, tx.Commit()
}

func (s *SQLiteCreditStorage) Decrement(ctx context.Context, userId string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensure(ctx, tx, userId); err != nil {
		return false, fmt.Errorf("ensure credits: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var balance int
	err = tx.QueryRowContext(ctx,
		`UPDATE credits SET balance = balance - 1, updated_at = ? WHERE user_id = ? AND balance > 0 RETURNING balance`,
		now, userId).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("decrement: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_ledger (id, user_id, delta, balance_after, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.newID(), userId, -1, balance, now)
	if err != nil {
		return false, fmt.Errorf("ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *SQLiteCreditStorage) Close() error {
	return s.db.Close()
}
