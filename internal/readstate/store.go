package readstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable, monotonic read-state record: conversation id →
// "has the counterpart read my last message". The only mutation is the
// promotion to true; once a conversation is read it stays read, which
// is what keeps a late stale refresh from undoing a delivery indicator
// the user already saw.
type Store struct {
	db *sqlx.DB

	mu    sync.RWMutex
	cache map[string]bool
}

// Open connects the backing sqlite file and runs migrations. Use
// ":memory:" for throwaway instances in tests.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect read-state db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{db: db, cache: make(map[string]bool)}
	if err := store.warmCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load read state: %w", err)
	}
	return store, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS read_state (
            conversation_id TEXT PRIMARY KEY,
            read_by_counterpart BOOLEAN NOT NULL DEFAULT FALSE,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) warmCache() error {
	rows, err := s.db.Queryx(`SELECT conversation_id, read_by_counterpart FROM read_state`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var convID string
		var read bool
		if err := rows.Scan(&convID, &read); err != nil {
			return err
		}
		s.cache[convID] = read
	}
	return rows.Err()
}

// Get reports whether the counterpart has read the conversation's last
// message. Absent conversations default to false.
func (s *Store) Get(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[conversationID]
}

// SetReadTrue promotes the conversation to read. Idempotent; there is
// deliberately no way to write false over true.
func (s *Store) SetReadTrue(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}

	s.mu.Lock()
	if s.cache[conversationID] {
		s.mu.Unlock()
		return nil
	}
	s.cache[conversationID] = true
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO read_state (conversation_id, read_by_counterpart, updated_at)
        VALUES ($1, TRUE, CURRENT_TIMESTAMP)
        ON CONFLICT (conversation_id) DO UPDATE SET read_by_counterpart = TRUE, updated_at = CURRENT_TIMESTAMP`, conversationID)
	if err != nil {
		return fmt.Errorf("persist read state: %w", err)
	}
	return nil
}

// Persisted reads the flag straight from the table, bypassing the
// cache. Used by tests and recovery paths.
func (s *Store) Persisted(ctx context.Context, conversationID string) (bool, error) {
	var read bool
	err := s.db.GetContext(ctx, &read, `SELECT read_by_counterpart FROM read_state WHERE conversation_id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return read, err
}

// Close releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}
