// Package store persists terminal records and inbox messages in SQLite.
//
// Several conductor processes (CLI invocations, the serve loop) may share
// one database file. WAL mode plus a busy timeout lets them interleave, and
// message claims are single conditional UPDATEs so only one process wins.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/timvw/pane-conductor/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS terminals (
	id TEXT PRIMARY KEY,
	session TEXT NOT NULL,
	window TEXT NOT NULL,
	pane_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	agent_profile TEXT NOT NULL DEFAULT '',
	cwd TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	last_active INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_terminals_session ON terminals(session);

CREATE TABLE IF NOT EXISTS inbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	delivered INTEGER NOT NULL DEFAULT 0,
	delivered_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_inbox_pending ON inbox(receiver_id, delivered, id);
`

// Store is a SQLite-backed terminal registry and inbox log.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutTerminal inserts a terminal record. An existing id is an error
// wrapping model.ErrAlreadyExists.
func (s *Store) PutTerminal(ctx context.Context, t model.Terminal) error {
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastActive.IsZero() {
		t.LastActive = t.CreatedAt
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, session, window, pane_id, provider, agent_profile, cwd, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Session, t.Window, t.PaneID, string(t.Provider), t.AgentProfile, t.Cwd,
		t.CreatedAt.UnixNano(), t.LastActive.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting terminal %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("terminal %s: %w", t.ID, model.ErrAlreadyExists)
	}
	return nil
}

// GetTerminal loads a terminal record. A missing id wraps model.ErrNotFound.
func (s *Store) GetTerminal(ctx context.Context, id string) (model.Terminal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session, window, pane_id, provider, agent_profile, cwd, created_at, last_active
		FROM terminals WHERE id = ?`, id)
	t, err := scanTerminal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Terminal{}, fmt.Errorf("terminal %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Terminal{}, fmt.Errorf("loading terminal %s: %w", id, err)
	}
	return t, nil
}

// DeleteTerminal removes a terminal record and reports whether it existed.
func (s *Store) DeleteTerminal(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting terminal %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListTerminals returns the terminals of a session, or all terminals when
// session is empty, oldest first.
func (s *Store) ListTerminals(ctx context.Context, session string) ([]model.Terminal, error) {
	query := `SELECT id, session, window, pane_id, provider, agent_profile, cwd, created_at, last_active
		FROM terminals`
	var args []any
	if session != "" {
		query += ` WHERE session = ?`
		args = append(args, session)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing terminals: %w", err)
	}
	defer rows.Close()

	var out []model.Terminal
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning terminal: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TouchLastActive records activity on a terminal. Concurrent touches are
// last-writer-wins.
func (s *Store) TouchLastActive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE terminals SET last_active = ? WHERE id = ?`, s.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("updating last_active for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("terminal %s: %w", id, model.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTerminal(sc scanner) (model.Terminal, error) {
	var (
		t                   model.Terminal
		provider            string
		createdAt, lastSeen int64
	)
	if err := sc.Scan(&t.ID, &t.Session, &t.Window, &t.PaneID, &provider, &t.AgentProfile, &t.Cwd, &createdAt, &lastSeen); err != nil {
		return model.Terminal{}, err
	}
	t.Provider = model.ProviderType(provider)
	t.CreatedAt = time.Unix(0, createdAt)
	t.LastActive = time.Unix(0, lastSeen)
	return t, nil
}
