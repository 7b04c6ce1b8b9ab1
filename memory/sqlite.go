package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memory (
	key TEXT PRIMARY KEY,
	concept TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_memory_concept_name ON memory(concept, name);
`

// SQLiteStore keeps entries in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	match Match
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	o := collect(opts)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	// One connection serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize memory schema: %w", err)
	}
	return &SQLiteStore{db: db, match: o.match}, nil
}

// Remember implements Store.
func (s *SQLiteStore) Remember(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory (key, concept, name, value) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		e.Key(), e.Concept, e.Name, e.Value)
	if err != nil {
		return fmt.Errorf("remember %s: %w", e.Key(), err)
	}
	return nil
}

// Recollect implements Store.
func (s *SQLiteStore) Recollect(ctx context.Context, q Query) (string, bool, error) {
	if len(q.Concepts) == 0 {
		return "", false, nil
	}
	args := make([]any, 0, len(q.Concepts)+1)
	args = append(args, q.Name)
	for _, c := range q.Concepts {
		args = append(args, c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Concepts)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM memory WHERE name = ? AND concept IN (`+placeholders+`)`, args...)
	if err != nil {
		return "", false, fmt.Errorf("recollect %s: %w", q.Name, err)
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.key, &c.value); err != nil {
			return "", false, fmt.Errorf("scan memory row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("iterate memory rows: %w", err)
	}

	c, ok := selectBest(s.match, q, candidates)
	return c.value, ok, nil
}

// Close implements Backend.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
