package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store is a local snapshot store, one row per cover. Survives broker
// restarts and works without retained messages.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite store %s", path)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cover_position (
		name TEXT PRIMARY KEY,
		position REAL NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create cover_position table")
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, name string) (float64, bool, error) {
	var position float64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM cover_position WHERE name = ?`, name,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "load position for %s", name)
	}
	return position, true, nil
}

func (s *Store) Save(ctx context.Context, name string, position float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cover_position (name, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at`,
		name, position, time.Now().UTC(),
	)
	return errors.Wrapf(err, "save position for %s", name)
}
