package filecache

import (
	"database/sql"
	"fmt"
)

// Store is the sqlite write-through journal of cache snapshots. It lets a
// snapshot taken by one process be reverted by a later one.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the journal at path.
func OpenStore(path string) (*Store, error) {
	db, err := openDBAt(path)
	if err != nil {
		return nil, err
	}
	return newStore(db), nil
}

// newStore wraps an already opened journal database.
func newStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PutSnapshot inserts or replaces the snapshot for a path and marks it most recently touched.
func (s *Store) PutSnapshot(sn Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (path, content, seq, touched_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots), ?)
		ON CONFLICT(path) DO UPDATE SET
			content    = excluded.content,
			seq        = excluded.seq,
			touched_at = excluded.touched_at
	`, sn.Path, sn.Content, sn.TouchedAt)
	if err != nil {
		sub("store").Error("PutSnapshot failed", "path", sn.Path, "err", err)
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot removes the snapshot for a path. Deleting a missing row is not an error.
func (s *Store) DeleteSnapshot(path string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the snapshot for a path, or nil if none is stored.
func (s *Store) GetSnapshot(path string) (*Snapshot, error) {
	sn := &Snapshot{}
	err := s.db.QueryRow(`
		SELECT path, content, touched_at FROM snapshots WHERE path = ?
	`, path).Scan(&sn.Path, &sn.Content, &sn.TouchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return sn, nil
}

// ListSnapshots returns all snapshots, least recently touched first.
func (s *Store) ListSnapshots() ([]Snapshot, error) {
	rows, err := s.db.Query(`SELECT path, content, touched_at FROM snapshots ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		if err := rows.Scan(&sn.Path, &sn.Content, &sn.TouchedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
