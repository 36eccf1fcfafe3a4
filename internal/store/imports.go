package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"
)

// PaperHash returns the hex SHA-256 of a paper file's contents.
func PaperHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ImportedSession returns the session created from a paper with the given
// hash, or "" if the paper was never imported.
func (s *Store) ImportedSession(ctx context.Context, hash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT i.session_id FROM paper_imports i
		 JOIN exam_sessions s ON s.id = i.session_id
		 WHERE i.hash = ?`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// RecordImport remembers that the paper with the given hash created sessionID.
func (s *Store) RecordImport(ctx context.Context, hash, sessionID, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paper_imports (hash, session_id, source, imported_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET session_id = excluded.session_id,
			source = excluded.source, imported_at = excluded.imported_at`,
		hash, sessionID, source, time.Now(),
	)
	return err
}
