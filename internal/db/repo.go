package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/models"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func revision(ctx context.Context, q queryer) (int64, error) {
	var rev int64
	if err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'revision'`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("db: read revision: %w", err)
	}
	return rev, nil
}

// Revision returns the current index revision.
func (db *DB) Revision(ctx context.Context) (int64, error) {
	return revision(ctx, db.conn)
}

// Snapshot returns every note's metadata, tombstones included, in insertion
// order together with the revision they belong to.
func (db *DB) Snapshot(ctx context.Context) (*models.IndexSnapshot, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // nothing to commit

	rev, err := revision(ctx, tx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, path, hash, title, created, modified, deleted FROM notes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("db: list notes: %w", err)
	}
	defer rows.Close()

	snap := &models.IndexSnapshot{Revision: rev, Notes: []models.RemoteNote{}}
	for rows.Next() {
		var n models.RemoteNote
		if err := rows.Scan(&n.ID, &n.Path, &n.Hash, &n.Title, &n.Created, &n.Modified, &n.Deleted); err != nil {
			return nil, fmt.Errorf("db: scan note: %w", err)
		}
		snap.Notes = append(snap.Notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list notes: %w", err)
	}
	return snap, nil
}

// Content returns a note's stored body and its plaintext hash.
func (db *DB) Content(ctx context.Context, id string) ([]byte, string, error) {
	var (
		content []byte
		hash    string
	)
	err := db.conn.QueryRowContext(ctx, `SELECT content, hash FROM notes WHERE id = ? AND deleted = 0`, id).Scan(&content, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", fmt.Errorf("db: note %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("db: read note %s: %w", id, err)
	}
	return content, hash, nil
}

// Push stores notes if base equals the current revision and advances the
// revision by one. A deleted note is kept as a tombstone without content; a
// later push of the same ID brings it back. On a stale base it returns the
// current revision and an error wrapping apperr.ErrConflict; nothing is
// written.
func (db *DB) Push(ctx context.Context, base int64, notes []models.PushNote) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("db: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	rev, err := revision(ctx, tx)
	if err != nil {
		return 0, err
	}
	if base != rev {
		return rev, fmt.Errorf("db: push: base revision %d, current %d: %w", base, rev, apperr.ErrConflict)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notes (id, path, hash, title, content, created, modified, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hash     = excluded.hash,
			title    = excluded.title,
			content  = excluded.content,
			modified = excluded.modified,
			deleted  = excluded.deleted
	`)
	if err != nil {
		return 0, fmt.Errorf("db: prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, n := range notes {
		created, modified := n.Created, n.Modified
		if created == 0 {
			created = now
		}
		if modified == 0 {
			modified = now
		}
		hash, title, content := n.Hash, n.Title, n.Content
		if n.Deleted {
			hash, title, content, modified = "", "", nil, now
		}
		if content == nil {
			content = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Path, hash, title, content, created, modified, n.Deleted); err != nil {
			return 0, fmt.Errorf("db: upsert note %s: %w", n.ID, err)
		}
	}

	rev++
	if _, err := tx.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = 'revision'`, rev); err != nil {
		return 0, fmt.Errorf("db: bump revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db: commit: %w", err)
	}
	return rev, nil
}
