// Package remote talks to the note service: it fetches the index and note
// bodies and pushes local changes, retrying transient failures.
package remote

import (
	"context"

	"github.com/starford/notesync/internal/models"
)

// Remote is the note service as seen by the sync engine.
type Remote interface {
	// FetchIndex returns the authoritative index and its revision.
	FetchIndex(ctx context.Context) (*models.IndexSnapshot, error)
	// FetchNoteContent returns one note body in plaintext.
	FetchNoteContent(ctx context.Context, id string) ([]byte, error)
	// PushChanges uploads notes against baseRevision and returns the new
	// revision. A stale base fails with apperr.ErrConflict.
	PushChanges(ctx context.Context, baseRevision int64, notes []models.PushNote) (int64, error)
}
