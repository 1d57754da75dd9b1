// Package noteservice is the note service's business layer: it validates
// pushes, applies them to the store and announces new revisions.
package noteservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/db"
	"github.com/starford/notesync/internal/models"
)

// Publisher receives a notification for every accepted push.
type Publisher interface {
	PublishRevision(rev int64, ids []string)
}

// Service coordinates the store and event publication.
type Service struct {
	db     *db.DB
	events Publisher
	logger *slog.Logger
}

// NewService creates a new note service. events may be nil.
func NewService(store *db.DB, events Publisher, logger *slog.Logger) *Service {
	return &Service{db: store, events: events, logger: logger}
}

// Index returns the current index snapshot.
func (s *Service) Index(ctx context.Context) (*models.IndexSnapshot, error) {
	return s.db.Snapshot(ctx)
}

// Content returns a stored body and its plaintext hash.
func (s *Service) Content(ctx context.Context, id string) ([]byte, string, error) {
	return s.db.Content(ctx, id)
}

// Push applies req. On a stale base revision it returns the current revision
// with an error wrapping apperr.ErrConflict.
func (s *Service) Push(ctx context.Context, req models.PushRequest) (int64, error) {
	if err := validatePush(req); err != nil {
		return 0, err
	}

	rev, err := s.db.Push(ctx, req.BaseRevision, req.Notes)
	if err != nil {
		return rev, err
	}

	ids := make([]string, len(req.Notes))
	for i, n := range req.Notes {
		ids[i] = n.ID
	}
	s.logger.Info("push accepted",
		slog.Int64("revision", rev),
		slog.Int("notes", len(ids)))
	if s.events != nil {
		s.events.PublishRevision(rev, ids)
	}
	return rev, nil
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func validatePush(req models.PushRequest) error {
	if len(req.Notes) == 0 {
		return fmt.Errorf("noteservice: push: %w: no notes", apperr.ErrInvalidNote)
	}
	seen := make(map[string]struct{}, len(req.Notes))
	for _, n := range req.Notes {
		if _, err := uuid.Parse(n.ID); err != nil {
			return fmt.Errorf("noteservice: push: %w: id %q", apperr.ErrInvalidNote, n.ID)
		}
		if n.Path != models.NotePath(n.ID) {
			return fmt.Errorf("noteservice: push: %w: path %q does not match id", apperr.ErrInvalidNote, n.Path)
		}
		if !n.Deleted && len(n.Hash) != 64 {
			return fmt.Errorf("noteservice: push: %w: note %s has no content hash", apperr.ErrInvalidNote, n.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("noteservice: push: %w: note %s listed twice", apperr.ErrInvalidNote, n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return nil
}
