// Package models defines the wire types shared by the sync client and the
// note service.
package models

import "fmt"

// NotePath returns the storage path of a note: Notes/<id>/content.
func NotePath(id string) string {
	return fmt.Sprintf("Notes/%s/content", id)
}

// RemoteNote is one entry of the service's index.
type RemoteNote struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Hash     string `json:"hash"` // hex SHA-256 of the plaintext body
	Title    string `json:"title"`
	Created  int64  `json:"created"` // unix seconds
	Modified int64  `json:"modified"`
	// Deleted marks a tombstone. Tombstones carry no hash and no content.
	Deleted bool `json:"deleted,omitempty"`
}

// IndexSnapshot is the service's authoritative index at one revision.
type IndexSnapshot struct {
	Revision int64        `json:"revision"`
	Notes    []RemoteNote `json:"notes"`
}

// PushNote is one changed note in a push. Content is base64 in JSON and may
// be encrypted; Hash is always of the plaintext. A push with Deleted set
// deletes the note.
type PushNote struct {
	RemoteNote
	Content []byte `json:"content"`
}

// PushRequest uploads changed notes against the revision the client last saw.
type PushRequest struct {
	BaseRevision int64      `json:"base_revision"`
	Notes        []PushNote `json:"notes"`
}

// PushResponse acknowledges a push with the new revision.
type PushResponse struct {
	Revision int64 `json:"revision"`
}

// ErrorResponse is the body of every non-2xx API response. Revision is set on
// conflicts.
type ErrorResponse struct {
	Error    string `json:"error"`
	Revision int64  `json:"revision,omitempty"`
}

// Event is published to service subscribers when the index changes.
type Event struct {
	Type     string   `json:"type"`
	Revision int64    `json:"revision"`
	IDs      []string `json:"ids,omitempty"`
}

// Event types.
const (
	EventIndexUpdated = "index.updated"
)

// HeaderContentHash carries the plaintext hash of a note body served by
// GET /api/notes/{id}.
const HeaderContentHash = "X-Content-Hash"
