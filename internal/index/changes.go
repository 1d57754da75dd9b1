package index

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/checksum"
	"github.com/starford/notesync/internal/models"
	"github.com/starford/notesync/internal/parser"
	"github.com/starford/notesync/internal/storage"
)

// Pending is a dirty note captured for a push, with the dirty generation it
// was captured at.
type Pending struct {
	NoteRef
	Gen uint64
}

// Ack confirms that the remote stored the body with hash Hash for a note
// captured at generation Gen.
type Ack struct {
	ID    string
	Gen   uint64
	Hash  string
	Title string
	// Deleted acknowledges a tombstone; the note is forgotten.
	Deleted bool
}

func (idx *NoteIndex) markDirty(r *NoteRef) {
	r.Dirty = true
	idx.gen[r.ID]++
}

// MarkDirty flags a note as changed locally. It reports false for unknown IDs.
func (idx *NoteIndex) MarkDirty(id string) bool {
	r, ok := idx.refs[id]
	if !ok || r.Deleted {
		return false
	}
	idx.markDirty(r)
	return true
}

// ScanForChanges hashes every cached note body and returns the IDs whose
// content changed since it was last written or scanned. A body that differs
// from the acknowledged hash marks its note dirty; one that is back to the
// acknowledged hash clears the flag. Notes without a cached body are skipped.
func (idx *NoteIndex) ScanForChanges(store storage.Provider) ([]string, error) {
	var changed []string
	now := time.Now().Unix()
	for _, id := range idx.order {
		r := idx.refs[id]
		if r.Deleted {
			continue
		}
		data, err := store.Read(r.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return changed, fmt.Errorf("index: scan %s: %w: %w", id, apperr.ErrStorage, err)
		}
		h := checksum.Sum(data)
		if h == r.Cached {
			continue
		}
		r.Cached = h
		r.Title = parser.Title(data)
		r.Modified = now
		switch {
		case h != r.Hash:
			idx.markDirty(r)
		case r.Dirty:
			r.Dirty = false
			idx.gen[id]++
		}
		changed = append(changed, id)
	}
	return changed, nil
}

// Allocate creates a note with a random UUID and writes body to the cache.
// The note is dirty until its first save.
func (idx *NoteIndex) Allocate(store storage.Provider, body []byte) (NoteRef, error) {
	id := uuid.NewString()
	if _, taken := idx.refs[id]; taken {
		return NoteRef{}, fmt.Errorf("index: allocate %s: %w", id, apperr.ErrAlreadyExists)
	}
	path := models.NotePath(id)
	if err := store.Write(path, body); err != nil {
		return NoteRef{}, fmt.Errorf("index: allocate %s: %w: %w", id, apperr.ErrStorage, err)
	}
	now := time.Now().Unix()
	r := idx.put(NoteRef{
		ID:       id,
		Path:     path,
		Cached:   checksum.Sum(body),
		Title:    parser.Title(body),
		Created:  now,
		Modified: now,
	})
	idx.markDirty(r)
	return *r, nil
}

// Delete removes a live note. A note the remote never acknowledged is
// dropped outright and Delete reports dropped; any other note becomes a
// tombstone. It reports ok=false for unknown IDs.
func (idx *NoteIndex) Delete(id string) (dropped, ok bool) {
	r, found := idx.refs[id]
	if !found || r.Deleted {
		return false, false
	}
	if r.Hash == "" {
		idx.remove(id)
		return true, true
	}
	r.Deleted = true
	r.Modified = time.Now().Unix()
	idx.markDirty(r)
	return false, true
}

// SetCached records that the cache now holds a body with the given hash.
// A body that matches the acknowledged hash clears the dirty flag.
func (idx *NoteIndex) SetCached(id, hash, title string) {
	r, ok := idx.refs[id]
	if !ok || r.Deleted {
		return
	}
	r.Cached = hash
	if title != "" {
		r.Title = title
	}
	if r.Dirty && hash == r.Hash {
		r.Dirty = false
		idx.gen[id]++
	}
}

// Refresh records a body fetched from the remote as both acknowledged and
// cached, clearing any local change.
func (idx *NoteIndex) Refresh(id, hash, title string) {
	r, ok := idx.refs[id]
	if !ok || r.Deleted {
		return
	}
	r.Hash = hash
	r.Cached = hash
	if title != "" {
		r.Title = title
	}
	if r.Dirty {
		r.Dirty = false
		idx.gen[id]++
	}
}

// Dirty returns the dirty notes, tombstones included, in insertion order.
func (idx *NoteIndex) Dirty() []Pending {
	var out []Pending
	for _, id := range idx.order {
		if r := idx.refs[id]; r.Dirty {
			out = append(out, Pending{NoteRef: *r, Gen: idx.gen[id]})
		}
	}
	return out
}

// ClearDirty applies push acknowledgements. Every acked note takes the new
// acknowledged hash; the dirty flag is only cleared on notes whose
// generation is unchanged since capture. It returns the IDs left dirty.
func (idx *NoteIndex) ClearDirty(acks []Ack) []string {
	var still []string
	for _, a := range acks {
		r, ok := idx.refs[a.ID]
		if !ok {
			continue
		}
		if a.Deleted {
			if r.Deleted {
				idx.remove(a.ID)
			}
			continue
		}
		r.Hash = a.Hash
		if idx.gen[a.ID] != a.Gen {
			// the cache moved on; it is dirty unless it ended up at the pushed body
			if !r.Dirty && r.Cached != r.Hash {
				idx.markDirty(r)
			}
			if r.Dirty {
				still = append(still, a.ID)
			}
			continue
		}
		r.Cached = a.Hash
		r.Dirty = false
		if a.Title != "" {
			r.Title = a.Title
		}
	}
	return still
}
