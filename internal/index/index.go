// Package index is the local replica of the remote note index: which notes
// exist, what the remote last acknowledged for each, what the cache holds,
// and which notes are waiting to be saved.
//
// A NoteIndex is not safe for concurrent use; the sync engine guards it.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"slices"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/models"
	"github.com/starford/notesync/internal/storage"
)

// NoteRef is one note known to the replica.
type NoteRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	// Hash is the body hash the remote last acknowledged. Empty for notes
	// that were never saved.
	Hash string `json:"hash"`
	// Cached is the hash of the body last written to or scanned from the
	// cache. Empty when the body was never downloaded.
	Cached   string `json:"cached,omitempty"`
	Title    string `json:"title"`
	Created  int64  `json:"created"`
	Modified int64  `json:"modified"`
	Dirty    bool   `json:"dirty"`
	// Deleted marks a tombstone: the note is gone locally and the next save
	// deletes it remotely. Tombstones are always dirty and never listed.
	Deleted bool `json:"deleted,omitempty"`
}

// Downloaded reports whether the cache holds the acknowledged body.
func (r NoteRef) Downloaded() bool {
	return r.Cached != "" && r.Cached == r.Hash
}

// NoteIndex maps note IDs to NoteRefs in insertion order.
type NoteIndex struct {
	// Revision is the remote revision this replica was last reconciled with.
	Revision int64

	order []string
	refs  map[string]*NoteRef
	// gen counts dirty transitions per note so a save only clears the flag
	// on notes that did not change again while the push was in flight.
	gen map[string]uint64
}

type fileFormat struct {
	Revision int64     `json:"revision"`
	Notes    []NoteRef `json:"notes"`
}

// New returns an empty index at revision 0.
func New() *NoteIndex {
	return &NoteIndex{
		refs: make(map[string]*NoteRef),
		gen:  make(map[string]uint64),
	}
}

// Clone returns a deep copy. Mutations are applied to a clone and swapped in
// once persisted, so a failed persist leaves the original untouched.
func (idx *NoteIndex) Clone() *NoteIndex {
	c := &NoteIndex{
		Revision: idx.Revision,
		order:    slices.Clone(idx.order),
		refs:     make(map[string]*NoteRef, len(idx.refs)),
		gen:      maps.Clone(idx.gen),
	}
	for id, r := range idx.refs {
		cp := *r
		c.refs[id] = &cp
	}
	return c
}

// Load reads the index persisted at name. A missing file is the first-run
// case and yields an empty index.
func Load(store storage.Provider, name string) (*NoteIndex, error) {
	data, err := store.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: load: %w: %w", apperr.ErrStorage, err)
	}

	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w: %w", name, apperr.ErrStorage, err)
	}

	idx := New()
	idx.Revision = file.Revision
	for _, ref := range file.Notes {
		if ref.ID == "" {
			continue
		}
		ref.Path = models.NotePath(ref.ID)
		idx.put(ref)
	}
	return idx, nil
}

// Persist writes the index to name atomically. On failure the previously
// persisted file is untouched.
func (idx *NoteIndex) Persist(store storage.Provider, name string) error {
	data, err := json.MarshalIndent(fileFormat{Revision: idx.Revision, Notes: idx.all()}, "", "  ")
	if err != nil {
		return fmt.Errorf("index: encode: %w", err)
	}
	if err := store.Write(name, data); err != nil {
		return fmt.Errorf("index: persist: %w: %w", apperr.ErrStorage, err)
	}
	return nil
}

// put inserts or replaces ref, keeping the original position on replace.
func (idx *NoteIndex) put(ref NoteRef) *NoteRef {
	if cur, ok := idx.refs[ref.ID]; ok {
		*cur = ref
		return cur
	}
	r := ref
	idx.refs[ref.ID] = &r
	idx.order = append(idx.order, ref.ID)
	return &r
}

func (idx *NoteIndex) remove(id string) {
	if _, ok := idx.refs[id]; !ok {
		return
	}
	delete(idx.refs, id)
	delete(idx.gen, id)
	if i := slices.Index(idx.order, id); i >= 0 {
		idx.order = slices.Delete(idx.order, i, i+1)
	}
}

// Len returns the number of notes, tombstones excluded.
func (idx *NoteIndex) Len() int {
	n := 0
	for _, r := range idx.refs {
		if !r.Deleted {
			n++
		}
	}
	return n
}

// Get returns the note with the given ID. Tombstones are not found.
func (idx *NoteIndex) Get(id string) (NoteRef, bool) {
	r, ok := idx.refs[id]
	if !ok || r.Deleted {
		return NoteRef{}, false
	}
	return *r, true
}

// Lookup resolves either a note ID or its storage path.
func (idx *NoteIndex) Lookup(pathOrID string) (NoteRef, bool) {
	if r, ok := idx.Get(pathOrID); ok {
		return r, true
	}
	for _, id := range idx.order {
		if r := idx.refs[id]; r.Path == pathOrID && !r.Deleted {
			return *r, true
		}
	}
	return NoteRef{}, false
}

// Refs returns copies of all live notes in insertion order.
func (idx *NoteIndex) Refs() []NoteRef {
	out := make([]NoteRef, 0, len(idx.order))
	for _, id := range idx.order {
		if r := idx.refs[id]; !r.Deleted {
			out = append(out, *r)
		}
	}
	return out
}

func (idx *NoteIndex) all() []NoteRef {
	out := make([]NoteRef, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, *idx.refs[id])
	}
	return out
}
