// Package engine is the note synchronization core. It owns the local replica
// (index file plus note cache), talks to the remote through remote.Remote and
// serializes every mutation of the index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/checksum"
	"github.com/starford/notesync/internal/index"
	"github.com/starford/notesync/internal/models"
	"github.com/starford/notesync/internal/options"
	"github.com/starford/notesync/internal/parser"
	"github.com/starford/notesync/internal/remote"
	"github.com/starford/notesync/internal/storage"
)

// Layout of the storage directory.
const (
	IndexFile = "index.json"
	CacheDir  = "notes"
)

// State is the phase of the sync session.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateDownloading
	StateListing
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDownloading:
		return "downloading"
	case StateListing:
		return "listing"
	case StateSaving:
		return "saving"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Engine orchestrates Download, DownloadNote, List, NewNote and Save.
// It is safe for concurrent use.
type Engine struct {
	dir     string
	remote  remote.Remote
	logger  *slog.Logger
	workers int

	state atomic.Int32
	// scanPending is set by the cache watcher; the next Save scans.
	scanPending atomic.Bool

	// mu guards idx, synced and the index file.
	mu     sync.RWMutex
	store  *storage.FS
	cache  *storage.FS
	idx    *index.NoteIndex
	synced bool

	// syncMu serializes the network phases.
	syncMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers caps parallel body downloads.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an engine rooted at dir. Call Init before anything else.
func New(dir string, rem remote.Remote, opts ...Option) *Engine {
	e := &Engine{
		dir:     dir,
		remote:  rem,
		logger:  slog.New(slog.DiscardHandler),
		workers: 4,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Init prepares the storage directory. It is the only way out of
// StateUninitialized and is a no-op once the engine is ready.
func (e *Engine) Init(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != StateUninitialized {
		return nil
	}

	cacheDir := filepath.Join(e.dir, CacheDir)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("engine: init: %w: %w", apperr.ErrStorage, err)
	}
	store, err := storage.NewFS(e.dir)
	if err != nil {
		return fmt.Errorf("engine: init: %w: %w", apperr.ErrStorage, err)
	}
	cache, err := storage.NewFS(cacheDir)
	if err != nil {
		return fmt.Errorf("engine: init: %w: %w", apperr.ErrStorage, err)
	}
	e.store = store
	e.cache = cache
	e.state.Store(int32(StateReady))

	e.logger.Info("engine: ready", slog.String("dir", e.dir))
	return nil
}

// State returns the current phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) ready() error {
	if e.State() == StateUninitialized {
		return fmt.Errorf("engine: %w", apperr.ErrNotInitialized)
	}
	return nil
}

// enter switches into a network phase. The caller holds syncMu.
func (e *Engine) enter(s State) func() {
	e.state.Store(int32(s))
	return func() { e.state.Store(int32(StateReady)) }
}

// load reads the persisted index the first time it is needed.
func (e *Engine) load() error {
	e.mu.RLock()
	loaded := e.idx != nil
	e.mu.RUnlock()
	if loaded {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked()
}

func (e *Engine) loadLocked() error {
	if e.idx != nil {
		return nil
	}
	idx, err := index.Load(e.store, IndexFile)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.idx = idx
	e.logger.Debug("engine: index loaded",
		slog.Int64("revision", idx.Revision),
		slog.Int("notes", idx.Len()))
	return nil
}

func (e *Engine) persistLocked() error {
	if err := e.idx.Persist(e.store, IndexFile); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// commitLocked persists next and makes it the live index. On failure the
// live index is left as it was.
func (e *Engine) commitLocked(next *index.NoteIndex) error {
	if err := next.Persist(e.store, IndexFile); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	e.idx = next
	return nil
}

// dropCached removes a cached body that no longer belongs to any note.
func (e *Engine) dropCached(id, path string) {
	if err := e.cache.Delete(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("engine: cached body not removed",
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
}

// Revision returns the remote revision the replica last adopted.
func (e *Engine) Revision() (int64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.load(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.idx.Revision, nil
}

// List returns the notes in insertion order. Before any successful Download
// or Save in this session an empty replica is reported as apperr.ErrEmptyIndex.
func (e *Engine) List(_ context.Context, _ *options.Options) ([]index.NoteRef, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	if e.state.CompareAndSwap(int32(StateReady), int32(StateListing)) {
		defer e.state.CompareAndSwap(int32(StateListing), int32(StateReady))
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.synced && e.idx.Len() == 0 {
		return nil, fmt.Errorf("engine: list: %w", apperr.ErrEmptyIndex)
	}
	return e.idx.Refs(), nil
}

// NewNote allocates a note with an empty body. It is listed immediately and
// uploaded by the next Save.
func (e *Engine) NewNote(_ context.Context, _ *options.Options) (index.NoteRef, error) {
	if err := e.ready(); err != nil {
		return index.NoteRef{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return index.NoteRef{}, err
	}
	return e.allocateLocked(nil)
}

// ImportNote creates a note whose body is the content of the file at path.
func (e *Engine) ImportNote(_ context.Context, path string) (index.NoteRef, error) {
	if err := e.ready(); err != nil {
		return index.NoteRef{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return index.NoteRef{}, fmt.Errorf("engine: import %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return index.NoteRef{}, fmt.Errorf("engine: import %s: %w: %w", path, apperr.ErrStorage, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return index.NoteRef{}, err
	}
	return e.allocateLocked(body)
}

func (e *Engine) allocateLocked(body []byte) (index.NoteRef, error) {
	next := e.idx.Clone()
	ref, err := next.Allocate(e.cache, body)
	if err != nil {
		return index.NoteRef{}, fmt.Errorf("engine: new note: %w", err)
	}
	if err := e.commitLocked(next); err != nil {
		e.dropCached(ref.ID, ref.Path)
		return index.NoteRef{}, err
	}
	e.logger.Info("engine: note created",
		slog.String("id", ref.ID),
		slog.Int("size", len(body)))
	return ref, nil
}

// DeleteReport describes a DeleteNote.
type DeleteReport struct {
	ID   string
	Path string
	// Pending is set when the remote still has the note; the next Save
	// deletes it there.
	Pending bool
}

// DeleteNote removes a note from the replica and its body from the cache.
func (e *Engine) DeleteNote(_ context.Context, pathOrID string) (*DeleteReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return nil, err
	}

	ref, ok := e.idx.Lookup(pathOrID)
	if !ok {
		return nil, fmt.Errorf("engine: delete %q: %w", pathOrID, apperr.ErrNotFound)
	}
	next := e.idx.Clone()
	dropped, _ := next.Delete(ref.ID)
	if err := e.commitLocked(next); err != nil {
		return nil, err
	}
	e.dropCached(ref.ID, ref.Path)

	e.logger.Info("engine: note deleted",
		slog.String("id", ref.ID),
		slog.Bool("pending", !dropped))
	return &DeleteReport{ID: ref.ID, Path: ref.Path, Pending: !dropped}, nil
}

// ReadNote returns the cached body of a note, addressed by ID or path.
func (e *Engine) ReadNote(_ context.Context, pathOrID string) ([]byte, index.NoteRef, error) {
	if err := e.ready(); err != nil {
		return nil, index.NoteRef{}, err
	}
	if err := e.load(); err != nil {
		return nil, index.NoteRef{}, err
	}

	e.mu.RLock()
	ref, ok := e.idx.Lookup(pathOrID)
	e.mu.RUnlock()
	if !ok {
		return nil, index.NoteRef{}, fmt.Errorf("engine: read %q: %w", pathOrID, apperr.ErrNotFound)
	}

	data, err := e.cache.Read(ref.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ref, fmt.Errorf("engine: read %s: %w: not downloaded", ref.ID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, ref, fmt.Errorf("engine: read %s: %w: %w", ref.ID, apperr.ErrStorage, err)
	}
	return data, ref, nil
}

// WriteNote replaces the cached body of a note and marks it dirty when the
// body differs from what the remote acknowledged.
func (e *Engine) WriteNote(_ context.Context, pathOrID string, body []byte) (index.NoteRef, error) {
	if err := e.ready(); err != nil {
		return index.NoteRef{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(); err != nil {
		return index.NoteRef{}, err
	}

	ref, ok := e.idx.Lookup(pathOrID)
	if !ok {
		return index.NoteRef{}, fmt.Errorf("engine: write %q: %w", pathOrID, apperr.ErrNotFound)
	}
	if err := e.cache.Write(ref.Path, body); err != nil {
		return index.NoteRef{}, fmt.Errorf("engine: write %s: %w: %w", ref.ID, apperr.ErrStorage, err)
	}
	hash := checksum.Sum(body)
	next := e.idx.Clone()
	next.SetCached(ref.ID, hash, parser.Title(body))
	if hash != ref.Hash {
		next.MarkDirty(ref.ID)
	}
	// on failure the next scan picks the body up from the cache
	if err := e.commitLocked(next); err != nil {
		return index.NoteRef{}, err
	}
	ref, _ = e.idx.Get(ref.ID)
	return ref, nil
}

// NoteReport describes a DownloadNote.
type NoteReport struct {
	ID   string
	Path string
	Hash string
	Size int
	// Replaced is set when the fetched body overwrote different local
	// content.
	Replaced bool
}

// DownloadNote fetches one body and makes it the acknowledged and cached
// content of the note. Local changes to that note are discarded.
func (e *Engine) DownloadNote(ctx context.Context, _ *options.Options, pathOrID string) (*NoteReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.load(); err != nil {
		return nil, err
	}

	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	defer e.enter(StateDownloading)()

	e.mu.RLock()
	ref, ok := e.idx.Lookup(pathOrID)
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: download note %q: %w", pathOrID, apperr.ErrNotFound)
	}

	body, err := e.remote.FetchNoteContent(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("engine: download note: %w", err)
	}
	hash := checksum.Sum(body)

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.idx.Get(ref.ID)
	if !ok {
		return nil, fmt.Errorf("engine: download note %s: %w: deleted meanwhile", ref.ID, apperr.ErrNotFound)
	}
	replaced := cur.Dirty
	if old, err := e.cache.Read(ref.Path); err == nil && checksum.Sum(old) != hash {
		replaced = true
	}
	if err := e.cache.Write(ref.Path, body); err != nil {
		return nil, fmt.Errorf("engine: download note %s: %w: %w", ref.ID, apperr.ErrStorage, err)
	}
	next := e.idx.Clone()
	next.Refresh(ref.ID, hash, parser.Title(body))
	if err := e.commitLocked(next); err != nil {
		return nil, err
	}

	if replaced {
		e.logger.Warn("engine: local copy replaced by remote",
			slog.String("id", ref.ID),
			slog.String("hash", checksum.Short(hash)))
	}
	return &NoteReport{ID: ref.ID, Path: ref.Path, Hash: hash, Size: len(body), Replaced: replaced}, nil
}

// SaveReport describes a Save.
type SaveReport struct {
	Revision int64
	// Changed lists notes the scan found modified.
	Changed []string
	Pushed  []string
	Deleted []string
	// Skipped lists dirty notes without a cached body.
	Skipped []string
	// StillDirty lists pushed notes that changed again during the push.
	StillDirty []string
	Bytes      int64
}

// Save uploads the dirty notes. With nothing to upload it returns without a
// network call. On conflict the index is left exactly as it was, so the same
// dirty set is pushed by the next attempt.
func (e *Engine) Save(ctx context.Context, opts *options.Options) (*SaveReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = options.Default()
	}

	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	defer e.enter(StateSaving)()

	report := &SaveReport{}

	e.mu.Lock()
	if opts.NotesChanged || e.scanPending.Swap(false) {
		changed, err := e.idx.ScanForChanges(e.cache)
		if err != nil {
			e.scanPending.Store(true)
			e.mu.Unlock()
			return nil, fmt.Errorf("engine: save: %w", err)
		}
		report.Changed = changed
	}
	pending := e.idx.Dirty()
	base := e.idx.Revision
	e.mu.Unlock()

	report.Revision = base
	if len(pending) == 0 {
		return report, nil
	}

	notes := make([]models.PushNote, 0, len(pending))
	acks := make([]index.Ack, 0, len(pending))
	for _, p := range pending {
		if p.Deleted {
			notes = append(notes, models.PushNote{
				RemoteNote: models.RemoteNote{ID: p.ID, Path: p.Path, Modified: p.Modified, Deleted: true},
			})
			acks = append(acks, index.Ack{ID: p.ID, Gen: p.Gen, Deleted: true})
			report.Deleted = append(report.Deleted, p.ID)
			continue
		}
		body, err := e.cache.Read(p.Path)
		if errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("engine: dirty note has no cached body", slog.String("id", p.ID))
			report.Skipped = append(report.Skipped, p.ID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("engine: save: read %s: %w: %w", p.ID, apperr.ErrStorage, err)
		}
		hash := checksum.Sum(body)
		title := parser.Title(body)
		notes = append(notes, models.PushNote{
			RemoteNote: models.RemoteNote{
				ID:       p.ID,
				Path:     p.Path,
				Hash:     hash,
				Title:    title,
				Created:  p.Created,
				Modified: p.Modified,
			},
			Content: body,
		})
		acks = append(acks, index.Ack{ID: p.ID, Gen: p.Gen, Hash: hash, Title: title})
		report.Pushed = append(report.Pushed, p.ID)
		report.Bytes += int64(len(body))
	}
	if len(notes) == 0 {
		return report, nil
	}

	rev, err := e.remote.PushChanges(ctx, base, notes)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			e.logger.Warn("engine: save conflict",
				slog.Int64("base_revision", base),
				slog.String("error", err.Error()))
		}
		return nil, fmt.Errorf("engine: save: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.idx.Clone()
	report.StillDirty = next.ClearDirty(acks)
	next.Revision = rev
	if err := e.commitLocked(next); err != nil {
		return nil, err
	}
	e.synced = true
	report.Revision = rev

	e.logger.Info("engine: saved",
		slog.Int64("revision", rev),
		slog.Int("pushed", len(report.Pushed)),
		slog.Int("deleted", len(report.Deleted)),
		slog.Int("still_dirty", len(report.StillDirty)))
	return report, nil
}
