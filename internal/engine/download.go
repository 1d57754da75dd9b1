package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starford/notesync/internal/checksum"
	"github.com/starford/notesync/internal/index"
	"github.com/starford/notesync/internal/models"
	"github.com/starford/notesync/internal/options"
	"github.com/starford/notesync/internal/parser"
)

// DownloadReport describes a Download.
type DownloadReport struct {
	Revision int64
	Notes    int
	Added    int
	Updated  int
	// LocalOnly, Diverged and Removed are copied from the reconcile result.
	LocalOnly []string
	Diverged  []string
	Removed   []string
	Fetched   int
	// Kept counts bodies not written because the note changed locally while
	// the download ran.
	Kept   int
	Failed int
	Bytes  int64
	// NewNote is the ID allocated when new_note was requested.
	NewNote string
}

// Download refreshes the replica from the remote index. Notes the remote does
// not know are kept for the next Save; clean notes the remote deleted are
// removed. Bodies of clean notes whose cache is stale are fetched in parallel
// unless skip_download is set; a failed body fetch is counted, not fatal.
func (e *Engine) Download(ctx context.Context, opts *options.Options) (*DownloadReport, error) {
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
	defer e.enter(StateDownloading)()

	snap, err := e.remote.FetchIndex(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: download: %w", err)
	}

	e.mu.Lock()
	if opts.NotesChanged || e.scanPending.Swap(false) {
		// local edits must be dirty before reconcile decides who wins
		if _, err := e.idx.ScanForChanges(e.cache); err != nil {
			e.scanPending.Store(true)
			e.mu.Unlock()
			return nil, fmt.Errorf("engine: download: %w", err)
		}
	}
	next := e.idx.Clone()
	res := next.Reconcile(snap)
	if err := e.commitLocked(next); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	for _, id := range res.Removed {
		e.dropCached(id, models.NotePath(id))
	}
	var stale []index.NoteRef
	if !opts.SkipDownload {
		for _, r := range e.idx.Refs() {
			if !r.Dirty && r.Hash != "" && r.Cached != r.Hash {
				stale = append(stale, r)
			}
		}
	}
	e.synced = true
	e.mu.Unlock()

	report := &DownloadReport{
		Revision:  snap.Revision,
		Added:     res.Added,
		Updated:   res.Updated,
		LocalOnly: res.LocalOnly,
		Diverged:  res.Diverged,
		Removed:   res.Removed,
	}
	e.prefetch(ctx, stale, report)

	e.mu.Lock()
	defer e.mu.Unlock()
	if opts.NewNote {
		ref, err := e.allocateLocked(nil)
		if err != nil {
			return nil, err
		}
		report.NewNote = ref.ID
	} else if report.Fetched > 0 {
		// the bodies are in the cache already; a failed persist is repaired
		// by the next successful one
		if err := e.persistLocked(); err != nil {
			return nil, err
		}
	}
	report.Notes = e.idx.Len()

	e.logger.Info("engine: downloaded",
		slog.Int64("revision", report.Revision),
		slog.Int("notes", report.Notes),
		slog.Int("fetched", report.Fetched),
		slog.Int("kept", report.Kept),
		slog.Int("failed", report.Failed))
	return report, nil
}

// prefetch downloads bodies with at most e.workers requests in flight. A
// body is only written while its note is still clean and its cache file is
// still the one the index knows, so edits made during the download win.
func (e *Engine) prefetch(ctx context.Context, refs []index.NoteRef, report *DownloadReport) {
	if len(refs) == 0 {
		return
	}
	var (
		fetched, kept, failed atomic.Int32
		bytes                 atomic.Int64
		g                     errgroup.Group
	)
	g.SetLimit(e.workers)

	for _, ref := range refs {
		g.Go(func() error {
			body, err := e.remote.FetchNoteContent(ctx, ref.ID)
			if err != nil {
				failed.Add(1)
				e.logger.Warn("engine: prefetch failed",
					slog.String("id", ref.ID),
					slog.String("error", err.Error()))
				return nil
			}
			hash := checksum.Sum(body)

			e.mu.Lock()
			defer e.mu.Unlock()

			cur, ok := e.idx.Get(ref.ID)
			if !ok || cur.Dirty || cur.Cached != ref.Cached {
				kept.Add(1)
				return nil
			}
			old, err := e.cache.Read(ref.Path)
			switch {
			case err == nil && checksum.Sum(old) != cur.Cached && checksum.Sum(old) != hash:
				// edited on disk but not scanned yet
				e.scanPending.Store(true)
				kept.Add(1)
				e.logger.Debug("engine: prefetch kept local body",
					slog.String("id", ref.ID),
					slog.String("hash", checksum.Short(hash)))
				return nil
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				failed.Add(1)
				e.logger.Warn("engine: cache read failed",
					slog.String("id", ref.ID),
					slog.String("error", err.Error()))
				return nil
			}
			if err := e.cache.Write(ref.Path, body); err != nil {
				failed.Add(1)
				e.logger.Warn("engine: cache write failed",
					slog.String("id", ref.ID),
					slog.String("error", err.Error()))
				return nil
			}
			e.idx.SetCached(ref.ID, hash, parser.Title(body))

			fetched.Add(1)
			bytes.Add(int64(len(body)))
			return nil
		})
	}
	_ = g.Wait()

	report.Fetched = int(fetched.Load())
	report.Kept = int(kept.Load())
	report.Failed = int(failed.Load())
	report.Bytes = bytes.Load()
}
