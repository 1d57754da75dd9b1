package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/checksum"
	"github.com/starford/notesync/internal/index"
	"github.com/starford/notesync/internal/models"
	"github.com/starford/notesync/internal/options"
	"github.com/starford/notesync/internal/remote"
	"github.com/starford/notesync/internal/testutil"
)

func newEngine(t *testing.T, ns *testutil.NoteServer, dir string) *Engine {
	t.Helper()
	retry := remote.WithRetryer(&remote.ExponentialBackoffRetryer{
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  2,
	})
	e := New(dir, remote.NewClient(ns.URL, 5*time.Second, retry), WithWorkers(2))
	require.NoError(t, e.Init(context.Background()))
	return e
}

func opts(t *testing.T, s string) *options.Options {
	t.Helper()
	o, err := options.Parse(s)
	require.NoError(t, err)
	return o
}

// seed stores notes directly on the service and returns their IDs.
func seed(t *testing.T, ns *testutil.NoteServer, base int64, bodies ...string) []string {
	t.Helper()
	notes := make([]models.PushNote, len(bodies))
	ids := make([]string, len(bodies))
	for i, b := range bodies {
		id := uuid.NewString()
		ids[i] = id
		notes[i] = models.PushNote{
			RemoteNote: models.RemoteNote{ID: id, Path: models.NotePath(id), Hash: checksum.Sum([]byte(b)), Title: b},
			Content:    []byte(b),
		}
	}
	_, err := ns.DB.Push(context.Background(), base, notes)
	require.NoError(t, err)
	return ids
}

func cachePath(e *Engine, ref index.NoteRef) string {
	return filepath.Join(e.cache.Root(), filepath.FromSlash(ref.Path))
}

func writeBody(t *testing.T, e *Engine, ref index.NoteRef, body string) {
	t.Helper()
	p := cachePath(e, ref)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func TestOperationsBeforeInit(t *testing.T) {
	e := New(t.TempDir(), nil)
	ctx := context.Background()
	assert.Equal(t, StateUninitialized, e.State())

	_, err := e.Download(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = e.DownloadNote(ctx, nil, "x")
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = e.List(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = e.NewNote(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = e.Save(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, _, err = e.ReadNote(ctx, "x")
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = e.DeleteNote(ctx, "x")
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	_, err = e.ImportNote(ctx, "x")
	assert.ErrorIs(t, err, apperr.ErrNotInitialized)
	assert.ErrorIs(t, e.Watch(ctx, time.Millisecond, nil), apperr.ErrNotInitialized)
}

func TestListBeforeDownloadIsEmptyIndex(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())

	_, err := e.List(context.Background(), nil)
	assert.ErrorIs(t, err, apperr.ErrEmptyIndex)
	assert.Equal(t, apperr.KindEmptyIndex, apperr.KindOf(err))
}

func TestDownloadEmptyRemoteListsNothing(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	report, err := e.Download(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.Revision)
	assert.Equal(t, 0, report.Notes)

	refs, err := e.List(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Equal(t, StateReady, e.State())
}

func TestNewNoteListedOnce(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	ref, err := e.NewNote(ctx, nil)
	require.NoError(t, err)

	refs, err := e.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ref.ID, refs[0].ID)
	assert.True(t, refs[0].Dirty)
	assert.Zero(t, ns.Total())
}

func TestSaveWithNothingDirtyMakesNoCalls(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	seed(t, ns, 0, "remote note")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	_, err := e.Download(ctx, nil)
	require.NoError(t, err)
	before := ns.Total()

	report, err := e.Save(ctx, opts(t, "notes_changed=yes"))
	require.NoError(t, err)
	assert.Empty(t, report.Pushed)
	assert.Equal(t, int64(1), report.Revision)
	assert.Equal(t, before, ns.Total())

	rev, err := e.Revision()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
}

func TestSaveUploadsNewNote(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	_, err := e.Download(ctx, nil)
	require.NoError(t, err)
	ref, err := e.NewNote(ctx, nil)
	require.NoError(t, err)
	writeBody(t, e, ref, "Shopping\n- milk")

	report, err := e.Save(ctx, opts(t, "notes_changed=yes"))
	require.NoError(t, err)
	assert.Equal(t, []string{ref.ID}, report.Pushed)
	assert.Equal(t, int64(1), report.Revision)
	assert.Equal(t, 1, ns.Calls("POST /api/push"))

	content, hash, err := ns.DB.Content(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shopping\n- milk", string(content))
	assert.Equal(t, checksum.Sum(content), hash)

	refs, err := e.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.False(t, refs[0].Dirty)
	assert.Equal(t, hash, refs[0].Hash)
	assert.Equal(t, "Shopping - milk", refs[0].Title)
}

func TestDownloadPrefetchesBodies(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	ids := seed(t, ns, 0, "first", "second", "third")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	report, err := e.Download(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Added)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, int64(len("firstsecondthird")), report.Bytes)
	assert.Equal(t, 3, ns.Calls("GET /api/notes/{id}"))

	body, ref, err := e.ReadNote(ctx, models.NotePath(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, "second", string(body))
	assert.True(t, ref.Downloaded())

	// cached bodies are not fetched again
	_, err = e.Download(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, ns.Calls("GET /api/notes/{id}"))
}

func TestDownloadSkipDownload(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	ids := seed(t, ns, 0, "body")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	report, err := e.Download(ctx, opts(t, "skip_download=yes"))
	require.NoError(t, err)
	assert.Zero(t, report.Fetched)
	assert.Zero(t, ns.Calls("GET /api/notes/{id}"))

	_, _, err = e.ReadNote(ctx, ids[0])
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDownloadNewNote(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	report, err := e.Download(ctx, opts(t, "new_note=yes"))
	require.NoError(t, err)
	require.NotEmpty(t, report.NewNote)
	assert.Equal(t, 1, report.Notes)

	refs, err := e.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, report.NewNote, refs[0].ID)
}

func TestDownloadKeepsLocalOnlyNotes(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	seed(t, ns, 0, "remote")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	local, err := e.NewNote(ctx, nil)
	require.NoError(t, err)

	report, err := e.Download(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{local.ID}, report.LocalOnly)

	refs, err := e.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, local.ID, refs[0].ID)
	assert.True(t, refs[0].Dirty)
	assert.False(t, refs[1].Dirty)
}

func TestSaveConflictKeepsDirtySet(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	_, err := e.Download(ctx, nil)
	require.NoError(t, err)
	ref, err := e.NewNote(ctx, nil)
	require.NoError(t, err)
	writeBody(t, e, ref, "mine")

	// someone else saves first
	seed(t, ns, 0, "theirs")

	for attempt := 1; attempt <= 2; attempt++ {
		_, err = e.Save(ctx, opts(t, "notes_changed=yes"))
		require.ErrorIs(t, err, apperr.ErrConflict)
		assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		assert.Equal(t, attempt, ns.Calls("POST /api/push"))

		rev, err := e.Revision()
		require.NoError(t, err)
		assert.Equal(t, int64(0), rev)

		refs, err := e.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.True(t, refs[0].Dirty)
	}

	_, err = e.Download(ctx, nil)
	require.NoError(t, err)
	report, err := e.Save(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ref.ID}, report.Pushed)
	assert.Equal(t, int64(2), report.Revision)
}

func TestSaveSkipsNoteWithoutBody(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	ref, err := e.NewNote(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(cachePath(e, ref)))

	report, err := e.Save(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{ref.ID}, report.Skipped)
	assert.Zero(t, ns.Total())
}

func TestDownloadNote(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	ids := seed(t, ns, 0, "remote body")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	_, err := e.Download(ctx, opts(t, "skip_download=yes"))
	require.NoError(t, err)

	report, err := e.DownloadNote(ctx, nil, models.NotePath(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, ids[0], report.ID)
	assert.Equal(t, len("remote body"), report.Size)
	assert.False(t, report.Replaced)

	body, ref, err := e.ReadNote(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "remote body", string(body))
	assert.False(t, ref.Dirty)

	// a local edit is overwritten and reported
	writeBody(t, e, ref, "local edit")
	report, err = e.DownloadNote(ctx, nil, ids[0])
	require.NoError(t, err)
	assert.True(t, report.Replaced)

	body, _, err = e.ReadNote(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "remote body", string(body))
}

func TestDownloadNoteUnknown(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())

	_, err := e.DownloadNote(context.Background(), nil, "Notes/missing/content")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, ns.Total())
}

func TestIndexSurvivesRestart(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	dir := t.TempDir()
	ctx := context.Background()

	first := newEngine(t, ns, dir)
	_, err := first.Download(ctx, nil)
	require.NoError(t, err)
	ref, err := first.NewNote(ctx, nil)
	require.NoError(t, err)
	writeBody(t, first, ref, "persisted")
	_, err = first.Save(ctx, opts(t, "notes_changed=yes"))
	require.NoError(t, err)
	want, err := first.List(ctx, nil)
	require.NoError(t, err)

	second := newEngine(t, ns, dir)
	got, err := second.List(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	rev, err := second.Revision()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
}

func TestConcurrentSavesPushOnce(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	_, err := e.Download(ctx, nil)
	require.NoError(t, err)
	for _, body := range []string{"a", "b"} {
		ref, err := e.NewNote(ctx, nil)
		require.NoError(t, err)
		writeBody(t, e, ref, body)
	}

	changed := opts(t, "notes_changed=yes")
	var wg sync.WaitGroup
	reports := make([]*SaveReport, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = e.Save(ctx, changed)
		}()
	}
	wg.Wait()

	pushed := 0
	for i := range 2 {
		require.NoError(t, errs[i])
		pushed += len(reports[i].Pushed)
	}
	assert.Equal(t, 2, pushed)
	assert.Equal(t, 1, ns.Calls("POST /api/push"))

	rev, err := e.Revision()
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	snap, err := ns.DB.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Notes, 2)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "saving", StateSaving.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestWriteNote(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	e := newEngine(t, ns, t.TempDir())
	ctx := context.Background()

	ref, err := e.NewNote(ctx, nil)
	require.NoError(t, err)
	_, err = e.Save(ctx, nil)
	require.NoError(t, err)

	updated, err := e.WriteNote(ctx, ref.Path, []byte("# Plans\nmore"))
	require.NoError(t, err)
	assert.True(t, updated.Dirty)
	assert.Equal(t, "Plans", updated.Title)

	// writing back the acknowledged body makes the note clean again
	updated, err = e.WriteNote(ctx, ref.ID, nil)
	require.NoError(t, err)
	assert.False(t, updated.Dirty)

	_, err = e.WriteNote(ctx, "Notes/unknown/content", []byte("x"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPersistFailureLeavesIndexUnchanged(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	seed(t, ns, 0, "remote note")
	dir := t.TempDir()
	e := newEngine(t, ns, dir)
	ctx := context.Background()

	first, err := e.NewNote(ctx, nil)
	require.NoError(t, err)

	// a non-empty directory where the index file goes makes every persist fail
	require.NoError(t, os.Remove(filepath.Join(dir, IndexFile)))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, IndexFile, "x"), 0o755))

	_, err = e.NewNote(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	_, err = e.Download(ctx, nil)
	assert.ErrorIs(t, err, apperr.ErrStorage)
	_, err = e.WriteNote(ctx, first.ID, []byte("# Edit"))
	assert.ErrorIs(t, err, apperr.ErrStorage)
	_, err = e.DeleteNote(ctx, first.ID)
	assert.ErrorIs(t, err, apperr.ErrStorage)

	refs, err := e.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, first.ID, refs[0].ID)
	assert.Equal(t, checksum.Empty, refs[0].Cached)
	assert.True(t, refs[0].Dirty)

	rev, err := e.Revision()
	require.NoError(t, err)
	assert.Zero(t, rev)
}
