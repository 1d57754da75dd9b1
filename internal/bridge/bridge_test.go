package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/testutil"
)

const testINI = `
[app]
log_level = error

[storage]
dir = %s

[remote]
endpoint = %s
max_attempts = 1
`

// writeConfig writes test.ini into the working directory.
func writeConfig(t *testing.T, endpoint string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	body := fmt.Sprintf(testINI, filepath.Join(dir, "store"), endpoint)
	require.NoError(t, os.WriteFile("test.ini", []byte(body), 0o644))
	return dir
}

func summary(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	return strings.TrimPrefix(line, prefixOK)
}

func lines(payload string) []string {
	if payload == "" {
		return nil
	}
	return strings.Split(payload, "\n")
}

func TestScenarioNewNoteRoundTrip(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	writeConfig(t, ns.URL)
	f := New()

	out := f.InitApp("config=test.ini new_note=no")
	require.False(t, IsError(out), out)

	out = f.Download("")
	require.False(t, IsError(out), out)

	out = f.List("")
	require.False(t, IsError(out), out)
	assert.Empty(t, lines(Body(out)))

	out = f.NewNote("")
	require.False(t, IsError(out), out)
	id := summary(out)
	require.Len(t, id, 36)

	out = f.List("")
	require.False(t, IsError(out), out)
	listed := lines(Body(out))
	require.Len(t, listed, 1)
	assert.True(t, strings.HasPrefix(listed[0], id+"\tNotes/"+id+"/content\tdirty"), listed[0])

	out = f.Save("notes_changed=yes")
	require.False(t, IsError(out), out)
	assert.Equal(t, 1, ns.Calls("POST /api/push"))

	snap, err := ns.DB.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Notes, 1)
	assert.Equal(t, id, snap.Notes[0].ID)

	out = f.List("")
	listed = lines(Body(out))
	require.Len(t, listed, 1)
	assert.True(t, strings.HasPrefix(listed[0], id+"\tNotes/"+id+"/content\tclean"), listed[0])
}

func TestCallsBeforeInitApp(t *testing.T) {
	f := New()
	for name, out := range map[string]string{
		"Download":     f.Download(""),
		"DownloadNote": f.DownloadNote("", "Notes/x/content"),
		"List":         f.List(""),
		"NewNote":      f.NewNote(""),
		"ImportNote":   f.ImportNote("", "todo.md"),
		"DeleteNote":   f.DeleteNote("", "Notes/x/content"),
		"Save":         f.Save("notes_changed=yes"),
	} {
		assert.True(t, strings.HasPrefix(out, "ERR not_initialized: "), "%s: %s", name, out)
	}
}

func TestInitAppErrors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("bad.yaml", []byte("app: [unclosed"), 0o644))
	require.NoError(t, os.WriteFile("invalid.ini", []byte("[remote]\nendpoint = not a url\n"), 0o644))
	require.NoError(t, os.WriteFile("notes.json", []byte("{}"), 0o644))

	tests := []struct {
		source string
		kind   apperr.Kind
	}{
		{"config=test.ini new_note", apperr.KindConfigMalformed},
		{"new_note=maybe", apperr.KindConfigInvalidValue},
		{"missing.ini", apperr.KindConfigNotFound},
		{"config=missing.ini", apperr.KindConfigNotFound},
		{"config=bad.yaml", apperr.KindConfigMalformed},
		{"config=invalid.ini", apperr.KindConfigInvalidValue},
		{"config=notes.json", apperr.KindConfigMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			f := New()
			out := f.InitApp(tc.source)
			assert.True(t, strings.HasPrefix(out, "ERR "+string(tc.kind)+": "), out)

			// still uninitialized
			assert.True(t, strings.HasPrefix(f.List(""), "ERR not_initialized: "))
		})
	}
}

func TestInitAppRetryAfterFailure(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	writeConfig(t, ns.URL)
	f := New()

	assert.True(t, IsError(f.InitApp("config=nope.ini")))
	out := f.InitApp("config=test.ini")
	require.False(t, IsError(out), out)
	assert.Equal(t, "OK: already initialized", f.InitApp("config=nope.ini"))
}

func TestConcurrentInitApp(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	writeConfig(t, ns.URL)
	f := New()

	const n = 8
	outs := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i] = f.InitApp("test.ini")
		}()
	}
	wg.Wait()

	initialized := 0
	for _, out := range outs {
		require.False(t, IsError(out), out)
		if strings.HasPrefix(out, "OK: initialized") {
			initialized++
		}
	}
	assert.Equal(t, 1, initialized)
}

func TestSaveConflictIsDistinct(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	writeConfig(t, ns.URL)
	f := New()
	require.False(t, IsError(f.InitApp("config=test.ini")))
	require.False(t, IsError(f.Download("")))
	require.False(t, IsError(f.NewNote("")))

	// another client saves first
	other := New()
	otherDir := t.TempDir()
	otherINI := filepath.Join(otherDir, "other.ini")
	require.NoError(t, os.WriteFile(otherINI, []byte(fmt.Sprintf(testINI, otherDir, ns.URL)), 0o644))
	require.False(t, IsError(other.InitApp(otherINI)))
	require.False(t, IsError(other.Download("new_note=yes")))
	require.False(t, IsError(other.Save("")))

	out := f.Save("")
	assert.True(t, strings.HasPrefix(out, "ERR conflict: "), out)

	require.False(t, IsError(f.Download("")))
	out = f.Save("")
	require.False(t, IsError(out), out)
	assert.Contains(t, out, "revision 2")
}

func TestListJSON(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	writeConfig(t, ns.URL)
	f := New()
	require.False(t, IsError(f.InitApp("config=test.ini")))
	id := summary(f.NewNote(""))

	out := f.List("format=json")
	require.False(t, IsError(out), out)

	var doc listing
	require.NoError(t, json.Unmarshal([]byte(Body(out)), &doc))
	require.Len(t, doc.Notes, 1)
	assert.Equal(t, id, doc.Notes[0].ID)
	assert.True(t, doc.Notes[0].Dirty)
	assert.Equal(t, int64(0), doc.Revision)
}

func TestDownloadNoteAndRead(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	writeConfig(t, ns.URL)
	f := New()
	require.False(t, IsError(f.InitApp("config=test.ini")))

	id := summary(f.NewNote(""))
	require.False(t, IsError(f.Save("")))

	out := f.DownloadNote("", "Notes/"+id+"/content")
	require.False(t, IsError(out), out)
	assert.Contains(t, out, "downloaded Notes/"+id+"/content")

	out = f.ReadNote("", id)
	require.False(t, IsError(out), out)
	assert.Equal(t, id, summary(out))

	out = f.DownloadNote("", "Notes/unknown/content")
	assert.True(t, strings.HasPrefix(out, "ERR not_found: "), out)
}

func TestImportAndDelete(t *testing.T) {
	ns := testutil.NewNoteServer(t, "")
	dir := writeConfig(t, ns.URL)
	f := New()
	require.False(t, IsError(f.InitApp("config=test.ini")))
	require.False(t, IsError(f.Download("")))

	src := filepath.Join(dir, "todo.md")
	require.NoError(t, os.WriteFile(src, []byte("# Todo\n- call back"), 0o644))
	out := f.ImportNote("", src)
	require.False(t, IsError(out), out)
	id := summary(out)
	assert.Equal(t, "Notes/"+id+"/content", Body(out))

	out = f.Save("")
	require.False(t, IsError(out), out)
	assert.Equal(t, "saved 1 note (18 B), revision 1", summary(out))

	out = f.DeleteNote("", id)
	require.False(t, IsError(out), out)
	assert.Equal(t, "deleted Notes/"+id+"/content, removed remotely on next save", summary(out))
	assert.Equal(t, id, Body(out))

	out = f.Save("")
	require.False(t, IsError(out), out)
	assert.Equal(t, "saved 0 notes (0 B), deleted 1, revision 2", summary(out))
	assert.Equal(t, []string{"deleted\t" + id}, lines(Body(out)))

	out = f.DeleteNote("", id)
	assert.True(t, strings.HasPrefix(out, "ERR not_found: "), out)
	out = f.ImportNote("", filepath.Join(dir, "missing.md"))
	assert.True(t, strings.HasPrefix(out, "ERR not_found: "), out)

	// a note never saved goes away without a remote call
	id = summary(f.NewNote(""))
	calls := ns.Total()
	out = f.DeleteNote("", id)
	assert.Equal(t, "OK: deleted Notes/"+id+"/content\n"+id, out)
	assert.Equal(t, "nothing to save (revision 2)", summary(f.Save("")))
	assert.Equal(t, calls, ns.Total())
}

func TestResultRendering(t *testing.T) {
	assert.Equal(t, "OK: done", ok("done", "").String())
	assert.Equal(t, "OK: 2 notes\na\nb", ok("2 notes", "a\nb").String())

	err := fmt.Errorf("engine: save: %w", apperr.ErrConflict)
	assert.Equal(t, "ERR conflict: engine: save: conflict", fail(err).String())
	assert.Equal(t, "ERR internal: boom across lines", fail(errors.New("boom\nacross lines")).String())
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := New()
	res := f.call("Test", func() Result { panic("kaboom") })
	assert.Equal(t, apperr.KindInternal, res.Kind)
	assert.Contains(t, res.String(), "ERR internal: bridge: Test: panic: kaboom")
}
