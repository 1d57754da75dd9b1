package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/notesync/internal/apperr"
	"github.com/starford/notesync/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "notesync-test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func pushNote(id, body string) models.PushNote {
	return models.PushNote{
		RemoteNote: models.RemoteNote{ID: id, Path: models.NotePath(id), Hash: "h-" + body, Title: body},
		Content:    []byte(body),
	}
}

func TestEmptySnapshot(t *testing.T) {
	db := testDB(t)
	snap, err := db.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Revision != 0 || len(snap.Notes) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPushAndRead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	rev, err := db.Push(ctx, 0, []models.PushNote{pushNote("b", "second"), pushNote("a", "first")})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rev != 1 {
		t.Errorf("rev = %d, want 1", rev)
	}

	snap, err := db.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Revision != 1 || len(snap.Notes) != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Notes[0].ID != "b" || snap.Notes[1].ID != "a" {
		t.Errorf("order = %s, %s", snap.Notes[0].ID, snap.Notes[1].ID)
	}
	if snap.Notes[0].Created == 0 {
		t.Error("created not defaulted")
	}

	content, hash, err := db.Content(ctx, "a")
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(content) != "first" || hash != "h-first" {
		t.Errorf("content = %q, hash = %q", content, hash)
	}
}

func TestPushUpdateKeepsOrderAndCreated(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	first := pushNote("a", "v1")
	first.Created = 100
	if _, err := db.Push(ctx, 0, []models.PushNote{first, pushNote("b", "x")}); err != nil {
		t.Fatal(err)
	}
	second := pushNote("a", "v2")
	second.Created = 999
	rev, err := db.Push(ctx, 1, []models.PushNote{second})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if rev != 2 {
		t.Errorf("rev = %d", rev)
	}

	snap, _ := db.Snapshot(ctx)
	if snap.Notes[0].ID != "a" || snap.Notes[0].Hash != "h-v2" || snap.Notes[0].Created != 100 {
		t.Errorf("note a = %+v", snap.Notes[0])
	}
}

func TestPushConflict(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Push(ctx, 0, []models.PushNote{pushNote("a", "x")}); err != nil {
		t.Fatal(err)
	}
	rev, err := db.Push(ctx, 0, []models.PushNote{pushNote("b", "y")})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if rev != 1 {
		t.Errorf("current rev = %d, want 1", rev)
	}
	if _, _, err := db.Content(ctx, "b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("conflicting push was written: %v", err)
	}
}

func TestConcurrentPushesSameBase(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Push(ctx, 0, []models.PushNote{pushNote("a", "x")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrConflict):
				clash++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || clash != 3 {
		t.Errorf("ok = %d, conflicts = %d", ok, clash)
	}
	rev, _ := db.Revision(ctx)
	if rev != 1 {
		t.Errorf("revision = %d, want 1", rev)
	}
}

func TestContentNotFound(t *testing.T) {
	db := testDB(t)
	if _, _, err := db.Content(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestPushDeleteLeavesTombstone(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Push(ctx, 0, []models.PushNote{pushNote("a", "first"), pushNote("b", "second")}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	gone := models.PushNote{RemoteNote: models.RemoteNote{ID: "a", Path: models.NotePath("a"), Deleted: true}}
	rev, err := db.Push(ctx, 1, []models.PushNote{gone})
	if err != nil {
		t.Fatalf("Push delete: %v", err)
	}
	if rev != 2 {
		t.Errorf("rev = %d, want 2", rev)
	}

	snap, err := db.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Notes) != 2 {
		t.Fatalf("notes = %+v", snap.Notes)
	}
	if a := snap.Notes[0]; !a.Deleted || a.Hash != "" || a.Title != "" {
		t.Errorf("tombstone = %+v", a)
	}
	if snap.Notes[1].Deleted {
		t.Errorf("b deleted: %+v", snap.Notes[1])
	}
	if _, _, err := db.Content(ctx, "a"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("content of deleted note: %v", err)
	}

	// pushing the ID again revives it
	if _, err := db.Push(ctx, 2, []models.PushNote{pushNote("a", "back")}); err != nil {
		t.Fatalf("Push revive: %v", err)
	}
	body, _, err := db.Content(ctx, "a")
	if err != nil || string(body) != "back" {
		t.Errorf("revived content = %q, %v", body, err)
	}
}
