// Package testutil provides shared test helpers: temp stores, databases and
// an in-process note service.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notesync/internal/api"
	"github.com/starford/notesync/internal/db"
	"github.com/starford/notesync/internal/logging"
	"github.com/starford/notesync/internal/noteservice"
	"github.com/starford/notesync/internal/sse"
	"github.com/starford/notesync/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "notesync-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// TestStore creates a temporary directory with a storage provider.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// NoteServer is a note service running on an httptest server. It counts
// requests per route so tests can assert on network traffic.
type NoteServer struct {
	URL string
	DB  *db.DB

	mu    sync.Mutex
	calls map[string]int
}

// NewNoteServer starts a note service. A non-empty token enables auth.
func NewNoteServer(t *testing.T, token string) *NoteServer {
	t.Helper()
	ns := &NoteServer{DB: TestDB(t), calls: make(map[string]int)}

	broker := sse.NewBroker(0)
	t.Cleanup(broker.Close)

	logger := logging.Discard()
	svc := noteservice.NewService(ns.DB, broker, logger)

	r := chi.NewRouter()
	r.Use(ns.count)
	r.Mount("/api", api.NewRouter(svc, logger, token != "", token, broker))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	ns.URL = srv.URL
	return ns
}

func (ns *NoteServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ns.mu.Lock()
		ns.calls[r.Method+" "+routeOf(r.URL.Path)]++
		ns.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func routeOf(path string) string {
	if dir, _ := filepath.Split(path); dir == "/api/notes/" {
		return "/api/notes/{id}"
	}
	return path
}

// Calls returns how many requests hit route, e.g. "POST /api/push" or
// "GET /api/notes/{id}".
func (ns *NoteServer) Calls(route string) int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.calls[route]
}

// Total returns the number of requests served.
func (ns *NoteServer) Total() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	n := 0
	for _, c := range ns.calls {
		n += c
	}
	return n
}
