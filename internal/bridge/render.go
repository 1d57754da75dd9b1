package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/starford/notesync/internal/engine"
	"github.com/starford/notesync/internal/index"
	"github.com/starford/notesync/internal/options"
)

func downloadSummary(r *engine.DownloadReport) string {
	s := fmt.Sprintf("revision %d, %d notes (%d added, %d updated)", r.Revision, r.Notes, r.Added, r.Updated)
	if r.Fetched > 0 || r.Failed > 0 {
		s += fmt.Sprintf(", fetched %d %s (%s)", r.Fetched, plural(r.Fetched, "body", "bodies"), humanize.Bytes(uint64(r.Bytes)))
	}
	if r.Kept > 0 {
		s += fmt.Sprintf(", %d kept", r.Kept)
	}
	if len(r.Removed) > 0 {
		s += fmt.Sprintf(", %d removed", len(r.Removed))
	}
	if r.Failed > 0 {
		s += fmt.Sprintf(", %d failed", r.Failed)
	}
	return s
}

func downloadPayload(r *engine.DownloadReport) string {
	var b strings.Builder
	if r.NewNote != "" {
		fmt.Fprintf(&b, "new\t%s\n", r.NewNote)
	}
	for _, id := range r.LocalOnly {
		fmt.Fprintf(&b, "local_only\t%s\n", id)
	}
	for _, id := range r.Diverged {
		fmt.Fprintf(&b, "diverged\t%s\n", id)
	}
	for _, id := range r.Removed {
		fmt.Fprintf(&b, "removed\t%s\n", id)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func noteSummary(r *engine.NoteReport) string {
	s := fmt.Sprintf("downloaded %s (%s)", r.Path, humanize.Bytes(uint64(r.Size)))
	if r.Replaced {
		s += ", local changes replaced"
	}
	return s
}

func deleteSummary(r *engine.DeleteReport) string {
	if r.Pending {
		return fmt.Sprintf("deleted %s, removed remotely on next save", r.Path)
	}
	return "deleted " + r.Path
}

func saveSummary(r *engine.SaveReport) string {
	if len(r.Pushed) == 0 && len(r.Deleted) == 0 {
		return fmt.Sprintf("nothing to save (revision %d)", r.Revision)
	}
	s := fmt.Sprintf("saved %d %s (%s)",
		len(r.Pushed), plural(len(r.Pushed), "note", "notes"), humanize.Bytes(uint64(r.Bytes)))
	if len(r.Deleted) > 0 {
		s += fmt.Sprintf(", deleted %d", len(r.Deleted))
	}
	return s + fmt.Sprintf(", revision %d", r.Revision)
}

func savePayload(r *engine.SaveReport) string {
	var b strings.Builder
	for _, id := range r.Deleted {
		fmt.Fprintf(&b, "deleted\t%s\n", id)
	}
	for _, id := range r.Skipped {
		fmt.Fprintf(&b, "skipped\t%s\n", id)
	}
	for _, id := range r.StillDirty {
		fmt.Fprintf(&b, "still_dirty\t%s\n", id)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func listSummary(refs []index.NoteRef) string {
	dirty := 0
	for _, r := range refs {
		if r.Dirty {
			dirty++
		}
	}
	return fmt.Sprintf("%d %s, %d dirty", len(refs), plural(len(refs), "note", "notes"), dirty)
}

type listedNote struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	Title      string `json:"title"`
	Hash       string `json:"hash,omitempty"`
	Dirty      bool   `json:"dirty"`
	Downloaded bool   `json:"downloaded"`
	Created    int64  `json:"created"`
	Modified   int64  `json:"modified"`
}

type listing struct {
	Revision int64        `json:"revision"`
	Notes    []listedNote `json:"notes"`
}

// renderList writes one "id<TAB>path<TAB>clean|dirty<TAB>title" line per
// note, or a JSON document.
func renderList(refs []index.NoteRef, rev int64, format options.Format) (string, error) {
	if format == options.FormatJSON {
		doc := listing{Revision: rev, Notes: make([]listedNote, 0, len(refs))}
		for _, r := range refs {
			doc.Notes = append(doc.Notes, listedNote{
				ID:         r.ID,
				Path:       r.Path,
				Title:      r.Title,
				Hash:       r.Hash,
				Dirty:      r.Dirty,
				Downloaded: r.Downloaded(),
				Created:    r.Created,
				Modified:   r.Modified,
			})
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return "", fmt.Errorf("bridge: list: encode: %w", err)
		}
		return string(data), nil
	}

	lines := make([]string, len(refs))
	for i, r := range refs {
		state := "clean"
		if r.Dirty {
			state = "dirty"
		}
		lines[i] = r.ID + "\t" + r.Path + "\t" + state + "\t" + r.Title
	}
	return strings.Join(lines, "\n"), nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
