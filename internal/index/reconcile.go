package index

import "github.com/starford/notesync/internal/models"

// ReconcileResult summarizes a Reconcile.
type ReconcileResult struct {
	Added   int // remote notes new to the replica
	Updated int // clean notes whose remote hash moved
	// LocalOnly lists notes absent from the remote; they are kept dirty for
	// the next save.
	LocalOnly []string
	// Diverged lists dirty notes whose remote hash moved since the last
	// acknowledgement, or that the remote deleted. The next save overwrites
	// the remote copy.
	Diverged []string
	// Removed lists notes dropped from the replica: clean notes the remote
	// deleted and tombstones the remote no longer needs. Their cached bodies
	// are stale.
	Removed []string
}

// Reconcile merges a remote snapshot into the index and adopts its revision.
// Local changes always survive: notes the remote does not know stay pending
// upload, and a remote deletion only removes notes without local edits.
func (idx *NoteIndex) Reconcile(snap *models.IndexSnapshot) ReconcileResult {
	var res ReconcileResult
	remote := make(map[string]struct{}, len(snap.Notes))

	for _, rn := range snap.Notes {
		if rn.ID == "" {
			continue
		}
		remote[rn.ID] = struct{}{}

		local, ok := idx.refs[rn.ID]
		switch {
		case rn.Deleted:
			switch {
			case !ok:
			case local.Deleted || !local.Dirty:
				res.Removed = append(res.Removed, rn.ID)
			default:
				res.Diverged = append(res.Diverged, rn.ID)
			}
		case !ok:
			idx.put(NoteRef{
				ID:       rn.ID,
				Path:     models.NotePath(rn.ID),
				Hash:     rn.Hash,
				Title:    rn.Title,
				Created:  rn.Created,
				Modified: rn.Modified,
			})
			res.Added++
		case local.Dirty:
			if local.Hash != rn.Hash {
				res.Diverged = append(res.Diverged, rn.ID)
			}
		default:
			if local.Hash != rn.Hash {
				res.Updated++
			}
			local.Hash = rn.Hash
			local.Title = rn.Title
			local.Created = rn.Created
			local.Modified = rn.Modified
		}
	}

	for _, id := range idx.order {
		if _, ok := remote[id]; ok {
			continue
		}
		r := idx.refs[id]
		if r.Deleted {
			res.Removed = append(res.Removed, id)
			continue
		}
		if !r.Dirty {
			idx.markDirty(r)
		}
		res.LocalOnly = append(res.LocalOnly, id)
	}
	for _, id := range res.Removed {
		idx.remove(id)
	}

	idx.Revision = snap.Revision
	return res
}
