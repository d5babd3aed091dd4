// Package catalog holds the model catalog: a read-mostly, revisioned
// document rotated atomically on reload. Adapted from the teacher's
// internal/catalog package, which held a mutex-guarded map of discovered
// LiteLLM models; this version holds a single immutable document behind
// an atomic pointer, since the catalog here is always replaced wholesale
// by an admin call rather than incrementally discovered.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/arcrouter/control-plane/pkg/models"
)

// Store holds the current catalog snapshot behind an atomic pointer.
// Readers call Snapshot() once per plan call and operate on the returned
// value for the duration of that call — the document underneath never
// mutates after a Reload, only the pointer rotates.
type Store struct {
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	doc  models.CatalogDocument
	byID map[string]*models.CatalogEntry
	etag string
}

// New returns an empty Store; Snapshot() on it yields revision "" and no
// models until the first Reload.
func New() *Store {
	c := &Store{}
	c.current.Store(&snapshot{byID: map[string]*models.CatalogEntry{}})
	return c
}

// Snapshot is the immutable view of the catalog captured at a point in
// time; it is safe to share across goroutines and must never be mutated.
type Snapshot struct {
	Revision string
	ETag     string
	byID     map[string]*models.CatalogEntry
	entries  []models.CatalogEntry
}

// Lookup returns the entry for id, or false if absent.
func (s *Snapshot) Lookup(id string) (*models.CatalogEntry, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Entries returns every catalog entry; callers must not mutate the slice.
func (s *Snapshot) Entries() []models.CatalogEntry { return s.entries }

// Loaded reports whether a catalog document has ever been loaded.
func (s *Snapshot) Loaded() bool { return s.Revision != "" }

// Document reconstructs the wire CatalogDocument for GET /catalog/models.
func (s *Snapshot) Document() models.CatalogDocument {
	return models.CatalogDocument{Revision: s.Revision, Models: s.entries}
}

// Snapshot returns the currently active catalog snapshot.
func (c *Store) Snapshot() *Snapshot {
	sn := c.current.Load()
	return &Snapshot{Revision: sn.doc.Revision, ETag: sn.etag, byID: sn.byID, entries: sn.doc.Models}
}

// Reload atomically replaces the catalog document. If doc.Revision is
// empty, a revision is derived deterministically as sha256 of the
// canonical serialization, matching SPEC_FULL.md §4.A's "sha256 of
// canonical serialization, or supplied revision string."
func (c *Store) Reload(doc models.CatalogDocument) error {
	byID := make(map[string]*models.CatalogEntry, len(doc.Models))
	for i := range doc.Models {
		byID[doc.Models[i].ID] = &doc.Models[i]
	}

	if doc.Revision == "" {
		rev, err := canonicalRevision(doc)
		if err != nil {
			return fmt.Errorf("catalog: derive revision: %w", err)
		}
		doc.Revision = rev
	}

	sn := &snapshot{
		doc:  doc,
		byID: byID,
		etag: fmt.Sprintf("%q", doc.Revision),
	}
	c.current.Store(sn)
	return nil
}

func canonicalRevision(doc models.CatalogDocument) (string, error) {
	ids := make([]string, len(doc.Models))
	for i, m := range doc.Models {
		ids[i] = m.ID
	}
	raw, err := json.Marshal(struct {
		IDs    []string              `json:"ids"`
		Models []models.CatalogEntry `json:"models"`
	}{IDs: ids, Models: doc.Models})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}
