package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/catalog"
	"github.com/arcrouter/control-plane/pkg/models"
)

func TestNewStoreStartsEmptyAndUnloaded(t *testing.T) {
	c := catalog.New()
	snap := c.Snapshot()
	assert.False(t, snap.Loaded())
	assert.Empty(t, snap.Entries())
}

func TestReloadWithExplicitRevisionIsPreserved(t *testing.T) {
	c := catalog.New()
	err := c.Reload(models.CatalogDocument{
		Revision: "rev-1",
		Models: []models.CatalogEntry{
			{ID: "m1", Status: models.StatusHealthy},
		},
	})
	require.NoError(t, err)

	snap := c.Snapshot()
	assert.True(t, snap.Loaded())
	assert.Equal(t, "rev-1", snap.Revision)

	entry, ok := snap.Lookup("m1")
	require.True(t, ok)
	assert.Equal(t, models.StatusHealthy, entry.Status)

	_, ok = snap.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestReloadDerivesRevisionWhenOmitted(t *testing.T) {
	c := catalog.New()
	doc := models.CatalogDocument{Models: []models.CatalogEntry{{ID: "m1"}}}
	require.NoError(t, c.Reload(doc))

	snap := c.Snapshot()
	assert.NotEmpty(t, snap.Revision)
	assert.NotEqual(t, "", snap.ETag)
}

func TestReloadDerivedRevisionIsDeterministic(t *testing.T) {
	doc := models.CatalogDocument{Models: []models.CatalogEntry{{ID: "m1"}, {ID: "m2"}}}

	a, b := catalog.New(), catalog.New()
	require.NoError(t, a.Reload(doc))
	require.NoError(t, b.Reload(doc))

	assert.Equal(t, a.Snapshot().Revision, b.Snapshot().Revision)
}

func TestReloadRotatesSnapshotAtomically(t *testing.T) {
	c := catalog.New()
	require.NoError(t, c.Reload(models.CatalogDocument{Revision: "rev-1", Models: []models.CatalogEntry{{ID: "m1"}}}))
	first := c.Snapshot()

	require.NoError(t, c.Reload(models.CatalogDocument{Revision: "rev-2", Models: []models.CatalogEntry{{ID: "m2"}}}))
	second := c.Snapshot()

	// the snapshot captured before the second reload must be unaffected
	assert.Equal(t, "rev-1", first.Revision)
	assert.Equal(t, "rev-2", second.Revision)
	_, ok := first.Lookup("m2")
	assert.False(t, ok)
}

func TestDocumentRoundTrips(t *testing.T) {
	c := catalog.New()
	doc := models.CatalogDocument{Revision: "rev-1", Models: []models.CatalogEntry{{ID: "m1"}}}
	require.NoError(t, c.Reload(doc))

	got := c.Snapshot().Document()
	assert.Equal(t, "rev-1", got.Revision)
	require.Len(t, got.Models, 1)
	assert.Equal(t, "m1", got.Models[0].ID)
}
