package docstore

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc, err := store.Create(ctx, "orgs/acme/forms/f1", map[string]any{"name": "Dwelling Form", "status": "draft"})
	require.NoError(t, err)
	assert.Equal(t, "orgs/acme/forms/f1", doc.Path)
	assert.Equal(t, "f1", doc.ID())
	assert.NotEmpty(t, doc.ETag)

	got, err := store.Get(ctx, "orgs/acme/forms/f1")
	require.NoError(t, err)
	assert.Equal(t, "Dwelling Form", got.Data["name"])

	t.Run("duplicate create fails", func(t *testing.T) {
		_, err := store.Create(ctx, "orgs/acme/forms/f1", map[string]any{})
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := store.Get(ctx, "orgs/acme/forms/nope")
		assert.True(t, IsNotFound(err))
	})

	t.Run("reads are isolated copies", func(t *testing.T) {
		got.Data["name"] = "mutated"
		again, err := store.Get(ctx, "orgs/acme/forms/f1")
		require.NoError(t, err)
		assert.Equal(t, "Dwelling Form", again.Data["name"])
	})
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	doc, err := store.Create(ctx, "orgs/acme/forms/f1", map[string]any{"status": "draft", "edition": "01-24"})
	require.NoError(t, err)

	t.Run("partial update merges and bumps etag", func(t *testing.T) {
		updated, err := store.Update(ctx, "orgs/acme/forms/f1", map[string]any{"status": "published"})
		require.NoError(t, err)
		assert.Equal(t, "published", updated.Data["status"])
		assert.Equal(t, "01-24", updated.Data["edition"])
		assert.NotEqual(t, doc.ETag, updated.ETag)
	})

	t.Run("nil value deletes the field", func(t *testing.T) {
		updated, err := store.Update(ctx, "orgs/acme/forms/f1", map[string]any{"edition": nil})
		require.NoError(t, err)
		_, ok := updated.Data["edition"]
		assert.False(t, ok)
	})

	t.Run("conditional update with stale etag conflicts", func(t *testing.T) {
		_, err := store.UpdateIf(ctx, "orgs/acme/forms/f1", doc.ETag, map[string]any{"status": "archived"})
		assert.True(t, IsConflict(err))
	})

	t.Run("conditional update with current etag succeeds", func(t *testing.T) {
		current, err := store.Get(ctx, "orgs/acme/forms/f1")
		require.NoError(t, err)
		updated, err := store.UpdateIf(ctx, "orgs/acme/forms/f1", current.ETag, map[string]any{"status": "archived"})
		require.NoError(t, err)
		assert.Equal(t, "archived", updated.Data["status"])
	})

	t.Run("update of missing document fails", func(t *testing.T) {
		_, err := store.Update(ctx, "orgs/acme/forms/nope", map[string]any{"x": 1})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seed := []struct {
		path string
		data map[string]any
	}{
		{"orgs/acme/products/p1/versions/v1", map[string]any{"version_number": 1, "status": "archived"}},
		{"orgs/acme/products/p1/versions/v2", map[string]any{"version_number": 2, "status": "published"}},
		{"orgs/acme/products/p1/versions/v3", map[string]any{"version_number": 3, "status": "draft"}},
		// Nested sub-collection documents must not show up as children.
		{"orgs/acme/products/p1/versions/v2/programs/CA", map[string]any{"status": "active"}},
		{"orgs/acme/products/p2/versions/v9", map[string]any{"version_number": 9, "status": "draft"}},
	}
	for _, s := range seed {
		_, err := store.Create(ctx, s.path, s.data)
		require.NoError(t, err)
	}

	t.Run("direct children only", func(t *testing.T) {
		docs, err := store.List(ctx, "orgs/acme/products/p1/versions", ListOptions{})
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})

	t.Run("filters", func(t *testing.T) {
		docs, err := store.List(ctx, "orgs/acme/products/p1/versions", ListOptions{
			Filters: map[string]any{"status": "published"},
		})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "v2", docs[0].ID())
	})

	t.Run("ordering descending with limit", func(t *testing.T) {
		docs, err := store.List(ctx, "orgs/acme/products/p1/versions", ListOptions{
			OrderBy:    "version_number",
			Descending: true,
			Limit:      2,
		})
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "v3", docs[0].ID())
		assert.Equal(t, "v2", docs[1].ID())
	})

	t.Run("empty collection", func(t *testing.T) {
		docs, err := store.List(ctx, "orgs/acme/products/p3/versions", ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestMemoryStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	changes := make(chan Change, 4)
	cancel, err := store.Subscribe(ctx, "orgs/acme/forms", func(c Change) {
		changes <- c
	})
	require.NoError(t, err)
	defer cancel()

	_, err = store.Create(ctx, "orgs/acme/forms/f1", map[string]any{"status": "draft"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "orgs/acme/forms/f1", map[string]any{"status": "published"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "orgs/acme/forms/f1"))

	// Other collections must not leak into this subscription.
	_, err = store.Create(ctx, "orgs/acme/rules/r1", map[string]any{})
	require.NoError(t, err)

	kinds := []string{(<-changes).Kind, (<-changes).Kind, (<-changes).Kind}
	assert.Equal(t, []string{"created", "updated", "deleted"}, kinds)
	assert.Empty(t, changes)
}

func TestMemoryStoreSubscribeCancelReleasesGoroutine(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	before := runtime.NumGoroutine()
	cancel, err := store.Subscribe(ctx, "orgs/acme/forms", func(Change) {})
	require.NoError(t, err)

	// Cancelling with a still-live context must stop the watcher goroutine.
	cancel()
	cancel() // idempotent
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, time.Second, 10*time.Millisecond)

	// A cancelled subscription no longer receives changes.
	_, err = store.Create(ctx, "orgs/acme/forms/f1", map[string]any{})
	require.NoError(t, err)
}

func TestCollectionPaths(t *testing.T) {
	assert.Equal(t, "orgs/acme/products/p1/versions", VersionsCollection("acme", "p1"))
	assert.Equal(t, "orgs/acme/products/p1/versions/v1/programs/CA", ProgramPath("acme", "p1", "v1", "ca"))
	assert.Equal(t, "orgs/acme/bundles/b1/items/i1", BundleItemPath("acme", "b1", "i1"))
	assert.Equal(t, "orgs/acme/bundles/b1", Collection("orgs/acme/bundles/b1/items"))
}
