package artifacts

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filingworks/readiness-engine/internal/docstore"
)

func seedForm(t *testing.T, store *docstore.MemoryStore, id string, data map[string]any) {
	t.Helper()
	_, err := store.Create(context.Background(), docstore.FormsCollection("acme")+"/"+id, data)
	require.NoError(t, err)
}

func TestCheckFormReadiness(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	checker := NewStoreFormsChecker(store, zap.NewNop())

	seedForm(t, store, "f1", map[string]any{"status": "published", "edition_date": "01-24"})
	seedForm(t, store, "f2", map[string]any{"status": "approved", "edition_date": "01-24"})
	seedForm(t, store, "f3", map[string]any{"status": "draft", "in_use": true, "edition_date": "02-24"})
	seedForm(t, store, "f4", map[string]any{"status": "draft", "in_use": false})
	seedForm(t, store, "f5", map[string]any{"status": "retired"})
	seedForm(t, store, "f6", map[string]any{"status": "published", "in_use": true})

	report, err := checker.CheckFormReadiness(ctx, "acme")
	require.NoError(t, err)

	t.Run("retired forms out of use are excluded", func(t *testing.T) {
		assert.Equal(t, 5, report.TotalForms)
	})

	t.Run("status buckets", func(t *testing.T) {
		assert.Equal(t, 3, report.PublishedForms)
		assert.Equal(t, 2, report.DraftForms)
		assert.ElementsMatch(t, []string{"f3", "f4"}, report.UnpublishedFormIDs)
	})

	t.Run("in-use draft forms flag the report unhealthy", func(t *testing.T) {
		assert.Equal(t, []string{"f3"}, report.DraftFormsInUse)
		assert.False(t, report.Healthy)
	})

	t.Run("missing edition date warns only when in use", func(t *testing.T) {
		var warned []string
		for _, issue := range report.Issues {
			if issue.Type == "missing_edition_date" {
				warned = append(warned, issue.ArtifactID)
			}
		}
		assert.Equal(t, []string{"f6"}, warned)
	})

	t.Run("empty org is healthy", func(t *testing.T) {
		empty, err := checker.CheckFormReadiness(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, empty.TotalForms)
		assert.True(t, empty.Healthy)
	})
}

func TestCheckRuleReadiness(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	checker := NewStoreRulesChecker(store, zap.NewNop())

	seed := func(id string, data map[string]any) {
		_, err := store.Create(ctx, docstore.RulesCollection("acme")+"/"+id, data)
		require.NoError(t, err)
	}
	seed("r1", map[string]any{"status": "published", "expression": "roof.age < 20"})
	seed("r2", map[string]any{"status": "draft", "expression": "wind.zone != 1"})
	seed("r3", map[string]any{"status": "published", "expression": ""})
	seed("r4", map[string]any{"status": "published", "expression": "x > 0", "enabled": false})
	seed("r5", map[string]any{"status": "published", "expression": "y > 0", "version_id": "v-other"})

	report, err := checker.CheckRuleReadiness(ctx, "acme", "v1")
	require.NoError(t, err)

	t.Run("version-scoped rules for other versions are skipped", func(t *testing.T) {
		assert.Equal(t, 4, report.TotalRules)
	})

	t.Run("empty expression is an error", func(t *testing.T) {
		errors := report.Readiness().ErrorIssues()
		require.Len(t, errors, 1)
		assert.Equal(t, "empty_expression", errors[0].Type)
		assert.Equal(t, "r3", errors[0].ArtifactID)
	})

	t.Run("disabled published rule is a warning", func(t *testing.T) {
		var found bool
		for _, issue := range report.Issues {
			if issue.Type == "published_rule_disabled" {
				found = true
				assert.Equal(t, SeverityWarning, issue.Severity)
			}
		}
		assert.True(t, found)
	})
}

func TestStoreResolver(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	resolver := NewStoreResolver(store)

	_, err := store.Create(ctx, docstore.FormsCollection("acme")+"/f1", map[string]any{
		"name":   "Dwelling Form",
		"status": "approved",
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, docstore.RatesCollection("acme")+"/rp1", map[string]any{
		"status": "filed",
	})
	require.NoError(t, err)

	t.Run("resolves forms", func(t *testing.T) {
		info, err := resolver.ResolveArtifact(ctx, "acme", CategoryForms, "f1")
		require.NoError(t, err)
		assert.Equal(t, "Dwelling Form", info.Name)
		assert.Equal(t, "approved", info.Status)
	})

	t.Run("name falls back to the id", func(t *testing.T) {
		info, err := resolver.ResolveArtifact(ctx, "acme", CategoryRatePrograms, "rp1")
		require.NoError(t, err)
		assert.Equal(t, "rp1", info.Name)
	})

	t.Run("dangling reference", func(t *testing.T) {
		_, err := resolver.ResolveArtifact(ctx, "acme", CategoryForms, "ghost")
		assert.True(t, docstore.IsNotFound(err))
	})
}

func TestStubChecker(t *testing.T) {
	stub := StubChecker{For: CategoryRateTables}
	assert.Equal(t, CategoryRateTables, stub.Category())

	stats, err := stub.CheckReadiness(context.Background(), "acme", "v1")
	require.NoError(t, err)
	assert.Equal(t, CategoryRateTables, stats.Category)
	assert.Zero(t, stats.Total)
	assert.Equal(t, 100, stats.Score())
}
