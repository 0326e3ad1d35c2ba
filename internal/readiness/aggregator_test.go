package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/filingworks/readiness-engine/internal/artifacts"
	"github.com/filingworks/readiness-engine/internal/bundle"
	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/filingworks/readiness-engine/internal/program"
	"github.com/filingworks/readiness-engine/internal/version"
)

type testEnv struct {
	store      *docstore.MemoryStore
	versions   *version.Manager
	programs   *program.Engine
	bundles    *bundle.Workflow
	aggregator *Aggregator
	observer   *recordingObserver
}

type recordingObserver struct {
	reports  int
	degraded []string
}

func (o *recordingObserver) ObserveReport(time.Duration, int) { o.reports++ }
func (o *recordingObserver) SectionDegraded(section string)   { o.degraded = append(o.degraded, section) }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := docstore.NewMemoryStore()
	logger := zap.NewNop()

	env := &testEnv{
		store:    store,
		versions: version.NewManager(store, logger),
		programs: program.NewEngine(store, artifacts.NewStoreResolver(store), logger),
		bundles:  bundle.NewWorkflow(store, nil, logger),
		observer: &recordingObserver{},
	}
	env.aggregator = NewAggregator(
		env.versions,
		env.programs,
		env.bundles,
		artifacts.NewStoreFormsChecker(store, logger),
		artifacts.NewStoreRulesChecker(store, logger),
		nil,
		env.observer,
		logger,
	)
	return env
}

func (env *testEnv) seedDoc(t *testing.T, path string, data map[string]any) {
	t.Helper()
	_, err := env.store.Create(context.Background(), path, data)
	require.NoError(t, err)
}

// publishVersion creates and publishes one version, returning its snapshot.
func (env *testEnv) publishVersion(t *testing.T, org, productID string, effective *time.Time) *version.Snapshot {
	t.Helper()
	ctx := context.Background()
	draft, err := env.versions.CreateDraft(ctx, org, productID, "alice", "")
	require.NoError(t, err)
	published, err := env.versions.Publish(ctx, org, productID, draft.ID, "alice", effective)
	require.NoError(t, err)
	return published
}

func (env *testEnv) advanceProgram(t *testing.T, org, productID, versionID, state string, targets ...program.Status) {
	t.Helper()
	for _, target := range targets {
		_, err := env.programs.Transition(context.Background(), org, productID, versionID, state, target, "alice")
		require.NoError(t, err)
	}
}

func TestComputeReadinessEmptyTimeline(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.aggregator.ComputeReadiness(context.Background(), Request{Org: "acme", ProductID: "p1"})
	require.NoError(t, err)

	assert.Empty(t, report.Timeline)
	assert.Empty(t, report.SelectedVersionID)
	assert.Zero(t, report.OverallScore)
	assert.Empty(t, report.Blockers)
	assert.Equal(t, 1, env.observer.reports)
}

func TestVersionSelection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	published := env.publishVersion(t, "acme", "p1", nil)
	draft, err := env.versions.CreateDraft(ctx, "acme", "p1", "alice", "wind changes")
	require.NoError(t, err)

	t.Run("draft wins by default", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		assert.Equal(t, draft.ID, report.SelectedVersionID)
	})

	t.Run("explicit version wins", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1", VersionID: published.ID})
		require.NoError(t, err)
		assert.Equal(t, published.ID, report.SelectedVersionID)
	})

	t.Run("timeline is newest first", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		require.Len(t, report.Timeline, 2)
		assert.Equal(t, draft.ID, report.Timeline[0].ID)
		assert.Equal(t, published.ID, report.Timeline[1].ID)
	})
}

func TestStateRowsAndStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	published := env.publishVersion(t, "acme", "p1", nil)
	env.seedDoc(t, docstore.FormsCollection("acme")+"/f1", map[string]any{"name": "HO-3", "status": "published"})
	env.seedDoc(t, docstore.RulesCollection("acme")+"/r1", map[string]any{"name": "Roof", "status": "published", "expression": "roof.age < 20"})
	env.seedDoc(t, docstore.RatesCollection("acme")+"/rp1", map[string]any{"name": "Base", "status": "approved"})

	// CA: approved with all artifact lists populated and valid.
	for cat, ids := range map[artifacts.Category][]string{
		artifacts.CategoryForms:        {"f1"},
		artifacts.CategoryRules:        {"r1"},
		artifacts.CategoryRatePrograms: {"rp1"},
	} {
		_, err := env.programs.SetRequiredArtifacts(ctx, "acme", "p1", published.ID, "CA", cat, ids, "alice")
		require.NoError(t, err)
	}
	env.advanceProgram(t, "acme", "p1", published.ID, "CA",
		program.StatusDraft, program.StatusPendingFiling, program.StatusFiled, program.StatusApproved)

	// TX: approved but with no artifacts attached at all.
	env.advanceProgram(t, "acme", "p1", published.ID, "TX",
		program.StatusDraft, program.StatusPendingFiling, program.StatusFiled, program.StatusApproved)

	// WA: active.
	_, err := env.programs.SetRequiredArtifacts(ctx, "acme", "p1", published.ID, "WA", artifacts.CategoryForms, []string{"f1"}, "alice")
	require.NoError(t, err)
	env.advanceProgram(t, "acme", "p1", published.ID, "WA",
		program.StatusDraft, program.StatusPendingFiling, program.StatusFiled, program.StatusApproved, program.StatusActive)

	report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
	require.NoError(t, err)

	rows := make(map[string]StateRow, len(report.States))
	for _, row := range report.States {
		rows[row.Code] = row
	}

	t.Run("fully configured approved state can activate", func(t *testing.T) {
		ca := rows["CA"]
		assert.True(t, ca.CanActivate)
		assert.Empty(t, ca.MissingArtifacts)
	})

	t.Run("approved state with empty lists is blocked", func(t *testing.T) {
		tx := rows["TX"]
		assert.False(t, tx.CanActivate)
		assert.ElementsMatch(t, []string{"forms", "rules", "rate programs"}, tx.MissingArtifacts)
	})

	t.Run("stats", func(t *testing.T) {
		assert.Equal(t, 3, report.StateStats.Total)
		assert.Equal(t, 1, report.StateStats.Active)
		assert.Equal(t, 1, report.StateStats.ReadyToActivate)
		// TX has missing artifacts; WA is active but missing rules and rates.
		assert.Equal(t, 2, report.StateStats.Blocked)
	})
}

func TestJurisdictionBlockers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	published := env.publishVersion(t, "acme", "p1", nil)
	env.advanceProgram(t, "acme", "p1", published.ID, "NY", program.StatusDraft)

	t.Run("unconfigured state", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{
			Org: "acme", ProductID: "p1", TargetJurisdiction: "ca",
		})
		require.NoError(t, err)
		assert.Contains(t, report.Blockers, "CA is not configured for this product version.")
	})

	t.Run("state not yet approved", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{
			Org: "acme", ProductID: "p1", TargetJurisdiction: "NY",
		})
		require.NoError(t, err)
		assert.Contains(t, report.Blockers,
			"[NY] Program status is Draft; it must reach Approved before activation.")
		assert.Contains(t, report.Blockers, "[NY] No forms attached to this program.")
	})
}

func TestCategoryScores(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	published := env.publishVersion(t, "acme", "p1", nil)
	_ = published

	// 3 forms published out of 4, one draft form in use.
	env.seedDoc(t, docstore.FormsCollection("acme")+"/f1", map[string]any{"status": "published", "edition_date": "01-24"})
	env.seedDoc(t, docstore.FormsCollection("acme")+"/f2", map[string]any{"status": "published", "edition_date": "01-24"})
	env.seedDoc(t, docstore.FormsCollection("acme")+"/f3", map[string]any{"status": "approved", "edition_date": "02-24"})
	env.seedDoc(t, docstore.FormsCollection("acme")+"/f4", map[string]any{"status": "draft", "in_use": true, "edition_date": "03-24"})

	report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
	require.NoError(t, err)

	scores := make(map[artifacts.Category]CategoryScore)
	for _, cat := range report.Categories {
		scores[cat.Category] = cat
	}

	t.Run("published ratio minus issue penalty", func(t *testing.T) {
		forms := scores[artifacts.CategoryForms]
		assert.Equal(t, 4, forms.Total)
		assert.Equal(t, 3, forms.Published)
		// round(3/4*100) - 1 issue * 10
		assert.Equal(t, 65, forms.Score)
	})

	t.Run("empty category scores 100", func(t *testing.T) {
		assert.Equal(t, 100, scores[artifacts.CategoryRules].Score)
		assert.Equal(t, 100, scores[artifacts.CategoryRatePrograms].Score)
		assert.Equal(t, 100, scores[artifacts.CategoryRateTables].Score)
	})

	t.Run("overall averages only populated categories", func(t *testing.T) {
		// Forms is the only category with Total > 0.
		assert.Equal(t, 65, report.OverallScore)
	})

	t.Run("draft form in use surfaces as blocker", func(t *testing.T) {
		assert.Contains(t, report.Blockers, "1 form(s) in use lack a published edition.")
	})
}

func TestScoreBoundaries(t *testing.T) {
	t.Run("penalty caps at 50", func(t *testing.T) {
		stats := artifacts.CategoryReadiness{
			Category:  artifacts.CategoryForms,
			Total:     10,
			Published: 10,
			Issues:    make([]artifacts.Issue, 9),
		}
		assert.Equal(t, 50, stats.Score())
	})

	t.Run("score floors at zero", func(t *testing.T) {
		stats := artifacts.CategoryReadiness{
			Category: artifacts.CategoryForms,
			Total:    10,
			Issues:   make([]artifacts.Issue, 5),
		}
		assert.Equal(t, 0, stats.Score())
	})
}

func TestOverallScoreFallback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Versions exist but every category is empty.
	env.publishVersion(t, "acme", "p1", nil)

	report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 50, report.OverallScore)
}

func TestRuleErrorBlocker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.publishVersion(t, "acme", "p1", nil)
	env.seedDoc(t, docstore.RulesCollection("acme")+"/r1", map[string]any{"status": "published", "expression": "   "})

	report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
	require.NoError(t, err)
	assert.Contains(t, report.Blockers, "Rule issue: Rule r1 has no expression")
}

func TestBundleSection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	published := env.publishVersion(t, "acme", "p1", nil)

	b, err := env.bundles.Create(ctx, "acme", "spring filing", "alice")
	require.NoError(t, err)
	_, err = env.bundles.AddItem(ctx, "acme", b.ID, bundle.Item{
		ArtifactType: "form", ArtifactID: "f1", ProductID: "p1", VersionID: published.ID, Action: bundle.ActionUpdate,
	}, "alice")
	require.NoError(t, err)
	// An item for an unrelated product must not count as relevant.
	_, err = env.bundles.AddItem(ctx, "acme", b.ID, bundle.Item{
		ArtifactType: "rateTable", ArtifactID: "rt9", ProductID: "other", Action: bundle.ActionUpdate,
	}, "alice")
	require.NoError(t, err)

	t.Run("draft bundle shows pending approvals, no blocker", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		require.Len(t, report.OpenBundles, 1)
		summary := report.OpenBundles[0]
		assert.Equal(t, 2, summary.ItemCount)
		assert.Equal(t, 1, summary.RelevantItems)
		assert.Equal(t, []string{"compliance"}, summary.PendingApprovals)
		assert.Empty(t, report.Blockers)
	})

	t.Run("bundle in review blocks", func(t *testing.T) {
		_, err := env.bundles.SubmitForReview(ctx, "acme", b.ID, "alice")
		require.NoError(t, err)

		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		assert.Contains(t, report.Blockers, `Change bundle "spring filing" is awaiting review.`)
	})

	t.Run("published bundle disappears from the report", func(t *testing.T) {
		_, err := env.bundles.Approve(ctx, "acme", b.ID, "compliance", "carol", "")
		require.NoError(t, err)
		_, err = env.bundles.Approve(ctx, "acme", b.ID, "actuary", "dave", "")
		require.NoError(t, err)
		_, err = env.bundles.PublishBundle(ctx, "acme", b.ID, "alice")
		require.NoError(t, err)

		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		assert.Empty(t, report.OpenBundles)
	})
}

func TestImpactSection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	published := env.publishVersion(t, "acme", "p1", nil)
	_, err := env.versions.UpdateDraft(ctx, "acme", "p1", published.ID, "alice", nil)
	require.Error(t, err) // sanity: published stays immutable

	t.Run("draft with no published baseline has no impact", func(t *testing.T) {
		fresh := newTestEnv(t)
		_, err := fresh.versions.CreateDraft(ctx, "acme", "p2", "alice", "")
		require.NoError(t, err)
		report, err := fresh.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p2"})
		require.NoError(t, err)
		assert.False(t, report.Impact.HasPublishedBaseline)
		assert.Zero(t, report.Impact.TotalChanges)
	})

	t.Run("draft changes vs published baseline", func(t *testing.T) {
		draft, err := env.versions.CreateDraft(ctx, "acme", "p1", "alice", "")
		require.NoError(t, err)
		_, err = env.versions.UpdateDraft(ctx, "acme", "p1", draft.ID, "alice", map[string]any{
			"deductible": 1000,
			"limits":     map[string]any{"dwelling": 400000},
		})
		require.NoError(t, err)

		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		assert.True(t, report.Impact.HasPublishedBaseline)
		assert.Equal(t, 2, report.Impact.FieldsAdded)
		assert.Equal(t, 2, report.Impact.TotalChanges)
		assert.Contains(t, report.Blockers,
			"2 unpublished change(s) vs the current published version (2 added, 0 removed, 0 changed).")
	})

	t.Run("published selection has no impact section", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{
			Org: "acme", ProductID: "p1", VersionID: published.ID,
		})
		require.NoError(t, err)
		assert.Zero(t, report.Impact.TotalChanges)
	})
}

func TestDateBlockers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	target := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)

	t.Run("missing effective start", func(t *testing.T) {
		env.publishVersion(t, "acme", "p1", nil)
		report, err := env.aggregator.ComputeReadiness(ctx, Request{
			Org: "acme", ProductID: "p1", TargetDate: &target,
		})
		require.NoError(t, err)
		assert.Contains(t, report.Blockers, "No effective start date set for this version.")
	})

	t.Run("effective date after target", func(t *testing.T) {
		late := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
		env.publishVersion(t, "acme", "p2", &late)
		report, err := env.aggregator.ComputeReadiness(ctx, Request{
			Org: "acme", ProductID: "p2", TargetDate: &target,
		})
		require.NoError(t, err)
		assert.Contains(t, report.Blockers,
			"Version effective date 2026-12-01 is after target date 2026-09-15.")
	})

	t.Run("draft version cannot make the date", func(t *testing.T) {
		fresh := newTestEnv(t)
		_, err := fresh.versions.CreateDraft(ctx, "acme", "p3", "alice", "")
		require.NoError(t, err)
		report, err := fresh.aggregator.ComputeReadiness(ctx, Request{
			Org: "acme", ProductID: "p3", TargetDate: &target,
		})
		require.NoError(t, err)
		assert.Contains(t, report.Blockers,
			"Version is still in Draft status; it must be published before 2026-09-15.")
	})

	t.Run("no target date yields no date blockers", func(t *testing.T) {
		report, err := env.aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
		require.NoError(t, err)
		for _, b := range report.Blockers {
			assert.NotContains(t, b, "effective")
		}
	})
}

func TestWhatsMissingMatchesReport(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.publishVersion(t, "acme", "p1", nil)
	req := Request{Org: "acme", ProductID: "p1", TargetJurisdiction: "CA"}

	report, err := env.aggregator.ComputeReadiness(ctx, req)
	require.NoError(t, err)
	blockers, err := env.aggregator.WhatsMissing(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, report.Blockers, blockers)

	t.Run("report computation is idempotent", func(t *testing.T) {
		again, err := env.aggregator.ComputeReadiness(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, report.Blockers, again.Blockers)
		assert.Equal(t, report.StateStats, again.StateStats)
		assert.Equal(t, report.OverallScore, again.OverallScore)
	})
}

type failingChecker struct{ category artifacts.Category }

func (c failingChecker) Category() artifacts.Category { return c.category }
func (c failingChecker) CheckReadiness(context.Context, string, string) (artifacts.CategoryReadiness, error) {
	return artifacts.CategoryReadiness{}, errors.New("backend down")
}

func TestSectionDegradation(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	logger := zap.NewNop()
	observer := &recordingObserver{}

	versions := version.NewManager(store, logger)
	aggregator := NewAggregator(
		versions,
		program.NewEngine(store, artifacts.NewStoreResolver(store), logger),
		bundle.NewWorkflow(store, nil, logger),
		artifacts.NewStoreFormsChecker(store, logger),
		artifacts.NewStoreRulesChecker(store, logger),
		[]artifacts.Checker{failingChecker{category: artifacts.CategoryRateTables}},
		observer,
		logger,
	)

	draft, err := versions.CreateDraft(ctx, "acme", "p1", "alice", "")
	require.NoError(t, err)
	_ = draft

	report, err := aggregator.ComputeReadiness(ctx, Request{Org: "acme", ProductID: "p1"})
	require.NoError(t, err)

	// The failing category is dropped; the rest of the report still computes.
	assert.Len(t, report.Categories, 2)
	assert.Equal(t, []string{"category:rateTables"}, observer.degraded)
}
