package readiness

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/filingworks/readiness-engine/internal/artifacts"
	"github.com/filingworks/readiness-engine/internal/bundle"
	"github.com/filingworks/readiness-engine/internal/program"
	"github.com/filingworks/readiness-engine/internal/version"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer receives aggregation telemetry. The metrics collector implements
// it; a nil observer disables telemetry.
type Observer interface {
	ObserveReport(duration time.Duration, blockers int)
	SectionDegraded(section string)
}

const openBundleLimit = 10

// Aggregator computes readiness reports. It only reads; all catalog state is
// owned and mutated by the version, program, and bundle services.
type Aggregator struct {
	versions *version.Manager
	programs *program.Engine
	bundles  *bundle.Workflow
	forms    artifacts.FormsChecker
	rules    artifacts.RulesChecker
	extra    []artifacts.Checker
	observer Observer
	logger   *zap.Logger
}

// NewAggregator creates a readiness aggregator. The extra checkers cover
// categories without dedicated adapters yet (rate programs, rate tables).
func NewAggregator(
	versions *version.Manager,
	programs *program.Engine,
	bundles *bundle.Workflow,
	forms artifacts.FormsChecker,
	rules artifacts.RulesChecker,
	extra []artifacts.Checker,
	observer Observer,
	logger *zap.Logger,
) *Aggregator {
	if extra == nil {
		extra = []artifacts.Checker{
			artifacts.StubChecker{For: artifacts.CategoryRatePrograms},
			artifacts.StubChecker{For: artifacts.CategoryRateTables},
		}
	}
	return &Aggregator{
		versions: versions,
		programs: programs,
		bundles:  bundles,
		forms:    forms,
		rules:    rules,
		extra:    extra,
		observer: observer,
		logger:   logger,
	}
}

// ComputeReadiness builds a full readiness report. Each backend section is
// individually recovered: a failed sub-fetch degrades that section to its
// empty value so the report always answers "what's missing".
func (a *Aggregator) ComputeReadiness(ctx context.Context, req Request) (*Report, error) {
	started := time.Now()

	report := &Report{
		Org:         req.Org,
		ProductID:   req.ProductID,
		Timeline:    []VersionInfo{},
		States:      []StateRow{},
		Categories:  []CategoryScore{},
		OpenBundles: []BundleSummary{},
		Blockers:    []string{},
	}
	defer func() {
		report.ComputedAt = time.Now().UTC()
		if a.observer != nil {
			a.observer.ObserveReport(time.Since(started), len(report.Blockers))
		}
	}()

	timeline := a.versions.ListVersions(ctx, req.Org, req.ProductID)
	for _, s := range timeline {
		report.Timeline = append(report.Timeline, VersionInfo{
			ID:             s.ID,
			VersionNumber:  s.VersionNumber,
			Status:         s.Status,
			EffectiveStart: s.EffectiveStart,
			EffectiveEnd:   s.EffectiveEnd,
			Summary:        s.Summary,
		})
	}
	if len(timeline) == 0 {
		// No versions yet: zero scores, nothing to diff, nothing blocked.
		return report, ctx.Err()
	}

	selected := version.SelectVersion(timeline, req.VersionID)
	report.SelectedVersionID = selected.ID

	var (
		records    []*program.Record
		formsStats *artifacts.FormReadiness
		rulesStats *artifacts.RuleReadiness
		extraStats []artifacts.CategoryReadiness
		bundles    []*bundle.Bundle
		itemsByID  = make(map[string][]*bundle.Item)
	)

	// The sub-fetches are independent reads over immutable snapshots, so
	// they run concurrently with no shared mutable state.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := a.programs.ListRecords(gctx, req.Org, req.ProductID, selected.ID)
		if err != nil {
			a.degrade("programs", err)
			result = []*program.Record{}
		}
		records = result
		return nil
	})
	g.Go(func() error {
		result, err := a.forms.CheckFormReadiness(gctx, req.Org)
		if err != nil {
			a.degrade("forms", err)
			result = &artifacts.FormReadiness{Issues: []artifacts.Issue{}}
		}
		formsStats = result
		return nil
	})
	g.Go(func() error {
		result, err := a.rules.CheckRuleReadiness(gctx, req.Org, selected.ID)
		if err != nil {
			a.degrade("rules", err)
			result = &artifacts.RuleReadiness{Issues: []artifacts.Issue{}}
		}
		rulesStats = result
		return nil
	})
	g.Go(func() error {
		extraStats = make([]artifacts.CategoryReadiness, 0, len(a.extra))
		for _, checker := range a.extra {
			stats, err := checker.CheckReadiness(gctx, req.Org, selected.ID)
			if err != nil {
				a.degrade("category:"+string(checker.Category()), err)
				continue
			}
			extraStats = append(extraStats, stats)
		}
		return nil
	})
	g.Go(func() error {
		open, err := a.bundles.ListOpen(gctx, req.Org, openBundleLimit)
		if err != nil {
			a.degrade("bundles", err)
			open = []*bundle.Bundle{}
		}
		for _, b := range open {
			items, err := a.bundles.ListItems(gctx, req.Org, b.ID)
			if err != nil {
				a.degrade("bundle_items", err)
				items = []*bundle.Item{}
			}
			itemsByID[b.ID] = items
		}
		bundles = open
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.buildStateRows(report, records)
	a.appendJurisdictionBlockers(report, req.TargetJurisdiction)
	a.buildCategories(report, formsStats, rulesStats, extraStats)
	a.buildBundles(report, req, selected.ID, bundles, itemsByID)
	a.computeOverallScore(report, len(timeline))
	a.buildImpact(report, timeline, selected)
	a.appendDateBlockers(report, selected, req.TargetDate)

	return report, nil
}

// WhatsMissing runs the same computation and returns only the blocker list.
func (a *Aggregator) WhatsMissing(ctx context.Context, req Request) ([]string, error) {
	report, err := a.ComputeReadiness(ctx, req)
	if err != nil {
		return nil, err
	}
	return report.Blockers, nil
}

func (a *Aggregator) degrade(section string, err error) {
	a.logger.Warn("Readiness section degraded to its empty value",
		zap.String("section", section),
		zap.Error(err))
	if a.observer != nil {
		a.observer.SectionDegraded(section)
	}
}

func (a *Aggregator) buildStateRows(report *Report, records []*program.Record) {
	for _, record := range records {
		row := StateRow{
			Code:             record.StateCode,
			Status:           record.Status,
			MissingArtifacts: []string{},
			ValidationErrors: record.ValidationErrors,
			FilingDate:       record.FilingDate,
			ApprovalDate:     record.ApprovalDate,
			ActivationDate:   record.ActivationDate,
		}
		if record.Status != program.StatusNotOffered {
			if len(record.RequiredForms) == 0 {
				row.MissingArtifacts = append(row.MissingArtifacts, "forms")
			}
			if len(record.RequiredRules) == 0 {
				row.MissingArtifacts = append(row.MissingArtifacts, "rules")
			}
			if len(record.RequiredRatePrograms) == 0 {
				row.MissingArtifacts = append(row.MissingArtifacts, "rate programs")
			}
		}
		row.CanActivate = record.Status == program.StatusApproved &&
			len(row.ValidationErrors) == 0 &&
			len(row.MissingArtifacts) == 0

		report.States = append(report.States, row)
		report.StateStats.Total++
		switch {
		case record.Status == program.StatusNotOffered:
			report.StateStats.NotOffered++
		case record.Status == program.StatusActive:
			report.StateStats.Active++
		}
		if record.Status != program.StatusNotOffered &&
			(len(row.ValidationErrors) > 0 || len(row.MissingArtifacts) > 0) {
			report.StateStats.Blocked++
		}
		if row.CanActivate {
			report.StateStats.ReadyToActivate++
		}
	}
}

func (a *Aggregator) appendJurisdictionBlockers(report *Report, target string) {
	if target == "" {
		return
	}
	code := strings.ToUpper(target)

	var row *StateRow
	for i := range report.States {
		if report.States[i].Code == code {
			row = &report.States[i]
			break
		}
	}
	if row == nil {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("%s is not configured for this product version.", code))
		return
	}
	if row.Status == program.StatusNotOffered {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("%s is marked Not Offered for this product version.", code))
		return
	}
	for _, issue := range row.ValidationErrors {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("[%s] %s", code, issue.Message))
	}
	for _, missing := range row.MissingArtifacts {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("[%s] No %s attached to this program.", code, missing))
	}
	if row.Status != program.StatusApproved && row.Status != program.StatusActive {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("[%s] Program status is %s; it must reach Approved before activation.",
				code, row.Status.Label()))
	}
}

func (a *Aggregator) buildCategories(report *Report, forms *artifacts.FormReadiness, rules *artifacts.RuleReadiness, extra []artifacts.CategoryReadiness) {
	all := []artifacts.CategoryReadiness{forms.Readiness(), rules.Readiness()}
	all = append(all, extra...)

	for _, stats := range all {
		report.Categories = append(report.Categories, CategoryScore{
			Category:   stats.Category,
			Total:      stats.Total,
			Published:  stats.Published,
			Draft:      stats.Draft,
			IssueCount: len(stats.Issues),
			Score:      stats.Score(),
		})
	}

	if n := len(forms.DraftFormsInUse); n > 0 {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("%d form(s) in use lack a published edition.", n))
	}
	if errors := rules.Readiness().ErrorIssues(); len(errors) > 0 {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("Rule issue: %s", errors[0].Message))
	}
}

func (a *Aggregator) buildBundles(report *Report, req Request, selectedID string, bundles []*bundle.Bundle, itemsByID map[string][]*bundle.Item) {
	roles := a.bundles.Roles()
	for _, b := range bundles {
		summary := BundleSummary{
			ID:               b.ID,
			Name:             b.Name,
			Status:           b.Status,
			OwnerID:          b.OwnerID,
			ItemCount:        b.ItemCount,
			PendingApprovals: []string{},
		}

		typesPresent := []string{}
		for _, item := range itemsByID[b.ID] {
			if item.ProductID != "" && item.ProductID != req.ProductID {
				continue
			}
			if item.VersionID != "" && item.VersionID != selectedID {
				continue
			}
			summary.RelevantItems++
			typesPresent = append(typesPresent, item.ArtifactType)
		}
		if b.Status == bundle.StatusDraft || b.Status == bundle.StatusReadyForReview {
			summary.PendingApprovals = roles.RolesFor(typesPresent)
		}
		report.OpenBundles = append(report.OpenBundles, summary)

		if b.Status == bundle.StatusReadyForReview {
			report.Blockers = append(report.Blockers,
				fmt.Sprintf("Change bundle %q is awaiting review.", b.Name))
		}
	}
}

func (a *Aggregator) computeOverallScore(report *Report, versionCount int) {
	sum, counted := 0, 0
	for _, cat := range report.Categories {
		if cat.Total <= 0 {
			continue
		}
		sum += cat.Score
		counted++
	}
	switch {
	case counted > 0:
		report.OverallScore = sum / counted
	case versionCount > 0:
		report.OverallScore = 50
	default:
		report.OverallScore = 0
	}
}

func (a *Aggregator) buildImpact(report *Report, timeline []*version.Snapshot, selected *version.Snapshot) {
	report.Impact = Impact{Changes: []FieldChange{}}
	if selected.Status != version.StatusDraft {
		return
	}
	published := version.LatestPublished(timeline)
	if published == nil {
		return
	}

	report.Impact = Diff(published.Data, selected.Data)
	if report.Impact.TotalChanges > 0 {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("%d unpublished change(s) vs the current published version (%d added, %d removed, %d changed).",
				report.Impact.TotalChanges,
				report.Impact.FieldsAdded,
				report.Impact.FieldsRemoved,
				report.Impact.FieldsChanged))
	}
}

func (a *Aggregator) appendDateBlockers(report *Report, selected *version.Snapshot, targetDate *time.Time) {
	if targetDate == nil {
		return
	}
	target := targetDate.Format("2006-01-02")

	if selected.EffectiveStart == nil {
		report.Blockers = append(report.Blockers,
			"No effective start date set for this version.")
	} else if selected.EffectiveStart.After(*targetDate) {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("Version effective date %s is after target date %s.",
				selected.EffectiveStart.Format("2006-01-02"), target))
	}
	if selected.Status == version.StatusDraft {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("Version is still in Draft status; it must be published before %s.", target))
	}
}
