// Package artifacts supplies the readiness facts that adjacent artifact
// subsystems (forms, rules, rate programs) report to the readiness engine.
package artifacts

import (
	"context"
	"math"
)

// Category identifies an artifact category tracked by the engine.
type Category string

const (
	CategoryForms        Category = "forms"
	CategoryRules        Category = "rules"
	CategoryRatePrograms Category = "ratePrograms"
	CategoryRateTables   Category = "rateTables"
)

// Label returns the human-readable category name used in blocker text.
func (c Category) Label() string {
	switch c {
	case CategoryForms:
		return "forms"
	case CategoryRules:
		return "rules"
	case CategoryRatePrograms:
		return "rate programs"
	case CategoryRateTables:
		return "rate tables"
	}
	return string(c)
}

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue is a single open problem reported by an artifact subsystem.
type Issue struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

// CategoryReadiness is the uniform readiness shape shared by every artifact
// category. New categories (rate programs, rate tables) plug in by producing
// this same shape; the aggregator's scoring is category-agnostic.
type CategoryReadiness struct {
	Category  Category `json:"category"`
	Total     int      `json:"total"`
	Published int      `json:"published"`
	Draft     int      `json:"draft"`
	Issues    []Issue  `json:"issues"`
}

// Score computes the 0-100 readiness score for the category: the published
// proportion, penalized 10 points per open issue capped at 50. A category
// with nothing required scores 100.
func (c CategoryReadiness) Score() int {
	if c.Total <= 0 {
		return 100
	}
	base := int(math.Round(float64(c.Published) / float64(c.Total) * 100))
	penalty := len(c.Issues) * 10
	if penalty > 50 {
		penalty = 50
	}
	score := base - penalty
	if score < 0 {
		return 0
	}
	return score
}

// ErrorIssues returns only the error-severity issues.
func (c CategoryReadiness) ErrorIssues() []Issue {
	var out []Issue
	for _, issue := range c.Issues {
		if issue.Severity == SeverityError {
			out = append(out, issue)
		}
	}
	return out
}

// FormReadiness is the forms subsystem's readiness report.
type FormReadiness struct {
	TotalForms         int      `json:"total_forms"`
	PublishedForms     int      `json:"published_forms"`
	DraftForms         int      `json:"draft_forms"`
	UnpublishedFormIDs []string `json:"unpublished_form_ids"`
	DraftFormsInUse    []string `json:"draft_forms_in_use"`
	Issues             []Issue  `json:"issues"`
	Healthy            bool     `json:"healthy"`
}

// Readiness converts the forms report to the uniform category shape.
func (f FormReadiness) Readiness() CategoryReadiness {
	return CategoryReadiness{
		Category:  CategoryForms,
		Total:     f.TotalForms,
		Published: f.PublishedForms,
		Draft:     f.DraftForms,
		Issues:    f.Issues,
	}
}

// RuleReadiness is the rules subsystem's readiness report.
type RuleReadiness struct {
	TotalRules     int     `json:"total_rules"`
	PublishedRules int     `json:"published_rules"`
	DraftRules     int     `json:"draft_rules"`
	Issues         []Issue `json:"issues"`
}

// Readiness converts the rules report to the uniform category shape.
func (r RuleReadiness) Readiness() CategoryReadiness {
	return CategoryReadiness{
		Category:  CategoryRules,
		Total:     r.TotalRules,
		Published: r.PublishedRules,
		Draft:     r.DraftRules,
		Issues:    r.Issues,
	}
}

// FormsChecker reports form readiness for an org.
type FormsChecker interface {
	CheckFormReadiness(ctx context.Context, org string) (*FormReadiness, error)
}

// RulesChecker reports rule readiness for an org and product version.
type RulesChecker interface {
	CheckRuleReadiness(ctx context.Context, org, versionID string) (*RuleReadiness, error)
}

// Checker is the pluggable adapter contract for additional categories.
type Checker interface {
	Category() Category
	CheckReadiness(ctx context.Context, org, versionID string) (CategoryReadiness, error)
}

// StubChecker is the placeholder adapter for categories without a wired
// subsystem yet. It reports nothing required, which scores 100 and is
// excluded from the overall average because Total is zero.
type StubChecker struct {
	For Category
}

// Category implements Checker.
func (s StubChecker) Category() Category {
	return s.For
}

// CheckReadiness implements Checker.
func (s StubChecker) CheckReadiness(ctx context.Context, org, versionID string) (CategoryReadiness, error) {
	return CategoryReadiness{Category: s.For, Issues: []Issue{}}, nil
}
