package artifacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/filingworks/readiness-engine/internal/docstore"
	"go.uber.org/zap"
)

// StoreRulesChecker derives rule readiness from the org's rule documents.
type StoreRulesChecker struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewStoreRulesChecker creates a store-backed rules checker.
func NewStoreRulesChecker(store docstore.Store, logger *zap.Logger) *StoreRulesChecker {
	return &StoreRulesChecker{store: store, logger: logger}
}

// CheckRuleReadiness implements RulesChecker. Rules scoped to a specific
// product version (via a version_id field) are only counted against that
// version; org-wide rules count everywhere.
func (c *StoreRulesChecker) CheckRuleReadiness(ctx context.Context, org, versionID string) (*RuleReadiness, error) {
	docs, err := c.store.List(ctx, docstore.RulesCollection(org), docstore.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rules for org %s: %w", org, err)
	}

	report := &RuleReadiness{Issues: []Issue{}}
	for _, doc := range docs {
		if scoped, _ := doc.Data["version_id"].(string); scoped != "" && scoped != versionID {
			continue
		}
		report.TotalRules++

		status, _ := doc.Data["status"].(string)
		switch status {
		case "published", "approved", "filed":
			report.PublishedRules++
		case "draft":
			report.DraftRules++
		}

		expression, _ := doc.Data["expression"].(string)
		if strings.TrimSpace(expression) == "" {
			report.Issues = append(report.Issues, Issue{
				Type:       "empty_expression",
				Severity:   SeverityError,
				Message:    fmt.Sprintf("Rule %s has no expression", doc.ID()),
				ArtifactID: doc.ID(),
			})
			continue
		}
		if enabled, ok := doc.Data["enabled"].(bool); ok && !enabled && status == "published" {
			report.Issues = append(report.Issues, Issue{
				Type:       "published_rule_disabled",
				Severity:   SeverityWarning,
				Message:    fmt.Sprintf("Published rule %s is disabled", doc.ID()),
				ArtifactID: doc.ID(),
			})
		}
	}

	c.logger.Debug("Computed rule readiness",
		zap.String("org", org),
		zap.String("version_id", versionID),
		zap.Int("total", report.TotalRules),
		zap.Int("issues", len(report.Issues)))
	return report, nil
}
