package artifacts

import (
	"context"
	"fmt"

	"github.com/filingworks/readiness-engine/internal/docstore"
	"go.uber.org/zap"
)

// StoreFormsChecker derives form readiness from the org's form documents.
type StoreFormsChecker struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewStoreFormsChecker creates a store-backed forms checker.
func NewStoreFormsChecker(store docstore.Store, logger *zap.Logger) *StoreFormsChecker {
	return &StoreFormsChecker{store: store, logger: logger}
}

// CheckFormReadiness implements FormsChecker. A form document carries a
// status (draft, published, approved, retired), an in_use flag set by the
// product editor, and optionally the id of its current published edition.
func (c *StoreFormsChecker) CheckFormReadiness(ctx context.Context, org string) (*FormReadiness, error) {
	docs, err := c.store.List(ctx, docstore.FormsCollection(org), docstore.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list forms for org %s: %w", org, err)
	}

	report := &FormReadiness{
		UnpublishedFormIDs: []string{},
		DraftFormsInUse:    []string{},
		Issues:             []Issue{},
	}

	for _, doc := range docs {
		status, _ := doc.Data["status"].(string)
		inUse, _ := doc.Data["in_use"].(bool)
		if retired := status == "retired"; retired && !inUse {
			continue
		}
		report.TotalForms++

		switch status {
		case "published", "approved", "filed":
			report.PublishedForms++
		case "draft":
			report.DraftForms++
			report.UnpublishedFormIDs = append(report.UnpublishedFormIDs, doc.ID())
			if inUse {
				report.DraftFormsInUse = append(report.DraftFormsInUse, doc.ID())
				report.Issues = append(report.Issues, Issue{
					Type:       "draft_form_in_use",
					Severity:   SeverityWarning,
					Message:    fmt.Sprintf("Form %s is in use but has no published edition", doc.ID()),
					ArtifactID: doc.ID(),
				})
			}
		default:
			report.UnpublishedFormIDs = append(report.UnpublishedFormIDs, doc.ID())
		}

		if _, hasEdition := doc.Data["edition_date"]; !hasEdition && inUse {
			report.Issues = append(report.Issues, Issue{
				Type:       "missing_edition_date",
				Severity:   SeverityWarning,
				Message:    fmt.Sprintf("Form %s has no edition date", doc.ID()),
				ArtifactID: doc.ID(),
			})
		}
	}

	report.Healthy = len(report.DraftFormsInUse) == 0
	c.logger.Debug("Computed form readiness",
		zap.String("org", org),
		zap.Int("total", report.TotalForms),
		zap.Int("published", report.PublishedForms))
	return report, nil
}
