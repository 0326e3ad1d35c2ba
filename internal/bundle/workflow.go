package bundle

import (
	"context"
	"fmt"
	"sort"

	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWriteRetries = 3

// Workflow owns change bundle state and approvals.
type Workflow struct {
	store  docstore.Store
	roles  RoleMapping
	logger *zap.Logger
}

// NewWorkflow creates a bundle workflow engine.
func NewWorkflow(store docstore.Store, roles RoleMapping, logger *zap.Logger) *Workflow {
	if roles == nil {
		roles = DefaultRoleMapping()
	}
	return &Workflow{store: store, roles: roles, logger: logger}
}

// Roles exposes the configured artifact-type to role mapping.
func (w *Workflow) Roles() RoleMapping {
	return w.roles
}

// Create opens a new draft bundle.
func (w *Workflow) Create(ctx context.Context, org, name, ownerID string) (*Bundle, error) {
	id := uuid.NewString()
	doc, err := w.store.Create(ctx, docstore.BundlePath(org, id), map[string]any{
		"name":                   name,
		"owner_id":               ownerID,
		"status":                 string(StatusDraft),
		"item_count":             0,
		"pending_approval_count": 0,
		"updated_by":             ownerID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bundle: %w", err)
	}
	w.logger.Info("Change bundle created",
		zap.String("org", org),
		zap.String("bundle_id", id),
		zap.String("owner_id", ownerID))
	return bundleFromDoc(doc), nil
}

// ActiveDraftFor returns the user's open draft bundle, creating one lazily
// when none exists.
func (w *Workflow) ActiveDraftFor(ctx context.Context, org, userID string) (*Bundle, error) {
	docs, err := w.store.List(ctx, docstore.BundlesCollection(org), docstore.ListOptions{
		Filters: map[string]any{"owner_id": userID, "status": string(StatusDraft)},
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up active draft bundle: %w", err)
	}
	if len(docs) > 0 {
		return bundleFromDoc(docs[0]), nil
	}
	return w.Create(ctx, org, fmt.Sprintf("%s's working changes", userID), userID)
}

// Get fetches one bundle.
func (w *Workflow) Get(ctx context.Context, org, bundleID string) (*Bundle, error) {
	doc, err := w.store.Get(ctx, docstore.BundlePath(org, bundleID))
	if err != nil {
		return nil, err
	}
	return bundleFromDoc(doc), nil
}

// ListOpen returns up to limit bundles in draft, ready_for_review, or
// approved status, newest first.
func (w *Workflow) ListOpen(ctx context.Context, org string, limit int) ([]*Bundle, error) {
	docs, err := w.store.List(ctx, docstore.BundlesCollection(org), docstore.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	open := make([]*Bundle, 0)
	for _, doc := range docs {
		b := bundleFromDoc(doc)
		switch b.Status {
		case StatusDraft, StatusReadyForReview, StatusApproved:
			open = append(open, b)
		}
	}
	// Newest activity first.
	sort.Slice(open, func(i, j int) bool {
		return open[i].UpdatedAt.After(open[j].UpdatedAt)
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

// ListItems returns the bundle's items.
func (w *Workflow) ListItems(ctx context.Context, org, bundleID string) ([]*Item, error) {
	docs, err := w.store.List(ctx, docstore.BundleItemsCollection(org, bundleID), docstore.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle items: %w", err)
	}
	items := make([]*Item, 0, len(docs))
	for _, doc := range docs {
		items = append(items, itemFromDoc(doc))
	}
	return items, nil
}

// ListApprovals returns the bundle's approval records.
func (w *Workflow) ListApprovals(ctx context.Context, org, bundleID string) ([]*Approval, error) {
	docs, err := w.store.List(ctx, docstore.BundleApprovalsCollection(org, bundleID), docstore.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list bundle approvals: %w", err)
	}
	approvals := make([]*Approval, 0, len(docs))
	for _, doc := range docs {
		approvals = append(approvals, approvalFromDoc(doc))
	}
	return approvals, nil
}

// RequiredRoles derives the bundle's required approval roles from the
// distinct artifact types among its items.
func (w *Workflow) RequiredRoles(ctx context.Context, org, bundleID string) ([]string, error) {
	items, err := w.ListItems(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(items))
	for _, item := range items {
		types = append(types, item.ArtifactType)
	}
	return w.roles.RolesFor(types), nil
}

// AddItem appends an item to a draft bundle and increments the bundle's item
// count with the same logical operation. If the count write loses its etag
// race the item is removed again so count and collection stay consistent.
func (w *Workflow) AddItem(ctx context.Context, org, bundleID string, item Item, addedBy string) (*Item, error) {
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		b, err := w.Get(ctx, org, bundleID)
		if err != nil {
			return nil, err
		}
		if b.Status != StatusDraft {
			return nil, fmt.Errorf("items can only be added while the bundle is draft, bundle %s is %s", bundleID, b.Status)
		}

		item.ID = uuid.NewString()
		itemPath := docstore.BundleItemPath(org, bundleID, item.ID)
		if _, err := w.store.Create(ctx, itemPath, map[string]any{
			"artifact_type": item.ArtifactType,
			"artifact_id":   item.ArtifactID,
			"version_id":    item.VersionID,
			"product_id":    item.ProductID,
			"action":        item.Action,
			"added_by":      addedBy,
		}); err != nil {
			return nil, fmt.Errorf("failed to write bundle item: %w", err)
		}

		_, err = w.store.UpdateIf(ctx, docstore.BundlePath(org, bundleID), b.etag, map[string]any{
			"item_count": b.ItemCount + 1,
			"updated_by": addedBy,
		})
		if docstore.IsConflict(err) {
			if delErr := w.store.Delete(ctx, itemPath); delErr != nil {
				w.logger.Error("Failed to roll back bundle item after count conflict",
					zap.String("bundle_id", bundleID),
					zap.String("item_id", item.ID),
					zap.Error(delErr))
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update bundle item count: %w", err)
		}

		stored, err := w.store.Get(ctx, itemPath)
		if err != nil {
			return nil, err
		}
		return itemFromDoc(stored), nil
	}
	return nil, fmt.Errorf("adding bundle item kept conflicting after %d attempts: %w", maxWriteRetries, docstore.ErrConflict)
}

// RemoveItem deletes an item from a draft bundle and decrements its count.
// The item document goes first so a failed delete never leaves the count
// below the live collection; the decrement then retries through etag races.
func (w *Workflow) RemoveItem(ctx context.Context, org, bundleID, itemID, removedBy string) error {
	b, err := w.Get(ctx, org, bundleID)
	if err != nil {
		return err
	}
	if b.Status != StatusDraft {
		return fmt.Errorf("items can only be removed while the bundle is draft, bundle %s is %s", bundleID, b.Status)
	}

	itemPath := docstore.BundleItemPath(org, bundleID, itemID)
	if _, err := w.store.Get(ctx, itemPath); err != nil {
		return err
	}
	if err := w.store.Delete(ctx, itemPath); err != nil {
		return fmt.Errorf("failed to delete bundle item: %w", err)
	}

	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		count := b.ItemCount - 1
		if count < 0 {
			count = 0
		}
		_, err = w.store.UpdateIf(ctx, docstore.BundlePath(org, bundleID), b.etag, map[string]any{
			"item_count": count,
			"updated_by": removedBy,
		})
		if docstore.IsConflict(err) {
			b, err = w.Get(ctx, org, bundleID)
			if err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to update bundle item count: %w", err)
		}
		return nil
	}
	return fmt.Errorf("removing bundle item kept conflicting after %d attempts: %w", maxWriteRetries, docstore.ErrConflict)
}

// SubmitForReview moves a draft bundle to ready_for_review and records how
// many role approvals it is waiting on.
func (w *Workflow) SubmitForReview(ctx context.Context, org, bundleID, actor string) (*Bundle, error) {
	required, err := w.RequiredRoles(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	return w.transition(ctx, org, bundleID, StatusReadyForReview, actor, map[string]any{
		"pending_approval_count": len(required),
	})
}

// ReturnToDraft sends a bundle back to draft for rework.
func (w *Workflow) ReturnToDraft(ctx context.Context, org, bundleID, actor string) (*Bundle, error) {
	return w.transition(ctx, org, bundleID, StatusDraft, actor, map[string]any{
		"pending_approval_count": 0,
	})
}

// Approve records a role approval. Approvals are only accepted while the
// bundle is ready_for_review; when every required role has approved, the
// bundle advances to approved.
func (w *Workflow) Approve(ctx context.Context, org, bundleID, role, reviewer, notes string) (*Bundle, error) {
	b, err := w.Get(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusReadyForReview {
		return nil, fmt.Errorf("approvals can only be recorded while the bundle is ready for review, bundle %s is %s", bundleID, b.Status)
	}

	if err := w.recordApproval(ctx, org, bundleID, role, reviewer, notes, ApprovalApproved); err != nil {
		return nil, err
	}

	required, err := w.RequiredRoles(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	approvals, err := w.ListApprovals(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}

	pending := 0
	approvedRoles := make(map[string]bool)
	for _, a := range approvals {
		if a.Status == ApprovalApproved {
			approvedRoles[a.Role] = true
		}
	}
	for _, r := range required {
		if !approvedRoles[r] {
			pending++
		}
	}

	if AllApprovalsComplete(required, approvals) {
		return w.transition(ctx, org, bundleID, StatusApproved, reviewer, map[string]any{
			"pending_approval_count": 0,
		})
	}
	_, err = w.store.Update(ctx, docstore.BundlePath(org, bundleID), map[string]any{
		"pending_approval_count": pending,
		"updated_by":             reviewer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update pending approval count: %w", err)
	}
	return w.Get(ctx, org, bundleID)
}

// Reject records a role rejection and sends the bundle back toward draft.
func (w *Workflow) Reject(ctx context.Context, org, bundleID, role, reviewer, notes string) (*Bundle, error) {
	b, err := w.Get(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusReadyForReview {
		return nil, fmt.Errorf("rejections can only be recorded while the bundle is ready for review, bundle %s is %s", bundleID, b.Status)
	}
	if err := w.recordApproval(ctx, org, bundleID, role, reviewer, notes, ApprovalRejected); err != nil {
		return nil, err
	}
	return w.transition(ctx, org, bundleID, StatusRejected, reviewer, nil)
}

// PublishBundle publishes an approved bundle. All required approvals must
// still be satisfied at publish time.
func (w *Workflow) PublishBundle(ctx context.Context, org, bundleID, actor string) (*Bundle, error) {
	required, err := w.RequiredRoles(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	approvals, err := w.ListApprovals(ctx, org, bundleID)
	if err != nil {
		return nil, err
	}
	if missing := MissingApprovals(required, approvals); len(missing) > 0 {
		return nil, &ApprovalsIncompleteError{BundleID: bundleID, Missing: missing}
	}
	return w.transition(ctx, org, bundleID, StatusPublished, actor, nil)
}

func (w *Workflow) recordApproval(ctx context.Context, org, bundleID, role, reviewer, notes, status string) error {
	id := uuid.NewString()
	_, err := w.store.Create(ctx, docstore.BundleApprovalPath(org, bundleID, id), map[string]any{
		"role":     role,
		"status":   status,
		"notes":    notes,
		"reviewer": reviewer,
	})
	if err != nil {
		return fmt.Errorf("failed to record %s approval: %w", role, err)
	}
	return nil
}

// transition applies a status change with the legality check and the status
// plus audit fields written in a single conditional update.
func (w *Workflow) transition(ctx context.Context, org, bundleID string, target Status, actor string, extra map[string]any) (*Bundle, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		b, err := w.Get(ctx, org, bundleID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(b.Status, target) {
			return nil, &TransitionError{BundleID: bundleID, From: b.Status, To: target}
		}

		partial := map[string]any{
			"status":     string(target),
			"updated_by": actor,
		}
		for k, v := range extra {
			partial[k] = v
		}
		doc, err := w.store.UpdateIf(ctx, docstore.BundlePath(org, bundleID), b.etag, partial)
		if docstore.IsConflict(err) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write bundle transition: %w", err)
		}

		w.logger.Info("Bundle status transition applied",
			zap.String("org", org),
			zap.String("bundle_id", bundleID),
			zap.String("from", string(b.Status)),
			zap.String("to", string(target)))
		return bundleFromDoc(doc), nil
	}
	return nil, fmt.Errorf("bundle transition kept conflicting after %d attempts: %w", maxWriteRetries, lastErr)
}
