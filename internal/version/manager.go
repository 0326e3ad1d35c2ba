// Package version owns the lifecycle of a product's point-in-time snapshots:
// drafts, published versions, and the archived history behind them.
package version

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrImmutable is returned when a caller tries to mutate a snapshot that is
// no longer in draft status.
var ErrImmutable = errors.New("version: published snapshots are immutable")

// ErrDraftExists is returned by CreateDraft when the product already has an
// open draft.
var ErrDraftExists = errors.New("version: product already has a draft version")

// Manager owns product version snapshots.
type Manager struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewManager creates a version manager.
func NewManager(store docstore.Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// ListVersions returns all snapshots for the product, newest first by version
// number. A store failure degrades to an empty timeline with a warning; a
// product with no versions yet is not an error.
func (m *Manager) ListVersions(ctx context.Context, org, productID string) []*Snapshot {
	docs, err := m.store.List(ctx, docstore.VersionsCollection(org, productID), docstore.ListOptions{})
	if err != nil {
		m.logger.Warn("Failed to list product versions, treating as empty timeline",
			zap.String("org", org),
			zap.String("product_id", productID),
			zap.Error(err))
		return []*Snapshot{}
	}

	snapshots := make([]*Snapshot, 0, len(docs))
	for _, doc := range docs {
		snapshots = append(snapshots, snapshotFromDoc(doc))
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].VersionNumber > snapshots[j].VersionNumber
	})
	return snapshots
}

// GetVersion fetches one snapshot by id.
func (m *Manager) GetVersion(ctx context.Context, org, productID, versionID string) (*Snapshot, error) {
	doc, err := m.store.Get(ctx, docstore.VersionPath(org, productID, versionID))
	if err != nil {
		return nil, err
	}
	return snapshotFromDoc(doc), nil
}

// SelectVersion applies the aggregator's selection policy: the explicitly
// requested snapshot when present, else the single draft, else the most
// recent published snapshot, else the first snapshot in the timeline.
func SelectVersion(snapshots []*Snapshot, explicitID string) *Snapshot {
	if len(snapshots) == 0 {
		return nil
	}
	if explicitID != "" {
		for _, s := range snapshots {
			if s.ID == explicitID {
				return s
			}
		}
	}
	for _, s := range snapshots {
		if s.Status == StatusDraft {
			return s
		}
	}
	var newest *Snapshot
	for _, s := range snapshots {
		if s.Status != StatusPublished {
			continue
		}
		if newest == nil || s.VersionNumber > newest.VersionNumber {
			newest = s
		}
	}
	if newest != nil {
		return newest
	}
	return snapshots[0]
}

// LatestPublished returns the most recent published snapshot, or nil.
func LatestPublished(snapshots []*Snapshot) *Snapshot {
	var newest *Snapshot
	for _, s := range snapshots {
		if s.Status != StatusPublished {
			continue
		}
		if newest == nil || s.VersionNumber > newest.VersionNumber {
			newest = s
		}
	}
	return newest
}

// CreateDraft opens a new draft snapshot, seeded from the latest published
// snapshot's data when one exists. At most one draft may be open at a time.
func (m *Manager) CreateDraft(ctx context.Context, org, productID, author, summary string) (*Snapshot, error) {
	existing := m.ListVersions(ctx, org, productID)

	nextNumber := 1
	var seed map[string]any
	for _, s := range existing {
		if s.Status == StatusDraft {
			return nil, ErrDraftExists
		}
		if s.VersionNumber >= nextNumber {
			nextNumber = s.VersionNumber + 1
		}
	}
	if published := LatestPublished(existing); published != nil {
		seed = published.Data
	}
	if seed == nil {
		seed = map[string]any{}
	}

	snapshot := &Snapshot{
		ID:            uuid.NewString(),
		VersionNumber: nextNumber,
		Status:        StatusDraft,
		Summary:       summary,
		Data:          seed,
		CreatedBy:     author,
		UpdatedBy:     author,
	}
	doc, err := m.store.Create(ctx, docstore.VersionPath(org, productID, snapshot.ID), snapshot.toData())
	if err != nil {
		return nil, fmt.Errorf("failed to create draft version: %w", err)
	}

	m.logger.Info("Draft version created",
		zap.String("org", org),
		zap.String("product_id", productID),
		zap.String("version_id", snapshot.ID),
		zap.Int("version_number", nextNumber))
	return snapshotFromDoc(doc), nil
}

// UpdateDraft merges changes into a draft snapshot's data. Non-draft
// snapshots reject the write with ErrImmutable.
func (m *Manager) UpdateDraft(ctx context.Context, org, productID, versionID, editor string, changes map[string]any) (*Snapshot, error) {
	snapshot, err := m.GetVersion(ctx, org, productID, versionID)
	if err != nil {
		return nil, err
	}
	if snapshot.Status != StatusDraft {
		return nil, ErrImmutable
	}

	merged := make(map[string]any, len(snapshot.Data)+len(changes))
	for k, v := range snapshot.Data {
		merged[k] = v
	}
	for k, v := range changes {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	doc, err := m.store.UpdateIf(ctx, docstore.VersionPath(org, productID, versionID), snapshot.etag, map[string]any{
		"data":       merged,
		"updated_by": editor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update draft version: %w", err)
	}
	return snapshotFromDoc(doc), nil
}

// Publish promotes a draft to published and archives the previously
// published snapshot. Published snapshots are never hard-deleted.
func (m *Manager) Publish(ctx context.Context, org, productID, versionID, publisher string, effectiveStart *time.Time) (*Snapshot, error) {
	snapshot, err := m.GetVersion(ctx, org, productID, versionID)
	if err != nil {
		return nil, err
	}
	if snapshot.Status != StatusDraft {
		return nil, fmt.Errorf("version %s is %s, only drafts can be published", versionID, snapshot.Status)
	}

	if prior := LatestPublished(m.ListVersions(ctx, org, productID)); prior != nil {
		_, err := m.store.Update(ctx, docstore.VersionPath(org, productID, prior.ID), map[string]any{
			"status":        string(StatusArchived),
			"effective_end": time.Now().UTC().Format(time.RFC3339),
			"updated_by":    publisher,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to archive prior published version %s: %w", prior.ID, err)
		}
	}

	partial := map[string]any{
		"status":     string(StatusPublished),
		"updated_by": publisher,
	}
	if effectiveStart != nil {
		partial["effective_start"] = effectiveStart.Format(time.RFC3339)
	}
	doc, err := m.store.UpdateIf(ctx, docstore.VersionPath(org, productID, versionID), snapshot.etag, partial)
	if err != nil {
		return nil, fmt.Errorf("failed to publish version %s: %w", versionID, err)
	}

	m.logger.Info("Version published",
		zap.String("org", org),
		zap.String("product_id", productID),
		zap.String("version_id", versionID),
		zap.Int("version_number", snapshot.VersionNumber))
	return snapshotFromDoc(doc), nil
}

// Archive retires a published snapshot without a replacement.
func (m *Manager) Archive(ctx context.Context, org, productID, versionID, editor string) (*Snapshot, error) {
	snapshot, err := m.GetVersion(ctx, org, productID, versionID)
	if err != nil {
		return nil, err
	}
	if snapshot.Status != StatusPublished {
		return nil, fmt.Errorf("version %s is %s, only published versions can be archived", versionID, snapshot.Status)
	}
	doc, err := m.store.UpdateIf(ctx, docstore.VersionPath(org, productID, versionID), snapshot.etag, map[string]any{
		"status":        string(StatusArchived),
		"effective_end": time.Now().UTC().Format(time.RFC3339),
		"updated_by":    editor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive version %s: %w", versionID, err)
	}
	return snapshotFromDoc(doc), nil
}
