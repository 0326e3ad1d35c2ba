// Package readiness assembles readiness reports: it pulls the version
// timeline, jurisdiction programs, artifact readiness, and open change
// bundles together and explains what blocks a product from going live.
package readiness

import (
	"time"

	"github.com/filingworks/readiness-engine/internal/artifacts"
	"github.com/filingworks/readiness-engine/internal/bundle"
	"github.com/filingworks/readiness-engine/internal/program"
	"github.com/filingworks/readiness-engine/internal/version"
)

// Request identifies the product (and optional version, jurisdiction, and
// target date) a readiness report is computed for.
type Request struct {
	Org                string
	ProductID          string
	VersionID          string
	TargetJurisdiction string
	TargetDate         *time.Time
}

// Report is the full readiness report. It is built fresh on every request
// and never persisted.
type Report struct {
	Org               string          `json:"org"`
	ProductID         string          `json:"product_id"`
	SelectedVersionID string          `json:"selected_version_id,omitempty"`
	Timeline          []VersionInfo   `json:"timeline"`
	States            []StateRow      `json:"states"`
	StateStats        StateStats      `json:"state_stats"`
	Categories        []CategoryScore `json:"categories"`
	OverallScore      int             `json:"overall_score"`
	OpenBundles       []BundleSummary `json:"open_bundles"`
	Impact            Impact          `json:"impact"`
	Blockers          []string        `json:"blockers"`
	ComputedAt        time.Time       `json:"computed_at"`
}

// VersionInfo is the timeline view of one snapshot.
type VersionInfo struct {
	ID             string         `json:"id"`
	VersionNumber  int            `json:"version_number"`
	Status         version.Status `json:"status"`
	EffectiveStart *time.Time     `json:"effective_start,omitempty"`
	EffectiveEnd   *time.Time     `json:"effective_end,omitempty"`
	Summary        string         `json:"summary,omitempty"`
}

// StateRow is the per-jurisdiction readiness view.
type StateRow struct {
	Code             string                    `json:"code"`
	Status           program.Status            `json:"status"`
	MissingArtifacts []string                  `json:"missing_artifacts"`
	ValidationErrors []program.ValidationIssue `json:"validation_errors"`
	CanActivate      bool                      `json:"can_activate"`
	FilingDate       *time.Time                `json:"filing_date,omitempty"`
	ApprovalDate     *time.Time                `json:"approval_date,omitempty"`
	ActivationDate   *time.Time                `json:"activation_date,omitempty"`
}

// StateStats summarizes the jurisdiction matrix.
type StateStats struct {
	Total           int `json:"total"`
	Active          int `json:"active"`
	Blocked         int `json:"blocked"`
	ReadyToActivate int `json:"ready_to_activate"`
	NotOffered      int `json:"not_offered"`
}

// CategoryScore is the scored readiness of one artifact category.
type CategoryScore struct {
	Category   artifacts.Category `json:"category"`
	Total      int                `json:"total"`
	Published  int                `json:"published"`
	Draft      int                `json:"draft"`
	IssueCount int                `json:"issue_count"`
	Score      int                `json:"score"`
}

// BundleSummary is an open change bundle with its outstanding approvals.
type BundleSummary struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Status           bundle.Status `json:"status"`
	OwnerID          string        `json:"owner_id"`
	ItemCount        int           `json:"item_count"`
	RelevantItems    int           `json:"relevant_items"`
	PendingApprovals []string      `json:"pending_approvals"`
}

// Impact is the structural diff between the draft and the last published
// snapshot.
type Impact struct {
	HasPublishedBaseline bool          `json:"has_published_baseline"`
	FieldsAdded          int           `json:"fields_added"`
	FieldsRemoved        int           `json:"fields_removed"`
	FieldsChanged        int           `json:"fields_changed"`
	TotalChanges         int           `json:"total_changes"`
	Changes              []FieldChange `json:"changes"`
}

// FieldChange classifies one differing field path.
type FieldChange struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // added, removed, changed
}
