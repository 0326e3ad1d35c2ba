// Package bundle owns change bundles: reviewable groupings of pending
// artifact edits gated by role-based approvals before publication.
package bundle

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/filingworks/readiness-engine/internal/docstore"
)

// Status is a change bundle workflow status.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusReadyForReview Status = "ready_for_review"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusPublished      Status = "published"
)

// Label returns the display form of the status.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusReadyForReview:
		return "Ready for Review"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	case StatusPublished:
		return "Published"
	}
	return string(s)
}

// allowedTransitions is the bundle workflow's legal-transition table,
// parallel to the program status table.
var allowedTransitions = map[Status][]Status{
	StatusDraft:          {StatusReadyForReview},
	StatusReadyForReview: {StatusApproved, StatusRejected, StatusDraft},
	StatusApproved:       {StatusPublished},
	StatusRejected:       {StatusDraft},
	StatusPublished:      {},
}

// CanTransition reports whether a bundle status move is legal.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal bundle status transition.
type TransitionError struct {
	BundleID string
	From     Status
	To       Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from %s to %s is not allowed for bundle %s",
		e.From, e.To, e.BundleID)
}

// ApprovalsIncompleteError reports a publish attempt on a bundle that is
// still missing required role approvals.
type ApprovalsIncompleteError struct {
	BundleID string
	Missing  []string
}

func (e *ApprovalsIncompleteError) Error() string {
	return fmt.Sprintf("bundle %s is missing required approvals (%s) and cannot be published",
		e.BundleID, strings.Join(e.Missing, ", "))
}

// Item actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Approval statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Bundle is a reviewable grouping of pending edits.
type Bundle struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	OwnerID              string    `json:"owner_id"`
	Status               Status    `json:"status"`
	ItemCount            int       `json:"item_count"`
	PendingApprovalCount int       `json:"pending_approval_count"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	UpdatedBy            string    `json:"updated_by"`

	etag string
}

// Item is one pending artifact edit inside a bundle.
type Item struct {
	ID           string    `json:"id"`
	ArtifactType string    `json:"artifact_type"`
	ArtifactID   string    `json:"artifact_id"`
	VersionID    string    `json:"version_id"`
	ProductID    string    `json:"product_id"`
	Action       string    `json:"action"`
	AddedBy      string    `json:"added_by"`
	AddedAt      time.Time `json:"added_at"`
}

// Approval is one role's review record on a bundle.
type Approval struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	Reviewer  string    `json:"reviewer"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleMapping maps artifact types to the review roles they require. It is
// deployment configuration, not user input.
type RoleMapping map[string][]string

// DefaultRoleMapping is the shipped artifact-type to approval-role table.
func DefaultRoleMapping() RoleMapping {
	return RoleMapping{
		"form":        {"compliance"},
		"rule":        {"compliance", "product"},
		"rateProgram": {"actuary"},
		"rateTable":   {"actuary"},
		"product":     {"product"},
	}
}

// RolesFor returns the sorted distinct roles required for a set of artifact
// types, looked up against the mapping.
func (m RoleMapping) RolesFor(types []string) []string {
	seen := make(map[string]bool)
	for _, t := range types {
		for _, role := range m[t] {
			seen[role] = true
		}
	}
	roles := make([]string, 0, len(seen))
	for role := range seen {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// MissingApprovals returns the required roles that do not yet have an
// approved record, in the required order. Rejected or pending records do not
// satisfy a role.
func MissingApprovals(required []string, approvals []*Approval) []string {
	approvedRoles := make(map[string]bool)
	for _, a := range approvals {
		if a.Status == ApprovalApproved {
			approvedRoles[a.Role] = true
		}
	}
	missing := make([]string, 0)
	for _, role := range required {
		if !approvedRoles[role] {
			missing = append(missing, role)
		}
	}
	return missing
}

// AllApprovalsComplete reports whether every required role has at least one
// approved record.
func AllApprovalsComplete(required []string, approvals []*Approval) bool {
	return len(MissingApprovals(required, approvals)) == 0
}

func bundleFromDoc(doc *docstore.Document) *Bundle {
	b := &Bundle{
		ID:        doc.ID(),
		Name:      stringField(doc.Data, "name"),
		OwnerID:   stringField(doc.Data, "owner_id"),
		Status:    Status(stringField(doc.Data, "status")),
		UpdatedBy: stringField(doc.Data, "updated_by"),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		etag:      doc.ETag,
	}
	b.ItemCount = intField(doc.Data, "item_count")
	b.PendingApprovalCount = intField(doc.Data, "pending_approval_count")
	return b
}

func itemFromDoc(doc *docstore.Document) *Item {
	item := &Item{
		ID:           doc.ID(),
		ArtifactType: stringField(doc.Data, "artifact_type"),
		ArtifactID:   stringField(doc.Data, "artifact_id"),
		VersionID:    stringField(doc.Data, "version_id"),
		ProductID:    stringField(doc.Data, "product_id"),
		Action:       stringField(doc.Data, "action"),
		AddedBy:      stringField(doc.Data, "added_by"),
		AddedAt:      doc.CreatedAt,
	}
	return item
}

func approvalFromDoc(doc *docstore.Document) *Approval {
	return &Approval{
		ID:        doc.ID(),
		Role:      stringField(doc.Data, "role"),
		Status:    stringField(doc.Data, "status"),
		Notes:     stringField(doc.Data, "notes"),
		Reviewer:  stringField(doc.Data, "reviewer"),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func intField(data map[string]any, key string) int {
	switch n := data[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
