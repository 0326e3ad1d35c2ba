// Package program owns the per-jurisdiction filing lifecycle for a product
// version and the artifact-readiness validation that gates activation.
package program

import (
	"fmt"
	"strings"
	"time"

	"github.com/filingworks/readiness-engine/internal/docstore"
)

// Status is a program filing status.
type Status string

const (
	StatusNotOffered    Status = "not_offered"
	StatusDraft         Status = "draft"
	StatusPendingFiling Status = "pending_filing"
	StatusFiled         Status = "filed"
	StatusApproved      Status = "approved"
	StatusActive        Status = "active"
	StatusWithdrawn     Status = "withdrawn"
)

// Label returns the display form used in blocker text.
func (s Status) Label() string {
	switch s {
	case StatusNotOffered:
		return "Not Offered"
	case StatusDraft:
		return "Draft"
	case StatusPendingFiling:
		return "Pending Filing"
	case StatusFiled:
		return "Filed"
	case StatusApproved:
		return "Approved"
	case StatusActive:
		return "Active"
	case StatusWithdrawn:
		return "Withdrawn"
	}
	return string(s)
}

// allowedTransitions is the explicit legal-transition table. Every mutation
// checks it before touching the record.
var allowedTransitions = map[Status][]Status{
	StatusNotOffered:    {StatusDraft},
	StatusDraft:         {StatusPendingFiling, StatusNotOffered},
	StatusPendingFiling: {StatusFiled, StatusDraft},
	StatusFiled:         {StatusApproved, StatusWithdrawn},
	StatusApproved:      {StatusActive, StatusWithdrawn},
	StatusActive:        {StatusWithdrawn},
	StatusWithdrawn:     {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports an attempt to make an illegal status transition.
// The requested operation performs no mutation.
type TransitionError struct {
	StateCode string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition from %s to %s is not allowed for program %s",
		e.From, e.To, e.StateCode)
}

// ValidationIssue is one concrete validation failure or warning.
type ValidationIssue struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

// ValidationError blocks an activation with the concrete unmet requirements.
type ValidationError struct {
	StateCode string
	Issues    []ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("program %s cannot activate: %s", e.StateCode, strings.Join(msgs, "; "))
}

// ValidationResult is the outcome of validating a program record.
type ValidationResult struct {
	IsValid     bool              `json:"is_valid"`
	CanActivate bool              `json:"can_activate"`
	Errors      []ValidationIssue `json:"errors"`
	Warnings    []ValidationIssue `json:"warnings"`
}

// Record is the per-jurisdiction filing record for one product version.
// Absence of a record is equivalent to not_offered.
type Record struct {
	StateCode            string            `json:"state_code"`
	Status               Status            `json:"status"`
	RequiredForms        []string          `json:"required_forms"`
	RequiredRules        []string          `json:"required_rules"`
	RequiredRatePrograms []string          `json:"required_rate_programs"`
	ValidationErrors     []ValidationIssue `json:"validation_errors"`
	FilingDate           *time.Time        `json:"filing_date,omitempty"`
	ApprovalDate         *time.Time        `json:"approval_date,omitempty"`
	ActivationDate       *time.Time        `json:"activation_date,omitempty"`
	WithdrawalDate       *time.Time        `json:"withdrawal_date,omitempty"`
	UpdatedBy            string            `json:"updated_by"`
	UpdatedAt            time.Time         `json:"updated_at"`

	etag string
}

// Summary aggregates program records across jurisdictions.
type Summary struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	ActiveCount     int            `json:"active_count"`
	ReadyToActivate int            `json:"ready_to_activate"`
	BlockedCount    int            `json:"blocked_count"`
}

func recordFromDoc(doc *docstore.Document) *Record {
	r := &Record{
		StateCode:            doc.ID(),
		Status:               Status(stringField(doc.Data, "status")),
		RequiredForms:        stringSliceField(doc.Data, "required_forms"),
		RequiredRules:        stringSliceField(doc.Data, "required_rules"),
		RequiredRatePrograms: stringSliceField(doc.Data, "required_rate_programs"),
		ValidationErrors:     issuesField(doc.Data, "validation_errors"),
		UpdatedBy:            stringField(doc.Data, "updated_by"),
		UpdatedAt:            doc.UpdatedAt,
		etag:                 doc.ETag,
	}
	if r.Status == "" {
		r.Status = StatusNotOffered
	}
	r.FilingDate = timeField(doc.Data, "filing_date")
	r.ApprovalDate = timeField(doc.Data, "approval_date")
	r.ActivationDate = timeField(doc.Data, "activation_date")
	r.WithdrawalDate = timeField(doc.Data, "withdrawal_date")
	return r
}

func (r *Record) toData() map[string]any {
	data := map[string]any{
		"status":                 string(r.Status),
		"required_forms":         toAnySlice(r.RequiredForms),
		"required_rules":         toAnySlice(r.RequiredRules),
		"required_rate_programs": toAnySlice(r.RequiredRatePrograms),
		"validation_errors":      issuesToAny(r.ValidationErrors),
		"updated_by":             r.UpdatedBy,
	}
	for key, value := range map[string]*time.Time{
		"filing_date":     r.FilingDate,
		"approval_date":   r.ApprovalDate,
		"activation_date": r.ActivationDate,
		"withdrawal_date": r.WithdrawalDate,
	} {
		if value != nil {
			data[key] = value.Format(time.RFC3339)
		}
	}
	return data
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func timeField(data map[string]any, key string) *time.Time {
	raw, ok := data[key].(string)
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func stringSliceField(data map[string]any, key string) []string {
	out := []string{}
	switch raw := data[key].(type) {
	case []string:
		return append(out, raw...)
	case []any:
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func issuesField(data map[string]any, key string) []ValidationIssue {
	raw, ok := data[key].([]any)
	if !ok {
		return []ValidationIssue{}
	}
	out := make([]ValidationIssue, 0, len(raw))
	for _, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, ValidationIssue{
			Kind:       stringField(m, "kind"),
			Message:    stringField(m, "message"),
			ArtifactID: stringField(m, "artifact_id"),
		})
	}
	return out
}

func issuesToAny(issues []ValidationIssue) []any {
	out := make([]any, 0, len(issues))
	for _, issue := range issues {
		out = append(out, map[string]any{
			"kind":        issue.Kind,
			"message":     issue.Message,
			"artifact_id": issue.ArtifactID,
		})
	}
	return out
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
