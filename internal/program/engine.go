package program

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/filingworks/readiness-engine/internal/artifacts"
	"github.com/filingworks/readiness-engine/internal/docstore"
	"go.uber.org/zap"
)

// acceptedArtifactStatuses are the artifact statuses that satisfy a program's
// required-artifact references.
var acceptedArtifactStatuses = map[string]bool{
	"approved":  true,
	"filed":     true,
	"published": true,
}

const maxTransitionRetries = 3

// Engine owns program status transitions and validation.
type Engine struct {
	store    docstore.Store
	resolver artifacts.Resolver
	logger   *zap.Logger
}

// NewEngine creates a program status engine.
func NewEngine(store docstore.Store, resolver artifacts.Resolver, logger *zap.Logger) *Engine {
	return &Engine{store: store, resolver: resolver, logger: logger}
}

// GetRecord fetches the program record for one jurisdiction. A missing record
// is returned as a synthetic not_offered record, matching the lazy-creation
// model: absence of a record means the product is not offered there.
func (e *Engine) GetRecord(ctx context.Context, org, productID, versionID, stateCode string) (*Record, error) {
	doc, err := e.store.Get(ctx, docstore.ProgramPath(org, productID, versionID, stateCode))
	if docstore.IsNotFound(err) {
		return &Record{
			StateCode:            strings.ToUpper(stateCode),
			Status:               StatusNotOffered,
			RequiredForms:        []string{},
			RequiredRules:        []string{},
			RequiredRatePrograms: []string{},
			ValidationErrors:     []ValidationIssue{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return recordFromDoc(doc), nil
}

// ListRecords returns all program records stored for the product version.
func (e *Engine) ListRecords(ctx context.Context, org, productID, versionID string) ([]*Record, error) {
	docs, err := e.store.List(ctx, docstore.ProgramsCollection(org, productID, versionID), docstore.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	records := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, recordFromDoc(doc))
	}
	return records, nil
}

// SetRequiredArtifacts replaces one of the record's required-artifact lists.
func (e *Engine) SetRequiredArtifacts(ctx context.Context, org, productID, versionID, stateCode string, category artifacts.Category, ids []string, editor string) (*Record, error) {
	var field string
	switch category {
	case artifacts.CategoryForms:
		field = "required_forms"
	case artifacts.CategoryRules:
		field = "required_rules"
	case artifacts.CategoryRatePrograms:
		field = "required_rate_programs"
	default:
		return nil, fmt.Errorf("category %q has no required-artifact list", category)
	}

	path := docstore.ProgramPath(org, productID, versionID, stateCode)
	record, err := e.GetRecord(ctx, org, productID, versionID, stateCode)
	if err != nil {
		return nil, err
	}
	partial := map[string]any{field: toAnySlice(ids), "updated_by": editor}

	if record.etag == "" {
		record.UpdatedBy = editor
		data := record.toData()
		data[field] = toAnySlice(ids)
		doc, err := e.store.Create(ctx, path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create program record: %w", err)
		}
		return recordFromDoc(doc), nil
	}

	doc, err := e.store.UpdateIf(ctx, path, record.etag, partial)
	if err != nil {
		return nil, fmt.Errorf("failed to update required artifacts: %w", err)
	}
	return recordFromDoc(doc), nil
}

// Transition moves the program to the target status. Illegal moves fail with
// *TransitionError and mutate nothing. A move into active first runs
// validation and is rejected with *ValidationError when the program cannot
// activate. Date fields stamp on first arrival at their status only. The
// read-check-write sequence uses etag-conditional writes with bounded retry
// so concurrent editors cannot lose updates.
func (e *Engine) Transition(ctx context.Context, org, productID, versionID, stateCode string, target Status, actor string) (*Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		record, err := e.GetRecord(ctx, org, productID, versionID, stateCode)
		if err != nil {
			return nil, err
		}

		if !CanTransition(record.Status, target) {
			return nil, &TransitionError{StateCode: record.StateCode, From: record.Status, To: target}
		}

		if target == StatusActive {
			result, err := e.Validate(ctx, org, record)
			if err != nil {
				return nil, fmt.Errorf("failed to validate program %s: %w", record.StateCode, err)
			}
			if !result.CanActivate {
				return nil, &ValidationError{StateCode: record.StateCode, Issues: result.Errors}
			}
		}

		updated, err := e.writeTransition(ctx, org, productID, versionID, record, target, actor)
		if docstore.IsConflict(err) {
			lastErr = err
			e.logger.Warn("Program transition hit a concurrent update, retrying",
				zap.String("state_code", record.StateCode),
				zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, err
		}

		e.logger.Info("Program status transition applied",
			zap.String("org", org),
			zap.String("product_id", productID),
			zap.String("version_id", versionID),
			zap.String("state_code", record.StateCode),
			zap.String("from", string(record.Status)),
			zap.String("to", string(target)))
		return updated, nil
	}
	return nil, fmt.Errorf("program transition kept conflicting after %d attempts: %w", maxTransitionRetries, lastErr)
}

func (e *Engine) writeTransition(ctx context.Context, org, productID, versionID string, record *Record, target Status, actor string) (*Record, error) {
	path := docstore.ProgramPath(org, productID, versionID, record.StateCode)
	now := time.Now().UTC()

	partial := map[string]any{
		"status":     string(target),
		"updated_by": actor,
	}
	switch target {
	case StatusFiled:
		if record.FilingDate == nil {
			partial["filing_date"] = now.Format(time.RFC3339)
		}
	case StatusApproved:
		if record.ApprovalDate == nil {
			partial["approval_date"] = now.Format(time.RFC3339)
		}
	case StatusActive:
		if record.ActivationDate == nil {
			partial["activation_date"] = now.Format(time.RFC3339)
		}
	case StatusWithdrawn:
		if record.WithdrawalDate == nil {
			partial["withdrawal_date"] = now.Format(time.RFC3339)
		}
	}

	// Lazily created records have no stored document yet.
	if record.etag == "" {
		record.Status = target
		record.UpdatedBy = actor
		data := record.toData()
		for k, v := range partial {
			data[k] = v
		}
		doc, err := e.store.Create(ctx, path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to create program record: %w", err)
		}
		return recordFromDoc(doc), nil
	}

	doc, err := e.store.UpdateIf(ctx, path, record.etag, partial)
	if docstore.IsConflict(err) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write program transition: %w", err)
	}
	return recordFromDoc(doc), nil
}

// Validate checks the record's three required-artifact lists against the
// artifact store. Empty lists warn; dangling or unapproved references error.
// The result is deterministic for a given record and artifact state.
func (e *Engine) Validate(ctx context.Context, org string, record *Record) (*ValidationResult, error) {
	result := &ValidationResult{
		Errors:   []ValidationIssue{},
		Warnings: []ValidationIssue{},
	}

	lists := []struct {
		category    artifacts.Category
		missingKind string
		ids         []string
	}{
		{artifacts.CategoryForms, "missing_form", record.RequiredForms},
		{artifacts.CategoryRules, "missing_rule", record.RequiredRules},
		{artifacts.CategoryRatePrograms, "missing_rate", record.RequiredRatePrograms},
	}

	for _, list := range lists {
		if len(list.ids) == 0 {
			result.Warnings = append(result.Warnings, ValidationIssue{
				Kind:    "no_" + string(list.category),
				Message: fmt.Sprintf("No %s configured for program %s", list.category.Label(), record.StateCode),
			})
			continue
		}
		for _, id := range list.ids {
			info, err := e.resolver.ResolveArtifact(ctx, org, list.category, id)
			if docstore.IsNotFound(err) {
				result.Errors = append(result.Errors, ValidationIssue{
					Kind:       list.missingKind,
					Message:    fmt.Sprintf("Referenced %s %s does not exist", strings.TrimSuffix(list.category.Label(), "s"), id),
					ArtifactID: id,
				})
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s %s: %w", list.category, id, err)
			}
			if !acceptedArtifactStatuses[info.Status] {
				result.Errors = append(result.Errors, ValidationIssue{
					Kind:       "artifact_not_approved",
					Message:    fmt.Sprintf("%s %q is %s, not approved for use", strings.TrimSuffix(list.category.Label(), "s"), info.Name, info.Status),
					ArtifactID: id,
				})
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	result.CanActivate = result.IsValid
	return result, nil
}

// RefreshValidation re-runs validation and persists the refreshed error list
// on the stored record so readiness reads don't consume stale results.
func (e *Engine) RefreshValidation(ctx context.Context, org, productID, versionID string, record *Record) (*ValidationResult, error) {
	result, err := e.Validate(ctx, org, record)
	if err != nil {
		return nil, err
	}
	if record.etag == "" {
		return result, nil
	}
	_, err = e.store.Update(ctx, docstore.ProgramPath(org, productID, versionID, record.StateCode), map[string]any{
		"validation_errors": issuesToAny(result.Errors),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist validation errors: %w", err)
	}
	return result, nil
}

// Summarize re-validates every approved record and reports how many programs
// are ready to activate versus blocked.
func (e *Engine) Summarize(ctx context.Context, org string, records []*Record) (*Summary, error) {
	summary := &Summary{ByStatus: make(map[Status]int)}
	for _, record := range records {
		summary.Total++
		summary.ByStatus[record.Status]++
		if record.Status == StatusActive {
			summary.ActiveCount++
		}
		if record.Status != StatusApproved {
			continue
		}
		result, err := e.Validate(ctx, org, record)
		if err != nil {
			return nil, err
		}
		if result.CanActivate {
			summary.ReadyToActivate++
		} else {
			summary.BlockedCount++
		}
	}
	return summary, nil
}
