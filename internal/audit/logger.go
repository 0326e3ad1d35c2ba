// Package audit records who did what to the catalog. Entries are written to
// the org's audit collection and mirrored to the structured log.
package audit

import (
	"context"

	"github.com/filingworks/readiness-engine/internal/docstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one audit trail entry.
type Event struct {
	Org        string         `json:"org"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
}

// Logger writes audit events.
type Logger struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewLogger creates an audit logger.
func NewLogger(store docstore.Store, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Record persists an audit event. Recording is best-effort: the mutation it
// describes has already committed, so a failed audit write is logged and
// swallowed rather than failing the caller.
func (l *Logger) Record(ctx context.Context, event Event) {
	id := uuid.NewString()
	data := map[string]any{
		"actor":       event.Actor,
		"action":      event.Action,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	}
	if len(event.Details) > 0 {
		data["details"] = event.Details
	}

	if _, err := l.store.Create(ctx, docstore.AuditPath(event.Org, id), data); err != nil {
		l.logger.Error("Failed to write audit entry",
			zap.String("org", event.Org),
			zap.String("action", event.Action),
			zap.Error(err))
		return
	}

	l.logger.Info("Audit event recorded",
		zap.String("org", event.Org),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID))
}

// List returns the org's audit entries, newest first, up to limit.
func (l *Logger) List(ctx context.Context, org string, limit int) ([]*docstore.Document, error) {
	return l.store.List(ctx, docstore.AuditCollection(org), docstore.ListOptions{
		OrderBy:    "",
		Descending: true,
		Limit:      limit,
	})
}
