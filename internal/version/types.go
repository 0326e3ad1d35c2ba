package version

import (
	"time"

	"github.com/filingworks/readiness-engine/internal/docstore"
)

// Status is a snapshot lifecycle status.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Label returns the display form of the status.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusPublished:
		return "Published"
	case StatusArchived:
		return "Archived"
	}
	return string(s)
}

// Snapshot is a point-in-time copy of a product's data. Snapshots are mutated
// only while draft, become immutable once published, and are superseded
// (archived) rather than deleted.
type Snapshot struct {
	ID             string         `json:"id"`
	VersionNumber  int            `json:"version_number"`
	Status         Status         `json:"status"`
	EffectiveStart *time.Time     `json:"effective_start,omitempty"`
	EffectiveEnd   *time.Time     `json:"effective_end,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Data           map[string]any `json:"data"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedBy      string         `json:"updated_by"`
	UpdatedAt      time.Time      `json:"updated_at"`

	etag string
}

func snapshotFromDoc(doc *docstore.Document) *Snapshot {
	s := &Snapshot{
		ID:        doc.ID(),
		Status:    Status(stringField(doc.Data, "status")),
		Summary:   stringField(doc.Data, "summary"),
		CreatedBy: stringField(doc.Data, "created_by"),
		UpdatedBy: stringField(doc.Data, "updated_by"),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Data:      map[string]any{},
		etag:      doc.ETag,
	}
	s.VersionNumber = intField(doc.Data, "version_number")
	s.EffectiveStart = timeField(doc.Data, "effective_start")
	s.EffectiveEnd = timeField(doc.Data, "effective_end")
	if data, ok := doc.Data["data"].(map[string]any); ok {
		s.Data = data
	}
	return s
}

func (s *Snapshot) toData() map[string]any {
	data := map[string]any{
		"version_number": s.VersionNumber,
		"status":         string(s.Status),
		"summary":        s.Summary,
		"data":           s.Data,
		"created_by":     s.CreatedBy,
		"updated_by":     s.UpdatedBy,
	}
	if s.EffectiveStart != nil {
		data["effective_start"] = s.EffectiveStart.Format(time.RFC3339)
	}
	if s.EffectiveEnd != nil {
		data["effective_end"] = s.EffectiveEnd.Format(time.RFC3339)
	}
	return data
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
