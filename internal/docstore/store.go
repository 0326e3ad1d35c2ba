package docstore

import (
	"context"
	"errors"
	"time"
)

// Store is the document store consumed by the readiness engine. Documents are
// keyed by hierarchical slash-separated paths and grouped into collections
// (the path minus its final segment). Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the document at path, or ErrNotFound.
	Get(ctx context.Context, path string) (*Document, error)

	// List returns all documents in the collection, filtered and ordered
	// per opts. A missing collection yields an empty slice, not an error.
	List(ctx context.Context, collection string, opts ListOptions) ([]*Document, error)

	// Create writes a new document. Fails with ErrExists if the path is taken.
	Create(ctx context.Context, path string, data map[string]any) (*Document, error)

	// Update merges partial into the existing document's data (shallow merge,
	// nil values delete keys) and bumps the etag.
	Update(ctx context.Context, path string, partial map[string]any) (*Document, error)

	// UpdateIf is Update conditioned on the document's current etag; it fails
	// with ErrConflict when the document changed since the etag was read.
	UpdateIf(ctx context.Context, path string, etag string, partial map[string]any) (*Document, error)

	// Delete removes the document. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error

	// Subscribe invokes handler for every change in the collection until the
	// returned cancel function is called or ctx is done. Delivery is
	// best-effort; consumers must tolerate missed or duplicate events.
	Subscribe(ctx context.Context, collection string, handler ChangeHandler) (func(), error)
}

// Document is a stored record plus its bookkeeping fields.
type Document struct {
	Path      string         `json:"path"`
	Data      map[string]any `json:"data"`
	ETag      string         `json:"etag"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ID returns the final path segment.
func (d *Document) ID() string {
	return lastSegment(d.Path)
}

// ChangeHandler receives store change notifications.
type ChangeHandler func(change Change)

// Change describes a single document mutation.
type Change struct {
	Kind string    `json:"kind"` // created, updated, deleted
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// ListOptions filters and orders a List call.
type ListOptions struct {
	// Filters are field-equality constraints on document data.
	Filters map[string]any
	// OrderBy is a data field name; empty means path order.
	OrderBy string
	// Descending reverses the OrderBy sort.
	Descending bool
	// Limit caps the result size; zero means unlimited.
	Limit int
}

var (
	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists indicates a Create collided with an existing document.
	ErrExists = errors.New("docstore: document already exists")
	// ErrConflict indicates a conditional write lost a concurrent update race.
	ErrConflict = errors.New("docstore: etag conflict")
	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("docstore: backend unavailable")
)

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnavailable reports whether err is a backend availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
