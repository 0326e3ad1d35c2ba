package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and dev mode. Reads return
// deep copies so callers can never mutate stored state through a Document.
type MemoryStore struct {
	mu          sync.RWMutex
	docs        map[string]*Document
	subscribers map[string]map[string]ChangeHandler
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:        make(map[string]*Document),
		subscribers: make(map[string]map[string]ChangeHandler),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, collection string, opts ListOptions) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := collection + "/"
	out := make([]*Document, 0)
	for path, doc := range s.docs {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		// Direct children only; nested sub-collections are separate documents.
		if strings.Contains(path[len(prefix):], "/") {
			continue
		}
		if !matchesFilters(doc.Data, opts.Filters) {
			continue
		}
		out = append(out, copyDocument(doc))
	}

	sortDocuments(out, opts)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, path string, data map[string]any) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if _, ok := s.docs[path]; ok {
		s.mu.Unlock()
		return nil, ErrExists
	}
	now := time.Now().UTC()
	doc := &Document{
		Path:      path,
		Data:      copyData(data),
		ETag:      uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.docs[path] = doc
	result := copyDocument(doc)
	s.mu.Unlock()

	s.notify(Change{Kind: "created", Path: path, At: now})
	return result, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, path string, partial map[string]any) (*Document, error) {
	return s.update(ctx, path, "", partial)
}

// UpdateIf implements Store.
func (s *MemoryStore) UpdateIf(ctx context.Context, path string, etag string, partial map[string]any) (*Document, error) {
	return s.update(ctx, path, etag, partial)
}

func (s *MemoryStore) update(ctx context.Context, path, etag string, partial map[string]any) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	doc, ok := s.docs[path]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if etag != "" && doc.ETag != etag {
		s.mu.Unlock()
		return nil, ErrConflict
	}
	for k, v := range partial {
		if v == nil {
			delete(doc.Data, k)
			continue
		}
		doc.Data[k] = copyValue(v)
	}
	doc.ETag = uuid.NewString()
	doc.UpdatedAt = time.Now().UTC()
	result := copyDocument(doc)
	s.mu.Unlock()

	s.notify(Change{Kind: "updated", Path: path, At: result.UpdatedAt})
	return result, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, ok := s.docs[path]
	delete(s.docs, path)
	s.mu.Unlock()

	if ok {
		s.notify(Change{Kind: "deleted", Path: path, At: time.Now().UTC()})
	}
	return nil
}

// Subscribe implements Store.
func (s *MemoryStore) Subscribe(ctx context.Context, collection string, handler ChangeHandler) (func(), error) {
	id := uuid.NewString()

	s.mu.Lock()
	if s.subscribers[collection] == nil {
		s.subscribers[collection] = make(map[string]ChangeHandler)
	}
	s.subscribers[collection][id] = handler
	s.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers[collection], id)
			s.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return cancel, nil
}

func (s *MemoryStore) notify(change Change) {
	collection := Collection(change.Path)

	s.mu.RLock()
	handlers := make([]ChangeHandler, 0, len(s.subscribers[collection]))
	for _, h := range s.subscribers[collection] {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
}

func matchesFilters(data map[string]any, filters map[string]any) bool {
	for field, want := range filters {
		got, ok := data[field]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func sortDocuments(docs []*Document, opts ListOptions) {
	sort.Slice(docs, func(i, j int) bool {
		var less bool
		if opts.OrderBy == "" {
			less = docs[i].Path < docs[j].Path
		} else {
			less = lessValue(docs[i].Data[opts.OrderBy], docs[j].Data[opts.OrderBy])
		}
		if opts.Descending {
			return !less
		}
		return less
	})
}

func lessValue(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return as < bs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func copyDocument(doc *Document) *Document {
	return &Document{
		Path:      doc.Path,
		Data:      copyData(doc.Data),
		ETag:      doc.ETag,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
