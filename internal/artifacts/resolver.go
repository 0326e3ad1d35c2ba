package artifacts

import (
	"context"
	"fmt"

	"github.com/filingworks/readiness-engine/internal/docstore"
)

// Info is the resolved view of an artifact version reference.
type Info struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Resolver resolves artifact-version references for program validation.
type Resolver interface {
	ResolveArtifact(ctx context.Context, org string, category Category, id string) (*Info, error)
}

// StoreResolver resolves artifact references against the document store.
type StoreResolver struct {
	store docstore.Store
}

// NewStoreResolver creates a store-backed resolver.
func NewStoreResolver(store docstore.Store) *StoreResolver {
	return &StoreResolver{store: store}
}

// ResolveArtifact implements Resolver. It returns docstore.ErrNotFound when
// the reference is dangling.
func (r *StoreResolver) ResolveArtifact(ctx context.Context, org string, category Category, id string) (*Info, error) {
	var collection string
	switch category {
	case CategoryForms:
		collection = docstore.FormsCollection(org)
	case CategoryRules:
		collection = docstore.RulesCollection(org)
	case CategoryRatePrograms, CategoryRateTables:
		collection = docstore.RatesCollection(org)
	default:
		return nil, fmt.Errorf("unknown artifact category %q", category)
	}

	doc, err := r.store.Get(ctx, collection+"/"+id)
	if err != nil {
		return nil, err
	}
	info := &Info{ID: doc.ID()}
	if name, ok := doc.Data["name"].(string); ok {
		info.Name = name
	}
	if status, ok := doc.Data["status"].(string); ok {
		info.Status = status
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	return info, nil
}
