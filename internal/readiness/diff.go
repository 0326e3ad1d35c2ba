package readiness

import (
	"reflect"
	"sort"
)

const maxReportedChanges = 20

// Diff computes the structural difference between a published snapshot's
// data and a draft's data. Nested maps are flattened to dot-separated leaf
// paths; each differing path is classified as added, removed, or changed.
func Diff(published, draft map[string]any) Impact {
	before := flatten("", published)
	after := flatten("", draft)

	impact := Impact{HasPublishedBaseline: true, Changes: []FieldChange{}}

	paths := make(map[string]bool, len(before)+len(after))
	for p := range before {
		paths[p] = true
	}
	for p := range after {
		paths[p] = true
	}

	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	for _, path := range ordered {
		beforeVal, inBefore := before[path]
		afterVal, inAfter := after[path]
		switch {
		case !inBefore:
			impact.FieldsAdded++
			impact.appendChange(path, "added")
		case !inAfter:
			impact.FieldsRemoved++
			impact.appendChange(path, "removed")
		case !reflect.DeepEqual(beforeVal, afterVal):
			impact.FieldsChanged++
			impact.appendChange(path, "changed")
		}
	}

	impact.TotalChanges = impact.FieldsAdded + impact.FieldsRemoved + impact.FieldsChanged
	return impact
}

func (i *Impact) appendChange(path, kind string) {
	if len(i.Changes) >= maxReportedChanges {
		return
	}
	i.Changes = append(i.Changes, FieldChange{Path: path, Kind: kind})
}

// flatten maps nested data to leaf paths. Slices are treated as leaves so a
// reordered list counts as a single changed path, not many.
func flatten(prefix string, data map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range data {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for nestedPath, nestedValue := range flatten(path, nested) {
				out[nestedPath] = nestedValue
			}
			continue
		}
		out[path] = value
	}
	return out
}
