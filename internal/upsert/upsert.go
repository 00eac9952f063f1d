// Package upsert folds an UPDATE assignment list against a stored
// document into the absolute post-update row an INSERT would have
// produced (§4.J), so a conflict-update branch and an insert branch of
// the same bulk statement stay column-aligned.
package upsert

import (
	"fmt"

	"github.com/cuemby/warrensql/internal/errkind"
)

// Column describes one table column for output-ordering purposes.
type Column struct {
	Name string

	// NonDeterministic marks a generated column whose expression, or
	// whose DEFAULT, is not deterministic (e.g. now(), random()) — its
	// value is always recomputed downstream rather than copied from
	// the existing document.
	NonDeterministic bool
}

// Schema is the subset of a table's definition this package needs.
type Schema struct {
	// InsertColumns is the explicit column list from the INSERT side
	// of the same statement, in source order.
	InsertColumns []string
	// AllColumns is every table column, in declaration order.
	AllColumns []Column
}

// OutputColumns computes the stable column order of §4.J: explicit
// INSERT columns, then non-deterministic synthetic columns not already
// listed, then all remaining columns.
func (s Schema) OutputColumns() []string {
	inInsert := make(map[string]bool, len(s.InsertColumns))
	for _, c := range s.InsertColumns {
		inInsert[c] = true
	}

	out := append([]string(nil), s.InsertColumns...)
	placed := make(map[string]bool, len(out))
	for _, c := range out {
		placed[c] = true
	}

	for _, c := range s.AllColumns {
		if inInsert[c.Name] || !c.NonDeterministic {
			continue
		}
		out = append(out, c.Name)
		placed[c.Name] = true
	}

	for _, c := range s.AllColumns {
		if placed[c.Name] {
			continue
		}
		out = append(out, c.Name)
		placed[c.Name] = true
	}

	return out
}

func (s Schema) column(name string) (Column, bool) {
	for _, c := range s.AllColumns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ExcludedRef is an assignment value that refers to "excluded.<col>" —
// the candidate insert row's value for that column, resolved against
// the excludedValues map passed to Resolve.
type ExcludedRef struct {
	Column string
}

// Assignment is one entry of the UPDATE SET list. A direct top-level
// assignment ("x = 1") has an empty Path; a nested assignment
// ("o['y'] = 42") names the root object column and the path under it.
type Assignment struct {
	Column string
	Path   []string
	Value  any
}

func (a Assignment) nested() bool { return len(a.Path) > 0 }

// ExistingDoc reads a column's current value out of the stored
// document being updated.
type ExistingDoc interface {
	Get(column string) (value any, ok bool)
}

// Resolve produces the absolute post-update value vector, in
// schema.OutputColumns() order, per §4.J's per-column rules.
func Resolve(schema Schema, assignments []Assignment, excluded map[string]any, existing ExistingDoc) ([]any, error) {
	topLevel := make(map[string]Assignment)
	nestedByRoot := make(map[string][]Assignment)
	for _, a := range assignments {
		if a.nested() {
			nestedByRoot[a.Column] = append(nestedByRoot[a.Column], a)
			continue
		}
		topLevel[a.Column] = a
	}

	columns := schema.OutputColumns()
	values := make([]any, len(columns))

	for i, name := range columns {
		col, _ := schema.column(name)

		switch {
		case hasTopLevelAssignment(topLevel, name):
			v, err := resolveValue(topLevel[name].Value, excluded)
			if err != nil {
				return nil, err
			}
			values[i] = v

		case col.NonDeterministic:
			values[i] = nil // recomputed downstream

		default:
			v, ok := existing.Get(name)
			if !ok {
				return nil, errkind.IllegalStatef("column %q missing from existing document", name)
			}
			values[i] = v
		}
	}

	for root, nested := range nestedByRoot {
		idx := indexOf(columns, root)
		if idx < 0 {
			return nil, errkind.IllegalStatef("nested assignment targets unknown column %q", root)
		}
		merged, err := mergeNested(values[idx], nested, excluded)
		if err != nil {
			return nil, err
		}
		values[idx] = merged
	}

	return values, nil
}

func hasTopLevelAssignment(m map[string]Assignment, name string) bool {
	_, ok := m[name]
	return ok
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}

// resolveValue resolves an ExcludedRef against excludedValues; any
// other value passes through already evaluated.
func resolveValue(v any, excludedValues map[string]any) (any, error) {
	ref, ok := v.(ExcludedRef)
	if !ok {
		return v, nil
	}
	val, ok := excludedValues[ref.Column]
	if !ok {
		return nil, errkind.IllegalStatef("excluded.%s has no candidate insert value", ref.Column)
	}
	return val, nil
}

// mergeNested deep-merges every nested assignment's path/value into
// root, which must already be a map (§4.J "fail if the root is
// missing").
func mergeNested(root any, assignments []Assignment, excludedValues map[string]any) (any, error) {
	if root == nil {
		return nil, errkind.IllegalStatef("nested assignment target is missing")
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, errkind.IllegalStatef("nested assignment target is not an object")
	}

	for _, a := range assignments {
		v, err := resolveValue(a.Value, excludedValues)
		if err != nil {
			return nil, err
		}
		if err := deepMergePath(obj, a.Path, v); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// deepMergePath sets obj[path[0]][path[1]]...[path[n]] = value,
// creating intermediate maps as needed but failing if an intermediate
// node exists and isn't a map.
func deepMergePath(obj map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("empty assignment path")
	}
	cur := obj
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key]
		if !ok || next == nil {
			nextMap := make(map[string]any)
			cur[key] = nextMap
			cur = nextMap
			continue
		}
		nextMap, ok := next.(map[string]any)
		if !ok {
			return errkind.IllegalStatef("path element %q is not an object", key)
		}
		cur = nextMap
	}
	cur[path[len(path)-1]] = value
	return nil
}
