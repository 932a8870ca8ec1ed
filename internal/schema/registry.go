// Package schema keeps the observation table's column set a superset of the
// fields seen in the feed.
//
// The Registry records the known columns and their kinds. It changes only
// through Manager.Ensure, which adds each missing column in its own
// transaction and writes an audit row for it.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

// ErrUnclassifiable is returned for values outside the fixed type mapping
var ErrUnclassifiable = errors.New("unclassifiable value")

// FieldError is a per-field failure inside a SchemaError
type FieldError struct {
	Field string
	Err   error
}

// SchemaError reports fields that could not be added to the table. Columns
// added before the failure stay in place.
type SchemaError struct {
	Table  string
	Fields []FieldError
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Field, f.Err))
	}
	return fmt.Sprintf("schema of %s not migrated: %s", e.Table, strings.Join(parts, "; "))
}

func (e *SchemaError) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields))
	for _, f := range e.Fields {
		errs = append(errs, f.Err)
	}
	return errs
}

// Registry is the set of columns known to exist in the observation table
type Registry struct {
	mu   sync.RWMutex
	cols map[string]types.ColumnKind
}

// NewRegistry creates a registry seeded with the given columns
func NewRegistry(cols ...types.Column) *Registry {
	r := &Registry{cols: make(map[string]types.ColumnKind, len(cols))}
	for _, c := range cols {
		r.cols[c.Name] = c.Kind
	}
	return r
}

// Has reports whether the column exists
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cols[name]
	return ok
}

// Kind returns the kind of a known column
func (r *Registry) Kind(name string) (types.ColumnKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.cols[name]
	return k, ok
}

// Len returns the number of known columns
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cols)
}

// Columns returns the known columns sorted by name
func (r *Registry) Columns() []types.Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Column, 0, len(r.cols))
	for name, kind := range r.cols {
		out = append(out, types.Column{Name: name, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// add records a column. Existing columns keep their kind.
func (r *Registry) add(col types.Column) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cols[col.Name]; !ok {
		r.cols[col.Name] = col.Kind
	}
}

func (r *Registry) replace(cols []types.Column) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cols = make(map[string]types.ColumnKind, len(cols))
	for _, c := range cols {
		r.cols[c.Name] = c.Kind
	}
}

// Classify maps a runtime value to a column kind. nil has no kind.
func Classify(v any) (types.ColumnKind, bool, error) {
	switch v.(type) {
	case nil:
		return 0, false, nil
	case string:
		return types.KindText, true, nil
	case types.Opaque, map[string]any, []any:
		return types.KindOpaqueText, true, nil
	case int64, int, int32:
		return types.KindInteger, true, nil
	case float64, float32:
		return types.KindFloat, true, nil
	case []string:
		return types.KindTextArray, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %T", ErrUnclassifiable, v)
	}
}

// unify combines the kinds seen for one field across a batch
func unify(a, b types.ColumnKind) (types.ColumnKind, error) {
	switch {
	case a == 0:
		return b, nil
	case a == b:
		return a, nil
	case a == types.KindTextArray || b == types.KindTextArray:
		return 0, fmt.Errorf("%w: %s mixed with %s", ErrUnclassifiable, a, b)
	case isNumeric(a) && isNumeric(b):
		return types.KindFloat, nil
	default:
		return types.KindText, nil
	}
}

func isNumeric(k types.ColumnKind) bool {
	return k == types.KindInteger || k == types.KindFloat
}

// Plan returns the columns a batch needs beyond the known set, sorted by name.
// Fields that cannot be classified are reported in a *SchemaError and left out
// of the plan; the rest of the plan is still usable.
func Plan(known *Registry, batch []types.Observation) ([]types.Column, error) {
	kinds := make(map[string]types.ColumnKind)
	failed := make(map[string]error)
	for _, obs := range batch {
		for field, v := range obs {
			if known.Has(field) {
				continue
			}
			if _, ok := failed[field]; ok {
				continue
			}
			kind, ok, err := Classify(v)
			if err != nil {
				failed[field] = err
				continue
			}
			prev, seen := kinds[field]
			if !ok {
				if !seen {
					kinds[field] = 0
				}
				continue
			}
			if kinds[field], err = unify(prev, kind); err != nil {
				failed[field] = err
			}
		}
	}

	plan := make([]types.Column, 0, len(kinds))
	for field, kind := range kinds {
		if _, ok := failed[field]; ok {
			continue
		}
		if kind == 0 {
			kind = types.KindText
		}
		plan = append(plan, types.Column{Name: field, Kind: kind})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Name < plan[j].Name })

	if len(failed) == 0 {
		return plan, nil
	}
	return plan, newSchemaError("", failed)
}

func newSchemaError(table string, failed map[string]error) *SchemaError {
	e := &SchemaError{Table: table}
	for field, err := range failed {
		e.Fields = append(e.Fields, FieldError{Field: field, Err: err})
	}
	sort.Slice(e.Fields, func(i, j int) bool { return e.Fields[i].Field < e.Fields[j].Field })
	return e
}
