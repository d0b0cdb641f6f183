// Package mapping maps struct fields tagged `db:"column"` to table columns.
package mapping

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Mapping describes how entities of type T are stored in one table. The key
// column is an integer surrogate key assigned by the engine.
type Mapping[T any] struct {
	table   string
	key     column
	columns []column
}

type column struct {
	name  string
	index []int
}

// New builds a mapping from T's `db` tags. T must be a struct and key must
// name a tagged integer field.
func New[T any](table, key string) (*Mapping[T], error) {
	typ := reflect.TypeFor[T]()
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("mapping: %s is not a struct", typ)
	}

	m := &Mapping[T]{table: table}
	foundKey := false
	for _, f := range reflect.VisibleFields(typ) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("db"), ",")
		if name == "" || name == "-" {
			continue
		}
		col := column{name: name, index: f.Index}
		if name == key {
			switch f.Type.Kind() {
			case reflect.Int, reflect.Int32, reflect.Int64:
			default:
				return nil, fmt.Errorf("mapping: key column %q of %s must be an integer, got %s", key, typ, f.Type)
			}
			m.key = col
			foundKey = true
			continue
		}
		m.columns = append(m.columns, col)
	}
	if !foundKey {
		return nil, fmt.Errorf("mapping: %s has no field tagged db:%q", typ, key)
	}
	return m, nil
}

// MustNew is New for package-level mappings of known types.
func MustNew[T any](table, key string) *Mapping[T] {
	m, err := New[T](table, key)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Mapping[T]) Table() string { return m.table }
func (m *Mapping[T]) Key() string   { return m.key.name }

// Columns returns the non-key columns in field order.
func (m *Mapping[T]) Columns() []string {
	names := make([]string, len(m.columns))
	for i, c := range m.columns {
		names[i] = c.name
	}
	return names
}

// AllColumns returns the key column followed by Columns.
func (m *Mapping[T]) AllColumns() []string {
	return append([]string{m.key.name}, m.Columns()...)
}

// Restrict drops the mapped columns missing from available, as reported by
// the database. The key column must be available.
func (m *Mapping[T]) Restrict(available []string) (*Mapping[T], error) {
	if !slices.Contains(available, m.key.name) {
		return nil, fmt.Errorf("mapping: table %s has no key column %q", m.table, m.key.name)
	}
	out := &Mapping[T]{table: m.table, key: m.key}
	for _, c := range m.columns {
		if slices.Contains(available, c.name) {
			out.columns = append(out.columns, c)
		}
	}
	return out, nil
}

// KeyOf returns the entity's key, zero when it was never persisted.
func (m *Mapping[T]) KeyOf(entity *T) int64 {
	return reflect.ValueOf(entity).Elem().FieldByIndex(m.key.index).Int()
}

// SetKey stores an engine-assigned key on the entity.
func (m *Mapping[T]) SetKey(entity *T, key int64) {
	reflect.ValueOf(entity).Elem().FieldByIndex(m.key.index).SetInt(key)
}

// Values returns the non-key column values of entity.
func (m *Mapping[T]) Values(entity *T) map[string]any {
	v := reflect.ValueOf(entity).Elem()
	values := make(map[string]any, len(m.columns))
	for _, c := range m.columns {
		values[c.name] = v.FieldByIndex(c.index).Interface()
	}
	return values
}

// Pointers returns field addresses for the given columns, in order, ready
// to be passed to a row Scan.
func (m *Mapping[T]) Pointers(entity *T, columns []string) ([]any, error) {
	v := reflect.ValueOf(entity).Elem()
	ptrs := make([]any, len(columns))
	for i, name := range columns {
		c, ok := m.lookup(name)
		if !ok {
			return nil, fmt.Errorf("mapping: %s has no column %q", m.table, name)
		}
		ptrs[i] = v.FieldByIndex(c.index).Addr().Interface()
	}
	return ptrs, nil
}

// Diff lists, in column order, the columns whose value in current differs
// from snapshot.
func (m *Mapping[T]) Diff(snapshot, current map[string]any) []string {
	var changed []string
	for _, c := range m.columns {
		if !reflect.DeepEqual(snapshot[c.name], current[c.name]) {
			changed = append(changed, c.name)
		}
	}
	return changed
}

// Apply writes values, as produced by Values, back onto entity.
func (m *Mapping[T]) Apply(entity *T, values map[string]any) {
	v := reflect.ValueOf(entity).Elem()
	for _, c := range m.columns {
		if val, ok := values[c.name]; ok {
			v.FieldByIndex(c.index).Set(reflect.ValueOf(val))
		}
	}
}

// Copy overwrites the mapped fields of dst, key included, with those of src.
func (m *Mapping[T]) Copy(dst, src *T) {
	m.Apply(dst, m.Values(src))
	m.SetKey(dst, m.KeyOf(src))
}

func (m *Mapping[T]) lookup(name string) (column, bool) {
	if name == m.key.name {
		return m.key, true
	}
	for _, c := range m.columns {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}
