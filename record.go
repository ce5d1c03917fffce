package sqlmap

import (
	"database/sql"
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	scannerIface         = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	textUnmarshalerIface = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	timeType             = reflect.TypeOf(time.Time{})
)

// Field maps one result column onto a T. Build fields with Col or JSONCol.
type Field[T any] struct {
	column string
	name   string
	typ    reflect.Type
	json   bool
	set    func(dst *T, v reflect.Value)
}

// Col declares that the column named column (matched case-insensitively)
// is coerced to V and handed to set.
func Col[T, V any](column string, set func(*T, V)) Field[T] {
	return Field[T]{
		column: column,
		name:   column,
		typ:    reflect.TypeFor[V](),
		set: func(dst *T, v reflect.Value) {
			val, _ := v.Interface().(V)
			set(dst, val)
		},
	}
}

// JSONCol is like Col but decodes the column's text as JSON into V.
func JSONCol[T, V any](column string, set func(*T, V)) Field[T] {
	f := Col(column, set)
	f.json = true
	return f
}

// Named sets the field name used in error messages. It defaults to the column.
func (f Field[T]) Named(name string) Field[T] {
	f.name = name
	return f
}

// Record is the mapping metadata of a result type T: which columns feed
// which parts of a T, and with what declared types. A Record is immutable
// once built and safe for concurrent use.
type Record[T any] struct {
	typ    reflect.Type
	fields []Field[T]
	scalar bool
}

// NewRecord builds an explicit record from its fields. Records without
// fields, or with empty or duplicate (case-insensitive) columns, are
// rejected with ErrUnmappableType.
func NewRecord[T any](fields ...Field[T]) (*Record[T], error) {
	r := &Record[T]{typ: reflect.TypeFor[T](), fields: fields}
	if len(fields) == 0 {
		return nil, &UnmappableTypeError{Type: r.typ, Reason: "record declares no fields"}
	}
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f.set == nil {
			return nil, &UnmappableTypeError{Type: r.typ, Reason: fmt.Sprintf("field #%d has no setter", i)}
		}
		if f.column == "" {
			return nil, &UnmappableTypeError{Type: r.typ, Reason: fmt.Sprintf("field #%d has no column name", i)}
		}
		key := strings.ToLower(f.column)
		if _, dup := seen[key]; dup {
			return nil, &UnmappableTypeError{Type: r.typ, Reason: fmt.Sprintf("column %q declared twice", f.column)}
		}
		seen[key] = struct{}{}
	}
	return r, nil
}

// MustRecord is like NewRecord but panics on error. It is meant for
// package-level declarations.
func MustRecord[T any](fields ...Field[T]) *Record[T] {
	r, err := NewRecord(fields...)
	if err != nil {
		panic(err)
	}
	return r
}

// Columns returns the expected column names in declaration order. Scalar
// records return nil: they take whatever single column the result has.
func (r *Record[T]) Columns() []string {
	if r.scalar {
		return nil
	}
	out := make([]string, len(r.fields))
	for i, f := range r.fields {
		out[i] = f.column
	}
	return out
}

// Derive builds a record for T from its shape:
//   - non-struct types, and leaf structs (time.Time, sql.Scanner or
//     encoding.TextUnmarshaler implementations), map from a single column;
//     an interface T receives the raw driver value;
//   - structs map their exported fields, honoring `db:"name"` tags,
//     `db:"-"` to skip a field and `db:"name,json"` for JSON columns.
//     Untagged fields use the field name. Nested structs are flattened.
//
// Two fields resolving to the same column make T unmappable.
func Derive[T any]() (*Record[T], error) {
	t := reflect.TypeFor[T]()
	if isLeaf(t) {
		return &Record[T]{
			typ:    t,
			scalar: true,
			fields: []Field[T]{{
				name: t.String(),
				typ:  t,
				set:  func(dst *T, v reflect.Value) { reflect.ValueOf(dst).Elem().Set(v) },
			}},
		}, nil
	}
	if t.Kind() != reflect.Struct {
		return nil, &UnmappableTypeError{Type: t, Reason: "pointer to struct records are not supported, use the struct type"}
	}

	r := &Record[T]{typ: t}
	seen := map[string]string{}
	visited := map[reflect.Type]bool{}

	var walk func(rt reflect.Type, path []int, prefix string) error
	walk = func(rt reflect.Type, path []int, prefix string) error {
		// Follow pointers for current type
		for rt.Kind() == reflect.Pointer {
			rt = rt.Elem()
		}
		if visited[rt] {
			return nil
		}
		visited[rt] = true
		defer delete(visited, rt)

		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "-" {
				continue
			}
			column := f.Name
			asJSON := false
			if tag != "" {
				parts := strings.Split(tag, ",")
				if parts[0] != "" {
					column = parts[0]
				}
				for _, p := range parts[1:] {
					if strings.TrimSpace(p) == "json" {
						asJSON = true
					}
				}
			}

			idx := appendIndex(path, i)
			goName := prefix + f.Name

			// Decide whether to flatten this field
			if !asJSON && shouldFlatten(f.Type) {
				if err := walk(f.Type, idx, goName+"."); err != nil {
					return err
				}
				continue
			}

			key := strings.ToLower(column)
			if prev, dup := seen[key]; dup {
				return &UnmappableTypeError{Type: t, Reason: fmt.Sprintf("fields %s and %s both map to column %q", prev, goName, column)}
			}
			seen[key] = goName

			r.fields = append(r.fields, Field[T]{
				column: column,
				name:   goName,
				typ:    f.Type,
				json:   asJSON,
				set: func(dst *T, v reflect.Value) {
					setFieldByIndex(reflect.ValueOf(dst).Elem(), idx, v)
				},
			})
		}
		return nil
	}

	if err := walk(t, nil, ""); err != nil {
		return nil, err
	}
	if len(r.fields) == 0 {
		return nil, &UnmappableTypeError{Type: t, Reason: "no exported fields to map"}
	}
	return r, nil
}

// Register installs rec as the record used for T by ex, replacing any
// record derived earlier. rec must not be nil.
func Register[T any](ex *Executor, rec *Record[T]) {
	ex.records.m.Store(rec.typ, rec)
	ex.log.Debug().Str("type", rec.typ.String()).Int("fields", len(rec.fields)).Msg("record registered")
}

// recordCache holds the records known to an Executor. Derivation for a type
// seen for the first time by several goroutines runs once; only complete
// records are ever stored.
type recordCache struct {
	m     sync.Map // reflect.Type -> *Record[T]
	group singleflight.Group
}

func newRecordCache() *recordCache {
	return &recordCache{}
}

// recordFor returns the registered or derived record for T.
func recordFor[T any](ex *Executor) (*Record[T], error) {
	t := reflect.TypeFor[T]()
	if v, ok := ex.records.m.Load(t); ok {
		return v.(*Record[T]), nil
	}
	v, err, _ := ex.records.group.Do(fmt.Sprintf("%p", t), func() (any, error) {
		if v, ok := ex.records.m.Load(t); ok {
			return v, nil
		}
		rec, err := Derive[T]()
		if err != nil {
			return nil, err
		}
		actual, _ := ex.records.m.LoadOrStore(t, rec)
		ex.log.Debug().Str("type", typeName(t)).Int("fields", len(rec.fields)).Msg("record derived")
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record[T]), nil
}

// isLeaf reports whether t maps from a single column as a whole.
func isLeaf(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		return t.Elem().Kind() != reflect.Struct || isLeaf(t.Elem())
	}
	if t.Kind() != reflect.Struct {
		return true
	}
	return t == timeType ||
		reflect.PointerTo(t).Implements(scannerIface) ||
		reflect.PointerTo(t).Implements(textUnmarshalerIface)
}

// shouldFlatten decides whether to descend into ft (struct or *struct).
func shouldFlatten(ft reflect.Type) bool {
	tt := ft
	if tt.Kind() == reflect.Pointer {
		tt = tt.Elem()
	}
	if tt.Kind() != reflect.Struct {
		return false
	}
	return !isLeaf(tt)
}

// appendIndex returns a new index path with idx appended.
func appendIndex(path []int, idx int) []int {
	out := make([]int, len(path)+1)
	copy(out, path)
	out[len(path)] = idx
	return out
}

// setFieldByIndex sets value into the field at path on root,
// allocating any intermediate pointer nodes.
func setFieldByIndex(root reflect.Value, path []int, value reflect.Value) {
	v := root
	for i, idx := range path {
		f := v.Field(idx)
		if i == len(path)-1 {
			f.Set(value)
			return
		}
		if f.Kind() == reflect.Pointer {
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			v = f.Elem()
		} else {
			v = f
		}
	}
}
