package sqlmap

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ResultSet is a fully materialized query result: column names in result
// order and one value slice per row, as the driver returned them.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// mapPlan describes, for one record and one column signature, which result
// column feeds each record field. Plans are immutable.
type mapPlan struct {
	index []int // record field -> result column
}

// buildPlan matches fields against cols case-insensitively. When a result
// carries the same name twice, the first occurrence wins. Columns no field
// asks for are ignored.
func buildPlan[T any](rec *Record[T], cols []string) (*mapPlan, error) {
	if rec.scalar {
		if len(cols) != 1 {
			return nil, &UnmappableTypeError{Type: rec.typ, Reason: fmt.Sprintf("scalar type needs exactly 1 column, got %d", len(cols))}
		}
		return &mapPlan{index: []int{0}}, nil
	}

	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		key := strings.ToLower(c)
		if _, ok := pos[key]; !ok {
			pos[key] = i
		}
	}

	p := &mapPlan{index: make([]int, len(rec.fields))}
	for i, f := range rec.fields {
		ci, ok := pos[strings.ToLower(f.column)]
		if !ok {
			return nil, &MissingColumnError{Type: rec.typ, Field: f.name, Column: f.column}
		}
		p.index[i] = ci
	}
	return p, nil
}

// mapRow builds one T from a row's values.
func mapRow[T any](rec *Record[T], p *mapPlan, cols []string, values []any) (T, error) {
	var out T
	if len(values) != len(cols) {
		return out, fmt.Errorf("sqlmap: row has %d values for %d columns", len(values), len(cols))
	}
	for i, f := range rec.fields {
		ci := p.index[i]
		v, err := coerce(cols[ci], values[ci], f.typ, f.json)
		if err != nil {
			return out, err
		}
		f.set(&out, v)
	}
	return out, nil
}

func mapRows[T any](rec *Record[T], p *mapPlan, rs *ResultSet) ([]T, error) {
	out := make([]T, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		v, err := mapRow(rec, p, rs.Columns, row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// MapRow maps a single row through rec without touching any cache.
func MapRow[T any](rec *Record[T], columns []string, values []any) (T, error) {
	p, err := buildPlan(rec, columns)
	if err != nil {
		var zero T
		return zero, err
	}
	return mapRow(rec, p, columns, values)
}

// MapRows maps every row of rs through rec, in order, without touching any
// cache. An empty result maps to an empty, non-nil slice.
func MapRows[T any](rec *Record[T], rs *ResultSet) ([]T, error) {
	p, err := buildPlan(rec, rs.Columns)
	if err != nil {
		return nil, err
	}
	return mapRows(rec, p, rs)
}

// planFor returns the cached plan for (rec, cols), or builds and caches it.
func planFor[T any](ex *Executor, rec *Record[T], cols []string) (*mapPlan, error) {
	key := planKey{record: rec, sig: columnsSignature(cols)}
	if p, ok := ex.plans.get(key); ok {
		return p, nil
	}
	p, err := buildPlan(rec, cols)
	if err != nil {
		return nil, err
	}
	ex.plans.put(key, p)
	return p, nil
}

// --------------------------------
// Cache
// --------------------------------

// planKey identifies a mapPlan by record and column signature. Records are
// compared by identity, so registering a new record for a type never hits
// plans built for the old one.
type planKey struct {
	record any
	sig    string
}

// planCache implements a two-tier cache for mapPlan.
// It bounds memory by rotating the hot and previous generations.
type planCache struct {
	mu   sync.RWMutex
	curr map[planKey]*mapPlan
	prev map[planKey]*mapPlan
	max  int
}

// newPlanCache creates a new two-tier plan cache with a max size hint.
func newPlanCache(max int) *planCache {
	if max <= 0 {
		max = cacheSize
	}
	return &planCache{
		curr: make(map[planKey]*mapPlan, max/2),
		prev: make(map[planKey]*mapPlan),
		max:  max,
	}
}

// get returns the cached plan for key if present, promoting it to the
// current generation when found in the previous one.
func (c *planCache) get(k planKey) (*mapPlan, bool) {
	c.mu.RLock()
	if p, ok := c.curr[k]; ok {
		c.mu.RUnlock()
		return p, true
	}
	if p, ok := c.prev[k]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		if len(c.curr) >= c.max {
			c.prev = c.curr
			c.curr = make(map[planKey]*mapPlan, c.max/2)
		}
		c.curr[k] = p
		c.mu.Unlock()
		return p, true
	}
	c.mu.RUnlock()
	return nil, false
}

// put stores the plan for the given key, rotating generations if needed.
func (c *planCache) put(k planKey, p *mapPlan) {
	c.mu.Lock()
	if len(c.curr) >= c.max {
		c.prev = c.curr
		c.curr = make(map[planKey]*mapPlan, c.max/2)
	}
	c.curr[k] = p
	c.mu.Unlock()
}

// columnsSignature returns a stable signature string for an ordered list of column names.
func columnsSignature(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	const sep = "\x1f" // unit separator; unlikely to appear in column names
	var b strings.Builder
	total := 0
	for _, c := range cols {
		total += len(c) + 1
	}
	b.Grow(total)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(c)
	}
	return b.String()
}

// --------------------------------
// Row access for custom mappers
// --------------------------------

// Row is a read-only view of one materialized row, handed to RowMapper
// functions. Columns are looked up case-insensitively.
type Row struct {
	cols   []string
	values []any
	pos    map[string]int
}

// RowMapper builds a T from one row.
type RowMapper[T any] func(r *Row) (T, error)

func newRowIndex(cols []string) map[string]int {
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		key := strings.ToLower(c)
		if _, ok := pos[key]; !ok {
			pos[key] = i
		}
	}
	return pos
}

// Columns returns the column names of the result.
func (r *Row) Columns() []string {
	out := make([]string, len(r.cols))
	copy(out, r.cols)
	return out
}

// Len returns the number of columns.
func (r *Row) Len() int { return len(r.values) }

// At returns the raw driver value of column i.
func (r *Row) At(i int) any { return r.values[i] }

// Index returns the position of the named column.
func (r *Row) Index(name string) (int, bool) {
	i, ok := r.pos[strings.ToLower(name)]
	return i, ok
}

// Value reads the named column of r as a V, with the same coercion rules
// as record mapping.
func Value[V any](r *Row, name string) (V, error) {
	var zero V
	i, ok := r.Index(name)
	if !ok {
		return zero, &MissingColumnError{Type: reflect.TypeFor[V](), Field: name, Column: name}
	}
	v, err := coerce(r.cols[i], r.values[i], reflect.TypeFor[V](), false)
	if err != nil {
		return zero, err
	}
	out, _ := v.Interface().(V)
	return out, nil
}
