// Package memory implements driver.Backend with in-process tables. It exists
// so the mapping core can be exercised and tested without a database; it
// keeps SQL-ish semantics where they matter (NULL-exempt unique constraints,
// inner/left joins, collated string ordering) and nothing more.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/relmap/relmap/driver"
	"github.com/relmap/relmap/query"
)

// Store an in-memory backend. Safe for concurrent use; transactions take an
// optimistic snapshot and the last commit wins.
type Store struct {
	mu      sync.RWMutex
	tables  map[string]*table
	fetches int64
}

type table struct {
	rows   []driver.Row
	nextID int64
	unique [][]string
}

var (
	collator = collate.New(language.Und)
	folder   = cases.Fold()
)

func New() *Store {
	return &Store{tables: map[string]*table{}}
}

// EnsureTable provisions a table and its unique constraints
func (s *Store) EnsureTable(name string, unique [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		t.unique = unique
		return nil
	}
	s.tables[name] = &table{unique: unique}
	return nil
}

// FetchCount number of Fetch calls served, including those inside
// transactions. Tests use it to assert round-trip bounds.
func (s *Store) FetchCount() int64 { return atomic.LoadInt64(&s.fetches) }

// ResetFetchCount zeroes the fetch counter
func (s *Store) ResetFetchCount() { atomic.StoreInt64(&s.fetches, 0) }

func (s *Store) Fetch(ctx context.Context, spec *driver.FetchSpec) ([]driver.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddInt64(&s.fetches, 1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fetch(s.tables, spec)
}

func (s *Store) Exec(ctx context.Context, m *driver.Mutation) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return driver.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return exec(s.tables, m)
}

func (s *Store) Begin(ctx context.Context) (driver.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snapshot := cloneTables(s.tables)
	s.mu.RUnlock()
	return &tx{store: s, tables: snapshot}, nil
}

type tx struct {
	store  *Store
	tables map[string]*table
	done   bool
}

func (t *tx) Fetch(ctx context.Context, spec *driver.FetchSpec) ([]driver.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	atomic.AddInt64(&t.store.fetches, 1)
	return fetch(t.tables, spec)
}

func (t *tx) Exec(ctx context.Context, m *driver.Mutation) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return driver.Result{}, err
	}
	return exec(t.tables, m)
}

// Begin returns the transaction itself; nested transactions flatten into the
// outer one
func (t *tx) Begin(ctx context.Context) (driver.Tx, error) { return t, nil }

func (t *tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	t.store.mu.Lock()
	t.store.tables = t.tables
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.tables = nil
	return nil
}

func cloneTables(tables map[string]*table) map[string]*table {
	clone := make(map[string]*table, len(tables))
	for name, t := range tables {
		rows := make([]driver.Row, len(t.rows))
		for i, row := range t.rows {
			copied := make(driver.Row, len(row))
			for k, v := range row {
				copied[k] = v
			}
			rows[i] = copied
		}
		clone[name] = &table{rows: rows, nextID: t.nextID, unique: t.unique}
	}
	return clone
}

func getTable(tables map[string]*table, name string) *table {
	if t, ok := tables[name]; ok {
		return t
	}
	t := &table{}
	tables[name] = t
	return t
}

// fetch runs the whole pipeline: qualify, join, filter, order, distinct,
// paginate, project
func fetch(tables map[string]*table, spec *driver.FetchSpec) ([]driver.Row, error) {
	base := getTable(tables, spec.Table)

	working := make([]driver.Row, 0, len(base.rows))
	for _, row := range base.rows {
		working = append(working, qualify(row, spec.Alias))
	}

	for _, join := range spec.Joins {
		joined := getTable(tables, join.Table)
		next := make([]driver.Row, 0, len(working))
		for _, row := range working {
			left := row[join.OnLeft.String()]
			matched := false
			if left != nil {
				for _, candidate := range joined.rows {
					if equalValues(candidate[join.OnRight], left) {
						next = append(next, merge(row, qualify(candidate, join.Alias)))
						matched = true
					}
				}
			}
			if !matched && join.Kind == driver.LeftJoin {
				next = append(next, row)
			}
		}
		working = next
	}

	if spec.Where != nil {
		filtered := working[:0:0]
		for _, row := range working {
			ok, err := eval(spec.Where, row)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, row)
			}
		}
		working = filtered
	}

	if len(spec.Order) > 0 {
		sort.SliceStable(working, func(i, j int) bool {
			for _, ord := range spec.Order {
				key := ord.Column.String()
				c := compareValues(working[i][key], working[j][key])
				if c == 0 {
					continue
				}
				if ord.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if spec.Distinct {
		seen := map[string]bool{}
		deduped := working[:0:0]
		for _, row := range working {
			key := rowKey(row, spec.Columns)
			if !seen[key] {
				seen[key] = true
				deduped = append(deduped, row)
			}
		}
		working = deduped
	}

	if spec.Offset > 0 {
		if spec.Offset >= len(working) {
			working = nil
		} else {
			working = working[spec.Offset:]
		}
	}
	if spec.Limit >= 0 && spec.Limit < len(working) {
		working = working[:spec.Limit]
	}

	if len(spec.Columns) > 0 {
		projected := make([]driver.Row, len(working))
		for i, row := range working {
			p := make(driver.Row, len(spec.Columns))
			for _, col := range spec.Columns {
				p[col.String()] = row[col.String()]
			}
			projected[i] = p
		}
		working = projected
	}

	// hand out copies so callers cannot mutate stored rows
	out := make([]driver.Row, len(working))
	for i, row := range working {
		copied := make(driver.Row, len(row))
		for k, v := range row {
			copied[k] = v
		}
		out[i] = copied
	}
	return out, nil
}

func exec(tables map[string]*table, m *driver.Mutation) (driver.Result, error) {
	t := getTable(tables, m.Table)
	if m.Unique != nil {
		t.unique = m.Unique
	}

	switch m.Kind {
	case driver.Insert:
		row := make(driver.Row, len(m.Values)+1)
		for k, v := range m.Values {
			row[k] = v
		}
		if id, ok := row["id"].(int64); !ok || id == 0 {
			t.nextID++
			row["id"] = t.nextID
		} else if id > t.nextID {
			t.nextID = id
		}
		if err := checkUnique(t, row, -1); err != nil {
			return driver.Result{}, err
		}
		t.rows = append(t.rows, row)
		return driver.Result{RowsAffected: 1, LastInsertID: row["id"].(int64)}, nil

	case driver.Update:
		var matched []int
		for i, row := range t.rows {
			ok, err := matches(m.Where, row)
			if err != nil {
				return driver.Result{}, err
			}
			if ok {
				matched = append(matched, i)
			}
		}
		updated := make(map[int]driver.Row, len(matched))
		for _, i := range matched {
			row := make(driver.Row, len(t.rows[i]))
			for k, v := range t.rows[i] {
				row[k] = v
			}
			for k, v := range m.Values {
				row[k] = v
			}
			updated[i] = row
		}
		for i, row := range updated {
			if err := checkUniqueAgainst(t, row, i, updated); err != nil {
				return driver.Result{}, err
			}
		}
		for i, row := range updated {
			t.rows[i] = row
		}
		return driver.Result{RowsAffected: int64(len(matched))}, nil

	case driver.Delete:
		kept := t.rows[:0:0]
		var removed int64
		for _, row := range t.rows {
			ok, err := matches(m.Where, row)
			if err != nil {
				return driver.Result{}, err
			}
			if ok {
				removed++
			} else {
				kept = append(kept, row)
			}
		}
		t.rows = kept
		return driver.Result{RowsAffected: removed}, nil
	}

	return driver.Result{}, fmt.Errorf("unknown mutation kind %q", m.Kind)
}

// matches evaluates a single-table predicate; mutations address columns
// under the conventional "t0" alias
func matches(pred driver.Predicate, row driver.Row) (bool, error) {
	if pred == nil {
		return true, nil
	}
	return eval(pred, qualify(row, "t0"))
}

func checkUnique(t *table, row driver.Row, selfIdx int) error {
	return checkUniqueAgainst(t, row, selfIdx, nil)
}

// checkUniqueAgainst validates row against the table with replaced rows
// substituted in; selfIdx marks the slot row itself will occupy
func checkUniqueAgainst(t *table, row driver.Row, selfIdx int, replaced map[int]driver.Row) error {
	for _, set := range t.unique {
		tuple := make([]interface{}, len(set))
		null := false
		for i, col := range set {
			if row[col] == nil {
				null = true
				break
			}
			tuple[i] = row[col]
		}
		if null {
			continue
		}
		for i := range t.rows {
			if i == selfIdx {
				continue
			}
			existing := t.rows[i]
			if r, ok := replaced[i]; ok {
				existing = r
			}
			same := true
			for j, col := range set {
				if !equalValues(existing[col], tuple[j]) {
					same = false
					break
				}
			}
			if same {
				return fmt.Errorf("%w: %s (%s)", driver.ErrUniqueViolation, strings.Join(set, ","), fmt.Sprint(tuple...))
			}
		}
	}
	return nil
}

func qualify(row driver.Row, alias string) driver.Row {
	qualified := make(driver.Row, len(row))
	for k, v := range row {
		qualified[alias+"."+k] = v
	}
	return qualified
}

func merge(a, b driver.Row) driver.Row {
	merged := make(driver.Row, len(a)+len(b))
	for k, v := range a {
		merged[k] = v
	}
	for k, v := range b {
		merged[k] = v
	}
	return merged
}

func rowKey(row driver.Row, columns []driver.ColumnRef) string {
	var keys []string
	if len(columns) > 0 {
		for _, col := range columns {
			keys = append(keys, col.String())
		}
	} else {
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%v\x00", row[k])
	}
	return b.String()
}

func eval(pred driver.Predicate, row driver.Row) (bool, error) {
	switch p := pred.(type) {
	case driver.And:
		for _, sub := range p.Preds {
			ok, err := eval(sub, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case driver.Or:
		for _, sub := range p.Preds {
			ok, err := eval(sub, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case driver.Not:
		ok, err := eval(p.Pred, row)
		return !ok, err
	case driver.Cond:
		return evalCond(p, row)
	}
	return false, fmt.Errorf("unknown predicate %T", pred)
}

func evalCond(cond driver.Cond, row driver.Row) (bool, error) {
	value := row[cond.Column.String()]

	switch cond.Op {
	case query.OpIsNull:
		want, _ := cond.Value.(bool)
		return (value == nil) == want, nil
	}

	if value == nil {
		// SQL comparison semantics: NULL matches nothing but isnull
		return false, nil
	}

	switch cond.Op {
	case query.OpEq:
		return equalValues(value, cond.Value), nil
	case query.OpIExact:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && folder.String(s) == folder.String(v), nil
	case query.OpContains:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && strings.Contains(s, v), nil
	case query.OpIContains:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && strings.Contains(folder.String(s), folder.String(v)), nil
	case query.OpStartsWith:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && strings.HasPrefix(s, v), nil
	case query.OpIStartsWith:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && strings.HasPrefix(folder.String(s), folder.String(v)), nil
	case query.OpEndsWith:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && strings.HasSuffix(s, v), nil
	case query.OpIEndsWith:
		s, ok := value.(string)
		v, _ := cond.Value.(string)
		return ok && strings.HasSuffix(folder.String(s), folder.String(v)), nil
	case query.OpGt:
		return compareValues(value, cond.Value) > 0, nil
	case query.OpGte:
		return compareValues(value, cond.Value) >= 0, nil
	case query.OpLt:
		return compareValues(value, cond.Value) < 0, nil
	case query.OpLte:
		return compareValues(value, cond.Value) <= 0, nil
	case query.OpIn:
		values, _ := cond.Value.([]interface{})
		for _, v := range values {
			if equalValues(value, v) {
				return true, nil
			}
		}
		return false, nil
	case query.OpRange:
		bounds, ok := cond.Value.([2]interface{})
		if !ok {
			return false, fmt.Errorf("range condition on %s needs two bounds", cond.Column)
		}
		return compareValues(value, bounds[0]) >= 0 && compareValues(value, bounds[1]) <= 0, nil
	case query.OpYear:
		t, ok := value.(time.Time)
		want, _ := cond.Value.(int)
		return ok && t.Year() == want, nil
	case query.OpMonth:
		t, ok := value.(time.Time)
		want, _ := cond.Value.(int)
		return ok && int(t.Month()) == want, nil
	case query.OpDay:
		t, ok := value.(time.Time)
		want, _ := cond.Value.(int)
		return ok && t.Day() == want, nil
	}

	return false, fmt.Errorf("unknown operator %q", cond.Op)
}

func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			return an == bn
		}
		return false
	}
	return a == b
}

// compareValues returns -1, 0 or 1; incomparable values compare as equal so
// ordering stays stable
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if an, aok := asFloat(a); aok {
		if bn, bok := asFloat(b); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return collator.CompareString(as, bs)
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			default:
				return 1
			}
		}
	}
	return 0
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
