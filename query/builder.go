package query

import (
	"time"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Field starts a fluent condition on a dotted field path, the Go-side
// equivalent of the qb grammar's QB["field_path"].
func Field(path string) *FieldRef {
	return &FieldRef{path: path, transform: resource.TransformIdentity}
}

// FieldRef is a field path awaiting a transform and/or comparison.
type FieldRef struct {
	path      string
	transform resource.FieldTransform
}

// Length applies the length transform, so the comparison that follows
// compares against the field's string length or array length rather than
// its value.
func (f *FieldRef) Length() *FieldRef {
	return &FieldRef{path: f.path, transform: resource.TransformLength}
}

func (f *FieldRef) leaf(op Operator, value interface{}) Node {
	return &Leaf{FieldPath: f.path, Operator: op, Value: value, Transform: f.transform}
}

// Eq / Ne / Gt / Gte / Lt / Lte build the matching comparison leaf.
func (f *FieldRef) Eq(v interface{}) Node  { return f.leaf(OpEq, v) }
func (f *FieldRef) Ne(v interface{}) Node  { return f.leaf(OpNe, v) }
func (f *FieldRef) Gt(v interface{}) Node  { return f.leaf(OpGt, v) }
func (f *FieldRef) Gte(v interface{}) Node { return f.leaf(OpGte, v) }
func (f *FieldRef) Lt(v interface{}) Node  { return f.leaf(OpLt, v) }
func (f *FieldRef) Lte(v interface{}) Node { return f.leaf(OpLte, v) }

// Contains / StartsWith / EndsWith / Regex build string-comparison leaves.
func (f *FieldRef) Contains(v string) Node   { return f.leaf(OpContains, v) }
func (f *FieldRef) StartsWith(v string) Node { return f.leaf(OpStartsWith, v) }
func (f *FieldRef) EndsWith(v string) Node   { return f.leaf(OpEndsWith, v) }
func (f *FieldRef) Regex(v string) Node      { return f.leaf(OpRegex, v) }

// InList / NotInList build list-membership leaves.
func (f *FieldRef) InList(values ...interface{}) Node    { return f.leaf(OpInList, values) }
func (f *FieldRef) NotInList(values ...interface{}) Node { return f.leaf(OpNotInList, values) }

// IsNull / Exists / IsNA build existence leaves.
func (f *FieldRef) IsNull() Node { return f.leaf(OpIsNull, nil) }
func (f *FieldRef) Exists() Node { return f.leaf(OpExists, nil) }
func (f *FieldRef) IsNA() Node   { return f.leaf(OpIsNA, nil) }

// Between is sugar for Gte(lo) AND Lte(hi) on the same field/transform.
func (f *FieldRef) Between(lo, hi interface{}) Node {
	return And(f.Gte(lo), f.Lte(hi))
}

// IsTrue / IsFalse are sugar for Eq(true) / Eq(false).
func (f *FieldRef) IsTrue() Node  { return f.leaf(OpEq, true) }
func (f *FieldRef) IsFalse() Node { return f.leaf(OpEq, false) }

// Asc / Desc turn the field into a data-field Sort term.
func (f *FieldRef) Asc() Sort  { return SortByData(f.path, Asc) }
func (f *FieldRef) Desc() Sort { return SortByData(f.path, Desc) }

// date-range convenience leaves, expanding to gte/lt pairs against now(),
// mirroring the Python QB helpers of the same name.
func dateRange(f *FieldRef, start, end time.Time) Node {
	return And(f.Gte(start), f.Lt(end))
}

// Today builds a [start-of-today, start-of-tomorrow) range leaf.
func (f *FieldRef) Today(now time.Time) Node {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return dateRange(f, start, start.AddDate(0, 0, 1))
}

// Yesterday builds a [start-of-yesterday, start-of-today) range leaf.
func (f *FieldRef) Yesterday(now time.Time) Node {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
	return dateRange(f, start, start.AddDate(0, 0, 1))
}

// ThisWeek builds a [start-of-week (Monday), start-of-next-week) range leaf.
func (f *FieldRef) ThisWeek(now time.Time) Node {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	offset := (int(today.Weekday()) + 6) % 7 // Monday=0
	start := today.AddDate(0, 0, -offset)
	return dateRange(f, start, start.AddDate(0, 0, 7))
}

// ThisMonth builds a [start-of-month, start-of-next-month) range leaf.
func (f *FieldRef) ThisMonth(now time.Time) Node {
	y, m, _ := now.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return dateRange(f, start, start.AddDate(0, 1, 0))
}

// ThisYear builds a [start-of-year, start-of-next-year) range leaf.
func (f *FieldRef) ThisYear(now time.Time) Node {
	y, _, _ := now.Date()
	start := time.Date(y, 1, 1, 0, 0, 0, 0, now.Location())
	return dateRange(f, start, start.AddDate(1, 0, 0))
}

// LastNDays builds a [now-n-days, now) range leaf.
func (f *FieldRef) LastNDays(now time.Time, n int) Node {
	return dateRange(f, now.AddDate(0, 0, -n), now)
}

// Builder accumulates conditions/sorts/pagination fluently, the Go
// equivalent of the qb grammar's QB.filter(...).sort(...).limit(...) chain.
type Builder struct {
	query Query
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// Filter ANDs node into the accumulated conditions.
func (b *Builder) Filter(node Node) *Builder {
	b.query.Conditions = And(dropNilQuery(b.query.Conditions, node)...)
	return b
}

// Exclude ANDs NOT(node) into the accumulated conditions.
func (b *Builder) Exclude(node Node) *Builder {
	return b.Filter(Not(node))
}

func dropNilQuery(existing Node, next Node) []Node {
	if existing == nil {
		return []Node{next}
	}
	return []Node{existing, next}
}

// Sort appends sort terms, applied in the order given.
func (b *Builder) Sort(sorts ...Sort) *Builder {
	b.query.Sorts = append(b.query.Sorts, sorts...)
	return b
}

// Limit sets the page size.
func (b *Builder) Limit(n int) *Builder {
	b.query.Limit = n
	return b
}

// Offset sets the number of leading results to skip.
func (b *Builder) Offset(n int) *Builder {
	b.query.Offset = n
	return b
}

// Page sets Offset/Limit from a 1-based page number and page size.
func (b *Builder) Page(page, size int) *Builder {
	if page < 1 {
		page = 1
	}
	b.query.Offset = (page - 1) * size
	b.query.Limit = size
	return b
}

// First limits the result to a single row.
func (b *Builder) First() *Builder {
	b.query.Limit = 1
	return b
}

// Build returns the accumulated Query.
func (b *Builder) Build() Query {
	return b.query
}
