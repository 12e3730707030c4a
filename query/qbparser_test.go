package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

func TestParseQBEq(t *testing.T) {
	q, err := ParseQB(`QB["status"].eq('active')`)
	require.NoError(t, err)
	leaf, ok := q.Conditions.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, "status", leaf.FieldPath)
	assert.Equal(t, OpEq, leaf.Operator)
	assert.Equal(t, "active", leaf.Value)
}

func TestParseQBComparisonOperatorOnField(t *testing.T) {
	q, err := ParseQB(`QB["tags"].length() >= 2`)
	require.NoError(t, err)
	leaf, ok := q.Conditions.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, OpGte, leaf.Operator)
	assert.Equal(t, resource.TransformLength, leaf.Transform)
}

func TestParseQBAndOr(t *testing.T) {
	q, err := ParseQB(`QB["a"].eq(1) & QB["b"].eq(2) | QB["c"].eq(3)`)
	require.NoError(t, err)
	// '&' binds tighter than '|': (a&b) | c
	grp, ok := q.Conditions.(*Group)
	require.True(t, ok)
	assert.Equal(t, LogicOr, grp.Logic)
}

func TestParseQBNot(t *testing.T) {
	q, err := ParseQB(`~QB["archived"].is_true()`)
	require.NoError(t, err)
	grp, ok := q.Conditions.(*Group)
	require.True(t, ok)
	assert.Equal(t, LogicNot, grp.Logic)
}

func TestParseQBParens(t *testing.T) {
	q, err := ParseQB(`(QB["a"].eq(1) | QB["b"].eq(2)) & QB["c"].eq(3)`)
	require.NoError(t, err)
	grp, ok := q.Conditions.(*Group)
	require.True(t, ok)
	assert.Equal(t, LogicAnd, grp.Logic)
	inner, ok := grp.Nodes[0].(*Group)
	require.True(t, ok)
	assert.Equal(t, LogicOr, inner.Logic)
}

func TestParseQBBetween(t *testing.T) {
	q, err := ParseQB(`QB["score"].between(1, 10)`)
	require.NoError(t, err)
	grp, ok := q.Conditions.(*Group)
	require.True(t, ok)
	assert.Equal(t, LogicAnd, grp.Logic)
}

func TestParseQBInList(t *testing.T) {
	q, err := ParseQB(`QB["kind"].in_(['a', 'b', 'c'])`)
	require.NoError(t, err)
	leaf, ok := q.Conditions.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, OpInList, leaf.Operator)
	assert.Equal(t, []interface{}{"a", "b", "c"}, leaf.Value)
}

func TestParseQBFilterSortLimitChain(t *testing.T) {
	q, err := ParseQB(`QB.filter(QB["status"].eq('active')).sort(QB["created_time"].desc()).limit(10).offset(5)`)
	require.NoError(t, err)
	_, ok := q.Conditions.(*Leaf)
	require.True(t, ok)
	require.Len(t, q.Sorts, 1)
	assert.Equal(t, Desc, q.Sorts[0].Direction)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 5, q.Offset)
}

func TestParseQBPageAndFirst(t *testing.T) {
	q, err := ParseQB(`QB.page(2, 25)`)
	require.NoError(t, err)
	assert.Equal(t, 25, q.Offset)
	assert.Equal(t, 25, q.Limit)

	q2, err := ParseQB(`QB.first()`)
	require.NoError(t, err)
	assert.Equal(t, 1, q2.Limit)
}

func TestParseQBRejectsUnknownMethod(t *testing.T) {
	_, err := ParseQB(`QB["a"].exec('rm -rf /')`)
	require.Error(t, err)
	assert.Equal(t, resource.KindQueryParseError, resource.KindOf(err))
}

func TestParseQBRejectsNonQBRoot(t *testing.T) {
	_, err := ParseQB(`os.system('echo hi')`)
	require.Error(t, err)
	assert.Equal(t, resource.KindQueryParseError, resource.KindOf(err))
}

func TestParseQBRejectsTrailingGarbage(t *testing.T) {
	_, err := ParseQB(`QB["a"].eq(1) ) )`)
	require.Error(t, err)
}

func TestParseQBLastNDays(t *testing.T) {
	q, err := ParseQB(`QB["created_time"].last_n_days(7)`)
	require.NoError(t, err)
	grp, ok := q.Conditions.(*Group)
	require.True(t, ok)
	assert.Equal(t, LogicAnd, grp.Logic)
}

func TestParseQBIsNullNotNull(t *testing.T) {
	q, err := ParseQB(`QB["deleted_at"].is_null()`)
	require.NoError(t, err)
	leaf := q.Conditions.(*Leaf)
	assert.Equal(t, OpIsNull, leaf.Operator)

	q2, err := ParseQB(`QB["deleted_at"].is_not_null()`)
	require.NoError(t, err)
	grp := q2.Conditions.(*Group)
	assert.Equal(t, LogicNot, grp.Logic)
}
