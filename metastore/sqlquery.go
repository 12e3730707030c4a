package metastore

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

// metaColumnFields is the fixed set of ResourceMeta columns a Leaf's
// FieldPath can address directly instead of through indexed_data, computed
// once here rather than per leaf. current_revision_id/total_revision_count
// are deliberately absent: they carry no query semantics of their own.
var metaColumnFields = map[string]bool{
	"resource_id":    true,
	"created_time":   true,
	"updated_time":   true,
	"created_by":     true,
	"updated_by":     true,
	"is_deleted":     true,
	"schema_version": true,
}

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// compileQuery translates q into a parameterized WHERE clause (without the
// "WHERE" keyword) plus its bound args. An empty query yields "1=1" so
// Search/count can always append it uniformly.
func compileQuery(q query.Query) (string, []interface{}, error) {
	var clauses []string
	var args []interface{}

	if q.Conditions != nil {
		clause, nodeArgs, err := compileNode(q.Conditions)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, nodeArgs...)
	}
	if q.IsDeleted != nil {
		clauses = append(clauses, "is_deleted = ?")
		args = append(args, boolToInt(*q.IsDeleted))
	}
	if q.CreatedTimeStart != nil {
		clauses = append(clauses, "created_time >= ?")
		args = append(args, q.CreatedTimeStart.UTC().Format(timeLayout))
	}
	if q.CreatedTimeEnd != nil {
		clauses = append(clauses, "created_time < ?")
		args = append(args, q.CreatedTimeEnd.UTC().Format(timeLayout))
	}
	if q.UpdatedTimeStart != nil {
		clauses = append(clauses, "updated_time >= ?")
		args = append(args, q.UpdatedTimeStart.UTC().Format(timeLayout))
	}
	if q.UpdatedTimeEnd != nil {
		clauses = append(clauses, "updated_time < ?")
		args = append(args, q.UpdatedTimeEnd.UTC().Format(timeLayout))
	}
	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

func compileNode(n query.Node) (string, []interface{}, error) {
	switch v := n.(type) {
	case *query.Leaf:
		return compileLeaf(v)
	case *query.Group:
		return compileGroup(v)
	default:
		return "", nil, resource.NewError(resource.KindQueryParseError, "unknown condition node type")
	}
}

func compileGroup(g *query.Group) (string, []interface{}, error) {
	if g.Logic == query.LogicNot {
		clause, args, err := compileNode(g.Nodes[0])
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("NOT (%s)", clause), args, nil
	}
	sep := " AND "
	if g.Logic == query.LogicOr {
		sep = " OR "
	}
	var parts []string
	var args []interface{}
	for _, child := range g.Nodes {
		clause, childArgs, err := compileNode(child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, clause)
		args = append(args, childArgs...)
	}
	return "(" + strings.Join(parts, sep) + ")", args, nil
}

// jsonPath turns a dotted field path into a SQLite json_extract path
// expression, e.g. "address.city" -> "$.address.city".
func jsonPath(fieldPath string) string {
	return "$." + fieldPath
}

// valueExpr returns the SQL expression reading a leaf's field, applying its
// transform, e.g. json_array_length/length() for TransformLength.
func valueExpr(leaf *query.Leaf) string {
	extract := fmt.Sprintf("json_extract(indexed_data, '%s')", jsonPath(leaf.FieldPath))
	if leaf.Transform != resource.TransformLength {
		return extract
	}
	return fmt.Sprintf(
		"(CASE json_type(indexed_data, '%s') WHEN 'array' THEN json_array_length(indexed_data, '%s') ELSE length(%s) END)",
		jsonPath(leaf.FieldPath), jsonPath(leaf.FieldPath), extract,
	)
}

// compileLeaf routes a leaf against one of metaColumnFields to a plain
// column predicate, and everything else to a json_extract predicate against
// indexed_data -- a leaf's FieldPath is a legitimate way to reach a meta
// column (e.g. Field("created_by").Eq("alice")), not just a shortcut, so
// every operator needs both branches, not just the common ones.
func compileLeaf(leaf *query.Leaf) (string, []interface{}, error) {
	if metaColumnFields[leaf.FieldPath] {
		return compileMetaLeaf(leaf)
	}
	return compileDataLeaf(leaf)
}

// isJSONContainer reports whether v is a slice/array/map, the Go analogue
// of Python's isinstance(value, (list, dict)) check on a leaf's value.
func isJSONContainer(v interface{}) bool {
	if v == nil {
		return false
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

func jsonLiteral(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", resource.Wrap(resource.KindQueryParseError, err, "marshal leaf value to JSON")
	}
	return string(data), nil
}

func compileDataLeaf(leaf *query.Leaf) (string, []interface{}, error) {
	expr := valueExpr(leaf)
	typeExpr := fmt.Sprintf("json_type(indexed_data, '%s')", jsonPath(leaf.FieldPath))
	switch leaf.Operator {
	case query.OpIsNull:
		// strict is_null: the key must be present AND hold a JSON null.
		return fmt.Sprintf("(%s = 'null')", typeExpr), nil, nil
	case query.OpExists:
		// present, whether or not the value itself is JSON null.
		return fmt.Sprintf("(%s IS NOT NULL)", typeExpr), nil, nil
	case query.OpIsNA:
		// isna collapses "missing" and "present but null" into one case,
		// which is exactly what json_extract already returns SQL NULL for.
		return fmt.Sprintf("(%s IS NULL)", expr), nil, nil
	case query.OpEq:
		if isJSONContainer(leaf.Value) {
			lit, err := jsonLiteral(leaf.Value)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("(%s = json(?))", expr), []interface{}{lit}, nil
		}
		return fmt.Sprintf("(%s = ?)", expr), []interface{}{leaf.Value}, nil
	case query.OpNe:
		if isJSONContainer(leaf.Value) {
			lit, err := jsonLiteral(leaf.Value)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("(%s IS NOT json(?))", expr), []interface{}{lit}, nil
		}
		return fmt.Sprintf("(%s IS NOT ?)", expr), []interface{}{leaf.Value}, nil
	case query.OpGt:
		return fmt.Sprintf("(%s > ?)", expr), []interface{}{leaf.Value}, nil
	case query.OpGte:
		return fmt.Sprintf("(%s >= ?)", expr), []interface{}{leaf.Value}, nil
	case query.OpLt:
		return fmt.Sprintf("(%s < ?)", expr), []interface{}{leaf.Value}, nil
	case query.OpLte:
		return fmt.Sprintf("(%s <= ?)", expr), []interface{}{leaf.Value}, nil
	case query.OpContains:
		s, _ := leaf.Value.(string)
		return fmt.Sprintf("(%s LIKE ? ESCAPE '\\')", expr), []interface{}{likeWrap(s)}, nil
	case query.OpStartsWith:
		s, _ := leaf.Value.(string)
		return fmt.Sprintf("(%s LIKE ? ESCAPE '\\')", expr), []interface{}{likeEscape(s) + "%"}, nil
	case query.OpEndsWith:
		s, _ := leaf.Value.(string)
		return fmt.Sprintf("(%s LIKE ? ESCAPE '\\')", expr), []interface{}{"%" + likeEscape(s)}, nil
	case query.OpRegex:
		s, _ := leaf.Value.(string)
		return fmt.Sprintf("(%s REGEXP ?)", expr), []interface{}{s}, nil
	case query.OpInList, query.OpNotInList:
		list, _ := leaf.Value.([]interface{})
		placeholders := make([]string, len(list))
		args := make([]interface{}, len(list))
		for i, item := range list {
			placeholders[i] = "?"
			args[i] = item
		}
		op := "IN"
		if leaf.Operator == query.OpNotInList {
			op = "NOT IN"
		}
		if len(placeholders) == 0 {
			// an empty IN-list matches nothing / NOT IN matches everything
			if leaf.Operator == query.OpInList {
				return "(1=0)", nil, nil
			}
			return "(1=1)", nil, nil
		}
		return fmt.Sprintf("(%s %s (%s))", expr, op, strings.Join(placeholders, ", ")), args, nil
	default:
		return "", nil, resource.NewError(resource.KindQueryParseError, "unsupported operator %q", leaf.Operator)
	}
}

// normalizeMetaValue adapts a leaf value to the Go type the corresponding
// meta column is scanned/bound as: time.Time for the two timestamp columns
// (stored as formatted text, same as compileQuery's shortcut fields) and
// bool for is_deleted (stored as INTEGER 0/1).
func normalizeMetaValue(col string, v interface{}) interface{} {
	switch col {
	case "created_time", "updated_time":
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(timeLayout)
		}
	case "is_deleted":
		if b, ok := v.(bool); ok {
			return boolToInt(b)
		}
	}
	return v
}

// compileMetaLeaf compiles a leaf whose FieldPath names one of
// metaColumnFields directly against that column, instead of against
// json_extract(indexed_data, ...). A meta column is never a JSON
// list/object, so Eq/Ne against one is resolved without a comparison.
func compileMetaLeaf(leaf *query.Leaf) (string, []interface{}, error) {
	col := leaf.FieldPath
	value := normalizeMetaValue(col, leaf.Value)
	switch leaf.Operator {
	case query.OpIsNull, query.OpIsNA:
		return fmt.Sprintf("(%s IS NULL)", col), nil, nil
	case query.OpExists:
		// meta columns are always populated; exists is trivially true.
		return "(1=1)", nil, nil
	case query.OpEq:
		if isJSONContainer(value) {
			return "(1=0)", nil, nil
		}
		return fmt.Sprintf("(%s = ?)", col), []interface{}{value}, nil
	case query.OpNe:
		if isJSONContainer(value) {
			return "(1=1)", nil, nil
		}
		return fmt.Sprintf("(%s IS NOT ?)", col), []interface{}{value}, nil
	case query.OpGt:
		return fmt.Sprintf("(%s > ?)", col), []interface{}{value}, nil
	case query.OpGte:
		return fmt.Sprintf("(%s >= ?)", col), []interface{}{value}, nil
	case query.OpLt:
		return fmt.Sprintf("(%s < ?)", col), []interface{}{value}, nil
	case query.OpLte:
		return fmt.Sprintf("(%s <= ?)", col), []interface{}{value}, nil
	case query.OpContains:
		s, _ := value.(string)
		return fmt.Sprintf("(%s LIKE ? ESCAPE '\\')", col), []interface{}{likeWrap(s)}, nil
	case query.OpStartsWith:
		s, _ := value.(string)
		return fmt.Sprintf("(%s LIKE ? ESCAPE '\\')", col), []interface{}{likeEscape(s) + "%"}, nil
	case query.OpEndsWith:
		s, _ := value.(string)
		return fmt.Sprintf("(%s LIKE ? ESCAPE '\\')", col), []interface{}{"%" + likeEscape(s)}, nil
	case query.OpRegex:
		s, _ := value.(string)
		return fmt.Sprintf("(%s REGEXP ?)", col), []interface{}{s}, nil
	case query.OpInList, query.OpNotInList:
		list, _ := leaf.Value.([]interface{})
		placeholders := make([]string, len(list))
		args := make([]interface{}, len(list))
		for i, item := range list {
			placeholders[i] = "?"
			args[i] = normalizeMetaValue(col, item)
		}
		op := "IN"
		if leaf.Operator == query.OpNotInList {
			op = "NOT IN"
		}
		if len(placeholders) == 0 {
			if leaf.Operator == query.OpInList {
				return "(1=0)", nil, nil
			}
			return "(1=1)", nil, nil
		}
		return fmt.Sprintf("(%s %s (%s))", col, op, strings.Join(placeholders, ", ")), args, nil
	default:
		return "", nil, resource.NewError(resource.KindQueryParseError, "unsupported operator %q", leaf.Operator)
	}
}

func likeEscape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func likeWrap(s string) string {
	return "%" + likeEscape(s) + "%"
}

func compileOrderBy(sorts []query.Sort) string {
	if len(sorts) == 0 {
		return ""
	}
	var terms []string
	for _, s := range sorts {
		dir := "ASC"
		if s.Direction == query.Desc {
			dir = "DESC"
		}
		var col string
		switch {
		case s.Type == query.SortMeta && s.Key == query.KeyCreatedTime:
			col = "created_time"
		case s.Type == query.SortMeta && s.Key == query.KeyUpdatedTime:
			col = "updated_time"
		case s.Type == query.SortMeta && s.Key == query.KeyResourceID:
			col = "resource_id"
		default:
			col = fmt.Sprintf("json_extract(indexed_data, '%s')", jsonPath(s.FieldPath))
		}
		terms = append(terms, col+" "+dir)
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}
