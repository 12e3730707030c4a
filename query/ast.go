// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package query is the condition/sort AST and fluent builder that drives
// every backend's query translation. The AST is a tagged sum type (Leaf /
// Group) built at runtime from dotted field paths, exactly as spec section 9
// asks: "Expose the AST as a sum type... keep the field-path-to-backend-
// column resolution in one place per backend."
package query

import (
	"time"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Operator is a condition leaf's comparison operator.
type Operator string

// the full operator set from the condition AST (spec section 3).
const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
	OpInList     Operator = "in_list"
	OpNotInList  Operator = "not_in_list"
	OpIsNull     Operator = "is_null"
	OpExists     Operator = "exists"
	OpIsNA       Operator = "isna"
)

// LogicOp is a group node's boolean combinator.
type LogicOp string

// the three logic operators.
const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
	LogicNot LogicOp = "not"
)

// Node is implemented by *Leaf and *Group: the two variants of the
// condition AST.
type Node interface {
	isNode()
}

// Leaf is a single (field_path, operator, value) comparison, optionally
// preceded by a field_transform.
type Leaf struct {
	FieldPath string
	Operator  Operator
	Value     interface{}
	Transform resource.FieldTransform
}

func (*Leaf) isNode() {}

// Group combines child nodes with a logic operator. Not takes exactly one
// child.
type Group struct {
	Logic LogicOp
	Nodes []Node
}

func (*Group) isNode() {}

// And builds a Group combining nodes with AND. A single node is returned
// unwrapped.
func And(nodes ...Node) Node {
	nodes = dropNil(nodes)
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &Group{Logic: LogicAnd, Nodes: nodes}
}

// Or builds a Group combining nodes with OR.
func Or(nodes ...Node) Node {
	nodes = dropNil(nodes)
	if len(nodes) == 1 {
		return nodes[0]
	}
	return &Group{Logic: LogicOr, Nodes: nodes}
}

// Not negates a single node.
func Not(node Node) Node {
	return &Group{Logic: LogicNot, Nodes: []Node{node}}
}

func dropNil(nodes []Node) []Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Direction is a sort's ascending/descending direction.
type Direction string

// the two sort directions.
const (
	Asc  Direction = "+"
	Desc Direction = "-"
)

// MetaKey is one of the three sortable meta columns.
type MetaKey string

// the three meta sort keys.
const (
	KeyCreatedTime MetaKey = "created_time"
	KeyUpdatedTime MetaKey = "updated_time"
	KeyResourceID  MetaKey = "resource_id"
)

// SortType distinguishes a meta-key sort from a data-field sort.
type SortType string

// the two sort types.
const (
	SortMeta SortType = "meta"
	SortData SortType = "data"
)

// Sort is one ORDER BY term: either a meta-key sort or a data-field sort.
type Sort struct {
	Type      SortType
	Key       MetaKey
	FieldPath string
	Direction Direction
}

// SortByMeta builds a meta-key Sort.
func SortByMeta(key MetaKey, dir Direction) Sort {
	return Sort{Type: SortMeta, Key: key, Direction: dir}
}

// SortByData builds a data-field Sort.
func SortByData(fieldPath string, dir Direction) Sort {
	return Sort{Type: SortData, FieldPath: fieldPath, Direction: dir}
}

// Query is a filter tree plus sort/pagination, with explicit shortcut
// fields that are additive AND constraints on top of Conditions.
type Query struct {
	Conditions Node
	Sorts      []Sort
	Limit      int
	Offset     int

	// shortcuts
	IsDeleted          *bool
	CreatedTimeStart   *time.Time
	CreatedTimeEnd     *time.Time
	UpdatedTimeStart   *time.Time
	UpdatedTimeEnd     *time.Time
}
