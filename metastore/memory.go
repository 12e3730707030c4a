package metastore

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Memory is an in-process Store, condition evaluation done by walking the
// AST against each meta's IndexedData map. Good enough for tests and small
// deployments; SQLite pushes the same AST down into WHERE clauses instead.
type Memory struct {
	mu    sync.RWMutex
	metas map[string]resource.ResourceMeta
}

// NewMemory returns an empty in-memory meta store.
func NewMemory() *Memory {
	return &Memory{metas: make(map[string]resource.ResourceMeta)}
}

// Get implements Store.
func (m *Memory) Get(resourceID string) (resource.ResourceMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metas[resourceID]
	if !ok {
		return resource.ResourceMeta{}, resource.NewError(resource.KindResourceIDNotFound, "resource %s not found", resourceID)
	}
	return meta, nil
}

// Put implements Store.
func (m *Memory) Put(meta resource.ResourceMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metas[meta.ResourceID] = meta
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metas, resourceID)
	return nil
}

// Exists implements Store.
func (m *Memory) Exists(resourceID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.metas[resourceID]
	return ok, nil
}

// Search implements Store.
func (m *Memory) Search(q query.Query) ([]resource.ResourceMeta, int, error) {
	m.mu.RLock()
	metas := make([]resource.ResourceMeta, 0, len(m.metas))
	for _, meta := range m.metas {
		metas = append(metas, meta)
	}
	m.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool { return metas[i].ResourceID < metas[j].ResourceID })

	var matched []resource.ResourceMeta
	for _, meta := range metas {
		ok, err := matches(meta, q)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			matched = append(matched, meta)
		}
	}

	applySort(matched, q.Sorts)

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

func matches(meta resource.ResourceMeta, q query.Query) (bool, error) {
	if q.IsDeleted != nil && meta.IsDeleted != *q.IsDeleted {
		return false, nil
	}
	if q.CreatedTimeStart != nil && meta.CreatedTime.Before(*q.CreatedTimeStart) {
		return false, nil
	}
	if q.CreatedTimeEnd != nil && !meta.CreatedTime.Before(*q.CreatedTimeEnd) {
		return false, nil
	}
	if q.UpdatedTimeStart != nil && meta.UpdatedTime.Before(*q.UpdatedTimeStart) {
		return false, nil
	}
	if q.UpdatedTimeEnd != nil && !meta.UpdatedTime.Before(*q.UpdatedTimeEnd) {
		return false, nil
	}
	if q.Conditions == nil {
		return true, nil
	}
	return evalNode(meta, q.Conditions)
}

func evalNode(meta resource.ResourceMeta, n query.Node) (bool, error) {
	switch v := n.(type) {
	case *query.Leaf:
		return evalLeaf(meta, v)
	case *query.Group:
		switch v.Logic {
		case query.LogicNot:
			ok, err := evalNode(meta, v.Nodes[0])
			return !ok, err
		case query.LogicOr:
			for _, child := range v.Nodes {
				ok, err := evalNode(meta, child)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		default: // LogicAnd
			for _, child := range v.Nodes {
				ok, err := evalNode(meta, child)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		}
	default:
		return false, resource.NewError(resource.KindQueryParseError, "unknown condition node type")
	}
}

// metaColumnValue returns the meta-column value leaf.FieldPath names when it
// is one of metaColumnFields (present is always true: these columns are
// never absent), mirroring the column-predicate branch compileMetaLeaf takes
// in the SQLite backend -- without it, a leaf like
// Field("created_by").Eq("alice") would silently look in IndexedData, where
// created_by is never written, and never match.
func metaColumnValue(meta resource.ResourceMeta, fieldPath string) (interface{}, bool) {
	switch fieldPath {
	case "resource_id":
		return meta.ResourceID, true
	case "created_time":
		return meta.CreatedTime, true
	case "updated_time":
		return meta.UpdatedTime, true
	case "created_by":
		return meta.CreatedBy, true
	case "updated_by":
		return meta.UpdatedBy, true
	case "is_deleted":
		return meta.IsDeleted, true
	case "schema_version":
		return meta.SchemaVersion, true
	default:
		return nil, false
	}
}

func evalLeaf(meta resource.ResourceMeta, leaf *query.Leaf) (bool, error) {
	var raw interface{}
	var present bool
	if v, ok := metaColumnValue(meta, leaf.FieldPath); ok {
		raw, present = v, true
	} else {
		raw, present = resource.WalkDottedPath(meta.IndexedData, leaf.FieldPath)
	}
	value := applyTransform(raw, leaf.Transform)

	switch leaf.Operator {
	case query.OpIsNull:
		return present && raw == nil, nil
	case query.OpExists:
		return present, nil
	case query.OpIsNA:
		return !present || raw == nil, nil
	}

	if !present {
		return false, nil
	}

	switch leaf.Operator {
	case query.OpEq:
		return compareEqual(value, leaf.Value), nil
	case query.OpNe:
		return !compareEqual(value, leaf.Value), nil
	case query.OpGt:
		c, ok := compareOrdered(value, leaf.Value)
		return ok && c > 0, nil
	case query.OpGte:
		c, ok := compareOrdered(value, leaf.Value)
		return ok && c >= 0, nil
	case query.OpLt:
		c, ok := compareOrdered(value, leaf.Value)
		return ok && c < 0, nil
	case query.OpLte:
		c, ok := compareOrdered(value, leaf.Value)
		return ok && c <= 0, nil
	case query.OpContains:
		s, _ := value.(string)
		sub, _ := leaf.Value.(string)
		return strings.Contains(s, sub), nil
	case query.OpStartsWith:
		s, _ := value.(string)
		sub, _ := leaf.Value.(string)
		return strings.HasPrefix(s, sub), nil
	case query.OpEndsWith:
		s, _ := value.(string)
		sub, _ := leaf.Value.(string)
		return strings.HasSuffix(s, sub), nil
	case query.OpRegex:
		s, _ := value.(string)
		pattern, _ := leaf.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, resource.Wrap(resource.KindQueryParseError, err, "compile regex %q", pattern)
		}
		return re.MatchString(s), nil
	case query.OpInList:
		return inList(value, leaf.Value), nil
	case query.OpNotInList:
		return !inList(value, leaf.Value), nil
	default:
		return false, resource.NewError(resource.KindQueryParseError, "unknown operator %q", leaf.Operator)
	}
}

func applyTransform(v interface{}, t resource.FieldTransform) interface{} {
	if t != resource.TransformLength {
		return v
	}
	switch x := v.(type) {
	case string:
		return int64(len(x))
	case []interface{}:
		return int64(len(x))
	default:
		return v
	}
}

func inList(value interface{}, list interface{}) bool {
	items, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range items {
		if compareEqual(value, item) {
			return true
		}
	}
	return false
}

func compareEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

// compareOrdered compares a against b, returning -1/0/1 and ok=true when
// both sides convert to a common orderable type (numeric or string).
func compareOrdered(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	default:
		return 0, false
	}
}

func applySort(metas []resource.ResourceMeta, sorts []query.Sort) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(metas, func(i, j int) bool {
		for _, s := range sorts {
			c := compareSortKey(metas[i], metas[j], s)
			if c != 0 {
				if s.Direction == query.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
}

func compareSortKey(a, b resource.ResourceMeta, s query.Sort) int {
	if s.Type == query.SortMeta {
		switch s.Key {
		case query.KeyCreatedTime:
			return timeCompare(a.CreatedTime, b.CreatedTime)
		case query.KeyUpdatedTime:
			return timeCompare(a.UpdatedTime, b.UpdatedTime)
		default: // KeyResourceID
			return strings.Compare(a.ResourceID, b.ResourceID)
		}
	}
	av, _ := resource.WalkDottedPath(a.IndexedData, s.FieldPath)
	bv, _ := resource.WalkDottedPath(b.IndexedData, s.FieldPath)
	c, ok := compareOrdered(av, bv)
	if !ok {
		return 0
	}
	return c
}

func timeCompare(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}
