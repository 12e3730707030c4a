package manager

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// PatchOp is one RFC 6902 JSON-Patch operation. No third-party JSON-Patch
// library appears anywhere in the example pack (see DESIGN.md), so this is a
// small hand-rolled applier working over the same map[string]interface{}
// representation resource.ProjectPaths uses.
type PatchOp struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	From  string      `json:"from,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// ApplyPatch applies ops to doc in document order, returning the mutated
// document. doc is modified in place as well as returned.
func ApplyPatch(doc map[string]interface{}, ops []PatchOp) (map[string]interface{}, error) {
	var root interface{} = doc
	for _, op := range ops {
		var err error
		root, err = applyOne(root, op)
		if err != nil {
			return nil, resource.Wrap(resource.KindPatchApplyFailed, err, "apply %s %s", op.Op, op.Path)
		}
	}
	asMap, ok := root.(map[string]interface{})
	if !ok {
		return nil, resource.NewError(resource.KindPatchApplyFailed, "patched document is no longer an object")
	}
	return asMap, nil
}

func applyOne(root interface{}, op PatchOp) (interface{}, error) {
	switch op.Op {
	case "add":
		return setAt(root, op.Path, op.Value, true)
	case "replace":
		return setAt(root, op.Path, op.Value, false)
	case "remove":
		return removeAt(root, op.Path)
	case "move":
		v, err := getAt(root, op.From)
		if err != nil {
			return nil, err
		}
		root, err = removeAt(root, op.From)
		if err != nil {
			return nil, err
		}
		return setAt(root, op.Path, v, true)
	case "copy":
		v, err := getAt(root, op.From)
		if err != nil {
			return nil, err
		}
		return setAt(root, op.Path, v, true)
	case "test":
		v, err := getAt(root, op.Path)
		if err != nil {
			return nil, err
		}
		if !jsonEqual(v, op.Value) {
			return nil, fmt.Errorf("test failed at %s", op.Path)
		}
		return root, nil
	default:
		return nil, fmt.Errorf("unsupported op %q", op.Op)
	}
}

func splitPointer(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		p = strings.ReplaceAll(p, "~0", "~")
		parts[i] = p
	}
	return parts
}

func getAt(root interface{}, path string) (interface{}, error) {
	cur := root
	for _, seg := range splitPointer(path) {
		next, err := descend(cur, seg)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func descend(cur interface{}, seg string) (interface{}, error) {
	switch v := cur.(type) {
	case map[string]interface{}:
		child, ok := v[seg]
		if !ok {
			return nil, fmt.Errorf("path segment %q not found", seg)
		}
		return child, nil
	case []interface{}:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, fmt.Errorf("array index %q out of range", seg)
		}
		return v[idx], nil
	default:
		return nil, fmt.Errorf("cannot descend into %T at %q", cur, seg)
	}
}

// setAt sets value at path, creating the final key (add semantics) or
// requiring it to already exist (replace semantics) per allowCreate.
func setAt(root interface{}, path string, value interface{}, allowCreate bool) (interface{}, error) {
	segs := splitPointer(path)
	if len(segs) == 0 {
		return value, nil
	}
	parent, err := getAt(root, "/"+strings.Join(segs[:len(segs)-1], "/"))
	if err != nil {
		return nil, err
	}
	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case map[string]interface{}:
		if !allowCreate {
			if _, ok := p[last]; !ok {
				return nil, fmt.Errorf("path %q not found", path)
			}
		}
		p[last] = value
	case []interface{}:
		if last == "-" {
			return nil, fmt.Errorf("array append via '-' is not supported")
		}
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx > len(p) {
			return nil, fmt.Errorf("array index %q out of range", last)
		}
		if allowCreate && idx == len(p) {
			return nil, fmt.Errorf("array append beyond current length is not supported")
		}
		p[idx] = value
	default:
		return nil, fmt.Errorf("cannot set into %T at %q", parent, path)
	}
	return root, nil
}

func removeAt(root interface{}, path string) (interface{}, error) {
	segs := splitPointer(path)
	if len(segs) == 0 {
		return nil, fmt.Errorf("cannot remove document root")
	}
	parent, err := getAt(root, "/"+strings.Join(segs[:len(segs)-1], "/"))
	if err != nil {
		return nil, err
	}
	last := segs[len(segs)-1]
	switch p := parent.(type) {
	case map[string]interface{}:
		if _, ok := p[last]; !ok {
			return nil, fmt.Errorf("path %q not found", path)
		}
		delete(p, last)
	case []interface{}:
		if _, err := strconv.Atoi(last); err != nil {
			return nil, fmt.Errorf("array index %q out of range", last)
		}
		return nil, fmt.Errorf("array element removal is not supported")
	default:
		return nil, fmt.Errorf("cannot remove from %T at %q", parent, path)
	}
	return root, nil
}

func jsonEqual(a, b interface{}) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}

func jsonMarshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func serializerDecodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func structToMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
