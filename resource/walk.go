package resource

import "strings"

// WalkDottedPath descends obj along the dot-separated path, the way indexed
// fields are declared ("address.city"). Missing intermediate keys yield
// (nil, false) rather than an error -- the projection simply omits the field.
func WalkDottedPath(obj map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = obj
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// WalkPointerPath descends obj along a JSON-Pointer-shaped path ("/foo/bar").
// A leading slash is optional; an empty path returns obj itself.
func WalkPointerPath(obj map[string]interface{}, path string) (interface{}, bool) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return obj, true
	}
	return WalkDottedPath(obj, strings.ReplaceAll(path, "/", "."))
}

// TopLevelKey returns the first path segment of a JSON-Pointer-shaped path,
// used to decide which key a partial projection result should be stored
// under.
func TopLevelKey(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// ProjectPaths builds a projection object containing only the requested
// paths. Paths absent from obj yield no key in the result, matching
// get_partial's contract.
func ProjectPaths(obj map[string]interface{}, paths []string) map[string]interface{} {
	result := make(map[string]interface{})
	for _, p := range paths {
		if v, ok := WalkPointerPath(obj, p); ok {
			setPointerPath(result, p, v)
		}
	}
	return result
}

func setPointerPath(dst map[string]interface{}, path string, value interface{}) {
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")
	cur := dst
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
}

// PatchObject recursively merges patch into object in place, the way the
// teacher's generic JSON PATCH helper does for nested maps: a nested object
// patch merges key by key; any other value (including an object replacing a
// non-object) simply overwrites.
func PatchObject(object map[string]interface{}, patch map[string]interface{}) {
	for k, v := range patch {
		oc, ocok := object[k].(map[string]interface{})
		pc, pcok := v.(map[string]interface{})
		if ocok && pcok {
			PatchObject(oc, pc)
		} else {
			object[k] = v
		}
	}
}
