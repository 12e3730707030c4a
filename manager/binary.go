// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package manager

import (
	"reflect"

	"github.com/HYChou0515/autocrud-sub001/blobstore"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

var binaryType = reflect.TypeOf(resource.Binary{})

// binaryWalker is a per-type, compiled-once traversal plan locating every
// resource.Binary field reachable from T by descending into nested structs
// and pointers to structs. Compiled at manager construction rather than
// walked by reflection on every write, per spec section 9's "compile a
// per-type walker once" guidance.
type binaryWalker struct {
	paths [][]int
}

// compileBinaryWalker walks t's fields, recording the index path to every
// resource.Binary field. visited guards against infinite descent into a
// self-referential struct type.
func compileBinaryWalker(t reflect.Type) *binaryWalker {
	w := &binaryWalker{}
	collectBinaryPaths(t, nil, map[reflect.Type]bool{}, w)
	return w
}

func collectBinaryPaths(t reflect.Type, prefix []int, visited map[reflect.Type]bool, w *binaryWalker) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	if visited[t] {
		return
	}
	visited[t] = true
	defer delete(visited, t)

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		path := append(append([]int{}, prefix...), i)
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft == binaryType {
			w.paths = append(w.paths, path)
			continue
		}
		if ft.Kind() == reflect.Struct {
			collectBinaryPaths(ft, path, visited, w)
		}
	}
}

// promote replaces the Data of every resource.Binary field reachable from v
// (an addressable struct value) with a blob reference, uploading the bytes
// to store. Fields with no Data (zero-value Binary, or a reference already
// promoted) are left untouched.
func (w *binaryWalker) promote(v reflect.Value, store blobstore.Store) error {
	if store == nil {
		return nil
	}
	for _, path := range w.paths {
		field, ok := fieldAt(v, path)
		if !ok {
			continue
		}
		b := field.Interface().(resource.Binary)
		if len(b.Data) == 0 {
			continue
		}
		fileID, err := store.Put(b.Data, b.ContentType)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(resource.Binary{
			FileID:      fileID,
			Size:        int64(len(b.Data)),
			ContentType: b.ContentType,
		}))
	}
	return nil
}

// fieldAt descends v along path, dereferencing pointers, returning
// ok=false if it meets a nil pointer, a non-struct step, or a final value
// that is not a resource.Binary.
func fieldAt(v reflect.Value, path []int) (reflect.Value, bool) {
	for _, i := range path {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, false
		}
		v = v.Field(i)
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Type() != binaryType {
		return reflect.Value{}, false
	}
	return v, true
}
