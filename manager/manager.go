// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package manager implements the ResourceManager: the revision lifecycle,
// indexed-field projection, partial read/write, migration, and permission
// dispatch that sits on top of storage.Storage. It is the policy layer the
// rest of this module exists to serve, the same role backend.Backend plays
// for the teacher's config-driven REST generator, generalized from static
// Postgres-table CRUD to a generic, revisioned, queryable record store.
package manager

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/HYChou0515/autocrud-sub001/permission"
	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/scope"
	"github.com/HYChou0515/autocrud-sub001/serializer"
	"github.com/HYChou0515/autocrud-sub001/storage"
)

// IDGenerator mints a new resource_id for typeName. The default generator
// mints "<typeName>:<uuid>" per spec section 3.
type IDGenerator func(typeName string) string

// Validator rejects a payload before it is ever written.
type Validator[T any] func(data T) error

// Manager is the generic ResourceManager for record type T.
type Manager[T any] struct {
	typeName   string
	storage    storage.Storage
	ser        serializer.Serializer[T]
	idGen      IDGenerator
	validator  Validator[T]
	indexable  []resource.IndexableField
	binaryWalk *binaryWalker
	perm       *permission.Engine
	migration  *Migration[T]
}

// New constructs a Manager from a Builder. Panics on a missing mandatory
// field, matching backend.New's contract: a misconfigured manager should
// fail at construction, not on the first request.
func New[T any](b *Builder[T]) *Manager[T] {
	if b.TypeName == "" {
		panic("manager: Builder.TypeName is mandatory")
	}
	if b.Storage.Meta == nil || b.Storage.Revision == nil {
		panic("manager: Builder.Storage.Meta and Builder.Storage.Revision are mandatory")
	}
	idGen := b.IDGenerator
	if idGen == nil {
		idGen = defaultIDGenerator
	}
	format := b.Format
	if format == "" {
		format = serializer.FormatMsgpack
	}

	var zero T
	m := &Manager[T]{
		typeName:   b.TypeName,
		storage:    b.Storage,
		ser:        serializer.New[T](format, serializer.Strict),
		idGen:      idGen,
		validator:  b.Validator,
		indexable:  b.IndexableFields,
		binaryWalk: compileBinaryWalker(reflect.TypeOf(zero)),
		perm:       b.Permission,
		migration:  b.Migration,
	}
	return m
}

func defaultIDGenerator(typeName string) string {
	id, err := newUUID()
	if err != nil {
		panic(fmt.Sprintf("manager: generate resource id: %v", err))
	}
	return typeName + ":" + id
}

// guard checks permission, then returns the caller's scope, failing closed
// (PermissionDenied) when no engine is configured would be surprising, so
// an absent engine allows everything -- callers that need enforcement wire
// a permission.Engine via Builder.Permission.
func (m *Manager[T]) guard(ctxScope scope.Scope, resourceID string, action permission.Action) error {
	if m.perm == nil {
		return nil
	}
	return m.perm.RequireAuthorized(ctxScope.Actor, resourceID, m.typeName, action)
}

func (m *Manager[T]) loadMeta(resourceID string, allowDeleted bool) (resource.ResourceMeta, error) {
	meta, err := m.storage.Meta.Get(resourceID)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if meta.IsDeleted && !allowDeleted {
		return resource.ResourceMeta{}, resource.NewError(resource.KindResourceIsDeleted, "resource %s is deleted", resourceID)
	}
	return meta, nil
}

func (m *Manager[T]) decodeRevision(resourceID, revisionID string) (T, resource.RevisionInfo, error) {
	var zero T
	info, err := m.storage.Revision.GetInfo(resourceID, revisionID)
	if err != nil {
		return zero, resource.RevisionInfo{}, err
	}
	r, err := m.storage.Revision.GetDataBytes(resourceID, revisionID)
	if err != nil {
		return zero, resource.RevisionInfo{}, err
	}
	defer r.Close()
	data, err := readAll(r)
	if err != nil {
		return zero, resource.RevisionInfo{}, err
	}
	v, err := m.ser.Decode(data)
	if err != nil {
		return zero, resource.RevisionInfo{}, err
	}
	return v, info, nil
}

// indexedDataFor projects the declared IndexableFields out of encoded,
// walking the decoded map representation -- independent of T's static
// shape, matching MetaStore's own field-path-keyed indexed_data contract.
func (m *Manager[T]) indexedDataFor(encoded []byte) (map[string]interface{}, error) {
	asMap, err := m.ser.DecodeToMap(encoded)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(m.indexable))
	for _, f := range m.indexable {
		v, ok := resource.WalkDottedPath(asMap, f.FieldPath)
		if !ok {
			continue
		}
		if f.Transform == resource.TransformLength {
			v = lengthOf(v)
		}
		// A scalar number is held as float64 whatever the wire format, the
		// type a JSON decode (and so the SQLite store) yields.
		switch rv := reflect.ValueOf(v); rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			v = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			v = float64(rv.Uint())
		case reflect.Float32:
			v = rv.Float()
		}
		out[f.FieldPath] = v
	}
	return out, nil
}

func lengthOf(v interface{}) interface{} {
	switch x := v.(type) {
	case string:
		return float64(len(x))
	case []interface{}:
		return float64(len(x))
	default:
		return v
	}
}

// promoteAndEncode runs the binary-field walker over a copy of data,
// uploading any populated resource.Binary fields to the blob store, then
// encodes the (now reference-only) payload.
func (m *Manager[T]) promoteAndEncode(data T) ([]byte, error) {
	cp := reflect.New(reflect.TypeOf(data))
	cp.Elem().Set(reflect.ValueOf(data))
	if err := m.binaryWalk.promote(cp.Elem(), m.storage.Blob); err != nil {
		return nil, err
	}
	return m.ser.Encode(cp.Elem().Interface().(T))
}

func nextRevisionID(resourceID string, n int) string {
	return fmt.Sprintf("%s:%d", resourceID, n)
}

// sortIndexableFields returns a copy of fields in a deterministic order.
// Nothing in this package calls it; New keeps the declared order.
func sortIndexableFields(fields []resource.IndexableField) []resource.IndexableField {
	out := append([]resource.IndexableField{}, fields...)
	sort.Slice(out, func(i, j int) bool { return out[i].FieldPath < out[j].FieldPath })
	return out
}
