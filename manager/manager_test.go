package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYChou0515/autocrud-sub001/permission"
	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/scope"
	"github.com/HYChou0515/autocrud-sub001/storage"
)

type widget struct {
	Name  string   `json:"name" msgpack:"name"`
	Price int      `json:"price" msgpack:"price"`
	Tags  []string `json:"tags" msgpack:"tags"`
}

func newTestManager(t *testing.T) *Manager[widget] {
	t.Helper()
	return New(&Builder[widget]{
		TypeName: "widget",
		Storage:  storage.NewInMemory(),
		IndexableFields: []resource.IndexableField{
			{FieldPath: "name"},
			{FieldPath: "price"},
			{FieldPath: "tags", Transform: resource.TransformLength},
		},
	})
}

func ctxAs(actor string) context.Context {
	return scope.With(context.Background(), actor, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
}

func TestCreateAndGetRoundtrip(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	meta, err := m.Create(ctx, widget{Name: "Widget", Price: 42, Tags: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TotalRevisionCount)
	assert.Equal(t, meta.ResourceID+":1", meta.CurrentRevisionID)
	assert.Equal(t, "Widget", meta.IndexedData["name"])
	assert.Equal(t, float64(2), meta.IndexedData["tags"])

	got, err := m.Get(ctx, meta.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
	assert.Equal(t, 42, got.Price)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestUpdatePreservesHistory(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "Widget", Price: 42, Tags: []string{"a", "b"}})
	require.NoError(t, err)

	updated, err := m.Update(ctx, created.ResourceID, widget{Name: "Widget v2", Price: 50, Tags: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.TotalRevisionCount)
	assert.Equal(t, created.CreatedTime, updated.CreatedTime)
	assert.Equal(t, "Widget v2", updated.IndexedData["name"])

	revisions, err := m.ListRevisions(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Len(t, revisions, 2)
	assert.Equal(t, created.ResourceID+":1", revisions[0])
	assert.Equal(t, created.ResourceID+":2", revisions[1])

	old, err := m.GetRevision(ctx, created.ResourceID, revisions[0])
	require.NoError(t, err)
	assert.Equal(t, "Widget", old.Name)
}

func TestDeleteHidesRestoreReveals(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "Widget", Price: 1})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, created.ResourceID))
	_, err = m.Get(ctx, created.ResourceID)
	require.Error(t, err)
	assert.Equal(t, resource.KindResourceIsDeleted, resource.KindOf(err))

	require.NoError(t, m.Restore(ctx, created.ResourceID))
	got, err := m.Get(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
}

func TestSwitchIdempotence(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "v1"})
	require.NoError(t, err)
	updated, err := m.Update(ctx, created.ResourceID, widget{Name: "v2"})
	require.NoError(t, err)

	sameAgain, err := m.Switch(ctx, created.ResourceID, updated.CurrentRevisionID)
	require.NoError(t, err)
	assert.Equal(t, updated.CurrentRevisionID, sameAgain.CurrentRevisionID)

	switched, err := m.Switch(ctx, created.ResourceID, created.CurrentRevisionID)
	require.NoError(t, err)
	assert.Equal(t, created.CurrentRevisionID, switched.CurrentRevisionID)

	back, err := m.Switch(ctx, created.ResourceID, updated.CurrentRevisionID)
	require.NoError(t, err)
	assert.Equal(t, updated.CurrentRevisionID, back.CurrentRevisionID)

	v, err := m.Get(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "v2", v.Name)
}

func TestPatchEquivalentToUpdate(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "Widget", Price: 10})
	require.NoError(t, err)

	patched, err := m.Patch(ctx, created.ResourceID, []PatchOp{
		{Op: "replace", Path: "/price", Value: float64(20)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(20), patched.IndexedData["price"])

	got, err := m.Get(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Price)
	assert.Equal(t, "Widget", got.Name)
}

func TestSearchResourcesBetweenAndLength(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	w1, err := m.Create(ctx, widget{Name: "Widget", Price: 42, Tags: []string{"a", "b"}})
	require.NoError(t, err)
	updated, err := m.Update(ctx, w1.ResourceID, widget{Name: "Widget v2", Price: 50, Tags: []string{"a", "b", "c"}})
	require.NoError(t, err)
	_, err = m.Create(ctx, widget{Name: "Cheap", Price: 10, Tags: []string{"x"}})
	require.NoError(t, err)

	q := query.New().Filter(query.And(
		query.Field("price").Between(40, 60),
		query.Field("tags").Length().Gte(2),
	)).Build()

	results, total, err := m.SearchResources(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, updated.ResourceID, results[0].ResourceID)
}

func TestBinaryFieldPromotion(t *testing.T) {
	type avatarRecord struct {
		Name   string          `json:"name" msgpack:"name"`
		Avatar resource.Binary `json:"avatar" msgpack:"avatar"`
	}
	m := New(&Builder[avatarRecord]{
		TypeName: "avatar_record",
		Storage:  storage.NewInMemory(),
	})
	ctx := ctxAs("user:alice")

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i)
	}
	created, err := m.Create(ctx, avatarRecord{Name: "profile", Avatar: resource.Binary{Data: data, ContentType: "image/png"}})
	require.NoError(t, err)

	got, err := m.Get(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Empty(t, got.Avatar.Data)
	assert.Equal(t, int64(1024), got.Avatar.Size)
	require.NotEmpty(t, got.Avatar.FileID)

	raw, contentType, err := m.GetBlob(ctx, created.ResourceID, got.Avatar.FileID)
	require.NoError(t, err)
	assert.Equal(t, data, raw)
	assert.Equal(t, "image/png", contentType)
}

func TestMigrateRewritesSchemaVersion(t *testing.T) {
	st := storage.NewInMemory()
	ctx := ctxAs("user:alice")

	// Write the record while the configured target is still "1".
	old := New(&Builder[widget]{
		TypeName:  "widget",
		Storage:   st,
		Migration: &Migration[widget]{TargetVersion: "1"},
	})
	created, err := old.Create(ctx, widget{Name: "Widget", Price: 1})
	require.NoError(t, err)
	assert.Equal(t, "1", created.SchemaVersion)

	m := New(&Builder[widget]{
		TypeName: "widget",
		Storage:  st,
		Migration: &Migration[widget]{
			TargetVersion: "2",
			Migrate: func(oldData []byte, oldVersion string) (widget, error) {
				return widget{Name: "migrated", Price: 99}, nil
			},
		},
	})

	revisionsBefore, err := m.ListRevisions(ctx, created.ResourceID)
	require.NoError(t, err)

	migrated, err := m.Migrate(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "2", migrated.SchemaVersion)
	assert.Equal(t, created.TotalRevisionCount, migrated.TotalRevisionCount)
	assert.Equal(t, created.CurrentRevisionID, migrated.CurrentRevisionID)

	revisionsAfter, err := m.ListRevisions(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, revisionsBefore, revisionsAfter)

	got, err := m.Get(ctx, created.ResourceID)
	require.NoError(t, err)
	assert.Equal(t, "migrated", got.Name)
}

func TestMigrateNotConfigured(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")
	created, err := m.Create(ctx, widget{Name: "Widget"})
	require.NoError(t, err)

	_, err = m.Migrate(ctx, created.ResourceID)
	require.Error(t, err)
	assert.Equal(t, resource.KindMigrationNotConfigured, resource.KindOf(err))
}

type staticACL struct {
	perms       []permission.ACLPermission
	memberships []permission.RoleMembership
}

func (s *staticACL) PermissionsForResource(resourceID, typeName string) ([]permission.ACLPermission, error) {
	return s.perms, nil
}

func (s *staticACL) RoleMemberships() ([]permission.RoleMembership, error) {
	return s.memberships, nil
}

func TestPermissionDenySharedAcrossACL(t *testing.T) {
	acl := &staticACL{
		perms: []permission.ACLPermission{
			{ResourceID: "*", Subject: "user:alice", Action: permission.ActionWrite, Effect: permission.EffectAllow},
			{ResourceID: "*", Subject: "user:alice", Action: permission.ActionRead, Effect: permission.EffectAllow},
			{ResourceID: "*", Subject: "group:readers", Action: permission.ActionRead, Effect: permission.EffectAllow},
		},
	}
	engine := permission.New(acl, permission.DenyOverrides, permission.DefaultDeny)

	m := New(&Builder[widget]{
		TypeName:   "widget",
		Storage:    storage.NewInMemory(),
		Permission: engine,
	})

	created, err := m.Create(ctxAs("user:alice"), widget{Name: "Widget"})
	require.NoError(t, err)

	_, err = m.Get(ctxAs("user:alice"), created.ResourceID)
	require.NoError(t, err)

	_, err = m.Get(ctxAs("user:bob"), created.ResourceID)
	require.Error(t, err)
	assert.Equal(t, resource.KindPermissionDenied, resource.KindOf(err))

	acl.memberships = append(acl.memberships, permission.RoleMembership{Role: "group:readers", Member: "user:bob"})
	_, err = m.Get(ctxAs("user:bob"), created.ResourceID)
	require.NoError(t, err)
}

func TestPermissionGrantByResourceTypeCoversEveryInstance(t *testing.T) {
	acl := permission.NewStaticProvider()
	acl.Grant(permission.ACLPermission{ResourceID: "widget", Subject: "user:alice", Action: permission.ActionRead, Effect: permission.EffectAllow})
	acl.Grant(permission.ACLPermission{ResourceID: "*", Subject: "user:alice", Action: permission.ActionWrite, Effect: permission.EffectAllow})
	engine := permission.New(acl, permission.DenyOverrides, permission.DefaultDeny)

	m := New(&Builder[widget]{
		TypeName:   "widget",
		Storage:    storage.NewInMemory(),
		Permission: engine,
	})

	created, err := m.Create(ctxAs("user:alice"), widget{Name: "Widget"})
	require.NoError(t, err)

	_, err = m.Get(ctxAs("user:alice"), created.ResourceID)
	require.NoError(t, err, "a grant on the type name %q must authorize reads of any %s instance", "widget", "widget")

	err = m.Delete(ctxAs("user:alice"), created.ResourceID)
	require.Error(t, err, "the type-name grant only covers read, so delete must still be denied")
	assert.Equal(t, resource.KindPermissionDenied, resource.KindOf(err))
}

func TestBatchDeleteAndRestore(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	var ids []string
	for i := 0; i < 3; i++ {
		meta, err := m.Create(ctx, widget{Name: "Widget", Price: i})
		require.NoError(t, err)
		ids = append(ids, meta.ResourceID)
	}

	n, err := m.BatchDelete(ctx, query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range ids {
		_, err := m.Get(ctx, id)
		require.Error(t, err)
	}

	n, err = m.BatchRestore(ctx, query.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range ids {
		_, err := m.Get(ctx, id)
		require.NoError(t, err)
	}
}

func TestGetPartialOmitsMissingPaths(t *testing.T) {
	m := newTestManager(t)
	ctx := ctxAs("user:alice")

	created, err := m.Create(ctx, widget{Name: "Widget", Price: 42})
	require.NoError(t, err)

	partial, err := m.GetPartial(ctx, created.ResourceID, "", []string{"name", "nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "Widget", partial["name"])
	_, ok := partial["nonexistent"]
	assert.False(t, ok)
}
