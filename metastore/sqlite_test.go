package metastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:", "resources")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLitePutGetRoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC().Truncate(time.Second)
	meta := resource.ResourceMeta{
		ResourceID:         "r1",
		CurrentRevisionID:  "r1:1",
		TotalRevisionCount: 1,
		CreatedTime:        now,
		CreatedBy:          "alice",
		UpdatedTime:        now,
		UpdatedBy:          "alice",
		IndexedData:        map[string]interface{}{"status": "active"},
	}
	require.NoError(t, s.Put(meta))

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ResourceID)
	assert.Equal(t, "active", got.IndexedData["status"])
	assert.True(t, got.CreatedTime.Equal(now))
}

func TestSQLitePutUpsert(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC().Truncate(time.Second)
	meta := resource.ResourceMeta{ResourceID: "r1", CurrentRevisionID: "r1:1", CreatedTime: now, UpdatedTime: now, IndexedData: map[string]interface{}{}}
	require.NoError(t, s.Put(meta))

	meta.CurrentRevisionID = "r1:2"
	meta.TotalRevisionCount = 2
	meta.UpdatedTime = now.Add(time.Minute)
	require.NoError(t, s.Put(meta))

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1:2", got.CurrentRevisionID)
	assert.Equal(t, 2, got.TotalRevisionCount)
}

func TestSQLiteGetMissing(t *testing.T) {
	s := openTestSQLite(t)
	_, err := s.Get("missing")
	assert.Equal(t, resource.KindResourceIDNotFound, resource.KindOf(err))
}

func TestSQLiteSearchEqAndCount(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC().Truncate(time.Second)
	for i, status := range []string{"active", "inactive", "active"} {
		meta := resource.ResourceMeta{
			ResourceID:  resourceIDFor(i),
			CreatedTime: now,
			UpdatedTime: now,
			IndexedData: map[string]interface{}{"status": status},
		}
		require.NoError(t, s.Put(meta))
	}

	q := query.New().Filter(query.Field("status").Eq("active")).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, metas, 2)
}

func TestSQLiteSearchLengthTransform(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC()
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r1", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"tags": []interface{}{"a", "b"}},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r2", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"tags": []interface{}{"a"}},
	}))

	q := query.New().Filter(query.Field("tags").Length().Gte(int64(2))).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "r1", metas[0].ResourceID)
}

func TestSQLiteSearchLimitOffsetAndSort(t *testing.T) {
	s := openTestSQLite(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put(resource.ResourceMeta{
			ResourceID:  resourceIDFor(i),
			CreatedTime: base.Add(time.Duration(i) * time.Minute),
			UpdatedTime: base,
			IndexedData: map[string]interface{}{},
		}))
	}

	q := query.New().Sort(query.SortByMeta(query.KeyCreatedTime, query.Desc)).Limit(2).Offset(1).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, metas, 2)
	assert.Equal(t, resourceIDFor(3), metas[0].ResourceID)
	assert.Equal(t, resourceIDFor(2), metas[1].ResourceID)
}

func TestSQLiteSearchRegex(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC()
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r1", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"name": "alpha-123"},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r2", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"name": "beta"},
	}))

	q := query.New().Filter(query.Field("name").Regex(`^alpha-\d+$`)).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "r1", metas[0].ResourceID)
}

func TestSQLiteSearchMetaColumnLeaf(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r1", CreatedTime: now, UpdatedTime: now, CreatedBy: "alice",
		IndexedData: map[string]interface{}{},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r2", CreatedTime: now, UpdatedTime: now, CreatedBy: "bob",
		IndexedData: map[string]interface{}{},
	}))

	q := query.New().Filter(query.Field("created_by").Eq("alice")).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "r1", metas[0].ResourceID)
}

func TestSQLiteSearchMetaColumnIsDeleted(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r1", CreatedTime: now, UpdatedTime: now, IsDeleted: true,
		IndexedData: map[string]interface{}{},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r2", CreatedTime: now, UpdatedTime: now, IsDeleted: false,
		IndexedData: map[string]interface{}{},
	}))

	q := query.New().Filter(query.Field("is_deleted").Eq(true)).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "r1", metas[0].ResourceID)
}

func TestSQLiteSearchEqAgainstJSONArray(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC()
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r1", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"tags": []interface{}{"a", "b"}},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "r2", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"tags": []interface{}{"a"}},
	}))

	q := query.New().Filter(query.Field("tags").Eq([]interface{}{"a", "b"})).Build()
	metas, total, err := s.Search(q)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "r1", metas[0].ResourceID)
}

func TestSQLiteSearchIsNullExistsIsNADistinguishMissingVsNull(t *testing.T) {
	s := openTestSQLite(t)
	now := time.Now().UTC()
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "missing", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "present-null", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"nickname": nil},
	}))
	require.NoError(t, s.Put(resource.ResourceMeta{
		ResourceID: "present-value", CreatedTime: now, UpdatedTime: now,
		IndexedData: map[string]interface{}{"nickname": "bob"},
	}))

	isNull := query.New().Filter(query.Field("nickname").IsNull()).Build()
	metas, _, err := s.Search(isNull)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "present-null", metas[0].ResourceID)

	exists := query.New().Filter(query.Field("nickname").Exists()).Build()
	metas, _, err = s.Search(exists)
	require.NoError(t, err)
	require.Len(t, metas, 2)

	isNA := query.New().Filter(query.Field("nickname").IsNA()).Build()
	metas, _, err = s.Search(isNA)
	require.NoError(t, err)
	require.Len(t, metas, 2)
}

func resourceIDFor(i int) string {
	return "r" + string(rune('0'+i))
}
