package manager

import (
	"context"
	"sync"

	"github.com/HYChou0515/autocrud-sub001/permission"
	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/scope"
	"github.com/HYChou0515/autocrud-sub001/serializer"
)

func hashBytes(data []byte) string {
	return serializer.Hash(data)
}

// Create validates data, mints a resource id, writes revision #1 and the
// initial meta.
func (m *Manager[T]) Create(ctx context.Context, data T) (resource.ResourceMeta, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.guard(s, "*", permission.ActionWrite); err != nil {
		return resource.ResourceMeta{}, err
	}
	if m.validator != nil {
		if err := m.validator(data); err != nil {
			return resource.ResourceMeta{}, resource.Wrap(resource.KindValidationError, err, "validate %s", m.typeName)
		}
	}

	resourceID := m.idGen(m.typeName)
	encoded, err := m.promoteAndEncode(data)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	indexed, err := m.indexedDataFor(encoded)
	if err != nil {
		return resource.ResourceMeta{}, err
	}

	revisionID := nextRevisionID(resourceID, 1)
	info := resource.RevisionInfo{
		UID:         resourceID + "#" + revisionID,
		ResourceID:  resourceID,
		RevisionID:  revisionID,
		Status:      resource.StatusStable,
		DataHash:    hashBytes(encoded),
		CreatedTime: s.Now,
		CreatedBy:   s.Actor,
		UpdatedTime: s.Now,
		UpdatedBy:   s.Actor,
	}
	if m.migration != nil {
		info.SchemaVersion = m.migration.TargetVersion
	}

	if err := m.storage.Revision.SaveDataBytes(resourceID, revisionID, encoded); err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.storage.Revision.SaveInfo(resourceID, revisionID, info); err != nil {
		return resource.ResourceMeta{}, err
	}

	meta := resource.ResourceMeta{
		ResourceID:         resourceID,
		CurrentRevisionID:  revisionID,
		TotalRevisionCount: 1,
		CreatedTime:        s.Now,
		CreatedBy:          s.Actor,
		UpdatedTime:        s.Now,
		UpdatedBy:          s.Actor,
		SchemaVersion:      info.SchemaVersion,
		IndexedData:        indexed,
	}
	if err := m.storage.Meta.Put(meta); err != nil {
		return resource.ResourceMeta{}, err
	}
	return meta, nil
}

// Get returns the decoded payload of a resource's current revision.
func (m *Manager[T]) Get(ctx context.Context, resourceID string) (T, error) {
	var zero T
	s, err := scope.FromContext(ctx)
	if err != nil {
		return zero, err
	}
	if err := m.guard(s, resourceID, permission.ActionRead); err != nil {
		return zero, err
	}
	meta, err := m.loadMeta(resourceID, false)
	if err != nil {
		return zero, err
	}
	v, _, err := m.decodeRevision(resourceID, meta.CurrentRevisionID)
	return v, err
}

// GetRevision returns the decoded payload of a specific revision,
// regardless of whether it is current.
func (m *Manager[T]) GetRevision(ctx context.Context, resourceID, revisionID string) (T, error) {
	var zero T
	s, err := scope.FromContext(ctx)
	if err != nil {
		return zero, err
	}
	if err := m.guard(s, resourceID, permission.ActionRead); err != nil {
		return zero, err
	}
	if _, err := m.storage.Meta.Get(resourceID); err != nil {
		return zero, err
	}
	v, _, err := m.decodeRevision(resourceID, revisionID)
	return v, err
}

// ListRevisions returns every revision id of a resource in ascending
// sequence order.
func (m *Manager[T]) ListRevisions(ctx context.Context, resourceID string) ([]string, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.guard(s, resourceID, permission.ActionRead); err != nil {
		return nil, err
	}
	if _, err := m.storage.Meta.Get(resourceID); err != nil {
		return nil, err
	}
	return m.storage.Revision.ListRevisions(resourceID)
}

// Update writes a new revision with the full replacement payload data and
// repoints current_revision_id at it.
func (m *Manager[T]) Update(ctx context.Context, resourceID string, data T) (resource.ResourceMeta, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.guard(s, resourceID, permission.ActionWrite); err != nil {
		return resource.ResourceMeta{}, err
	}
	meta, err := m.loadMeta(resourceID, false)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if m.validator != nil {
		if err := m.validator(data); err != nil {
			return resource.ResourceMeta{}, resource.Wrap(resource.KindValidationError, err, "validate %s", m.typeName)
		}
	}

	encoded, err := m.promoteAndEncode(data)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	indexed, err := m.indexedDataFor(encoded)
	if err != nil {
		return resource.ResourceMeta{}, err
	}

	nextCount := meta.TotalRevisionCount + 1
	revisionID := nextRevisionID(resourceID, nextCount)
	info := resource.RevisionInfo{
		UID:              resourceID + "#" + revisionID,
		ResourceID:       resourceID,
		RevisionID:       revisionID,
		ParentRevisionID: meta.CurrentRevisionID,
		Status:           resource.StatusStable,
		DataHash:         hashBytes(encoded),
		CreatedTime:      s.Now,
		CreatedBy:        s.Actor,
		UpdatedTime:      s.Now,
		UpdatedBy:        s.Actor,
	}
	if m.migration != nil {
		info.SchemaVersion = m.migration.TargetVersion
	}

	if err := m.storage.Revision.SaveDataBytes(resourceID, revisionID, encoded); err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.storage.Revision.SaveInfo(resourceID, revisionID, info); err != nil {
		return resource.ResourceMeta{}, err
	}

	meta.CurrentRevisionID = revisionID
	meta.TotalRevisionCount = nextCount
	meta.UpdatedTime = s.Now
	meta.UpdatedBy = s.Actor
	meta.SchemaVersion = info.SchemaVersion
	meta.IndexedData = indexed
	if err := m.storage.Meta.Put(meta); err != nil {
		return resource.ResourceMeta{}, err
	}
	return meta, nil
}

// Patch applies an RFC 6902 JSON-Patch document to the current payload and
// calls Update with the result.
func (m *Manager[T]) Patch(ctx context.Context, resourceID string, patch []PatchOp) (resource.ResourceMeta, error) {
	current, err := m.Get(ctx, resourceID)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	encoded, err := m.ser.Encode(current)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	asMap, err := m.ser.DecodeToMap(encoded)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	patched, err := ApplyPatch(asMap, patch)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	patchedBytes, err := jsonMarshal(patched)
	if err != nil {
		return resource.ResourceMeta{}, resource.Wrap(resource.KindPatchApplyFailed, err, "re-encode patched document")
	}
	newValue, err := serializerDecodeJSON[T](patchedBytes)
	if err != nil {
		return resource.ResourceMeta{}, resource.Wrap(resource.KindPatchApplyFailed, err, "decode patched document as %s", m.typeName)
	}
	return m.Update(ctx, resourceID, newValue)
}

// Switch repoints current_revision_id at an existing revision without
// creating a new one.
func (m *Manager[T]) Switch(ctx context.Context, resourceID, revisionID string) (resource.ResourceMeta, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.guard(s, resourceID, permission.ActionWrite); err != nil {
		return resource.ResourceMeta{}, err
	}
	meta, err := m.loadMeta(resourceID, false)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	exists, err := m.storage.Revision.Exists(resourceID, revisionID)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if !exists {
		return resource.ResourceMeta{}, resource.NewError(resource.KindRevisionIDNotFound, "revision %s of %s not found", revisionID, resourceID)
	}
	if meta.CurrentRevisionID == revisionID {
		return meta, nil
	}
	encoded, err := m.rawBytesOf(resourceID, revisionID)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	indexed, err := m.indexedDataFor(encoded)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	meta.CurrentRevisionID = revisionID
	meta.UpdatedTime = s.Now
	meta.UpdatedBy = s.Actor
	meta.IndexedData = indexed
	if err := m.storage.Meta.Put(meta); err != nil {
		return resource.ResourceMeta{}, err
	}
	return meta, nil
}

func (m *Manager[T]) rawBytesOf(resourceID, revisionID string) ([]byte, error) {
	r, err := m.storage.Revision.GetDataBytes(resourceID, revisionID)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAll(r)
}

// Delete soft-deletes a resource: no new revision, just is_deleted=true.
func (m *Manager[T]) Delete(ctx context.Context, resourceID string) error {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := m.guard(s, resourceID, permission.ActionDelete); err != nil {
		return err
	}
	meta, err := m.loadMeta(resourceID, true)
	if err != nil {
		return err
	}
	meta.IsDeleted = true
	meta.UpdatedTime = s.Now
	meta.UpdatedBy = s.Actor
	return m.storage.Meta.Put(meta)
}

// Restore clears is_deleted.
func (m *Manager[T]) Restore(ctx context.Context, resourceID string) error {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return err
	}
	if err := m.guard(s, resourceID, permission.ActionWrite); err != nil {
		return err
	}
	meta, err := m.loadMeta(resourceID, true)
	if err != nil {
		return err
	}
	meta.IsDeleted = false
	meta.UpdatedTime = s.Now
	meta.UpdatedBy = s.Actor
	return m.storage.Meta.Put(meta)
}

// GetMeta returns a resource's ResourceMeta, failing the same way Get does
// for deleted resources.
func (m *Manager[T]) GetMeta(ctx context.Context, resourceID string) (resource.ResourceMeta, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.guard(s, resourceID, permission.ActionRead); err != nil {
		return resource.ResourceMeta{}, err
	}
	return m.loadMeta(resourceID, false)
}

// GetPartial decodes a revision (the current one if revisionID is "") and
// projects out fieldPaths, omitting any path absent from the payload.
func (m *Manager[T]) GetPartial(ctx context.Context, resourceID, revisionID string, fieldPaths []string) (map[string]interface{}, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.guard(s, resourceID, permission.ActionRead); err != nil {
		return nil, err
	}
	if revisionID == "" {
		meta, err := m.loadMeta(resourceID, false)
		if err != nil {
			return nil, err
		}
		revisionID = meta.CurrentRevisionID
	}
	encoded, err := m.rawBytesOf(resourceID, revisionID)
	if err != nil {
		return nil, err
	}
	asMap, err := m.ser.DecodeToMap(encoded)
	if err != nil {
		return nil, err
	}
	return resource.ProjectPaths(asMap, fieldPaths), nil
}

// Migrate rewrites the current revision in place if its schema_version
// lags the configured migration target.
func (m *Manager[T]) Migrate(ctx context.Context, resourceID string) (resource.ResourceMeta, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.guard(s, resourceID, permission.ActionAdmin); err != nil {
		return resource.ResourceMeta{}, err
	}
	if m.migration == nil {
		return resource.ResourceMeta{}, resource.NewError(resource.KindMigrationNotConfigured, "no migration configured for %s", m.typeName)
	}
	meta, err := m.loadMeta(resourceID, true)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	info, err := m.storage.Revision.GetInfo(resourceID, meta.CurrentRevisionID)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	if info.SchemaVersion == m.migration.TargetVersion {
		return meta, nil
	}
	oldVersion := info.SchemaVersion
	oldData, err := m.rawBytesOf(resourceID, meta.CurrentRevisionID)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	migrated, err := m.migration.Migrate(oldData, oldVersion)
	if err != nil {
		return resource.ResourceMeta{}, resource.Wrap(resource.KindSchemaConflict, err, "migrate %s from %q to %q", resourceID, oldVersion, m.migration.TargetVersion)
	}
	encoded, err := m.promoteAndEncode(migrated)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	indexed, err := m.indexedDataFor(encoded)
	if err != nil {
		return resource.ResourceMeta{}, err
	}

	info.SchemaVersion = m.migration.TargetVersion
	info.DataHash = hashBytes(encoded)
	info.UpdatedTime = s.Now
	info.UpdatedBy = s.Actor
	if err := m.storage.Revision.SaveDataBytes(resourceID, meta.CurrentRevisionID, encoded); err != nil {
		return resource.ResourceMeta{}, err
	}
	if err := m.storage.Revision.SaveInfo(resourceID, meta.CurrentRevisionID, info); err != nil {
		return resource.ResourceMeta{}, err
	}

	meta.SchemaVersion = m.migration.TargetVersion
	meta.IndexedData = indexed
	meta.UpdatedTime = s.Now
	meta.UpdatedBy = s.Actor
	if m.migration.MigrateMeta != nil {
		m.migration.MigrateMeta(&meta, oldVersion)
	}
	if err := m.storage.Meta.Put(meta); err != nil {
		return resource.ResourceMeta{}, err
	}
	return meta, nil
}

// SearchResources returns metas matching q plus the total count ignoring
// limit/offset.
func (m *Manager[T]) SearchResources(ctx context.Context, q query.Query) ([]resource.ResourceMeta, int, error) {
	if _, err := scope.FromContext(ctx); err != nil {
		return nil, 0, err
	}
	return m.storage.Meta.Search(q)
}

// CountResources is sugar for SearchResources ignoring the result rows.
func (m *Manager[T]) CountResources(ctx context.Context, q query.Query) (int, error) {
	_, total, err := m.SearchResources(ctx, q)
	return total, err
}

// BatchDelete soft-deletes every resource matching q, forcing IsDeleted=false
// into the filter so already-deleted rows are not retargeted.
func (m *Manager[T]) BatchDelete(ctx context.Context, q query.Query) (int, error) {
	return m.batchSetDeleted(ctx, q, false, true)
}

// BatchRestore restores every resource matching q, forcing IsDeleted=true
// into the filter.
func (m *Manager[T]) BatchRestore(ctx context.Context, q query.Query) (int, error) {
	return m.batchSetDeleted(ctx, q, true, false)
}

func (m *Manager[T]) batchSetDeleted(ctx context.Context, q query.Query, requireCurrentlyDeleted, newValue bool) (int, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return 0, err
	}
	want := requireCurrentlyDeleted
	q.IsDeleted = &want
	metas, _, err := m.storage.Meta.Search(q)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, meta := range metas {
		if err := m.guard(s, meta.ResourceID, permission.ActionDelete); err != nil {
			continue
		}
		meta.IsDeleted = newValue
		meta.UpdatedTime = s.Now
		meta.UpdatedBy = s.Actor
		if err := m.storage.Meta.Put(meta); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ListResources pipelines a meta-store search with per-hit section
// fetching, honoring returns/partial the way spec section 4.6 describes.
func (m *Manager[T]) ListResources(ctx context.Context, q query.Query, opts ListOptions) ([]resource.FullResourceResponse, int, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	metas, total, err := m.storage.Meta.Search(q)
	if err != nil {
		return nil, 0, err
	}

	results := make([]resource.FullResourceResponse, len(metas))
	errs := make([]error, len(metas))

	fetch := func(i int) {
		if err := m.guard(s, metas[i].ResourceID, permission.ActionRead); err != nil {
			errs[i] = err
			return
		}
		results[i], errs[i] = m.buildResponse(metas[i], opts)
	}

	if len(metas) > parallelFetchThreshold {
		var wg sync.WaitGroup
		for i := range metas {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fetch(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range metas {
			fetch(i)
		}
	}

	out := make([]resource.FullResourceResponse, 0, len(metas))
	for i, e := range errs {
		if e != nil {
			continue // a corrupt/forbidden row is skipped, not fatal to the whole listing
		}
		out = append(out, results[i])
	}
	return out, total, nil
}

// parallelFetchThreshold is the hit count above which ListResources fetches
// sections concurrently, per spec section 4.6's "parallel fetch above a
// threshold (e.g. >10 hits)".
const parallelFetchThreshold = 10

// ListOptions controls which sections ListResources returns per hit.
type ListOptions struct {
	Returns []resource.ReturnSection
	Partial []string // optionally prefixed with "data/", "info/", "meta/"
}

func (m *Manager[T]) buildResponse(meta resource.ResourceMeta, opts ListOptions) (resource.FullResourceResponse, error) {
	wants := func(section resource.ReturnSection) bool {
		if len(opts.Returns) == 0 {
			return section == resource.ReturnData
		}
		for _, s := range opts.Returns {
			if s == section {
				return true
			}
		}
		return false
	}

	var resp resource.FullResourceResponse

	var encoded []byte
	var info resource.RevisionInfo
	needData := wants(resource.ReturnData) || len(opts.Partial) > 0
	if needData || wants(resource.ReturnInfo) {
		var err error
		info, err = m.storage.Revision.GetInfo(meta.ResourceID, meta.CurrentRevisionID)
		if err != nil {
			return resp, err
		}
	}
	if needData {
		var err error
		encoded, err = m.rawBytesOf(meta.ResourceID, meta.CurrentRevisionID)
		if err != nil {
			return resp, err
		}
	}

	if len(opts.Partial) > 0 {
		partial, err := m.partialSections(encoded, meta, opts.Partial)
		if err != nil {
			return resp, err
		}
		resp.Partial = partial
	} else if wants(resource.ReturnData) {
		v, err := m.ser.Decode(encoded)
		if err != nil {
			return resp, err
		}
		resp.Data = v
	}
	if wants(resource.ReturnInfo) {
		infoCopy := info
		resp.RevisionInfo = &infoCopy
	}
	if wants(resource.ReturnMeta) {
		metaCopy := meta
		resp.Meta = &metaCopy
	}
	return resp, nil
}

// partialSections splits opts.Partial paths by their "data/", "info/",
// "meta/" prefix (defaulting to "data") and projects each bucket
// independently.
func (m *Manager[T]) partialSections(encoded []byte, meta resource.ResourceMeta, paths []string) (map[string]interface{}, error) {
	var dataPaths, infoPaths, metaPaths []string
	for _, p := range paths {
		switch {
		case hasBucketPrefix(p, "data/"):
			dataPaths = append(dataPaths, stripBucketPrefix(p, "data/"))
		case hasBucketPrefix(p, "info/"):
			infoPaths = append(infoPaths, stripBucketPrefix(p, "info/"))
		case hasBucketPrefix(p, "meta/"):
			metaPaths = append(metaPaths, stripBucketPrefix(p, "meta/"))
		default:
			dataPaths = append(dataPaths, p)
		}
	}
	out := map[string]interface{}{}
	if len(dataPaths) > 0 {
		asMap, err := m.ser.DecodeToMap(encoded)
		if err != nil {
			return nil, err
		}
		out["data"] = resource.ProjectPaths(asMap, dataPaths)
	}
	if len(infoPaths) > 0 {
		infoMap, err := structToMap(meta)
		if err != nil {
			return nil, err
		}
		out["info"] = resource.ProjectPaths(infoMap, infoPaths)
	}
	if len(metaPaths) > 0 {
		metaMap, err := structToMap(meta)
		if err != nil {
			return nil, err
		}
		out["meta"] = resource.ProjectPaths(metaMap, metaPaths)
	}
	return out, nil
}

func hasBucketPrefix(p, prefix string) bool {
	return len(p) >= len(prefix) && p[:len(prefix)] == prefix
}

func stripBucketPrefix(p, prefix string) string {
	return p[len(prefix):]
}

// GetBlob dereferences a file_id through the blob store, returning its raw
// bytes and content type.
func (m *Manager[T]) GetBlob(ctx context.Context, resourceID, fileID string) ([]byte, string, error) {
	s, err := scope.FromContext(ctx)
	if err != nil {
		return nil, "", err
	}
	if err := m.guard(s, resourceID, permission.ActionRead); err != nil {
		return nil, "", err
	}
	if m.storage.Blob == nil {
		return nil, "", resource.NewError(resource.KindBlobNotFound, "no blob store configured for %s", m.typeName)
	}
	b, err := m.storage.Blob.Get(fileID)
	if err != nil {
		return nil, "", err
	}
	return b.Data, b.ContentType, nil
}
