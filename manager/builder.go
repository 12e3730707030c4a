package manager

import (
	"github.com/HYChou0515/autocrud-sub001/permission"
	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/serializer"
	"github.com/HYChou0515/autocrud-sub001/storage"
)

// Builder collects a Manager's construction parameters. TypeName and
// Storage are mandatory; everything else is optional, mirroring
// backend.Builder's mandatory-vs-optional split.
type Builder[T any] struct {
	// TypeName names T in snake_case, used both as the default resource_id
	// prefix and as the permission engine's resource-type candidate.
	TypeName string
	// Storage is the composed meta/revision/blob backend.
	Storage storage.Storage
	// Format selects the on-disk wire format; defaults to MessagePack.
	Format serializer.Format
	// IDGenerator mints new resource ids; defaults to "<TypeName>:<uuid>".
	IDGenerator IDGenerator
	// Validator rejects invalid payloads before any write; optional.
	Validator Validator[T]
	// IndexableFields declares which payload paths are projected into
	// ResourceMeta.IndexedData on every write.
	IndexableFields []resource.IndexableField
	// Permission enforces every guarded operation; nil allows everything.
	Permission *permission.Engine
	// Migration rewrites stale revisions to the configured target version.
	Migration *Migration[T]
}
