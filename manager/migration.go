package manager

import "github.com/HYChou0515/autocrud-sub001/resource"

// Migration rewrites a resource's current revision in place when its
// schema_version lags TargetVersion. Migrate calls Migrate on the raw
// payload bytes first, then MigrateMeta on the resulting meta -- mirroring
// spec section 4.6's two-callback contract. Only a single-step migration
// (old -> latest) is modelled, per spec section 9's open question; a
// multi-step chain can be layered on top by calling Migrate repeatedly with
// successive TargetVersions.
type Migration[T any] struct {
	TargetVersion string
	// Migrate decodes oldData (in the wire format configured on the
	// manager) at oldVersion and returns the migrated record.
	Migrate func(oldData []byte, oldVersion string) (T, error)
	// MigrateMeta adjusts meta in place after a migration (e.g. to update
	// indexed_data derived from fields the migration renamed). Optional;
	// when nil, meta's indexed_data is simply recomputed from the migrated
	// payload.
	MigrateMeta func(meta *resource.ResourceMeta, oldVersion string)
}
