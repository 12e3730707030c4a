// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package metastore stores the single mutable ResourceMeta row per resource
// and answers Query lookups against it. Mirrors the teacher's
// core/backend/collection.go role -- one table per resource kind, indexed
// columns generated from the declared fields -- but keyed by a single JSON
// indexed_data column instead of a per-field Postgres column, matching the
// spec's "SQLite reference implementation" section.
package metastore

import (
	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Store is the contract every meta backend satisfies.
type Store interface {
	Get(resourceID string) (resource.ResourceMeta, error)
	Put(meta resource.ResourceMeta) error
	Delete(resourceID string) error
	Exists(resourceID string) (bool, error)

	// Search returns metas matching q, plus the total count ignoring
	// Limit/Offset (needed for CountResources and pagination headers).
	Search(q query.Query) ([]resource.ResourceMeta, int, error)
}
