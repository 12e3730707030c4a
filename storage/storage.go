// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package storage composes a MetaStore, a RevisionStore, and a BlobStore
// into the single handle a Manager is built with, the way backend.Builder
// bundles Config/DB/Router into one construction argument instead of
// threading three separate handles through every operation.
package storage

import (
	"github.com/HYChou0515/autocrud-sub001/blobstore"
	"github.com/HYChou0515/autocrud-sub001/metastore"
	"github.com/HYChou0515/autocrud-sub001/resource"
	"github.com/HYChou0515/autocrud-sub001/revisionstore"
)

// Storage is the three-store bundle a Manager operates on.
type Storage struct {
	Meta     metastore.Store
	Revision revisionstore.Store
	Blob     blobstore.Store
}

// New bundles the three stores. Blob may be nil for record types that never
// declare a resource.Binary field.
func New(meta metastore.Store, revision revisionstore.Store, blob blobstore.Store) Storage {
	return Storage{Meta: meta, Revision: revision, Blob: blob}
}

// RevisionExists reports whether a resource's current revision actually has
// a corresponding revision-store entry; a missing meta record reports false.
func (s Storage) RevisionExists(resourceID string) (bool, error) {
	meta, err := s.Meta.Get(resourceID)
	if err != nil {
		if resource.KindOf(err) == resource.KindResourceIDNotFound {
			return false, nil
		}
		return false, err
	}
	return s.Revision.Exists(resourceID, meta.CurrentRevisionID)
}

// NewInMemory bundles three in-memory stores, used by tests and examples
// that don't need durability.
func NewInMemory() Storage {
	return New(metastore.NewMemory(), revisionstore.NewMemory(), blobstore.NewMemory())
}
