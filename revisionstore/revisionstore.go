// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package revisionstore keeps the two immutable artefacts of every
// revision: the encoded payload bytes and the encoded RevisionInfo, keyed by
// (resource_id, revision_id). Mirrors the layered "<resource>/log" table the
// teacher's collection.go creates alongside every collection, but per
// resource instead of per collection-wide table.
package revisionstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Store is the contract every revision backend satisfies. There is no
// global lock: callers serialize writes to a single resource_id as needed
// (spec section 5, "Ordering guarantees").
type Store interface {
	Exists(resourceID, revisionID string) (bool, error)
	// ListRevisions returns revision ids for resourceID in ascending
	// sequence order. Implementations lay artefacts out per-resource so
	// this is cheap.
	ListRevisions(resourceID string) ([]string, error)
	GetInfo(resourceID, revisionID string) (resource.RevisionInfo, error)
	// GetDataBytes returns a scoped reader for the revision's payload
	// bytes; the caller must Close it to release any held resource.
	GetDataBytes(resourceID, revisionID string) (io.ReadCloser, error)
	SaveInfo(resourceID, revisionID string, info resource.RevisionInfo) error
	SaveDataBytes(resourceID, revisionID string, data []byte) error
}

type revisionKey struct {
	resourceID, revisionID string
}

// Memory is an in-memory revision store, one writer-exclusive lock for the
// whole store.
type Memory struct {
	mu    sync.RWMutex
	data  map[revisionKey][]byte
	infos map[revisionKey]resource.RevisionInfo
	order map[string][]string // resourceID -> revision ids in write order
}

// NewMemory returns an empty in-memory revision store.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[revisionKey][]byte),
		infos: make(map[revisionKey]resource.RevisionInfo),
		order: make(map[string][]string),
	}
}

// Exists implements Store.
func (m *Memory) Exists(resourceID, revisionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.infos[revisionKey{resourceID, revisionID}]
	return ok, nil
}

// ListRevisions implements Store.
func (m *Memory) ListRevisions(resourceID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order[resourceID]))
	copy(out, m.order[resourceID])
	return out, nil
}

// GetInfo implements Store.
func (m *Memory) GetInfo(resourceID, revisionID string) (resource.RevisionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.infos[revisionKey{resourceID, revisionID}]
	if !ok {
		return resource.RevisionInfo{}, resource.NewError(resource.KindRevisionIDNotFound, "revision %s of %s not found", revisionID, resourceID)
	}
	return info, nil
}

// GetDataBytes implements Store.
func (m *Memory) GetDataBytes(resourceID, revisionID string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[revisionKey{resourceID, revisionID}]
	if !ok {
		return nil, resource.NewError(resource.KindRevisionIDNotFound, "revision %s of %s not found", revisionID, resourceID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// SaveInfo implements Store.
func (m *Memory) SaveInfo(resourceID, revisionID string, info resource.RevisionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := revisionKey{resourceID, revisionID}
	if _, existed := m.infos[key]; !existed {
		m.order[resourceID] = append(m.order[resourceID], revisionID)
	}
	m.infos[key] = info
	return nil
}

// SaveDataBytes implements Store.
func (m *Memory) SaveDataBytes(resourceID, revisionID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[revisionKey{resourceID, revisionID}] = cp
	return nil
}

// Directory is a revision store laid out the way spec section 6 describes:
// a per-resource directory holding "<revision_id>.data" and
// "<revision_id>.info".
type Directory struct {
	mu   sync.Mutex
	root string
}

// NewDirectory returns a Directory revision store rooted at dir.
func NewDirectory(dir string) (*Directory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create revision directory: %w", err)
	}
	return &Directory{root: dir}, nil
}

func (d *Directory) resourceDir(resourceID string) string {
	return filepath.Join(d.root, sanitize(resourceID))
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, string(filepath.Separator), "_")
}

func revisionSequence(revisionID string) int {
	i := strings.LastIndexByte(revisionID, ':')
	if i < 0 {
		return 0
	}
	n, _ := strconv.Atoi(revisionID[i+1:])
	return n
}

// Exists implements Store.
func (d *Directory) Exists(resourceID, revisionID string) (bool, error) {
	path := filepath.Join(d.resourceDir(resourceID), sanitize(revisionID)+".info")
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListRevisions implements Store.
func (d *Directory) ListRevisions(resourceID string) ([]string, error) {
	entries, err := os.ReadDir(d.resourceDir(resourceID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var revisionIDs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".info") {
			revisionIDs = append(revisionIDs, strings.TrimSuffix(name, ".info"))
		}
	}
	sort.Slice(revisionIDs, func(i, j int) bool {
		return revisionSequence(revisionIDs[i]) < revisionSequence(revisionIDs[j])
	})
	return revisionIDs, nil
}

// GetInfo implements Store.
func (d *Directory) GetInfo(resourceID, revisionID string) (resource.RevisionInfo, error) {
	path := filepath.Join(d.resourceDir(resourceID), sanitize(revisionID)+".info")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return resource.RevisionInfo{}, resource.NewError(resource.KindRevisionIDNotFound, "revision %s of %s not found", revisionID, resourceID)
	}
	if err != nil {
		return resource.RevisionInfo{}, err
	}
	var info resource.RevisionInfo
	if err := decodeInfo(data, &info); err != nil {
		return resource.RevisionInfo{}, err
	}
	return info, nil
}

// GetDataBytes implements Store.
func (d *Directory) GetDataBytes(resourceID, revisionID string) (io.ReadCloser, error) {
	path := filepath.Join(d.resourceDir(resourceID), sanitize(revisionID)+".data")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, resource.NewError(resource.KindRevisionIDNotFound, "revision %s of %s not found", revisionID, resourceID)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// SaveInfo implements Store.
func (d *Directory) SaveInfo(resourceID, revisionID string, info resource.RevisionInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir := d.resourceDir(resourceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	encoded, err := encodeInfo(info)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sanitize(revisionID)+".info"), encoded, 0o644)
}

// SaveDataBytes implements Store.
func (d *Directory) SaveDataBytes(resourceID, revisionID string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir := d.resourceDir(resourceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sanitize(revisionID)+".data"), data, 0o644)
}
