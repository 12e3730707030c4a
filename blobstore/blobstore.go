// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package blobstore provides a content-addressed byte store: put(bytes)
// returns a stable id, get(id) returns the bytes back out. Two
// implementations are provided, an in-memory map and a one-file-per-blob
// directory, mirroring the teacher's blob resource (core/backend/blob.go)
// minus the Postgres metadata row -- here the content hash IS the key.
package blobstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// Blob is the full, in-memory representation of one stored object.
type Blob struct {
	FileID      string `msgpack:"file_id"`
	Size        int64  `msgpack:"size"`
	ContentType string `msgpack:"content_type"`
	Data        []byte `msgpack:"data"`
}

// Store is the contract every blob backend satisfies.
type Store interface {
	// Put stores data content-addressed, returning a stable file id. Two
	// Put calls with identical bytes return the same id.
	Put(data []byte, contentType string) (fileID string, err error)
	// Get returns the full blob, or a BlobNotFound error if fileID is unknown.
	Get(fileID string) (Blob, error)
	// Exists reports whether fileID is present without fetching its bytes.
	Exists(fileID string) (bool, error)
}

// FileID computes the content-addressed id for data. The spec calls for a
// fast 128-bit hash (xxh3-128 or equivalent); the corpus's only xxhash
// dependency is the 64-bit cespare/xxhash/v2 (no xxh3-128 library is
// present anywhere in the example pack -- see DESIGN.md), so we concatenate
// two 64-bit passes seeded differently to reach a 128-bit-class id.
func FileID(data []byte) string {
	h1 := xxhash.Sum64(data)
	h2 := xxhash.Sum64(append([]byte{0xa5}, data...))
	out := make([]byte, 16)
	for i := 0; i < 8; i++ {
		out[i] = byte(h1 >> (8 * (7 - i)))
		out[8+i] = byte(h2 >> (8 * (7 - i)))
	}
	return hex.EncodeToString(out)
}

// Memory is an in-memory, lock-protected blob store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewMemory returns an empty in-memory blob store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]Blob)}
}

// Put implements Store. Writing identical bytes twice is idempotent: the
// first copy is kept. Every Put takes the single writer-exclusive lock the
// in-memory stores use throughout this module to keep the map consistent.
func (m *Memory) Put(data []byte, contentType string) (string, error) {
	id := FileID(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[id]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		m.blobs[id] = Blob{FileID: id, Size: int64(len(data)), ContentType: contentType, Data: cp}
	}
	return id, nil
}

// Get implements Store.
func (m *Memory) Get(fileID string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[fileID]
	if !ok {
		return Blob{}, resource.NewError(resource.KindBlobNotFound, "blob %s not found", fileID)
	}
	return b, nil
}

// Exists implements Store.
func (m *Memory) Exists(fileID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[fileID]
	return ok, nil
}

// Directory is a blob store backed by a directory where each file's name is
// its id, matching the "on-disk blob store" layout in spec section 6: one
// file per blob, msgpack-encoded Binary{file_id,size,content_type,data}.
type Directory struct {
	mu   sync.Mutex
	root string
}

// NewDirectory returns a Directory blob store rooted at dir, creating it if
// necessary.
func NewDirectory(dir string) (*Directory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Directory{root: dir}, nil
}

func (d *Directory) path(fileID string) string {
	return filepath.Join(d.root, fileID)
}

// Put implements Store.
func (d *Directory) Put(data []byte, contentType string) (string, error) {
	id := FileID(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	path := d.path(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	blob := Blob{FileID: id, Size: int64(len(data)), ContentType: contentType, Data: data}
	encoded, err := msgpack.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("encode blob: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize blob: %w", err)
	}
	return id, nil
}

// Get implements Store.
func (d *Directory) Get(fileID string) (Blob, error) {
	data, err := os.ReadFile(d.path(fileID))
	if os.IsNotExist(err) {
		return Blob{}, resource.NewError(resource.KindBlobNotFound, "blob %s not found", fileID)
	}
	if err != nil {
		return Blob{}, fmt.Errorf("read blob %s: %w", fileID, err)
	}
	var blob Blob
	if err := msgpack.Unmarshal(data, &blob); err != nil {
		return Blob{}, fmt.Errorf("decode blob %s: %w", fileID, err)
	}
	return blob, nil
}

// Exists implements Store.
func (d *Directory) Exists(fileID string) (bool, error) {
	_, err := os.Stat(d.path(fileID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
