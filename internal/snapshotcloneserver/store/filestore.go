/*
Copyright 2024 The Curve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store is a file-backed implementation of the clone package's
// MetadataStore and DataStore contracts, one JSON file per record (spec
// §4.5 C6).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/makman07/curve/internal/snapshotcloneserver/clone"
	"github.com/makman07/curve/internal/util/log"
)

const (
	clonesDir     = "clones"
	snapshotsDir  = "snapshots"
	chunkIndexDir = "chunkindex"
)

// FileStore persists CloneInfo, SnapshotInfo and ChunkIndexData records as
// one JSON file per identifier under a base directory, grounded on
// ceph-csi's NodeCache (internal/util/nodecache.go). A process-local mutex
// serializes writes; AddCloneInfo additionally relies on O_EXCL so a
// concurrent double-admission can never silently overwrite a record.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore creates the store's subdirectories under baseDir if absent
// and returns a FileStore rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	for _, dir := range []string{clonesDir, snapshotsDir, chunkIndexDir} {
		full := filepath.Join(baseDir, dir)
		// #nosec
		if err := os.MkdirAll(full, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: failed to create %s: %w", full, err)
		}
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) clonePath(taskId string) string {
	return filepath.Join(s.baseDir, clonesDir, taskId+".json")
}

func (s *FileStore) snapshotPath(uuid string) string {
	return filepath.Join(s.baseDir, snapshotsDir, uuid+".json")
}

func (s *FileStore) chunkIndexPath(name string) string {
	return filepath.Join(s.baseDir, chunkIndexDir, name+".json")
}

func writeJSON(path string, flag int, data interface{}) error {
	// #nosec
	fp, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fp.Close(); cerr != nil {
			log.WarningLogMsg("filestore: failed to close %s: %v", path, cerr)
		}
	}()
	return json.NewEncoder(fp).Encode(data)
}

func readJSON(path string, dest interface{}) error {
	// #nosec
	fp, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fp.Close(); cerr != nil {
			log.WarningLogMsg("filestore: failed to close %s: %v", path, cerr)
		}
	}()
	return json.NewDecoder(fp).Decode(dest)
}

// AddCloneInfo persists info as a new file, failing if one already exists
// for this TaskId.
func (s *FileStore) AddCloneInfo(info clone.CloneInfo) clone.ErrCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.clonePath(info.TaskId)
	err := writeJSON(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info)
	if errors.Is(err, os.ErrExist) {
		log.ErrorLogMsg("filestore: %v", clone.ErrCloneInfoExists{TaskId: info.TaskId, Err: err})
		return clone.ErrCodeInternalError
	}
	if err != nil {
		log.ErrorLogMsg("filestore: failed to add clone info %s: %v", info.TaskId, err)
		return clone.ErrCodeInternalError
	}
	return clone.ErrCodeSuccess
}

// UpdateCloneInfo overwrites the persisted record for info.TaskId.
func (s *FileStore) UpdateCloneInfo(info clone.CloneInfo) clone.ErrCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.clonePath(info.TaskId)
	if err := writeJSON(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info); err != nil {
		log.ErrorLogMsg("filestore: failed to update clone info %s: %v", info.TaskId, err)
		return clone.ErrCodeInternalError
	}
	return clone.ErrCodeSuccess
}

// DeleteCloneInfo removes the persisted record for taskId. Deleting an
// already-absent record is not an error.
func (s *FileStore) DeleteCloneInfo(taskId string) clone.ErrCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.clonePath(taskId)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.ErrorLogMsg("filestore: failed to delete clone info %s: %v", taskId, err)
		return clone.ErrCodeInternalError
	}
	return clone.ErrCodeSuccess
}

// GetCloneInfo loads the persisted record for taskId.
func (s *FileStore) GetCloneInfo(taskId string) (clone.CloneInfo, clone.ErrCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var info clone.CloneInfo
	if err := readJSON(s.clonePath(taskId), &info); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.ErrorLogMsg("filestore: %v", clone.ErrCloneInfoNotFound{TaskId: taskId, Err: err})
		}
		return clone.CloneInfo{}, clone.ErrCodeFileNotExist
	}
	return info, clone.ErrCodeSuccess
}

// GetCloneInfoList loads every persisted CloneInfo record.
func (s *FileStore) GetCloneInfoList() ([]clone.CloneInfo, clone.ErrCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, clonesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.ErrorLogMsg("filestore: failed to list %s: %v", dir, err)
		return nil, clone.ErrCodeInternalError
	}

	list := make([]clone.CloneInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		var info clone.CloneInfo
		if err := readJSON(filepath.Join(dir, entry.Name()), &info); err != nil {
			log.ErrorLogMsg("filestore: failed to read %s: %v", entry.Name(), err)
			return nil, clone.ErrCodeInternalError
		}
		list = append(list, info)
	}
	return list, clone.ErrCodeSuccess
}

// GetSnapshotInfo loads the snapshot record written by the snapshot
// subsystem for uuid. The clone core never writes these; PutSnapshotInfo
// exists only so the owning subsystem (and tests) can seed them.
func (s *FileStore) GetSnapshotInfo(uuid string) (clone.SnapshotInfo, clone.ErrCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var info clone.SnapshotInfo
	if err := readJSON(s.snapshotPath(uuid), &info); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.ErrorLogMsg("filestore: %v", clone.ErrSnapshotInfoNotFound{UUID: uuid, Err: err})
		}
		return clone.SnapshotInfo{}, clone.ErrCodeFileNotExist
	}
	return info, clone.ErrCodeSuccess
}

// PutSnapshotInfo persists a snapshot record, for use by the snapshot
// subsystem once a snapshot completes.
func (s *FileStore) PutSnapshotInfo(info clone.SnapshotInfo) clone.ErrCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.snapshotPath(info.UUID), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info); err != nil {
		log.ErrorLogMsg("filestore: failed to put snapshot info %s: %v", info.UUID, err)
		return clone.ErrCodeInternalError
	}
	return clone.ErrCodeSuccess
}

// GetChunkIndexData loads the chunk index persisted under name.
func (s *FileStore) GetChunkIndexData(name string) (*clone.ChunkIndexData, clone.ErrCode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := clone.NewChunkIndexData()
	if err := readJSON(s.chunkIndexPath(name), idx); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.ErrorLogMsg("filestore: %v", clone.ErrChunkIndexNotFound{Name: name, Err: err})
		}
		return nil, clone.ErrCodeFileNotExist
	}
	return idx, clone.ErrCodeSuccess
}

// PutChunkIndexData persists the chunk index produced when a snapshot
// finishes, for use by the snapshot subsystem.
func (s *FileStore) PutChunkIndexData(name string, idx *clone.ChunkIndexData) clone.ErrCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.chunkIndexPath(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, idx); err != nil {
		log.ErrorLogMsg("filestore: failed to put chunk index %s: %v", name, err)
		return clone.ErrCodeInternalError
	}
	return clone.ErrCodeSuccess
}

var (
	_ clone.MetadataStore = (*FileStore)(nil)
	_ clone.DataStore     = (*FileStore)(nil)
)
