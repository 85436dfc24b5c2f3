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

package clone

import (
	"context"
	"sync"
)

// fakeMetadataStore is an in-memory MetadataStore used by the clone
// package's tests. Hooks let individual tests force a failure from a
// specific call without reimplementing the whole fake.
type fakeMetadataStore struct {
	mu sync.Mutex

	clones    map[string]CloneInfo
	snapshots map[string]SnapshotInfo

	addErr    ErrCode
	updateErr ErrCode
	deleteErr ErrCode
	listErr   ErrCode
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{
		clones:    make(map[string]CloneInfo),
		snapshots: make(map[string]SnapshotInfo),
	}
}

func (f *fakeMetadataStore) AddCloneInfo(info CloneInfo) ErrCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != ErrCodeSuccess {
		return f.addErr
	}
	if _, ok := f.clones[info.TaskId]; ok {
		return ErrCodeInternalError
	}
	f.clones[info.TaskId] = info
	return ErrCodeSuccess
}

func (f *fakeMetadataStore) UpdateCloneInfo(info CloneInfo) ErrCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != ErrCodeSuccess {
		return f.updateErr
	}
	f.clones[info.TaskId] = info
	return ErrCodeSuccess
}

func (f *fakeMetadataStore) DeleteCloneInfo(taskId string) ErrCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != ErrCodeSuccess {
		return f.deleteErr
	}
	delete(f.clones, taskId)
	return ErrCodeSuccess
}

func (f *fakeMetadataStore) GetCloneInfo(taskId string) (CloneInfo, ErrCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.clones[taskId]
	if !ok {
		return CloneInfo{}, ErrCodeFileNotExist
	}
	return info, ErrCodeSuccess
}

func (f *fakeMetadataStore) GetCloneInfoList() ([]CloneInfo, ErrCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != ErrCodeSuccess {
		return nil, f.listErr
	}
	list := make([]CloneInfo, 0, len(f.clones))
	for _, v := range f.clones {
		list = append(list, v)
	}
	return list, ErrCodeSuccess
}

func (f *fakeMetadataStore) GetSnapshotInfo(uuid string) (SnapshotInfo, ErrCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[uuid]
	if !ok {
		return SnapshotInfo{}, ErrCodeFileNotExist
	}
	return snap, ErrCodeSuccess
}

// fakeDataStore is an in-memory DataStore.
type fakeDataStore struct {
	mu      sync.Mutex
	indexes map[string]*ChunkIndexData
	getErr  ErrCode
}

func newFakeDataStore() *fakeDataStore {
	return &fakeDataStore{indexes: make(map[string]*ChunkIndexData)}
}

func (f *fakeDataStore) GetChunkIndexData(name string) (*ChunkIndexData, ErrCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != ErrCodeSuccess {
		return nil, f.getErr
	}
	idx, ok := f.indexes[name]
	if !ok {
		return NewChunkIndexData(), ErrCodeSuccess
	}
	return idx, ErrCodeSuccess
}

// fakeBlockStorageClient is an in-memory BlockStorageClient. Each call
// counter lets a test assert how many times a step touched the client;
// each result field lets a test force a specific call to fail.
type fakeBlockStorageClient struct {
	mu sync.Mutex

	// calls records the name of every method invoked, in order, so a test
	// can assert the observed step sequence rather than just the
	// terminal status.
	calls []string

	files map[string]FInfo

	getFileInfoResult             TransportResult
	createCloneFileResult         TransportResult
	getOrAllocateSegmentInfoCalls int
	getOrAllocateSegmentInfoFailAt int
	createCloneChunkCalls         int
	createCloneChunkFailAt        int
	completeCloneMetaResult       TransportResult
	recoverChunkCalls             int
	recoverChunkFailAt            int
	renameCloneFileResult         TransportResult
	completeCloneFileResult       TransportResult
	deleteFileResults             map[string]TransportResult

	createCloneFileOut FInfo
}

func newFakeBlockStorageClient() *fakeBlockStorageClient {
	return &fakeBlockStorageClient{
		files:                          make(map[string]FInfo),
		getOrAllocateSegmentInfoFailAt: -1,
		createCloneChunkFailAt:         -1,
		recoverChunkFailAt:             -1,
		deleteFileResults:              make(map[string]TransportResult),
	}
}

func (f *fakeBlockStorageClient) GetFileInfo(ctx context.Context, name, user string) (FInfo, TransportResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetFileInfo")
	if f.getFileInfoResult != TransportOK {
		return FInfo{}, f.getFileInfoResult
	}
	info, ok := f.files[name]
	if !ok {
		return FInfo{}, TransportNotExist
	}
	return info, TransportOK
}

func (f *fakeBlockStorageClient) CreateCloneFile(ctx context.Context, dest, user string, length, seqNum uint64, chunkSize uint32) (FInfo, TransportResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateCloneFile")
	if f.createCloneFileResult != TransportOK {
		return FInfo{}, f.createCloneFileResult
	}
	out := f.createCloneFileOut
	if out.Id == 0 {
		out.Id = 100
	}
	return out, TransportOK
}

func (f *fakeBlockStorageClient) GetOrAllocateSegmentInfo(ctx context.Context, allocate bool, offset uint64, user, dest string) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetOrAllocateSegmentInfo")
	defer func() { f.getOrAllocateSegmentInfoCalls++ }()
	if f.getOrAllocateSegmentInfoFailAt == f.getOrAllocateSegmentInfoCalls {
		return TransportFailed
	}
	return TransportOK
}

func (f *fakeBlockStorageClient) CreateCloneChunk(ctx context.Context, location string, chunkId ChunkDataName, seqNum uint64, chunkSize uint32) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CreateCloneChunk")
	defer func() { f.createCloneChunkCalls++ }()
	if f.createCloneChunkFailAt == f.createCloneChunkCalls {
		return TransportFailed
	}
	return TransportOK
}

func (f *fakeBlockStorageClient) CompleteCloneMeta(ctx context.Context, dest, user string) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CompleteCloneMeta")
	if f.completeCloneMetaResult != TransportOK {
		return f.completeCloneMetaResult
	}
	return TransportOK
}

func (f *fakeBlockStorageClient) RecoverChunk(ctx context.Context, dest string, chunkId ChunkDataName, offset, length uint64) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "RecoverChunk")
	defer func() { f.recoverChunkCalls++ }()
	if f.recoverChunkFailAt == f.recoverChunkCalls {
		return TransportFailed
	}
	return TransportOK
}

func (f *fakeBlockStorageClient) RenameCloneFile(ctx context.Context, user string, origId, newId uint64, origPath, newPath string) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "RenameCloneFile")
	if f.renameCloneFileResult != TransportOK {
		return f.renameCloneFileResult
	}
	return TransportOK
}

func (f *fakeBlockStorageClient) CompleteCloneFile(ctx context.Context, name, user string) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "CompleteCloneFile")
	if f.completeCloneFileResult != TransportOK {
		return f.completeCloneFileResult
	}
	return TransportOK
}

func (f *fakeBlockStorageClient) DeleteFile(ctx context.Context, path, user string, force bool) TransportResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "DeleteFile:"+path)
	if result, ok := f.deleteFileResults[path]; ok {
		return result
	}
	return TransportOK
}

var _ BlockStorageClient = (*fakeBlockStorageClient)(nil)
var _ MetadataStore = (*fakeMetadataStore)(nil)
var _ DataStore = (*fakeDataStore)(nil)
