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

import "context"

// TransportResult is the result enum returned by BlockStorageClient calls,
// mirroring the transport-level outcomes a real cluster client reports
// (spec §6).
type TransportResult int

const (
	TransportOK TransportResult = iota
	TransportNotExist
	TransportAuthFail
	TransportFailed
)

// MetadataStore is the persistence contract for CloneInfo and SnapshotInfo
// records (spec §6). Implementations must make AddCloneInfo atomic with
// respect to TaskId uniqueness.
type MetadataStore interface {
	AddCloneInfo(info CloneInfo) ErrCode
	UpdateCloneInfo(info CloneInfo) ErrCode
	DeleteCloneInfo(taskId string) ErrCode
	GetCloneInfo(taskId string) (CloneInfo, ErrCode)
	GetCloneInfoList() ([]CloneInfo, ErrCode)
	GetSnapshotInfo(uuid string) (SnapshotInfo, ErrCode)
}

// DataStore is the snapshot chunk-index contract (spec §6).
type DataStore interface {
	GetChunkIndexData(name string) (*ChunkIndexData, ErrCode)
}

// BlockStorageClient is the block-storage cluster contract the state
// machine drives (spec §6).
type BlockStorageClient interface {
	GetFileInfo(ctx context.Context, name, user string) (FInfo, TransportResult)
	CreateCloneFile(ctx context.Context, dest, user string, length, seqNum uint64, chunkSize uint32) (FInfo, TransportResult)
	GetOrAllocateSegmentInfo(ctx context.Context, allocate bool, offset uint64, user, dest string) TransportResult
	CreateCloneChunk(ctx context.Context, location string, chunkId ChunkDataName, seqNum uint64, chunkSize uint32) TransportResult
	CompleteCloneMeta(ctx context.Context, dest, user string) TransportResult
	RecoverChunk(ctx context.Context, dest string, chunkId ChunkDataName, offset, length uint64) TransportResult
	RenameCloneFile(ctx context.Context, user string, origId, newId uint64, origPath, newPath string) TransportResult
	CompleteCloneFile(ctx context.Context, name, user string) TransportResult
	DeleteFile(ctx context.Context, path, user string, force bool) TransportResult
}

// SnapshotReferenceCounter is the C1 contract consumed by the core; it is
// split out as an interface so the state machine and admission controller
// can be tested without the concrete SnapshotReference implementation.
type SnapshotReferenceCounter interface {
	Increment(id string)
	Decrement(id string)
	GetRef(id string) int
}
