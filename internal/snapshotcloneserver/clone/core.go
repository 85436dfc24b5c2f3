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
	"fmt"

	"github.com/makman07/curve/internal/snapshotcloneserver/metrics"
	"github.com/makman07/curve/internal/util/log"
)

// CloneStateMachine drives a single CloneTaskInfo through the clone/recover
// pipeline, and through the clean path that tears one down (spec §4.4).
type CloneStateMachine struct {
	client      BlockStorageClient
	metaStore   MetadataStore
	dataStore   DataStore
	snapshotRef SnapshotReferenceCounter
	opts        Options
}

// NewCloneStateMachine wires the collaborators a CloneStateMachine needs.
func NewCloneStateMachine(
	client BlockStorageClient,
	metaStore MetadataStore,
	dataStore DataStore,
	snapshotRef SnapshotReferenceCounter,
	opts Options,
) *CloneStateMachine {
	return &CloneStateMachine{
		client:      client,
		metaStore:   metaStore,
		dataStore:   dataStore,
		snapshotRef: snapshotRef,
		opts:        opts,
	}
}

// HandleCloneOrRecoverTask runs task's preamble, then steps it through the
// pipeline sequence dictated by its IsLazy flag until StepEnd, persisting
// the cursor after every successful step. Any failure along the way marks
// the task StatusError, persists that, and releases its snapshot reference.
func (sm *CloneStateMachine) HandleCloneOrRecoverTask(ctx context.Context, task *CloneTaskInfo) {
	taskType := string(task.CloneInfo().TaskType)
	metrics.CloneTaskStarted(taskType)
	defer func() {
		metrics.CloneTaskFinished(taskType, string(task.CloneInfo().Status))
	}()

	if !sm.buildFileInfo(ctx, task) {
		sm.fail(task)
		return
	}

	cur := task.CloneInfo().NextStep
	for cur != StepEnd {
		if !sm.executeStep(ctx, task, cur) {
			sm.fail(task)
			return
		}

		next, known := task.NextStepFor(cur)
		if !known {
			log.ErrorLogMsg("task %s: unknown clone step %v", task.CloneInfo().TaskId, cur)
			sm.fail(task)
			return
		}

		task.SetNextStep(next)
		if code := sm.metaStore.UpdateCloneInfo(task.CloneInfo()); code != ErrCodeSuccess {
			log.ErrorLogMsg("task %s: failed to persist step %v: %v", task.CloneInfo().TaskId, next, code)
			task.SetStatus(StatusError)
			sm.metaStore.UpdateCloneInfo(task.CloneInfo())
			sm.releaseSnapshotRef(task)
			return
		}
		cur = next
	}

	task.SetStatus(StatusDone)
	if code := sm.metaStore.UpdateCloneInfo(task.CloneInfo()); code != ErrCodeSuccess {
		log.ErrorLogMsg("task %s: failed to persist done status: %v", task.CloneInfo().TaskId, code)
	}
	sm.releaseSnapshotRef(task)
}

// HandleCleanCloneOrRecoverTask removes the on-disk artifacts of a task that
// ended in error and, once clean, deletes its CloneInfo record (spec
// §4.4.4). The final-path delete runs first; the temp-path delete for a
// non-lazy task is only attempted once the final-path delete reported OK
// or NOTEXIST. A hard failure on the final-path delete sets error status
// and returns immediately, matching the single-DeleteFile-call contract.
func (sm *CloneStateMachine) HandleCleanCloneOrRecoverTask(ctx context.Context, task *CloneTaskInfo) {
	info := task.CloneInfo()

	cleanFailed := func() {
		task.SetStatus(StatusError)
		if code := sm.metaStore.UpdateCloneInfo(task.CloneInfo()); code != ErrCodeSuccess {
			log.ErrorLogMsg("task %s: failed to persist error status during clean: %v", info.TaskId, code)
		}
		sm.releaseSnapshotRef(task)
	}

	if result := sm.client.DeleteFile(ctx, info.Destination, info.User, true); result != TransportOK && result != TransportNotExist {
		cleanFailed()
		return
	}

	if !info.IsLazy {
		temp := sm.opts.tempPath(info.TaskId)
		if result := sm.client.DeleteFile(ctx, temp, info.User, true); result != TransportOK && result != TransportNotExist {
			cleanFailed()
			return
		}
	}

	if code := sm.metaStore.DeleteCloneInfo(info.TaskId); code != ErrCodeSuccess {
		log.ErrorLogMsg("task %s: failed to delete clone record: %v", info.TaskId, code)
	}
	sm.releaseSnapshotRef(task)
}

func (sm *CloneStateMachine) fail(task *CloneTaskInfo) {
	task.SetStatus(StatusError)
	if code := sm.metaStore.UpdateCloneInfo(task.CloneInfo()); code != ErrCodeSuccess {
		log.ErrorLogMsg("task %s: failed to persist error status: %v", task.CloneInfo().TaskId, code)
	}
	sm.releaseSnapshotRef(task)
}

func (sm *CloneStateMachine) releaseSnapshotRef(task *CloneTaskInfo) {
	info := task.CloneInfo()
	if info.FileType == FileTypeSnapshot {
		sm.snapshotRef.Decrement(info.Source)
	}
}

// buildFileInfo runs the preamble appropriate to task's source kind (spec
// §4.4.1): a snapshot source pulls SnapshotInfo and ChunkIndexData, a file
// source queries the live volume's FInfo directly.
func (sm *CloneStateMachine) buildFileInfo(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	switch info.FileType {
	case FileTypeSnapshot:
		return sm.buildFileInfoFromSnapshot(ctx, task, info)
	case FileTypeFile:
		return sm.buildFileInfoFromFile(ctx, task, info)
	default:
		log.ErrorLogMsg("task %s: unknown file type %v", info.TaskId, info.FileType)
		return false
	}
}

func (sm *CloneStateMachine) buildFileInfoFromSnapshot(ctx context.Context, task *CloneTaskInfo, info CloneInfo) bool {
	snap, code := sm.metaStore.GetSnapshotInfo(info.Source)
	if code != ErrCodeSuccess {
		log.ErrorLogMsg("task %s: snapshot %s not found: %v", info.TaskId, info.Source, code)
		return false
	}

	task.SetSrcFInfo(FInfo{
		ChunkSize:   snap.ChunkSize,
		SegmentSize: snap.SegmentSize,
		Length:      snap.FileLength,
		SeqNum:      snap.SeqNum,
		Owner:       snap.User,
		FileName:    snap.FileName,
	})

	if info.TaskType == TaskTypeRecover {
		dest, result := sm.client.GetFileInfo(ctx, info.Destination, info.User)
		if result != TransportOK {
			log.ErrorLogMsg("task %s: failed to get destination file info: %v", info.TaskId, result)
			return false
		}
		task.SetDestFInfo(dest)
	}

	idx, code := sm.dataStore.GetChunkIndexData(snap.UUID)
	if code != ErrCodeSuccess {
		log.ErrorLogMsg("task %s: chunk index for snapshot %s not found: %v", info.TaskId, snap.UUID, code)
		return false
	}
	task.SetChunkIndex(idx)

	return true
}

func (sm *CloneStateMachine) buildFileInfoFromFile(ctx context.Context, task *CloneTaskInfo, info CloneInfo) bool {
	fInfo, result := sm.client.GetFileInfo(ctx, info.Source, info.User)
	if result != TransportOK {
		log.ErrorLogMsg("task %s: failed to get source file info: %v", info.TaskId, result)
		return false
	}

	if fInfo.SegmentSize == 0 || fInfo.Length == 0 || fInfo.Length%fInfo.SegmentSize != 0 {
		log.ErrorLogMsg("task %s: source file %s has an invalid segment layout", info.TaskId, info.Source)
		return false
	}

	task.SetSrcFInfo(fInfo)
	return true
}

// executeStep runs the single step named by cur. An unrecognized step is a
// fatal error: it is never reached through normal NextStepFor advancement,
// only through a corrupted or hand-edited persisted record.
func (sm *CloneStateMachine) executeStep(ctx context.Context, task *CloneTaskInfo, cur Step) bool {
	switch cur {
	case StepCreateCloneFile:
		return sm.stepCreateCloneFile(ctx, task)
	case StepCloneMeta:
		return sm.stepCloneMeta(ctx, task)
	case StepCreateCloneChunk:
		return sm.stepCreateCloneChunk(ctx, task)
	case StepCompleteCloneMeta:
		return sm.stepCompleteCloneMeta(ctx, task)
	case StepRecoverChunk:
		return sm.stepRecoverChunk(ctx, task)
	case StepRenameCloneFile:
		return sm.stepRenameCloneFile(ctx, task)
	case StepCompleteCloneFile:
		return sm.stepCompleteCloneFile(ctx, task)
	default:
		return false
	}
}

func (sm *CloneStateMachine) stepCreateCloneFile(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	src := task.SrcFInfo()

	fInfo, result := sm.client.CreateCloneFile(ctx, sm.opts.tempPath(info.TaskId), info.User, src.Length, src.SeqNum, src.ChunkSize)
	if result != TransportOK {
		log.ErrorLogMsg("task %s: CreateCloneFile failed: %v", info.TaskId, result)
		return false
	}
	task.SetDestFInfo(fInfo)
	return true
}

func (sm *CloneStateMachine) stepCloneMeta(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	src := task.SrcFInfo()
	if src.SegmentSize == 0 {
		log.ErrorLogMsg("task %s: zero segment size", info.TaskId)
		return false
	}

	for offset := uint64(0); offset < src.Length; offset += src.SegmentSize {
		result := sm.client.GetOrAllocateSegmentInfo(ctx, true, offset, info.User, sm.opts.tempPath(info.TaskId))
		if result != TransportOK {
			log.ErrorLogMsg("task %s: GetOrAllocateSegmentInfo failed at offset %d: %v", info.TaskId, offset, result)
			return false
		}
	}
	return true
}

func (sm *CloneStateMachine) stepCreateCloneChunk(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	src := task.SrcFInfo()
	if src.ChunkSize == 0 {
		log.ErrorLogMsg("task %s: zero chunk size", info.TaskId)
		return false
	}
	idx := task.ChunkIndex()

	total := src.Length / uint64(src.ChunkSize)
	for i := uint64(0); i < total; i++ {
		chunkId := sourceChunkDataName(src, idx, i)
		location := fmt.Sprintf("%s/%d", sm.opts.tempPath(info.TaskId), i)
		if result := sm.client.CreateCloneChunk(ctx, location, chunkId, src.SeqNum, src.ChunkSize); result != TransportOK {
			log.ErrorLogMsg("task %s: CreateCloneChunk failed at chunk %d: %v", info.TaskId, i, result)
			return false
		}
	}
	return true
}

func (sm *CloneStateMachine) stepCompleteCloneMeta(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	result := sm.client.CompleteCloneMeta(ctx, sm.opts.tempPath(info.TaskId), info.User)
	if result != TransportOK {
		log.ErrorLogMsg("task %s: CompleteCloneMeta failed: %v", info.TaskId, result)
		return false
	}
	return true
}

func (sm *CloneStateMachine) stepRecoverChunk(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	src := task.SrcFInfo()
	if src.ChunkSize == 0 {
		log.ErrorLogMsg("task %s: zero chunk size", info.TaskId)
		return false
	}
	idx := task.ChunkIndex()

	splitSize := sm.opts.CloneChunkSplitSize
	if splitSize == 0 {
		splitSize = uint64(src.ChunkSize)
	}

	// RenameCloneFile runs before RecoverChunk in the lazy branch, so the
	// destination is already visible under its final name; in the
	// non-lazy branch it still sits under the temp path.
	dest := info.Destination
	if !info.IsLazy {
		dest = sm.opts.tempPath(info.TaskId)
	}

	total := src.Length / uint64(src.ChunkSize)
	for i := uint64(0); i < total; i++ {
		chunkId := sourceChunkDataName(src, idx, i)

		remaining := uint64(src.ChunkSize)
		offset := i * uint64(src.ChunkSize)
		for remaining > 0 {
			sliceLen := remaining
			if sliceLen > splitSize {
				sliceLen = splitSize
			}
			if result := sm.client.RecoverChunk(ctx, dest, chunkId, offset, sliceLen); result != TransportOK {
				log.ErrorLogMsg("task %s: RecoverChunk failed at chunk %d offset %d: %v", info.TaskId, i, offset, result)
				return false
			}
			offset += sliceLen
			remaining -= sliceLen
		}
	}
	return true
}

func (sm *CloneStateMachine) stepRenameCloneFile(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	dest := task.DestFInfo()

	result := sm.client.RenameCloneFile(ctx, info.User, dest.Id, dest.Id, sm.opts.tempPath(info.TaskId), info.Destination)
	if result != TransportOK {
		log.ErrorLogMsg("task %s: RenameCloneFile failed: %v", info.TaskId, result)
		return false
	}
	return true
}

func (sm *CloneStateMachine) stepCompleteCloneFile(ctx context.Context, task *CloneTaskInfo) bool {
	info := task.CloneInfo()
	result := sm.client.CompleteCloneFile(ctx, info.Destination, info.User)
	if result != TransportOK {
		log.ErrorLogMsg("task %s: CompleteCloneFile failed: %v", info.TaskId, result)
		return false
	}
	return true
}

// sourceChunkDataName resolves chunk i's content identity: the snapshot's
// recorded blob name if one was indexed, or otherwise a name built from
// src (its FileName and SeqNum, plus i). A volume-sourced task has no
// index, so its chunks always name the source volume.
func sourceChunkDataName(src FInfo, idx *ChunkIndexData, i uint64) ChunkDataName {
	if idx != nil {
		if name, ok := idx.GetChunkDataName(i); ok {
			return name
		}
	}
	return ChunkDataName{
		FileName:    src.FileName,
		ChunkSeqNum: src.SeqNum,
		ChunkIndex:  i,
	}
}
