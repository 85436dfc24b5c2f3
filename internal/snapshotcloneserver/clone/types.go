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
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType distinguishes a clone (new destination volume) from a recover
// (repair an existing volume in place).
type TaskType string

const (
	TaskTypeClone   TaskType = "clone"
	TaskTypeRecover TaskType = "recover"
)

// FileType records whether the task's source is a snapshot UUID or the
// name of another volume.
type FileType string

const (
	FileTypeSnapshot FileType = "snapshot"
	FileTypeFile     FileType = "file"
)

// Status is the lifecycle state of a CloneInfo record.
type Status string

const (
	StatusCloning    Status = "cloning"
	StatusRecovering Status = "recovering"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusCleaning   Status = "cleaning"
)

// Step is the persisted continuation cursor of the clone pipeline.
type Step int

const (
	StepCreateCloneFile Step = iota
	StepCloneMeta
	StepCreateCloneChunk
	StepCompleteCloneMeta
	StepRenameCloneFile
	StepRecoverChunk
	StepCompleteCloneFile
	StepEnd
)

func (s Step) String() string {
	switch s {
	case StepCreateCloneFile:
		return "CreateCloneFile"
	case StepCloneMeta:
		return "CloneMeta"
	case StepCreateCloneChunk:
		return "CreateCloneChunk"
	case StepCompleteCloneMeta:
		return "CompleteCloneMeta"
	case StepRenameCloneFile:
		return "RenameCloneFile"
	case StepRecoverChunk:
		return "RecoverChunk"
	case StepCompleteCloneFile:
		return "CompleteCloneFile"
	case StepEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// lazyStepOrder and nonLazyStepOrder encode the two branches of the
// pipeline described in spec §4.4.1, after CompleteCloneMeta.
var lazyStepOrder = []Step{
	StepCreateCloneFile,
	StepCloneMeta,
	StepCreateCloneChunk,
	StepCompleteCloneMeta,
	StepRenameCloneFile,
	StepRecoverChunk,
	StepCompleteCloneFile,
	StepEnd,
}

var nonLazyStepOrder = []Step{
	StepCreateCloneFile,
	StepCloneMeta,
	StepCreateCloneChunk,
	StepCompleteCloneMeta,
	StepRecoverChunk,
	StepCompleteCloneFile,
	StepRenameCloneFile,
	StepEnd,
}

// nextStep returns the step that follows cur in the sequence dictated by
// isLazy, and whether cur was recognized at all.
func nextStep(cur Step, isLazy bool) (Step, bool) {
	order := nonLazyStepOrder
	if isLazy {
		order = lazyStepOrder
	}
	for i, s := range order {
		if s == cur {
			if i+1 < len(order) {
				return order[i+1], true
			}
			return StepEnd, true
		}
	}
	return StepEnd, false
}

// CloneInfo is the durable, metadata-store-backed record of a clone or
// recover task (spec §3).
type CloneInfo struct {
	TaskId      string
	User        string
	TaskType    TaskType
	Source      string
	Destination string
	FileType    FileType
	IsLazy      bool
	Status      Status
	NextStep    Step
	CreateTime  time.Time
}

// NewCloneInfo builds a fresh CloneInfo for an admitted request, with a
// freshly generated TaskId, initial status and first pipeline step.
func NewCloneInfo(user, source, destination string, isLazy bool, taskType TaskType, fileType FileType) CloneInfo {
	status := StatusCloning
	if taskType == TaskTypeRecover {
		status = StatusRecovering
	}
	return CloneInfo{
		TaskId:      uuid.NewString(),
		User:        user,
		TaskType:    taskType,
		Source:      source,
		Destination: destination,
		FileType:    fileType,
		IsLazy:      isLazy,
		Status:      status,
		NextStep:    StepCreateCloneFile,
		CreateTime:  time.Now(),
	}
}

// SnapshotInfo is owned by the snapshot subsystem; the clone core treats it
// as read-only (spec §3).
type SnapshotInfo struct {
	UUID        string
	User        string
	FileName    string
	Description string
	SeqNum      uint64
	ChunkSize   uint32
	SegmentSize uint64
	FileLength  uint64
	CreateTime  time.Time
	Status      SnapshotStatus
}

// SnapshotStatus mirrors the snapshot subsystem's lifecycle; the core only
// ever compares against SnapshotStatusDone.
type SnapshotStatus string

const (
	SnapshotStatusPending SnapshotStatus = "pending"
	SnapshotStatusDone    SnapshotStatus = "done"
)

// FInfo is a volume's file info as reported by the block storage client.
type FInfo struct {
	Id          uint64
	ChunkSize   uint32
	SegmentSize uint64
	Length      uint64
	SeqNum      uint64
	Owner       string
	FileName    string
}

// ChunkDataName is the content-addressed identity of a chunk blob within a
// snapshot's data.
type ChunkDataName struct {
	FileName string
	ChunkSeqNum uint64
	ChunkIndex  uint64
}

// ChunkIndexData maps a snapshot's logical chunk index to the
// ChunkDataName identifying its blob in the data store.
type ChunkIndexData struct {
	chunks map[uint64]ChunkDataName
}

// NewChunkIndexData returns an empty index.
func NewChunkIndexData() *ChunkIndexData {
	return &ChunkIndexData{chunks: make(map[uint64]ChunkDataName)}
}

// PutChunkDataName records the blob identity for a chunk's logical index.
func (c *ChunkIndexData) PutChunkDataName(index uint64, name ChunkDataName) {
	if c.chunks == nil {
		c.chunks = make(map[uint64]ChunkDataName)
	}
	c.chunks[index] = name
}

// GetChunkDataName looks up the blob identity for a chunk's logical index.
// The returned bool is false when the index has no entry for index.
func (c *ChunkIndexData) GetChunkDataName(index uint64) (ChunkDataName, bool) {
	if c.chunks == nil {
		return ChunkDataName{}, false
	}
	name, ok := c.chunks[index]
	return name, ok
}

// Len reports how many chunks the index covers.
func (c *ChunkIndexData) Len() int {
	return len(c.chunks)
}

type chunkIndexEntry struct {
	Index uint64
	Name  ChunkDataName
}

// MarshalJSON encodes the index as a flat list of entries so a DataStore
// can persist it without exposing the internal map representation.
func (c *ChunkIndexData) MarshalJSON() ([]byte, error) {
	entries := make([]chunkIndexEntry, 0, len(c.chunks))
	for idx, name := range c.chunks {
		entries = append(entries, chunkIndexEntry{Index: idx, Name: name})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON rebuilds the index from the flat list MarshalJSON produces.
func (c *ChunkIndexData) UnmarshalJSON(data []byte) error {
	var entries []chunkIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	c.chunks = make(map[uint64]ChunkDataName, len(entries))
	for _, e := range entries {
		c.chunks[e.Index] = e.Name
	}
	return nil
}

// CloneTaskInfo is the in-memory envelope a worker uses to drive one
// CloneInfo through the pipeline (spec §4.2). Status, NextStep and the
// derived FInfo are guarded by mu because the status-query path reads them
// concurrently with the owning worker's updates.
type CloneTaskInfo struct {
	mu sync.Mutex

	info CloneInfo

	srcFInfo   FInfo
	destFInfo  FInfo
	chunkIndex *ChunkIndexData
}

// NewCloneTaskInfo wraps a CloneInfo snapshot in a fresh task envelope.
func NewCloneTaskInfo(info CloneInfo) *CloneTaskInfo {
	return &CloneTaskInfo{info: info}
}

// CloneInfo returns a copy of the task's current CloneInfo.
func (t *CloneTaskInfo) CloneInfo() CloneInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// SetStatus updates the task's status under lock.
func (t *CloneTaskInfo) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.Status = s
}

// SetNextStep updates the task's step cursor under lock.
func (t *CloneTaskInfo) SetNextStep(s Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.info.NextStep = s
}

// NextStepFor returns the step following cur, honoring the task's IsLazy
// branch, and reports whether cur was known. It does not move the task's
// cursor; callers do that with SetNextStep.
func (t *CloneTaskInfo) NextStepFor(cur Step) (Step, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return nextStep(cur, t.info.IsLazy)
}

// SrcFInfo returns the source volume's file info, as populated by the
// pipeline's preamble.
func (t *CloneTaskInfo) SrcFInfo() FInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.srcFInfo
}

// SetSrcFInfo records the source volume's file info.
func (t *CloneTaskInfo) SetSrcFInfo(info FInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.srcFInfo = info
}

// DestFInfo returns the destination volume's file info, populated once
// StepCreateCloneFile (or, for a recover task, the preamble) has run.
func (t *CloneTaskInfo) DestFInfo() FInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.destFInfo
}

// SetDestFInfo records the destination volume's file info.
func (t *CloneTaskInfo) SetDestFInfo(info FInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destFInfo = info
}

// ChunkIndex returns the snapshot chunk index backing this task, or nil for
// a volume-sourced task.
func (t *CloneTaskInfo) ChunkIndex() *ChunkIndexData {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunkIndex
}

// SetChunkIndex records the snapshot chunk index backing this task.
func (t *CloneTaskInfo) SetChunkIndex(idx *ChunkIndexData) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunkIndex = idx
}
