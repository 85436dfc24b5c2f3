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
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testChunkSize   = uint32(1024 * 1024)
	testSegmentSize = uint64(2 * 1024 * 1024)
	testFileLength  = uint64(4 * 1024 * 1024)
)

func newTestStateMachine() (*CloneStateMachine, *fakeMetadataStore, *fakeDataStore, *fakeBlockStorageClient, *SnapshotReference) {
	meta := newFakeMetadataStore()
	data := newFakeDataStore()
	client := newFakeBlockStorageClient()
	ref := NewSnapshotReference()
	opts := Options{CloneTempDir: "/clone", CloneChunkSplitSize: 1024 * 1024}
	return NewCloneStateMachine(client, meta, data, ref, opts), meta, data, client, ref
}

func newSnapshotCloneTask(taskId string, isLazy bool) (*CloneTaskInfo, CloneInfo) {
	info := CloneInfo{
		TaskId:      taskId,
		User:        "user1",
		TaskType:    TaskTypeClone,
		Source:      "snap1",
		Destination: "dest1",
		FileType:    FileTypeSnapshot,
		IsLazy:      isLazy,
		Status:      StatusCloning,
		NextStep:    StepCreateCloneFile,
	}
	return NewCloneTaskInfo(info), info
}

// distinctCallOrder collapses consecutive repeats of the same client call
// (a step may touch the client once per segment or chunk) down to the
// sequence of steps actually entered, so a test can assert step order
// without hardcoding segment/chunk counts.
func distinctCallOrder(calls []string) []string {
	var out []string
	for _, c := range calls {
		if len(out) == 0 || out[len(out)-1] != c {
			out = append(out, c)
		}
	}
	return out
}

func seedSnapshot(meta *fakeMetadataStore) {
	meta.snapshots["snap1"] = SnapshotInfo{
		UUID:        "snap1",
		User:        "user1",
		FileName:    "file1",
		SeqNum:      100,
		ChunkSize:   testChunkSize,
		SegmentSize: testSegmentSize,
		FileLength:  testFileLength,
		Status:      SnapshotStatusDone,
	}
}

// S7: a lazy clone from a snapshot runs every step and ends done.
func TestHandleCloneOrRecoverTask_LazySnapshotSuccess(t *testing.T) {
	sm, meta, _, client, ref := newTestStateMachine()
	seedSnapshot(meta)
	task, info := newSnapshotCloneTask("task1", true)
	meta.clones[info.TaskId] = info
	ref.Increment(info.Source)

	sm.HandleCloneOrRecoverTask(context.Background(), task)

	require.Equal(t, StatusDone, task.CloneInfo().Status)
	require.Equal(t, StepEnd, task.CloneInfo().NextStep)
	require.Equal(t, 0, ref.GetRef(info.Source))
	require.Equal(t, []string{
		"CreateCloneFile",
		"GetOrAllocateSegmentInfo",
		"CreateCloneChunk",
		"CompleteCloneMeta",
		"RenameCloneFile",
		"RecoverChunk",
		"CompleteCloneFile",
	}, distinctCallOrder(client.calls))
}

// S8: a non-lazy clone from a snapshot runs every step (in the non-lazy
// order: recover-then-rename) and ends done.
func TestHandleCloneOrRecoverTask_NonLazySnapshotSuccess(t *testing.T) {
	sm, meta, _, client, ref := newTestStateMachine()
	seedSnapshot(meta)
	task, info := newSnapshotCloneTask("task2", false)
	meta.clones[info.TaskId] = info
	ref.Increment(info.Source)

	sm.HandleCloneOrRecoverTask(context.Background(), task)

	require.Equal(t, StatusDone, task.CloneInfo().Status)
	require.Equal(t, StepEnd, task.CloneInfo().NextStep)
	require.Equal(t, 0, ref.GetRef(info.Source))
	require.Equal(t, []string{
		"CreateCloneFile",
		"GetOrAllocateSegmentInfo",
		"CreateCloneChunk",
		"CompleteCloneMeta",
		"RecoverChunk",
		"CompleteCloneFile",
		"RenameCloneFile",
	}, distinctCallOrder(client.calls))
}

// S9: a failure at any step marks the task error and releases the
// snapshot reference, without completing later steps.
func TestHandleCloneOrRecoverTask_StepFailures(t *testing.T) {
	cases := []struct {
		name    string
		corrupt func(c *fakeBlockStorageClient)
	}{
		{"CreateCloneFile", func(c *fakeBlockStorageClient) { c.createCloneFileResult = TransportFailed }},
		{"CloneMeta", func(c *fakeBlockStorageClient) { c.getOrAllocateSegmentInfoFailAt = 0 }},
		{"CreateCloneChunk", func(c *fakeBlockStorageClient) { c.createCloneChunkFailAt = 0 }},
		{"CompleteCloneMeta", func(c *fakeBlockStorageClient) { c.completeCloneMetaResult = TransportFailed }},
		{"RecoverChunk", func(c *fakeBlockStorageClient) { c.recoverChunkFailAt = 0 }},
		{"RenameCloneFile", func(c *fakeBlockStorageClient) { c.renameCloneFileResult = TransportFailed }},
		{"CompleteCloneFile", func(c *fakeBlockStorageClient) { c.completeCloneFileResult = TransportFailed }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sm, meta, _, client, ref := newTestStateMachine()
			seedSnapshot(meta)
			task, info := newSnapshotCloneTask("task-"+tc.name, false)
			meta.clones[info.TaskId] = info
			ref.Increment(info.Source)

			tc.corrupt(client)

			sm.HandleCloneOrRecoverTask(context.Background(), task)

			require.Equal(t, StatusError, task.CloneInfo().Status)
			require.Equal(t, 0, ref.GetRef(info.Source))
		})
	}
}

// A failure building the preamble (snapshot not found) is fatal before any
// step runs.
func TestHandleCloneOrRecoverTask_BuildFileInfoFromSnapshotFails(t *testing.T) {
	sm, meta, _, _, ref := newTestStateMachine()
	task, info := newSnapshotCloneTask("task3", true)
	meta.clones[info.TaskId] = info
	ref.Increment(info.Source)

	sm.HandleCloneOrRecoverTask(context.Background(), task)

	require.Equal(t, StatusError, task.CloneInfo().Status)
	require.Equal(t, 0, ref.GetRef(info.Source))
}

// S10: a persisted NextStep value outside the known pipeline sequence is a
// fatal error, caught before any client call for that step.
func TestHandleCloneOrRecoverTask_UnknownNextStep(t *testing.T) {
	sm, meta, _, _, ref := newTestStateMachine()
	seedSnapshot(meta)
	_, info := newSnapshotCloneTask("task4", true)
	info.NextStep = Step(99)
	task := NewCloneTaskInfo(info)
	meta.clones[info.TaskId] = info
	ref.Increment(info.Source)

	sm.HandleCloneOrRecoverTask(context.Background(), task)

	require.Equal(t, StatusError, task.CloneInfo().Status)
	require.Equal(t, 0, ref.GetRef(info.Source))
}

// S14: a volume-sourced task whose reported file layout fails the
// segment-alignment check is rejected during the preamble.
func TestHandleCloneOrRecoverTask_InvalidSegmentLayout(t *testing.T) {
	cases := []struct {
		name   string
		layout FInfo
	}{
		{"ZeroSegmentSize", FInfo{Length: 4096, SegmentSize: 0}},
		{"ZeroLength", FInfo{Length: 0, SegmentSize: 1024}},
		{"MisalignedLength", FInfo{Length: 100, SegmentSize: 1024}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sm, meta, _, client, ref := newTestStateMachine()
			client.files["file1"] = tc.layout
			info := CloneInfo{
				TaskId: "task-" + tc.name, User: "user1", TaskType: TaskTypeClone,
				Source: "file1", Destination: "dest1", FileType: FileTypeFile,
				IsLazy: true, Status: StatusCloning, NextStep: StepCreateCloneFile,
			}
			meta.clones[info.TaskId] = info
			task := NewCloneTaskInfo(info)

			sm.HandleCloneOrRecoverTask(context.Background(), task)

			require.Equal(t, StatusError, task.CloneInfo().Status)
			require.Equal(t, 0, ref.GetRef(info.Source))
		})
	}
}

// S11/S12: cleaning a task in error state deletes its artifacts and its
// CloneInfo record. A lazy task's temp path is never touched; a non-lazy
// task's is.
func TestHandleCleanCloneOrRecoverTask_Success(t *testing.T) {
	for _, lazy := range []bool{true, false} {
		_, info := newSnapshotCloneTask("clean1", lazy)
		info.Status = StatusCleaning
		task := NewCloneTaskInfo(info)

		sm, meta, _, _, ref := newTestStateMachine()
		meta.clones[info.TaskId] = info
		ref.Increment(info.Source)

		sm.HandleCleanCloneOrRecoverTask(context.Background(), task)

		_, code := meta.GetCloneInfo(info.TaskId)
		require.Equal(t, ErrCodeFileNotExist, code)
		require.Equal(t, 0, ref.GetRef(info.Source))
	}
}

// S13: a delete failure on either path marks the task error instead of
// removing its record.
func TestHandleCleanCloneOrRecoverTask_DeleteFails(t *testing.T) {
	_, info := newSnapshotCloneTask("clean2", false)
	info.Status = StatusCleaning
	task := NewCloneTaskInfo(info)

	sm, meta, _, client, ref := newTestStateMachine()
	meta.clones[info.TaskId] = info
	ref.Increment(info.Source)
	client.deleteFileResults["dest1"] = TransportFailed

	sm.HandleCleanCloneOrRecoverTask(context.Background(), task)

	require.Equal(t, StatusError, task.CloneInfo().Status)
	stored, code := meta.GetCloneInfo(info.TaskId)
	require.Equal(t, ErrCodeSuccess, code)
	require.Equal(t, StatusError, stored.Status)
	require.Equal(t, 0, ref.GetRef(info.Source))
	require.Equal(t, []string{"DeleteFile:dest1"}, client.calls,
		"a hard failure on the final-path delete must short-circuit before the temp-path delete")
}

// A delete reporting NOTEXIST is treated the same as a successful delete.
func TestHandleCleanCloneOrRecoverTask_NotExistIsNotAFailure(t *testing.T) {
	_, info := newSnapshotCloneTask("clean3", true)
	info.Status = StatusCleaning
	task := NewCloneTaskInfo(info)

	sm, meta, _, client, ref := newTestStateMachine()
	meta.clones[info.TaskId] = info
	ref.Increment(info.Source)
	client.deleteFileResults["dest1"] = TransportNotExist

	sm.HandleCleanCloneOrRecoverTask(context.Background(), task)

	_, code := meta.GetCloneInfo(info.TaskId)
	require.Equal(t, ErrCodeFileNotExist, code)
	require.Equal(t, 0, ref.GetRef(info.Source))
}
