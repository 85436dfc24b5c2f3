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

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/makman07/curve/internal/snapshotcloneserver/clone"
)

func TestFileStore_CloneInfoRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	info := clone.CloneInfo{TaskId: "task1", User: "user1", Status: clone.StatusCloning}
	require.Equal(t, clone.ErrCodeSuccess, fs.AddCloneInfo(info))

	got, code := fs.GetCloneInfo("task1")
	require.Equal(t, clone.ErrCodeSuccess, code)
	require.Equal(t, info.User, got.User)

	info.Status = clone.StatusDone
	require.Equal(t, clone.ErrCodeSuccess, fs.UpdateCloneInfo(info))

	got, code = fs.GetCloneInfo("task1")
	require.Equal(t, clone.ErrCodeSuccess, code)
	require.Equal(t, clone.StatusDone, got.Status)

	list, code := fs.GetCloneInfoList()
	require.Equal(t, clone.ErrCodeSuccess, code)
	require.Len(t, list, 1)

	require.Equal(t, clone.ErrCodeSuccess, fs.DeleteCloneInfo("task1"))
	_, code = fs.GetCloneInfo("task1")
	require.Equal(t, clone.ErrCodeFileNotExist, code)
}

func TestFileStore_AddCloneInfoRejectsDuplicate(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	info := clone.CloneInfo{TaskId: "task1"}
	require.Equal(t, clone.ErrCodeSuccess, fs.AddCloneInfo(info))
	require.Equal(t, clone.ErrCodeInternalError, fs.AddCloneInfo(info))
}

func TestFileStore_SnapshotInfoRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, code := fs.GetSnapshotInfo("missing")
	require.Equal(t, clone.ErrCodeFileNotExist, code)

	snap := clone.SnapshotInfo{UUID: "snap1", User: "user1", Status: clone.SnapshotStatusDone}
	require.Equal(t, clone.ErrCodeSuccess, fs.PutSnapshotInfo(snap))

	got, code := fs.GetSnapshotInfo("snap1")
	require.Equal(t, clone.ErrCodeSuccess, code)
	require.Equal(t, snap.User, got.User)
}

func TestFileStore_ChunkIndexDataRoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	idx := clone.NewChunkIndexData()
	idx.PutChunkDataName(0, clone.ChunkDataName{FileName: "file1", ChunkSeqNum: 1, ChunkIndex: 0})
	idx.PutChunkDataName(1, clone.ChunkDataName{FileName: "file1", ChunkSeqNum: 1, ChunkIndex: 1})

	require.Equal(t, clone.ErrCodeSuccess, fs.PutChunkIndexData("snap1", idx))

	got, code := fs.GetChunkIndexData("snap1")
	require.Equal(t, clone.ErrCodeSuccess, code)
	require.Equal(t, 2, got.Len())
	name, ok := got.GetChunkDataName(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), name.ChunkIndex)
}
