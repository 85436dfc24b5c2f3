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

	"github.com/makman07/curve/internal/util/log"
)

// AdmissionController validates clone/recover/clean requests and, on
// success, creates or transitions the durable CloneInfo record that
// drives the rest of the pipeline (spec §4.3).
type AdmissionController struct {
	client      BlockStorageClient
	metaStore   MetadataStore
	snapshotRef SnapshotReferenceCounter
}

// NewAdmissionController wires the collaborators an AdmissionController
// needs: the block-storage client, the metadata store, and the
// process-wide snapshot reference registry.
func NewAdmissionController(client BlockStorageClient, metaStore MetadataStore, snapshotRef SnapshotReferenceCounter) *AdmissionController {
	return &AdmissionController{
		client:      client,
		metaStore:   metaStore,
		snapshotRef: snapshotRef,
	}
}

// CloneOrRecoverPre validates a clone or recover request and, on success,
// persists a new CloneInfo record ready for dispatch (spec §4.3.1).
func (ac *AdmissionController) CloneOrRecoverPre(
	ctx context.Context,
	source, user, destination string,
	isLazy bool,
	taskType TaskType,
) (CloneInfo, ErrCode) {
	list, code := ac.metaStore.GetCloneInfoList()
	if code != ErrCodeSuccess {
		return CloneInfo{}, code
	}

	for _, existing := range list {
		if existing.Status != StatusError {
			continue
		}
		if existing.Destination == destination || existing.Source == source {
			return CloneInfo{}, ErrCodeSnapshotCannotCreateWhenError
		}
	}

	for _, existing := range list {
		if existing.Source == source &&
			existing.User == user &&
			existing.Destination == destination &&
			existing.TaskType == taskType &&
			(existing.Status == StatusDone) {
			return existing, ErrCodeSuccess
		}
	}

	fileType, code := ac.classifySource(source, user)
	if code != ErrCodeSuccess {
		return CloneInfo{}, code
	}

	info := NewCloneInfo(user, source, destination, isLazy, taskType, fileType)

	if code := ac.metaStore.AddCloneInfo(info); code != ErrCodeSuccess {
		return CloneInfo{}, code
	}

	if fileType == FileTypeSnapshot {
		ac.snapshotRef.Increment(source)
	}

	return info, ErrCodeSuccess
}

// classifySource implements the source-classification rule of spec
// §4.3.1 step 4: try the snapshot namespace first, then fall back to the
// volume namespace.
func (ac *AdmissionController) classifySource(source, user string) (FileType, ErrCode) {
	snap, code := ac.metaStore.GetSnapshotInfo(source)
	if code == ErrCodeSuccess {
		if snap.Status != SnapshotStatusDone {
			return "", ErrCodeInvalidSnapshot
		}
		if snap.User != user {
			return "", ErrCodeInvalidUser
		}
		return FileTypeSnapshot, ErrCodeSuccess
	}

	_, result := ac.client.GetFileInfo(context.Background(), source, user)
	switch result {
	case TransportOK:
		return FileTypeFile, ErrCodeSuccess
	case TransportNotExist:
		return "", ErrCodeFileNotExist
	case TransportAuthFail:
		return "", ErrCodeInvalidUser
	default:
		return "", ErrCodeInternalError
	}
}

// CleanCloneOrRecoverTaskPre validates a clean request and transitions the
// matching CloneInfo into the cleaning state (spec §4.3.2).
func (ac *AdmissionController) CleanCloneOrRecoverTaskPre(user, taskId string) (CloneInfo, ErrCode) {
	info, code := ac.metaStore.GetCloneInfo(taskId)
	if code != ErrCodeSuccess {
		return CloneInfo{}, ErrCodeFileNotExist
	}

	if info.User != user {
		return CloneInfo{}, ErrCodeInvalidUser
	}

	switch info.Status {
	case StatusCleaning:
		return CloneInfo{}, ErrCodeTaskExist
	case StatusError:
		// fall through to the transition below
	default:
		return CloneInfo{}, ErrCodeCannotCleanCloneNotError
	}

	info.Status = StatusCleaning
	if code := ac.metaStore.UpdateCloneInfo(info); code != ErrCodeSuccess {
		log.ErrorLogMsg("failed to persist cleaning status for task %s: %v", taskId, code)
		return CloneInfo{}, code
	}

	return info, ErrCodeSuccess
}
