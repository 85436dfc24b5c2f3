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

// Package worker is the dispatch layer that hands an admitted CloneTaskInfo
// to a goroutine and keeps track of which TaskIds are currently running
// (spec §4.7 C8). It is modeled on the teacher's TaskController
// (internal/controller/taskcontroller.go), made safe for concurrent use and
// bounded by a fixed-size worker pool.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/makman07/curve/internal/snapshotcloneserver/clone"
)

// ErrTaskInUse is returned by Dispatch when taskId is already running.
type ErrTaskInUse struct {
	TaskId string
}

func (e ErrTaskInUse) Error() string {
	return fmt.Sprintf("task %s is already running", e.TaskId)
}

// Job is the unit of work a Scheduler runs: either
// CloneStateMachine.HandleCloneOrRecoverTask or
// CloneStateMachine.HandleCleanCloneOrRecoverTask, bound to one task.
type Job func(ctx context.Context, task *clone.CloneTaskInfo)

// Scheduler dispatches jobs onto a bounded pool of worker goroutines and
// refuses to start a TaskId that is already in flight.
type Scheduler struct {
	mu      sync.Mutex
	running map[string]struct{}
	slots   chan struct{}
}

// NewScheduler returns a Scheduler that runs at most poolSize jobs
// concurrently; further dispatched jobs wait in their goroutines until a
// slot frees up, while Dispatch itself returns without waiting.
func NewScheduler(poolSize int) *Scheduler {
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Scheduler{
		running: make(map[string]struct{}),
		slots:   make(chan struct{}, poolSize),
	}
}

// ContainsTask reports whether taskId currently has a job running.
func (s *Scheduler) ContainsTask(taskId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskId]
	return ok
}

// Dispatch runs job for task in its own goroutine, once a worker slot is
// free, and returns ErrTaskInUse immediately if task's TaskId is already
// running. The job is removed from the running set when it returns.
func (s *Scheduler) Dispatch(ctx context.Context, task *clone.CloneTaskInfo, job Job) error {
	taskId := task.CloneInfo().TaskId

	s.mu.Lock()
	if _, ok := s.running[taskId]; ok {
		s.mu.Unlock()
		return ErrTaskInUse{TaskId: taskId}
	}
	s.running[taskId] = struct{}{}
	s.mu.Unlock()

	go func() {
		s.slots <- struct{}{}
		defer func() { <-s.slots }()
		defer s.delete(taskId)

		job(ctx, task)
	}()

	return nil
}

func (s *Scheduler) delete(taskId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, taskId)
}
