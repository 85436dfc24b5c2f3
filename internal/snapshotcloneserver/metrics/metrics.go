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

// Package metrics holds the Prometheus instruments the clone core updates
// as tasks move through the pipeline (spec §4.8 C9). It
// follows the teacher's liveness package: package-level collectors that
// calling code updates directly, with a single Register entry point for
// cmd/snapshotcloneserver to call during bootstrap.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/makman07/curve/internal/util/log"
)

var (
	cloneTasksInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "snapshotcloneserver",
		Name:      "clone_tasks_in_flight",
		Help:      "Number of clone/recover tasks currently being executed, by task type",
	}, []string{"task_type"})

	cloneTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "snapshotcloneserver",
		Name:      "clone_tasks_total",
		Help:      "Total number of clone/recover tasks that have finished, by task type and terminal status",
	}, []string{"task_type", "status"})

	snapshotRefcount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "snapshotcloneserver",
		Name:      "snapshot_refcount",
		Help:      "Current number of active clone/recover tasks referencing a snapshot",
	}, []string{"snapshot_id"})
)

// Register adds all of this package's collectors to the default registry.
// cmd/snapshotcloneserver calls it once during startup, before serving
// /metrics.
func Register() {
	for _, c := range []prometheus.Collector{cloneTasksInFlight, cloneTasksTotal, snapshotRefcount} {
		if err := prometheus.Register(c); err != nil {
			log.WarningLogMsg("metrics: failed to register collector: %v", err)
		}
	}
}

// CloneTaskStarted records that a task of taskType has begun executing.
func CloneTaskStarted(taskType string) {
	cloneTasksInFlight.WithLabelValues(taskType).Inc()
}

// CloneTaskFinished records that a task of taskType reached a terminal
// status and is no longer in flight.
func CloneTaskFinished(taskType, status string) {
	cloneTasksInFlight.WithLabelValues(taskType).Dec()
	cloneTasksTotal.WithLabelValues(taskType, status).Inc()
}

// SetSnapshotRefcount reports the current reference count for a snapshot.
// A count of zero removes the series rather than leaving a stale zero
// behind once nothing references that snapshot anymore.
func SetSnapshotRefcount(snapshotID string, count int) {
	if count <= 0 {
		snapshotRefcount.DeleteLabelValues(snapshotID)
		return
	}
	snapshotRefcount.WithLabelValues(snapshotID).Set(float64(count))
}
