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

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/makman07/curve/internal/snapshotcloneserver/blockclient"
	"github.com/makman07/curve/internal/snapshotcloneserver/clone"
	"github.com/makman07/curve/internal/snapshotcloneserver/metrics"
	"github.com/makman07/curve/internal/snapshotcloneserver/store"
	"github.com/makman07/curve/internal/snapshotcloneserver/worker"
	"github.com/makman07/curve/internal/util"
	"github.com/makman07/curve/internal/util/log"
)

var conf util.Config

func init() {
	flag.StringVar(&conf.Monitors, "clustermonitors", "", "comma-separated list of cluster monitor addresses")
	flag.StringVar(&conf.RBDUser, "clusteruser", "", "cluster user to authenticate as")
	flag.StringVar(&conf.KeyFile, "clusterkeyfile", "", "path to the keyfile for clusteruser")
	flag.StringVar(&conf.Pool, "pool", "", "RBD pool clone/recover destinations are created in")

	flag.StringVar(&conf.StoreDir, "metadatabasedir", "/var/lib/snapshotcloneserver", "base directory the metadata/data store keeps its records under")

	flag.IntVar(&conf.WorkerPoolSize, "workerpoolsize", 8, "maximum number of clone/recover tasks executed concurrently")
	flag.Uint64Var(&conf.CloneChunkSplitSize, "clonechunksplitsize", 0, "max bytes moved per chunk-recovery call; 0 recovers a whole chunk at once")
	flag.StringVar(&conf.TempPathPrefix, "clonetempdir", "/clone-temp", "path prefix staged destination images are created under before renaming")

	flag.StringVar(&conf.MetricsAddress, "metricsaddress", "0.0.0.0:8080", "address the metrics/healthz HTTP server listens on")
	flag.StringVar(&conf.MetricsPath, "metricspath", "/metrics", "path of the prometheus endpoint")
	flag.StringVar(&conf.HealthzPath, "healthzpath", "/healthz", "path of the healthz endpoint")

	flag.BoolVar(&conf.Version, "version", false, "print snapshotcloneserver version information")

	klog.InitFlags(nil)
	if err := flag.Set("logtostderr", "true"); err != nil {
		klog.Exitf("failed to set logtostderr flag: %v", err)
	}
	flag.Parse()
}

func main() {
	if conf.Version {
		fmt.Println("snapshotcloneserver Version:", util.DriverVersion)
		fmt.Println("Git Commit:", util.GitCommit)
		fmt.Println("Go Version:", runtime.Version())
		fmt.Println("Compiler:", runtime.Compiler)
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if conf.Monitors == "" || conf.RBDUser == "" || conf.Pool == "" {
		klog.Exitf("clustermonitors, clusteruser and pool are required")
	}

	if err := util.ValidateMetricsPath(&conf); err != nil {
		klog.Exitf("invalid metricspath: %v", err)
	}

	metaStore, err := store.NewFileStore(conf.StoreDir)
	if err != nil {
		klog.Exitf("failed to open metadata store at %s: %v", conf.StoreDir, err)
	}

	connPool := util.NewConnPool(time.Minute, 10*time.Minute)
	client := blockclient.NewRBDClient(blockclient.Config{
		Monitors: conf.Monitors,
		User:     conf.RBDUser,
		KeyFile:  conf.KeyFile,
		Pool:     conf.Pool,
	}, connPool)

	snapshotRef := clone.NewSnapshotReference()
	admission := clone.NewAdmissionController(client, metaStore, snapshotRef)
	stateMachine := clone.NewCloneStateMachine(client, metaStore, metaStore, snapshotRef, clone.Options{
		CloneTempDir:        conf.TempPathPrefix,
		CloneChunkSplitSize: conf.CloneChunkSplitSize,
	})
	scheduler := worker.NewScheduler(conf.WorkerPoolSize)

	// admission is driven by the RPC front end, which is out of scope
	// here; it is still constructed so the store and snapshot refcount it
	// shares with stateMachine are the same instances a future front end
	// would use.
	_ = admission

	reconcileUnfinishedTasks(context.Background(), metaStore, stateMachine, scheduler)

	metrics.Register()

	mux := http.NewServeMux()
	mux.Handle(conf.MetricsPath, promhttp.Handler())
	mux.HandleFunc(conf.HealthzPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.ExtendedLogMsg("snapshotcloneserver listening on %s (metrics: %s, healthz: %s)",
		conf.MetricsAddress, conf.MetricsPath, conf.HealthzPath)
	if err := http.ListenAndServe(conf.MetricsAddress, mux); err != nil {
		klog.Exitf("failed to listen on %s: %v", conf.MetricsAddress, err)
	}
}

// reconcileUnfinishedTasks re-dispatches every CloneInfo left in a
// non-terminal status by a previous process's crash or restart, resuming
// each one from its persisted NextStep rather than from scratch (spec §5).
// A task mid-clean is re-dispatched to the clean path instead; done and
// error tasks are left alone, since error tasks wait for an explicit clean
// request and done tasks need nothing further.
func reconcileUnfinishedTasks(ctx context.Context, metaStore *store.FileStore, stateMachine *clone.CloneStateMachine, scheduler *worker.Scheduler) {
	infos, code := metaStore.GetCloneInfoList()
	if code != clone.ErrCodeSuccess {
		log.ErrorLogMsg("reconcile: failed to list clone records: %v", code)
		return
	}

	for _, info := range infos {
		var job worker.Job
		switch info.Status {
		case clone.StatusCloning, clone.StatusRecovering:
			job = stateMachine.HandleCloneOrRecoverTask
		case clone.StatusCleaning:
			job = stateMachine.HandleCleanCloneOrRecoverTask
		default:
			continue
		}

		task := clone.NewCloneTaskInfo(info)
		if err := scheduler.Dispatch(ctx, task, job); err != nil {
			log.ErrorLogMsg("reconcile: failed to dispatch task %s: %v", info.TaskId, err)
		}
	}
}
