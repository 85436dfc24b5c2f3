/*
Copyright 2019 The Ceph-CSI Authors.

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

package util

import (
	"errors"
	"net/url"
)

// variables which will be set during the build time.
var (
	// GitCommit tell the latest git commit image is built from.
	GitCommit string
	// DriverVersion which will be driver version.
	DriverVersion string
)

// Config holds the snapshotcloneserver's command-line configuration.
type Config struct {
	// RBD cluster connection.
	Monitors string // comma-separated list of monitor addresses
	RBDUser  string
	KeyFile  string
	Pool     string

	// on-disk metadata/data store.
	StoreDir string // base directory FileStore keeps its JSON records under

	// task execution.
	WorkerPoolSize      int    // number of clone/recover tasks allowed to run concurrently
	CloneChunkSplitSize uint64 // max bytes moved per RecoverChunk call; 0 means one call per chunk
	TempPathPrefix      string // directory clone tasks stage their destination image under before renaming

	// HTTP server serving /metrics and /healthz.
	MetricsAddress string // host:port to listen on
	MetricsPath    string
	HealthzPath    string

	Version bool
}

// ValidateMetricsPath validates the configured metrics endpoint path.
func ValidateMetricsPath(c *Config) error {
	if c.MetricsPath == "" {
		return errors.New("metrics path must not be empty")
	}
	_, err := url.Parse(c.MetricsPath)

	return err
}
