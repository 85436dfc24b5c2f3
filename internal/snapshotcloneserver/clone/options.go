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

// Options configures the fixed knobs of the clone pipeline (spec §6
// Configuration).
type Options struct {
	// CloneTempDir prefixes the temporary, not-yet-visible destination
	// path used during a clone/recover task: CloneTempDir + "/" + TaskId.
	CloneTempDir string
	// CloneChunkSplitSize bounds the length passed to a single
	// RecoverChunk call; larger chunks are recovered in slices.
	CloneChunkSplitSize uint64
}

func (o Options) tempPath(taskId string) string {
	return o.CloneTempDir + "/" + taskId
}
