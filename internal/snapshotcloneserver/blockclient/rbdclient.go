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

// Package blockclient implements the clone package's BlockStorageClient
// contract against a real Ceph cluster via librbd (spec §4.6 C7).
package blockclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/ceph/go-ceph/rados"
	librbd "github.com/ceph/go-ceph/rbd"

	"github.com/makman07/curve/internal/snapshotcloneserver/clone"
	"github.com/makman07/curve/internal/util"
	"github.com/makman07/curve/internal/util/log"
)

const (
	ownerMetadataKey  = "curve.owner"
	seqNumMetadataKey = "curve.seqnum"
)

// Config names the cluster and pool an RBDClient talks to.
type Config struct {
	Monitors string
	User     string
	KeyFile  string
	Pool     string
}

// RBDClient is a BlockStorageClient backed by a pooled connection to a
// single Ceph cluster and pool, grounded on ceph-csi's rbdVolume helpers
// (internal/rbd/rbd_util.go) and its pooled rados.Conn (internal/util/conn_pool.go).
type RBDClient struct {
	pool *util.ConnPool
	cfg  Config
}

// NewRBDClient wraps pool with the cluster and pool coordinates in cfg.
func NewRBDClient(cfg Config, pool *util.ConnPool) *RBDClient {
	return &RBDClient{pool: pool, cfg: cfg}
}

// withIoctx runs f against an IOContext for the client's pool, borrowing
// and returning a connection from the shared ConnPool around the call.
func (c *RBDClient) withIoctx(f func(ioctx *rados.IOContext) clone.TransportResult) clone.TransportResult {
	conn, err := c.pool.Get(c.cfg.Monitors, c.cfg.User, c.cfg.KeyFile)
	if err != nil {
		log.ErrorLogMsg("rbdclient: failed to get connection: %v", err)
		return clone.TransportFailed
	}
	defer c.pool.Put(conn)

	ioctx, err := conn.OpenIOContext(c.cfg.Pool)
	if err != nil {
		log.ErrorLogMsg("rbdclient: failed to open IO context on pool %s: %v", c.cfg.Pool, err)
		return clone.TransportFailed
	}
	defer ioctx.Destroy()

	return f(ioctx)
}

// classifyErr maps a librbd/rados error to a TransportResult. Cluster-level
// auth failures surface earlier, from ConnPool.Get itself (withIoctx
// reports those as TransportFailed); by the time an *rbd.Image call errors,
// only not-found is worth distinguishing from a generic failure.
func classifyErr(err error) clone.TransportResult {
	switch {
	case err == nil:
		return clone.TransportOK
	case errors.Is(err, librbd.ErrNotFound):
		return clone.TransportNotExist
	default:
		return clone.TransportFailed
	}
}

// objectOrder returns the librbd image order (log2 of the object size in
// bytes) that best matches chunkSize.
func objectOrder(chunkSize uint32) uint64 {
	if chunkSize == 0 {
		return 22 // 4MiB default, mirrors librbd's own default order.
	}
	return uint64(bits.Len32(chunkSize - 1))
}

// GetFileInfo implements clone.BlockStorageClient.
func (c *RBDClient) GetFileInfo(ctx context.Context, name, user string) (clone.FInfo, clone.TransportResult) {
	var out clone.FInfo
	result := c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		image, err := librbd.OpenImage(ioctx, name, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer image.Close()

		stat, err := image.Stat()
		if err != nil {
			return classifyErr(err)
		}

		owner, _ := image.GetMetadata(ownerMetadataKey)
		if owner != "" && owner != user {
			return clone.TransportAuthFail
		}

		var seqNum uint64
		if raw, err := image.GetMetadata(seqNumMetadataKey); err == nil {
			fmt.Sscanf(raw, "%d", &seqNum)
		}

		out = clone.FInfo{
			ChunkSize:   uint32(1) << stat.Order,
			SegmentSize: (uint64(1) << stat.Order) * 1024,
			Length:      stat.Size,
			SeqNum:      seqNum,
			Owner:       owner,
			FileName:    name,
		}
		return clone.TransportOK
	})
	return out, result
}

// CreateCloneFile implements clone.BlockStorageClient. It creates a thin
// image of the requested size; the actual content is materialized chunk by
// chunk by later CreateCloneChunk/RecoverChunk steps, matching the
// per-chunk recovery model the pipeline drives.
func (c *RBDClient) CreateCloneFile(ctx context.Context, dest, user string, length, seqNum uint64, chunkSize uint32) (clone.FInfo, clone.TransportResult) {
	var out clone.FInfo
	result := c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		options := librbd.NewRbdImageOptions()
		defer options.Destroy()
		if err := options.SetUint64(librbd.RbdImageOptionOrder, objectOrder(chunkSize)); err != nil {
			log.ErrorLogMsg("rbdclient: failed to set image order: %v", err)
			return clone.TransportFailed
		}

		if err := librbd.CreateImage(ioctx, dest, length, options); err != nil {
			log.ErrorLogMsg("rbdclient: failed to create image %s: %v", dest, err)
			return classifyErr(err)
		}

		image, err := librbd.OpenImage(ioctx, dest, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer image.Close()

		if err := image.SetMetadata(ownerMetadataKey, user); err != nil {
			log.WarningLogMsg("rbdclient: failed to set owner metadata on %s: %v", dest, err)
		}
		if err := image.SetMetadata(seqNumMetadataKey, fmt.Sprintf("%d", seqNum)); err != nil {
			log.WarningLogMsg("rbdclient: failed to set seqnum metadata on %s: %v", dest, err)
		}

		stat, err := image.Stat()
		if err != nil {
			return classifyErr(err)
		}
		out = clone.FInfo{
			Id:          fnv64(dest),
			ChunkSize:   chunkSize,
			SegmentSize: uint64(chunkSize) * 1024,
			Length:      stat.Size,
			SeqNum:      seqNum,
			Owner:       user,
			FileName:    dest,
		}
		return clone.TransportOK
	})
	return out, result
}

// GetOrAllocateSegmentInfo implements clone.BlockStorageClient. RBD images
// are thin-provisioned, so there is no separate segment-allocation table to
// populate; allocate forces the backing object at offset into existence so
// later chunk writes do not race the pipeline's own crash-recovery reread.
func (c *RBDClient) GetOrAllocateSegmentInfo(ctx context.Context, allocate bool, offset uint64, user, dest string) clone.TransportResult {
	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		image, err := librbd.OpenImage(ioctx, dest, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer image.Close()

		if !allocate {
			return clone.TransportOK
		}
		if _, err := image.WriteAt([]byte{0}, int64(offset)); err != nil {
			log.ErrorLogMsg("rbdclient: failed to allocate segment at %d on %s: %v", offset, dest, err)
			return classifyErr(err)
		}
		return clone.TransportOK
	})
}

// CreateCloneChunk implements clone.BlockStorageClient. location names the
// destination image a chunk belongs to (as built by the clone package);
// there is no separate chunk-metadata object to register beyond the
// destination image existing, so this call is a liveness check.
func (c *RBDClient) CreateCloneChunk(ctx context.Context, location string, chunkId clone.ChunkDataName, seqNum uint64, chunkSize uint32) clone.TransportResult {
	dest := destFromLocation(location)
	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		image, err := librbd.OpenImage(ioctx, dest, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer image.Close()
		return clone.TransportOK
	})
}

// CompleteCloneMeta implements clone.BlockStorageClient.
func (c *RBDClient) CompleteCloneMeta(ctx context.Context, dest, user string) clone.TransportResult {
	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		image, err := librbd.OpenImage(ioctx, dest, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer image.Close()
		if err := image.Flush(); err != nil {
			log.ErrorLogMsg("rbdclient: failed to flush %s: %v", dest, err)
			return classifyErr(err)
		}
		return clone.TransportOK
	})
}

// RecoverChunk implements clone.BlockStorageClient. It copies the byte
// range from the image named by chunkId.FileName (at snapshot
// "seq-<ChunkSeqNum>" when ChunkSeqNum is non-zero) into dest. A chunkId
// with an empty FileName names no source image, so the call is a no-op
// and the destination keeps its thin-provisioned zero-fill.
func (c *RBDClient) RecoverChunk(ctx context.Context, dest string, chunkId clone.ChunkDataName, offset, length uint64) clone.TransportResult {
	if chunkId.FileName == "" {
		return clone.TransportOK
	}

	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		srcSnap := librbd.NoSnapshot
		if chunkId.ChunkSeqNum != 0 {
			srcSnap = fmt.Sprintf("seq-%d", chunkId.ChunkSeqNum)
		}

		src, err := librbd.OpenImage(ioctx, chunkId.FileName, srcSnap)
		if err != nil {
			return classifyErr(err)
		}
		defer src.Close()

		destImage, err := librbd.OpenImage(ioctx, dest, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer destImage.Close()

		buf := make([]byte, length)
		if _, err := src.ReadAt(buf, int64(offset)); err != nil && !errors.Is(err, io.EOF) {
			log.ErrorLogMsg("rbdclient: failed to read chunk from %s at %d: %v", chunkId.FileName, offset, err)
			return classifyErr(err)
		}
		if _, err := destImage.WriteAt(buf, int64(offset)); err != nil {
			log.ErrorLogMsg("rbdclient: failed to write chunk to %s at %d: %v", dest, offset, err)
			return classifyErr(err)
		}
		return clone.TransportOK
	})
}

// RenameCloneFile implements clone.BlockStorageClient. origId/newId are
// carried for audit logging only; librbd addresses images by name.
func (c *RBDClient) RenameCloneFile(ctx context.Context, user string, origId, newId uint64, origPath, newPath string) clone.TransportResult {
	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		if err := librbd.RenameImage(ioctx, origPath, newPath); err != nil {
			log.ErrorLogMsg("rbdclient: failed to rename %s (id %d) to %s (id %d): %v", origPath, origId, newPath, newId, err)
			return classifyErr(err)
		}
		return clone.TransportOK
	})
}

// CompleteCloneFile implements clone.BlockStorageClient.
func (c *RBDClient) CompleteCloneFile(ctx context.Context, name, user string) clone.TransportResult {
	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		image, err := librbd.OpenImage(ioctx, name, librbd.NoSnapshot)
		if err != nil {
			return classifyErr(err)
		}
		defer image.Close()
		return clone.TransportOK
	})
}

// DeleteFile implements clone.BlockStorageClient, grounded on ceph-csi's
// deleteImage (internal/rbd/rbd_util.go).
func (c *RBDClient) DeleteFile(ctx context.Context, path, user string, force bool) clone.TransportResult {
	return c.withIoctx(func(ioctx *rados.IOContext) clone.TransportResult {
		if err := librbd.RemoveImage(ioctx, path); err != nil {
			if errors.Is(err, librbd.ErrNotFound) {
				return clone.TransportNotExist
			}
			log.ErrorLogMsg("rbdclient: failed to remove image %s: %v", path, err)
			return classifyErr(err)
		}
		return clone.TransportOK
	})
}

func destFromLocation(location string) string {
	for i := len(location) - 1; i >= 0; i-- {
		if location[i] == '/' {
			return location[:i]
		}
	}
	return location
}

func fnv64(s string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

var _ clone.BlockStorageClient = (*RBDClient)(nil)
