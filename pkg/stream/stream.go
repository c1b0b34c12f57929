// pkg/stream/stream.go

// Package stream maps an attribute's virtual clusters onto the volume. Raw
// streams follow the run list as is, sparse streams allocate on write and
// release on clear, and compressed streams store whole compression units
// through a block compressor.
package stream

import (
	"io"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/utils"
)

var logger = utils.GetLogger("clusterfs")

// Disk is what a stream needs from its volume.
type Disk struct {
	Device      DeviceIO
	Allocator   *bitmap.Allocator
	ClusterSize int64
}

// DeviceIO is the byte-addressed side of a volume device.
type DeviceIO interface {
	io.ReaderAt
	io.WriterAt
}

// ClusterStream reads and writes an attribute in whole clusters. Write and
// Clear return the change in allocated clusters, negative when clusters
// were released.
type ClusterStream interface {
	AllocatedClusterCount() int64
	StoredClusters() []bitmap.Range
	IsClusterStored(vcn int64) (bool, error)
	ExpandTo(numVcns int64, extent runs.ExtentID, allocate bool) error
	TruncateTo(numVcns int64) error
	Read(vcn, count int64, buf []byte) error
	Write(vcn, count int64, buf []byte) (int64, error)
	Clear(vcn, count int64) (int64, error)
}
