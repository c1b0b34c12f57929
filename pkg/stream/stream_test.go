package stream

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/compress"
	"ClusterFS/pkg/device"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/runs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisk(t *testing.T, clusters, clusterSize int64) *Disk {
	t.Helper()
	b, err := bitmap.New(device.NewMem(0), 0)
	require.NoError(t, err)
	a := bitmap.NewAllocator(b, 0)
	require.NoError(t, a.SetTotalClusters(clusters))
	return &Disk{Device: device.NewMem(clusters * clusterSize), Allocator: a, ClusterSize: clusterSize}
}

func newRaw(t *testing.T, disk *Disk) (*Raw, *runs.CookedRuns, runs.ExtentID) {
	t.Helper()
	arena := runs.NewArena()
	id := arena.Add(runs.NewExtent(0, nil))
	cooked, err := runs.Cook(arena)
	require.NoError(t, err)
	return NewRaw(disk, cooked, false), cooked, id
}

func freeCount(t *testing.T, disk *Disk) int64 {
	n, err := disk.Allocator.FreeClusterCount()
	require.NoError(t, err)
	return n
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i%251)
	}
	return p
}

func TestRawAllocateReleaseSymmetry(t *testing.T) {
	disk := newDisk(t, 1024, 512)
	raw, cooked, id := newRaw(t, disk)
	before := freeCount(t, disk)

	require.NoError(t, raw.ExpandTo(100, id, false))
	assert.Equal(t, int64(0), raw.AllocatedClusterCount())

	n, err := raw.Allocate(10, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	assert.Equal(t, before-50, freeCount(t, disk))
	assert.Equal(t, []bitmap.Range{{First: 10, Count: 50}}, raw.StoredClusters())
	all, err := raw.AreAllStored(10, 50)
	require.NoError(t, err)
	assert.True(t, all)

	// allocating again takes nothing
	n, err = raw.Allocate(0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	n, err = raw.Release(0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	n, err = raw.Release(60, 40)
	require.NoError(t, err)
	assert.Equal(t, int64(40), n)

	n, err = raw.Release(10, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)
	assert.Equal(t, before, freeCount(t, disk))
	require.Equal(t, 1, cooked.Len())
	assert.True(t, cooked.At(0).Sparse())
	assert.Equal(t, int64(100), cooked.At(0).Length())
}

func TestRawReadWrite(t *testing.T) {
	disk := newDisk(t, 256, 512)
	raw, _, id := newRaw(t, disk)
	require.NoError(t, raw.ExpandTo(8, id, true))
	assert.Equal(t, int64(8), raw.AllocatedClusterCount())

	data := pattern(3*512, 1)
	_, err := raw.Write(2, 3, data)
	require.NoError(t, err)

	require.NoError(t, raw.ExpandTo(12, id, false))
	_, err = raw.Write(9, 1, data)
	assert.ErrorIs(t, err, fserrors.ErrInvalidOperation)
	stored, err := raw.IsClusterStored(9)
	require.NoError(t, err)
	assert.False(t, stored)

	buf := bytes.Repeat([]byte{0xFF}, 12*512)
	require.NoError(t, raw.Read(0, 12, buf))
	assert.Equal(t, make([]byte, 2*512), buf[:2*512])
	assert.Equal(t, data, buf[2*512:5*512])
	assert.Equal(t, make([]byte, 7*512), buf[5*512:])

	err = raw.Read(0, 13, make([]byte, 13*512))
	assert.ErrorIs(t, err, fserrors.ErrCorruptExtentMap)
	err = raw.Read(0, 2, make([]byte, 512))
	assert.ErrorIs(t, err, fserrors.ErrInvalidOperation)
}

func TestRawClear(t *testing.T) {
	disk := newDisk(t, 256, 512)
	raw, _, id := newRaw(t, disk)
	require.NoError(t, raw.ExpandTo(40, id, true))
	require.NoError(t, raw.ExpandTo(48, id, false))
	_, err := raw.Write(0, 40, pattern(40*512, 9))
	require.NoError(t, err)

	delta, err := raw.Clear(0, 48)
	require.NoError(t, err)
	assert.Equal(t, int64(0), delta)
	assert.Equal(t, int64(40), raw.AllocatedClusterCount())

	buf := make([]byte, 48*512)
	require.NoError(t, raw.Read(0, 48, buf))
	assert.Equal(t, make([]byte, 48*512), buf)
}

func TestRawTruncate(t *testing.T) {
	disk := newDisk(t, 256, 512)
	raw, cooked, id := newRaw(t, disk)
	before := freeCount(t, disk)
	require.NoError(t, raw.ExpandTo(20, id, true))
	require.NoError(t, raw.TruncateTo(5))
	assert.Equal(t, int64(5), cooked.NextVirtualCluster())
	assert.Equal(t, int64(5), raw.AllocatedClusterCount())
	assert.Equal(t, before-5, freeCount(t, disk))
	assert.Equal(t, int64(4), cooked.Arena().Extent(id).LastVcn)

	require.NoError(t, raw.TruncateTo(0))
	assert.Equal(t, 0, cooked.Len())
	assert.Equal(t, before, freeCount(t, disk))
}

func TestRawAllocateOutOfSpace(t *testing.T) {
	disk := newDisk(t, 64, 512)
	raw, cooked, id := newRaw(t, disk)
	require.NoError(t, raw.ExpandTo(100, id, false))

	_, err := raw.Allocate(0, 100)
	assert.ErrorIs(t, err, fserrors.ErrOutOfSpace)
	assert.Equal(t, int64(64), freeCount(t, disk))
	assert.Equal(t, int64(0), raw.AllocatedClusterCount())
	assert.Equal(t, 1, cooked.Len())
}

func TestRawExpandOutOfSpace(t *testing.T) {
	disk := newDisk(t, 64, 512)
	raw, cooked, id := newRaw(t, disk)
	require.NoError(t, raw.ExpandTo(10, id, true))

	err := raw.ExpandTo(100, id, true)
	assert.ErrorIs(t, err, fserrors.ErrOutOfSpace)
	assert.Equal(t, int64(10), cooked.NextVirtualCluster())
	assert.Equal(t, int64(10), raw.AllocatedClusterCount())
	assert.Equal(t, int64(54), freeCount(t, disk))
	assert.Equal(t, int64(9), cooked.Arena().Extent(id).LastVcn)
}

func TestSparseStream(t *testing.T) {
	disk := newDisk(t, 256, 512)
	raw, cooked, id := newRaw(t, disk)
	s := NewSparse(raw, 16)

	require.NoError(t, s.ExpandTo(5, id, true))
	assert.Equal(t, int64(16), cooked.NextVirtualCluster())
	assert.Equal(t, int64(0), s.AllocatedClusterCount())

	data := pattern(3*512, 3)
	delta, err := s.Write(2, 3, data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), delta)
	buf := make([]byte, 3*512)
	require.NoError(t, s.Read(2, 3, buf))
	assert.Equal(t, data, buf)

	delta, err = s.Write(2, 3, data)
	require.NoError(t, err)
	assert.Equal(t, int64(0), delta)

	require.NoError(t, s.TruncateTo(3))
	assert.Equal(t, int64(16), cooked.NextVirtualCluster())
	assert.Equal(t, int64(1), s.AllocatedClusterCount())

	delta, err = s.Clear(0, 16)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), delta)
	assert.Equal(t, int64(256), freeCount(t, disk))
}

const (
	clusterSize = 4096
	unit        = 16
	unitBytes   = unit * clusterSize
)

func newCompressed(t *testing.T, disk *Disk) (*Compressed, *runs.CookedRuns, runs.ExtentID) {
	raw, cooked, id := newRaw(t, disk)
	block := compress.NewBlock(compress.NewCompressor("lz4"), clusterSize)
	return NewCompressed(raw, block, unit, func() int64 { return cooked.NextVirtualCluster() * clusterSize }), cooked, id
}

func textData(n int) []byte {
	return bytes.Repeat([]byte("all work and no play makes jack a dull boy\n"), n/43+1)[:n]
}

func noiseData(n int) []byte {
	p := make([]byte, n)
	rand.New(rand.NewSource(11)).Read(p)
	return p
}

func TestCompressedRoundTrip(t *testing.T) {
	for _, c := range []struct {
		name    string
		data    []byte
		compare func(int64) bool
	}{
		{"text", textData(unitBytes), func(n int64) bool { return n > 0 && n < unit }},
		{"noise", noiseData(unitBytes), func(n int64) bool { return n == unit }},
		{"zeros", make([]byte, unitBytes), func(n int64) bool { return n == 0 }},
	} {
		disk := newDisk(t, 1024, clusterSize)
		s, _, id := newCompressed(t, disk)
		require.NoError(t, s.ExpandTo(2*unit, id, false))

		delta, err := s.Write(unit, unit, c.data)
		require.NoError(t, err, c.name)
		assert.True(t, c.compare(delta), "%s: %d clusters", c.name, delta)
		assert.Equal(t, delta, s.AllocatedClusterCount(), c.name)
		assert.Equal(t, int64(1024)-delta, freeCount(t, disk), c.name)

		// a second stream has a cold cache
		fresh := NewCompressed(s.raw, s.block, unit, s.initialized)
		buf := make([]byte, 2*unitBytes)
		require.NoError(t, fresh.Read(0, 2*unit, buf), c.name)
		assert.Equal(t, make([]byte, unitBytes), buf[:unitBytes], c.name)
		assert.Equal(t, c.data, buf[unitBytes:], c.name)
	}
}

func TestCompressedPartialWrite(t *testing.T) {
	disk := newDisk(t, 1024, clusterSize)
	s, _, id := newCompressed(t, disk)
	require.NoError(t, s.ExpandTo(unit, id, false))

	text := textData(unitBytes)
	_, err := s.Write(0, unit, text)
	require.NoError(t, err)

	patch := pattern(clusterSize, 5)
	_, err = s.Write(5, 1, patch)
	require.NoError(t, err)
	want := append([]byte{}, text...)
	copy(want[5*clusterSize:], patch)

	buf := make([]byte, unitBytes)
	require.NoError(t, s.Read(0, unit, buf))
	assert.Equal(t, want, buf)

	fresh := NewCompressed(s.raw, s.block, unit, s.initialized)
	require.NoError(t, fresh.Read(0, unit, buf))
	assert.Equal(t, want, buf)
	stored, err := fresh.IsClusterStored(unit - 1)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestCompressedClear(t *testing.T) {
	disk := newDisk(t, 1024, clusterSize)
	s, cooked, id := newCompressed(t, disk)
	require.NoError(t, s.ExpandTo(2*unit, id, false))
	allocated, err := s.Write(0, 2*unit, append(noiseData(unitBytes), textData(unitBytes)...))
	require.NoError(t, err)

	// clearing part of a unit rewrites it
	delta, err := s.Clear(unit+1, unit-1)
	require.NoError(t, err)
	buf := make([]byte, clusterSize)
	require.NoError(t, s.Read(unit, 1, buf))
	assert.Equal(t, textData(clusterSize), buf)

	delta2, err := s.Clear(0, 2*unit)
	require.NoError(t, err)
	assert.Equal(t, int64(0), allocated+delta+delta2)
	assert.Equal(t, int64(0), s.AllocatedClusterCount())
	require.Equal(t, 1, cooked.Len())
	assert.True(t, cooked.At(0).Sparse())

	require.NoError(t, s.TruncateTo(3))
	assert.Equal(t, int64(unit), cooked.NextVirtualCluster())
}

func TestCompressedTruncateInsideUnit(t *testing.T) {
	for _, c := range []struct {
		name string
		data []byte
	}{
		{"noise", noiseData(unitBytes)},
		{"half", append(noiseData(unitBytes/2), textData(unitBytes/2)...)},
		{"text", textData(unitBytes)},
	} {
		disk := newDisk(t, 1024, clusterSize)
		s, cooked, id := newCompressed(t, disk)
		require.NoError(t, s.ExpandTo(2*unit, id, false))
		_, err := s.Write(0, 2*unit, append(append([]byte{}, c.data...), c.data...))
		require.NoError(t, err, c.name)

		require.NoError(t, s.TruncateTo(3), c.name)
		assert.Equal(t, int64(unit), cooked.NextVirtualCluster(), c.name)
		assert.True(t, s.AllocatedClusterCount() < unit, "%s: %d clusters", c.name, s.AllocatedClusterCount())
		assert.Equal(t, int64(1024)-s.AllocatedClusterCount(), freeCount(t, disk), c.name)

		fresh := NewCompressed(s.raw, s.block, unit, s.initialized)
		buf := make([]byte, unitBytes)
		require.NoError(t, fresh.Read(0, unit, buf), c.name)
		assert.Equal(t, c.data[:3*clusterSize], buf[:3*clusterSize], c.name)
		assert.Equal(t, make([]byte, unitBytes-3*clusterSize), buf[3*clusterSize:], c.name)
	}
}

func TestDecompressionShortfall(t *testing.T) {
	disk := newDisk(t, 1024, clusterSize)
	s, _, id := newCompressed(t, disk)
	require.NoError(t, s.ExpandTo(unit, id, false))

	c := compress.NewCompressor("lz4")
	payload := make([]byte, c.CompressBound(100))
	n, err := c.Compress(payload, textData(100))
	require.NoError(t, err)
	cluster := make([]byte, clusterSize)
	binary.LittleEndian.PutUint32(cluster, uint32(n))
	copy(cluster[4:], payload[:n])

	_, err = s.raw.Allocate(0, 1)
	require.NoError(t, err)
	_, err = s.raw.Write(0, 1, cluster)
	require.NoError(t, err)

	err = s.Read(0, 1, make([]byte, clusterSize))
	assert.ErrorIs(t, err, fserrors.ErrDecompressionShortfall)
	assert.Nil(t, s.cache)
}
