package bitmap

import (
	"testing"

	"ClusterFS/pkg/device"
	"ClusterFS/pkg/fserrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocator(t *testing.T, clusters int64) (*Allocator, device.Device) {
	t.Helper()
	stream := device.NewMem(0)
	b, err := New(stream, 0)
	require.NoError(t, err)
	a := NewAllocator(b, 0)
	require.NoError(t, a.SetTotalClusters(clusters))
	return a, stream
}

func TestBitOrder(t *testing.T) {
	stream := device.NewMem(16)
	b, err := New(stream, 1)
	require.NoError(t, err)
	require.Equal(t, int64(128), b.Size())

	require.NoError(t, b.MarkPresent(1))
	require.NoError(t, b.MarkPresentRange(8, 3))
	raw := make([]byte, 2)
	_, err = stream.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x07}, raw)

	present, err := b.IsPresent(9)
	require.NoError(t, err)
	assert.True(t, present)
	present, err = b.IsPresent(11)
	require.NoError(t, err)
	assert.False(t, present)
	present, err = b.IsPresent(1000)
	require.NoError(t, err)
	assert.True(t, present, "entries past the end are never free")

	require.NoError(t, b.MarkAbsent(9))
	_, err = stream.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x05}, raw)
}

func TestScanHelpers(t *testing.T) {
	b, err := New(device.NewMem(64), 1)
	require.NoError(t, err)
	require.NoError(t, b.MarkPresentRange(0, 100))
	require.NoError(t, b.MarkPresentRange(130, 5))

	free, err := b.FindAbsent(0, 512)
	require.NoError(t, err)
	assert.Equal(t, int64(100), free)

	free, err = b.FindAbsent(0, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(90), free)

	run, err := b.AbsentRun(100, 1000, 512)
	require.NoError(t, err)
	assert.Equal(t, int64(30), run)

	run, err = b.AbsentRun(135, 1000, 512)
	require.NoError(t, err)
	assert.Equal(t, int64(512-135), run)

	run, err = b.AbsentRun(101, 7, 512)
	require.NoError(t, err)
	assert.Equal(t, int64(7), run)

	n, err := b.CountPresent(0, 512)
	require.NoError(t, err)
	assert.Equal(t, int64(105), n)
	n, err = b.CountPresent(97, 133)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestPagedBitmap(t *testing.T) {
	// three pages of bitmap with a single page of cache
	stream := device.NewMem(3 * pageSize)
	b, err := New(stream, 1)
	require.NoError(t, err)

	first := int64(pageSize*8 - 10)
	require.NoError(t, b.MarkPresentRange(first, 2*pageSize*8))
	n, err := b.CountPresent(0, b.Size())
	require.NoError(t, err)
	assert.Equal(t, int64(2*pageSize*8), n)

	reopened, err := New(stream, 2)
	require.NoError(t, err)
	free, err := reopened.FindAbsent(first, reopened.Size())
	require.NoError(t, err)
	assert.Equal(t, first+2*pageSize*8, free)

	pages, used := b.cache.stats()
	assert.Equal(t, int64(1), pages)
	assert.True(t, used <= pageSize)
}

func TestSetTotalClusters(t *testing.T) {
	a, stream := newAllocator(t, 100)
	size, err := stream.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(16), size, "13 bytes rounded up to a multiple of 8")

	free, err := a.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, int64(100), free)

	present, err := a.bitmap.IsPresent(99)
	require.NoError(t, err)
	assert.False(t, present)
	for lcn := int64(100); lcn < 128; lcn++ {
		present, err = a.bitmap.IsPresent(lcn)
		require.NoError(t, err)
		assert.True(t, present, "padding cluster %d", lcn)
	}

	// growing turns padding back into usable clusters
	require.NoError(t, a.SetTotalClusters(200))
	free, err = a.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, int64(200), free)
	present, err = a.bitmap.IsPresent(150)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestAllocatePrefersMiddleBands(t *testing.T) {
	a, _ := newAllocator(t, 1024)
	ranges, err := a.Allocate(10, -1, false, 0)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.GreaterOrEqual(t, ranges[0].First, int64(1024/8))
	assert.Equal(t, int64(10), ranges[0].Count)

	mft, err := a.Allocate(8, -1, true, 0)
	require.NoError(t, err)
	assert.Equal(t, []Range{{0, 8}}, mft)
}

func TestAllocateExtendsTail(t *testing.T) {
	a, _ := newAllocator(t, 1024)
	first, err := a.Allocate(4, -1, false, 0)
	require.NoError(t, err)
	tail := first[0].First + first[0].Count

	next, err := a.Allocate(6, tail, false, 4)
	require.NoError(t, err)
	assert.Equal(t, []Range{{tail, 6}}, next)
}

func TestAllocateFallsBackToLowBands(t *testing.T) {
	a, _ := newAllocator(t, 1024)
	require.NoError(t, a.MarkAllocated(64, 1024-64))
	ranges, err := a.Allocate(16, -1, false, 0)
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.True(t, ranges[0].First < 64)
}

func TestAllocateOutOfSpaceRollsBack(t *testing.T) {
	a, _ := newAllocator(t, 128)
	// leave 40 clusters free, scattered in pieces of 5
	require.NoError(t, a.MarkAllocated(0, 128))
	for i := int64(0); i < 8; i++ {
		require.NoError(t, a.Free(Range{i*16 + 3, 5}))
	}
	free, err := a.FreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, int64(40), free)

	_, err = a.Allocate(100, 3, false, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrOutOfSpace)

	free, err = a.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, int64(40), free)
}

func TestFragmentedMode(t *testing.T) {
	a, _ := newAllocator(t, 256)
	require.NoError(t, a.MarkAllocated(0, 256))
	// pieces of two clusters everywhere
	for lcn := int64(0); lcn < 256; lcn += 4 {
		require.NoError(t, a.Free(Range{lcn, 2}))
	}
	ranges, err := a.Allocate(8, -1, false, 0)
	require.NoError(t, err)
	assert.Len(t, ranges, 4)
	assert.True(t, a.Fragmented())

	require.NoError(t, a.Free(Range{200, 16}))
	ranges, err = a.Allocate(10, 200, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []Range{{200, 10}}, ranges)
	assert.False(t, a.Fragmented())
}

func TestAllocateFreeSymmetry(t *testing.T) {
	a, _ := newAllocator(t, 512)
	before, err := a.FreeClusterCount()
	require.NoError(t, err)

	ranges, err := a.Allocate(37, -1, false, 0)
	require.NoError(t, err)
	var got int64
	for _, r := range ranges {
		got += r.Count
	}
	assert.Equal(t, int64(37), got)

	mid, err := a.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, before-37, mid)

	require.NoError(t, a.Free(ranges...))
	after, err := a.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
