package attr

import (
	"bytes"
	"math/rand"
	"testing"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/compress"
	"ClusterFS/pkg/device"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cs = 4096

type testRecord struct {
	dirty int
}

func (r *testRecord) MarkDirty() { r.dirty++ }

func newDisk(t *testing.T, clusters int64) *stream.Disk {
	t.Helper()
	b, err := bitmap.New(device.NewMem(0), 0)
	require.NoError(t, err)
	a := bitmap.NewAllocator(b, 0)
	require.NoError(t, a.SetTotalClusters(clusters))
	return &stream.Disk{Device: device.NewMem(clusters * cs), Allocator: a, ClusterSize: cs}
}

func open(t *testing.T, disk *stream.Disk, a *Attribute) (*Buffer, *testRecord) {
	t.Helper()
	rec := &testRecord{}
	b, err := Open(disk, rec, a, compress.NewBlock(compress.NewCompressor("lz4"), cs))
	require.NoError(t, err)
	return b, rec
}

func readAll(t *testing.T, b *Buffer) []byte {
	t.Helper()
	buf := make([]byte, b.Capacity())
	n, err := b.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	return buf
}

func text(n int) []byte {
	return bytes.Repeat([]byte("sphinx of black quartz, judge my vow. "), n/38+1)[:n]
}

func TestZeroWriteOnCompressedAttribute(t *testing.T) {
	disk := newDisk(t, 1024)
	b, rec := open(t, disk, NewAttribute("data", FlagCompressed))

	require.NoError(t, b.Write(0, make([]byte, 10000)))
	assert.Equal(t, int64(0), b.AllocatedClusterCount())
	assert.GreaterOrEqual(t, b.Capacity(), int64(10000))
	assert.Equal(t, int64(0), b.Attribute().CompressedDataSize)
	assert.True(t, rec.dirty > 0)

	buf := bytes.Repeat([]byte{0xEE}, 10000)
	n, err := b.Read(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 10000, n)
	assert.Equal(t, make([]byte, 10000), buf)
}

func TestPlainWriteRead(t *testing.T) {
	disk := newDisk(t, 1024)
	b, _ := open(t, disk, NewAttribute("data", 0))

	data := text(10000)
	require.NoError(t, b.Write(100, data))
	assert.Equal(t, int64(10100), b.Capacity())
	assert.Equal(t, int64(10100), b.Attribute().InitializedDataLength)
	assert.Equal(t, int64(3), b.AllocatedClusterCount())
	assert.Equal(t, int64(3*cs), b.Attribute().AllocatedLength)

	got := readAll(t, b)
	assert.Equal(t, make([]byte, 100), got[:100])
	assert.Equal(t, data, got[100:])

	n, err := b.Read(20000, make([]byte, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = b.Read(10000, make([]byte, 1000))
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestWriteBeyondInitialized(t *testing.T) {
	disk := newDisk(t, 1024)
	b, _ := open(t, disk, NewAttribute("data", 0))

	require.NoError(t, b.Write(0, []byte("abc")))
	// garbage on the device must never show through the gap
	lcn := b.Runs().At(0).StartLcn
	_, err := disk.Device.WriteAt(bytes.Repeat([]byte{0x55}, 3*cs), lcn*cs)
	require.NoError(t, err)
	require.NoError(t, b.Write(0, []byte("abc")))

	require.NoError(t, b.Write(9000, []byte("xyz")))
	got := readAll(t, b)
	require.Len(t, got, 9003)
	assert.Equal(t, []byte("abc"), got[:3])
	assert.Equal(t, make([]byte, 9000-3), got[3:9000])
	assert.Equal(t, []byte("xyz"), got[9000:])
}

func TestShrinkClampsInitialized(t *testing.T) {
	disk := newDisk(t, 1024)
	b, _ := open(t, disk, NewAttribute("data", 0))
	free, err := disk.Allocator.FreeClusterCount()
	require.NoError(t, err)

	require.NoError(t, b.Write(0, text(5*cs)))
	require.NoError(t, b.SetCapacity(cs+10))
	assert.Equal(t, int64(2), b.AllocatedClusterCount())
	assert.Equal(t, int64(cs+10), b.Attribute().InitializedDataLength)
	assert.Equal(t, text(cs+10), readAll(t, b))

	require.NoError(t, b.SetCapacity(0))
	after, err := disk.Allocator.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, free, after)
	assert.Equal(t, int64(0), b.Attribute().AllocatedLength)
}

func TestShrinkDropsExtents(t *testing.T) {
	disk := newDisk(t, 1024)
	require.NoError(t, disk.Allocator.MarkAllocated(200, 10))
	require.NoError(t, disk.Allocator.MarkAllocated(400, 10))

	a := NewAttribute("data", 0)
	a.Extents.Extent(0).Runs = []*runs.DataRun{{Length: 10, Offset: 200}}
	a.Extents.Extent(0).Fixup()
	second := a.Extents.Add(runs.NewExtent(10, []*runs.DataRun{{Length: 10, Offset: 400}}))
	a.DataLength, a.InitializedDataLength, a.AllocatedLength = 20*cs, 20*cs, 20*cs

	b, _ := open(t, disk, a)
	require.NoError(t, b.SetCapacity(5*cs))
	assert.Nil(t, a.Extents.Extent(second))
	assert.Equal(t, int64(4), a.Extents.Extent(0).LastVcn)
	free, err := disk.Allocator.FreeClusterCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1024-5), free)

	// growing again stays in the primary extent
	require.NoError(t, b.SetCapacity(8*cs))
	assert.Equal(t, int64(7), a.Extents.Extent(0).LastVcn)
	assert.Equal(t, int64(8), b.AllocatedClusterCount())
}

func TestSparseClear(t *testing.T) {
	disk := newDisk(t, 1024)
	b, _ := open(t, disk, NewAttribute("data", FlagSparse))

	data := text(16 * cs)
	require.NoError(t, b.Write(0, data))
	assert.Equal(t, int64(16), b.AllocatedClusterCount())
	assert.Equal(t, int64(16*cs), b.Attribute().CompressedDataSize)

	require.NoError(t, b.Clear(cs, 2*cs))
	assert.Equal(t, int64(14), b.AllocatedClusterCount())
	assert.Equal(t, int64(14*cs), b.Attribute().CompressedDataSize)

	require.NoError(t, b.Clear(10, 20))
	want := append([]byte{}, data...)
	for i := 10; i < 30; i++ {
		want[i] = 0
	}
	for i := cs; i < 3*cs; i++ {
		want[i] = 0
	}
	assert.Equal(t, want, readAll(t, b))
}

func TestCompressedBuffer(t *testing.T) {
	disk := newDisk(t, 1024)
	b, _ := open(t, disk, NewAttribute("data", FlagCompressed))

	data := text(100000)
	require.NoError(t, b.Write(5000, data))
	got := readAll(t, b)
	assert.Equal(t, make([]byte, 5000), got[:5000])
	assert.Equal(t, data, got[5000:])

	a := b.Attribute()
	assert.Equal(t, b.AllocatedClusterCount()*cs, a.CompressedDataSize)
	assert.True(t, b.AllocatedClusterCount() < 26)
	assert.Equal(t, int64(0), a.AllocatedLength%(16*cs))

	// a second handle sees the same bytes
	again, _ := open(t, disk, a)
	assert.Equal(t, got, readAll(t, again))

	require.NoError(t, b.Clear(0, b.Capacity()))
	assert.Equal(t, int64(0), b.AllocatedClusterCount())
	assert.Equal(t, int64(0), a.CompressedDataSize)

	require.NoError(t, b.AlignVirtualClusterCount())
	assert.Equal(t, int64(0), a.AllocatedLength%(16*cs))
}

func TestCompressedShrinkKeepsHead(t *testing.T) {
	noise := make([]byte, 16*cs)
	rand.New(rand.NewSource(7)).Read(noise)
	half := append(append([]byte{}, noise[:8*cs]...), text(8*cs)...)

	for _, c := range []struct {
		name string
		data []byte
		size int64
	}{
		{"noise", noise, 10000},
		{"half", half, 10000},
		{"half-clusters", half, 3 * cs},
	} {
		t.Run(c.name, func(t *testing.T) {
			disk := newDisk(t, 1024)
			b, _ := open(t, disk, NewAttribute("data", FlagCompressed))
			require.NoError(t, b.Write(0, c.data))
			before := b.AllocatedClusterCount()

			require.NoError(t, b.SetCapacity(c.size))
			a := b.Attribute()
			assert.Equal(t, c.size, a.DataLength)
			assert.Equal(t, int64(16*cs), a.AllocatedLength)
			assert.True(t, b.AllocatedClusterCount() < before, "%d clusters left of %d", b.AllocatedClusterCount(), before)
			assert.Equal(t, b.AllocatedClusterCount()*cs, a.CompressedDataSize)

			again, _ := open(t, disk, a)
			assert.Equal(t, c.data[:c.size], readAll(t, again))

			require.NoError(t, again.SetCapacity(4*cs))
			got := readAll(t, again)
			assert.Equal(t, c.data[:c.size], got[:c.size])
			assert.Equal(t, make([]byte, 4*cs-c.size), got[c.size:])
		})
	}
}
