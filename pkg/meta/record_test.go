package meta

import (
	"testing"

	"ClusterFS/pkg/attr"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/runs"

	fuzz "github.com/google/gofuzz"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	r := NewRecord("docs/readme.txt")
	data := attr.NewAttribute("$DATA", attr.FlagCompressed)
	e := data.Extents.Extent(0)
	e.AppendRun(&runs.DataRun{Length: 16, Offset: 200})
	e.AppendRun(&runs.DataRun{Length: 32, Sparse: true})
	e.AppendRun(&runs.DataRun{Length: 3, Offset: -40})
	e.Fixup()
	data.Extents.Add(runs.NewExtent(51, []*runs.DataRun{{Length: 13, Offset: 7000}}))
	data.AllocatedLength = 64 * 4096
	data.DataLength = 250000
	data.InitializedDataLength = 200000
	data.CompressedDataSize = 32 * 4096
	r.AddAttribute(data)
	r.AddAttribute(attr.NewAttribute("$EA", 0))
	return r
}

func TestRecordRoundTrip(t *testing.T) {
	r := sampleRecord()
	assert.True(t, r.Dirty())

	got, err := UnmarshalRecord(r.Marshal())
	require.NoError(t, err)
	assert.False(t, got.Dirty())
	assert.Equal(t, r.Name, got.Name)
	require.Len(t, got.Attributes(), 2)

	want, have := r.Attribute("$DATA"), got.Attribute("$DATA")
	require.NotNil(t, have)
	assert.Equal(t, want.Flags, have.Flags)
	assert.Equal(t, want.CompressionUnit, have.CompressionUnit)
	assert.Equal(t, want.AllocatedLength, have.AllocatedLength)
	assert.Equal(t, want.DataLength, have.DataLength)
	assert.Equal(t, want.InitializedDataLength, have.InitializedDataLength)
	assert.Equal(t, want.CompressedDataSize, have.CompressedDataSize)
	require.Len(t, have.Extents.IDs(), 2)
	for _, id := range want.Extents.IDs() {
		assert.Equal(t, want.Extents.Extent(id).Encode(), have.Extents.Extent(id).Encode())
		assert.Equal(t, want.Extents.Extent(id).LastVcn, have.Extents.Extent(id).LastVcn)
	}

	cooked, err := runs.Cook(have.Extents)
	require.NoError(t, err)
	assert.Equal(t, int64(64), cooked.NextVirtualCluster())

	empty := got.Attribute("$EA")
	require.NotNil(t, empty)
	assert.Equal(t, int64(-1), empty.Extents.Extent(0).LastVcn)
}

func TestRecordRandomLengths(t *testing.T) {
	f := fuzz.New().NilChance(0)
	for i := 0; i < 50; i++ {
		var name string
		var lengths [4]int64
		f.Fuzz(&name)
		f.Fuzz(&lengths)
		r := NewRecord(name)
		a := attr.NewAttribute("$DATA", attr.FlagSparse)
		a.AllocatedLength, a.DataLength, a.InitializedDataLength, a.CompressedDataSize = lengths[0], lengths[1], lengths[2], lengths[3]
		r.AddAttribute(a)

		got, err := UnmarshalRecord(r.Marshal())
		require.NoError(t, err)
		assert.Equal(t, name, got.Name)
		b := got.Attribute("$DATA")
		assert.Equal(t, lengths, [4]int64{b.AllocatedLength, b.DataLength, b.InitializedDataLength, b.CompressedDataSize})
	}
}

func TestRecordCorrupt(t *testing.T) {
	buf := sampleRecord().Marshal()

	for _, n := range []int{0, 3, 10, len(buf) / 2, len(buf) - 1} {
		_, err := UnmarshalRecord(buf[:n])
		assert.True(t, errors.Is(err, fserrors.ErrCorruptExtentMap), "truncated at %d: %v", n, err)
	}

	bad := append([]byte{}, buf...)
	bad[0] ^= 0xff
	_, err := UnmarshalRecord(bad)
	assert.True(t, errors.Is(err, fserrors.ErrCorruptExtentMap))

	// $DATA sorts first; its primary extent's LastVcn follows the fixed
	// attribute header.
	off := 4 + 2 + len("docs/readme.txt") + 2 + 2 + len("$DATA") + 2 + 1 + 4*8 + 2 + 8
	bad = append([]byte{}, buf...)
	bad[off]++
	_, err = UnmarshalRecord(bad)
	assert.True(t, errors.Is(err, fserrors.ErrCorruptExtentMap))
}

func TestRecordDirty(t *testing.T) {
	r := NewRecord("a")
	r.Clean()
	assert.False(t, r.Dirty())
	r.AddAttribute(attr.NewAttribute("$DATA", 0))
	assert.True(t, r.Dirty())
	r.Clean()
	r.MarkDirty()
	assert.True(t, r.Dirty())
	r.Clean()
	r.RemoveAttribute("$DATA")
	assert.True(t, r.Dirty())
	assert.Nil(t, r.Attribute("$DATA"))
}
