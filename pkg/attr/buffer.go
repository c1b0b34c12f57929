// pkg/attr/buffer.go

package attr

import (
	"ClusterFS/pkg/compress"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/stream"
	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
)

// Buffer reads and writes an attribute at byte granularity. Bytes past the
// initialized length read as zeros and are zero-filled before any write
// beyond them lands.
type Buffer struct {
	rec    Record
	attr   *Attribute
	runs   *runs.CookedRuns
	stream stream.ClusterStream
	cs     int64
	ioBuf  []byte
}

// Open cooks the attribute's runs and picks the cluster stream for its flags.
// block may be nil, in which case compressed attributes are handled like
// sparse ones.
func Open(disk *stream.Disk, rec Record, a *Attribute, block compress.Block) (*Buffer, error) {
	cooked, err := runs.Cook(a.Extents)
	if err != nil {
		return nil, errors.Wrapf(err, "attribute %s", a.Name)
	}
	raw := stream.NewRaw(disk, cooked, false)
	b := &Buffer{rec: rec, attr: a, runs: cooked, cs: disk.ClusterSize, ioBuf: make([]byte, disk.ClusterSize)}
	switch {
	case a.IsCompressed() && block != nil:
		b.stream = stream.NewCompressed(raw, block, a.CompressionUnitSize(), func() int64 { return a.InitializedDataLength })
	case a.IsCompressed() || a.IsSparse():
		b.stream = stream.NewSparse(raw, a.CompressionUnitSize())
	default:
		b.stream = raw
	}
	return b, nil
}

func (b *Buffer) Attribute() *Attribute { return b.attr }

// Runs is the cooked run list, for inspection.
func (b *Buffer) Runs() *runs.CookedRuns { return b.runs }

func (b *Buffer) Capacity() int64 { return b.attr.DataLength }

func (b *Buffer) AllocatedClusterCount() int64 { return b.stream.AllocatedClusterCount() }

func (b *Buffer) tracksAllocation() bool {
	return b.attr.IsCompressed() || b.attr.IsSparse()
}

func (b *Buffer) account(delta int64) {
	if b.tracksAllocation() {
		b.attr.CompressedDataSize += delta * b.cs
	}
}

func (b *Buffer) lastExtent() runs.ExtentID {
	if last := b.runs.Last(); last != nil {
		return last.Extent
	}
	return b.attr.Extents.Last()
}

// SetCapacity changes the data length. Raw attributes get their clusters
// allocated right away.
func (b *Buffer) SetCapacity(value int64) error {
	if value < 0 {
		return errors.Errorf("negative capacity %d", value)
	}
	if value == b.attr.DataLength {
		return nil
	}
	clusters := utils.Ceil(value, b.cs)
	if value < b.attr.DataLength {
		if err := b.stream.TruncateTo(clusters); err != nil {
			return err
		}
		for _, id := range b.attr.Extents.Empty() {
			if id != 0 {
				b.attr.Extents.Remove(id)
			}
		}
		if b.attr.InitializedDataLength > value {
			b.attr.InitializedDataLength = value
		}
	} else if err := b.stream.ExpandTo(clusters, b.lastExtent(), !b.tracksAllocation()); err != nil {
		return err
	}
	b.attr.AllocatedLength = b.runs.NextVirtualCluster() * b.cs
	b.attr.DataLength = value
	if b.tracksAllocation() {
		b.attr.CompressedDataSize = b.stream.AllocatedClusterCount() * b.cs
	}
	logger.Debugf("attribute %s resized to %d bytes, %d clusters mapped", b.attr.Name, value, b.runs.NextVirtualCluster())
	b.rec.MarkDirty()
	return nil
}

// Read copies up to len(buf) bytes from pos and returns how many it copied;
// it stops at the data length.
func (b *Buffer) Read(pos int64, buf []byte) (int, error) {
	if pos < 0 {
		return 0, errors.Errorf("negative position %d", pos)
	}
	if pos >= b.Capacity() {
		return 0, nil
	}
	toRead := utils.Min(int64(len(buf)), b.Capacity()-pos)
	readable := utils.Max(0, utils.Min(toRead, b.attr.InitializedDataLength-pos))

	var done int64
	for done < readable {
		focus := pos + done
		vcn := focus / b.cs
		offset := focus - vcn*b.cs
		remaining := readable - done
		if offset == 0 && remaining >= b.cs {
			n := remaining / b.cs
			if err := b.stream.Read(vcn, n, buf[done:done+n*b.cs]); err != nil {
				return int(done), err
			}
			done += n * b.cs
			continue
		}
		if err := b.stream.Read(vcn, 1, b.ioBuf); err != nil {
			return int(done), err
		}
		n := utils.Min(remaining, b.cs-offset)
		copy(buf[done:done+n], b.ioBuf[offset:offset+n])
		done += n
	}
	for i := readable; i < toRead; i++ {
		buf[i] = 0
	}
	return int(toRead), nil
}

// Write stores buf at pos, growing the attribute as needed.
func (b *Buffer) Write(pos int64, buf []byte) error {
	if pos < 0 {
		return errors.Errorf("negative position %d", pos)
	}
	count := int64(len(buf))
	if count == 0 {
		return nil
	}
	if pos+count > b.Capacity() {
		if err := b.SetCapacity(pos + count); err != nil {
			return err
		}
	}
	if pos > b.attr.InitializedDataLength {
		if err := b.initializeData(pos); err != nil {
			return err
		}
	}

	var delta, done int64
	var err error
	defer func() {
		b.account(delta)
		b.rec.MarkDirty()
	}()
	for done < count {
		focus := pos + done
		vcn := focus / b.cs
		offset := focus - vcn*b.cs
		remaining := count - done
		var d int64
		if offset == 0 && remaining >= b.cs {
			n := remaining / b.cs
			d, err = b.stream.Write(vcn, n, buf[done:done+n*b.cs])
			delta += d
			if err != nil {
				return err
			}
			done += n * b.cs
			continue
		}
		n := utils.Min(remaining, b.cs-offset)
		if err = b.stream.Read(vcn, 1, b.ioBuf); err != nil {
			return err
		}
		copy(b.ioBuf[offset:], buf[done:done+n])
		d, err = b.stream.Write(vcn, 1, b.ioBuf)
		delta += d
		if err != nil {
			return err
		}
		done += n
	}
	if pos+count > b.attr.InitializedDataLength {
		b.attr.InitializedDataLength = pos + count
	}
	return nil
}

// Clear zeroes count bytes at pos. Whole clusters go through the stream's
// Clear so sparse and compressed attributes give the space back.
func (b *Buffer) Clear(pos, count int64) error {
	if pos < 0 || count < 0 {
		return errors.Errorf("bad range %d+%d", pos, count)
	}
	if count == 0 {
		return nil
	}
	if pos+count > b.Capacity() {
		if err := b.SetCapacity(pos + count); err != nil {
			return err
		}
	}
	if pos > b.attr.InitializedDataLength {
		if err := b.initializeData(pos); err != nil {
			return err
		}
	}

	var delta, done int64
	var err error
	defer func() {
		b.account(delta)
		b.rec.MarkDirty()
	}()
	for done < count {
		focus := pos + done
		vcn := focus / b.cs
		offset := focus - vcn*b.cs
		remaining := count - done
		var d int64
		if offset == 0 && remaining >= b.cs {
			n := remaining / b.cs
			d, err = b.stream.Clear(vcn, n)
			delta += d
			if err != nil {
				return err
			}
			done += n * b.cs
			continue
		}
		n := utils.Min(remaining, b.cs-offset)
		var stored bool
		if stored, err = b.stream.IsClusterStored(vcn); err != nil {
			return err
		}
		if stored {
			if err = b.stream.Read(vcn, 1, b.ioBuf); err != nil {
				return err
			}
			zero := b.ioBuf[offset : offset+n]
			for i := range zero {
				zero[i] = 0
			}
			d, err = b.stream.Write(vcn, 1, b.ioBuf)
			delta += d
			if err != nil {
				return err
			}
		}
		done += n
	}
	if pos+count > b.attr.InitializedDataLength {
		b.attr.InitializedDataLength = pos + count
	}
	return nil
}

// initializeData zero-fills from the initialized length up to pos.
func (b *Buffer) initializeData(pos int64) error {
	var delta int64
	defer func() {
		b.account(delta)
		b.rec.MarkDirty()
	}()
	init := b.attr.InitializedDataLength
	for init < pos {
		vcn := init / b.cs
		offset := init - vcn*b.cs
		if offset != 0 || pos-init < b.cs {
			if err := b.stream.Read(vcn, 1, b.ioBuf); err != nil {
				return err
			}
			tail := b.ioBuf[offset:]
			for i := range tail {
				tail[i] = 0
			}
			d, err := b.stream.Write(vcn, 1, b.ioBuf)
			delta += d
			if err != nil {
				return err
			}
			init = (vcn + 1) * b.cs
			continue
		}
		n := pos/b.cs - vcn
		d, err := b.stream.Clear(vcn, n)
		delta += d
		if err != nil {
			return err
		}
		init += n * b.cs
	}
	b.attr.InitializedDataLength = pos
	return nil
}

// AlignVirtualClusterCount maps the attribute up to the end of its last
// compression unit.
func (b *Buffer) AlignVirtualClusterCount() error {
	if err := b.stream.ExpandTo(utils.Ceil(b.attr.DataLength, b.cs), b.lastExtent(), false); err != nil {
		return err
	}
	b.attr.AllocatedLength = b.runs.NextVirtualCluster() * b.cs
	b.rec.MarkDirty()
	return nil
}
