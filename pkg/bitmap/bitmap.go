// pkg/bitmap/bitmap.go

// Package bitmap implements the volume's cluster presence map and the
// allocator that hands out cluster ranges from it.
package bitmap

import (
	"io"
	"math/bits"

	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("clusterfs")

const pageSize = 4096

// DefaultCachePages is the number of bitmap pages kept in memory (1 MiB of
// bitmap, or 8M clusters).
const DefaultCachePages = 256

// Stream is the persistent storage of a bitmap.
type Stream interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Truncate(size int64) error
}

// Bitmap is a bit-per-entry presence map stored least-significant-bit first
// within each byte. Entries past the end of the stream read as present.
type Bitmap struct {
	stream Stream
	size   int64 // in bytes
	cache  *pageCache
}

func New(s Stream, cachePages int) (*Bitmap, error) {
	size, err := s.Size()
	if err != nil {
		return nil, errors.Wrap(err, "bitmap size")
	}
	if cachePages <= 0 {
		cachePages = DefaultCachePages
	}
	return &Bitmap{stream: s, size: size, cache: newPageCache(cachePages)}, nil
}

// Size returns the number of entries the bitmap can hold.
func (b *Bitmap) Size() int64 {
	return b.size * 8
}

func (b *Bitmap) page(idx int64) ([]byte, error) {
	if p := b.cache.load(idx); p != nil {
		return p, nil
	}
	off := idx * pageSize
	n := utils.Min(pageSize, b.size-off)
	p := make([]byte, n)
	if _, err := b.stream.ReadAt(p, off); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read bitmap page %d", idx)
	}
	b.cache.cache(idx, p)
	return p, nil
}

func (b *Bitmap) IsPresent(index int64) (bool, error) {
	if index < 0 || index >= b.Size() {
		return true, nil
	}
	byteIdx := index / 8
	p, err := b.page(byteIdx / pageSize)
	if err != nil {
		return false, err
	}
	return p[byteIdx%pageSize]&(1<<uint(index%8)) != 0, nil
}

func (b *Bitmap) MarkPresent(index int64) error {
	return b.MarkPresentRange(index, 1)
}

func (b *Bitmap) MarkPresentRange(index, count int64) error {
	return b.setRange(index, count, true)
}

func (b *Bitmap) MarkAbsent(index int64) error {
	return b.MarkAbsentRange(index, 1)
}

func (b *Bitmap) MarkAbsentRange(index, count int64) error {
	return b.setRange(index, count, false)
}

func (b *Bitmap) setRange(index, count int64, present bool) error {
	if count <= 0 {
		return nil
	}
	if index < 0 || index+count > b.Size() {
		return errors.Errorf("bitmap range [%d, %d) outside of %d entries", index, index+count, b.Size())
	}
	end := index + count
	for index < end {
		byteIdx := index / 8
		pageIdx := byteIdx / pageSize
		p, err := b.page(pageIdx)
		if err != nil {
			return err
		}
		pageEnd := utils.Min(end, (pageIdx+1)*pageSize*8)
		first := byteIdx % pageSize
		last := first
		for ; index < pageEnd; index++ {
			last = (index / 8) % pageSize
			mask := byte(1) << uint(index%8)
			if present {
				p[last] |= mask
			} else {
				p[last] &^= mask
			}
		}
		if _, err := b.stream.WriteAt(p[first:last+1], pageIdx*pageSize+first); err != nil {
			return errors.Wrapf(err, "write bitmap page %d", pageIdx)
		}
	}
	return nil
}

// FindAbsent returns the first absent entry in [from, end), or end when all
// of them are present.
func (b *Bitmap) FindAbsent(from, end int64) (int64, error) {
	end = utils.Min(end, b.Size())
	for from < end {
		byteIdx := from / 8
		p, err := b.page(byteIdx / pageSize)
		if err != nil {
			return 0, err
		}
		v := p[byteIdx%pageSize] >> uint(from%8)
		if free := bits.TrailingZeros8(^v); from+int64(free) < utils.Min(end, (byteIdx+1)*8) && free < 8-int(from%8) {
			return from + int64(free), nil
		}
		from = (byteIdx + 1) * 8
	}
	return end, nil
}

// AbsentRun returns how many consecutive absent entries start at from,
// looking no further than max entries and never past end.
func (b *Bitmap) AbsentRun(from, max, end int64) (int64, error) {
	end = utils.Min(utils.Min(end, b.Size()), from+max)
	pos := from
	for pos < end {
		byteIdx := pos / 8
		p, err := b.page(byteIdx / pageSize)
		if err != nil {
			return 0, err
		}
		v := p[byteIdx%pageSize]
		if pos%8 == 0 && v == 0 && pos+8 <= end {
			pos += 8
			continue
		}
		if v&(1<<uint(pos%8)) != 0 {
			break
		}
		pos++
	}
	return pos - from, nil
}

// CountPresent counts the present entries in [from, end).
func (b *Bitmap) CountPresent(from, end int64) (int64, error) {
	end = utils.Min(end, b.Size())
	var n int64
	for from < end {
		byteIdx := from / 8
		p, err := b.page(byteIdx / pageSize)
		if err != nil {
			return 0, err
		}
		v := p[byteIdx%pageSize]
		if from%8 == 0 && from+8 <= end {
			n += int64(bits.OnesCount8(v))
			from += 8
			continue
		}
		if v&(1<<uint(from%8)) != 0 {
			n++
		}
		from++
	}
	return n, nil
}

// SetTotalEntries resizes the stream to hold at least n entries. The byte
// length is rounded up to a multiple of 8, so the returned capacity can
// exceed n.
func (b *Bitmap) SetTotalEntries(n int64) (int64, error) {
	length := utils.RoundUp(utils.Ceil(n, 8), 8)
	if err := b.stream.Truncate(length); err != nil {
		return 0, errors.Wrap(err, "resize bitmap")
	}
	b.size = length
	b.cache.invalidate()
	return length * 8, nil
}
