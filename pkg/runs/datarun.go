// pkg/runs/datarun.go

// Package runs holds the extent map of a non-resident attribute: the on-disk
// data run encoding, the attribute extents that store runs, and the cooked
// run list with absolute cluster numbers.
package runs

import (
	"fmt"

	"ClusterFS/pkg/fserrors"
)

// DataRun is one extent of an attribute. Offset is the LCN delta from the
// previous stored run of the same attribute extent (from 0 for the first).
// Sparse runs have no Offset and no clusters behind them.
type DataRun struct {
	Length int64
	Offset int64
	Sparse bool
}

func (r *DataRun) String() string {
	if r.Sparse {
		return fmt.Sprintf("sparse(%d)", r.Length)
	}
	return fmt.Sprintf("%+d(%d)", r.Offset, r.Length)
}

// varSize is the minimal number of bytes that encode v as a two's complement
// little-endian integer whose top bit carries the sign.
func varSize(v int64) int {
	n := 0
	for {
		b := byte(v)
		v >>= 8
		n++
		if (v == 0 && b&0x80 == 0) || (v == -1 && b&0x80 != 0) {
			return n
		}
	}
}

func putVar(dst []byte, v int64, n int) {
	for i := 0; i < n; i++ {
		dst[i] = byte(v)
		v >>= 8
	}
}

func getUnsigned(src []byte) int64 {
	var v uint64
	for i := len(src) - 1; i >= 0; i-- {
		v = v<<8 | uint64(src[i])
	}
	return int64(v)
}

func getSigned(src []byte) int64 {
	if len(src) == 0 {
		return 0
	}
	v := getUnsigned(src)
	if shift := uint(64 - 8*len(src)); shift > 0 {
		v = v << shift >> shift
	}
	return v
}

// Size is the encoded length of the run in bytes, header included.
func (r *DataRun) Size() int {
	n := 1 + varSize(r.Length)
	if !r.Sparse {
		n += varSize(r.Offset)
	}
	return n
}

// Encode writes the run into dst, which must hold Size() bytes.
func (r *DataRun) Encode(dst []byte) int {
	lenSize := varSize(r.Length)
	putVar(dst[1:], r.Length, lenSize)
	offSize := 0
	if !r.Sparse {
		offSize = varSize(r.Offset)
		putVar(dst[1+lenSize:], r.Offset, offSize)
	}
	dst[0] = byte(lenSize&0x0F) | byte(offSize&0x0F)<<4
	return 1 + lenSize + offSize
}

// DecodeRun parses one run. It returns nil and 1 for the 0x00 terminator.
func DecodeRun(src []byte) (*DataRun, int, error) {
	if len(src) == 0 {
		return nil, 0, fserrors.CorruptExtentMap("data run list is not terminated")
	}
	header := src[0]
	if header == 0 {
		return nil, 1, nil
	}
	lenSize := int(header & 0x0F)
	offSize := int(header >> 4)
	if lenSize == 0 || lenSize > 8 || offSize > 8 {
		return nil, 0, fserrors.CorruptExtentMap("bad data run header 0x%02x", header)
	}
	if 1+lenSize+offSize > len(src) {
		return nil, 0, fserrors.CorruptExtentMap("data run truncated: need %d bytes, have %d", 1+lenSize+offSize, len(src))
	}
	r := &DataRun{
		Length: getUnsigned(src[1 : 1+lenSize]),
		Offset: getSigned(src[1+lenSize : 1+lenSize+offSize]),
		Sparse: offSize == 0,
	}
	if r.Length < 0 {
		return nil, 0, fserrors.CorruptExtentMap("data run length overflows: %d", r.Length)
	}
	return r, 1 + lenSize + offSize, nil
}

// EncodeRuns encodes a run list followed by the 0x00 terminator.
func EncodeRuns(runs []*DataRun) []byte {
	size := 1
	for _, r := range runs {
		size += r.Size()
	}
	buf := make([]byte, size)
	off := 0
	for _, r := range runs {
		off += r.Encode(buf[off:])
	}
	buf[off] = 0
	return buf
}

// DecodeRuns decodes a terminated run list and returns the bytes consumed.
func DecodeRuns(src []byte) ([]*DataRun, int, error) {
	var runs []*DataRun
	off := 0
	for {
		r, n, err := DecodeRun(src[off:])
		if err != nil {
			return nil, off, err
		}
		off += n
		if r == nil {
			return runs, off, nil
		}
		runs = append(runs, r)
	}
}
