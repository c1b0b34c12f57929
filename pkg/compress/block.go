// pkg/compress/block.go

package compress

import (
	"encoding/binary"

	"ClusterFS/pkg/fserrors"

	"github.com/pkg/errors"
)

// Result is the outcome of compressing one compression unit.
type Result int

const (
	Compressed Result = iota
	AllZeros
	Incompressible
)

func (r Result) String() string {
	switch r {
	case Compressed:
		return "compressed"
	case AllZeros:
		return "zeros"
	case Incompressible:
		return "incompressible"
	}
	return "unknown"
}

// Block compresses whole compression units. Compress writes at most
// len(src) bytes into dst and reports how many it used.
type Block interface {
	Compress(src, dst []byte) (Result, int, error)
	Decompress(src, dst []byte) (int, error)
}

const headerSize = 4

type framed struct {
	c           Compressor
	clusterSize int
	scratch     []byte
}

// NewBlock frames the output of c with its payload length, so the padding up
// to the next cluster boundary is never handed back to c. A unit counts as
// compressed only when it saves at least one cluster.
func NewBlock(c Compressor, clusterSize int) Block {
	return &framed{c: c, clusterSize: clusterSize}
}

func isZero(p []byte) bool {
	for _, b := range p {
		if b != 0 {
			return false
		}
	}
	return true
}

func (f *framed) Compress(src, dst []byte) (Result, int, error) {
	if isZero(src) {
		return AllZeros, 0, nil
	}
	need := headerSize + f.c.CompressBound(len(src))
	if cap(f.scratch) < need {
		f.scratch = make([]byte, need)
	}
	buf := f.scratch[:need]
	n, err := f.c.Compress(buf[headerSize:], src)
	if err != nil {
		return Incompressible, 0, errors.Wrapf(err, "%s compress", f.c.Name())
	}
	total := headerSize + n
	rounded := (total + f.clusterSize - 1) / f.clusterSize * f.clusterSize
	if n == 0 || rounded >= len(src) || total > len(dst) {
		return Incompressible, 0, nil
	}
	binary.LittleEndian.PutUint32(buf, uint32(n))
	copy(dst, buf[:total])
	return Compressed, total, nil
}

func (f *framed) Decompress(src, dst []byte) (int, error) {
	if len(src) < headerSize {
		return 0, fserrors.CorruptExtentMap("compressed unit of %d bytes", len(src))
	}
	n := int(binary.LittleEndian.Uint32(src))
	if n > len(src)-headerSize {
		return 0, fserrors.CorruptExtentMap("compressed payload of %d bytes in %d", n, len(src)-headerSize)
	}
	got, err := f.c.Decompress(dst, src[headerSize:headerSize+n])
	if err != nil {
		return 0, errors.Wrapf(err, "%s decompress", f.c.Name())
	}
	return got, nil
}
