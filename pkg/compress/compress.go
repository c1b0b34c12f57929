// pkg/compress/compress.go

// Package compress provides the algorithms a compressed attribute can use
// and the framing that turns one of them into a per-unit block compressor.
package compress

import (
	"fmt"
	"strings"
	"sync"

	"github.com/DataDog/zstd"
	lz4 "github.com/hungys/go-lz4"
	kzstd "github.com/klauspost/compress/zstd"
	plz4 "github.com/pierrec/lz4/v4"
)

// Compressor is a stateless byte compressor.
type Compressor interface {
	Name() string
	CompressBound(int) int
	Compress(dst, src []byte) (int, error)
	Decompress(dst, src []byte) (int, error)
}

// NewCompressor returns the named algorithm, or nil when it is unknown.
func NewCompressor(algr string) Compressor {
	algr = strings.ToLower(algr)
	switch algr {
	case "zstd":
		return ZStandard{level: 3}
	case "lz4":
		return LZ4{}
	case "zstd-go":
		return &zstdGo{}
	case "lz4-block":
		return lz4Block{}
	case "none", "":
		return noOp{}
	}
	return nil
}

// Names lists the algorithms NewCompressor knows.
func Names() []string {
	return []string{"none", "lz4", "lz4-block", "zstd", "zstd-go"}
}

type noOp struct{}

func (n noOp) Name() string { return "none" }
func (n noOp) CompressBound(l int) int { return l }
func (n noOp) Compress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(src))
	}
	copy(dst, src)
	return len(src), nil
}
func (n noOp) Decompress(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(src))
	}
	copy(dst, src)
	return len(src), nil
}

// ZStandard uses the cgo binding of libzstd.
type ZStandard struct {
	level int
}

func (n ZStandard) Name() string { return "Zstd" }
func (n ZStandard) CompressBound(l int) int { return zstd.CompressBound(l) }
func (n ZStandard) Compress(dst, src []byte) (int, error) {
	d, err := zstd.CompressLevel(dst, src, n.level)
	if err != nil {
		return 0, err
	}
	if len(d) > 0 && len(dst) > 0 && &d[0] != &dst[0] {
		return 0, fmt.Errorf("buffer too short: %d < %d", cap(dst), cap(d))
	}
	return len(d), err
}

func (n ZStandard) Decompress(dst, src []byte) (int, error) {
	d, err := zstd.Decompress(dst, src)
	if err != nil {
		return 0, err
	}
	if len(d) > 0 && len(dst) > 0 && &d[0] != &dst[0] {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(d))
	}
	return len(d), err
}

type LZ4 struct{}

func (l LZ4) Name() string { return "LZ4" }
func (l LZ4) CompressBound(size int) int { return lz4.CompressBound(size) }
func (l LZ4) Compress(dst, src []byte) (int, error) {
	return lz4.CompressDefault(src, dst)
}
func (l LZ4) Decompress(dst, src []byte) (int, error) {
	return lz4.DecompressSafe(src, dst)
}

// zstdGo is the pure Go zstd codec; it needs no cgo.
type zstdGo struct {
	once    sync.Once
	encoder *kzstd.Encoder
	decoder *kzstd.Decoder
	err     error
}

func (z *zstdGo) init() error {
	z.once.Do(func() {
		z.encoder, z.err = kzstd.NewWriter(nil, kzstd.WithEncoderLevel(kzstd.SpeedDefault), kzstd.WithEncoderConcurrency(1))
		if z.err != nil {
			return
		}
		z.decoder, z.err = kzstd.NewReader(nil, kzstd.WithDecoderConcurrency(1))
	})
	return z.err
}

func (z *zstdGo) Name() string { return "ZstdGo" }
func (z *zstdGo) CompressBound(l int) int {
	return l + l/255 + 64
}

func (z *zstdGo) Compress(dst, src []byte) (int, error) {
	if err := z.init(); err != nil {
		return 0, err
	}
	out := z.encoder.EncodeAll(src, dst[:0])
	if len(out) > len(dst) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(out))
	}
	return copy(dst, out), nil
}

func (z *zstdGo) Decompress(dst, src []byte) (int, error) {
	if err := z.init(); err != nil {
		return 0, err
	}
	out, err := z.decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return 0, err
	}
	if len(out) > len(dst) {
		return 0, fmt.Errorf("buffer too short: %d < %d", len(dst), len(out))
	}
	return copy(dst, out), nil
}

// lz4Block is raw LZ4 blocks from the pure Go implementation.
type lz4Block struct{}

func (l lz4Block) Name() string { return "LZ4Block" }
func (l lz4Block) CompressBound(size int) int { return plz4.CompressBlockBound(size) }
func (l lz4Block) Compress(dst, src []byte) (int, error) {
	return plz4.CompressBlock(src, dst, nil)
}
func (l lz4Block) Decompress(dst, src []byte) (int, error) {
	return plz4.UncompressBlock(src, dst)
}
