// pkg/volume/region.go

package volume

import (
	"io"

	"ClusterFS/pkg/device"
	"ClusterFS/pkg/fserrors"

	"github.com/pkg/errors"
)

// region is a resizable window [off, off+max) of the device. The bitmap
// lives in one, so it can grow until it fills its reserved clusters.
type region struct {
	dev  device.Device
	off  int64
	max  int64
	size int64
}

func (r *region) Size() (int64, error) {
	return r.size, nil
}

// Truncate zero-fills the bytes a growing region gains.
func (r *region) Truncate(size int64) error {
	if size > r.max {
		return fserrors.OutOfSpace("bitmap needs %d bytes, %d reserved", size, r.max)
	}
	if size > r.size {
		zeros := make([]byte, size-r.size)
		if _, err := r.dev.WriteAt(zeros, r.off+r.size); err != nil {
			return errors.Wrap(err, "clear bitmap tail")
		}
	}
	r.size = size
	return nil
}

func (r *region) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	var eof bool
	if off+int64(len(p)) > r.size {
		p = p[:r.size-off]
		eof = true
	}
	n, err := r.dev.ReadAt(p, r.off+off)
	if err == nil && eof {
		err = io.EOF
	}
	return n, err
}

func (r *region) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > r.size {
		return 0, errors.Errorf("write [%d, %d) outside of %d bytes region", off, off+int64(len(p)), r.size)
	}
	return r.dev.WriteAt(p, r.off+off)
}
