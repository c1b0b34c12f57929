// pkg/device/bwlimit.go

package device

import (
	"fmt"

	"github.com/juju/ratelimit"
)

type bwlimit struct {
	Device
	writeLimit *ratelimit.Bucket
	readLimit  *ratelimit.Bucket
}

// NewLimited throttles reads and writes on d to the given bytes per second.
// A limit <= 0 leaves that direction unthrottled.
func NewLimited(d Device, read, write int64) Device {
	if read <= 0 && write <= 0 {
		return d
	}
	bw := &bwlimit{d, nil, nil}
	if write > 0 {
		bw.writeLimit = ratelimit.NewBucketWithRate(float64(write), write)
	}
	if read > 0 {
		bw.readLimit = ratelimit.NewBucketWithRate(float64(read), read)
	}
	return bw
}

func (p *bwlimit) String() string {
	return fmt.Sprintf("%s(limited)", p.Device)
}

func (p *bwlimit) ReadAt(buf []byte, off int64) (int, error) {
	if p.readLimit != nil {
		p.readLimit.Wait(int64(len(buf)))
	}
	return p.Device.ReadAt(buf, off)
}

func (p *bwlimit) WriteAt(buf []byte, off int64) (int, error) {
	if p.writeLimit != nil {
		p.writeLimit.Wait(int64(len(buf)))
	}
	return p.Device.WriteAt(buf, off)
}

var _ Device = &bwlimit{}
