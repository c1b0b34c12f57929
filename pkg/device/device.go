// pkg/device/device.go

// Package device provides the raw volume byte stream the cluster layer reads
// and writes: a byte-addressed store that can be resized.
package device

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
)

var logger = utils.GetLogger("clusterfs")

// Device is the raw byte stream underneath the volume.
type Device interface {
	io.ReaderAt
	io.WriterAt
	String() string
	// Size returns the current length in bytes.
	Size() (int64, error)
	// Truncate sets the length, zero-filling when it grows.
	Truncate(size int64) error
	Sync() error
	Close() error
}

type creator func(path string) (Device, error)

var devices = make(map[string]creator)

func Register(name string, register creator) {
	devices[name] = register
}

func init() {
	Register("file", openFile)
	Register("mem", func(string) (Device, error) { return NewMem(0), nil })
}

// Open opens a device from an uri like "file:///data/vol.img" or a plain path.
func Open(uri string) (Device, error) {
	scheme, path := "file", uri
	if p := strings.Index(uri, "://"); p > 0 {
		scheme, path = uri[:p], uri[p+3:]
	}
	f, ok := devices[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("invalid device: %s", scheme)
	}
	return f(path)
}

type fileDevice struct {
	f *os.File
}

func openFile(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open device %s", path)
	}
	logger.Debugf("opened file device %s", path)
	return &fileDevice{f}, nil
}

func (d *fileDevice) String() string {
	return "file://" + d.f.Name()
}

func (d *fileDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.f.ReadAt(p, off)
	if err == io.EOF {
		// past the end of the image reads as zero, like a freshly extended file
		for i := n; i < len(p); i++ {
			p[i] = 0
		}
		return len(p), nil
	}
	return n, err
}

func (d *fileDevice) WriteAt(p []byte, off int64) (int, error) {
	return d.f.WriteAt(p, off)
}

func (d *fileDevice) Size() (int64, error) {
	st, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (d *fileDevice) Truncate(size int64) error {
	return d.f.Truncate(size)
}

func (d *fileDevice) Sync() error {
	return d.f.Sync()
}

func (d *fileDevice) Close() error {
	return d.f.Close()
}

type memDevice struct {
	sync.Mutex
	data []byte
}

// NewMem returns a device kept in memory, used by tests and scratch volumes.
func NewMem(size int64) Device {
	return &memDevice{data: make([]byte, size)}
}

func (m *memDevice) String() string {
	return "mem://"
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	m.Lock()
	defer m.Unlock()
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	n := 0
	if off < int64(len(m.data)) {
		n = copy(p, m.data[off:])
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	m.Lock()
	defer m.Unlock()
	if off < 0 {
		return 0, errors.Errorf("negative offset %d", off)
	}
	if end := off + int64(len(p)); end > int64(len(m.data)) {
		m.grow(end)
	}
	return copy(m.data[off:], p), nil
}

func (m *memDevice) grow(size int64) {
	if size <= int64(cap(m.data)) {
		m.data = m.data[:size]
		return
	}
	nd := make([]byte, size)
	copy(nd, m.data)
	m.data = nd
}

func (m *memDevice) Size() (int64, error) {
	m.Lock()
	defer m.Unlock()
	return int64(len(m.data)), nil
}

func (m *memDevice) Truncate(size int64) error {
	m.Lock()
	defer m.Unlock()
	if size < int64(len(m.data)) {
		tail := m.data[size:]
		for i := range tail {
			tail[i] = 0
		}
		m.data = m.data[:size]
		return nil
	}
	m.grow(size)
	return nil
}

func (m *memDevice) Sync() error  { return nil }
func (m *memDevice) Close() error { return nil }
