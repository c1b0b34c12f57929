// pkg/volume/volume.go

// Package volume binds a device, its cluster bitmap, a compressor and a meta
// engine into a volume whose file records own non-resident attributes.
package volume

import (
	"context"
	"fmt"
	"sync"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/compress"
	"ClusterFS/pkg/device"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/meta"
	"ClusterFS/pkg/stream"
	"ClusterFS/pkg/utils"
	"ClusterFS/pkg/version"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var logger = utils.GetLogger("clusterfs")

// Config for an open volume.
type Config struct {
	ReadOnly         bool
	ReadLimit        int64 // bytes per second, 0 for unlimited
	WriteLimit       int64
	BitmapCachePages int
}

// Stats summarizes space usage.
type Stats struct {
	ClusterSize    int64
	TotalClusters  int64
	FreeClusters   int64
	BitmapClusters int64
	Fragmented     bool
}

// Volume is the single writer of a formatted device. Methods are safe for
// concurrent use; they serialize on the volume lock.
type Volume struct {
	sync.Mutex
	conf    *Config
	format  *meta.Format
	meta    meta.Meta
	dev     device.Device
	bitmap  *bitmap.Bitmap
	alloc   *bitmap.Allocator
	disk    *stream.Disk
	block   compress.Block
	records map[string]*meta.Record
	files   map[string]*File
}

// BitmapBytes is the on-disk size of the bitmap of a volume with total
// clusters.
func BitmapBytes(total int64) int64 {
	return utils.RoundUp(utils.Ceil(total, 8), 8)
}

// BitmapClusters is the number of clusters reserved for the bitmap.
func BitmapClusters(total, clusterSize int64) int64 {
	return utils.Ceil(BitmapBytes(total), clusterSize)
}

// Create formats the device named by format.Device and writes the format to m.
func Create(m meta.Meta, format *meta.Format, conf *Config, force bool) (*Volume, error) {
	dev, err := device.Open(format.Device)
	if err != nil {
		return nil, errors.Wrapf(err, "open device %s", format.Device)
	}
	v, err := create(m, dev, format, conf, force)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return v, nil
}

func create(m meta.Meta, dev device.Device, format *meta.Format, conf *Config, force bool) (*Volume, error) {
	if format.UUID == "" {
		format.UUID = uuid.New().String()
	}
	if format.Version == 0 {
		format.Version = version.FormatVersion
	}
	cs := int64(format.ClusterSize)
	format.BitmapClusters = BitmapClusters(format.TotalClusters, cs)
	if err := format.Check(); err != nil {
		return nil, err
	}
	if compress.NewCompressor(format.Compression) == nil {
		return nil, fmt.Errorf("unsupported compress algorithm: %s", format.Compression)
	}
	if err := dev.Truncate(format.TotalClusters * cs); err != nil {
		return nil, errors.Wrap(err, "resize device")
	}

	v, err := newVolume(m, dev, format, conf, 0)
	if err != nil {
		return nil, err
	}
	if err = v.alloc.SetTotalClusters(format.TotalClusters); err != nil {
		return nil, err
	}
	if err = v.alloc.MarkAllocated(0, format.BitmapClusters); err != nil {
		return nil, err
	}
	if err = dev.Sync(); err != nil {
		return nil, err
	}
	if err = m.Init(*format, force); err != nil {
		return nil, err
	}
	logger.Infof("Volume %s created on %s: %d clusters of %d bytes, bitmap in %d clusters",
		format.Name, dev, format.TotalClusters, cs, format.BitmapClusters)
	return v, nil
}

// Open loads the format from m and opens its device.
func Open(m meta.Meta, conf *Config) (*Volume, error) {
	format, err := m.Load()
	if err != nil {
		return nil, err
	}
	dev, err := device.Open(format.Device)
	if err != nil {
		return nil, errors.Wrapf(err, "open device %s", format.Device)
	}
	v, err := open(m, dev, format, conf)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	return v, nil
}

func open(m meta.Meta, dev device.Device, format *meta.Format, conf *Config) (*Volume, error) {
	if err := format.Check(); err != nil {
		return nil, err
	}
	if format.Version > version.FormatVersion {
		return nil, fmt.Errorf("volume version %d is newer than supported %d", format.Version, version.FormatVersion)
	}
	size, err := dev.Size()
	if err != nil {
		return nil, err
	}
	if need := format.TotalClusters * int64(format.ClusterSize); size < need {
		return nil, fserrors.CorruptExtentMap("device %s has %d bytes, volume needs %d", dev, size, need)
	}
	return newVolume(m, dev, format, conf, BitmapBytes(format.TotalClusters))
}

func newVolume(m meta.Meta, dev device.Device, format *meta.Format, conf *Config, bitmapSize int64) (*Volume, error) {
	if conf == nil {
		conf = &Config{}
	}
	dev = device.NewLimited(dev, conf.ReadLimit, conf.WriteLimit)
	cs := int64(format.ClusterSize)
	reg := &region{dev: dev, max: format.BitmapClusters * cs, size: bitmapSize}
	bm, err := bitmap.New(reg, conf.BitmapCachePages)
	if err != nil {
		return nil, err
	}
	total := format.TotalClusters
	if bitmapSize == 0 {
		total = 0
	}
	alloc := bitmap.NewAllocator(bm, total)
	v := &Volume{
		conf:    conf,
		format:  format,
		meta:    m,
		dev:     dev,
		bitmap:  bm,
		alloc:   alloc,
		disk:    &stream.Disk{Device: dev, Allocator: alloc, ClusterSize: cs},
		records: make(map[string]*meta.Record),
		files:   make(map[string]*File),
	}
	if c := compress.NewCompressor(format.Compression); c != nil && c.Name() != "none" {
		v.block = compress.NewBlock(c, format.ClusterSize)
	}
	return v, nil
}

// Format returns the volume layout.
func (v *Volume) Format() meta.Format {
	return *v.format
}

// Stats reports space usage.
func (v *Volume) Stats() (*Stats, error) {
	v.Lock()
	defer v.Unlock()
	free, err := v.alloc.FreeClusterCount()
	if err != nil {
		return nil, err
	}
	return &Stats{
		ClusterSize:    int64(v.format.ClusterSize),
		TotalClusters:  v.alloc.TotalClusters(),
		FreeClusters:   free,
		BitmapClusters: v.format.BitmapClusters,
		Fragmented:     v.alloc.Fragmented(),
	}, nil
}

// Records lists the names of the stored records.
func (v *Volume) Records(ctx context.Context) ([]string, error) {
	v.Lock()
	defer v.Unlock()
	names, err := v.meta.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	// records created since the last flush
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for n := range v.records {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names, nil
}

func (v *Volume) record(ctx context.Context, name string, create bool) (*meta.Record, error) {
	if r, ok := v.records[name]; ok {
		return r, nil
	}
	r, err := v.meta.GetRecord(ctx, name)
	if errors.Is(err, meta.ErrNotFound) && create {
		r, err = meta.NewRecord(name), nil
	}
	if err != nil {
		return nil, err
	}
	v.records[name] = r
	return r, nil
}

func (v *Volume) checkWritable() error {
	if v.conf.ReadOnly {
		return fserrors.InvalidOperation("volume %s is read-only", v.format.Name)
	}
	return nil
}

// Flush writes the dirty records to the meta engine and syncs the device.
func (v *Volume) Flush(ctx context.Context) (err error) {
	v.Lock()
	defer v.Unlock()
	start := utils.Clock()
	var n int
	defer func() { logit("flush", start, err, "%d records", n) }()
	return v.flush(ctx, &n)
}

func (v *Volume) flush(ctx context.Context, n *int) error {
	if v.conf.ReadOnly {
		return nil
	}
	if err := v.dev.Sync(); err != nil {
		return err
	}
	for _, r := range v.records {
		if !r.Dirty() {
			continue
		}
		if err := v.meta.PutRecord(ctx, r); err != nil {
			return errors.Wrapf(err, "save record %s", r.Name)
		}
		r.Clean()
		flushedRecords.Inc()
		*n++
	}
	return nil
}

// Close flushes the volume and releases the device and meta engine.
func (v *Volume) Close() error {
	v.Lock()
	defer v.Unlock()
	var n int
	err := v.flush(context.Background(), &n)
	if e := v.dev.Close(); err == nil {
		err = e
	}
	if e := v.meta.Close(); err == nil {
		err = e
	}
	v.files = nil
	v.records = nil
	return err
}
