// pkg/stream/compressed.go

package stream

import (
	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/compress"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/utils"
)

type unitCache struct {
	vcn  int64
	data []byte
}

// Compressed stores each compression unit either compressed at the front of
// the unit, raw across the whole unit, or not at all when it is all zeros.
// A unit is compressed exactly when its first cluster is stored and some
// other cluster is not.
type Compressed struct {
	raw         *Raw
	block       compress.Block
	unit        int64
	initialized func() int64

	cache   *unitCache
	ioBuf   []byte
	scratch []byte
}

// NewCompressed builds the stream. initialized reports the attribute's
// initialized length, which bounds how much a unit must inflate to.
func NewCompressed(raw *Raw, block compress.Block, unit int64, initialized func() int64) *Compressed {
	unitBytes := unit * raw.disk.ClusterSize
	return &Compressed{
		raw:         raw,
		block:       block,
		unit:        unit,
		initialized: initialized,
		ioBuf:       make([]byte, unitBytes),
		scratch:     make([]byte, unitBytes),
	}
}

func (s *Compressed) unitBytes() int64 { return s.unit * s.raw.disk.ClusterSize }

func (s *Compressed) AllocatedClusterCount() int64 { return s.raw.AllocatedClusterCount() }

func (s *Compressed) StoredClusters() []bitmap.Range { return s.raw.StoredClusters() }

// IsClusterStored reports whether the unit holding vcn has data.
func (s *Compressed) IsClusterStored(vcn int64) (bool, error) {
	return s.raw.IsClusterStored(utils.RoundDown(vcn, s.unit))
}

func (s *Compressed) ExpandTo(numVcns int64, extent runs.ExtentID, allocate bool) error {
	return s.raw.ExpandTo(utils.RoundUp(numVcns, s.unit), extent, false)
}

// TruncateTo drops the units past numVcns. A unit cut in the middle is
// re-stored with its tail zeroed, which releases the clusters it no longer
// needs.
func (s *Compressed) TruncateTo(numVcns int64) error {
	aligned := utils.RoundUp(numVcns, s.unit)
	if err := s.raw.TruncateTo(aligned); err != nil {
		s.cache = nil
		return err
	}
	if aligned == numVcns || s.raw.runs.NextVirtualCluster() < aligned {
		s.cache = nil
		return nil
	}
	start := aligned - s.unit
	if err := s.loadCache(start); err != nil {
		s.cache = nil
		return err
	}
	tail := s.cache.data[(numVcns-start)*s.raw.disk.ClusterSize:]
	for i := range tail {
		tail[i] = 0
	}
	if _, err := s.writeUnit(s.cache.data, start); err != nil {
		s.cache = nil
		return err
	}
	return nil
}

func (s *Compressed) loadCache(vcn int64) error {
	if s.cache != nil && s.cache.vcn == vcn {
		return nil
	}
	var data []byte
	if s.cache != nil {
		data = s.cache.data
	} else {
		data = make([]byte, s.unitBytes())
	}
	s.cache = nil

	allStored, err := s.raw.AreAllStored(vcn, s.unit)
	if err != nil {
		return err
	}
	firstStored, err := s.raw.IsClusterStored(vcn)
	if err != nil {
		return err
	}
	switch {
	case allStored:
		if err = s.raw.Read(vcn, s.unit, data); err != nil {
			return err
		}
	case firstStored:
		if err = s.raw.Read(vcn, s.unit, s.ioBuf); err != nil {
			return err
		}
		for i := range data {
			data[i] = 0
		}
		n, err := s.block.Decompress(s.ioBuf, data)
		if err != nil {
			return err
		}
		expected := utils.Min(s.unitBytes(), s.initialized()-vcn*s.raw.disk.ClusterSize)
		if int64(n) < expected {
			return fserrors.DecompressionShortfall("unit at vcn %d inflated to %d bytes, want %d", vcn, n, expected)
		}
	default:
		for i := range data {
			data[i] = 0
		}
	}
	s.cache = &unitCache{vcn: vcn, data: data}
	return nil
}

func (s *Compressed) Read(vcn, count int64, buf []byte) error {
	if err := s.raw.checkBuffer(count, buf); err != nil {
		return err
	}
	cs := s.raw.disk.ClusterSize
	for done := int64(0); done < count; {
		focus := vcn + done
		start := utils.RoundDown(focus, s.unit)
		if err := s.loadCache(start); err != nil {
			return err
		}
		offset := focus - start
		n := utils.Min(s.unit-offset, count-done)
		copy(buf[done*cs:(done+n)*cs], s.cache.data[offset*cs:(offset+n)*cs])
		done += n
	}
	return nil
}

func (s *Compressed) Write(vcn, count int64, buf []byte) (int64, error) {
	if err := s.raw.checkBuffer(count, buf); err != nil {
		return 0, err
	}
	cs := s.raw.disk.ClusterSize
	var delta int64
	for done := int64(0); done < count; {
		focus := vcn + done
		start := utils.RoundDown(focus, s.unit)
		offset := focus - start
		if offset == 0 && count-done >= s.unit {
			data := buf[done*cs : (done+s.unit)*cs]
			d, err := s.writeUnit(data, start)
			delta += d
			if err != nil {
				return delta, err
			}
			if s.cache != nil && s.cache.vcn == start {
				copy(s.cache.data, data)
			}
			done += s.unit
			continue
		}
		if err := s.loadCache(start); err != nil {
			return delta, err
		}
		n := utils.Min(s.unit-offset, count-done)
		copy(s.cache.data[offset*cs:(offset+n)*cs], buf[done*cs:(done+n)*cs])
		d, err := s.writeUnit(s.cache.data, start)
		delta += d
		if err != nil {
			return delta, err
		}
		done += n
	}
	return delta, nil
}

func (s *Compressed) Clear(vcn, count int64) (int64, error) {
	cs := s.raw.disk.ClusterSize
	var delta int64
	for done := int64(0); done < count; {
		focus := vcn + done
		start := utils.RoundDown(focus, s.unit)
		offset := focus - start
		if offset == 0 && count-done >= s.unit {
			released, err := s.raw.Release(focus, s.unit)
			delta -= released
			if err != nil {
				return delta, err
			}
			if s.cache != nil && s.cache.vcn == start {
				for i := range s.cache.data {
					s.cache.data[i] = 0
				}
			}
			done += s.unit
			continue
		}
		if err := s.loadCache(start); err != nil {
			return delta, err
		}
		n := utils.Min(s.unit-offset, count-done)
		zero := s.cache.data[offset*cs : (offset+n)*cs]
		for i := range zero {
			zero[i] = 0
		}
		d, err := s.writeUnit(s.cache.data, start)
		delta += d
		if err != nil {
			return delta, err
		}
		done += n
	}
	return delta, nil
}

// writeUnit stores one whole unit and returns the change in allocation.
func (s *Compressed) writeUnit(data []byte, vcn int64) (int64, error) {
	cs := s.raw.disk.ClusterSize
	result, n, err := s.block.Compress(data, s.scratch)
	if err != nil {
		return 0, err
	}
	unitWrites.WithLabelValues(result.String()).Inc()
	switch result {
	case compress.AllZeros:
		released, err := s.raw.Release(vcn, s.unit)
		return -released, err
	case compress.Compressed:
		clusters := utils.Ceil(int64(n), cs)
		for i := int64(n); i < clusters*cs; i++ {
			s.scratch[i] = 0
		}
		allocated, err := s.raw.Allocate(vcn, clusters)
		if err != nil {
			return allocated, err
		}
		if _, err = s.raw.Write(vcn, clusters, s.scratch); err != nil {
			return allocated, err
		}
		released, err := s.raw.Release(vcn+clusters, s.unit-clusters)
		logger.Debugf("unit at vcn %d compressed into %d clusters", vcn, clusters)
		return allocated - released, err
	default:
		allocated, err := s.raw.Allocate(vcn, s.unit)
		if err != nil {
			return allocated, err
		}
		_, err = s.raw.Write(vcn, s.unit, data)
		return allocated, err
	}
}
