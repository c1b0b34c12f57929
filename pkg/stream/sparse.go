// pkg/stream/sparse.go

package stream

import (
	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/utils"
)

// Sparse allocates clusters on write and releases them on clear. Its length
// moves in whole compression units.
type Sparse struct {
	raw  *Raw
	unit int64
}

func NewSparse(raw *Raw, unit int64) *Sparse {
	return &Sparse{raw: raw, unit: unit}
}

func (s *Sparse) AllocatedClusterCount() int64 { return s.raw.AllocatedClusterCount() }

func (s *Sparse) StoredClusters() []bitmap.Range { return s.raw.StoredClusters() }

func (s *Sparse) IsClusterStored(vcn int64) (bool, error) { return s.raw.IsClusterStored(vcn) }

func (s *Sparse) ExpandTo(numVcns int64, extent runs.ExtentID, allocate bool) error {
	return s.raw.ExpandTo(utils.RoundUp(numVcns, s.unit), extent, false)
}

func (s *Sparse) TruncateTo(numVcns int64) error {
	aligned := utils.RoundUp(numVcns, s.unit)
	if err := s.raw.TruncateTo(aligned); err != nil {
		return err
	}
	if aligned != numVcns {
		if _, err := s.raw.Release(numVcns, aligned-numVcns); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sparse) Read(vcn, count int64, buf []byte) error {
	return s.raw.Read(vcn, count, buf)
}

func (s *Sparse) Write(vcn, count int64, buf []byte) (int64, error) {
	allocated, err := s.raw.Allocate(vcn, count)
	if err != nil {
		return allocated, err
	}
	_, err = s.raw.Write(vcn, count, buf)
	return allocated, err
}

func (s *Sparse) Clear(vcn, count int64) (int64, error) {
	released, err := s.raw.Release(vcn, count)
	return -released, err
}
