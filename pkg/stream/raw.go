// pkg/stream/raw.go

package stream

import (
	"io"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
)

// clearChunk is the number of clusters zeroed per device write.
const clearChunk = 16

// Raw maps VCNs straight through the cooked run list. Writes never allocate;
// callers Allocate first.
type Raw struct {
	disk  *Disk
	runs  *runs.CookedRuns
	isMft bool
	hint  int
}

func NewRaw(disk *Disk, cooked *runs.CookedRuns, isMft bool) *Raw {
	return &Raw{disk: disk, runs: cooked, isMft: isMft}
}

func (s *Raw) find(vcn int64) (*runs.CookedRun, int, error) {
	idx, err := s.runs.Find(vcn, s.hint)
	if err != nil {
		return nil, -1, err
	}
	s.hint = idx
	return s.runs.At(idx), idx, nil
}

func (s *Raw) AllocatedClusterCount() int64 {
	var n int64
	for i := 0; i < s.runs.Len(); i++ {
		if r := s.runs.At(i); !r.Sparse() {
			n += r.Length()
		}
	}
	return n
}

// StoredClusters lists the VCN ranges that have clusters behind them.
func (s *Raw) StoredClusters() []bitmap.Range {
	var out []bitmap.Range
	for i := 0; i < s.runs.Len(); i++ {
		r := s.runs.At(i)
		if r.Sparse() {
			continue
		}
		if n := len(out); n > 0 && out[n-1].First+out[n-1].Count == r.StartVcn {
			out[n-1].Count += r.Length()
		} else {
			out = append(out, bitmap.Range{First: r.StartVcn, Count: r.Length()})
		}
	}
	return out
}

func (s *Raw) IsClusterStored(vcn int64) (bool, error) {
	r, _, err := s.find(vcn)
	if err != nil {
		return false, err
	}
	return !r.Sparse(), nil
}

func (s *Raw) AreAllStored(vcn, count int64) (bool, error) {
	for focus, end := vcn, vcn+count; focus < end; {
		r, _, err := s.find(focus)
		if err != nil {
			return false, err
		}
		if r.Sparse() {
			return false, nil
		}
		focus = r.EndVcn()
	}
	return true, nil
}

// ExpandTo grows the stream to numVcns clusters with a trailing hole in
// extent, then allocates the new range if asked to.
func (s *Raw) ExpandTo(numVcns int64, extent runs.ExtentID, allocate bool) error {
	total := s.runs.NextVirtualCluster()
	if numVcns <= total {
		return nil
	}
	n := numVcns - total
	if last := s.runs.Last(); last != nil && last.Sparse() && last.Extent == extent {
		s.runs.Extend(n)
	} else {
		s.runs.Append(&runs.DataRun{Length: n, Sparse: true}, extent)
	}
	if allocate {
		if _, err := s.Allocate(total, n); err != nil {
			if terr := s.TruncateTo(total); terr != nil {
				logger.Warnf("drop runs past vcn %d: %s", total, terr)
			}
			return err
		}
	}
	return nil
}

// TruncateTo releases every cluster at or past numVcns and drops the runs.
func (s *Raw) TruncateTo(numVcns int64) error {
	total := s.runs.NextVirtualCluster()
	if numVcns >= total {
		return nil
	}
	if _, err := s.Release(numVcns, total-numVcns); err != nil {
		return err
	}
	r, idx, err := s.find(numVcns)
	if err != nil {
		return err
	}
	if r.StartVcn != numVcns {
		if err = s.runs.Split(idx, numVcns); err != nil {
			return err
		}
		idx++
	}
	s.runs.TruncateAt(idx)
	s.hint = 0
	return nil
}

// Allocate backs every hole in [vcn, vcn+count) with clusters and returns
// how many it took.
func (s *Raw) Allocate(vcn, count int64) (int64, error) {
	var total int64
	defer s.runs.Collapse()
	for focus, end := vcn, vcn+count; focus < end; {
		r, idx, err := s.find(focus)
		if err != nil {
			return total, err
		}
		if !r.Sparse() {
			focus = r.EndVcn()
			continue
		}
		if r.StartVcn < focus {
			if err = s.runs.Split(idx, focus); err != nil {
				return total, err
			}
			idx++
			r = s.runs.At(idx)
		}
		n := utils.Min(end-focus, r.Length())
		if n < r.Length() {
			if err = s.runs.Split(idx, focus+n); err != nil {
				return total, err
			}
		}

		proposed := int64(-1)
		for i := idx - 1; i >= 0; i-- {
			if prev := s.runs.At(i); !prev.Sparse() {
				proposed = prev.StartLcn + prev.Length()
				break
			}
		}
		ranges, err := s.disk.Allocator.Allocate(n, proposed, s.isMft, s.AllocatedClusterCount())
		if err != nil {
			return total, err
		}
		stored := make([]*runs.DataRun, len(ranges))
		lcn := r.StartLcn
		for i, rg := range ranges {
			stored[i] = &runs.DataRun{Length: rg.Count, Offset: rg.First - lcn}
			lcn = rg.First
		}
		if err = s.runs.MakeNonSparse(idx, stored); err != nil {
			return total, err
		}
		s.hint = idx
		total += n
		focus += n
	}
	return total, nil
}

// Release frees the clusters behind [vcn, vcn+count) and turns the range
// into holes. Holes inside the range are skipped.
func (s *Raw) Release(vcn, count int64) (int64, error) {
	var total int64
	defer s.runs.Collapse()
	for focus, end := vcn, vcn+count; focus < end; {
		r, idx, err := s.find(focus)
		if err != nil {
			return total, err
		}
		if r.Sparse() {
			focus = r.EndVcn()
			continue
		}
		if r.StartVcn < focus {
			if err = s.runs.Split(idx, focus); err != nil {
				return total, err
			}
			idx++
			r = s.runs.At(idx)
		}
		n := utils.Min(end-focus, r.Length())
		if n < r.Length() {
			if err = s.runs.Split(idx, focus+n); err != nil {
				return total, err
			}
		}
		if err = s.disk.Allocator.Free(bitmap.Range{First: r.StartLcn, Count: n}); err != nil {
			return total, err
		}
		if err = s.runs.MakeSparse(idx); err != nil {
			return total, err
		}
		total += n
		focus += n
	}
	return total, nil
}

func (s *Raw) checkBuffer(count int64, buf []byte) error {
	if int64(len(buf)) < count*s.disk.ClusterSize {
		return fserrors.InvalidOperation("buffer of %d bytes for %d clusters", len(buf), count)
	}
	return nil
}

// Read fills buf with count clusters from vcn; holes read as zeros.
func (s *Raw) Read(vcn, count int64, buf []byte) error {
	if err := s.checkBuffer(count, buf); err != nil {
		return err
	}
	cs := s.disk.ClusterSize
	for focus, end := vcn, vcn+count; focus < end; {
		r, _, err := s.find(focus)
		if err != nil {
			return err
		}
		n := utils.Min(end, r.EndVcn()) - focus
		p := buf[(focus-vcn)*cs : (focus-vcn+n)*cs]
		if r.Sparse() {
			for i := range p {
				p[i] = 0
			}
		} else if _, err = s.disk.Device.ReadAt(p, (r.StartLcn+focus-r.StartVcn)*cs); err != nil && err != io.EOF {
			return errors.Wrapf(err, "read lcn %d", r.StartLcn+focus-r.StartVcn)
		}
		focus += n
	}
	return nil
}

// Write stores count clusters at vcn. Every cluster must already be stored.
func (s *Raw) Write(vcn, count int64, buf []byte) (int64, error) {
	if err := s.checkBuffer(count, buf); err != nil {
		return 0, err
	}
	cs := s.disk.ClusterSize
	for focus, end := vcn, vcn+count; focus < end; {
		r, _, err := s.find(focus)
		if err != nil {
			return 0, err
		}
		if r.Sparse() {
			return 0, fserrors.InvalidOperation("write to sparse vcn %d", focus)
		}
		n := utils.Min(end, r.EndVcn()) - focus
		lcn := r.StartLcn + focus - r.StartVcn
		if _, err = s.disk.Device.WriteAt(buf[(focus-vcn)*cs:(focus-vcn+n)*cs], lcn*cs); err != nil {
			return 0, errors.Wrapf(err, "write lcn %d", lcn)
		}
		focus += n
	}
	return 0, nil
}

// Clear zeroes the stored clusters of the range. Nothing is released.
func (s *Raw) Clear(vcn, count int64) (int64, error) {
	var zeros []byte
	for focus, end := vcn, vcn+count; focus < end; {
		r, _, err := s.find(focus)
		if err != nil {
			return 0, err
		}
		n := utils.Min(end, r.EndVcn()) - focus
		if !r.Sparse() {
			if zeros == nil {
				zeros = make([]byte, clearChunk*s.disk.ClusterSize)
			}
			for done := int64(0); done < n; done += clearChunk {
				if _, err = s.Write(focus+done, utils.Min(clearChunk, n-done), zeros); err != nil {
					return 0, err
				}
			}
		}
		focus += n
	}
	return 0, nil
}
