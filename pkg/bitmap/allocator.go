// pkg/bitmap/allocator.go

package bitmap

import (
	"fmt"

	"ClusterFS/pkg/fserrors"
)

// Range is a run of clusters on the volume.
type Range struct {
	First int64
	Count int64
}

func (r Range) String() string {
	return fmt.Sprintf("[%d+%d]", r.First, r.Count)
}

// Allocator hands out cluster ranges from a volume's bitmap. It is not safe
// for concurrent use; one instance exists per volume.
type Allocator struct {
	bitmap          *Bitmap
	total           int64
	fragmented      bool
	nextDataCluster int64
}

// NewAllocator wraps a bitmap describing a volume of totalClusters clusters.
func NewAllocator(b *Bitmap, totalClusters int64) *Allocator {
	return &Allocator{bitmap: b, total: totalClusters}
}

// TotalClusters is the true volume size, excluding bitmap padding.
func (a *Allocator) TotalClusters() int64 {
	return a.total
}

// Fragmented reports whether contiguous searches are currently skipped.
func (a *Allocator) Fragmented() bool {
	return a.fragmented
}

// FreeClusterCount counts the clusters not marked in the bitmap.
func (a *Allocator) FreeClusterCount() (int64, error) {
	used, err := a.bitmap.CountPresent(0, a.total)
	if err != nil {
		return 0, err
	}
	return a.total - used, nil
}

// Allocate finds count clusters. proposedStart, when >= 0, is the cluster
// right after the file's current tail and is tried first so the file stays
// contiguous. totalSoFar is the number of clusters the file already holds and
// sizes the gap left behind a contiguous data allocation.
//
// The call is all-or-nothing: on shortage every cluster taken so far is
// released and ErrOutOfSpace is returned.
func (a *Allocator) Allocate(count, proposedStart int64, isMft bool, totalSoFar int64) ([]Range, error) {
	if count <= 0 {
		return nil, nil
	}
	n := a.total
	var result []Range
	var numFound int64
	var err error

	search := func(start, end int64, contiguous bool, headroom int64) {
		if err != nil || numFound >= count {
			return
		}
		var found int64
		found, err = a.findClusters(count-numFound, &result, start, end, isMft, contiguous, headroom)
		numFound += found
	}

	if proposedStart >= 0 {
		numFound, err = a.extendRun(count, &result, proposedStart, n)
	}
	if isMft {
		// the MFT grows sequentially from the start of the disk
		if !a.fragmented {
			search(0, n, true, 0)
		}
		search(0, n, false, 0)
	} else {
		if !a.fragmented {
			search(n/8, n, true, totalSoFar/4)
		}
		search(n/8, n, false, 0)
		search(n/16, n/8, false, 0)
		search(0, n/16, false, 0)
	}
	if err == nil && numFound < count {
		err = fserrors.OutOfSpace("need %d clusters, found %d", count, numFound)
	}
	if err != nil {
		for _, r := range result {
			if ferr := a.bitmap.MarkAbsentRange(r.First, r.Count); ferr != nil {
				logger.Warnf("roll back allocation of %s: %s", r, ferr)
			}
		}
		allocationFailures.Inc()
		return nil, err
	}

	if len(result) > 2 || (len(result) > 1 && count/int64(len(result)) < 4) {
		if !a.fragmented {
			logger.Debugf("allocation of %d clusters took %d pieces, entering fragmented mode", count, len(result))
		}
		a.fragmented = true
	} else if len(result) == 1 && count > 4 && a.fragmented {
		logger.Debugf("contiguous allocation of %d clusters, leaving fragmented mode", count)
		a.fragmented = false
	}
	if a.fragmented {
		fragmentedMode.Set(1)
	} else {
		fragmentedMode.Set(0)
	}
	allocatedClusters.Add(float64(count))
	return result, nil
}

func (a *Allocator) extendRun(count int64, result *[]Range, start, end int64) (int64, error) {
	if start < 0 || start >= end {
		return 0, nil
	}
	run, err := a.bitmap.AbsentRun(start, count, end)
	if err != nil || run == 0 {
		return 0, err
	}
	if err = a.bitmap.MarkPresentRange(start, run); err != nil {
		return 0, err
	}
	*result = append(*result, Range{start, run})
	return run, nil
}

func (a *Allocator) findClusters(count int64, result *[]Range, start, end int64, isMft, contiguous bool, headroom int64) (int64, error) {
	if end <= start {
		return 0, nil
	}
	focus := start
	if !isMft {
		if a.nextDataCluster < start || a.nextDataCluster >= end {
			a.nextDataCluster = start
		}
		focus = a.nextDataCluster
	}

	var numFound, inspected int64
	for numFound < count && inspected < end-start {
		free, err := a.bitmap.FindAbsent(focus, end)
		if err != nil {
			return numFound, err
		}
		inspected += free - focus
		if free >= end {
			focus = start
			continue
		}
		want := count - numFound
		run, err := a.bitmap.AbsentRun(free, want, end)
		if err != nil {
			return numFound, err
		}
		if !contiguous || run == want {
			if err = a.bitmap.MarkPresentRange(free, run); err != nil {
				return numFound, err
			}
			*result = append(*result, Range{free, run})
			numFound += run
		}
		inspected += run
		focus = free + run
		if focus >= end {
			focus = start
		}
	}
	if !isMft {
		a.nextDataCluster = focus + headroom
	}
	return numFound, nil
}

// MarkAllocated marks a range as in use without searching, e.g. for the
// volume's own metadata.
func (a *Allocator) MarkAllocated(first, count int64) error {
	return a.bitmap.MarkPresentRange(first, count)
}

// Free returns ranges to the bitmap.
func (a *Allocator) Free(ranges ...Range) error {
	for _, r := range ranges {
		if err := a.bitmap.MarkAbsentRange(r.First, r.Count); err != nil {
			return err
		}
		freedClusters.Add(float64(r.Count))
	}
	return nil
}

// SetTotalClusters resizes the bitmap for a volume of n clusters. Entries
// beyond n that exist only because of the bitmap's 64-cluster granularity are
// marked allocated so they are never handed out.
func (a *Allocator) SetTotalClusters(n int64) error {
	oldTotal, oldSize := a.total, a.bitmap.Size()
	actual, err := a.bitmap.SetTotalEntries(n)
	if err != nil {
		return err
	}
	if n > oldTotal && oldSize > oldTotal {
		// old padding becomes real clusters
		end := oldSize
		if n < end {
			end = n
		}
		if err = a.bitmap.MarkAbsentRange(oldTotal, end-oldTotal); err != nil {
			return err
		}
	}
	a.total = n
	if actual != n {
		return a.MarkAllocated(n, actual-n)
	}
	return nil
}
