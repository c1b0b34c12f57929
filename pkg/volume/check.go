// pkg/volume/check.go

package volume

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ClusterFS/pkg/bitmap"
	"ClusterFS/pkg/runs"
)

// Report is the outcome of Check.
type Report struct {
	Records    int
	Attributes int
	Referenced int64 // clusters mapped by some attribute
	Leaked     int64 // clusters marked in the bitmap that nothing maps
	Problems   []string
}

// OK reports whether no problem was found.
func (r *Report) OK() bool {
	return len(r.Problems) == 0 && r.Leaked == 0
}

type owned struct {
	bitmap.Range
	owner string
}

// Check walks every stored record with concurrent workers, then verifies that
// each mapped cluster is marked in the bitmap, that no cluster is mapped
// twice and that the bitmap holds no leaked clusters. Unflushed changes are
// flushed first.
func (v *Volume) Check(ctx context.Context, concurrent int) (*Report, error) {
	v.Lock()
	defer v.Unlock()
	var n int
	if err := v.flush(ctx, &n); err != nil {
		return nil, err
	}
	names, err := v.meta.ListRecords(ctx)
	if err != nil {
		return nil, err
	}
	if concurrent < 1 {
		concurrent = 1
	}
	logger.Infof("start to check %d records with %d workers", len(names), concurrent)
	start := time.Now()

	report := &Report{Records: len(names)}
	var mu sync.Mutex
	var ranges []owned
	problem := func(format string, args ...interface{}) {
		mu.Lock()
		report.Problems = append(report.Problems, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	todo := make(chan string, 10240)
	wg := sync.WaitGroup{}
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range todo {
				rec, err := v.meta.GetRecord(ctx, name)
				if err != nil {
					problem("record %s: %s", name, err)
					continue
				}
				for _, a := range rec.Attributes() {
					cooked, err := runs.Cook(a.Extents)
					if err != nil {
						problem("%s:%s: %s", name, a.Name, err)
						continue
					}
					if mapped := cooked.NextVirtualCluster() * int64(v.format.ClusterSize); mapped != a.AllocatedLength {
						problem("%s:%s: allocated length %d, runs map %d bytes", name, a.Name, a.AllocatedLength, mapped)
					}
					var mine []owned
					for i := 0; i < cooked.Len(); i++ {
						r := cooked.At(i)
						if !r.Sparse() {
							mine = append(mine, owned{bitmap.Range{First: r.StartLcn, Count: r.Length()}, name + ":" + a.Name})
						}
					}
					mu.Lock()
					report.Attributes++
					ranges = append(ranges, mine...)
					mu.Unlock()
				}
			}
		}()
	}
	for _, name := range names {
		todo <- name
	}
	close(todo)
	wg.Wait()
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].First < ranges[j].First })
	var end int64 = v.format.BitmapClusters
	var endOwner = "bitmap"
	for _, r := range ranges {
		if r.First < 0 || r.First+r.Count > v.format.TotalClusters {
			report.Problems = append(report.Problems, fmt.Sprintf("%s maps %s outside of the volume", r.owner, r.Range))
			continue
		}
		if r.First < end {
			report.Problems = append(report.Problems, fmt.Sprintf("%s maps %s, overlapping %s", r.owner, r.Range, endOwner))
		}
		if r.First+r.Count > end {
			end, endOwner = r.First+r.Count, r.owner
		}
		used, err := v.bitmap.CountPresent(r.First, r.First+r.Count)
		if err != nil {
			return nil, err
		}
		if used != r.Count {
			report.Problems = append(report.Problems, fmt.Sprintf("%s maps %s, %d clusters not marked in bitmap", r.owner, r.Range, r.Count-used))
		}
		report.Referenced += r.Count
	}

	free, err := v.alloc.FreeClusterCount()
	if err != nil {
		return nil, err
	}
	inUse := v.format.TotalClusters - free
	if leaked := inUse - v.format.BitmapClusters - report.Referenced; leaked > 0 {
		report.Leaked = leaked
	}
	logger.Infof("Checked %d records (%d attributes) in %s: %d problems, %d leaked clusters",
		report.Records, report.Attributes, time.Since(start), len(report.Problems), report.Leaked)
	return report, nil
}
