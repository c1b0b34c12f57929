// pkg/runs/extent.go

package runs

import (
	"fmt"
	"sort"
)

// ExtentID names an extent inside its Arena. IDs stay valid while other
// extents are added or removed.
type ExtentID int

// Extent is one attribute record: a contiguous VCN span and the runs that
// map it. An empty extent has LastVcn == StartVcn-1.
type Extent struct {
	StartVcn int64
	LastVcn  int64
	Runs     []*DataRun
}

func NewExtent(startVcn int64, runs []*DataRun) *Extent {
	e := &Extent{StartVcn: startVcn, Runs: runs}
	e.Fixup()
	return e
}

func (e *Extent) String() string {
	return fmt.Sprintf("extent[%d..%d](%d runs)", e.StartVcn, e.LastVcn, len(e.Runs))
}

// ClusterCount sums the run lengths.
func (e *Extent) ClusterCount() int64 {
	var n int64
	for _, r := range e.Runs {
		n += r.Length
	}
	return n
}

// Fixup recomputes LastVcn from the runs.
func (e *Extent) Fixup() {
	e.LastVcn = e.StartVcn + e.ClusterCount() - 1
}

func (e *Extent) indexOf(r *DataRun) int {
	for i, x := range e.Runs {
		if x == r {
			return i
		}
	}
	return -1
}

func (e *Extent) InsertRunAt(i int, r *DataRun) {
	e.Runs = append(e.Runs, nil)
	copy(e.Runs[i+1:], e.Runs[i:])
	e.Runs[i] = r
}

// InsertRun puts r right after the run after.
func (e *Extent) InsertRun(after, r *DataRun) {
	e.InsertRunAt(e.indexOf(after)+1, r)
}

func (e *Extent) AppendRun(r *DataRun) {
	e.Runs = append(e.Runs, r)
}

// RemoveRun drops r and returns the index it had, or -1.
func (e *Extent) RemoveRun(r *DataRun) int {
	i := e.indexOf(r)
	if i >= 0 {
		e.Runs = append(e.Runs[:i], e.Runs[i+1:]...)
	}
	return i
}

func (e *Extent) ReplaceRun(old, r *DataRun) {
	if i := e.indexOf(old); i >= 0 {
		e.Runs[i] = r
	}
}

// Encode returns the mapping pairs of the extent.
func (e *Extent) Encode() []byte {
	return EncodeRuns(e.Runs)
}

// Arena owns the extents of one attribute.
type Arena struct {
	extents []*Extent
}

func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) Add(e *Extent) ExtentID {
	a.extents = append(a.extents, e)
	return ExtentID(len(a.extents) - 1)
}

// Extent returns nil for removed or unknown IDs.
func (a *Arena) Extent(id ExtentID) *Extent {
	if id < 0 || int(id) >= len(a.extents) {
		return nil
	}
	return a.extents[id]
}

func (a *Arena) Remove(id ExtentID) {
	if a.Extent(id) != nil {
		a.extents[id] = nil
	}
}

// IDs lists live extents ordered by StartVcn.
func (a *Arena) IDs() []ExtentID {
	var ids []ExtentID
	for i, e := range a.extents {
		if e != nil {
			ids = append(ids, ExtentID(i))
		}
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return a.extents[ids[i]].StartVcn < a.extents[ids[j]].StartVcn
	})
	return ids
}

// Last is the live extent with the highest StartVcn, or -1.
func (a *Arena) Last() ExtentID {
	ids := a.IDs()
	if len(ids) == 0 {
		return -1
	}
	return ids[len(ids)-1]
}

// Empty lists live extents that hold no runs.
func (a *Arena) Empty() []ExtentID {
	var ids []ExtentID
	for _, id := range a.IDs() {
		if len(a.extents[id].Runs) == 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
