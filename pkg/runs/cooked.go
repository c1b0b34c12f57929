// pkg/runs/cooked.go

package runs

import (
	"fmt"
	"math"
	"sort"

	"ClusterFS/pkg/fserrors"
)

// CookedRun is a DataRun placed at absolute VCN and LCN. A sparse run keeps
// the LCN of the stored run before it in the same extent so that deltas of
// later runs can be rebuilt.
type CookedRun struct {
	Run      *DataRun
	StartVcn int64
	StartLcn int64
	Extent   ExtentID
}

func (c *CookedRun) Length() int64 { return c.Run.Length }
func (c *CookedRun) Sparse() bool  { return c.Run.Sparse }
func (c *CookedRun) EndVcn() int64 { return c.StartVcn + c.Run.Length }

func (c *CookedRun) String() string {
	if c.Sparse() {
		return fmt.Sprintf("vcn %d: sparse x%d", c.StartVcn, c.Length())
	}
	return fmt.Sprintf("vcn %d: lcn %d x%d", c.StartVcn, c.StartLcn, c.Length())
}

// CookedRuns is the ordered run list of a whole attribute. Edits record the
// touched index window and Collapse later merges neighbours only inside it.
type CookedRuns struct {
	arena      *Arena
	runs       []*CookedRun
	firstDirty int
	lastDirty  int
}

// Cook builds the run list from every extent in the arena, checking that
// extents tile the VCN space and that each one's declared span matches its
// runs.
func Cook(arena *Arena) (*CookedRuns, error) {
	c := &CookedRuns{arena: arena}
	c.clean()
	var vcn int64
	for _, id := range arena.IDs() {
		ext := arena.Extent(id)
		count := ext.ClusterCount()
		if len(ext.Runs) == 0 {
			if ext.LastVcn != ext.StartVcn-1 {
				return nil, fserrors.CorruptExtentMap("empty %s declares clusters", ext)
			}
			continue
		}
		if ext.StartVcn != vcn {
			return nil, fserrors.CorruptExtentMap("%s starts at vcn %d, expected %d", ext, ext.StartVcn, vcn)
		}
		if ext.StartVcn+count-1 != ext.LastVcn {
			return nil, fserrors.CorruptExtentMap("%s runs cover %d clusters", ext, count)
		}
		for _, r := range ext.Runs {
			c.runs = append(c.runs, c.cook(r, c.Last(), id))
		}
		vcn += count
	}
	return c, nil
}

func (c *CookedRuns) cook(r *DataRun, prev *CookedRun, id ExtentID) *CookedRun {
	cr := &CookedRun{Run: r, Extent: id}
	if prev != nil {
		cr.StartVcn = prev.EndVcn()
		if prev.Extent == id {
			cr.StartLcn = prev.StartLcn
		}
	} else if ext := c.arena.Extent(id); ext != nil {
		cr.StartVcn = ext.StartVcn
	}
	if !r.Sparse {
		cr.StartLcn += r.Offset
	}
	return cr
}

func (c *CookedRuns) Arena() *Arena { return c.arena }

func (c *CookedRuns) Len() int { return len(c.runs) }

func (c *CookedRuns) At(i int) *CookedRun { return c.runs[i] }

func (c *CookedRuns) Last() *CookedRun {
	if len(c.runs) == 0 {
		return nil
	}
	return c.runs[len(c.runs)-1]
}

// NextVirtualCluster is the VCN right after the last run.
func (c *CookedRuns) NextVirtualCluster() int64 {
	if last := c.Last(); last != nil {
		return last.EndVcn()
	}
	return 0
}

// Find returns the index of the run holding vcn. hint is where the previous
// lookup landed; sequential access then costs one or two comparisons.
func (c *CookedRuns) Find(vcn int64, hint int) (int, error) {
	if vcn < 0 || vcn >= c.NextVirtualCluster() {
		return -1, fserrors.CorruptExtentMap("vcn %d outside of mapped range [0, %d)", vcn, c.NextVirtualCluster())
	}
	if hint >= 0 && hint < len(c.runs) && c.runs[hint].StartVcn <= vcn {
		for i := hint; i < len(c.runs) && i < hint+4; i++ {
			if vcn < c.runs[i].EndVcn() {
				return i, nil
			}
		}
	}
	i := sort.Search(len(c.runs), func(i int) bool { return c.runs[i].EndVcn() > vcn })
	return i, nil
}

// Append adds r at the end of the list and of extent id.
func (c *CookedRuns) Append(r *DataRun, id ExtentID) {
	ext := c.arena.Extent(id)
	if len(ext.Runs) == 0 {
		ext.StartVcn = c.NextVirtualCluster()
	}
	ext.AppendRun(r)
	ext.Fixup()
	c.runs = append(c.runs, c.cook(r, c.Last(), id))
	c.markDirty(len(c.runs)-1, len(c.runs)-1)
}

func (c *CookedRuns) AppendAll(runs []*DataRun, id ExtentID) {
	for _, r := range runs {
		c.Append(r, id)
	}
}

// Extend lengthens the last run by count clusters.
func (c *CookedRuns) Extend(count int64) {
	last := c.Last()
	if last == nil || count <= 0 {
		return
	}
	last.Run.Length += count
	c.arena.Extent(last.Extent).Fixup()
	c.markDirty(len(c.runs)-1, len(c.runs)-1)
}

// Split cuts run idx at vcn; the tail becomes run idx+1.
func (c *CookedRuns) Split(idx int, vcn int64) error {
	run := c.runs[idx]
	if vcn <= run.StartVcn || vcn >= run.EndVcn() {
		return fserrors.InvalidOperation("split at vcn %d outside run %s", vcn, run)
	}
	distance := vcn - run.StartVcn
	tail := &DataRun{Length: run.Length() - distance, Sparse: run.Sparse()}
	cooked := &CookedRun{Run: tail, StartVcn: vcn, StartLcn: run.StartLcn, Extent: run.Extent}
	if !tail.Sparse {
		tail.Offset = distance
		cooked.StartLcn += distance
	}
	run.Run.Length = distance
	c.arena.Extent(run.Extent).InsertRun(run.Run, tail)
	c.insert(idx+1, cooked)
	c.rethread(idx + 2)
	c.markDirty(idx, idx+1)
	return nil
}

// MakeSparse turns a stored run into a hole of the same length. The caller
// has already released its clusters.
func (c *CookedRuns) MakeSparse(idx int) error {
	run := c.runs[idx]
	if run.Sparse() {
		return fserrors.InvalidOperation("run %s is already sparse", run)
	}
	hole := &DataRun{Length: run.Length(), Sparse: true}
	c.arena.Extent(run.Extent).ReplaceRun(run.Run, hole)
	c.runs[idx] = &CookedRun{Run: hole, StartVcn: run.StartVcn, StartLcn: c.lcnBefore(idx), Extent: run.Extent}
	c.rethread(idx + 1)
	c.markDirty(idx, idx)
	return nil
}

// MakeNonSparse replaces the hole at idx with freshly allocated runs whose
// lengths add up to the hole's.
func (c *CookedRuns) MakeNonSparse(idx int, stored []*DataRun) error {
	run := c.runs[idx]
	if !run.Sparse() {
		return fserrors.InvalidOperation("run %s is not sparse", run)
	}
	var total int64
	for _, r := range stored {
		total += r.Length
	}
	if total != run.Length() || len(stored) == 0 {
		return fserrors.InvalidOperation("replacement covers %d clusters, hole %s", total, run)
	}
	ext := c.arena.Extent(run.Extent)
	pos := ext.RemoveRun(run.Run)
	lcn, vcn := c.lcnBefore(idx), run.StartVcn
	cooked := make([]*CookedRun, len(stored))
	for i, r := range stored {
		if !r.Sparse {
			lcn += r.Offset
		}
		cooked[i] = &CookedRun{Run: r, StartVcn: vcn, StartLcn: lcn, Extent: run.Extent}
		vcn += r.Length
		ext.InsertRunAt(pos+i, r)
	}
	c.runs[idx] = cooked[0]
	for i := 1; i < len(cooked); i++ {
		c.insert(idx+i, cooked[i])
	}
	c.rethread(idx + len(cooked))
	c.markDirty(idx, idx+len(cooked)-1)
	return nil
}

// TruncateAt drops runs idx and later from the list and their extents.
// Extents left without runs stay in the arena for the caller to remove.
func (c *CookedRuns) TruncateAt(idx int) {
	for _, run := range c.runs[idx:] {
		ext := c.arena.Extent(run.Extent)
		ext.RemoveRun(run.Run)
		ext.Fixup()
	}
	c.runs = c.runs[:idx]
	if c.lastDirty >= idx {
		c.lastDirty = idx - 1
	}
	if c.firstDirty > c.lastDirty {
		c.clean()
	}
}

// Collapse merges neighbours inside the dirty window: two holes, or two
// stored runs that are physically adjacent. Runs of different extents are
// never merged.
func (c *CookedRuns) Collapse() {
	if c.firstDirty > c.lastDirty {
		return
	}
	i := c.firstDirty - 1
	if i < 0 {
		i = 0
	}
	for i <= c.lastDirty && i < len(c.runs)-1 {
		a, b := c.runs[i], c.runs[i+1]
		mergeable := a.Extent == b.Extent && a.Sparse() == b.Sparse() &&
			(a.Sparse() || a.StartLcn+a.Length() == b.StartLcn)
		if !mergeable {
			i++
			continue
		}
		a.Run.Length += b.Length()
		c.arena.Extent(b.Extent).RemoveRun(b.Run)
		c.runs = append(c.runs[:i+1], c.runs[i+2:]...)
		if !a.Sparse() {
			c.rethread(i + 1)
		}
		if c.lastDirty > i {
			c.lastDirty--
		}
		if c.lastDirty < i {
			c.lastDirty = i
		}
	}
	c.clean()
}

// lcnBefore is the LCN the delta chain holds just before run idx.
func (c *CookedRuns) lcnBefore(idx int) int64 {
	if idx > 0 && c.runs[idx-1].Extent == c.runs[idx].Extent {
		return c.runs[idx-1].StartLcn
	}
	return 0
}

// rethread fixes the runs from idx on after the chain value before them
// changed: holes take the new LCN and the first stored run gets a new delta.
func (c *CookedRuns) rethread(idx int) {
	if idx <= 0 || idx >= len(c.runs) {
		return
	}
	id := c.runs[idx-1].Extent
	lcn := c.runs[idx-1].StartLcn
	for i := idx; i < len(c.runs) && c.runs[i].Extent == id; i++ {
		run := c.runs[i]
		if run.Sparse() {
			run.StartLcn = lcn
			continue
		}
		run.Run.Offset = run.StartLcn - lcn
		return
	}
}

func (c *CookedRuns) insert(idx int, run *CookedRun) {
	c.runs = append(c.runs, nil)
	copy(c.runs[idx+1:], c.runs[idx:])
	c.runs[idx] = run
	if c.firstDirty >= idx && c.firstDirty != math.MaxInt {
		c.firstDirty++
	}
	if c.lastDirty >= idx {
		c.lastDirty++
	}
}

func (c *CookedRuns) markDirty(first, last int) {
	if first < c.firstDirty {
		c.firstDirty = first
	}
	if last > c.lastDirty {
		c.lastDirty = last
	}
}

func (c *CookedRuns) clean() {
	c.firstDirty = math.MaxInt
	c.lastDirty = -1
}
