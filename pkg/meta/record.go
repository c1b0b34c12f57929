// pkg/meta/record.go

package meta

import (
	"sort"

	"ClusterFS/pkg/attr"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/utils"
)

const recordMagic = 0x46524543 // "CERF"

// Record is a file record: a name and the non-resident attributes it owns.
type Record struct {
	Name  string
	attrs map[string]*attr.Attribute
	dirty bool
}

func NewRecord(name string) *Record {
	return &Record{Name: name, attrs: make(map[string]*attr.Attribute), dirty: true}
}

func (r *Record) MarkDirty() { r.dirty = true }

func (r *Record) Dirty() bool { return r.dirty }

func (r *Record) Clean() { r.dirty = false }

func (r *Record) Attribute(name string) *attr.Attribute {
	return r.attrs[name]
}

func (r *Record) AddAttribute(a *attr.Attribute) {
	r.attrs[a.Name] = a
	r.dirty = true
}

func (r *Record) RemoveAttribute(name string) {
	delete(r.attrs, name)
	r.dirty = true
}

// Attributes returns the attributes ordered by name.
func (r *Record) Attributes() []*attr.Attribute {
	out := make([]*attr.Attribute, 0, len(r.attrs))
	for _, a := range r.attrs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Marshal encodes the record. Each attribute extent is stored with its VCN
// span followed by its mapping pairs.
func (r *Record) Marshal() []byte {
	attrs := r.Attributes()
	size := 4 + 2 + len(r.Name) + 2
	mapping := make([][][]byte, len(attrs))
	for i, a := range attrs {
		size += 2 + len(a.Name) + 2 + 1 + 4*8 + 2
		for _, id := range a.Extents.IDs() {
			enc := a.Extents.Extent(id).Encode()
			mapping[i] = append(mapping[i], enc)
			size += 8 + 8 + 4 + len(enc)
		}
	}

	w := utils.NewBuffer(uint32(size))
	w.Put32(recordMagic)
	w.Put16(uint16(len(r.Name)))
	w.Put([]byte(r.Name))
	w.Put16(uint16(len(attrs)))
	for i, a := range attrs {
		w.Put16(uint16(len(a.Name)))
		w.Put([]byte(a.Name))
		w.Put16(uint16(a.Flags))
		w.Put8(a.CompressionUnit)
		w.Put64(uint64(a.AllocatedLength))
		w.Put64(uint64(a.DataLength))
		w.Put64(uint64(a.InitializedDataLength))
		w.Put64(uint64(a.CompressedDataSize))
		ids := a.Extents.IDs()
		w.Put16(uint16(len(ids)))
		for j, id := range ids {
			e := a.Extents.Extent(id)
			w.Put64(uint64(e.StartVcn))
			w.Put64(uint64(e.LastVcn))
			w.Put32(uint32(len(mapping[i][j])))
			w.Put(mapping[i][j])
		}
	}
	logger.Tracef("record %s -> %d bytes", r.Name, size)
	return w.Bytes()
}

// UnmarshalRecord decodes a record and checks every extent against its
// mapping pairs.
func UnmarshalRecord(buf []byte) (*Record, error) {
	rb := utils.ReadBuffer(buf)
	short := func(n int) bool { return rb.Left() < n }
	corrupt := func(what string) error {
		return fserrors.CorruptExtentMap("record truncated at %s (offset %d of %d)", what, rb.Offset(), len(buf))
	}

	if short(6) {
		return nil, corrupt("header")
	}
	if m := rb.Get32(); m != recordMagic {
		return nil, fserrors.CorruptExtentMap("bad record magic %08x", m)
	}
	n := int(rb.Get16())
	if short(n + 2) {
		return nil, corrupt("name")
	}
	r := NewRecord(string(rb.Get(n)))
	count := int(rb.Get16())
	for i := 0; i < count; i++ {
		if short(2) {
			return nil, corrupt("attribute")
		}
		n = int(rb.Get16())
		if short(n + 2 + 1 + 4*8 + 2) {
			return nil, corrupt("attribute header")
		}
		a := &attr.Attribute{Name: string(rb.Get(n)), Extents: runs.NewArena()}
		a.Flags = attr.Flags(rb.Get16())
		a.CompressionUnit = rb.Get8()
		a.AllocatedLength = int64(rb.Get64())
		a.DataLength = int64(rb.Get64())
		a.InitializedDataLength = int64(rb.Get64())
		a.CompressedDataSize = int64(rb.Get64())
		extents := int(rb.Get16())
		for j := 0; j < extents; j++ {
			if short(20) {
				return nil, corrupt("extent")
			}
			start, last := int64(rb.Get64()), int64(rb.Get64())
			size := int(rb.Get32())
			if short(size) {
				return nil, corrupt("mapping pairs")
			}
			list, used, err := runs.DecodeRuns(rb.Get(size))
			if err != nil {
				return nil, err
			}
			if used != size {
				return nil, fserrors.CorruptExtentMap("%d bytes after mapping pairs of %s", size-used, a.Name)
			}
			e := runs.NewExtent(start, list)
			if e.LastVcn != last {
				return nil, fserrors.CorruptExtentMap("extent of %s declares vcn %d..%d, runs end at %d", a.Name, start, last, e.LastVcn)
			}
			a.Extents.Add(e)
		}
		if extents == 0 {
			a.Extents.Add(runs.NewExtent(0, nil))
		}
		r.attrs[a.Name] = a
	}
	r.dirty = false
	return r, nil
}
