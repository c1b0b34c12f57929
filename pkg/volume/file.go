// pkg/volume/file.go

package volume

import (
	"context"

	"ClusterFS/pkg/attr"
	"ClusterFS/pkg/fserrors"
	"ClusterFS/pkg/meta"
	"ClusterFS/pkg/utils"

	"github.com/pkg/errors"
)

// File is an open non-resident attribute of a record. Files are shared: the
// volume hands out one per attribute.
type File struct {
	vol    *Volume
	record string
	buf    *attr.Buffer
}

func fileKey(record, name string) string {
	return record + "\x00" + name
}

func (v *Volume) openFile(ctx context.Context, record, name string, flags attr.Flags, create bool) (*File, error) {
	key := fileKey(record, name)
	if f, ok := v.files[key]; ok {
		if create {
			return nil, fserrors.InvalidOperation("attribute %s of %s exists", name, record)
		}
		return f, nil
	}
	rec, err := v.record(ctx, record, create)
	if err != nil {
		return nil, err
	}
	a := rec.Attribute(name)
	switch {
	case a == nil && !create:
		return nil, fserrors.InvalidOperation("%s has no attribute %s", record, name)
	case a != nil && create:
		return nil, fserrors.InvalidOperation("attribute %s of %s exists", name, record)
	case a == nil:
		a = attr.NewAttribute(name, flags)
		if a.IsCompressed() && v.format.CompressionUnit > 0 {
			a.CompressionUnit = uint8(v.format.CompressionUnit)
		}
		rec.AddAttribute(a)
	}
	var block = v.block
	if !a.IsCompressed() {
		block = nil
	}
	buf, err := attr.Open(v.disk, rec, a, block)
	if err != nil {
		return nil, err
	}
	f := &File{vol: v, record: record, buf: buf}
	v.files[key] = f
	return f, nil
}

// CreateAttribute adds an empty attribute to a record, creating the record
// when it does not exist yet.
func (v *Volume) CreateAttribute(ctx context.Context, record, name string, flags attr.Flags) (f *File, err error) {
	v.Lock()
	defer v.Unlock()
	start := utils.Clock()
	defer func() { logit("create", start, err, "%s:%s (%s)", record, name, flags) }()
	if err = v.checkWritable(); err != nil {
		return nil, err
	}
	return v.openFile(ctx, record, name, flags, true)
}

// OpenAttribute opens an existing attribute.
func (v *Volume) OpenAttribute(ctx context.Context, record, name string) (f *File, err error) {
	v.Lock()
	defer v.Unlock()
	start := utils.Clock()
	defer func() { logit("open", start, err, "%s:%s", record, name) }()
	return v.openFile(ctx, record, name, 0, false)
}

// Remove frees every cluster of a record and deletes it.
func (v *Volume) Remove(ctx context.Context, record string) (err error) {
	v.Lock()
	defer v.Unlock()
	start := utils.Clock()
	defer func() { logit("remove", start, err, "%s", record) }()
	if err = v.checkWritable(); err != nil {
		return err
	}
	rec, err := v.record(ctx, record, false)
	if err != nil {
		return err
	}
	for _, a := range rec.Attributes() {
		var f *File
		if f, err = v.openFile(ctx, record, a.Name, 0, false); err != nil {
			return err
		}
		if err = f.buf.SetCapacity(0); err != nil {
			return errors.Wrapf(err, "free %s of %s", a.Name, record)
		}
		delete(v.files, fileKey(record, a.Name))
	}
	delete(v.records, record)
	err = v.meta.DeleteRecord(ctx, record)
	if errors.Is(err, meta.ErrNotFound) {
		// never flushed
		err = nil
	}
	return err
}

// Attribute returns the persistent description of the attribute.
func (f *File) Attribute() *attr.Attribute { return f.buf.Attribute() }

// Record is the name of the owning record.
func (f *File) Record() string { return f.record }

// Buffer exposes the underlying attribute buffer for inspection.
func (f *File) Buffer() *attr.Buffer { return f.buf }

func (f *File) Size() int64 {
	f.vol.Lock()
	defer f.vol.Unlock()
	return f.buf.Capacity()
}

// AllocatedClusters is the number of clusters holding data.
func (f *File) AllocatedClusters() int64 {
	f.vol.Lock()
	defer f.vol.Unlock()
	return f.buf.AllocatedClusterCount()
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	f.vol.Lock()
	defer f.vol.Unlock()
	start := utils.Clock()
	defer func() { logit("read", start, err, "%s:%s (%d,%d): %d", f.record, f.Attribute().Name, off, len(p), n) }()
	return f.buf.Read(off, p)
}

// WriteAt writes p at off, growing the attribute as needed.
func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	f.vol.Lock()
	defer f.vol.Unlock()
	start := utils.Clock()
	defer func() { logit("write", start, err, "%s:%s (%d,%d)", f.record, f.Attribute().Name, off, len(p)) }()
	if err = f.vol.checkWritable(); err != nil {
		return 0, err
	}
	if err = f.buf.Write(off, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Truncate sets the attribute length.
func (f *File) Truncate(size int64) (err error) {
	f.vol.Lock()
	defer f.vol.Unlock()
	start := utils.Clock()
	defer func() { logit("truncate", start, err, "%s:%s (%d)", f.record, f.Attribute().Name, size) }()
	if err = f.vol.checkWritable(); err != nil {
		return err
	}
	return f.buf.SetCapacity(size)
}

// Clear zeroes count bytes at off, releasing whole clusters of sparse and
// compressed attributes.
func (f *File) Clear(off, count int64) (err error) {
	f.vol.Lock()
	defer f.vol.Unlock()
	start := utils.Clock()
	defer func() { logit("clear", start, err, "%s:%s (%d,%d)", f.record, f.Attribute().Name, off, count) }()
	if err = f.vol.checkWritable(); err != nil {
		return err
	}
	return f.buf.Clear(off, count)
}
