// pkg/attr/attribute.go

// Package attr exposes a non-resident attribute as a byte stream on top of
// the cluster streams.
package attr

import (
	"fmt"

	"ClusterFS/pkg/runs"
	"ClusterFS/pkg/utils"
)

var logger = utils.GetLogger("clusterfs")

type Flags uint16

const (
	FlagCompressed Flags = 0x0001
	FlagSparse     Flags = 0x8000
)

func (f Flags) String() string {
	switch {
	case f&FlagCompressed != 0 && f&FlagSparse != 0:
		return "compressed,sparse"
	case f&FlagCompressed != 0:
		return "compressed"
	case f&FlagSparse != 0:
		return "sparse"
	}
	return "plain"
}

// DefaultCompressionUnit is the exponent for 16 clusters per unit.
const DefaultCompressionUnit = 4

// Record is the file record owning an attribute.
type Record interface {
	MarkDirty()
}

// Attribute is the persistent description of a non-resident attribute. Its
// extents hold the run lists; the first extent is the primary one and is
// never removed.
type Attribute struct {
	Name                  string
	Flags                 Flags
	CompressionUnit       uint8
	AllocatedLength       int64
	DataLength            int64
	InitializedDataLength int64
	CompressedDataSize    int64
	Extents               *runs.Arena
}

func NewAttribute(name string, flags Flags) *Attribute {
	a := &Attribute{Name: name, Flags: flags, Extents: runs.NewArena()}
	if flags&(FlagCompressed|FlagSparse) != 0 {
		a.CompressionUnit = DefaultCompressionUnit
	}
	a.Extents.Add(runs.NewExtent(0, nil))
	return a
}

func (a *Attribute) IsCompressed() bool { return a.Flags&FlagCompressed != 0 }
func (a *Attribute) IsSparse() bool     { return a.Flags&FlagSparse != 0 }

// CompressionUnitSize is the unit length in clusters.
func (a *Attribute) CompressionUnitSize() int64 {
	return 1 << a.CompressionUnit
}

func (a *Attribute) String() string {
	return fmt.Sprintf("%s(%s, %d/%d/%d bytes)", a.Name, a.Flags, a.InitializedDataLength, a.DataLength, a.AllocatedLength)
}
