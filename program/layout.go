package program

import (
	"fmt"

	"github.com/wippyai/ancvm/bytecode"
)

// Region is the storage area a data entry is laid out in.
type Region uint8

const (
	RegionReadOnly Region = iota
	RegionReadWrite
	RegionUninit
	RegionShared // shared read_write and uninit entries, one copy per process
	numRegions
)

func (r Region) String() string {
	switch r {
	case RegionReadOnly:
		return "read_only"
	case RegionReadWrite:
		return "read_write"
	case RegionUninit:
		return "uninit"
	case RegionShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Data is one entry of the data index space.
type Data struct {
	Program *Program
	Import  *ImportRef
	Target  *Data // bound import target
	Name    string
	Init    []byte
	Index   uint32
	Length  uint32
	Align   uint32
	Offset  uint32 // byte offset within Region
	Section bytecode.DataSection
	Type    bytecode.ValType
	Region  Region
	Shared  bool
}

// Resolve follows import bindings to the defining entry.
func (d *Data) Resolve() *Data {
	for d.Import != nil && d.Target != nil {
		d = d.Target
	}
	return d
}

// Layout describes the static data regions of a program. Images hold the
// initial bytes; the uninit region is always zero.
type Layout struct {
	Sizes     [numRegions]uint32
	ReadOnly  []byte
	ReadWrite []byte
	Shared    []byte
}

// Size returns the byte size of a region.
func (l *Layout) Size(r Region) uint32 {
	return l.Sizes[r]
}

func alignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

func regionOf(sec bytecode.DataSection, shared bool) Region {
	switch {
	case shared:
		return RegionShared
	case sec == bytecode.SectionReadOnly:
		return RegionReadOnly
	case sec == bytecode.SectionReadWrite:
		return RegionReadWrite
	default:
		return RegionUninit
	}
}

func (p *Program) buildData() {
	m := p.Module
	exported := make(map[uint32]string)
	for _, e := range m.Exports {
		if e.Kind == bytecode.KindData {
			if _, ok := exported[e.Index]; !ok {
				exported[e.Index] = e.Name
			}
		}
	}
	nameOf := func(idx uint32) string {
		if n, ok := exported[idx]; ok {
			return n
		}
		return fmt.Sprintf("data#%d", idx)
	}

	for _, imp := range m.Imports {
		if imp.Kind != bytecode.KindData {
			continue
		}
		idx := uint32(len(p.Data))
		p.Data = append(p.Data, &Data{
			Program: p,
			Index:   idx,
			Name:    nameOf(idx),
			Import:  &ImportRef{Link: imp.Link, Name: imp.Name},
			Section: imp.Section,
			Type:    imp.DataType,
			Length:  imp.Length,
			Align:   imp.DataType.Width(),
		})
	}

	var cursor [numRegions]uint32
	for _, e := range m.Data {
		idx := uint32(len(p.Data))
		d := &Data{
			Program: p,
			Index:   idx,
			Name:    nameOf(idx),
			Section: e.Section,
			Type:    e.Type,
			Length:  e.Size(),
			Align:   e.Alignment(),
			Shared:  e.Shared,
			Init:    e.Init,
		}
		d.Region = regionOf(e.Section, e.Shared)
		d.Offset = alignUp(cursor[d.Region], d.Align)
		cursor[d.Region] = d.Offset + d.Length
		p.Data = append(p.Data, d)
	}

	p.Layout.Sizes = cursor
	p.Layout.ReadOnly = make([]byte, cursor[RegionReadOnly])
	p.Layout.ReadWrite = make([]byte, cursor[RegionReadWrite])
	p.Layout.Shared = make([]byte, cursor[RegionShared])
	for _, d := range p.Data {
		if d.Import != nil || len(d.Init) == 0 {
			continue
		}
		switch d.Region {
		case RegionReadOnly:
			copy(p.Layout.ReadOnly[d.Offset:], d.Init)
		case RegionReadWrite:
			copy(p.Layout.ReadWrite[d.Offset:], d.Init)
		case RegionShared:
			copy(p.Layout.Shared[d.Offset:], d.Init)
		}
	}
}
