package memory

import (
	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/program"
)

// Instance is the per-process storage of one program. It owns the
// read_only image and the shared region; threads get their own read_write
// and uninit storage through NewSpace.
type Instance struct {
	program  *program.Program
	readOnly []byte
	shared   []byte
}

// NewInstance allocates the process-wide storage of p.
func NewInstance(p *program.Program) *Instance {
	return &Instance{
		program:  p,
		readOnly: p.Layout.ReadOnly,
		shared:   append([]byte(nil), p.Layout.Shared...),
	}
}

// Program returns the program the instance was created for.
func (in *Instance) Program() *program.Program {
	return in.program
}

// NewSpace creates the private data storage of one thread.
func (in *Instance) NewSpace() *Space {
	return &Space{
		inst:      in,
		readWrite: append([]byte(nil), in.program.Layout.ReadWrite...),
		uninit:    make([]byte, in.program.Layout.Size(program.RegionUninit)),
	}
}

// Space is the view one thread has of a program's data sections.
type Space struct {
	inst      *Instance
	readWrite []byte
	uninit    []byte
}

// Instance returns the process-wide storage the space belongs to.
func (s *Space) Instance() *Instance {
	return s.inst
}

func (s *Space) region(r program.Region) []byte {
	switch r {
	case program.RegionReadOnly:
		return s.inst.readOnly
	case program.RegionReadWrite:
		return s.readWrite
	case program.RegionUninit:
		return s.uninit
	default:
		return s.inst.shared
	}
}

func (s *Space) address(d *program.Data, offset uint64, a bytecode.Access) (uint64, error) {
	if d.Program != s.inst.program {
		return 0, errors.Memory("data %s belongs to %s, not %s", d.Name, d.Program.Name, s.inst.program.Name)
	}
	if err := checkWindow("data "+d.Name, offset, uint64(a.Width()), uint64(d.Length)); err != nil {
		return 0, err
	}
	return uint64(d.Offset) + offset, nil
}

// Load reads from data entry d at byte offset within the entry. d must be
// a local entry of the space's program; resolve imports first.
func (s *Space) Load(d *program.Data, offset uint64, a bytecode.Access) (uint64, error) {
	addr, err := s.address(d, offset, a)
	if err != nil {
		return 0, err
	}
	return Load(s.region(d.Region), addr, a)
}

// Store writes to data entry d. Stores to read_only entries fail.
func (s *Space) Store(d *program.Data, offset uint64, a bytecode.Access, v uint64) error {
	if d.Region == program.RegionReadOnly {
		return errors.Memory("store to read_only data %s", d.Name)
	}
	addr, err := s.address(d, offset, a)
	if err != nil {
		return err
	}
	return Store(s.region(d.Region), addr, a, v)
}

// Bytes returns the storage of entry d. The slice aliases the section and
// must not be written for read_only entries.
func (s *Space) Bytes(d *program.Data) []byte {
	buf := s.region(d.Region)
	return buf[d.Offset : d.Offset+d.Length : d.Offset+d.Length]
}
