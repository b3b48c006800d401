package memory

import (
	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
)

// Frames is the local slot arena of one thread. Call frames are pushed and
// popped in strict stack order; each frame is a zeroed byte range whose
// base is 8-byte aligned.
type Frames struct {
	buf []byte
	top uint32
	max uint32
}

// NewFrames creates an arena that can hold at most max bytes of locals.
func NewFrames(max uint32) *Frames {
	initial := max
	if initial > 4096 {
		initial = 4096
	}
	return &Frames{buf: make([]byte, initial), max: max}
}

// Push reserves a zeroed frame of size bytes and returns its base.
func (f *Frames) Push(size uint32) (uint32, error) {
	base := f.top
	end := uint64(base) + uint64(size)
	if end > uint64(f.max) {
		return 0, errors.Memory("local frame arena exhausted (%d of %d bytes)", end, f.max)
	}
	if end > uint64(len(f.buf)) {
		n := max(uint64(len(f.buf))*2, 64)
		for n < end {
			n *= 2
		}
		if n > uint64(f.max) {
			n = uint64(f.max)
		}
		grown := make([]byte, n)
		copy(grown, f.buf[:base])
		f.buf = grown
	} else {
		clear(f.buf[base:end])
	}
	f.top = uint32(end)
	return base, nil
}

// Pop releases every frame at or above base.
func (f *Frames) Pop(base uint32) {
	f.top = base
}

// Zero clears [from, to) of the frame at base.
func (f *Frames) Zero(base, from, to uint32) {
	clear(f.buf[base+from : base+to])
}

// Top returns the first free byte.
func (f *Frames) Top() uint32 {
	return f.top
}

// Load reads from the local slot at slot offset within the frame at base.
// size is the slot size; offset is relative to the slot.
func (f *Frames) Load(base, slot, size uint32, offset uint64, a bytecode.Access) (uint64, error) {
	if err := checkWindow("local", offset, uint64(a.Width()), uint64(size)); err != nil {
		return 0, err
	}
	return Load(f.buf[:f.top], uint64(base)+uint64(slot)+offset, a)
}

// Store writes to a local slot.
func (f *Frames) Store(base, slot, size uint32, offset uint64, a bytecode.Access, v uint64) error {
	if err := checkWindow("local", offset, uint64(a.Width()), uint64(size)); err != nil {
		return err
	}
	return Store(f.buf[:f.top], uint64(base)+uint64(slot)+offset, a, v)
}

// SetSlot writes a full 8-byte operand into a scalar slot.
func (f *Frames) SetSlot(base, slot uint32, v uint64) {
	_ = Store(f.buf, uint64(base)+uint64(slot), bytecode.AccessI64, v)
}
