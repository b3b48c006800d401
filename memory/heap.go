package memory

import (
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/wippyai/ancvm/bytecode"
	"github.com/wippyai/ancvm/errors"
	"github.com/wippyai/ancvm/resource"
)

// Allocation is one live heap block.
type Allocation struct {
	buf  []byte
	pins atomic.Int32
}

// Bytes returns the block contents.
func (a *Allocation) Bytes() []byte {
	return a.buf
}

// Heap is the explicitly managed memory of a process. Blocks are addressed
// by generation-tagged handles, so any use of a released block fails.
// Blocks are shared by all threads of the process; concurrent access to one
// block needs caller-side synchronization.
type Heap struct {
	allocs *resource.Typed[*Allocation]
	mu     sync.Mutex
	live   uint64
	limit  uint64
}

// NewHeap creates a heap over table whose live bytes never exceed limit.
func NewHeap(table *resource.Table, limit uint64) *Heap {
	return &Heap{
		allocs: resource.NewTyped[*Allocation](table, resource.KindAllocation),
		limit:  limit,
	}
}

func (h *Heap) reserve(n uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.live+n > h.limit || h.live+n < h.live {
		return errors.Memory("heap limit exceeded: %d live + %d requested > %d", h.live, n, h.limit)
	}
	h.live += n
	return nil
}

func (h *Heap) release(n uint64) {
	h.mu.Lock()
	h.live -= n
	h.mu.Unlock()
}

// Alloc returns a handle to a zeroed block of size bytes.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	if err := h.reserve(size); err != nil {
		return 0, err
	}
	handle := h.allocs.Insert(&Allocation{buf: make([]byte, size)})
	if handle == 0 {
		h.release(size)
		return 0, errors.Memory("heap is closed")
	}
	return uint64(handle), nil
}

// AllocBytes stores a copy of b in a new block.
func (h *Heap) AllocBytes(b []byte) (uint64, error) {
	handle, err := h.Alloc(uint64(len(b)))
	if err != nil {
		return 0, err
	}
	a, _ := h.allocs.Get(resource.Handle(handle))
	copy(a.buf, b)
	return handle, nil
}

func (h *Heap) get(handle uint64) (*Allocation, error) {
	a, ok := h.allocs.Get(resource.Handle(handle))
	if !ok {
		return nil, errors.Memory("invalid or released allocation 0x%x", handle)
	}
	return a, nil
}

// Free releases a block. Freeing a released or pinned block fails.
func (h *Heap) Free(handle uint64) error {
	a, err := h.allocs.Remove(resource.Handle(handle))
	if err != nil {
		if stderrors.Is(err, resource.ErrOutstandingBorrow) {
			return errors.Memory("free of allocation 0x%x pinned by a native call", handle)
		}
		return errors.Memory("invalid or released allocation 0x%x", handle)
	}
	h.release(uint64(len(a.buf)))
	return nil
}

// Size returns the size of a block.
func (h *Heap) Size(handle uint64) (uint64, error) {
	a, err := h.get(handle)
	if err != nil {
		return 0, err
	}
	return uint64(len(a.buf)), nil
}

// Resize changes the size of a block, keeping its prefix and zeroing any
// growth. The handle stays valid.
func (h *Heap) Resize(handle, size uint64) error {
	a, err := h.get(handle)
	if err != nil {
		return err
	}
	if a.pins.Load() > 0 {
		return errors.Memory("resize of allocation 0x%x pinned by a native call", handle)
	}

	old := uint64(len(a.buf))
	if size > old {
		if err := h.reserve(size - old); err != nil {
			return err
		}
		grown := make([]byte, size)
		copy(grown, a.buf)
		a.buf = grown
	} else {
		h.release(old - size)
		a.buf = a.buf[:size:size]
	}
	return nil
}

// Bytes returns the contents of a block. The slice is invalidated by Resize.
func (h *Heap) Bytes(handle uint64) ([]byte, error) {
	a, err := h.get(handle)
	if err != nil {
		return nil, err
	}
	return a.buf, nil
}

// Pin returns the block contents and keeps the block from being freed until
// Unpin.
func (h *Heap) Pin(handle uint64) ([]byte, error) {
	if !h.allocs.Borrow(resource.Handle(handle)) {
		return nil, errors.Memory("invalid or released allocation 0x%x", handle)
	}
	a, err := h.get(handle)
	if err != nil {
		h.allocs.ReturnBorrow(resource.Handle(handle))
		return nil, err
	}
	a.pins.Add(1)
	return a.buf, nil
}

// Unpin releases a Pin.
func (h *Heap) Unpin(handle uint64) {
	if a, ok := h.allocs.Get(resource.Handle(handle)); ok {
		a.pins.Add(-1)
	}
	h.allocs.ReturnBorrow(resource.Handle(handle))
}

// Load reads from a block at offset.
func (h *Heap) Load(handle, offset uint64, acc bytecode.Access) (uint64, error) {
	a, err := h.get(handle)
	if err != nil {
		return 0, err
	}
	return Load(a.buf, offset, acc)
}

// Store writes to a block at offset.
func (h *Heap) Store(handle, offset uint64, acc bytecode.Access, v uint64) error {
	a, err := h.get(handle)
	if err != nil {
		return err
	}
	return Store(a.buf, offset, acc, v)
}

// Live returns the number of bytes held by live blocks.
func (h *Heap) Live() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}
