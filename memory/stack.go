package memory

import (
	"github.com/wippyai/ancvm/errors"
)

// Stack is the operand stack of one thread. Values are 8-byte slots.
// The interpreter reserves a function's maximum height on entry, so
// individual pushes are not bounds checked.
type Stack struct {
	vals []uint64
	sp   int
}

// NewStack creates a stack with room for size operands.
func NewStack(size int) *Stack {
	return &Stack{vals: make([]uint64, size)}
}

// Reserve fails when fewer than n free slots remain.
func (s *Stack) Reserve(n int) error {
	if s.sp+n > len(s.vals) {
		return errors.New(errors.PhaseRuntime, errors.KindTrap).
			Detail("operand stack exhausted (%d of %d slots)", s.sp+n, len(s.vals)).
			Build()
	}
	return nil
}

// Push appends v.
func (s *Stack) Push(v uint64) {
	s.vals[s.sp] = v
	s.sp++
}

// Pop removes and returns the top value.
func (s *Stack) Pop() uint64 {
	s.sp--
	return s.vals[s.sp]
}

// Peek returns the value n slots below the top (0 is the top).
func (s *Stack) Peek(n int) uint64 {
	return s.vals[s.sp-1-n]
}

// Len returns the current height.
func (s *Stack) Len() int {
	return s.sp
}

// Truncate drops everything above height h.
func (s *Stack) Truncate(h int) {
	s.sp = h
}

// Keep moves the top n values down to height h and drops the rest.
func (s *Stack) Keep(h, n int) {
	if s.sp-n != h {
		copy(s.vals[h:h+n], s.vals[s.sp-n:s.sp])
	}
	s.sp = h + n
}

// Top returns the top n values. The slice aliases the stack.
func (s *Stack) Top(n int) []uint64 {
	return s.vals[s.sp-n : s.sp]
}

// PopN removes the top n values and returns them. The slice aliases the
// stack and is valid until the next push.
func (s *Stack) PopN(n int) []uint64 {
	s.sp -= n
	return s.vals[s.sp : s.sp+n]
}

// PushAll appends vs.
func (s *Stack) PushAll(vs []uint64) {
	s.sp += copy(s.vals[s.sp:], vs)
}
