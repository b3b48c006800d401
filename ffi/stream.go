package ffi

import "sync"

// Stream is the captured output of an app call. Reads consume it from the
// front.
type Stream struct {
	data []byte
	off  int
	mu   sync.Mutex
}

// NewStream wraps data as a stream.
func NewStream(data []byte) *Stream {
	return &Stream{data: data}
}

// Size returns the number of unread bytes.
func (s *Stream) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) - s.off
}

// Read copies unread bytes into p and returns how many were copied.
// It returns 0 once the stream is drained.
func (s *Stream) Read(p []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.data[s.off:])
	s.off += n
	return n
}

// Bytes returns the unread bytes without consuming them.
func (s *Stream) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[s.off:]
}

// Drop releases the captured output.
func (s *Stream) Drop() {
	s.mu.Lock()
	s.data, s.off = nil, 0
	s.mu.Unlock()
}
