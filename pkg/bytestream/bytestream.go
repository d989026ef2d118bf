// Package bytestream implements the append-only cursor buffer that the
// frame parser reads from: bytes arrive from the socket in arbitrary
// chunks and are appended here, while the parser consumes them from the
// front without having to reshuffle the backing slice on every partial
// read.
package bytestream

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a read would run past the data
// currently buffered.
var ErrTruncated = errors.New("bytestream: truncated input")

// Stream is an append-only byte buffer with a read cursor.
type Stream struct {
	buf    []byte
	cursor int
}

// New returns an empty Stream.
func New() *Stream {
	return &Stream{}
}

// NewFromBytes returns a Stream pre-loaded with b.
func NewFromBytes(b []byte) *Stream {
	return &Stream{buf: append([]byte(nil), b...)}
}

// Append adds b to the end of the stream, after the cursor.
func (s *Stream) Append(b []byte) {
	s.buf = append(s.buf, b...)
}

// Len returns the number of bytes currently buffered, including
// consumed bytes before the cursor that TrimConsumed has not yet dropped.
func (s *Stream) Len() int {
	return len(s.buf)
}

// Remaining returns the number of unconsumed bytes.
func (s *Stream) Remaining() int {
	return len(s.buf) - s.cursor
}

// AtEnd reports whether the cursor has consumed every buffered byte.
func (s *Stream) AtEnd() bool {
	return s.Remaining() == 0
}

// NextBytes consumes and returns the next n bytes. It fails with
// ErrTruncated, leaving the cursor unchanged, if fewer than n bytes
// remain.
func (s *Stream) NextBytes(n int) ([]byte, error) {
	if n < 0 || s.Remaining() < n {
		return nil, ErrTruncated
	}
	out := s.buf[s.cursor : s.cursor+n]
	s.cursor += n
	return out, nil
}

// PeekBytes returns the next n bytes without consuming them.
func (s *Stream) PeekBytes(n int) ([]byte, error) {
	if n < 0 || s.Remaining() < n {
		return nil, ErrTruncated
	}
	return s.buf[s.cursor : s.cursor+n], nil
}

// NextInt32 consumes and returns the next 4 bytes as a big-endian
// signed 32-bit integer.
func (s *Stream) NextInt32() (int32, error) {
	b, err := s.NextBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

// TrimConsumed drops everything before the cursor so the backing slice
// doesn't grow without bound across the lifetime of a long connection.
func (s *Stream) TrimConsumed() {
	if s.cursor == 0 {
		return
	}
	s.buf = append([]byte(nil), s.buf[s.cursor:]...)
	s.cursor = 0
}
