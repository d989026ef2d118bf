package bytestream

import (
	"bytes"
	"errors"
	"testing"
)

func TestAppendAndConsume(t *testing.T) {
	s := New()
	s.Append([]byte("hello"))
	s.Append([]byte(" world"))

	if got, want := s.Len(), 11; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	b, err := s.NextBytes(5)
	if err != nil {
		t.Fatalf("NextBytes: %v", err)
	}
	if !bytes.Equal(b, []byte("hello")) {
		t.Fatalf("NextBytes = %q, want %q", b, "hello")
	}

	if got, want := s.Remaining(), 6; got != want {
		t.Fatalf("Remaining() = %d, want %d", got, want)
	}
}

func TestNextBytesTruncated(t *testing.T) {
	s := NewFromBytes([]byte("ab"))
	if _, err := s.NextBytes(3); !errors.Is(err, ErrTruncated) {
		t.Fatalf("NextBytes(3) error = %v, want ErrTruncated", err)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	s := NewFromBytes([]byte("abcdef"))
	if _, err := s.PeekBytes(3); err != nil {
		t.Fatalf("PeekBytes: %v", err)
	}
	if got, want := s.Remaining(), 6; got != want {
		t.Fatalf("Remaining() after peek = %d, want %d", got, want)
	}
}

func TestNextInt32(t *testing.T) {
	s := NewFromBytes([]byte{0x00, 0x00, 0x01, 0x2c}) // 300
	n, err := s.NextInt32()
	if err != nil {
		t.Fatalf("NextInt32: %v", err)
	}
	if n != 300 {
		t.Fatalf("NextInt32() = %d, want 300", n)
	}
}

func TestTrimConsumed(t *testing.T) {
	s := NewFromBytes([]byte("abcdef"))
	if _, err := s.NextBytes(3); err != nil {
		t.Fatalf("NextBytes: %v", err)
	}
	s.TrimConsumed()
	if got, want := s.Len(), 3; got != want {
		t.Fatalf("Len() after trim = %d, want %d", got, want)
	}
	rest, err := s.NextBytes(3)
	if err != nil {
		t.Fatalf("NextBytes after trim: %v", err)
	}
	if !bytes.Equal(rest, []byte("def")) {
		t.Fatalf("NextBytes after trim = %q, want %q", rest, "def")
	}
}

func TestAtEnd(t *testing.T) {
	s := NewFromBytes([]byte("a"))
	if s.AtEnd() {
		t.Fatal("AtEnd() = true before consuming")
	}
	if _, err := s.NextBytes(1); err != nil {
		t.Fatalf("NextBytes: %v", err)
	}
	if !s.AtEnd() {
		t.Fatal("AtEnd() = false after consuming everything")
	}
}
