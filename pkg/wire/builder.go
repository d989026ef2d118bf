package wire

import (
	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/bytestream"
)

// Builder incrementally assembles Packets from a stream of byte chunks
// fed in arbitrary sizes by the connection engine's reader loop: it
// waits for a full header, then for the header's declared payload, then
// emits one Packet and resets for the next frame.
//
// FileMeta payloads are a special case: emitting a FileMeta packet
// switches the Builder into raw body mode by itself, since the trailing
// file bytes are not part of the tagged-value codec; the caller drains
// them with NextFileChunk while InFileBody reports true.
type Builder struct {
	s *bytestream.Stream

	// when > 0, the Builder is consuming raw file-body bytes instead of
	// parsing frames; NextFileChunk drains them.
	fileBodyRemaining int64
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{s: bytestream.New()}
}

// Feed appends newly-read bytes for the Builder to parse.
func (b *Builder) Feed(chunk []byte) {
	b.s.Append(chunk)
}

// Next attempts to parse one complete Packet out of whatever has been
// Fed so far. It returns (Packet{}, false, nil) if more bytes are
// needed. It must not be called while a file body is outstanding (see
// InFileBody / NextFileChunk).
func (b *Builder) Next() (Packet, bool, error) {
	if b.fileBodyRemaining > 0 {
		return Packet{}, false, errors.New("wire: Next called during file body passthrough")
	}

	header, err := b.s.PeekBytes(HeaderSize)
	if err != nil {
		return Packet{}, false, nil // need more header bytes
	}

	h, err := DecodeHeader(header)
	if err != nil {
		return Packet{}, false, err
	}

	if b.s.Remaining() < HeaderSize+int(h.PayloadSize) {
		return Packet{}, false, nil // need more payload bytes
	}

	// now actually consume
	if _, err := b.s.NextBytes(HeaderSize); err != nil {
		return Packet{}, false, err
	}
	body, err := b.s.NextBytes(int(h.PayloadSize))
	if err != nil {
		return Packet{}, false, err
	}

	b.s.TrimConsumed()

	pkt, err := DecodePayload(h, body)
	if err != nil {
		return Packet{}, false, err
	}

	if pkt.Header.Kind == KindFileMeta {
		b.fileBodyRemaining = int64(pkt.File.Size)
	}

	return pkt, true, nil
}

// InFileBody reports whether the Builder is mid-transfer of a raw file
// body (i.e. the most recently emitted Packet was a FileMeta whose
// bytes haven't all been drained yet).
func (b *Builder) InFileBody() bool {
	return b.fileBodyRemaining > 0
}

// NextFileChunk drains up to max bytes of the outstanding raw file
// body. It returns fewer bytes than requested (including zero) if that
// is all that's currently buffered; the caller should Feed more and
// call again. done is true once the file's entire declared Size has
// been drained, after which normal frame parsing resumes.
func (b *Builder) NextFileChunk(max int) (chunk []byte, done bool, err error) {
	if b.fileBodyRemaining == 0 {
		return nil, true, nil
	}

	avail := b.s.Remaining()
	if avail == 0 {
		return nil, false, nil
	}

	n := avail
	if n > max {
		n = max
	}
	if int64(n) > b.fileBodyRemaining {
		n = int(b.fileBodyRemaining)
	}

	chunk, err = b.s.NextBytes(n)
	if err != nil {
		return nil, false, err
	}
	b.s.TrimConsumed()

	b.fileBodyRemaining -= int64(n)
	return chunk, b.fileBodyRemaining == 0, nil
}
