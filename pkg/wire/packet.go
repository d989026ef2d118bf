package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/bytestream"
)

// PacketKind identifies which of the three packet payloads follows the
// header.
type PacketKind int32

const (
	KindFunctionCall PacketKind = 0x101
	KindDataReturn   PacketKind = 0x103
	KindFileMeta     PacketKind = 0x104
)

func (k PacketKind) String() string {
	switch k {
	case KindFunctionCall:
		return "FunctionCall"
	case KindDataReturn:
		return "DataReturn"
	case KindFileMeta:
		return "FileMeta"
	}
	return "Unknown"
}

// HeaderSize is the fixed size of a Frame header: function_id(4) +
// global_id(4) + kind(3) + payload_size(4) + 4 bytes of internal
// framing (a protocol version byte plus 3 reserved bytes), for 19
// bytes total as required by the wire format.
const HeaderSize = 19

// ProtocolVersion is written into the first reserved header byte and
// checked on decode so a future incompatible revision fails fast
// instead of silently misparsing.
const ProtocolVersion = 1

// Header is the fixed 19-byte preamble of every Frame.
type Header struct {
	FunctionID  int32
	GlobalID    int32
	Kind        PacketKind
	PayloadSize int32
}

// Encode writes the header's 19-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.FunctionID))
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.GlobalID))
	buf[8] = byte(h.Kind >> 16)
	buf[9] = byte(h.Kind >> 8)
	buf[10] = byte(h.Kind)
	binary.BigEndian.PutUint32(buf[11:15], uint32(h.PayloadSize))
	buf[15] = ProtocolVersion
	// buf[16:19] reserved, left zero
	return buf
}

// DecodeHeader parses the fixed-size header at the front of b, which
// must be exactly HeaderSize long.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, errors.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(b))
	}
	h := Header{
		FunctionID:  int32(binary.BigEndian.Uint32(b[0:4])),
		GlobalID:    int32(binary.BigEndian.Uint32(b[4:8])),
		Kind:        PacketKind(int32(b[8])<<16 | int32(b[9])<<8 | int32(b[10])),
		PayloadSize: int32(binary.BigEndian.Uint32(b[11:15])),
	}
	if b[15] != ProtocolVersion {
		return Header{}, errors.Errorf("wire: unsupported protocol version %d", b[15])
	}
	return h, nil
}

// FunctionCall is a request to invoke a named handler.
type FunctionCall struct {
	Name       string
	Positional []Value
	Named      map[string]Value
}

// DataReturn carries a handler's result fields back to the caller.
// By convention the result itself lives under the "return" key.
type DataReturn struct {
	Fields map[string]Value
}

// FileMeta announces a file transfer; it is followed on the wire by
// exactly Size raw bytes, outside of the tagged value codec.
type FileMeta struct {
	SrcPath string
	DstPath *string // nil means "let the receiver choose"
	Size    int32
}

// Packet is the discriminated union of the three payload kinds. Exactly
// one of the typed fields is populated, selected by Kind.
type Packet struct {
	Header Header

	Call *FunctionCall
	Ret  *DataReturn
	File *FileMeta
}

// EncodePayload serializes just the payload (no header) for p.
func EncodePayload(p Packet) ([]byte, error) {
	switch p.Header.Kind {
	case KindFunctionCall:
		var buf []byte
		var err error
		if buf, err = Pack(buf, String(p.Call.Name)); err != nil {
			return nil, err
		}
		if buf, err = Pack(buf, Tuple(p.Call.Positional)); err != nil {
			return nil, err
		}
		if buf, err = Pack(buf, Map(p.Call.Named)); err != nil {
			return nil, err
		}
		return buf, nil
	case KindDataReturn:
		return Pack(nil, Map(p.Ret.Fields))
	case KindFileMeta:
		var buf []byte
		var err error
		if buf, err = Pack(buf, String(p.File.SrcPath)); err != nil {
			return nil, err
		}
		dst := Null()
		if p.File.DstPath != nil {
			dst = String(*p.File.DstPath)
		}
		if buf, err = Pack(buf, dst); err != nil {
			return nil, err
		}
		if buf, err = Pack(buf, Int(p.File.Size)); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return nil, errors.Errorf("wire: cannot encode packet kind %v", p.Header.Kind)
}

// Pack serializes p (header + payload) to its complete wire form.
func (p Packet) Pack() ([]byte, error) {
	payload, err := EncodePayload(p)
	if err != nil {
		return nil, err
	}
	p.Header.PayloadSize = int32(len(payload))
	out := p.Header.Encode()
	return append(out, payload...), nil
}

// PacketFromBytes parses a complete frame (header + payload) from b. It
// requires the whole frame to be present; streaming parse that copes
// with partial reads is handled by Builder, below.
func PacketFromBytes(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, errors.Wrap(bytestream.ErrTruncated, "header")
	}
	h, err := DecodeHeader(b[:HeaderSize])
	if err != nil {
		return Packet{}, err
	}
	body := b[HeaderSize:]
	if int32(len(body)) < h.PayloadSize {
		return Packet{}, errors.Wrap(bytestream.ErrTruncated, "payload")
	}
	return DecodePayload(h, body[:h.PayloadSize])
}

// DecodePayload parses the payload of kind h.Kind from body.
func DecodePayload(h Header, body []byte) (Packet, error) {
	s := bytestream.NewFromBytes(body)

	switch h.Kind {
	case KindFunctionCall:
		name, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "call name")
		}
		args, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "call args")
		}
		kwargs, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "call kwargs")
		}
		if name.Tag != TagString || args.Tag != TagTuple || kwargs.Tag != TagMap {
			return Packet{}, errors.New("wire: malformed FunctionCall payload")
		}
		return Packet{Header: h, Call: &FunctionCall{
			Name:       name.Str,
			Positional: args.Tuple,
			Named:      kwargs.Map,
		}}, nil
	case KindDataReturn:
		fields, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "return fields")
		}
		if fields.Tag != TagMap {
			return Packet{}, errors.New("wire: malformed DataReturn payload")
		}
		return Packet{Header: h, Ret: &DataReturn{Fields: fields.Map}}, nil
	case KindFileMeta:
		src, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "file src")
		}
		dst, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "file dst")
		}
		size, err := Unpack(s)
		if err != nil {
			return Packet{}, errors.Wrap(err, "file size")
		}
		if src.Tag != TagString || size.Tag != TagInt {
			return Packet{}, errors.New("wire: malformed FileMeta payload")
		}
		fm := &FileMeta{SrcPath: src.Str, Size: size.Int}
		if dst.Tag == TagString {
			d := dst.Str
			fm.DstPath = &d
		}
		return Packet{Header: h, File: fm}, nil
	}

	return Packet{}, errors.Errorf("wire: unknown packet kind 0x%03x", int32(h.Kind))
}
