package wire

import "testing"

func TestFunctionCallPacketRoundTrip(t *testing.T) {
	p := Packet{
		Header: Header{FunctionID: 5, GlobalID: 12, Kind: KindFunctionCall},
		Call: &FunctionCall{
			Name:       "greet",
			Positional: []Value{String("alice")},
			Named:      map[string]Value{"loud": Bool(true)},
		},
	}

	buf, err := p.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(buf) < HeaderSize {
		t.Fatalf("packed frame shorter than header: %d bytes", len(buf))
	}

	got, err := PacketFromBytes(buf)
	if err != nil {
		t.Fatalf("PacketFromBytes: %v", err)
	}

	if got.Header.FunctionID != 5 || got.Header.GlobalID != 12 || got.Header.Kind != KindFunctionCall {
		t.Fatalf("header mismatch: %+v", got.Header)
	}
	if got.Call.Name != "greet" {
		t.Fatalf("call name = %q, want greet", got.Call.Name)
	}
	if len(got.Call.Positional) != 1 || !got.Call.Positional[0].Equal(String("alice")) {
		t.Fatalf("positional args mismatch: %+v", got.Call.Positional)
	}
	if !got.Call.Named["loud"].Equal(Bool(true)) {
		t.Fatalf("named args mismatch: %+v", got.Call.Named)
	}
}

func TestDataReturnPacketRoundTrip(t *testing.T) {
	p := Packet{
		Header: Header{FunctionID: 1, GlobalID: 2, Kind: KindDataReturn},
		Ret:    &DataReturn{Fields: map[string]Value{"return": Int(99)}},
	}
	buf, err := p.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := PacketFromBytes(buf)
	if err != nil {
		t.Fatalf("PacketFromBytes: %v", err)
	}
	if !got.Ret.Fields["return"].Equal(Int(99)) {
		t.Fatalf("return value mismatch: %+v", got.Ret.Fields)
	}
}

func TestFileMetaPacketRoundTrip(t *testing.T) {
	dst := "/tmp/dest.bin"
	p := Packet{
		Header: Header{FunctionID: 3, GlobalID: 4, Kind: KindFileMeta},
		File:   &FileMeta{SrcPath: "/tmp/src.bin", DstPath: &dst, Size: 1024},
	}
	buf, err := p.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, err := PacketFromBytes(buf)
	if err != nil {
		t.Fatalf("PacketFromBytes: %v", err)
	}
	if got.File.SrcPath != "/tmp/src.bin" || got.File.DstPath == nil || *got.File.DstPath != dst || got.File.Size != 1024 {
		t.Fatalf("file meta mismatch: %+v", got.File)
	}
}

func TestHeaderEncodeDecode(t *testing.T) {
	h := Header{FunctionID: -1, GlobalID: 1000000, Kind: KindDataReturn, PayloadSize: 42}
	buf := h.Encode()
	if len(buf) != HeaderSize {
		t.Fatalf("Encode() length = %d, want %d", len(buf), HeaderSize)
	}
	got, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Fatalf("DecodeHeader(Encode(h)) = %+v, want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	h := Header{Kind: KindFunctionCall}
	buf := h.Encode()
	buf[15] = 0xEE
	if _, err := DecodeHeader(buf); err == nil {
		t.Fatal("DecodeHeader must reject an unknown protocol version")
	}
}

func TestPacketFromBytesTruncated(t *testing.T) {
	p := Packet{
		Header: Header{Kind: KindDataReturn},
		Ret:    &DataReturn{Fields: map[string]Value{"return": Int(1)}},
	}
	buf, err := p.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if _, err := PacketFromBytes(buf[:len(buf)-1]); err == nil {
		t.Fatal("PacketFromBytes on a truncated frame must fail")
	}
}
