package wire

import (
	"bytes"
	"testing"
)

func TestBuilderFeedsFragmentedFrame(t *testing.T) {
	p := Packet{
		Header: Header{FunctionID: 1, GlobalID: 1, Kind: KindFunctionCall},
		Call:   &FunctionCall{Name: "ping"},
	}
	buf, err := p.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	b := NewBuilder()

	// feed one byte at a time to exercise partial-header and
	// partial-payload accumulation.
	var got *Packet
	for i := 0; i < len(buf); i++ {
		b.Feed(buf[i : i+1])
		pkt, ok, err := b.Next()
		if err != nil {
			t.Fatalf("Next at byte %d: %v", i, err)
		}
		if ok {
			got = &pkt
			break
		}
	}

	if got == nil {
		t.Fatal("Builder never produced a packet after feeding the whole frame")
	}
	if got.Call.Name != "ping" {
		t.Fatalf("call name = %q, want ping", got.Call.Name)
	}
}

func TestBuilderFileBodyPassthrough(t *testing.T) {
	dst := "/tmp/out.bin"
	meta := Packet{
		Header: Header{FunctionID: 1, GlobalID: 1, Kind: KindFileMeta},
		File:   &FileMeta{SrcPath: "/tmp/in.bin", DstPath: &dst, Size: 6},
	}
	metaBuf, err := meta.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	body := []byte("abcdef")

	b := NewBuilder()
	b.Feed(metaBuf)

	pkt, ok, err := b.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !ok {
		t.Fatal("Next did not emit the FileMeta packet")
	}
	if pkt.Header.Kind != KindFileMeta {
		t.Fatalf("emitted kind = %v, want KindFileMeta", pkt.Header.Kind)
	}
	if !b.InFileBody() {
		t.Fatal("InFileBody() must be true right after a FileMeta is emitted")
	}

	b.Feed(body[:3])
	chunk1, done, err := b.NextFileChunk(1024)
	if err != nil {
		t.Fatalf("NextFileChunk: %v", err)
	}
	if done {
		t.Fatal("NextFileChunk reported done before all declared bytes arrived")
	}
	if !bytes.Equal(chunk1, body[:3]) {
		t.Fatalf("chunk1 = %q, want %q", chunk1, body[:3])
	}

	b.Feed(body[3:])
	chunk2, done, err := b.NextFileChunk(1024)
	if err != nil {
		t.Fatalf("NextFileChunk: %v", err)
	}
	if !done {
		t.Fatal("NextFileChunk must report done once the declared size is drained")
	}
	if !bytes.Equal(chunk2, body[3:]) {
		t.Fatalf("chunk2 = %q, want %q", chunk2, body[3:])
	}
	if b.InFileBody() {
		t.Fatal("InFileBody() must be false once the body is fully drained")
	}
}

func TestBuilderNextWhileInFileBodyErrors(t *testing.T) {
	dst := "/tmp/out.bin"
	meta := Packet{
		Header: Header{Kind: KindFileMeta},
		File:   &FileMeta{SrcPath: "x", DstPath: &dst, Size: 4},
	}
	buf, err := meta.Pack()
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	b := NewBuilder()
	b.Feed(buf)
	if _, _, err := b.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, _, err := b.Next(); err == nil {
		t.Fatal("Next during an outstanding file body must error")
	}
}
