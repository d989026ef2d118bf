package wire

import (
	"testing"

	"github.com/ronrpc/ronrpc/pkg/bytestream"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	buf, err := Pack(nil, v)
	if err != nil {
		t.Fatalf("Pack(%v): %v", v, err)
	}
	got, err := Unpack(bytestream.NewFromBytes(buf))
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	cases := []Value{
		Int(42),
		Int(-7),
		Float(3.14159),
		Float(-0.0),
		String("hello"),
		String(""),
		Bytes([]byte{0x00, 0xff, 0x10}),
		Bool(true),
		Bool(false),
		Null(),
	}
	for _, v := range cases {
		got := roundTrip(t, v)
		if !got.Equal(v) {
			t.Errorf("round trip %v -> %v, not equal", v, got)
		}
	}
}

func TestListAndTupleAreDistinctTags(t *testing.T) {
	l := List([]Value{Int(1), Int(2)})
	tp := Tuple([]Value{Int(1), Int(2)})

	if l.Equal(tp) {
		t.Fatal("a list must never equal a tuple with the same elements")
	}

	gotL := roundTrip(t, l)
	if gotL.Tag != TagList {
		t.Fatalf("round-tripped list has tag %v, want TagList", gotL.Tag)
	}

	gotT := roundTrip(t, tp)
	if gotT.Tag != TagTuple {
		t.Fatalf("round-tripped tuple has tag %v, want TagTuple", gotT.Tag)
	}
}

func TestNestedListRoundTrip(t *testing.T) {
	v := List([]Value{
		Int(1),
		List([]Value{String("a"), String("b")}),
		Tuple([]Value{Bool(true), Null()}),
	})
	got := roundTrip(t, v)
	if !got.Equal(v) {
		t.Fatalf("nested list round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestMapRoundTrip(t *testing.T) {
	v := Map(map[string]Value{
		"a": Int(1),
		"b": String("two"),
		"c": List([]Value{Int(3), Int(4)}),
		"d": Bool(true),
		"e": Null(),
	})
	got := roundTrip(t, v)
	if !got.Equal(v) {
		t.Fatalf("map round trip mismatch: got %+v, want %+v", got, v)
	}
}

func TestExceptionValue(t *testing.T) {
	exc := Exception("ValueError", "bad input")
	if !exc.IsException() {
		t.Fatal("Exception() value must report IsException() true")
	}
	if ok := String("not an exception").IsException(); ok {
		t.Fatal("an ordinary string must not report IsException() true")
	}

	got := roundTrip(t, exc)
	if !got.IsException() {
		t.Fatal("round-tripped exception must still report IsException() true")
	}
	if got.Map[ExceptionTypeKey].Str != "ValueError" {
		t.Fatalf("exception type = %q, want ValueError", got.Map[ExceptionTypeKey].Str)
	}
}

func TestUnpackUnknownTag(t *testing.T) {
	buf := []byte{0x0f, 0x0f, 0x0f} // not any defined tag
	_, err := Unpack(bytestream.NewFromBytes(buf))
	if err == nil {
		t.Fatal("Unpack with an unknown tag must fail")
	}
}
