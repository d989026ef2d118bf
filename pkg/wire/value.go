// Package wire implements the tagged-value codec and frame/packet format
// described by the protocol: every value on the wire carries a 3-byte
// tag identifying its kind, followed by a kind-specific body. Packets
// (FunctionCall, DataReturn, FileMeta) are themselves encoded as a
// sequence of tagged values.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/pkg/errors"

	"github.com/ronrpc/ronrpc/pkg/bytestream"
)

// Tag identifies the kind of a Value on the wire. Tags are 3 bytes
// big-endian on the wire but kept as a plain int in memory.
type Tag int32

const (
	TagInt    Tag = 0x001
	TagFloat  Tag = 0x002
	TagString Tag = 0x003
	TagList   Tag = 0x004
	TagMap    Tag = 0x005
	TagTuple  Tag = 0x006
	TagBytes  Tag = 0x007
	TagBool   Tag = 0x008
	TagNull   Tag = 0x009
)

func (t Tag) String() string {
	switch t {
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagString:
		return "string"
	case TagList:
		return "list"
	case TagMap:
		return "map"
	case TagTuple:
		return "tuple"
	case TagBytes:
		return "bytes"
	case TagBool:
		return "bool"
	case TagNull:
		return "null"
	}
	return fmt.Sprintf("Tag(0x%03x)", int32(t))
}

// ErrUnsupportedType is returned when encoding a Go value or Value whose
// kind has no wire representation.
var ErrUnsupportedType = errors.New("wire: unsupported value type")

// ErrUnknownTag is returned when decoding a tag not in the table above.
var ErrUnknownTag = errors.New("wire: unknown tag")

// Kind-specific reserved map keys used to carry a handler exception back
// to the caller inside an otherwise ordinary map Value (spec's tag table
// has no dedicated exception tag; see DESIGN.md).
const (
	ExceptionTypeKey    = "__exc_type__"
	ExceptionMessageKey = "__exc_message__"
)

// Value is the tagged sum type carried over the wire: exactly one of the
// fields below is meaningful, selected by Tag.
type Value struct {
	Tag Tag

	Int    int32
	Float  float64
	Str    string
	Bytes  []byte
	Bool   bool
	List   []Value
	Tuple  []Value
	Map    map[string]Value
}

func Int(v int32) Value            { return Value{Tag: TagInt, Int: v} }
func Float(v float64) Value        { return Value{Tag: TagFloat, Float: v} }
func String(v string) Value        { return Value{Tag: TagString, Str: v} }
func Bytes(v []byte) Value         { return Value{Tag: TagBytes, Bytes: v} }
func Bool(v bool) Value            { return Value{Tag: TagBool, Bool: v} }
func Null() Value                  { return Value{Tag: TagNull} }
func List(v []Value) Value         { return Value{Tag: TagList, List: v} }
func Tuple(v []Value) Value        { return Value{Tag: TagTuple, Tuple: v} }
func Map(v map[string]Value) Value { return Value{Tag: TagMap, Map: v} }

// IsException reports whether v is a map Value carrying a serialized
// remote exception (see ExceptionTypeKey/ExceptionMessageKey).
func (v Value) IsException() bool {
	if v.Tag != TagMap {
		return false
	}
	_, ok := v.Map[ExceptionTypeKey]
	return ok
}

// Exception builds the reserved map Value used to carry a handler error
// back to the calling peer.
func Exception(excType, message string) Value {
	return Map(map[string]Value{
		ExceptionTypeKey:    String(excType),
		ExceptionMessageKey: String(message),
	})
}

// Equal reports deep equality between two Values, respecting the
// list/tuple distinction (a list never equals a tuple with the same
// elements).
func (v Value) Equal(other Value) bool {
	if v.Tag != other.Tag {
		return false
	}
	switch v.Tag {
	case TagInt:
		return v.Int == other.Int
	case TagFloat:
		return v.Float == other.Float
	case TagString:
		return v.Str == other.Str
	case TagBytes:
		return string(v.Bytes) == string(other.Bytes)
	case TagBool:
		return v.Bool == other.Bool
	case TagNull:
		return true
	case TagList:
		return equalSlice(v.List, other.List)
	case TagTuple:
		return equalSlice(v.Tuple, other.Tuple)
	case TagMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, a := range v.Map {
			b, ok := other.Map[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

func equalSlice(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Pack encodes a single Value (tag + body) and appends it to dst.
func Pack(dst []byte, v Value) ([]byte, error) {
	dst = appendTag(dst, v.Tag)

	switch v.Tag {
	case TagInt:
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v.Int))
		dst = append(dst, b[:]...)
	case TagFloat:
		hexStr := strconv.FormatUint(math.Float64bits(v.Float), 16)
		dst = appendLengthPrefixed(dst, []byte(hexStr))
	case TagString:
		dst = appendLengthPrefixed(dst, []byte(v.Str))
	case TagBytes:
		dst = appendLengthPrefixed(dst, v.Bytes)
	case TagBool:
		if v.Bool {
			dst = append(dst, 1)
		} else {
			dst = append(dst, 0)
		}
	case TagNull:
		// no body
	case TagList:
		inner, err := packValues(v.List)
		if err != nil {
			return nil, err
		}
		dst = appendLengthPrefixed(dst, inner)
	case TagTuple:
		inner, err := packValues(v.Tuple)
		if err != nil {
			return nil, err
		}
		dst = appendLengthPrefixed(dst, inner)
	case TagMap:
		jsonBody, err := encodeMapJSON(v.Map)
		if err != nil {
			return nil, err
		}
		dst = appendLengthPrefixed(dst, jsonBody)
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "tag %v", v.Tag)
	}

	return dst, nil
}

func appendTag(dst []byte, t Tag) []byte {
	var b [3]byte
	b[0] = byte(t >> 16)
	b[1] = byte(t >> 8)
	b[2] = byte(t)
	return append(dst, b[:]...)
}

func appendLengthPrefixed(dst, body []byte) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(len(body)))
	dst = append(dst, b[:]...)
	return append(dst, body...)
}

func packValues(values []Value) ([]byte, error) {
	var buf []byte
	for _, v := range values {
		var err error
		buf, err = Pack(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// encodeMapJSON builds the JSON body of a map Value: every value is
// reduced to a plain interface{} tree (strings, float64, bool, nil,
// []byte, []interface{}, map[string]interface{}) since JSON has no
// tuple/bytes kinds of its own.
func encodeMapJSON(m map[string]Value) ([]byte, error) {
	plain := make(map[string]interface{}, len(m))
	for k, v := range m {
		p, err := toPlain(v)
		if err != nil {
			return nil, err
		}
		plain[k] = p
	}
	return json.Marshal(plain)
}

func toPlain(v Value) (interface{}, error) {
	switch v.Tag {
	case TagInt:
		return float64(v.Int), nil
	case TagFloat:
		return v.Float, nil
	case TagString:
		return v.Str, nil
	case TagBytes:
		return v.Bytes, nil // json marshals []byte as base64 string
	case TagBool:
		return v.Bool, nil
	case TagNull:
		return nil, nil
	case TagList, TagTuple:
		items := v.List
		if v.Tag == TagTuple {
			items = v.Tuple
		}
		out := make([]interface{}, len(items))
		for i, item := range items {
			p, err := toPlain(item)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case TagMap:
		out := make(map[string]interface{}, len(v.Map))
		for k, item := range v.Map {
			p, err := toPlain(item)
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedType, "tag %v", v.Tag)
}

func fromPlain(p interface{}) Value {
	switch t := p.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		// JSON has a single number kind; integral values in int32 range
		// are read back as Int, everything else as Float.
		if t == math.Trunc(t) && t >= math.MinInt32 && t <= math.MaxInt32 {
			return Int(int32(t))
		}
		return Float(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromPlain(item)
		}
		return List(items)
	case map[string]interface{}:
		out := make(map[string]Value, len(t))
		for k, item := range t {
			out[k] = fromPlain(item)
		}
		return Map(out)
	}
	return Null()
}

// Unpack decodes a single Value (tag + body) from s.
func Unpack(s *bytestream.Stream) (Value, error) {
	tagBytes, err := s.NextBytes(3)
	if err != nil {
		return Value{}, errors.Wrap(bytestream.ErrTruncated, "tag")
	}
	tag := Tag(int32(tagBytes[0])<<16 | int32(tagBytes[1])<<8 | int32(tagBytes[2]))

	switch tag {
	case TagInt:
		n, err := s.NextInt32()
		if err != nil {
			return Value{}, errors.Wrap(err, "int body")
		}
		return Int(n), nil
	case TagFloat:
		body, err := readLengthPrefixed(s)
		if err != nil {
			return Value{}, errors.Wrap(err, "float body")
		}
		bits, err := strconv.ParseUint(string(body), 16, 64)
		if err != nil {
			return Value{}, errors.Wrap(err, "float hex decode")
		}
		return Float(math.Float64frombits(bits)), nil
	case TagString:
		body, err := readLengthPrefixed(s)
		if err != nil {
			return Value{}, errors.Wrap(err, "string body")
		}
		return String(string(body)), nil
	case TagBytes:
		body, err := readLengthPrefixed(s)
		if err != nil {
			return Value{}, errors.Wrap(err, "bytes body")
		}
		out := make([]byte, len(body))
		copy(out, body)
		return Bytes(out), nil
	case TagBool:
		b, err := s.NextBytes(1)
		if err != nil {
			return Value{}, errors.Wrap(err, "bool body")
		}
		return Bool(b[0] != 0), nil
	case TagNull:
		return Null(), nil
	case TagList, TagTuple:
		body, err := readLengthPrefixed(s)
		if err != nil {
			return Value{}, errors.Wrap(err, "list/tuple body")
		}
		inner := bytestream.NewFromBytes(body)
		var items []Value
		for !inner.AtEnd() {
			v, err := Unpack(inner)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		if tag == TagTuple {
			return Tuple(items), nil
		}
		return List(items), nil
	case TagMap:
		body, err := readLengthPrefixed(s)
		if err != nil {
			return Value{}, errors.Wrap(err, "map body")
		}
		var plain map[string]interface{}
		if err := json.Unmarshal(body, &plain); err != nil {
			return Value{}, errors.Wrap(err, "map json decode")
		}
		out := make(map[string]Value, len(plain))
		for k, v := range plain {
			out[k] = fromPlain(v)
		}
		return Map(out), nil
	}

	return Value{}, errors.Wrapf(ErrUnknownTag, "0x%03x", int32(tag))
}

func readLengthPrefixed(s *bytestream.Stream) ([]byte, error) {
	n, err := s.NextInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Errorf("negative length prefix %d", n)
	}
	return s.NextBytes(int(n))
}
