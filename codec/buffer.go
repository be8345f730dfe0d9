// Package codec converts dynamic messages to and from the protobuf binary
// wire format.
//
// Unmarshal decodes wire data against a message descriptor, and Marshal
// produces deterministic wire data from a dynamic message. The Buffer type
// underneath is a reader and writer of wire primitives that the two share.
package codec

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jhump/protocodec/codecerr"
)

// Buffer reads and appends wire primitives over a byte slice. Reads start
// at the front and advance; writes always append at the end.
type Buffer struct {
	buf   []byte
	index int
}

// NewBuffer returns a buffer positioned at the start of buf.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Reset discards all contents and the read position.
func (cb *Buffer) Reset() {
	cb.buf = []byte(nil)
	cb.index = 0
}

// Bytes returns the unread bytes. The result aliases the buffer.
func (cb *Buffer) Bytes() []byte {
	return cb.buf[cb.index:]
}

// EOF reports whether every byte has been read.
func (cb *Buffer) EOF() bool {
	return cb.index >= len(cb.buf)
}

// Len is the count of unread bytes.
func (cb *Buffer) Len() int {
	return len(cb.buf) - cb.index
}

// Offset returns the number of bytes consumed so far.
func (cb *Buffer) Offset() int {
	return cb.index
}

// Since returns the bytes consumed between the given offset and the current
// position.
func (cb *Buffer) Since(offset int) []byte {
	return cb.buf[offset:cb.index]
}

func (cb *Buffer) consumed(n int) error {
	if n < 0 {
		return corrupt(cb.index, protowire.ParseError(n))
	}
	cb.index += n
	return nil
}

func corrupt(offset int, err error) error {
	return codecerr.Errorf(codecerr.ErrTruncatedOrCorruptInput, "at offset %d: %v", offset, err)
}

// DecodeVarint reads a base-128 varint, as used by the integer, bool and
// enum kinds.
func (cb *Buffer) DecodeVarint() (uint64, error) {
	v, n := protowire.ConsumeVarint(cb.buf[cb.index:])
	if err := cb.consumed(n); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeTagAndWireType reads a record key. Out-of-range field numbers and
// the reserved wire types 6 and 7 are rejected.
func (cb *Buffer) DecodeTagAndWireType() (protowire.Number, protowire.Type, error) {
	start := cb.index
	num, wt, n := protowire.ConsumeTag(cb.buf[cb.index:])
	if err := cb.consumed(n); err != nil {
		return 0, 0, err
	}
	switch wt {
	case protowire.VarintType, protowire.Fixed32Type, protowire.Fixed64Type,
		protowire.BytesType, protowire.StartGroupType, protowire.EndGroupType:
	default:
		return 0, 0, codecerr.Errorf(codecerr.ErrTruncatedOrCorruptInput, "at offset %d: invalid wire type %d for tag %d", start, wt, num)
	}
	return num, wt, nil
}

// DecodeFixed64 reads 8 little-endian bytes (fixed64, sfixed64, double).
func (cb *Buffer) DecodeFixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(cb.buf[cb.index:])
	if err := cb.consumed(n); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeFixed32 reads 4 little-endian bytes (fixed32, sfixed32, float).
func (cb *Buffer) DecodeFixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(cb.buf[cb.index:])
	if err := cb.consumed(n); err != nil {
		return 0, err
	}
	return v, nil
}

// DecodeRawBytes reads a length-prefixed payload: a string, bytes, a nested
// message or a packed run. The result aliases the buffer.
func (cb *Buffer) DecodeRawBytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(cb.buf[cb.index:])
	if err := cb.consumed(n); err != nil {
		return nil, err
	}
	return v, nil
}

// ReadGroup returns the body of a group whose start tag was just read,
// stopping before the matching end tag for num and consuming it. Inner
// groups stay in the body. The result aliases the buffer.
func (cb *Buffer) ReadGroup(num protowire.Number) ([]byte, error) {
	v, n := protowire.ConsumeGroup(num, cb.buf[cb.index:])
	if err := cb.consumed(n); err != nil {
		return nil, err
	}
	return v, nil
}

// SkipFieldValue advances past the value of a field whose tag has already
// been read.
func (cb *Buffer) SkipFieldValue(num protowire.Number, wt protowire.Type) error {
	n := protowire.ConsumeFieldValue(num, wt, cb.buf[cb.index:])
	return cb.consumed(n)
}

// Write appends data. It never fails.
func (cb *Buffer) Write(data []byte) (int, error) {
	cb.buf = append(cb.buf, data...)
	return len(data), nil
}

// EncodeVarint appends x as a varint.
func (cb *Buffer) EncodeVarint(x uint64) {
	cb.buf = protowire.AppendVarint(cb.buf, x)
}

// EncodeTagAndWireType appends a record key.
func (cb *Buffer) EncodeTagAndWireType(num protowire.Number, wt protowire.Type) {
	cb.buf = protowire.AppendTag(cb.buf, num, wt)
}

// EncodeFixed64 appends x as 8 little-endian bytes.
func (cb *Buffer) EncodeFixed64(x uint64) {
	cb.buf = protowire.AppendFixed64(cb.buf, x)
}

// EncodeFixed32 appends x as 4 little-endian bytes.
func (cb *Buffer) EncodeFixed32(x uint32) {
	cb.buf = protowire.AppendFixed32(cb.buf, x)
}

// EncodeRawBytes appends b with a varint length prefix.
func (cb *Buffer) EncodeRawBytes(b []byte) {
	cb.buf = protowire.AppendBytes(cb.buf, b)
}

// EncodeZigZag64 maps v so that small magnitudes of either sign become
// small varints (sint64).
func EncodeZigZag64(v int64) uint64 {
	return protowire.EncodeZigZag(v)
}

// EncodeZigZag32 is EncodeZigZag64 for sint32.
func EncodeZigZag32(v int32) uint64 {
	return uint64(uint32(v<<1) ^ uint32(v>>31))
}

// DecodeZigZag64 inverts EncodeZigZag64.
func DecodeZigZag64(v uint64) int64 {
	return protowire.DecodeZigZag(v)
}

// DecodeZigZag32 inverts EncodeZigZag32. Only the low 32 bits of v count.
func DecodeZigZag32(v uint64) int32 {
	u := uint32(v)
	return int32(u>>1) ^ -int32(u&1)
}
