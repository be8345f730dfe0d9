package codec

import (
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/dynamic"
)

// Unmarshal decodes binary data into a new dynamic message for the given
// descriptor.
//
// Records whose field numbers are not defined by the descriptor are kept as
// unknown fields. A record whose wire type does not suit the kind of its
// field fails with codecerr.ErrWireTypeMismatch, and malformed input fails
// with codecerr.ErrTruncatedOrCorruptInput.
func Unmarshal(b []byte, md protoreflect.MessageDescriptor) (*dynamic.Message, error) {
	m := dynamic.NewMessage(md)
	if err := UnmarshalMerge(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalMerge decodes binary data into the given message, merging with
// any values it already holds. Scalar fields are replaced, repeated fields
// are appended to, map entries are inserted (later keys win), and singular
// message fields are merged recursively.
func UnmarshalMerge(b []byte, m *dynamic.Message) error {
	return unmarshal(NewBuffer(b), m)
}

func unmarshal(cb *Buffer, m *dynamic.Message) error {
	for !cb.EOF() {
		start := cb.Offset()
		num, wt, err := cb.DecodeTagAndWireType()
		if err != nil {
			return err
		}
		if wt == protowire.EndGroupType {
			return codecerr.Errorf(codecerr.ErrTruncatedOrCorruptInput, "at offset %d: unexpected end-group tag %d", start, num)
		}
		fd := m.FindFieldDescriptor(num)
		if fd == nil {
			if err := cb.SkipFieldValue(num, wt); err != nil {
				return err
			}
			m.AddUnknownField(unknownField(num, wt, cb.Since(start)))
			continue
		}
		if err := unmarshalField(cb, m, fd, wt, start); err != nil {
			return fmt.Errorf("field %s (tag %d): %w", fd.FullName(), num, err)
		}
	}
	return nil
}

func unknownField(num protowire.Number, wt protowire.Type, raw []byte) dynamic.UnknownField {
	return dynamic.UnknownField{
		Number:   num,
		WireType: wt,
		Raw:      append([]byte(nil), raw...),
	}
}

// wireTypeOf returns the wire type used for a single, unpacked element of
// the given kind.
func wireTypeOf(k protoreflect.Kind) protowire.Type {
	switch k {
	case protoreflect.BoolKind, protoreflect.EnumKind,
		protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Uint32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Uint64Kind:
		return protowire.VarintType
	case protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind, protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind, protoreflect.DoubleKind:
		return protowire.Fixed64Type
	case protoreflect.GroupKind:
		return protowire.StartGroupType
	default:
		// strings, bytes, messages
		return protowire.BytesType
	}
}

func isPackable(k protoreflect.Kind) bool {
	switch wireTypeOf(k) {
	case protowire.VarintType, protowire.Fixed32Type, protowire.Fixed64Type:
		return true
	default:
		return false
	}
}

func unmarshalField(cb *Buffer, m *dynamic.Message, fd protoreflect.FieldDescriptor, wt protowire.Type, start int) error {
	switch {
	case fd.IsMap():
		if wt != protowire.BytesType {
			return wireTypeMismatch(fd, wt, protowire.BytesType)
		}
		entry, err := cb.DecodeRawBytes()
		if err != nil {
			return err
		}
		return unmarshalMapEntry(entry, m, fd)

	case fd.IsList():
		want := wireTypeOf(fd.Kind())
		if wt == protowire.BytesType && isPackable(fd.Kind()) {
			packed, err := cb.DecodeRawBytes()
			if err != nil {
				return err
			}
			return unmarshalPacked(packed, m, fd, want)
		}
		if wt != want {
			return wireTypeMismatch(fd, wt, want)
		}
		v, known, err := decodeElement(cb, m, fd, wt)
		if err != nil {
			return err
		}
		if !known {
			m.AddUnknownField(unknownField(fd.Number(), wt, cb.Since(start)))
			return nil
		}
		return m.TryAddRepeatedField(fd, v)

	default:
		want := wireTypeOf(fd.Kind())
		if wt != want {
			return wireTypeMismatch(fd, wt, want)
		}
		v, known, err := decodeElement(cb, m, fd, wt)
		if err != nil {
			return err
		}
		if !known {
			m.AddUnknownField(unknownField(fd.Number(), wt, cb.Since(start)))
			return nil
		}
		return m.TrySetField(fd, v)
	}
}

func wireTypeMismatch(fd protoreflect.FieldDescriptor, got, want protowire.Type) error {
	return codecerr.Errorf(codecerr.ErrWireTypeMismatch, "%v field %s cannot be decoded from wire type %s (expecting %s)",
		fd.Kind(), fd.FullName(), wireTypeName(got), wireTypeName(want))
}

func wireTypeName(wt protowire.Type) string {
	switch wt {
	case protowire.VarintType:
		return "varint"
	case protowire.Fixed32Type:
		return "fixed32"
	case protowire.Fixed64Type:
		return "fixed64"
	case protowire.BytesType:
		return "bytes"
	case protowire.StartGroupType:
		return "start-group"
	case protowire.EndGroupType:
		return "end-group"
	default:
		return fmt.Sprintf("wire type %d", wt)
	}
}

func unmarshalPacked(packed []byte, m *dynamic.Message, fd protoreflect.FieldDescriptor, wt protowire.Type) error {
	cb := NewBuffer(packed)
	for !cb.EOF() {
		start := cb.Offset()
		v, known, err := decodeElement(cb, m, fd, wt)
		if err != nil {
			return err
		}
		if !known {
			// an undefined value of a closed enum; keep it, unpacked, with
			// the unknown fields
			var uf Buffer
			uf.EncodeTagAndWireType(fd.Number(), wt)
			_, _ = uf.Write(cb.Since(start))
			m.AddUnknownField(unknownField(fd.Number(), wt, uf.Bytes()))
			continue
		}
		if err := m.TryAddRepeatedField(fd, v); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalMapEntry(entry []byte, m *dynamic.Message, fd protoreflect.FieldDescriptor) error {
	keyField, valField := fd.MapKey(), fd.MapValue()
	em, err := Unmarshal(entry, fd.Message())
	if err != nil {
		return err
	}
	key := em.GetField(keyField)
	val := em.GetField(valField)
	if !val.IsValid() {
		// absent message value is an empty message
		val = dynamic.ValueOfMessage(dynamic.NewMessage(valField.Message()))
	}
	if valField.Kind() == protoreflect.EnumKind && valField.Enum().IsClosed() && hasUnknown(em, valField.Number()) {
		// not a defined value: the entire entry becomes unknown
		var uf Buffer
		uf.EncodeTagAndWireType(fd.Number(), protowire.BytesType)
		uf.EncodeRawBytes(entry)
		m.AddUnknownField(unknownField(fd.Number(), protowire.BytesType, uf.Bytes()))
		return nil
	}
	return m.TryPutMapField(fd, key, val)
}

func hasUnknown(m *dynamic.Message, num protowire.Number) bool {
	for _, uf := range m.UnknownFields() {
		if uf.Number == num {
			return true
		}
	}
	return false
}

// decodeElement decodes a single value for the given field. The known result
// is false when the value is not a defined number of a closed enum, in which
// case the caller must keep the record as an unknown field.
func decodeElement(cb *Buffer, m *dynamic.Message, fd protoreflect.FieldDescriptor, wt protowire.Type) (v dynamic.Value, known bool, err error) {
	switch wt {
	case protowire.VarintType:
		x, err := cb.DecodeVarint()
		if err != nil {
			return dynamic.Value{}, false, err
		}
		return varintValue(fd, x)
	case protowire.Fixed32Type:
		x, err := cb.DecodeFixed32()
		if err != nil {
			return dynamic.Value{}, false, err
		}
		switch fd.Kind() {
		case protoreflect.FloatKind:
			return dynamic.ValueOfFloat32(math.Float32frombits(x)), true, nil
		case protoreflect.Sfixed32Kind:
			return dynamic.ValueOfInt32(int32(x)), true, nil
		default:
			return dynamic.ValueOfUint32(x), true, nil
		}
	case protowire.Fixed64Type:
		x, err := cb.DecodeFixed64()
		if err != nil {
			return dynamic.Value{}, false, err
		}
		switch fd.Kind() {
		case protoreflect.DoubleKind:
			return dynamic.ValueOfFloat64(math.Float64frombits(x)), true, nil
		case protoreflect.Sfixed64Kind:
			return dynamic.ValueOfInt64(int64(x)), true, nil
		default:
			return dynamic.ValueOfUint64(x), true, nil
		}
	case protowire.BytesType:
		raw, err := cb.DecodeRawBytes()
		if err != nil {
			return dynamic.Value{}, false, err
		}
		switch fd.Kind() {
		case protoreflect.StringKind:
			if !utf8.Valid(raw) && dynamic.RequiresUTF8(fd) {
				return dynamic.Value{}, false, codecerr.Errorf(codecerr.ErrTruncatedOrCorruptInput, "string is not valid UTF-8")
			}
			return dynamic.ValueOfString(string(raw)), true, nil
		case protoreflect.BytesKind:
			return dynamic.ValueOfBytes(append([]byte(nil), raw...)), true, nil
		default:
			nested, err := nestedMessage(m, fd)
			if err != nil {
				return dynamic.Value{}, false, err
			}
			if err := unmarshal(NewBuffer(raw), nested); err != nil {
				return dynamic.Value{}, false, err
			}
			return dynamic.ValueOfMessage(nested), true, nil
		}
	case protowire.StartGroupType:
		raw, err := cb.ReadGroup(fd.Number())
		if err != nil {
			return dynamic.Value{}, false, err
		}
		nested, err := nestedMessage(m, fd)
		if err != nil {
			return dynamic.Value{}, false, err
		}
		if err := unmarshal(NewBuffer(raw), nested); err != nil {
			return dynamic.Value{}, false, err
		}
		return dynamic.ValueOfMessage(nested), true, nil
	default:
		return dynamic.Value{}, false, codecerr.Errorf(codecerr.ErrTruncatedOrCorruptInput, "unexpected wire type %d", wt)
	}
}

// nestedMessage returns the message into which a record for the given
// message field is decoded: for a singular field that is already set, the
// existing message (so that repeated records merge), otherwise a new one.
func nestedMessage(m *dynamic.Message, fd protoreflect.FieldDescriptor) (*dynamic.Message, error) {
	if !fd.IsList() && m.HasField(fd) {
		return m.GetField(fd).Message(), nil
	}
	return dynamic.NewMessage(fd.Message()), nil
}

func varintValue(fd protoreflect.FieldDescriptor, x uint64) (dynamic.Value, bool, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return dynamic.ValueOfBool(x != 0), true, nil
	case protoreflect.Int32Kind:
		return dynamic.ValueOfInt32(int32(x)), true, nil
	case protoreflect.Sint32Kind:
		return dynamic.ValueOfInt32(DecodeZigZag32(x)), true, nil
	case protoreflect.Uint32Kind:
		return dynamic.ValueOfUint32(uint32(x)), true, nil
	case protoreflect.Int64Kind:
		return dynamic.ValueOfInt64(int64(x)), true, nil
	case protoreflect.Sint64Kind:
		return dynamic.ValueOfInt64(DecodeZigZag64(x)), true, nil
	case protoreflect.Uint64Kind:
		return dynamic.ValueOfUint64(x), true, nil
	case protoreflect.EnumKind:
		num := protoreflect.EnumNumber(int32(x))
		ed := fd.Enum()
		if ed.IsClosed() && ed.Values().ByNumber(num) == nil {
			return dynamic.Value{}, false, nil
		}
		return dynamic.ValueOfEnum(num), true, nil
	default:
		return dynamic.Value{}, false, codecerr.Errorf(codecerr.ErrWireTypeMismatch, "unexpected varint for %v field %s", fd.Kind(), fd.FullName())
	}
}
