package codec

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/dynamic"
)

// Marshal encodes the given message to the binary wire format.
//
// Known fields are written in ascending order of field number, map entries
// in ascending key order, and unknown fields last, verbatim, in the order
// they were encountered. The output for a given message is therefore always
// the same. Fields without presence that hold their zero value are not
// written (see dynamic.IsImplicitDefault).
func Marshal(m *dynamic.Message) ([]byte, error) {
	var cb Buffer
	if err := cb.EncodeMessage(m); err != nil {
		return nil, err
	}
	return cb.Bytes(), nil
}

// EncodeMessage appends the fields of the given message to the buffer,
// without a length prefix.
func (cb *Buffer) EncodeMessage(m *dynamic.Message) error {
	var err error
	m.Range(func(fd protoreflect.FieldDescriptor, v dynamic.Value) bool {
		if dynamic.IsImplicitDefault(fd, v) {
			return true
		}
		err = cb.EncodeFieldValue(fd, v)
		if err != nil {
			err = fmt.Errorf("field %s: %w", fd.FullName(), err)
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	for _, uf := range m.UnknownFields() {
		_, _ = cb.Write(uf.Raw)
	}
	return nil
}

// EncodeFieldValue appends the records for the given field and value to the
// buffer: one record for a singular field, one per element (or one packed
// record) for a list, and one per entry for a map.
func (cb *Buffer) EncodeFieldValue(fd protoreflect.FieldDescriptor, val dynamic.Value) error {
	switch {
	case fd.IsMap():
		keyField, valField := fd.MapKey(), fd.MapValue()
		var entryBuffer Buffer
		var err error
		val.Map().Range(func(k, v dynamic.Value) bool {
			entryBuffer.Reset()
			if err = entryBuffer.encodeFieldElement(keyField, k); err != nil {
				return false
			}
			if err = entryBuffer.encodeFieldElement(valField, v); err != nil {
				return false
			}
			cb.EncodeTagAndWireType(fd.Number(), protowire.BytesType)
			cb.EncodeRawBytes(entryBuffer.Bytes())
			return true
		})
		return err

	case fd.IsList():
		sl := val.List()
		if fd.IsPacked() && isPackable(fd.Kind()) && len(sl) > 0 {
			// packed repeated field
			var packedBuffer Buffer
			for _, v := range sl {
				if err := packedBuffer.encodeFieldValue(fd, v); err != nil {
					return err
				}
			}
			cb.EncodeTagAndWireType(fd.Number(), protowire.BytesType)
			cb.EncodeRawBytes(packedBuffer.Bytes())
			return nil
		}
		// non-packed repeated field
		for _, v := range sl {
			if err := cb.encodeFieldElement(fd, v); err != nil {
				return err
			}
		}
		return nil

	default:
		return cb.encodeFieldElement(fd, val)
	}
}

func (cb *Buffer) encodeFieldElement(fd protoreflect.FieldDescriptor, val dynamic.Value) error {
	wt := wireTypeOf(fd.Kind())
	cb.EncodeTagAndWireType(fd.Number(), wt)
	if err := cb.encodeFieldValue(fd, val); err != nil {
		return err
	}
	if wt == protowire.StartGroupType {
		cb.EncodeTagAndWireType(fd.Number(), protowire.EndGroupType)
	}
	return nil
}

func (cb *Buffer) encodeFieldValue(fd protoreflect.FieldDescriptor, val dynamic.Value) error {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		if val.Bool() {
			cb.EncodeVarint(1)
		} else {
			cb.EncodeVarint(0)
		}

	case protoreflect.EnumKind:
		cb.EncodeVarint(uint64(int64(val.Enum())))

	case protoreflect.Int32Kind, protoreflect.Int64Kind:
		cb.EncodeVarint(uint64(val.Int()))

	case protoreflect.Sfixed32Kind:
		cb.EncodeFixed32(uint32(val.Int()))

	case protoreflect.Sint32Kind:
		cb.EncodeVarint(EncodeZigZag32(int32(val.Int())))

	case protoreflect.Uint32Kind, protoreflect.Uint64Kind:
		cb.EncodeVarint(val.Uint())

	case protoreflect.Fixed32Kind:
		cb.EncodeFixed32(uint32(val.Uint()))

	case protoreflect.Sfixed64Kind:
		cb.EncodeFixed64(uint64(val.Int()))

	case protoreflect.Sint64Kind:
		cb.EncodeVarint(EncodeZigZag64(val.Int()))

	case protoreflect.Fixed64Kind:
		cb.EncodeFixed64(val.Uint())

	case protoreflect.DoubleKind:
		cb.EncodeFixed64(math.Float64bits(val.Float()))

	case protoreflect.FloatKind:
		cb.EncodeFixed32(math.Float32bits(float32(val.Float())))

	case protoreflect.BytesKind:
		cb.EncodeRawBytes(val.Bytes())

	case protoreflect.StringKind:
		cb.buf = protowire.AppendString(cb.buf, val.String())

	case protoreflect.MessageKind:
		var nested Buffer
		if err := nested.EncodeMessage(val.Message()); err != nil {
			return err
		}
		cb.EncodeRawBytes(nested.Bytes())

	case protoreflect.GroupKind:
		// just append the nested message to this buffer; the caller writes
		// the start-group and end-group tags
		return cb.EncodeMessage(val.Message())

	default:
		return fmt.Errorf("unrecognized field kind: %v", fd.Kind())
	}
	return nil
}
