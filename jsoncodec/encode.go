package jsoncodec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/dynamic"
)

// Marshal renders the given message as a JSON document.
//
// Set fields are written in declaration order, named by their schema names
// unless WithJSONNames is given. Unset fields are omitted. 64-bit integers
// are written as strings, non-finite floats as "NaN", "Infinity" or
// "-Infinity", bytes as padded standard base64, enums by name (or number,
// when the value is not defined), and map entries in ascending key order.
// Unknown fields have no JSON form and are omitted.
func Marshal(m *dynamic.Message, opts ...Option) ([]byte, error) {
	e := encoder{opts: newOptions(opts)}
	e.b.unit = e.opts.indent
	if err := e.marshalMessage(m); err != nil {
		return nil, err
	}
	return e.b.Bytes(), nil
}

type encoder struct {
	opts options
	b    indentBuffer
}

func (e *encoder) marshalMessage(m *dynamic.Message) error {
	md := m.Descriptor()
	if wkt, ok := wellKnownTypes[md.FullName()]; ok && wkt.marshal != nil {
		if err := wkt.marshal(e, m); err != nil {
			return fmt.Errorf("%s: %w", md.FullName(), err)
		}
		return nil
	}
	e.b.open('{')
	first := true
	if err := e.marshalFields(m, &first); err != nil {
		return err
	}
	e.b.close('}', first)
	return nil
}

// marshalFields writes the members for the set fields of m into the object
// that is currently open.
func (e *encoder) marshalFields(m *dynamic.Message, first *bool) error {
	var err error
	m.RangeInDeclarationOrder(func(fd protoreflect.FieldDescriptor, v dynamic.Value) bool {
		e.b.next(first)
		e.b.writeString(e.fieldName(fd))
		e.b.sep()
		if err = e.marshalFieldValue(fd, v); err != nil {
			err = fmt.Errorf("field %s: %w", fd.Name(), err)
		}
		return err == nil
	})
	return err
}

func (e *encoder) fieldName(fd protoreflect.FieldDescriptor) string {
	if e.opts.jsonNames {
		return fd.JSONName()
	}
	return string(fd.Name())
}

func (e *encoder) marshalFieldValue(fd protoreflect.FieldDescriptor, v dynamic.Value) error {
	switch {
	case fd.IsMap():
		return e.marshalMap(fd, v.Map())
	case fd.IsList():
		return e.marshalList(fd, v.List())
	default:
		return e.marshalElement(fd, v)
	}
}

func (e *encoder) marshalMap(fd protoreflect.FieldDescriptor, mp *dynamic.Map) error {
	keyField, valField := fd.MapKey(), fd.MapValue()
	e.b.open('{')
	first := true
	var err error
	mp.Range(func(k, v dynamic.Value) bool {
		key := mapKeyString(keyField, k)
		if err = checkUTF8(key); err != nil {
			err = fmt.Errorf("key %q: %w", key, err)
			return false
		}
		e.b.next(&first)
		e.b.writeString(key)
		e.b.sep()
		err = e.marshalElement(valField, v)
		return err == nil
	})
	if err != nil {
		return err
	}
	e.b.close('}', first)
	return nil
}

func mapKeyString(fd protoreflect.FieldDescriptor, k dynamic.Value) string {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return strconv.FormatBool(k.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return strconv.FormatInt(k.Int(), 10)
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return strconv.FormatUint(k.Uint(), 10)
	default:
		return k.String()
	}
}

// checkUTF8 rejects strings that JSON cannot carry unchanged. Proto2 string
// fields may hold such bytes.
func checkUTF8(s string) error {
	if !utf8.ValidString(s) {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "string %q is not valid UTF-8", s)
	}
	return nil
}

func (e *encoder) marshalList(fd protoreflect.FieldDescriptor, sl []dynamic.Value) error {
	e.b.open('[')
	first := true
	for i, v := range sl {
		e.b.next(&first)
		if err := e.marshalElement(fd, v); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	e.b.close(']', first)
	return nil
}

func (e *encoder) marshalElement(fd protoreflect.FieldDescriptor, v dynamic.Value) error {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		e.b.WriteString(strconv.FormatBool(v.Bool()))

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		e.b.WriteString(strconv.FormatInt(v.Int(), 10))

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		e.b.writeString(strconv.FormatInt(v.Int(), 10))

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		e.b.WriteString(strconv.FormatUint(v.Uint(), 10))

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		e.b.writeString(strconv.FormatUint(v.Uint(), 10))

	case protoreflect.FloatKind:
		e.writeFloat(v.Float(), 32)

	case protoreflect.DoubleKind:
		e.writeFloat(v.Float(), 64)

	case protoreflect.StringKind:
		if err := checkUTF8(v.String()); err != nil {
			return err
		}
		e.b.writeString(v.String())

	case protoreflect.BytesKind:
		e.b.writeString(base64.StdEncoding.EncodeToString(v.Bytes()))

	case protoreflect.EnumKind:
		ed := fd.Enum()
		if ed.FullName() == nullValueName {
			e.b.WriteString("null")
			return nil
		}
		if vd := ed.Values().ByNumber(v.Enum()); vd != nil {
			e.b.writeString(string(vd.Name()))
		} else {
			e.b.WriteString(strconv.FormatInt(int64(v.Enum()), 10))
		}

	case protoreflect.MessageKind, protoreflect.GroupKind:
		return e.marshalMessage(v.Message())

	default:
		return fmt.Errorf("unrecognized field kind: %v", fd.Kind())
	}
	return nil
}

func (e *encoder) writeFloat(f float64, bitSize int) {
	switch {
	case math.IsNaN(f):
		e.b.writeString("NaN")
	case math.IsInf(f, 1):
		e.b.writeString("Infinity")
	case math.IsInf(f, -1):
		e.b.writeString("-Infinity")
	default:
		e.b.WriteString(strconv.FormatFloat(f, 'g', -1, bitSize))
	}
}
