package dynamic

import (
	"bytes"
	"fmt"
	"math"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// ValueType is the variant held by a Value.
type ValueType int

const (
	InvalidType ValueType = iota
	BoolType
	Int32Type
	Int64Type
	Uint32Type
	Uint64Type
	Float32Type
	Float64Type
	StringType
	BytesType
	EnumType
	MessageType
	ListType
	MapType
)

var valueTypeNames = map[ValueType]string{
	InvalidType: "invalid",
	BoolType:    "bool",
	Int32Type:   "int32",
	Int64Type:   "int64",
	Uint32Type:  "uint32",
	Uint64Type:  "uint64",
	Float32Type: "float32",
	Float64Type: "float64",
	StringType:  "string",
	BytesType:   "bytes",
	EnumType:    "enum",
	MessageType: "message",
	ListType:    "list",
	MapType:     "map",
}

func (t ValueType) String() string {
	if s, ok := valueTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value is a tagged union of everything a field of a dynamic message can
// hold: a scalar, a nested message, a list of values, or a map. The zero
// value is invalid and represents the absence of a value.
//
// Numeric scalars are stored as their bit pattern, so a Value holding an
// int32 and one holding an int64 with the same number are not equal: the
// variant is part of the value.
type Value struct {
	typ  ValueType
	num  uint64
	str  string
	raw  []byte
	msg  *Message
	list []Value
	mp   *Map
}

func ValueOfBool(v bool) Value {
	if v {
		return Value{typ: BoolType, num: 1}
	}
	return Value{typ: BoolType}
}

func ValueOfInt32(v int32) Value {
	return Value{typ: Int32Type, num: uint64(int64(v))}
}

func ValueOfInt64(v int64) Value {
	return Value{typ: Int64Type, num: uint64(v)}
}

func ValueOfUint32(v uint32) Value {
	return Value{typ: Uint32Type, num: uint64(v)}
}

func ValueOfUint64(v uint64) Value {
	return Value{typ: Uint64Type, num: v}
}

func ValueOfFloat32(v float32) Value {
	return Value{typ: Float32Type, num: uint64(math.Float32bits(v))}
}

func ValueOfFloat64(v float64) Value {
	return Value{typ: Float64Type, num: math.Float64bits(v)}
}

func ValueOfString(v string) Value {
	return Value{typ: StringType, str: v}
}

// ValueOfBytes returns a value that holds the given bytes. The slice is not
// copied.
func ValueOfBytes(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{typ: BytesType, raw: v}
}

func ValueOfEnum(v protoreflect.EnumNumber) Value {
	return Value{typ: EnumType, num: uint64(int64(v))}
}

// ValueOfMessage returns a value that holds the given message. A nil message
// yields an invalid value.
func ValueOfMessage(m *Message) Value {
	if m == nil {
		return Value{}
	}
	return Value{typ: MessageType, msg: m}
}

// ValueOfList returns a value that holds the given elements. The slice is
// not copied.
func ValueOfList(elems []Value) Value {
	return Value{typ: ListType, list: elems}
}

// ValueOfMap returns a value that holds the given map. A nil map yields an
// invalid value.
func ValueOfMap(m *Map) Value {
	if m == nil {
		return Value{}
	}
	return Value{typ: MapType, mp: m}
}

// Type returns the variant held by this value.
func (v Value) Type() ValueType {
	return v.typ
}

// IsValid reports whether v holds anything.
func (v Value) IsValid() bool {
	return v.typ != InvalidType
}

func (v Value) Bool() bool {
	v.mustBe(BoolType)
	return v.num != 0
}

// Int returns the value of a signed integer or enum variant.
func (v Value) Int() int64 {
	v.mustBe(Int32Type, Int64Type, EnumType)
	return int64(v.num)
}

// Uint returns the value of an unsigned integer variant.
func (v Value) Uint() uint64 {
	v.mustBe(Uint32Type, Uint64Type)
	return v.num
}

// Float returns the value of a floating point variant. A float32 is widened
// to float64 without loss.
func (v Value) Float() float64 {
	v.mustBe(Float32Type, Float64Type)
	if v.typ == Float32Type {
		return float64(math.Float32frombits(uint32(v.num)))
	}
	return math.Float64frombits(v.num)
}

// String returns the string held by a string variant. For other variants it
// returns a debugging representation.
func (v Value) String() string {
	if v.typ == StringType {
		return v.str
	}
	switch v.typ {
	case InvalidType:
		return "<invalid>"
	case BoolType:
		return fmt.Sprint(v.Bool())
	case Int32Type, Int64Type, EnumType:
		return fmt.Sprint(v.Int())
	case Uint32Type, Uint64Type:
		return fmt.Sprint(v.Uint())
	case Float32Type, Float64Type:
		return fmt.Sprint(v.Float())
	case BytesType:
		return fmt.Sprintf("%q", v.raw)
	case MessageType:
		return fmt.Sprintf("<%s>", v.msg.Descriptor().FullName())
	case ListType:
		return fmt.Sprintf("<list of %d>", len(v.list))
	case MapType:
		return fmt.Sprintf("<map of %d>", v.mp.Len())
	}
	return fmt.Sprintf("<%v>", v.typ)
}

func (v Value) Bytes() []byte {
	v.mustBe(BytesType)
	return v.raw
}

func (v Value) Enum() protoreflect.EnumNumber {
	v.mustBe(EnumType)
	return protoreflect.EnumNumber(int32(v.num))
}

func (v Value) Message() *Message {
	v.mustBe(MessageType)
	return v.msg
}

func (v Value) List() []Value {
	v.mustBe(ListType)
	return v.list
}

func (v Value) Map() *Map {
	v.mustBe(MapType)
	return v.mp
}

func (v Value) mustBe(types ...ValueType) {
	for _, t := range types {
		if v.typ == t {
			return
		}
	}
	panic(fmt.Sprintf("dynamic: value of type %v accessed as %v", v.typ, types[0]))
}

// Equal reports whether two values hold the same variant and contents. NaN
// is considered equal to NaN so that decoded messages compare equal to what
// was encoded.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case InvalidType:
		return true
	case Float32Type, Float64Type:
		a, b := v.Float(), other.Float()
		return a == b || (math.IsNaN(a) && math.IsNaN(b))
	case StringType:
		return v.str == other.str
	case BytesType:
		return bytes.Equal(v.raw, other.raw)
	case MessageType:
		return v.msg.Equal(other.msg)
	case ListType:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case MapType:
		return v.mp.Equal(other.mp)
	default:
		return v.num == other.num
	}
}

// scalarTypeForKind returns the variant used to hold values of the given
// field kind.
func scalarTypeForKind(k protoreflect.Kind) ValueType {
	switch k {
	case protoreflect.BoolKind:
		return BoolType
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return Int32Type
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return Int64Type
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return Uint32Type
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return Uint64Type
	case protoreflect.FloatKind:
		return Float32Type
	case protoreflect.DoubleKind:
		return Float64Type
	case protoreflect.StringKind:
		return StringType
	case protoreflect.BytesKind:
		return BytesType
	case protoreflect.EnumKind:
		return EnumType
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return MessageType
	default:
		return InvalidType
	}
}

// ScalarTypeForField returns the variant of a single element of the given
// field: for lists, the element variant, and for maps, the value variant.
func ScalarTypeForField(fd protoreflect.FieldDescriptor) ValueType {
	if fd.IsMap() {
		return scalarTypeForKind(fd.MapValue().Kind())
	}
	return scalarTypeForKind(fd.Kind())
}

// DefaultValue returns the schema default for a singular scalar field. It
// returns an invalid value for message fields.
func DefaultValue(fd protoreflect.FieldDescriptor) Value {
	if fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind {
		return Value{}
	}
	return fromProtoreflect(fd.Kind(), fd.Default())
}

func fromProtoreflect(k protoreflect.Kind, v protoreflect.Value) Value {
	switch scalarTypeForKind(k) {
	case BoolType:
		return ValueOfBool(v.Bool())
	case Int32Type:
		return ValueOfInt32(int32(v.Int()))
	case Int64Type:
		return ValueOfInt64(v.Int())
	case Uint32Type:
		return ValueOfUint32(uint32(v.Uint()))
	case Uint64Type:
		return ValueOfUint64(v.Uint())
	case Float32Type:
		return ValueOfFloat32(float32(v.Float()))
	case Float64Type:
		return ValueOfFloat64(v.Float())
	case StringType:
		return ValueOfString(v.String())
	case BytesType:
		return ValueOfBytes(append([]byte(nil), v.Bytes()...))
	case EnumType:
		return ValueOfEnum(v.Enum())
	default:
		return Value{}
	}
}
