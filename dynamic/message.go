// Package dynamic provides a message representation whose shape is given by a
// descriptor at runtime instead of by generated code.
//
// A *Message is bound to exactly one protoreflect.MessageDescriptor and holds
// a Value for every field that has been set. Field values are checked against
// the field's kind and cardinality when they are stored, so a message never
// holds a value that its descriptor does not allow. Data found in binary input
// for field numbers the descriptor does not know is retained as a list of
// UnknownField records, so that it can be written back out unchanged.
package dynamic

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codecerr"
)

// Message is a message instance whose structure is described by a message
// descriptor. The zero value is not usable; create messages with NewMessage.
//
// A Message is not safe for concurrent mutation.
type Message struct {
	md      protoreflect.MessageDescriptor
	values  map[protoreflect.FieldNumber]Value
	unknown []UnknownField
}

// UnknownField is a record from binary input whose field number is not
// defined by the message's descriptor.
type UnknownField struct {
	Number   protoreflect.FieldNumber
	WireType protowire.Type
	// Raw is the complete record as it appeared on the wire: the tag followed
	// by the payload, including any length prefix or end-group tag.
	Raw []byte
}

// NewMessage creates a new, empty message for the given descriptor.
func NewMessage(md protoreflect.MessageDescriptor) *Message {
	return &Message{md: md}
}

// Descriptor returns the descriptor of this message.
func (m *Message) Descriptor() protoreflect.MessageDescriptor {
	return m.md
}

// FindFieldDescriptor returns the field with the given number, or nil if the
// message has no such field.
func (m *Message) FindFieldDescriptor(num protoreflect.FieldNumber) protoreflect.FieldDescriptor {
	return m.md.Fields().ByNumber(num)
}

// FindFieldDescriptorByName returns the field with the given name. Both the
// name declared in the schema and the field's JSON (camelCase) name are
// accepted. It returns nil if no field matches.
func (m *Message) FindFieldDescriptorByName(name string) protoreflect.FieldDescriptor {
	if name == "" {
		return nil
	}
	fields := m.md.Fields()
	if fd := fields.ByName(protoreflect.Name(name)); fd != nil {
		return fd
	}
	if fd := fields.ByJSONName(name); fd != nil {
		return fd
	}
	// groups are referenced by the name of their message type in text, so
	// the field name is the lower-cased form of it.
	if fd := fields.ByTextName(name); fd != nil {
		return fd
	}
	return nil
}

func (m *Message) checkField(fd protoreflect.FieldDescriptor) error {
	if fd.IsExtension() {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "extension %s cannot be set on a dynamic message", fd.FullName())
	}
	if fd.ContainingMessage().FullName() != m.md.FullName() {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "field %s is for wrong message type: %s; expecting %s",
			fd.Name(), fd.ContainingMessage().FullName(), m.md.FullName())
	}
	if m.md.Fields().ByNumber(fd.Number()) == nil {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "message %s has no field numbered %d", m.md.FullName(), fd.Number())
	}
	return nil
}

// HasField reports whether the given field is set. A field that was
// explicitly set to its default value is set.
func (m *Message) HasField(fd protoreflect.FieldDescriptor) bool {
	_, ok := m.values[fd.Number()]
	return ok
}

// GetField returns the value of the given field. If the field is not set,
// the schema default is returned: an empty list or map for repeated and map
// fields, an invalid Value for message fields, and the declared default for
// scalar fields.
func (m *Message) GetField(fd protoreflect.FieldDescriptor) Value {
	if v, ok := m.values[fd.Number()]; ok {
		return v
	}
	switch {
	case fd.IsMap():
		return ValueOfMap(NewMap())
	case fd.IsList():
		return ValueOfList(nil)
	default:
		return DefaultValue(fd)
	}
}

// SetField sets the value of the given field. It panics if the value is not
// valid for the field; TrySetField is the variant that returns an error.
func (m *Message) SetField(fd protoreflect.FieldDescriptor, val Value) {
	if err := m.TrySetField(fd, val); err != nil {
		panic(err.Error())
	}
}

// TrySetField sets the value of the given field. It returns an error that
// wraps codecerr.ErrTypeMismatch if the field does not belong to this
// message or if the shape of the value does not match the field's kind and
// cardinality.
//
// Setting an empty list or map clears the field. Setting a member of a oneof
// clears the other members.
func (m *Message) TrySetField(fd protoreflect.FieldDescriptor, val Value) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	if err := validFieldValue(fd, val); err != nil {
		return err
	}
	if (val.typ == ListType && len(val.list) == 0) || (val.typ == MapType && val.mp.Len() == 0) {
		m.clearField(fd)
		return nil
	}
	m.internalSetField(fd, val)
	return nil
}

func (m *Message) internalSetField(fd protoreflect.FieldDescriptor, val Value) {
	if m.values == nil {
		m.values = map[protoreflect.FieldNumber]Value{}
	}
	m.values[fd.Number()] = val
	// if this field is part of a oneof, make sure all other choices are cleared
	if od := fd.ContainingOneof(); od != nil {
		choices := od.Fields()
		for i, length := 0, choices.Len(); i < length; i++ {
			if other := choices.Get(i); other.Number() != fd.Number() {
				delete(m.values, other.Number())
			}
		}
	}
}

// TryAddRepeatedField appends an element to the given list field.
func (m *Message) TryAddRepeatedField(fd protoreflect.FieldDescriptor, val Value) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	if !fd.IsList() {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "field %s is not a repeated field", fd.FullName())
	}
	if err := validElementValue(fd, fd.Kind(), val); err != nil {
		return err
	}
	cur := m.values[fd.Number()]
	m.internalSetField(fd, ValueOfList(append(cur.list, val)))
	return nil
}

// TryPutMapField stores an entry in the given map field. An existing entry
// with the same key is replaced.
func (m *Message) TryPutMapField(fd protoreflect.FieldDescriptor, key, val Value) error {
	if err := m.checkField(fd); err != nil {
		return err
	}
	if !fd.IsMap() {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "field %s is not a map field", fd.FullName())
	}
	if err := validElementValue(fd.MapKey(), fd.MapKey().Kind(), key); err != nil {
		return err
	}
	if err := validElementValue(fd.MapValue(), fd.MapValue().Kind(), val); err != nil {
		return err
	}
	cur, ok := m.values[fd.Number()]
	if !ok {
		cur = ValueOfMap(NewMap())
		m.internalSetField(fd, cur)
	}
	cur.mp.Set(key, val)
	return nil
}

// ClearField unsets the given field.
func (m *Message) ClearField(fd protoreflect.FieldDescriptor) {
	m.clearField(fd)
}

func (m *Message) clearField(fd protoreflect.FieldDescriptor) {
	delete(m.values, fd.Number())
}

// WhichOneof returns the member of the given oneof that is set, or nil if
// none is.
func (m *Message) WhichOneof(od protoreflect.OneofDescriptor) protoreflect.FieldDescriptor {
	choices := od.Fields()
	for i, length := 0, choices.Len(); i < length; i++ {
		if fd := choices.Get(i); m.HasField(fd) {
			return fd
		}
	}
	return nil
}

// Range calls fn for every set field, in ascending order of field number,
// until fn returns false.
func (m *Message) Range(fn func(protoreflect.FieldDescriptor, Value) bool) {
	for _, num := range m.knownFieldNumbers() {
		if !fn(m.md.Fields().ByNumber(num), m.values[num]) {
			return
		}
	}
}

// RangeInDeclarationOrder calls fn for every set field, in the order the
// fields are declared in the schema, until fn returns false.
func (m *Message) RangeInDeclarationOrder(fn func(protoreflect.FieldDescriptor, Value) bool) {
	fields := m.md.Fields()
	for i, length := 0, fields.Len(); i < length; i++ {
		fd := fields.Get(i)
		v, ok := m.values[fd.Number()]
		if !ok {
			continue
		}
		if !fn(fd, v) {
			return
		}
	}
}

func (m *Message) knownFieldNumbers() []protoreflect.FieldNumber {
	nums := make([]protoreflect.FieldNumber, 0, len(m.values))
	for num := range m.values {
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool {
		return nums[i] < nums[j]
	})
	return nums
}

// UnknownFields returns the unknown fields of this message in the order they
// were added.
func (m *Message) UnknownFields() []UnknownField {
	return m.unknown
}

// AddUnknownField appends an unknown field record. Records are written back
// out in the order they were added.
func (m *Message) AddUnknownField(uf UnknownField) {
	m.unknown = append(m.unknown, uf)
}

// Clear unsets all fields and discards unknown fields.
func (m *Message) Clear() {
	m.values = nil
	m.unknown = nil
}

// IsEmpty reports whether no field is set and there are no unknown fields.
func (m *Message) IsEmpty() bool {
	return len(m.values) == 0 && len(m.unknown) == 0
}

// Equal reports whether two messages have the same descriptor, the same set
// fields with equal values, and the same unknown fields in the same order.
// A field without presence that holds its zero value counts as unset, since
// no encoding can tell the two apart.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.md.FullName() != other.md.FullName() {
		return false
	}
	if !m.fieldsIn(other) || !other.fieldsIn(m) {
		return false
	}
	if len(m.unknown) != len(other.unknown) {
		return false
	}
	for i := range m.unknown {
		a, b := m.unknown[i], other.unknown[i]
		if a.Number != b.Number || a.WireType != b.WireType || string(a.Raw) != string(b.Raw) {
			return false
		}
	}
	return true
}

// fieldsIn reports whether every field set in m is set to an equal value in
// other.
func (m *Message) fieldsIn(other *Message) bool {
	for num, v := range m.values {
		ov, ok := other.values[num]
		if !ok {
			if IsImplicitDefault(m.md.Fields().ByNumber(num), v) {
				continue
			}
			return false
		}
		if !v.Equal(ov) {
			return false
		}
	}
	return true
}

// IsImplicitDefault reports whether v is the zero value of a singular field
// that does not track presence, such as a plain proto3 scalar. The binary
// format omits such values. Negative zero is not a zero value.
func IsImplicitDefault(fd protoreflect.FieldDescriptor, v Value) bool {
	if fd == nil || fd.HasPresence() || fd.IsList() || fd.IsMap() {
		return false
	}
	switch v.typ {
	case StringType:
		return v.str == ""
	case BytesType:
		return len(v.raw) == 0
	case MessageType, ListType, MapType, InvalidType:
		return false
	default:
		return v.num == 0
	}
}

// String returns a short description of the message, for debugging.
func (m *Message) String() string {
	return fmt.Sprintf("%s{%d fields, %d unknown}", m.md.FullName(), len(m.values), len(m.unknown))
}
