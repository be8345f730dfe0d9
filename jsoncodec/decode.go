package jsoncodec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/dynamic"
)

// Unmarshal parses a JSON document as a message of the given type.
//
// Fields may be named by their schema names or their JSON (camelCase)
// names. Keys that name no field, values whose shape does not match the
// field, and content after the document are errors. A null value leaves the
// field unset. The input must be UTF-8.
func Unmarshal(data []byte, md protoreflect.MessageDescriptor, opts ...Option) (*dynamic.Message, error) {
	if !utf8.Valid(data) {
		return nil, codecerr.Errorf(codecerr.ErrSyntax, "input is not valid UTF-8")
	}
	d := decoder{opts: newOptions(opts)}
	r := newReader(data)
	t, err := r.peek()
	if err != nil {
		return nil, err
	}
	if t == nil && !acceptsNull(md) {
		return nil, codecerr.Errorf(codecerr.ErrTypeMismatch, "expecting object for message %s, got null", md.FullName())
	}
	m, err := d.unmarshalMessage(r, md)
	if err != nil {
		return nil, err
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}

type decoder struct {
	opts options
}

// unmarshalMessage reads a value of the given message type, which is an
// object unless the type is one of the well-known types with a special
// JSON form.
func (d *decoder) unmarshalMessage(r *jsReader, md protoreflect.MessageDescriptor) (*dynamic.Message, error) {
	if wkt, ok := wellKnownTypes[md.FullName()]; ok && wkt.unmarshal != nil {
		m := dynamic.NewMessage(md)
		if err := wkt.unmarshal(d, r, m); err != nil {
			return nil, fmt.Errorf("%s: %w", md.FullName(), err)
		}
		return m, nil
	}
	m := dynamic.NewMessage(md)
	if err := d.unmarshalFields(r, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *decoder) unmarshalFields(r *jsReader, m *dynamic.Message) error {
	if err := r.beginObject(); err != nil {
		return err
	}
	seen := map[protoreflect.FieldNumber]struct{}{}
	for r.hasNext() {
		key, err := r.nextObjectKey()
		if err != nil {
			return err
		}
		fd := m.FindFieldDescriptorByName(key)
		if fd == nil {
			return codecerr.Errorf(codecerr.ErrUnknownField, "%q is not a field of %s", key, m.Descriptor().FullName())
		}
		if _, ok := seen[fd.Number()]; ok {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "field %s appears more than once", fd.FullName())
		}
		seen[fd.Number()] = struct{}{}
		if err := d.unmarshalField(r, m, fd); err != nil {
			return fmt.Errorf("field %s: %w", fd.Name(), err)
		}
	}
	return r.endObject()
}

func (d *decoder) unmarshalField(r *jsReader, m *dynamic.Message, fd protoreflect.FieldDescriptor) error {
	t, err := r.peek()
	if err != nil {
		return err
	}
	if t == nil && (fd.IsList() || fd.IsMap() || !fieldAcceptsNull(fd)) {
		// null means the field is absent
		_, _ = r.poll()
		return nil
	}

	var val dynamic.Value
	switch {
	case fd.IsMap():
		mp, err := d.unmarshalMap(r, fd)
		if err != nil {
			return err
		}
		val = dynamic.ValueOfMap(mp)

	case fd.IsList():
		if err := r.beginArray(); err != nil {
			return err
		}
		var elems []dynamic.Value
		for r.hasNext() {
			v, err := d.unmarshalElement(r, fd)
			if err != nil {
				return fmt.Errorf("element %d: %w", len(elems), err)
			}
			elems = append(elems, v)
		}
		if err := r.endArray(); err != nil {
			return err
		}
		val = dynamic.ValueOfList(elems)

	default:
		if od := fd.ContainingOneof(); od != nil {
			if other := m.WhichOneof(od); other != nil && other != fd {
				return codecerr.Errorf(codecerr.ErrTypeMismatch, "oneof %s already has field %s set", od.Name(), other.Name())
			}
		}
		val, err = d.unmarshalElement(r, fd)
		if err != nil {
			return err
		}
	}
	return m.TrySetField(fd, val)
}

func (d *decoder) unmarshalMap(r *jsReader, fd protoreflect.FieldDescriptor) (*dynamic.Map, error) {
	keyField, valField := fd.MapKey(), fd.MapValue()
	if err := r.beginObject(); err != nil {
		return nil, err
	}
	mp := dynamic.NewMap()
	for r.hasNext() {
		str, err := r.nextObjectKey()
		if err != nil {
			return nil, err
		}
		k, err := parseMapKey(keyField, str)
		if err != nil {
			return nil, err
		}
		if _, ok := mp.Get(k); ok {
			return nil, codecerr.Errorf(codecerr.ErrTypeMismatch, "duplicate map key %q", str)
		}
		v, err := d.unmarshalElement(r, valField)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", str, err)
		}
		mp.Set(k, v)
	}
	if err := r.endObject(); err != nil {
		return nil, err
	}
	return mp, nil
}

func parseMapKey(fd protoreflect.FieldDescriptor, str string) (dynamic.Value, error) {
	if fd.Kind() != protoreflect.StringKind && fd.Kind() != protoreflect.BoolKind && !isJSONNumber(str) {
		return dynamic.Value{}, codecerr.Errorf(codecerr.ErrTypeMismatch, "invalid %v map key %q", fd.Kind(), str)
	}
	switch fd.Kind() {
	case protoreflect.StringKind:
		return dynamic.ValueOfString(str), nil
	case protoreflect.BoolKind:
		switch str {
		case "true":
			return dynamic.ValueOfBool(true), nil
		case "false":
			return dynamic.ValueOfBool(false), nil
		}
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		if i, err := strconv.ParseInt(str, 10, 32); err == nil {
			return dynamic.ValueOfInt32(int32(i)), nil
		}
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		if i, err := strconv.ParseInt(str, 10, 64); err == nil {
			return dynamic.ValueOfInt64(i), nil
		}
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		if i, err := strconv.ParseUint(str, 10, 32); err == nil {
			return dynamic.ValueOfUint32(uint32(i)), nil
		}
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		if i, err := strconv.ParseUint(str, 10, 64); err == nil {
			return dynamic.ValueOfUint64(i), nil
		}
	}
	return dynamic.Value{}, codecerr.Errorf(codecerr.ErrTypeMismatch, "invalid %v map key %q", fd.Kind(), str)
}

// unmarshalElement reads a single value for the given field: the whole
// value of a singular field, or one element of a list or map.
func (d *decoder) unmarshalElement(r *jsReader, fd protoreflect.FieldDescriptor) (dynamic.Value, error) {
	t, err := r.peek()
	if err != nil {
		return dynamic.Value{}, err
	}
	if t == nil && !fieldAcceptsNull(fd) {
		return dynamic.Value{}, codecerr.Errorf(codecerr.ErrTypeMismatch, "null is not a valid %v value", fd.Kind())
	}

	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		m, err := d.unmarshalMessage(r, fd.Message())
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfMessage(m), nil

	case protoreflect.EnumKind:
		num, err := unmarshalEnum(r, fd.Enum())
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfEnum(num), nil

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		i, err := nextInt(r, 32)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfInt32(int32(i)), nil

	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		i, err := nextInt(r, 64)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfInt64(i), nil

	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		u, err := nextUint(r, 32)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfUint32(uint32(u)), nil

	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		u, err := nextUint(r, 64)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfUint64(u), nil

	case protoreflect.FloatKind:
		f, err := nextFloat(r, 32)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfFloat32(float32(f)), nil

	case protoreflect.DoubleKind:
		f, err := nextFloat(r, 64)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfFloat64(f), nil

	case protoreflect.BoolKind:
		b, err := r.nextBool()
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfBool(b), nil

	case protoreflect.StringKind:
		s, err := r.nextString()
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfString(s), nil

	case protoreflect.BytesKind:
		s, err := r.nextString()
		if err != nil {
			return dynamic.Value{}, err
		}
		b, err := decodeBase64(s)
		if err != nil {
			return dynamic.Value{}, err
		}
		return dynamic.ValueOfBytes(b), nil

	default:
		return dynamic.Value{}, fmt.Errorf("unrecognized field kind: %v", fd.Kind())
	}
}

func unmarshalEnum(r *jsReader, ed protoreflect.EnumDescriptor) (protoreflect.EnumNumber, error) {
	t, err := r.peek()
	if err != nil {
		return 0, err
	}
	switch t := t.(type) {
	case nil:
		// only reachable for google.protobuf.NullValue
		_, _ = r.poll()
		return 0, nil
	case string:
		_, _ = r.poll()
		vd := ed.Values().ByName(protoreflect.Name(t))
		if vd == nil {
			return 0, codecerr.Errorf(codecerr.ErrUnknownEnumSymbol, "enum %s has no value named %q", ed.FullName(), t)
		}
		return vd.Number(), nil
	case json.Number:
		i, err := nextInt(r, 32)
		if err != nil {
			return 0, err
		}
		num := protoreflect.EnumNumber(i)
		if ed.IsClosed() && ed.Values().ByNumber(num) == nil {
			return 0, codecerr.Errorf(codecerr.ErrUnknownEnumSymbol, "enum %s has no value numbered %d", ed.FullName(), num)
		}
		return num, nil
	default:
		_, _ = r.poll()
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "expecting enum name or number, got %s", describe(t))
	}
}

func nextInt(r *jsReader, bitSize int) (int64, error) {
	str, _, err := r.nextNumber()
	if err != nil {
		return 0, err
	}
	return parseInt(str, bitSize)
}

func parseInt(str string, bitSize int) (int64, error) {
	if !isJSONNumber(str) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not an integer", str)
	}
	i, err := strconv.ParseInt(str, 10, bitSize)
	if err == nil {
		return i, nil
	}
	if isRangeError(err) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%s is out of range for int%d", str, bitSize)
	}
	// exponent and fraction forms are allowed when the value is integral
	f, ferr := strconv.ParseFloat(str, 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not an integer", str)
	}
	limit := math.Ldexp(1, bitSize-1)
	if f < -limit || f >= limit {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%s is out of range for int%d", str, bitSize)
	}
	return int64(f), nil
}

func nextUint(r *jsReader, bitSize int) (uint64, error) {
	str, _, err := r.nextNumber()
	if err != nil {
		return 0, err
	}
	return parseUint(str, bitSize)
}

func parseUint(str string, bitSize int) (uint64, error) {
	if !isJSONNumber(str) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not an integer", str)
	}
	u, err := strconv.ParseUint(str, 10, bitSize)
	if err == nil {
		return u, nil
	}
	if isRangeError(err) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%s is out of range for uint%d", str, bitSize)
	}
	f, ferr := strconv.ParseFloat(str, 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not an integer", str)
	}
	if f < 0 || f >= math.Ldexp(1, bitSize) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%s is out of range for uint%d", str, bitSize)
	}
	return uint64(f), nil
}

func isRangeError(err error) bool {
	numErr, ok := err.(*strconv.NumError)
	return ok && numErr.Err == strconv.ErrRange
}

func nextFloat(r *jsReader, bitSize int) (float64, error) {
	str, quoted, err := r.nextNumber()
	if err != nil {
		return 0, err
	}
	if quoted {
		switch str {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	if !isJSONNumber(str) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not a valid float%d", str, bitSize)
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not a valid float%d", str, bitSize)
	}
	if bitSize == 32 && math.Abs(f) > math.MaxFloat32 {
		return 0, codecerr.Errorf(codecerr.ErrTypeMismatch, "%s is out of range for float", str)
	}
	return f, nil
}

// isJSONNumber reports whether s is written as a JSON number: an optional
// minus sign, digits, then an optional fraction and exponent. Quoted numbers
// must have this form too, which rules out the hex, underscore and signed
// forms that strconv accepts.
func isJSONNumber(s string) bool {
	i := 0
	digits := func() bool {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		return i > start
	}
	if i < len(s) && s[i] == '-' {
		i++
	}
	if !digits() {
		return false
	}
	if i < len(s) && s[i] == '.' {
		i++
		if !digits() {
			return false
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		if !digits() {
			return false
		}
	}
	return i == len(s)
}

func decodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, codecerr.Errorf(codecerr.ErrTypeMismatch, "%q is not valid base64", s)
}

// fieldAcceptsNull reports whether null is a value of the field's element
// type rather than a marker for an absent field.
func fieldAcceptsNull(fd protoreflect.FieldDescriptor) bool {
	switch fd.Kind() {
	case protoreflect.EnumKind:
		return fd.Enum().FullName() == nullValueName
	case protoreflect.MessageKind:
		return acceptsNull(fd.Message())
	}
	return false
}

func acceptsNull(md protoreflect.MessageDescriptor) bool {
	return md.FullName() == valueName
}
