package jsoncodec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codec"
	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/dynamic"
)

const (
	anyName       protoreflect.FullName = "google.protobuf.Any"
	valueName     protoreflect.FullName = "google.protobuf.Value"
	nullValueName protoreflect.FullName = "google.protobuf.NullValue"

	// range of google.protobuf.Timestamp: 0001-01-01T00:00:00Z to
	// 9999-12-31T23:59:59.999999999Z
	minTimestampSeconds = -62135596800
	maxTimestampSeconds = 253402300799
	// range of google.protobuf.Duration: about 10,000 years
	maxDurationSeconds = 315576000000
)

// wktHandler converts a well-known type that has a special JSON form.
type wktHandler struct {
	marshal   func(e *encoder, m *dynamic.Message) error
	unmarshal func(d *decoder, r *jsReader, m *dynamic.Message) error
}

var wellKnownTypes map[protoreflect.FullName]wktHandler

func init() {
	wrapper := wktHandler{marshal: marshalWrapper, unmarshal: unmarshalWrapper}
	wellKnownTypes = map[protoreflect.FullName]wktHandler{
		anyName:                       {marshal: marshalAny, unmarshal: unmarshalAny},
		"google.protobuf.Timestamp":   {marshal: marshalTimestamp, unmarshal: unmarshalTimestamp},
		"google.protobuf.Duration":    {marshal: marshalDuration, unmarshal: unmarshalDuration},
		"google.protobuf.FieldMask":   {marshal: marshalFieldMask, unmarshal: unmarshalFieldMask},
		"google.protobuf.Struct":      {marshal: marshalStruct, unmarshal: unmarshalStruct},
		"google.protobuf.ListValue":   {marshal: marshalListValue, unmarshal: unmarshalListValue},
		valueName:                     {marshal: marshalValue, unmarshal: unmarshalValue},
		"google.protobuf.DoubleValue": wrapper,
		"google.protobuf.FloatValue":  wrapper,
		"google.protobuf.Int64Value":  wrapper,
		"google.protobuf.UInt64Value": wrapper,
		"google.protobuf.Int32Value":  wrapper,
		"google.protobuf.UInt32Value": wrapper,
		"google.protobuf.BoolValue":   wrapper,
		"google.protobuf.StringValue": wrapper,
		"google.protobuf.BytesValue":  wrapper,
		"google.protobuf.Empty":       {marshal: marshalEmpty, unmarshal: unmarshalEmpty},
	}
}

func fieldByName(m *dynamic.Message, name protoreflect.Name) (protoreflect.FieldDescriptor, error) {
	fd := m.Descriptor().Fields().ByName(name)
	if fd == nil {
		return nil, codecerr.Errorf(codecerr.ErrTypeMismatch, "%s has no field named %q", m.Descriptor().FullName(), name)
	}
	return fd, nil
}

// setUnlessDefault sets the named field, leaving it unset when the value is
// the field's default so that the binary form matches other encoders.
func setUnlessDefault(m *dynamic.Message, name protoreflect.Name, v dynamic.Value) error {
	fd, err := fieldByName(m, name)
	if err != nil {
		return err
	}
	if v.Equal(dynamic.DefaultValue(fd)) {
		return nil
	}
	return m.TrySetField(fd, v)
}

func getField(m *dynamic.Message, name protoreflect.Name) (dynamic.Value, error) {
	fd, err := fieldByName(m, name)
	if err != nil {
		return dynamic.Value{}, err
	}
	return m.GetField(fd), nil
}

func secondsAndNanos(m *dynamic.Message) (int64, int32, error) {
	secs, err := getField(m, "seconds")
	if err != nil {
		return 0, 0, err
	}
	nanos, err := getField(m, "nanos")
	if err != nil {
		return 0, 0, err
	}
	return secs.Int(), int32(nanos.Int()), nil
}

func setSecondsAndNanos(m *dynamic.Message, secs int64, nanos int32) error {
	if err := setUnlessDefault(m, "seconds", dynamic.ValueOfInt64(secs)); err != nil {
		return err
	}
	return setUnlessDefault(m, "nanos", dynamic.ValueOfInt32(nanos))
}

// trimFraction drops trailing zeros from a nine-digit fraction, three digits
// at a time, so the result has zero, three, six or nine fractional digits.
func trimFraction(s string) string {
	s = strings.TrimSuffix(s, "000")
	s = strings.TrimSuffix(s, "000")
	return strings.TrimSuffix(s, ".000")
}

func marshalTimestamp(e *encoder, m *dynamic.Message) error {
	secs, nanos, err := secondsAndNanos(m)
	if err != nil {
		return err
	}
	if secs < minTimestampSeconds || secs > maxTimestampSeconds || nanos < 0 || nanos >= 1e9 {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "timestamp (%d, %d) is out of range", secs, nanos)
	}
	t := time.Unix(secs, int64(nanos)).UTC()
	e.b.writeString(trimFraction(t.Format("2006-01-02T15:04:05.000000000")) + "Z")
	return nil
}

func unmarshalTimestamp(_ *decoder, r *jsReader, m *dynamic.Message) error {
	s, err := r.nextString()
	if err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "invalid timestamp %q", s)
	}
	secs := t.Unix()
	if secs < minTimestampSeconds || secs > maxTimestampSeconds {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "timestamp %q is out of range", s)
	}
	return setSecondsAndNanos(m, secs, int32(t.Nanosecond()))
}

func marshalDuration(e *encoder, m *dynamic.Message) error {
	secs, nanos, err := secondsAndNanos(m)
	if err != nil {
		return err
	}
	if secs < -maxDurationSeconds || secs > maxDurationSeconds ||
		nanos <= -1e9 || nanos >= 1e9 ||
		(secs > 0 && nanos < 0) || (secs < 0 && nanos > 0) {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "duration (%d, %d) is out of range", secs, nanos)
	}
	sign := ""
	if secs < 0 || nanos < 0 {
		sign = "-"
		secs, nanos = -secs, -nanos
	}
	e.b.writeString(trimFraction(fmt.Sprintf("%s%d.%09d", sign, secs, nanos)) + "s")
	return nil
}

func unmarshalDuration(_ *decoder, r *jsReader, m *dynamic.Message) error {
	s, err := r.nextString()
	if err != nil {
		return err
	}
	secs, nanos, ok := parseDuration(s)
	if !ok {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "invalid duration %q", s)
	}
	return setSecondsAndNanos(m, secs, nanos)
}

func parseDuration(s string) (int64, int32, bool) {
	body, ok := strings.CutSuffix(s, "s")
	if !ok {
		return 0, 0, false
	}
	neg := strings.HasPrefix(body, "-")
	if neg {
		body = body[1:]
	}
	whole, frac, hasFrac := strings.Cut(body, ".")
	if !isDigits(whole) || (hasFrac && (!isDigits(frac) || len(frac) > 9)) {
		return 0, 0, false
	}
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs > maxDurationSeconds {
		return 0, 0, false
	}
	var nanos int64
	if hasFrac {
		nanos, _ = strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 32)
	}
	if neg {
		secs, nanos = -secs, -nanos
	}
	return secs, int32(nanos), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func marshalFieldMask(e *encoder, m *dynamic.Message) error {
	paths, err := getField(m, "paths")
	if err != nil {
		return err
	}
	camel := make([]string, 0, len(paths.List()))
	for _, p := range paths.List() {
		c, ok := snakeToCamel(p.String())
		if !ok {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "field mask path %q has no JSON form", p.String())
		}
		camel = append(camel, c)
	}
	e.b.writeString(strings.Join(camel, ","))
	return nil
}

func unmarshalFieldMask(_ *decoder, r *jsReader, m *dynamic.Message) error {
	s, err := r.nextString()
	if err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	var paths []dynamic.Value
	for _, c := range strings.Split(s, ",") {
		p, ok := camelToSnake(c)
		if !ok {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "invalid field mask path %q", c)
		}
		paths = append(paths, dynamic.ValueOfString(p))
	}
	fd, err := fieldByName(m, "paths")
	if err != nil {
		return err
	}
	return m.TrySetField(fd, dynamic.ValueOfList(paths))
}

func snakeToCamel(s string) (string, bool) {
	var sb strings.Builder
	upper := false
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z':
			return "", false
		case c == '_':
			if upper {
				return "", false
			}
			upper = true
		case upper:
			if c < 'a' || c > 'z' {
				return "", false
			}
			sb.WriteRune(c - 'a' + 'A')
			upper = false
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String(), !upper
}

func camelToSnake(s string) (string, bool) {
	var sb strings.Builder
	for _, c := range s {
		switch {
		case c == '_':
			return "", false
		case c >= 'A' && c <= 'Z':
			sb.WriteByte('_')
			sb.WriteRune(c - 'A' + 'a')
		default:
			sb.WriteRune(c)
		}
	}
	return sb.String(), true
}

func marshalEmpty(e *encoder, _ *dynamic.Message) error {
	e.b.open('{')
	e.b.close('}', true)
	return nil
}

func unmarshalEmpty(d *decoder, r *jsReader, m *dynamic.Message) error {
	return d.unmarshalFields(r, m)
}

func marshalWrapper(e *encoder, m *dynamic.Message) error {
	fd, err := fieldByName(m, "value")
	if err != nil {
		return err
	}
	return e.marshalElement(fd, m.GetField(fd))
}

func unmarshalWrapper(d *decoder, r *jsReader, m *dynamic.Message) error {
	fd, err := fieldByName(m, "value")
	if err != nil {
		return err
	}
	v, err := d.unmarshalElement(r, fd)
	if err != nil {
		return err
	}
	return setUnlessDefault(m, "value", v)
}

func marshalStruct(e *encoder, m *dynamic.Message) error {
	fd, err := fieldByName(m, "fields")
	if err != nil {
		return err
	}
	return e.marshalMap(fd, m.GetField(fd).Map())
}

func unmarshalStruct(d *decoder, r *jsReader, m *dynamic.Message) error {
	fd, err := fieldByName(m, "fields")
	if err != nil {
		return err
	}
	mp, err := d.unmarshalMap(r, fd)
	if err != nil {
		return err
	}
	return m.TrySetField(fd, dynamic.ValueOfMap(mp))
}

func marshalListValue(e *encoder, m *dynamic.Message) error {
	fd, err := fieldByName(m, "values")
	if err != nil {
		return err
	}
	return e.marshalList(fd, m.GetField(fd).List())
}

func unmarshalListValue(d *decoder, r *jsReader, m *dynamic.Message) error {
	fd, err := fieldByName(m, "values")
	if err != nil {
		return err
	}
	return d.unmarshalField(r, m, fd)
}

func marshalValue(e *encoder, m *dynamic.Message) error {
	od := m.Descriptor().Oneofs().ByName("kind")
	if od == nil {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "%s has no oneof named kind", m.Descriptor().FullName())
	}
	fd := m.WhichOneof(od)
	if fd == nil {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "no kind of value is set")
	}
	v := m.GetField(fd)
	if fd.Name() == "number_value" && (math.IsNaN(v.Float()) || math.IsInf(v.Float(), 0)) {
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "%v cannot be represented as a JSON number", v.Float())
	}
	return e.marshalElement(fd, v)
}

func unmarshalValue(d *decoder, r *jsReader, m *dynamic.Message) error {
	t, err := r.peek()
	if err != nil {
		return err
	}
	var name protoreflect.Name
	switch t := t.(type) {
	case nil:
		name = "null_value"
	case json.Number:
		name = "number_value"
	case string:
		name = "string_value"
	case bool:
		name = "bool_value"
	case json.Delim:
		if t == '[' {
			name = "list_value"
		} else {
			name = "struct_value"
		}
	}
	fd, err := fieldByName(m, name)
	if err != nil {
		return err
	}
	v, err := d.unmarshalElement(r, fd)
	if err != nil {
		return err
	}
	return m.TrySetField(fd, v)
}

func (o options) resolve(url string) (protoreflect.MessageDescriptor, error) {
	if o.resolver == nil {
		return nil, codecerr.Errorf(codecerr.ErrUnknownMessage, "cannot resolve type URL %q without a resolver", url)
	}
	return o.resolver.FindMessageByURL(url)
}

// hasValueForm reports whether a message of the given type is embedded in
// an Any under a "value" key rather than by its fields.
func hasValueForm(md protoreflect.MessageDescriptor) bool {
	_, ok := wellKnownTypes[md.FullName()]
	return ok
}

func marshalAny(e *encoder, m *dynamic.Message) error {
	typeURL, err := getField(m, "type_url")
	if err != nil {
		return err
	}
	payload, err := getField(m, "value")
	if err != nil {
		return err
	}
	if typeURL.String() == "" {
		if len(payload.Bytes()) > 0 {
			return codecerr.Errorf(codecerr.ErrTypeMismatch, "value present without a type URL")
		}
		e.b.open('{')
		e.b.close('}', true)
		return nil
	}
	md, err := e.opts.resolve(typeURL.String())
	if err != nil {
		return err
	}
	msg, err := codec.Unmarshal(payload.Bytes(), md)
	if err != nil {
		return fmt.Errorf("value of %s: %w", typeURL.String(), err)
	}

	e.b.open('{')
	first := true
	e.b.next(&first)
	e.b.writeString("@type")
	e.b.sep()
	e.b.writeString(typeURL.String())
	if hasValueForm(md) {
		e.b.next(&first)
		e.b.writeString("value")
		e.b.sep()
		if err := e.marshalMessage(msg); err != nil {
			return err
		}
	} else if err := e.marshalFields(msg, &first); err != nil {
		return err
	}
	e.b.close('}', false)
	return nil
}

func unmarshalAny(d *decoder, r *jsReader, m *dynamic.Message) error {
	if err := r.beginObject(); err != nil {
		return err
	}
	var typeURL string
	hasType := false
	// everything but @type is captured and parsed once the type is known
	var rest indentBuffer
	rest.open('{')
	empty := true
	for r.hasNext() {
		key, err := r.nextObjectKey()
		if err != nil {
			return err
		}
		if key == "@type" {
			if hasType {
				return codecerr.Errorf(codecerr.ErrTypeMismatch, "@type appears more than once")
			}
			if typeURL, err = r.nextString(); err != nil {
				return fmt.Errorf("@type: %w", err)
			}
			hasType = true
			continue
		}
		rest.next(&empty)
		rest.writeString(key)
		rest.sep()
		if err := r.readRaw(&rest); err != nil {
			return err
		}
	}
	if err := r.endObject(); err != nil {
		return err
	}
	rest.close('}', empty)

	if !hasType {
		if empty {
			return nil
		}
		return codecerr.Errorf(codecerr.ErrTypeMismatch, "missing @type")
	}
	md, err := d.opts.resolve(typeURL)
	if err != nil {
		return err
	}

	sub := newReader(rest.Bytes())
	var msg *dynamic.Message
	if hasValueForm(md) {
		msg, err = d.unmarshalValueMember(sub, md)
	} else {
		msg, err = d.unmarshalMessage(sub, md)
	}
	if err != nil {
		return fmt.Errorf("value of %s: %w", typeURL, err)
	}
	payload, err := codec.Marshal(msg)
	if err != nil {
		return err
	}
	if err := setUnlessDefault(m, "type_url", dynamic.ValueOfString(typeURL)); err != nil {
		return err
	}
	return setUnlessDefault(m, "value", dynamic.ValueOfBytes(payload))
}

// unmarshalValueMember reads an object whose only member is "value",
// holding the JSON form of a well-known type.
func (d *decoder) unmarshalValueMember(r *jsReader, md protoreflect.MessageDescriptor) (*dynamic.Message, error) {
	if err := r.beginObject(); err != nil {
		return nil, err
	}
	var msg *dynamic.Message
	for r.hasNext() {
		key, err := r.nextObjectKey()
		if err != nil {
			return nil, err
		}
		if key != "value" {
			return nil, codecerr.Errorf(codecerr.ErrUnknownField, "%q is not valid in an Any holding %s", key, md.FullName())
		}
		if msg != nil {
			return nil, codecerr.Errorf(codecerr.ErrTypeMismatch, "value appears more than once")
		}
		if msg, err = d.unmarshalMessage(r, md); err != nil {
			return nil, err
		}
	}
	if err := r.endObject(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, codecerr.Errorf(codecerr.ErrTypeMismatch, "missing value for %s", md.FullName())
	}
	return msg, nil
}
