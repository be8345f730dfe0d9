package jsoncodec_test

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codec"
	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/dynamic"
	"github.com/jhump/protocodec/internal/testprotos"
	"github.com/jhump/protocodec/jsoncodec"
)

func withPool(t *testing.T) jsoncodec.Option {
	pool, err := testprotos.LoadPool()
	require.NoError(t, err)
	return jsoncodec.WithResolver(pool)
}

// roundTrip parses the input and renders it again.
func roundTrip(t *testing.T, msgName, input string, opts ...jsoncodec.Option) string {
	t.Helper()
	md := testprotos.MustFindMessage(msgName)
	m, err := jsoncodec.Unmarshal([]byte(input), md, opts...)
	require.NoError(t, err)
	out, err := jsoncodec.Marshal(m, opts...)
	require.NoError(t, err)
	return string(out)
}

func TestPointExample(t *testing.T) {
	md := testprotos.MustFindMessage("test.Point")
	m, err := codec.Unmarshal([]byte{0x08, 0x03, 0x10, 0x04}, md)
	require.NoError(t, err)
	out, err := jsoncodec.Marshal(m)
	require.NoError(t, err)
	require.Equal(t, `{"x":3,"y":4}`, string(out))

	m, err = jsoncodec.Unmarshal([]byte(`{ "x": 3, "y": 4 }`), md)
	require.NoError(t, err)
	b, err := codec.Marshal(m)
	require.NoError(t, err)
	require.Equal(t, []byte{0x08, 0x03, 0x10, 0x04}, b)
}

func TestScalars(t *testing.T) {
	input := `{"i32":-1,"i64":"-2","u32":3,"u64":"18446744073709551615","s32":-5,"s64":"6",` +
		`"f32":7,"f64":"8","sf32":-9,"sf64":"-10","fl":1.5,"db":"NaN","b":true,` +
		`"str":"hé<","byt":"AQID","color":"GREEN"}`
	expected := `{"i32":-1,"i64":"-2","u32":3,"u64":"18446744073709551615","s32":-5,"s64":"6",` +
		`"f32":7,"f64":"8","sf32":-9,"sf64":"-10","fl":1.5,"db":"NaN","b":true,` +
		`"str":"hé<","byt":"AQID","color":"GREEN"}`
	require.Equal(t, expected, roundTrip(t, "test.Kitchen", input))
}

func TestCoercions(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "quoted int32", input: `{"i32":"12"}`, expected: `{"i32":12}`},
		{name: "exponent int64", input: `{"i64":1e3}`, expected: `{"i64":"1000"}`},
		{name: "integral fraction uint32", input: `{"u32":2.0E1}`, expected: `{"u32":20}`},
		{name: "unquoted uint64", input: `{"u64":42}`, expected: `{"u64":"42"}`},
		{name: "infinity", input: `{"fl":"Infinity","db":"-Infinity"}`, expected: `{"fl":"Infinity","db":"-Infinity"}`},
		{name: "quoted double", input: `{"db":"-1.25"}`, expected: `{"db":-1.25}`},
		{name: "url-safe base64", input: `{"byt":"-_8"}`, expected: `{"byt":"+/8="}`},
		{name: "enum number", input: `{"color":2}`, expected: `{"color":"GREEN"}`},
		{name: "undefined open enum", input: `{"color":7}`, expected: `{"color":7}`},
		{name: "camelCase names", input: `{"pointList":[{"x":1}],"wrappedInt":5}`, expected: `{"point_list":[{"x":1}],"wrapped_int":5}`},
		{name: "explicit zero", input: `{"i32":0,"str":""}`, expected: `{"i32":0,"str":""}`},
		{name: "nulls are absent", input: `{"i32":null,"point":null,"nums":null,"counts":null,"wrapped_int":null}`, expected: `{}`},
		{name: "null values", input: `{"val":null,"nothing":null}`, expected: `{"val":null,"nothing":null}`},
		{name: "null oneof member", input: `{"text":null,"number":"5"}`, expected: `{"number":"5"}`},
		{name: "empty list", input: `{"nums":[]}`, expected: `{}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, roundTrip(t, "test.Kitchen", tc.input))
		})
	}
}

func TestMapsAreSorted(t *testing.T) {
	input := `{"shades":{"10":"BLUE","-3":"RED","2":"GREEN"},"flags":{"true":"t","false":"f"},` +
		`"counts":{"b":2,"a":1},"blobs":{"18446744073709551615":"AQ=="},"points":{"-1":{"x":1},"5":{}}}`
	expected := `{"counts":{"a":1,"b":2},"points":{"-1":{"x":1},"5":{}},"flags":{"false":"f","true":"t"},` +
		`"blobs":{"18446744073709551615":"AQ=="},"shades":{"-3":"RED","2":"GREEN","10":"BLUE"}}`
	require.Equal(t, expected, roundTrip(t, "test.Kitchen", input))
}

func TestWellKnownTypes(t *testing.T) {
	input := `{"ts":"2024-01-02T03:04:05.5Z","dur":"-1.5s","wrapped_int":0,"wrapped_str":"hi",` +
		`"st":{"a":[1,"two",true,null,{"b":{}}]},"val":3.5,"lv":[],"mask":"fooBar,baz",` +
		`"any":{"@type":"type.googleapis.com/test.Point","x":1,"y":2},"empty":{},` +
		`"wrapped_bytes":"AQ==","wrapped_i64":"7"}`
	expected := `{"ts":"2024-01-02T03:04:05.500Z","dur":"-1.500s","wrapped_int":0,"wrapped_str":"hi",` +
		`"st":{"a":[1,"two",true,null,{"b":{}}]},"val":3.5,"lv":[],"mask":"fooBar,baz",` +
		`"any":{"@type":"type.googleapis.com/test.Point","x":1,"y":2},"empty":{},` +
		`"wrapped_bytes":"AQ==","wrapped_i64":"7"}`
	require.Equal(t, expected, roundTrip(t, "test.Kitchen", input, withPool(t)))

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "timestamp with offset", input: `{"ts":"2024-01-02T04:04:05+01:00"}`, expected: `{"ts":"2024-01-02T03:04:05Z"}`},
		{name: "timestamp nanos", input: `{"ts":"1970-01-01T00:00:00.000000001Z"}`, expected: `{"ts":"1970-01-01T00:00:00.000000001Z"}`},
		{name: "timestamp before epoch", input: `{"ts":"1969-12-31T23:59:59.250Z"}`, expected: `{"ts":"1969-12-31T23:59:59.250Z"}`},
		{name: "zero duration", input: `{"dur":"0s"}`, expected: `{"dur":"0s"}`},
		{name: "fractional duration", input: `{"dur":"0.000001s"}`, expected: `{"dur":"0.000001s"}`},
		{name: "any with well-known type", input: `{"any":{"@type":"type.googleapis.com/google.protobuf.Duration","value":"2s"}}`,
			expected: `{"any":{"@type":"type.googleapis.com/google.protobuf.Duration","value":"2s"}}`},
		{name: "any with fields first", input: `{"any":{"y":2,"@type":"type.googleapis.com/test.Point"}}`,
			expected: `{"any":{"@type":"type.googleapis.com/test.Point","y":2}}`},
		{name: "empty any", input: `{"any":{}}`, expected: `{"any":{}}`},
		{name: "value kinds", input: `{"st":{"n":null,"s":"x","b":false,"l":[],"o":{}}}`,
			expected: `{"st":{"b":false,"l":[],"n":null,"o":{},"s":"x"}}`},
		{name: "empty field mask", input: `{"mask":""}`, expected: `{"mask":""}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, roundTrip(t, "test.Kitchen", tc.input, withPool(t)))
		})
	}
}

func TestAnyPayloadIsBinary(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	m, err := jsoncodec.Unmarshal([]byte(`{"any":{"@type":"type.googleapis.com/test.Point","x":1,"y":2}}`), md, withPool(t))
	require.NoError(t, err)
	anyMsg := m.GetField(md.Fields().ByName("any")).Message()
	fields := anyMsg.Descriptor().Fields()
	require.Equal(t, "type.googleapis.com/test.Point", anyMsg.GetField(fields.ByName("type_url")).String())
	require.Equal(t, []byte{0x08, 0x01, 0x10, 0x02}, anyMsg.GetField(fields.ByName("value")).Bytes())

	// without a resolver, the type cannot be found
	_, err = jsoncodec.Marshal(m)
	require.ErrorIs(t, err, codecerr.ErrUnknownMessage)
}

func TestIndent(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	m, err := jsoncodec.Unmarshal([]byte(`{"point":{},"nums":[1,2]}`), md)
	require.NoError(t, err)
	out, err := jsoncodec.Marshal(m, jsoncodec.WithIndent("  "))
	require.NoError(t, err)
	require.Equal(t, "{\n  \"point\": {},\n  \"nums\": [\n    1,\n    2\n  ]\n}", string(out))

	out, err = jsoncodec.Marshal(dynamic.NewMessage(md), jsoncodec.WithIndent("  "))
	require.NoError(t, err)
	require.Equal(t, "{}", string(out))
}

func TestJSONNames(t *testing.T) {
	out := roundTrip(t, "test.Kitchen", `{"point_list":[{"x":1}],"wrapped_int":5}`, jsoncodec.WithJSONNames())
	require.Equal(t, `{"pointList":[{"x":1}],"wrappedInt":5}`, out)
}

func TestRecursiveAndGroups(t *testing.T) {
	tree := `{"name":"root","children":[{"name":"a","leaf":{"back":{"name":"b"},"weight":0.5}},{}]}`
	require.Equal(t, tree, roundTrip(t, "test.tree.Node", tree))

	legacy := `{"size":"LARGE","sizes":["SMALL","LARGE"],"data":{"v":4},"with_default":42,"stamps":["1"]}`
	require.Equal(t, legacy, roundTrip(t, "test.legacy.Legacy", legacy))
	// group fields may also be named by the group's type name
	require.Equal(t, `{"data":{"v":1}}`, roundTrip(t, "test.legacy.Legacy", `{"Data":{"v":1}}`))
}

func TestCrossFormat(t *testing.T) {
	input := `{"i32":1,"i64":"-9223372036854775808","fl":0.1,"str":"s","point":{"x":1},` +
		`"nums":[1,2,3],"counts":{"a":1},"text":"t","unpacked":[4,5],"maybe":0,` +
		`"child":{"child":{"str":"deep"}},"doubles":[0,-0.5,"NaN"],` +
		`"ts":"2000-01-01T00:00:00Z","st":{"k":[1.5]},"any":{"@type":"type.googleapis.com/test.tree.Node","name":"n"}}`
	md := testprotos.MustFindMessage("test.Kitchen")
	m, err := jsoncodec.Unmarshal([]byte(input), md, withPool(t))
	require.NoError(t, err)
	first, err := jsoncodec.Marshal(m, withPool(t))
	require.NoError(t, err)

	b, err := codec.Marshal(m)
	require.NoError(t, err)
	decoded, err := codec.Unmarshal(b, md)
	require.NoError(t, err)
	require.True(t, m.Equal(decoded))
	second, err := jsoncodec.Marshal(decoded, withPool(t))
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))

	// same document, up to member order
	var want, got any
	require.NoError(t, json.Unmarshal([]byte(input), &want))
	require.NoError(t, json.Unmarshal(second, &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected difference (-want +got):\n%s", diff)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	testCases := []struct {
		name    string
		msg     string
		input   string
		wantErr error
	}{
		{name: "unknown key", input: `{"nope":1}`, wantErr: codecerr.ErrUnknownField},
		{name: "unknown nested key", input: `{"point":{"z":1}}`, wantErr: codecerr.ErrUnknownField},
		{name: "duplicate key", input: `{"i32":1,"i32":2}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "duplicate by both names", input: `{"point_list":[],"pointList":[]}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "non-numeric int", input: `{"i32":"abc"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "int32 overflow", input: `{"i32":2147483648}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "int64 overflow", input: `{"i64":1e19}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "fractional int", input: `{"i32":1.5}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "negative uint", input: `{"u32":-1}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "float overflow", input: `{"fl":1e39}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "bad float string", input: `{"db":"inf"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "hex float for int", input: `{"i32":"0x1p4"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "underscores for uint", input: `{"u64":"0X_10p0"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "plus sign", input: `{"i64":"+5"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "hex float for double", input: `{"db":"0x1p-2"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "hex map key", input: `{"points":{"0x1":{}}}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "invalid UTF-8", input: "{\"str\":\"\xff\xfe\"}", wantErr: codecerr.ErrSyntax},
		{name: "quoted bool", input: `{"b":"true"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "number for string", input: `{"str":5}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "bad base64", input: `{"byt":"***"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "unknown enum name", input: `{"color":"PURPLE"}`, wantErr: codecerr.ErrUnknownEnumSymbol},
		{name: "undefined closed enum", msg: "test.legacy.Legacy", input: `{"size":7}`, wantErr: codecerr.ErrUnknownEnumSymbol},
		{name: "scalar for list", input: `{"nums":5}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "array for singular", input: `{"i32":[1]}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "null element", input: `{"nums":[1,null]}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "bad map value", input: `{"counts":{"a":"x"}}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "bad map key", input: `{"points":{"x":{}}}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "duplicate map key", input: `{"points":{"1":{},"01":{}}}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "two oneof members", input: `{"text":"a","number":"1"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "scalar for message", input: `{"point":5}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "array document", input: `[]`, wantErr: codecerr.ErrTypeMismatch},
		{name: "null document", input: `null`, wantErr: codecerr.ErrTypeMismatch},
		{name: "second document", input: `{} {}`, wantErr: codecerr.ErrTrailingData},
		{name: "trailing garbage", input: `{}x`, wantErr: codecerr.ErrTrailingData},
		{name: "unterminated object", input: `{"i32":1`, wantErr: codecerr.ErrSyntax},
		{name: "missing colon", input: `{"i32" 1}`, wantErr: codecerr.ErrSyntax},
		{name: "empty input", input: ``, wantErr: codecerr.ErrSyntax},
		{name: "bad timestamp", input: `{"ts":"yesterday"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "bad duration", input: `{"dur":"1m"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "bad field mask", input: `{"mask":"foo_bar"}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "unresolvable any", input: `{"any":{"@type":"type.googleapis.com/test.Nope"}}`, wantErr: codecerr.ErrUnknownMessage},
		{name: "any without type", input: `{"any":{"x":1}}`, wantErr: codecerr.ErrTypeMismatch},
		{name: "any with bad payload", input: `{"any":{"@type":"type.googleapis.com/test.Point","z":1}}`, wantErr: codecerr.ErrUnknownField},
		{name: "empty object with key", input: `{"empty":{"a":1}}`, wantErr: codecerr.ErrUnknownField},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msgName := tc.msg
			if msgName == "" {
				msgName = "test.Kitchen"
			}
			md := testprotos.MustFindMessage(msgName)
			_, err := jsoncodec.Unmarshal([]byte(tc.input), md, withPool(t))
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestErrorsNameField(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	_, err := jsoncodec.Unmarshal([]byte(`{"child":{"point":{"x":"a"}}}`), md)
	require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
	require.Equal(t, `field child: field point: field x: type mismatch: "a" is not an integer`, err.Error())
}

func TestMarshalErrors(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	field := func(name protoreflect.Name) protoreflect.FieldDescriptor {
		return md.Fields().ByName(name)
	}

	// a Value with no kind set
	m := dynamic.NewMessage(md)
	m.SetField(field("val"), dynamic.ValueOfMessage(dynamic.NewMessage(field("val").Message())))
	_, err := jsoncodec.Marshal(m)
	require.ErrorIs(t, err, codecerr.ErrTypeMismatch)

	// a Timestamp out of range
	ts := dynamic.NewMessage(field("ts").Message())
	ts.SetField(ts.Descriptor().Fields().ByName("seconds"), dynamic.ValueOfInt64(-62135596801))
	m = dynamic.NewMessage(md)
	m.SetField(field("ts"), dynamic.ValueOfMessage(ts))
	_, err = jsoncodec.Marshal(m)
	require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
}

func TestInvalidUTF8(t *testing.T) {
	// proto2 strings may hold any bytes, but JSON cannot carry them
	md := testprotos.MustFindMessage("test.legacy.Legacy")
	m, err := codec.Unmarshal([]byte{0x3a, 0x02, 0xff, 0xfe}, md)
	require.NoError(t, err)
	_, err = jsoncodec.Marshal(m)
	require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
	require.ErrorContains(t, err, "field name: ")

	kitchen := testprotos.MustFindMessage("test.Kitchen")
	_, err = codec.Unmarshal([]byte{0x72, 0x02, 0xff, 0xfe}, kitchen)
	require.ErrorIs(t, err, codecerr.ErrTruncatedOrCorruptInput)

	// valid multi-byte text passes through unchanged
	require.Equal(t, `{"str":"日本"}`, roundTrip(t, "test.Kitchen", `{"str":"日本"}`))
}
