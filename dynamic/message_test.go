package dynamic_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codecerr"
	"github.com/jhump/protocodec/dynamic"
	"github.com/jhump/protocodec/internal/testprotos"
	"github.com/jhump/protocodec/schema"
)

func field(md protoreflect.MessageDescriptor, name string) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic("no field named " + name)
	}
	return fd
}

func TestSetFieldTypeMismatch(t *testing.T) {
	kitchen := testprotos.MustFindMessage("test.Kitchen")
	point := testprotos.MustFindMessage("test.Point")
	node := testprotos.MustFindMessage("test.tree.Node")

	badMap := dynamic.NewMap()
	badMap.Set(dynamic.ValueOfInt32(1), dynamic.ValueOfInt32(1))

	testCases := []struct {
		name  string
		field string
		val   dynamic.Value
	}{
		{name: "string for int32", field: "i32", val: dynamic.ValueOfString("1")},
		{name: "int64 for int32", field: "i32", val: dynamic.ValueOfInt64(1)},
		{name: "uint32 for sfixed32", field: "sf32", val: dynamic.ValueOfUint32(1)},
		{name: "float64 for float", field: "fl", val: dynamic.ValueOfFloat64(1)},
		{name: "bytes for string", field: "str", val: dynamic.ValueOfBytes([]byte("x"))},
		{name: "int32 for enum", field: "color", val: dynamic.ValueOfInt32(1)},
		{name: "list for singular", field: "i32", val: dynamic.ValueOfList([]dynamic.Value{dynamic.ValueOfInt32(1)})},
		{name: "scalar for list", field: "nums", val: dynamic.ValueOfInt32(1)},
		{name: "bad list element", field: "nums", val: dynamic.ValueOfList([]dynamic.Value{dynamic.ValueOfInt32(1), dynamic.ValueOfString("2")})},
		{name: "list for map", field: "counts", val: dynamic.ValueOfList([]dynamic.Value{dynamic.ValueOfInt32(1)})},
		{name: "bad map key", field: "counts", val: dynamic.ValueOfMap(badMap)},
		{name: "wrong message type", field: "point", val: dynamic.ValueOfMessage(dynamic.NewMessage(node))},
		{name: "scalar for message", field: "point", val: dynamic.ValueOfInt32(1)},
		{name: "invalid value", field: "i32", val: dynamic.Value{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := dynamic.NewMessage(kitchen)
			err := m.TrySetField(field(kitchen, tc.field), tc.val)
			require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
			require.False(t, m.HasField(field(kitchen, tc.field)))
		})
	}

	t.Run("field of another message", func(t *testing.T) {
		m := dynamic.NewMessage(kitchen)
		err := m.TrySetField(field(point, "x"), dynamic.ValueOfInt32(1))
		require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
	})

	t.Run("SetField panics", func(t *testing.T) {
		m := dynamic.NewMessage(kitchen)
		require.Panics(t, func() {
			m.SetField(field(kitchen, "i32"), dynamic.ValueOfString("x"))
		})
	})
}

func TestPresence(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	i32 := field(md, "i32")
	m := dynamic.NewMessage(md)
	require.False(t, m.HasField(i32))
	require.Equal(t, int64(0), m.GetField(i32).Int())

	m.SetField(i32, dynamic.ValueOfInt32(0))
	require.True(t, m.HasField(i32))
	require.Equal(t, int64(0), m.GetField(i32).Int())

	m.ClearField(i32)
	require.False(t, m.HasField(i32))

	// unset message fields have no value; lists and maps are empty
	require.False(t, m.GetField(field(md, "point")).IsValid())
	require.Empty(t, m.GetField(field(md, "nums")).List())
	require.Equal(t, 0, m.GetField(field(md, "counts")).Map().Len())

	// empty lists and maps clear the field
	nums := field(md, "nums")
	m.SetField(nums, dynamic.ValueOfList([]dynamic.Value{dynamic.ValueOfInt32(1)}))
	require.True(t, m.HasField(nums))
	m.SetField(nums, dynamic.ValueOfList(nil))
	require.False(t, m.HasField(nums))
	m.SetField(field(md, "counts"), dynamic.ValueOfMap(dynamic.NewMap()))
	require.False(t, m.HasField(field(md, "counts")))
	require.True(t, m.IsEmpty())
}

func TestOneof(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	text, number := field(md, "text"), field(md, "number")
	od := text.ContainingOneof()
	m := dynamic.NewMessage(md)
	require.Nil(t, m.WhichOneof(od))

	m.SetField(text, dynamic.ValueOfString("abc"))
	require.Equal(t, text, m.WhichOneof(od))
	m.SetField(number, dynamic.ValueOfInt64(1))
	require.Equal(t, number, m.WhichOneof(od))
	require.False(t, m.HasField(text))
}

func TestRepeatedAndMapHelpers(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	nums, counts := field(md, "nums"), field(md, "counts")
	m := dynamic.NewMessage(md)

	require.NoError(t, m.TryAddRepeatedField(nums, dynamic.ValueOfInt32(1)))
	require.NoError(t, m.TryAddRepeatedField(nums, dynamic.ValueOfInt32(2)))
	require.Len(t, m.GetField(nums).List(), 2)
	require.ErrorIs(t, m.TryAddRepeatedField(nums, dynamic.ValueOfString("3")), codecerr.ErrTypeMismatch)
	require.ErrorIs(t, m.TryAddRepeatedField(field(md, "i32"), dynamic.ValueOfInt32(3)), codecerr.ErrTypeMismatch)

	require.NoError(t, m.TryPutMapField(counts, dynamic.ValueOfString("a"), dynamic.ValueOfInt32(1)))
	require.NoError(t, m.TryPutMapField(counts, dynamic.ValueOfString("a"), dynamic.ValueOfInt32(2)))
	v, ok := m.GetField(counts).Map().Get(dynamic.ValueOfString("a"))
	require.True(t, ok)
	require.Equal(t, int64(2), v.Int())
	require.ErrorIs(t, m.TryPutMapField(counts, dynamic.ValueOfInt32(1), dynamic.ValueOfInt32(2)), codecerr.ErrTypeMismatch)
	require.ErrorIs(t, m.TryPutMapField(nums, dynamic.ValueOfString("a"), dynamic.ValueOfInt32(2)), codecerr.ErrTypeMismatch)
}

func TestRangeOrder(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	m := dynamic.NewMessage(md)
	m.SetField(field(md, "nothing"), dynamic.ValueOfEnum(0))
	m.SetField(field(md, "str"), dynamic.ValueOfString("s"))
	m.SetField(field(md, "i32"), dynamic.ValueOfInt32(1))

	var names []protoreflect.Name
	m.Range(func(fd protoreflect.FieldDescriptor, _ dynamic.Value) bool {
		names = append(names, fd.Name())
		return true
	})
	require.Equal(t, []protoreflect.Name{"i32", "str", "nothing"}, names)

	names = nil
	m.RangeInDeclarationOrder(func(fd protoreflect.FieldDescriptor, _ dynamic.Value) bool {
		names = append(names, fd.Name())
		return len(names) < 2
	})
	require.Equal(t, []protoreflect.Name{"i32", "str"}, names)
}

func TestFindFieldDescriptorByName(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	m := dynamic.NewMessage(md)
	require.Equal(t, field(md, "point_list"), m.FindFieldDescriptorByName("point_list"))
	require.Equal(t, field(md, "point_list"), m.FindFieldDescriptorByName("pointList"))
	require.Nil(t, m.FindFieldDescriptorByName("PointList"))
	require.Nil(t, m.FindFieldDescriptorByName(""))

	legacy := testprotos.MustFindMessage("test.legacy.Legacy")
	lm := dynamic.NewMessage(legacy)
	require.Equal(t, field(legacy, "data"), lm.FindFieldDescriptorByName("Data"))
}

func TestEqual(t *testing.T) {
	md := testprotos.MustFindMessage("test.Kitchen")
	build := func(d float64, extra byte) *dynamic.Message {
		m := dynamic.NewMessage(md)
		m.SetField(field(md, "db"), dynamic.ValueOfFloat64(d))
		counts := dynamic.NewMap()
		counts.Set(dynamic.ValueOfString("k"), dynamic.ValueOfInt32(1))
		m.SetField(field(md, "counts"), dynamic.ValueOfMap(counts))
		m.AddUnknownField(dynamic.UnknownField{Number: 1000, WireType: 0, Raw: []byte{0xc0, 0x3e, extra}})
		return m
	}
	require.True(t, build(1, 1).Equal(build(1, 1)))
	require.True(t, build(math.NaN(), 1).Equal(build(math.NaN(), 1)))
	require.False(t, build(1, 1).Equal(build(2, 1)))
	require.False(t, build(1, 1).Equal(build(1, 2)))
	require.False(t, build(1, 1).Equal(dynamic.NewMessage(md)))
	require.False(t, build(1, 1).Equal(nil))

	point := testprotos.MustFindMessage("test.Point")
	require.False(t, dynamic.NewMessage(md).Equal(dynamic.NewMessage(point)))

	m := build(1, 1)
	m.Clear()
	require.True(t, m.IsEmpty())
}

func TestValueAccessors(t *testing.T) {
	require.Equal(t, int64(-5), dynamic.ValueOfInt32(-5).Int())
	require.Equal(t, uint64(math.MaxUint32), dynamic.ValueOfUint32(math.MaxUint32).Uint())
	require.Equal(t, float64(float32(0.1)), dynamic.ValueOfFloat32(0.1).Float())
	require.Equal(t, protoreflect.EnumNumber(-3), dynamic.ValueOfEnum(-3).Enum())
	require.Equal(t, []byte{}, dynamic.ValueOfBytes(nil).Bytes())
	require.False(t, dynamic.ValueOfMessage(nil).IsValid())
	require.False(t, dynamic.ValueOfMap(nil).IsValid())
	require.False(t, dynamic.ValueOfInt32(1).Equal(dynamic.ValueOfInt64(1)))
	require.Equal(t, "int32", dynamic.Int32Type.String())
	require.Panics(t, func() {
		dynamic.ValueOfString("x").Int()
	})
}

func TestMapRangeOrder(t *testing.T) {
	ints := dynamic.NewMap()
	for _, k := range []int64{5, -10, 0, 3} {
		ints.Set(dynamic.ValueOfInt64(k), dynamic.ValueOfBool(true))
	}
	var got []int64
	ints.Range(func(k, _ dynamic.Value) bool {
		got = append(got, k.Int())
		return true
	})
	require.Equal(t, []int64{-10, 0, 3, 5}, got)

	strs := dynamic.NewMap()
	for _, k := range []string{"b", "a", "c"} {
		strs.Set(dynamic.ValueOfString(k), dynamic.ValueOfBool(true))
	}
	var gotStrs []string
	strs.Range(func(k, _ dynamic.Value) bool {
		gotStrs = append(gotStrs, k.String())
		return true
	})
	require.Equal(t, []string{"a", "b", "c"}, gotStrs)

	strs.Delete(dynamic.ValueOfString("b"))
	require.Equal(t, 2, strs.Len())
	_, ok := strs.Get(dynamic.ValueOfString("b"))
	require.False(t, ok)
}

func TestStringsRequireUTF8(t *testing.T) {
	kitchen := testprotos.MustFindMessage("test.Kitchen")
	m := dynamic.NewMessage(kitchen)
	err := m.TrySetField(field(kitchen, "str"), dynamic.ValueOfString("\xff"))
	require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
	err = m.TryPutMapField(field(kitchen, "counts"), dynamic.ValueOfString("\xff"), dynamic.ValueOfInt32(1))
	require.ErrorIs(t, err, codecerr.ErrTypeMismatch)
	require.True(t, m.IsEmpty())

	legacy := testprotos.MustFindMessage("test.legacy.Legacy")
	lm := dynamic.NewMessage(legacy)
	require.NoError(t, lm.TrySetField(field(legacy, "name"), dynamic.ValueOfString("\xff")))
	require.False(t, dynamic.RequiresUTF8(field(legacy, "name")))
	require.False(t, dynamic.RequiresUTF8(field(kitchen, "byt")))

	sources := map[string]string{"ed.proto": `
edition = "2023";
package ed;
option features.utf8_validation = NONE;
message Loose {
  string any_bytes = 1;
  string checked = 2 [features.utf8_validation = VERIFY];
}
`}
	compiler := &schema.SourceCompiler{Accessor: schema.MapAccessor(sources)}
	pool, err := schema.CompileAndLoad(context.Background(), compiler, "ed.proto", nil)
	require.NoError(t, err)
	loose, err := pool.FindMessage("ed.Loose")
	require.NoError(t, err)
	require.False(t, dynamic.RequiresUTF8(field(loose, "any_bytes")))
	require.True(t, dynamic.RequiresUTF8(field(loose, "checked")))
}
