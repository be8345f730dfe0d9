// Package testprotos provides schemas used by tests throughout this module.
// They are compiled in-process, so tests do not need protoc.
package testprotos

import (
	"context"
	"sync"

	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/schema"
)

// Sources holds the test schema files, keyed by path.
var Sources = map[string]string{
	"test/point.proto": `
syntax = "proto3";
package test;

message Point {
  int32 x = 1;
  int32 y = 2;
}
`,
	"test/kitchen.proto": `
syntax = "proto3";
package test;

import "test/point.proto";
import "google/protobuf/any.proto";
import "google/protobuf/duration.proto";
import "google/protobuf/empty.proto";
import "google/protobuf/field_mask.proto";
import "google/protobuf/struct.proto";
import "google/protobuf/timestamp.proto";
import "google/protobuf/wrappers.proto";

enum Color {
  COLOR_UNSPECIFIED = 0;
  RED = 1;
  GREEN = 2;
  BLUE = 3;
}

message Kitchen {
  int32 i32 = 1;
  int64 i64 = 2;
  uint32 u32 = 3;
  uint64 u64 = 4;
  sint32 s32 = 5;
  sint64 s64 = 6;
  fixed32 f32 = 7;
  fixed64 f64 = 8;
  sfixed32 sf32 = 9;
  sfixed64 sf64 = 10;
  float fl = 11;
  double db = 12;
  bool b = 13;
  string str = 14;
  bytes byt = 15;
  Color color = 16;
  Point point = 17;
  repeated int32 nums = 18;
  repeated string names = 19;
  map<string, int32> counts = 20;
  map<int32, Point> points = 21;
  repeated Point point_list = 22;
  oneof choice {
    string text = 23;
    int64 number = 24;
  }
  repeated int32 unpacked = 25 [packed = false];
  optional int32 maybe = 26;
  Kitchen child = 27;
  map<bool, string> flags = 28;
  repeated Color colors = 29;
  repeated double doubles = 30;
  map<uint64, bytes> blobs = 31;
  map<sint64, Color> shades = 32;

  google.protobuf.Timestamp ts = 40;
  google.protobuf.Duration dur = 41;
  google.protobuf.Int32Value wrapped_int = 42;
  google.protobuf.StringValue wrapped_str = 43;
  google.protobuf.Struct st = 44;
  google.protobuf.Value val = 45;
  google.protobuf.ListValue lv = 46;
  google.protobuf.FieldMask mask = 47;
  google.protobuf.Any any = 48;
  google.protobuf.Empty empty = 49;
  google.protobuf.BytesValue wrapped_bytes = 50;
  google.protobuf.Int64Value wrapped_i64 = 51;
  google.protobuf.NullValue nothing = 52;
}
`,
	"test/tree.proto": `
syntax = "proto3";
package test.tree;

message Node {
  string name = 1;
  repeated Node children = 2;
  Leaf leaf = 3;
}

message Leaf {
  Node back = 1;
  double weight = 2;
}
`,
	"test/legacy.proto": `
syntax = "proto2";
package test.legacy;

enum Size {
  SMALL = 0;
  LARGE = 1;
}

message Legacy {
  optional Size size = 1;
  repeated Size sizes = 2;
  optional group Data = 3 {
    optional int32 v = 4;
  }
  optional int32 with_default = 5 [default = 42];
  repeated int32 packed_nums = 6 [packed = true];
  optional string name = 7;
  repeated fixed64 stamps = 8;
}
`,
}

// AllFile imports every other test file, so compiling it yields a
// descriptor set with all of the test schemas.
const AllFile = "test/all.proto"

func init() {
	Sources[AllFile] = `
syntax = "proto3";
package test;

import "test/kitchen.proto";
import "test/tree.proto";
import "test/legacy.proto";
`
}

var (
	poolOnce sync.Once
	pool     *schema.Pool
	poolErr  error
)

// Compiler returns a compiler that serves Sources from memory.
func Compiler() *schema.SourceCompiler {
	return &schema.SourceCompiler{Accessor: schema.MapAccessor(Sources)}
}

// Artifact compiles the given root file and returns the serialized
// descriptor set.
func Artifact(file string) ([]byte, error) {
	return Compiler().Compile(context.Background(), file, nil)
}

// LoadPool returns a pool with all of the test schemas. The pool is compiled
// once and shared.
func LoadPool() (*schema.Pool, error) {
	poolOnce.Do(func() {
		var fds []byte
		fds, poolErr = Artifact(AllFile)
		if poolErr != nil {
			return
		}
		pool, poolErr = schema.Load(fds)
	})
	return pool, poolErr
}

// MustFindMessage returns the named message from the shared test pool. It
// panics if the pool cannot be loaded or the message does not exist.
func MustFindMessage(name string) protoreflect.MessageDescriptor {
	p, err := LoadPool()
	if err != nil {
		panic(err)
	}
	md, err := p.FindMessage(name)
	if err != nil {
		panic(err)
	}
	return md
}
