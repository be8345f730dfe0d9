package jsoncodec

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Resolver resolves the message types named by google.protobuf.Any values.
// *schema.Pool implements this interface.
type Resolver interface {
	FindMessageByURL(url string) (protoreflect.MessageDescriptor, error)
}

// Option configures Marshal and Unmarshal.
type Option func(*options)

type options struct {
	jsonNames bool
	indent    string
	resolver  Resolver
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithJSONNames makes Marshal name fields by their JSON (camelCase) names
// instead of the names declared in the schema. Unmarshal always accepts both.
func WithJSONNames() Option {
	return func(o *options) {
		o.jsonNames = true
	}
}

// WithIndent makes Marshal emit each object member and array element on its
// own line, indented by one copy of the given string per level of nesting.
// An empty string means compact output, which is the default.
func WithIndent(indent string) Option {
	return func(o *options) {
		o.indent = indent
	}
}

// WithResolver provides the resolver used for google.protobuf.Any values. If
// absent, any Any value that names a type fails to convert.
func WithResolver(r Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}
