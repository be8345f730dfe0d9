// Package schema loads compiled descriptor sets and resolves message types by
// name.
//
// A Pool is built from the serialized form of a
// google.protobuf.FileDescriptorSet that already contains every file the
// schema transitively imports. Producing that artifact is the job of a
// Compiler: Protoc invokes the external protoc binary, and SourceCompiler
// compiles sources in-process.
//
// A Pool is immutable once loaded and may be shared by any number of
// goroutines.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/jhump/protocodec/codecerr"
)

// Pool is an indexed, read-only collection of descriptors resolved from one
// compiled schema artifact. Every message and enum type referenced by a field
// in the pool is defined in the pool.
type Pool struct {
	files    *protoregistry.Files
	messages map[protoreflect.FullName]protoreflect.MessageDescriptor
	enums    map[protoreflect.FullName]protoreflect.EnumDescriptor
	fields   map[protoreflect.FullName]protoreflect.FieldDescriptor
}

// Load decodes a serialized FileDescriptorSet and links its files into a
// pool. It returns an error wrapping codecerr.ErrMalformedSchema if the bytes
// are not a valid descriptor set or if the files reference types that are not
// in the set.
func Load(artifact []byte) (*Pool, error) {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(artifact, &fds); err != nil {
		return nil, codecerr.Errorf(codecerr.ErrMalformedSchema, "could not parse descriptor set: %v", err)
	}
	return FromFileDescriptorSet(&fds)
}

// FromFileDescriptorSet links the files in the given set into a pool.
func FromFileDescriptorSet(fds *descriptorpb.FileDescriptorSet) (*Pool, error) {
	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, codecerr.Errorf(codecerr.ErrMalformedSchema, "could not link descriptor set: %v", err)
	}
	return FromFiles(files), nil
}

// FromFiles returns a pool that indexes the given files. After creating the
// pool, callers must not register any additional files with files.
func FromFiles(files *protoregistry.Files) *Pool {
	p := &Pool{
		files:    files,
		messages: map[protoreflect.FullName]protoreflect.MessageDescriptor{},
		enums:    map[protoreflect.FullName]protoreflect.EnumDescriptor{},
		fields:   map[protoreflect.FullName]protoreflect.FieldDescriptor{},
	}
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		p.index(fd)
		return true
	})
	return p
}

// typeContainer is implemented by file and message descriptors.
type typeContainer interface {
	Messages() protoreflect.MessageDescriptors
	Enums() protoreflect.EnumDescriptors
}

func (p *Pool) index(container typeContainer) {
	enums := container.Enums()
	for i, length := 0, enums.Len(); i < length; i++ {
		ed := enums.Get(i)
		p.enums[ed.FullName()] = ed
	}
	msgs := container.Messages()
	for i, length := 0, msgs.Len(); i < length; i++ {
		md := msgs.Get(i)
		p.messages[md.FullName()] = md
		fields := md.Fields()
		for j, numFields := 0, fields.Len(); j < numFields; j++ {
			fld := fields.Get(j)
			p.fields[fld.FullName()] = fld
		}
		p.index(md)
	}
}

// Files returns the registry of files in this pool. It must not be modified.
func (p *Pool) Files() *protoregistry.Files {
	return p.files
}

func normalizeName(name string) protoreflect.FullName {
	return protoreflect.FullName(strings.TrimPrefix(name, "."))
}

// FindMessage returns the message type with the given fully-qualified name.
// A leading dot is permitted. It returns an error wrapping
// codecerr.ErrUnknownMessage if the pool has no such message.
func (p *Pool) FindMessage(name string) (protoreflect.MessageDescriptor, error) {
	md := p.messages[normalizeName(name)]
	if md == nil {
		return nil, codecerr.Errorf(codecerr.ErrUnknownMessage, "no descriptor found for message %q", name)
	}
	return md, nil
}

// FindMessageByName is like FindMessage but accepts a full name. It lets a
// pool be used where a resolver of message types is required.
func (p *Pool) FindMessageByName(name protoreflect.FullName) (protoreflect.MessageDescriptor, error) {
	return p.FindMessage(string(name))
}

// FindMessageByURL returns the message type named by the given type URL, as
// found in google.protobuf.Any. Only the portion after the last slash is
// considered.
func (p *Pool) FindMessageByURL(url string) (protoreflect.MessageDescriptor, error) {
	name := url
	if pos := strings.LastIndexByte(url, '/'); pos >= 0 {
		name = url[pos+1:]
	}
	if name == "" {
		return nil, codecerr.Errorf(codecerr.ErrUnknownMessage, "invalid type URL %q", url)
	}
	return p.FindMessage(name)
}

// FindEnum returns the enum type with the given fully-qualified name.
func (p *Pool) FindEnum(name string) (protoreflect.EnumDescriptor, error) {
	ed := p.enums[normalizeName(name)]
	if ed == nil {
		return nil, fmt.Errorf("no descriptor found for enum %q", name)
	}
	return ed, nil
}

// FindField returns the field with the given fully-qualified name, for
// example "pkg.Message.field".
func (p *Pool) FindField(name string) (protoreflect.FieldDescriptor, error) {
	fld := p.fields[normalizeName(name)]
	if fld == nil {
		return nil, fmt.Errorf("no descriptor found for field %q", name)
	}
	return fld, nil
}

// Messages returns the names of all message types in the pool, sorted.
// Synthetic map entry messages are excluded.
func (p *Pool) Messages() []protoreflect.FullName {
	names := make([]protoreflect.FullName, 0, len(p.messages))
	for name, md := range p.messages {
		if md.IsMapEntry() {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i] < names[j]
	})
	return names
}

// SimilarMessages returns names of messages in the pool whose simple name
// matches that of the given name, ignoring case. It is used to suggest
// alternatives when a message is not found.
func (p *Pool) SimilarMessages(name string) []protoreflect.FullName {
	want := strings.ToLower(string(normalizeName(name).Name()))
	var matches []protoreflect.FullName
	for _, candidate := range p.Messages() {
		if strings.ToLower(string(candidate.Name())) == want {
			matches = append(matches, candidate)
		}
	}
	return matches
}
