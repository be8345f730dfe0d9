package schema

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bufbuild/protocompile"
	"github.com/bufbuild/protocompile/reporter"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/jhump/protocodec/codecerr"
)

// SourceCompiler compiles schemas in-process, without the protoc binary. The
// standard imports (google/protobuf/*.proto) are always available.
type SourceCompiler struct {
	// Accessor, if non-nil, is used to open source files instead of the
	// file system. Paths given to it are already joined with an import path.
	Accessor func(path string) (io.ReadCloser, error)
}

var _ Compiler = (*SourceCompiler)(nil)

// Compile implements Compiler. The source path must reside under one of the
// import paths (or under the current directory when no import paths are
// given), just as protoc requires. All diagnostics are reported, one per line,
// in an error wrapping codecerr.ErrSchemaCompilationFailed.
func (c *SourceCompiler) Compile(ctx context.Context, source string, importPaths []string) ([]byte, error) {
	if len(importPaths) == 0 {
		importPaths = []string{"."}
	}
	name, err := relativeToImportPath(source, importPaths)
	if err != nil {
		return nil, err
	}

	var diagnostics *multierror.Error
	rep := reporter.NewReporter(
		func(err reporter.ErrorWithPos) error {
			diagnostics = multierror.Append(diagnostics, err)
			// keep going so that all errors are reported
			return nil
		},
		nil,
	)
	compiler := protocompile.Compiler{
		Resolver: protocompile.WithStandardImports(&protocompile.SourceResolver{
			ImportPaths: importPaths,
			Accessor:    c.Accessor,
		}),
		Reporter: rep,
	}
	files, err := compiler.Compile(ctx, name)
	if err != nil {
		if diagnostics != nil {
			diagnostics.ErrorFormat = formatDiagnostics
			return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "%s", diagnostics.Error())
		}
		if errors.Is(err, reporter.ErrInvalidSource) {
			return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "%s: invalid source", source)
		}
		return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "%v", err)
	}

	roots := make([]protoreflect.FileDescriptor, len(files))
	for i, f := range files {
		roots[i] = f
	}
	artifact, err := proto.Marshal(toFileDescriptorSet(roots))
	if err != nil {
		return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "could not serialize descriptor set: %v", err)
	}
	return artifact, nil
}

func formatDiagnostics(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}

// relativeToImportPath maps a source path to the name by which it is known
// relative to the first import path that contains it. Either may be
// absolute or relative to the working directory.
func relativeToImportPath(source string, importPaths []string) (string, error) {
	absSource, err := filepath.Abs(source)
	if err != nil {
		return "", codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "%s: %v", source, err)
	}
	for _, dir := range importPaths {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absDir, absSource)
		if err != nil {
			continue
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return filepath.ToSlash(rel), nil
	}
	return "", codecerr.Errorf(codecerr.ErrSchemaCompilationFailed,
		"%s: File does not reside within any path specified using --proto_path (or -I).", source)
}

// toFileDescriptorSet returns a descriptor set with the given files and all
// of their transitive dependencies. Each file appears after everything it
// imports.
func toFileDescriptorSet(roots []protoreflect.FileDescriptor) *descriptorpb.FileDescriptorSet {
	fds := &descriptorpb.FileDescriptorSet{}
	seen := map[string]struct{}{}
	var add func(fd protoreflect.FileDescriptor)
	add = func(fd protoreflect.FileDescriptor) {
		if _, ok := seen[fd.Path()]; ok {
			return
		}
		seen[fd.Path()] = struct{}{}
		imports := fd.Imports()
		for i, length := 0, imports.Len(); i < length; i++ {
			add(imports.Get(i).FileDescriptor)
		}
		fds.File = append(fds.File, protodesc.ToFileDescriptorProto(fd))
	}
	for _, fd := range roots {
		add(fd)
	}
	return fds
}

// MapAccessor returns an accessor for SourceCompiler that serves sources from
// the given map, keyed by path.
func MapAccessor(sources map[string]string) func(path string) (io.ReadCloser, error) {
	srcs := make(map[string]string, len(sources))
	for path, contents := range sources {
		srcs[filepath.Clean(path)] = contents
	}
	accessor := protocompile.SourceAccessorFromMap(srcs)
	return func(path string) (io.ReadCloser, error) {
		rc, err := accessor(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return rc, nil
	}
}
