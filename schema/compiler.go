package schema

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jhump/protocodec/codecerr"
)

// Compiler produces a serialized FileDescriptorSet for a schema source file.
// The artifact must include every file the source transitively imports, so
// that Load can link it without further resolution.
type Compiler interface {
	Compile(ctx context.Context, source string, importPaths []string) ([]byte, error)
}

// CompileAndLoad compiles the given source with c and loads the result into
// a pool.
func CompileAndLoad(ctx context.Context, c Compiler, source string, importPaths []string) (*Pool, error) {
	artifact, err := c.Compile(ctx, source, importPaths)
	if err != nil {
		return nil, err
	}
	return Load(artifact)
}

// Protoc compiles schemas by running the protoc binary.
type Protoc struct {
	// Path is the protoc executable. If empty, "protoc" is looked up in
	// $PATH.
	Path string
	// TempDir is where the descriptor set artifact is written before it is
	// read back. If empty, os.TempDir() is used.
	TempDir string
}

var _ Compiler = (*Protoc)(nil)

func (p *Protoc) binary() string {
	if p.Path != "" {
		return p.Path
	}
	return "protoc"
}

// Compile implements Compiler. Failures to run protoc, and any nonzero exit,
// are reported as errors wrapping codecerr.ErrSchemaCompilationFailed that
// include protoc's stderr verbatim.
func (p *Protoc) Compile(ctx context.Context, source string, importPaths []string) ([]byte, error) {
	if err := p.checkVersion(ctx); err != nil {
		return nil, err
	}

	dir := p.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	descriptorPath := filepath.Join(dir, uuid.New().String())
	defer func() {
		_ = os.Remove(descriptorPath)
	}()

	args := []string{source}
	for _, path := range importPaths {
		args = append(args, "--proto_path", path)
	}
	args = append(args, "--include_imports", "--descriptor_set_out", descriptorPath)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.binary(), args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed,
				"failed to compile descriptor set file using protoc - stderr:%s", strings.ToValidUTF8(stderr.String(), "�"))
		}
		return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "failed to run %s: %v", p.binary(), err)
	}

	artifact, err := os.ReadFile(descriptorPath)
	if err != nil {
		return nil, codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "could not read descriptor set written by protoc: %v", err)
	}
	return artifact, nil
}

func (p *Protoc) checkVersion(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, p.binary(), "--version").CombinedOutput()
	if err != nil {
		return codecerr.Errorf(codecerr.ErrSchemaCompilationFailed, "failed to run `%s --version`: %v: %s", p.binary(), err, bytes.TrimSpace(out))
	}
	return nil
}
