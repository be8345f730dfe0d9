package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jhump/protocodec/codecerr"
)

const pointProto = `
syntax = "proto3";
package test;

message Point {
  int32 x = 1;
  int32 y = 2;
}
`

func writeSchema(t *testing.T) string {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "point.proto"), []byte(pointProto), 0o644))
	return dir
}

func execute(t *testing.T, stdin []byte, args ...string) ([]byte, string, error) {
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.Bytes(), stderr.String(), err
}

func TestEncodeAndDecode(t *testing.T) {
	dir := writeSchema(t)
	source := filepath.Join(dir, "point.proto")

	out, _, err := execute(t, []byte(`{"x":3,"y":4}`),
		"--compiler", "builtin", "--path", dir, "--proto", source, "--message", "test.Point", "encode")
	require.NoError(t, err)
	require.Equal(t, []byte{0x08, 0x03, 0x10, 0x04}, out)

	// short flags and an abbreviated subcommand
	out, _, err = execute(t, out,
		"--compiler", "builtin", "--path", dir, "-p", source, "-m", "test.Point", "dec")
	require.NoError(t, err)
	require.Equal(t, `{"x":3,"y":4}`, string(out))
}

func TestPathWithComma(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a,b")
	require.NoError(t, os.Mkdir(dir, 0o755))
	source := filepath.Join(dir, "point.proto")
	require.NoError(t, os.WriteFile(source, []byte(pointProto), 0o644))

	out, _, err := execute(t, []byte(`{"x":1}`),
		"--compiler", "builtin", "--path", dir, "-p", source, "-m", "test.Point", "encode")
	require.NoError(t, err)
	require.Equal(t, []byte{0x08, 0x01}, out)
}

func TestFlagsFromEnvironment(t *testing.T) {
	dir := writeSchema(t)
	t.Setenv("PROTOCODEC_COMPILER", "builtin")
	t.Setenv("PROTOCODEC_PATH", dir)
	t.Setenv("PROTOCODEC_PROTO", filepath.Join(dir, "point.proto"))
	t.Setenv("PROTOCODEC_MESSAGE", "test.Point")

	out, _, err := execute(t, []byte(`{"y":1}`), "enc")
	require.NoError(t, err)
	require.Equal(t, []byte{0x10, 0x01}, out)
}

func TestFailures(t *testing.T) {
	dir := writeSchema(t)
	source := filepath.Join(dir, "point.proto")

	_, _, err := execute(t, []byte(`{"z":1}`),
		"--compiler", "builtin", "--path", dir, "-p", source, "-m", "test.Point", "encode")
	require.ErrorIs(t, err, codecerr.ErrUnknownField)

	out, _, err := execute(t, []byte(`{}`),
		"--compiler", "builtin", "--path", dir, "-p", source, "-m", "test.Nope", "encode")
	require.ErrorIs(t, err, codecerr.ErrUnknownMessage)
	require.Empty(t, out)

	_, _, err = execute(t, nil, "-m", "test.Point", "encode")
	require.ErrorContains(t, err, "required flag --proto")

	_, _, err = execute(t, nil, "--compiler", "javac", "-p", source, "-m", "test.Point", "encode")
	require.ErrorContains(t, err, `invalid --compiler "javac"`)

	_, _, err = execute(t, nil, "--log-level", "loud", "-p", source, "-m", "test.Point", "encode")
	require.ErrorContains(t, err, `invalid --log-level "loud"`)

	_, _, err = execute(t, []byte(`{}`),
		"--protoc", filepath.Join(dir, "no-such-protoc"), "--path", dir, "-p", source, "-m", "test.Point", "encode")
	require.ErrorIs(t, err, codecerr.ErrSchemaCompilationFailed)
}

func TestDebugLogging(t *testing.T) {
	dir := writeSchema(t)
	_, stderr, err := execute(t, []byte(`{}`),
		"--log-level", "debug", "--compiler", "builtin", "--path", dir,
		"-p", filepath.Join(dir, "point.proto"), "-m", "test.Point", "encode")
	require.NoError(t, err)
	require.True(t, strings.Contains(stderr, "loaded schema"), "stderr: %s", stderr)
}
