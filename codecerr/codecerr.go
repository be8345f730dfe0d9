// Package codecerr defines the categories of errors produced while compiling
// schemas and converting messages between the textual and binary formats.
//
// Errors returned by this module wrap exactly one of the sentinel values
// below, so callers can test the category with errors.Is or with KindOf.
// The wrapping message carries the context (field name, tag number, path)
// that identifies the offending input.
package codecerr

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaCompilationFailed indicates the schema compiler was not
	// available or reported errors. The wrapping error contains the
	// compiler's diagnostics verbatim.
	ErrSchemaCompilationFailed = errors.New("schema compilation failed")
	// ErrMalformedSchema indicates the compiled artifact is not a valid
	// descriptor set.
	ErrMalformedSchema = errors.New("malformed schema")
	// ErrUnknownMessage indicates the requested message type is not in the
	// descriptor pool.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrTruncatedOrCorruptInput indicates binary input with an invalid
	// varint, wire type, or length prefix.
	ErrTruncatedOrCorruptInput = errors.New("truncated or corrupt input")
	// ErrWireTypeMismatch indicates a binary record whose wire type is not
	// compatible with the kind of the field it names.
	ErrWireTypeMismatch = errors.New("wire type mismatch")
	// ErrUnknownField indicates textual input naming a field that does not
	// exist.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnknownEnumSymbol indicates textual input naming an enum value that
	// does not exist.
	ErrUnknownEnumSymbol = errors.New("unknown enum symbol")
	// ErrTypeMismatch indicates a value whose shape conflicts with the field
	// it is assigned to.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrTrailingData indicates textual input with content after the
	// document.
	ErrTrailingData = errors.New("trailing data")
	// ErrSyntax indicates textual input that is not well-formed.
	ErrSyntax = errors.New("syntax error")
)

// Kind identifies the category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindSchemaCompilationFailed
	KindMalformedSchema
	KindUnknownMessage
	KindTruncatedOrCorruptInput
	KindWireTypeMismatch
	KindUnknownField
	KindUnknownEnumSymbol
	KindTypeMismatch
	KindTrailingData
	KindSyntax
)

var kinds = []struct {
	kind Kind
	err  error
	name string
}{
	{KindSchemaCompilationFailed, ErrSchemaCompilationFailed, "SchemaCompilationFailed"},
	{KindMalformedSchema, ErrMalformedSchema, "MalformedSchema"},
	{KindUnknownMessage, ErrUnknownMessage, "UnknownMessage"},
	{KindTruncatedOrCorruptInput, ErrTruncatedOrCorruptInput, "TruncatedOrCorruptInput"},
	{KindWireTypeMismatch, ErrWireTypeMismatch, "WireTypeMismatch"},
	{KindUnknownField, ErrUnknownField, "UnknownField"},
	{KindUnknownEnumSymbol, ErrUnknownEnumSymbol, "UnknownEnumSymbol"},
	{KindTypeMismatch, ErrTypeMismatch, "TypeMismatch"},
	{KindTrailingData, ErrTrailingData, "TrailingData"},
	{KindSyntax, ErrSyntax, "Syntax"},
}

// KindOf returns the category of the given error, or KindUnknown if it does
// not wrap any of the sentinels in this package.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	for _, entry := range kinds {
		if entry.kind == k {
			return entry.name
		}
	}
	return "Unknown"
}

// Sentinel returns the sentinel error for the given kind, or nil for
// KindUnknown.
func (k Kind) Sentinel() error {
	for _, entry := range kinds {
		if entry.kind == k {
			return entry.err
		}
	}
	return nil
}

// Errorf formats an error that wraps the given sentinel. The sentinel's text
// is prefixed to the formatted message.
func Errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
