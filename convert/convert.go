// Package convert ties the schema registry and the two codecs together: it
// converts a document between protobuf JSON and the binary wire format for
// a message type named in a compiled schema.
package convert

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/jhump/protocodec/codec"
	"github.com/jhump/protocodec/jsoncodec"
	"github.com/jhump/protocodec/schema"
)

// Direction says which way a conversion goes.
type Direction int

const (
	// DirectionEncode converts JSON to the binary wire format.
	DirectionEncode Direction = iota + 1
	// DirectionDecode converts the binary wire format to JSON.
	DirectionDecode
)

func (d Direction) String() string {
	switch d {
	case DirectionEncode:
		return "encode"
	case DirectionDecode:
		return "decode"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection parses "encode" or "decode", ignoring case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "encode":
		return DirectionEncode, nil
	case "decode":
		return DirectionDecode, nil
	default:
		return 0, fmt.Errorf("invalid direction %q: must be encode or decode", s)
	}
}

// Encode parses the given JSON document as a message of type md and
// returns its binary encoding.
func Encode(ctx context.Context, md protoreflect.MessageDescriptor, input []byte, opts ...jsoncodec.Option) ([]byte, error) {
	m, err := jsoncodec.Unmarshal(input, md, opts...)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Trace().Str("message", string(md.FullName())).Msg("parsed JSON input")
	return codec.Marshal(m)
}

// Decode parses the given binary data as a message of type md and returns
// its JSON form.
func Decode(ctx context.Context, md protoreflect.MessageDescriptor, input []byte, opts ...jsoncodec.Option) ([]byte, error) {
	m, err := codec.Unmarshal(input, md)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Trace().
		Str("message", string(md.FullName())).
		Int("unknownFields", len(m.UnknownFields())).
		Msg("parsed binary input")
	return jsoncodec.Marshal(m, opts...)
}

// Loader compiles and loads schemas. *schema.Cache is a Loader.
type Loader interface {
	Load(ctx context.Context, source string, importPaths []string) (*schema.Pool, error)
}

// Request describes one conversion.
type Request struct {
	Direction   Direction
	Source      string
	ImportPaths []string
	MessageName string
}

// Driver runs conversions from a reader to a writer.
type Driver struct {
	Loader Loader
	// TextOptions are passed to the JSON codec, after a resolver for the
	// loaded schema.
	TextOptions []jsoncodec.Option
}

// Run reads all of in, converts it as described by req, and writes the
// result to out. The output is written in a single call, and only after
// every stage has succeeded, so a failed conversion writes nothing.
func (d *Driver) Run(ctx context.Context, req Request, in io.Reader, out io.Writer) error {
	logger := log.Ctx(ctx).With().
		Str("direction", req.Direction.String()).
		Str("message", req.MessageName).
		Logger()

	input, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	logger.Debug().Int("bytes", len(input)).Msg("read input")

	pool, err := d.Loader.Load(ctx, req.Source, req.ImportPaths)
	if err != nil {
		return err
	}
	logger.Debug().Str("source", req.Source).Strs("importPaths", req.ImportPaths).Msg("loaded schema")

	md, err := pool.FindMessage(req.MessageName)
	if err != nil {
		if similar := pool.SimilarMessages(req.MessageName); len(similar) > 0 {
			names := make([]string, len(similar))
			for i, name := range similar {
				names[i] = string(name)
			}
			return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(names, ", "))
		}
		return err
	}

	opts := append([]jsoncodec.Option{jsoncodec.WithResolver(pool)}, d.TextOptions...)
	var output []byte
	switch req.Direction {
	case DirectionEncode:
		output, err = Encode(ctx, md, input, opts...)
	case DirectionDecode:
		output, err = Decode(ctx, md, input, opts...)
	default:
		return fmt.Errorf("invalid direction: %v", req.Direction)
	}
	if err != nil {
		return err
	}

	if _, err := out.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	logger.Debug().Int("bytes", len(output)).Msg("wrote output")
	return nil
}
