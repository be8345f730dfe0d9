package jsoncodec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jhump/protocodec/codecerr"
)

// jsReader is a pull parser over a JSON document, with one token of
// lookahead. Numbers are returned as json.Number so that no precision is
// lost before the target field's kind is known.
type jsReader struct {
	dec     *json.Decoder
	current json.Token
	peeked  bool
}

func newReader(data []byte) *jsReader {
	r := &jsReader{dec: json.NewDecoder(bytes.NewReader(data))}
	r.dec.UseNumber()
	return r
}

func syntaxError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return codecerr.Errorf(codecerr.ErrSyntax, "unexpected end of input")
	}
	return codecerr.Errorf(codecerr.ErrSyntax, "%v", err)
}

func (r *jsReader) hasNext() bool {
	if r.peeked {
		return r.current != json.Delim('}') && r.current != json.Delim(']')
	}
	return r.dec.More()
}

func (r *jsReader) peek() (json.Token, error) {
	if r.peeked {
		return r.current, nil
	}
	t, err := r.dec.Token()
	if err != nil {
		return nil, syntaxError(err)
	}
	r.peeked = true
	r.current = t
	return t, nil
}

func (r *jsReader) poll() (json.Token, error) {
	if r.peeked {
		ret := r.current
		r.current = nil
		r.peeked = false
		return ret, nil
	}
	t, err := r.dec.Token()
	if err != nil {
		return nil, syntaxError(err)
	}
	return t, nil
}

// finish verifies that nothing but whitespace follows the document.
func (r *jsReader) finish() error {
	if r.peeked {
		return codecerr.Errorf(codecerr.ErrTrailingData, "unexpected %s after JSON document", describe(r.current))
	}
	t, err := r.dec.Token()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return codecerr.Errorf(codecerr.ErrTrailingData, "unexpected content after JSON document: %v", err)
	}
	return codecerr.Errorf(codecerr.ErrTrailingData, "unexpected %s after JSON document", describe(t))
}

func (r *jsReader) beginObject() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim('{') }, "object")
	return err
}

func (r *jsReader) endObject() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim('}') }, "end of object")
	return err
}

func (r *jsReader) beginArray() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim('[') }, "array")
	return err
}

func (r *jsReader) endArray() error {
	_, err := r.expect(func(t json.Token) bool { return t == json.Delim(']') }, "end of array")
	return err
}

func (r *jsReader) nextObjectKey() (string, error) {
	return r.nextString()
}

func (r *jsReader) nextString() (string, error) {
	t, err := r.expect(func(t json.Token) bool { _, ok := t.(string); return ok }, "string")
	if err != nil {
		return "", err
	}
	return t.(string), nil
}

func (r *jsReader) nextBool() (bool, error) {
	t, err := r.expect(func(t json.Token) bool { _, ok := t.(bool); return ok }, "boolean")
	if err != nil {
		return false, err
	}
	return t.(bool), nil
}

// nextNumber returns the text of the next token, which may be either a
// number or a string.
func (r *jsReader) nextNumber() (string, bool, error) {
	t, err := r.expect(func(t json.Token) bool {
		switch t.(type) {
		case json.Number, string:
			return true
		}
		return false
	}, "number")
	if err != nil {
		return "", false, err
	}
	switch t := t.(type) {
	case json.Number:
		return string(t), false, nil
	default:
		return t.(string), true, nil
	}
}

// readRaw consumes the next value and appends its compact encoding to buf.
func (r *jsReader) readRaw(buf *indentBuffer) error {
	t, err := r.poll()
	if err != nil {
		return err
	}
	switch t := t.(type) {
	case json.Delim:
		switch t {
		case '{':
			buf.open('{')
			first := true
			for r.hasNext() {
				buf.next(&first)
				key, err := r.nextObjectKey()
				if err != nil {
					return err
				}
				buf.writeString(key)
				buf.sep()
				if err := r.readRaw(buf); err != nil {
					return err
				}
			}
			if err := r.endObject(); err != nil {
				return err
			}
			buf.close('}', first)
		case '[':
			buf.open('[')
			first := true
			for r.hasNext() {
				buf.next(&first)
				if err := r.readRaw(buf); err != nil {
					return err
				}
			}
			if err := r.endArray(); err != nil {
				return err
			}
			buf.close(']', first)
		default:
			return codecerr.Errorf(codecerr.ErrSyntax, "unexpected %q", rune(t))
		}
	case string:
		buf.writeString(t)
	case json.Number:
		buf.WriteString(string(t))
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func (r *jsReader) expect(predicate func(json.Token) bool, expected string) (json.Token, error) {
	t, err := r.poll()
	if err != nil {
		return nil, err
	}
	if !predicate(t) {
		return t, codecerr.Errorf(codecerr.ErrTypeMismatch, "expecting %s, got %s", expected, describe(t))
	}
	return t, nil
}

func describe(t json.Token) string {
	switch t := t.(type) {
	case json.Delim:
		switch t {
		case '{':
			return "object"
		case '[':
			return "array"
		}
		return fmt.Sprintf("%q", rune(t))
	case string:
		return fmt.Sprintf("string %q", t)
	case json.Number:
		return "number " + string(t)
	case bool:
		return fmt.Sprintf("boolean %v", t)
	case nil:
		return "null"
	}
	return fmt.Sprintf("%v", t)
}
