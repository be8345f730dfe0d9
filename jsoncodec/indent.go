package jsoncodec

import (
	"bytes"
	"encoding/json"
)

// indentBuffer accumulates JSON output. With an empty unit the output is
// compact; otherwise members and elements go on separate lines.
type indentBuffer struct {
	bytes.Buffer
	unit  string
	depth int
}

// open writes the opening delimiter of an object or array.
func (b *indentBuffer) open(delim byte) {
	b.WriteByte(delim)
}

// next is called before each member or element. The first call after open
// starts the nested block.
func (b *indentBuffer) next(first *bool) {
	if *first {
		*first = false
		if b.unit != "" {
			b.depth++
			b.newLine()
		}
		return
	}
	b.WriteByte(',')
	if b.unit != "" {
		b.newLine()
	}
}

// close writes the closing delimiter. Empty blocks stay on one line.
func (b *indentBuffer) close(delim byte, empty bool) {
	if !empty && b.unit != "" {
		b.depth--
		b.newLine()
	}
	b.WriteByte(delim)
}

func (b *indentBuffer) sep() {
	if b.unit != "" {
		b.WriteString(": ")
	} else {
		b.WriteByte(':')
	}
}

func (b *indentBuffer) newLine() {
	b.WriteByte('\n')
	for i := 0; i < b.depth; i++ {
		b.WriteString(b.unit)
	}
}

func (b *indentBuffer) writeString(s string) {
	var scratch bytes.Buffer
	enc := json.NewEncoder(&scratch)
	enc.SetEscapeHTML(false)
	// encoding a string cannot fail
	_ = enc.Encode(s)
	b.Write(bytes.TrimSuffix(scratch.Bytes(), []byte{'\n'}))
}
