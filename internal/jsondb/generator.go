package jsondb

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// generator is a streaming JSON writer.
//
// Pretty output uses two spaces per object level and "key" : value pairs.
// Arrays stay on one line as [ a, b ] and do not add a level, so an object
// inside an array opens inline as [ {. Empty containers are written { } and
// [ ]. Compact output has no whitespace. Neither mode writes a trailing
// newline.
type generator struct {
	w       *bufio.Writer
	pretty  bool
	nesting int
	stack   []genFrame
	err     error
}

type genFrame struct {
	array   bool
	entries int
}

func newGenerator(w io.Writer, pretty bool) *generator {
	return &generator{w: bufio.NewWriter(w), pretty: pretty}
}

func (g *generator) writeString(s string) {
	if g.err != nil {
		return
	}
	_, g.err = g.w.WriteString(s)
}

func (g *generator) indent() {
	g.writeString("\n")
	g.writeString(strings.Repeat("  ", g.nesting))
}

// beforeValue writes the separator needed before a value in the current
// context.
func (g *generator) beforeValue() {
	if len(g.stack) == 0 {
		return
	}
	f := &g.stack[len(g.stack)-1]
	if !f.array {
		// Object values follow their field name.
		return
	}
	if f.entries > 0 {
		g.writeString(",")
	}
	if g.pretty {
		g.writeString(" ")
	}
	f.entries++
}

func (g *generator) beginObject() {
	g.beforeValue()
	g.writeString("{")
	g.stack = append(g.stack, genFrame{})
	g.nesting++
}

func (g *generator) endObject() {
	f := g.stack[len(g.stack)-1]
	g.stack = g.stack[:len(g.stack)-1]
	g.nesting--
	if g.pretty {
		if f.entries > 0 {
			g.indent()
		} else {
			g.writeString(" ")
		}
	}
	g.writeString("}")
}

func (g *generator) beginArray() {
	g.beforeValue()
	g.writeString("[")
	g.stack = append(g.stack, genFrame{array: true})
}

func (g *generator) endArray() {
	g.stack = g.stack[:len(g.stack)-1]
	if g.pretty {
		g.writeString(" ")
	}
	g.writeString("]")
}

func (g *generator) fieldName(name string) {
	f := &g.stack[len(g.stack)-1]
	if f.entries > 0 {
		g.writeString(",")
	}
	if g.pretty {
		g.indent()
	}
	g.writeString(quote(name))
	if g.pretty {
		g.writeString(" : ")
	} else {
		g.writeString(":")
	}
	f.entries++
}

// scalar writes a decoded value: nil, bool, json.Number or string.
func (g *generator) scalar(v any) {
	g.beforeValue()
	switch t := v.(type) {
	case nil:
		g.writeString("null")
	case bool:
		if t {
			g.writeString("true")
		} else {
			g.writeString("false")
		}
	case json.Number:
		g.writeString(string(t))
	case string:
		g.writeString(quote(t))
	}
}

func (g *generator) flush() error {
	if g.err != nil {
		return g.err
	}
	return g.w.Flush()
}

// quote returns s as a JSON string literal without HTML escaping.
func quote(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(b.String(), "\n")
}
