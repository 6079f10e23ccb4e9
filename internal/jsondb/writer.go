package jsondb

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// recordWriter rebuilds JSON from records sorted by path, relative to a base
// stored path. It keeps only the stack of open containers, never the tree.
type recordWriter struct {
	base   string
	opts   *GetOptions
	gen    *generator
	logger *slog.Logger

	frames   []writerFrame
	started  bool
	done     bool
	rootKind byte // 0 until a record is seen, then '{' or '['.

	firstSegs int
	lastFirst string
}

// writerFrame is an open container. seg is the stored segment naming it in
// its parent; the outermost frame has none.
type writerFrame struct {
	seg   string
	array bool
	next  int
}

func newRecordWriter(w io.Writer, base string, opts *GetOptions, logger *slog.Logger) *recordWriter {
	if opts == nil {
		opts = &GetOptions{}
	}
	rw := &recordWriter{base: base, opts: opts, gen: newGenerator(w, opts.PrettyPrint), logger: logger}
	if opts.Callback != "" {
		rw.gen.writeString(opts.Callback + "(")
	}
	return rw
}

// write consumes one record. It returns false once no further record can
// change the output.
func (rw *recordWriter) write(ctx context.Context, r Record) (bool, error) {
	if rw.done {
		return false, nil
	}
	rel := strings.TrimPrefix(r.Path, rw.base)
	segs := splitDBPath(rel)
	if len(segs) == 0 {
		// A leaf at the base itself.
		v, err := DecodeValue(r.Value)
		if err != nil {
			return false, err
		}
		if rw.started {
			return false, corrupt("scalar at %q mixed with children", r.Path)
		}
		rw.started = true
		rw.gen.scalar(v)
		rw.done = true
		return false, nil
	}
	if rw.rootKind == 0 {
		rw.rootKind = '{'
		if isArraySegment(segs[0]) {
			rw.rootKind = '['
		}
	}

	if rw.opts.LimitToFirst != nil {
		if segs[0] != rw.lastFirst || rw.firstSegs == 0 {
			rw.firstSegs++
			rw.lastFirst = segs[0]
		}
		if rw.firstSegs > *rw.opts.LimitToFirst {
			rw.done = true
			return false, nil
		}
	}
	if rw.opts.Depth != nil && len(segs) > *rw.opts.Depth {
		return true, nil
	}

	v, err := DecodeValue(r.Value)
	if err != nil {
		rw.logger.WarnContext(ctx, "jsondb: skipping corrupt record", "path", r.Path, "err", err)
		return true, nil
	}

	if !rw.started {
		rw.started = true
		rw.frames = append(rw.frames, writerFrame{array: isArraySegment(segs[0])})
		if rw.frames[0].array {
			rw.gen.beginArray()
		} else {
			rw.gen.beginObject()
		}
	}

	// Frames 1..n match segs[0..n-1].
	matched := 1
	for matched < len(rw.frames) && matched-1 < len(segs)-1 && rw.frames[matched].seg == segs[matched-1] {
		matched++
	}
	rw.closeTo(matched)

	// The container kinds along a stored path are fixed by the segments, a
	// mismatch means rows of two different documents overlap.
	for i := len(rw.frames) - 1; i < len(segs)-1; i++ {
		if !rw.key(segs[i]) {
			rw.logger.WarnContext(ctx, "jsondb: skipping inconsistent record", "path", r.Path)
			return true, nil
		}
		child := writerFrame{seg: segs[i], array: isArraySegment(segs[i+1])}
		rw.frames = append(rw.frames, child)
		if child.array {
			rw.gen.beginArray()
		} else {
			rw.gen.beginObject()
		}
	}
	if !rw.key(segs[len(segs)-1]) {
		rw.logger.WarnContext(ctx, "jsondb: skipping inconsistent record", "path", r.Path)
		return true, nil
	}
	rw.gen.scalar(v)
	return true, nil
}

// key positions the generator for the value of seg in the innermost frame.
func (rw *recordWriter) key(seg string) bool {
	f := &rw.frames[len(rw.frames)-1]
	if f.array != isArraySegment(seg) {
		return false
	}
	if !f.array {
		rw.gen.fieldName(seg)
		return true
	}
	idx, err := DecodeArrayIndex(seg)
	if err != nil {
		return false
	}
	if rw.fillGaps() {
		// Positions missing from storage are written as null so that
		// positions are preserved.
		for f.next < idx {
			rw.gen.scalar(nil)
			f.next++
		}
	}
	f.next = idx + 1
	return true
}

// fillGaps reports whether the innermost array holds every stored element,
// so that a missing position is a hole in storage rather than an element
// left out by the options. Depth can omit elements at any level; the window
// and the filter only select among the top level children.
func (rw *recordWriter) fillGaps() bool {
	o := rw.opts
	if o.Order == Descending || o.Depth != nil {
		return false
	}
	if len(rw.frames) == 1 {
		return o.StartAt == "" && o.StartAfter == "" && o.EndAt == "" && o.EndBefore == "" && o.Filter == nil
	}
	return true
}

// closeTo closes frames until n remain.
func (rw *recordWriter) closeTo(n int) {
	for len(rw.frames) > n {
		f := rw.frames[len(rw.frames)-1]
		rw.frames = rw.frames[:len(rw.frames)-1]
		if f.array {
			rw.gen.endArray()
		} else {
			rw.gen.endObject()
		}
	}
}

// finish closes every open container and flushes. When every record was
// pruned the output is an empty container of the requested node's kind.
func (rw *recordWriter) finish() error {
	if !rw.started {
		if rw.rootKind == '[' {
			rw.gen.beginArray()
			rw.gen.endArray()
		} else {
			rw.gen.beginObject()
			rw.gen.endObject()
		}
	}
	rw.closeTo(0)
	if rw.opts.Callback != "" {
		rw.gen.writeString(")")
	}
	return rw.gen.flush()
}

// Unflatten returns the JSON text of records, which must be sorted by path in
// the order requested by opts. It returns nil when records is empty.
func Unflatten(base Path, records []Record, opts *GetOptions) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	var b strings.Builder
	rw := newRecordWriter(&b, base.dbPath(), opts, slog.Default())
	for _, r := range records {
		more, err := rw.write(context.Background(), r)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
	}
	if err := rw.finish(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
