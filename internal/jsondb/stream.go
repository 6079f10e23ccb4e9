package jsondb

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
)

// Stream is a pending read. It owns an open result set, released by WriteTo
// or Close, whichever comes first.
type Stream struct {
	ctx    context.Context
	rows   *sql.Rows
	first  Record
	base   string
	opts   *GetOptions
	logger *slog.Logger
	closed bool
}

// WriteTo writes the JSON document to w and releases the result set. The
// result set is released even when writing fails.
func (st *Stream) WriteTo(w io.Writer) (int64, error) {
	if st.closed {
		return 0, storage("stream", sql.ErrTxDone)
	}
	defer func() { _ = st.Close() }()
	cw := &countingWriter{w: w}
	rw := newRecordWriter(cw, st.base, st.opts, st.logger)
	more, err := rw.write(st.ctx, st.first)
	for err == nil && more && st.rows.Next() {
		var r Record
		if err = st.rows.Scan(&r.Path, &r.Value); err != nil {
			err = storage("scan", err)
			break
		}
		more, err = rw.write(st.ctx, r)
	}
	if err != nil {
		return cw.n, err
	}
	if err := st.rows.Err(); err != nil {
		return cw.n, storage("query", err)
	}
	if err := rw.finish(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// Close releases the result set without writing.
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	return st.rows.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
