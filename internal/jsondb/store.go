package jsondb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// insertBatch is the number of rows per INSERT statement.
const insertBatch = 100

// Store is a JSON document tree persisted in the jsondb table. It is safe for
// concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	indexes *IndexSet
	keys    *KeyGenerator
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIndexes declares the indexed properties. Filters and fast property
// lookups require an index.
func WithIndexes(indexes ...Index) Option {
	return func(s *Store) { s.indexes = NewIndexSet(indexes...) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyGenerator sets the push key generator. Defaults to a process-wide
// generator.
func WithKeyGenerator(g *KeyGenerator) Option {
	return func(s *Store) { s.keys = g }
}

// WithDialect skips the dialect probe.
func WithDialect(d Dialect) Option {
	return func(s *Store) { s.dialect = d }
}

// New returns a Store on db. The dialect is probed once unless WithDialect
// is given.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, keys: &defaultKeys, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.dialect == nil {
		d, err := ProbeDialect(ctx, db)
		if err != nil {
			return nil, err
		}
		s.dialect = d
	}
	if s.indexes == nil {
		s.indexes = NewIndexSet()
	}
	s.logger.DebugContext(ctx, "jsondb: opened", "dialect", s.dialect.Name(), "indexes", len(s.indexes.names))
	return s, nil
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Indexes returns the declared indexes.
func (s *Store) Indexes() *IndexSet {
	return s.indexes
}

// CreateTables creates the jsondb table and its index if missing.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, stmt := range s.dialect.CreateTables() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storage("create tables", err)
		}
	}
	return nil
}

// DropTables drops the jsondb table.
func (s *Store) DropTables(ctx context.Context) error {
	for _, stmt := range s.dialect.DropTables() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storage("drop tables", err)
		}
	}
	return nil
}

// CreateKey returns a new push key.
func (s *Store) CreateKey() string {
	return s.keys.CreateKey()
}

// Exists reports whether anything is stored at or below path.
func (s *Store) Exists(ctx context.Context, path string) (ok bool, err error) {
	defer observe("exists", time.Now(), &err)
	p, err := ParsePath(path)
	if err != nil {
		return false, err
	}
	return s.session(s.db).exists(ctx, p)
}

// Delete removes the subtree at path. It reports whether anything was
// removed.
func (s *Store) Delete(ctx context.Context, path string) (deleted bool, err error) {
	defer observe("delete", time.Now(), &err)
	p, err := ParsePath(path)
	if err != nil {
		return false, err
	}
	err = s.inTx(ctx, func(x session) error {
		deleted, err = x.delete(ctx, p)
		return err
	})
	return deleted, err
}

// Set replaces the subtree at path with the JSON document read from body.
func (s *Store) Set(ctx context.Context, path string, body io.Reader) (err error) {
	defer observe("set", time.Now(), &err)
	op, err := s.prepareSet(path, body)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(x session) error {
		return x.write(ctx, op)
	})
}

// Update merges the JSON object read from body into path. Each member of
// the object replaces the subtree at path/<member>; other children survive.
// Member names may be relative paths such as "props/city".
func (s *Store) Update(ctx context.Context, path string, body io.Reader) (err error) {
	defer observe("update", time.Now(), &err)
	ops, err := s.prepareUpdate(path, body)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(x session) error {
		return x.write(ctx, ops...)
	})
}

// Push stores body under a new key below path and returns the key.
func (s *Store) Push(ctx context.Context, path string, body io.Reader) (key string, err error) {
	defer observe("push", time.Now(), &err)
	op, key, err := s.preparePush(path, body)
	if err != nil {
		return "", err
	}
	err = s.inTx(ctx, func(x session) error {
		return x.write(ctx, op)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Get returns a Stream over the subtree at path, or nil when nothing
// matches. The caller must call WriteTo or Close on the Stream.
func (s *Store) Get(ctx context.Context, path string, opts *GetOptions) (st *Stream, err error) {
	defer observe("get", time.Now(), &err)
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return s.session(s.db).get(ctx, p, opts)
}

// GetBytes returns the JSON at path, or nil when nothing matches.
func (s *Store) GetBytes(ctx context.Context, path string, opts *GetOptions) ([]byte, error) {
	st, err := s.Get(ctx, path, opts)
	return readStream(st, err)
}

// GetString returns the JSON at path. ok is false when nothing matches.
func (s *Store) GetString(ctx context.Context, path string, opts *GetOptions) (string, bool, error) {
	b, err := s.GetBytes(ctx, path, opts)
	return string(b), b != nil, err
}

// SetBytes is Set with an in-memory document.
func (s *Store) SetBytes(ctx context.Context, path string, body []byte) error {
	return s.Set(ctx, path, bytes.NewReader(body))
}

// SetString is Set with an in-memory document.
func (s *Store) SetString(ctx context.Context, path, body string) error {
	return s.Set(ctx, path, strings.NewReader(body))
}

// UpdateBytes is Update with an in-memory document.
func (s *Store) UpdateBytes(ctx context.Context, path string, body []byte) error {
	return s.Update(ctx, path, bytes.NewReader(body))
}

// UpdateString is Update with an in-memory document.
func (s *Store) UpdateString(ctx context.Context, path, body string) error {
	return s.Update(ctx, path, strings.NewReader(body))
}

// PushBytes is Push with an in-memory document.
func (s *Store) PushBytes(ctx context.Context, path string, body []byte) (string, error) {
	return s.Push(ctx, path, bytes.NewReader(body))
}

// PushString is Push with an in-memory document.
func (s *Store) PushString(ctx context.Context, path, body string) (string, error) {
	return s.Push(ctx, path, strings.NewReader(body))
}

// FetchIDsByPropertyValue returns the keys of the children of collection
// whose property equals value. The declared index is used when there is one;
// otherwise the collection is scanned.
func (s *Store) FetchIDsByPropertyValue(ctx context.Context, collection, property string, value any) (ids map[string]struct{}, err error) {
	defer observe("fetch_ids", time.Now(), &err)
	coll, err := ParsePath(collection)
	if err != nil {
		return nil, err
	}
	return s.session(s.db).fetchIDs(ctx, coll, property, value)
}

func (s *Store) session(q querier) session {
	return session{s: s, q: q}
}

// inTx runs fn in a transaction committed when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(x session) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage("begin transaction", err)
	}
	if err := fn(s.session(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storage("commit", err)
	}
	return nil
}

// writeOp replaces the subtree at path with records.
type writeOp struct {
	path    Path
	records []Record
}

func (s *Store) prepareSet(path string, body io.Reader) (writeOp, error) {
	p, err := ParsePath(path)
	if err != nil {
		return writeOp{}, err
	}
	records, err := Flatten(p, body, s.indexes)
	if err != nil {
		return writeOp{}, err
	}
	return writeOp{path: p, records: records}, nil
}

func (s *Store) preparePush(path string, body io.Reader) (writeOp, string, error) {
	p, err := ParsePath(path)
	if err != nil {
		return writeOp{}, "", err
	}
	key := s.keys.CreateKey()
	child, err := p.Child(key)
	if err != nil {
		return writeOp{}, "", err
	}
	records, err := Flatten(child, body, s.indexes)
	if err != nil {
		return writeOp{}, "", err
	}
	return writeOp{path: child, records: records}, key, nil
}

// prepareUpdate flattens every member of the object in body. Nothing is
// written if any member is invalid.
func (s *Store) prepareUpdate(path string, body io.Reader) ([]writeOp, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	dec := newDecoder(body)
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, invalidDocument(err)
	}
	if tok != json.Delim('{') {
		return nil, invalidDocument(fmt.Errorf("update requires an object, got %v", tok))
	}
	var ops []writeOp
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, invalidDocument(err)
		}
		if tok == json.Delim('}') {
			break
		}
		member, ok := tok.(string)
		if !ok {
			return nil, invalidDocument(fmt.Errorf("unexpected token %v", tok))
		}
		target, err := p.Join(member)
		if err != nil {
			return nil, err
		}
		if tok, err = dec.Token(); err != nil {
			return nil, invalidDocument(err)
		}
		f := flattener{dec: dec, indexes: s.indexes}
		if err := f.value(target.dbPath(), tok); err != nil {
			return nil, err
		}
		ops = append(ops, writeOp{path: target, records: f.records})
	}
	if err := expectEOF(dec); err != nil {
		return nil, err
	}
	return ops, nil
}

func readStream(st *Stream, err error) ([]byte, error) {
	if err != nil || st == nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := st.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
