package jsondb

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tx groups store operations into one database transaction. A Stream
// returned by Tx.Get must be consumed or closed before the next operation.
type Tx struct {
	s  *Store
	tx *sql.Tx
}

// WithTransaction runs fn in one transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	defer observe("transaction", time.Now(), &err)
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage("begin transaction", err)
	}
	if err := fn(&Tx{s: s, tx: sqlTx}); err != nil {
		if rerr := sqlTx.Rollback(); rerr != nil {
			s.logger.WarnContext(ctx, "jsondb: rollback failed", "err", rerr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return storage("commit", err)
	}
	return nil
}

// WithSavepoint runs fn inside a savepoint of the transaction. When fn fails
// only its changes are rolled back and the transaction stays usable.
func (t *Tx) WithSavepoint(ctx context.Context, fn func(tx *Tx) error) error {
	name := "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return storage("savepoint", err)
	}
	if err := fn(t); err != nil {
		if _, rerr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rerr != nil {
			return storage("rollback to savepoint", rerr)
		}
		if _, rerr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); rerr != nil {
			return storage("release savepoint", rerr)
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return storage("release savepoint", err)
	}
	return nil
}

func (t *Tx) session() session {
	return t.s.session(t.tx)
}

// Exists is Store.Exists within the transaction.
func (t *Tx) Exists(ctx context.Context, path string) (bool, error) {
	p, err := ParsePath(path)
	if err != nil {
		return false, err
	}
	return t.session().exists(ctx, p)
}

// Delete is Store.Delete within the transaction.
func (t *Tx) Delete(ctx context.Context, path string) (bool, error) {
	p, err := ParsePath(path)
	if err != nil {
		return false, err
	}
	return t.session().delete(ctx, p)
}

// Set is Store.Set within the transaction.
func (t *Tx) Set(ctx context.Context, path string, body io.Reader) error {
	op, err := t.s.prepareSet(path, body)
	if err != nil {
		return err
	}
	return t.session().write(ctx, op)
}

// SetString is Set with an in-memory document.
func (t *Tx) SetString(ctx context.Context, path, body string) error {
	return t.Set(ctx, path, strings.NewReader(body))
}

// Update is Store.Update within the transaction.
func (t *Tx) Update(ctx context.Context, path string, body io.Reader) error {
	ops, err := t.s.prepareUpdate(path, body)
	if err != nil {
		return err
	}
	return t.session().write(ctx, ops...)
}

// UpdateString is Update with an in-memory document.
func (t *Tx) UpdateString(ctx context.Context, path, body string) error {
	return t.Update(ctx, path, strings.NewReader(body))
}

// Push is Store.Push within the transaction.
func (t *Tx) Push(ctx context.Context, path string, body io.Reader) (string, error) {
	op, key, err := t.s.preparePush(path, body)
	if err != nil {
		return "", err
	}
	if err := t.session().write(ctx, op); err != nil {
		return "", err
	}
	return key, nil
}

// PushBytes is Push with an in-memory document.
func (t *Tx) PushBytes(ctx context.Context, path string, body []byte) (string, error) {
	return t.Push(ctx, path, bytes.NewReader(body))
}

// Get is Store.Get within the transaction.
func (t *Tx) Get(ctx context.Context, path string, opts *GetOptions) (*Stream, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return t.session().get(ctx, p, opts)
}

// GetString is Store.GetString within the transaction.
func (t *Tx) GetString(ctx context.Context, path string, opts *GetOptions) (string, bool, error) {
	b, err := readStream(t.Get(ctx, path, opts))
	return string(b), b != nil, err
}

// FetchIDsByPropertyValue is Store.FetchIDsByPropertyValue within the
// transaction.
func (t *Tx) FetchIDsByPropertyValue(ctx context.Context, collection, property string, value any) (map[string]struct{}, error) {
	coll, err := ParsePath(collection)
	if err != nil {
		return nil, err
	}
	return t.session().fetchIDs(ctx, coll, property, value)
}
