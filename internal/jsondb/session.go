package jsondb

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
)

// querier is implemented by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// session runs the store operations on a database or a transaction.
type session struct {
	s *Store
	q querier
}

func (x session) builder() *sqlBuilder {
	return &sqlBuilder{d: x.s.dialect}
}

func (x session) exists(ctx context.Context, p Path) (bool, error) {
	q := x.builder()
	base := p.dbPath()
	q.where("path >= " + q.arg(base))
	q.where("path < " + q.arg(prefixUpperBound(base)))
	var one int
	err := x.q.QueryRowContext(ctx, "SELECT 1 FROM jsondb"+q.whereClause()+" LIMIT 1", q.args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage("exists", err)
	}
	return true, nil
}

func (x session) delete(ctx context.Context, p Path) (bool, error) {
	q := x.builder()
	base := p.dbPath()
	q.where("path >= " + q.arg(base))
	q.where("path < " + q.arg(prefixUpperBound(base)))
	res, err := x.q.ExecContext(ctx, "DELETE FROM jsondb"+q.whereClause(), q.args...)
	if err != nil {
		return false, storage("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storage("delete", err)
	}
	x.s.logger.DebugContext(ctx, "jsondb: delete", "path", p.String(), "rows", n)
	return n > 0, nil
}

// write applies ops in order. Each op removes the subtree at its path and
// the leaves stored at its ancestors before inserting its records.
func (x session) write(ctx context.Context, ops ...writeOp) error {
	for _, op := range ops {
		if err := x.clear(ctx, op.path); err != nil {
			return err
		}
		if err := x.insert(ctx, op.records); err != nil {
			return err
		}
		x.s.logger.DebugContext(ctx, "jsondb: write", "path", op.path.String(), "records", len(op.records))
	}
	return nil
}

func (x session) clear(ctx context.Context, p Path) error {
	q := x.builder()
	base := p.dbPath()
	cond := "(path >= " + q.arg(base) + " AND path < " + q.arg(prefixUpperBound(base)) + ")"
	if !p.IsRoot() {
		var parents []string
		for a := p.Parent(); ; a = a.Parent() {
			parents = append(parents, q.arg(a.dbPath()))
			if a.IsRoot() {
				break
			}
		}
		cond += " OR path IN (" + strings.Join(parents, ", ") + ")"
	}
	q.where(cond)
	if _, err := x.q.ExecContext(ctx, "DELETE FROM jsondb"+q.whereClause(), q.args...); err != nil {
		return storage("delete", err)
	}
	return nil
}

func (x session) insert(ctx context.Context, records []Record) error {
	for len(records) > 0 {
		n := min(len(records), insertBatch)
		q := x.builder()
		values := make([]string, n)
		for i, r := range records[:n] {
			var idx any
			if r.Index != "" {
				idx = r.Index
			}
			values[i] = "(" + q.arg(r.Path) + ", " + q.arg(r.Value) + ", " + q.arg(idx) + ")"
		}
		stmt := "INSERT INTO jsondb (path, value, idx) VALUES " + strings.Join(values, ", ")
		if _, err := x.q.ExecContext(ctx, stmt, q.args...); err != nil {
			return storage("insert", err)
		}
		records = records[n:]
	}
	return nil
}

// query selects the records of the subtree at p that opts keeps, in output
// order.
func (x session) query(ctx context.Context, p Path, opts *GetOptions) (*sql.Rows, error) {
	q := x.builder()
	base := p.dbPath()
	order := "ASC"
	if opts.Order == Descending {
		order = "DESC"
	}
	var stmt string
	if opts.Filter != nil {
		filter, err := compileFilter(q, base, opts.Filter, x.s.indexes)
		if err != nil {
			return nil, err
		}
		q.where("A.path >= " + q.arg(base))
		q.where("A.path < " + q.arg(prefixUpperBound(base)))
		opts.window(q, "A.path", base)
		stmt = "SELECT A.path, A.value FROM jsondb A INNER JOIN (" + filter + ") B ON " +
			x.s.dialect.HasPrefix("A.path", "B.match_path") + q.whereClause() + " ORDER BY A.path " + order
	} else {
		q.where("path >= " + q.arg(base))
		q.where("path < " + q.arg(prefixUpperBound(base)))
		opts.window(q, "path", base)
		stmt = "SELECT path, value FROM jsondb" + q.whereClause() + " ORDER BY path " + order
	}
	rows, err := x.q.QueryContext(ctx, stmt, q.args...)
	if err != nil {
		return nil, storage("query", err)
	}
	return rows, nil
}

// get starts a read. It returns nil when no record matches.
func (x session) get(ctx context.Context, p Path, opts *GetOptions) (*Stream, error) {
	if opts == nil {
		opts = &GetOptions{}
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rows, err := x.query(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		err := rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, storage("query", err)
		}
		return nil, nil
	}
	var first Record
	if err := rows.Scan(&first.Path, &first.Value); err != nil {
		_ = rows.Close()
		return nil, storage("scan", err)
	}
	o := *opts
	return &Stream{ctx: ctx, rows: rows, first: first, base: p.dbPath(), opts: &o, logger: x.s.logger}, nil
}

func (x session) fetchIDs(ctx context.Context, coll Path, property string, value any) (map[string]struct{}, error) {
	if err := ValidateKey(property); err != nil {
		return nil, err
	}
	enc, err := EncodeValue(value)
	if err != nil {
		return nil, invalidFilter("invalid value for %s", property).Wrap(err)
	}
	base := coll.dbPath()
	q := x.builder()
	indexed := x.s.indexes.Has(coll, property)
	if indexed {
		q.where("idx = " + q.arg(indexName(base, property)))
	} else {
		x.s.logger.WarnContext(ctx, "jsondb: property lookup without index, scanning the collection", "collection", coll.String(), "property", property)
		q.where("path >= " + q.arg(base))
		q.where("path < " + q.arg(prefixUpperBound(base)))
	}
	q.where("value = " + q.arg(enc))
	rows, err := x.q.QueryContext(ctx, "SELECT path FROM jsondb"+q.whereClause(), q.args...)
	if err != nil {
		return nil, storage("query", err)
	}
	defer func() { _ = rows.Close() }()
	ids := map[string]struct{}{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, storage("scan", err)
		}
		segs := splitDBPath(strings.TrimPrefix(path, base))
		if len(segs) != 2 || segs[1] != property {
			continue
		}
		id := segs[0]
		if isArraySegment(id) {
			i, err := DecodeArrayIndex(id)
			if err != nil {
				continue
			}
			id = strconv.Itoa(i)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, storage("query", err)
	}
	return ids, nil
}
