package jsondb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect isolates the SQL differences between the supported engines.
type Dialect interface {
	// Name identifies the engine.
	Name() string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// CreateTables returns the DDL statements creating the store's table.
	CreateTables() []string
	// DropTables returns the DDL statements dropping the store's table.
	DropTables() []string
	// TrimSuffix returns an expression removing the last n characters of expr.
	TrimSuffix(expr string, n int) string
	// HasPrefix returns a condition true when expr starts with prefix.
	HasPrefix(expr, prefix string) string
}

// SQLite is the dialect of SQLite.
var SQLite Dialect = sqliteDialect{}

// Postgres is the dialect of PostgreSQL.
var Postgres Dialect = postgresDialect{name: "postgres"}

// Cockroach is the dialect of CockroachDB.
var Cockroach Dialect = postgresDialect{name: "cockroachdb"}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) CreateTables() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS jsondb (path TEXT PRIMARY KEY, value TEXT NOT NULL, idx TEXT)",
		"CREATE INDEX IF NOT EXISTS jsondb_idx ON jsondb (idx, value) WHERE idx IS NOT NULL",
	}
}

func (sqliteDialect) DropTables() []string {
	return []string{"DROP TABLE IF EXISTS jsondb"}
}

func (sqliteDialect) TrimSuffix(expr string, n int) string {
	return fmt.Sprintf("substr(%s, 1, length(%s) - %d)", expr, expr, n)
}

func (sqliteDialect) HasPrefix(expr, prefix string) string {
	return fmt.Sprintf("substr(%s, 1, length(%s)) = %s", expr, prefix, prefix)
}

type postgresDialect struct {
	name string
}

func (d postgresDialect) Name() string { return d.name }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) CreateTables() []string {
	// The C collation makes comparisons bytewise, matching SQLite.
	return []string{
		`CREATE TABLE IF NOT EXISTS jsondb (path TEXT COLLATE "C" PRIMARY KEY, value TEXT COLLATE "C" NOT NULL, idx TEXT COLLATE "C")`,
		"CREATE INDEX IF NOT EXISTS jsondb_idx ON jsondb (idx, value) WHERE idx IS NOT NULL",
	}
}

func (postgresDialect) DropTables() []string {
	return []string{"DROP TABLE IF EXISTS jsondb"}
}

func (postgresDialect) TrimSuffix(expr string, n int) string {
	return fmt.Sprintf("substr(%s, 1, char_length(%s) - %d)", expr, expr, n)
}

func (postgresDialect) HasPrefix(expr, prefix string) string {
	return fmt.Sprintf("substr(%s, 1, char_length(%s)) = %s", expr, prefix, prefix)
}

// ProbeDialect detects the engine behind db.
func ProbeDialect(ctx context.Context, db *sql.DB) (Dialect, error) {
	var v string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err == nil {
		return SQLite, nil
	}
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&v); err != nil {
		return nil, storage("probe database version", err)
	}
	switch {
	case strings.Contains(v, "CockroachDB"):
		return Cockroach, nil
	case strings.Contains(v, "PostgreSQL"):
		return Postgres, nil
	default:
		return nil, storage("probe database version", fmt.Errorf("unsupported database %q", v))
	}
}

// sqlBuilder accumulates bind arguments and conditions of one statement.
type sqlBuilder struct {
	d       Dialect
	args    []any
	conds   []string
	aliases int
}

// arg binds v and returns its placeholder.
func (q *sqlBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return q.d.Placeholder(len(q.args))
}

func (q *sqlBuilder) where(cond string) {
	q.conds = append(q.conds, cond)
}

// whereClause returns " WHERE a AND b" or "".
func (q *sqlBuilder) whereClause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

func (q *sqlBuilder) alias() string {
	q.aliases++
	return "f" + strconv.Itoa(q.aliases)
}
