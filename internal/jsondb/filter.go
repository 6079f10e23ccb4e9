package jsondb

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Op is a comparison operator of a ChildFilter.
type Op string

// Supported comparison operators.
const (
	EQ  Op = "="
	NEQ Op = "!="
	LT  Op = "<"
	GT  Op = ">"
	LTE Op = "<="
	GTE Op = ">="
)

// ParseOp parses an operator symbol or its name, case-insensitively.
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "=", "==", "eq":
		return EQ, nil
	case "!=", "<>", "neq", "ne":
		return NEQ, nil
	case "<", "lt":
		return LT, nil
	case ">", "gt":
		return GT, nil
	case "<=", "lte", "le":
		return LTE, nil
	case ">=", "gte", "ge":
		return GTE, nil
	default:
		return "", invalidFilter("unknown operator %q", s)
	}
}

// LogicalOp combines filters.
type LogicalOp string

// Supported logical operators.
const (
	AND LogicalOp = "AND"
	OR  LogicalOp = "OR"
)

// Filter selects the children of a read by the value of indexed properties.
// It is either a ChildFilter or a LogicalFilter.
type Filter interface {
	String() string
	isFilter()
}

// ChildFilter compares the property Field of each child with Value.
type ChildFilter struct {
	Field string
	Op    Op
	Value any
}

// LogicalFilter combines filters with AND or OR.
type LogicalFilter struct {
	Op      LogicalOp
	Filters []Filter
}

func (ChildFilter) isFilter()   {}
func (LogicalFilter) isFilter() {}

// Child returns a ChildFilter.
func Child(field string, op Op, value any) ChildFilter {
	return ChildFilter{Field: field, Op: op, Value: value}
}

// And returns the intersection of filters.
func And(filters ...Filter) LogicalFilter {
	return LogicalFilter{Op: AND, Filters: filters}
}

// Or returns the union of filters.
func Or(filters ...Filter) LogicalFilter {
	return LogicalFilter{Op: OR, Filters: filters}
}

func (f ChildFilter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

func (f LogicalFilter) String() string {
	parts := make([]string, len(f.Filters))
	for i, c := range f.Filters {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+string(f.Op)+" ") + ")"
}

// compileFilter renders f as a query returning a match_path column: the
// stored paths of the children of base selected by f.
func compileFilter(q *sqlBuilder, base string, f Filter, indexes *IndexSet) (string, error) {
	switch t := f.(type) {
	case ChildFilter:
		return compileChild(q, base, t, indexes)
	case *ChildFilter:
		return compileChild(q, base, *t, indexes)
	case LogicalFilter:
		return compileLogical(q, base, t, indexes)
	case *LogicalFilter:
		return compileLogical(q, base, *t, indexes)
	case nil:
		return "", invalidFilter("nil filter")
	default:
		return "", invalidFilter("unsupported filter type %T", f)
	}
}

func compileChild(q *sqlBuilder, base string, f ChildFilter, indexes *IndexSet) (string, error) {
	if err := ValidateKey(f.Field); err != nil {
		return "", invalidFilter("invalid field %q", f.Field).Wrap(err)
	}
	name := indexName(base, f.Field)
	if indexes == nil || !indexes.hasName(name) {
		return "", invalidFilter("no index declared for %s", name).WithDetail("index", name)
	}
	switch f.Op {
	case EQ, NEQ, LT, GT, LTE, GTE:
	default:
		return "", invalidFilter("unsupported operator %q", f.Op)
	}
	enc, err := EncodeValue(f.Value)
	if err != nil {
		return "", invalidFilter("invalid value for %s", f.Field).Wrap(err)
	}
	// Trim "<field>/" from the leaf path to get the path of its object.
	trim := q.d.TrimSuffix("path", utf8.RuneCountInString(f.Field)+1)
	op := string(f.Op)
	if f.Op == NEQ {
		op = "<>"
	}
	return fmt.Sprintf("SELECT %s AS match_path FROM jsondb WHERE idx = %s AND value %s %s",
		trim, q.arg(name), op, q.arg(enc)), nil
}

func compileLogical(q *sqlBuilder, base string, f LogicalFilter, indexes *IndexSet) (string, error) {
	var setOp string
	switch f.Op {
	case AND:
		setOp = "INTERSECT"
	case OR:
		setOp = "UNION"
	default:
		return "", invalidFilter("unsupported logical operator %q", f.Op)
	}
	if len(f.Filters) == 0 {
		return "", invalidFilter("%s without filters", f.Op)
	}
	if len(f.Filters) == 1 {
		return compileFilter(q, base, f.Filters[0], indexes)
	}
	parts := make([]string, len(f.Filters))
	for i, c := range f.Filters {
		sub, err := compileFilter(q, base, c, indexes)
		if err != nil {
			return "", err
		}
		// SQLite rejects parenthesized compound members.
		parts[i] = fmt.Sprintf("SELECT match_path FROM (%s) AS %s", sub, q.alias())
	}
	return strings.Join(parts, " "+setOp+" "), nil
}
