package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/maruel/jsondb/internal/jsondb"
)

// Longest symbols first so that ">=" is not read as ">".
var filterOps = []string{">=", "<=", "!=", "<>", "==", "=", "<", ">"}

// parseFilter parses expressions such as "age>=9&&name<u3||name=u1". "&&"
// binds tighter than "||". Values are read as JSON when they parse as JSON
// and as plain strings otherwise.
func parseFilter(s string) (jsondb.Filter, error) {
	var ors []jsondb.Filter
	for or := range strings.SplitSeq(s, "||") {
		var ands []jsondb.Filter
		for term := range strings.SplitSeq(or, "&&") {
			f, err := parseTerm(strings.TrimSpace(term))
			if err != nil {
				return nil, err
			}
			ands = append(ands, f)
		}
		if len(ands) == 1 {
			ors = append(ors, ands[0])
		} else {
			ors = append(ors, jsondb.And(ands...))
		}
	}
	if len(ors) == 1 {
		return ors[0], nil
	}
	return jsondb.Or(ors...), nil
}

func parseTerm(term string) (jsondb.Filter, error) {
	best := -1
	var sym string
	for _, op := range filterOps {
		if i := strings.Index(term, op); i > 0 && (best == -1 || i < best || (i == best && len(op) > len(sym))) {
			best, sym = i, op
		}
	}
	if best == -1 {
		return nil, fmt.Errorf("invalid filter term %q: want <field><op><value>", term)
	}
	op, err := jsondb.ParseOp(sym)
	if err != nil {
		return nil, err
	}
	field := strings.TrimSpace(term[:best])
	raw := strings.TrimSpace(term[best+len(sym):])
	return jsondb.Child(field, op, scalarValue(raw)), nil
}

// scalarValue reads a command line value as a JSON scalar when it parses as
// one and as a plain string otherwise. Numbers stay exact.
func scalarValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any:
		return raw
	case float64:
		return json.Number(strings.TrimSpace(raw))
	default:
		return v
	}
}
