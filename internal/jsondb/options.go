package jsondb

import (
	"fmt"
	"strings"
)

// Order is the sort order of the children of a read.
type Order int

const (
	// Ascending is the default order.
	Ascending Order = iota
	// Descending reverses the output at every level.
	Descending
)

// ParseOrder parses "asc" or "desc".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown order %q", s)
	}
}

func (o Order) String() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

// GetOptions controls how a subtree is read. The zero value returns the whole
// subtree as compact JSON.
type GetOptions struct {
	// PrettyPrint selects indented output.
	PrettyPrint bool
	// Depth, when set, omits nodes more than Depth levels below the path.
	Depth *int
	// Callback, when set, wraps the output as Callback(...).
	Callback string
	// StartAt keeps children whose key is at or after this key, including
	// every key that starts with it.
	StartAt string
	// StartAfter keeps children after this key and every key that starts
	// with it.
	StartAfter string
	// EndAt keeps children up to this key, including every key that starts
	// with it.
	EndAt string
	// EndBefore keeps children before this key.
	EndBefore string
	// LimitToFirst, when set, keeps the first children in output order.
	LimitToFirst *int
	// Order of the children.
	Order Order
	// Filter restricts the children to the objects it matches.
	Filter Filter
}

// NewGetOptions returns default options.
func NewGetOptions() *GetOptions {
	return &GetOptions{}
}

// SetPrettyPrint sets PrettyPrint.
func (o *GetOptions) SetPrettyPrint(v bool) *GetOptions {
	o.PrettyPrint = v
	return o
}

// SetDepth sets Depth.
func (o *GetOptions) SetDepth(v int) *GetOptions {
	o.Depth = &v
	return o
}

// SetCallback sets Callback.
func (o *GetOptions) SetCallback(v string) *GetOptions {
	o.Callback = v
	return o
}

// SetStartAt sets StartAt.
func (o *GetOptions) SetStartAt(v string) *GetOptions {
	o.StartAt = v
	return o
}

// SetStartAfter sets StartAfter.
func (o *GetOptions) SetStartAfter(v string) *GetOptions {
	o.StartAfter = v
	return o
}

// SetEndAt sets EndAt.
func (o *GetOptions) SetEndAt(v string) *GetOptions {
	o.EndAt = v
	return o
}

// SetEndBefore sets EndBefore.
func (o *GetOptions) SetEndBefore(v string) *GetOptions {
	o.EndBefore = v
	return o
}

// SetLimitToFirst sets LimitToFirst.
func (o *GetOptions) SetLimitToFirst(v int) *GetOptions {
	o.LimitToFirst = &v
	return o
}

// SetOrder sets Order.
func (o *GetOptions) SetOrder(v Order) *GetOptions {
	o.Order = v
	return o
}

// SetFilter sets Filter.
func (o *GetOptions) SetFilter(v Filter) *GetOptions {
	o.Filter = v
	return o
}

// validate checks every window key and the callback name.
func (o *GetOptions) validate() error {
	for _, k := range []string{o.StartAt, o.StartAfter, o.EndAt, o.EndBefore} {
		if k == "" {
			continue
		}
		if err := ValidateKey(k); err != nil {
			return err
		}
	}
	if o.Callback != "" && !isIdentifier(o.Callback) {
		return invalidPath("invalid callback name %q", o.Callback)
	}
	if o.Depth != nil && *o.Depth < 0 {
		return invalidPath("depth must not be negative: %d", *o.Depth)
	}
	if o.LimitToFirst != nil && *o.LimitToFirst < 0 {
		return invalidPath("limitToFirst must not be negative: %d", *o.LimitToFirst)
	}
	return nil
}

// isIdentifier accepts JavaScript style dotted identifiers such as
// "cb" or "jQuery.handlers.cb1".
func isIdentifier(s string) bool {
	for part := range strings.SplitSeq(s, ".") {
		if part == "" {
			return false
		}
		for i, c := range part {
			switch {
			case c == '_' || c == '$':
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			case c >= '0' && c <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}

// window appends the path range predicates of the window options for the
// stored base path to q.
func (o *GetOptions) window(q *sqlBuilder, col, base string) {
	desc := o.Order == Descending
	if k := o.StartAt; k != "" {
		k = dbSegment(k)
		if desc {
			q.where(col+" < "+q.arg(base+incrementKey(k)))
		} else {
			q.where(col+" >= "+q.arg(base+k))
		}
	}
	if k := o.StartAfter; k != "" {
		k = dbSegment(k)
		if desc {
			q.where(col+" <= "+q.arg(base+k))
		} else {
			q.where(col+" >= "+q.arg(base+incrementKey(k)))
		}
	}
	if k := o.EndAt; k != "" {
		k = dbSegment(k)
		if desc {
			q.where(col+" > "+q.arg(base+k))
		} else {
			q.where(col+" < "+q.arg(base+incrementKey(k)))
		}
	}
	if k := o.EndBefore; k != "" {
		k = dbSegment(k)
		if desc {
			q.where(col+" >= "+q.arg(base+incrementKey(k)))
		} else {
			q.where(col+" < "+q.arg(base+k))
		}
	}
}
