package jsondb

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MaxKeyLen is the maximum length of a key in bytes.
const MaxKeyLen = 768

// Path is a validated absolute location in the document tree. The zero value
// is the root.
type Path struct {
	segs []string
}

// Root is the path "/".
var Root = Path{}

var integerSegment = regexp.MustCompile(`^\d+$`)

// ParsePath parses an absolute "/"-delimited path.
func ParsePath(s string) (Path, error) {
	if s == "/" {
		return Root, nil
	}
	if !strings.HasPrefix(s, "/") {
		return Path{}, invalidPath("path must be absolute: %q", s).WithDetail("path", s)
	}
	if strings.HasSuffix(s, "/") {
		return Path{}, invalidPath("path must not end with a separator: %q", s).WithDetail("path", s)
	}
	segs := strings.Split(s[1:], "/")
	for _, seg := range segs {
		if seg == "" {
			return Path{}, invalidPath("path contains an empty segment: %q", s).WithDetail("path", s)
		}
		if err := validateSegment(seg); err != nil {
			return Path{}, err
		}
	}
	return Path{segs: segs}, nil
}

// MustParsePath is like ParsePath but panics on error. For literals.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateKey reports whether key can be used as a single path segment.
//
// Keys cannot be empty, contain ".", "%", "$", "#", "[", "]", "/" or ASCII
// control characters 0-31 or 127, and cannot be longer than MaxKeyLen bytes.
func ValidateKey(key string) error {
	if key == "" {
		return invalidPath("invalid key: empty")
	}
	if len(key) > MaxKeyLen {
		return invalidPath("invalid key: longer than %d bytes: %q", MaxKeyLen, key[:32]+"...")
	}
	if !utf8.ValidString(key) {
		return invalidPath("invalid key: not valid UTF-8: %q", key)
	}
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '.', '%', '$', '#', '[', ']', '/', 127:
			return invalidPath("invalid key: cannot contain ., %%, $, #, [, ], /, or ASCII control characters 0-31 or 127: %q", key)
		default:
			if c < 32 {
				return invalidPath("invalid key: cannot contain ., %%, $, #, [, ], /, or ASCII control characters 0-31 or 127: %q", key)
			}
		}
	}
	return nil
}

func validateSegment(seg string) error {
	if err := ValidateKey(seg); err != nil {
		return err
	}
	if integerSegment.MatchString(seg) {
		if _, err := strconv.Atoi(seg); err != nil {
			return invalidPath("array index out of range: %q", seg)
		}
	}
	return nil
}

// IsRoot reports whether p is "/".
func (p Path) IsRoot() bool {
	return len(p.segs) == 0
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.segs)
}

// Base returns the last segment, or "" for the root.
func (p Path) Base() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// Parent returns the parent path. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return p
	}
	return Path{segs: p.segs[:len(p.segs)-1]}
}

// Child returns p extended by one validated key.
func (p Path) Child(key string) (Path, error) {
	if err := validateSegment(key); err != nil {
		return Path{}, err
	}
	return p.with(key), nil
}

// Join returns p extended by a relative "/"-delimited path such as "a/b".
func (p Path) Join(rel string) (Path, error) {
	out := p
	for _, seg := range strings.Split(rel, "/") {
		if seg == "" {
			return Path{}, invalidPath("relative path contains an empty segment: %q", rel)
		}
		if err := validateSegment(seg); err != nil {
			return Path{}, err
		}
		out = out.with(seg)
	}
	return out, nil
}

func (p Path) with(seg string) Path {
	segs := make([]string, len(p.segs)+1)
	copy(segs, p.segs)
	segs[len(p.segs)] = seg
	return Path{segs: segs}
}

// String returns the canonical "/a/b" form.
func (p Path) String() string {
	return "/" + strings.Join(p.segs, "/")
}

// dbPath returns the stored form: every segment followed by "/", integer
// segments replaced by their array index encoding. The dbPath of a node is a
// prefix of the dbPath of all its descendants.
func (p Path) dbPath() string {
	var b strings.Builder
	b.WriteByte('/')
	for _, seg := range p.segs {
		b.WriteString(dbSegment(seg))
		b.WriteByte('/')
	}
	return b.String()
}

func dbSegment(seg string) string {
	if integerSegment.MatchString(seg) {
		i, err := strconv.Atoi(seg)
		if err == nil {
			return EncodeArrayIndex(i)
		}
	}
	return seg
}

// splitDBPath returns the stored segments of a dbPath.
func splitDBPath(dbPath string) []string {
	s := strings.Trim(dbPath, "/")
	if s == "" {
		return nil
	}
	return strings.Split(s, "/")
}

// isArraySegment reports whether a stored segment denotes an array position.
func isArraySegment(seg string) bool {
	return seg != "" && seg[0] == tagNum
}

// prefixUpperBound returns the smallest string greater than every string
// that starts with prefix, for a prefix ending with "/".
func prefixUpperBound(prefix string) string {
	return prefix[:len(prefix)-1] + string(rune('/'+1))
}

// incrementKey returns a string that sorts after key and after every string
// that starts with key.
func incrementKey(key string) string {
	return key + string(utf8.MaxRune)
}
