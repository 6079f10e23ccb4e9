package jsondb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record is one stored row: a leaf value at a stored path.
type Record struct {
	// Path is the stored path of the leaf, ending with "/".
	Path string
	// Value is the sortable encoding of the leaf.
	Value string
	// Index is the secondary index the leaf participates in, or "".
	Index string
}

// Flatten converts the JSON document read from r into the records of the
// subtree rooted at base. Empty objects and arrays produce no record.
func Flatten(base Path, r io.Reader, indexes *IndexSet) ([]Record, error) {
	dec := newDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, invalidDocument(io.ErrUnexpectedEOF)
		}
		return nil, invalidDocument(err)
	}
	f := flattener{dec: dec, indexes: indexes}
	if err := f.value(base.dbPath(), tok); err != nil {
		return nil, err
	}
	if err := expectEOF(dec); err != nil {
		return nil, err
	}
	return f.records, nil
}

func newDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

func expectEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("document did not terminate as expected")
		}
		return invalidDocument(err)
	}
	return nil
}

type flattener struct {
	dec     *json.Decoder
	indexes *IndexSet
	records []Record
}

// value flattens the value that starts with tok at dbPath.
func (f *flattener) value(dbPath string, tok json.Token) error {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			for {
				tok, err := f.dec.Token()
				if err != nil {
					return invalidDocument(err)
				}
				if tok == json.Delim('}') {
					return nil
				}
				key, ok := tok.(string)
				if !ok {
					return invalidDocument(fmt.Errorf("unexpected token %v", tok))
				}
				if err := ValidateKey(key); err != nil {
					return err
				}
				if integerSegment.MatchString(key) {
					// Paths read digit segments as array positions.
					return invalidPath("invalid key: object keys cannot be only digits: %q", key).WithDetail("key", key)
				}
				tok, err = f.dec.Token()
				if err != nil {
					return invalidDocument(err)
				}
				if err := f.value(dbPath+key+"/", tok); err != nil {
					return err
				}
			}
		case '[':
			for i := 0; ; i++ {
				tok, err := f.dec.Token()
				if err != nil {
					return invalidDocument(err)
				}
				if tok == json.Delim(']') {
					return nil
				}
				if err := f.value(dbPath+EncodeArrayIndex(i)+"/", tok); err != nil {
					return err
				}
			}
		default:
			return invalidDocument(fmt.Errorf("unexpected delimiter %v", t))
		}
	default:
		enc, err := EncodeValue(t)
		if err != nil {
			return invalidDocument(err)
		}
		f.records = append(f.records, Record{Path: dbPath, Value: enc, Index: f.indexes.lookup(dbPath)})
		return nil
	}
}

// Index declares that the property Field of every direct child of Collection
// is indexed, enabling filters on that property.
type Index struct {
	Collection Path
	Field      string
}

// name returns the stored index name: the collection's stored path followed
// by "#" and the field.
func (i Index) name() string {
	return indexName(i.Collection.dbPath(), i.Field)
}

func indexName(collectionDBPath, field string) string {
	return collectionDBPath + "#" + field
}

// String returns a readable form such as "/users/#age".
func (i Index) String() string {
	return i.name()
}

// ParseIndex parses "/collection/#field".
func ParseIndex(s string) (Index, error) {
	coll, field, ok := strings.Cut(s, "#")
	if !ok || field == "" {
		return Index{}, invalidPath("index must look like /collection/#field: %q", s)
	}
	coll = strings.TrimSuffix(coll, "/")
	if coll == "" {
		coll = "/"
	}
	p, err := ParsePath(coll)
	if err != nil {
		return Index{}, err
	}
	if err := ValidateKey(field); err != nil {
		return Index{}, err
	}
	return Index{Collection: p, Field: field}, nil
}

// IndexSet is an immutable set of declared indexes. A nil *IndexSet is empty.
type IndexSet struct {
	names map[string]Index
}

// NewIndexSet returns a set of the given indexes.
func NewIndexSet(indexes ...Index) *IndexSet {
	s := &IndexSet{names: make(map[string]Index, len(indexes))}
	for _, i := range indexes {
		s.names[i.name()] = i
	}
	return s
}

// Has reports whether the field of the collection's children is indexed.
func (s *IndexSet) Has(collection Path, field string) bool {
	if s == nil {
		return false
	}
	_, ok := s.names[indexName(collection.dbPath(), field)]
	return ok
}

func (s *IndexSet) hasName(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.names[name]
	return ok
}

// All returns the declared indexes.
func (s *IndexSet) All() []Index {
	if s == nil {
		return nil
	}
	out := make([]Index, 0, len(s.names))
	for _, i := range s.names {
		out = append(out, i)
	}
	return out
}

// lookup returns the index name of a leaf at <collection>/<id>/<field>/, or
// "" if that property is not indexed.
func (s *IndexSet) lookup(dbPath string) string {
	if s == nil || len(s.names) == 0 {
		return ""
	}
	trimmed := strings.TrimSuffix(dbPath, "/")
	slash := strings.LastIndexByte(trimmed, '/')
	if slash <= 0 {
		return ""
	}
	field := trimmed[slash+1:]
	parent := trimmed[:slash]
	slash = strings.LastIndexByte(parent, '/')
	if slash < 0 {
		return ""
	}
	name := indexName(parent[:slash+1], field)
	if _, ok := s.names[name]; !ok {
		return ""
	}
	return name
}
