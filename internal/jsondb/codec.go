package jsondb

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value tags. Each encoded value starts with one of these so that values of
// different types sort as null < false < true < negative < non-negative <
// string. NUL is avoided so that values fit PostgreSQL text columns.
const (
	tagNull    = '\x01'
	tagFalse   = '\x02'
	tagTrue    = '\x03'
	tagNegNum  = '-'
	tagNum     = '['
	tagString  = '`'
	negNumTerm = '~'

	// maxExponent bounds the decimal expansion of exponent notation.
	maxExponent = 4096
)

// EncodeValue converts a JSON scalar into its sortable string form.
//
// Supported types are nil, bool, string, json.Number and the Go integer and
// floating point kinds.
func EncodeValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return string(rune(tagNull)), nil
	case bool:
		if t {
			return string(rune(tagTrue)), nil
		}
		return string(rune(tagFalse)), nil
	case string:
		return string(rune(tagString)) + t, nil
	case json.Number:
		return encodeNumber(string(t))
	case int:
		return encodeNumber(strconv.FormatInt(int64(t), 10))
	case int8:
		return encodeNumber(strconv.FormatInt(int64(t), 10))
	case int16:
		return encodeNumber(strconv.FormatInt(int64(t), 10))
	case int32:
		return encodeNumber(strconv.FormatInt(int64(t), 10))
	case int64:
		return encodeNumber(strconv.FormatInt(t, 10))
	case uint:
		return encodeNumber(strconv.FormatUint(uint64(t), 10))
	case uint8:
		return encodeNumber(strconv.FormatUint(uint64(t), 10))
	case uint16:
		return encodeNumber(strconv.FormatUint(uint64(t), 10))
	case uint32:
		return encodeNumber(strconv.FormatUint(uint64(t), 10))
	case uint64:
		return encodeNumber(strconv.FormatUint(t, 10))
	case float32:
		return encodeFloat(float64(t), 32)
	case float64:
		return encodeFloat(t, 64)
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// DecodeValue is the inverse of EncodeValue. Numbers are returned as
// json.Number in canonical decimal form.
func DecodeValue(s string) (any, error) {
	if s == "" {
		return nil, corrupt("empty encoded value")
	}
	switch s[0] {
	case tagNull:
		if len(s) != 1 {
			return nil, corrupt("trailing data after null tag: %q", s)
		}
		return nil, nil
	case tagFalse:
		if len(s) != 1 {
			return nil, corrupt("trailing data after false tag: %q", s)
		}
		return false, nil
	case tagTrue:
		if len(s) != 1 {
			return nil, corrupt("trailing data after true tag: %q", s)
		}
		return true, nil
	case tagString:
		return s[1:], nil
	case tagNum, tagNegNum:
		n, err := decodeNumber(s)
		if err != nil {
			return nil, err
		}
		return json.Number(n), nil
	default:
		return nil, corrupt("unknown value tag %q", s[0])
	}
}

// EncodeArrayIndex returns the path segment of an array position. Segments
// sort in positional order.
func EncodeArrayIndex(i int) string {
	return encodeLen(strconv.Itoa(i), tagNum, false)
}

// DecodeArrayIndex is the inverse of EncodeArrayIndex.
func DecodeArrayIndex(s string) (int, error) {
	digits, rest, err := decodeLen(s, tagNum, false)
	if err != nil {
		return 0, err
	}
	if rest != "" {
		return 0, corrupt("trailing data in array index %q", s)
	}
	i, err := strconv.Atoi(digits)
	if err != nil {
		return 0, corrupt("invalid array index %q", s)
	}
	return i, nil
}

func encodeFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("unsupported number %v", f)
	}
	return encodeNumber(strconv.FormatFloat(f, 'f', -1, bits))
}

// encodeNumber encodes decimal text. The integer part uses a length prefixed
// encoding (one marker per length level, then the lengths from outermost to
// the digits) so that longer integers sort after shorter ones. Negative
// numbers complement every digit and end with a terminator so that a larger
// magnitude sorts first.
func encodeNumber(text string) (string, error) {
	neg, intPart, frac, err := canonicalNumber(text)
	if err != nil {
		return "", err
	}
	if !neg {
		if frac == "" {
			return encodeLen(intPart, tagNum, false), nil
		}
		return encodeLen(intPart, tagNum, false) + "." + frac, nil
	}
	var b strings.Builder
	b.WriteString(encodeLen(intPart, tagNegNum, true))
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(complement(frac))
	}
	b.WriteByte(negNumTerm)
	return b.String(), nil
}

func decodeNumber(s string) (string, error) {
	marker := s[0]
	neg := marker == tagNegNum
	if neg {
		if s[len(s)-1] != negNumTerm {
			return "", corrupt("unterminated negative number %q", s)
		}
		s = s[:len(s)-1]
	}
	intPart, rest, err := decodeLen(s, marker, neg)
	if err != nil {
		return "", err
	}
	out := intPart
	if rest != "" {
		if rest[0] != '.' || len(rest) == 1 || !isDigits(rest[1:]) {
			return "", corrupt("invalid fraction in %q", s)
		}
		frac := rest[1:]
		if neg {
			frac = complement(frac)
		}
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

func encodeLen(digits string, marker byte, neg bool) string {
	seqs := []string{digits}
	for seq := digits; len(seq) > 1; {
		seq = strconv.Itoa(len(seq))
		seqs = append(seqs, seq)
	}
	var b strings.Builder
	for range seqs {
		b.WriteByte(marker)
	}
	for i := len(seqs) - 1; i >= 0; i-- {
		if neg {
			b.WriteString(complement(seqs[i]))
		} else {
			b.WriteString(seqs[i])
		}
	}
	return b.String()
}

// decodeLen reads an encodeLen value at the start of s and returns the
// decoded digits and the remainder of s.
func decodeLen(s string, marker byte, neg bool) (string, string, error) {
	n := 0
	for n < len(s) && s[n] == marker {
		n++
	}
	if n == 0 {
		return "", "", corrupt("missing length marker in %q", s)
	}
	rest := s[n:]
	l := 1
	var chunk string
	for i := range n {
		if len(rest) < l {
			return "", "", corrupt("truncated number %q", s)
		}
		chunk, rest = rest[:l], rest[l:]
		if !isDigits(chunk) {
			return "", "", corrupt("invalid digits in %q", s)
		}
		if neg {
			chunk = complement(chunk)
		}
		if i < n-1 {
			v, err := strconv.Atoi(chunk)
			if err != nil || v < 2 {
				return "", "", corrupt("invalid length in %q", s)
			}
			l = v
		}
	}
	return chunk, rest, nil
}

// canonicalNumber splits JSON number text into sign, integer digits and
// fraction digits. Exponents are expanded, leading zeros of the integer and
// trailing zeros of the fraction are removed and zero is never negative.
func canonicalNumber(text string) (neg bool, intPart, frac string, err error) {
	s := text
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	exp := 0
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		exp, err = strconv.Atoi(strings.TrimPrefix(s[i+1:], "+"))
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return false, "", "", fmt.Errorf("invalid number %q", text)
		}
		s = s[:i]
	}
	intPart, frac, _ = strings.Cut(s, ".")
	if intPart == "" || !isDigits(intPart) || (frac != "" && !isDigits(frac)) || strings.HasSuffix(s, ".") {
		return false, "", "", fmt.Errorf("invalid number %q", text)
	}
	if exp > 0 {
		if len(frac) < exp {
			frac += strings.Repeat("0", exp-len(frac))
		}
		intPart, frac = intPart+frac[:exp], frac[exp:]
	} else if exp < 0 {
		if len(intPart) < -exp {
			intPart = strings.Repeat("0", -exp-len(intPart)) + intPart
		}
		cut := len(intPart) + exp
		intPart, frac = intPart[:cut], intPart[cut:]+frac
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if intPart == "0" && frac == "" {
		neg = false
	}
	return neg, intPart, frac, nil
}

func complement(digits string) string {
	b := []byte(digits)
	for i, c := range b {
		b[i] = '9' - c + '0'
	}
	return string(b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
