package jsondb

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// Key structure (64 bits):
// - Bit 63: sign (always 0)
// - Bits 62-20: milliseconds since Epoch (43 bits = ~278 years)
// - Bits 19-4: counter (16 bits), seeded randomly every millisecond
// - Bits 3-0: version (4 bits)

const (
	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1704067200000

	// KeyVersion is the current key schema version.
	KeyVersion uint64 = 1

	// keyEncodedLen is the fixed length of encoded keys.
	// 64 bits / 6 bits per char = 10.67, rounded up to 11.
	keyEncodedLen = 11
)

// sortableAlphabet is a base64 alphabet in ASCII order for lexicographic sorting.
// Characters: - (0x2D), 0-9 (0x30-39), A-Z (0x41-5A), _ (0x5F), a-z (0x61-7A)
const sortableAlphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// decodeMap maps ASCII characters back to their 6-bit values.
var decodeMap [128]byte

func init() {
	for i := range decodeMap {
		decodeMap[i] = 0xFF // invalid
	}
	for i, c := range sortableAlphabet {
		decodeMap[c] = byte(i)
	}
}

// Key is a time-sortable 64-bit push key.
//
// The encoded form starts with "-" until late 2058, which keeps keys from ever
// looking like array positions.
type Key uint64

// KeyGenerator creates strictly increasing keys. The zero value is ready to
// use.
type KeyGenerator struct {
	mu      sync.Mutex
	started bool
	lastMs  int64
	counter uint16
	now     func() time.Time
}

var defaultKeys KeyGenerator

// CreateKey returns a new key from the process-wide generator.
func CreateKey() string {
	return defaultKeys.CreateKey()
}

// CreateKey returns a key greater than every key previously returned by g.
func (g *KeyGenerator) CreateKey() string {
	return g.Next().String()
}

// Next returns the next key.
//
// Within one millisecond the counter increments from a random seed. When it
// overflows the key borrows the next millisecond, so the sequence never goes
// backward.
func (g *KeyGenerator) Next() Key {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now
	if g.now != nil {
		now = g.now
	}
	ms := max(now().UnixMilli()-Epoch, 0)

	if g.started && ms <= g.lastMs {
		if g.counter == 0xFFFF {
			g.lastMs++
			g.counter = 0
		} else {
			g.counter++
		}
	} else {
		g.started = true
		g.lastMs = ms
		var b [2]byte
		_, _ = rand.Read(b[:])
		// Keep the top bit clear so a millisecond has room for 32768 keys.
		g.counter = binary.BigEndian.Uint16(b[:]) & 0x7FFF
	}
	return newKeyFromParts(uint64(g.lastMs), uint64(g.counter), KeyVersion)
}

// KeyAt returns the smallest key for time t. Useful as a window bound.
func KeyAt(t time.Time) Key {
	ms := max(t.UnixMilli()-Epoch, 0)
	return newKeyFromParts(uint64(ms), 0, 0)
}

func newKeyFromParts(ms, counter, version uint64) Key {
	return Key((ms << 20) | (counter << 4) | (version & 0xF))
}

// String returns the fixed-width 11-character encoding using a sortable alphabet.
// If k1 < k2, then k1.String() < k2.String().
func (k Key) String() string {
	var buf [keyEncodedLen]byte
	v := uint64(k)
	for i := keyEncodedLen - 1; i >= 0; i-- {
		buf[i] = sortableAlphabet[v&0x3F]
		v >>= 6
	}
	return string(buf[:])
}

// DecodeKey parses an 11-character encoded key.
func DecodeKey(s string) (Key, error) {
	if len(s) != keyEncodedLen {
		return 0, fmt.Errorf("invalid key length: got %d, want %d", len(s), keyEncodedLen)
	}
	var v uint64
	for i := 0; i < keyEncodedLen; i++ {
		c := s[i]
		if c >= 128 || decodeMap[c] == 0xFF {
			return 0, fmt.Errorf("invalid key character at position %d: %c", i, c)
		}
		v = (v << 6) | uint64(decodeMap[c])
	}
	return Key(v), nil
}

// Time extracts the timestamp from a key.
func (k Key) Time() time.Time {
	return time.UnixMilli(int64(k>>20) + Epoch)
}

// Counter extracts the counter bits from a key.
func (k Key) Counter() uint16 {
	return uint16((k >> 4) & 0xFFFF)
}

// Version extracts the version bits from a key.
func (k Key) Version() int {
	return int(k & 0xF)
}
